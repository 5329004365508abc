package main

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/compiler"
)

func newMethodCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "method FILE",
		Short: "Compile the methods of a class description file",
		Args:  cobra.ExactArgs(1),
		RunE:  runMethod,
	}
	cmd.Flags().String("level", "baseline", "compilation level (stub, baseline or optimizing)")
	cmd.Flags().StringSlice("only", nil, "compile only these methods (Class.name(signature))")
	cmd.Flags().Bool("listing", true, "print the disassembly of each method")
	return cmd
}

// methodReport is the JSON form of a compiled method.
type methodReport struct {
	Method  string   `json:"method"`
	Level   string   `json:"level"`
	Start   int      `json:"start"`
	End     int      `json:"end"`
	Size    int      `json:"size"`
	Native  string   `json:"native,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

func report(cm *classmgr.CompiledMethod) methodReport {
	r := methodReport{
		Method: cm.Method.FullName(),
		Level:  cm.Level.String(),
		Start:  cm.Start,
		End:    cm.End,
		Size:   cm.Size(),
	}
	if cm.IsResident() {
		r.Native = fmt.Sprintf("%#x", cm.NativeCode)
	} else {
		r.Symbols = cm.Object.Symbols()
	}
	return r
}

func runMethod(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	levelName, _ := cmd.Flags().GetString("level")
	level, err := classmgr.ParseLevel(levelName)
	if err != nil {
		return err
	}
	only, _ := cmd.Flags().GetStringSlice("only")
	listing, _ := cmd.Flags().GetBool("listing")

	f, err := readClassFile(args[0])
	if err != nil {
		return err
	}
	u, err := load(f, s.layout, s.imtLength)
	if err != nil {
		return err
	}

	methods := u.methods
	if len(only) > 0 {
		methods = nil
		for _, name := range only {
			m, err := u.lookup(name)
			if err != nil {
				return err
			}
			methods = append(methods, m)
		}
	}

	c := compiler.New(compiler.Options{
		Context:   u.ctx,
		JumpTable: s.jumpTable,
		Features:  s.features,
		Debug:     s.debug,
		Statics:   &u.statics,
		Logger:    &s.log,
	})

	results := make([]*classmgr.CompiledMethod, len(methods))
	var (
		mu   sync.Mutex
		merr *multierror.Error
		g    errgroup.Group
	)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, m := range methods {
		g.Go(func() error {
			cm, err := c.Compile(m, level, u.bodies[m])
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
				return nil
			}
			results[i] = cm
			return nil
		})
	}
	_ = g.Wait()

	out := cmd.OutOrStdout()
	if s.format == "json" {
		var reports []methodReport
		for _, cm := range results {
			if cm != nil {
				reports = append(reports, report(cm))
			}
		}
		if err := s.out.writeJSON(out, reports); err != nil {
			return err
		}
		return merr.ErrorOrNil()
	}

	for _, cm := range results {
		if cm == nil {
			continue
		}
		r := report(cm)
		if cm.IsResident() {
			fmt.Fprintf(out, "%s [%s] bound to %s\n", s.out.bold(r.Method), r.Level, r.Native)
			continue
		}
		fmt.Fprintf(out, "%s [%s] %d bytes\n", s.out.bold(r.Method), r.Level, r.Size)
		if listing {
			if err := s.out.writeListing(out, cm.Object); err != nil {
				return err
			}
		}
	}
	return merr.ErrorOrNil()
}
