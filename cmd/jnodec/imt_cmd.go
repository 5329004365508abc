package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/disasm"
	"github.com/jnode/jnode-sub032/internal/imt"
)

func newIMTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imt FILE CLASS",
		Short: "Compile the interface method table of a class",
		Long: `Compile the interface method table of a class from the instance
methods it declares. With --trace every method is dispatched through the
compiled table and checked to reach its own statics slot.`,
		Args: cobra.ExactArgs(2),
		RunE: runIMT,
	}
	cmd.Flags().Bool("trace", false, "trace the dispatch of every method")
	return cmd
}

type slotReport struct {
	Index     int      `json:"index"`
	Offset    int      `json:"offset"`
	Collision bool     `json:"collision,omitempty"`
	Methods   []string `json:"methods,omitempty"`
}

type traceReport struct {
	Method   string `json:"method"`
	Selector uint32 `json:"selector"`
	Exit     string `json:"exit"`
	Disp     int32  `json:"disp"`
	Slot     int    `json:"statics_index"`
	Steps    int    `json:"steps"`
}

type imtReport struct {
	Name     string        `json:"name"`
	Length   int           `json:"length"`
	Size     int           `json:"size"`
	Overflow int           `json:"overflow"`
	Slots    []slotReport  `json:"slots"`
	Trace    []traceReport `json:"trace,omitempty"`
}

func runIMT(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	doTrace, _ := cmd.Flags().GetBool("trace")

	f, err := readClassFile(args[0])
	if err != nil {
		return err
	}
	u, err := load(f, s.layout, s.imtLength)
	if err != nil {
		return err
	}
	methods, ok := u.byClass[args[1]]
	if !ok {
		return fmt.Errorf("unknown class %s", args[1])
	}

	b, err := imt.NewBuilder(s.imtLength)
	if err != nil {
		return err
	}
	var added []*classmgr.Method
	for _, m := range methods {
		if m.IsStatic() || m.IsInitializer() {
			continue
		}
		if b.Add(m) {
			added = append(added, m)
		}
	}
	set := b.SlotSet()
	c, err := imt.NewCompiler(&s.log).Compile("imt:"+args[1], set)
	if err != nil {
		return err
	}

	r := imtReport{
		Name:     c.Name,
		Length:   c.Length,
		Size:     c.Size(),
		Overflow: c.OverflowOffset(),
	}
	for i := range set.Len() {
		slot := set.Slot(i)
		if slot.IsEmpty() {
			continue
		}
		sr := slotReport{Index: i, Offset: c.EntryOffset(i), Collision: slot.Collision}
		for _, m := range slot.Methods {
			sr.Methods = append(sr.Methods, m.FullName())
		}
		r.Slots = append(r.Slots, sr)
	}

	if doTrace {
		for _, m := range added {
			entry := c.EntryOffset(imt.SlotIndex(m.Selector, c.Length))
			res, err := disasm.Trace(c.Code(), entry, x86asm.EDX, x86asm.EDI, m.Selector)
			if err != nil {
				return fmt.Errorf("trace %s: %w", m, err)
			}
			slot, ok := classmgr.IndexOf(res.Disp)
			if res.Exit != disasm.ExitIndirect || !ok || slot != m.StaticsIndex {
				return fmt.Errorf("trace %s: reached %s %#x, want statics slot %d", m, res.Exit, res.Disp, m.StaticsIndex)
			}
			r.Trace = append(r.Trace, traceReport{
				Method:   m.FullName(),
				Selector: m.Selector,
				Exit:     res.Exit.String(),
				Disp:     res.Disp,
				Slot:     slot,
				Steps:    len(res.Path),
			})
		}
	}

	out := cmd.OutOrStdout()
	if s.format == "json" {
		return s.out.writeJSON(out, r)
	}
	fmt.Fprintf(out, "%s %d slots, %d bytes, overflow at %#x\n", s.out.bold(r.Name), r.Length, r.Size, r.Overflow)
	for _, sr := range r.Slots {
		kind := "single"
		if sr.Collision {
			kind = "bucket"
		}
		fmt.Fprintf(out, "  slot %d at %#x %s %v\n", sr.Index, sr.Offset, kind, sr.Methods)
	}
	if err := s.out.writeListing(out, c.Object); err != nil {
		return err
	}
	for _, tr := range r.Trace {
		fmt.Fprintf(out, "trace %s selector %d: %s [edi%+#x] statics slot %d in %d steps\n", tr.Method, tr.Selector, tr.Exit, tr.Disp, tr.Slot, tr.Steps)
	}
	return nil
}
