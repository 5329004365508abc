package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/hokaccha/go-prettyjson"

	"github.com/jnode/jnode-sub032/internal/disasm"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// palette colors the output of one invocation. The package level
// color.NoColor is only read, so invocations do not leak settings into
// each other.
type palette struct {
	noColor bool

	bold, cyan, yellow, red, faint func(a ...any) string
}

func newPalette(noColor bool) *palette {
	p := &palette{noColor: noColor || color.NoColor}
	sprint := func(attr color.Attribute) func(a ...any) string {
		c := color.New(attr)
		if p.noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
		return c.SprintFunc()
	}
	p.bold = sprint(color.Bold)
	p.cyan = sprint(color.FgCyan)
	p.yellow = sprint(color.FgYellow)
	p.red = sprint(color.FgRed)
	p.faint = sprint(color.Faint)
	return p
}

// writeListing writes the disassembly of obj, with labels and relocations
// highlighted.
func (p *palette) writeListing(w io.Writer, obj *x86.Object) error {
	return disasm.Listing(w, obj, disasm.Style{
		Label:  p.cyan,
		Offset: p.faint,
		Reloc:  p.yellow,
		Bad:    p.red,
	})
}

// writeJSON writes v as indented JSON, colored unless colors are off.
func (p *palette) writeJSON(w io.Writer, v any) error {
	var (
		data []byte
		err  error
	)
	if p.noColor {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = prettyjson.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
