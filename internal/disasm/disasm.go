// Package disasm decodes generated code for listings and traces the
// dispatch paths of interface method tables.
package disasm

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/jnode/jnode-sub032/internal/x86"
)

const mode = 32

// Line is one decoded instruction of an object.
type Line struct {
	Offset int
	Bytes  []byte
	Text   string
	Labels []string
	Relocs []x86.Reloc

	// Bad is set when the bytes at Offset do not decode. Such lines hold
	// a single byte.
	Bad bool
}

// Decode decodes every instruction of obj. Labels are attached to the line
// at their offset, relocations to the line whose bytes they patch.
func Decode(obj *x86.Object) []Line {
	labels := make(map[int][]string)
	for name, off := range obj.Labels {
		labels[off] = append(labels[off], name)
	}
	for _, names := range labels {
		sort.Strings(names)
	}

	var lines []Line
	code := obj.Code
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], mode)
		l := Line{Offset: off, Labels: labels[off]}
		if err != nil {
			l.Bytes, l.Text, l.Bad = code[off:off+1], fmt.Sprintf("db %#02x", code[off]), true
		} else {
			l.Bytes, l.Text = code[off:off+inst.Len], x86asm.IntelSyntax(inst, uint64(off), nil)
		}
		for _, r := range obj.Relocs {
			if r.Offset >= off && r.Offset < off+len(l.Bytes) {
				l.Relocs = append(l.Relocs, r)
			}
		}
		lines = append(lines, l)
		off += len(l.Bytes)
	}

	// Labels bound at the end of the code.
	if names, ok := labels[len(code)]; ok {
		lines = append(lines, Line{Offset: len(code), Labels: names})
	}
	return lines
}

// Style decorates the parts of a listing line. Nil fields leave the text
// as it is.
type Style struct {
	Label  func(a ...any) string
	Offset func(a ...any) string
	Reloc  func(a ...any) string
	Bad    func(a ...any) string
}

func decorate(f func(a ...any) string, text string) string {
	if f == nil {
		return text
	}
	return f(text)
}

// Listing writes a listing of obj to w.
func Listing(w io.Writer, obj *x86.Object, style Style) error {
	for _, l := range Decode(obj) {
		if _, err := io.WriteString(w, l.Format(style)); err != nil {
			return err
		}
	}
	return nil
}

// Format returns the listing text of the line, newline terminated.
func (l Line) Format(style Style) string {
	var sb strings.Builder
	for _, name := range l.Labels {
		fmt.Fprintf(&sb, "%s\n", decorate(style.Label, name+":"))
	}
	if len(l.Bytes) == 0 {
		return sb.String()
	}
	hex := make([]string, len(l.Bytes))
	for i, b := range l.Bytes {
		hex[i] = fmt.Sprintf("%02x", b)
	}
	text := l.Text
	if l.Bad {
		text = decorate(style.Bad, text)
	}
	fmt.Fprintf(&sb, "  %s: %-24s %s", decorate(style.Offset, fmt.Sprintf("0x%04x", l.Offset)), strings.Join(hex, " "), text)
	for _, r := range l.Relocs {
		fmt.Fprintf(&sb, "  %s", decorate(style.Reloc, fmt.Sprintf("; %s %s%+d", r.Kind, r.Symbol, r.Addend)))
	}
	sb.WriteByte('\n')
	return sb.String()
}
