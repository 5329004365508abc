package x86

import (
	"encoding/binary"
	"fmt"
)

// Label is a named position in an assembler's output. A label that is
// never bound by the assembler using it becomes an external symbol of the
// resulting Object, resolved later by the linker.
type Label struct {
	name  string
	pos   int
	bound bool
	owner *Assembler
}

// NewLabel returns a fresh unbound label.
func NewLabel(name string) *Label {
	return &Label{name: name, pos: -1}
}

// Name returns the label name.
func (l *Label) Name() string { return l.name }

// String implements fmt.Stringer.
func (l *Label) String() string { return l.name }

// Bound reports whether the label has been bound to a position.
func (l *Label) Bound() bool { return l.bound }

// Pos returns the bound position, or -1.
func (l *Label) Pos() int { return l.pos }

type fixup struct {
	at    int // start of the rel32 field
	label *Label
}

// Assembler collects instructions into a byte stream. It is owned by a
// single compilation session and is not safe for concurrent use.
type Assembler struct {
	buf    []byte
	limit  int
	labels []*Label
	fixups []fixup
	relocs []Reloc
}

// NewAssembler returns an unbounded assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// NewBoundedAssembler returns an assembler whose output may never exceed
// limit bytes. Emitting past the limit is a Defect.
func NewBoundedAssembler(limit int) *Assembler {
	if limit <= 0 {
		Bugf("bounded assembler with limit %d", limit)
	}
	return &Assembler{limit: limit}
}

// Len returns the number of bytes emitted so far.
func (a *Assembler) Len() int { return len(a.buf) }

func (a *Assembler) reserve(op string, n int) {
	if a.limit > 0 && len(a.buf)+n > a.limit {
		Bugf("%s needs %d bytes at offset %d, slot holds %d", op, n, len(a.buf), a.limit)
	}
}

// Emit appends the instructions in order.
func (a *Assembler) Emit(insts ...Inst) {
	for _, i := range insts {
		a.reserve(i.op, len(i.enc))
		if i.hasSym {
			a.relocs = append(a.relocs, Reloc{
				Offset: len(a.buf) + i.symAt,
				Kind:   Abs32,
				Symbol: i.sym,
				Addend: i.addend,
			})
		}
		a.buf = append(a.buf, i.enc...)
	}
}

// Bind binds l to the current position.
func (a *Assembler) Bind(l *Label) {
	if l.bound {
		Bugf("label %s bound twice", l.name)
	}
	l.pos, l.bound, l.owner = len(a.buf), true, a
	a.labels = append(a.labels, l)
}

// Pad fills the output with fill bytes up to n bytes total.
func (a *Assembler) Pad(n int, fill byte) {
	if len(a.buf) > n {
		Bugf("pad to %d: already at %d", n, len(a.buf))
	}
	a.reserve("pad", n-len(a.buf))
	for len(a.buf) < n {
		a.buf = append(a.buf, fill)
	}
}

// Jmp emits an unconditional jump to l. A backward jump within rel8 range
// uses the short form, all others use rel32.
func (a *Assembler) Jmp(l *Label) {
	if rel, ok := a.shortTo(l, 2); ok {
		a.Emit(inst("jmp "+l.name, 0xeb, byte(rel)))
		return
	}
	a.reserve("jmp "+l.name, 5)
	a.buf = append(a.buf, 0xe9)
	a.rel32(l)
}

// Jcc emits a conditional jump to l.
func (a *Assembler) Jcc(cc Cond, l *Label) {
	op := fmt.Sprintf("j%s %s", cc, l.name)
	if rel, ok := a.shortTo(l, 2); ok {
		a.Emit(inst(op, 0x70+byte(cc), byte(rel)))
		return
	}
	a.reserve(op, 6)
	a.buf = append(a.buf, 0x0f, 0x80+byte(cc))
	a.rel32(l)
}

// Call emits CALL rel32 to l.
func (a *Assembler) Call(l *Label) {
	a.reserve("call "+l.name, 5)
	a.buf = append(a.buf, 0xe8)
	a.rel32(l)
}

func (a *Assembler) shortTo(l *Label, size int) (int8, bool) {
	if l.owner != a {
		return 0, false
	}
	rel := l.pos - (len(a.buf) + size)
	if rel < -128 || rel > 127 {
		return 0, false
	}
	return int8(rel), true
}

func (a *Assembler) rel32(l *Label) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), label: l})
	a.buf = append(a.buf, 0, 0, 0, 0)
}

// Finish resolves all jumps to labels bound by this assembler and returns
// the relocatable object. Jumps to labels that were never bound become
// pc-relative relocations against the label name.
func (a *Assembler) Finish() *Object {
	code := make([]byte, len(a.buf))
	copy(code, a.buf)
	obj := &Object{
		Code:   code,
		Labels: make(map[string]int, len(a.labels)),
		Relocs: append([]Reloc(nil), a.relocs...),
	}
	for _, l := range a.labels {
		if _, dup := obj.Labels[l.name]; dup {
			Bugf("duplicate label name %s", l.name)
		}
		obj.Labels[l.name] = l.pos
	}
	for _, f := range a.fixups {
		if f.label.owner != a {
			obj.Relocs = append(obj.Relocs, Reloc{Offset: f.at, Kind: Rel32, Symbol: f.label.name})
			continue
		}
		rel := int32(f.label.pos - (f.at + 4))
		binary.LittleEndian.PutUint32(code[f.at:], uint32(rel))
	}
	return obj
}
