package imt

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/rtabi"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// EntrySize is the byte size of every slot entry.
const EntrySize = rtabi.IMTEntrySize

// Per candidate size of a bucket chain.
const (
	compareSize = x86.CmpImm32Len + x86.JccShortLen + x86.JmpMemWideLen
	lastSize    = x86.JmpMemWideLen
)

// CompiledIMT is the dispatch code of one slot set. Entry i starts at
// i*EntrySize; the selector is expected in rtabi.Selector and the shared
// statics table in rtabi.Statics.
type CompiledIMT struct {
	// Object holds the code. It has no relocations; label Name marks the
	// call target, Name+"$$slot-i" each entry and Name+"$$bucket-i" the
	// overflow code of colliding slot i.
	Object *x86.Object

	// Name prefixes the labels of the table.
	Name string

	// Length is the number of slots.
	Length int
}

// Code returns the code bytes.
func (c *CompiledIMT) Code() []byte { return c.Object.Code }

// Size returns the code size in bytes, overflow area included.
func (c *CompiledIMT) Size() int { return len(c.Object.Code) }

// EntryOffset returns the offset of the entry of slot i.
func (c *CompiledIMT) EntryOffset(i int) int {
	if i < 0 || i >= c.Length {
		x86.Bugf("imt %s: slot %d out of range", c.Name, i)
	}
	return i * EntrySize
}

// OverflowOffset returns the start of the overflow area.
func (c *CompiledIMT) OverflowOffset() int { return c.Length * EntrySize }

// Compiler compiles slot sets.
type Compiler struct {
	log zerolog.Logger
}

// NewCompiler returns an IMT compiler. A nil logger disables logging.
func NewCompiler(log *zerolog.Logger) *Compiler {
	c := &Compiler{log: zerolog.Nop()}
	if log != nil {
		c.log = *log
	}
	return c
}

// Compile compiles set. Every entry is written through an assembler
// bounded to EntrySize; an entry that does not fit is a defect.
func (c *Compiler) Compile(name string, set *SlotSet) (_ *CompiledIMT, err error) {
	defer x86.Recover(&err)

	n := set.Len()
	overflow := n * EntrySize
	cursor := overflow
	bucketAt := make([]int, n)
	for i := range n {
		if s := set.Slot(i); s.Collision {
			bucketAt[i] = cursor
			cursor += bucketSize(len(s.Methods))
		}
	}

	labels := map[string]int{name: 0}
	code := make([]byte, 0, cursor)
	for i := range n {
		slot := x86.NewBoundedAssembler(EntrySize)
		writeEntry(slot, set.Slot(i), bucketAt[i]-(len(code)+x86.JmpRel32Len))
		slot.Pad(EntrySize, 0xcc)
		labels[fmt.Sprintf("%s$$slot-%d", name, i)] = len(code)
		code = append(code, slot.Finish().Code...)
	}

	buckets := 0
	for i := range n {
		s := set.Slot(i)
		if !s.Collision {
			continue
		}
		if len(code) != bucketAt[i] {
			x86.Bugf("imt %s: bucket %d at %d, expected %d", name, i, len(code), bucketAt[i])
		}
		bucket := x86.NewBoundedAssembler(bucketSize(len(s.Methods)))
		writeBucket(bucket, s.Methods)
		labels[fmt.Sprintf("%s$$bucket-%d", name, i)] = len(code)
		code = append(code, bucket.Finish().Code...)
		buckets++
	}

	c.log.Debug().Str("imt", name).Int("slots", n).Int("buckets", buckets).Int("size", len(code)).Msg("compiled imt")
	return &CompiledIMT{
		Object: &x86.Object{Code: code, Labels: labels},
		Name:   name,
		Length: n,
	}, nil
}

func bucketSize(n int) int {
	return (n-1)*compareSize + lastSize
}

// writeEntry writes the fixed part of a slot. rel is the displacement of
// the slot's bucket from the end of an in-slot jump.
func writeEntry(a *x86.Assembler, s Slot, rel int) {
	switch {
	case s.IsEmpty():
		a.Emit(x86.Int(rtabi.IntAbstractMethod))
	case s.Collision:
		a.Emit(x86.JmpRel32(int32(rel)))
	default:
		a.Emit(jumpTo(s.Methods[0]))
	}
}

// writeBucket writes the compare chain of a colliding slot. The last
// candidate is reached without a compare.
//
//	cmp edx, selector
//	jne next
//	jmp [edi+statics(method)]
//	next:
func writeBucket(a *x86.Assembler, ms []*classmgr.Method) {
	last := len(ms) - 1
	for _, m := range ms[:last] {
		a.Emit(
			x86.CmpImm32(rtabi.Selector, m.Selector),
			x86.JccShort(x86.CondNE, x86.JmpMemWideLen),
			jumpTo(m),
		)
	}
	a.Emit(jumpTo(ms[last]))
}

// jumpTo jumps to the native code of m, read from its shared statics slot.
func jumpTo(m *classmgr.Method) x86.Inst {
	return x86.JmpMem(x86.Ptr(rtabi.Statics, classmgr.Offset(m.StaticsIndex)).Wide())
}
