package x86

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// RelocKind selects how a relocated 32-bit field is computed.
type RelocKind uint8

const (
	// Abs32 stores S + A.
	Abs32 RelocKind = iota
	// Rel32 stores S + A - P - 4, with P the address of the field.
	Rel32
)

// String implements fmt.Stringer.
func (k RelocKind) String() string {
	switch k {
	case Abs32:
		return "abs32"
	case Rel32:
		return "rel32"
	}
	return fmt.Sprintf("reloc?%d", uint8(k))
}

// Reloc is a 32-bit field of an Object that refers to a symbol.
type Reloc struct {
	Offset int
	Kind   RelocKind
	Symbol string
	Addend int32
}

// Object is the relocatable output of one assembler: code bytes, the
// offsets of every bound label, and the relocations still to be applied.
type Object struct {
	Code   []byte
	Labels map[string]int
	Relocs []Reloc
}

// LabelOffset returns the offset of a bound label.
func (o *Object) LabelOffset(name string) (int, bool) {
	off, ok := o.Labels[name]
	return off, ok
}

// Symbols returns the names of the external symbols referenced by the
// object, sorted.
func (o *Object) Symbols() []string {
	seen := make(map[string]bool)
	var syms []string
	for _, r := range o.Relocs {
		if _, local := o.Labels[r.Symbol]; local || seen[r.Symbol] {
			continue
		}
		seen[r.Symbol] = true
		syms = append(syms, r.Symbol)
	}
	sort.Strings(syms)
	return syms
}

// Resolver returns the address of an external symbol.
type Resolver func(sym string) (uint32, bool)

// Link returns a copy of the code placed at base with every relocation
// applied. Labels bound in the object take precedence over resolve.
func (o *Object) Link(base uint32, resolve Resolver) ([]byte, error) {
	code := make([]byte, len(o.Code))
	copy(code, o.Code)
	for _, r := range o.Relocs {
		var s uint32
		if off, ok := o.Labels[r.Symbol]; ok {
			s = base + uint32(off)
		} else if resolve != nil {
			v, ok := resolve(r.Symbol)
			if !ok {
				return nil, fmt.Errorf("x86: undefined symbol %q at offset %#x", r.Symbol, r.Offset)
			}
			s = v
		} else {
			return nil, fmt.Errorf("x86: undefined symbol %q at offset %#x", r.Symbol, r.Offset)
		}
		if r.Offset < 0 || r.Offset+4 > len(code) {
			return nil, fmt.Errorf("x86: relocation %s at %#x outside code", r.Symbol, r.Offset)
		}
		v := s + uint32(r.Addend)
		if r.Kind == Rel32 {
			v -= base + uint32(r.Offset) + 4
		}
		binary.LittleEndian.PutUint32(code[r.Offset:], v)
	}
	return code, nil
}
