package rtabi

import (
	"fmt"
	"strings"

	"github.com/jnode/jnode-sub032/internal/x86"
)

// Kind is the machine-level kind of a value.
type Kind uint8

const (
	Void Kind = iota
	Boolean
	Byte
	Char
	Short
	Int
	Float
	Long
	Double
	Reference

	numKinds
)

var kindNames = [...]string{
	Void:      "void",
	Boolean:   "boolean",
	Byte:      "byte",
	Char:      "char",
	Short:     "short",
	Int:       "int",
	Float:     "float",
	Long:      "long",
	Double:    "double",
	Reference: "reference",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind?%d", uint8(k))
}

// IsWide reports whether values of the kind occupy a 64-bit register pair.
func (k Kind) IsWide() bool {
	return k == Long || k == Double
}

// IsIntLike reports whether the kind is held as a 32-bit integer.
func (k Kind) IsIntLike() bool {
	switch k {
	case Boolean, Byte, Char, Short, Int:
		return true
	}
	return false
}

// KindOf returns the kind of the first type in a field descriptor and the
// length of that descriptor.
func KindOf(desc string) (Kind, int, error) {
	if desc == "" {
		return Void, 0, fmt.Errorf("empty type descriptor")
	}
	switch desc[0] {
	case 'V':
		return Void, 1, nil
	case 'Z':
		return Boolean, 1, nil
	case 'B':
		return Byte, 1, nil
	case 'C':
		return Char, 1, nil
	case 'S':
		return Short, 1, nil
	case 'I':
		return Int, 1, nil
	case 'F':
		return Float, 1, nil
	case 'J':
		return Long, 1, nil
	case 'D':
		return Double, 1, nil
	case 'L':
		end := strings.IndexByte(desc, ';')
		if end < 0 {
			return Void, 0, fmt.Errorf("unterminated class descriptor %q", desc)
		}
		return Reference, end + 1, nil
	case '[':
		_, n, err := KindOf(desc[1:])
		if err != nil {
			return Void, 0, err
		}
		return Reference, n + 1, nil
	}
	return Void, 0, fmt.Errorf("invalid type descriptor %q", desc)
}

// ArgKinds returns the kinds of the arguments of a method signature such
// as "(IJLjava/lang/String;)V".
func ArgKinds(signature string) ([]Kind, error) {
	if !strings.HasPrefix(signature, "(") {
		return nil, fmt.Errorf("invalid signature %q", signature)
	}
	end := strings.IndexByte(signature, ')')
	if end < 0 {
		return nil, fmt.Errorf("invalid signature %q", signature)
	}
	var kinds []Kind
	for rest := signature[1:end]; rest != ""; {
		k, n, err := KindOf(rest)
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", signature, err)
		}
		if k == Void {
			return nil, fmt.Errorf("signature %q: void argument", signature)
		}
		kinds = append(kinds, k)
		rest = rest[n:]
	}
	return kinds, nil
}

// ReturnKind returns the kind of the return value of a method signature.
func ReturnKind(signature string) (Kind, error) {
	end := strings.IndexByte(signature, ')')
	if !strings.HasPrefix(signature, "(") || end < 0 {
		return Void, fmt.Errorf("invalid signature %q", signature)
	}
	k, n, err := KindOf(signature[end+1:])
	if err != nil {
		return Void, fmt.Errorf("signature %q: %w", signature, err)
	}
	if end+1+n != len(signature) {
		return Void, fmt.Errorf("signature %q: trailing characters", signature)
	}
	return k, nil
}

// TypeSizeInfo gives the number of stack slots a value of each kind
// occupies.
type TypeSizeInfo struct {
	IntSlots    int
	FloatSlots  int
	LongSlots   int
	DoubleSlots int
	RefSlots    int
}

// DefaultTypeSizeInfo is the stack slot table of the 32-bit target.
var DefaultTypeSizeInfo = TypeSizeInfo{
	IntSlots:    1,
	FloatSlots:  1,
	LongSlots:   2,
	DoubleSlots: 2,
	RefSlots:    1,
}

// StackSlots returns the number of stack slots of a value of kind k.
// An unknown kind is a compiler defect.
func (s TypeSizeInfo) StackSlots(k Kind) int {
	switch {
	case k.IsIntLike():
		return s.IntSlots
	case k == Float:
		return s.FloatSlots
	case k == Long:
		return s.LongSlots
	case k == Double:
		return s.DoubleSlots
	case k == Reference:
		return s.RefSlots
	}
	x86.Bugf("no stack slot size for kind %s", k)
	return 0
}

// ArgSlotCount returns the number of stack slots taken by the arguments of
// a method, including the receiver of an instance method.
func (s TypeSizeInfo) ArgSlotCount(signature string, static bool) (int, error) {
	kinds, err := ArgKinds(signature)
	if err != nil {
		return 0, err
	}
	n := 0
	if !static {
		n = s.RefSlots
	}
	for _, k := range kinds {
		n += s.StackSlots(k)
	}
	return n, nil
}
