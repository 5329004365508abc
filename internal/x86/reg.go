// Package x86 encodes the 32-bit x86 instructions used by the native
// compiler and the IMT compiler, and collects them into relocatable objects.
//
// Every instruction shape has one constructor, so opcode bytes and
// instruction lengths live in this package only.
package x86

import "fmt"

// Reg is a 32-bit general purpose register. The value is the register
// number used in ModRM and opcode-embedded encodings.
type Reg uint8

const (
	EAX Reg = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

var regNames = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

// String implements fmt.Stringer.
func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("r?%d", uint8(r))
}

// valid reports whether r names one of the eight 32-bit registers.
func (r Reg) valid() bool {
	return r <= EDI
}

// Cond is an x86 condition code as used by Jcc.
type Cond uint8

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondL  Cond = 0xc
	CondGE Cond = 0xd
	CondLE Cond = 0xe
	CondG  Cond = 0xf

	// Aliases.
	CondZ  = CondE
	CondNZ = CondNE
	CondNG = CondLE
)

var condNames = [...]string{
	"o", "no", "b", "ae", "e", "ne", "be", "a",
	"s", "ns", "p", "np", "l", "ge", "le", "g",
}

// String implements fmt.Stringer.
func (c Cond) String() string {
	return condNames[c&0xf]
}

// Segment is a segment-override prefix.
type Segment uint8

const (
	NoSegment Segment = 0
	// FS addresses processor-local data.
	FS Segment = 0x64
)
