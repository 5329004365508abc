package x86

import (
	"encoding/binary"
	"fmt"
)

// Mem is a memory operand: [base+disp], an absolute [disp32], or an
// absolute address relative to a symbol resolved by the linker.
type Mem struct {
	Base Reg
	Disp int32
	Seg  Segment

	abs    bool
	sym    string
	wide   bool
	hasSym bool
}

// Ptr returns the operand [base+disp].
func Ptr(base Reg, disp int32) Mem {
	return Mem{Base: base, Disp: disp}
}

// Abs returns the absolute operand [addr].
func Abs(addr uint32) Mem {
	return Mem{Disp: int32(addr), abs: true, wide: true}
}

// SymAbs returns the absolute operand [sym+off]; the address of sym is
// filled in by Object.Link.
func SymAbs(sym string, off int32) Mem {
	return Mem{Disp: off, abs: true, wide: true, sym: sym, hasSym: true}
}

// In returns m with a segment override.
func (m Mem) In(seg Segment) Mem {
	m.Seg = seg
	return m
}

// Wide returns m forced to a 32-bit displacement, giving the operand a
// fixed length regardless of the displacement value.
func (m Mem) Wide() Mem {
	m.wide = true
	return m
}

// String implements fmt.Stringer.
func (m Mem) String() string {
	seg := ""
	if m.Seg == FS {
		seg = "fs:"
	}
	switch {
	case m.hasSym:
		return fmt.Sprintf("%s[%s%+d]", seg, m.sym, m.Disp)
	case m.abs:
		return fmt.Sprintf("%s[%#x]", seg, uint32(m.Disp))
	case m.Disp == 0:
		return fmt.Sprintf("%s[%s]", seg, m.Base)
	default:
		return fmt.Sprintf("%s[%s%+d]", seg, m.Base, m.Disp)
	}
}

// Inst is one encoded instruction, optionally carrying a 32-bit absolute
// relocation against a symbol.
type Inst struct {
	op  string
	enc []byte

	sym    string
	symAt  int
	addend int32
	hasSym bool
}

// Len returns the encoded length in bytes.
func (i Inst) Len() int { return len(i.enc) }

// Bytes returns the encoding. Symbol fields hold only the addend until
// the object is linked.
func (i Inst) Bytes() []byte { return i.enc }

// String returns the assembly text of the instruction.
func (i Inst) String() string { return i.op }

func inst(op string, enc ...byte) Inst {
	return Inst{op: op, enc: enc}
}

func isInt8(v int32) bool { return v >= -128 && v <= 127 }

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// withMem encodes prefix? opcode modrm [sib] [disp] for a register or
// opcode-extension field and a memory operand.
func withMem(op string, opcode []byte, field byte, m Mem) Inst {
	if !m.abs && !m.Base.valid() {
		Bugf("%s: invalid base register %d", op, m.Base)
	}
	var enc []byte
	if m.Seg != NoSegment {
		enc = append(enc, byte(m.Seg))
	}
	enc = append(enc, opcode...)
	i := Inst{op: op}
	switch {
	case m.abs:
		enc = append(enc, modrm(0, field, 5))
		if m.hasSym {
			i.sym, i.symAt, i.addend, i.hasSym = m.sym, len(enc), m.Disp, true
		}
		enc = append(enc, le32(uint32(m.Disp))...)
	default:
		var mod byte
		switch {
		case m.wide:
			mod = 2
		case m.Disp == 0 && m.Base != EBP:
			mod = 0
		case isInt8(m.Disp):
			mod = 1
		default:
			mod = 2
		}
		enc = append(enc, modrm(mod, field, byte(m.Base)))
		if m.Base == ESP {
			enc = append(enc, 0x24)
		}
		switch mod {
		case 1:
			enc = append(enc, byte(int8(m.Disp)))
		case 2:
			enc = append(enc, le32(uint32(m.Disp))...)
		}
	}
	i.enc = enc
	return i
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// Push encodes PUSH r32.
func Push(r Reg) Inst {
	return inst("push "+r.String(), 0x50+byte(r))
}

// Pop encodes POP r32.
func Pop(r Reg) Inst {
	return inst("pop "+r.String(), 0x58+byte(r))
}

// PushImm encodes PUSH imm, using the sign-extended imm8 form when it fits.
func PushImm(v int32) Inst {
	op := fmt.Sprintf("push %#x", v)
	if isInt8(v) {
		return inst(op, 0x6a, byte(int8(v)))
	}
	return inst(op, append([]byte{0x68}, le32(uint32(v))...)...)
}

// PushMem encodes PUSH dword m.
func PushMem(m Mem) Inst {
	return withMem("push dword "+m.String(), []byte{0xff}, 6, m)
}

// Pusha encodes PUSHAD.
func Pusha() Inst { return inst("pushad", 0x60) }

// Popa encodes POPAD.
func Popa() Inst { return inst("popad", 0x61) }

// MovImm encodes MOV r32, imm32.
func MovImm(r Reg, v uint32) Inst {
	return inst(fmt.Sprintf("mov %s, %#x", r, v), append([]byte{0xb8 + byte(r)}, le32(v)...)...)
}

// MovSym encodes MOV r32, imm32 where the immediate is the address of sym
// plus addend, filled in by the linker.
func MovSym(r Reg, sym string, addend int32) Inst {
	i := inst(fmt.Sprintf("mov %s, %s%+d", r, sym, addend), append([]byte{0xb8 + byte(r)}, le32(uint32(addend))...)...)
	i.sym, i.symAt, i.addend, i.hasSym = sym, 1, addend, true
	return i
}

// Load encodes MOV r32, dword m.
func Load(r Reg, m Mem) Inst {
	return withMem(fmt.Sprintf("mov %s, %s", r, m), []byte{0x8b}, byte(r), m)
}

// Store encodes MOV dword m, r32.
func Store(m Mem, r Reg) Inst {
	return withMem(fmt.Sprintf("mov %s, %s", m, r), []byte{0x89}, byte(r), m)
}

// Lea encodes LEA r32, m.
func Lea(r Reg, m Mem) Inst {
	if m.abs || m.Seg != NoSegment {
		Bugf("lea: unsupported operand %s", m)
	}
	return withMem(fmt.Sprintf("lea %s, %s", r, m), []byte{0x8d}, byte(r), m)
}

// MovReg encodes MOV dst, src.
func MovReg(dst, src Reg) Inst {
	return inst(fmt.Sprintf("mov %s, %s", dst, src), 0x89, modrm(3, byte(src), byte(dst)))
}

// Xor encodes XOR dst, src.
func Xor(dst, src Reg) Inst {
	return inst(fmt.Sprintf("xor %s, %s", dst, src), 0x31, modrm(3, byte(src), byte(dst)))
}

// CmpMemImm encodes CMP dword m, imm, using the imm8 form when it fits.
func CmpMemImm(m Mem, v int32) Inst {
	op := fmt.Sprintf("cmp dword %s, %#x", m, v)
	if isInt8(v) {
		i := withMem(op, []byte{0x83}, 7, m)
		i.enc = append(i.enc, byte(int8(v)))
		return i
	}
	i := withMem(op, []byte{0x81}, 7, m)
	i.enc = append(i.enc, le32(uint32(v))...)
	return i
}

// CmpRegMem encodes CMP r32, dword m.
func CmpRegMem(r Reg, m Mem) Inst {
	return withMem(fmt.Sprintf("cmp %s, %s", r, m), []byte{0x3b}, byte(r), m)
}

// CmpImm32 encodes CMP r32, imm32 in its fixed-length imm32 form.
func CmpImm32(r Reg, v uint32) Inst {
	op := fmt.Sprintf("cmp %s, %#x", r, v)
	if r == EAX {
		return inst(op, append([]byte{0x3d}, le32(v)...)...)
	}
	return inst(op, append([]byte{0x81, modrm(3, 7, byte(r))}, le32(v)...)...)
}

// TestMemImm encodes TEST dword m, imm32.
func TestMemImm(m Mem, v uint32) Inst {
	i := withMem(fmt.Sprintf("test dword %s, %#x", m, v), []byte{0xf7}, 0, m)
	i.enc = append(i.enc, le32(v)...)
	return i
}

// IncMem encodes INC dword m.
func IncMem(m Mem) Inst {
	return withMem("inc dword "+m.String(), []byte{0xff}, 0, m)
}

// CallMem encodes CALL dword m.
func CallMem(m Mem) Inst {
	return withMem("call "+m.String(), []byte{0xff}, 2, m)
}

// JmpMem encodes JMP dword m.
func JmpMem(m Mem) Inst {
	return withMem("jmp "+m.String(), []byte{0xff}, 4, m)
}

// CallReg encodes CALL r32.
func CallReg(r Reg) Inst {
	return inst("call "+r.String(), 0xff, modrm(3, 2, byte(r)))
}

// Int encodes INT imm8.
func Int(n uint8) Inst {
	return inst(fmt.Sprintf("int %#x", n), 0xcd, n)
}

// Int3 encodes INT3, also used as slot padding.
func Int3() Inst { return inst("int3", 0xcc) }

// Nop encodes NOP.
func Nop() Inst { return inst("nop", 0x90) }

// Ret encodes RET, or RET imm16 when n is non-zero.
func Ret(n uint16) Inst {
	if n == 0 {
		return inst("ret", 0xc3)
	}
	return inst(fmt.Sprintf("ret %#x", n), 0xc2, byte(n), byte(n>>8))
}

// JccShort encodes Jcc rel8 with a fixed displacement relative to the end
// of the instruction.
func JccShort(cc Cond, rel int8) Inst {
	return inst(fmt.Sprintf("j%s %+d", cc, rel), 0x70+byte(cc), byte(rel))
}

// JmpRel32 encodes JMP rel32 with a fixed displacement relative to the end
// of the instruction.
func JmpRel32(rel int32) Inst {
	return inst(fmt.Sprintf("jmp %+d", rel), append([]byte{0xe9}, le32(uint32(rel))...)...)
}

// Instruction lengths that callers reserve space for.
const (
	JmpRel32Len   = 5
	JmpMemWideLen = 6 // JMP [base+disp32], base other than ESP
	CmpImm32Len   = 6 // CMP r32, imm32 for a register other than EAX
	JccShortLen   = 2
	IntLen        = 2
)

// Word encodes a 32-bit data word holding the address of sym plus addend.
func Word(sym string, addend int32) Inst {
	i := inst(fmt.Sprintf("dd %s%+d", sym, addend), le32(uint32(addend))...)
	i.sym, i.symAt, i.addend, i.hasSym = sym, 0, addend, true
	return i
}
