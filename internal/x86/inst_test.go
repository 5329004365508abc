package x86

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func TestEncoding(t *testing.T) {
	for _, tc := range []struct {
		inst Inst
		exp  []byte
		op   string
	}{
		{inst: Push(EAX), exp: []byte{0x50}, op: "PUSH"},
		{inst: Push(EDI), exp: []byte{0x57}, op: "PUSH"},
		{inst: Pop(EAX), exp: []byte{0x58}, op: "POP"},
		{inst: PushImm(1), exp: []byte{0x6a, 0x01}, op: "PUSH"},
		{inst: PushImm(0x1000), exp: []byte{0x68, 0x00, 0x10, 0x00, 0x00}, op: "PUSH"},
		{inst: PushMem(Ptr(EDI, 8)), exp: []byte{0xff, 0x77, 0x08}, op: "PUSH"},
		{inst: MovImm(EAX, 0x12345678), exp: []byte{0xb8, 0x78, 0x56, 0x34, 0x12}, op: "MOV"},
		{inst: Load(EAX, Ptr(EDI, 8)), exp: []byte{0x8b, 0x47, 0x08}, op: "MOV"},
		{inst: Load(EAX, Ptr(EDI, 0x100)), exp: []byte{0x8b, 0x87, 0x00, 0x01, 0x00, 0x00}, op: "MOV"},
		{inst: Load(EAX, Ptr(ESP, 4)), exp: []byte{0x8b, 0x44, 0x24, 0x04}, op: "MOV"},
		{inst: Load(EAX, Ptr(EBP, 0)), exp: []byte{0x8b, 0x45, 0x00}, op: "MOV"},
		{inst: Load(ECX, Ptr(EAX, 0)), exp: []byte{0x8b, 0x08}, op: "MOV"},
		{inst: Load(EDI, Ptr(EDI, 0x40).In(FS)), exp: []byte{0x64, 0x8b, 0x7f, 0x40}, op: "MOV"},
		{inst: Store(Ptr(EDI, 12), EDX), exp: []byte{0x89, 0x57, 0x0c}, op: "MOV"},
		{inst: MovReg(EBP, ESP), exp: []byte{0x89, 0xe5}, op: "MOV"},
		{inst: Xor(EDI, EDI), exp: []byte{0x31, 0xff}, op: "XOR"},
		{inst: JmpMem(Ptr(EDI, 0x20).Wide()), exp: []byte{0xff, 0xa7, 0x20, 0x00, 0x00, 0x00}, op: "JMP"},
		{inst: CallMem(Abs(0x1000)), exp: []byte{0xff, 0x15, 0x00, 0x10, 0x00, 0x00}, op: "CALL"},
		{inst: JmpMem(Abs(0x1000)), exp: []byte{0xff, 0x25, 0x00, 0x10, 0x00, 0x00}, op: "JMP"},
		{inst: CallMem(Ptr(EAX, 0x18)), exp: []byte{0xff, 0x50, 0x18}, op: "CALL"},
		{inst: CmpMemImm(Abs(0x10).In(FS), 3), exp: []byte{0x64, 0x83, 0x3d, 0x10, 0x00, 0x00, 0x00, 0x03}, op: "CMP"},
		{inst: CmpRegMem(ESP, Abs(0x20).In(FS)), exp: []byte{0x64, 0x3b, 0x25, 0x20, 0x00, 0x00, 0x00}, op: "CMP"},
		{inst: CmpImm32(EDX, 5), exp: []byte{0x81, 0xfa, 0x05, 0x00, 0x00, 0x00}, op: "CMP"},
		{inst: CmpImm32(EAX, 5), exp: []byte{0x3d, 0x05, 0x00, 0x00, 0x00}, op: "CMP"},
		{inst: TestMemImm(Ptr(EAX, 4), 8), exp: []byte{0xf7, 0x40, 0x04, 0x08, 0x00, 0x00, 0x00}, op: "TEST"},
		{inst: IncMem(Ptr(EAX, 0x10)), exp: []byte{0xff, 0x40, 0x10}, op: "INC"},
		{inst: CallReg(ECX), exp: []byte{0xff, 0xd1}, op: "CALL"},
		{inst: Lea(ECX, Ptr(ECX, 16)), exp: []byte{0x8d, 0x49, 0x10}, op: "LEA"},
		{inst: Int(0x30), exp: []byte{0xcd, 0x30}, op: "INT"},
		{inst: Ret(0), exp: []byte{0xc3}, op: "RET"},
		{inst: Ret(8), exp: []byte{0xc2, 0x08, 0x00}, op: "RET"},
		{inst: JccShort(CondNE, 6), exp: []byte{0x75, 0x06}, op: "JNE"},
		{inst: JmpRel32(0x100), exp: []byte{0xe9, 0x00, 0x01, 0x00, 0x00}, op: "JMP"},
		{inst: Pusha(), exp: []byte{0x60}, op: "PUSHAD"},
		{inst: Popa(), exp: []byte{0x61}, op: "POPAD"},
	} {
		t.Run(tc.inst.String(), func(t *testing.T) {
			require.Equal(t, tc.exp, tc.inst.Bytes())
			require.Equal(t, len(tc.exp), tc.inst.Len())

			dec, err := x86asm.Decode(tc.inst.Bytes(), 32)
			require.NoError(t, err)
			require.Equal(t, tc.op, dec.Op.String())
			require.Equal(t, tc.inst.Len(), dec.Len)
		})
	}
}

func TestFixedLengths(t *testing.T) {
	require.Equal(t, JmpRel32Len, JmpRel32(0).Len())
	require.Equal(t, JmpMemWideLen, JmpMem(Ptr(EDI, 0).Wide()).Len())
	require.Equal(t, JmpMemWideLen, JmpMem(Ptr(EDI, 1<<20).Wide()).Len())
	require.Equal(t, CmpImm32Len, CmpImm32(EDX, 0xffffffff).Len())
	require.Equal(t, JccShortLen, JccShort(CondNE, 0).Len())
	require.Equal(t, IntLen, Int(0x32).Len())
}

func TestSymbolOperands(t *testing.T) {
	i := CallMem(SymAbs("vm_jumpTable", 8))
	require.Equal(t, []byte{0xff, 0x15, 0x08, 0x00, 0x00, 0x00}, i.Bytes())
	require.Equal(t, "call [vm_jumpTable+8]", i.String())

	m := MovSym(EAX, "method:A.f()V", 0)
	require.Equal(t, []byte{0xb8, 0, 0, 0, 0}, m.Bytes())
}

func TestInvalidBaseIsDefect(t *testing.T) {
	var err error
	func() {
		defer Recover(&err)
		Load(EAX, Ptr(Reg(9), 0))
	}()
	require.ErrorIs(t, err, ErrDefect)
}
