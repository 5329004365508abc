package disasm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/jnode/jnode-sub032/internal/x86"
)

func dispatch() *x86.Object {
	asm := x86.NewAssembler()
	asm.Bind(x86.NewLabel("entry"))
	asm.Emit(
		x86.CmpImm32(x86.EDX, 5),
		x86.JccShort(x86.CondNE, x86.JmpMemWideLen),
		x86.JmpMem(x86.Ptr(x86.EDI, 0x20).Wide()),
		x86.CmpImm32(x86.EDX, 0xfffffff0),
		x86.JccShort(x86.CondNE, x86.JmpMemWideLen),
		x86.JmpMem(x86.Ptr(x86.EDI, 0x24).Wide()),
		x86.Int(0x32),
	)
	asm.Bind(x86.NewLabel("end"))
	return asm.Finish()
}

func TestTrace(t *testing.T) {
	code := dispatch().Code
	tests := []struct {
		name string
		sel  uint32
		want Result
	}{
		{"first", 5, Result{Exit: ExitIndirect, Disp: 0x20, Path: []int{0, 6, 8}}},
		{"second", 0xfffffff0, Result{Exit: ExitIndirect, Disp: 0x24, Path: []int{0, 6, 14, 20, 22}}},
		{"miss", 7, Result{Exit: ExitTrap, Vector: 0x32, Path: []int{0, 6, 14, 20, 28}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Trace(code, 0, x86asm.EDX, x86asm.EDI, tt.sel)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTraceJumps(t *testing.T) {
	asm := x86.NewAssembler()
	target := x86.NewLabel("target")
	asm.Jmp(target)
	asm.Emit(x86.Int3(), x86.Int3())
	asm.Bind(target)
	asm.Emit(x86.Nop(), x86.Int3())
	code := asm.Finish().Code

	got, err := Trace(code, 0, x86asm.EDX, x86asm.EDI, 0)
	require.NoError(t, err)
	require.Equal(t, ExitTrap, got.Exit)
	require.Equal(t, uint8(3), got.Vector)
	require.Equal(t, []int{0, 7, 8}, got.Path)
}

func TestTraceErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"other instruction", x86.Push(x86.EAX).Bytes(), "cannot trace"},
		{"other register", x86.CmpImm32(x86.ECX, 1).Bytes(), "cannot trace"},
		{"other base", x86.JmpMem(x86.Ptr(x86.ESI, 8)).Bytes(), "cannot trace"},
		{"falls off", x86.Nop().Bytes(), "left the code"},
		{"loops", []byte{0xeb, 0xfe}, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Trace(tt.code, 0, x86asm.EDX, x86asm.EDI, 1)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestDecode(t *testing.T) {
	obj := dispatch()
	lines := Decode(obj)
	require.Len(t, lines, 8)
	require.Equal(t, []string{"entry"}, lines[0].Labels)
	require.Equal(t, 0, lines[0].Offset)
	require.Equal(t, []byte{0x81, 0xfa, 5, 0, 0, 0}, lines[0].Bytes)
	require.Contains(t, lines[0].Text, "cmp")
	require.Contains(t, lines[6].Text, "int")

	last := lines[len(lines)-1]
	require.Equal(t, len(obj.Code), last.Offset)
	require.Equal(t, []string{"end"}, last.Labels)
	require.Empty(t, last.Bytes)
	require.Equal(t, "end:\n", last.Format(Style{}))
}

func TestDecodeRelocsAndBadBytes(t *testing.T) {
	asm := x86.NewAssembler()
	asm.Emit(x86.JmpMem(x86.SymAbs("vm_jumpTable", 8)))
	obj := asm.Finish()
	obj.Code = append(obj.Code, 0x81) // truncated

	lines := Decode(obj)
	require.Equal(t, []x86.Reloc{{Offset: 2, Kind: x86.Abs32, Symbol: "vm_jumpTable", Addend: 8}}, lines[0].Relocs)
	require.Contains(t, lines[0].Format(Style{}), "; abs32 vm_jumpTable+8")
	require.Len(t, lines, 2)
	require.True(t, lines[1].Bad)
	require.Equal(t, "db 0x81", lines[1].Text)

	var buf bytes.Buffer
	require.NoError(t, Listing(&buf, obj, Style{}))
	require.Equal(t, len(lines), strings.Count(buf.String(), "\n"))
	require.Contains(t, buf.String(), "0x0000: ff 25 08 00 00 00")

	mark := func(tag string) func(a ...any) string {
		return func(a ...any) string { return tag + fmt.Sprint(a...) + tag }
	}
	buf.Reset()
	require.NoError(t, Listing(&buf, obj, Style{Offset: mark("|"), Reloc: mark("#"), Bad: mark("!")}))
	require.Contains(t, buf.String(), "|0x0000|: ff 25 08 00 00 00")
	require.Contains(t, buf.String(), "#; abs32 vm_jumpTable+8#")
	require.Contains(t, buf.String(), "!db 0x81!")
}
