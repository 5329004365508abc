package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/cpuid"
	"github.com/jnode/jnode-sub032/internal/jumptable"
	"github.com/jnode/jnode-sub032/internal/layout"
	"github.com/jnode/jnode-sub032/internal/rtabi"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// universe holds the class tables of one test.
type universe struct {
	sel     classmgr.SelectorMap
	statics classmgr.Statics
	ctx     *layout.Context
}

func newUniverse(t *testing.T, writeBarrier bool) *universe {
	t.Helper()
	u := &universe{}
	cfg := layout.DefaultConfig()
	cfg.WriteBarrier = writeBarrier
	ctx, err := layout.New(cfg, &u.sel, &u.statics)
	require.NoError(t, err)
	u.ctx = ctx
	return u
}

func (u *universe) method(t *testing.T, typ *classmgr.Type, spec classmgr.MethodSpec) *classmgr.Method {
	t.Helper()
	m, err := classmgr.NewMethod(typ, spec, &u.sel, &u.statics)
	require.NoError(t, err)
	return m
}

func (u *universe) helper(m *classmgr.Method, debug bool) (*Helper, *x86.Assembler) {
	asm := x86.NewAssembler()
	return NewHelper(asm, m, HelperConfig{
		Context:   u.ctx,
		JumpTable: jumptable.NewHandle(jumptable.Bootstrap{Symbol: rtabi.SymJumpTable}),
		Debug:     debug,
	}), asm
}

func code(asm *x86.Assembler) []byte {
	return asm.Finish().Code
}

func TestLabels(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
	h, _ := u.helper(m, false)

	require.Same(t, h.InstrLabel(7), h.InstrLabel(7))
	require.NotSame(t, h.InstrLabel(7), h.InstrLabel(8))
	require.Equal(t, "A.f()V__bci_7", h.InstrLabel(7).Name())
	require.Equal(t, "A.f()V_$$x", h.GenLabel("$$x").Name())
	require.NotSame(t, h.GenLabel("$$x"), h.GenLabel("$$x"))
	require.False(t, h.GenLabel("$$x").Bound())
}

func TestPushReturnValue(t *testing.T) {
	tests := []struct {
		sig  string
		want []byte
	}{
		{"()V", []byte{}},
		{"()Z", []byte{0x50}},
		{"()I", []byte{0x50}},
		{"()F", []byte{0x50}},
		{"()Ljava/lang/Object;", []byte{0x50}},
		{"()[I", []byte{0x50}},
		{"()J", []byte{0x52, 0x50}},
		{"()D", []byte{0x52, 0x50}},
	}

	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			h, asm := u.helper(m, false)
			h.PushReturnValue(tt.sig)
			require.Equal(t, tt.want, code(asm))
		})
	}
}

type recordingStack struct {
	pushes []string
}

func (s *recordingStack) Push(k rtabi.Kind, r x86.Reg) {
	s.pushes = append(s.pushes, k.String()+":"+r.String())
}

func (s *recordingStack) Push64(k rtabi.Kind, lsb, msb x86.Reg) {
	s.pushes = append(s.pushes, k.String()+":"+msb.String()+":"+lsb.String())
}

func TestInvokeMethod(t *testing.T) {
	u := newUniverse(t, false)
	typ := classmgr.NewType("A", &u.statics)
	caller := u.method(t, typ, classmgr.MethodSpec{Name: "f", Signature: "()V"})
	callee := u.method(t, typ, classmgr.MethodSpec{Name: "g", Signature: "(I)J", Modifiers: classmgr.Static})

	stack := &recordingStack{}
	asm := x86.NewAssembler()
	h := NewHelper(asm, caller, HelperConfig{Context: u.ctx, Stack: stack})
	h.InvokeMethod(callee)

	obj := asm.Finish()
	require.Equal(t, []byte{0xb8, 0, 0, 0, 0, 0xff, 0x50, 0x20}, obj.Code)
	require.Equal(t, []x86.Reloc{{Offset: 1, Kind: x86.Abs32, Symbol: "method:A.g(I)J"}}, obj.Relocs)
	require.Equal(t, []string{"long:edx:eax"}, stack.pushes)
}

func TestJumpTableCalls(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})

	h, asm := u.helper(m, false)
	h.WriteJumpTableCall(jumptable.AThrow)
	h.WriteJumpTableJump(jumptable.Interpreter)
	obj := asm.Finish()
	require.Equal(t, []byte{0xff, 0x15, 0x04, 0, 0, 0, 0xff, 0x25, 0x0c, 0, 0, 0}, obj.Code)
	require.Equal(t, []string{rtabi.SymJumpTable}, obj.Symbols())

	res := NewHelper(x86.NewAssembler(), m, HelperConfig{
		Context:   u.ctx,
		JumpTable: jumptable.NewHandle(jumptable.Resident{Base: 0x1000}),
	})
	res.WriteJumpTableCall(jumptable.AThrow)
	require.Equal(t, []byte{0xff, 0x15, 0x04, 0x10, 0, 0}, code(res.Asm()))
}

func TestWriteYieldPoint(t *testing.T) {
	u := newUniverse(t, false)
	typ := classmgr.NewType("A", &u.statics)

	plain := u.method(t, typ, classmgr.MethodSpec{Name: "f", Signature: "()V"})
	h, asm := u.helper(plain, false)
	h.WriteYieldPoint(h.InstrLabel(0))
	require.Zero(t, asm.Len())

	yielding := u.method(t, typ, classmgr.MethodSpec{Name: "g", Signature: "()V", ThreadSwitchMask: 1})
	h, asm = u.helper(yielding, false)
	h.WriteYieldPoint(h.InstrLabel(0))
	require.Equal(t, []byte{
		0x64, 0x83, 0x3d, 0x18, 0, 0, 0, 0x03, // cmp dword fs:[tsi], 3
		0x0f, 0x85, 0x02, 0, 0, 0, // jne done
		0xcd, 0x30, // int 0x30
	}, code(asm))
}

func TestWriteStackOverflowTest(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
	h, asm := u.helper(m, false)
	h.WriteStackOverflowTest()
	require.Equal(t, []byte{
		0x64, 0x3b, 0x25, 0x10, 0, 0, 0, // cmp esp, fs:[stackEnd]
		0x0f, 0x8f, 0x02, 0, 0, 0, // jg done
		0xcd, 0x31, // int 0x31
	}, code(asm))
}

func TestWriteLoadStatics(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})

	h, asm := u.helper(m, false)
	h.WriteLoadStatics(h.InstrLabel(0), "x", false)
	require.Equal(t, []byte{0x31, 0xff, 0x64, 0x8b, 0x7f, 0x28}, code(asm))

	h, asm = u.helper(m, false)
	h.WriteLoadStatics(h.InstrLabel(0), "x", true)
	require.Zero(t, asm.Len())

	h, asm = u.helper(m, true)
	h.WriteLoadStatics(h.InstrLabel(0), "x", true)
	require.Equal(t, []byte{
		0x64, 0x3b, 0x3d, 0x28, 0, 0, 0, // cmp edi, fs:[statics]
		0x0f, 0x84, 0x02, 0, 0, 0, // je ok
		0xcd, 0x88, // int 0x88
	}, code(asm))
}

func TestClassInitialize(t *testing.T) {
	u := newUniverse(t, false)
	typ := classmgr.NewType("A", &u.statics)
	ready := classmgr.NewType("B", &u.statics)
	ready.SetInitialized()

	tests := []struct {
		name string
		m    *classmgr.Method
		want bool
	}{
		{"static", u.method(t, typ, classmgr.MethodSpec{Name: "s", Signature: "()V", Modifiers: classmgr.Static}), true},
		{"instance", u.method(t, typ, classmgr.MethodSpec{Name: "i", Signature: "()V"}), false},
		{"initializer", u.method(t, typ, classmgr.MethodSpec{Name: classmgr.InitializerName, Signature: "()V", Modifiers: classmgr.Static}), false},
		{"initialized", u.method(t, ready, classmgr.MethodSpec{Name: "s", Signature: "()V", Modifiers: classmgr.Static}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NeedsClassInitialize(tt.m))
			h, asm := u.helper(tt.m, false)
			require.Equal(t, tt.want, h.WriteClassInitialize())
			h.WriteClassInitializers()
			if !tt.want {
				require.Zero(t, asm.Len())
				return
			}
			obj := asm.Finish()
			statics := byte(classmgr.Offset(typ.StaticsIndex))
			require.Equal(t, []byte{
				0x50,             // push eax
				0x8b, 0x47, statics, // mov eax, [edi+statics(A)]
				0xf7, 0x40, 0x14, 0x10, 0, 0, 0, // test dword [eax+state], INITIALIZED
				0x0f, 0x85, 0x05, 0, 0, 0, // jnz done
				0xe8, 0x01, 0, 0, 0, // call init
				0x58, // pop eax
				// init:
				0x60,             // pushad
				0x8b, 0x47, statics, // mov eax, [edi+statics(A)]
				0x50,                // push eax
				0xb8, 0, 0, 0, 0, // mov eax, VmType.initialize
				0xff, 0x50, 0x20, // call [eax+nativeCode]
				0x61, // popad
				0xc3, // ret
			}, obj.Code)
			off, ok := obj.LabelOffset("A.s()V_$$init-A")
			require.True(t, ok)
			require.Equal(t, 23, off)
		})
	}
}

func TestClassInitializeSharedSubroutine(t *testing.T) {
	u := newUniverse(t, false)
	typ := classmgr.NewType("A", &u.statics)
	m := u.method(t, typ, classmgr.MethodSpec{Name: "s", Signature: "()V", Modifiers: classmgr.Static})
	h, asm := u.helper(m, false)

	h.writeClassInitialize(rtabi.Result, typ)
	h.writeClassInitialize(rtabi.Result, classmgr.NewType("C", &u.statics))
	h.writeClassInitialize(rtabi.Result, typ)
	h.WriteClassInitializers()
	obj := asm.Finish()

	subroutines := 0
	for name := range obj.Labels {
		if strings.HasPrefix(name, "A.s()V_$$init-") {
			subroutines++
		}
	}
	require.Equal(t, 2, subroutines)
}

func TestWriteIncInvocationCount(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
	h, asm := u.helper(m, false)
	h.WriteIncInvocationCount(x86.EAX)
	require.Equal(t, []byte{0xff, 0x40, 0x2c}, code(asm))
}

func TestWriteGetConstantPoolEntry(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
	h, asm := u.helper(m, false)
	h.WriteGetConstantPoolEntry(x86.ECX, x86.EAX, 5)
	require.Equal(t, []byte{
		0x8b, 0x48, 0x0c, // mov ecx, [eax+declaringClass]
		0x8b, 0x49, 0x30, // mov ecx, [ecx+cp]
		0x8b, 0x49, 0x08, // mov ecx, [ecx+entries]
		0x8b, 0x49, 0x20, // mov ecx, [ecx+12+5*4]
	}, code(asm))
}

func TestStaticsEntries(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
	h, asm := u.helper(m, false)

	require.Equal(t, int32(12+4*3), h.SharedStaticsOffset(3))
	h.WriteGetStaticsEntry(x86.EAX, 3)
	h.WritePutStaticsEntry(x86.EDX, 3)
	h.WritePushStaticsEntry(3)
	require.Equal(t, []byte{
		0x8b, 0x47, 0x18,
		0x89, 0x57, 0x18,
		0xff, 0x77, 0x18,
	}, code(asm))

	var err error
	func() {
		defer x86.Recover(&err)
		h.SharedStaticsOffset(-1)
	}()
	require.ErrorIs(t, err, x86.ErrDefect)
}

func TestWriteBarriers(t *testing.T) {
	refField := &classmgr.Field{Name: "next", Descriptor: "Ljava/lang/Object;", Offset: 8}
	intField := &classmgr.Field{Name: "count", Descriptor: "I", Offset: 12}
	refStatic := &classmgr.Field{Name: "INSTANCE", Descriptor: "LA;", Static: true, StaticsIndex: 4}

	emit := func(h *Helper, kind rtabi.Kind, field *classmgr.Field) {
		h.WriteArrayStoreWriteBarrier(kind, x86.EAX, x86.ECX, x86.EDX, x86.EBX)
		h.WritePutfieldWriteBarrier(field, x86.EAX, x86.EDX, x86.EBX)
		if field.IsObjectRef() {
			h.WritePutstaticWriteBarrier(refStatic, x86.EDX, x86.EBX)
		}
	}

	t.Run("no barrier", func(t *testing.T) {
		u := newUniverse(t, false)
		m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
		h, asm := u.helper(m, false)
		require.False(t, h.NeedsWriteBarrier())
		emit(h, rtabi.Reference, refField)
		require.Zero(t, asm.Len())
	})

	t.Run("primitive stores", func(t *testing.T) {
		u := newUniverse(t, true)
		m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
		h, asm := u.helper(m, false)
		require.True(t, h.NeedsWriteBarrier())
		emit(h, rtabi.Int, intField)
		require.Zero(t, asm.Len())
	})

	t.Run("reference stores", func(t *testing.T) {
		u := newUniverse(t, true)
		m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})

		h, asm := u.helper(m, false)
		h.WriteArrayStoreWriteBarrier(rtabi.Reference, x86.EAX, x86.ECX, x86.EDX, x86.EBX)
		obj := asm.Finish()
		require.Equal(t, []byte{
			0xbb, 0, 0, 0, 0, // mov ebx, vm_writeBarrier
			0x53, 0x50, 0x51, 0x52, // push ebx, eax, ecx, edx
			0xb8, 0, 0, 0, 0, // mov eax, arrayStoreWriteBarrier
			0xff, 0x50, 0x20,
		}, obj.Code)
		require.Equal(t, rtabi.SymWriteBarrier, obj.Relocs[0].Symbol)
		require.Equal(t, u.ctx.ArrayStoreWriteBarrier().Symbol(), obj.Relocs[1].Symbol)

		h, asm = u.helper(m, false)
		h.WritePutfieldWriteBarrier(refField, x86.EAX, x86.EDX, x86.EBX)
		require.Equal(t, []byte{
			0xbb, 0, 0, 0, 0,
			0x53, 0x50, 0x6a, 0x08, 0x52, // push ebx, eax, 8, edx
			0xb8, 0, 0, 0, 0,
			0xff, 0x50, 0x20,
		}, code(asm))

		h, asm = u.helper(m, false)
		h.WritePutstaticWriteBarrier(refStatic, x86.EDX, x86.EBX)
		require.Equal(t, []byte{
			0xbb, 0, 0, 0, 0,
			0x53, 0x6a, 0x01, 0x6a, 0x04, 0x52, // push ebx, 1, 4, edx
			0xb8, 0, 0, 0, 0,
			0xff, 0x50, 0x20,
		}, code(asm))
	})
}

func TestHaveCMOV(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
	for _, f := range []cpuid.Features{{CMOV: true}, {CMOV: false}} {
		h := NewHelper(x86.NewAssembler(), m, HelperConfig{Context: u.ctx, Features: f})
		require.Equal(t, f.CMOV, h.HaveCMOV())
	}
}

func TestHelperWithoutContextIsDefect(t *testing.T) {
	u := newUniverse(t, false)
	m := u.method(t, classmgr.NewType("A", &u.statics), classmgr.MethodSpec{Name: "f", Signature: "()V"})
	var err error
	func() {
		defer x86.Recover(&err)
		NewHelper(x86.NewAssembler(), m, HelperConfig{})
	}()
	require.ErrorIs(t, err, x86.ErrDefect)
}
