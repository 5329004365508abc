// Package compiler emits the native x86 code of methods: the emission
// helper with the code idioms shared by all compilation levels, and the
// method compiler that drives it.
package compiler

import (
	"strconv"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/cpuid"
	"github.com/jnode/jnode-sub032/internal/jumptable"
	"github.com/jnode/jnode-sub032/internal/layout"
	"github.com/jnode/jnode-sub032/internal/rtabi"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// StackManager models the operand stack of the method being compiled.
type StackManager interface {
	// Push pushes a single-slot value held in r.
	Push(k rtabi.Kind, r x86.Reg)
	// Push64 pushes a wide value held in the pair msb:lsb.
	Push64(k rtabi.Kind, lsb, msb x86.Reg)
}

// machineStack keeps operands on the machine stack.
type machineStack struct {
	asm *x86.Assembler
}

func (s machineStack) Push(_ rtabi.Kind, r x86.Reg) {
	s.asm.Emit(x86.Push(r))
}

func (s machineStack) Push64(_ rtabi.Kind, lsb, msb x86.Reg) {
	s.asm.Emit(x86.Push(msb), x86.Push(lsb))
}

// Helper provides the emission idioms used while compiling one method.
// It belongs to a single session and is not safe for concurrent use.
type Helper struct {
	asm    *x86.Assembler
	method *classmgr.Method
	ctx    *layout.Context
	jt     jumptable.Handle
	stack  StackManager

	haveCMOV bool
	debug    bool

	labelPrefix      string
	instrLabelPrefix string
	addressLabels    map[int]*x86.Label

	classInitLabels map[*classmgr.Type]*x86.Label
	classInitOrder  []*classmgr.Type
	classInitGuards int
}

// HelperConfig configures a Helper.
type HelperConfig struct {
	Context   *layout.Context
	JumpTable jumptable.Handle
	Features  cpuid.Features
	Debug     bool

	// Stack receives pushed return values. The default pushes onto the
	// machine stack.
	Stack StackManager
}

// NewHelper returns a helper emitting the code of method into asm.
func NewHelper(asm *x86.Assembler, method *classmgr.Method, cfg HelperConfig) *Helper {
	if cfg.Context == nil {
		x86.Bugf("helper for %s without compiler context", method)
	}
	h := &Helper{
		asm:             asm,
		method:          method,
		ctx:             cfg.Context,
		jt:              cfg.JumpTable,
		stack:           cfg.Stack,
		haveCMOV:        cfg.Features.CMOV,
		debug:           cfg.Debug,
		addressLabels:   make(map[int]*x86.Label),
		classInitLabels: make(map[*classmgr.Type]*x86.Label),
	}
	if h.stack == nil {
		h.stack = machineStack{asm: asm}
	}
	h.labelPrefix = method.FullName() + "_"
	h.instrLabelPrefix = h.labelPrefix + "_bci_"
	return h
}

// Asm returns the assembler the helper writes to.
func (h *Helper) Asm() *x86.Assembler { return h.asm }

// Method returns the method being compiled.
func (h *Helper) Method() *classmgr.Method { return h.method }

// Context returns the compiler context.
func (h *Helper) Context() *layout.Context { return h.ctx }

// HaveCMOV reports whether conditional moves may be emitted.
func (h *Helper) HaveCMOV() bool { return h.haveCMOV }

// InstrLabel returns the label of a bytecode address. Repeated calls with
// the same address return the same label.
func (h *Helper) InstrLabel(address int) *x86.Label {
	l, ok := h.addressLabels[address]
	if !ok {
		l = x86.NewLabel(h.instrLabelPrefix + strconv.Itoa(address))
		h.addressLabels[address] = l
	}
	return l
}

// GenLabel returns a new method relative label.
func (h *Helper) GenLabel(postfix string) *x86.Label {
	return x86.NewLabel(h.labelPrefix + postfix)
}

// WriteJumpTableCall calls the address stored in jump table entry e.
func (h *Helper) WriteJumpTableCall(e jumptable.Entry) {
	h.asm.Emit(x86.CallMem(h.jt.Operand(e)))
}

// WriteJumpTableJump jumps to the address stored in jump table entry e.
func (h *Helper) WriteJumpTableJump(e jumptable.Entry) {
	h.asm.Emit(x86.JmpMem(h.jt.Operand(e)))
}

// PushReturnValue pushes the return value of a method with the given
// signature onto the operand stack.
func (h *Helper) PushReturnValue(signature string) {
	k, err := rtabi.ReturnKind(signature)
	if err != nil {
		x86.Bugf("push return value: %v", err)
	}
	switch {
	case k == rtabi.Void:
	case k.IsWide():
		h.stack.Push64(k, rtabi.Result, rtabi.ResultHigh)
	default:
		h.stack.Push(k, rtabi.Result)
	}
}

// InvokeMethod calls method through its native code pointer. The method
// reference is passed in the result register.
func (h *Helper) InvokeMethod(method *classmgr.Method) {
	h.asm.Emit(
		x86.MovSym(rtabi.Result, method.Symbol(), 0),
		x86.CallMem(x86.Ptr(rtabi.Result, h.ctx.MethodNativeCode)),
	)
	h.PushReturnValue(method.Signature)
}

// WriteYieldPoint inserts a yield point, unless the method being compiled
// has no thread switch mask.
//
//	cmp dword fs:[tsi], SWITCH_REQUESTED
//	jne done
//	int 0x30
//	done:
func (h *Helper) WriteYieldPoint(curInstrLabel *x86.Label) {
	if h.method.ThreadSwitchMask == 0 {
		return
	}
	done := x86.NewLabel(curInstrLabel.Name() + "$$noyp")
	h.asm.Emit(x86.CmpMemImm(x86.Abs(uint32(h.ctx.ProcessorTSI)).In(rtabi.ProcessorSegment), rtabi.TSISwitchRequested))
	h.asm.Jcc(x86.CondNE, done)
	h.asm.Emit(x86.Int(rtabi.IntYieldPoint))
	h.asm.Bind(done)
}

// NeedsClassInitialize reports whether a method needs a class
// initialization guard: static methods other than class initializers
// whose declaring type is not yet initialized.
func NeedsClassInitialize(m *classmgr.Method) bool {
	return m.IsStatic() && !m.IsInitializer() && !m.Declaring.IsInitialized()
}

// WriteClassInitialize writes the class initialization guard of the
// method being compiled and reports whether it did. The test is not
// synchronized; Type.initialize must tolerate concurrent callers.
func (h *Helper) WriteClassInitialize() bool {
	if !NeedsClassInitialize(h.method) {
		return false
	}
	cls := h.method.Declaring
	h.asm.Emit(x86.Push(rtabi.Result))
	h.WriteGetStaticsEntry(rtabi.Result, cls.StaticsIndex)
	h.writeClassInitialize(rtabi.Result, cls)
	h.asm.Emit(x86.Pop(rtabi.Result))
	return true
}

// writeClassInitialize tests the state of cls, held in classReg, and calls
// its initializer subroutine when it is not yet initialized.
func (h *Helper) writeClassInitialize(classReg x86.Reg, cls *classmgr.Type) {
	h.classInitGuards++
	done := h.GenLabel("$$done-cinit-" + cls.Name + "-" + strconv.Itoa(h.classInitGuards))
	h.asm.Emit(x86.TestMemImm(x86.Ptr(classReg, h.ctx.TypeState), rtabi.TypeStateInitialized))
	h.asm.Jcc(x86.CondNZ, done)

	initializer, ok := h.classInitLabels[cls]
	if !ok {
		initializer = h.GenLabel("$$init-" + cls.Name)
		h.classInitLabels[cls] = initializer
		h.classInitOrder = append(h.classInitOrder, cls)
	}
	h.asm.Call(initializer)
	h.asm.Bind(done)
}

// WriteClassInitializers writes the initializer subroutines called by the
// class initialization guards of this method.
func (h *Helper) WriteClassInitializers() {
	for _, cls := range h.classInitOrder {
		h.asm.Bind(h.classInitLabels[cls])
		h.asm.Emit(x86.Pusha())
		h.WriteGetStaticsEntry(rtabi.Result, cls.StaticsIndex)
		h.asm.Emit(x86.Push(rtabi.Result))
		h.InvokeMethod(h.ctx.TypeInitialize())
		h.asm.Emit(x86.Popa(), x86.Ret(0))
	}
	h.classInitOrder = nil
}

// WriteIncInvocationCount increments the invocation counter of the method
// referenced by methodReg.
func (h *Helper) WriteIncInvocationCount(methodReg x86.Reg) {
	h.asm.Emit(x86.IncMem(x86.Ptr(methodReg, h.ctx.MethodInvocationCount)))
}

// WriteStackOverflowTest writes the stack overflow guard.
//
//	cmp esp, fs:[stackEnd]
//	jg done
//	int 0x31
//	done:
func (h *Helper) WriteStackOverflowTest() {
	done := h.GenLabel("$$stackof-done")
	h.asm.Emit(x86.CmpRegMem(rtabi.SP, x86.Abs(uint32(h.ctx.ProcessorStackEnd)).In(rtabi.ProcessorSegment)))
	h.asm.Jcc(x86.CondG, done)
	h.asm.Emit(x86.Int(rtabi.IntStackOverflow))
	h.asm.Bind(done)
}

// WriteLoadStatics loads the shared statics table of the current processor
// into the statics register. The test-only variant asserts that the
// register already holds the table, and is only written in debug sessions.
func (h *Helper) WriteLoadStatics(curInstrLabel *x86.Label, labelPrefix string, testOnly bool) {
	ofs := h.ctx.ProcessorSharedStatics
	if testOnly {
		if !h.debug {
			return
		}
		ok := x86.NewLabel(curInstrLabel.Name() + labelPrefix + "$$ediok")
		h.asm.Emit(x86.CmpRegMem(rtabi.Statics, x86.Abs(uint32(ofs)).In(rtabi.ProcessorSegment)))
		h.asm.Jcc(x86.CondE, ok)
		h.asm.Emit(x86.Int(rtabi.IntStaticsCheck))
		h.asm.Bind(ok)
		return
	}
	h.asm.Emit(
		x86.Xor(rtabi.Statics, rtabi.Statics),
		x86.Load(rtabi.Statics, x86.Ptr(rtabi.Statics, ofs).In(rtabi.ProcessorSegment)),
	)
}

// WriteGetConstantPoolEntry loads entry index of the constant pool of the
// declaring class of the method referenced by methodReg into dst.
func (h *Helper) WriteGetConstantPoolEntry(dst, methodReg x86.Reg, index int) {
	h.asm.Emit(
		x86.Load(dst, x86.Ptr(methodReg, h.ctx.MethodDeclaringClass)),
		x86.Load(dst, x86.Ptr(dst, h.ctx.TypeConstantPool)),
		x86.Load(dst, x86.Ptr(dst, h.ctx.CPEntries)),
		x86.Load(dst, x86.Ptr(dst, int32(rtabi.ArrayDataOffset+index*rtabi.SlotSize))),
	)
}

// SharedStaticsOffset returns the offset of a shared statics slot from the
// statics register.
func (h *Helper) SharedStaticsOffset(index int) int32 {
	if index < 0 {
		x86.Bugf("negative shared statics index %d", index)
	}
	return classmgr.Offset(index)
}

// WriteGetStaticsEntry loads shared statics slot index into dst.
func (h *Helper) WriteGetStaticsEntry(dst x86.Reg, index int) {
	h.asm.Emit(x86.Load(dst, x86.Ptr(rtabi.Statics, h.SharedStaticsOffset(index))))
}

// WritePutStaticsEntry stores src into shared statics slot index.
func (h *Helper) WritePutStaticsEntry(src x86.Reg, index int) {
	h.asm.Emit(x86.Store(x86.Ptr(rtabi.Statics, h.SharedStaticsOffset(index)), src))
}

// WritePushStaticsEntry pushes shared statics slot index.
func (h *Helper) WritePushStaticsEntry(index int) {
	h.asm.Emit(x86.PushMem(x86.Ptr(rtabi.Statics, h.SharedStaticsOffset(index))))
}

// NeedsWriteBarrier reports whether reference stores call a write barrier.
func (h *Helper) NeedsWriteBarrier() bool {
	return h.ctx.HasWriteBarrier()
}

func (h *Helper) pushWriteBarrier(scratch x86.Reg) {
	h.asm.Emit(x86.MovSym(scratch, rtabi.SymWriteBarrier, 0), x86.Push(scratch))
}

// WriteArrayStoreWriteBarrier calls the array store barrier for a store of
// a value of kind k.
func (h *Helper) WriteArrayStoreWriteBarrier(k rtabi.Kind, refReg, indexReg, valueReg, scratch x86.Reg) {
	if k != rtabi.Reference || !h.NeedsWriteBarrier() {
		return
	}
	h.pushWriteBarrier(scratch)
	h.asm.Emit(x86.Push(refReg), x86.Push(indexReg), x86.Push(valueReg))
	h.InvokeMethod(h.ctx.ArrayStoreWriteBarrier())
}

// WritePutfieldWriteBarrier calls the putfield barrier for a store into
// field of the object in refReg.
func (h *Helper) WritePutfieldWriteBarrier(field *classmgr.Field, refReg, valueReg, scratch x86.Reg) {
	if !field.IsObjectRef() || !h.NeedsWriteBarrier() {
		return
	}
	h.pushWriteBarrier(scratch)
	h.asm.Emit(x86.Push(refReg), x86.PushImm(field.Offset), x86.Push(valueReg))
	h.InvokeMethod(h.ctx.PutfieldWriteBarrier())
}

// WritePutstaticWriteBarrier calls the putstatic barrier for a store into
// the static field.
func (h *Helper) WritePutstaticWriteBarrier(field *classmgr.Field, valueReg, scratch x86.Reg) {
	if !field.IsObjectRef() || !h.NeedsWriteBarrier() {
		return
	}
	h.pushWriteBarrier(scratch)
	// Shared statics only.
	h.asm.Emit(x86.PushImm(1), x86.PushImm(int32(field.StaticsIndex)), x86.Push(valueReg))
	h.InvokeMethod(h.ctx.PutstaticWriteBarrier())
}
