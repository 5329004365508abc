package compiler

import (
	"fmt"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/jumptable"
	"github.com/jnode/jnode-sub032/internal/rtabi"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// Frame is the stack frame of the method being compiled, as seen by a
// Body. It embeds the emission helper of the session.
//
// Frame layout after the prologue, growing down:
//
//	[ebp+8+4*(n-1-i)]  argument i of n
//	[ebp+4]            return address
//	[ebp]              saved ebp
//	[ebp-4-4*j]        local j
type Frame struct {
	*Helper

	start  *x86.Label
	end    *x86.Label
	footer *x86.Label

	argSlots int
}

func newFrame(h *Helper) *Frame {
	m := h.Method()
	n, err := h.Context().Sizes.ArgSlotCount(m.Signature, m.IsStatic())
	if err != nil {
		x86.Bugf("%s: %v", m, err)
	}
	return &Frame{
		Helper:   h,
		start:    h.GenLabel("$$start"),
		end:      h.GenLabel("$$end"),
		footer:   h.GenLabel("$$footer"),
		argSlots: n,
	}
}

// ArgSlots returns the number of stack slots taken by the arguments.
func (f *Frame) ArgSlots() int { return f.argSlots }

// ReturnLabel returns the label of the method epilogue. The return value,
// if any, is expected in the result registers.
func (f *Frame) ReturnLabel() *x86.Label { return f.footer }

// WriteReturn jumps to the method epilogue.
func (f *Frame) WriteReturn() {
	f.Asm().Jmp(f.footer)
}

// SlotOffset returns the frame pointer relative offset of the argument or
// local variable in stack slot index.
func (f *Frame) SlotOffset(index int) int32 {
	if index < 0 {
		x86.Bugf("negative stack slot %d", index)
	}
	if index < f.argSlots {
		return int32((f.argSlots - index + 1) * rtabi.SlotSize)
	}
	return -int32((index - f.argSlots + 1) * rtabi.SlotSize)
}

// Strategy compiles concrete methods at one level. The set of strategies
// is closed; use StrategyFor to select one.
type Strategy interface {
	Level() classmgr.Level
	emit(f *Frame, body Body) error
}

var strategies = [classmgr.NumLevels]Strategy{
	classmgr.LevelStub:       stubStrategy{},
	classmgr.LevelBaseline:   frameStrategy{level: classmgr.LevelBaseline, countInvocations: true},
	classmgr.LevelOptimizing: frameStrategy{level: classmgr.LevelOptimizing},
}

// StrategyFor returns the strategy of a level.
func StrategyFor(l classmgr.Level) (Strategy, error) {
	if l >= classmgr.NumLevels {
		return nil, fmt.Errorf("unknown compilation level %d", l)
	}
	return strategies[l], nil
}

// writeGuards writes the part of the prologue shared by every level.
func writeGuards(f *Frame) {
	f.Asm().Bind(f.start)
	f.WriteStackOverflowTest()
	f.WriteLoadStatics(f.start, "init", false)
	f.WriteClassInitialize()
}

// stubStrategy compiles a trampoline into the generic invoke entry, which
// compiles the method on first use. The method reference is passed in the
// result register.
type stubStrategy struct{}

func (stubStrategy) Level() classmgr.Level { return classmgr.LevelStub }

func (stubStrategy) emit(f *Frame, _ Body) error {
	writeGuards(f)
	f.Asm().Emit(x86.MovSym(rtabi.Result, f.Method().Symbol(), 0))
	f.WriteJumpTableJump(jumptable.Invoke)
	f.WriteClassInitializers()
	f.Asm().Bind(f.end)
	return nil
}

// frameStrategy compiles a method with a full stack frame around a lowered
// body.
type frameStrategy struct {
	level            classmgr.Level
	countInvocations bool
}

func (s frameStrategy) Level() classmgr.Level { return s.level }

func (s frameStrategy) emit(f *Frame, body Body) error {
	asm := f.Asm()
	locals := body.Locals()
	if locals < 0 {
		return fmt.Errorf("negative local count %d", locals)
	}
	retBytes := f.argSlots * rtabi.SlotSize
	if retBytes > 0xffff {
		return fmt.Errorf("%d argument slots do not fit a return", f.argSlots)
	}

	writeGuards(f)
	if s.countInvocations {
		// Interface dispatch enters with the receiver in the result
		// register, so the method is loaded by symbol.
		asm.Emit(x86.MovSym(rtabi.Scratch0, f.Method().Symbol(), 0))
		f.WriteIncInvocationCount(rtabi.Scratch0)
	}
	asm.Emit(x86.Push(rtabi.BP), x86.MovReg(rtabi.BP, rtabi.SP))
	if locals > 0 {
		asm.Emit(x86.Xor(rtabi.Scratch0, rtabi.Scratch0))
		for i := 0; i < locals; i++ {
			asm.Emit(x86.Push(rtabi.Scratch0))
		}
	}
	f.writeMonitorCall(f.Context().MonitorEnter())
	f.WriteYieldPoint(f.start)

	if err := body.Lower(f); err != nil {
		return fmt.Errorf("lower body: %w", err)
	}

	asm.Bind(f.footer)
	f.writeMonitorCall(f.Context().MonitorExit())
	asm.Emit(x86.MovReg(rtabi.SP, rtabi.BP), x86.Pop(rtabi.BP), x86.Ret(uint16(retBytes)))

	// Unwind and rethrow the exception in the result register.
	asm.Bind(f.GenLabel("$$def-ex-handler"))
	f.writeMonitorCall(f.Context().MonitorExit())
	asm.Emit(x86.MovReg(rtabi.SP, rtabi.BP), x86.Pop(rtabi.BP))
	f.WriteJumpTableJump(jumptable.AThrowNoTrace)

	f.WriteClassInitializers()
	asm.Bind(f.end)
	return nil
}

// writeMonitorCall calls monitor on the lock of a synchronized method: the
// declaring type of a static method, else this. The result registers
// survive the call.
func (f *Frame) writeMonitorCall(monitor *classmgr.Method) {
	m := f.Method()
	if !m.IsSynchronized() {
		return
	}
	asm := f.Asm()
	asm.Emit(x86.Push(rtabi.Result), x86.Push(rtabi.ResultHigh))
	if m.IsStatic() {
		f.WritePushStaticsEntry(m.Declaring.StaticsIndex)
	} else {
		asm.Emit(x86.PushMem(x86.Ptr(rtabi.BP, f.SlotOffset(0))))
	}
	f.InvokeMethod(monitor)
	asm.Emit(x86.Pop(rtabi.ResultHigh), x86.Pop(rtabi.Result))
}
