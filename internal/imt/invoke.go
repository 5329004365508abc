package imt

import (
	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/compiler"
	"github.com/jnode/jnode-sub032/internal/rtabi"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// WriteInvokeInterface writes an invokeinterface of method on the receiver
// in the result register, through compiled IMTs of length slots. Arguments
// are already on the stack; the return value is left in the result
// registers.
//
//	mov edx, selector
//	mov ecx, [eax+tib]
//	mov ecx, [ecx+compiledIMT]
//	lea ecx, [ecx+slot*8]
//	call ecx
func WriteInvokeInterface(h *compiler.Helper, method *classmgr.Method, length int) {
	if length <= 0 {
		x86.Bugf("invokeinterface %s: imt length %d", method, length)
	}
	ctx := h.Context()
	slot := SlotIndex(method.Selector, length)
	h.Asm().Emit(
		x86.MovImm(rtabi.Selector, method.Selector),
		x86.Load(rtabi.Scratch0, x86.Ptr(rtabi.Result, ctx.ObjectTIB)),
		x86.Load(rtabi.Scratch0, x86.Ptr(rtabi.Scratch0, ctx.TIBCompiledIMT)),
		x86.Lea(rtabi.Scratch0, x86.Ptr(rtabi.Scratch0, int32(slot*EntrySize))),
		x86.CallReg(rtabi.Scratch0),
	)
}
