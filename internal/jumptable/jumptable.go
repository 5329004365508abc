// Package jumptable describes the system jump table: a small fixed table of
// runtime entry points that generated code calls through.
//
// The table is addressed in one of two ways, chosen once per compilation
// session. While the boot image is built the table is referenced through
// the linker symbol rtabi.SymJumpTable. Inside the running system it is
// already resident and referenced by its absolute address.
package jumptable

import (
	"fmt"

	"github.com/jnode/jnode-sub032/internal/rtabi"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// Entry is an entry of the jump table. The order is fixed; the boot image
// places entry i at byte offset i*rtabi.SlotSize.
type Entry uint8

const (
	Invoke Entry = iota
	AThrow
	AThrowNoTrace
	Interpreter
	InvokeAbstract

	NumEntries
)

var entries = [NumEntries]struct {
	name   string
	target string
}{
	Invoke:         {"invoke", "vm_invoke"},
	AThrow:         {"athrow", "vm_athrow"},
	AThrowNoTrace:  {"athrow_notrace", "vm_athrow_notrace"},
	Interpreter:    {"interpreter", "vm_interpreter"},
	InvokeAbstract: {"invoke_abstract", "vm_invoke_abstract"},
}

func (e Entry) valid() bool { return e < NumEntries }

// String implements fmt.Stringer.
func (e Entry) String() string {
	if e.valid() {
		return entries[e].name
	}
	return fmt.Sprintf("entry?%d", uint8(e))
}

// Offset returns the byte offset of the entry within the table.
func (e Entry) Offset() int32 {
	if !e.valid() {
		x86.Bugf("invalid jump table entry %d", e)
	}
	return int32(e) * rtabi.SlotSize
}

// Target returns the symbol of the kernel routine the entry points to.
func (e Entry) Target() string {
	if !e.valid() {
		x86.Bugf("invalid jump table entry %d", e)
	}
	return entries[e].target
}

// Image assembles the table itself: one absolute address per entry,
// relocated against the entry targets. The table is labelled with
// rtabi.SymJumpTable.
func Image() *x86.Object {
	a := x86.NewAssembler()
	a.Bind(x86.NewLabel(rtabi.SymJumpTable))
	for e := Entry(0); e < NumEntries; e++ {
		a.Emit(x86.Word(e.Target(), 0))
	}
	return a.Finish()
}
