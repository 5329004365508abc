// Package rtabi defines the ABI constants shared between the compiler and runtime.
// These values must be kept in sync with the runtime's processor and
// object layouts.
package rtabi

import "github.com/jnode/jnode-sub032/internal/x86"

// Target configuration
const (
	// SlotSize is the size of a stack slot and of a reference in bytes.
	SlotSize = 4

	// AddrBits is the address size of the target.
	AddrBits = 32
)

// Register roles. Compiled code and the runtime agree on these; nothing
// else in the compiler names a physical register directly.
const (
	// Result holds single-slot return values. It carries the method into
	// the invoke jump table entry and the receiver into an IMT; compiled
	// code makes no assumption about it on entry.
	Result = x86.EAX

	// ResultHigh holds the most significant half of wide return values.
	ResultHigh = x86.EDX

	// Scratch0 and Scratch1 are free for short emitted sequences.
	Scratch0 = x86.ECX
	Scratch1 = x86.EBX

	// SP is the stack pointer.
	SP = x86.ESP

	// BP is the frame pointer.
	BP = x86.EBP

	// Statics holds the shared statics table of the current processor.
	Statics = x86.EDI

	// Selector carries the interface selector into an IMT entry.
	Selector = x86.EDX
)

// ProcessorSegment addresses processor-local data.
const ProcessorSegment = x86.FS

// Array layout
const (
	// ArrayHeaderSlots is the number of slots before the first element of
	// an array object (type, flags, length).
	ArrayHeaderSlots = 3

	// ArrayDataOffset is the byte offset of element 0 of an array.
	ArrayDataOffset = ArrayHeaderSlots * SlotSize
)

// IMT layout
const (
	// IMTLength is the default number of hash slots of an interface method table.
	IMTLength = 64

	// IMTEntrySize is the fixed byte size of one IMT dispatch entry.
	IMTEntrySize = 8
)
