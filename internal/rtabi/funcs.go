// Package rtabi defines the ABI constants shared between the compiler and runtime.
package rtabi

// Runtime symbols resolved by the boot image linker
const (
	// SymJumpTable is the first entry of the system jump table.
	SymJumpTable = "vm_jumpTable"

	// SymWriteBarrier is the active write barrier object.
	SymWriteBarrier = "vm_writeBarrier"

	// SymMethodPrefix prefixes the symbol of a method object.
	SymMethodPrefix = "method:"

	// SymTypePrefix prefixes the symbol of a type object.
	SymTypePrefix = "type:"
)

// Interrupt vectors raised by generated code
const (
	// IntYieldPoint transfers control to the scheduler.
	IntYieldPoint = 0x30

	// IntStackOverflow reports a stack overflow.
	IntStackOverflow = 0x31

	// IntAbstractMethod reports a call to an unimplemented interface or
	// abstract method.
	IntAbstractMethod = 0x32

	// IntStaticsCheck reports a statics register that does not match the
	// processor's statics table (debug builds only).
	IntStaticsCheck = 0x88
)

// Thread switch indicator flags of a processor
const (
	// TSISwitchNeeded indicates that a thread switch is needed.
	TSISwitchNeeded = 0x0001

	// TSISystemReady indicates that the system is ready for thread switching.
	TSISystemReady = 0x0002

	// TSISwitchActive indicates that a thread switch is in progress.
	TSISwitchActive = 0x0004

	// TSIBlockSwitch indicates that a thread switch cannot occur.
	TSIBlockSwitch = 0x0008

	// TSISwitchRequested is the exact value that makes a yield point fire.
	TSISwitchRequested = TSISwitchNeeded | TSISystemReady
)

// Type state bits
const (
	// TypeStateInitialized is set once a type's initializer has run.
	TypeStateInitialized = 0x0010
)
