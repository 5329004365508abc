package jumptable

import (
	"encoding/binary"
	"fmt"

	"github.com/jnode/jnode-sub032/internal/x86"
)

// Mode is the addressing mode of the jump table. It is either Bootstrap
// or Resident.
type Mode interface {
	operand(off int32) x86.Mem
	fmt.Stringer
}

// Bootstrap addresses the table through a linker symbol while the boot
// image is built.
type Bootstrap struct {
	Symbol string
}

func (b Bootstrap) operand(off int32) x86.Mem {
	return x86.SymAbs(b.Symbol, off)
}

func (b Bootstrap) String() string {
	return "bootstrap(" + b.Symbol + ")"
}

// Memory reads 32-bit words of the running system.
type Memory interface {
	ReadWord(addr uint32) (uint32, error)
}

// Resident addresses the table at its live address.
type Resident struct {
	Base   uint32
	Memory Memory
}

func (r Resident) operand(off int32) x86.Mem {
	return x86.Abs(r.Base + uint32(off))
}

func (r Resident) String() string {
	return fmt.Sprintf("resident(%#x)", r.Base)
}

// Handle is the jump table as seen by one compilation session.
type Handle struct {
	mode Mode
}

// NewHandle returns a handle for the given mode.
func NewHandle(mode Mode) Handle {
	switch mode.(type) {
	case Bootstrap, Resident:
	default:
		x86.Bugf("unknown jump table mode %T", mode)
	}
	return Handle{mode: mode}
}

// Mode returns the addressing mode.
func (h Handle) Mode() Mode { return h.mode }

// IsBootstrap reports whether the handle addresses the table symbolically.
func (h Handle) IsBootstrap() bool {
	_, ok := h.mode.(Bootstrap)
	return ok
}

// Operand returns the memory operand of entry e.
func (h Handle) Operand(e Entry) x86.Mem {
	if h.mode == nil {
		x86.Bugf("jump table handle without mode")
	}
	return h.mode.operand(e.Offset())
}

// EntryPoint reads the address stored in entry e of a resident table.
func (h Handle) EntryPoint(e Entry) (uint32, error) {
	r, ok := h.mode.(Resident)
	if !ok {
		return 0, fmt.Errorf("jump table entry %s: table is not resident", e)
	}
	if r.Memory == nil {
		return 0, fmt.Errorf("jump table entry %s: no memory reader", e)
	}
	addr, err := r.Memory.ReadWord(r.Base + uint32(e.Offset()))
	if err != nil {
		return 0, fmt.Errorf("jump table entry %s: %w", e, err)
	}
	return addr, nil
}

// TrapAddress returns the entry point of the abstract method trap.
func (h Handle) TrapAddress() (uint32, error) {
	return h.EntryPoint(InvokeAbstract)
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	if h.mode == nil {
		return "jumptable(<nil>)"
	}
	return "jumptable(" + h.mode.String() + ")"
}

// MapMemory is a Memory backed by a map, for tests and tools.
type MapMemory map[uint32]uint32

// ReadWord implements Memory.
func (m MapMemory) ReadWord(addr uint32) (uint32, error) {
	v, ok := m[addr]
	if !ok {
		return 0, fmt.Errorf("address %#x not mapped", addr)
	}
	return v, nil
}

// Load returns a MapMemory holding a linked table at base.
func Load(base uint32, table []byte) MapMemory {
	m := make(MapMemory)
	for i := 0; i+4 <= len(table); i += 4 {
		m[base+uint32(i)] = binary.LittleEndian.Uint32(table[i:])
	}
	return m
}
