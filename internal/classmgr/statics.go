package classmgr

import (
	"fmt"
	"sync"

	"github.com/jnode/jnode-sub032/internal/rtabi"
)

// EntryKind is the type of a shared-statics slot.
type EntryKind uint8

const (
	EntryEmpty EntryKind = iota
	EntryType
	EntryMethodCode
)

// Statics is the shared statics table of a class loader. Slots are
// addressed by index; the table itself is an array object, so a slot lives
// at rtabi.ArrayDataOffset + index*rtabi.SlotSize from the table pointer.
type Statics struct {
	mu    sync.Mutex
	kinds []EntryKind
	words []uint32
}

func (s *Statics) alloc(k EntryKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, k)
	s.words = append(s.words, 0)
	return len(s.kinds) - 1
}

// AllocType allocates a slot for a type object.
func (s *Statics) AllocType() int { return s.alloc(EntryType) }

// AllocMethodCode allocates a slot for the native code pointer of a method.
func (s *Statics) AllocMethodCode() int { return s.alloc(EntryMethodCode) }

// Len returns the number of allocated slots.
func (s *Statics) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kinds)
}

// Kind returns the kind of slot idx.
func (s *Statics) Kind(idx int) EntryKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.kinds) {
		return EntryEmpty
	}
	return s.kinds[idx]
}

// Set stores a word in slot idx.
func (s *Statics) Set(idx int, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.words) {
		return fmt.Errorf("statics index %d out of range", idx)
	}
	s.words[idx] = v
	return nil
}

// SetMethodCode stores the native code pointer of a method.
func (s *Statics) SetMethodCode(idx int, addr uint32) error {
	if k := s.Kind(idx); k != EntryMethodCode {
		return fmt.Errorf("statics index %d is not a method code slot", idx)
	}
	return s.Set(idx, addr)
}

// Get returns the word in slot idx.
func (s *Statics) Get(idx int) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.words) {
		return 0
	}
	return s.words[idx]
}

// Offset returns the byte offset of slot idx from the table pointer.
func Offset(idx int) int32 {
	return int32(rtabi.ArrayDataOffset + idx*rtabi.SlotSize)
}

// IndexOf is the inverse of Offset.
func IndexOf(offset int32) (int, bool) {
	rel := int(offset) - rtabi.ArrayDataOffset
	if rel < 0 || rel%rtabi.SlotSize != 0 {
		return 0, false
	}
	return rel / rtabi.SlotSize, true
}
