// Package imt builds and compiles interface method tables: fixed-size hash
// tables mapping interface selectors to the implementing methods of a
// class.
package imt

import (
	"fmt"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/rtabi"
)

// Slot is one hash slot of an IMT.
type Slot struct {
	// Methods holds the candidates of the slot, in dispatch order.
	Methods []*classmgr.Method
	// Collision marks a bucket: a slot dispatched by comparing selectors.
	Collision bool
}

// IsEmpty reports whether the slot has no method.
func (s Slot) IsEmpty() bool { return len(s.Methods) == 0 }

// SlotSet is the complete interface dispatch table of a class.
type SlotSet struct {
	slots []Slot
}

// NewSlotSet returns the slot set of entries, where entry i is empty, a
// single method or, when collisions[i] is set, a bucket of methods with
// pairwise distinct selectors.
func NewSlotSet(entries [][]*classmgr.Method, collisions []bool) (*SlotSet, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("imt: empty table")
	}
	if len(entries) != len(collisions) {
		return nil, fmt.Errorf("imt: %d slots but %d collision flags", len(entries), len(collisions))
	}
	s := &SlotSet{slots: make([]Slot, len(entries))}
	for i, ms := range entries {
		if len(ms) > 1 && !collisions[i] {
			return nil, fmt.Errorf("imt: slot %d holds %d methods but is not a collision", i, len(ms))
		}
		if collisions[i] && len(ms) == 0 {
			return nil, fmt.Errorf("imt: collision slot %d is empty", i)
		}
		seen := make(map[uint32]*classmgr.Method, len(ms))
		for _, m := range ms {
			if m == nil {
				return nil, fmt.Errorf("imt: slot %d holds a nil method", i)
			}
			if m.StaticsIndex < 0 {
				return nil, fmt.Errorf("imt: %s has no statics slot", m)
			}
			if prev, dup := seen[m.Selector]; dup {
				return nil, fmt.Errorf("imt: slot %d: %s and %s share selector %d", i, prev, m, m.Selector)
			}
			seen[m.Selector] = m
		}
		s.slots[i] = Slot{Methods: append([]*classmgr.Method(nil), ms...), Collision: collisions[i]}
	}
	return s, nil
}

// Len returns the number of hash slots.
func (s *SlotSet) Len() int { return len(s.slots) }

// Slot returns slot i.
func (s *SlotSet) Slot(i int) Slot { return s.slots[i] }

// Builder collects the interface methods implemented by a class.
type Builder struct {
	slots [][]*classmgr.Method
	added map[uint32]*classmgr.Method
}

// NewBuilder returns a builder for a table of length slots. A length of
// zero selects rtabi.IMTLength.
func NewBuilder(length int) (*Builder, error) {
	if length == 0 {
		length = rtabi.IMTLength
	}
	if length < 0 {
		return nil, fmt.Errorf("imt: negative table length %d", length)
	}
	return &Builder{
		slots: make([][]*classmgr.Method, length),
		added: make(map[uint32]*classmgr.Method),
	}, nil
}

// Len returns the number of hash slots.
func (b *Builder) Len() int { return len(b.slots) }

// Index returns the slot of a selector.
func (b *Builder) Index(selector uint32) int {
	return SlotIndex(selector, len(b.slots))
}

// SlotIndex returns the slot of a selector in a table of length slots.
func SlotIndex(selector uint32, length int) int {
	return int(selector % uint32(length))
}

// Add adds the implementation m of its selector and reports whether it
// was added. The first implementation of a selector wins; later ones are
// hidden by it and ignored.
func (b *Builder) Add(m *classmgr.Method) bool {
	if _, ok := b.added[m.Selector]; ok {
		return false
	}
	b.added[m.Selector] = m
	i := b.Index(m.Selector)
	b.slots[i] = append(b.slots[i], m)
	return true
}

// Lookup returns the method added for selector.
func (b *Builder) Lookup(selector uint32) (*classmgr.Method, bool) {
	m, ok := b.added[selector]
	return m, ok
}

// SlotSet returns the slot set of the methods added so far.
func (b *Builder) SlotSet() *SlotSet {
	s := &SlotSet{slots: make([]Slot, len(b.slots))}
	for i, ms := range b.slots {
		s.slots[i] = Slot{Methods: append([]*classmgr.Method(nil), ms...), Collision: len(ms) > 1}
	}
	return s
}
