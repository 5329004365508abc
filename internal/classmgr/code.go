package classmgr

import (
	"fmt"
	"sync"

	"github.com/jnode/jnode-sub032/internal/x86"
)

// Level is an optimization level. Levels are independent: a method may be
// compiled at several levels at once.
type Level uint8

const (
	LevelStub Level = iota
	LevelBaseline
	LevelOptimizing

	NumLevels
)

var levelNames = [...]string{"stub", "baseline", "optimizing"}

// String implements fmt.Stringer.
func (l Level) String() string {
	if l < NumLevels {
		return levelNames[l]
	}
	return fmt.Sprintf("level?%d", uint8(l))
}

// ParseLevel parses the name of a level.
func ParseLevel(s string) (Level, error) {
	for i, n := range levelNames {
		if n == s {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown compilation level %q", s)
}

// State is the compilation state of one level of a method.
type State uint8

const (
	Uncompiled State = iota
	Compiling
	Compiled
)

func (s State) String() string {
	switch s {
	case Uncompiled:
		return "UNCOMPILED"
	case Compiling:
		return "COMPILING"
	case Compiled:
		return "COMPILED"
	}
	return fmt.Sprintf("state?%d", uint8(s))
}

// CompiledMethod is an immutable record of one compiled version of a
// method.
type CompiledMethod struct {
	Method *Method
	Level  Level

	// Object holds the relocatable code. It is nil when no code was
	// emitted for the method.
	Object *x86.Object

	// Start and End are the offsets of the method's start and end labels
	// within Object.
	Start, End int

	// NativeCode is the resident entry point of methods that were bound
	// to existing code instead of being compiled.
	NativeCode uint32
}

// Size returns the number of code bytes between the start and end labels.
func (c *CompiledMethod) Size() int {
	if c.Object == nil {
		return 0
	}
	return c.End - c.Start
}

// IsResident reports whether the method was bound to resident code.
func (c *CompiledMethod) IsResident() bool {
	return c.Object == nil
}

// CodeTable records the compilation state of a method per level. The zero
// value is ready to use. A level that reached Compiled is never demoted.
type CodeTable struct {
	mu     sync.Mutex
	states [NumLevels]State
	code   [NumLevels]*CompiledMethod
}

func checkLevel(l Level) {
	if l >= NumLevels {
		x86.Bugf("invalid compilation level %d", l)
	}
}

// State returns the state of level l.
func (t *CodeTable) State(l Level) State {
	checkLevel(l)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[l]
}

// Get returns the compiled code of level l, or nil.
func (t *CodeTable) Get(l Level) *CompiledMethod {
	checkLevel(l)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code[l]
}

// Best returns the compiled code of the highest compiled level, or nil.
func (t *CodeTable) Best() *CompiledMethod {
	t.mu.Lock()
	defer t.mu.Unlock()
	for l := NumLevels; l > 0; l-- {
		if c := t.code[l-1]; c != nil {
			return c
		}
	}
	return nil
}

// Begin moves level l from Uncompiled to Compiling. It reports false and
// returns the current state if the level is not Uncompiled.
func (t *CodeTable) Begin(l Level) (State, bool) {
	checkLevel(l)
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.states[l]; s != Uncompiled {
		return s, false
	}
	t.states[l] = Compiling
	return Compiling, true
}

// Publish moves the level of c from Compiling to Compiled.
func (t *CodeTable) Publish(c *CompiledMethod) {
	checkLevel(c.Level)
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.states[c.Level]; s != Compiling {
		x86.Bugf("publish %s at level %s in state %s", c.Method, c.Level, s)
	}
	t.states[c.Level] = Compiled
	t.code[c.Level] = c
}

// Abort moves level l from Compiling back to Uncompiled.
func (t *CodeTable) Abort(l Level) {
	checkLevel(l)
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.states[l]; s != Compiling {
		x86.Bugf("abort level %s in state %s", l, s)
	}
	t.states[l] = Uncompiled
}
