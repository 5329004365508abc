package compiler

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/cpuid"
	"github.com/jnode/jnode-sub032/internal/jumptable"
	"github.com/jnode/jnode-sub032/internal/layout"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// Body lowers the body of a concrete method. Bodies are produced outside
// this package from the method's intermediate representation.
type Body interface {
	// Locals returns the number of local variable slots that are not
	// arguments.
	Locals() int

	// Lower writes the body. It returns from the method by jumping to
	// the label returned by Frame.ReturnLabel.
	Lower(f *Frame) error
}

// Error is a failed compilation of one method at one level.
type Error struct {
	Method *classmgr.Method
	Level  classmgr.Level
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compile %s at level %s: %v", e.Method, e.Level, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrBusy is returned when another compiler is compiling the same method
// at the same level.
var ErrBusy = errors.New("method is being compiled elsewhere")

// Options configures a Compiler.
type Options struct {
	Context   *layout.Context
	JumpTable jumptable.Handle
	Features  cpuid.Features

	// Debug enables the debug-only assertions in generated code.
	Debug bool

	// Statics, when set, receives the native code pointer of methods
	// bound to resident code.
	Statics *classmgr.Statics

	// Logger receives one debug event per compiled method. Nil disables
	// logging.
	Logger *zerolog.Logger
}

// Compiler compiles methods. It is safe for concurrent use; each
// compilation runs in its own session.
type Compiler struct {
	opts  Options
	log   zerolog.Logger
	group singleflight.Group
}

// New returns a compiler. A nil context selects layout.Default.
func New(opts Options) *Compiler {
	if opts.Context == nil {
		opts.Context = layout.Default()
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Compiler{opts: opts, log: log}
}

// IsBootstrap reports whether the compiler builds boot image code.
func (c *Compiler) IsBootstrap() bool {
	return c.opts.JumpTable.IsBootstrap()
}

// Compile compiles m at the given level. Each (method, level) pair is
// compiled once: concurrent callers share one compilation, and later
// callers receive the published result. A failed compilation publishes
// nothing and leaves the level uncompiled.
func (c *Compiler) Compile(m *classmgr.Method, level classmgr.Level, body Body) (*classmgr.CompiledMethod, error) {
	if level >= classmgr.NumLevels {
		return nil, &Error{Method: m, Level: level, Err: fmt.Errorf("unknown level %d", level)}
	}
	key := fmt.Sprintf("%p/%d", m, level)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.compile(m, level, body)
	})
	if err != nil {
		return nil, err
	}
	return v.(*classmgr.CompiledMethod), nil
}

func (c *Compiler) compile(m *classmgr.Method, level classmgr.Level, body Body) (*classmgr.CompiledMethod, error) {
	switch state, ok := m.Code.Begin(level); {
	case ok:
	case state == classmgr.Compiled:
		return m.Code.Get(level), nil
	default:
		return nil, &Error{Method: m, Level: level, Err: ErrBusy}
	}

	// Release the level on every path out, panics in the body included.
	var cm *classmgr.CompiledMethod
	defer func() {
		if cm == nil {
			m.Code.Abort(level)
		}
	}()

	cm, err := c.run(m, level, body)
	if err != nil {
		c.log.Error().Err(err).Str("method", m.FullName()).Stringer("level", level).Msg("compilation failed")
		return nil, &Error{Method: m, Level: level, Err: err}
	}
	m.Code.Publish(cm)

	ev := c.log.Debug().Str("method", m.FullName()).Stringer("level", level)
	if cm.IsResident() {
		ev.Str("native", fmt.Sprintf("%#x", cm.NativeCode)).Msg("bound to resident code")
	} else {
		ev.Int("size", cm.Size()).Msg("compiled method")
	}
	return cm, nil
}

// run is the session boundary: defects raised while emitting code are
// returned as errors here.
func (c *Compiler) run(m *classmgr.Method, level classmgr.Level, body Body) (cm *classmgr.CompiledMethod, err error) {
	defer x86.Recover(&err)

	if m.IsAbstract() {
		return c.compileAbstract(m, level)
	}
	if body == nil && level != classmgr.LevelStub {
		return nil, fmt.Errorf("no body for concrete method")
	}

	asm := x86.NewAssembler()
	f := newFrame(NewHelper(asm, m, HelperConfig{
		Context:   c.opts.Context,
		JumpTable: c.opts.JumpTable,
		Features:  c.opts.Features,
		Debug:     c.opts.Debug,
	}))
	if err := strategies[level].emit(f, body); err != nil {
		return nil, err
	}
	obj := asm.Finish()
	return &classmgr.CompiledMethod{
		Method: m,
		Level:  level,
		Object: obj,
		Start:  f.start.Pos(),
		End:    f.end.Pos(),
	}, nil
}

// compileAbstract compiles a method without code. Inside the boot image
// it is a jump to the abstract method trap. In the running system the
// trap is resident already and the method is bound to it directly.
func (c *Compiler) compileAbstract(m *classmgr.Method, level classmgr.Level) (*classmgr.CompiledMethod, error) {
	if !c.IsBootstrap() {
		trap, err := c.opts.JumpTable.TrapAddress()
		if err != nil {
			return nil, err
		}
		if c.opts.Statics != nil {
			if err := c.opts.Statics.SetMethodCode(m.StaticsIndex, trap); err != nil {
				return nil, err
			}
		}
		return &classmgr.CompiledMethod{Method: m, Level: level, NativeCode: trap}, nil
	}

	asm := x86.NewAssembler()
	h := NewHelper(asm, m, HelperConfig{Context: c.opts.Context, JumpTable: c.opts.JumpTable})
	start, end := h.GenLabel("$$start"), h.GenLabel("$$end")
	asm.Bind(start)
	h.WriteJumpTableJump(jumptable.InvokeAbstract)
	asm.Bind(end)
	return &classmgr.CompiledMethod{
		Method: m,
		Level:  level,
		Object: asm.Finish(),
		Start:  start.Pos(),
		End:    end.Pos(),
	}, nil
}
