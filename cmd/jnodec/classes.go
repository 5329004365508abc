package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/compiler"
	"github.com/jnode/jnode-sub032/internal/imt"
	"github.com/jnode/jnode-sub032/internal/layout"
	"github.com/jnode/jnode-sub032/internal/rtabi"
	"github.com/jnode/jnode-sub032/internal/x86"
)

// classFile is a YAML description of the classes to compile.
type classFile struct {
	Classes []classDesc `yaml:"classes"`
}

type classDesc struct {
	Name        string       `yaml:"name"`
	Initialized bool         `yaml:"initialized"`
	Methods     []methodDesc `yaml:"methods"`
}

type methodDesc struct {
	Name      string   `yaml:"name"`
	Signature string   `yaml:"signature"`
	Modifiers []string `yaml:"modifiers"`
	Locals    int      `yaml:"locals"`
	Yield     bool     `yaml:"yield"`

	// Result is the constant returned by the body.
	Result int64 `yaml:"result"`

	// Calls and InterfaceCalls name the methods the body invokes, as
	// Class.name(signature).
	Calls          []string `yaml:"calls"`
	InterfaceCalls []string `yaml:"interface_calls"`
}

var modifierNames = map[string]classmgr.Modifiers{
	"static":       classmgr.Static,
	"abstract":     classmgr.Abstract,
	"native":       classmgr.Native,
	"synchronized": classmgr.Synchronized,
}

// universe is the class world of one description file.
type universe struct {
	selectors classmgr.SelectorMap
	statics   classmgr.Statics
	ctx       *layout.Context

	classes []*classmgr.Type
	methods []*classmgr.Method
	byClass map[string][]*classmgr.Method
	byName  map[string]*classmgr.Method
	bodies  map[*classmgr.Method]*constBody
}

func readClassFile(path string) (*classFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f classFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("%s: no classes", path)
	}
	return &f, nil
}

// load declares the classes of f. All errors of the file are reported.
func load(f *classFile, cfg layout.Config, imtLength int) (*universe, error) {
	u := &universe{
		byClass: make(map[string][]*classmgr.Method),
		byName:  make(map[string]*classmgr.Method),
		bodies:  make(map[*classmgr.Method]*constBody),
	}
	var err error
	u.ctx, err = layout.New(cfg, &u.selectors, &u.statics)
	if err != nil {
		return nil, err
	}

	var merr *multierror.Error
	descs := make(map[*classmgr.Method]methodDesc)
	for _, cd := range f.Classes {
		if cd.Name == "" {
			merr = multierror.Append(merr, fmt.Errorf("class without a name"))
			continue
		}
		if _, dup := u.byClass[cd.Name]; dup {
			merr = multierror.Append(merr, fmt.Errorf("class %s declared twice", cd.Name))
			continue
		}
		typ := classmgr.NewType(cd.Name, &u.statics)
		if cd.Initialized {
			typ.SetInitialized()
		}
		u.classes = append(u.classes, typ)
		u.byClass[cd.Name] = nil

		for _, md := range cd.Methods {
			m, err := declare(u, typ, md)
			if err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			descs[m] = md
		}
	}

	// Calls may refer to methods declared later in the file.
	for _, m := range u.methods {
		body, err := u.newBody(m, descs[m], imtLength)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		u.bodies[m] = body
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return u, nil
}

func declare(u *universe, typ *classmgr.Type, md methodDesc) (*classmgr.Method, error) {
	var mods classmgr.Modifiers
	for _, name := range md.Modifiers {
		mod, ok := modifierNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("%s.%s: unknown modifier %q", typ.Name, md.Name, name)
		}
		mods |= mod
	}
	spec := classmgr.MethodSpec{Name: md.Name, Signature: md.Signature, Modifiers: mods}
	if md.Yield {
		spec.ThreadSwitchMask = rtabi.TSISwitchNeeded
	}
	m, err := classmgr.NewMethod(typ, spec, &u.selectors, &u.statics)
	if err != nil {
		return nil, err
	}
	if _, dup := u.byName[m.FullName()]; dup {
		return nil, fmt.Errorf("method %s declared twice", m.FullName())
	}
	u.methods = append(u.methods, m)
	u.byClass[typ.Name] = append(u.byClass[typ.Name], m)
	u.byName[m.FullName()] = m
	return m, nil
}

func (u *universe) lookup(name string) (*classmgr.Method, error) {
	m, ok := u.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", name)
	}
	return m, nil
}

func (u *universe) newBody(m *classmgr.Method, md methodDesc, imtLength int) (*constBody, error) {
	b := &constBody{locals: md.Locals, result: md.Result, imtLength: imtLength}
	for _, name := range md.Calls {
		callee, err := u.lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		if !callee.IsStatic() && m.IsStatic() {
			return nil, fmt.Errorf("%s: no receiver for instance method %s", m, callee)
		}
		b.calls = append(b.calls, callee)
	}
	for _, name := range md.InterfaceCalls {
		callee, err := u.lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		if callee.IsStatic() {
			return nil, fmt.Errorf("%s: interface call of static method %s", m, callee)
		}
		if m.IsStatic() {
			return nil, fmt.Errorf("%s: no receiver for instance method %s", m, callee)
		}
		b.interfaceCalls = append(b.interfaceCalls, callee)
	}
	return b, nil
}

// constBody is a method body that calls other methods and then returns a
// constant. Calls pass this as the receiver and zero for every other
// argument.
type constBody struct {
	locals         int
	result         int64
	imtLength      int
	calls          []*classmgr.Method
	interfaceCalls []*classmgr.Method
}

func (b *constBody) Locals() int { return b.locals }

func (b *constBody) Lower(f *compiler.Frame) error {
	asm := f.Asm()
	for _, m := range b.calls {
		if err := pushArgs(f, m); err != nil {
			return err
		}
		f.InvokeMethod(m)
		// The result is unused.
		for range returnSlots(m.ReturnKind()) {
			asm.Emit(x86.Pop(rtabi.Scratch0))
		}
	}
	for _, m := range b.interfaceCalls {
		if err := pushArgs(f, m); err != nil {
			return err
		}
		asm.Emit(x86.Load(rtabi.Result, x86.Ptr(rtabi.BP, f.SlotOffset(0))))
		imt.WriteInvokeInterface(f.Helper, m, b.imtLength)
	}

	k := f.Method().ReturnKind()
	switch {
	case k == rtabi.Void:
	case k.IsWide():
		asm.Emit(
			x86.MovImm(rtabi.Result, uint32(b.result)),
			x86.MovImm(rtabi.ResultHigh, uint32(b.result>>32)),
		)
	default:
		asm.Emit(x86.MovImm(rtabi.Result, uint32(b.result)))
	}
	f.WriteReturn()
	return nil
}

// pushArgs pushes the argument slots of a call of m, first to last.
func pushArgs(f *compiler.Frame, m *classmgr.Method) error {
	n, err := f.Context().Sizes.ArgSlotCount(m.Signature, m.IsStatic())
	if err != nil {
		return fmt.Errorf("call %s: %w", m, err)
	}
	asm := f.Asm()
	if !m.IsStatic() {
		asm.Emit(x86.PushMem(x86.Ptr(rtabi.BP, f.SlotOffset(0))))
		n--
	}
	if n > 0 {
		asm.Emit(x86.Xor(rtabi.Scratch0, rtabi.Scratch0))
		for range n {
			asm.Emit(x86.Push(rtabi.Scratch0))
		}
	}
	return nil
}

// returnSlots is the number of slots Helper.InvokeMethod pushes for a
// return value of kind k.
func returnSlots(k rtabi.Kind) int {
	switch {
	case k == rtabi.Void:
		return 0
	case k.IsWide():
		return 2
	}
	return 1
}
