// Package classmgr holds the class and method metadata consumed by the
// native compiler, and the per-level records of compiled code.
package classmgr

import (
	"fmt"
	"sync/atomic"

	"github.com/jnode/jnode-sub032/internal/rtabi"
)

// Type is a loaded class or interface.
type Type struct {
	Name string

	// StaticsIndex is the shared-statics slot holding the type object.
	StaticsIndex int

	initialized atomic.Bool
}

// NewType returns a type and allocates its shared-statics slot.
func NewType(name string, statics *Statics) *Type {
	return &Type{Name: name, StaticsIndex: statics.AllocType()}
}

// Symbol returns the linker symbol of the type object.
func (t *Type) Symbol() string {
	return rtabi.SymTypePrefix + t.Name
}

// IsInitialized reports whether the type's initializer has completed.
func (t *Type) IsInitialized() bool {
	return t.initialized.Load()
}

// SetInitialized marks the type as initialized.
func (t *Type) SetInitialized() {
	t.initialized.Store(true)
}

// String implements fmt.Stringer.
func (t *Type) String() string {
	return t.Name
}

// Modifiers are the access flags of a method relevant to code generation.
type Modifiers uint16

const (
	Static Modifiers = 1 << iota
	Abstract
	Native
	Synchronized
)

// InitializerName is the name of a class initializer method.
const InitializerName = "<clinit>"

// Method is a method of a loaded type.
type Method struct {
	Name      string
	Signature string
	Modifiers Modifiers
	Declaring *Type

	// Selector is the global dispatch key of Name and Signature.
	Selector uint32

	// StaticsIndex is the shared-statics slot holding the native code
	// pointer of the method.
	StaticsIndex int

	// ThreadSwitchMask is non-zero when the method contains yield points.
	ThreadSwitchMask uint32

	// Code holds the compiled versions of the method, one per level.
	Code CodeTable
}

// MethodSpec describes a method to be declared with NewMethod.
type MethodSpec struct {
	Name             string
	Signature        string
	Modifiers        Modifiers
	ThreadSwitchMask uint32
}

// NewMethod declares a method of decl. The selector is looked up in
// selectors and a code slot is allocated in statics.
func NewMethod(decl *Type, spec MethodSpec, selectors *SelectorMap, statics *Statics) (*Method, error) {
	if _, err := rtabi.ReturnKind(spec.Signature); err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", decl.Name, spec.Name, err)
	}
	if _, err := rtabi.ArgKinds(spec.Signature); err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", decl.Name, spec.Name, err)
	}
	m := &Method{
		Name:             spec.Name,
		Signature:        spec.Signature,
		Modifiers:        spec.Modifiers,
		Declaring:        decl,
		ThreadSwitchMask: spec.ThreadSwitchMask,
		StaticsIndex:     statics.AllocMethodCode(),
	}
	if selectors != nil {
		m.Selector = selectors.Get(spec.Name, spec.Signature)
	}
	return m, nil
}

func (m *Method) IsStatic() bool   { return m.Modifiers&Static != 0 }
func (m *Method) IsAbstract() bool { return m.Modifiers&Abstract != 0 }

// IsSynchronized reports whether the method holds the monitor of its lock
// object while it runs.
func (m *Method) IsSynchronized() bool { return m.Modifiers&Synchronized != 0 }

// IsInitializer reports whether m is a class initializer.
func (m *Method) IsInitializer() bool {
	return m.Name == InitializerName
}

// ReturnKind returns the kind of the method's return value.
func (m *Method) ReturnKind() rtabi.Kind {
	k, err := rtabi.ReturnKind(m.Signature)
	if err != nil {
		// Signatures are validated by NewMethod.
		panic(err)
	}
	return k
}

// FullName returns Type.name(signature).
func (m *Method) FullName() string {
	return m.Declaring.Name + "." + m.Name + m.Signature
}

// Symbol returns the linker symbol of the method object.
func (m *Method) Symbol() string {
	return rtabi.SymMethodPrefix + m.FullName()
}

// String implements fmt.Stringer.
func (m *Method) String() string {
	return m.FullName()
}

// Field is an instance or static field.
type Field struct {
	Name       string
	Descriptor string
	Static     bool

	// Offset is the byte offset of an instance field within its object.
	Offset int32

	// StaticsIndex is the shared-statics slot of a static field.
	StaticsIndex int
}

// Kind returns the kind of the field's value.
func (f *Field) Kind() rtabi.Kind {
	k, _, err := rtabi.KindOf(f.Descriptor)
	if err != nil {
		return rtabi.Void
	}
	return k
}

// IsObjectRef reports whether the field holds an object reference.
func (f *Field) IsObjectRef() bool {
	return f.Kind() == rtabi.Reference
}
