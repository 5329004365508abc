// Package layout provides the compiler context: the byte offsets of
// runtime object fields and the runtime methods that generated code calls.
//
// A Context is built once per class loader and shared read-only by every
// compilation under that loader.
package layout

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/rtabi"
)

// Offsets are the byte offsets of runtime object fields.
type Offsets struct {
	// Method object.
	MethodNativeCode      int32 `mapstructure:"method_native_code" yaml:"method_native_code" json:"method_native_code"`
	MethodInvocationCount int32 `mapstructure:"method_invocation_count" yaml:"method_invocation_count" json:"method_invocation_count"`
	MethodDeclaringClass  int32 `mapstructure:"method_declaring_class" yaml:"method_declaring_class" json:"method_declaring_class"`

	// Type object and its constant pool.
	TypeState        int32 `mapstructure:"type_state" yaml:"type_state" json:"type_state"`
	TypeConstantPool int32 `mapstructure:"type_constant_pool" yaml:"type_constant_pool" json:"type_constant_pool"`
	CPEntries        int32 `mapstructure:"cp_entries" yaml:"cp_entries" json:"cp_entries"`

	// Processor, addressed through the processor segment.
	ProcessorStackEnd      int32 `mapstructure:"processor_stack_end" yaml:"processor_stack_end" json:"processor_stack_end"`
	ProcessorSharedStatics int32 `mapstructure:"processor_shared_statics" yaml:"processor_shared_statics" json:"processor_shared_statics"`
	ProcessorTSI           int32 `mapstructure:"processor_tsi" yaml:"processor_tsi" json:"processor_tsi"`

	// Object header and type information block.
	ObjectTIB      int32 `mapstructure:"object_tib" yaml:"object_tib" json:"object_tib"`
	TIBCompiledIMT int32 `mapstructure:"tib_compiled_imt" yaml:"tib_compiled_imt" json:"tib_compiled_imt"`
}

// DefaultOffsets returns the offsets of the 32-bit boot image.
func DefaultOffsets() Offsets {
	return Offsets{
		MethodNativeCode:      0x20,
		MethodInvocationCount: 0x2c,
		MethodDeclaringClass:  0x0c,

		TypeState:        0x14,
		TypeConstantPool: 0x30,
		CPEntries:        0x08,

		ProcessorStackEnd:      0x10,
		ProcessorSharedStatics: 0x28,
		ProcessorTSI:           0x18,

		ObjectTIB:      -2 * rtabi.SlotSize,
		TIBCompiledIMT: rtabi.ArrayDataOffset + 3*rtabi.SlotSize,
	}
}

// Validate checks that every field offset is slot aligned and that
// offsets into objects other than the header are not negative.
func (o Offsets) Validate() error {
	var result *multierror.Error
	check := func(name string, v int32, mayBeNegative bool) {
		if v%rtabi.SlotSize != 0 {
			result = multierror.Append(result, fmt.Errorf("%s offset %d is not slot aligned", name, v))
		}
		if v < 0 && !mayBeNegative {
			result = multierror.Append(result, fmt.Errorf("%s offset %d is negative", name, v))
		}
	}
	check("method native code", o.MethodNativeCode, false)
	check("method invocation count", o.MethodInvocationCount, false)
	check("method declaring class", o.MethodDeclaringClass, false)
	check("type state", o.TypeState, false)
	check("type constant pool", o.TypeConstantPool, false)
	check("constant pool entries", o.CPEntries, false)
	check("processor stack end", o.ProcessorStackEnd, false)
	check("processor shared statics", o.ProcessorSharedStatics, false)
	check("processor thread switch indicator", o.ProcessorTSI, false)
	check("object tib", o.ObjectTIB, true)
	check("tib compiled imt", o.TIBCompiledIMT, false)
	return result.ErrorOrNil()
}

// Config selects the layout of a Context.
type Config struct {
	Offsets Offsets
	Sizes   rtabi.TypeSizeInfo

	// WriteBarrier enables write barrier calls for reference stores.
	WriteBarrier bool
}

// DefaultConfig returns the configuration of the 32-bit boot image without
// a write barrier.
func DefaultConfig() Config {
	return Config{
		Offsets: DefaultOffsets(),
		Sizes:   rtabi.DefaultTypeSizeInfo,
	}
}

// Runtime types and methods called from generated code.
const (
	TypeClassName           = "org/jnode/vm/classmgr/VmType"
	MonitorManagerClassName = "org/jnode/vm/scheduler/MonitorManager"
	WriteBarrierClassName   = "org/jnode/vm/memmgr/VmWriteBarrier"
)

var errSizes = errors.New("stack slot sizes must be positive")

// Context is the read-only compiler context of one class loader.
type Context struct {
	Offsets
	Sizes rtabi.TypeSizeInfo

	typeInitialize *classmgr.Method
	monitorEnter   *classmgr.Method
	monitorExit    *classmgr.Method

	writeBarrier           bool
	arrayStoreWriteBarrier *classmgr.Method
	putfieldWriteBarrier   *classmgr.Method
	putstaticWriteBarrier  *classmgr.Method
}

// New validates cfg and declares the runtime methods that generated code
// invokes, allocating their selectors and statics slots.
func New(cfg Config, selectors *classmgr.SelectorMap, statics *classmgr.Statics) (*Context, error) {
	if err := cfg.Offsets.Validate(); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	s := cfg.Sizes
	if s.IntSlots <= 0 || s.FloatSlots <= 0 || s.LongSlots <= 0 || s.DoubleSlots <= 0 || s.RefSlots <= 0 {
		return nil, fmt.Errorf("layout: %w", errSizes)
	}

	ctx := &Context{Offsets: cfg.Offsets, Sizes: cfg.Sizes}

	vmType := classmgr.NewType(TypeClassName, statics)
	vmType.SetInitialized()
	var err error
	ctx.typeInitialize, err = classmgr.NewMethod(vmType, classmgr.MethodSpec{
		Name:      "initialize",
		Signature: "()V",
	}, selectors, statics)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}

	mm := classmgr.NewType(MonitorManagerClassName, statics)
	mm.SetInitialized()
	for _, d := range []struct {
		dst  **classmgr.Method
		name string
	}{
		{&ctx.monitorEnter, "monitorEnter"},
		{&ctx.monitorExit, "monitorExit"},
	} {
		*d.dst, err = classmgr.NewMethod(mm, classmgr.MethodSpec{
			Name:      d.name,
			Signature: "(Ljava/lang/Object;)V",
			Modifiers: classmgr.Static,
		}, selectors, statics)
		if err != nil {
			return nil, fmt.Errorf("layout: %w", err)
		}
	}

	if cfg.WriteBarrier {
		wb := classmgr.NewType(WriteBarrierClassName, statics)
		wb.SetInitialized()
		for _, d := range []struct {
			dst  **classmgr.Method
			name string
			sig  string
		}{
			{&ctx.arrayStoreWriteBarrier, "arrayStoreWriteBarrier", "(Ljava/lang/Object;ILjava/lang/Object;)V"},
			{&ctx.putfieldWriteBarrier, "putfieldWriteBarrier", "(Ljava/lang/Object;ILjava/lang/Object;)V"},
			{&ctx.putstaticWriteBarrier, "putstaticWriteBarrier", "(ZILjava/lang/Object;)V"},
		} {
			*d.dst, err = classmgr.NewMethod(wb, classmgr.MethodSpec{Name: d.name, Signature: d.sig}, selectors, statics)
			if err != nil {
				return nil, fmt.Errorf("layout: %w", err)
			}
		}
		ctx.writeBarrier = true
	}
	return ctx, nil
}

// Default returns a context with the default configuration, declaring its
// runtime methods in private tables.
func Default() *Context {
	ctx, err := New(DefaultConfig(), new(classmgr.SelectorMap), new(classmgr.Statics))
	if err != nil {
		panic(err)
	}
	return ctx
}

// TypeInitialize is the method that runs a type's initializer.
func (c *Context) TypeInitialize() *classmgr.Method { return c.typeInitialize }

// MonitorEnter and MonitorExit acquire and release the monitor of the
// object passed on the stack.
func (c *Context) MonitorEnter() *classmgr.Method { return c.monitorEnter }
func (c *Context) MonitorExit() *classmgr.Method  { return c.monitorExit }

// HasWriteBarrier reports whether reference stores call a write barrier.
func (c *Context) HasWriteBarrier() bool { return c.writeBarrier }

func (c *Context) ArrayStoreWriteBarrier() *classmgr.Method { return c.arrayStoreWriteBarrier }
func (c *Context) PutfieldWriteBarrier() *classmgr.Method   { return c.putfieldWriteBarrier }
func (c *Context) PutstaticWriteBarrier() *classmgr.Method  { return c.putstaticWriteBarrier }
