package layout

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/jnode/jnode-sub032/internal/classmgr"
	"github.com/jnode/jnode-sub032/internal/rtabi"
)

func TestDefault(t *testing.T) {
	ctx := Default()
	require.False(t, ctx.HasWriteBarrier())
	require.Nil(t, ctx.ArrayStoreWriteBarrier())
	require.Equal(t, rtabi.DefaultTypeSizeInfo, ctx.Sizes)
	require.Equal(t, DefaultOffsets().MethodNativeCode, ctx.MethodNativeCode)

	ti := ctx.TypeInitialize()
	require.NotNil(t, ti)
	require.Equal(t, "method:org/jnode/vm/classmgr/VmType.initialize()V", ti.Symbol())
	require.False(t, ti.IsStatic())

	for _, m := range []*classmgr.Method{ctx.MonitorEnter(), ctx.MonitorExit()} {
		require.NotNil(t, m)
		require.Equal(t, MonitorManagerClassName, m.Declaring.Name)
		require.True(t, m.IsStatic())
		require.True(t, m.Declaring.IsInitialized())
	}
	require.Equal(t, "method:org/jnode/vm/scheduler/MonitorManager.monitorExit(Ljava/lang/Object;)V", ctx.MonitorExit().Symbol())
}

func TestWriteBarrierMethods(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBarrier = true
	var sel classmgr.SelectorMap
	var st classmgr.Statics
	ctx, err := New(cfg, &sel, &st)
	require.NoError(t, err)
	require.True(t, ctx.HasWriteBarrier())

	for _, m := range []*classmgr.Method{ctx.ArrayStoreWriteBarrier(), ctx.PutfieldWriteBarrier(), ctx.PutstaticWriteBarrier()} {
		require.NotNil(t, m)
		require.Equal(t, WriteBarrierClassName, m.Declaring.Name)
		require.Equal(t, rtabi.Void, m.ReturnKind())
		require.Equal(t, classmgr.EntryMethodCode, st.Kind(m.StaticsIndex))
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultOffsets().Validate())

	o := DefaultOffsets()
	o.MethodNativeCode = 3
	o.TypeState = -4
	o.ObjectTIB = -12
	err := o.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 2)

	_, err = New(Config{Offsets: o, Sizes: rtabi.DefaultTypeSizeInfo}, new(classmgr.SelectorMap), new(classmgr.Statics))
	require.Error(t, err)
}

func TestInvalidSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sizes.LongSlots = 0
	_, err := New(cfg, new(classmgr.SelectorMap), new(classmgr.Statics))
	require.ErrorIs(t, err, errSizes)
}
