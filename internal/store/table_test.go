package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/varmint/varmint/wasm"
)

func TestTableInstance_SetGet(t *testing.T) {
	two := uint32(2)
	table := NewTableInstance(&wasm.Limits{Min: 2, Max: &two})
	require.Equal(t, uint32(2), table.Size())

	// All elements start uninitialized.
	ref, ok := table.Get(0)
	require.True(t, ok)
	require.Nil(t, ref)

	f := &FunctionInstance{TypeID: 7, Type: &wasm.FunctionType{}}
	require.True(t, table.Set(1, f))
	ref, ok = table.Get(1)
	require.True(t, ok)
	require.Equal(t, FunctionTypeID(7), ref.TypeID)
	require.Same(t, f, ref.Function)

	// nil clears the element again.
	require.True(t, table.Set(1, nil))
	ref, ok = table.Get(1)
	require.True(t, ok)
	require.Nil(t, ref)

	require.False(t, table.Set(2, f))
	_, ok = table.Get(2)
	require.False(t, ok)
}

func TestTableInstance_Grow(t *testing.T) {
	three := uint32(3)
	table := NewTableInstance(&wasm.Limits{Min: 1, Max: &three})

	f := &FunctionInstance{TypeID: 7, Type: &wasm.FunctionType{}}
	require.Equal(t, uint32(1), table.Grow(1, f))
	require.Equal(t, uint32(2), table.Size())

	// The grown element was initialized to f.
	ref, ok := table.Get(1)
	require.True(t, ok)
	require.Same(t, f, ref.Function)

	// nil init leaves the grown elements uninitialized.
	require.Equal(t, uint32(2), table.Grow(1, nil))
	ref, ok = table.Get(2)
	require.True(t, ok)
	require.Nil(t, ref)

	// Growing past Max fails without mutating existing contents.
	require.Equal(t, uint32(0xffffffff), table.Grow(1, f))
	require.Equal(t, uint32(3), table.Size())
	ref, ok = table.Get(1)
	require.True(t, ok)
	require.Same(t, f, ref.Function)

	// Growing by zero reports the current size.
	require.Equal(t, uint32(3), table.Grow(0, nil))

	// A table without a declared maximum can keep growing.
	unbounded := NewTableInstance(&wasm.Limits{Min: 0})
	require.Equal(t, uint32(0), unbounded.Grow(10, nil))
	require.Equal(t, uint32(10), unbounded.Size())
}
