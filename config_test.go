package varmint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/varmint/varmint/wasm"
)

func TestRuntimeConfig_With(t *testing.T) {
	base := NewRuntimeConfig().WithLogger(zap.NewNop())
	metered := base.WithFuelMetering(10)

	// Each With returns a copy; the receiver keeps its settings.
	r := NewRuntimeWithConfig(base)
	_, err := r.Fuel()
	require.ErrorIs(t, err, ErrFuelMeteringDisabled)

	r = NewRuntimeWithConfig(metered)
	fuel, err := r.Fuel()
	require.NoError(t, err)
	require.Equal(t, uint64(10), fuel)
}

func TestRuntimeConfig_MemoryMaxPages(t *testing.T) {
	m := &wasm.Module{
		MemorySection: &wasm.Limits{Min: 1},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeMemory, Name: "mem", Index: 0},
		},
	}

	r := NewRuntimeWithConfig(NewRuntimeConfig().WithMemoryMaxPages(2))
	compiled, err := r.CompileModule(m)
	require.NoError(t, err)
	inst, err := r.InstantiateModule(context.Background(), compiled, "mem")
	require.NoError(t, err)

	// The runtime cap applies when the module declares no maximum.
	mem := inst.Memory("mem")
	require.Equal(t, uint32(1), mem.Grow(1))
	require.Equal(t, uint32(0xffffffff), mem.Grow(1))
}
