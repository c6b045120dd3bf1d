package moremath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWasmCompatMin(t *testing.T) {
	require.Equal(t, -1.5, WasmCompatMin(-1.5, 1.5))
	require.Equal(t, math.Inf(-1), WasmCompatMin(math.Inf(-1), 1))
	require.True(t, math.IsNaN(WasmCompatMin(math.NaN(), math.Inf(-1))))
	require.True(t, math.IsNaN(WasmCompatMin(1, math.NaN())))

	// -0 orders below +0.
	require.True(t, math.Signbit(WasmCompatMin(math.Copysign(0, -1), 0)))
	require.True(t, math.Signbit(WasmCompatMin(0, math.Copysign(0, -1))))
}

func TestWasmCompatMax(t *testing.T) {
	require.Equal(t, 1.5, WasmCompatMax(-1.5, 1.5))
	require.Equal(t, math.Inf(1), WasmCompatMax(math.Inf(1), 1))
	require.True(t, math.IsNaN(WasmCompatMax(math.NaN(), math.Inf(1))))
	require.True(t, math.IsNaN(WasmCompatMax(1, math.NaN())))

	// +0 orders above -0.
	require.False(t, math.Signbit(WasmCompatMax(math.Copysign(0, -1), 0)))
	require.False(t, math.Signbit(WasmCompatMax(0, math.Copysign(0, -1))))
}

func TestWasmCompatNearestF64(t *testing.T) {
	tests := []struct {
		in, exp float64
	}{
		{in: 0.5, exp: 0},  // tie rounds to even, not away from zero
		{in: 1.5, exp: 2},
		{in: 2.5, exp: 2},
		{in: -0.5, exp: 0},
		{in: -1.5, exp: -2},
		{in: -2.5, exp: -2},
		{in: 0.4, exp: 0},
		{in: 0.6, exp: 1},
		{in: -4.7, exp: -5},
		{in: 7, exp: 7},
	}
	for _, tc := range tests {
		require.Equal(t, tc.exp, WasmCompatNearestF64(tc.in), "nearest(%v)", tc.in)
	}

	require.Zero(t, WasmCompatNearestF64(0))
	require.True(t, math.Signbit(WasmCompatNearestF64(math.Copysign(0, -1))))
	require.True(t, math.IsNaN(WasmCompatNearestF64(math.NaN())))
	require.Equal(t, math.Inf(1), WasmCompatNearestF64(math.Inf(1)))
}

func TestWasmCompatNearestF32(t *testing.T) {
	require.Equal(t, float32(2), WasmCompatNearestF32(1.5))
	require.Equal(t, float32(2), WasmCompatNearestF32(2.5))
	require.Equal(t, float32(-2), WasmCompatNearestF32(-1.5))
}
