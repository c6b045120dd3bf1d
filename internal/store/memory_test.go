package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/varmint/varmint/wasm"
)

func TestNewMemoryInstance(t *testing.T) {
	three := uint32(3)
	tests := []struct {
		name        string
		limits      *wasm.Limits
		maxPages    uint32
		expectedMax uint32
	}{
		{
			name:        "no declared max",
			limits:      &wasm.Limits{Min: 1},
			maxPages:    wasm.MemoryMaxPages,
			expectedMax: wasm.MemoryMaxPages,
		},
		{
			name:        "declared max below cap",
			limits:      &wasm.Limits{Min: 1, Max: &three},
			maxPages:    wasm.MemoryMaxPages,
			expectedMax: 3,
		},
		{
			name:        "cap below declared max",
			limits:      &wasm.Limits{Min: 1, Max: &three},
			maxPages:    2,
			expectedMax: 2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMemoryInstance(tc.limits, tc.maxPages)
			require.Equal(t, tc.limits.Min, m.Min)
			require.Equal(t, tc.expectedMax, m.Max)
			require.Equal(t, uint32(wasm.MemoryPageSize)*tc.limits.Min, m.Size())
			require.Equal(t, tc.limits.Min, m.PageSize())
		})
	}
}

func TestMemoryInstance_ReadWrite(t *testing.T) {
	m := NewMemoryInstance(&wasm.Limits{Min: 1}, wasm.MemoryMaxPages)

	require.True(t, m.WriteByte(0, 0xab))
	b, ok := m.ReadByte(0)
	require.True(t, ok)
	require.Equal(t, byte(0xab), b)

	require.True(t, m.WriteUint16Le(10, 0x1234))
	u16, ok := m.ReadUint16Le(10)
	require.True(t, ok)
	require.Equal(t, uint16(0x1234), u16)

	require.True(t, m.WriteUint32Le(100, 0xdeadbeef))
	u32, ok := m.ReadUint32Le(100)
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), u32)

	require.True(t, m.WriteUint64Le(200, math.MaxUint64))
	u64, ok := m.ReadUint64Le(200)
	require.True(t, ok)
	require.Equal(t, uint64(math.MaxUint64), u64)

	require.True(t, m.WriteFloat64Le(300, 6.25))
	f, ok := m.ReadFloat64Le(300)
	require.True(t, ok)
	require.Equal(t, 6.25, f)

	require.True(t, m.Write(400, []byte("wasm")))
	view, ok := m.Read(400, 4)
	require.True(t, ok)
	require.Equal(t, []byte("wasm"), view)
}

func TestMemoryInstance_Bounds(t *testing.T) {
	m := NewMemoryInstance(&wasm.Limits{Min: 1}, wasm.MemoryMaxPages)
	size := m.Size()

	// Accesses that straddle or pass the end fail without panicking, even
	// when offset+width would overflow uint32.
	_, ok := m.ReadByte(size)
	require.False(t, ok)
	_, ok = m.ReadUint32Le(size - 3)
	require.False(t, ok)
	_, ok = m.ReadUint64Le(math.MaxUint32)
	require.False(t, ok)
	require.False(t, m.WriteUint32Le(size-1, 1))
	require.False(t, m.Write(size, []byte{1}))

	// The last in-bounds word still works.
	require.True(t, m.WriteUint32Le(size-4, 42))
	v, ok := m.ReadUint32Le(size - 4)
	require.True(t, ok)
	require.Equal(t, uint32(42), v)
}

func TestMemoryInstance_Grow(t *testing.T) {
	three := uint32(3)
	m := NewMemoryInstance(&wasm.Limits{Min: 1, Max: &three}, wasm.MemoryMaxPages)

	require.Equal(t, uint32(1), m.Grow(1))
	require.Equal(t, uint32(2), m.PageSize())

	// Grown bytes are zero.
	b, ok := m.ReadByte(wasm.MemoryPageSize + 1)
	require.True(t, ok)
	require.Zero(t, b)

	require.Equal(t, uint32(2), m.Grow(1))
	require.Equal(t, uint32(0xffffffff), m.Grow(1))
	require.Equal(t, uint32(3), m.PageSize())

	// Growing by zero reports the current size.
	require.Equal(t, uint32(3), m.Grow(0))
}
