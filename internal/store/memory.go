package store

import (
	"encoding/binary"
	"math"

	"github.com/varmint/varmint/wasm"
)

// MemoryInstance is a linear memory in a store.
//
// Note: In WebAssembly 1.0 (20191205), there may be up to one memory per
// module instance.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
type MemoryInstance struct {
	Buffer []byte
	// Min is the initial size in pages.
	Min uint32
	// Max is the page count Grow refuses to exceed, already clamped to any
	// embedder-configured limit.
	Max uint32
}

// NewMemoryInstance allocates the memory described by the given limits,
// capping growth at maxPages when the limits declare no smaller maximum.
func NewMemoryInstance(limits *wasm.Limits, maxPages uint32) *MemoryInstance {
	max := maxPages
	if limits.Max != nil && *limits.Max < max {
		max = *limits.Max
	}
	return &MemoryInstance{
		Buffer: make([]byte, wasm.MemoryPagesToBytesNum(limits.Min)),
		Min:    limits.Min,
		Max:    max,
	}
}

// Size returns the length of the buffer in bytes.
func (m *MemoryInstance) Size() uint32 {
	return uint32(len(m.Buffer))
}

// PageSize returns the current size in pages.
func (m *MemoryInstance) PageSize() uint32 {
	return wasm.MemoryBytesNumToPages(uint64(len(m.Buffer)))
}

// hasSize returns true if the buffer covers sizeInBytes at the given offset.
func (m *MemoryInstance) hasSize(offset uint32, sizeInBytes uint32) bool {
	return uint64(offset)+uint64(sizeInBytes) <= uint64(m.Size()) // uint64 prevents overflow on add
}

// ReadByte reads a single byte, returning false on an out-of-bounds offset.
func (m *MemoryInstance) ReadByte(offset uint32) (byte, bool) {
	if offset >= m.Size() {
		return 0, false
	}
	return m.Buffer[offset], true
}

// ReadUint16Le reads a little-endian uint16.
func (m *MemoryInstance) ReadUint16Le(offset uint32) (uint16, bool) {
	if !m.hasSize(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.Buffer[offset : offset+2]), true
}

// ReadUint32Le reads a little-endian uint32.
func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset : offset+4]), true
}

// ReadUint64Le reads a little-endian uint64.
func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset : offset+8]), true
}

// ReadFloat32Le reads a little-endian float32.
func (m *MemoryInstance) ReadFloat32Le(offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(offset)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(v), true
}

// ReadFloat64Le reads a little-endian float64.
func (m *MemoryInstance) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(offset)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v), true
}

// Read returns a view of byteCount bytes at offset, or false when the range
// is out of bounds. The view aliases the buffer until the next Grow.
func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.hasSize(offset, byteCount) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount], true
}

// WriteByte writes a single byte, returning false on an out-of-bounds offset.
func (m *MemoryInstance) WriteByte(offset uint32, v byte) bool {
	if offset >= m.Size() {
		return false
	}
	m.Buffer[offset] = v
	return true
}

// WriteUint16Le writes a little-endian uint16.
func (m *MemoryInstance) WriteUint16Le(offset uint32, v uint16) bool {
	if !m.hasSize(offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.Buffer[offset:], v)
	return true
}

// WriteUint32Le writes a little-endian uint32.
func (m *MemoryInstance) WriteUint32Le(offset, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteUint64Le writes a little-endian uint64.
func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

// WriteFloat32Le writes a little-endian float32.
func (m *MemoryInstance) WriteFloat32Le(offset uint32, v float32) bool {
	return m.WriteUint32Le(offset, math.Float32bits(v))
}

// WriteFloat64Le writes a little-endian float64.
func (m *MemoryInstance) WriteFloat64Le(offset uint32, v float64) bool {
	return m.WriteUint64Le(offset, math.Float64bits(v))
}

// Write copies val into the buffer at offset, returning false when the range
// is out of bounds.
func (m *MemoryInstance) Write(offset uint32, val []byte) bool {
	if !m.hasSize(offset, uint32(len(val))) {
		return false
	}
	copy(m.Buffer[offset:], val)
	return true
}

// Grow extends the buffer by newPages pages. The new region is zeroed.
//
// Returns 0xffffffff, -1 as a signed 32-bit integer, when growing would
// exceed Max. Otherwise, returns the size in pages prior to growing, per
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
func (m *MemoryInstance) Grow(newPages uint32) uint32 {
	currentPages := m.PageSize()
	if uint64(currentPages)+uint64(newPages) > uint64(m.Max) {
		return 0xffffffff
	}
	m.Buffer = append(m.Buffer, make([]byte, wasm.MemoryPagesToBytesNum(newPages))...)
	return currentPages
}
