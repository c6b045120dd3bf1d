package store

import (
	"math"

	"github.com/varmint/varmint/wasm"
)

// Reference is one initialized table element: a function together with the
// interned type identity call_indirect checks against.
type Reference struct {
	TypeID   FunctionTypeID
	Function *FunctionInstance
}

// TableInstance is a table of funcref elements in a store. A nil entry in
// References is an uninitialized element, which call_indirect traps on.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-instances%E2%91%A0
type TableInstance struct {
	References []*Reference
	// Min is the initial element count.
	Min uint32
	// Max, if present, bounds growth.
	Max *uint32
}

// NewTableInstance allocates the table described by the given limits with
// every element uninitialized.
func NewTableInstance(limits *wasm.Limits) *TableInstance {
	return &TableInstance{
		References: make([]*Reference, limits.Min),
		Min:        limits.Min,
		Max:        limits.Max,
	}
}

// Size returns the current element count.
func (t *TableInstance) Size() uint32 {
	return uint32(len(t.References))
}

// Set replaces the element at idx, or clears it when f is nil. Returns false
// when idx is out of bounds.
func (t *TableInstance) Set(idx uint32, f *FunctionInstance) bool {
	if idx >= t.Size() {
		return false
	}
	if f == nil {
		t.References[idx] = nil
	} else {
		t.References[idx] = &Reference{TypeID: f.TypeID, Function: f}
	}
	return true
}

// Grow extends the table by delta elements, each initialized to init, or
// uninitialized when init is nil.
//
// Returns 0xffffffff, -1 as a signed 32-bit integer, when growing would
// exceed Max. Otherwise, returns the element count prior to growing, per
// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-table
func (t *TableInstance) Grow(delta uint32, init *FunctionInstance) uint32 {
	currentSize := t.Size()
	newSize := uint64(currentSize) + uint64(delta)
	if newSize > math.MaxUint32 || (t.Max != nil && newSize > uint64(*t.Max)) {
		return 0xffffffff
	}
	for i := uint32(0); i < delta; i++ {
		var ref *Reference
		if init != nil {
			ref = &Reference{TypeID: init.TypeID, Function: init}
		}
		t.References = append(t.References, ref)
	}
	return currentSize
}

// Get returns the element at idx, which is nil when uninitialized, and false
// when idx is out of bounds.
func (t *TableInstance) Get(idx uint32) (*Reference, bool) {
	if idx >= t.Size() {
		return nil, false
	}
	return t.References[idx], true
}
