package store

import (
	"context"

	"github.com/varmint/varmint/wasm"
)

// FunctionTypeID is the store-interned identity of a function signature.
// Signatures with the same string form get the same ID, so the call_indirect
// type check is a single integer comparison even across module boundaries.
type FunctionTypeID uint32

// GoFunction is the implementation of a host function: it receives the
// caller's context and module, parameters in the stack value encoding, and
// returns results the same way. A non-nil error traps the whole invocation.
type GoFunction func(ctx context.Context, mod *ModuleInstance, params []uint64) ([]uint64, error)

// FunctionInstance is a function in a store, either defined by a module's
// code section or implemented by a host GoFunction.
type FunctionInstance struct {
	// Module is the instance that defines this function, which owns the
	// memory, table and globals its body refers to.
	Module *ModuleInstance
	// Type is the function's signature.
	Type *wasm.FunctionType
	// TypeID is Type interned by the owning store.
	TypeID FunctionTypeID
	// Idx is the position in Module's function index namespace, used by
	// engines to find the translated body and in trap backtraces.
	Idx wasm.Index
	// GoFunc is non-nil when this is a host function.
	GoFunc GoFunction
	// DebugName is the export or host name when known, otherwise empty.
	DebugName string
}

// IsHost returns true when calls dispatch to GoFunc rather than translated
// code.
func (f *FunctionInstance) IsHost() bool {
	return f.GoFunc != nil
}

// Name returns a human-readable identifier for traps and logs.
func (f *FunctionInstance) Name() string {
	if f.DebugName != "" {
		return f.DebugName
	}
	return "unknown"
}
