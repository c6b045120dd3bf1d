package store

import (
	"context"

	"github.com/varmint/varmint/wasm"
)

// Engine is a store-scoped mechanism to translate and execute the functions
// of instantiated modules. This is a top-level type implemented by an
// interpreter.
type Engine interface {
	// CompileModule translates every function body of m. It is idempotent:
	// translating an already-compiled module is a cheap lookup. m must have
	// passed wasm.Module Validate.
	CompileModule(m *wasm.Module) error

	// NewModuleEngine binds m's compiled code to the given instance and
	// returns a ModuleEngine for it.
	//
	// instance.Functions must cover m's whole function index namespace,
	// imports first. m is nil for host modules, whose functions all
	// dispatch to Go.
	NewModuleEngine(name string, m *wasm.Module, instance *ModuleInstance) (ModuleEngine, error)
}

// ModuleEngine implements function calls for one module instance.
type ModuleEngine interface {
	// Name returns the name the module was instantiated with.
	Name() string

	// Call invokes the function instance f with the given parameters and
	// returns its results. f must belong to this engine's instance or be
	// reachable from it through imports.
	//
	// Traps are reported as errors matching the ErrRuntime sentinels of
	// this package via errors.Is.
	Call(ctx context.Context, f *FunctionInstance, params ...uint64) ([]uint64, error)
}
