package varmint

import (
	"context"

	"github.com/varmint/varmint/internal/store"
	"github.com/varmint/varmint/wasm"
)

// HostContext exposes the calling instance to a host function, so it can
// reach the guest's memory without the guest passing pointers to it.
type HostContext struct {
	mod *store.ModuleInstance
}

// Memory returns the caller's memory, or nil when it has none.
func (h HostContext) Memory() *Memory {
	if h.mod == nil || h.mod.Memory == nil {
		return nil
	}
	return &Memory{m: h.mod.Memory}
}

// Module returns the name of the calling instance.
func (h HostContext) Module() string {
	if h.mod == nil {
		return ""
	}
	return h.mod.Name
}

// HostFunction implements an imported function in Go. Parameters and results
// use the stack value encoding, one uint64 per value. A non-nil error traps
// the calling invocation.
type HostFunction func(ctx context.Context, hctx HostContext, params []uint64) ([]uint64, error)

// HostModuleBuilder assembles a module implemented in Go.
//
//	env, err := r.NewHostModuleBuilder("env").
//		ExportFunction("log", logFn, []wasm.ValueType{wasm.ValueTypeI32}, nil).
//		Instantiate()
type HostModuleBuilder struct {
	r       *Runtime
	name    string
	funcs   []*store.HostFunc
	globals []*store.HostGlobal
}

// NewHostModuleBuilder starts a host module with the given name, which
// guests use as the import module namespace.
func (r *Runtime) NewHostModuleBuilder(name string) *HostModuleBuilder {
	return &HostModuleBuilder{r: r, name: name}
}

// ExportFunction adds a function export with the given signature.
func (b *HostModuleBuilder) ExportFunction(name string, fn HostFunction, params, results []wasm.ValueType) *HostModuleBuilder {
	b.funcs = append(b.funcs, &store.HostFunc{
		Name: name,
		Type: &wasm.FunctionType{Params: params, Results: results},
		Fn: func(ctx context.Context, mod *store.ModuleInstance, stack []uint64) ([]uint64, error) {
			return fn(ctx, HostContext{mod: mod}, stack)
		},
	})
	return b
}

// ExportGlobal adds an immutable global export holding the given value bits.
func (b *HostModuleBuilder) ExportGlobal(name string, t wasm.ValueType, val uint64) *HostModuleBuilder {
	b.globals = append(b.globals, &store.HostGlobal{Name: name, Type: t, Val: val})
	return b
}

// Instantiate registers the host module in the runtime, making its exports
// importable.
func (b *HostModuleBuilder) Instantiate() (*Instance, error) {
	mod, err := b.r.store.InstantiateHostModule(b.name, b.funcs, b.globals)
	if err != nil {
		return nil, err
	}
	return &Instance{mod: mod}, nil
}
