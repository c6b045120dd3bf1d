// Package varmint embeds a WebAssembly 1.0 (20191205) interpreter with
// deterministic fuel metering. Modules arrive as decoded wasm.Module values,
// are translated to register bytecode once, and execute on a fuel-metered
// interpreter.
//
//	r := varmint.NewRuntime()
//	compiled, _ := r.CompileModule(module)
//	instance, _ := r.InstantiateModule(ctx, compiled, "calc")
//	sum, _ := instance.Function("add").Call(ctx, 2, 3)
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/
package varmint

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/varmint/varmint/internal/engine/interpreter"
	"github.com/varmint/varmint/internal/store"
	"github.com/varmint/varmint/wasm"
)

// ErrFuelMeteringDisabled is returned by fuel accessors of a runtime built
// without WithFuelMetering.
var ErrFuelMeteringDisabled = errors.New("fuel metering is not enabled")

// Runtime allows embedding of WebAssembly modules. Instances created by one
// runtime share a store, so they can import each other's exports.
type Runtime struct {
	store  *store.Store
	logger *zap.Logger

	// instantiates counts anonymous instantiations for generated names.
	instantiates uint64
}

// NewRuntime returns a runtime with the default configuration.
func NewRuntime() *Runtime {
	return NewRuntimeWithConfig(NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a runtime with the given configuration.
func NewRuntimeWithConfig(config *RuntimeConfig) *Runtime {
	logger := config.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var cache interpreter.Cache
	if config.cache != nil {
		cache = config.cache
	}
	engine := interpreter.NewEngine(logger, config.maxCallStackDepth, config.maxStackHeight, cache)
	s := store.NewStore(engine, config.memoryMaxPages)
	if config.fuelEnabled {
		s.EnableFuel(config.fuelBudget)
	}
	return &Runtime{store: s, logger: logger}
}

// CompiledModule is a validated module whose function bodies are translated,
// ready to be instantiated any number of times.
type CompiledModule struct {
	module *wasm.Module
}

// CompileModule validates m and translates its code section. The result can
// be instantiated in this runtime only.
func (r *Runtime) CompileModule(m *wasm.Module) (*CompiledModule, error) {
	if m == nil {
		return nil, errors.New("module == nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.Engine().CompileModule(m); err != nil {
		return nil, err
	}
	return &CompiledModule{module: m}, nil
}

// InstantiateModule instantiates the compiled module under the given name,
// resolving its imports against modules already instantiated in this
// runtime, and runs its start function if it declares one. An empty name is
// replaced with a generated unique one.
func (r *Runtime) InstantiateModule(ctx context.Context, compiled *CompiledModule, name string) (*Instance, error) {
	if name == "" {
		r.instantiates++
		name = fmt.Sprintf("anonymous-%d", r.instantiates)
	}
	mod, err := r.store.Instantiate(ctx, compiled.module, name)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("instantiated module", zap.String("name", name))
	return &Instance{mod: mod}, nil
}

// Module returns the named instance, or nil if it was never instantiated.
func (r *Runtime) Module(name string) *Instance {
	mod := r.store.Module(name)
	if mod == nil {
		return nil
	}
	return &Instance{mod: mod}
}

// Fuel returns the remaining fuel budget. Only meaningful between
// invocations.
func (r *Runtime) Fuel() (uint64, error) {
	if !r.store.FuelEnabled() {
		return 0, ErrFuelMeteringDisabled
	}
	return r.store.Fuel(), nil
}

// SetFuel replaces the remaining fuel budget.
func (r *Runtime) SetFuel(v uint64) error {
	if !r.store.FuelEnabled() {
		return ErrFuelMeteringDisabled
	}
	r.store.SetFuel(v)
	return nil
}

// Instance is an instantiated module.
type Instance struct {
	mod *store.ModuleInstance
}

// Name returns the name the module was instantiated with.
func (i *Instance) Name() string {
	return i.mod.Name
}

// Function returns the exported function with the given name, or nil.
func (i *Instance) Function(name string) *Function {
	f := i.mod.ExportedFunction(name)
	if f == nil {
		return nil
	}
	return &Function{f: f}
}

// Memory returns the exported memory with the given name, or nil.
func (i *Instance) Memory(name string) *Memory {
	exp, err := i.mod.Export(name, wasm.ExternTypeMemory)
	if err != nil {
		return nil
	}
	return &Memory{m: exp.Memory}
}

// Global returns the exported global with the given name, or nil.
func (i *Instance) Global(name string) *Global {
	exp, err := i.mod.Export(name, wasm.ExternTypeGlobal)
	if err != nil {
		return nil
	}
	return &Global{g: exp.Global}
}

// Table returns the exported table with the given name, or nil.
func (i *Instance) Table(name string) *Table {
	exp, err := i.mod.Export(name, wasm.ExternTypeTable)
	if err != nil {
		return nil
	}
	return &Table{t: exp.Table}
}

// Function is a callable exported function.
type Function struct {
	f *store.FunctionInstance
}

// Type returns the function's signature.
func (f *Function) Type() *wasm.FunctionType {
	return f.f.Type
}

// Call invokes the function with parameters in the stack value encoding,
// one uint64 per parameter, and returns results the same way.
//
// The error is non-nil on a trap, matching the runtime error sentinels via
// errors.Is, or when ctx is canceled during execution.
func (f *Function) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f.f.Module.Engine.Call(ctx, f.f, params...)
}

// Memory is a view over an instance's linear memory.
type Memory struct {
	m *store.MemoryInstance
}

// Size returns the length in bytes.
func (m *Memory) Size() uint32 { return m.m.Size() }

// PageSize returns the length in pages.
func (m *Memory) PageSize() uint32 { return m.m.PageSize() }

// Grow extends the memory by delta pages, returning the previous page count
// or 0xffffffff when the maximum would be exceeded.
func (m *Memory) Grow(delta uint32) uint32 { return m.m.Grow(delta) }

// Read returns a view of byteCount bytes at offset, false when out of
// bounds.
func (m *Memory) Read(offset, byteCount uint32) ([]byte, bool) { return m.m.Read(offset, byteCount) }

// Write copies data to offset, returning false when out of bounds.
func (m *Memory) Write(offset uint32, data []byte) bool { return m.m.Write(offset, data) }

// ReadUint32Le reads a little-endian uint32 at offset.
func (m *Memory) ReadUint32Le(offset uint32) (uint32, bool) { return m.m.ReadUint32Le(offset) }

// WriteUint32Le writes a little-endian uint32 at offset.
func (m *Memory) WriteUint32Le(offset, v uint32) bool { return m.m.WriteUint32Le(offset, v) }

// ReadUint64Le reads a little-endian uint64 at offset.
func (m *Memory) ReadUint64Le(offset uint32) (uint64, bool) { return m.m.ReadUint64Le(offset) }

// WriteUint64Le writes a little-endian uint64 at offset.
func (m *Memory) WriteUint64Le(offset uint32, v uint64) bool { return m.m.WriteUint64Le(offset, v) }

// Global is a view over an instance's global variable.
type Global struct {
	g *store.GlobalInstance
}

// Type returns the global's value type.
func (g *Global) Type() wasm.ValueType {
	return g.g.Type.ValType
}

// Get returns the value bits.
func (g *Global) Get() uint64 {
	return g.g.Val
}

// Set replaces the value bits, failing on an immutable global.
func (g *Global) Set(v uint64) error {
	if !g.g.Type.Mutable {
		return errors.New("global is immutable")
	}
	g.g.Val = v
	return nil
}

// Table is a view over an instance's function table.
type Table struct {
	t *store.TableInstance
}

// Size returns the element count.
func (t *Table) Size() uint32 {
	return t.t.Size()
}

// Grow extends the table by delta elements, each initialized to f, or left
// uninitialized when f is nil. Returns the previous element count or
// 0xffffffff when the maximum would be exceeded.
func (t *Table) Grow(delta uint32, f *Function) uint32 {
	var fi *store.FunctionInstance
	if f != nil {
		fi = f.f
	}
	return t.t.Grow(delta, fi)
}

// Set replaces the element at idx with the given function, or clears it when
// f is nil. Guests observe the change on their next call_indirect.
func (t *Table) Set(idx uint32, f *Function) error {
	var fi *store.FunctionInstance
	if f != nil {
		fi = f.f
	}
	if !t.t.Set(idx, fi) {
		return fmt.Errorf("table index %d out of bounds (size %d)", idx, t.t.Size())
	}
	return nil
}
