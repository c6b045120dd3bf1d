package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/varmint/varmint/wasm"
)

// Store is the runtime representation of instantiated modules and the
// objects they share. Multiple modules can be instantiated within a single
// store, and instances can reference each other through imports.
//
// Every type whose name ends in "Instance" belongs to exactly one store.
//
// Instantiation is guarded internally, but a store meters fuel for one
// execution at a time: concurrent Call on the same store requires external
// synchronization.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#store%E2%91%A0
type Store struct {
	engine Engine

	mux sync.RWMutex
	// modules holds the instantiated modules by the name given at
	// instantiation.
	modules map[string]*ModuleInstance
	// typeIDs maps each FunctionType.String() to a unique FunctionTypeID,
	// used at runtime to type-check indirect calls.
	typeIDs map[string]FunctionTypeID

	// memoryMaxPages caps every memory in this store, at most
	// wasm.MemoryMaxPages.
	memoryMaxPages uint32

	// fuelEnabled gates metering; when false, execution is unmetered and
	// the fuel field is ignored.
	fuelEnabled bool
	// fuel is the remaining budget. Engines copy it out during execution
	// and write it back at host call boundaries and on completion, so it is
	// only current while no execution is in flight.
	fuel uint64
}

// NewStore returns an empty store executing with the given engine.
// memoryMaxPages bounds every memory instantiated in it.
func NewStore(engine Engine, memoryMaxPages uint32) *Store {
	if memoryMaxPages > wasm.MemoryMaxPages {
		memoryMaxPages = wasm.MemoryMaxPages
	}
	return &Store{
		engine:         engine,
		modules:        map[string]*ModuleInstance{},
		typeIDs:        map[string]FunctionTypeID{},
		memoryMaxPages: memoryMaxPages,
	}
}

// Engine returns the engine executing this store's functions.
func (s *Store) Engine() Engine {
	return s.engine
}

// EnableFuel turns on metering with the given initial budget.
func (s *Store) EnableFuel(budget uint64) {
	s.fuelEnabled = true
	s.fuel = budget
}

// FuelEnabled returns true when executions consume fuel.
func (s *Store) FuelEnabled() bool {
	return s.fuelEnabled
}

// Fuel returns the remaining budget. Only meaningful between executions.
func (s *Store) Fuel() uint64 {
	return s.fuel
}

// SetFuel replaces the remaining budget. It has no effect on an execution
// already in flight.
func (s *Store) SetFuel(v uint64) {
	s.fuel = v
}

// Module returns the instance registered under the given name, or nil.
func (s *Store) Module(name string) *ModuleInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.modules[name]
}

// getTypeID interns t, handing out a fresh ID on first sight. A signature's
// ID is stable for the life of the store.
func (s *Store) getTypeID(t *wasm.FunctionType) FunctionTypeID {
	key := t.String()
	s.mux.Lock()
	defer s.mux.Unlock()
	id, ok := s.typeIDs[key]
	if !ok {
		id = FunctionTypeID(len(s.typeIDs))
		s.typeIDs[key] = id
	}
	return id
}

// register adds the instance under its name, failing on a duplicate.
func (s *Store) register(instance *ModuleInstance) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.modules[instance.Name]; ok {
		return fmt.Errorf("module %q has already been instantiated", instance.Name)
	}
	s.modules[instance.Name] = instance
	return nil
}

// Instantiate validates m, translates its code, resolves its imports against
// previously instantiated modules, builds its instances, applies element and
// data segments and runs any start function. On success the instance is
// registered under name, which must be unique in the store.
func (s *Store) Instantiate(ctx context.Context, m *wasm.Module, name string) (*ModuleInstance, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := s.engine.CompileModule(m); err != nil {
		return nil, err
	}

	instance := &ModuleInstance{
		Name:    name,
		Exports: map[string]*ExportInstance{},
		Store:   s,
	}
	if err := s.resolveImports(m, instance); err != nil {
		return nil, err
	}
	s.buildInstances(m, instance)

	me, err := s.engine.NewModuleEngine(name, m, instance)
	if err != nil {
		return nil, err
	}
	instance.Engine = me

	// All segments are bounds-checked before any is applied: a failing
	// instantiation must leave imported memories and tables untouched.
	if err := validateElementSegments(m, instance); err != nil {
		return nil, err
	}
	if err := validateDataSegments(m, instance); err != nil {
		return nil, err
	}
	applyElementSegments(m, instance)
	applyDataSegments(m, instance)
	if err := s.register(instance); err != nil {
		return nil, err
	}

	if m.StartSection != nil {
		start := instance.Functions[*m.StartSection]
		if _, err := me.Call(ctx, start); err != nil {
			s.mux.Lock()
			delete(s.modules, name)
			s.mux.Unlock()
			return nil, fmt.Errorf("start function failed: %w", err)
		}
	}
	return instance, nil
}

// resolveImports fills the imported prefix of the instance's index
// namespaces from modules already in the store.
func (s *Store) resolveImports(m *wasm.Module, instance *ModuleInstance) error {
	for i, im := range m.ImportSection {
		exporter := s.Module(im.Module)
		if exporter == nil {
			return fmt.Errorf("import[%d]: module %q not instantiated", i, im.Module)
		}
		exp, err := exporter.Export(im.Name, im.Type)
		if err != nil {
			return fmt.Errorf("import[%d]: %w", i, err)
		}
		switch im.Type {
		case wasm.ExternTypeFunc:
			expected := m.TypeSection[im.DescFunc]
			if !expected.EqualsSignature(exp.Function.Type.Params, exp.Function.Type.Results) {
				return fmt.Errorf("import[%d] func %s.%s: signature mismatch: %s != %s",
					i, im.Module, im.Name, expected, exp.Function.Type)
			}
			instance.Functions = append(instance.Functions, exp.Function)
		case wasm.ExternTypeTable:
			if err := checkLimits(exp.Table.Size(), exp.Table.Max, im.DescTable); err != nil {
				return fmt.Errorf("import[%d] table %s.%s: %w", i, im.Module, im.Name, err)
			}
			instance.Table = exp.Table
		case wasm.ExternTypeMemory:
			if err := checkLimits(exp.Memory.PageSize(), &exp.Memory.Max, im.DescMem); err != nil {
				return fmt.Errorf("import[%d] memory %s.%s: %w", i, im.Module, im.Name, err)
			}
			instance.Memory = exp.Memory
		case wasm.ExternTypeGlobal:
			gt := exp.Global.Type
			if gt.ValType != im.DescGlobal.ValType || gt.Mutable != im.DescGlobal.Mutable {
				return fmt.Errorf("import[%d] global %s.%s: type mismatch", i, im.Module, im.Name)
			}
			instance.Globals = append(instance.Globals, exp.Global)
		}
	}
	return nil
}

// checkLimits verifies an imported table or memory satisfies the importing
// module's declared limits: at least as large now, and no laxer maximum.
func checkLimits(size uint32, max *uint32, declared *wasm.Limits) error {
	if size < declared.Min {
		return fmt.Errorf("minimum size %d is larger than the actual size %d", declared.Min, size)
	}
	if declared.Max != nil {
		if max == nil {
			return fmt.Errorf("a maximum of %d was declared, but the import has none", *declared.Max)
		}
		if *max > *declared.Max {
			return fmt.Errorf("maximum size %d exceeds the declared maximum %d", *max, *declared.Max)
		}
	}
	return nil
}

// buildInstances creates the module-defined functions, globals, memory and
// table, appending after any imported ones resolved earlier.
func (s *Store) buildInstances(m *wasm.Module, instance *ModuleInstance) {
	instance.TypeIDs = make([]FunctionTypeID, len(m.TypeSection))
	for i, t := range m.TypeSection {
		instance.TypeIDs[i] = s.getTypeID(t)
	}

	importedFuncs := wasm.Index(len(instance.Functions))
	for i, typeIdx := range m.FunctionSection {
		instance.Functions = append(instance.Functions, &FunctionInstance{
			Module: instance,
			Type:   m.TypeSection[typeIdx],
			TypeID: instance.TypeIDs[typeIdx],
			Idx:    importedFuncs + wasm.Index(i),
		})
	}

	for _, g := range m.GlobalSection {
		instance.Globals = append(instance.Globals, &GlobalInstance{
			Type: g.Type,
			Val:  evalConstExpr(g.Init, instance.Globals),
		})
	}
	if m.MemorySection != nil {
		instance.Memory = NewMemoryInstance(m.MemorySection, s.memoryMaxPages)
	}
	if m.TableSection != nil {
		instance.Table = NewTableInstance(m.TableSection)
	}

	for _, exp := range m.ExportSection {
		e := &ExportInstance{Type: exp.Type}
		switch exp.Type {
		case wasm.ExternTypeFunc:
			f := instance.Functions[exp.Index]
			if f.DebugName == "" {
				f.DebugName = instance.Name + "." + exp.Name
			}
			e.Function = f
		case wasm.ExternTypeGlobal:
			e.Global = instance.Globals[exp.Index]
		case wasm.ExternTypeMemory:
			e.Memory = instance.Memory
		case wasm.ExternTypeTable:
			e.Table = instance.Table
		}
		instance.Exports[exp.Name] = e
	}
}

// evalConstExpr evaluates a validated constant expression. A global.get
// refers to an imported global, which is already in the prefix of globals.
func evalConstExpr(expr *wasm.ConstantExpression, globals []*GlobalInstance) uint64 {
	if expr.Opcode == wasm.OpcodeGlobalGet {
		return globals[expr.Value].Val
	}
	return expr.Value
}

// validateElementSegments bounds-checks every element segment before any is
// applied. The table may be imported and shared with live instances, so a
// failing instantiation must not have written to it.
func validateElementSegments(m *wasm.Module, instance *ModuleInstance) error {
	for i, elem := range m.ElementSection {
		offset := uint32(evalConstExpr(elem.OffsetExpr, instance.Globals))
		if uint64(offset)+uint64(len(elem.Init)) > uint64(instance.Table.Size()) {
			return fmt.Errorf("element segment[%d] is out of bounds of the table", i)
		}
	}
	return nil
}

// validateDataSegments is the memory counterpart of validateElementSegments.
func validateDataSegments(m *wasm.Module, instance *ModuleInstance) error {
	for i, data := range m.DataSection {
		offset := uint32(evalConstExpr(data.OffsetExpr, instance.Globals))
		if uint64(offset)+uint64(len(data.Init)) > uint64(instance.Memory.Size()) {
			return fmt.Errorf("data segment[%d] is out of bounds of the memory", i)
		}
	}
	return nil
}

func applyElementSegments(m *wasm.Module, instance *ModuleInstance) {
	for _, elem := range m.ElementSection {
		offset := uint32(evalConstExpr(elem.OffsetExpr, instance.Globals))
		for j, funcIdx := range elem.Init {
			f := instance.Functions[funcIdx]
			instance.Table.References[offset+uint32(j)] = &Reference{TypeID: f.TypeID, Function: f}
		}
	}
}

func applyDataSegments(m *wasm.Module, instance *ModuleInstance) {
	for _, data := range m.DataSection {
		offset := uint32(evalConstExpr(data.OffsetExpr, instance.Globals))
		instance.Memory.Write(offset, data.Init)
	}
}
