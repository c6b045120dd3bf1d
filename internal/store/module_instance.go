package store

import (
	"fmt"

	"github.com/varmint/varmint/wasm"
)

// ModuleInstance is an instantiated module with all its runtime state: the
// resolved function index namespace, globals, and at most one memory and one
// table, each possibly shared with other instances through imports.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#module-instances%E2%91%A0
type ModuleInstance struct {
	Name    string
	Exports map[string]*ExportInstance

	// Functions is the function index namespace: imported functions first,
	// then module-defined ones, in declaration order.
	Functions []*FunctionInstance
	// Globals is the global index namespace, imported first.
	Globals []*GlobalInstance
	Memory  *MemoryInstance
	Table   *TableInstance

	// TypeIDs maps each index of the module's type section to its
	// store-interned FunctionTypeID.
	TypeIDs []FunctionTypeID

	// Engine executes this instance's functions.
	Engine ModuleEngine

	// Store owns this instance; engines reach fuel accounting through it.
	Store *Store
}

// ExportInstance is an export resolved to its instance, one of the four
// pointer fields set according to Type.
type ExportInstance struct {
	Type     wasm.ExternType
	Function *FunctionInstance
	Global   *GlobalInstance
	Memory   *MemoryInstance
	Table    *TableInstance
}

// Export returns the export with the given name and type, or an error naming
// what was found instead.
func (m *ModuleInstance) Export(name string, et wasm.ExternType) (*ExportInstance, error) {
	exp, ok := m.Exports[name]
	if !ok {
		return nil, fmt.Errorf("%q is not exported in module %q", name, m.Name)
	}
	if exp.Type != et {
		return nil, fmt.Errorf("export %q in module %q is a %s, not a %s",
			name, m.Name, wasm.ExternTypeName(exp.Type), wasm.ExternTypeName(et))
	}
	return exp, nil
}

// ExportedFunction returns the exported function with the given name, or nil.
func (m *ModuleInstance) ExportedFunction(name string) *FunctionInstance {
	exp, err := m.Export(name, wasm.ExternTypeFunc)
	if err != nil {
		return nil
	}
	return exp.Function
}
