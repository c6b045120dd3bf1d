package store

import (
	"fmt"

	"github.com/varmint/varmint/wasm"
)

// HostFunc declares one exported function of a host module.
type HostFunc struct {
	// Name is the export name.
	Name string
	// Type is the signature guest calls are checked against.
	Type *wasm.FunctionType
	// Fn is the Go implementation.
	Fn GoFunction
}

// HostGlobal declares one exported immutable global of a host module.
type HostGlobal struct {
	Name string
	Type wasm.ValueType
	// Val holds the value bits in the stack encoding.
	Val uint64
}

// InstantiateHostModule builds and registers a module whose exports are
// implemented in Go. Guests import them like any other module's exports.
func (s *Store) InstantiateHostModule(name string, funcs []*HostFunc, globals []*HostGlobal) (*ModuleInstance, error) {
	instance := &ModuleInstance{
		Name:    name,
		Exports: map[string]*ExportInstance{},
		Store:   s,
	}
	for i, hf := range funcs {
		if hf.Fn == nil {
			return nil, fmt.Errorf("host function %q is nil", hf.Name)
		}
		if len(hf.Type.Results) > 1 {
			return nil, fmt.Errorf("host function %q has %d results; at most one is supported", hf.Name, len(hf.Type.Results))
		}
		if _, ok := instance.Exports[hf.Name]; ok {
			return nil, fmt.Errorf("duplicate export name %q", hf.Name)
		}
		f := &FunctionInstance{
			Module:    instance,
			Type:      hf.Type,
			TypeID:    s.getTypeID(hf.Type),
			Idx:       wasm.Index(i),
			GoFunc:    hf.Fn,
			DebugName: name + "." + hf.Name,
		}
		instance.Functions = append(instance.Functions, f)
		instance.Exports[hf.Name] = &ExportInstance{Type: wasm.ExternTypeFunc, Function: f}
	}
	for _, hg := range globals {
		if _, ok := instance.Exports[hg.Name]; ok {
			return nil, fmt.Errorf("duplicate export name %q", hg.Name)
		}
		g := &GlobalInstance{Type: &wasm.GlobalType{ValType: hg.Type}, Val: hg.Val}
		instance.Globals = append(instance.Globals, g)
		instance.Exports[hg.Name] = &ExportInstance{Type: wasm.ExternTypeGlobal, Global: g}
	}

	me, err := s.engine.NewModuleEngine(name, nil, instance)
	if err != nil {
		return nil, err
	}
	instance.Engine = me

	if err := s.register(instance); err != nil {
		return nil, err
	}
	return instance, nil
}
