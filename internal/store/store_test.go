package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/varmint/varmint/wasm"
)

const i32 = wasm.ValueTypeI32

// mockEngine implements Engine without executing anything, recording what
// the store asks of it.
type mockEngine struct {
	compiled []*wasm.Module
	callErr  error
}

func (e *mockEngine) CompileModule(m *wasm.Module) error {
	e.compiled = append(e.compiled, m)
	return nil
}

func (e *mockEngine) NewModuleEngine(name string, _ *wasm.Module, instance *ModuleInstance) (ModuleEngine, error) {
	return &mockModuleEngine{name: name, instance: instance, callErr: e.callErr}, nil
}

type mockModuleEngine struct {
	name     string
	instance *ModuleInstance
	callErr  error
	called   []*FunctionInstance
}

func (me *mockModuleEngine) Name() string { return me.name }

func (me *mockModuleEngine) Call(ctx context.Context, f *FunctionInstance, params ...uint64) ([]uint64, error) {
	me.called = append(me.called, f)
	if me.callErr != nil {
		return nil, me.callErr
	}
	if f.GoFunc != nil {
		return f.GoFunc(ctx, me.instance, params)
	}
	return make([]uint64, len(f.Type.Results)), nil
}

// exporterModule defines one of each external type and exports them all.
func exporterModule() *wasm.Module {
	two := uint32(2)
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}},
		FunctionSection: []wasm.Index{0},
		TableSection:    &wasm.Limits{Min: 2, Max: &two},
		MemorySection:   &wasm.Limits{Min: 2, Max: &two},
		GlobalSection: []*wasm.Global{
			{Type: &wasm.GlobalType{ValType: i32},
				Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 11}},
		},
		CodeSection: []*wasm.Code{{Body: []wasm.Instruction{
			{Opcode: wasm.OpcodeLocalGet, U1: 0},
			{Opcode: wasm.OpcodeEnd},
		}}},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "fn", Index: 0},
			{Type: wasm.ExternTypeTable, Name: "tbl", Index: 0},
			{Type: wasm.ExternTypeMemory, Name: "mem", Index: 0},
			{Type: wasm.ExternTypeGlobal, Name: "g", Index: 0},
		},
	}
}

func TestStore_Instantiate(t *testing.T) {
	s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
	instance, err := s.Instantiate(context.Background(), exporterModule(), "exporter")
	require.NoError(t, err)

	require.Equal(t, "exporter", instance.Name)
	require.Same(t, instance, s.Module("exporter"))
	require.Nil(t, s.Module("other"))

	require.Len(t, instance.Functions, 1)
	require.Equal(t, "exporter.fn", instance.Functions[0].Name())
	require.False(t, instance.Functions[0].IsHost())
	require.Equal(t, wasm.Index(0), instance.Functions[0].Idx)

	require.Len(t, instance.Globals, 1)
	require.Equal(t, uint64(11), instance.Globals[0].Val)
	require.Equal(t, uint32(2), instance.Memory.PageSize())
	require.Equal(t, uint32(2), instance.Table.Size())

	require.NotNil(t, instance.ExportedFunction("fn"))
	require.Nil(t, instance.ExportedFunction("tbl"))

	_, err = s.Instantiate(context.Background(), exporterModule(), "exporter")
	require.EqualError(t, err, `module "exporter" has already been instantiated`)
}

func TestStore_Instantiate_ResolvesImports(t *testing.T) {
	two := uint32(2)
	s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
	exporter, err := s.Instantiate(context.Background(), exporterModule(), "exporter")
	require.NoError(t, err)

	importer := &wasm.Module{
		TypeSection: []*wasm.FunctionType{{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeFunc, Module: "exporter", Name: "fn", DescFunc: 0},
			{Type: wasm.ExternTypeTable, Module: "exporter", Name: "tbl", DescTable: &wasm.Limits{Min: 1, Max: &two}},
			{Type: wasm.ExternTypeMemory, Module: "exporter", Name: "mem", DescMem: &wasm.Limits{Min: 1, Max: &two}},
			{Type: wasm.ExternTypeGlobal, Module: "exporter", Name: "g", DescGlobal: &wasm.GlobalType{ValType: i32}},
		},
	}
	instance, err := s.Instantiate(context.Background(), importer, "importer")
	require.NoError(t, err)

	// Imports share the exporter's instances; nothing is copied.
	require.Same(t, exporter.Functions[0], instance.Functions[0])
	require.Same(t, exporter.Table, instance.Table)
	require.Same(t, exporter.Memory, instance.Memory)
	require.Same(t, exporter.Globals[0], instance.Globals[0])
}

func TestStore_Instantiate_ImportErrors(t *testing.T) {
	tests := []struct {
		name        string
		imp         *wasm.Import
		types       []*wasm.FunctionType
		expectedErr string
	}{
		{
			name:        "module not instantiated",
			imp:         &wasm.Import{Type: wasm.ExternTypeFunc, Module: "ghost", Name: "fn", DescFunc: 0},
			types:       []*wasm.FunctionType{{}},
			expectedErr: `import[0]: module "ghost" not instantiated`,
		},
		{
			name:        "export not found",
			imp:         &wasm.Import{Type: wasm.ExternTypeFunc, Module: "exporter", Name: "ghost", DescFunc: 0},
			types:       []*wasm.FunctionType{{}},
			expectedErr: `import[0]: "ghost" is not exported in module "exporter"`,
		},
		{
			name:        "wrong extern type",
			imp:         &wasm.Import{Type: wasm.ExternTypeFunc, Module: "exporter", Name: "g", DescFunc: 0},
			types:       []*wasm.FunctionType{{}},
			expectedErr: `export "g" in module "exporter" is a global, not a func`,
		},
		{
			name:        "function signature mismatch",
			imp:         &wasm.Import{Type: wasm.ExternTypeFunc, Module: "exporter", Name: "fn", DescFunc: 0},
			types:       []*wasm.FunctionType{{}},
			expectedErr: "signature mismatch",
		},
		{
			name:        "memory too small",
			imp:         &wasm.Import{Type: wasm.ExternTypeMemory, Module: "exporter", Name: "mem", DescMem: &wasm.Limits{Min: 3}},
			expectedErr: "minimum size 3 is larger than the actual size 2",
		},
		{
			name: "table import without declared max",
			imp:  &wasm.Import{Type: wasm.ExternTypeTable, Module: "exporter", Name: "tbl", DescTable: &wasm.Limits{Min: 1}},
		},
		{
			name:        "global type mismatch",
			imp:         &wasm.Import{Type: wasm.ExternTypeGlobal, Module: "exporter", Name: "g", DescGlobal: &wasm.GlobalType{ValType: i32, Mutable: true}},
			expectedErr: "type mismatch",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
			_, err := s.Instantiate(context.Background(), exporterModule(), "exporter")
			require.NoError(t, err)

			_, err = s.Instantiate(context.Background(), &wasm.Module{
				TypeSection:   tc.types,
				ImportSection: []*wasm.Import{tc.imp},
			}, "importer")
			if tc.expectedErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestStore_Instantiate_SegmentBounds(t *testing.T) {
	base := func() *wasm.Module {
		return &wasm.Module{
			TypeSection:     []*wasm.FunctionType{{}},
			FunctionSection: []wasm.Index{0},
			TableSection:    &wasm.Limits{Min: 1},
			MemorySection:   &wasm.Limits{Min: 1},
			CodeSection:     []*wasm.Code{{Body: []wasm.Instruction{{Opcode: wasm.OpcodeEnd}}}},
		}
	}

	m := base()
	m.ElementSection = []*wasm.ElementSegment{{
		OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 1},
		Init:       []wasm.Index{0},
	}}
	s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
	_, err := s.Instantiate(context.Background(), m, "elem")
	require.EqualError(t, err, "element segment[0] is out of bounds of the table")

	m = base()
	m.DataSection = []*wasm.DataSegment{{
		OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 65535},
		Init:       []byte{1, 2},
	}}
	s = NewStore(&mockEngine{}, wasm.MemoryMaxPages)
	_, err = s.Instantiate(context.Background(), m, "data")
	require.EqualError(t, err, "data segment[0] is out of bounds of the memory")

	// In-bounds segments initialize their targets.
	m = base()
	m.ElementSection = []*wasm.ElementSegment{{
		OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 0},
		Init:       []wasm.Index{0},
	}}
	m.DataSection = []*wasm.DataSegment{{
		OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 8},
		Init:       []byte{1, 2},
	}}
	s = NewStore(&mockEngine{}, wasm.MemoryMaxPages)
	instance, err := s.Instantiate(context.Background(), m, "ok")
	require.NoError(t, err)

	ref, ok := instance.Table.Get(0)
	require.True(t, ok)
	require.Same(t, instance.Functions[0], ref.Function)
	b, ok := instance.Memory.ReadUint16Le(8)
	require.True(t, ok)
	require.Equal(t, uint16(0x0201), b)
}

func TestStore_Instantiate_FailedSegmentsLeaveImportsUntouched(t *testing.T) {
	two := uint32(2)

	t.Run("data", func(t *testing.T) {
		s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
		exporter, err := s.Instantiate(context.Background(), exporterModule(), "exporter")
		require.NoError(t, err)

		// The first segment is in bounds, the second is not. Neither may be
		// written to the shared memory when instantiation fails.
		importer := &wasm.Module{
			ImportSection: []*wasm.Import{
				{Type: wasm.ExternTypeMemory, Module: "exporter", Name: "mem",
					DescMem: &wasm.Limits{Min: 1, Max: &two}},
			},
			DataSection: []*wasm.DataSegment{
				{OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 0},
					Init: []byte{0xaa}},
				{OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 2 * 65536},
					Init: []byte{1}},
			},
		}
		_, err = s.Instantiate(context.Background(), importer, "importer")
		require.EqualError(t, err, "data segment[1] is out of bounds of the memory")

		v, ok := exporter.Memory.ReadByte(0)
		require.True(t, ok)
		require.Zero(t, v)
	})

	t.Run("element", func(t *testing.T) {
		s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
		exporter, err := s.Instantiate(context.Background(), exporterModule(), "exporter")
		require.NoError(t, err)

		importer := &wasm.Module{
			TypeSection: []*wasm.FunctionType{{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}},
			ImportSection: []*wasm.Import{
				{Type: wasm.ExternTypeFunc, Module: "exporter", Name: "fn", DescFunc: 0},
				{Type: wasm.ExternTypeTable, Module: "exporter", Name: "tbl",
					DescTable: &wasm.Limits{Min: 1, Max: &two}},
			},
			ElementSection: []*wasm.ElementSegment{
				{OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 0},
					Init: []wasm.Index{0}},
				{OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: 2},
					Init: []wasm.Index{0}},
			},
		}
		_, err = s.Instantiate(context.Background(), importer, "importer")
		require.EqualError(t, err, "element segment[1] is out of bounds of the table")

		ref, ok := exporter.Table.Get(0)
		require.True(t, ok)
		require.Nil(t, ref)
	})
}

func TestStore_Instantiate_StartFunction(t *testing.T) {
	start := wasm.Index(0)
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0},
		StartSection:    &start,
		CodeSection:     []*wasm.Code{{Body: []wasm.Instruction{{Opcode: wasm.OpcodeEnd}}}},
	}

	s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
	instance, err := s.Instantiate(context.Background(), m, "init")
	require.NoError(t, err)
	me := instance.Engine.(*mockModuleEngine)
	require.Equal(t, []*FunctionInstance{instance.Functions[0]}, me.called)

	// A failing start function rolls back registration.
	s = NewStore(&mockEngine{callErr: errors.New("boom")}, wasm.MemoryMaxPages)
	_, err = s.Instantiate(context.Background(), m, "init")
	require.EqualError(t, err, "start function failed: boom")
	require.Nil(t, s.Module("init"))
}

func TestStore_TypeIDs(t *testing.T) {
	s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)

	// Structurally equal signatures intern to the same ID across modules.
	a := s.getTypeID(&wasm.FunctionType{Params: []wasm.ValueType{i32}})
	b := s.getTypeID(&wasm.FunctionType{Params: []wasm.ValueType{i32}})
	c := s.getTypeID(&wasm.FunctionType{Results: []wasm.ValueType{i32}})
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestStore_InstantiateHostModule(t *testing.T) {
	s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)

	echo := func(_ context.Context, _ *ModuleInstance, params []uint64) ([]uint64, error) {
		return []uint64{params[0]}, nil
	}
	instance, err := s.InstantiateHostModule("env",
		[]*HostFunc{{Name: "echo", Type: &wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}, Fn: echo}},
		[]*HostGlobal{{Name: "version", Type: i32, Val: 3}},
	)
	require.NoError(t, err)

	f := instance.ExportedFunction("echo")
	require.NotNil(t, f)
	require.True(t, f.IsHost())
	require.Equal(t, "env.echo", f.Name())

	exp, err := instance.Export("version", wasm.ExternTypeGlobal)
	require.NoError(t, err)
	require.Equal(t, uint64(3), exp.Global.Val)
	require.False(t, exp.Global.Type.Mutable)

	require.Same(t, instance, s.Module("env"))
}

func TestStore_InstantiateHostModule_Errors(t *testing.T) {
	noop := func(context.Context, *ModuleInstance, []uint64) ([]uint64, error) { return nil, nil }

	tests := []struct {
		name        string
		funcs       []*HostFunc
		expectedErr string
	}{
		{
			name:        "nil function",
			funcs:       []*HostFunc{{Name: "f", Type: &wasm.FunctionType{}}},
			expectedErr: `host function "f" is nil`,
		},
		{
			name: "multiple results",
			funcs: []*HostFunc{{Name: "f", Fn: noop,
				Type: &wasm.FunctionType{Results: []wasm.ValueType{i32, i32}}}},
			expectedErr: `host function "f" has 2 results; at most one is supported`,
		},
		{
			name: "duplicate export",
			funcs: []*HostFunc{
				{Name: "f", Fn: noop, Type: &wasm.FunctionType{}},
				{Name: "f", Fn: noop, Type: &wasm.FunctionType{}},
			},
			expectedErr: `duplicate export name "f"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
			_, err := s.InstantiateHostModule("env", tc.funcs, nil)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestStore_Fuel(t *testing.T) {
	s := NewStore(&mockEngine{}, wasm.MemoryMaxPages)
	require.False(t, s.FuelEnabled())

	s.EnableFuel(99)
	require.True(t, s.FuelEnabled())
	require.Equal(t, uint64(99), s.Fuel())

	s.SetFuel(5)
	require.Equal(t, uint64(5), s.Fuel())
}
