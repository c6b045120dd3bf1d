package wasm

import (
	"encoding/binary"
	"fmt"
)

// Module is a WebAssembly module already decoded from its binary or text
// representation. It is the input contract between a decoder and this
// runtime: all immediates are decoded, all sections are structural.
//
// Note: The fields are intentionally close to the module sections of the
// specification so a decoder can populate them mechanically.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A0%E2%93%AA
type Module struct {
	// TypeSection contains the unique function signatures referenced by
	// FunctionSection, CallIndirect instructions and import descriptions.
	TypeSection []*FunctionType

	// ImportSection contains any imported function, table, memory or global.
	ImportSection []*Import

	// FunctionSection maps each module-defined function to its signature in
	// TypeSection. It is index-aligned with CodeSection.
	FunctionSection []Index

	// TableSection is the module-defined table, if any. WebAssembly 1.0
	// allows at most one table per module, possibly imported instead.
	TableSection *Limits

	// MemorySection is the module-defined memory, if any. WebAssembly 1.0
	// allows at most one memory per module, possibly imported instead.
	MemorySection *Limits

	// GlobalSection contains the module-defined globals in definition order.
	GlobalSection []*Global

	// ExportSection contains the module's exports, with unique names.
	ExportSection []*Export

	// StartSection is the index of a function to invoke on instantiation.
	StartSection *Index

	// ElementSection initializes table entries with function indices.
	ElementSection []*ElementSegment

	// DataSection initializes memory ranges with bytes.
	DataSection []*DataSegment

	// CodeSection holds the body of each module-defined function,
	// index-aligned with FunctionSection.
	CodeSection []*Code
}

// Import is the binary representation of an import indicated by Type.
type Import struct {
	Type ExternType
	// Module is the possibly empty primary namespace of this import.
	Module string
	// Name is the possibly empty secondary namespace of this import.
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc.
	DescFunc Index
	// DescTable is the table limits when Type equals ExternTypeTable.
	DescTable *Limits
	// DescMem is the memory limits when Type equals ExternTypeMemory.
	DescMem *Limits
	// DescGlobal is the global type when Type equals ExternTypeGlobal.
	DescGlobal *GlobalType
}

// Export is the binary representation of an export indicated by Type.
type Export struct {
	Type ExternType
	// Name is the unique name of this export.
	Name string
	// Index is the position in the corresponding index namespace.
	Index Index
}

// Global declares a module-defined global with its initialization expression.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a decoded initialization expression: one constant
// instruction followed by end.
//
// Opcode is one of OpcodeI32Const, OpcodeI64Const, OpcodeF32Const,
// OpcodeF64Const, or OpcodeGlobalGet of an imported global. Value holds the
// constant's bits, or the global index for OpcodeGlobalGet.
type ConstantExpression struct {
	Opcode Opcode
	Value  uint64
}

// ElementSegment initializes a range of a table with function indices.
type ElementSegment struct {
	// OffsetExpr yields the table element offset to apply to Init indices.
	OffsetExpr *ConstantExpression
	// Init are positions in the function index namespace that initialize the
	// corresponding table elements.
	Init []Index
}

// DataSegment initializes a range of a linear memory with bytes.
type DataSegment struct {
	// OffsetExpr yields the byte offset Init is copied to.
	OffsetExpr *ConstantExpression
	// Init is the raw data copied into the memory on instantiation.
	Init []byte
}

// Code is one entry of the code section: the declared locals and the decoded
// instruction stream of a function body, terminated by OpcodeEnd.
type Code struct {
	// LocalTypes are the function's non-parameter locals, zero-initialized
	// on every call.
	LocalTypes []ValueType
	// Body is the decoded instruction stream.
	Body []Instruction
}

// ImportFuncCount returns the number of imported functions.
func (m *Module) ImportFuncCount() uint32 {
	return m.importCount(ExternTypeFunc)
}

func (m *Module) importCount(et ExternType) (count uint32) {
	for _, im := range m.ImportSection {
		if im.Type == et {
			count++
		}
	}
	return
}

// FuncTypeIndex returns the TypeSection index of the function at the given
// position in the function index namespace, or false when out of range.
func (m *Module) FuncTypeIndex(funcIdx Index) (Index, bool) {
	importCount := m.ImportFuncCount()
	if funcIdx < importCount {
		i := Index(0)
		for _, im := range m.ImportSection {
			if im.Type == ExternTypeFunc {
				if i == funcIdx {
					return im.DescFunc, true
				}
				i++
			}
		}
		return 0, false
	}
	defined := funcIdx - importCount
	if defined >= uint32(len(m.FunctionSection)) {
		return 0, false
	}
	return m.FunctionSection[defined], true
}

// HasTable returns true if this module defines or imports a table.
func (m *Module) HasTable() bool {
	return m.TableSection != nil || m.importCount(ExternTypeTable) > 0
}

// HasMemory returns true if this module defines or imports a memory.
func (m *Module) HasMemory() bool {
	return m.MemorySection != nil || m.importCount(ExternTypeMemory) > 0
}

// GlobalTypes returns the global index namespace types: imported globals
// followed by module-defined globals.
func (m *Module) GlobalTypes() (ret []*GlobalType) {
	for _, im := range m.ImportSection {
		if im.Type == ExternTypeGlobal {
			ret = append(ret, im.DescGlobal)
		}
	}
	for _, g := range m.GlobalSection {
		ret = append(ret, g.Type)
	}
	return
}

// Validate performs module-level validation: index-space bounds, limits and
// constant expressions. Function bodies are validated later, during
// translation, which shares a single pass with bytecode lowering.
//
// A module failing any of these checks must be rejected wholesale.
func (m *Module) Validate() error {
	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section have inconsistent lengths: %d and %d",
			len(m.FunctionSection), len(m.CodeSection))
	}

	typeCount := uint32(len(m.TypeSection))
	for i, t := range m.TypeSection {
		if len(t.Results) > 1 {
			return fmt.Errorf("type[%d]: multiple results are not supported", i)
		}
	}

	importedTables, importedMemories := uint32(0), uint32(0)
	for i, im := range m.ImportSection {
		switch im.Type {
		case ExternTypeFunc:
			if im.DescFunc >= typeCount {
				return fmt.Errorf("import[%d] %s.%s: type index %d out of range",
					i, im.Module, im.Name, im.DescFunc)
			}
		case ExternTypeTable:
			importedTables++
			if err := validateLimits(im.DescTable, MemoryMaxPages); err != nil {
				return fmt.Errorf("import[%d] %s.%s: %v", i, im.Module, im.Name, err)
			}
		case ExternTypeMemory:
			importedMemories++
			if err := validateLimits(im.DescMem, MemoryMaxPages); err != nil {
				return fmt.Errorf("import[%d] %s.%s: %v", i, im.Module, im.Name, err)
			}
		case ExternTypeGlobal:
			if im.DescGlobal == nil {
				return fmt.Errorf("import[%d] %s.%s: missing global type", i, im.Module, im.Name)
			}
		default:
			return fmt.Errorf("import[%d] %s.%s: invalid extern type %#x", i, im.Module, im.Name, im.Type)
		}
	}

	if m.TableSection != nil {
		if importedTables > 0 {
			return fmt.Errorf("at most one table allowed in a module")
		}
		if err := validateLimits(m.TableSection, MemoryMaxPages); err != nil {
			return fmt.Errorf("table: %v", err)
		}
	}
	if m.MemorySection != nil {
		if importedMemories > 0 {
			return fmt.Errorf("at most one memory allowed in a module")
		}
		if err := validateLimits(m.MemorySection, MemoryMaxPages); err != nil {
			return fmt.Errorf("memory: %v", err)
		}
	}

	for i, typeIdx := range m.FunctionSection {
		if typeIdx >= typeCount {
			return fmt.Errorf("function[%d]: type index %d out of range", i, typeIdx)
		}
	}

	importedGlobals := m.importCount(ExternTypeGlobal)
	for i, g := range m.GlobalSection {
		if err := m.validateConstExpression(g.Init, g.Type.ValType, importedGlobals); err != nil {
			return fmt.Errorf("global[%d]: %v", i, err)
		}
	}

	funcCount := m.ImportFuncCount() + uint32(len(m.FunctionSection))
	globalCount := importedGlobals + uint32(len(m.GlobalSection))
	memoryCount := importedMemories
	if m.MemorySection != nil {
		memoryCount++
	}
	tableCount := importedTables
	if m.TableSection != nil {
		tableCount++
	}

	exportNames := make(map[string]struct{}, len(m.ExportSection))
	for i, exp := range m.ExportSection {
		if _, ok := exportNames[exp.Name]; ok {
			return fmt.Errorf("export[%d]: duplicate name %q", i, exp.Name)
		}
		exportNames[exp.Name] = struct{}{}
		var max uint32
		switch exp.Type {
		case ExternTypeFunc:
			max = funcCount
		case ExternTypeGlobal:
			max = globalCount
		case ExternTypeMemory:
			max = memoryCount
		case ExternTypeTable:
			max = tableCount
		default:
			return fmt.Errorf("export[%d] %q: invalid extern type %#x", i, exp.Name, exp.Type)
		}
		if exp.Index >= max {
			return fmt.Errorf("export[%d] %q: %s index %d out of range",
				i, exp.Name, ExternTypeName(exp.Type), exp.Index)
		}
	}

	if m.StartSection != nil {
		startIdx := *m.StartSection
		typeIdx, ok := m.FuncTypeIndex(startIdx)
		if !ok {
			return fmt.Errorf("start function index %d out of range", startIdx)
		}
		ft := m.TypeSection[typeIdx]
		if len(ft.Params) > 0 || len(ft.Results) > 0 {
			return fmt.Errorf("start function must have an empty signature, but has %s", ft)
		}
	}

	for i, elem := range m.ElementSection {
		if !m.HasTable() {
			return fmt.Errorf("element[%d]: no table in this module", i)
		}
		if err := m.validateConstExpression(elem.OffsetExpr, ValueTypeI32, importedGlobals); err != nil {
			return fmt.Errorf("element[%d]: %v", i, err)
		}
		for j, funcIdx := range elem.Init {
			if funcIdx >= funcCount {
				return fmt.Errorf("element[%d].init[%d]: function index %d out of range", i, j, funcIdx)
			}
		}
	}

	for i, data := range m.DataSection {
		if !m.HasMemory() {
			return fmt.Errorf("data[%d]: no memory in this module", i)
		}
		if err := m.validateConstExpression(data.OffsetExpr, ValueTypeI32, importedGlobals); err != nil {
			return fmt.Errorf("data[%d]: %v", i, err)
		}
	}
	return nil
}

// validateConstExpression checks the expression's opcode and result type.
// OpcodeGlobalGet may only reference an imported immutable global, as
// module-defined globals are not yet initialized when the expression runs.
func (m *Module) validateConstExpression(expr *ConstantExpression, expected ValueType, importedGlobals uint32) error {
	if expr == nil {
		return fmt.Errorf("missing constant expression")
	}
	var actual ValueType
	switch expr.Opcode {
	case OpcodeI32Const:
		actual = ValueTypeI32
	case OpcodeI64Const:
		actual = ValueTypeI64
	case OpcodeF32Const:
		actual = ValueTypeF32
	case OpcodeF64Const:
		actual = ValueTypeF64
	case OpcodeGlobalGet:
		idx := uint32(expr.Value)
		if idx >= importedGlobals {
			return fmt.Errorf("global.get %d: out of range of imported globals", idx)
		}
		gt := m.GlobalTypes()[idx]
		if gt.Mutable {
			return fmt.Errorf("global.get %d: constant expressions cannot reference mutable globals", idx)
		}
		actual = gt.ValType
	default:
		return fmt.Errorf("invalid constant expression opcode: %s", InstructionName(expr.Opcode))
	}
	if actual != expected {
		return fmt.Errorf("constant expression has type %s but %s was expected",
			ValueTypeName(actual), ValueTypeName(expected))
	}
	return nil
}

func validateLimits(l *Limits, hardMax uint32) error {
	if l == nil {
		return fmt.Errorf("missing limits")
	}
	if l.Min > hardMax {
		return fmt.Errorf("min %d exceeds limit %d", l.Min, hardMax)
	}
	if l.Max != nil {
		if *l.Max > hardMax {
			return fmt.Errorf("max %d exceeds limit %d", *l.Max, hardMax)
		}
		if *l.Max < l.Min {
			return fmt.Errorf("max %d is less than min %d", *l.Max, l.Min)
		}
	}
	return nil
}

// AppendEncoding appends a deterministic byte encoding of the module to buf
// and returns the extended slice. Two structurally identical modules produce
// identical encodings, making the result usable as content-hash input for a
// compilation cache. The encoding is not the Wasm binary format.
func (m *Module) AppendEncoding(buf []byte) []byte {
	u32 := func(v uint32) {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	u64 := func(v uint64) {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	str := func(s string) {
		u32(uint32(len(s)))
		buf = append(buf, s...)
	}
	limits := func(l *Limits) {
		if l == nil {
			buf = append(buf, 0)
			return
		}
		buf = append(buf, 1)
		u32(l.Min)
		if l.Max != nil {
			buf = append(buf, 1)
			u32(*l.Max)
		} else {
			buf = append(buf, 0)
		}
	}
	expr := func(e *ConstantExpression) {
		buf = append(buf, e.Opcode)
		u64(e.Value)
	}

	u32(uint32(len(m.TypeSection)))
	for _, t := range m.TypeSection {
		str(t.String())
	}
	u32(uint32(len(m.ImportSection)))
	for _, im := range m.ImportSection {
		buf = append(buf, im.Type)
		str(im.Module)
		str(im.Name)
		switch im.Type {
		case ExternTypeFunc:
			u32(im.DescFunc)
		case ExternTypeTable:
			limits(im.DescTable)
		case ExternTypeMemory:
			limits(im.DescMem)
		case ExternTypeGlobal:
			buf = append(buf, im.DescGlobal.ValType, boolByte(im.DescGlobal.Mutable))
		}
	}
	u32(uint32(len(m.FunctionSection)))
	for _, idx := range m.FunctionSection {
		u32(idx)
	}
	limits(m.TableSection)
	limits(m.MemorySection)
	u32(uint32(len(m.GlobalSection)))
	for _, g := range m.GlobalSection {
		buf = append(buf, g.Type.ValType, boolByte(g.Type.Mutable))
		expr(g.Init)
	}
	u32(uint32(len(m.ExportSection)))
	for _, e := range m.ExportSection {
		buf = append(buf, e.Type)
		str(e.Name)
		u32(e.Index)
	}
	if m.StartSection != nil {
		buf = append(buf, 1)
		u32(*m.StartSection)
	} else {
		buf = append(buf, 0)
	}
	u32(uint32(len(m.ElementSection)))
	for _, e := range m.ElementSection {
		expr(e.OffsetExpr)
		u32(uint32(len(e.Init)))
		for _, idx := range e.Init {
			u32(idx)
		}
	}
	u32(uint32(len(m.DataSection)))
	for _, d := range m.DataSection {
		expr(d.OffsetExpr)
		u32(uint32(len(d.Init)))
		buf = append(buf, d.Init...)
	}
	u32(uint32(len(m.CodeSection)))
	for _, c := range m.CodeSection {
		u32(uint32(len(c.LocalTypes)))
		buf = append(buf, c.LocalTypes...)
		u32(uint32(len(c.Body)))
		for i := range c.Body {
			instr := &c.Body[i]
			buf = append(buf, instr.Opcode, instr.BlockType)
			u64(instr.U1)
			u64(instr.U2)
			u32(uint32(len(instr.Targets)))
			for _, t := range instr.Targets {
				u32(t)
			}
		}
	}
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
