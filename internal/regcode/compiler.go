package regcode

import (
	"fmt"

	"github.com/varmint/varmint/wasm"
)

// valueTypeUnknown is the polymorphic type assumed for operands popped in
// unreachable code. It satisfies any expected type, which keeps dead code
// after an unconditional branch or trap from being rejected spuriously.
const valueTypeUnknown = wasm.ValueType(0)

// CompileModule validates every function body in m and lowers it to register
// bytecode. m must already have passed Module.Validate; any function failing
// body validation rejects the whole module.
func CompileModule(m *wasm.Module) (*ModuleCode, error) {
	funcTypes := moduleFuncTypes(m)
	globalTypes := m.GlobalTypes()
	importCount := m.ImportFuncCount()

	mc := &ModuleCode{
		Functions:        make([]*Code, len(m.CodeSection)),
		CostModelVersion: CostModelVersion,
	}
	for i, code := range m.CodeSection {
		funcIdx := importCount + uint32(i)
		sig := m.TypeSection[m.FunctionSection[i]]
		c := &compiler{
			module:      m,
			funcTypes:   funcTypes,
			globalTypes: globalTypes,
			funcIdx:     funcIdx,
			sig:         sig,
		}
		compiled, err := c.compile(code)
		if err != nil {
			return nil, fmt.Errorf("invalid function[%d]: %w", funcIdx, err)
		}
		mc.Functions[i] = compiled
	}
	return mc, nil
}

// moduleFuncTypes returns the signature of every function in m's function
// index namespace: imports first, then module-defined functions.
func moduleFuncTypes(m *wasm.Module) []*wasm.FunctionType {
	ret := make([]*wasm.FunctionType, 0, m.ImportFuncCount()+uint32(len(m.FunctionSection)))
	for _, im := range m.ImportSection {
		if im.Type == wasm.ExternTypeFunc {
			ret = append(ret, m.TypeSection[im.DescFunc])
		}
	}
	for _, typeIdx := range m.FunctionSection {
		ret = append(ret, m.TypeSection[typeIdx])
	}
	return ret
}

// vkind discriminates how a simulated operand-stack entry is represented.
type vkind byte

const (
	// vReg means the value lives in a register already: either its
	// canonical stack slot, or a local register it aliases (a local.get
	// whose copy has not been forced yet).
	vReg vkind = iota
	// vConst means the value is a constant not yet written to a register.
	vConst
)

// ventry is one simulated operand-stack value. Aliased locals and constants
// stay unmaterialized until an instruction needs them in their canonical
// slot, which elides most of the register copies naive stack-to-register
// lowering would produce.
type ventry struct {
	kind vkind
	reg  Reg
	imm  uint64
}

// ctrlFrame records one open structured-control construct, mirroring the
// validation algorithm's control stack.
type ctrlFrame struct {
	// opcode is wasm.OpcodeBlock, OpcodeLoop or OpcodeIf. The implicit
	// function-body frame uses OpcodeBlock.
	opcode wasm.Opcode
	// results are the construct's label result types, at most one.
	results []wasm.ValueType
	// height is the operand stack height at entry, the checkpoint every
	// structured exit must restore.
	height int
	// unreachable is set once control cannot reach the current position,
	// enabling polymorphic validation of the remaining dead code.
	unreachable bool
	// loopStart is the absolute offset branches to a loop label target.
	loopStart int
	// patches are emitted branch operands awaiting this construct's end
	// offset.
	patches []branchPatch
	// elsePatch is the conditional branch emitted at if, patched to the
	// else arm or the end. -1 when absent.
	elsePatch int
	hasElse   bool
}

// labelArity returns the types a branch to this frame's label carries:
// loop labels carry nothing, other labels their results.
func (f *ctrlFrame) labelTypes() []wasm.ValueType {
	if f.opcode == wasm.OpcodeLoop {
		return nil
	}
	return f.results
}

// branchPatch locates one unresolved branch target operand: instruction
// instr's Imm when slot is -1, otherwise instr's Targets[slot].
type branchPatch struct {
	instr int
	slot  int
}

type compiler struct {
	module      *wasm.Module
	funcTypes   []*wasm.FunctionType
	globalTypes []*wasm.GlobalType
	funcIdx     wasm.Index
	sig         *wasm.FunctionType

	localTypes []wasm.ValueType
	localRegs  int

	typeStack []wasm.ValueType
	vstack    []ventry
	ctrl      []ctrlFrame
	maxHeight int

	instrs []Instruction

	// pos is the index of the instruction being checked, for error reports.
	pos  int
	body []wasm.Instruction
}

// compile runs the one-pass validation and lowering of a function body.
func (c *compiler) compile(code *wasm.Code) (*Code, error) {
	c.localTypes = append(append([]wasm.ValueType{}, c.sig.Params...), code.LocalTypes...)
	c.localRegs = len(c.localTypes)
	c.body = code.Body
	c.ctrl = append(c.ctrl, ctrlFrame{
		opcode:    wasm.OpcodeBlock,
		results:   c.sig.Results,
		elsePatch: -1,
	})

	for c.pos = 0; c.pos < len(c.body); c.pos++ {
		if len(c.ctrl) == 0 {
			return nil, c.errf("instruction after the function's final end")
		}
		if err := c.lower(&c.body[c.pos]); err != nil {
			return nil, err
		}
	}
	if len(c.ctrl) != 0 {
		return nil, fmt.Errorf("function body is not terminated by end")
	}

	slots := c.localRegs + c.maxHeight
	if slots > 65536 {
		return nil, fmt.Errorf("function requires %d register slots, exceeding the limit", slots)
	}
	return &Code{
		Index:     c.funcIdx,
		Instrs:    c.instrs,
		Params:    uint32(len(c.sig.Params)),
		LocalRegs: uint32(c.localRegs),
		Slots:     uint32(slots),
		Results:   uint32(len(c.sig.Results)),
	}, nil
}

func (c *compiler) errf(format string, args ...interface{}) error {
	var name string
	if c.pos < len(c.body) {
		name = wasm.InstructionName(c.body[c.pos].Opcode)
	} else {
		name = "end of body"
	}
	return fmt.Errorf("instruction %d (%s): %s", c.pos, name, fmt.Sprintf(format, args...))
}

// reachable reports whether the current position can be executed. Emission
// is suppressed in unreachable code; validation continues.
func (c *compiler) reachable() bool {
	return !c.ctrl[len(c.ctrl)-1].unreachable
}

func (c *compiler) height() int {
	return len(c.typeStack)
}

// slotOf is the canonical register slot of the operand-stack value at the
// given depth from the bottom of the function's simulated stack.
func (c *compiler) slotOf(depth int) Reg {
	return Reg(c.localRegs + depth)
}

func (c *compiler) push(t wasm.ValueType, e ventry) {
	c.typeStack = append(c.typeStack, t)
	c.vstack = append(c.vstack, e)
	if h := len(c.typeStack); h > c.maxHeight {
		c.maxHeight = h
	}
}

// pushCanonical pushes a value produced directly into its canonical slot
// and returns that slot for use as the producing instruction's destination.
func (c *compiler) pushCanonical(t wasm.ValueType) Reg {
	slot := c.slotOf(c.height())
	c.push(t, ventry{kind: vReg, reg: slot})
	return slot
}

// pop removes and returns the top operand, enforcing the current control
// frame's height checkpoint. In unreachable code, popping below the
// checkpoint yields the polymorphic unknown type.
func (c *compiler) pop() (ventry, wasm.ValueType, error) {
	frame := &c.ctrl[len(c.ctrl)-1]
	if len(c.typeStack) == frame.height {
		if frame.unreachable {
			return ventry{kind: vConst}, valueTypeUnknown, nil
		}
		return ventry{}, 0, c.errf("operand stack underflows the enclosing block")
	}
	top := len(c.typeStack) - 1
	t := c.typeStack[top]
	e := c.vstack[top]
	c.typeStack = c.typeStack[:top]
	c.vstack = c.vstack[:top]
	return e, t, nil
}

// popExpect pops the top operand and checks its type.
func (c *compiler) popExpect(expected wasm.ValueType) (ventry, error) {
	e, actual, err := c.pop()
	if err != nil {
		return e, err
	}
	if actual != expected && actual != valueTypeUnknown {
		return e, c.errf("type mismatch: expected %s, but was %s",
			wasm.ValueTypeName(expected), wasm.ValueTypeName(actual))
	}
	return e, nil
}

// emit appends one instruction, annotating its static fuel cost, and returns
// its offset. Callers must only emit in reachable code.
func (c *compiler) emit(instr Instruction) int {
	instr.Cost = CostOf(instr.Op)
	c.instrs = append(c.instrs, instr)
	return len(c.instrs) - 1
}

func (c *compiler) pc() int {
	return len(c.instrs)
}

// materialize forces the operand at the given stack depth into its canonical
// slot, emitting a const write or register copy when it is elsewhere. It is
// a no-op for operands already home, and in unreachable code.
func (c *compiler) materialize(depth int) {
	if !c.reachable() {
		return
	}
	e := &c.vstack[depth]
	slot := c.slotOf(depth)
	switch e.kind {
	case vConst:
		c.emit(Instruction{Op: OpConst, Dst: slot, Imm: e.imm})
	case vReg:
		if e.reg == slot {
			return
		}
		c.emit(Instruction{Op: OpCopy, Dst: slot, Src1: e.reg})
	}
	*e = ventry{kind: vReg, reg: slot}
}

// materializeAll forces every live operand into its canonical slot. Control
// boundaries require this so that all paths agree on where values live.
func (c *compiler) materializeAll() {
	for d := range c.vstack {
		c.materialize(d)
	}
}

// spillLocal materializes any stack operand aliasing the given local
// register, which is about to be overwritten.
func (c *compiler) spillLocal(local Reg) {
	for d := range c.vstack {
		if e := &c.vstack[d]; e.kind == vReg && e.reg == local {
			c.materialize(d)
		}
	}
}

// setUnreachable truncates the simulated stack to the current frame's
// checkpoint and marks the remainder of the frame as dead code.
func (c *compiler) setUnreachable() {
	frame := &c.ctrl[len(c.ctrl)-1]
	c.typeStack = c.typeStack[:frame.height]
	c.vstack = c.vstack[:frame.height]
	frame.unreachable = true
}

// blockResults converts a decoded block type into label result types.
func blockResults(bt byte) ([]wasm.ValueType, error) {
	switch bt {
	case wasm.BlockTypeEmpty:
		return nil, nil
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return []wasm.ValueType{bt}, nil
	}
	return nil, fmt.Errorf("invalid block type %#x", bt)
}

// popFrameResults validates that the operand stack matches the frame's
// result signature exactly, leaving the stack truncated to the checkpoint.
func (c *compiler) popFrameResults(frame *ctrlFrame) error {
	for i := len(frame.results) - 1; i >= 0; i-- {
		if _, err := c.popExpect(frame.results[i]); err != nil {
			return err
		}
	}
	if len(c.typeStack) != frame.height {
		if frame.unreachable {
			c.typeStack = c.typeStack[:frame.height]
			c.vstack = c.vstack[:frame.height]
			return nil
		}
		return c.errf("%d values remain on the stack at the end of the block",
			len(c.typeStack)-frame.height)
	}
	return nil
}

// resolvePatches points every pending branch of the frame at the given
// absolute offset.
func (c *compiler) resolvePatches(frame *ctrlFrame, target int) {
	for _, p := range frame.patches {
		if p.slot < 0 {
			c.instrs[p.instr].Imm = uint64(target)
		} else {
			c.instrs[p.instr].Targets[p.slot] = uint32(target)
		}
	}
	frame.patches = nil
}

// branchTarget records where a branch to the given frame should go: loops
// resolve immediately to their start, forward branches join the patch list.
func (c *compiler) branchTarget(frame *ctrlFrame, instr, slot int) {
	if frame.opcode == wasm.OpcodeLoop {
		if slot < 0 {
			c.instrs[instr].Imm = uint64(frame.loopStart)
		} else {
			c.instrs[instr].Targets[slot] = uint32(frame.loopStart)
		}
		return
	}
	frame.patches = append(frame.patches, branchPatch{instr: instr, slot: slot})
}

func (c *compiler) frameAt(depth uint64) (*ctrlFrame, error) {
	if depth >= uint64(len(c.ctrl)) {
		return nil, c.errf("unknown label %d", depth)
	}
	return &c.ctrl[len(c.ctrl)-1-int(depth)], nil
}
