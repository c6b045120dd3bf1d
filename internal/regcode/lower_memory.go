package regcode

import (
	"github.com/varmint/varmint/wasm"
)

// memAccess describes how one memory opcode lowers: the register op and type
// tag, the operand value type, and the maximum alignment exponent the
// instruction may declare.
type memAccess struct {
	op       Op
	t        byte
	vt       wasm.ValueType
	alignMax uint64
}

var loadOps = map[wasm.Opcode]memAccess{
	wasm.OpcodeI32Load:    {OpLoad, UnsignedTypeI32, wasm.ValueTypeI32, 2},
	wasm.OpcodeI64Load:    {OpLoad, UnsignedTypeI64, wasm.ValueTypeI64, 3},
	wasm.OpcodeF32Load:    {OpLoad, UnsignedTypeF32, wasm.ValueTypeF32, 2},
	wasm.OpcodeF64Load:    {OpLoad, UnsignedTypeF64, wasm.ValueTypeF64, 3},
	wasm.OpcodeI32Load8S:  {OpLoad8, SignedInt32, wasm.ValueTypeI32, 0},
	wasm.OpcodeI32Load8U:  {OpLoad8, SignedUint32, wasm.ValueTypeI32, 0},
	wasm.OpcodeI32Load16S: {OpLoad16, SignedInt32, wasm.ValueTypeI32, 1},
	wasm.OpcodeI32Load16U: {OpLoad16, SignedUint32, wasm.ValueTypeI32, 1},
	wasm.OpcodeI64Load8S:  {OpLoad8, SignedInt64, wasm.ValueTypeI64, 0},
	wasm.OpcodeI64Load8U:  {OpLoad8, SignedUint64, wasm.ValueTypeI64, 0},
	wasm.OpcodeI64Load16S: {OpLoad16, SignedInt64, wasm.ValueTypeI64, 1},
	wasm.OpcodeI64Load16U: {OpLoad16, SignedUint64, wasm.ValueTypeI64, 1},
	wasm.OpcodeI64Load32S: {OpLoad32, 1, wasm.ValueTypeI64, 2},
	wasm.OpcodeI64Load32U: {OpLoad32, 0, wasm.ValueTypeI64, 2},
}

var storeOps = map[wasm.Opcode]memAccess{
	wasm.OpcodeI32Store:   {OpStore, UnsignedTypeI32, wasm.ValueTypeI32, 2},
	wasm.OpcodeI64Store:   {OpStore, UnsignedTypeI64, wasm.ValueTypeI64, 3},
	wasm.OpcodeF32Store:   {OpStore, UnsignedTypeF32, wasm.ValueTypeF32, 2},
	wasm.OpcodeF64Store:   {OpStore, UnsignedTypeF64, wasm.ValueTypeF64, 3},
	wasm.OpcodeI32Store8:  {OpStore8, 0, wasm.ValueTypeI32, 0},
	wasm.OpcodeI32Store16: {OpStore16, 0, wasm.ValueTypeI32, 1},
	wasm.OpcodeI64Store8:  {OpStore8, 0, wasm.ValueTypeI64, 0},
	wasm.OpcodeI64Store16: {OpStore16, 0, wasm.ValueTypeI64, 1},
	wasm.OpcodeI64Store32: {OpStore32, 0, wasm.ValueTypeI64, 2},
}

// lowerMemory handles loads, stores, memory.size and memory.grow. It reports
// whether the opcode was one of those.
func (c *compiler) lowerMemory(instr *wasm.Instruction) (bool, error) {
	if acc, ok := loadOps[instr.Opcode]; ok {
		return true, c.lowerLoad(instr, acc)
	}
	if acc, ok := storeOps[instr.Opcode]; ok {
		return true, c.lowerStore(instr, acc)
	}
	switch instr.Opcode {
	case wasm.OpcodeMemorySize:
		if !c.module.HasMemory() {
			return true, c.errf("memory instruction requires a memory")
		}
		if c.reachable() {
			c.emit(Instruction{Op: OpMemorySize, Dst: c.slotOf(c.height())})
		}
		c.pushCanonical(wasm.ValueTypeI32)
		return true, nil
	case wasm.OpcodeMemoryGrow:
		if !c.module.HasMemory() {
			return true, c.errf("memory instruction requires a memory")
		}
		h0 := c.height()
		deltaE, err := c.popExpect(wasm.ValueTypeI32)
		if err != nil {
			return true, err
		}
		if c.reachable() {
			delta := c.regFor(deltaE, h0-1)
			c.emit(Instruction{Op: OpMemoryGrow, Dst: c.slotOf(c.height()), Src1: delta})
		}
		c.pushCanonical(wasm.ValueTypeI32)
		return true, nil
	}
	return false, nil
}

func (c *compiler) checkMemArg(instr *wasm.Instruction, alignMax uint64) error {
	if !c.module.HasMemory() {
		return c.errf("memory instruction requires a memory")
	}
	if instr.U2 > alignMax {
		return c.errf("alignment 2^%d exceeds the access width", instr.U2)
	}
	return nil
}

func (c *compiler) lowerLoad(instr *wasm.Instruction, acc memAccess) error {
	if err := c.checkMemArg(instr, acc.alignMax); err != nil {
		return err
	}
	h0 := c.height()
	addrE, err := c.popExpect(wasm.ValueTypeI32)
	if err != nil {
		return err
	}
	if c.reachable() {
		addr := c.regFor(addrE, h0-1)
		c.emit(Instruction{Op: acc.op, T: acc.t, Dst: c.slotOf(c.height()), Src1: addr, Imm: instr.U1})
	}
	c.pushCanonical(acc.vt)
	return nil
}

func (c *compiler) lowerStore(instr *wasm.Instruction, acc memAccess) error {
	if err := c.checkMemArg(instr, acc.alignMax); err != nil {
		return err
	}
	h0 := c.height()
	valE, err := c.popExpect(acc.vt)
	if err != nil {
		return err
	}
	addrE, err := c.popExpect(wasm.ValueTypeI32)
	if err != nil {
		return err
	}
	if c.reachable() {
		val := c.regFor(valE, h0-1)
		addr := c.regFor(addrE, h0-2)
		c.emit(Instruction{Op: acc.op, T: acc.t, Src1: addr, Src2: val, Imm: instr.U1})
	}
	return nil
}
