package regcode

import (
	"github.com/varmint/varmint/wasm"
)

// regFor returns a register holding the given popped operand. Constants are
// written to the canonical slot of the stack depth they occupied, which is
// free once popped; register operands are used in place.
//
// Must only be called in reachable code.
func (c *compiler) regFor(e ventry, oldDepth int) Reg {
	if e.kind == vConst {
		slot := c.slotOf(oldDepth)
		c.emit(Instruction{Op: OpConst, Dst: slot, Imm: e.imm})
		return slot
	}
	return e.reg
}

// lower validates one decoded instruction and, when reachable, emits its
// register bytecode.
func (c *compiler) lower(instr *wasm.Instruction) error {
	switch instr.Opcode {
	case wasm.OpcodeUnreachable:
		if c.reachable() {
			c.emit(Instruction{Op: OpUnreachable})
		}
		c.setUnreachable()
		return nil

	case wasm.OpcodeNop:
		return nil

	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		results, err := blockResults(instr.BlockType)
		if err != nil {
			return c.errf("%v", err)
		}
		c.materializeAll()
		frame := ctrlFrame{
			opcode:      instr.Opcode,
			results:     results,
			height:      c.height(),
			unreachable: !c.reachable(),
			elsePatch:   -1,
		}
		if instr.Opcode == wasm.OpcodeLoop {
			frame.loopStart = c.pc()
		}
		c.ctrl = append(c.ctrl, frame)
		return nil

	case wasm.OpcodeIf:
		results, err := blockResults(instr.BlockType)
		if err != nil {
			return c.errf("%v", err)
		}
		h0 := c.height()
		condE, err := c.popExpect(wasm.ValueTypeI32)
		if err != nil {
			return err
		}
		elsePatch := -1
		dead := !c.reachable()
		if !dead {
			condReg := c.regFor(condE, h0-1)
			c.materializeAll()
			elsePatch = c.emit(Instruction{Op: OpBrIfZero, Src1: condReg})
		}
		c.ctrl = append(c.ctrl, ctrlFrame{
			opcode:      wasm.OpcodeIf,
			results:     results,
			height:      c.height(),
			unreachable: dead,
			elsePatch:   elsePatch,
		})
		return nil

	case wasm.OpcodeElse:
		frame := &c.ctrl[len(c.ctrl)-1]
		if frame.opcode != wasm.OpcodeIf || frame.hasElse {
			return c.errf("else must follow an if")
		}
		thenReachable := !frame.unreachable
		if thenReachable {
			c.materializeAll()
		}
		if err := c.popFrameResults(frame); err != nil {
			return err
		}
		if thenReachable {
			// The then arm falls through over the else arm to the end.
			j := c.emit(Instruction{Op: OpBr})
			frame.patches = append(frame.patches, branchPatch{instr: j, slot: -1})
		}
		dead := frame.elsePatch == -1
		if frame.elsePatch >= 0 {
			c.instrs[frame.elsePatch].Imm = uint64(c.pc())
			frame.elsePatch = -1
		}
		frame.hasElse = true
		frame.unreachable = dead
		return nil

	case wasm.OpcodeEnd:
		frame := &c.ctrl[len(c.ctrl)-1]
		if frame.opcode == wasm.OpcodeIf && !frame.hasElse && len(frame.results) > 0 {
			return c.errf("if without else must have an empty result type")
		}
		if !frame.unreachable {
			c.materializeAll()
		}
		if err := c.popFrameResults(frame); err != nil {
			return err
		}
		c.resolvePatches(frame, c.pc())
		if frame.elsePatch >= 0 {
			c.instrs[frame.elsePatch].Imm = uint64(c.pc())
		}
		results, height := frame.results, frame.height
		c.ctrl = c.ctrl[:len(c.ctrl)-1]
		if len(c.ctrl) == 0 {
			// Function end: branches to the body label land on the return.
			c.emit(Instruction{Op: OpReturn, Src1: Reg(c.localRegs)})
			return nil
		}
		for i, t := range results {
			c.push(t, ventry{kind: vReg, reg: c.slotOf(height + i)})
		}
		return nil

	case wasm.OpcodeBr:
		frame, err := c.frameAt(instr.U1)
		if err != nil {
			return err
		}
		labels := frame.labelTypes()
		var ve ventry
		if len(labels) == 1 {
			if ve, err = c.popExpect(labels[0]); err != nil {
				return err
			}
		}
		if c.reachable() {
			if len(labels) == 1 {
				c.emitLabelValue(frame, ve)
			}
			j := c.emit(Instruction{Op: OpBr})
			c.branchTarget(frame, j, -1)
		}
		c.setUnreachable()
		return nil

	case wasm.OpcodeBrIf:
		h0 := c.height()
		condE, err := c.popExpect(wasm.ValueTypeI32)
		if err != nil {
			return err
		}
		frame, err := c.frameAt(instr.U1)
		if err != nil {
			return err
		}
		labels := frame.labelTypes()
		var ve ventry
		var vt wasm.ValueType
		if len(labels) == 1 {
			if ve, vt, err = c.pop(); err != nil {
				return err
			}
			if vt != labels[0] && vt != valueTypeUnknown {
				return c.errf("type mismatch on branch: expected %s, but was %s",
					wasm.ValueTypeName(labels[0]), wasm.ValueTypeName(vt))
			}
		}
		if c.reachable() {
			condReg := c.regFor(condE, h0-1)
			targetSlot := c.slotOf(frame.height)
			if len(labels) == 1 && !(ve.kind == vReg && ve.reg == targetSlot) {
				// The carried value is not already in the label's slot, so
				// the taken path needs a copy the fall-through must skip.
				c.emit(Instruction{Op: OpBrIfZero, Src1: condReg, Imm: uint64(c.pc() + 3)})
				c.emitLabelValue(frame, ve)
				j := c.emit(Instruction{Op: OpBr})
				c.branchTarget(frame, j, -1)
			} else {
				j := c.emit(Instruction{Op: OpBrIf, Src1: condReg})
				c.branchTarget(frame, j, -1)
			}
		}
		if len(labels) == 1 {
			c.push(vt, ve) // the value stays on the fall-through path
		}
		return nil

	case wasm.OpcodeBrTable:
		h0 := c.height()
		idxE, err := c.popExpect(wasm.ValueTypeI32)
		if err != nil {
			return err
		}
		defFrame, err := c.frameAt(instr.U1)
		if err != nil {
			return err
		}
		labels := defFrame.labelTypes()
		frames := make([]*ctrlFrame, 0, len(instr.Targets)+1)
		for _, depth := range instr.Targets {
			f, err := c.frameAt(uint64(depth))
			if err != nil {
				return err
			}
			if !labelTypesEqual(f.labelTypes(), labels) {
				return c.errf("br_table targets must have the same label types")
			}
			frames = append(frames, f)
		}
		frames = append(frames, defFrame)
		var ve ventry
		if len(labels) == 1 {
			if ve, err = c.popExpect(labels[0]); err != nil {
				return err
			}
		}
		if c.reachable() {
			// The carried value must be in a register before the jump;
			// anything emitted after OpBrTable is skipped over.
			var srcReg Reg
			if len(labels) == 1 {
				srcReg = c.regFor(ve, h0-2)
			}
			idxReg := c.regFor(idxE, h0-1)
			bt := c.emit(Instruction{Op: OpBrTable, Src1: idxReg, Targets: make([]uint32, len(frames))})
			if len(labels) == 0 {
				for i, f := range frames {
					c.branchTarget(f, bt, i)
				}
			} else {
				// Each target may keep its carried value in a different
				// slot, so each table entry jumps through a small stub
				// that moves the value before branching.
				for i, f := range frames {
					c.instrs[bt].Targets[i] = uint32(c.pc())
					if targetSlot := c.slotOf(f.height); targetSlot != srcReg {
						c.emit(Instruction{Op: OpCopy, Dst: targetSlot, Src1: srcReg})
					}
					j := c.emit(Instruction{Op: OpBr})
					c.branchTarget(f, j, -1)
				}
			}
		}
		c.setUnreachable()
		return nil

	case wasm.OpcodeReturn:
		h0 := c.height()
		var ve ventry
		arity := len(c.sig.Results)
		if arity == 1 {
			var err error
			if ve, err = c.popExpect(c.sig.Results[0]); err != nil {
				return err
			}
		}
		if c.reachable() {
			ret := Instruction{Op: OpReturn}
			if arity == 1 {
				ret.Src1 = c.regFor(ve, h0-1)
			}
			c.emit(ret)
		}
		c.setUnreachable()
		return nil

	case wasm.OpcodeCall:
		fidx := uint32(instr.U1)
		if fidx >= uint32(len(c.funcTypes)) {
			return c.errf("function index %d out of range", fidx)
		}
		return c.lowerCall(Instruction{Op: OpCall, Imm: uint64(fidx)}, c.funcTypes[fidx])

	case wasm.OpcodeCallIndirect:
		typeIdx := uint32(instr.U1)
		if !c.module.HasTable() {
			return c.errf("call_indirect requires a table")
		}
		if typeIdx >= uint32(len(c.module.TypeSection)) {
			return c.errf("type index %d out of range", typeIdx)
		}
		h0 := c.height()
		idxE, err := c.popExpect(wasm.ValueTypeI32)
		if err != nil {
			return err
		}
		var idxReg Reg
		if c.reachable() {
			idxReg = c.regFor(idxE, h0-1)
		}
		return c.lowerCall(Instruction{Op: OpCallIndirect, Imm: uint64(typeIdx), Src2: idxReg},
			c.module.TypeSection[typeIdx])

	case wasm.OpcodeDrop:
		_, _, err := c.pop()
		return err

	case wasm.OpcodeSelect:
		h0 := c.height()
		condE, err := c.popExpect(wasm.ValueTypeI32)
		if err != nil {
			return err
		}
		e2, t2, err := c.pop()
		if err != nil {
			return err
		}
		e1, t1, err := c.pop()
		if err != nil {
			return err
		}
		if t1 != t2 && t1 != valueTypeUnknown && t2 != valueTypeUnknown {
			return c.errf("select operands must have the same type, but got %s and %s",
				wasm.ValueTypeName(t1), wasm.ValueTypeName(t2))
		}
		resultType := t1
		if resultType == valueTypeUnknown {
			resultType = t2
		}
		if c.reachable() {
			condReg := c.regFor(condE, h0-1)
			src2 := c.regFor(e2, h0-2)
			src1 := c.regFor(e1, h0-3)
			dst := c.slotOf(c.height())
			c.emit(Instruction{Op: OpSelect, Dst: dst, Src1: src1, Src2: src2, Imm: uint64(condReg)})
		}
		c.pushCanonical(resultType)
		return nil

	case wasm.OpcodeLocalGet:
		t, err := c.localType(instr.U1)
		if err != nil {
			return err
		}
		// No copy yet: the value aliases the local register until an
		// instruction needs it elsewhere or the local is overwritten.
		c.push(t, ventry{kind: vReg, reg: Reg(instr.U1)})
		return nil

	case wasm.OpcodeLocalSet:
		t, err := c.localType(instr.U1)
		if err != nil {
			return err
		}
		e, err := c.popExpect(t)
		if err != nil {
			return err
		}
		if c.reachable() {
			c.writeLocal(Reg(instr.U1), e)
		}
		return nil

	case wasm.OpcodeLocalTee:
		t, err := c.localType(instr.U1)
		if err != nil {
			return err
		}
		e, err := c.popExpect(t)
		if err != nil {
			return err
		}
		if c.reachable() {
			c.writeLocal(Reg(instr.U1), e)
		}
		c.push(t, ventry{kind: vReg, reg: Reg(instr.U1)})
		return nil

	case wasm.OpcodeGlobalGet:
		gidx := uint32(instr.U1)
		if gidx >= uint32(len(c.globalTypes)) {
			return c.errf("global index %d out of range", gidx)
		}
		t := c.globalTypes[gidx].ValType
		if c.reachable() {
			c.emit(Instruction{Op: OpGlobalGet, Dst: c.slotOf(c.height()), Imm: uint64(gidx)})
		}
		c.pushCanonical(t)
		return nil

	case wasm.OpcodeGlobalSet:
		gidx := uint32(instr.U1)
		if gidx >= uint32(len(c.globalTypes)) {
			return c.errf("global index %d out of range", gidx)
		}
		gt := c.globalTypes[gidx]
		if !gt.Mutable {
			return c.errf("global %d is immutable", gidx)
		}
		h0 := c.height()
		e, err := c.popExpect(gt.ValType)
		if err != nil {
			return err
		}
		if c.reachable() {
			c.emit(Instruction{Op: OpGlobalSet, Src1: c.regFor(e, h0-1), Imm: uint64(gidx)})
		}
		return nil

	case wasm.OpcodeI32Const:
		c.push(wasm.ValueTypeI32, ventry{kind: vConst, imm: instr.U1})
		return nil
	case wasm.OpcodeI64Const:
		c.push(wasm.ValueTypeI64, ventry{kind: vConst, imm: instr.U1})
		return nil
	case wasm.OpcodeF32Const:
		c.push(wasm.ValueTypeF32, ventry{kind: vConst, imm: instr.U1})
		return nil
	case wasm.OpcodeF64Const:
		c.push(wasm.ValueTypeF64, ventry{kind: vConst, imm: instr.U1})
		return nil
	}

	if handled, err := c.lowerMemory(instr); handled {
		return err
	}
	return c.lowerNumeric(instr)
}

// emitLabelValue moves a branch's carried value into the target label's
// canonical slot, unless it is already there.
func (c *compiler) emitLabelValue(frame *ctrlFrame, e ventry) {
	targetSlot := c.slotOf(frame.height)
	if e.kind == vConst {
		c.emit(Instruction{Op: OpConst, Dst: targetSlot, Imm: e.imm})
		return
	}
	if e.reg != targetSlot {
		c.emit(Instruction{Op: OpCopy, Dst: targetSlot, Src1: e.reg})
	}
}

// writeLocal assigns a popped operand to a local register, spilling any
// stack operand still aliasing the local's previous value. A self-assignment
// emits nothing.
func (c *compiler) writeLocal(local Reg, e ventry) {
	c.spillLocal(local)
	if e.kind == vConst {
		c.emit(Instruction{Op: OpConst, Dst: local, Imm: e.imm})
		return
	}
	if e.reg != local {
		c.emit(Instruction{Op: OpCopy, Dst: local, Src1: e.reg})
	}
}

func (c *compiler) localType(idx uint64) (wasm.ValueType, error) {
	if idx >= uint64(len(c.localTypes)) {
		return 0, c.errf("local index %d out of range", idx)
	}
	return c.localTypes[idx], nil
}

// lowerCall validates and emits a direct or indirect call. Arguments are
// forced into their canonical slots, which are contiguous at the top of the
// simulated stack; the callee's frame is based at the first of them so no
// separate argument copy is needed at run time.
func (c *compiler) lowerCall(call Instruction, sig *wasm.FunctionType) error {
	n := len(sig.Params)
	if c.reachable() {
		frameHeight := c.ctrl[len(c.ctrl)-1].height
		for d := c.height() - n; d < c.height(); d++ {
			if d >= frameHeight && d >= 0 {
				c.materialize(d)
			}
		}
	}
	for i := n - 1; i >= 0; i-- {
		if _, err := c.popExpect(sig.Params[i]); err != nil {
			return err
		}
	}
	if c.reachable() {
		call.Src1 = c.slotOf(c.height())
		c.emit(call)
	}
	for _, t := range sig.Results {
		c.pushCanonical(t)
	}
	return nil
}

func labelTypesEqual(a, b []wasm.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
