package regcode

import (
	"github.com/varmint/varmint/wasm"
)

// numOp describes how one numeric opcode lowers: the register op, its type
// tags, and the validation signature.
type numOp struct {
	op      Op
	t, t2   byte
	arity   int
	operand wasm.ValueType
	result  wasm.ValueType
}

const (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
	f32 = wasm.ValueTypeF32
	f64 = wasm.ValueTypeF64
)

var numericOps = map[wasm.Opcode]numOp{
	wasm.OpcodeI32Eqz: {OpEqz, UnsignedTypeI32, 0, 1, i32, i32},
	wasm.OpcodeI32Eq:  {OpEq, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32Ne:  {OpNe, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32LtS: {OpLt, SignedTypeInt32, 0, 2, i32, i32},
	wasm.OpcodeI32LtU: {OpLt, SignedTypeUint32, 0, 2, i32, i32},
	wasm.OpcodeI32GtS: {OpGt, SignedTypeInt32, 0, 2, i32, i32},
	wasm.OpcodeI32GtU: {OpGt, SignedTypeUint32, 0, 2, i32, i32},
	wasm.OpcodeI32LeS: {OpLe, SignedTypeInt32, 0, 2, i32, i32},
	wasm.OpcodeI32LeU: {OpLe, SignedTypeUint32, 0, 2, i32, i32},
	wasm.OpcodeI32GeS: {OpGe, SignedTypeInt32, 0, 2, i32, i32},
	wasm.OpcodeI32GeU: {OpGe, SignedTypeUint32, 0, 2, i32, i32},

	wasm.OpcodeI64Eqz: {OpEqz, UnsignedTypeI64, 0, 1, i64, i32},
	wasm.OpcodeI64Eq:  {OpEq, UnsignedTypeI64, 0, 2, i64, i32},
	wasm.OpcodeI64Ne:  {OpNe, UnsignedTypeI64, 0, 2, i64, i32},
	wasm.OpcodeI64LtS: {OpLt, SignedTypeInt64, 0, 2, i64, i32},
	wasm.OpcodeI64LtU: {OpLt, SignedTypeUint64, 0, 2, i64, i32},
	wasm.OpcodeI64GtS: {OpGt, SignedTypeInt64, 0, 2, i64, i32},
	wasm.OpcodeI64GtU: {OpGt, SignedTypeUint64, 0, 2, i64, i32},
	wasm.OpcodeI64LeS: {OpLe, SignedTypeInt64, 0, 2, i64, i32},
	wasm.OpcodeI64LeU: {OpLe, SignedTypeUint64, 0, 2, i64, i32},
	wasm.OpcodeI64GeS: {OpGe, SignedTypeInt64, 0, 2, i64, i32},
	wasm.OpcodeI64GeU: {OpGe, SignedTypeUint64, 0, 2, i64, i32},

	wasm.OpcodeF32Eq: {OpEq, UnsignedTypeF32, 0, 2, f32, i32},
	wasm.OpcodeF32Ne: {OpNe, UnsignedTypeF32, 0, 2, f32, i32},
	wasm.OpcodeF32Lt: {OpLt, SignedTypeFloat32, 0, 2, f32, i32},
	wasm.OpcodeF32Gt: {OpGt, SignedTypeFloat32, 0, 2, f32, i32},
	wasm.OpcodeF32Le: {OpLe, SignedTypeFloat32, 0, 2, f32, i32},
	wasm.OpcodeF32Ge: {OpGe, SignedTypeFloat32, 0, 2, f32, i32},

	wasm.OpcodeF64Eq: {OpEq, UnsignedTypeF64, 0, 2, f64, i32},
	wasm.OpcodeF64Ne: {OpNe, UnsignedTypeF64, 0, 2, f64, i32},
	wasm.OpcodeF64Lt: {OpLt, SignedTypeFloat64, 0, 2, f64, i32},
	wasm.OpcodeF64Gt: {OpGt, SignedTypeFloat64, 0, 2, f64, i32},
	wasm.OpcodeF64Le: {OpLe, SignedTypeFloat64, 0, 2, f64, i32},
	wasm.OpcodeF64Ge: {OpGe, SignedTypeFloat64, 0, 2, f64, i32},

	wasm.OpcodeI32Clz:    {OpClz, UnsignedTypeI32, 0, 1, i32, i32},
	wasm.OpcodeI32Ctz:    {OpCtz, UnsignedTypeI32, 0, 1, i32, i32},
	wasm.OpcodeI32Popcnt: {OpPopcnt, UnsignedTypeI32, 0, 1, i32, i32},
	wasm.OpcodeI32Add:    {OpAdd, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32Sub:    {OpSub, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32Mul:    {OpMul, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32DivS:   {OpDiv, SignedTypeInt32, 0, 2, i32, i32},
	wasm.OpcodeI32DivU:   {OpDiv, SignedTypeUint32, 0, 2, i32, i32},
	wasm.OpcodeI32RemS:   {OpRem, SignedInt32, 0, 2, i32, i32},
	wasm.OpcodeI32RemU:   {OpRem, SignedUint32, 0, 2, i32, i32},
	wasm.OpcodeI32And:    {OpAnd, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32Or:     {OpOr, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32Xor:    {OpXor, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32Shl:    {OpShl, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32ShrS:   {OpShr, SignedInt32, 0, 2, i32, i32},
	wasm.OpcodeI32ShrU:   {OpShr, SignedUint32, 0, 2, i32, i32},
	wasm.OpcodeI32Rotl:   {OpRotl, UnsignedTypeI32, 0, 2, i32, i32},
	wasm.OpcodeI32Rotr:   {OpRotr, UnsignedTypeI32, 0, 2, i32, i32},

	wasm.OpcodeI64Clz:    {OpClz, UnsignedTypeI64, 0, 1, i64, i64},
	wasm.OpcodeI64Ctz:    {OpCtz, UnsignedTypeI64, 0, 1, i64, i64},
	wasm.OpcodeI64Popcnt: {OpPopcnt, UnsignedTypeI64, 0, 1, i64, i64},
	wasm.OpcodeI64Add:    {OpAdd, UnsignedTypeI64, 0, 2, i64, i64},
	wasm.OpcodeI64Sub:    {OpSub, UnsignedTypeI64, 0, 2, i64, i64},
	wasm.OpcodeI64Mul:    {OpMul, UnsignedTypeI64, 0, 2, i64, i64},
	wasm.OpcodeI64DivS:   {OpDiv, SignedTypeInt64, 0, 2, i64, i64},
	wasm.OpcodeI64DivU:   {OpDiv, SignedTypeUint64, 0, 2, i64, i64},
	wasm.OpcodeI64RemS:   {OpRem, SignedInt64, 0, 2, i64, i64},
	wasm.OpcodeI64RemU:   {OpRem, SignedUint64, 0, 2, i64, i64},
	wasm.OpcodeI64And:    {OpAnd, UnsignedTypeI64, 0, 2, i64, i64},
	wasm.OpcodeI64Or:     {OpOr, UnsignedTypeI64, 0, 2, i64, i64},
	wasm.OpcodeI64Xor:    {OpXor, UnsignedTypeI64, 0, 2, i64, i64},
	wasm.OpcodeI64Shl:    {OpShl, UnsignedTypeI64, 0, 2, i64, i64},
	wasm.OpcodeI64ShrS:   {OpShr, SignedInt64, 0, 2, i64, i64},
	wasm.OpcodeI64ShrU:   {OpShr, SignedUint64, 0, 2, i64, i64},
	wasm.OpcodeI64Rotl:   {OpRotl, UnsignedTypeI64, 0, 2, i64, i64},
	wasm.OpcodeI64Rotr:   {OpRotr, UnsignedTypeI64, 0, 2, i64, i64},

	wasm.OpcodeF32Abs:      {OpAbs, Float32, 0, 1, f32, f32},
	wasm.OpcodeF32Neg:      {OpNeg, Float32, 0, 1, f32, f32},
	wasm.OpcodeF32Ceil:     {OpCeil, Float32, 0, 1, f32, f32},
	wasm.OpcodeF32Floor:    {OpFloor, Float32, 0, 1, f32, f32},
	wasm.OpcodeF32Trunc:    {OpTrunc, Float32, 0, 1, f32, f32},
	wasm.OpcodeF32Nearest:  {OpNearest, Float32, 0, 1, f32, f32},
	wasm.OpcodeF32Sqrt:     {OpSqrt, Float32, 0, 1, f32, f32},
	wasm.OpcodeF32Add:      {OpAdd, UnsignedTypeF32, 0, 2, f32, f32},
	wasm.OpcodeF32Sub:      {OpSub, UnsignedTypeF32, 0, 2, f32, f32},
	wasm.OpcodeF32Mul:      {OpMul, UnsignedTypeF32, 0, 2, f32, f32},
	wasm.OpcodeF32Div:      {OpDiv, SignedTypeFloat32, 0, 2, f32, f32},
	wasm.OpcodeF32Min:      {OpMin, Float32, 0, 2, f32, f32},
	wasm.OpcodeF32Max:      {OpMax, Float32, 0, 2, f32, f32},
	wasm.OpcodeF32Copysign: {OpCopysign, Float32, 0, 2, f32, f32},

	wasm.OpcodeF64Abs:      {OpAbs, Float64, 0, 1, f64, f64},
	wasm.OpcodeF64Neg:      {OpNeg, Float64, 0, 1, f64, f64},
	wasm.OpcodeF64Ceil:     {OpCeil, Float64, 0, 1, f64, f64},
	wasm.OpcodeF64Floor:    {OpFloor, Float64, 0, 1, f64, f64},
	wasm.OpcodeF64Trunc:    {OpTrunc, Float64, 0, 1, f64, f64},
	wasm.OpcodeF64Nearest:  {OpNearest, Float64, 0, 1, f64, f64},
	wasm.OpcodeF64Sqrt:     {OpSqrt, Float64, 0, 1, f64, f64},
	wasm.OpcodeF64Add:      {OpAdd, UnsignedTypeF64, 0, 2, f64, f64},
	wasm.OpcodeF64Sub:      {OpSub, UnsignedTypeF64, 0, 2, f64, f64},
	wasm.OpcodeF64Mul:      {OpMul, UnsignedTypeF64, 0, 2, f64, f64},
	wasm.OpcodeF64Div:      {OpDiv, SignedTypeFloat64, 0, 2, f64, f64},
	wasm.OpcodeF64Min:      {OpMin, Float64, 0, 2, f64, f64},
	wasm.OpcodeF64Max:      {OpMax, Float64, 0, 2, f64, f64},
	wasm.OpcodeF64Copysign: {OpCopysign, Float64, 0, 2, f64, f64},

	wasm.OpcodeI32WrapI64:    {OpI32WrapI64, 0, 0, 1, i64, i32},
	wasm.OpcodeI32TruncF32S:  {OpITruncF, Float32, SignedInt32, 1, f32, i32},
	wasm.OpcodeI32TruncF32U:  {OpITruncF, Float32, SignedUint32, 1, f32, i32},
	wasm.OpcodeI32TruncF64S:  {OpITruncF, Float64, SignedInt32, 1, f64, i32},
	wasm.OpcodeI32TruncF64U:  {OpITruncF, Float64, SignedUint32, 1, f64, i32},
	wasm.OpcodeI64ExtendI32S: {OpExtend, 1, 0, 1, i32, i64},
	wasm.OpcodeI64ExtendI32U: {OpExtend, 0, 0, 1, i32, i64},
	wasm.OpcodeI64TruncF32S:  {OpITruncF, Float32, SignedInt64, 1, f32, i64},
	wasm.OpcodeI64TruncF32U:  {OpITruncF, Float32, SignedUint64, 1, f32, i64},
	wasm.OpcodeI64TruncF64S:  {OpITruncF, Float64, SignedInt64, 1, f64, i64},
	wasm.OpcodeI64TruncF64U:  {OpITruncF, Float64, SignedUint64, 1, f64, i64},

	wasm.OpcodeF32ConvertI32S: {OpFConvertI, SignedInt32, Float32, 1, i32, f32},
	wasm.OpcodeF32ConvertI32U: {OpFConvertI, SignedUint32, Float32, 1, i32, f32},
	wasm.OpcodeF32ConvertI64S: {OpFConvertI, SignedInt64, Float32, 1, i64, f32},
	wasm.OpcodeF32ConvertI64U: {OpFConvertI, SignedUint64, Float32, 1, i64, f32},
	wasm.OpcodeF32DemoteF64:   {OpF32DemoteF64, 0, 0, 1, f64, f32},
	wasm.OpcodeF64ConvertI32S: {OpFConvertI, SignedInt32, Float64, 1, i32, f64},
	wasm.OpcodeF64ConvertI32U: {OpFConvertI, SignedUint32, Float64, 1, i32, f64},
	wasm.OpcodeF64ConvertI64S: {OpFConvertI, SignedInt64, Float64, 1, i64, f64},
	wasm.OpcodeF64ConvertI64U: {OpFConvertI, SignedUint64, Float64, 1, i64, f64},
	wasm.OpcodeF64PromoteF32:  {OpF64PromoteF32, 0, 0, 1, f32, f64},
}

// lowerNumeric handles comparisons, arithmetic and conversions, the
// instructions with a plain registers-in, register-out shape. Reinterpret
// casts only retype the operand: the bit pattern and its location are
// unchanged, so nothing is emitted.
func (c *compiler) lowerNumeric(instr *wasm.Instruction) error {
	switch instr.Opcode {
	case wasm.OpcodeI32ReinterpretF32:
		return c.retype(f32, i32)
	case wasm.OpcodeI64ReinterpretF64:
		return c.retype(f64, i64)
	case wasm.OpcodeF32ReinterpretI32:
		return c.retype(i32, f32)
	case wasm.OpcodeF64ReinterpretI64:
		return c.retype(i64, f64)
	}

	n, ok := numericOps[instr.Opcode]
	if !ok {
		return c.errf("unknown opcode 0x%x", instr.Opcode)
	}
	h0 := c.height()
	var e1, e2 ventry
	var err error
	if n.arity == 2 {
		if e2, err = c.popExpect(n.operand); err != nil {
			return err
		}
	}
	if e1, err = c.popExpect(n.operand); err != nil {
		return err
	}
	if c.reachable() {
		ins := Instruction{Op: n.op, T: n.t, T2: n.t2}
		if n.arity == 2 {
			ins.Src2 = c.regFor(e2, h0-1)
			ins.Src1 = c.regFor(e1, h0-2)
		} else {
			ins.Src1 = c.regFor(e1, h0-1)
		}
		ins.Dst = c.slotOf(c.height())
		c.emit(ins)
	}
	c.pushCanonical(n.result)
	return nil
}

func (c *compiler) retype(from, to wasm.ValueType) error {
	e, err := c.popExpect(from)
	if err != nil {
		return err
	}
	c.push(to, e)
	return nil
}
