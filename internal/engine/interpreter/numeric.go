package interpreter

import (
	"math"
	"math/bits"

	"github.com/varmint/varmint/internal/moremath"
	"github.com/varmint/varmint/internal/regcode"
	"github.com/varmint/varmint/internal/store"
)

func b2i(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func f32(v uint64) float32   { return math.Float32frombits(uint32(v)) }
func f64(v uint64) float64   { return math.Float64frombits(v) }
func f32bits(v float32) uint64 { return uint64(math.Float32bits(v)) }
func f64bits(v float64) uint64 { return math.Float64bits(v) }

func load8(mem *store.MemoryInstance, offset uint64) byte {
	if offset+1 > uint64(len(mem.Buffer)) {
		panic(store.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	return mem.Buffer[offset]
}

func load16(mem *store.MemoryInstance, offset uint64) uint16 {
	if offset+2 > uint64(len(mem.Buffer)) {
		panic(store.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	return uint16(mem.Buffer[offset]) | uint16(mem.Buffer[offset+1])<<8
}

func load32(mem *store.MemoryInstance, offset uint64) uint32 {
	if offset+4 > uint64(len(mem.Buffer)) {
		panic(store.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	b := mem.Buffer[offset:]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func load64(mem *store.MemoryInstance, offset uint64) uint64 {
	if offset+8 > uint64(len(mem.Buffer)) {
		panic(store.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	return uint64(load32(mem, offset)) | uint64(load32(mem, offset+4))<<32
}

func store8(mem *store.MemoryInstance, offset uint64, v byte) {
	if offset+1 > uint64(len(mem.Buffer)) {
		panic(store.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	mem.Buffer[offset] = v
}

func store16(mem *store.MemoryInstance, offset uint64, v uint16) {
	if offset+2 > uint64(len(mem.Buffer)) {
		panic(store.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	mem.Buffer[offset] = byte(v)
	mem.Buffer[offset+1] = byte(v >> 8)
}

func store32(mem *store.MemoryInstance, offset uint64, v uint32) {
	if offset+4 > uint64(len(mem.Buffer)) {
		panic(store.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	b := mem.Buffer[offset:]
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func store64(mem *store.MemoryInstance, offset uint64, v uint64) {
	if offset+8 > uint64(len(mem.Buffer)) {
		panic(store.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	store32(mem, offset, uint32(v))
	store32(mem, offset+4, uint32(v>>32))
}

func (ce *callEngine) execLoad(instr *regcode.Instruction, base int, mem *store.MemoryInstance) {
	offset := uint64(uint32(ce.stack[base+int(instr.Src1)])) + instr.Imm
	var v uint64
	switch instr.Op {
	case regcode.OpLoad:
		switch instr.T {
		case regcode.UnsignedTypeI32, regcode.UnsignedTypeF32:
			v = uint64(load32(mem, offset))
		default:
			v = load64(mem, offset)
		}
	case regcode.OpLoad8:
		b := load8(mem, offset)
		switch instr.T {
		case regcode.SignedInt32:
			v = uint64(uint32(int32(int8(b))))
		case regcode.SignedInt64:
			v = uint64(int64(int8(b)))
		default:
			v = uint64(b)
		}
	case regcode.OpLoad16:
		w := load16(mem, offset)
		switch instr.T {
		case regcode.SignedInt32:
			v = uint64(uint32(int32(int16(w))))
		case regcode.SignedInt64:
			v = uint64(int64(int16(w)))
		default:
			v = uint64(w)
		}
	case regcode.OpLoad32:
		w := load32(mem, offset)
		if instr.T == 1 {
			v = uint64(int64(int32(w)))
		} else {
			v = uint64(w)
		}
	}
	ce.stack[base+int(instr.Dst)] = v
}

func (ce *callEngine) execStore(instr *regcode.Instruction, base int, mem *store.MemoryInstance) {
	offset := uint64(uint32(ce.stack[base+int(instr.Src1)])) + instr.Imm
	v := ce.stack[base+int(instr.Src2)]
	switch instr.Op {
	case regcode.OpStore:
		switch instr.T {
		case regcode.UnsignedTypeI32, regcode.UnsignedTypeF32:
			store32(mem, offset, uint32(v))
		default:
			store64(mem, offset, v)
		}
	case regcode.OpStore8:
		store8(mem, offset, byte(v))
	case regcode.OpStore16:
		store16(mem, offset, uint16(v))
	case regcode.OpStore32:
		store32(mem, offset, uint32(v))
	}
}

// execNumeric executes comparisons, arithmetic and conversions. Integer i32
// results are stored zero-extended, the canonical form every consumer
// assumes.
func (ce *callEngine) execNumeric(instr *regcode.Instruction, base int) {
	v1 := ce.stack[base+int(instr.Src1)]
	v2 := ce.stack[base+int(instr.Src2)]
	var r uint64
	switch instr.Op {
	case regcode.OpEqz:
		if instr.T == regcode.UnsignedTypeI32 {
			r = b2i(uint32(v1) == 0)
		} else {
			r = b2i(v1 == 0)
		}
	case regcode.OpEq:
		r = b2i(execEq(instr.T, v1, v2))
	case regcode.OpNe:
		r = b2i(!execEq(instr.T, v1, v2))
	case regcode.OpLt:
		r = b2i(execLt(instr.T, v1, v2))
	case regcode.OpGt:
		r = b2i(execLt(instr.T, v2, v1))
	case regcode.OpLe:
		r = b2i(execLe(instr.T, v1, v2))
	case regcode.OpGe:
		r = b2i(execLe(instr.T, v2, v1))
	case regcode.OpAdd:
		switch instr.T {
		case regcode.UnsignedTypeI32:
			r = uint64(uint32(v1) + uint32(v2))
		case regcode.UnsignedTypeI64:
			r = v1 + v2
		case regcode.UnsignedTypeF32:
			r = f32bits(f32(v1) + f32(v2))
		default:
			r = f64bits(f64(v1) + f64(v2))
		}
	case regcode.OpSub:
		switch instr.T {
		case regcode.UnsignedTypeI32:
			r = uint64(uint32(v1) - uint32(v2))
		case regcode.UnsignedTypeI64:
			r = v1 - v2
		case regcode.UnsignedTypeF32:
			r = f32bits(f32(v1) - f32(v2))
		default:
			r = f64bits(f64(v1) - f64(v2))
		}
	case regcode.OpMul:
		switch instr.T {
		case regcode.UnsignedTypeI32:
			r = uint64(uint32(v1) * uint32(v2))
		case regcode.UnsignedTypeI64:
			r = v1 * v2
		case regcode.UnsignedTypeF32:
			r = f32bits(f32(v1) * f32(v2))
		default:
			r = f64bits(f64(v1) * f64(v2))
		}
	case regcode.OpDiv:
		r = execDiv(instr.T, v1, v2)
	case regcode.OpRem:
		r = execRem(instr.T, v1, v2)
	case regcode.OpAnd:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(uint32(v1) & uint32(v2))
		} else {
			r = v1 & v2
		}
	case regcode.OpOr:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(uint32(v1) | uint32(v2))
		} else {
			r = v1 | v2
		}
	case regcode.OpXor:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(uint32(v1) ^ uint32(v2))
		} else {
			r = v1 ^ v2
		}
	case regcode.OpShl:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(uint32(v1) << (uint32(v2) % 32))
		} else {
			r = v1 << (v2 % 64)
		}
	case regcode.OpShr:
		switch instr.T {
		case regcode.SignedInt32:
			r = uint64(uint32(int32(uint32(v1)) >> (uint32(v2) % 32)))
		case regcode.SignedInt64:
			r = uint64(int64(v1) >> (v2 % 64))
		case regcode.SignedUint32:
			r = uint64(uint32(v1) >> (uint32(v2) % 32))
		default:
			r = v1 >> (v2 % 64)
		}
	case regcode.OpRotl:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(bits.RotateLeft32(uint32(v1), int(uint32(v2)%32)))
		} else {
			r = bits.RotateLeft64(v1, int(v2%64))
		}
	case regcode.OpRotr:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(bits.RotateLeft32(uint32(v1), -int(uint32(v2)%32)))
		} else {
			r = bits.RotateLeft64(v1, -int(v2%64))
		}
	case regcode.OpClz:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(bits.LeadingZeros32(uint32(v1)))
		} else {
			r = uint64(bits.LeadingZeros64(v1))
		}
	case regcode.OpCtz:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(bits.TrailingZeros32(uint32(v1)))
		} else {
			r = uint64(bits.TrailingZeros64(v1))
		}
	case regcode.OpPopcnt:
		if instr.T == regcode.UnsignedTypeI32 {
			r = uint64(bits.OnesCount32(uint32(v1)))
		} else {
			r = uint64(bits.OnesCount64(v1))
		}
	case regcode.OpAbs:
		if instr.T == regcode.Float32 {
			r = uint64(math.Float32bits(f32(v1)) &^ (1 << 31))
		} else {
			r = f64bits(math.Abs(f64(v1)))
		}
	case regcode.OpNeg:
		if instr.T == regcode.Float32 {
			r = uint64(math.Float32bits(f32(v1)) ^ (1 << 31))
		} else {
			r = f64bits(-f64(v1))
		}
	case regcode.OpCeil:
		if instr.T == regcode.Float32 {
			r = f32bits(float32(math.Ceil(float64(f32(v1)))))
		} else {
			r = f64bits(math.Ceil(f64(v1)))
		}
	case regcode.OpFloor:
		if instr.T == regcode.Float32 {
			r = f32bits(float32(math.Floor(float64(f32(v1)))))
		} else {
			r = f64bits(math.Floor(f64(v1)))
		}
	case regcode.OpTrunc:
		if instr.T == regcode.Float32 {
			r = f32bits(float32(math.Trunc(float64(f32(v1)))))
		} else {
			r = f64bits(math.Trunc(f64(v1)))
		}
	case regcode.OpNearest:
		if instr.T == regcode.Float32 {
			r = f32bits(moremath.WasmCompatNearestF32(f32(v1)))
		} else {
			r = f64bits(moremath.WasmCompatNearestF64(f64(v1)))
		}
	case regcode.OpSqrt:
		if instr.T == regcode.Float32 {
			r = f32bits(float32(math.Sqrt(float64(f32(v1)))))
		} else {
			r = f64bits(math.Sqrt(f64(v1)))
		}
	case regcode.OpMin:
		if instr.T == regcode.Float32 {
			r = f32bits(float32(moremath.WasmCompatMin(float64(f32(v1)), float64(f32(v2)))))
		} else {
			r = f64bits(moremath.WasmCompatMin(f64(v1), f64(v2)))
		}
	case regcode.OpMax:
		if instr.T == regcode.Float32 {
			r = f32bits(float32(moremath.WasmCompatMax(float64(f32(v1)), float64(f32(v2)))))
		} else {
			r = f64bits(moremath.WasmCompatMax(f64(v1), f64(v2)))
		}
	case regcode.OpCopysign:
		if instr.T == regcode.Float32 {
			const signbit = 1 << 31
			r = uint64(math.Float32bits(f32(v1))&^signbit | math.Float32bits(f32(v2))&signbit)
		} else {
			r = f64bits(math.Copysign(f64(v1), f64(v2)))
		}
	case regcode.OpI32WrapI64:
		r = uint64(uint32(v1))
	case regcode.OpITruncF:
		r = execITruncF(instr.T, instr.T2, v1)
	case regcode.OpFConvertI:
		r = execFConvertI(instr.T, instr.T2, v1)
	case regcode.OpF32DemoteF64:
		r = f32bits(float32(f64(v1)))
	case regcode.OpF64PromoteF32:
		r = f64bits(float64(f32(v1)))
	case regcode.OpExtend:
		if instr.T == 1 {
			r = uint64(int64(int32(uint32(v1))))
		} else {
			r = uint64(uint32(v1))
		}
	default:
		panic(store.ErrRuntimeUnreachable)
	}
	ce.stack[base+int(instr.Dst)] = r
}

func execEq(t byte, v1, v2 uint64) bool {
	switch t {
	case regcode.UnsignedTypeI32:
		return uint32(v1) == uint32(v2)
	case regcode.UnsignedTypeI64:
		return v1 == v2
	case regcode.UnsignedTypeF32:
		return f32(v1) == f32(v2)
	default:
		return f64(v1) == f64(v2)
	}
}

func execLt(t byte, v1, v2 uint64) bool {
	switch t {
	case regcode.SignedTypeInt32:
		return int32(uint32(v1)) < int32(uint32(v2))
	case regcode.SignedTypeInt64:
		return int64(v1) < int64(v2)
	case regcode.SignedTypeUint32:
		return uint32(v1) < uint32(v2)
	case regcode.SignedTypeUint64:
		return v1 < v2
	case regcode.SignedTypeFloat32:
		return f32(v1) < f32(v2)
	default:
		return f64(v1) < f64(v2)
	}
}

func execLe(t byte, v1, v2 uint64) bool {
	switch t {
	case regcode.SignedTypeInt32:
		return int32(uint32(v1)) <= int32(uint32(v2))
	case regcode.SignedTypeInt64:
		return int64(v1) <= int64(v2)
	case regcode.SignedTypeUint32:
		return uint32(v1) <= uint32(v2)
	case regcode.SignedTypeUint64:
		return v1 <= v2
	case regcode.SignedTypeFloat32:
		return f32(v1) <= f32(v2)
	default:
		return f64(v1) <= f64(v2)
	}
}

func execDiv(t byte, v1, v2 uint64) uint64 {
	switch t {
	case regcode.SignedTypeInt32:
		n, d := int32(uint32(v1)), int32(uint32(v2))
		if d == 0 {
			panic(store.ErrRuntimeIntegerDivideByZero)
		}
		if n == math.MinInt32 && d == -1 {
			panic(store.ErrRuntimeIntegerOverflow)
		}
		return uint64(uint32(n / d))
	case regcode.SignedTypeInt64:
		n, d := int64(v1), int64(v2)
		if d == 0 {
			panic(store.ErrRuntimeIntegerDivideByZero)
		}
		if n == math.MinInt64 && d == -1 {
			panic(store.ErrRuntimeIntegerOverflow)
		}
		return uint64(n / d)
	case regcode.SignedTypeUint32:
		n, d := uint32(v1), uint32(v2)
		if d == 0 {
			panic(store.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(n / d)
	case regcode.SignedTypeUint64:
		if v2 == 0 {
			panic(store.ErrRuntimeIntegerDivideByZero)
		}
		return v1 / v2
	case regcode.SignedTypeFloat32:
		return f32bits(f32(v1) / f32(v2))
	default:
		return f64bits(f64(v1) / f64(v2))
	}
}

func execRem(t byte, v1, v2 uint64) uint64 {
	switch t {
	case regcode.SignedInt32:
		n, d := int32(uint32(v1)), int32(uint32(v2))
		if d == 0 {
			panic(store.ErrRuntimeIntegerDivideByZero)
		}
		if n == math.MinInt32 && d == -1 {
			// The quotient overflows but the remainder is well defined.
			return 0
		}
		return uint64(uint32(n % d))
	case regcode.SignedInt64:
		n, d := int64(v1), int64(v2)
		if d == 0 {
			panic(store.ErrRuntimeIntegerDivideByZero)
		}
		if n == math.MinInt64 && d == -1 {
			return 0
		}
		return uint64(n % d)
	case regcode.SignedUint32:
		n, d := uint32(v1), uint32(v2)
		if d == 0 {
			panic(store.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(n % d)
	default:
		if v2 == 0 {
			panic(store.ErrRuntimeIntegerDivideByZero)
		}
		return v1 % v2
	}
}

func execITruncF(t, t2 byte, v1 uint64) uint64 {
	var v float64
	if t == regcode.Float32 {
		v = math.Trunc(float64(f32(v1)))
	} else {
		v = math.Trunc(f64(v1))
	}
	if math.IsNaN(v) { // NaN cannot be compared with itself, so IsNaN
		panic(store.ErrRuntimeInvalidConversionToInteger)
	}
	switch t2 {
	case regcode.SignedInt32:
		if v < math.MinInt32 || v > math.MaxInt32 {
			panic(store.ErrRuntimeIntegerOverflow)
		}
		return uint64(uint32(int32(v)))
	case regcode.SignedInt64:
		// math.MaxInt64 rounds up to math.MaxInt64+1 in float64, hence '>='.
		if v < math.MinInt64 || v >= math.MaxInt64 {
			panic(store.ErrRuntimeIntegerOverflow)
		}
		return uint64(int64(v))
	case regcode.SignedUint32:
		if v < 0 || v > math.MaxUint32 {
			panic(store.ErrRuntimeIntegerOverflow)
		}
		return uint64(uint32(v))
	default:
		// math.MaxUint64 rounds up to math.MaxUint64+1 in float64, hence '>='.
		if v < 0 || v >= math.MaxUint64 {
			panic(store.ErrRuntimeIntegerOverflow)
		}
		return uint64(v)
	}
}

func execFConvertI(t, t2 byte, v1 uint64) uint64 {
	var v float64
	switch t {
	case regcode.SignedInt32:
		v = float64(int32(uint32(v1)))
	case regcode.SignedInt64:
		v = float64(int64(v1))
	case regcode.SignedUint32:
		v = float64(uint32(v1))
	default:
		v = float64(v1)
	}
	if t2 == regcode.Float32 {
		return f32bits(float32(v))
	}
	return f64bits(v)
}
