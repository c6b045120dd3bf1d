// Package regcode defines the register-addressed bytecode this runtime
// executes, and the single pass that validates a decoded function body and
// lowers it into that bytecode.
//
// Unlike the stack-oriented Wasm instruction set, every regcode instruction
// names its operand and destination registers directly. A register is an
// index into the function's activation window over the shared value stack:
// slots [0, LocalRegs) hold parameters then declared locals, and the operand
// stack value at depth d lives at slot LocalRegs+d. Numbering operands this
// way makes one forward pass over the simulated operand stack a legal
// register allocation.
package regcode

import (
	"fmt"

	"github.com/varmint/varmint/wasm"
)

// Reg addresses one register slot in a function's activation window.
type Reg = uint16

// Op is the operation tag the execution engine dispatches on.
type Op = byte

const (
	// OpUnreachable traps with an unreachable error.
	OpUnreachable Op = iota
	// OpBr jumps to the absolute instruction offset Imm.
	OpBr
	// OpBrIf jumps to Imm when register Src1 is non-zero.
	OpBrIf
	// OpBrIfZero jumps to Imm when register Src1 is zero.
	OpBrIfZero
	// OpBrTable jumps to Targets[Src1 value], or the last entry of Targets
	// when the value is out of range. Targets are absolute offsets.
	OpBrTable
	// OpCall invokes the function at index Imm of the caller's function
	// index namespace. Arguments occupy the contiguous registers starting
	// at Src1; the callee's frame is based there so arguments become its
	// parameter registers, and results are left in the same place.
	OpCall
	// OpCallIndirect invokes the table element selected by register Src2
	// after checking it against the function type at type index Imm.
	// Arguments and results use Src1 like OpCall.
	OpCallIndirect
	// OpReturn copies the function's results from the contiguous registers
	// starting at Src1 to the base of the activation window and returns.
	OpReturn
	// OpCopy sets register Dst to the value of register Src1.
	OpCopy
	// OpConst sets register Dst to the immediate value bits Imm.
	OpConst
	// OpSelect sets Dst to Src1 when the register addressed by Imm is
	// non-zero, otherwise to Src2.
	OpSelect
	// OpGlobalGet reads global Imm into Dst.
	OpGlobalGet
	// OpGlobalSet writes Src1 to global Imm.
	OpGlobalSet
	// OpLoad reads a 32 or 64-bit value (T: UnsignedType) from memory at
	// address register Src1 plus constant offset Imm, into Dst.
	OpLoad
	// OpLoad8 reads one byte, extended per T (SignedInt).
	OpLoad8
	// OpLoad16 reads two bytes, extended per T (SignedInt).
	OpLoad16
	// OpLoad32 reads four bytes into an i64, sign-extending when T is 1.
	OpLoad32
	// OpStore writes a 32 or 64-bit value (T: UnsignedType) from register
	// Src2 to memory at address register Src1 plus constant offset Imm.
	OpStore
	// OpStore8 writes the low byte of Src2.
	OpStore8
	// OpStore16 writes the low two bytes of Src2.
	OpStore16
	// OpStore32 writes the low four bytes of Src2.
	OpStore32
	// OpMemorySize writes the current memory size in pages to Dst.
	OpMemorySize
	// OpMemoryGrow grows memory by Src1 pages, writing the previous size in
	// pages to Dst, or the no-growth sentinel on failure.
	OpMemoryGrow

	// Comparison operations write 1 or 0 to Dst. Operand width and
	// signedness are selected by T.

	OpEq
	OpNe
	OpEqz
	OpLt
	OpGt
	OpLe
	OpGe

	// Binary numeric operations read Src1 and Src2 and write Dst; unary
	// ones read Src1 only.

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpRotl
	OpRotr
	OpClz
	OpCtz
	OpPopcnt
	OpAbs
	OpNeg
	OpCeil
	OpFloor
	OpTrunc
	OpNearest
	OpSqrt
	OpMin
	OpMax
	OpCopysign

	// Conversion operations read Src1 and write Dst.

	// OpI32WrapI64 truncates an i64 to its low 32 bits.
	OpI32WrapI64
	// OpITruncF truncates float T (Float) to integer T2 (SignedInt),
	// trapping on NaN or overflow.
	OpITruncF
	// OpFConvertI converts integer T (SignedInt) to float T2 (Float).
	OpFConvertI
	// OpF32DemoteF64 converts an f64 to f32.
	OpF32DemoteF64
	// OpF64PromoteF32 converts an f32 to f64.
	OpF64PromoteF32
	// OpExtend widens an i32 to i64, sign-extending when T is 1.
	OpExtend

	opCount
)

// UnsignedType is the type tag for operations that do not care about
// integer signedness.
type UnsignedType = byte

const (
	UnsignedTypeI32 UnsignedType = iota
	UnsignedTypeI64
	UnsignedTypeF32
	UnsignedTypeF64
)

// SignedType is the type tag for comparisons and division, where integer
// signedness changes the result.
type SignedType = byte

const (
	SignedTypeInt32 SignedType = iota
	SignedTypeInt64
	SignedTypeUint32
	SignedTypeUint64
	SignedTypeFloat32
	SignedTypeFloat64
)

// SignedInt is the type tag for integer-only operations with signedness.
type SignedInt = byte

const (
	SignedInt32 SignedInt = iota
	SignedInt64
	SignedUint32
	SignedUint64
)

// Float is the type tag selecting f32 (0) or f64 (1).
type Float = byte

const (
	Float32 Float = iota
	Float64
)

// Instruction is one register-addressed bytecode instruction. The meaning of
// Dst, Src1, Src2, T, T2, Imm and Targets depends on Op, documented on the
// Op constants above.
//
// Cost is the static fuel cost charged before the instruction's effect.
type Instruction struct {
	Op      Op
	T, T2   byte
	Cost    uint8
	Dst     Reg
	Src1    Reg
	Src2    Reg
	Imm     uint64
	Targets []uint32
}

// Code is one translated function body. It is immutable once produced and
// safe for concurrent read-only use by any number of executions.
type Code struct {
	// Index is the position of this function in its module's function index
	// namespace, kept for diagnostics.
	Index wasm.Index
	// Instrs is the translated instruction sequence. Every branch target
	// within is a valid offset into this slice.
	Instrs []Instruction
	// Params is the number of parameter registers.
	Params uint32
	// LocalRegs is the number of parameter plus declared-local registers.
	// Registers [Params, LocalRegs) are zeroed on call.
	LocalRegs uint32
	// Slots is the full activation window size: LocalRegs plus the maximum
	// operand stack height. Never changes after translation.
	Slots uint32
	// Results is the function's result arity.
	Results uint32
}

// ModuleCode holds the translated bodies of every function a module defines,
// keyed by position in the code section. Immutable after Compile.
type ModuleCode struct {
	Functions []*Code
	// CostModelVersion records the fuel cost table the functions were
	// annotated with, so externally cached code can be invalidated when the
	// cost model changes.
	CostModelVersion uint32
}

// OpName returns a short mnemonic for the given Op, used in debug logs and
// error messages.
func OpName(op Op) string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

var opNames = [opCount]string{
	OpUnreachable:   "unreachable",
	OpBr:            "br",
	OpBrIf:          "br.if",
	OpBrIfZero:      "br.ifz",
	OpBrTable:       "br.table",
	OpCall:          "call",
	OpCallIndirect:  "call.indirect",
	OpReturn:        "return",
	OpCopy:          "copy",
	OpConst:         "const",
	OpSelect:        "select",
	OpGlobalGet:     "global.get",
	OpGlobalSet:     "global.set",
	OpLoad:          "load",
	OpLoad8:         "load8",
	OpLoad16:        "load16",
	OpLoad32:        "load32",
	OpStore:         "store",
	OpStore8:        "store8",
	OpStore16:       "store16",
	OpStore32:       "store32",
	OpMemorySize:    "memory.size",
	OpMemoryGrow:    "memory.grow",
	OpEq:            "eq",
	OpNe:            "ne",
	OpEqz:           "eqz",
	OpLt:            "lt",
	OpGt:            "gt",
	OpLe:            "le",
	OpGe:            "ge",
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpDiv:           "div",
	OpRem:           "rem",
	OpAnd:           "and",
	OpOr:            "or",
	OpXor:           "xor",
	OpShl:           "shl",
	OpShr:           "shr",
	OpRotl:          "rotl",
	OpRotr:          "rotr",
	OpClz:           "clz",
	OpCtz:           "ctz",
	OpPopcnt:        "popcnt",
	OpAbs:           "abs",
	OpNeg:           "neg",
	OpCeil:          "ceil",
	OpFloor:         "floor",
	OpTrunc:         "trunc",
	OpNearest:       "nearest",
	OpSqrt:          "sqrt",
	OpMin:           "min",
	OpMax:           "max",
	OpCopysign:      "copysign",
	OpI32WrapI64:    "i32.wrap_i64",
	OpITruncF:       "i.trunc_f",
	OpFConvertI:     "f.convert_i",
	OpF32DemoteF64:  "f32.demote_f64",
	OpF64PromoteF32: "f64.promote_f32",
	OpExtend:        "extend",
}
