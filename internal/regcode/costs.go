package regcode

// CostModelVersion identifies the fuel cost assignment below. Identical
// inputs translated under the same version consume identical fuel on every
// platform; bump this whenever the table changes so cached code is not mixed
// across cost models.
const CostModelVersion = uint32(1)

// Fuel costs per instruction category. Only determinism is contractual; the
// relative weights approximate interpreter dispatch and effect cost.
const (
	costBase     = 1
	costConvert  = 2
	costGlobal   = 2
	costMemory   = 3
	costCall     = 8
	costIndirect = 10
	costGrow     = 32

	// CostHostCall is charged by the engine on top of OpCall's static cost
	// when the callee is a host function.
	CostHostCall = 16

	// CostCallPerArg is charged by the engine per parameter register set up
	// for a call, in addition to the call's static cost.
	CostCallPerArg = 1
)

var opCosts = [opCount]uint8{
	OpUnreachable:   costBase,
	OpBr:            costBase,
	OpBrIf:          costBase,
	OpBrIfZero:      costBase,
	OpBrTable:       costBase,
	OpCall:          costCall,
	OpCallIndirect:  costIndirect,
	OpReturn:        costBase,
	OpCopy:          costBase,
	OpConst:         costBase,
	OpSelect:        costBase,
	OpGlobalGet:     costGlobal,
	OpGlobalSet:     costGlobal,
	OpLoad:          costMemory,
	OpLoad8:         costMemory,
	OpLoad16:        costMemory,
	OpLoad32:        costMemory,
	OpStore:         costMemory,
	OpStore8:        costMemory,
	OpStore16:       costMemory,
	OpStore32:       costMemory,
	OpMemorySize:    costBase,
	OpMemoryGrow:    costGrow,
	OpEq:            costBase,
	OpNe:            costBase,
	OpEqz:           costBase,
	OpLt:            costBase,
	OpGt:            costBase,
	OpLe:            costBase,
	OpGe:            costBase,
	OpAdd:           costBase,
	OpSub:           costBase,
	OpMul:           costBase,
	OpDiv:           costBase,
	OpRem:           costBase,
	OpAnd:           costBase,
	OpOr:            costBase,
	OpXor:           costBase,
	OpShl:           costBase,
	OpShr:           costBase,
	OpRotl:          costBase,
	OpRotr:          costBase,
	OpClz:           costBase,
	OpCtz:           costBase,
	OpPopcnt:        costBase,
	OpAbs:           costBase,
	OpNeg:           costBase,
	OpCeil:          costBase,
	OpFloor:         costBase,
	OpTrunc:         costBase,
	OpNearest:       costBase,
	OpSqrt:          costBase,
	OpMin:           costBase,
	OpMax:           costBase,
	OpCopysign:      costBase,
	OpI32WrapI64:    costConvert,
	OpITruncF:       costConvert,
	OpFConvertI:     costConvert,
	OpF32DemoteF64:  costConvert,
	OpF64PromoteF32: costConvert,
	OpExtend:        costConvert,
}

// CostOf returns the static fuel cost of the given operation.
func CostOf(op Op) uint8 {
	return opCosts[op]
}
