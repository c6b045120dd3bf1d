package store

import "errors"

// All the errors below are traps raised by an Engine during execution. They
// indicate the terminated invocation cannot be resumed; the store itself
// remains usable.
var (
	// ErrRuntimeCallStackOverflow indicates the configured call depth limit
	// was exceeded.
	ErrRuntimeCallStackOverflow = errors.New("callstack overflow")
	// ErrRuntimeStackOverflow indicates the configured value stack height
	// limit was exceeded.
	ErrRuntimeStackOverflow = errors.New("stack overflow")
	// ErrRuntimeFuelExhausted indicates the store's fuel reached zero before
	// the invocation completed.
	ErrRuntimeFuelExhausted = errors.New("fuel exhausted")
	// ErrRuntimeInvalidConversionToInteger indicates a trunc instruction was
	// executed on NaN.
	ErrRuntimeInvalidConversionToInteger = errors.New("invalid conversion to integer")
	// ErrRuntimeIntegerOverflow indicates integer arithmetic overflowed, such
	// as truncating a float that doesn't fit the target integer range, or
	// dividing math.MinInt32 by -1.
	ErrRuntimeIntegerOverflow = errors.New("integer overflow")
	// ErrRuntimeIntegerDivideByZero indicates an integer div or rem
	// instruction executed with a zero divisor.
	ErrRuntimeIntegerDivideByZero = errors.New("integer divide by zero")
	// ErrRuntimeUnreachable means the unreachable instruction was executed.
	ErrRuntimeUnreachable = errors.New("unreachable")
	// ErrRuntimeOutOfBoundsMemoryAccess indicates an access beyond the
	// current length of the linear memory.
	ErrRuntimeOutOfBoundsMemoryAccess = errors.New("out of bounds memory access")
	// ErrRuntimeInvalidTableAccess means the call_indirect index was out of
	// bounds of the table, or the element there was uninitialized.
	ErrRuntimeInvalidTableAccess = errors.New("invalid table access")
	// ErrRuntimeIndirectCallTypeMismatch indicates the call_indirect runtime
	// type check failed.
	ErrRuntimeIndirectCallTypeMismatch = errors.New("indirect call type mismatch")
)
