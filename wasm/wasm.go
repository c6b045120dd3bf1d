// Package wasm holds the decoded description of a WebAssembly module: the
// types, sections and instruction streams a binary or text decoder produces.
// This package carries no execution logic; the runtime consumes these
// structures to validate, translate and instantiate them.
package wasm

import (
	"fmt"
	"math"
	"strings"
)

// Index is the position in an index namespace, such as the function index
// namespace, which begins with any imported functions.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-index
type Index = uint32

// ValueType describes a parameter or result type mapped to a WebAssembly
// function signature. The following describes how to convert between Wasm and
// Go types:
//
//   - ValueTypeI32 - uint64(uint32,int32)
//   - ValueTypeI64 - uint64(int64)
//   - ValueTypeF32 - EncodeF32 DecodeF32 from float32
//   - ValueTypeF64 - EncodeF64 DecodeF64 from float64
//
// The runtime stores every value as an untyped uint64 slot; types only exist
// at validation time and at the embedder boundary.
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match what is used in the WebAssembly text format.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// EncodeF32 encodes the input as a ValueTypeF32.
func EncodeF32(input float32) uint64 {
	return uint64(math.Float32bits(input))
}

// DecodeF32 decodes the input as a ValueTypeF32.
func DecodeF32(input uint64) float32 {
	return math.Float32frombits(uint32(input))
}

// EncodeF64 encodes the input as a ValueTypeF64.
func EncodeF64(input float64) uint64 {
	return math.Float64bits(input)
}

// DecodeF64 decodes the input as a ValueTypeF64.
func DecodeF64(input uint64) float64 {
	return math.Float64frombits(input)
}

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 {
	return uint64(uint32(input))
}

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 {
	return uint64(input)
}

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a
	// function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a
	// function with this signature. At most one result is supported.
	Results []ValueType

	// string is cached as FunctionType is mostly used as a map key.
	string string
}

// EqualsSignature returns true if the function type has the same parameters
// and results.
func (t *FunctionType) EqualsSignature(params []ValueType, results []ValueType) bool {
	return valueTypesEqual(t.Params, params) && valueTypesEqual(t.Results, results)
}

func valueTypesEqual(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i, t := range a {
		if t != b[i] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer. The resulting key is unique per signature,
// which makes it usable to intern types across modules.
func (t *FunctionType) String() string {
	if t.string != "" {
		return t.string
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(ValueTypeName(p))
	}
	sb.WriteString(")->(")
	for i, r := range t.Results {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(ValueTypeName(r))
	}
	sb.WriteByte(')')
	t.string = sb.String()
	return t.string
}

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the name of the given ExternType as a string.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return fmt.Sprintf("%#x", et)
}

// Limits describe the size range of a resizable storage such as a memory or a
// table. Max is nil when the storage is unbounded by the module.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A0
type Limits struct {
	Min uint32
	Max *uint32
}

// GlobalType represents the type of a global variable: its value type and
// mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// MemoryPageSize is the unit of memory length in WebAssembly, defined as
// 2^16 = 65536.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
const MemoryPageSize = uint32(65536)

// MemoryMaxPages is the maximum number of pages (2^16), yielding a 4GiB
// addressable range.
const MemoryMaxPages = uint32(65536)

// MemoryPageSizeInBits satisfies the relation
// "1 << MemoryPageSizeInBits == MemoryPageSize".
const MemoryPageSizeInBits = 16

// MemoryPagesToBytesNum converts the given pages into the number of bytes
// contained in those pages.
func MemoryPagesToBytesNum(pages uint32) uint64 {
	return uint64(pages) << MemoryPageSizeInBits
}

// MemoryBytesNumToPages converts the given number of bytes into pages.
func MemoryBytesNumToPages(bytesNum uint64) uint32 {
	return uint32(bytesNum >> MemoryPageSizeInBits)
}
