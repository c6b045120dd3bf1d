package wasm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunctionType_String(t *testing.T) {
	tests := []struct {
		ft  *FunctionType
		exp string
	}{
		{ft: &FunctionType{}, exp: "()->()"},
		{ft: &FunctionType{Params: []ValueType{ValueTypeI32}}, exp: "(i32)->()"},
		{ft: &FunctionType{Results: []ValueType{ValueTypeF64}}, exp: "()->(f64)"},
		{
			ft: &FunctionType{
				Params:  []ValueType{ValueTypeI64, ValueTypeF32},
				Results: []ValueType{ValueTypeI32},
			},
			exp: "(i64,f32)->(i32)",
		},
	}
	for _, tc := range tests {
		require.Equal(t, tc.exp, tc.ft.String())
		// The cached value stays correct on a second call.
		require.Equal(t, tc.exp, tc.ft.String())
	}
}

func TestFunctionType_EqualsSignature(t *testing.T) {
	ft := &FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	require.True(t, ft.EqualsSignature([]ValueType{ValueTypeI32}, []ValueType{ValueTypeI32}))
	require.False(t, ft.EqualsSignature([]ValueType{ValueTypeI64}, []ValueType{ValueTypeI32}))
	require.False(t, ft.EqualsSignature(nil, []ValueType{ValueTypeI32}))
	require.False(t, ft.EqualsSignature([]ValueType{ValueTypeI32}, nil))
}

func TestEncodeDecode(t *testing.T) {
	require.Equal(t, float32(1.5), DecodeF32(EncodeF32(1.5)))
	require.Equal(t, 1.5, DecodeF64(EncodeF64(1.5)))
	require.True(t, math.IsNaN(DecodeF64(EncodeF64(math.NaN()))))
	require.Equal(t, uint64(0xffffffff), EncodeI32(-1))
	require.Equal(t, uint64(0xffffffffffffffff), EncodeI64(-1))

	// Negative f32 bits stay within the low word.
	require.Equal(t, uint64(math.Float32bits(-2.5)), EncodeF32(-2.5))
}

func TestMemoryPages(t *testing.T) {
	require.Equal(t, uint64(0), MemoryPagesToBytesNum(0))
	require.Equal(t, uint64(65536), MemoryPagesToBytesNum(1))
	require.Equal(t, uint64(1)<<32, MemoryPagesToBytesNum(MemoryMaxPages))

	require.Equal(t, uint32(0), MemoryBytesNumToPages(0))
	require.Equal(t, uint32(1), MemoryBytesNumToPages(65536))
	require.Equal(t, uint32(2), MemoryBytesNumToPages(131072))
}

func TestNames(t *testing.T) {
	require.Equal(t, "i32", ValueTypeName(ValueTypeI32))
	require.Equal(t, "f64", ValueTypeName(ValueTypeF64))
	require.Equal(t, "unknown", ValueTypeName(0))

	require.Equal(t, "func", ExternTypeName(ExternTypeFunc))
	require.Equal(t, "table", ExternTypeName(ExternTypeTable))
	require.Equal(t, "memory", ExternTypeName(ExternTypeMemory))
	require.Equal(t, "global", ExternTypeName(ExternTypeGlobal))

	require.Equal(t, "i32.add", InstructionName(OpcodeI32Add))
	require.Equal(t, "call_indirect", InstructionName(OpcodeCallIndirect))
	require.Contains(t, InstructionName(0xff), "unknown instruction")
}
