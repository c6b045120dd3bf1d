package store

import "github.com/varmint/varmint/wasm"

// GlobalInstance is a global variable in a store. Val holds the raw bits of
// the value regardless of Type, in the same encoding the value stack uses.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-instances%E2%91%A0
type GlobalInstance struct {
	Type *wasm.GlobalType
	Val  uint64
}
