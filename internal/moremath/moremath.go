// Package moremath implements numeric helpers where the standard math
// package's semantics differ from WebAssembly's.
package moremath

import "math"

// WasmCompatMin is math.Min with Wasm semantics: either operand being NaN
// yields NaN, even when the other is -Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L74-L91
func WasmCompatMin(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

// WasmCompatMax is math.Max with Wasm semantics: either operand being NaN
// yields NaN, even when the other is Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L42-L59
func WasmCompatMax(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

// WasmCompatNearestF32 rounds to the nearest integer, ties to even, as
// f32.nearest requires. math.Round rounds ties away from zero.
func WasmCompatNearestF32(f float32) float32 {
	return float32(WasmCompatNearestF64(float64(f)))
}

// WasmCompatNearestF64 rounds to the nearest integer, ties to even, as
// f64.nearest requires.
func WasmCompatNearestF64(f float64) float64 {
	if f != 0 {
		ceil := math.Ceil(f)
		floor := math.Floor(f)
		distToCeil := math.Abs(f - ceil)
		distToFloor := math.Abs(f - floor)
		if distToCeil < distToFloor {
			return ceil
		} else if distToCeil == distToFloor && int64(ceil)%2 == 0 {
			return ceil
		}
		return floor
	}
	return f
}
