// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip[F constraints.Float](value, min, max F) F {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// IsFinite returns whether a floating point is neither NaN nor
// infinite
func IsFinite[F constraints.Float](value F) bool {
	v := float64(value)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AllFinite returns whether all values in a slice are finite. An empty
// slice is finite.
func AllFinite[F constraints.Float](values []F) bool {
	for _, v := range values {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// ArgMax returns the index of the first maximum value in a slice
func ArgMax[F constraints.Float](values []F) int {
	idx := 0
	for i := range values {
		if values[i] > values[idx] {
			idx = i
		}
	}
	return idx
}

// Ones returns a slice of n 1.0's
func Ones(n int) []float64 {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1.0
	}
	return ones
}

// Wrap wraps x to be in the interval [min, max)
func Wrap(x, min, max float64) float64 {
	if x >= min && x < max {
		return x
	}
	width := max - min
	return min + math.Mod(math.Mod(x-min, width)+width, width)
}
