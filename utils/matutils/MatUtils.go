// Package matutils implements utility function for working with mat.Matrix
// structs and masked batches of floats
package matutils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Format formats a matrix for printing
func Format(X mat.Matrix) string {
	fa := mat.Formatted(X, mat.Prefix(""), mat.Squeeze())
	return fmt.Sprintf("%v", fa)
}

// MaxRow finds and returns the index of the maximum value in row i of
// a matrix. If multiple equal max values exist, only the first one is
// returned.
func MaxRow(m *mat.Dense, i int) int {
	return floats.MaxIdx(m.RawRowView(i))
}

// MaskedMeanStd returns the weighted mean and the population standard
// deviation of values, where mask weights each entry. A nil mask weights
// all entries equally. If the mask has no weight, both are zero.
func MaskedMeanStd(values, mask []float64) (mean, std float64) {
	if mask != nil && floats.Sum(mask) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(values, mask)
	return mean, math.Sqrt(variance)
}

// ExplainedVariance returns 1 - Var[target - pred] / Var[target] over
// the masked-in entries. If the targets have no variance, NaN is
// returned.
func ExplainedVariance(pred, target, mask []float64) float64 {
	if len(pred) != len(target) {
		panic("explainedVariance: prediction and target lengths differ")
	}
	residual := make([]float64, len(target))
	floats.SubTo(residual, target, pred)

	_, targetStd := MaskedMeanStd(target, mask)
	if targetStd == 0 {
		return math.NaN()
	}
	_, residualStd := MaskedMeanStd(residual, mask)
	return 1 - (residualStd*residualStd)/(targetStd*targetStd)
}
