package network

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"

	"github.com/samuelfneumann/ippo/utils/floatutils"
)

// Param is a named weight tensor stored outside of any computational
// graph. Data is stored in row-major order.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
}

// Tensor returns a tensor holding a copy of the Param's data
func (p Param) Tensor() *tensor.Dense {
	data := append([]float64(nil), p.Data...)
	return tensor.New(tensor.WithShape(p.Shape...), tensor.WithBacking(data))
}

// Params is an ordered list of named weights. The order matches the
// order of the learnables of the network the Params belong to.
type Params []Param

// Clone returns a deep copy of the Params
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for i := range p {
		out[i] = Param{
			Name:  p[i].Name,
			Shape: append([]int(nil), p[i].Shape...),
			Data:  append([]float64(nil), p[i].Data...),
		}
	}
	return out
}

// Index returns the index of the Param with the given name, or -1
func (p Params) Index(name string) int {
	for i := range p {
		if p[i].Name == name {
			return i
		}
	}
	return -1
}

// Size returns the total number of scalar weights
func (p Params) Size() int {
	size := 0
	for i := range p {
		size += len(p[i].Data)
	}
	return size
}

// Finite returns whether every weight is finite
func (p Params) Finite() bool {
	for i := range p {
		if !floatutils.AllFinite(p[i].Data) {
			return false
		}
	}
	return true
}

// Compatible returns an error if p and other do not hold the same
// names and shapes in the same order
func (p Params) Compatible(other Params) error {
	if len(p) != len(other) {
		return fmt.Errorf("compatible: expected %v params, got %v", len(p),
			len(other))
	}
	for i := range p {
		if p[i].Name != other[i].Name {
			return fmt.Errorf("compatible: param %d: expected name %v, got %v",
				i, p[i].Name, other[i].Name)
		}
		if !tensor.Shape(p[i].Shape).Eq(tensor.Shape(other[i].Shape)) {
			return fmt.Errorf("compatible: param %v: expected shape %v, "+
				"got %v", p[i].Name, p[i].Shape, other[i].Shape)
		}
	}
	return nil
}

// MaxAbsDiff returns the largest absolute element-wise difference
// between two compatible Params
func MaxAbsDiff(a, b Params) (float64, error) {
	if err := a.Compatible(b); err != nil {
		return 0, fmt.Errorf("maxAbsDiff: %v", err)
	}
	diff := 0.0
	for i := range a {
		for j := range a[i].Data {
			diff = math.Max(diff, math.Abs(a[i].Data[j]-b[i].Data[j]))
		}
	}
	return diff, nil
}
