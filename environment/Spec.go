package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an action or an observation
type SpecType int

const (
	Action SpecType = iota
	Observation
)

// Cardinality determines the cardinality of a number (discrete or continuous)
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of the actions or observations of a single agent
// slot.
//
// Discrete actions are a single index in [LowerBound[0], UpperBound[0]].
type Spec struct {
	Shape      mat.Vector
	Type       SpecType
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
}

// NewSpec constructs a new environment specification
// The shape argument outlines the shape of the data described by the
// specification. The argument t outlines what the specification is
// describing (e.g. actions, observations). The cardinality
// arguments describes whether the values that the spec describes are
// continuous or discrete.
func NewSpec(shape mat.Vector, t SpecType, lowerBound,
	upperBound mat.Vector, cardinality Cardinality) Spec {
	if shape.Len() != lowerBound.Len() {
		panic(fmt.Sprintf("shape length %v must match lower bounds length %v",
			shape.Len(), lowerBound.Len()))
	}
	if shape.Len() != upperBound.Len() {
		panic(fmt.Sprintf("shape length %v must match upper bounds length %v",
			shape.Len(), upperBound.Len()))
	}
	return Spec{shape, t, lowerBound, upperBound, cardinality}
}

// NewBoxSpec returns a continuous spec of dimension dim with every
// component bounded by [low, high]
func NewBoxSpec(t SpecType, dim int, low, high float64) Spec {
	lower := mat.NewVecDense(dim, nil)
	upper := mat.NewVecDense(dim, nil)
	for i := 0; i < dim; i++ {
		lower.SetVec(i, low)
		upper.SetVec(i, high)
	}
	return NewSpec(mat.NewVecDense(dim, nil), t, lower, upper, Continuous)
}

// NewDiscreteSpec returns a discrete action spec with n actions
func NewDiscreteSpec(n int) Spec {
	return NewSpec(
		mat.NewVecDense(1, nil),
		Action,
		mat.NewVecDense(1, []float64{0}),
		mat.NewVecDense(1, []float64{float64(n - 1)}),
		Discrete,
	)
}

// Dim returns the number of components described by the spec. For a
// discrete action spec this is 1, the action index.
func (s Spec) Dim() int {
	return s.Shape.Len()
}

// NumActions returns the number of discrete actions described by the
// spec. It panics if the spec is not discrete.
func (s Spec) NumActions() int {
	if s.Cardinality != Discrete {
		panic("numActions: spec is not discrete")
	}
	return int(s.UpperBound.AtVec(0)-s.LowerBound.AtVec(0)) + 1
}
