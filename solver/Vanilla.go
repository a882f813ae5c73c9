package solver

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/samuelfneumann/ippo/network"
)

// VanillaConfig describes a configuration of the vanilla gradient
// descent solver.
type VanillaConfig struct {
	StepSize float64
}

// NewVanilla returns a new Vanilla Solver
func NewVanilla(stepSize float64) (*Solver, error) {
	return newSolver(Vanilla, VanillaConfig{StepSize: stepSize})
}

// Create returns a vanilla gradient descent Optimizer as described by
// the VanillaConfig
func (v VanillaConfig) Create() Optimizer {
	return vanilla{v}
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (v VanillaConfig) ValidType(t Type) bool {
	return t == Vanilla
}

// Validate checks that the VanillaConfig is usable
func (v VanillaConfig) Validate() error {
	if v.StepSize <= 0 {
		return fmt.Errorf("validate: step size must be positive")
	}
	return nil
}

type vanilla struct {
	VanillaConfig
}

func (v vanilla) Init(network.Params) State {
	return State{}
}

func (v vanilla) Step(params network.Params, grads [][]float64,
	state State) (network.Params, State, error) {
	if err := checkGrads(params, grads); err != nil {
		return nil, State{}, fmt.Errorf("step: %v", err)
	}

	out := params.Clone()
	for i := range out {
		floats.AddScaled(out[i].Data, -v.StepSize, grads[i])
	}
	return out, State{Step: state.Step + 1}, nil
}
