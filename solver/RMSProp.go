package solver

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/ippo/network"
)

// RMSPropConfig implements a specific configuration of the RMSProp
// solver
type RMSPropConfig struct {
	StepSize float64
	Epsilon  float64
	Rho      float64
}

// NewDefaultRMSProp returns a new RMSProp Solver with default
// hyperparameters
func NewDefaultRMSProp(stepSize float64) (*Solver, error) {
	return NewRMSProp(stepSize, 1e-8, 0.99)
}

// NewRMSProp returns a new RMSProp Solver
func NewRMSProp(stepSize, epsilon, rho float64) (*Solver, error) {
	rmsprop := RMSPropConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Rho:      rho,
	}

	return newSolver(RMSProp, rmsprop)
}

// Create returns an RMSProp Optimizer as described by the
// RMSPropConfig
func (r RMSPropConfig) Create() Optimizer {
	return rmsprop{r}
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (r RMSPropConfig) ValidType(t Type) bool {
	return t == RMSProp
}

// Validate checks that the RMSPropConfig is usable
func (r RMSPropConfig) Validate() error {
	if r.StepSize <= 0 || r.Epsilon <= 0 {
		return fmt.Errorf("validate: step size and epsilon must be positive")
	}
	if r.Rho < 0 || r.Rho >= 1 {
		return fmt.Errorf("validate: rho must be in [0, 1)")
	}
	return nil
}

// rmsprop keeps a running average of squared gradients as the single
// accumulator of its State
type rmsprop struct {
	RMSPropConfig
}

func (r rmsprop) Init(params network.Params) State {
	return State{Moments: zeroMoments(params, 1)}
}

func (r rmsprop) Step(params network.Params, grads [][]float64,
	state State) (network.Params, State, error) {
	if err := checkGrads(params, grads); err != nil {
		return nil, State{}, fmt.Errorf("step: %v", err)
	}
	if err := checkState(params, state, 1); err != nil {
		return nil, State{}, fmt.Errorf("step: %v", err)
	}

	next := state.Clone()
	next.Step++
	sq := next.Moments[0]

	out := params.Clone()
	for i := range out {
		for j, g := range grads[i] {
			sq[i][j] = r.Rho*sq[i][j] + (1-r.Rho)*g*g
			out[i].Data[j] -= r.StepSize * g / (math.Sqrt(sq[i][j]) + r.Epsilon)
		}
	}
	return out, next, nil
}
