package solver

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/ippo/network"
)

// AdamConfig describes a configuration of the Adam solver
type AdamConfig struct {
	StepSize float64
	Epsilon  float64 // Smoothing factor
	Beta1    float64
	Beta2    float64
}

// NewDefaultAdam returns a new Adam Solver with default hyperparameters
func NewDefaultAdam(stepSize float64) (*Solver, error) {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999)
}

// NewAdam returns a new Adam Solver
func NewAdam(stepSize, epsilon, beta1, beta2 float64) (*Solver, error) {
	adam := AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
	}

	return newSolver(Adam, adam)
}

// Create returns a new Adam Optimizer as described by the AdamConfig
func (a AdamConfig) Create() Optimizer {
	return adam{a}
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (a AdamConfig) ValidType(t Type) bool {
	return t == Adam
}

// Validate checks that the AdamConfig is usable
func (a AdamConfig) Validate() error {
	if a.StepSize <= 0 {
		return fmt.Errorf("validate: step size must be positive")
	}
	if a.Epsilon <= 0 {
		return fmt.Errorf("validate: epsilon must be positive")
	}
	if a.Beta1 < 0 || a.Beta1 >= 1 || a.Beta2 < 0 || a.Beta2 >= 1 {
		return fmt.Errorf("validate: betas must be in [0, 1)")
	}
	return nil
}

// adam keeps the first and second moment estimates of the gradients as
// the two accumulators of its State
type adam struct {
	AdamConfig
}

func (a adam) Init(params network.Params) State {
	return State{Moments: zeroMoments(params, 2)}
}

func (a adam) Step(params network.Params, grads [][]float64,
	state State) (network.Params, State, error) {
	if err := checkGrads(params, grads); err != nil {
		return nil, State{}, fmt.Errorf("step: %v", err)
	}
	if err := checkState(params, state, 2); err != nil {
		return nil, State{}, fmt.Errorf("step: %v", err)
	}

	next := state.Clone()
	next.Step++
	m, v := next.Moments[0], next.Moments[1]
	correction1 := 1 - math.Pow(a.Beta1, float64(next.Step))
	correction2 := 1 - math.Pow(a.Beta2, float64(next.Step))

	out := params.Clone()
	for i := range out {
		for j, g := range grads[i] {
			m[i][j] = a.Beta1*m[i][j] + (1-a.Beta1)*g
			v[i][j] = a.Beta2*v[i][j] + (1-a.Beta2)*g*g

			mHat := m[i][j] / correction1
			vHat := v[i][j] / correction2
			out[i].Data[j] -= a.StepSize * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
	return out, next, nil
}
