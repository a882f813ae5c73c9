package ippo

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/ippo/experiment/tracker"
	"github.com/samuelfneumann/ippo/network"
	"github.com/samuelfneumann/ippo/solver"
)

// State is the complete learned state of a Trainer after some number of
// iterations. A State is an immutable value: Trainer.Iterate reads a
// State and returns a new one, never modifying its argument. States
// can be gob encoded for checkpointing.
type State struct {
	// Iteration is the number of iterations completed
	Iteration int

	// Params[g] and Solver[g] are the parameters and solver state of
	// parameter group g
	Params []network.Params
	Solver []solver.State
}

// Clone returns a deep copy of the State
func (s State) Clone() State {
	out := State{
		Iteration: s.Iteration,
		Params:    make([]network.Params, len(s.Params)),
		Solver:    make([]solver.State, len(s.Solver)),
	}
	for g := range s.Params {
		out.Params[g] = s.Params[g].Clone()
	}
	for g := range s.Solver {
		out.Solver[g] = s.Solver[g].Clone()
	}
	return out
}

// String implements the fmt.Stringer interface
func (s State) String() string {
	return fmt.Sprintf("State{Iteration: %v, Groups: %v}", s.Iteration,
		len(s.Params))
}

// Metrics are the scalar diagnostics of a single iteration
type Metrics struct {
	Iteration int

	// MeanEpisodeReward is the mean undiscounted return of the
	// episodes completed during the rollout, or NaN if none completed
	MeanEpisodeReward float64
	EpisodesCompleted int

	// MeanStepReward is the mean reward of active transitions
	MeanStepReward float64

	PolicyLoss        float64
	ValueLoss         float64
	Entropy           float64
	ClipFraction      float64
	ApproxKL          float64
	ExplainedVariance float64
	GradNorm          float64

	StepTime time.Duration
}

// Row returns the Metrics as a tracker Row
func (m Metrics) Row() tracker.Row {
	return tracker.Row{
		Iteration:         int64(m.Iteration),
		MeanEpisodeReward: m.MeanEpisodeReward,
		EpisodesCompleted: int64(m.EpisodesCompleted),
		MeanStepReward:    m.MeanStepReward,
		PolicyLoss:        m.PolicyLoss,
		ValueLoss:         m.ValueLoss,
		Entropy:           m.Entropy,
		ClipFraction:      m.ClipFraction,
		ApproxKL:          m.ApproxKL,
		ExplainedVariance: m.ExplainedVariance,
		GradNorm:          m.GradNorm,
		StepTimeSeconds:   m.StepTime.Seconds(),
	}
}
