// Package timestep implements batched timesteps of the agent-environment
// interaction across many worlds and agent slots
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a Batch can be, either the
// first step after a reset or a middle step
type StepType int

const (
	First StepType = iota
	Mid
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	default:
		return "Mid"
	}
}

// Batch packages together a single timestep of every agent slot in
// every world. Rows are flattened world-major: the slot of agent a in
// world w lives at row w*MaxAgents + a.
//
// Rewards and Dones describe the transition that led to this batch.
// Mask describes the observations of this batch: Mask[row] is 1 if the
// slot is currently controllable and 0 otherwise.
type Batch struct {
	StepType     StepType
	Observations *mat.Dense // rows x observation dimension
	Rewards      []float64
	Dones        []float64
	Mask         []float64
	Number       int
	Info         map[string]float64
}

// Row returns the flattened row of agent slot agent in world world
func Row(world, agent, maxAgents int) int {
	return world*maxAgents + agent
}

// Rows returns the number of flattened rows in the batch
func (b Batch) Rows() int {
	if b.Observations == nil {
		return 0
	}
	r, _ := b.Observations.Dims()
	return r
}

// Active returns whether the slot at row is controllable
func (b Batch) Active(row int) bool {
	return b.Mask[row] != 0
}

// Done returns whether the episode of the slot at row ended on the
// transition into this batch
func (b Batch) Done(row int) bool {
	return b.Dones[row] != 0
}

// WorldDone returns whether no slot of world world is controllable
func (b Batch) WorldDone(world, maxAgents int) bool {
	for a := 0; a < maxAgents; a++ {
		if b.Active(Row(world, a, maxAgents)) {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the batch
func (b Batch) Copy() Batch {
	out := Batch{
		StepType: b.StepType,
		Rewards:  append([]float64(nil), b.Rewards...),
		Dones:    append([]float64(nil), b.Dones...),
		Mask:     append([]float64(nil), b.Mask...),
		Number:   b.Number,
	}
	if b.Observations != nil {
		out.Observations = mat.DenseCopyOf(b.Observations)
	}
	if b.Info != nil {
		out.Info = make(map[string]float64, len(b.Info))
		for k, v := range b.Info {
			out.Info[k] = v
		}
	}
	return out
}

// Validate checks that the batch holds exactly rows slots with
// observations of dimension obsDim
func (b Batch) Validate(rows, obsDim int) error {
	if b.Observations == nil {
		return fmt.Errorf("validate: nil observations")
	}
	r, c := b.Observations.Dims()
	if r != rows {
		return fmt.Errorf("validate: expected %v observation rows, got %v",
			rows, r)
	}
	if c != obsDim {
		return fmt.Errorf("validate: expected observation dimension %v, "+
			"got %v", obsDim, c)
	}
	if len(b.Rewards) != rows {
		return fmt.Errorf("validate: expected %v rewards, got %v", rows,
			len(b.Rewards))
	}
	if len(b.Dones) != rows {
		return fmt.Errorf("validate: expected %v done flags, got %v", rows,
			len(b.Dones))
	}
	if len(b.Mask) != rows {
		return fmt.Errorf("validate: expected %v mask entries, got %v", rows,
			len(b.Mask))
	}
	return nil
}

func (b Batch) String() string {
	str := "Batch | Type: %v  |  Rows: %v  |  Step Number:  %v"
	return fmt.Sprintf(str, b.StepType, b.Rows(), b.Number)
}
