// Package environment outlines the interfaces and structs needed to
// implement vectorized multi-agent environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Adapter implements a batch of NumWorlds parallel worlds, each with
// MaxAgents controllable agent slots. All observations, actions,
// rewards, done flags, and masks are laid out in flattened world-major
// rows, see timestep.Row.
type Adapter interface {
	NumWorlds() int
	MaxAgents() int
	ObservationSpec() Spec
	ActionSpec() Spec

	// Reset resets the given worlds and returns the batch of all
	// worlds. Worlds not in worlds are left untouched.
	Reset(worlds []int) (timestep.Batch, error)

	// Step steps every world with one action row per agent slot.
	// Actions of inactive slots are ignored.
	Step(actions *mat.Dense) (timestep.Batch, error)
}

// Renderer is implemented by adapters which can draw a world
type Renderer interface {
	Render(world int, filename string) error
}

// AllWorlds returns the indices of all worlds of an adapter
func AllWorlds(a Adapter) []int {
	worlds := make([]int, a.NumWorlds())
	for i := range worlds {
		worlds[i] = i
	}
	return worlds
}

// CheckBatch validates that a batch returned from an adapter is shaped
// consistently with the adapter's world count, agent count, and
// observation spec. The returned error is a failure.SimulationFault.
func CheckBatch(a Adapter, b timestep.Batch) error {
	rows := a.NumWorlds() * a.MaxAgents()
	obsDim := a.ObservationSpec().Dim()
	if err := b.Validate(rows, obsDim); err != nil {
		return failure.Wrap(failure.SimulationFault, "checkBatch", err)
	}
	return nil
}
