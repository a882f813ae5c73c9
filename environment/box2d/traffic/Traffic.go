// Package traffic provides a vectorized multi-agent driving
// environment built on Box2D. Every world is an independent physics
// scene holding up to MaxAgents vehicles, and all worlds are stepped
// together with one joint action batch.
package traffic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/timestep"
	"github.com/samuelfneumann/ippo/utils/floatutils"
)

// Discrete actions index a grid of accel x steer, each in {-1, 0, 1}
const (
	controlLevels int = 3
	NumActions    int = controlLevels * controlLevels
)

// Traffic implements environment.Adapter over NumWorlds road scenes
type Traffic struct {
	cfg     Config
	worlds  []*world
	obsSpec environment.Spec
	actSpec environment.Spec
	number  int
}

// New returns a new Traffic environment. The environment must be Reset
// before it is stepped.
func New(cfg Config) (*Traffic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	t := &Traffic{cfg: cfg}
	t.worlds = make([]*world, cfg.NumWorlds)
	for i := range t.worlds {
		t.worlds[i] = newWorld(&t.cfg, cfg.Seed+uint64(2*i))
	}

	t.obsSpec = environment.NewBoxSpec(environment.Observation, cfg.ObsDim(),
		math.Inf(-1), math.Inf(1))
	if cfg.Continuous {
		t.actSpec = environment.NewBoxSpec(environment.Action, 2, -1, 1)
	} else {
		t.actSpec = environment.NewDiscreteSpec(NumActions)
	}
	return t, nil
}

// NumWorlds returns the number of parallel worlds
func (t *Traffic) NumWorlds() int { return t.cfg.NumWorlds }

// MaxAgents returns the number of agent slots per world
func (t *Traffic) MaxAgents() int { return t.cfg.MaxAgents }

// ObservationSpec returns the observation spec of a single slot
func (t *Traffic) ObservationSpec() environment.Spec { return t.obsSpec }

// ActionSpec returns the action spec of a single slot
func (t *Traffic) ActionSpec() environment.Spec { return t.actSpec }

// Reset resets the given worlds and returns the batch of all worlds
func (t *Traffic) Reset(worlds []int) (timestep.Batch, error) {
	for _, w := range worlds {
		if w < 0 || w >= len(t.worlds) {
			return timestep.Batch{}, failure.New(failure.SimulationFault,
				"reset", "world %v out of range [0, %v)", w, len(t.worlds))
		}
		t.worlds[w].reset()
	}

	rows := t.cfg.NumWorlds * t.cfg.MaxAgents
	b := t.batch(make([]float64, rows), make([]float64, rows),
		map[string]float64{})
	b.StepType = timestep.First
	return b, nil
}

// Step steps every world with one action row per agent slot
func (t *Traffic) Step(actions *mat.Dense) (timestep.Batch, error) {
	rows := t.cfg.NumWorlds * t.cfg.MaxAgents
	if r, c := actions.Dims(); r != rows || c != t.actSpec.Dim() {
		return timestep.Batch{}, failure.New(failure.SimulationFault, "step",
			"expected actions of shape (%v, %v), got (%v, %v)", rows,
			t.actSpec.Dim(), r, c)
	}

	rewards := make([]float64, rows)
	dones := make([]float64, rows)
	info := map[string]float64{
		InfoGoals:      0,
		InfoCollisions: 0,
		InfoOffRoad:    0,
		InfoTruncated:  0,
	}
	controls := make([][2]float64, t.cfg.MaxAgents)

	for w, wld := range t.worlds {
		for a := 0; a < t.cfg.MaxAgents; a++ {
			row := timestep.Row(w, a, t.cfg.MaxAgents)
			accel, steer, err := t.decode(actions.RawRowView(row))
			if err != nil && wld.vehicles[a].active {
				return timestep.Batch{}, failure.Wrap(failure.SimulationFault,
					"step", err)
			}
			controls[a] = [2]float64{accel, steer}
		}

		lo := timestep.Row(w, 0, t.cfg.MaxAgents)
		hi := lo + t.cfg.MaxAgents
		wld.step(controls, rewards[lo:hi], dones[lo:hi], info)
	}
	t.number++

	b := t.batch(rewards, dones, info)
	b.StepType = timestep.Mid
	return b, nil
}

// decode converts an action row into an (accel, steer) control
func (t *Traffic) decode(action []float64) (float64, float64, error) {
	if t.cfg.Continuous {
		return floatutils.Clip(action[0], -1, 1),
			floatutils.Clip(action[1], -1, 1), nil
	}

	index := int(action[0])
	if float64(index) != action[0] || index < 0 || index >= NumActions {
		return 0, 0, fmt.Errorf("decode: illegal discrete action %v",
			action[0])
	}
	accel := float64(index/controlLevels - 1)
	steer := float64(index%controlLevels - 1)
	return accel, steer, nil
}

func (t *Traffic) batch(rewards, dones []float64,
	info map[string]float64) timestep.Batch {
	rows := t.cfg.NumWorlds * t.cfg.MaxAgents
	obs := mat.NewDense(rows, t.cfg.ObsDim(), nil)
	mask := make([]float64, rows)

	for w, wld := range t.worlds {
		for a := 0; a < t.cfg.MaxAgents; a++ {
			row := timestep.Row(w, a, t.cfg.MaxAgents)
			wld.observe(a, obs.RawRowView(row))
			if wld.vehicles[a].active {
				mask[row] = 1
			}
		}
	}

	return timestep.Batch{
		Observations: obs,
		Rewards:      rewards,
		Dones:        dones,
		Mask:         mask,
		Number:       t.number,
		Info:         info,
	}
}
