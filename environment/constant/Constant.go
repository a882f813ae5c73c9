// Package constant implements a vectorized multi-agent environment
// which pays a constant reward each step and ends every episode after
// a fixed number of steps. It is useful for testing trainers, since
// returns and advantages can be computed by hand.
package constant

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/timestep"
)

// Config configures a constant environment
type Config struct {
	NumWorlds int
	MaxAgents int

	// EpisodeSteps is the number of steps after which every slot is
	// done
	EpisodeSteps int
	Reward       float64

	// ObsDim is the observation dimension, which must be at least 2
	ObsDim int

	// NumActions is the number of discrete actions. If ActDim > 0,
	// actions are instead continuous of dimension ActDim.
	NumActions int
	ActDim     int

	// Inactive lists agent slots which are never controllable in any
	// world
	Inactive []int
}

// Validate checks that a Config is usable
func (c Config) Validate() error {
	if c.NumWorlds < 1 || c.MaxAgents < 1 {
		return fmt.Errorf("validate: need at least one world and agent, "+
			"got %v worlds and %v agents", c.NumWorlds, c.MaxAgents)
	}
	if c.EpisodeSteps < 1 {
		return fmt.Errorf("validate: episode steps must be positive")
	}
	if c.ObsDim < 2 {
		return fmt.Errorf("validate: observation dimension must be at "+
			"least 2, got %v", c.ObsDim)
	}
	if c.ActDim <= 0 && c.NumActions < 1 {
		return fmt.Errorf("validate: need at least one discrete action or " +
			"a positive continuous action dimension")
	}
	for _, a := range c.Inactive {
		if a < 0 || a >= c.MaxAgents {
			return fmt.Errorf("validate: inactive slot %v out of range "+
				"[0, %v)", a, c.MaxAgents)
		}
	}
	return nil
}

// Constant is a vectorized environment with constant rewards
type Constant struct {
	Config
	steps    []int
	active   []bool
	inactive map[int]bool
	actSpec  environment.Spec
	obsSpec  environment.Spec
}

// New returns a new Constant environment. The environment must be
// Reset before it is stepped.
func New(c Config) (*Constant, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	var actSpec environment.Spec
	if c.ActDim > 0 {
		actSpec = environment.NewBoxSpec(environment.Action, c.ActDim, -1, 1)
	} else {
		actSpec = environment.NewDiscreteSpec(c.NumActions)
	}

	inactive := make(map[int]bool, len(c.Inactive))
	for _, a := range c.Inactive {
		inactive[a] = true
	}

	return &Constant{
		Config:   c,
		steps:    make([]int, c.NumWorlds),
		active:   make([]bool, c.NumWorlds*c.MaxAgents),
		inactive: inactive,
		actSpec:  actSpec,
		obsSpec: environment.NewBoxSpec(environment.Observation, c.ObsDim,
			0, 1),
	}, nil
}

// NumWorlds returns the number of parallel worlds
func (c *Constant) NumWorlds() int { return c.Config.NumWorlds }

// MaxAgents returns the number of agent slots per world
func (c *Constant) MaxAgents() int { return c.Config.MaxAgents }

// ObservationSpec returns the observation spec of a single slot
func (c *Constant) ObservationSpec() environment.Spec { return c.obsSpec }

// ActionSpec returns the action spec of a single slot
func (c *Constant) ActionSpec() environment.Spec { return c.actSpec }

// Reset resets the given worlds
func (c *Constant) Reset(worlds []int) (timestep.Batch, error) {
	for _, w := range worlds {
		if w < 0 || w >= c.Config.NumWorlds {
			return timestep.Batch{}, failure.New(failure.SimulationFault,
				"reset", "world %v out of range [0, %v)", w, c.Config.NumWorlds)
		}
		c.steps[w] = 0
		for a := 0; a < c.Config.MaxAgents; a++ {
			c.active[timestep.Row(w, a, c.Config.MaxAgents)] = !c.inactive[a]
		}
	}

	b := c.batch(make([]float64, len(c.active)), make([]float64,
		len(c.active)))
	b.StepType = timestep.First
	return b, nil
}

// Step steps all worlds. Every active slot receives the constant
// reward, and all slots of a world are done once the world has taken
// EpisodeSteps steps.
func (c *Constant) Step(actions *mat.Dense) (timestep.Batch, error) {
	rows := len(c.active)
	if r, cols := actions.Dims(); r != rows || cols != c.actSpec.Dim() {
		return timestep.Batch{}, failure.New(failure.SimulationFault, "step",
			"expected actions of shape (%v, %v), got (%v, %v)", rows,
			c.actSpec.Dim(), r, cols)
	}

	rewards := make([]float64, rows)
	dones := make([]float64, rows)
	for w := 0; w < c.Config.NumWorlds; w++ {
		worldActive := false
		for a := 0; a < c.Config.MaxAgents; a++ {
			worldActive = worldActive ||
				c.active[timestep.Row(w, a, c.Config.MaxAgents)]
		}
		if worldActive {
			c.steps[w]++
		}

		for a := 0; a < c.Config.MaxAgents; a++ {
			row := timestep.Row(w, a, c.Config.MaxAgents)
			if !c.active[row] {
				dones[row] = 1
				continue
			}
			rewards[row] = c.Reward
			if c.steps[w] >= c.EpisodeSteps {
				dones[row] = 1
				c.active[row] = false
			}
		}
	}

	b := c.batch(rewards, dones)
	b.StepType = timestep.Mid
	return b, nil
}

// batch constructs the current batch. Observation row r of world w is
// (1, steps[w]/EpisodeSteps, 0, ...).
func (c *Constant) batch(rewards, dones []float64) timestep.Batch {
	rows := len(c.active)
	obs := mat.NewDense(rows, c.ObsDim, nil)
	mask := make([]float64, rows)
	for w := 0; w < c.Config.NumWorlds; w++ {
		for a := 0; a < c.Config.MaxAgents; a++ {
			row := timestep.Row(w, a, c.Config.MaxAgents)
			obs.Set(row, 0, 1)
			obs.Set(row, 1, float64(c.steps[w])/float64(c.EpisodeSteps))
			if c.active[row] {
				mask[row] = 1
			}
		}
	}

	number := 0
	for _, s := range c.steps {
		number = max(number, s)
	}
	return timestep.Batch{
		Observations: obs,
		Rewards:      rewards,
		Dones:        dones,
		Mask:         mask,
		Number:       number,
	}
}
