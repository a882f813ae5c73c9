package ippo

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/ippo/agent/policy"
	"github.com/samuelfneumann/ippo/buffer/rollout"
	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/timestep"
)

// RolloutStats summarizes the episodes seen during a rollout
type RolloutStats struct {
	// EpisodeReturns holds the undiscounted return of every episode of
	// an agent slot which finished during the rollout
	EpisodeReturns []float64

	// ActiveSteps counts the transitions of controllable slots and
	// RewardSum sums their rewards
	ActiveSteps int
	RewardSum   float64

	// Info sums the Info counters reported by the adapter
	Info map[string]float64
}

// Collector runs the policy of each parameter group in a vectorized
// adapter and collects the resulting transitions into rollout buffers.
type Collector struct {
	env    environment.Adapter
	model  *policy.Model
	nets   []*policy.Network
	config Config

	// last is the batch observed at the end of the previous rollout
	last    timestep.Batch
	started bool

	// running holds the return so far of each row's current episode
	running []float64

	logger zerolog.Logger
}

// NewCollector returns a new Collector. The configuration must
// already be validated against the adapter.
func NewCollector(env environment.Adapter, model *policy.Model, c Config,
	logger zerolog.Logger) (*Collector, error) {
	nets := make([]*policy.Network, c.NumGroups())
	for g := range nets {
		net, err := model.NewNetwork(c.GroupRows())
		if err != nil {
			return nil, fmt.Errorf("newCollector: %v", err)
		}
		nets[g] = net
	}

	return &Collector{
		env:     env,
		model:   model,
		nets:    nets,
		config:  c,
		running: make([]float64, c.NumWorlds*c.MaxAgents),
		logger:  logger.With().Str("component", "collector").Logger(),
	}, nil
}

// Restart causes the next rollout to reset every world
func (c *Collector) Restart() {
	c.started = false
}

// reset resets the given worlds and clears the running returns of
// their rows
func (c *Collector) reset(worlds []int) (timestep.Batch, error) {
	batch, err := c.env.Reset(worlds)
	if err != nil {
		return timestep.Batch{}, failure.Wrap(failure.SimulationFault,
			"reset", err)
	}
	if err := environment.CheckBatch(c.env, batch); err != nil {
		return timestep.Batch{}, err
	}
	for _, w := range worlds {
		for a := 0; a < c.config.MaxAgents; a++ {
			c.running[timestep.Row(w, a, c.config.MaxAgents)] = 0
		}
	}
	return batch, nil
}

// act selects actions for every row of obs, evaluating the network of
// each parameter group once on all rows of that group
func (c *Collector) act(obs *mat.Dense, rng *rand.Rand,
	deterministic bool) (*mat.Dense, []float64, []float64, error) {
	rows, _ := obs.Dims()
	actDim := c.model.Distribution().ActionDim()
	actions := mat.NewDense(rows, actDim, nil)
	logProbs := make([]float64, rows)
	values := make([]float64, rows)

	for g, net := range c.nets {
		groupRows, groupObs := c.groupObs(g, obs)
		a, lp, v, err := net.Act(groupObs, rng, deterministic)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("act: group %v: %v", g, err)
		}
		for i, row := range groupRows {
			actions.SetRow(row, a.RawRowView(i))
			logProbs[row] = lp[i]
			values[row] = v[i]
		}
	}
	return actions, logProbs, values, nil
}

// values returns the value estimate of each row of obs
func (c *Collector) values(obs *mat.Dense) ([]float64, error) {
	rows, _ := obs.Dims()
	values := make([]float64, rows)
	for g, net := range c.nets {
		groupRows, groupObs := c.groupObs(g, obs)
		v, err := net.Values(groupObs)
		if err != nil {
			return nil, fmt.Errorf("values: group %v: %v", g, err)
		}
		for i, row := range groupRows {
			values[row] = v[i]
		}
	}
	return values, nil
}

// groupObs gathers the rows of obs belonging to parameter group g
func (c *Collector) groupObs(g int, obs *mat.Dense) ([]int, *mat.Dense) {
	_, obsDim := obs.Dims()
	groupRows := rollout.GroupRows(g, c.config.NumWorlds,
		c.config.MaxAgents, c.config.SharedParameters)
	groupObs := mat.NewDense(len(groupRows), obsDim, nil)
	for i, row := range groupRows {
		groupObs.SetRow(i, obs.RawRowView(row))
	}
	return groupRows, groupObs
}

// setParams loads the parameters of each group of s into the networks
func (c *Collector) setParams(s State) error {
	if len(s.Params) != len(c.nets) {
		return failure.New(failure.ShapeMismatch, "setParams",
			"expected %v parameter groups, got %v", len(c.nets), len(s.Params))
	}
	for g, net := range c.nets {
		if err := net.SetParams(s.Params[g]); err != nil {
			return failure.Wrap(failure.ShapeMismatch, "setParams", err)
		}
	}
	return nil
}

// Collect rolls out the parameters of s for EpisodeLength steps of
// every world and returns the filled buffer. Actions are sampled from
// the policy using rng. The adapter advances by EpisodeLength steps.
//
// Errors from the adapter are of kind failure.SimulationFault.
func (c *Collector) Collect(s State, rng *rand.Rand) (*rollout.Buffer,
	RolloutStats, error) {
	stats := RolloutStats{Info: make(map[string]float64)}
	if err := c.setParams(s); err != nil {
		return nil, stats, err
	}

	buf, err := rollout.New(c.config.EpisodeLength, c.config.NumWorlds,
		c.config.MaxAgents, c.model.Features(),
		c.model.Distribution().ActionDim())
	if err != nil {
		return nil, stats, fmt.Errorf("collect: %v", err)
	}

	batch := c.last
	if !c.started || c.config.ResetEachIteration {
		if batch, err = c.reset(environment.AllWorlds(c.env)); err != nil {
			return nil, stats, err
		}
		c.started = true
	} else if batch, err = c.autoReset(batch); err != nil {
		// Worlds left terminal by the previous iteration
		c.started = false
		return nil, stats, err
	}

	for t := 0; t < c.config.EpisodeLength; t++ {
		actions, logProbs, values, err := c.act(batch.Observations, rng, false)
		if err != nil {
			return nil, stats, err
		}

		next, err := c.env.Step(actions)
		if err != nil {
			c.started = false
			return nil, stats, failure.Wrap(failure.SimulationFault, "collect",
				err)
		}
		if err := environment.CheckBatch(c.env, next); err != nil {
			c.started = false
			return nil, stats, err
		}

		if err := buf.Store(t, batch.Observations, actions, logProbs, values,
			next.Rewards, next.Dones, batch.Mask); err != nil {
			return nil, stats, fmt.Errorf("collect: %v", err)
		}
		c.track(&stats, batch, next)

		if c.config.AutoReset {
			if next, err = c.autoReset(next); err != nil {
				c.started = false
				return nil, stats, err
			}
		}
		batch = next
	}

	// Bootstrap from the value of the final observation
	values, err := c.values(batch.Observations)
	if err != nil {
		return nil, stats, err
	}
	if err := buf.SetLastValues(values, batch.Mask); err != nil {
		return nil, stats, fmt.Errorf("collect: %v", err)
	}
	c.last = batch

	c.logger.Debug().
		Int("steps", c.config.EpisodeLength).
		Int("episodes", len(stats.EpisodeReturns)).
		Int("active_steps", stats.ActiveSteps).
		Msg("rollout collected")
	return buf, stats, nil
}

// track updates the episode bookkeeping with the transition from
// batch to next
func (c *Collector) track(stats *RolloutStats, batch, next timestep.Batch) {
	for row := range c.running {
		if !batch.Active(row) {
			continue
		}
		stats.ActiveSteps++
		stats.RewardSum += next.Rewards[row]
		c.running[row] += next.Rewards[row]
		if next.Done(row) {
			stats.EpisodeReturns = append(stats.EpisodeReturns, c.running[row])
			c.running[row] = 0
		}
	}
	for k, v := range next.Info {
		stats.Info[k] += v
	}
}

// autoReset resets every world of next which has no controllable
// slots and returns the batch to continue from. Rewards, done flags,
// and Info of next are kept; observations and masks are those after
// the reset.
func (c *Collector) autoReset(next timestep.Batch) (timestep.Batch, error) {
	var worlds []int
	for w := 0; w < c.config.NumWorlds; w++ {
		if next.WorldDone(w, c.config.MaxAgents) {
			worlds = append(worlds, w)
		}
	}
	if len(worlds) == 0 {
		return next, nil
	}

	reset, err := c.reset(worlds)
	if err != nil {
		return timestep.Batch{}, err
	}
	c.logger.Debug().Ints("worlds", worlds).Msg("worlds reset")

	next.Observations = reset.Observations
	next.Mask = reset.Mask
	return next, nil
}

// Evaluate runs the deterministic policy of s for steps steps of every
// world, starting from a reset, and returns the episode statistics.
// The next call to Collect resets every world.
func (c *Collector) Evaluate(s State, steps int) (RolloutStats, error) {
	stats := RolloutStats{Info: make(map[string]float64)}
	if err := c.setParams(s); err != nil {
		return stats, err
	}

	c.started = false
	batch, err := c.reset(environment.AllWorlds(c.env))
	if err != nil {
		return stats, err
	}
	for t := 0; t < steps; t++ {
		actions, _, _, err := c.act(batch.Observations, nil, true)
		if err != nil {
			return stats, err
		}
		next, err := c.env.Step(actions)
		if err != nil {
			return stats, failure.Wrap(failure.SimulationFault, "evaluate",
				err)
		}
		if err := environment.CheckBatch(c.env, next); err != nil {
			return stats, err
		}
		c.track(&stats, batch, next)
		if next, err = c.autoReset(next); err != nil {
			return stats, err
		}
		batch = next
	}
	return stats, nil
}
