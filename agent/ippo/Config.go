package ippo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/samuelfneumann/ippo/agent/policy"
	"github.com/samuelfneumann/ippo/initwfn"
	"github.com/samuelfneumann/ippo/network"
	"github.com/samuelfneumann/ippo/solver"
)

// Config configures an IPPO Trainer
type Config struct {
	// NumWorlds and MaxAgents must match the adapter being trained on
	NumWorlds int
	MaxAgents int

	// EpisodeLength is the number of timesteps collected per iteration
	EpisodeLength int

	Gamma  float64
	Lambda float64

	ClipEpsilon    float64
	UpdateEpochs   int
	NumMinibatches int
	EntropyCoef    float64
	ValueCoef      float64

	// SharedParameters determines whether all agent slots share one
	// set of parameters. If false, agent slot a in every world uses
	// parameter group a.
	SharedParameters bool

	Seed          uint64
	NumIterations int

	// ResetEachIteration resets every world at the start of each
	// iteration. Otherwise, rollouts continue from the last
	// observation of the previous iteration.
	ResetEachIteration bool

	// AutoReset resets a world as soon as none of its slots are
	// controllable. Otherwise, the world stays terminal for the rest
	// of the rollout and is reset when the next rollout starts.
	AutoReset bool

	ClipValueLoss bool

	// MaxGradNorm clips the global norm of the gradients of each
	// minibatch. Zero disables clipping.
	MaxGradNorm float64

	NormalizeAdvantages bool

	Policy  policy.Config
	Critic  policy.CriticConfig
	InitWFn *initwfn.InitWFn
	Solver  *solver.Solver

	// CheckpointEvery is the number of iterations between
	// checkpoints. Zero checkpoints every iteration.
	CheckpointEvery int
}

// DefaultConfig returns a Config with commonly used hyperparameters for
// a categorical policy
func DefaultConfig(numWorlds, maxAgents int) Config {
	s, err := solver.NewDefaultAdam(3e-4)
	if err != nil {
		panic(fmt.Sprintf("defaultConfig: %v", err))
	}
	w, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(fmt.Sprintf("defaultConfig: %v", err))
	}

	return Config{
		NumWorlds:           numWorlds,
		MaxAgents:           maxAgents,
		EpisodeLength:       128,
		Gamma:               0.99,
		Lambda:              0.95,
		ClipEpsilon:         0.2,
		UpdateEpochs:        4,
		NumMinibatches:      4,
		EntropyCoef:         0.01,
		ValueCoef:           0.5,
		SharedParameters:    true,
		NumIterations:       100,
		AutoReset:           true,
		ClipValueLoss:       true,
		MaxGradNorm:         0.5,
		NormalizeAdvantages: true,
		Policy: policy.Config{
			Type:        policy.Categorical,
			Hidden:      []int{64, 64},
			Activations: []*network.Activation{network.TanH(), network.TanH()},
		},
		Critic: policy.CriticConfig{
			Hidden:      []int{64, 64},
			Activations: []*network.Activation{network.TanH(), network.TanH()},
		},
		InitWFn:         w,
		Solver:          s,
		CheckpointEvery: 10,
	}
}

// LoadConfig loads a JSON Config from a file. Fields missing from the
// file keep the values of DefaultConfig.
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("loadConfig: %v", err)
	}

	c := DefaultConfig(0, 0)
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("loadConfig: %v", err)
	}
	return c, nil
}

// Validate checks a Config for errors. Checks which depend on the
// adapter are done by the Trainer.
func (c Config) Validate() error {
	if c.NumWorlds < 1 || c.MaxAgents < 1 {
		return fmt.Errorf("validate: need at least one world and agent, "+
			"got %v worlds and %v agents", c.NumWorlds, c.MaxAgents)
	}
	if c.EpisodeLength < 1 {
		return fmt.Errorf("validate: episode length must be positive, got %v",
			c.EpisodeLength)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: ℽ must be in [0, 1], got %v", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: λ must be in [0, 1], got %v", c.Lambda)
	}
	if c.ClipEpsilon <= 0 {
		return fmt.Errorf("validate: clip ε must be positive, got %v",
			c.ClipEpsilon)
	}
	if c.UpdateEpochs < 1 || c.NumMinibatches < 1 {
		return fmt.Errorf("validate: need at least one epoch and "+
			"minibatch, got %v epochs and %v minibatches", c.UpdateEpochs,
			c.NumMinibatches)
	}
	if c.EntropyCoef < 0 || c.ValueCoef < 0 {
		return fmt.Errorf("validate: loss coefficients must be "+
			"non-negative, got entropy %v and value %v", c.EntropyCoef,
			c.ValueCoef)
	}
	if c.NumIterations < 0 || c.CheckpointEvery < 0 {
		return fmt.Errorf("validate: iterations and checkpoint interval " +
			"must be non-negative")
	}
	if c.MaxGradNorm < 0 {
		return fmt.Errorf("validate: max gradient norm must be "+
			"non-negative, got %v", c.MaxGradNorm)
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if err := c.Critic.Validate(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	return nil
}

// NumGroups returns the number of parameter groups
func (c Config) NumGroups() int {
	if c.SharedParameters {
		return 1
	}
	return c.MaxAgents
}

// GroupRows returns the number of rows per timestep in each parameter
// group
func (c Config) GroupRows() int {
	if c.SharedParameters {
		return c.NumWorlds * c.MaxAgents
	}
	return c.NumWorlds
}

// MinibatchSize returns the number of transitions in each minibatch
// of a parameter group. The number of transitions in a group must be
// divisible by NumMinibatches, which is checked by the Trainer.
func (c Config) MinibatchSize() int {
	return c.EpisodeLength * c.GroupRows() / c.NumMinibatches
}
