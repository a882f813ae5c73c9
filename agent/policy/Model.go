package policy

import (
	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/initwfn"
	"github.com/samuelfneumann/ippo/network"
)

// Name prefixes of the parameters of a Model
const (
	actorPrefix  = "pi/"
	criticPrefix = "vf/"
	logStdName   = "logStd"
)

// Model describes a policy-value network: the architectures of its
// actor and critic and its action distribution. A Model holds no
// weights. Weights are created with Init and loaded into the graphs
// created with NewNetwork.
type Model struct {
	dist   Distribution
	actor  network.Architecture
	critic network.Architecture

	initLogStd float64
	weights    *initwfn.InitWFn
}

// NewModel returns a new Model for an adapter with the given
// observation and action specs. If weights is nil, weights are drawn
// from GlorotU(1). Biases are always initialized to zero.
//
// An error of kind failure.ShapeMismatch is returned if the policy
// cannot be used with the specs.
func NewModel(c Config, cc CriticConfig, weights *initwfn.InitWFn,
	obs, act environment.Spec) (*Model, error) {
	const op = "newModel"
	if err := c.Validate(); err != nil {
		return nil, failure.Wrap(failure.ShapeMismatch, op, err)
	}
	if err := cc.Validate(); err != nil {
		return nil, failure.Wrap(failure.ShapeMismatch, op, err)
	}

	features := obs.Dim()
	if c.ObsDim != 0 && c.ObsDim != features {
		return nil, failure.New(failure.ShapeMismatch, op,
			"policy expects %v observation features but the adapter "+
				"provides %v", c.ObsDim, features)
	}

	var dist Distribution
	switch c.Type {
	case Categorical:
		if act.Cardinality != environment.Discrete {
			return nil, failure.New(failure.ShapeMismatch, op,
				"categorical policy requires discrete actions")
		}
		dist = categorical{numActions: act.NumActions()}
	case Gaussian:
		if act.Cardinality != environment.Continuous {
			return nil, failure.New(failure.ShapeMismatch, op,
				"gaussian policy requires continuous actions")
		}
		dist = gaussian{actionDim: act.Dim()}
	}

	if weights == nil {
		var err error
		if weights, err = initwfn.NewGlorotU(1.0); err != nil {
			return nil, failure.Wrap(failure.ShapeMismatch, op, err)
		}
	}

	m := &Model{
		dist: dist,
		actor: network.Architecture{
			Features:    features,
			Hidden:      c.Hidden,
			Activations: c.Activations,
			Outputs:     dist.Outputs(),
		},
		critic: network.Architecture{
			Features:    features,
			Hidden:      cc.Hidden,
			Activations: cc.Activations,
			Outputs:     1,
		},
		initLogStd: c.InitLogStd,
		weights:    weights,
	}
	if err := m.actor.Validate(); err != nil {
		return nil, failure.Wrap(failure.ShapeMismatch, op, err)
	}
	if err := m.critic.Validate(); err != nil {
		return nil, failure.Wrap(failure.ShapeMismatch, op, err)
	}
	return m, nil
}

// Distribution returns the action distribution of the Model
func (m *Model) Distribution() Distribution {
	return m.dist
}

// Features returns the number of observation features per row
func (m *Model) Features() int {
	return m.actor.Features
}

// Init returns new weights for the Model, drawn deterministically from
// seed. The actor weights come first, then the critic weights, then
// the log standard deviation of a Gaussian policy.
func (m *Model) Init(seed uint64) network.Params {
	zeroes, _ := initwfn.NewZeroes()
	params := m.actor.Init(m.weights.InitWFn(seed), zeroes.InitWFn(0),
		actorPrefix)
	params = append(params, m.critic.Init(m.weights.InitWFn(seed+1),
		zeroes.InitWFn(0), criticPrefix)...)

	if m.dist.Type() == Gaussian {
		d := m.dist.Outputs()
		logStd := make([]float64, d)
		for i := range logStd {
			logStd[i] = m.initLogStd
		}
		params = append(params, network.Param{
			Name:  logStdName,
			Shape: []int{1, d},
			Data:  logStd,
		})
	}
	return params
}

// CheckParams returns an error of kind failure.ShapeMismatch if params
// cannot be loaded into networks of the Model
func (m *Model) CheckParams(params network.Params) error {
	if err := m.Init(0).Compatible(params); err != nil {
		return failure.Wrap(failure.ShapeMismatch, "checkParams", err)
	}
	return nil
}
