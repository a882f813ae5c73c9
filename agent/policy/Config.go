// Package policy implements the policy-value networks used by the
// trainer: an actor producing the parameters of an action distribution
// and a critic producing one state value per row, both reading the same
// batch of observations.
package policy

import (
	"fmt"

	"github.com/samuelfneumann/ippo/network"
)

// Config configures the actor of a policy
type Config struct {
	Type        Type
	Hidden      []int
	Activations []*network.Activation

	// InitLogStd is the initial state-independent log standard
	// deviation of a Gaussian policy
	InitLogStd float64

	// ObsDim is the number of observation features the policy
	// expects. If zero, the dimension of the observation spec is used.
	ObsDim int
}

// Validate checks a Config for errors
func (c Config) Validate() error {
	switch c.Type {
	case Categorical, Gaussian:
	default:
		return fmt.Errorf("validate: unknown policy type %q", c.Type)
	}
	if len(c.Hidden) != len(c.Activations) {
		return fmt.Errorf("validate: %v hidden layers but %v activations",
			len(c.Hidden), len(c.Activations))
	}
	if c.ObsDim < 0 {
		return fmt.Errorf("validate: obsDim must be non-negative, got %v",
			c.ObsDim)
	}
	return nil
}

// CriticConfig configures the critic of a policy
type CriticConfig struct {
	Hidden      []int
	Activations []*network.Activation
}

// Validate checks a CriticConfig for errors
func (c CriticConfig) Validate() error {
	if len(c.Hidden) != len(c.Activations) {
		return fmt.Errorf("validate: %v hidden layers but %v activations",
			len(c.Hidden), len(c.Activations))
	}
	return nil
}
