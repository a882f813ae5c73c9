package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Architecture describes a fully connected network. The network has
// len(Hidden) hidden layers, where hidden layer i has Hidden[i] units
// and Activations[i] as its activation, followed by a final linear
// layer with Outputs units. Every layer has a bias unit.
type Architecture struct {
	Features    int
	Hidden      []int
	Activations []*Activation
	Outputs     int
}

// Validate checks that an Architecture is usable
func (a Architecture) Validate() error {
	if a.Features < 1 {
		return fmt.Errorf("validate: features must be positive, got %v",
			a.Features)
	}
	if a.Outputs < 1 {
		return fmt.Errorf("validate: outputs must be positive, got %v",
			a.Outputs)
	}
	if len(a.Hidden) != len(a.Activations) {
		return fmt.Errorf("validate: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(a.Hidden), len(a.Activations))
	}
	for i, h := range a.Hidden {
		if h < 1 {
			return fmt.Errorf("validate: hidden layer %v has %v units", i, h)
		}
		if a.Activations[i] == nil {
			return fmt.Errorf("validate: hidden layer %v has no activation",
				i)
		}
	}
	return nil
}

// layers returns the (in, out) sizes and activation of each layer
func (a Architecture) layers() ([][2]int, []*Activation) {
	sizes := make([][2]int, 0, len(a.Hidden)+1)
	acts := make([]*Activation, 0, len(a.Hidden)+1)
	in := a.Features
	for i, h := range a.Hidden {
		sizes = append(sizes, [2]int{in, h})
		acts = append(acts, a.Activations[i])
		in = h
	}
	sizes = append(sizes, [2]int{in, a.Outputs})
	acts = append(acts, Identity())
	return sizes, acts
}

func weightName(prefix string, layer int) string {
	return fmt.Sprintf("%sL%dW", prefix, layer)
}

func biasName(prefix string, layer int) string {
	return fmt.Sprintf("%sL%dB", prefix, layer)
}

// Init returns freshly initialized Params for the Architecture. Weights
// are drawn with weights and biases with bias. Every name is prefixed
// with prefix so that several networks can share one graph.
func (a Architecture) Init(weights, bias G.InitWFn, prefix string) Params {
	sizes, _ := a.layers()
	params := make(Params, 0, 2*len(sizes))
	for i, s := range sizes {
		params = append(params, Param{
			Name:  weightName(prefix, i),
			Shape: []int{s[0], s[1]},
			Data:  weights(tensor.Float64, s[0], s[1]).([]float64),
		})
		params = append(params, Param{
			Name:  biasName(prefix, i),
			Shape: []int{1, s[1]},
			Data:  bias(tensor.Float64, 1, s[1]).([]float64),
		})
	}
	return params
}
