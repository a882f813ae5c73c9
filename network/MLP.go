// Package network implements fully connected neural networks whose
// weights live outside of the computational graph as Params, so that
// the same weights can be loaded into several graphs of different
// batch sizes.
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MLP implements a multi-layered perceptron inside a computational
// graph
type MLP struct {
	g         *G.ExprGraph
	arch      Architecture
	prefix    string
	layers    []*fcLayer
	input     *G.Node
	batchSize int

	learnables G.Nodes

	prediction *G.Node
	predVal    G.Value
}

// NewMLP creates and returns a new multi-layered perceptron with its
// own input node of shape (batch, arch.Features). The graph g is
// populated with the MLP. All learnables are zero until SetParams is
// called.
func NewMLP(g *G.ExprGraph, arch Architecture, batch int,
	prefix string) (*MLP, error) {
	if batch < 1 {
		return nil, fmt.Errorf("newMLP: batch size must be positive, got %v",
			batch)
	}
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, arch.Features),
		G.WithName(prefix+"input"), G.WithInit(G.Zeroes()))

	return NewMLPFromInput(input, arch, prefix)
}

// NewMLPFromInput returns a new MLP which uses an existing input node.
// This allows several networks, e.g. an actor and a critic, to read the
// same observations.
func NewMLPFromInput(input *G.Node, arch Architecture,
	prefix string) (*MLP, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("newMLPFromInput: %v", err)
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("newMLPFromInput: input must be a matrix")
	}
	if features := input.Shape()[1]; features != arch.Features {
		return nil, fmt.Errorf("newMLPFromInput: invalid number of "+
			"features\n\twant(%v)\n\thave(%v)", arch.Features, features)
	}

	g := input.Graph()
	sizes, acts := arch.layers()
	layers := make([]*fcLayer, len(sizes))
	for i, s := range sizes {
		layers[i] = newFCLayer(g, s[0], s[1], acts[i], weightName(prefix, i),
			biasName(prefix, i))
	}

	network := &MLP{
		g:         g,
		arch:      arch,
		prefix:    prefix,
		layers:    layers,
		input:     input,
		batchSize: input.Shape()[0],
	}
	if _, err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newMLPFromInput: could not compute "+
			"forward pass: %v", err)
	}
	return network, nil
}

// Graph returns the computational graph of the MLP.
func (m *MLP) Graph() *G.ExprGraph {
	return m.g
}

// Architecture returns the architecture of the MLP
func (m *MLP) Architecture() Architecture {
	return m.arch
}

// BatchSize returns the batch size of inputs to the MLP
func (m *MLP) BatchSize() int {
	return m.batchSize
}

// Features returns the number of features in a single input vector
func (m *MLP) Features() int {
	return m.arch.Features
}

// Outputs returns the number of outputs from the network
func (m *MLP) Outputs() int {
	return m.arch.Outputs
}

// Input returns the input node of the MLP
func (m *MLP) Input() *G.Node {
	return m.input
}

// SetInput sets the value of the input node before running the forward
// pass.
func (m *MLP) SetInput(input []float64) error {
	if len(input) != m.arch.Features*m.batchSize {
		return fmt.Errorf("setInput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", m.arch.Features*m.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(m.input.Shape()...),
	)
	return G.Let(m.input, inputTensor)
}

// SetParams sets the weights of the MLP to a copy of params
func (m *MLP) SetParams(params Params) error {
	if err := m.Params().Compatible(params); err != nil {
		return fmt.Errorf("setParams: %v", err)
	}
	for i, node := range m.Learnables() {
		if err := G.Let(node, params[i].Tensor()); err != nil {
			return fmt.Errorf("setParams: could not set %v: %v",
				params[i].Name, err)
		}
	}
	return nil
}

// Params returns a copy of the current weights of the MLP
func (m *MLP) Params() Params {
	nodes := m.Learnables()
	params := make(Params, len(nodes))
	for i, node := range nodes {
		params[i] = Param{
			Name:  node.Name(),
			Shape: append([]int(nil), node.Shape()...),
			Data:  append([]float64(nil), node.Value().Data().([]float64)...),
		}
	}
	return params
}

// Grads returns a copy of the gradients of the learnables, parallel to
// Params. It must be called after a tape machine which bound dual
// values has run the graph.
func (m *MLP) Grads() ([][]float64, error) {
	nodes := m.Learnables()
	grads := make([][]float64, len(nodes))
	for i, node := range nodes {
		grad, err := node.Grad()
		if err != nil {
			return nil, fmt.Errorf("grads: %v: %v", node.Name(), err)
		}
		grads[i] = append([]float64(nil), grad.Data().([]float64)...)
	}
	return grads, nil
}

// Learnables returns the learnable nodes in the MLP, weights then bias
// of each layer in order
func (m *MLP) Learnables() G.Nodes {
	// Lazy instantiation
	if m.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(m.layers))
		for _, l := range m.layers {
			learnables = append(learnables, l.weights, l.bias)
		}
		m.learnables = G.Nodes(learnables)
	}
	return m.learnables
}

// Model returns the learnables nodes with their gradients.
func (m *MLP) Model() []G.ValueGrad {
	model := make([]G.ValueGrad, 0, len(m.Learnables()))
	for _, node := range m.Learnables() {
		model = append(model, node)
	}
	return model
}

// fwd performs the forward pass of the MLP on the input node
func (m *MLP) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range m.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	m.prediction = pred
	G.Read(m.prediction, &m.predVal)

	return pred, nil
}

// Output returns the output of the MLP after the graph has been run
func (m *MLP) Output() G.Value {
	return m.predVal
}

// Prediction returns the node of the computational graph the stores
// the output of the MLP
func (m *MLP) Prediction() *G.Node {
	return m.prediction
}
