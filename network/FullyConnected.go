package network

import (
	G "gorgonia.org/gorgonia"
)

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer adds the learnables of a fully connected layer with in
// inputs and out outputs to g. Learnables are zero until set.
func newFCLayer(g *G.ExprGraph, in, out int, act *Activation, weightName,
	biasName string) *fcLayer {
	weights := G.NewMatrix(
		g,
		G.Float64,
		G.WithShape(in, out),
		G.WithName(weightName),
		G.WithInit(G.Zeroes()),
	)
	bias := G.NewMatrix(
		g,
		G.Float64,
		G.WithShape(1, out),
		G.WithName(biasName),
		G.WithInit(G.Zeroes()),
	)
	return &fcLayer{weights: weights, bias: bias, act: act}
}

// Fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, f.weights)
	if err != nil {
		return nil, err
	}

	// Broadcast the bias weights to all samples along the batch
	// dimension
	x, err = G.BroadcastAdd(x, f.bias, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	if f.act == nil || f.act.IsIdentity() {
		return x, nil
	}
	return f.act.fwd(x)
}
