package policy

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/ippo/network"
)

// Network is a policy-value network of a Model inside its own
// computational graph, for a fixed batch size. The actor and critic
// read the same observation node.
//
// A Network may be run forward with Act and Values, or extended with
// further nodes, such as a loss, and run by an external VM.
type Network struct {
	model *Model
	g     *G.ExprGraph
	batch int

	obs    *G.Node
	actor  *network.MLP
	critic *network.MLP
	logStd *G.Node
	value  *G.Node

	valueVal G.Value

	learnables G.Nodes
	vm         G.VM
}

// NewNetwork creates a new Network of the Model which processes batch
// rows at a time. All weights are zero until SetParams is called.
func (m *Model) NewNetwork(batch int) (*Network, error) {
	if batch < 1 {
		return nil, fmt.Errorf("newNetwork: batch size must be positive, "+
			"got %v", batch)
	}
	g := G.NewGraph()
	obs := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, m.Features()),
		G.WithName("obs"), G.WithInit(G.Zeroes()))

	actor, err := network.NewMLPFromInput(obs, m.actor, actorPrefix)
	if err != nil {
		return nil, fmt.Errorf("newNetwork: could not create actor: %v", err)
	}
	critic, err := network.NewMLPFromInput(obs, m.critic, criticPrefix)
	if err != nil {
		return nil, fmt.Errorf("newNetwork: could not create critic: %v",
			err)
	}

	value, err := G.Reshape(critic.Prediction(), tensor.Shape{batch})
	if err != nil {
		return nil, fmt.Errorf("newNetwork: could not reshape value: %v",
			err)
	}

	n := &Network{
		model:  m,
		g:      g,
		batch:  batch,
		obs:    obs,
		actor:  actor,
		critic: critic,
		value:  value,
	}
	G.Read(value, &n.valueVal)

	if m.dist.Type() == Gaussian {
		n.logStd = G.NewMatrix(g, tensor.Float64,
			G.WithShape(1, m.dist.Outputs()), G.WithName(logStdName),
			G.WithInit(G.Zeroes()))
	}
	return n, nil
}

// Graph returns the computational graph of the Network
func (n *Network) Graph() *G.ExprGraph { return n.g }

// Model returns the Model the Network was created from
func (n *Network) Model() *Model { return n.model }

// Head returns the node holding the distribution parameters output by
// the actor, shape (batch, outputs)
func (n *Network) Head() *G.Node { return n.actor.Prediction() }

// LogStd returns the log standard deviation node of a Gaussian policy,
// or nil
func (n *Network) LogStd() *G.Node { return n.logStd }

// Value returns the node holding the critic's values, shape (batch)
func (n *Network) Value() *G.Node { return n.value }

// Learnables returns the learnable nodes of the Network in the same
// order as the Model's Params
func (n *Network) Learnables() G.Nodes {
	if n.learnables == nil {
		learnables := append(G.Nodes{}, n.actor.Learnables()...)
		learnables = append(learnables, n.critic.Learnables()...)
		if n.logStd != nil {
			learnables = append(learnables, n.logStd)
		}
		n.learnables = learnables
	}
	return n.learnables
}

// Params returns a copy of the weights of the Network
func (n *Network) Params() network.Params {
	params := n.actor.Params()
	params = append(params, n.critic.Params()...)
	if n.logStd != nil {
		params = append(params, network.Param{
			Name:  logStdName,
			Shape: append([]int(nil), n.logStd.Shape()...),
			Data: append([]float64(nil),
				n.logStd.Value().Data().([]float64)...),
		})
	}
	return params
}

// SetParams loads a copy of params into the Network
func (n *Network) SetParams(params network.Params) error {
	if err := n.Params().Compatible(params); err != nil {
		return fmt.Errorf("setParams: %v", err)
	}
	for i, node := range n.Learnables() {
		if err := G.Let(node, params[i].Tensor()); err != nil {
			return fmt.Errorf("setParams: could not set %v: %v",
				params[i].Name, err)
		}
	}
	return nil
}

// Grads returns a copy of the gradients of the learnables, parallel
// to Params. It must be called after a VM binding dual values of the
// learnables has run the graph.
func (n *Network) Grads() ([][]float64, error) {
	nodes := n.Learnables()
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

// SetInput sets the observation node to obs, which must have
// BatchSize rows and one column per feature
func (n *Network) SetInput(obs *mat.Dense) error {
	r, c := obs.Dims()
	if r != n.batch || c != n.model.Features() {
		return fmt.Errorf("setInput: observations should have shape "+
			"(%v, %v) but have shape (%v, %v)", n.batch, n.model.Features(),
			r, c)
	}
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, obs.RawRowView(i)...)
	}
	input := tensor.New(tensor.WithShape(r, c), tensor.WithBacking(data))
	return G.Let(n.obs, input)
}

// forward runs the forward pass of the Network on obs
func (n *Network) forward(obs *mat.Dense) error {
	if err := n.SetInput(obs); err != nil {
		return fmt.Errorf("forward: %v", err)
	}

	// Lazy instantiation, nodes added to the graph after the first
	// forward pass are never run by this VM
	if n.vm == nil {
		n.vm = G.NewTapeMachine(n.g)
	}
	defer n.vm.Reset()
	if err := n.vm.RunAll(); err != nil {
		return fmt.Errorf("forward: %v", err)
	}
	return nil
}

// Values returns the critic's value of each row of obs
func (n *Network) Values(obs *mat.Dense) ([]float64, error) {
	if err := n.forward(obs); err != nil {
		return nil, fmt.Errorf("values: %v", err)
	}
	return append([]float64(nil), n.valueVal.Data().([]float64)...), nil
}

// Act selects an action for each row of obs. If deterministic is true,
// the mode of the action distribution is selected, otherwise an action
// is sampled using rng. The log probabilities of the selected actions
// and the critic's values are returned with the actions, which have
// one row per row of obs.
func (n *Network) Act(obs *mat.Dense, rng *rand.Rand,
	deterministic bool) (*mat.Dense, []float64, []float64, error) {
	if err := n.forward(obs); err != nil {
		return nil, nil, nil, fmt.Errorf("act: %v", err)
	}

	dist := n.model.dist
	outputs := dist.Outputs()
	head := n.actor.Output().Data().([]float64)
	var logStd []float64
	if n.logStd != nil {
		logStd = n.logStd.Value().Data().([]float64)
	}

	actions := mat.NewDense(n.batch, dist.ActionDim(), nil)
	logProbs := make([]float64, n.batch)
	for i := 0; i < n.batch; i++ {
		row := head[i*outputs : (i+1)*outputs]
		if deterministic {
			logProbs[i] = dist.Mode(row, logStd, actions.RawRowView(i))
		} else {
			logProbs[i] = dist.Sample(rng, row, logStd, actions.RawRowView(i))
		}
	}
	values := append([]float64(nil), n.valueVal.Data().([]float64)...)
	return actions, logProbs, values, nil
}
