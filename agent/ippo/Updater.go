package ippo

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/ippo/agent/policy"
	"github.com/samuelfneumann/ippo/buffer/gae"
	"github.com/samuelfneumann/ippo/buffer/rollout"
	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/network"
	"github.com/samuelfneumann/ippo/solver"
	"github.com/samuelfneumann/ippo/utils/floatutils"
	"github.com/samuelfneumann/ippo/utils/op"
)

// UpdateStats are the mean diagnostics of all gradient steps taken in
// an update
type UpdateStats struct {
	PolicyLoss   float64
	ValueLoss    float64
	Entropy      float64
	ClipFraction float64
	ApproxKL     float64
	GradNorm     float64

	// Steps is the number of gradient steps taken
	Steps int
}

// minibatch holds the inputs of a single gradient step
type minibatch struct {
	obs        *mat.Dense
	actions    *mat.Dense // Encoded actions
	oldLogProb []float64
	advantages []float64
	returns    []float64
	oldValues  []float64
	weights    []float64 // mask / Σ mask
}

// Updater performs clipped-surrogate PPO updates of each parameter
// group from a filled rollout buffer.
//
// A single loss graph of minibatch size is built once and shared by
// all parameter groups, each group's parameters being loaded into the
// graph before each gradient step.
type Updater struct {
	config Config
	model  *policy.Model
	net    *policy.Network
	solver *solver.Solver
	vm     G.VM

	// Minibatch inputs
	actions    *G.Node
	oldLogProb *G.Node
	advantages *G.Node
	returns    *G.Node
	oldValues  *G.Node
	weights    *G.Node

	loss       *G.Node
	lossVal    G.Value
	policyLoss G.Value
	valueLoss  G.Value
	entropy    G.Value
	ratio      G.Value

	logger zerolog.Logger
}

// NewUpdater returns a new Updater. The configuration must already
// be validated against the adapter.
func NewUpdater(model *policy.Model, c Config,
	logger zerolog.Logger) (*Updater, error) {
	batch := c.MinibatchSize()
	net, err := model.NewNetwork(batch)
	if err != nil {
		return nil, fmt.Errorf("newUpdater: %v", err)
	}
	g := net.Graph()
	dist := model.Distribution()

	u := &Updater{
		config: c,
		model:  model,
		net:    net,
		solver: c.Solver,
		actions: G.NewMatrix(g, tensor.Float64,
			G.WithShape(batch, dist.EncodedDim()), G.WithName("actions"),
			G.WithInit(G.Zeroes())),
		oldLogProb: newInput(g, batch, "oldLogProb"),
		advantages: newInput(g, batch, "advantages"),
		returns:    newInput(g, batch, "returns"),
		oldValues:  newInput(g, batch, "oldValues"),
		weights:    newInput(g, batch, "weights"),
		logger:     logger.With().Str("component", "updater").Logger(),
	}
	if err := u.buildLoss(); err != nil {
		return nil, fmt.Errorf("newUpdater: %v", err)
	}

	u.vm = G.NewTapeMachine(g, G.BindDualValues(net.Learnables()...))
	return u, nil
}

func newInput(g *G.ExprGraph, batch int, name string) *G.Node {
	return G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName(name), G.WithInit(G.Zeroes()))
}

// buildLoss adds the PPO loss and its gradient to the graph:
//
//	L = L_clip + c_v L_value - c_e H
//	L_clip = -Σ w min(r A, clip(r, 1-ε, 1+ε) A)
//	L_value = Σ w (V - R)²
//
// where w are the normalized mask weights. With value clipping,
// L_value uses max((V - R)², (V_old + clip(V - V_old, -ε, ε) - R)²).
func (u *Updater) buildLoss() error {
	eps := u.config.ClipEpsilon
	dist := u.model.Distribution()

	// Policy loss
	logProb, err := dist.LogProb(u.net.Head(), u.net.LogStd(), u.actions)
	if err != nil {
		return fmt.Errorf("buildLoss: %v", err)
	}
	ratio := G.Must(G.Exp(G.Must(G.Sub(logProb, u.oldLogProb))))
	G.Read(ratio, &u.ratio)

	surrogate := G.Must(G.HadamardProd(ratio, u.advantages))
	clippedRatio, err := op.Clip(ratio, 1-eps, 1+eps)
	if err != nil {
		return fmt.Errorf("buildLoss: %v", err)
	}
	clippedSurrogate := G.Must(G.HadamardProd(clippedRatio, u.advantages))
	surrogate, err = op.Min(surrogate, clippedSurrogate)
	if err != nil {
		return fmt.Errorf("buildLoss: %v", err)
	}
	policyLoss, err := op.WeightedSum(surrogate, u.weights)
	if err != nil {
		return fmt.Errorf("buildLoss: %v", err)
	}
	policyLoss = G.Must(G.Neg(policyLoss))
	G.Read(policyLoss, &u.policyLoss)

	// Value loss
	value := u.net.Value()
	valueErr := G.Must(G.Square(G.Must(G.Sub(value, u.returns))))
	if u.config.ClipValueLoss {
		diff := G.Must(G.Sub(value, u.oldValues))
		diff, err = op.Clip(diff, -eps, eps)
		if err != nil {
			return fmt.Errorf("buildLoss: %v", err)
		}
		clippedValue := G.Must(G.Add(u.oldValues, diff))
		clippedErr := G.Must(G.Square(G.Must(G.Sub(clippedValue, u.returns))))
		if valueErr, err = op.Max(valueErr, clippedErr); err != nil {
			return fmt.Errorf("buildLoss: %v", err)
		}
	}
	valueLoss, err := op.WeightedSum(valueErr, u.weights)
	if err != nil {
		return fmt.Errorf("buildLoss: %v", err)
	}
	G.Read(valueLoss, &u.valueLoss)

	// Entropy bonus
	entropy, err := dist.Entropy(u.net.Head(), u.net.LogStd())
	if err != nil {
		return fmt.Errorf("buildLoss: %v", err)
	}
	if !entropy.IsScalar() {
		if entropy, err = op.WeightedSum(entropy, u.weights); err != nil {
			return fmt.Errorf("buildLoss: %v", err)
		}
	}
	G.Read(entropy, &u.entropy)

	loss := G.Must(G.Add(policyLoss, G.Must(G.Mul(valueLoss,
		G.NewConstant(u.config.ValueCoef)))))
	loss = G.Must(G.Sub(loss, G.Must(G.Mul(entropy,
		G.NewConstant(u.config.EntropyCoef)))))
	u.loss = loss
	G.Read(loss, &u.lossVal)

	if _, err := G.Grad(loss, u.net.Learnables()...); err != nil {
		return fmt.Errorf("buildLoss: could not compute gradient: %v", err)
	}
	return nil
}

// Update performs UpdateEpochs passes over the transitions of each
// parameter group of buf, taking one gradient step per minibatch, and
// returns the resulting State. The State s is not modified. Minibatches
// are shuffled using rng.
//
// If a loss, gradient, or updated parameter is not finite, an error of
// kind failure.NumericalInstability is returned and no State is
// returned.
func (u *Updater) Update(s State, buf *rollout.Buffer, table *gae.Table,
	rng *rand.Rand) (State, UpdateStats, error) {
	var stats UpdateStats
	next := s.Clone()

	for g := range next.Params {
		indices, err := buf.Group(g, u.config.SharedParameters)
		if err != nil {
			return State{}, stats, fmt.Errorf("update: %v", err)
		}
		params, solverState := next.Params[g], next.Solver[g]
		advantages := u.passAdvantages(buf, table, indices)

		for epoch := 0; epoch < u.config.UpdateEpochs; epoch++ {
			batches, err := rollout.Minibatches(indices, u.config.NumMinibatches,
				rng)
			if err != nil {
				return State{}, stats, failure.Wrap(failure.ShapeMismatch,
					"update", err)
			}

			for _, batch := range batches {
				mb, ok, err := u.minibatch(buf, table, advantages, batch)
				if err != nil {
					return State{}, stats, fmt.Errorf("update: %v", err)
				}
				if !ok {
					continue
				}

				step, grads, err := u.evaluate(params, mb)
				if err != nil {
					return State{}, stats, err
				}

				clipped, norm := solver.ClipByGlobalNorm(grads,
					u.config.MaxGradNorm)
				params, solverState, err = u.solver.Step(params, clipped,
					solverState)
				if err != nil {
					return State{}, stats, fmt.Errorf("update: %v", err)
				}
				if !params.Finite() {
					return State{}, stats, failure.New(
						failure.NumericalInstability, "update",
						"non-finite parameters after step of group %v", g)
				}

				step.GradNorm = norm
				stats.add(step)
			}
		}
		next.Params[g], next.Solver[g] = params, solverState
		u.logger.Debug().Int("group", g).Int("steps", stats.Steps).
			Msg("group updated")
	}

	stats.mean()
	return next, stats, nil
}

// passAdvantages returns the advantages of table with the entries at
// indices standardized over their masked-in transitions, if advantage
// normalization is configured. The returned slice is indexed like
// table.Advantages.
func (u *Updater) passAdvantages(buf *rollout.Buffer, table *gae.Table,
	indices []int) []float64 {
	adv := append([]float64(nil), table.Advantages...)
	if !u.config.NormalizeAdvantages {
		return adv
	}

	group := make([]float64, len(indices))
	mask := make([]float64, len(indices))
	for j, i := range indices {
		group[j] = adv[i]
		mask[j] = buf.Mask(i)
	}
	gae.Standardize(group, group, mask)
	for j, i := range indices {
		adv[i] = group[j]
	}
	return adv
}

// minibatch gathers the transitions at indices of buf into minibatch
// inputs, taking advantages from advantages. If no transition is
// masked in, ok is false.
func (u *Updater) minibatch(buf *rollout.Buffer, table *gae.Table,
	advantages []float64, indices []int) (mb minibatch, ok bool,
	err error) {
	size := len(indices)
	dist := u.model.Distribution()
	mb = minibatch{
		obs:        mat.NewDense(size, buf.ObsDim(), nil),
		actions:    mat.NewDense(size, dist.EncodedDim(), nil),
		oldLogProb: make([]float64, size),
		advantages: make([]float64, size),
		returns:    make([]float64, size),
		oldValues:  make([]float64, size),
		weights:    make([]float64, size),
	}

	for j, i := range indices {
		mb.obs.SetRow(j, buf.Obs(i))
		// Inactive slots hold actions sampled by the policy as well, so
		// every stored action can be encoded
		if err := dist.Encode(mb.actions.RawRowView(j), buf.Action(i)); err != nil {
			return mb, false, fmt.Errorf("minibatch: transition %v: %v", i, err)
		}
		mb.oldLogProb[j] = buf.LogProb(i)
		mb.advantages[j] = advantages[i]
		mb.returns[j] = table.Returns[i]
		mb.oldValues[j] = buf.Value(i)
		mb.weights[j] = buf.Mask(i)
	}

	active := floats.Sum(mb.weights)
	if active == 0 {
		return mb, false, nil
	}
	floats.Scale(1/active, mb.weights)
	return mb, true, nil
}

// evaluate computes the loss diagnostics and gradients of params on a
// minibatch
func (u *Updater) evaluate(params network.Params,
	mb minibatch) (UpdateStats, [][]float64, error) {
	const fn = "evaluate"
	var stats UpdateStats
	if err := u.net.SetParams(params); err != nil {
		return stats, nil, failure.Wrap(failure.ShapeMismatch, fn, err)
	}
	if err := u.net.SetInput(mb.obs); err != nil {
		return stats, nil, fmt.Errorf("%v: %v", fn, err)
	}
	inputs := []struct {
		node *G.Node
		data []float64
	}{
		{u.actions, mb.actions.RawMatrix().Data},
		{u.oldLogProb, mb.oldLogProb},
		{u.advantages, mb.advantages},
		{u.returns, mb.returns},
		{u.oldValues, mb.oldValues},
		{u.weights, mb.weights},
	}
	for _, in := range inputs {
		t := tensor.New(tensor.WithShape(in.node.Shape()...),
			tensor.WithBacking(append([]float64(nil), in.data...)))
		if err := G.Let(in.node, t); err != nil {
			return stats, nil, fmt.Errorf("%v: %v", fn, err)
		}
	}

	defer u.vm.Reset()
	if err := u.vm.RunAll(); err != nil {
		return stats, nil, fmt.Errorf("%v: %v", fn, err)
	}

	loss := u.lossVal.Data().(float64)
	if !floatutils.IsFinite(loss) {
		return stats, nil, failure.New(failure.NumericalInstability, fn,
			"non-finite loss %v", loss)
	}
	grads, err := u.net.Grads()
	if err != nil {
		return stats, nil, fmt.Errorf("%v: %v", fn, err)
	}
	for i := range grads {
		if !floatutils.AllFinite(grads[i]) {
			return stats, nil, failure.New(failure.NumericalInstability, fn,
				"non-finite gradient of %v", params[i].Name)
		}
	}

	stats.PolicyLoss = u.policyLoss.Data().(float64)
	stats.ValueLoss = u.valueLoss.Data().(float64)
	stats.Entropy = u.entropy.Data().(float64)

	eps := u.config.ClipEpsilon
	for i, r := range u.ratio.Data().([]float64) {
		if math.Abs(r-1) > eps {
			stats.ClipFraction += mb.weights[i]
		}
		stats.ApproxKL += mb.weights[i] * ((r - 1) - math.Log(r))
	}
	stats.Steps = 1
	return stats, grads, nil
}

// add accumulates the diagnostics of another step
func (s *UpdateStats) add(step UpdateStats) {
	s.PolicyLoss += step.PolicyLoss
	s.ValueLoss += step.ValueLoss
	s.Entropy += step.Entropy
	s.ClipFraction += step.ClipFraction
	s.ApproxKL += step.ApproxKL
	s.GradNorm += step.GradNorm
	s.Steps += step.Steps
}

// mean converts accumulated diagnostics into means over steps
func (s *UpdateStats) mean() {
	if s.Steps == 0 {
		return
	}
	n := float64(s.Steps)
	s.PolicyLoss /= n
	s.ValueLoss /= n
	s.Entropy /= n
	s.ClipFraction /= n
	s.ApproxKL /= n
	s.GradNorm /= n
}
