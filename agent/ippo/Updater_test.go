package ippo

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/ippo/agent/policy"
	"github.com/samuelfneumann/ippo/buffer/gae"
	"github.com/samuelfneumann/ippo/buffer/rollout"
	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/initwfn"
)

// newZeroUpdater returns an Updater over minibatches of 4 transitions
// of a 3 action categorical policy whose weights are all zero, so that
// every action has probability 1/3
func newZeroUpdater(t *testing.T) (*Updater, *policy.Model) {
	t.Helper()
	c := testConfig(1, 1, 4)
	c.NumMinibatches = 1
	c.ValueCoef = 0
	c.EntropyCoef = 0
	zeroes, err := initwfn.NewZeroes()
	if err != nil {
		t.Fatal(err)
	}
	c.InitWFn = zeroes

	obs := environment.NewBoxSpec(environment.Observation, 3, 0, 1)
	model, err := policy.NewModel(c.Policy, c.Critic, c.InitWFn, obs,
		environment.NewDiscreteSpec(3))
	if err != nil {
		t.Fatal(err)
	}
	u, err := NewUpdater(model, c, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return u, model
}

func clippingMinibatch(oldLogProb, advantage float64) minibatch {
	actions := mat.NewDense(4, 3, nil)
	for i := 0; i < 4; i++ {
		actions.Set(i, 0, 1)
	}
	fill := func(v float64) []float64 {
		s := make([]float64, 4)
		for i := range s {
			s[i] = v
		}
		return s
	}
	return minibatch{
		obs:        mat.NewDense(4, 3, nil),
		actions:    actions,
		oldLogProb: fill(oldLogProb),
		advantages: fill(advantage),
		returns:    fill(0),
		oldValues:  fill(0),
		weights:    fill(0.25),
	}
}

func TestRatioClippingBinds(t *testing.T) {
	u, model := newZeroUpdater(t)
	params := model.Init(1)
	bias := params.Index("pi/L1B")
	if bias < 0 {
		t.Fatalf("no output bias in %v", params)
	}

	tests := []struct {
		name         string
		oldLogProb   float64
		advantage    float64
		clipped      bool
		clipFraction float64
	}{
		{"on-policy", math.Log(1.0 / 3), 1, false, 0},
		{"ratio-above", -10, 1, true, 1},
		{"ratio-below", 0, -1, true, 1},
		// The pessimistic bound uses the unclipped ratio when it is
		// worse than the clipped one
		{"ratio-above-negative", -10, -1, false, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mb := clippingMinibatch(test.oldLogProb, test.advantage)
			stats, grads, err := u.evaluate(params, mb)
			if err != nil {
				t.Fatal(err)
			}

			norm := floats.Norm(grads[bias], 2)
			if test.clipped && norm > 1e-12 {
				t.Errorf("clipped ratio has gradient norm %v", norm)
			}
			if !test.clipped && norm < 1e-6 {
				t.Errorf("unclipped ratio has no gradient")
			}
			if math.Abs(stats.ClipFraction-test.clipFraction) > tolerance {
				t.Errorf("clip fraction: want %v, have %v", test.clipFraction,
					stats.ClipFraction)
			}
		})
	}
}

func TestOnPolicyLoss(t *testing.T) {
	u, model := newZeroUpdater(t)
	mb := clippingMinibatch(math.Log(1.0/3), 2)
	stats, _, err := u.evaluate(model.Init(1), mb)
	if err != nil {
		t.Fatal(err)
	}

	// r = 1 everywhere, so the policy loss is -mean(A)
	if math.Abs(stats.PolicyLoss+2) > tolerance {
		t.Errorf("policy loss: want -2, have %v", stats.PolicyLoss)
	}
	if math.Abs(stats.ApproxKL) > tolerance {
		t.Errorf("approx KL: want 0, have %v", stats.ApproxKL)
	}
	if math.Abs(stats.Entropy-math.Log(3)) > tolerance {
		t.Errorf("entropy: want %v, have %v", math.Log(3), stats.Entropy)
	}
}

func TestAdvantagesStandardizedPerPass(t *testing.T) {
	stub := stubConfig()
	stub.Inactive = []int{1}
	c := testConfig(2, 2, 4)
	c.Gamma, c.Lambda = 0.9, 0.8
	trainer := New(newConstant(t, stub), c)
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}
	buf, _, err := trainer.collector.Collect(s, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatal(err)
	}
	table, err := gae.Estimate(buf, c.Gamma, c.Lambda)
	if err != nil {
		t.Fatal(err)
	}

	u := trainer.updater
	indices, err := buf.Group(0, c.SharedParameters)
	if err != nil {
		t.Fatal(err)
	}
	advantages := u.passAdvantages(buf, table, indices)
	batches, err := rollout.Minibatches(indices, c.NumMinibatches,
		rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatal(err)
	}

	var pass, mask []float64
	for _, batch := range batches {
		mb, _, err := u.minibatch(buf, table, advantages, batch)
		if err != nil {
			t.Fatal(err)
		}
		for j, i := range batch {
			pass = append(pass, mb.advantages[j])
			mask = append(mask, buf.Mask(i))
		}
	}

	mean, variance := stat.PopMeanVariance(pass, mask)
	if math.Abs(mean) > 1e-6 {
		t.Errorf("mean of pass advantages: want 0, have %v", mean)
	}
	if math.Abs(variance-1) > 1e-6 {
		t.Errorf("variance of pass advantages: want 1, have %v", variance)
	}
	for j, m := range mask {
		if m == 0 && pass[j] != 0 {
			t.Errorf("inactive transition has advantage %v", pass[j])
		}
	}
}
