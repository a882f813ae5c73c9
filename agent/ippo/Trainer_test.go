package ippo

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/ippo/agent/policy"
	"github.com/samuelfneumann/ippo/buffer/gae"
	"github.com/samuelfneumann/ippo/environment/constant"
	"github.com/samuelfneumann/ippo/experiment/checkpointer"
	"github.com/samuelfneumann/ippo/experiment/tracker"
	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/network"
	"github.com/samuelfneumann/ippo/solver"
	"github.com/samuelfneumann/ippo/timestep"
)

const tolerance = 1e-9

func testConfig(worlds, agents, steps int) Config {
	c := DefaultConfig(worlds, agents)
	c.EpisodeLength = steps
	c.Gamma = 1
	c.Lambda = 1
	c.UpdateEpochs = 2
	c.NumMinibatches = 2
	c.NumIterations = 3
	c.Seed = 1
	c.Policy = policy.Config{
		Type:        policy.Categorical,
		Hidden:      []int{8},
		Activations: []*network.Activation{network.TanH()},
	}
	c.Critic = policy.CriticConfig{
		Hidden:      []int{8},
		Activations: []*network.Activation{network.TanH()},
	}
	s, err := solver.NewDefaultAdam(1e-2)
	if err != nil {
		panic(err)
	}
	c.Solver = s
	return c
}

func newConstant(t *testing.T, c constant.Config) *constant.Constant {
	t.Helper()
	env, err := constant.New(c)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func stubConfig() constant.Config {
	return constant.Config{
		NumWorlds:    2,
		MaxAgents:    2,
		EpisodeSteps: 4,
		Reward:       1,
		ObsDim:       3,
		NumActions:   3,
	}
}

func TestConstantStubReturns(t *testing.T) {
	env := newConstant(t, stubConfig())
	trainer := New(env, testConfig(2, 2, 4))
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}

	buf, stats, err := trainer.collector.Collect(s, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4*2*2 {
		t.Fatalf("expected %v transitions, have %v", 16, buf.Len())
	}
	table, err := gae.Estimate(buf, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < buf.Len(); i++ {
		step, w, a := buf.Key(i)
		want := float64(4 - step)
		if math.Abs(table.Returns[i]-want) > tolerance {
			t.Errorf("return of (%v, %v, %v): want %v, have %v", step, w, a,
				want, table.Returns[i])
		}
	}

	if len(stats.EpisodeReturns) != 4 {
		t.Errorf("expected 4 finished episodes, have %v",
			len(stats.EpisodeReturns))
	}
	for _, r := range stats.EpisodeReturns {
		if r != 4 {
			t.Errorf("episode return: want 4, have %v", r)
		}
	}
}

func TestInactiveSlotsCarryNoAdvantage(t *testing.T) {
	stub := stubConfig()
	stub.Inactive = []int{1}
	env := newConstant(t, stub)

	c := testConfig(2, 2, 4)
	c.Gamma, c.Lambda = 0.9, 0.9
	trainer := New(env, c)
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}
	buf, _, err := trainer.collector.Collect(s, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatal(err)
	}
	table, err := gae.Estimate(buf, c.Gamma, c.Lambda)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < buf.Len(); i++ {
		if _, _, a := buf.Key(i); a != 1 {
			continue
		}
		if buf.Mask(i) != 0 {
			t.Errorf("transition %v of inactive slot is masked in", i)
		}
		if table.Advantages[i] != 0 || table.Returns[i] != 0 {
			t.Errorf("inactive transition %v has advantage %v and return %v",
				i, table.Advantages[i], table.Returns[i])
		}
	}

	// Updates still succeed with half of every minibatch masked out
	if _, _, err := trainer.Iterate(context.Background(), s); err != nil {
		t.Fatal(err)
	}
}

func TestTerminalWorldsResetBetweenIterations(t *testing.T) {
	stub := stubConfig()
	stub.EpisodeSteps = 3
	c := testConfig(2, 2, 4)
	c.AutoReset = false
	c.ResetEachIteration = false
	trainer := New(newConstant(t, stub), c)
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 2; i++ {
		buf, _, err := trainer.collector.Collect(s, rng)
		if err != nil {
			t.Fatal(err)
		}
		active := 0
		for j := 0; j < buf.Len(); j++ {
			active += int(buf.Mask(j))
		}
		// Episodes end after 3 of 4 steps and are not reset within the
		// rollout
		if want := 3 * 2 * 2; active != want {
			t.Errorf("rollout %v: want %v active transitions, have %v", i,
				want, active)
		}
	}
}

func TestInitShapeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"worlds", func(c *Config) { c.NumWorlds = 3 }},
		{"agents", func(c *Config) { c.MaxAgents = 1 }},
		{"minibatches", func(c *Config) { c.NumMinibatches = 3 }},
		{"distribution", func(c *Config) { c.Policy.Type = policy.Gaussian }},
		{"features", func(c *Config) { c.Policy.ObsDim = 7 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := testConfig(2, 2, 4)
			test.modify(&c)
			trainer := New(newConstant(t, stubConfig()), c)

			_, err := trainer.Init()
			if !failure.IsShapeMismatch(err) {
				t.Errorf("expected shape mismatch, got %v", err)
			}
			if trainer.Status() != Failed {
				t.Errorf("expected status Failed, have %v", trainer.Status())
			}
		})
	}
}

func TestSeededDeterminism(t *testing.T) {
	run := func(seed uint64) State {
		c := testConfig(2, 2, 4)
		c.SharedParameters = false
		c.Seed = seed
		trainer := New(newConstant(t, stubConfig()), c)
		if _, err := trainer.Init(); err != nil {
			t.Fatal(err)
		}
		s, err := trainer.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	a, b, other := run(5), run(5), run(6)
	if len(a.Params) != 2 {
		t.Fatalf("expected 2 parameter groups, have %v", len(a.Params))
	}
	for g := range a.Params {
		if diff, err := network.MaxAbsDiff(a.Params[g], b.Params[g]); err != nil || diff != 0 {
			t.Errorf("group %v differs between identical runs by %v (%v)", g,
				diff, err)
		}
	}
	if diff, _ := network.MaxAbsDiff(a.Params[0], other.Params[0]); diff == 0 {
		t.Error("different seeds gave identical parameters")
	}
}

func TestIterateDoesNotModifyState(t *testing.T) {
	trainer := New(newConstant(t, stubConfig()), testConfig(2, 2, 4))
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}
	before := s.Clone()

	next, metrics, err := trainer.Iterate(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if diff, _ := network.MaxAbsDiff(before.Params[0], s.Params[0]); diff != 0 {
		t.Error("iterate modified its argument")
	}
	if diff, _ := network.MaxAbsDiff(s.Params[0], next.Params[0]); diff == 0 {
		t.Error("iterate did not update parameters")
	}
	if next.Iteration != 1 || metrics.Iteration != 1 {
		t.Errorf("expected iteration 1, have state %v and metrics %v",
			next.Iteration, metrics.Iteration)
	}
	if next.Solver[0].Step != 2*2 {
		t.Errorf("expected %v solver steps, have %v", 4, next.Solver[0].Step)
	}
	if metrics.MeanEpisodeReward != 4 || metrics.EpisodesCompleted != 4 {
		t.Errorf("mean episode reward %v over %v episodes",
			metrics.MeanEpisodeReward, metrics.EpisodesCompleted)
	}
}

func TestNumericalInstability(t *testing.T) {
	stub := stubConfig()
	stub.Reward = math.MaxFloat64
	trainer := New(newConstant(t, stub), testConfig(2, 2, 4))
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = trainer.Iterate(context.Background(), s)
	if !failure.IsNumericalInstability(err) {
		t.Fatalf("expected numerical instability, got %v", err)
	}
	if it := failure.IterationOf(err); it != 1 {
		t.Errorf("expected failure at iteration 1, got %v", it)
	}
	if trainer.Status() != Failed {
		t.Errorf("expected status Failed, have %v", trainer.Status())
	}
	if _, _, err := trainer.Iterate(context.Background(), s); err == nil {
		t.Error("a failed trainer iterated")
	}
}

// faulty wraps a Constant adapter and drops the last reward of the
// batch returned by step number failAt
type faulty struct {
	*constant.Constant
	steps, failAt int
}

func (f *faulty) Step(actions *mat.Dense) (timestep.Batch, error) {
	b, err := f.Constant.Step(actions)
	f.steps++
	if err == nil && f.steps == f.failAt {
		b.Rewards = b.Rewards[:len(b.Rewards)-1]
	}
	return b, err
}

func TestSimulationFault(t *testing.T) {
	env := &faulty{Constant: newConstant(t, stubConfig()), failAt: 3}
	trainer := New(env, testConfig(2, 2, 4))
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = trainer.Iterate(context.Background(), s)
	if !failure.IsSimulationFault(err) {
		t.Fatalf("expected simulation fault, got %v", err)
	}
	if kind, ok := failure.KindOf(err); !ok || kind != failure.SimulationFault {
		t.Errorf("kind: want %v, have %v", failure.SimulationFault, kind)
	}
	if it := failure.IterationOf(err); it != 1 {
		t.Errorf("expected failure at iteration 1, got %v", it)
	}
	if trainer.Status() != Failed {
		t.Errorf("expected status Failed, have %v", trainer.Status())
	}
	if trainer.State().Iteration != 0 {
		t.Errorf("failed iteration was installed: state at iteration %v",
			trainer.State().Iteration)
	}
}

func TestGaussianIterate(t *testing.T) {
	stub := stubConfig()
	stub.NumActions = 0
	stub.ActDim = 2
	c := testConfig(2, 2, 4)
	c.Policy.Type = policy.Gaussian
	c.Policy.InitLogStd = -0.5

	trainer := New(newConstant(t, stub), c)
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}
	next, metrics, err := trainer.Iterate(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}

	if next.Iteration != 1 || trainer.Status() != Ready {
		t.Errorf("iteration %v with status %v", next.Iteration,
			trainer.Status())
	}
	if next.Solver[0].Step != 2*2 {
		t.Errorf("expected %v solver steps, have %v", 4, next.Solver[0].Step)
	}
	if diff, err := network.MaxAbsDiff(s.Params[0], next.Params[0]); err != nil ||
		diff == 0 {
		t.Errorf("parameters not updated: diff %v, err %v", diff, err)
	}
	if math.IsNaN(metrics.ApproxKL) || math.IsInf(metrics.ApproxKL, 0) {
		t.Errorf("approx KL not finite: %v", metrics.ApproxKL)
	}
	if metrics.ClipFraction < 0 || metrics.ClipFraction > 1 {
		t.Errorf("clip fraction %v outside [0, 1]", metrics.ClipFraction)
	}
}

func TestRunCheckpointAndResume(t *testing.T) {
	dir := t.TempDir()
	returns := tracker.NewReturn("")
	namer := checkpointer.FileIteration(filepath.Join(dir, "state"), ".gob")

	c := testConfig(2, 2, 4)
	trainer := New(newConstant(t, stubConfig()), c,
		WithLogger(zerolog.Nop()),
		WithTrackers(returns),
		WithCheckpointers(checkpointer.NewNStep(1, namer)),
	)
	if _, err := trainer.Init(); err != nil {
		t.Fatal(err)
	}
	final, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if trainer.Status() != Done || final.Iteration != 3 {
		t.Fatalf("expected Done after 3 iterations, have %v after %v",
			trainer.Status(), final.Iteration)
	}
	if n := len(returns.Data()); n != 3 {
		t.Errorf("expected 3 tracked iterations, have %v", n)
	}

	// Resume from the second checkpoint and finish the run
	var loaded State
	if err := checkpointer.Load(namer(2), &loaded); err != nil {
		t.Fatal(err)
	}
	resumed := New(newConstant(t, stubConfig()), c)
	if _, err := resumed.Init(); err != nil {
		t.Fatal(err)
	}
	if err := resumed.Resume(loaded); err != nil {
		t.Fatal(err)
	}
	s, err := resumed.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Iteration != 3 || resumed.Status() != Done {
		t.Errorf("resumed run ended at iteration %v with status %v",
			s.Iteration, resumed.Status())
	}

	// A checkpoint of another architecture does not fit
	other := testConfig(2, 2, 4)
	other.Policy.Hidden = []int{4}
	mismatched := New(newConstant(t, stubConfig()), other)
	if _, err := mismatched.Init(); err != nil {
		t.Fatal(err)
	}
	if err := mismatched.Resume(loaded); !failure.IsShapeMismatch(err) {
		t.Errorf("expected shape mismatch, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	trainer := New(newConstant(t, stubConfig()), testConfig(2, 2, 4))
	if _, err := trainer.Init(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := trainer.Run(ctx)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if s.Iteration != 0 || trainer.Status() != Ready {
		t.Errorf("cancelled run reached iteration %v with status %v",
			s.Iteration, trainer.Status())
	}
}

func TestEvaluate(t *testing.T) {
	trainer := New(newConstant(t, stubConfig()), testConfig(2, 2, 4))
	s, err := trainer.Init()
	if err != nil {
		t.Fatal(err)
	}
	stats, err := trainer.Evaluate(s, 8)
	if err != nil {
		t.Fatal(err)
	}

	// Two full episodes in each slot
	if len(stats.EpisodeReturns) != 8 {
		t.Errorf("expected 8 episodes, have %v", len(stats.EpisodeReturns))
	}
	if stats.ActiveSteps != 32 || stats.RewardSum != 32 {
		t.Errorf("expected 32 active steps and reward, have %v and %v",
			stats.ActiveSteps, stats.RewardSum)
	}
}
