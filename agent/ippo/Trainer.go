// Package ippo implements Independent Proximal Policy Optimization
// (IPPO) for vectorized multi-agent environments.
//
// Each iteration rolls out the current policy in every world, computes
// GAE(λ) advantages, and updates the policy and value parameters of
// each parameter group with clipped-surrogate gradient steps. Agents
// either share a single parameter group or each agent slot owns one.
// Every agent learns independently from its own transitions; there is
// no centralized critic.
package ippo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/ippo/agent/policy"
	"github.com/samuelfneumann/ippo/buffer/gae"
	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/experiment/checkpointer"
	"github.com/samuelfneumann/ippo/experiment/tracker"
	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/network"
	"github.com/samuelfneumann/ippo/solver"
	"github.com/samuelfneumann/ippo/utils/matutils"
)

// Status is the lifecycle state of a Trainer
type Status int

const (
	Uninitialized Status = iota
	Ready
	Iterating
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Ready:
		return "Ready"
	case Iterating:
		return "Iterating"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Random streams derived from the seed
const (
	initStream uint64 = iota
	collectStream
	updateStream
)

// Option configures a Trainer
type Option func(*Trainer)

// WithLogger sets the logger of a Trainer. The default discards all
// logs.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// WithTrackers adds Trackers which receive the metrics of every
// iteration
func WithTrackers(trackers ...tracker.Tracker) Option {
	return func(t *Trainer) {
		t.trackers = append(t.trackers, trackers...)
	}
}

// WithCheckpointers adds Checkpointers which receive the State after
// every iteration
func WithCheckpointers(checkpointers ...checkpointer.Checkpointer) Option {
	return func(t *Trainer) {
		t.checkpointers = append(t.checkpointers, checkpointers...)
	}
}

// Trainer trains policies on a vectorized multi-agent adapter with
// IPPO. A Trainer moves through the states
//
//	Uninitialized -> Ready -> Iterating -> Ready | Done | Failed
//
// Init moves a Trainer to Ready, and each call to Iterate runs exactly
// one iteration. Errors are terminal: a Failed Trainer cannot iterate
// again, but checkpoints written for earlier iterations stay valid and
// a new Trainer may Resume from them.
type Trainer struct {
	env    environment.Adapter
	config Config
	status Status
	state  State

	model     *policy.Model
	collector *Collector
	updater   *Updater

	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer
	logger        zerolog.Logger
}

// New returns a new, uninitialized Trainer
func New(env environment.Adapter, c Config, opts ...Option) *Trainer {
	t := &Trainer{
		env:    env,
		config: c,
		status: Uninitialized,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With().Str("component", "trainer").Logger()
	return t
}

// Status returns the lifecycle state of the Trainer
func (t *Trainer) Status() Status { return t.status }

// State returns the most recent State of the Trainer
func (t *Trainer) State() State { return t.state }

// Config returns the configuration of the Trainer
func (t *Trainer) Config() Config { return t.config }

// Init validates the configuration against the adapter, builds the
// networks, and returns the initial State. Disagreements between the
// configuration, the networks, and the adapter return an error of kind
// failure.ShapeMismatch.
func (t *Trainer) Init() (State, error) {
	if t.status != Uninitialized {
		return State{}, fmt.Errorf("init: trainer is %v", t.status)
	}
	s, err := t.init()
	if err != nil {
		t.status = Failed
		t.logger.Error().Err(err).Msg("initialization failed")
		return State{}, err
	}
	t.state = s
	t.status = Ready
	if t.finished(s) {
		t.status = Done
	}
	t.logger.Info().
		Int("groups", t.config.NumGroups()).
		Int("minibatch_size", t.config.MinibatchSize()).
		Str("policy", string(t.config.Policy.Type)).
		Msg("trainer initialized")
	return s, nil
}

func (t *Trainer) init() (State, error) {
	const op = "init"
	c := t.config
	if err := c.Validate(); err != nil {
		return State{}, fmt.Errorf("%v: %v", op, err)
	}

	if c.NumWorlds != t.env.NumWorlds() || c.MaxAgents != t.env.MaxAgents() {
		return State{}, failure.New(failure.ShapeMismatch, op,
			"configured for %v worlds of %v agents, adapter has %v worlds "+
				"of %v agents", c.NumWorlds, c.MaxAgents, t.env.NumWorlds(),
			t.env.MaxAgents())
	}
	if transitions := c.EpisodeLength * c.GroupRows(); transitions%c.NumMinibatches != 0 {
		return State{}, failure.New(failure.ShapeMismatch, op,
			"%v transitions per parameter group are not divisible into %v "+
				"minibatches", transitions, c.NumMinibatches)
	}

	model, err := policy.NewModel(c.Policy, c.Critic, c.InitWFn,
		t.env.ObservationSpec(), t.env.ActionSpec())
	if err != nil {
		return State{}, err
	}
	t.model = model

	if t.collector, err = NewCollector(t.env, model, c, t.logger); err != nil {
		return State{}, fmt.Errorf("%v: %v", op, err)
	}
	if t.updater, err = NewUpdater(model, c, t.logger); err != nil {
		return State{}, fmt.Errorf("%v: %v", op, err)
	}

	s := State{
		Params: make([]network.Params, c.NumGroups()),
		Solver: make([]solver.State, c.NumGroups()),
	}
	for g := range s.Params {
		s.Params[g] = model.Init(seedFor(c.Seed, initStream, g))
		s.Solver[g] = c.Solver.Init(s.Params[g])
	}
	return s, nil
}

// Resume replaces the State of a Ready Trainer, for example with a
// State loaded from a checkpoint. A State which does not fit the
// Trainer's networks returns an error of kind failure.ShapeMismatch.
func (t *Trainer) Resume(s State) error {
	const op = "resume"
	if t.status != Ready && t.status != Done {
		return fmt.Errorf("%v: trainer is %v", op, t.status)
	}
	if len(s.Params) != t.config.NumGroups() ||
		len(s.Solver) != t.config.NumGroups() {
		return failure.New(failure.ShapeMismatch, op,
			"expected %v parameter groups, got %v parameters and %v solver "+
				"states", t.config.NumGroups(), len(s.Params), len(s.Solver))
	}
	for g := range s.Params {
		if err := t.model.CheckParams(s.Params[g]); err != nil {
			return failure.Wrap(failure.ShapeMismatch, op,
				fmt.Errorf("group %v: %v", g, err))
		}
	}

	t.state = s.Clone()
	t.status = Ready
	if t.finished(s) {
		t.status = Done
	}
	t.collector.Restart()
	t.logger.Info().Int("iteration", s.Iteration).Msg("resumed")
	return nil
}

// finished returns whether s has completed all iterations
func (t *Trainer) finished(s State) bool {
	return t.config.NumIterations > 0 && s.Iteration >= t.config.NumIterations
}

// Iterate runs one iteration, collect then estimate then update,
// starting from s and returns the new State and the iteration's
// metrics. The argument s is not modified. Cancellation of ctx is
// observed before the iteration starts.
//
// Errors are tagged with the failing iteration, see
// failure.IterationOf, and move the Trainer to Failed.
func (t *Trainer) Iterate(ctx context.Context, s State) (State, Metrics,
	error) {
	if t.status != Ready {
		return s, Metrics{}, fmt.Errorf("iterate: trainer is %v", t.status)
	}
	if err := ctx.Err(); err != nil {
		return s, Metrics{}, err
	}

	t.status = Iterating
	next, metrics, err := t.iterate(s)
	if err != nil {
		t.status = Failed
		err = failure.AtIteration(err, s.Iteration+1)
		t.logger.Error().Err(err).Int("iteration", s.Iteration+1).
			Msg("iteration failed")
		return s, Metrics{}, err
	}

	t.state = next
	t.status = Ready
	if t.finished(next) {
		t.status = Done
	}

	row := metrics.Row()
	t.logger.Info().EmbedObject(row).Msg("iteration complete")
	for _, tr := range t.trackers {
		if err := tr.Track(row); err != nil {
			t.logger.Warn().Err(err).Msg("could not track metrics")
		}
	}
	for _, c := range t.checkpointers {
		if err := c.Checkpoint(next.Iteration, next); err != nil {
			t.logger.Warn().Err(err).Msg("could not checkpoint")
		}
	}
	return next, metrics, nil
}

func (t *Trainer) iterate(s State) (State, Metrics, error) {
	start := time.Now()
	c := t.config
	iteration := s.Iteration + 1

	collectRng := rand.New(rand.NewSource(seedFor(c.Seed, collectStream,
		iteration)))
	buf, rollout, err := t.collector.Collect(s, collectRng)
	if err != nil {
		return State{}, Metrics{}, err
	}

	table, err := gae.Estimate(buf, c.Gamma, c.Lambda)
	if err != nil {
		return State{}, Metrics{}, fmt.Errorf("iterate: %v", err)
	}

	updateRng := rand.New(rand.NewSource(seedFor(c.Seed, updateStream,
		iteration)))
	next, update, err := t.updater.Update(s, buf, table, updateRng)
	if err != nil {
		return State{}, Metrics{}, err
	}
	next.Iteration = iteration

	metrics := Metrics{
		Iteration:         iteration,
		MeanEpisodeReward: math.NaN(),
		EpisodesCompleted: len(rollout.EpisodeReturns),
		MeanStepReward:    math.NaN(),
		PolicyLoss:        update.PolicyLoss,
		ValueLoss:         update.ValueLoss,
		Entropy:           update.Entropy,
		ClipFraction:      update.ClipFraction,
		ApproxKL:          update.ApproxKL,
		ExplainedVariance: matutils.ExplainedVariance(buf.Values(),
			table.Returns, buf.Masks()),
		GradNorm: update.GradNorm,
		StepTime: time.Since(start),
	}
	if len(rollout.EpisodeReturns) > 0 {
		metrics.MeanEpisodeReward = stat.Mean(rollout.EpisodeReturns, nil)
	}
	if rollout.ActiveSteps > 0 {
		metrics.MeanStepReward = rollout.RewardSum /
			float64(rollout.ActiveSteps)
	}
	return next, metrics, nil
}

// Run iterates from the Trainer's current State until NumIterations
// iterations have completed, ctx is cancelled, or an error occurs, and
// returns the last State. All Trackers are saved before returning. If
// NumIterations is zero, Run iterates until ctx is cancelled.
func (t *Trainer) Run(ctx context.Context) (State, error) {
	var runErr error
	for t.status == Ready {
		if _, _, err := t.Iterate(ctx, t.state); err != nil {
			runErr = err
			break
		}
	}
	if t.status != Ready && t.status != Done && runErr == nil {
		runErr = fmt.Errorf("run: trainer is %v", t.status)
	}

	for _, tr := range t.trackers {
		if err := tr.Save(); err != nil {
			t.logger.Error().Err(err).Msg("could not save tracker")
			if runErr == nil {
				runErr = fmt.Errorf("run: %v", err)
			}
		}
	}
	return t.state, runErr
}

// Evaluate runs the deterministic policy of s for steps steps of every
// world and returns the episode statistics. Worlds are reset before
// evaluation and whenever none of their slots are controllable. The
// next iteration starts from freshly reset worlds.
func (t *Trainer) Evaluate(s State, steps int) (RolloutStats, error) {
	if t.status == Uninitialized || t.status == Failed {
		return RolloutStats{}, fmt.Errorf("evaluate: trainer is %v",
			t.status)
	}
	stats, err := t.collector.Evaluate(s, steps)
	t.collector.Restart()
	return stats, err
}

// seedFor derives the seed of a random stream at some index, such as
// an iteration or parameter group, from the configured seed
func seedFor(seed, stream uint64, index int) uint64 {
	const golden = 0x9E3779B97F4A7C15
	return seed ^ (stream+1)*golden ^ uint64(index+1)*(golden>>7)
}
