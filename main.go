package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/samuelfneumann/ippo/agent/ippo"
	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/environment/box2d/traffic"
	"github.com/samuelfneumann/ippo/environment/constant"
	"github.com/samuelfneumann/ippo/experiment/checkpointer"
	"github.com/samuelfneumann/ippo/experiment/tracker"
	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/utils/progressbar"
)

func main() {
	configFile := flag.String("config", "", "JSON trainer configuration")
	envName := flag.String("env", "traffic", "environment: traffic or "+
		"constant")
	envConfig := flag.String("env-config", "", "JSON traffic configuration")
	outDir := flag.String("out", "out", "output directory")
	renderEvery := flag.Int("render", 0, "render world 0 every N "+
		"iterations, 0 disables rendering")
	resume := flag.String("resume", "", "checkpoint to resume from")
	evalSteps := flag.Int("eval", 0, "steps of deterministic evaluation "+
		"after training")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	if err := run(logger, *configFile, *envName, *envConfig, *outDir,
		*renderEvery, *resume, *evalSteps); err != nil {
		event := logger.Error().Err(err)
		if kind, ok := failure.KindOf(err); ok {
			event = event.Stringer("kind", kind).
				Int("iteration", failure.IterationOf(err))
		}
		event.Msg("training failed")
		os.Exit(1)
	}
}

func run(logger zerolog.Logger, configFile, envName, envConfig,
	outDir string, renderEvery int, resume string, evalSteps int) error {
	c := ippo.DefaultConfig(4, 4)
	if configFile != "" {
		var err error
		if c, err = ippo.LoadConfig(configFile); err != nil {
			return err
		}
	}

	env, err := newEnvironment(envName, envConfig, c)
	if err != nil {
		return err
	}

	var resumed *ippo.State
	if resume != "" {
		var s ippo.State
		if err := checkpointer.Load(resume, &s); err != nil {
			return err
		}
		resumed = &s
	}

	metrics := tracker.NewParquet(filepath.Join(outDir, "metrics.parquet"))
	returns := tracker.NewReturn(filepath.Join(outDir, "returns.bin"))
	if resumed != nil {
		// Keep the metrics of the iterations up to the checkpoint
		if err := metrics.Resume(resumed.Iteration); err != nil {
			return err
		}
		if err := returns.Resume(resumed.Iteration); err != nil {
			return err
		}
	}
	bar := newProgress(c.NumIterations)
	if resumed != nil {
		bar.bar.SetProgress(resumed.Iteration)
	}
	trackers := []tracker.Tracker{metrics, returns, bar}
	if logger.GetLevel() <= zerolog.DebugLevel {
		trackers = append(trackers, tracker.NewLog(logger, zerolog.DebugLevel))
	}
	if r, ok := env.(environment.Renderer); ok && renderEvery > 0 {
		trackers = append(trackers, &renderTracker{
			renderer: r,
			every:    renderEvery,
			dir:      filepath.Join(outDir, "frames"),
			logger:   logger,
		})
	}

	check := checkpointer.NewNStep(c.CheckpointEvery, checkpointer.FileIteration(
		filepath.Join(outDir, "checkpoints", "state"), ".gob"))

	trainer := ippo.New(env, c,
		ippo.WithLogger(logger),
		ippo.WithTrackers(trackers...),
		ippo.WithCheckpointers(check),
	)
	if _, err := trainer.Init(); err != nil {
		return err
	}
	if resumed != nil {
		if err := trainer.Resume(*resumed); err != nil {
			return err
		}
	}

	// Stop between iterations on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	final, err := trainer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Warn().Int("iteration", final.Iteration).Msg("interrupted")
		err = nil
	}
	if err != nil {
		return err
	}
	if err := checkpointer.Save(filepath.Join(outDir, "final.gob"),
		final); err != nil {
		return err
	}

	if evalSteps > 0 {
		stats, err := trainer.Evaluate(final, evalSteps)
		if err != nil {
			return err
		}
		logger.Info().
			Int("episodes", len(stats.EpisodeReturns)).
			Float64("reward", stats.RewardSum).
			Interface("info", stats.Info).
			Msg("evaluation complete")
	}
	return nil
}

// newEnvironment creates the named adapter with the world and agent
// counts of c
func newEnvironment(name, configFile string, c ippo.Config) (
	environment.Adapter, error) {
	switch name {
	case "traffic":
		cfg := traffic.DefaultConfig(c.NumWorlds, c.MaxAgents)
		if configFile != "" {
			var err error
			cfg, err = traffic.LoadConfig(configFile, c.NumWorlds, c.MaxAgents)
			if err != nil {
				return nil, err
			}
		}
		cfg.Seed = c.Seed
		return traffic.New(cfg)

	case "constant":
		return constant.New(constant.Config{
			NumWorlds:    c.NumWorlds,
			MaxAgents:    c.MaxAgents,
			EpisodeSteps: c.EpisodeLength,
			Reward:       1,
			ObsDim:       2,
			NumActions:   2,
		})

	default:
		return nil, fmt.Errorf("newEnvironment: unknown environment %q", name)
	}
}

// progress displays a progress bar of the completed iterations
type progress struct {
	bar *progressbar.ManualProgressBar
}

func newProgress(iterations int) *progress {
	return &progress{bar: progressbar.NewManualProgressBar(40, iterations)}
}

func (p *progress) Track(r tracker.Row) error {
	p.bar.Increment()
	p.bar.SetStatus("reward %.3f  loss %.3f", r.MeanStepReward,
		r.PolicyLoss+r.ValueLoss)
	p.bar.Display()
	return nil
}

func (p *progress) Save() error {
	p.bar.Close()
	return nil
}

// renderTracker renders a frame of a world every few iterations
type renderTracker struct {
	renderer environment.Renderer
	every    int
	dir      string
	logger   zerolog.Logger
}

func (r *renderTracker) Track(row tracker.Row) error {
	if row.Iteration%int64(r.every) != 0 {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(r.dir, fmt.Sprintf("iteration-%06d.png",
		row.Iteration))
	if err := r.renderer.Render(0, filename); err != nil {
		return err
	}
	r.logger.Debug().Str("file", filename).Msg("frame rendered")
	return nil
}

func (r *renderTracker) Save() error { return nil }
