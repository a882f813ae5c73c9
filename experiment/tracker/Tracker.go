// Package tracker implements Trackers, which record the per-iteration
// metrics of a training run and save them
package tracker

import (
	"math"

	"github.com/rs/zerolog"
)

// Row is the record of a single training iteration
type Row struct {
	Iteration         int64   `parquet:"iteration"`
	MeanEpisodeReward float64 `parquet:"mean_episode_reward"`
	EpisodesCompleted int64   `parquet:"episodes_completed"`
	MeanStepReward    float64 `parquet:"mean_step_reward"`
	PolicyLoss        float64 `parquet:"policy_loss"`
	ValueLoss         float64 `parquet:"value_loss"`
	Entropy           float64 `parquet:"entropy"`
	ClipFraction      float64 `parquet:"clip_fraction"`
	ApproxKL          float64 `parquet:"approx_kl"`
	ExplainedVariance float64 `parquet:"explained_variance"`
	GradNorm          float64 `parquet:"grad_norm"`
	StepTimeSeconds   float64 `parquet:"step_time_seconds"`
}

// MarshalZerologObject implements the zerolog.LogObjectMarshaler
// interface. NaN metrics are omitted.
func (r Row) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("iteration", r.Iteration).
		Int64("episodes", r.EpisodesCompleted)
	fields := []struct {
		key   string
		value float64
	}{
		{"mean_episode_reward", r.MeanEpisodeReward},
		{"mean_step_reward", r.MeanStepReward},
		{"policy_loss", r.PolicyLoss},
		{"value_loss", r.ValueLoss},
		{"entropy", r.Entropy},
		{"clip_fraction", r.ClipFraction},
		{"approx_kl", r.ApproxKL},
		{"explained_variance", r.ExplainedVariance},
		{"grad_norm", r.GradNorm},
		{"step_time_seconds", r.StepTimeSeconds},
	}
	for _, f := range fields {
		if !math.IsNaN(f.value) {
			e.Float64(f.key, f.value)
		}
	}
}

// Tracker keeps track of training data and saves the data, usually
// after training has finished
type Tracker interface {
	Track(r Row) error
	Save() error
}
