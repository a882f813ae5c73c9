package tracker

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func rows() []Row {
	return []Row{
		{Iteration: 1, MeanEpisodeReward: 4, EpisodesCompleted: 4,
			PolicyLoss: -0.1, ValueLoss: 2.5, StepTimeSeconds: 0.01},
		{Iteration: 2, MeanEpisodeReward: math.NaN(), PolicyLoss: 0.2},
	}
}

func TestParquetSaveLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out", "metrics.parquet")
	p := NewParquet(filename)
	for _, r := range rows() {
		if err := p.Track(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadParquet(filename)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rows, got %v", len(loaded))
	}
	if loaded[0].Iteration != 1 || loaded[0].ValueLoss != 2.5 {
		t.Errorf("row 0 loaded as %+v", loaded[0])
	}
	if !math.IsNaN(loaded[1].MeanEpisodeReward) {
		t.Errorf("expected NaN mean episode reward, got %v",
			loaded[1].MeanEpisodeReward)
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(zerolog.New(&buf), zerolog.InfoLevel)
	for _, r := range rows() {
		if err := l.Track(r); err != nil {
			t.Fatal(err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %v", len(lines))
	}
	if !strings.Contains(lines[0], `"mean_episode_reward":4`) {
		t.Errorf("missing reward in %v", lines[0])
	}
	if strings.Contains(lines[1], "mean_episode_reward") {
		t.Errorf("NaN reward should be omitted: %v", lines[1])
	}
	if !strings.Contains(lines[0], `"component":"tracker"`) {
		t.Errorf("missing component in %v", lines[0])
	}
}

func TestReturn(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	r := NewReturn(filename)
	for _, row := range rows() {
		r.Track(row)
	}
	if err := r.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := LoadData(filename)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 || data[0] != 4 || !math.IsNaN(data[1]) {
		t.Errorf("loaded %v", data)
	}
}

func TestParquetResume(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "metrics.parquet")
	p := NewParquet(filename)
	if err := p.Resume(3); err != nil {
		t.Fatalf("resume without a saved file: %v", err)
	}
	for _, r := range rows() {
		p.Track(r)
	}
	if err := p.Save(); err != nil {
		t.Fatal(err)
	}

	// Continue from the checkpoint of iteration 1
	resumed := NewParquet(filename)
	if err := resumed.Resume(1); err != nil {
		t.Fatal(err)
	}
	resumed.Track(Row{Iteration: 2, PolicyLoss: 0.5})
	if err := resumed.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadParquet(filename)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rows, got %v", len(loaded))
	}
	if loaded[0].Iteration != 1 || loaded[0].ValueLoss != 2.5 {
		t.Errorf("row 0 loaded as %+v", loaded[0])
	}
	if loaded[1].Iteration != 2 || loaded[1].PolicyLoss != 0.5 {
		t.Errorf("row 1 loaded as %+v", loaded[1])
	}
}

func TestReturnResume(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	r := NewReturn(filename)
	if err := r.Resume(2); err != nil {
		t.Fatalf("resume without a saved file: %v", err)
	}
	for _, row := range rows() {
		r.Track(row)
	}
	if err := r.Save(); err != nil {
		t.Fatal(err)
	}

	resumed := NewReturn(filename)
	if err := resumed.Resume(1); err != nil {
		t.Fatal(err)
	}
	resumed.Track(Row{Iteration: 2, MeanEpisodeReward: 7})
	if data := resumed.Data(); len(data) != 2 || data[0] != 4 || data[1] != 7 {
		t.Errorf("resumed data %v", data)
	}
}
