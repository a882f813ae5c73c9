package traffic

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/failure"
)

func newTraffic(t *testing.T, worlds, agents, steps int) *Traffic {
	t.Helper()
	cfg := DefaultConfig(worlds, agents)
	cfg.EpisodeSteps = steps
	cfg.Seed = 42
	env, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func constantActions(env *Traffic, action float64) *mat.Dense {
	rows := env.NumWorlds() * env.MaxAgents()
	actions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		actions.Set(i, 0, action)
	}
	return actions
}

func TestResetShapes(t *testing.T) {
	env := newTraffic(t, 3, 4, 10)
	b, err := env.Reset(environment.AllWorlds(env))
	if err != nil {
		t.Fatal(err)
	}
	if err := environment.CheckBatch(env, b); err != nil {
		t.Fatal(err)
	}

	for w := 0; w < env.NumWorlds(); w++ {
		active := 0
		for a := 0; a < env.MaxAgents(); a++ {
			if b.Active(w*env.MaxAgents() + a) {
				active++
			}
		}
		if active < env.cfg.MinAgents || active > env.MaxAgents() {
			t.Errorf("world %d: %v active vehicles outside [%v, %v]", w,
				active, env.cfg.MinAgents, env.MaxAgents())
		}
	}
}

func TestTruncation(t *testing.T) {
	const steps = 10
	env := newTraffic(t, 2, 3, steps)
	b, err := env.Reset(environment.AllWorlds(env))
	if err != nil {
		t.Fatal(err)
	}
	initial := append([]float64(nil), b.Mask...)

	// Idle vehicles neither collide nor leave the road
	idle := constantActions(env, 4)
	for i := 1; i <= steps; i++ {
		b, err = env.Step(idle)
		if err != nil {
			t.Fatal(err)
		}
		for row, m := range initial {
			wantDone := i == steps || m == 0
			if b.Done(row) != wantDone {
				t.Fatalf("step %d row %d: want done(%v) have(%v)", i, row,
					wantDone, b.Done(row))
			}
		}
	}

	active := 0.0
	for _, m := range initial {
		active += m
	}
	if b.Info[InfoTruncated] != active {
		t.Errorf("truncated: want(%v) have(%v)", active, b.Info[InfoTruncated])
	}
	for w := 0; w < env.NumWorlds(); w++ {
		if !b.WorldDone(w, env.MaxAgents()) {
			t.Errorf("world %d should be done after truncation", w)
		}
	}
}

func TestAccelerateMakesProgress(t *testing.T) {
	env := newTraffic(t, 1, 2, 50)
	b, err := env.Reset([]int{0})
	if err != nil {
		t.Fatal(err)
	}
	mask := append([]float64(nil), b.Mask...)

	// Full throttle, no steering
	forward := constantActions(env, 7)
	for i := 0; i < 5; i++ {
		if b, err = env.Step(forward); err != nil {
			t.Fatal(err)
		}
	}
	for row, m := range mask {
		if m == 1 && b.Rewards[row] <= 0 {
			t.Errorf("row %d: expected positive progress reward, got %v", row,
				b.Rewards[row])
		}
	}
}

func TestIllegalAction(t *testing.T) {
	env := newTraffic(t, 1, 2, 5)
	cfg := env.cfg
	cfg.MinAgents = cfg.MaxAgents
	env, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Reset([]int{0}); err != nil {
		t.Fatal(err)
	}

	_, err = env.Step(constantActions(env, float64(NumActions)))
	if !failure.IsSimulationFault(err) {
		t.Errorf("step: expected simulation fault, got %v", err)
	}
	_, err = env.Step(mat.NewDense(1, 1, nil))
	if !failure.IsSimulationFault(err) {
		t.Errorf("step: expected simulation fault for wrong rows, got %v", err)
	}
}

func TestDeterministic(t *testing.T) {
	run := func() *mat.Dense {
		env := newTraffic(t, 2, 3, 20)
		if _, err := env.Reset(environment.AllWorlds(env)); err != nil {
			t.Fatal(err)
		}
		b, err := env.Step(constantActions(env, 8))
		if err != nil {
			t.Fatal(err)
		}
		return b.Observations
	}
	if !mat.Equal(run(), run()) {
		t.Error("equal seeds produced different observations")
	}
}

func TestRender(t *testing.T) {
	env := newTraffic(t, 1, 3, 5)
	if _, err := env.Reset([]int{0}); err != nil {
		t.Fatal(err)
	}
	filename := filepath.Join(t.TempDir(), "frame.png")
	if err := env.Render(0, filename); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filename); err != nil {
		t.Errorf("render: %v", err)
	}
	if err := env.Render(3, filename); err == nil {
		t.Error("render: expected error for out of range world")
	}
}
