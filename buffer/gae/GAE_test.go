package gae

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/ippo/buffer/rollout"
)

const tolerance = 1e-9

// transition holds the stored fields of a single row at a single
// timestep
type transition struct {
	value, reward, done, mask float64
}

// newBuffer creates a full buffer with a single world, where steps[t]
// holds the transitions of each agent slot at timestep t
func newBuffer(t *testing.T, steps [][]transition, last []float64) *rollout.Buffer {
	t.Helper()
	agents := len(steps[0])
	b, err := rollout.New(len(steps), 1, agents, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	for step, row := range steps {
		values := make([]float64, agents)
		rewards := make([]float64, agents)
		dones := make([]float64, agents)
		mask := make([]float64, agents)
		for a, tr := range row {
			values[a], rewards[a], dones[a], mask[a] = tr.value, tr.reward,
				tr.done, tr.mask
		}
		zeros := mat.NewDense(agents, 1, nil)
		if err := b.Store(step, zeros, zeros, make([]float64, agents), values,
			rewards, dones, mask); err != nil {
			t.Fatal(err)
		}
	}
	mask := make([]float64, agents)
	for i := range mask {
		mask[i] = 1
	}
	if err := b.SetLastValues(last, mask); err != nil {
		t.Fatal(err)
	}
	return b
}

// discountCumSum computes the discounted cumulative sum of x:
//
//	[x0 + ℽ x1 + ℽ^2 x2 + ..., x1 + ℽ x2 + ..., ..., xN]
func discountCumSum(x []float64, discount float64) []float64 {
	sums := make([]float64, len(x))
	running := 0.0
	for i := len(x) - 1; i >= 0; i-- {
		running = x[i] + discount*running
		sums[i] = running
	}
	return sums
}

func TestEstimateSingleTrajectory(t *testing.T) {
	const gamma, lambda = 0.9, 0.8
	rewards := []float64{1, -2, 0.5, 3}
	values := []float64{0.3, 1.2, -0.4, 2}
	last := 0.7

	steps := make([][]transition, len(rewards))
	for i := range steps {
		steps[i] = []transition{{values[i], rewards[i], 0, 1}}
	}
	table, err := Estimate(newBuffer(t, steps, []float64{last}), gamma, lambda)
	if err != nil {
		t.Fatal(err)
	}

	next := append(values[1:], last)
	deltas := make([]float64, len(rewards))
	for i := range deltas {
		deltas[i] = rewards[i] + gamma*next[i] - values[i]
	}
	want := discountCumSum(deltas, gamma*lambda)
	if !floats.EqualApprox(table.Advantages, want, tolerance) {
		t.Errorf("advantages:\n\twant(%v)\n\thave(%v)", want, table.Advantages)
	}
	for i := range want {
		if math.Abs(table.Returns[i]-(want[i]+values[i])) > tolerance {
			t.Errorf("return %v: want %v, have %v", i, want[i]+values[i],
				table.Returns[i])
		}
	}
}

func TestEstimateOneStepTD(t *testing.T) {
	const gamma = 0.95
	steps := [][]transition{
		{{1, 1, 0, 1}, {2, 0, 0, 1}},
		{{0.5, -1, 0, 1}, {3, 2, 0, 1}},
		{{0.2, 4, 0, 1}, {-1, 1, 0, 1}},
	}
	last := []float64{0.1, 0.6}
	table, err := Estimate(newBuffer(t, steps, last), gamma, 0)
	if err != nil {
		t.Fatal(err)
	}

	for step := range steps {
		for a := range steps[step] {
			next := last[a]
			if step+1 < len(steps) {
				next = steps[step+1][a].value
			}
			tr := steps[step][a]
			want := tr.reward + gamma*next - tr.value
			if have := table.Advantages[step*2+a]; math.Abs(have-want) > tolerance {
				t.Errorf("(%v, %v): want %v, have %v", step, a, want, have)
			}
		}
	}
}

func TestEstimateDoneBoundary(t *testing.T) {
	// The episode ends at timestep 1; timestep 2 starts a new episode
	steps := [][]transition{
		{{0, 1, 0, 1}},
		{{0, 1, 1, 1}},
		{{0, 5, 0, 1}},
	}
	table, err := Estimate(newBuffer(t, steps, []float64{10}), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 1, 15}
	if !floats.EqualApprox(table.Returns, want, tolerance) {
		t.Errorf("returns:\n\twant(%v)\n\thave(%v)", want, table.Returns)
	}
}

func TestEstimateInactiveSlots(t *testing.T) {
	// Slot 1 is inactive throughout, but reports large rewards and
	// values which must not leak into any advantage
	steps := [][]transition{
		{{1, 1, 0, 1}, {100, 100, 0, 0}},
		{{1, 1, 0, 1}, {100, 100, 0, 0}},
	}
	table, err := Estimate(newBuffer(t, steps, []float64{1, 100}), 0.9, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	for step := range steps {
		if adv := table.Advantages[step*2+1]; adv != 0 {
			t.Errorf("inactive advantage at %v: want 0, have %v", step, adv)
		}
		if ret := table.Returns[step*2+1]; ret != 0 {
			t.Errorf("inactive return at %v: want 0, have %v", step, ret)
		}
	}

	// Slot 0 is unaffected by slot 1
	alone := [][]transition{{{1, 1, 0, 1}}, {{1, 1, 0, 1}}}
	want, _ := Estimate(newBuffer(t, alone, []float64{1}), 0.9, 0.9)
	for step := range steps {
		if table.Advantages[step*2] != want.Advantages[step] {
			t.Errorf("active advantage at %v changed by inactive slot", step)
		}
	}
}

func TestEstimateNotFull(t *testing.T) {
	b, _ := rollout.New(2, 1, 1, 1, 1)
	if _, err := Estimate(b, 0.9, 0.9); err == nil {
		t.Error("expected error for empty buffer")
	}
}

func TestStandardize(t *testing.T) {
	adv := []float64{1, 5, -3, 100, 2, 7}
	mask := []float64{1, 1, 1, 0, 1, 1}
	dst := make([]float64, len(adv))
	Standardize(dst, adv, mask)

	if dst[3] != 0 {
		t.Errorf("masked out entry: want 0, have %v", dst[3])
	}
	mean, variance := stat.PopMeanVariance(dst, mask)
	if math.Abs(mean) > 1e-6 {
		t.Errorf("mean: want 0, have %v", mean)
	}
	if math.Abs(variance-1) > 1e-6 {
		t.Errorf("variance: want 1, have %v", variance)
	}
}

func BenchmarkEstimate(b *testing.B) {
	buf, _ := rollout.New(128, 16, 8, 1, 1)
	rows := buf.Rows()
	zeros := mat.NewDense(rows, 1, nil)
	ones := make([]float64, rows)
	for i := range ones {
		ones[i] = 1
	}
	for step := 0; step < buf.Steps(); step++ {
		buf.Store(step, zeros, zeros, ones, ones, ones, make([]float64, rows),
			ones)
	}
	buf.SetLastValues(ones, ones)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Estimate(buf, 0.99, 0.95)
	}
}
