package rollout

import (
	"sort"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// fill stores steps timesteps where every field of transition (t, w, a)
// encodes its index
func fill(t *testing.T, b *Buffer, mask []float64) {
	t.Helper()
	rows := b.Rows()
	for step := 0; step < b.Steps(); step++ {
		obs := mat.NewDense(rows, b.ObsDim(), nil)
		act := mat.NewDense(rows, b.ActDim(), nil)
		values := make([]float64, rows)
		for row := 0; row < rows; row++ {
			i := float64(step*rows + row)
			obs.Set(row, 0, i)
			act.Set(row, 0, i)
			values[row] = i
		}
		err := b.Store(step, obs, act, values, values, values, values, mask)
		if err != nil {
			t.Fatalf("store: %v", err)
		}
	}
}

func TestBufferKeys(t *testing.T) {
	const steps, worlds, agents = 3, 2, 4
	b, err := New(steps, worlds, agents, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	fill(t, b, []float64{1, 1, 1, 1, 1, 1, 1, 1})
	if err := b.SetLastValues(make([]float64, 8), make([]float64, 8)); err != nil {
		t.Fatal(err)
	}
	if !b.Full() {
		t.Fatal("buffer should be full")
	}
	if b.Len() != steps*worlds*agents {
		t.Fatalf("len: want %v, have %v", steps*worlds*agents, b.Len())
	}

	// Every key is stored exactly once, at the index it maps to
	seen := make(map[[3]int]bool)
	for i := 0; i < b.Len(); i++ {
		step, w, a := b.Key(i)
		key := [3]int{step, w, a}
		if seen[key] {
			t.Errorf("duplicate key %v", key)
		}
		seen[key] = true
		if j := b.Index(step, w, a); j != i {
			t.Errorf("index(%v): want %v, have %v", key, i, j)
		}
		if b.Obs(i)[0] != float64(i) || b.Action(i)[0] != float64(i) {
			t.Errorf("transition %v stored at the wrong index", i)
		}
	}
	if len(seen) != steps*worlds*agents {
		t.Errorf("expected %v keys, have %v", steps*worlds*agents, len(seen))
	}
}

func TestStoreInactive(t *testing.T) {
	b, _ := New(1, 1, 2, 1, 1)
	fill(t, b, []float64{1, 0})

	if b.Value(1) != 0 || b.Reward(1) != 0 || b.Done(1) != 1 ||
		b.Mask(1) != 0 {
		t.Errorf("inactive slot stored as value %v, reward %v, done %v",
			b.Value(1), b.Reward(1), b.Done(1))
	}
	if b.Reward(0) != 0 || b.Mask(0) != 1 {
		t.Errorf("active slot modified")
	}
}

func TestStoreOrder(t *testing.T) {
	b, _ := New(2, 1, 1, 1, 1)
	obs := mat.NewDense(1, 1, nil)
	one := []float64{1}
	if err := b.Store(1, obs, obs, one, one, one, one, one); err == nil {
		t.Error("expected error when skipping a timestep")
	}
	if err := b.SetLastValues(one, one); err == nil {
		t.Error("expected error when setting last values early")
	}
	bad := mat.NewDense(1, 2, nil)
	if err := b.Store(0, bad, obs, one, one, one, one, one); err == nil {
		t.Error("expected error for wrong observation shape")
	}
}

func TestGroups(t *testing.T) {
	b, _ := New(2, 3, 2, 1, 1)

	all, err := b.Group(0, true)
	if err != nil || len(all) != b.Len() {
		t.Fatalf("shared group: %v indices, err %v", len(all), err)
	}

	var union []int
	for g := 0; g < 2; g++ {
		indices, err := b.Group(g, false)
		if err != nil {
			t.Fatal(err)
		}
		for _, i := range indices {
			if _, _, a := b.Key(i); a != g {
				t.Errorf("group %v holds a transition of agent %v", g, a)
			}
		}
		union = append(union, indices...)
	}
	sort.Ints(union)
	for i := range union {
		if union[i] != i {
			t.Fatalf("groups do not partition the buffer: %v", union)
		}
	}

	if _, err := b.Group(2, false); err == nil {
		t.Error("expected error for out of range group")
	}
	if rows := GroupRows(1, 3, 2, false); rows[0] != 1 || rows[2] != 5 {
		t.Errorf("groupRows: have %v", rows)
	}
}

func TestMinibatches(t *testing.T) {
	indices := []int{0, 1, 2, 3, 4, 5, 6, 7}
	rng := rand.New(rand.NewSource(1))

	batches, err := Minibatches(indices, 4, rng)
	if err != nil {
		t.Fatal(err)
	}
	var union []int
	for _, batch := range batches {
		if len(batch) != 2 {
			t.Errorf("minibatch size: want 2, have %v", len(batch))
		}
		union = append(union, batch...)
	}
	sort.Ints(union)
	for i := range union {
		if union[i] != indices[i] {
			t.Fatalf("minibatches are not a partition: %v", batches)
		}
	}

	if _, err := Minibatches(indices, 3, rng); err == nil {
		t.Error("expected error for indivisible minibatches")
	}
}
