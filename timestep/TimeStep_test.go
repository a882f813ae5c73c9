package timestep

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func newBatch(rows, obsDim int) Batch {
	return Batch{
		Observations: mat.NewDense(rows, obsDim, nil),
		Rewards:      make([]float64, rows),
		Dones:        make([]float64, rows),
		Mask:         make([]float64, rows),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		batch   Batch
		wantErr bool
	}{
		{"ok", newBatch(4, 3), false},
		{"nil observations", Batch{}, true},
		{"wrong rows", newBatch(3, 3), true},
		{"wrong obs dim", newBatch(4, 2), true},
		{"short rewards", func() Batch {
			b := newBatch(4, 3)
			b.Rewards = b.Rewards[:2]
			return b
		}(), true},
		{"short mask", func() Batch {
			b := newBatch(4, 3)
			b.Mask = nil
			return b
		}(), true},
	}

	for _, test := range tests {
		err := test.batch.Validate(4, 3)
		if (err != nil) != test.wantErr {
			t.Errorf("%v: wantErr(%v) have(%v)", test.name, test.wantErr, err)
		}
	}
}

func TestWorldDone(t *testing.T) {
	b := newBatch(4, 1)
	b.Mask = []float64{0, 0, 1, 0}

	if !b.WorldDone(0, 2) {
		t.Error("world 0 should be done")
	}
	if b.WorldDone(1, 2) {
		t.Error("world 1 should not be done")
	}
	if Row(1, 0, 2) != 2 {
		t.Errorf("row: want(2) have(%v)", Row(1, 0, 2))
	}
}

func TestCopyIsDeep(t *testing.T) {
	b := newBatch(2, 2)
	b.Info = map[string]float64{"collisions": 1}
	c := b.Copy()

	c.Observations.Set(0, 0, 5)
	c.Mask[0] = 1
	c.Info["collisions"] = 2
	if b.Observations.At(0, 0) != 0 || b.Mask[0] != 0 ||
		b.Info["collisions"] != 1 {
		t.Error("copy: modifying copy changed original")
	}
}
