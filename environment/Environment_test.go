package environment

import (
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/ippo/failure"
	"github.com/samuelfneumann/ippo/timestep"
)

type fixedAdapter struct {
	worlds, agents, obsDim int
}

func (f fixedAdapter) NumWorlds() int { return f.worlds }
func (f fixedAdapter) MaxAgents() int { return f.agents }
func (f fixedAdapter) ObservationSpec() Spec {
	return NewBoxSpec(Observation, f.obsDim, -1, 1)
}
func (f fixedAdapter) ActionSpec() Spec { return NewDiscreteSpec(3) }
func (f fixedAdapter) Reset([]int) (timestep.Batch, error) {
	return timestep.Batch{}, nil
}
func (f fixedAdapter) Step(*mat.Dense) (timestep.Batch, error) {
	return timestep.Batch{}, nil
}

func TestCheckBatch(t *testing.T) {
	a := fixedAdapter{worlds: 2, agents: 3, obsDim: 4}
	good := timestep.Batch{
		Observations: mat.NewDense(6, 4, nil),
		Rewards:      make([]float64, 6),
		Dones:        make([]float64, 6),
		Mask:         make([]float64, 6),
	}
	if err := CheckBatch(a, good); err != nil {
		t.Fatalf("checkBatch: unexpected error %v", err)
	}

	bad := good
	bad.Observations = mat.NewDense(4, 4, nil)
	err := CheckBatch(a, bad)
	if !failure.IsSimulationFault(err) {
		t.Errorf("checkBatch: expected simulation fault, got %v", err)
	}
}

func TestSpecs(t *testing.T) {
	d := NewDiscreteSpec(9)
	if d.NumActions() != 9 || d.Dim() != 1 {
		t.Errorf("discrete: want(9 actions, dim 1) have(%v, %v)",
			d.NumActions(), d.Dim())
	}

	c := NewBoxSpec(Action, 2, -1, 1)
	if c.Cardinality != Continuous || c.Dim() != 2 {
		t.Errorf("box: want(continuous, dim 2) have(%v, %v)",
			c.Cardinality, c.Dim())
	}
	if AllWorlds(fixedAdapter{worlds: 3})[2] != 2 {
		t.Error("allWorlds: wrong indices")
	}
}

func TestUniformStarterBounds(t *testing.T) {
	bounds := []r1.Interval{{Min: -1, Max: 1}, {Min: 5, Max: 6}}
	s := NewUniformStarter(bounds, 7)
	for i := 0; i < 100; i++ {
		v := s.Sample(nil)
		for j, b := range bounds {
			if v[j] < b.Min || v[j] > b.Max {
				t.Fatalf("sample %d: component %d out of bounds: %v", i, j,
					v[j])
			}
		}
	}
}
