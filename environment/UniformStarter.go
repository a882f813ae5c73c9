package environment

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
)

// UniformStarter samples starting states uniformly from a box. It is
// used to jitter the spawn poses of agents when a world is reset.
type UniformStarter struct {
	bounds []r1.Interval
	rand   *distmv.Uniform
}

// NewUniformStarter returns a UniformStarter which samples dimension i
// uniformly from bounds[i]
func NewUniformStarter(bounds []r1.Interval, seed uint64) UniformStarter {
	for i, b := range bounds {
		if b.Min > b.Max {
			panic(fmt.Sprintf("newUniformStarter: bound %d has min (%v) > "+
				"max (%v)", i, b.Min, b.Max))
		}
	}
	source := rand.NewSource(seed)
	return UniformStarter{
		bounds: bounds,
		rand:   distmv.NewUniform(bounds, source),
	}
}

// Start returns a starting state vector
func (u UniformStarter) Start() mat.Vector {
	return mat.NewVecDense(len(u.bounds), u.Sample(nil))
}

// Sample fills dst with a starting state and returns it. If dst is nil
// a new slice is allocated.
func (u UniformStarter) Sample(dst []float64) []float64 {
	return u.rand.Rand(dst)
}
