// Package rollout implements the dense trajectory buffer filled by a
// rollout over a vectorized multi-agent environment.
//
// The buffer holds exactly one transition for every timestep t, world
// w, and agent slot a. Transitions are stored time-major, and within a
// timestep rows are stored world-major, so that transition (t, w, a)
// is found at index t*NumWorlds*MaxAgents + w*MaxAgents + a.
package rollout

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/ippo/timestep"
)

// Buffer stores the transitions of a single rollout. A Buffer is filled
// monotonically by timestep, consumed once, then discarded.
type Buffer struct {
	steps  int // Number of timesteps in the rollout
	worlds int // Number of worlds
	agents int // Maximum number of agents in each world
	obsDim int // Observation features per row
	actDim int // Stored action columns per row

	filled int // Number of timesteps stored

	obsBuffer     []float64
	actBuffer     []float64
	logProbBuffer []float64
	valBuffer     []float64
	rewBuffer     []float64
	doneBuffer    []float64
	maskBuffer    []float64

	lastValues []float64 // Bootstrap values, one per row
}

// New returns a new, empty Buffer
func New(steps, worlds, agents, obsDim, actDim int) (*Buffer, error) {
	if steps < 1 || worlds < 1 || agents < 1 || obsDim < 1 || actDim < 1 {
		return nil, fmt.Errorf("new: all dimensions must be positive, got "+
			"steps=%v worlds=%v agents=%v obsDim=%v actDim=%v", steps,
			worlds, agents, obsDim, actDim)
	}
	size := steps * worlds * agents
	return &Buffer{
		steps:         steps,
		worlds:        worlds,
		agents:        agents,
		obsDim:        obsDim,
		actDim:        actDim,
		obsBuffer:     make([]float64, size*obsDim),
		actBuffer:     make([]float64, size*actDim),
		logProbBuffer: make([]float64, size),
		valBuffer:     make([]float64, size),
		rewBuffer:     make([]float64, size),
		doneBuffer:    make([]float64, size),
		maskBuffer:    make([]float64, size),
	}, nil
}

// Steps returns the number of timesteps the Buffer holds
func (b *Buffer) Steps() int { return b.steps }

// NumWorlds returns the number of worlds in the Buffer
func (b *Buffer) NumWorlds() int { return b.worlds }

// MaxAgents returns the number of agent slots per world
func (b *Buffer) MaxAgents() int { return b.agents }

// Rows returns the number of rows per timestep
func (b *Buffer) Rows() int { return b.worlds * b.agents }

// Len returns the total number of transitions the Buffer holds when
// full
func (b *Buffer) Len() int { return b.steps * b.Rows() }

// ObsDim returns the number of observation features per transition
func (b *Buffer) ObsDim() int { return b.obsDim }

// ActDim returns the number of stored action columns per transition
func (b *Buffer) ActDim() int { return b.actDim }

// Filled returns the number of timesteps stored so far
func (b *Buffer) Filled() int { return b.filled }

// Full returns whether every timestep and the bootstrap values have
// been stored
func (b *Buffer) Full() bool {
	return b.filled == b.steps && b.lastValues != nil
}

// Index returns the index of transition (t, w, a)
func (b *Buffer) Index(t, world, agent int) int {
	return t*b.Rows() + timestep.Row(world, agent, b.agents)
}

// Key returns the (t, w, a) key of the transition at index i
func (b *Buffer) Key(i int) (t, world, agent int) {
	t = i / b.Rows()
	row := i % b.Rows()
	return t, row / b.agents, row % b.agents
}

// Store stores the transitions of timestep t for all rows. Timesteps
// must be stored in order. Rows whose mask is zero are stored with
// reward 0, value 0, and done 1 regardless of the arguments, so that
// they carry no advantage signal.
func (b *Buffer) Store(t int, obs, actions *mat.Dense, logProbs, values,
	rewards, dones, mask []float64) error {
	if t != b.filled {
		return fmt.Errorf("store: expected timestep %v, got %v", b.filled, t)
	}
	rows := b.Rows()
	if r, c := obs.Dims(); r != rows || c != b.obsDim {
		return fmt.Errorf("store: observations should have shape (%v, %v) "+
			"but have shape (%v, %v)", rows, b.obsDim, r, c)
	}
	if r, c := actions.Dims(); r != rows || c != b.actDim {
		return fmt.Errorf("store: actions should have shape (%v, %v) "+
			"but have shape (%v, %v)", rows, b.actDim, r, c)
	}
	for _, s := range [][]float64{logProbs, values, rewards, dones, mask} {
		if len(s) != rows {
			return fmt.Errorf("store: expected %v rows, got %v", rows, len(s))
		}
	}

	start := t * rows
	for row := 0; row < rows; row++ {
		i := start + row
		copy(b.obsBuffer[i*b.obsDim:(i+1)*b.obsDim], obs.RawRowView(row))
		copy(b.actBuffer[i*b.actDim:(i+1)*b.actDim], actions.RawRowView(row))
		b.logProbBuffer[i] = logProbs[row]

		if mask[row] == 0 {
			b.maskBuffer[i] = 0
			b.valBuffer[i] = 0
			b.rewBuffer[i] = 0
			b.doneBuffer[i] = 1
			continue
		}
		b.maskBuffer[i] = 1
		b.valBuffer[i] = values[row]
		b.rewBuffer[i] = rewards[row]
		b.doneBuffer[i] = dones[row]
	}
	b.filled++
	return nil
}

// SetLastValues stores the bootstrap value of each row, the value of
// the observation following the final timestep. Rows whose mask is
// zero are stored with value 0.
func (b *Buffer) SetLastValues(values, mask []float64) error {
	if b.filled != b.steps {
		return fmt.Errorf("setLastValues: only %v of %v timesteps stored",
			b.filled, b.steps)
	}
	if len(values) != b.Rows() || len(mask) != b.Rows() {
		return fmt.Errorf("setLastValues: expected %v rows, got %v values "+
			"and %v mask entries", b.Rows(), len(values), len(mask))
	}
	b.lastValues = make([]float64, b.Rows())
	for row := range values {
		if mask[row] != 0 {
			b.lastValues[row] = values[row]
		}
	}
	return nil
}

// Obs returns the observation of transition i. The returned slice
// aliases the Buffer.
func (b *Buffer) Obs(i int) []float64 {
	return b.obsBuffer[i*b.obsDim : (i+1)*b.obsDim]
}

// Action returns the action of transition i. The returned slice
// aliases the Buffer.
func (b *Buffer) Action(i int) []float64 {
	return b.actBuffer[i*b.actDim : (i+1)*b.actDim]
}

// LogProb returns the behaviour log probability of transition i
func (b *Buffer) LogProb(i int) float64 { return b.logProbBuffer[i] }

// Value returns the value estimate of transition i
func (b *Buffer) Value(i int) float64 { return b.valBuffer[i] }

// Reward returns the reward of transition i
func (b *Buffer) Reward(i int) float64 { return b.rewBuffer[i] }

// Done returns the done flag of transition i
func (b *Buffer) Done(i int) float64 { return b.doneBuffer[i] }

// Mask returns the action mask of transition i
func (b *Buffer) Mask(i int) float64 { return b.maskBuffer[i] }

// LastValue returns the bootstrap value of row
func (b *Buffer) LastValue(row int) float64 { return b.lastValues[row] }

// Values returns the value estimates of all transitions, in index
// order. The returned slice aliases the Buffer.
func (b *Buffer) Values() []float64 { return b.valBuffer }

// Masks returns the action masks of all transitions, in index order.
// The returned slice aliases the Buffer.
func (b *Buffer) Masks() []float64 { return b.maskBuffer }

// Rewards returns the rewards of all transitions, in index order. The
// returned slice aliases the Buffer.
func (b *Buffer) Rewards() []float64 { return b.rewBuffer }

// Dones returns the done flags of all transitions, in index order. The
// returned slice aliases the Buffer.
func (b *Buffer) Dones() []float64 { return b.doneBuffer }

// LastValues returns the bootstrap values of all rows. The returned
// slice aliases the Buffer.
func (b *Buffer) LastValues() []float64 { return b.lastValues }

// String implements the fmt.Stringer interface
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{steps: %v/%v, worlds: %v, agents: %v, "+
		"obsDim: %v, actDim: %v}", b.filled, b.steps, b.worlds, b.agents,
		b.obsDim, b.actDim)
}
