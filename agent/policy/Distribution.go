package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/ippo/utils/floatutils"
	"github.com/samuelfneumann/ippo/utils/op"
)

// Type describes the kind of action distribution of a policy
type Type string

// Available distribution types
const (
	Categorical Type = "Categorical"
	Gaussian    Type = "Gaussian"
)

// Distribution is the closed set of action distributions a policy can
// have. A Distribution is chosen once, when a Model is created, and
// provides both the graph operations used in the loss and the sampling
// done outside of the graph while acting.
//
// head is the output of the actor network for a batch of rows and
// logStd the state-independent log standard deviation, which is nil
// for distributions without one.
type Distribution interface {
	Type() Type

	// Outputs returns the number of actor outputs per row
	Outputs() int

	// ActionDim returns the number of columns of a stored action row
	ActionDim() int

	// EncodedDim returns the number of columns of an encoded action
	// row fed to the graph
	EncodedDim() int

	// Encode writes the graph encoding of the action row action to dst
	Encode(dst, action []float64) error

	// LogProb returns the log probability of each row of encoded
	// actions, shape (batch)
	LogProb(head, logStd, encoded *G.Node) (*G.Node, error)

	// Entropy returns the entropy of each row, shape (batch), or a
	// scalar when the entropy does not depend on the row
	Entropy(head, logStd *G.Node) (*G.Node, error)

	// Sample draws an action for one row into dst and returns its log
	// probability
	Sample(rng *rand.Rand, head, logStd, dst []float64) float64

	// Mode writes the most likely action for one row into dst and
	// returns its log probability
	Mode(head, logStd, dst []float64) float64
}

// categorical is a softmax distribution over numActions actions. Actions
// are stored as a single index.
type categorical struct {
	numActions int
}

func (c categorical) Type() Type      { return Categorical }
func (c categorical) Outputs() int    { return c.numActions }
func (c categorical) ActionDim() int  { return 1 }
func (c categorical) EncodedDim() int { return c.numActions }

// Encode one-hot encodes an action index
func (c categorical) Encode(dst, action []float64) error {
	index := int(action[0])
	if float64(index) != action[0] || index < 0 || index >= c.numActions {
		return fmt.Errorf("encode: illegal action %v for %v actions",
			action[0], c.numActions)
	}
	for i := range dst {
		dst[i] = 0
	}
	dst[index] = 1
	return nil
}

func (c categorical) LogProb(logits, _, encoded *G.Node) (*G.Node, error) {
	logProbs := op.LogSoftmax(logits)
	selected, err := G.HadamardProd(encoded, logProbs)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}
	return G.Sum(selected, 1)
}

func (c categorical) Entropy(logits, _ *G.Node) (*G.Node, error) {
	return op.CategoricalEntropy(op.LogSoftmax(logits)), nil
}

func (c categorical) Sample(rng *rand.Rand, logits, _, dst []float64) float64 {
	lse := floats.LogSumExp(logits)
	u := rng.Float64()
	cumulative := 0.0
	index := len(logits) - 1
	for i, l := range logits {
		cumulative += math.Exp(l - lse)
		if u < cumulative {
			index = i
			break
		}
	}
	dst[0] = float64(index)
	return logits[index] - lse
}

func (c categorical) Mode(logits, _, dst []float64) float64 {
	index := floatutils.ArgMax(logits)
	dst[0] = float64(index)
	return logits[index] - floats.LogSumExp(logits)
}

// gaussian is a diagonal Gaussian whose mean is predicted by the actor
// and whose log standard deviation is a learned, state-independent
// vector
type gaussian struct {
	actionDim int
}

func (g gaussian) Type() Type      { return Gaussian }
func (g gaussian) Outputs() int    { return g.actionDim }
func (g gaussian) ActionDim() int  { return g.actionDim }
func (g gaussian) EncodedDim() int { return g.actionDim }

func (g gaussian) Encode(dst, action []float64) error {
	if !floatutils.AllFinite(action) {
		return fmt.Errorf("encode: non-finite action %v", action)
	}
	copy(dst, action)
	return nil
}

func (g gaussian) LogProb(mean, logStd, encoded *G.Node) (*G.Node, error) {
	return op.GaussianLogPdf(mean, logStd, encoded)
}

func (g gaussian) Entropy(_, logStd *G.Node) (*G.Node, error) {
	return op.GaussianEntropy(logStd), nil
}

func (g gaussian) Sample(rng *rand.Rand, mean, logStd, dst []float64) float64 {
	logProb := 0.0
	for i := range mean {
		std := math.Exp(logStd[i])
		dst[i] = mean[i] + std*rng.NormFloat64()
		logProb += distuv.Normal{Mu: mean[i], Sigma: std}.LogProb(dst[i])
	}
	return logProb
}

func (g gaussian) Mode(mean, logStd, dst []float64) float64 {
	copy(dst, mean)
	logProb := 0.0
	for i := range mean {
		std := math.Exp(logStd[i])
		logProb += distuv.Normal{Mu: mean[i], Sigma: std}.LogProb(dst[i])
	}
	return logProb
}
