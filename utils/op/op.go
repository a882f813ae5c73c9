// Package op provides extended Gorgonia graph operations.
//
// Min, Max, and Clip are expressed through absolute values so that
// gradients flow to both arguments wherever they are not exactly equal.
package op

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// Min returns the element-wise minimum of a and b:
//
//	min(a, b) = (a + b - |a - b|) / 2
//
// Either argument may be a scalar.
func Min(a, b *G.Node) (*G.Node, error) {
	sum, diff, err := sumAbsDiff(a, b)
	if err != nil {
		return nil, fmt.Errorf("min: %v", err)
	}
	out, err := G.Sub(sum, diff)
	if err != nil {
		return nil, fmt.Errorf("min: %v", err)
	}
	return G.HadamardProd(out, G.NewConstant(0.5))
}

// Max returns the element-wise maximum of a and b:
//
//	max(a, b) = (a + b + |a - b|) / 2
//
// Either argument may be a scalar.
func Max(a, b *G.Node) (*G.Node, error) {
	sum, diff, err := sumAbsDiff(a, b)
	if err != nil {
		return nil, fmt.Errorf("max: %v", err)
	}
	out, err := G.Add(sum, diff)
	if err != nil {
		return nil, fmt.Errorf("max: %v", err)
	}
	return G.HadamardProd(out, G.NewConstant(0.5))
}

func sumAbsDiff(a, b *G.Node) (*G.Node, *G.Node, error) {
	sum, err := G.Add(a, b)
	if err != nil {
		return nil, nil, err
	}
	diff, err := G.Sub(a, b)
	if err != nil {
		return nil, nil, err
	}
	diff, err = G.Abs(diff)
	if err != nil {
		return nil, nil, err
	}
	return sum, diff, nil
}

// Clip clips the value of a node element-wise to [min, max]
func Clip(value *G.Node, min, max float64) (*G.Node, error) {
	if min > max {
		return nil, fmt.Errorf("clip: min (%v) > max (%v)", min, max)
	}
	upper, err := Min(value, G.NewConstant(max))
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	clipped, err := Max(upper, G.NewConstant(min))
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	return clipped, nil
}

// LogSumExp calculates the log of the summation of exponentials of
// all logits along the given axis.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// LogSoftmax returns the row-wise log softmax of a batch of logits of
// shape (batch, classes)
func LogSoftmax(logits *G.Node) *G.Node {
	lse := LogSumExp(logits, 1)
	return G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))
}

// GaussianLogPdf calculates the log density of actions under a
// diagonal Gaussian with mean mean and log standard deviation logStd.
//
// mean and actions should have shape (batch, dims). logStd should have
// shape (1, dims) and is broadcast over the batch. The result has
// shape (batch), the log density of each row summed over dimensions.
func GaussianLogPdf(mean, logStd, actions *G.Node) (*G.Node, error) {
	graph := mean.Graph()
	if graph != logStd.Graph() || graph != actions.Graph() {
		return nil, fmt.Errorf("gaussianLogPdf: all nodes must share " +
			"the same graph")
	}
	dims := float64(mean.Shape()[1])

	diff, err := G.Sub(actions, mean)
	if err != nil {
		return nil, fmt.Errorf("gaussianLogPdf: %v", err)
	}
	invStd := G.Must(G.Exp(G.Must(G.Neg(logStd))))
	z, err := G.BroadcastHadamardProd(diff, invStd, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("gaussianLogPdf: %v", err)
	}
	exponent := G.Must(G.Sum(G.Must(G.Square(z)), 1))
	exponent = G.Must(G.HadamardProd(exponent, G.NewConstant(-0.5)))

	// -Σ log σ - (d/2) log 2π is the same for every row
	norm := G.Must(G.Sum(logStd))
	norm = G.Must(G.Add(norm, G.NewConstant(dims/2.0*math.Log(2*math.Pi))))

	return G.Sub(exponent, norm)
}

// GaussianEntropy returns the entropy of a diagonal Gaussian with log
// standard deviation logStd, which is independent of the mean.
func GaussianEntropy(logStd *G.Node) *G.Node {
	dims := float64(logStd.Shape().TotalSize())
	c := dims * 0.5 * (1 + math.Log(2*math.Pi))
	return G.Must(G.Add(G.Must(G.Sum(logStd)), G.NewConstant(c)))
}

// CategoricalEntropy returns the entropy of each row of a batch of
// log probabilities of shape (batch, classes). The result has shape
// (batch).
func CategoricalEntropy(logProbs *G.Node) *G.Node {
	probs := G.Must(G.Exp(logProbs))
	plogp := G.Must(G.HadamardProd(probs, logProbs))
	return G.Must(G.Neg(G.Must(G.Sum(plogp, 1))))
}

// WeightedSum returns Σ x ⊙ w as a scalar. When w sums to one over the
// active entries and is zero elsewhere, this is a masked mean.
func WeightedSum(x, w *G.Node) (*G.Node, error) {
	prod, err := G.HadamardProd(x, w)
	if err != nil {
		return nil, fmt.Errorf("weightedSum: %v", err)
	}
	return G.Sum(prod)
}
