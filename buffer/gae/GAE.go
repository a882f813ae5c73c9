// Package gae implements generalized advantage estimation, GAE(λ),
// following https://arxiv.org/abs/1506.02438, over a dense rollout of
// many worlds and agent slots at once.
package gae

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/ippo/buffer/rollout"
	"github.com/samuelfneumann/ippo/utils/matutils"
)

// epsilon is added to the standard deviation when standardizing
const epsilon = 1e-8

// Table holds the advantage and return of every transition of a
// rollout, in the rollout's index order
type Table struct {
	Advantages []float64
	Returns    []float64
}

// Estimate computes GAE(λ) advantages and returns for a full rollout
// buffer with a single reverse sweep over timesteps. Each step of the
// sweep processes every row of the rollout at once:
//
//	delta[t] = reward[t] + ℽ * value[t+1] * (1 - done[t]) - value[t]
//	gae[t]   = delta[t] + ℽ * λ * (1 - done[t]) * gae[t+1]
//	return[t] = gae[t] + value[t]
//
// where value[T] is the bootstrap value stored in the buffer. A done
// flag zeroes both the bootstrap and the accumulated advantage, so
// rows of inactive slots, stored with reward 0, value 0, and done 1,
// have zero advantage and zero return.
func Estimate(b *rollout.Buffer, gamma, lambda float64) (*Table, error) {
	if !b.Full() {
		return nil, fmt.Errorf("estimate: buffer must be full, %v", b)
	}
	if gamma < 0 || gamma > 1 || lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("estimate: ℽ (%v) and λ (%v) must be in "+
			"[0, 1]", gamma, lambda)
	}

	rows := b.Rows()
	values, rewards, dones := b.Values(), b.Rewards(), b.Dones()
	advantages := make([]float64, b.Len())
	returns := make([]float64, b.Len())

	nextValues := mat.NewVecDense(rows, append([]float64(nil),
		b.LastValues()...))
	accumulator := mat.NewVecDense(rows, nil)
	notDone := mat.NewVecDense(rows, nil)
	delta := mat.NewVecDense(rows, nil)

	for t := b.Steps() - 1; t >= 0; t-- {
		start, stop := t*rows, (t+1)*rows
		value := mat.NewVecDense(rows, values[start:stop])
		reward := mat.NewVecDense(rows, rewards[start:stop])

		// 1 - done[t]
		notDoneData := notDone.RawVector().Data
		for i := range notDoneData {
			notDoneData[i] = 1
		}
		floats.Sub(notDoneData, dones[start:stop])

		// delta = r + ℽ v' (1 - d) - v
		nextValues.MulElemVec(nextValues, notDone)
		delta.AddScaledVec(reward, gamma, nextValues)
		delta.SubVec(delta, value)

		// gae = delta + ℽλ (1 - d) gae'
		accumulator.MulElemVec(accumulator, notDone)
		accumulator.AddScaledVec(delta, gamma*lambda, accumulator)

		copy(advantages[start:stop], accumulator.RawVector().Data)
		floats.AddTo(returns[start:stop], advantages[start:stop],
			values[start:stop])

		nextValues.CopyVec(value)
	}

	return &Table{Advantages: advantages, Returns: returns}, nil
}

// Standardize writes the advantages adv standardized to mean 0 and
// variance 1 over the entries whose mask is non-zero into dst. Entries
// whose mask is zero are set to zero. The mean and standard deviation
// are computed over the masked-in entries only. If mask is nil, every
// entry is masked in.
func Standardize(dst, adv, mask []float64) {
	if len(dst) != len(adv) || (mask != nil && len(mask) != len(adv)) {
		panic("standardize: slice lengths differ")
	}
	mean, std := matutils.MaskedMeanStd(adv, mask)
	for i := range adv {
		if mask != nil && mask[i] == 0 {
			dst[i] = 0
			continue
		}
		dst[i] = (adv[i] - mean) / (std + epsilon)
	}
}
