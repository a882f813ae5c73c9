package rollout

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// Group returns the indices of all transitions belonging to a
// parameter group, in index order. When shared is true there is a
// single group holding every transition. Otherwise group g holds the
// transitions of agent slot g in every world.
func (b *Buffer) Group(group int, shared bool) ([]int, error) {
	if shared {
		if group != 0 {
			return nil, fmt.Errorf("group: shared parameters have a single "+
				"group, got group %v", group)
		}
		indices := make([]int, b.Len())
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	if group < 0 || group >= b.agents {
		return nil, fmt.Errorf("group: group %v out of range [0, %v)", group,
			b.agents)
	}
	indices := make([]int, 0, b.steps*b.worlds)
	for t := 0; t < b.steps; t++ {
		for w := 0; w < b.worlds; w++ {
			indices = append(indices, b.Index(t, w, group))
		}
	}
	return indices, nil
}

// GroupRows returns the rows of a single timestep which belong to a
// parameter group
func GroupRows(group, worlds, agents int, shared bool) []int {
	if shared {
		rows := make([]int, worlds*agents)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	rows := make([]int, worlds)
	for w := range rows {
		rows[w] = w*agents + group
	}
	return rows
}

// Minibatches shuffles indices with rng and splits them into n
// disjoint minibatches of equal size. The number of indices must be
// divisible by n. The indices argument is not modified.
func Minibatches(indices []int, n int, rng *rand.Rand) ([][]int, error) {
	if n < 1 {
		return nil, fmt.Errorf("minibatches: number of minibatches must be "+
			"positive, got %v", n)
	}
	if len(indices)%n != 0 {
		return nil, fmt.Errorf("minibatches: %v transitions are not "+
			"divisible into %v minibatches", len(indices), n)
	}

	shuffled := append([]int(nil), indices...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	size := len(shuffled) / n
	batches := make([][]int, n)
	for i := range batches {
		batches[i] = shuffled[i*size : (i+1)*size]
	}
	return batches, nil
}
