// Package folds assigns observations to stratified grouped k-folds for
// spatial cross-validation. All rows sharing a spatial block id land in the
// same fold, so spatially autocorrelated sites never straddle a train/test
// boundary; subject to that constraint, presence prevalence is balanced
// across folds as evenly as greedy packing allows.
package folds

import (
	"fmt"
	"math/rand"
	"sort"
)

// group aggregates the rows of one spatial block.
type group struct {
	id        string
	rows      []int
	positives int
}

// Assign partitions len(present) rows into k folds and returns the fold
// index per row.
//
// Contract:
//   - deterministic given the same seed and input ordering
//   - every row assigned exactly one fold in [0, k)
//   - no block id appears in more than one fold
//   - folds approximately balanced in size and presence count; a block
//     larger than a balanced fold share degrades balance, never grouping
//
// Assignment is greedy: blocks are ordered by positive count then size
// (largest first, ties shuffled by the seed), and each block goes to the
// fold whose resulting (positives, size) load is smallest. This is the
// standard bin-packing approach to group-constrained stratification; exact
// balance is not generally achievable once blocks are indivisible.
func Assign(present []bool, blocks []string, k int, seed int64) ([]int, error) {
	n := len(present)
	if n == 0 {
		return nil, fmt.Errorf("no rows to assign")
	}
	if len(blocks) != n {
		return nil, fmt.Errorf("blocks length %d does not match rows %d", len(blocks), n)
	}
	if k < 2 {
		return nil, fmt.Errorf("k must be >= 2, got %d", k)
	}

	byID := make(map[string]*group)
	var order []string
	for i, id := range blocks {
		if id == "" {
			return nil, fmt.Errorf("row %d has empty block id", i)
		}
		g, ok := byID[id]
		if !ok {
			g = &group{id: id}
			byID[id] = g
			order = append(order, id)
		}
		g.rows = append(g.rows, i)
		if present[i] {
			g.positives++
		}
	}
	if len(order) < k {
		return nil, fmt.Errorf("cannot make %d folds from %d blocks", k, len(order))
	}

	groups := make([]*group, 0, len(order))
	for _, id := range order {
		groups = append(groups, byID[id])
	}

	// Shuffle first so ties in the sort below break by seed, not by input
	// order; the sort itself is stable.
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(groups), func(i, j int) {
		groups[i], groups[j] = groups[j], groups[i]
	})
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].positives != groups[j].positives {
			return groups[i].positives > groups[j].positives
		}
		return len(groups[i].rows) > len(groups[j].rows)
	})

	foldSize := make([]int, k)
	foldPos := make([]int, k)
	assignment := make([]int, n)

	for _, g := range groups {
		best := 0
		for f := 1; f < k; f++ {
			if foldPos[f] < foldPos[best] ||
				(foldPos[f] == foldPos[best] && foldSize[f] < foldSize[best]) {
				best = f
			}
		}
		foldSize[best] += len(g.rows)
		foldPos[best] += g.positives
		for _, row := range g.rows {
			assignment[row] = best
		}
	}

	return assignment, nil
}

// Partition splits row indices into the test set of fold f and its training
// complement, given an assignment from Assign. Indices come back in input
// order.
func Partition(assignment []int, f int) (train, test []int) {
	for i, fold := range assignment {
		if fold == f {
			test = append(test, i)
		} else {
			train = append(train, i)
		}
	}
	return train, test
}
