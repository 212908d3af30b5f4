// Package forest implements the tree models used for foliar cover mapping:
// a random-forest presence classifier and a gradient-boosted cover
// regressor, both built on a shared CART splitter. The models are
// implemented in-package rather than on an external ML framework so
// training is deterministic under a fixed seed, class probabilities and
// per-feature importances are directly available to the threshold
// calibrator and the reporting layer, and tests run quickly without native
// backends. Trained trees can be dumped to a plain-text node listing for
// the external raster rule engine (see export.go).
package forest

import (
	"math"
	"math/rand"
)

// Node is one decision node. Exported fields keep the tree gob-encodable
// for model bundles.
type Node struct {
	Leaf      bool
	Feature   int
	Threshold float64
	N         int
	Impurity  float64
	Value     float64
	Left      *Node
	Right     *Node
}

// Tree is a single CART tree over a row-major feature matrix.
type Tree struct {
	Root *Node
}

// treeConfig carries the splitter settings shared by both models.
type treeConfig struct {
	maxDepth    int
	minLeaf     int
	maxFeatures int // features sampled per split; 0 = all
	classify    bool
}

// growTree builds a tree over the rows in idx. When importances is non-nil
// the weighted impurity decrease of every accepted split is accumulated
// into it, indexed by feature.
func growTree(X [][]float64, y []float64, idx []int, cfg treeConfig, rng *rand.Rand, importances []float64) *Node {
	return grow(X, y, idx, cfg, rng, importances, 0)
}

func grow(X [][]float64, y []float64, idx []int, cfg treeConfig, rng *rand.Rand, importances []float64, depth int) *Node {
	imp, val := impurityValue(y, idx, cfg.classify)
	node := &Node{N: len(idx), Impurity: imp, Value: val, Leaf: true}

	if depth >= cfg.maxDepth || len(idx) < 2*cfg.minLeaf || imp == 0 {
		return node
	}

	feature, threshold, gain := bestSplit(X, y, idx, cfg, rng)
	if gain <= 0 {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < cfg.minLeaf || len(right) < cfg.minLeaf {
		return node
	}

	if importances != nil {
		importances[feature] += gain * float64(len(idx))
	}

	node.Leaf = false
	node.Feature = feature
	node.Threshold = threshold
	node.Left = grow(X, y, left, cfg, rng, importances, depth+1)
	node.Right = grow(X, y, right, cfg, rng, importances, depth+1)
	return node
}

// impurityValue computes the node impurity and node value: positive-class
// fraction under gini for classification, mean under variance for
// regression.
func impurityValue(y []float64, idx []int, classify bool) (float64, float64) {
	n := float64(len(idx))
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, i := range idx {
		sum += y[i]
		sumSq += y[i] * y[i]
	}
	mean := sum / n
	if classify {
		p := mean
		return 1 - p*p - (1-p)*(1-p), p
	}
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return variance, mean
}

// bestSplit scans candidate features for the split with the largest
// impurity decrease. Features are sampled without replacement when
// maxFeatures is set; each feature is scanned at midpoints between distinct
// sorted values with prefix sums so the scan is a single pass.
func bestSplit(X [][]float64, y []float64, idx []int, cfg treeConfig, rng *rand.Rand) (feature int, threshold, gain float64) {
	p := len(X[idx[0]])
	candidates := make([]int, p)
	for j := range candidates {
		candidates[j] = j
	}
	m := cfg.maxFeatures
	if m <= 0 || m > p {
		m = p
	}
	if m < p {
		rng.Shuffle(p, func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		candidates = candidates[:m]
	}

	parentImp, _ := impurityValue(y, idx, cfg.classify)
	n := len(idx)
	nf := float64(n)

	feature = -1
	gain = 0

	sorted := make([]int, n)
	for _, j := range candidates {
		copy(sorted, idx)
		sortByFeature(X, sorted, j)

		var leftSum, leftSq float64
		var totalSum, totalSq float64
		for _, i := range sorted {
			totalSum += y[i]
			totalSq += y[i] * y[i]
		}

		for split := 1; split < n; split++ {
			yi := y[sorted[split-1]]
			leftSum += yi
			leftSq += yi * yi

			// split only between distinct values
			a := X[sorted[split-1]][j]
			b := X[sorted[split]][j]
			if a == b {
				continue
			}
			if split < cfg.minLeaf || n-split < cfg.minLeaf {
				continue
			}

			nl := float64(split)
			nr := nf - nl
			leftImp := childImpurity(leftSum, leftSq, nl, cfg.classify)
			rightImp := childImpurity(totalSum-leftSum, totalSq-leftSq, nr, cfg.classify)
			g := parentImp - (nl/nf)*leftImp - (nr/nf)*rightImp
			if g > gain {
				gain = g
				feature = j
				threshold = (a + b) / 2
			}
		}
	}

	if feature < 0 {
		return 0, 0, 0
	}
	return feature, threshold, gain
}

func childImpurity(sum, sumSq, n float64, classify bool) float64 {
	mean := sum / n
	if classify {
		return 1 - mean*mean - (1-mean)*(1-mean)
	}
	v := sumSq/n - mean*mean
	if v < 0 {
		v = 0
	}
	return v
}

// sortByFeature sorts row indices ascending by one feature column using an
// insertion-friendly shellsort; node index sets are small once a few splits
// in, and this avoids a closure allocation per sort.Slice call in the hot
// path.
func sortByFeature(X [][]float64, idx []int, j int) {
	n := len(idx)
	gap := 1
	for gap < n/3 {
		gap = gap*3 + 1
	}
	for ; gap >= 1; gap /= 3 {
		for i := gap; i < n; i++ {
			v := idx[i]
			key := X[v][j]
			k := i
			for k >= gap && X[idx[k-gap]][j] > key {
				idx[k] = idx[k-gap]
				k -= gap
			}
			idx[k] = v
		}
	}
}

// Predict returns the leaf value reached by x: the positive-class fraction
// for classification trees, the mean response for regression trees.
func (t *Tree) Predict(x []float64) float64 {
	node := t.Root
	for node != nil && !node.Leaf {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	if node == nil {
		return math.NaN()
	}
	return node.Value
}
