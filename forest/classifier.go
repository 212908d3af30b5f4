package forest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// ClassifierConfig holds configurable hyperparameters for the
// presence/absence random forest. Zero values are replaced with defaults by
// NewClassifier.
type ClassifierConfig struct {
	// Trees is the ensemble size. Default 500.
	Trees int

	// MaxDepth limits tree depth. Default 12.
	MaxDepth int

	// MinLeaf is the minimum rows per leaf. Default 2.
	MinLeaf int

	// MaxFeatures is the number of predictors sampled per split. If zero,
	// sqrt of the predictor count is used at fit time.
	MaxFeatures int

	// Seed controls bootstrap sampling and feature subsampling. If zero,
	// NewClassifier leaves it zero and Fit derives per-tree seeds from it,
	// so a zero seed is still deterministic.
	Seed int64

	// Workers bounds the tree-fitting worker pool. Default NumCPU.
	Workers int
}

// Classifier is a random forest over binary presence labels. Its
// probability output is the mean leaf positive-class fraction across trees,
// which the threshold calibrator converts into a presence call.
type Classifier struct {
	Config      ClassifierConfig
	Trees       []*Tree
	Importance  []float64 // normalized impurity-decrease per feature
	NumFeatures int
}

// NewClassifier creates a classifier with defaults applied.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Trees == 0 {
		cfg.Trees = 500
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 12
	}
	if cfg.MinLeaf == 0 {
		cfg.MinLeaf = 2
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Classifier{Config: cfg}
}

// Fit trains the forest on a row-major feature matrix and binary labels.
// Trees are independent given their bootstrap sample, so they are fit on a
// bounded worker pool; per-tree seeds are precomputed serially from the
// config seed so results do not depend on goroutine scheduling.
func (c *Classifier) Fit(X [][]float64, y []bool) error {
	if len(X) == 0 {
		return errors.New("no training rows")
	}
	if len(y) != len(X) {
		return fmt.Errorf("labels length %d does not match rows %d", len(y), len(X))
	}

	n := len(X)
	p := len(X[0])
	c.NumFeatures = p

	maxFeatures := c.Config.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(p)))
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}
	cfg := treeConfig{
		maxDepth:    c.Config.MaxDepth,
		minLeaf:     c.Config.MinLeaf,
		maxFeatures: maxFeatures,
		classify:    true,
	}

	yf := make([]float64, n)
	for i, v := range y {
		if v {
			yf[i] = 1
		}
	}

	// Precompute independent seeds serially.
	seeder := rand.New(rand.NewSource(c.Config.Seed))
	seeds := make([]int64, c.Config.Trees)
	for i := range seeds {
		seeds[i] = seeder.Int63()
	}

	c.Trees = make([]*Tree, c.Config.Trees)
	perTreeImp := make([][]float64, c.Config.Trees)

	workers := c.Config.Workers
	if workers > c.Config.Trees {
		workers = c.Config.Trees
	}
	jobs := make(chan int, c.Config.Trees)
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for t := range jobs {
				rng := rand.New(rand.NewSource(seeds[t]))
				sample := make([]int, n)
				for i := range sample {
					sample[i] = rng.Intn(n)
				}
				imp := make([]float64, p)
				c.Trees[t] = &Tree{Root: growTree(X, yf, sample, cfg, rng, imp)}
				perTreeImp[t] = imp
			}
		}()
	}
	for t := 0; t < c.Config.Trees; t++ {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	c.Importance = averageImportances(perTreeImp, p)
	return nil
}

// PredictProb returns the presence probability for one predictor vector.
func (c *Classifier) PredictProb(x []float64) (float64, error) {
	if len(c.Trees) == 0 {
		return 0, errors.New("classifier is not fitted")
	}
	if len(x) != c.NumFeatures {
		return 0, fmt.Errorf("input has %d features, expected %d", len(x), c.NumFeatures)
	}
	var sum float64
	for _, t := range c.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(c.Trees)), nil
}

// PredictProbBatch returns presence probabilities for a batch of rows.
func (c *Classifier) PredictProbBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		p, err := c.PredictProb(x)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// averageImportances sums per-tree impurity decreases and normalizes to
// unit sum. All-zero importances (single-leaf trees everywhere) come back
// as zeros rather than NaN.
func averageImportances(perTree [][]float64, p int) []float64 {
	total := make([]float64, p)
	for _, imp := range perTree {
		for j, v := range imp {
			total[j] += v
		}
	}
	var sum float64
	for _, v := range total {
		sum += v
	}
	if sum > 0 {
		for j := range total {
			total[j] /= sum
		}
	}
	return total
}
