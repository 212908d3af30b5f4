package forest

import (
	"errors"
	"fmt"
	"math/rand"
)

// RegressorConfig holds configurable hyperparameters for the
// gradient-boosted cover regressor. Zero values are replaced with defaults
// by NewRegressor.
type RegressorConfig struct {
	// Stages is the number of boosting rounds. Default 300.
	Stages int

	// LearningRate shrinks each stage's contribution. Default 0.05.
	LearningRate float64

	// MaxDepth limits stage-tree depth. Default 5.
	MaxDepth int

	// MinLeaf is the minimum rows per leaf. Default 5.
	MinLeaf int

	// Subsample is the row fraction drawn (without replacement) per stage.
	// Default 0.8.
	Subsample float64

	// Seed controls stage subsampling.
	Seed int64
}

// Regressor predicts percent foliar cover with squared-error gradient
// boosting: stage trees fit the running residuals and are shrunk by the
// learning rate. Stages are inherently sequential, so unlike the forest
// classifier there is no fitting worker pool here.
type Regressor struct {
	Config      RegressorConfig
	Base        float64 // initial prediction: training mean
	Trees       []*Tree
	Importance  []float64
	NumFeatures int
}

// NewRegressor creates a regressor with defaults applied.
func NewRegressor(cfg RegressorConfig) *Regressor {
	if cfg.Stages == 0 {
		cfg.Stages = 300
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 5
	}
	if cfg.MinLeaf == 0 {
		cfg.MinLeaf = 5
	}
	if cfg.Subsample == 0 {
		cfg.Subsample = 0.8
	}
	return &Regressor{Config: cfg}
}

// Fit trains the boosted ensemble on a row-major feature matrix and
// continuous targets.
func (r *Regressor) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return errors.New("no training rows")
	}
	if len(y) != len(X) {
		return fmt.Errorf("targets length %d does not match rows %d", len(y), len(X))
	}

	n := len(X)
	p := len(X[0])
	r.NumFeatures = p

	cfg := treeConfig{
		maxDepth: r.Config.MaxDepth,
		minLeaf:  r.Config.MinLeaf,
		classify: false,
	}

	var sum float64
	for _, v := range y {
		sum += v
	}
	r.Base = sum / float64(n)

	// running predictions and residuals
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = r.Base
	}
	resid := make([]float64, n)

	rng := rand.New(rand.NewSource(r.Config.Seed))
	imp := make([]float64, p)
	r.Trees = make([]*Tree, 0, r.Config.Stages)

	sampleSize := int(r.Config.Subsample * float64(n))
	if sampleSize < 1 {
		sampleSize = 1
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	for stage := 0; stage < r.Config.Stages; stage++ {
		for i := range resid {
			resid[i] = y[i] - pred[i]
		}

		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		sample := make([]int, sampleSize)
		copy(sample, perm[:sampleSize])

		tree := &Tree{Root: growTree(X, resid, sample, cfg, rng, imp)}
		r.Trees = append(r.Trees, tree)

		lr := r.Config.LearningRate
		for i := range pred {
			pred[i] += lr * tree.Predict(X[i])
		}
	}

	r.Importance = averageImportances([][]float64{imp}, p)
	return nil
}

// Predict returns the cover prediction for one predictor vector.
func (r *Regressor) Predict(x []float64) (float64, error) {
	if len(r.Trees) == 0 {
		return 0, errors.New("regressor is not fitted")
	}
	if len(x) != r.NumFeatures {
		return 0, fmt.Errorf("input has %d features, expected %d", len(x), r.NumFeatures)
	}
	out := r.Base
	for _, t := range r.Trees {
		out += r.Config.LearningRate * t.Predict(x)
	}
	return out, nil
}

// PredictBatch returns cover predictions for a batch of rows.
func (r *Regressor) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		v, err := r.Predict(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
