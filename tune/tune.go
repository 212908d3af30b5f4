// Package tune searches hyperparameter space for the foliar models with a
// randomized two-phase procedure: a batch of uniform draws over the
// bounded ranges (init points), then guided draws sampled around
// incumbents chosen with probability proportional to their score. Draws
// are independent and idempotent, so they run on a bounded worker pool; a
// failed draw is logged and skipped without cancelling the others.
package tune

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// Param is one bounded hyperparameter dimension.
type Param struct {
	Name    string
	Min     float64
	Max     float64
	Integer bool
}

// Config holds the search settings. Zero values are replaced with defaults
// by Search.
type Config struct {
	// InitPoints is the number of uniform exploratory draws. Default 5.
	InitPoints int

	// NIter is the number of guided draws after the init phase. Default 25.
	NIter int

	// Workers bounds the evaluation pool. Default NumCPU.
	Workers int

	// Seed controls all sampling.
	Seed int64

	// Sigma scales the guided-phase jitter as a fraction of each
	// parameter's range. Default 0.15.
	Sigma float64
}

// Score is one evaluated draw.
type Score struct {
	Params map[string]float64
	Value  float64
}

// Evaluator scores one hyperparameter vector; for the foliar models this
// is inner-CV AUC. It must be safe for concurrent calls.
type Evaluator func(params map[string]float64) (float64, error)

// Search runs the two-phase search and returns all successful draws sorted
// best-first. At least one draw must succeed or an error is returned.
func Search(cfg Config, space []Param, eval Evaluator) ([]Score, error) {
	if len(space) == 0 {
		return nil, errors.New("empty parameter space")
	}
	for _, p := range space {
		if p.Max <= p.Min {
			return nil, fmt.Errorf("parameter %s has empty range [%g, %g]", p.Name, p.Min, p.Max)
		}
	}
	if cfg.InitPoints == 0 {
		cfg.InitPoints = 5
	}
	if cfg.NIter == 0 {
		cfg.NIter = 25
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Sigma == 0 {
		cfg.Sigma = 0.15
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	// Phase 1: uniform exploration.
	draws := make([]map[string]float64, cfg.InitPoints)
	for i := range draws {
		draws[i] = uniformDraw(space, rng)
	}
	scores := evaluateBatch(cfg, draws, eval)
	if len(scores) == 0 {
		return nil, errors.New("every init-phase evaluation failed")
	}

	// Phase 2: guided draws. Each batch samples an incumbent weighted by
	// score and jitters it; batches are sized to the worker pool so the
	// incumbent set refreshes as results arrive.
	remaining := cfg.NIter
	for remaining > 0 {
		batch := cfg.Workers
		if batch > remaining {
			batch = remaining
		}
		draws = draws[:0]
		for i := 0; i < batch; i++ {
			base := sampleIncumbent(scores, rng)
			draws = append(draws, jitterDraw(space, base, cfg.Sigma, rng))
		}
		scores = append(scores, evaluateBatch(cfg, draws, eval)...)
		remaining -= batch
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Value > scores[j].Value
	})
	return scores, nil
}

// Best returns the top draw of a completed search.
func Best(scores []Score) (Score, error) {
	if len(scores) == 0 {
		return Score{}, errors.New("no successful draws")
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Value > best.Value {
			best = s
		}
	}
	return best, nil
}

// evaluateBatch scores a batch of draws on the worker pool. Seeds are not
// needed here (draws are fixed before dispatch), but result order is kept
// stable by writing into preallocated slots.
func evaluateBatch(cfg Config, draws []map[string]float64, eval Evaluator) []Score {
	n := len(draws)
	results := make([]*Score, n)

	workers := cfg.Workers
	if workers > n {
		workers = n
	}
	jobs := make(chan int, n)
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				value, err := eval(draws[i])
				if err != nil {
					log.Printf("[Tune] draw %v failed: %v", draws[i], err)
					continue
				}
				if math.IsNaN(value) {
					log.Printf("[Tune] draw %v produced NaN score, skipping", draws[i])
					continue
				}
				results[i] = &Score{Params: draws[i], Value: value}
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := make([]Score, 0, n)
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// uniformDraw samples each dimension uniformly over its range.
func uniformDraw(space []Param, rng *rand.Rand) map[string]float64 {
	draw := make(map[string]float64, len(space))
	for _, p := range space {
		v := p.Min + rng.Float64()*(p.Max-p.Min)
		if p.Integer {
			v = math.Round(v)
		}
		draw[p.Name] = v
	}
	return draw
}

// sampleIncumbent picks a previous draw with probability proportional to
// its score (scores shifted to be positive), so better draws seed more of
// the guided phase without starving the rest.
func sampleIncumbent(scores []Score, rng *rand.Rand) map[string]float64 {
	minV := scores[0].Value
	for _, s := range scores[1:] {
		if s.Value < minV {
			minV = s.Value
		}
	}
	eps := 1e-6
	var total float64
	for _, s := range scores {
		total += s.Value - minV + eps
	}

	target := rng.Float64() * total
	acc := 0.0
	for _, s := range scores {
		acc += s.Value - minV + eps
		if target <= acc {
			return s.Params
		}
	}
	return scores[len(scores)-1].Params
}

// jitterDraw perturbs a base draw with Gaussian noise scaled to sigma
// times each range, clamped back inside the bounds.
func jitterDraw(space []Param, base map[string]float64, sigma float64, rng *rand.Rand) map[string]float64 {
	draw := make(map[string]float64, len(space))
	for _, p := range space {
		span := p.Max - p.Min
		v := base[p.Name] + rng.NormFloat64()*sigma*span
		if v < p.Min {
			v = p.Min
		}
		if v > p.Max {
			v = p.Max
		}
		if p.Integer {
			v = math.Round(v)
		}
		draw[p.Name] = v
	}
	return draw
}
