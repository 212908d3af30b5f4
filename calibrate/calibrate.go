// Package calibrate selects the presence-probability cutoff for one outer
// fold from the pooled out-of-fold predictions of its inner loop. The
// operating point maximizes Youden's J (sensitivity + specificity - 1); the
// inner pool never contains outer-test rows, so the cutoff is chosen
// without leaking test data.
package calibrate

import (
	"fmt"
	"sort"

	"github.com/veglab/foliar/metrics"
)

// DefaultThreshold is the fallback cutoff applied when calibration is
// undefined because the pooled inner predictions contain a single class.
const DefaultThreshold = 0.5

// Result is the calibrated operating point plus the statistics achieved at
// it. The statistics are informational; only Threshold feeds the outer
// evaluation.
type Result struct {
	Threshold   float64
	Sensitivity float64
	Specificity float64
	Accuracy    float64
	AUC         float64

	// Degenerate marks a single-class inner pool, where Youden's J is
	// undefined and Threshold is the fallback instead of a calibrated
	// value.
	Degenerate bool
}

// Youden sweeps candidate thresholds over the pooled probabilities and
// returns the one maximizing sensitivity + specificity - 1. Candidates are
// 0, 1 and every distinct predicted probability, swept in ascending order;
// ties keep the first (lowest) threshold. fallback is used for a
// single-class pool; pass a negative fallback to use DefaultThreshold.
func Youden(probs []float64, labels []bool, fallback float64) (Result, error) {
	if len(probs) == 0 {
		return Result{}, fmt.Errorf("no pooled predictions to calibrate on")
	}
	if len(probs) != len(labels) {
		return Result{}, fmt.Errorf("probs length %d does not match labels %d", len(probs), len(labels))
	}
	for i, p := range probs {
		if p < 0 || p > 1 {
			return Result{}, fmt.Errorf("probability %g at row %d outside [0, 1]", p, i)
		}
	}
	if fallback < 0 {
		fallback = DefaultThreshold
	}

	var pos, neg int
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return Result{Threshold: fallback, Degenerate: true}, nil
	}

	candidates := make([]float64, 0, len(probs)+2)
	candidates = append(candidates, 0, 1)
	candidates = append(candidates, probs...)
	sort.Float64s(candidates)
	candidates = dedupe(candidates)

	best := Result{Threshold: candidates[0], Sensitivity: -1}
	bestJ := -2.0
	for _, th := range candidates {
		sens, spec := sensSpecAt(probs, labels, th, pos, neg)
		j := sens + spec - 1
		if j > bestJ {
			bestJ = j
			best.Threshold = th
			best.Sensitivity = sens
			best.Specificity = spec
		}
	}

	// achieved statistics at the chosen cutoff
	correct := 0
	for i, p := range probs {
		call := p >= best.Threshold
		if call == labels[i] {
			correct++
		}
	}
	best.Accuracy = float64(correct) / float64(len(probs))
	best.AUC = metrics.AUC(probs, labels)
	return best, nil
}

// sensSpecAt computes sensitivity and specificity for the call
// "prob >= threshold".
func sensSpecAt(probs []float64, labels []bool, threshold float64, pos, neg int) (float64, float64) {
	var tp, tn int
	for i, p := range probs {
		if p >= threshold {
			if labels[i] {
				tp++
			}
		} else {
			if !labels[i] {
				tn++
			}
		}
	}
	return float64(tp) / float64(pos), float64(tn) / float64(neg)
}

func dedupe(sorted []float64) []float64 {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
