// Package metrics computes the pooled evaluation statistics for a nested
// cross-validation run and writes the report artifacts: scalar text files
// per metric, the per-row results CSV, the per-fold feature importance CSV
// and the ROC curve plot.
package metrics

import (
	"math"
	"sort"
)

// AUC computes the area under the ROC curve from raw probabilities using
// the rank statistic (Mann-Whitney U), with midranks for tied
// probabilities. Returns NaN when either class is absent.
func AUC(probs []float64, labels []bool) float64 {
	n := len(probs)
	var pos, neg int
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return math.NaN()
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return probs[order[i]] < probs[order[j]]
	})

	// midranks over ties
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && probs[order[j]] == probs[order[i]] {
			j++
		}
		mid := float64(i+j+1) / 2 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			ranks[order[k]] = mid
		}
		i = j
	}

	var rankSum float64
	for i, l := range labels {
		if l {
			rankSum += ranks[i]
		}
	}
	u := rankSum - float64(pos)*float64(pos+1)/2
	return u / (float64(pos) * float64(neg))
}

// Confusion summarizes binary calls against true labels.
type Confusion struct {
	TP, TN, FP, FN int
}

// NewConfusion tallies calls against labels.
func NewConfusion(calls, labels []bool) Confusion {
	var c Confusion
	for i, call := range calls {
		switch {
		case call && labels[i]:
			c.TP++
		case call && !labels[i]:
			c.FP++
		case !call && labels[i]:
			c.FN++
		default:
			c.TN++
		}
	}
	return c
}

// Accuracy is the overall fraction of correct calls.
func (c Confusion) Accuracy() float64 {
	total := c.TP + c.TN + c.FP + c.FN
	if total == 0 {
		return math.NaN()
	}
	return float64(c.TP+c.TN) / float64(total)
}

// Sensitivity is the true-positive rate.
func (c Confusion) Sensitivity() float64 {
	if c.TP+c.FN == 0 {
		return math.NaN()
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// Specificity is the true-negative rate.
func (c Confusion) Specificity() float64 {
	if c.TN+c.FP == 0 {
		return math.NaN()
	}
	return float64(c.TN) / float64(c.TN+c.FP)
}

// RSquared is the coefficient of determination of pred against obs.
func RSquared(obs, pred []float64) float64 {
	if len(obs) == 0 || len(obs) != len(pred) {
		return math.NaN()
	}
	var mean float64
	for _, v := range obs {
		mean += v
	}
	mean /= float64(len(obs))

	var ssRes, ssTot float64
	for i := range obs {
		d := obs[i] - pred[i]
		ssRes += d * d
		t := obs[i] - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		return math.NaN()
	}
	return 1 - ssRes/ssTot
}

// RMSE is the root mean squared error of pred against obs.
func RMSE(obs, pred []float64) float64 {
	if len(obs) == 0 || len(obs) != len(pred) {
		return math.NaN()
	}
	var sum float64
	for i := range obs {
		d := obs[i] - pred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(obs)))
}

// MAE is the mean absolute error of pred against obs.
func MAE(obs, pred []float64) float64 {
	if len(obs) == 0 || len(obs) != len(pred) {
		return math.NaN()
	}
	var sum float64
	for i := range obs {
		sum += math.Abs(obs[i] - pred[i])
	}
	return sum / float64(len(obs))
}
