package covariates

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// IndexSpec describes one derived spectral index: a normalized difference
// (a - b) / (a + b) between two reflectance predictor columns. NDVI, NDMI
// and friends all take this form; the band columns must already be loaded
// as predictors.
type IndexSpec struct {
	Name  string `json:"name"`
	BandA string `json:"band_a"`
	BandB string `json:"band_b"`
}

// DeriveIndices computes each spec's normalized difference per row and
// appends it as a new predictor column. A zero denominator yields 0 for
// that row (flat water or shadow pixels produce paired zero reflectances in
// the compositing step upstream).
func (t *Table) DeriveIndices(specs []IndexSpec) error {
	for _, spec := range specs {
		name := strings.TrimSpace(strings.ToLower(spec.Name))
		if name == "" {
			return fmt.Errorf("derived index has empty name")
		}
		ia, err := t.predictorIndex(spec.BandA)
		if err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
		ib, err := t.predictorIndex(spec.BandB)
		if err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
		if _, err := t.predictorIndex(name); err == nil {
			return fmt.Errorf("derived index %s collides with an existing predictor", name)
		}

		for i := range t.Rows {
			a := t.Rows[i].Values[ia]
			b := t.Rows[i].Values[ib]
			var nd float64
			if denom := a + b; denom != 0 {
				nd = (a - b) / denom
			}
			t.Rows[i].Values = append(t.Rows[i].Values, nd)
		}
		t.Predictors = append(t.Predictors, name)
	}
	return nil
}

func (t *Table) predictorIndex(name string) (int, error) {
	key := strings.TrimSpace(strings.ToLower(name))
	for i, p := range t.Predictors {
		if p == key {
			return i, nil
		}
	}
	return 0, fmt.Errorf("predictor column %q not loaded", name)
}

// CorrelatedPair reports two predictors whose absolute Pearson correlation
// over the table meets the screening cutoff.
type CorrelatedPair struct {
	A, B string
	R    float64
}

// ScreenCorrelated computes pairwise Pearson correlations across predictors
// and returns the pairs at or above the cutoff, strongest first among equal
// indices in column order. The caller decides whether to drop columns; the
// screen itself only reports.
func (t *Table) ScreenCorrelated(cutoff float64) ([]CorrelatedPair, error) {
	if cutoff <= 0 || cutoff > 1 {
		return nil, fmt.Errorf("correlation cutoff must be in (0, 1], got %g", cutoff)
	}
	n := len(t.Rows)
	if n < 3 {
		return nil, fmt.Errorf("need at least 3 observations to screen correlations, have %d", n)
	}

	// column-major copies once, rather than re-striding per pair
	cols := make([][]float64, len(t.Predictors))
	for j := range t.Predictors {
		col := make([]float64, n)
		for i := range t.Rows {
			col[i] = t.Rows[i].Values[j]
		}
		cols[j] = col
	}

	var pairs []CorrelatedPair
	for a := 0; a < len(cols); a++ {
		for b := a + 1; b < len(cols); b++ {
			r := stat.Correlation(cols[a], cols[b], nil)
			if math.IsNaN(r) {
				// constant column; skip rather than report spurious pairs
				continue
			}
			if math.Abs(r) >= cutoff {
				pairs = append(pairs, CorrelatedPair{A: t.Predictors[a], B: t.Predictors[b], R: r})
			}
		}
	}
	return pairs, nil
}
