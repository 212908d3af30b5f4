package calibrate

import (
	"math/rand"
	"testing"
)

func TestYoudenSeparatedClasses(t *testing.T) {
	// Perfectly separated probabilities: any threshold in (0.4, 0.6] gives
	// J = 1; the sweep must land inside that interval and report perfect
	// sensitivity/specificity.
	probs := []float64{0.1, 0.2, 0.3, 0.4, 0.6, 0.7, 0.8, 0.9}
	labels := []bool{false, false, false, false, true, true, true, true}

	res, err := Youden(probs, labels, -1)
	if err != nil {
		t.Fatalf("Youden returned error: %v", err)
	}
	if res.Degenerate {
		t.Fatal("two-class pool flagged degenerate")
	}
	if res.Threshold <= 0.4 || res.Threshold > 0.6 {
		t.Fatalf("threshold %.3f outside separating interval (0.4, 0.6]", res.Threshold)
	}
	if res.Sensitivity != 1 || res.Specificity != 1 {
		t.Fatalf("expected perfect operating point, got sens=%.3f spec=%.3f", res.Sensitivity, res.Specificity)
	}
	if res.Accuracy != 1 {
		t.Fatalf("expected accuracy 1, got %.3f", res.Accuracy)
	}
	if res.AUC != 1 {
		t.Fatalf("expected AUC 1, got %.3f", res.AUC)
	}
}

func TestYoudenMaximizesJ(t *testing.T) {
	// Noisy overlap: verify the returned threshold's J is >= J at every
	// candidate threshold tested over a fine sweep.
	rng := rand.New(rand.NewSource(3))
	n := 400
	probs := make([]float64, n)
	labels := make([]bool, n)
	for i := range probs {
		labels[i] = i%3 == 0
		if labels[i] {
			probs[i] = clamp01(0.6 + rng.NormFloat64()*0.2)
		} else {
			probs[i] = clamp01(0.35 + rng.NormFloat64()*0.2)
		}
	}

	res, err := Youden(probs, labels, -1)
	if err != nil {
		t.Fatalf("Youden returned error: %v", err)
	}
	if res.Threshold < 0 || res.Threshold > 1 {
		t.Fatalf("threshold %.3f outside [0, 1]", res.Threshold)
	}

	var pos, neg int
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	bestJ := res.Sensitivity + res.Specificity - 1
	for th := 0.0; th <= 1.0; th += 0.001 {
		sens, spec := sensSpecAt(probs, labels, th, pos, neg)
		if j := sens + spec - 1; j > bestJ+1e-12 {
			t.Fatalf("candidate threshold %.3f has J=%.4f > selected J=%.4f", th, j, bestJ)
		}
	}
}

func TestYoudenTieBreaksFirst(t *testing.T) {
	// Two thresholds achieve the same J; the lower one must win.
	probs := []float64{0.2, 0.4, 0.6, 0.8}
	labels := []bool{false, true, false, true}
	res, err := Youden(probs, labels, -1)
	if err != nil {
		t.Fatalf("Youden returned error: %v", err)
	}
	// J at 0.4 and 0.8 is both 0.5; ascending sweep keeps 0.4.
	if res.Threshold != 0.4 {
		t.Fatalf("expected tie to keep threshold 0.4, got %.3f", res.Threshold)
	}
}

func TestYoudenDegeneratePool(t *testing.T) {
	probs := []float64{0.2, 0.4, 0.9}
	labels := []bool{true, true, true}

	res, err := Youden(probs, labels, -1)
	if err != nil {
		t.Fatalf("Youden returned error: %v", err)
	}
	if !res.Degenerate {
		t.Fatal("single-class pool not flagged degenerate")
	}
	if res.Threshold != DefaultThreshold {
		t.Fatalf("expected fallback threshold %.2f, got %.3f", DefaultThreshold, res.Threshold)
	}

	res, err = Youden(probs, labels, 0.37)
	if err != nil {
		t.Fatalf("Youden returned error: %v", err)
	}
	if res.Threshold != 0.37 {
		t.Fatalf("expected explicit fallback 0.37, got %.3f", res.Threshold)
	}
}

func TestYoudenErrors(t *testing.T) {
	if _, err := Youden(nil, nil, -1); err == nil {
		t.Fatal("expected error for empty pool")
	}
	if _, err := Youden([]float64{0.5}, []bool{true, false}, -1); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
	if _, err := Youden([]float64{1.5}, []bool{true}, -1); err == nil {
		t.Fatal("expected error for probability outside [0, 1]")
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
