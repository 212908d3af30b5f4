package metrics

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAUCPerfectAndReversed(t *testing.T) {
	probs := []float64{0.1, 0.2, 0.8, 0.9}
	labels := []bool{false, false, true, true}
	if auc := AUC(probs, labels); auc != 1 {
		t.Fatalf("expected AUC 1 for perfect ranking, got %.4f", auc)
	}

	reversed := []bool{true, true, false, false}
	if auc := AUC(probs, reversed); auc != 0 {
		t.Fatalf("expected AUC 0 for reversed ranking, got %.4f", auc)
	}
}

func TestAUCTiesAndDegenerate(t *testing.T) {
	// All probabilities equal: midranks give AUC 0.5 exactly.
	probs := []float64{0.4, 0.4, 0.4, 0.4}
	labels := []bool{true, false, true, false}
	if auc := AUC(probs, labels); auc != 0.5 {
		t.Fatalf("expected AUC 0.5 under complete ties, got %.4f", auc)
	}

	if auc := AUC(probs, []bool{true, true, true, true}); !math.IsNaN(auc) {
		t.Fatalf("expected NaN AUC for single-class labels, got %.4f", auc)
	}
}

func TestConfusionRates(t *testing.T) {
	calls := []bool{true, true, false, false, true}
	labels := []bool{true, false, false, true, true}
	c := NewConfusion(calls, labels)
	if c.TP != 2 || c.FP != 1 || c.TN != 1 || c.FN != 1 {
		t.Fatalf("unexpected confusion: %+v", c)
	}
	if acc := c.Accuracy(); acc != 0.6 {
		t.Fatalf("expected accuracy 0.6, got %.4f", acc)
	}
	if sens := c.Sensitivity(); math.Abs(sens-2.0/3.0) > 1e-12 {
		t.Fatalf("expected sensitivity 2/3, got %.4f", sens)
	}
	if spec := c.Specificity(); spec != 0.5 {
		t.Fatalf("expected specificity 0.5, got %.4f", spec)
	}
}

func TestRegressionMetrics(t *testing.T) {
	obs := []float64{10, 20, 30, 40}
	pred := []float64{12, 18, 33, 37}

	if r2 := RSquared(obs, obs); r2 != 1 {
		t.Fatalf("expected R2 1 for identical series, got %.4f", r2)
	}
	r2 := RSquared(obs, pred)
	if r2 <= 0.9 || r2 >= 1 {
		t.Fatalf("expected R2 in (0.9, 1) for near predictions, got %.4f", r2)
	}

	rmse := RMSE(obs, pred)
	want := math.Sqrt((4.0 + 4 + 9 + 9) / 4)
	if math.Abs(rmse-want) > 1e-12 {
		t.Fatalf("expected RMSE %.6f, got %.6f", want, rmse)
	}

	mae := MAE(obs, pred)
	if math.Abs(mae-2.5) > 1e-12 {
		t.Fatalf("expected MAE 2.5, got %.6f", mae)
	}
}

func TestROCPointsMonotonic(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2}
	labels := []bool{true, true, false, true, false, false, true, false}
	pts := ROCPoints(probs, labels)

	if pts[0].X != 0 || pts[0].Y != 0 {
		t.Fatalf("ROC must start at origin, got (%.2f, %.2f)", pts[0].X, pts[0].Y)
	}
	last := pts[len(pts)-1]
	if last.X != 1 || last.Y != 1 {
		t.Fatalf("ROC must end at (1,1), got (%.2f, %.2f)", last.X, last.Y)
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].X < pts[i-1].X || pts[i].Y < pts[i-1].Y {
			t.Fatalf("ROC not monotonic at point %d", i)
		}
	}
}

func TestWriteScalarAndCSVs(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "auc.txt")
	if err := WriteScalar(path, 0.875); err != nil {
		t.Fatalf("WriteScalar error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read scalar file: %v", err)
	}
	if strings.TrimSpace(string(data)) != "0.875000" {
		t.Fatalf("unexpected scalar content %q", data)
	}

	rows := []RowResult{
		{SiteVisit: "s1", Block: "b1", OuterFold: 0, Present: 1, ObservedCov: 12.5, PredProb: 0.8, PredCover: 10.2, Distribution: 1, Composite: 10.2},
		{SiteVisit: "s2", Block: "b2", OuterFold: 1, Present: 0, ObservedCov: 0, PredProb: 0.1, PredCover: 3.0, Distribution: 0, Composite: 0},
	}
	csvPath := filepath.Join(dir, "results.csv")
	if err := WriteRows(csvPath, rows); err != nil {
		t.Fatalf("WriteRows error: %v", err)
	}
	content, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read results CSV: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "site_visit_id") || !strings.Contains(text, "outer_split_n") {
		t.Fatalf("results CSV missing expected headers:\n%s", text)
	}
	if !strings.Contains(text, "s1") || !strings.Contains(text, "s2") {
		t.Fatalf("results CSV missing rows:\n%s", text)
	}

	imps := []FoldImportance{
		{OuterFold: 0, Component: "classifier", Feature: "ndvi", Importance: 0.4},
	}
	impPath := filepath.Join(dir, "importances.csv")
	if err := WriteImportances(impPath, imps); err != nil {
		t.Fatalf("WriteImportances error: %v", err)
	}
	content, err = os.ReadFile(impPath)
	if err != nil {
		t.Fatalf("read importance CSV: %v", err)
	}
	if !strings.Contains(string(content), "ndvi") {
		t.Fatalf("importance CSV missing feature row:\n%s", content)
	}
}

func TestPlotROCWritesFile(t *testing.T) {
	dir := t.TempDir()
	probs := []float64{0.9, 0.7, 0.4, 0.2}
	labels := []bool{true, true, false, false}
	if err := PlotROC(dir, probs, labels, 0.5); err != nil {
		t.Fatalf("PlotROC error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "roc_pooled.png")); err != nil {
		t.Fatalf("ROC plot not written: %v", err)
	}
}
