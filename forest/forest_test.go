package forest

import (
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
)

// syntheticClassification builds rows where the first feature separates
// the classes with noise and the remaining features are pure noise.
func syntheticClassification(n int, seed int64) ([][]float64, []bool) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]bool, n)
	for i := range X {
		y[i] = i%4 == 0
		signal := 0.0
		if y[i] {
			signal = 1.5
		}
		X[i] = []float64{
			signal + rng.NormFloat64()*0.5,
			rng.NormFloat64(),
			rng.NormFloat64(),
			rng.NormFloat64(),
		}
	}
	return X, y
}

func TestClassifierSeparatesSignal(t *testing.T) {
	X, y := syntheticClassification(400, 11)
	clf := NewClassifier(ClassifierConfig{Trees: 50, MaxDepth: 8, Seed: 1})
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("Fit error: %v", err)
	}

	probs, err := clf.PredictProbBatch(X)
	if err != nil {
		t.Fatalf("PredictProbBatch error: %v", err)
	}
	var posMean, negMean float64
	var pos, neg int
	for i, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("probability %.4f outside [0, 1]", p)
		}
		if y[i] {
			posMean += p
			pos++
		} else {
			negMean += p
			neg++
		}
	}
	posMean /= float64(pos)
	negMean /= float64(neg)
	if posMean <= negMean+0.2 {
		t.Fatalf("classifier did not learn signal: posMean=%.3f negMean=%.3f", posMean, negMean)
	}
}

func TestClassifierDeterministicUnderSeed(t *testing.T) {
	X, y := syntheticClassification(200, 5)

	fit := func() []float64 {
		clf := NewClassifier(ClassifierConfig{Trees: 20, MaxDepth: 6, Seed: 77, Workers: 4})
		if err := clf.Fit(X, y); err != nil {
			t.Fatalf("Fit error: %v", err)
		}
		probs, err := clf.PredictProbBatch(X[:20])
		if err != nil {
			t.Fatalf("PredictProbBatch error: %v", err)
		}
		return probs
	}

	p1 := fit()
	p2 := fit()
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("predictions differ at row %d under the same seed: %v vs %v", i, p1[i], p2[i])
		}
	}
}

func TestClassifierImportanceFindsSignalFeature(t *testing.T) {
	X, y := syntheticClassification(400, 23)
	clf := NewClassifier(ClassifierConfig{Trees: 50, MaxDepth: 8, MaxFeatures: 4, Seed: 2})
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("Fit error: %v", err)
	}

	imp := clf.Importance
	if len(imp) != 4 {
		t.Fatalf("expected 4 importances, got %d", len(imp))
	}
	var sum float64
	for _, v := range imp {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("importances sum to %.6f, expected 1", sum)
	}
	for j := 1; j < 4; j++ {
		if imp[0] <= imp[j] {
			t.Fatalf("signal feature importance %.4f not dominant over noise feature %d (%.4f)", imp[0], j, imp[j])
		}
	}
}

func TestRegressorBeatsMeanBaseline(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	n := 300
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		a := rng.Float64() * 10
		b := rng.Float64() * 10
		X[i] = []float64{a, b, rng.NormFloat64()}
		y[i] = 3*a + b + rng.NormFloat64()*0.5
	}

	reg := NewRegressor(RegressorConfig{Stages: 100, LearningRate: 0.1, MaxDepth: 4, Seed: 3})
	if err := reg.Fit(X, y); err != nil {
		t.Fatalf("Fit error: %v", err)
	}

	pred, err := reg.PredictBatch(X)
	if err != nil {
		t.Fatalf("PredictBatch error: %v", err)
	}

	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)

	var sseModel, sseMean float64
	for i := range y {
		d := y[i] - pred[i]
		sseModel += d * d
		m := y[i] - mean
		sseMean += m * m
	}
	if sseModel >= sseMean*0.2 {
		t.Fatalf("boosted regressor barely beats mean baseline: model SSE %.1f vs mean SSE %.1f", sseModel, sseMean)
	}
}

func TestExportTextFormat(t *testing.T) {
	X, y := syntheticClassification(100, 4)
	clf := NewClassifier(ClassifierConfig{Trees: 2, MaxDepth: 3, Seed: 6})
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("Fit error: %v", err)
	}

	var sb strings.Builder
	names := []string{"summer_warmth", "ndvi", "slope", "vv_backscatter"}
	if err := clf.ExportText(&sb, names); err != nil {
		t.Fatalf("ExportText error: %v", err)
	}
	dump := sb.String()

	if !strings.HasPrefix(dump, "tree 0\n") {
		t.Fatalf("dump missing tree header:\n%s", dump)
	}
	if !strings.Contains(dump, "tree 1\n") {
		t.Fatalf("dump missing second tree header:\n%s", dump)
	}
	if !strings.Contains(dump, "leaf = ") {
		t.Fatalf("dump missing leaf lines:\n%s", dump)
	}
	// every non-header line has the 7-field node format
	for _, line := range strings.Split(strings.TrimSpace(dump), "\n") {
		if strings.HasPrefix(line, "tree ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 7 {
			t.Fatalf("node line has %d fields, expected 7: %q", len(fields), line)
		}
	}

	if err := clf.ExportText(&sb, names[:2]); err == nil {
		t.Fatal("expected error for mismatched feature name count")
	}
}

func TestBundleRoundTrip(t *testing.T) {
	X, y := syntheticClassification(120, 8)
	clf := NewClassifier(ClassifierConfig{Trees: 5, MaxDepth: 4, Seed: 1})
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("Fit classifier: %v", err)
	}
	yc := make([]float64, len(y))
	for i, v := range y {
		if v {
			yc[i] = 20
		} else {
			yc[i] = 1
		}
	}
	reg := NewRegressor(RegressorConfig{Stages: 10, MaxDepth: 3, Seed: 2})
	if err := reg.Fit(X, yc); err != nil {
		t.Fatalf("Fit regressor: %v", err)
	}

	names := []string{"f0", "f1", "f2", "f3"}
	b := NewBundle("dwarf_shrub", "20260815", names, 0.42, clf, reg)
	path := filepath.Join(t.TempDir(), "model.gob")
	if err := b.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle error: %v", err)
	}
	if loaded.Group != "dwarf_shrub" || loaded.RoundDate != "20260815" || loaded.Threshold != 0.42 {
		t.Fatalf("bundle metadata mismatch: %+v", loaded)
	}

	// loaded models must predict identically to the originals
	for i := 0; i < 10; i++ {
		want, err := clf.PredictProb(X[i])
		if err != nil {
			t.Fatalf("original PredictProb: %v", err)
		}
		got, err := loaded.Classifier.PredictProb(X[i])
		if err != nil {
			t.Fatalf("loaded PredictProb: %v", err)
		}
		if want != got {
			t.Fatalf("classifier prediction drifted after round trip: %.6f vs %.6f", want, got)
		}
		wantC, err := reg.Predict(X[i])
		if err != nil {
			t.Fatalf("original Predict: %v", err)
		}
		gotC, err := loaded.Regressor.Predict(X[i])
		if err != nil {
			t.Fatalf("loaded Predict: %v", err)
		}
		if wantC != gotC {
			t.Fatalf("regressor prediction drifted after round trip: %.6f vs %.6f", wantC, gotC)
		}
	}
}
