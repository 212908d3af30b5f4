package nestedcv

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/veglab/foliar/covariates"
	"github.com/veglab/foliar/forest"
)

// syntheticTable builds an observation table with nBlocks spatial blocks,
// roughly the given presence prevalence, and one informative covariate so
// the models have something to learn.
func syntheticTable(n, nBlocks int, prevalence float64, seed int64) *covariates.Table {
	rng := rand.New(rand.NewSource(seed))
	rows := make([]covariates.Observation, n)
	for i := range rows {
		present := rng.Float64() < prevalence
		signal := rng.NormFloat64()
		cover := 0.0
		if present {
			signal += 2.0
			cover = 5 + rng.Float64()*40
		}
		rows[i] = covariates.Observation{
			SiteVisit: fmt.Sprintf("site_%04d", i),
			Block:     fmt.Sprintf("block_%03d", i%nBlocks),
			Present:   present,
			Cover:     cover,
			Values:    []float64{signal, rng.NormFloat64(), rng.NormFloat64()},
		}
	}
	return &covariates.Table{
		Predictors: []string{"ndvi", "aspect", "roughness"},
		Rows:       rows,
	}
}

func smallFactories() Factories {
	return Factories{
		Classifier: func() *forest.Classifier {
			return forest.NewClassifier(forest.ClassifierConfig{Trees: 15, MaxDepth: 6, Seed: 7})
		},
		Regressor: func() *forest.Regressor {
			return forest.NewRegressor(forest.RegressorConfig{Stages: 20, MaxDepth: 3, Seed: 7})
		},
	}
}

func TestRunEndToEnd(t *testing.T) {
	tbl := syntheticTable(1000, 100, 0.1, 42)
	runner := NewRunner(RunConfig{
		Group:      "dwarf_shrub",
		RoundDate:  "20260815",
		OuterFolds: 10,
		InnerFolds: 10,
		Seed:       42,
		Quiet:      true,
	}, smallFactories())

	res, err := runner.Run(tbl)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(res.Rows) != 1000 {
		t.Fatalf("expected every observation scored exactly once, got %d rows", len(res.Rows))
	}
	seen := make(map[string]bool, len(res.Rows))
	for _, row := range res.Rows {
		if seen[row.SiteVisit] {
			t.Fatalf("site %s scored in more than one outer fold", row.SiteVisit)
		}
		seen[row.SiteVisit] = true
	}

	// no spatial block may straddle outer folds
	blockFold := make(map[string]int)
	for _, row := range res.Rows {
		if f, ok := blockFold[row.Block]; ok && f != row.OuterFold {
			t.Fatalf("block %s appears in outer folds %d and %d", row.Block, f, row.OuterFold)
		}
		blockFold[row.Block] = row.OuterFold
	}

	if res.Summary.AUC <= 0.5 {
		t.Fatalf("pooled AUC %.3f not better than chance on separable data", res.Summary.AUC)
	}

	if len(res.Thresholds) != 10 {
		t.Fatalf("expected 10 calibrated thresholds, got %d", len(res.Thresholds))
	}
	for i, cal := range res.Thresholds {
		if cal.Threshold < 0 || cal.Threshold > 1 {
			t.Fatalf("fold %d threshold %.4f outside [0, 1]", i, cal.Threshold)
		}
	}

	// the composite rule must zero every row outside the distribution
	for _, row := range res.Rows {
		if row.Distribution == 0 && row.Composite != 0 {
			t.Fatalf("site %s: composite %.3f nonzero with distribution 0", row.SiteVisit, row.Composite)
		}
	}

	// two components times three predictors per fold
	if len(res.Importances) != 10*2*3 {
		t.Fatalf("expected %d importance rows, got %d", 10*2*3, len(res.Importances))
	}
}

func TestRunConfigExplicitZeroThresholds(t *testing.T) {
	zero := 0.0
	cfg := RunConfig{PresenceThreshold: &zero, DefaultThreshold: &zero}.withDefaults()
	if *cfg.PresenceThreshold != 0 {
		t.Fatalf("explicit zero presence floor rewritten to %v", *cfg.PresenceThreshold)
	}
	if *cfg.DefaultThreshold != 0 {
		t.Fatalf("explicit zero fallback threshold rewritten to %v", *cfg.DefaultThreshold)
	}

	def := RunConfig{}.withDefaults()
	if def.PresenceThreshold == nil || *def.PresenceThreshold != 0.5 {
		t.Fatalf("unset presence floor should default to 0.5, got %v", def.PresenceThreshold)
	}
	if def.DefaultThreshold == nil || *def.DefaultThreshold >= 0 {
		t.Fatalf("unset fallback should delegate to the calibrator, got %v", def.DefaultThreshold)
	}
}

func TestRunZeroPresenceFloorKeepsSmallCovers(t *testing.T) {
	tbl := syntheticTable(300, 30, 0.3, 13)
	zero := 0.0
	res, err := NewRunner(RunConfig{
		OuterFolds:        3,
		InnerFolds:        2,
		Seed:              13,
		PresenceThreshold: &zero,
		Quiet:             true,
	}, smallFactories()).Run(tbl)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	// with a zero floor the composite is gated by probability alone; the
	// cover gate only rejects the occasional negative boosted prediction
	for _, row := range res.Rows {
		if row.Distribution == 1 && row.PredCover >= 0 && row.Composite != row.PredCover {
			t.Fatalf("site %s: composite %.3f should equal predicted cover %.3f under a zero floor",
				row.SiteVisit, row.Composite, row.PredCover)
		}
	}
}

func TestRunDeterministicUnderSeed(t *testing.T) {
	cfg := RunConfig{OuterFolds: 3, InnerFolds: 2, Seed: 9, Quiet: true}

	run := func() *Result {
		tbl := syntheticTable(300, 30, 0.2, 9)
		res, err := NewRunner(cfg, smallFactories()).Run(tbl)
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
		return res
	}

	a := run()
	b := run()
	if len(a.Rows) != len(b.Rows) {
		t.Fatalf("row counts differ: %d vs %d", len(a.Rows), len(b.Rows))
	}
	for i := range a.Rows {
		if a.Rows[i] != b.Rows[i] {
			t.Fatalf("row %d differs between identically seeded runs:\n%+v\n%+v", i, a.Rows[i], b.Rows[i])
		}
	}
	for i := range a.Thresholds {
		if a.Thresholds[i].Threshold != b.Thresholds[i].Threshold {
			t.Fatalf("fold %d thresholds differ: %.6f vs %.6f", i, a.Thresholds[i].Threshold, b.Thresholds[i].Threshold)
		}
	}
}

func TestRunSkipsUnassessedCoverInMetrics(t *testing.T) {
	tbl := syntheticTable(300, 30, 0.2, 5)
	// drop the cover assessment on one in three rows
	dropped := 0
	for i := range tbl.Rows {
		if i%3 == 0 {
			tbl.Rows[i].Cover = covariates.CoverNotAssessed
			dropped++
		}
	}

	res, err := NewRunner(RunConfig{OuterFolds: 3, InnerFolds: 2, Seed: 5, Quiet: true}, smallFactories()).Run(tbl)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if want := len(tbl.Rows) - dropped; res.Summary.CoverRows != want {
		t.Fatalf("expected %d rows in regression metrics, got %d", want, res.Summary.CoverRows)
	}
}

func TestRunEmptyTable(t *testing.T) {
	if _, err := NewRunner(RunConfig{Quiet: true}, Factories{}).Run(&covariates.Table{}); err == nil {
		t.Fatal("expected error for empty table")
	}
	if _, err := NewRunner(RunConfig{Quiet: true}, Factories{}).Run(nil); err == nil {
		t.Fatal("expected error for nil table")
	}
}

func TestComposite(t *testing.T) {
	cases := []struct {
		prob, cover, threshold, floor float64
		want                          float64
	}{
		{0.9, 30, 0.5, 0.5, 30}, // both gates clear
		{0.4, 30, 0.5, 0.5, 0},  // probability below cutoff
		{0.9, 0.2, 0.5, 0.5, 0}, // cover below presence floor
		{0.5, 0.5, 0.5, 0.5, 0.5}, // both gates inclusive at the boundary
		{0.1, 0.1, 0.5, 0.5, 0},
	}
	for _, c := range cases {
		got := Composite(c.prob, c.cover, c.threshold, c.floor)
		if got != c.want {
			t.Fatalf("Composite(%.2f, %.2f, %.2f, %.2f) = %.2f, want %.2f",
				c.prob, c.cover, c.threshold, c.floor, got, c.want)
		}
	}
}
