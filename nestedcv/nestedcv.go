// Package nestedcv runs the nested spatial cross-validation procedure that
// trains and scores the foliar cover models.
//
// The outer loop estimates generalization performance: the table is split
// into k stratified grouped folds, and each fold in turn is held out while
// a presence classifier and a cover regressor are trained on the rest. The
// inner loop calibrates the presence threshold without touching the held
// out rows: the outer-training partition is split again into k grouped
// folds, inner out-of-fold probabilities are pooled, and the cutoff
// maximizing Youden's J is selected. Folds are processed strictly in
// order; the first error aborts the run with no partial-failure recovery.
package nestedcv

import (
	"fmt"
	"log"

	"github.com/schollz/progressbar/v3"

	"github.com/veglab/foliar/calibrate"
	"github.com/veglab/foliar/covariates"
	"github.com/veglab/foliar/folds"
	"github.com/veglab/foliar/forest"
	"github.com/veglab/foliar/metrics"
)

// RunConfig is the explicit configuration object threaded through a run.
// Module-level knobs are deliberately absent; everything a run depends on
// is here.
type RunConfig struct {
	// Group is the species/vegetation group being modeled; RoundDate tags
	// the mapping round. Both are recorded in artifacts, not interpreted.
	Group     string `json:"group"`
	RoundDate string `json:"round_date"`

	// Predictors restricts the covariate columns used for modeling. Empty
	// means every loaded predictor.
	Predictors []string `json:"predictors"`

	// PresenceThreshold is the minimum predicted cover (percent) for a
	// positive composite call; predictions below it are zeroed even when
	// the probability clears the calibrated cutoff. A pointer so an
	// explicit zero floor (probability gate only) stays distinct from
	// "unset"; nil defaults to 0.5.
	PresenceThreshold *float64 `json:"presence_threshold"`

	// OuterFolds and InnerFolds are the two k values. Default 10 each.
	OuterFolds int `json:"outer_folds"`
	InnerFolds int `json:"inner_folds"`

	// Seed drives the row shuffle and both fold assignments.
	Seed int64 `json:"seed"`

	// DefaultThreshold is the calibration fallback for a single-class
	// inner pool. A pointer for the same reason as PresenceThreshold:
	// an explicit zero fallback is a valid cutoff. Nil means
	// calibrate.DefaultThreshold.
	DefaultThreshold *float64 `json:"default_threshold"`

	// InitPoints and NIter configure the optional hyperparameter search
	// (see the tune package); they are carried here so one config object
	// covers the whole run.
	InitPoints int `json:"init_points"`
	NIter      int `json:"n_iter"`

	// Quiet disables the progress bar (tests, non-interactive runs).
	Quiet bool `json:"quiet"`
}

// withDefaults returns a copy with unset values replaced.
func (c RunConfig) withDefaults() RunConfig {
	if c.PresenceThreshold == nil {
		v := 0.5
		c.PresenceThreshold = &v
	}
	if c.OuterFolds == 0 {
		c.OuterFolds = 10
	}
	if c.InnerFolds == 0 {
		c.InnerFolds = 10
	}
	if c.DefaultThreshold == nil {
		v := -1.0
		c.DefaultThreshold = &v
	}
	return c
}

// Factories builds fresh model instances per fold so no state leaks
// between folds. Hyperparameter tuning swaps these closures out.
type Factories struct {
	Classifier func() *forest.Classifier
	Regressor  func() *forest.Regressor
}

// Summary holds the pooled metrics of a run.
type Summary struct {
	AUC           float64
	Accuracy      float64
	Sensitivity   float64
	Specificity   float64
	MeanThreshold float64
	RSquared      float64
	RMSE          float64
	MAE           float64

	// CoverRows is the number of rows with a valid observed cover that
	// entered the regression metrics.
	CoverRows int
}

// Result is everything a run produces before artifacts are written.
type Result struct {
	Rows        []metrics.RowResult
	Importances []metrics.FoldImportance
	Thresholds  []calibrate.Result
	Summary     Summary
}

// Runner executes the nested procedure over an observation table.
type Runner struct {
	Config    RunConfig
	Factories Factories

	// Predictor names of the table the runner was last run on; recorded
	// for the importance CSV.
	predictorNames []string
}

// NewRunner creates a runner with config defaults applied. Factories left
// nil default to forest models seeded from the run seed.
func NewRunner(cfg RunConfig, f Factories) *Runner {
	cfg = cfg.withDefaults()
	if f.Classifier == nil {
		f.Classifier = func() *forest.Classifier {
			return forest.NewClassifier(forest.ClassifierConfig{Seed: cfg.Seed})
		}
	}
	if f.Regressor == nil {
		f.Regressor = func() *forest.Regressor {
			return forest.NewRegressor(forest.RegressorConfig{Seed: cfg.Seed})
		}
	}
	return &Runner{Config: cfg, Factories: f}
}

// Run executes the full nested procedure. The table is shuffled from the
// run seed first, so repeated runs over the same inputs reproduce the same
// folds, thresholds and predictions.
func (r *Runner) Run(tbl *covariates.Table) (*Result, error) {
	if tbl == nil || tbl.Len() == 0 {
		return nil, fmt.Errorf("observation table is empty")
	}
	r.predictorNames = tbl.Predictors

	tbl.Shuffle(r.Config.Seed)

	outer, err := folds.Assign(tbl.Presence(), tbl.Blocks(), r.Config.OuterFolds, r.Config.Seed)
	if err != nil {
		return nil, fmt.Errorf("outer fold assignment: %w", err)
	}

	res := &Result{}
	var bar *progressbar.ProgressBar
	if !r.Config.Quiet {
		bar = progressbar.Default(int64(r.Config.OuterFolds), "outer folds")
	}

	for f := 0; f < r.Config.OuterFolds; f++ {
		if err := r.runOuterFold(tbl, outer, f, res); err != nil {
			return nil, fmt.Errorf("outer fold %d: %w", f, err)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	r.summarize(res)
	return res, nil
}

// runOuterFold calibrates, trains and scores one outer fold, appending its
// rows, importances and threshold diagnostics to res.
func (r *Runner) runOuterFold(tbl *covariates.Table, outer []int, f int, res *Result) error {
	trainIdx, testIdx := folds.Partition(outer, f)
	if len(testIdx) == 0 {
		return fmt.Errorf("empty test partition")
	}

	cal, err := r.calibrateInner(tbl, trainIdx, f)
	if err != nil {
		return err
	}
	if cal.Degenerate {
		log.Printf("[NestedCV] fold %d: single-class inner pool, using fallback threshold %.3f", f, cal.Threshold)
	}
	res.Thresholds = append(res.Thresholds, cal)

	X, err := tbl.Matrix(trainIdx)
	if err != nil {
		return err
	}
	yPresent := make([]bool, len(trainIdx))
	yCover := make([]float64, 0, len(trainIdx))
	XCover := make([][]float64, 0, len(trainIdx))
	for i, idx := range trainIdx {
		row := tbl.Rows[idx]
		yPresent[i] = row.Present
		if row.Cover != covariates.CoverNotAssessed {
			yCover = append(yCover, row.Cover)
			XCover = append(XCover, X[i])
		}
	}
	if len(yCover) == 0 {
		return fmt.Errorf("no assessed cover values in training partition")
	}

	clf := r.Factories.Classifier()
	if err := clf.Fit(X, yPresent); err != nil {
		return fmt.Errorf("fit classifier: %w", err)
	}
	reg := r.Factories.Regressor()
	if err := reg.Fit(XCover, yCover); err != nil {
		return fmt.Errorf("fit regressor: %w", err)
	}

	XTest, err := tbl.Matrix(testIdx)
	if err != nil {
		return err
	}
	probs, err := clf.PredictProbBatch(XTest)
	if err != nil {
		return fmt.Errorf("predict probabilities: %w", err)
	}
	covers, err := reg.PredictBatch(XTest)
	if err != nil {
		return fmt.Errorf("predict cover: %w", err)
	}

	for i, idx := range testIdx {
		row := tbl.Rows[idx]
		distribution := probs[i] >= cal.Threshold
		composite := Composite(probs[i], covers[i], cal.Threshold, *r.Config.PresenceThreshold)

		present := 0
		if row.Present {
			present = 1
		}
		dist := 0
		if distribution {
			dist = 1
		}
		res.Rows = append(res.Rows, metrics.RowResult{
			SiteVisit:    row.SiteVisit,
			Block:        row.Block,
			OuterFold:    f,
			Present:      present,
			ObservedCov:  row.Cover,
			PredProb:     probs[i],
			PredCover:    covers[i],
			Distribution: dist,
			Composite:    composite,
		})
	}

	res.Importances = append(res.Importances, importanceRows(f, "classifier", r.predictorNames, clf.Importance)...)
	res.Importances = append(res.Importances, importanceRows(f, "regressor", r.predictorNames, reg.Importance)...)
	return nil
}

// calibrateInner runs the inner grouped k-fold over the outer-training
// partition and calibrates the threshold from the pooled out-of-fold
// probabilities.
func (r *Runner) calibrateInner(tbl *covariates.Table, trainIdx []int, outerFold int) (calibrate.Result, error) {
	present := make([]bool, len(trainIdx))
	blocks := make([]string, len(trainIdx))
	for i, idx := range trainIdx {
		present[i] = tbl.Rows[idx].Present
		blocks[i] = tbl.Rows[idx].Block
	}

	// Inner seeds are offset by the outer fold so inner partitions differ
	// between outer folds while staying reproducible.
	inner, err := folds.Assign(present, blocks, r.Config.InnerFolds, r.Config.Seed+int64(outerFold)+1)
	if err != nil {
		return calibrate.Result{}, fmt.Errorf("inner fold assignment: %w", err)
	}

	pooledProbs := make([]float64, 0, len(trainIdx))
	pooledLabels := make([]bool, 0, len(trainIdx))

	for g := 0; g < r.Config.InnerFolds; g++ {
		innerTrain, innerTest := folds.Partition(inner, g)
		if len(innerTest) == 0 {
			continue
		}

		XTrain := make([][]float64, len(innerTrain))
		yTrain := make([]bool, len(innerTrain))
		for i, pos := range innerTrain {
			XTrain[i] = tbl.Rows[trainIdx[pos]].Values
			yTrain[i] = tbl.Rows[trainIdx[pos]].Present
		}

		clf := r.Factories.Classifier()
		if err := clf.Fit(XTrain, yTrain); err != nil {
			return calibrate.Result{}, fmt.Errorf("inner fold %d: fit classifier: %w", g, err)
		}

		for _, pos := range innerTest {
			row := tbl.Rows[trainIdx[pos]]
			p, err := clf.PredictProb(row.Values)
			if err != nil {
				return calibrate.Result{}, fmt.Errorf("inner fold %d: predict: %w", g, err)
			}
			pooledProbs = append(pooledProbs, p)
			pooledLabels = append(pooledLabels, row.Present)
		}
	}

	return calibrate.Youden(pooledProbs, pooledLabels, *r.Config.DefaultThreshold)
}

// Composite applies the presence-gated cover rule: the prediction is the
// regressed cover only when the probability clears the calibrated cutoff
// and the cover clears the presence floor, else exactly zero.
func Composite(prob, cover, threshold, presenceFloor float64) float64 {
	if prob >= threshold && cover >= presenceFloor {
		return cover
	}
	return 0
}

// summarize pools all outer-test predictions into the run summary.
func (r *Runner) summarize(res *Result) {
	probs := make([]float64, len(res.Rows))
	labels := make([]bool, len(res.Rows))
	calls := make([]bool, len(res.Rows))
	var obsCover, predCover []float64

	for i, row := range res.Rows {
		probs[i] = row.PredProb
		labels[i] = row.Present == 1
		calls[i] = row.Distribution == 1
		if row.ObservedCov != covariates.CoverNotAssessed {
			obsCover = append(obsCover, row.ObservedCov)
			predCover = append(predCover, row.Composite)
		}
	}

	conf := metrics.NewConfusion(calls, labels)
	var meanTh float64
	for _, t := range res.Thresholds {
		meanTh += t.Threshold
	}
	if len(res.Thresholds) > 0 {
		meanTh /= float64(len(res.Thresholds))
	}

	res.Summary = Summary{
		AUC:           metrics.AUC(probs, labels),
		Accuracy:      conf.Accuracy(),
		Sensitivity:   conf.Sensitivity(),
		Specificity:   conf.Specificity(),
		MeanThreshold: meanTh,
		RSquared:      metrics.RSquared(obsCover, predCover),
		RMSE:          metrics.RMSE(obsCover, predCover),
		MAE:           metrics.MAE(obsCover, predCover),
		CoverRows:     len(obsCover),
	}
}

func importanceRows(fold int, component string, names []string, imp []float64) []metrics.FoldImportance {
	rows := make([]metrics.FoldImportance, 0, len(imp))
	for j, v := range imp {
		name := fmt.Sprintf("f%d", j)
		if j < len(names) {
			name = names[j]
		}
		rows = append(rows, metrics.FoldImportance{
			OuterFold:  fold,
			Component:  component,
			Feature:    name,
			Importance: v,
		})
	}
	return rows
}
