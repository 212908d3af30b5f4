package nestedcv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/veglab/foliar/covariates"
	"github.com/veglab/foliar/forest"
	"github.com/veglab/foliar/metrics"
)

// WriteArtifacts writes the report files for a completed run under outDir:
// one scalar text file per pooled metric, the consolidated per-row results
// CSV, the per-fold importance CSV and the pooled ROC plot.
func (r *Runner) WriteArtifacts(outDir string, res *Result) error {
	scalars := map[string]float64{
		"auc.txt":            res.Summary.AUC,
		"accuracy.txt":       res.Summary.Accuracy,
		"sensitivity.txt":    res.Summary.Sensitivity,
		"specificity.txt":    res.Summary.Specificity,
		"mean_threshold.txt": res.Summary.MeanThreshold,
		"r_squared.txt":      res.Summary.RSquared,
		"rmse.txt":           res.Summary.RMSE,
		"mae.txt":            res.Summary.MAE,
	}
	for name, value := range scalars {
		if err := metrics.WriteScalar(filepath.Join(outDir, name), value); err != nil {
			return err
		}
	}

	if err := metrics.WriteRows(filepath.Join(outDir, "results.csv"), res.Rows); err != nil {
		return err
	}
	if err := metrics.WriteImportances(filepath.Join(outDir, "importances.csv"), res.Importances); err != nil {
		return err
	}

	probs := make([]float64, len(res.Rows))
	labels := make([]bool, len(res.Rows))
	for i, row := range res.Rows {
		probs[i] = row.PredProb
		labels[i] = row.Present == 1
	}
	if err := metrics.PlotROC(outDir, probs, labels, res.Summary.MeanThreshold); err != nil {
		return err
	}
	return nil
}

// TrainFinal fits the classifier and regressor on the full table and
// returns the deployment bundle, tagged with the mean calibrated threshold
// from the completed validation run. This is the pair the raster inference
// engine consumes.
func (r *Runner) TrainFinal(tbl *covariates.Table, res *Result) (*forest.Bundle, error) {
	all := make([]int, tbl.Len())
	for i := range all {
		all[i] = i
	}
	X, err := tbl.Matrix(all)
	if err != nil {
		return nil, err
	}

	yPresent := tbl.Presence()
	var XCover [][]float64
	var yCover []float64
	for i, row := range tbl.Rows {
		if row.Cover != covariates.CoverNotAssessed {
			XCover = append(XCover, X[i])
			yCover = append(yCover, row.Cover)
		}
	}
	if len(yCover) == 0 {
		return nil, fmt.Errorf("no assessed cover values in table")
	}

	clf := r.Factories.Classifier()
	if err := clf.Fit(X, yPresent); err != nil {
		return nil, fmt.Errorf("fit final classifier: %w", err)
	}
	reg := r.Factories.Regressor()
	if err := reg.Fit(XCover, yCover); err != nil {
		return nil, fmt.Errorf("fit final regressor: %w", err)
	}

	return forest.NewBundle(r.Config.Group, r.Config.RoundDate, tbl.Predictors,
		res.Summary.MeanThreshold, clf, reg), nil
}

// ExportTreeDumps writes the plain-text tree dumps for both final model
// components next to the bundle, for ingestion by the external rule-based
// raster engine.
func ExportTreeDumps(outDir string, b *forest.Bundle) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", outDir, err)
	}

	write := func(name string, export func(f *os.File) error) error {
		fh, err := os.Create(filepath.Join(outDir, name))
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		defer fh.Close()
		return export(fh)
	}

	if err := write("classifier_trees.txt", func(f *os.File) error {
		return b.Classifier.ExportText(f, b.Predictors)
	}); err != nil {
		return err
	}
	return write("regressor_trees.txt", func(f *os.File) error {
		return b.Regressor.ExportText(f, b.Predictors)
	})
}
