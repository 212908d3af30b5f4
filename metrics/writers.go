package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// RowResult is one pooled outer-test prediction, written to the
// consolidated results CSV.
type RowResult struct {
	SiteVisit    string  `csv:"site_visit_id"`
	Block        string  `csv:"block_id"`
	OuterFold    int     `csv:"outer_split_n"`
	Present      int     `csv:"presence"`
	ObservedCov  float64 `csv:"cover_observed"`
	PredProb     float64 `csv:"pred_prob"`
	PredCover    float64 `csv:"pred_cover"`
	Distribution int     `csv:"distribution"`
	Composite    float64 `csv:"prediction"`
}

// FoldImportance is one (fold, model component, feature) importance entry.
type FoldImportance struct {
	OuterFold  int     `csv:"outer_split_n"`
	Component  string  `csv:"component"` // "classifier" or "regressor"
	Feature    string  `csv:"feature"`
	Importance float64 `csv:"importance"`
}

// WriteScalar writes one metric value as a plain-text file, the format the
// downstream reporting notebooks consume.
func WriteScalar(path string, value float64) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%.6f\n", value)), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteRows writes the consolidated per-row results CSV.
func WriteRows(path string, rows []RowResult) error {
	return writeCSV(path, &rows)
}

// WriteImportances writes the per-fold feature importance CSV.
func WriteImportances(path string, rows []FoldImportance) error {
	return writeCSV(path, &rows)
}

func writeCSV(path string, rows any) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer fh.Close()
	if err := gocsv.MarshalFile(rows, fh); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
