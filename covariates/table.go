package covariates

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
)

// CoverNotAssessed is the sentinel stored in Observation.Cover when a site
// visit carries a presence call but no usable percent-cover assessment
// (synthetic absences, trace cover, excluded protocols). Rows carrying it
// participate in classification metrics but are excluded from the
// regression metrics.
const CoverNotAssessed = -999.0

// Observation is one site visit: the spatial block it belongs to, the
// binary presence label, the percent foliar cover (or CoverNotAssessed),
// and the predictor values aligned with Table.Predictors.
type Observation struct {
	SiteVisit string
	Block     string
	Present   bool
	Cover     float64
	Values    []float64
}

// Table is the joined observation set used for fold assignment and model
// training.
type Table struct {
	Predictors []string
	Rows       []Observation

	rng    *rand.Rand
	cursor int // next row for Yield's epoch iteration
}

// coverRecord is the fixed schema of the species cover CSV.
type coverRecord struct {
	SiteVisit    string  `csv:"site_visit_id"`
	Block        string  `csv:"block_id"`
	Presence     int     `csv:"presence"`
	CoverPercent float64 `csv:"cover_percent"`
	Assessed     int     `csv:"cover_assessed"`
}

// siteColumn and blockColumn are the join/grouping columns expected in the
// covariate CSV header (case-insensitive).
const (
	siteColumn  = "site_visit_id"
	blockColumn = "block_id"
)

// Load reads the covariate CSV and the cover CSV and joins them on the
// site-visit id. Covariate rows without a matching cover record are dropped;
// a cover record without covariates is an error, since it means the
// extraction step upstream lost a site.
func Load(covariatePath, coverPath string, predictors []string) (*Table, error) {
	covValues, covOrder, discovered, err := readCovariates(covariatePath, predictors)
	if err != nil {
		return nil, err
	}

	covers, err := readCover(coverPath)
	if err != nil {
		return nil, err
	}

	tbl := &Table{Predictors: discovered}
	matched := make(map[string]bool, len(covOrder))
	for _, site := range covOrder {
		rec, ok := covers[site]
		if !ok {
			// covariate row without a cover record: skip
			continue
		}
		matched[site] = true
		cover := rec.CoverPercent
		if rec.Assessed == 0 {
			cover = CoverNotAssessed
		}
		tbl.Rows = append(tbl.Rows, Observation{
			SiteVisit: site,
			Block:     rec.Block,
			Present:   rec.Presence != 0,
			Cover:     cover,
			Values:    covValues[site],
		})
	}

	for site := range covers {
		if !matched[site] {
			return nil, fmt.Errorf("cover record %q has no covariate row in %s", site, covariatePath)
		}
	}
	if len(tbl.Rows) == 0 {
		return nil, fmt.Errorf("join of %s and %s produced no observations", covariatePath, coverPath)
	}
	return tbl, nil
}

// readCovariates reads the covariate CSV through a header-discovered column
// map. If predictors is non-empty only those columns are kept (missing ones
// are an error); otherwise every column other than the site and block ids is
// treated as a predictor.
func readCovariates(path string, predictors []string) (map[string][]float64, []string, []string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open covariate CSV %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read covariate header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	siteIdx, ok := colIndex[siteColumn]
	if !ok {
		return nil, nil, nil, fmt.Errorf("required column %q not found in %s", siteColumn, path)
	}

	// Resolve the predictor column list.
	var names []string
	if len(predictors) > 0 {
		for _, p := range predictors {
			key := strings.TrimSpace(strings.ToLower(p))
			if _, ok := colIndex[key]; !ok {
				return nil, nil, nil, fmt.Errorf("predictor column %q not found in %s", p, path)
			}
			names = append(names, key)
		}
	} else {
		for _, col := range header {
			key := strings.TrimSpace(strings.ToLower(col))
			if key == siteColumn || key == blockColumn {
				continue
			}
			names = append(names, key)
		}
	}

	values := make(map[string][]float64)
	var order []string
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read covariate row %d: %w", line, err)
		}
		line++

		site := strings.TrimSpace(record[siteIdx])
		if site == "" {
			return nil, nil, nil, fmt.Errorf("covariate row %d has empty %s", line, siteColumn)
		}
		row := make([]float64, len(names))
		for i, name := range names {
			v, err := parseFloat64(record[colIndex[name]])
			if err != nil {
				return nil, nil, nil, fmt.Errorf("parse %s at row %d: %w", name, line, err)
			}
			row[i] = v
		}
		if _, dup := values[site]; dup {
			return nil, nil, nil, fmt.Errorf("duplicate site visit %q in %s", site, path)
		}
		values[site] = row
		order = append(order, site)
	}

	return values, order, names, nil
}

// readCover reads the fixed-schema cover CSV keyed by site visit.
func readCover(path string) (map[string]coverRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cover CSV %s: %w", path, err)
	}
	defer file.Close()

	var records []coverRecord
	if err := gocsv.UnmarshalFile(file, &records); err != nil {
		return nil, fmt.Errorf("decode cover CSV %s: %w", path, err)
	}

	covers := make(map[string]coverRecord, len(records))
	for i, rec := range records {
		site := strings.TrimSpace(rec.SiteVisit)
		if site == "" {
			return nil, fmt.Errorf("cover row %d has empty site_visit_id", i+1)
		}
		if strings.TrimSpace(rec.Block) == "" {
			return nil, fmt.Errorf("cover row %q has empty block_id", site)
		}
		if _, dup := covers[site]; dup {
			return nil, fmt.Errorf("duplicate site visit %q in %s", site, path)
		}
		covers[site] = rec
	}
	return covers, nil
}

// Len returns the number of observations.
func (t *Table) Len() int { return len(t.Rows) }

// Shuffle reorders the observations with a Fisher-Yates pass seeded from
// seed. The same seed over the same input ordering yields the same result,
// which the fold splitter relies on for reproducible runs.
func (t *Table) Shuffle(seed int64) {
	t.rng = rand.New(rand.NewSource(seed))
	t.rng.Shuffle(len(t.Rows), func(i, j int) {
		t.Rows[i], t.Rows[j] = t.Rows[j], t.Rows[i]
	})
}

// Presence returns the per-row presence labels in table order.
func (t *Table) Presence() []bool {
	out := make([]bool, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Present
	}
	return out
}

// Blocks returns the per-row spatial block ids in table order.
func (t *Table) Blocks() []string {
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Block
	}
	return out
}

// Matrix returns the predictor values for the given row indices as a dense
// row-major slice-of-slices. The rows share no backing storage with the
// table, so callers may mutate them.
func (t *Table) Matrix(indices []int) ([][]float64, error) {
	out := make([][]float64, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(t.Rows) {
			return nil, fmt.Errorf("row index %d out of range [0, %d)", idx, len(t.Rows))
		}
		row := make([]float64, len(t.Rows[idx].Values))
		copy(row, t.Rows[idx].Values)
		out[i] = row
	}
	return out, nil
}

// Example returns the predictor vector and the [presence, cover] label pair
// for a single row.
func (t *Table) Example(i int) ([]float64, []float64, error) {
	if i < 0 || i >= len(t.Rows) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", i, len(t.Rows))
	}
	r := t.Rows[i]
	inputs := make([]float64, len(r.Values))
	copy(inputs, r.Values)
	label := []float64{0, r.Cover}
	if r.Present {
		label[0] = 1
	}
	return inputs, label, nil
}

// Batch returns predictor vectors and [presence, cover] labels for the
// provided row indices.
func (t *Table) Batch(indices []int) ([][]float64, [][]float64, error) {
	inputs := make([][]float64, len(indices))
	labels := make([][]float64, len(indices))
	for i, idx := range indices {
		in, la, err := t.Example(idx)
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = in
		labels[i] = la
	}
	return inputs, labels, nil
}
