package covariates

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

var _ Dataset = (*Table)(nil)

// Tensors converts the rows at indices into a pair of gomlx tensors:
// inputs shaped [len(indices)][predictors] and labels shaped
// [len(indices)][2] with presence in column 0 and percent cover in column 1.
// Row widths are checked against the predictor list, so a ragged table
// (a derived-index bug, a hand-edited CSV) fails here instead of deep in a
// training loop.
func (t *Table) Tensors(indices []int) (*tensors.Tensor, *tensors.Tensor, error) {
	p := len(t.Predictors)
	if p == 0 {
		return nil, nil, fmt.Errorf("table has no predictor columns")
	}

	inputs := make([][]float64, len(indices))
	labels := make([][]float64, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(t.Rows) {
			return nil, nil, fmt.Errorf("row index %d out of range [0, %d)", idx, len(t.Rows))
		}
		row := t.Rows[idx]
		if len(row.Values) != p {
			return nil, nil, fmt.Errorf("site visit %q has %d predictor values, expected %d",
				row.SiteVisit, len(row.Values), p)
		}
		inputs[i] = row.Values
		label := []float64{0, row.Cover}
		if row.Present {
			label[0] = 1
		}
		labels[i] = label
	}
	return tensors.FromAnyValue(inputs), tensors.FromAnyValue(labels), nil
}

// yieldBatchSize is the batch size Yield presents to a gomlx training loop.
const yieldBatchSize = 32

// Name returns the dataset name for gomlx training loops.
func (t *Table) Name() string { return "CovariateTable" }

// Yield returns the next sequential batch of rows as gomlx tensors,
// wrapping to the start of the table when the epoch ends. Batches walk the
// table in its current (usually shuffled) order; Restart rewinds to the
// first row.
func (t *Table) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	n := len(t.Rows)
	if n == 0 {
		return nil, nil, nil, fmt.Errorf("table is empty")
	}

	start := t.cursor
	end := start + yieldBatchSize
	if end > n {
		end = n
	}
	indices := make([]int, end-start)
	for i := range indices {
		indices[i] = start + i
	}
	t.cursor = end
	if t.cursor >= n {
		t.cursor = 0
	}

	in, la, err := t.Tensors(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{in}, []*tensors.Tensor{la}, nil
}

// Restart rewinds Yield to the first row for a new epoch.
func (t *Table) Restart() error {
	t.cursor = 0
	return nil
}

// VerifyTensorBatches streams every row through the tensor conversion in
// Yield-sized batches. Run it after load and index derivation: a malformed
// table is rejected up front rather than after hours of fold fitting.
func (t *Table) VerifyTensorBatches() error {
	for start := 0; start < len(t.Rows); start += yieldBatchSize {
		end := start + yieldBatchSize
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		indices := make([]int, end-start)
		for i := range indices {
			indices[i] = start + i
		}
		if _, _, err := t.Tensors(indices); err != nil {
			return fmt.Errorf("tensor conversion: %w", err)
		}
	}
	return nil
}
