package covariates

import "github.com/gomlx/gomlx/pkg/core/tensors"

// This package loads the tabular inputs for foliar cover modeling: a
// covariate CSV (one row per site visit, dozens of named predictor columns)
// and a cover CSV (presence flag and percent foliar cover per site visit),
// joined on the site-visit id into a single in-memory Table.
//
// The covariate CSV has a dynamic predictor schema - column names for
// climate, topography, radar, optical reflectance and embedding predictors
// vary between mapping rounds - so it is read through a column-index map
// discovered from the header rather than a fixed struct. The cover CSV has a
// stable four-column schema and is read through gocsv struct tags.
//
// Layout and intended usage:
//
// Table
//   - Holds observations in a stable order; Shuffle reorders them
//     deterministically from a seed so fold assignment is reproducible.
//   - Predictor values are stored per row, aligned with the Predictors name
//     list; derived spectral indices are appended as additional predictors.
//   - Batch/Tensors/Yield present the table as a training dataset so it can
//     feed a gomlx training loop and batching utilities.
type Dataset interface {
	Len() int
	Example(i int) (inputs []float64, labels []float64, err error)
	Batch(indices []int) (inputs [][]float64, labels [][]float64, err error)
	Shuffle(seed int64)

	// To implement gomlx's train.Dataset interface
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
}
