package rgf

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// Dataset is a dense, column-major feature matrix. Per-feature ascending
// orderings are built on first use by the split search.
type Dataset struct {
	rows, cols int
	columns    [][]float64
	sorted     [][]int
}

// NewDataset copies X into a column-major Dataset.
func NewDataset(X mat.Matrix) (*Dataset, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "NewDataset")
	}
	d := &Dataset{rows: r, cols: c, columns: make([][]float64, c)}
	for j := 0; j < c; j++ {
		col := make([]float64, r)
		for i := 0; i < r; i++ {
			col[i] = X.At(i, j)
		}
		d.columns[j] = col
	}
	return d, nil
}

// NewDatasetFromRows builds a Dataset from row-major values.
func NewDatasetFromRows(rows [][]float64) (*Dataset, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "NewDatasetFromRows")
	}
	c := len(rows[0])
	d := &Dataset{rows: len(rows), cols: c, columns: make([][]float64, c)}
	for j := range d.columns {
		d.columns[j] = make([]float64, len(rows))
	}
	for i, row := range rows {
		if len(row) != c {
			return nil, errors.NewDimensionError("NewDatasetFromRows", c, len(row), 1)
		}
		for j, v := range row {
			d.columns[j][i] = v
		}
	}
	return d, nil
}

// Dims returns the number of examples and features.
func (d *Dataset) Dims() (rows, cols int) { return d.rows, d.cols }

// At returns the value of feature col for example row.
func (d *Dataset) At(row, col int) float64 { return d.columns[col][row] }

// Column returns the values of one feature. The slice must not be modified.
func (d *Dataset) Column(col int) []float64 { return d.columns[col] }

// sortedIndex returns every example index of feature fx in ascending value
// order. Ties keep example order.
func (d *Dataset) sortedIndex(fx int) []int {
	if d.sorted == nil {
		d.sorted = make([][]int, d.cols)
	}
	if d.sorted[fx] == nil {
		col := d.columns[fx]
		idx := make([]int, d.rows)
		for i := range idx {
			idx[i] = i
		}
		slices.SortStableFunc(idx, func(a, b int) int { return cmp.Compare(col[a], col[b]) })
		d.sorted[fx] = idx
	}
	return d.sorted[fx]
}
