package rgf

import (
	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// TestData caches, for an evaluation set, which examples activate each
// global feature. Between calls only the columns of features added since
// the last call are computed; removed features have their column cleared.
type TestData struct {
	data *Dataset
	cols [][]int // feature id -> examples routed through the node
}

// NewTestData wraps data for incremental evaluation.
func NewTestData(data *Dataset) *TestData {
	return &TestData{data: data}
}

// Dataset returns the wrapped data.
func (td *TestData) Dataset() *Dataset { return td.data }

// NumColumns returns the number of feature columns built so far.
func (td *TestData) NumColumns() int { return len(td.cols) }

// update brings the activation matrix in line with the feature map.
func (td *TestData) update(ens *Ensemble, fm *FeatMap) error {
	const op = "TestData.update"
	_, cols := td.data.Dims()
	if ens.OrgDim > 0 && cols < ens.OrgDim {
		return errors.NewDimensionError(op, ens.OrgDim, cols, 1)
	}
	old := len(td.cols)
	fNum := fm.NumFeatures()
	if fNum < old {
		return errors.NewStructuralErrorf(op, "#feature decreased: %d -> %d", old, fNum)
	}
	for fx := 0; fx < old; fx++ {
		if fm.IsRemoved(fx) {
			td.cols[fx] = nil
		}
	}
	if fNum == old {
		return nil
	}
	td.cols = append(td.cols, make([][]int, fNum-old)...)

	trees := make(map[int]bool)
	for fx := old; fx < fNum; fx++ {
		if !fm.IsRemoved(fx) {
			tx, _ := fm.Location(fx)
			trees[tx] = true
		}
	}
	rows, _ := td.data.Dims()
	for tx := range trees {
		t := ens.trees[tx]
		for dx := 0; dx < rows; dx++ {
			t.onPath(td.data, dx, func(nx int) {
				if fx := fm.FeatureOf(tx, nx); fx >= old {
					td.cols[fx] = append(td.cols[fx], dx)
				}
			})
		}
	}
	return nil
}

func (td *TestData) clone() *TestData {
	c := &TestData{data: td.data, cols: make([][]int, len(td.cols))}
	copy(c.cols, td.cols)
	return c
}

// predict returns constant + sum of w over the active columns of each
// example.
func (td *TestData) predict(w []float64, constant float64) []float64 {
	rows, _ := td.data.Dims()
	p := make([]float64, rows)
	for i := range p {
		p[i] = constant
	}
	for fx, dxs := range td.cols {
		if fx >= len(w) || w[fx] == 0 {
			continue
		}
		for _, dx := range dxs {
			p[dx] += w[fx]
		}
	}
	return p
}
