package rgf

import (
	"context"
	"runtime"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rgf/core/parallel"
	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// Ensemble is a trained forest: an ordered list of trees plus a constant.
type Ensemble struct {
	trees []*Tree

	// Const is added to every prediction.
	Const float64
	// OrgDim is the number of features of the training data.
	OrgDim int
	// Config is the canonical config string used for training.
	Config string
	// Signature identifies the algorithm that produced the model.
	Signature string

	capacity int // maximum number of trees during training
}

func newEnsemble(capacity, orgDim int) *Ensemble {
	return &Ensemble{capacity: capacity, OrgDim: orgDim, trees: make([]*Tree, 0, min(capacity, 1024))}
}

// NumTrees returns the number of trees.
func (e *Ensemble) NumTrees() int { return len(e.trees) }

// Tree returns tree tx.
func (e *Ensemble) Tree(tx int) *Tree { return e.trees[tx] }

// NumLeaves returns the total number of leaves.
func (e *Ensemble) NumLeaves() int {
	n := 0
	for _, t := range e.trees {
		n += t.NumLeaves()
	}
	return n
}

func (e *Ensemble) isFull() bool {
	return e.capacity > 0 && len(e.trees) >= e.capacity
}

// addTree appends t and returns its index.
func (e *Ensemble) addTree(t *Tree) (int, error) {
	if e.isFull() {
		return -1, errors.NewStructuralErrorf("Ensemble.addTree", "ensemble is full (%d trees)", e.capacity)
	}
	e.trees = append(e.trees, t)
	return len(e.trees) - 1, nil
}

// clone deep-copies every tree.
func (e *Ensemble) clone() *Ensemble {
	c := *e
	c.trees = make([]*Tree, len(e.trees))
	for i, t := range e.trees {
		c.trees[i] = t.clone()
	}
	return &c
}

// cleanUp folds internal node weights into leaves on every tree.
func (e *Ensemble) cleanUp() {
	for _, t := range e.trees {
		t.cleanUp()
	}
}

// usesInternalNodes reports whether any internal node carries a weight.
func (e *Ensemble) usesInternalNodes() bool {
	for _, t := range e.trees {
		for nx := range t.nodes {
			if !t.nodes[nx].IsLeaf() && t.nodes[nx].Weight != 0 {
				return true
			}
		}
	}
	return false
}

// predictMinChunk is the smallest number of rows handled by one worker.
const predictMinChunk = 256

// Predict returns Const plus the sum of tree outputs for every example.
func (e *Ensemble) Predict(data *Dataset) ([]float64, error) {
	return e.PredictContext(context.Background(), data)
}

// PredictContext is Predict with cancellation. Rows are split across
// workers.
func (e *Ensemble) PredictContext(ctx context.Context, data *Dataset) ([]float64, error) {
	rows, cols := data.Dims()
	if e.OrgDim > 0 && cols < e.OrgDim {
		return nil, errors.NewDimensionError("Ensemble.Predict", e.OrgDim, cols, 1)
	}
	out := make([]float64, rows)
	err := parallel.ForEachChunk(ctx, rows, predictMinChunk, runtime.GOMAXPROCS(0),
		func(ctx context.Context, start, end int) error {
			for i := start; i < end; i++ {
				p := e.Const
				for _, t := range e.trees {
					p += t.apply(data, i)
				}
				out[i] = p
			}
			return ctx.Err()
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PredictMatrix predicts every row of X.
func (e *Ensemble) PredictMatrix(X mat.Matrix) (*mat.VecDense, error) {
	data, err := NewDataset(X)
	if err != nil {
		return nil, err
	}
	p, err := e.Predict(data)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(len(p), p), nil
}

// FeatureImportance summarizes, per original feature, how many splits use
// it and the summed |weight| of the leaves below those splits.
type FeatureImportance struct {
	Splits    []int
	WeightSum []float64
}

// Importance computes a FeatureImportance over all trees.
func (e *Ensemble) Importance() FeatureImportance {
	fi := FeatureImportance{Splits: make([]int, e.OrgDim), WeightSum: make([]float64, e.OrgDim)}
	for _, t := range e.trees {
		var walk func(nx int) float64
		walk = func(nx int) float64 {
			n := &t.nodes[nx]
			if n.IsLeaf() {
				if n.Weight < 0 {
					return -n.Weight
				}
				return n.Weight
			}
			s := walk(n.LE) + walk(n.GT)
			if n.Feature < len(fi.Splits) {
				fi.Splits[n.Feature]++
				fi.WeightSum[n.Feature] += s
			}
			return s
		}
		if len(t.nodes) > 0 {
			walk(t.root)
		}
	}
	return fi
}
