package rgf

import (
	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// target holds the per-example pseudo residual and second-order weight used
// by the split search. Both are multiplied by the user weights when given.
type target struct {
	y       []float64
	fixedDw []float64 // nil when unweighted

	tarDw []float64 // -L' (times fixedDw)
	dw    []float64 // L'' (times fixedDw)
	nn    float64   // number of examples, or the sum of fixedDw
}

func newTarget(y, fixedDw []float64) (*target, error) {
	if len(y) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "target")
	}
	if fixedDw != nil && len(fixedDw) != len(y) {
		return nil, errors.NewDimensionError("target", len(y), len(fixedDw), 0)
	}
	t := &target{
		y:       y,
		fixedDw: fixedDw,
		tarDw:   make([]float64, len(y)),
		dw:      make([]float64, len(y)),
		nn:      float64(len(y)),
	}
	if fixedDw != nil {
		for _, w := range fixedDw {
			if w < 0 {
				return nil, errors.NewValidationError("weights", "must be non-negative", w)
			}
		}
		t.nn = floats.Sum(fixedDw)
	}
	return t, nil
}

// resetResidual sets the target to y-p with unit curvature (square loss).
func (t *target) resetResidual(p []float64) {
	floats.SubTo(t.tarDw, t.y, p)
	for i := range t.dw {
		t.dw[i] = 1
	}
	t.applyFixedWeights(nil)
}

// resetDeriv sets the target to (-L', L'') at the working point p.
func (t *target) resetDeriv(loss LossType, p []float64) (pyAdjust, lamScale float64) {
	pyAdjust, lamScale = loss.negativeDeriv12(p, t.y, t.tarDw, t.dw)
	t.applyFixedWeights(nil)
	return pyAdjust, lamScale
}

// updateResidual subtracts inc from the residual of the examples in dxs.
func (t *target) updateResidual(dxs []int, inc float64) {
	for _, dx := range dxs {
		d := inc
		if t.fixedDw != nil {
			d *= t.fixedDw[dx]
		}
		t.tarDw[dx] -= d
	}
}

// updateDeriv recomputes the derivatives of the examples in dxs.
func (t *target) updateDeriv(loss LossType, dxs []int, p []float64, pyAdjust float64) {
	for _, dx := range dxs {
		t.tarDw[dx], t.dw[dx] = loss.Derivs(p[dx], t.y[dx], pyAdjust)
	}
	t.applyFixedWeights(dxs)
}

func (t *target) applyFixedWeights(dxs []int) {
	if t.fixedDw == nil {
		return
	}
	if dxs == nil {
		floats.Mul(t.tarDw, t.fixedDw)
		floats.Mul(t.dw, t.fixedDw)
		return
	}
	for _, dx := range dxs {
		t.tarDw[dx] *= t.fixedDw[dx]
		t.dw[dx] *= t.fixedDw[dx]
	}
}

// sums returns the totals of tarDw and dw over dxs.
func (t *target) sums(dxs []int) (wy, w float64) {
	for _, dx := range dxs {
		wy += t.tarDw[dx]
		w += t.dw[dx]
	}
	return wy, w
}
