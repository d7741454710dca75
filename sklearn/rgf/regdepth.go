package rgf

import (
	"math"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

const regDepthCache = 50

// RegDepth scales a regularization strength by base^depth so that deeper
// nodes are penalized more (base > 1) or less (base < 1).
type RegDepth struct {
	base float64
	pow  []float64
}

// NewRegDepth validates base and precomputes its powers.
func NewRegDepth(base float64) (*RegDepth, error) {
	if base <= 0 {
		return nil, errors.NewValidationError("reg_depth", "must be positive", base)
	}
	if base < 1 {
		errors.Warn(errors.NewValueError("RegDepth", "reg_depth should be no smaller than 1"))
	}
	rd := &RegDepth{base: base}
	if base != 1 {
		rd.pow = make([]float64, regDepthCache)
		for d := range rd.pow {
			rd.pow[d] = math.Pow(base, float64(d))
		}
	}
	return rd, nil
}

// Base returns the depth-decay base.
func (r *RegDepth) Base() float64 { return r.base }

// Apply returns val*base^depth.
func (r *RegDepth) Apply(val float64, depth int) float64 {
	if r == nil || r.base == 1 {
		return val
	}
	if depth < len(r.pow) {
		return val * r.pow[depth]
	}
	return val * math.Pow(r.base, float64(depth))
}

// checkMinPenalty enforces base >= 1, required by the min-penalty regularizer.
func (r *RegDepth) checkMinPenalty(algo string) error {
	if r.base < 1 {
		return errors.NewValidationError("reg_depth", "must be no smaller than 1 for "+algo, r.base)
	}
	return nil
}
