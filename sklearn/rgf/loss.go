package rgf

import (
	"math"
	"strings"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// LossType selects the loss function minimized by the forest.
type LossType int

const (
	// LossSquare is the squared error r²/2.
	LossSquare LossType = iota
	// LossLog is log(1+exp(-py)) for y in {1,-1}.
	LossLog
	// LossExpo is exp(-py) for y in {1,-1}.
	LossExpo
	// LossLogit is log(1+exp(-2py)) for y in {1,-1}.
	LossLogit
	// LossLogRe is the log loss for regression with y in [0,1].
	LossLogRe
	// LossLogRe2 is a symmetric log loss for regression.
	LossLogRe2
	// LossModLS is the modified least squares (reporting only).
	LossModLS
	// LossModHuber is the modified Huber loss (reporting only).
	LossModHuber
)

var lossNames = [...]string{
	LossSquare:   "LS",
	LossLog:      "Log",
	LossExpo:     "Expo",
	LossLogit:    "Logit",
	LossLogRe:    "LogRe",
	LossLogRe2:   "LogRe2",
	LossModLS:    "ModLS",
	LossModHuber: "ModHuber",
}

func (l LossType) String() string {
	if l < 0 || int(l) >= len(lossNames) {
		return "None"
	}
	return lossNames[l]
}

// ParseLoss converts a loss name ("LS", "Log", ...) into a LossType.
func ParseLoss(name string) (LossType, error) {
	for i, n := range lossNames {
		if strings.EqualFold(n, name) {
			return LossType(i), nil
		}
	}
	return LossSquare, errors.NewValidationError("loss", "unknown loss function", name)
}

// IsExpoFamily reports whether the loss is built on exp(-py).
func (l LossType) IsExpoFamily() bool {
	switch l {
	case LossLog, LossExpo, LossLogit, LossLogRe, LossLogRe2:
		return true
	}
	return false
}

// Trainable reports whether the loss provides derivatives for training.
func (l LossType) Trainable() bool {
	return l >= LossSquare && l <= LossLogRe2
}

// maxPyAvg bounds the average margin used as working point.
const maxPyAvg = 500

// Derivs returns (-L'(p), L''(p)) for a single example. pyAdjust shifts the
// margin of the exponential loss for numerical stability.
func (l LossType) Derivs(p, y, pyAdjust float64) (negDeriv, deriv2 float64) {
	switch l {
	case LossSquare:
		return y - p, 1
	case LossExpo:
		py := p*y - pyAdjust
		ee := errors.StabilizeExp(-py)
		return y * ee, ee * y * y
	case LossLog:
		ee := errors.StabilizeExp(-p * y)
		return y * ee / (1 + ee), y * y * ee / ((1 + ee) * (1 + ee))
	case LossLogit:
		ee := errors.StabilizeExp(-2 * p * y)
		return 2 * y * ee / (1 + ee), 4 * y * y * ee / ((1 + ee) * (1 + ee))
	case LossLogRe:
		q := 1 / (1 + errors.StabilizeExp(-p))
		return y - q, q * (1 - q)
	case LossLogRe2:
		ee := errors.StabilizeExp(-(p - y))
		q := 1 / (1 + ee)
		return 1 - 2*q, 2 * q * (1 - q)
	}
	panic(errors.NewValueError("Loss.Derivs", "unsupported loss type "+l.String()))
}

// Value returns the loss of prediction p against target y.
func (l LossType) Value(p, y, pyAdjust float64) float64 {
	r := y - p
	py := p * y
	switch l {
	case LossSquare:
		return r * r / 2
	case LossExpo:
		return errors.StabilizeExp(-(py - pyAdjust))
	case LossLog:
		return math.Log(1 + errors.StabilizeExp(-py))
	case LossLogit:
		return math.Log(1 + errors.StabilizeExp(-2*py))
	case LossLogRe:
		q := 1 / (1 + errors.StabilizeExp(-p))
		return -y*math.Log(q) - (1-y)*math.Log(1-q)
	case LossLogRe2:
		dd := errors.StabilizeExp(p - y)
		return math.Log(1+dd)*2 - (p - y) - 2*math.Ln2
	case LossModLS:
		if py <= 1 {
			return r * r / 2
		}
		return 0
	case LossModHuber:
		switch {
		case py <= -1:
			return -2 * py
		case py < 1:
			return r * r / 2
		}
		return 0
	}
	panic(errors.NewValueError("Loss.Value", "unsupported loss type "+l.String()))
}

// AverageLoss returns the (weighted) mean loss over all examples.
func (l LossType) AverageLoss(p, y, w []float64) float64 {
	if len(p) == 0 {
		return 0
	}
	var sum, wsum float64
	for i := range p {
		v := l.Value(p[i], y[i], 0)
		if w != nil {
			sum += w[i] * v
			wsum += w[i]
		} else {
			sum += v
			wsum++
		}
	}
	return errors.SafeDivide(sum, wsum)
}

// pyAvg returns the mean margin p*y over idx (all examples if idx is nil),
// bounded to ±500.
func pyAvg(p, y []float64, idx []int) float64 {
	var sum float64
	n := len(p)
	if idx == nil {
		for i := range p {
			sum += p[i] * y[i]
		}
	} else {
		n = len(idx)
		for _, dx := range idx {
			sum += p[dx] * y[dx]
		}
	}
	if n == 0 {
		return 0
	}
	return errors.ClipValue(sum/float64(n), -maxPyAvg, maxPyAvg)
}

// sumDeriv accumulates -dL and ddL over the examples in dxs, weighted by dw
// when it is non-nil.
func (l LossType) sumDeriv(dxs []int, p, y, dw []float64, pyAdjust float64) (negdL, ddL float64) {
	switch l {
	case LossSquare:
		if dw == nil {
			for _, dx := range dxs {
				negdL += y[dx] - p[dx]
			}
			return negdL, float64(len(dxs))
		}
		for _, dx := range dxs {
			negdL += dw[dx] * (y[dx] - p[dx])
			ddL += dw[dx]
		}
		return negdL, ddL
	case LossExpo:
		for _, dx := range dxs {
			ee := errors.StabilizeExp(-(p[dx]*y[dx] - pyAdjust))
			if dw != nil {
				ee *= dw[dx]
			}
			ddL += ee
			negdL += y[dx] * ee
		}
		return negdL, ddL
	}
	for _, dx := range dxs {
		d1, d2 := l.Derivs(p[dx], y[dx], pyAdjust)
		if dw != nil {
			d1 *= dw[dx]
			d2 *= dw[dx]
		}
		negdL += d1
		ddL += d2
	}
	return negdL, ddL
}

// negativeDeriv12 fills negDeriv with -L' and deriv2 with L'' for every
// example. For the exponential loss the working point is shifted by the
// average margin; the returned scale exp(pyAdjust) rescales λ and σ.
func (l LossType) negativeDeriv12(p, y []float64, negDeriv, deriv2 []float64) (pyAdjust, lamScale float64) {
	if l == LossExpo {
		pyAdjust = pyAvg(p, y, nil)
	}
	for i := range p {
		negDeriv[i], deriv2[i] = l.Derivs(p[i], y[i], pyAdjust)
	}
	lamScale = 1
	if pyAdjust != 0 {
		lamScale = math.Exp(pyAdjust)
	}
	return pyAdjust, lamScale
}

// InitConst returns the constant prediction that minimizes the loss when
// no trees exist. Only used for reporting and for NormalizeTarget.
func (l LossType) InitConst(y, w []float64) float64 {
	var sy, sw float64
	for i := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		sy += wi * y[i]
		sw += wi
	}
	avg := errors.SafeDivide(sy, sw)
	switch l {
	case LossLogit:
		return math.Log((1+avg)/(1-avg)) / 2
	case LossLog:
		return math.Log((1 + avg) / (1 - avg))
	}
	return avg
}
