package errors

import (
	"math"
)

// MaxExpArg は損失関数で使用する指数関数の引数の上限です。
const MaxExpArg = 500.0

// CheckScalar は値が NaN または Inf でないことを確認します。
func CheckScalar(operation string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NewValueError(operation, "numerical instability detected: "+formatFloat(value))
	}
	return nil
}

// CheckSlice はスライス内の全要素に CheckScalar を適用します。
func CheckSlice(operation string, values []float64) error {
	for _, v := range values {
		if err := CheckScalar(operation, v); err != nil {
			return err
		}
	}
	return nil
}

// SafeDivide はゼロ除算を避けた除算を行います。分母がほぼ0の場合は0を返します。
func SafeDivide(numerator, denominator float64) float64 {
	if math.Abs(denominator) < 1e-10 {
		return 0
	}
	return numerator / denominator
}

// ClipValue は値を [min, max] に切り詰めます。
func ClipValue(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// StabilizeExp は引数を ±MaxExpArg に切り詰めてから exp を計算します。
func StabilizeExp(x float64) float64 {
	return math.Exp(ClipValue(x, -MaxExpArg, MaxExpArg))
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return "finite"
}
