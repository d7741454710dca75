package errors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckScalar(t *testing.T) {
	assert.NoError(t, CheckScalar("op", 1.5))
	assert.Error(t, CheckScalar("op", math.NaN()))
	assert.Error(t, CheckSlice("op", []float64{0, math.Inf(-1)}))

	var vErr *ValueError
	err := CheckScalar("Loss.Deriv", math.Inf(1))
	assert.True(t, As(err, &vErr))
	assert.Equal(t, "rgf: Loss.Deriv: numerical instability detected: +Inf", err.Error())
}

func TestStabilizeExp(t *testing.T) {
	assert.Equal(t, math.Exp(MaxExpArg), StabilizeExp(1e6))
	assert.Equal(t, math.Exp(-MaxExpArg), StabilizeExp(-1e6))
	assert.InDelta(t, math.E, StabilizeExp(1), 1e-12)
	assert.Equal(t, 0.0, SafeDivide(1, 0))
	assert.Equal(t, 2.0, ClipValue(5, -2, 2))
}
