package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

func vec(v ...float64) *mat.VecDense { return mat.NewVecDense(len(v), v) }

func TestAUC(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []float64
		score []float64
		want  float64
	}{
		{name: "perfect", yTrue: []float64{-1, -1, -1, 1, 1, 1}, score: []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9}, want: 1},
		{name: "reversed", yTrue: []float64{-1, -1, -1, 1, 1, 1}, score: []float64{0.9, 0.8, 0.7, 0.3, 0.2, 0.1}, want: 0},
		{name: "all tied", yTrue: []float64{-1, 1, -1, 1}, score: []float64{0.5, 0.5, 0.5, 0.5}, want: 0.5},
		{name: "typical", yTrue: []float64{-1, -1, 1, 1}, score: []float64{0.1, 0.4, 0.35, 0.8}, want: 0.75},
		{name: "single class", yTrue: []float64{1, 1, 1}, score: []float64{0.1, 0.4, 0.35}, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(vec(tt.yTrue...), vec(tt.score...))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAccuracyAndError(t *testing.T) {
	y := vec(1, -1, 1, -1)
	s := vec(0.3, -2, -0.1, 0)
	acc, err := Accuracy(y, s)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, acc, 1e-12)

	e, err := ClassificationError(y, s)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, e, 1e-12)
}

func TestMarginLogLoss(t *testing.T) {
	got, err := MarginLogLoss(vec(1, -1), vec(0, 0))
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), got, 1e-12)

	got, err = MarginLogLoss(vec(1), vec(-100))
	require.NoError(t, err)
	assert.InDelta(t, 100, got, 1e-9)
}

func TestAUC_NonFinite(t *testing.T) {
	_, err := AUC(vec(-1, 1, 1), vec(0.1, math.NaN(), 0.3))
	var ve *errors.ValueError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "AUC", ve.Op)
}
