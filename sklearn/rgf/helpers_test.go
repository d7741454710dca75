package rgf

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

var errNoKey = errors.New("no such key")

func newTestRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// stepData returns n examples with two features where y depends on x0
// through a step and on x1 linearly.
func stepData(t *testing.T, n int, seed int64) (*Dataset, []float64) {
	t.Helper()
	rng := newTestRand(seed)
	rows := make([][]float64, n)
	y := make([]float64, n)
	for i := range rows {
		x0, x1 := rng.Float64()*10, rng.Float64()*4
		rows[i] = []float64{x0, x1}
		y[i] = 0.5 * x1
		if x0 > 5 {
			y[i] += 3
		}
	}
	data, err := NewDatasetFromRows(rows)
	require.NoError(t, err)
	return data, y
}

// binaryData returns ±1 labels separable on x0 > 0.
func binaryData(t *testing.T, n int, seed int64) (*Dataset, []float64) {
	t.Helper()
	rng := newTestRand(seed)
	rows := make([][]float64, n)
	y := make([]float64, n)
	for i := range rows {
		x0, x1 := rng.NormFloat64(), rng.NormFloat64()
		rows[i] = []float64{x0, x1}
		y[i] = -1
		if x0 > 0 {
			y[i] = 1
		}
	}
	data, err := NewDatasetFromRows(rows)
	require.NoError(t, err)
	return data, y
}

func testParams(mod func(*Params)) Params {
	prm := DefaultParams()
	prm.RegL2 = 0.01
	prm.MaxLeafForest = 40
	prm.OptInterval = 10
	prm.TestInterval = 20
	prm.MinPop = 2
	prm.RandomSeed = 1
	if mod != nil {
		mod(&prm)
	}
	return prm
}

func rmse(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(a)))
}

// memStore is an in-memory IndexStore.
type memStore struct {
	m    map[string][]byte
	puts int
}

func newMemStore() *memStore { return &memStore{m: make(map[string][]byte)} }

func (s *memStore) Put(key string, value []byte) error {
	s.m[key] = append([]byte(nil), value...)
	s.puts++
	return nil
}

func (s *memStore) Get(key string) ([]byte, error) {
	v, ok := s.m[key]
	if !ok {
		return nil, errNoKey
	}
	return v, nil
}

func (s *memStore) Delete(key string) error {
	delete(s.m, key)
	return nil
}
