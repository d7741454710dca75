package rgf

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

// trainToEnd cold-starts a forest and proceeds until it exits. It returns
// the forest and the number of test checkpoints seen.
func trainToEnd(t *testing.T, prm Params, data *Dataset, y []float64, opts ...ForestOption) (*Forest, int) {
	t.Helper()
	opts = append([]ForestOption{WithLogger(log.NewTestLogger(log.LevelWarn))}, opts...)
	f, err := NewForest(prm, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	require.NoError(t, f.ColdStart(data, y, nil))

	tests := 0
	ctx := context.Background()
	for {
		st, err := f.Proceed(ctx)
		require.NoError(t, err)
		if st == StatusExit {
			return f, tests
		}
		tests++
	}
}

func baselineRMSE(y []float64) float64 {
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	c := make([]float64, len(y))
	for i := range c {
		c[i] = mean
	}
	return rmse(c, y)
}

func TestForest_ColdStart(t *testing.T) {
	data, y := stepData(t, 200, 1)
	m := NewMetrics()
	f, tests := trainToEnd(t, testParams(nil), data, y, WithMetrics(m))

	assert.Equal(t, ExitLeafMax, f.ExitReason())
	assert.GreaterOrEqual(t, f.NumLeaves(), 40)
	assert.LessOrEqual(t, f.NumLeaves(), 41, "a root split adds at most two leaves")
	assert.GreaterOrEqual(t, tests, 1)
	assert.Equal(t, defaultRGFSignature, f.Signature())

	model, err := f.Model(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.NumLeaves(), model.NumLeaves())
	assert.Equal(t, f.config, model.Config)
	assert.False(t, model.usesInternalNodes())

	pred, err := model.Predict(data)
	require.NoError(t, err)
	assert.Less(t, rmse(pred, y), baselineRMSE(y)/2)

	fi := model.Importance()
	assert.Positive(t, fi.Splits[0], "the step feature is used")

	info := f.Info()
	assert.Equal(t, model.NumTrees(), info.Trees)
	assert.Positive(t, info.NonzeroFeatures)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.exits.WithLabelValues(ExitLeafMax)))
	assert.Positive(t, testutil.ToFloat64(m.splits))
	assert.Positive(t, testutil.ToFloat64(m.optimizerCalls))
	assert.Equal(t, float64(tests), testutil.ToFloat64(m.testPoints))
	assert.Equal(t, float64(f.NumLeaves()), testutil.ToFloat64(m.leaves))

	st, err := f.Proceed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusExit, st, "an exited forest stays exited")
}

func TestForest_ApplyMatchesModel(t *testing.T) {
	data, y := stepData(t, 150, 2)
	ctx := context.Background()

	t.Run("after exit", func(t *testing.T) {
		f, _ := trainToEnd(t, testParams(nil), data, y)
		got, info, err := f.Apply(ctx, NewTestData(data))
		require.NoError(t, err)
		model, err := f.Model(ctx)
		require.NoError(t, err)
		want, err := model.Predict(data)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-9)
		assert.Equal(t, f.NumLeaves(), info.Leaves)
	})

	t.Run("branch-off leaves training state alone", func(t *testing.T) {
		prm := testParams(func(p *Params) {
			p.OptInterval = 100
			p.TestInterval = 20
			p.MaxLeafForest = 60
		})
		f, err := NewForest(prm, WithLogger(log.NewTestLogger(log.LevelWarn)))
		require.NoError(t, err)
		require.NoError(t, f.ColdStart(data, y, nil))

		st, err := f.Proceed(ctx)
		require.NoError(t, err)
		require.Equal(t, StatusTestNow, st)
		require.False(t, f.isOpt, "no optimization before the first test point")

		leaves := f.NumLeaves()
		p := append([]float64(nil), f.p...)
		td := NewTestData(data)
		got, _, err := f.Apply(ctx, td)
		require.NoError(t, err)
		assert.Zero(t, td.NumColumns(), "the caller's test data is not touched by a branch")
		assert.False(t, f.isOpt)
		assert.Equal(t, leaves, f.NumLeaves())
		assert.Equal(t, p, f.p)

		model, err := f.Model(ctx)
		require.NoError(t, err)
		want, err := model.Predict(data)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-9)

		for st != StatusExit {
			st, err = f.Proceed(ctx)
			require.NoError(t, err)
		}
		assert.True(t, f.isOpt)
	})
}

func TestForest_Algorithms(t *testing.T) {
	data, y := stepData(t, 120, 3)
	for _, algo := range []string{AlgoRGF, AlgoRGFOpt, AlgoRGFSib} {
		t.Run(algo, func(t *testing.T) {
			prm := testParams(func(p *Params) {
				p.Algorithm = algo
				p.MaxLeafForest = 24
				p.RegL2 = 0.1
			})
			f, _ := trainToEnd(t, prm, data, y)
			model, err := f.Model(context.Background())
			require.NoError(t, err)
			pred, err := model.Predict(data)
			require.NoError(t, err)
			assert.Less(t, rmse(pred, y), baselineRMSE(y))
			for _, p := range pred {
				assert.False(t, math.IsNaN(p))
			}
			if algo != AlgoRGF {
				assert.True(t, f.forceRefresh)
				assert.Equal(t, f.regs.signature(), model.Signature)
			}
		})
	}
}

func TestForest_RunningPredictionMatchesEnsemble(t *testing.T) {
	step, stepY := stepData(t, 120, 7)
	bin, binY := binaryData(t, 120, 8)
	tests := []struct {
		loss      string
		normalize bool
		internal  bool
	}{
		{loss: "LS"},
		{loss: "LS", normalize: true},
		{loss: "LS", internal: true},
		{loss: "Log"},
		{loss: "Expo"},
	}
	for _, algo := range []string{AlgoRGF, AlgoRGFOpt, AlgoRGFSib} {
		for _, tt := range tests {
			if tt.internal && algo != AlgoRGF {
				continue
			}
			name := fmt.Sprintf("%s/%s/normalize=%v/internal=%v", algo, tt.loss, tt.normalize, tt.internal)
			t.Run(name, func(t *testing.T) {
				data, y := step, stepY
				if tt.loss != "LS" {
					data, y = bin, binY
				}
				prm := testParams(func(p *Params) {
					p.Algorithm = algo
					p.Loss = tt.loss
					p.NormalizeTarget = tt.normalize
					p.UseInternalNodes = tt.internal
					p.MaxLeafForest = 30
					p.OptInterval = 7
					p.TestInterval = 3
				})
				f, err := NewForest(prm, WithLogger(log.NewTestLogger(log.LevelWarn)))
				require.NoError(t, err)
				t.Cleanup(func() { _ = f.Close() })
				require.NoError(t, f.ColdStart(data, y, nil))

				check := func(when string) {
					want, err := f.ens.Predict(data)
					require.NoError(t, err)
					assert.InDeltaSlice(t, want, f.p, 1e-9, "%s at #leaf=%d", when, f.lNum)
				}
				check("start")
				ctx := context.Background()
				for {
					st, err := f.Proceed(ctx)
					require.NoError(t, err)
					if st == StatusExit {
						check("exit")
						return
					}
					check("checkpoint")
				}
			})
		}
	}
}

func TestForest_LogLoss(t *testing.T) {
	data, y := binaryData(t, 200, 4)
	prm := testParams(func(p *Params) { p.Loss = "Log" })
	f, _ := trainToEnd(t, prm, data, y)
	model, err := f.Model(context.Background())
	require.NoError(t, err)
	score, err := model.Predict(data)
	require.NoError(t, err)

	wrong := 0
	for i, s := range score {
		if s*y[i] <= 0 {
			wrong++
		}
	}
	assert.Less(t, float64(wrong)/float64(len(y)), 0.15)
}

func TestForest_TreeLimits(t *testing.T) {
	data, y := stepData(t, 100, 5)
	prm := testParams(func(p *Params) {
		p.MaxTree = 2
		p.MaxLeafTree = 3
		p.MaxLeafForest = 100
	})
	f, _ := trainToEnd(t, prm, data, y)
	assert.Equal(t, ExitTreeMax, f.ExitReason())
	assert.Equal(t, 2, f.ens.NumTrees())
	for _, tree := range f.ens.trees {
		assert.LessOrEqual(t, tree.NumLeaves(), 3)
	}
}

func TestForest_SpillMatchesInMemory(t *testing.T) {
	data, y := stepData(t, 150, 6)
	prm := testParams(func(p *Params) {
		p.MaxLeafTree = 4
		p.MaxLeafForest = 30
	})
	plain, _ := trainToEnd(t, prm, data, y)

	store := newMemStore()
	m := NewMetrics()
	spilled, _ := trainToEnd(t, prm, data, y, WithIndexStore(store), WithMetrics(m))
	assert.Positive(t, store.puts)
	assert.Positive(t, testutil.ToFloat64(m.spilledBytes))

	ctx := context.Background()
	a, err := plain.Model(ctx)
	require.NoError(t, err)
	b, err := spilled.Model(ctx)
	require.NoError(t, err)
	pa, err := a.Predict(data)
	require.NoError(t, err)
	pb, err := b.Predict(data)
	require.NoError(t, err)
	assert.InDeltaSlice(t, pa, pb, 1e-9)
}

func TestForest_WarmStart(t *testing.T) {
	data, y := stepData(t, 150, 7)
	ctx := context.Background()
	first, _ := trainToEnd(t, testParams(func(p *Params) { p.MaxLeafForest = 10 }), data, y)
	seed, err := first.Model(ctx)
	require.NoError(t, err)

	t.Run("continues from the model", func(t *testing.T) {
		f, err := NewForest(testParams(nil), WithLogger(log.NewTestLogger(log.LevelWarn)))
		require.NoError(t, err)
		require.NoError(t, f.WarmStart(data, y, nil, seed))
		assert.Equal(t, seed.NumLeaves(), f.NumLeaves())

		for st := StatusTestNow; st != StatusExit; {
			st, err = f.Proceed(ctx)
			require.NoError(t, err)
		}
		model, err := f.Model(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, model.NumLeaves(), 40)
		assert.Equal(t, seed.Tree(0).Node(0).Feature, model.Tree(0).Node(0).Feature)
		assert.Equal(t, seed.Tree(0).Node(0).Border, model.Tree(0).Node(0).Border)

		before, err := seed.Predict(data)
		require.NoError(t, err)
		after, err := model.Predict(data)
		require.NoError(t, err)
		assert.Less(t, rmse(after, y), rmse(before, y))
	})

	t.Run("model already at capacity", func(t *testing.T) {
		f, err := NewForest(testParams(func(p *Params) { p.MaxLeafForest = 10 }))
		require.NoError(t, err)
		err = f.WarmStart(data, y, nil, seed)
		var ce *errors.CapacityError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, seed.NumLeaves(), ce.Leaves)
	})

	t.Run("tree budget already met", func(t *testing.T) {
		line := lineData(t, 8)
		one := newTree(treeConfig{})
		one.makeRoot(8)
		require.NoError(t, one.splitNode(0, &Split{Feature: 0, Border: 4.5, LeftWeight: -1, RightWeight: 1}, line))
		small := newEnsemble(0, 1)
		_, err := small.addTree(one)
		require.NoError(t, err)
		ly := []float64{-1, -1, -1, -1, 1, 1, 1, 1}

		f, err := NewForest(testParams(func(p *Params) { p.MaxTree = 1 }))
		require.NoError(t, err)
		err = f.WarmStart(line, ly, nil, small)
		var ce *errors.CapacityError
		require.True(t, errors.As(err, &ce), "got %v", err)
		assert.Equal(t, 1, ce.Trees)
		assert.Equal(t, 1, ce.MaxTrees)
		assert.Equal(t, 2, ce.Leaves)

		f, err = NewForest(testParams(func(p *Params) { p.MaxTree = 2 }), WithLogger(log.NewTestLogger(log.LevelWarn)))
		require.NoError(t, err)
		assert.NoError(t, f.WarmStart(line, ly, nil, small), "one tree below the budget")
	})

	t.Run("feature count mismatch", func(t *testing.T) {
		rows := make([][]float64, 150)
		for i := range rows {
			rows[i] = []float64{1, 2, 3}
		}
		wide, err := NewDatasetFromRows(rows)
		require.NoError(t, err)
		f, err := NewForest(testParams(nil))
		require.NoError(t, err)
		err = f.WarmStart(wide, y, nil, seed)
		var de *errors.DimensionError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, 2, de.Expected)
	})
}

func TestForest_Errors(t *testing.T) {
	data, y := stepData(t, 50, 8)
	ctx := context.Background()

	_, err := NewForest(DefaultParams())
	assert.Error(t, err, "reg_L2 is required")

	f, err := NewForest(testParams(nil))
	require.NoError(t, err)
	_, err = f.Proceed(ctx)
	assert.Error(t, err, "not started")
	_, _, err = f.Apply(ctx, NewTestData(data))
	assert.Error(t, err)
	_, err = f.Model(ctx)
	assert.Error(t, err)
	assert.Equal(t, ModelInfo{}, f.Info())

	var de *errors.DimensionError
	assert.True(t, errors.As(f.ColdStart(data, y[:10], nil), &de))

	require.NoError(t, f.ColdStart(data, y, nil))
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.Proceed(cctx)
	assert.ErrorIs(t, err, context.Canceled)
}
