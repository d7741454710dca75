package rgf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

func quietOptions() []ForestOption {
	return []ForestOption{WithLogger(log.NewTestLogger(log.LevelWarn))}
}

func TestTrain_RecordEvaluation(t *testing.T) {
	data, y := stepData(t, 200, 21)
	valid, vy := stepData(t, 100, 22)

	var history map[string][]float64
	model, err := Train(context.Background(), testParams(nil), data, y, TrainConfig{
		EvalSets:  []EvalSet{{Name: "valid", Data: valid, Y: vy}},
		Callbacks: []Callback{RecordEvaluation(&history)},
		Options:   quietOptions(),
	})
	require.NoError(t, err)

	leaves := history["leaves"]
	require.GreaterOrEqual(t, len(leaves), 2, "one test point and the final checkpoint")
	for _, key := range []string{"valid.loss", "valid.rmse", "valid.mae"} {
		assert.Len(t, history[key], len(leaves), key)
	}
	assert.Equal(t, float64(model.NumLeaves()), leaves[len(leaves)-1])
	assert.Less(t, leaves[0], leaves[len(leaves)-1])

	scores := history["valid.rmse"]
	assert.Less(t, scores[len(scores)-1], baselineRMSE(vy))
}

func TestTrain_ModelCheckpoint(t *testing.T) {
	data, y := stepData(t, 200, 23)
	prefix := filepath.Join(t.TempDir(), "model")
	curve := filepath.Join(t.TempDir(), "curve.png")

	valid, vy := stepData(t, 50, 24)
	model, err := Train(context.Background(), testParams(nil), data, y, TrainConfig{
		EvalSets:  []EvalSet{{Name: "valid", Data: valid, Y: vy}},
		Callbacks: []Callback{ModelCheckpoint(prefix), LearningCurvePlot(curve, "valid.rmse")},
		Options:   quietOptions(),
	})
	require.NoError(t, err)

	first, err := LoadEnsemble(CheckpointPath(prefix, 1))
	require.NoError(t, err)
	assert.Less(t, first.NumLeaves(), model.NumLeaves())

	final, err := LoadEnsemble(CheckpointPath(prefix, 2))
	require.NoError(t, err)
	assert.Equal(t, model.NumLeaves(), final.NumLeaves())

	_, err = os.Stat(CheckpointPath(prefix, 3))
	assert.True(t, os.IsNotExist(err))

	st, err := os.Stat(curve)
	require.NoError(t, err)
	assert.Positive(t, st.Size())
}

func TestTrain_StopEarly(t *testing.T) {
	data, y := stepData(t, 200, 25)
	model, err := Train(context.Background(), testParams(nil), data, y, TrainConfig{
		Callbacks: []Callback{TimeLimit(0)},
		Options:   quietOptions(),
	})
	require.NoError(t, err)
	assert.Less(t, model.NumLeaves(), 40)
	assert.GreaterOrEqual(t, model.NumLeaves(), 20)
}

func TestTrain_WarmStart(t *testing.T) {
	data, y := stepData(t, 150, 26)
	ctx := context.Background()
	seed, err := Train(ctx, testParams(func(p *Params) { p.MaxLeafForest = 12 }), data, y, TrainConfig{Options: quietOptions()})
	require.NoError(t, err)

	model, err := Train(ctx, testParams(nil), data, y, TrainConfig{InitModel: seed, Options: quietOptions()})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, model.NumLeaves(), 40)
	assert.Equal(t, seed.Tree(0).Node(0).Border, model.Tree(0).Node(0).Border)
}

func TestTrain_Errors(t *testing.T) {
	data, y := stepData(t, 50, 27)
	ctx := context.Background()

	_, err := Train(ctx, testParams(nil), data, y, TrainConfig{
		EvalSets: []EvalSet{{Name: "bad", Data: data, Y: y[:10]}},
		Options:  quietOptions(),
	})
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	_, err = Train(ctx, testParams(nil), data, y, TrainConfig{
		EvalSets: []EvalSet{{Name: "nil"}},
		Options:  quietOptions(),
	})
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	boom := errors.New("boom")
	_, err = Train(ctx, testParams(nil), data, y, TrainConfig{
		Callbacks: []Callback{func(context.Context, *CallbackEnv) error { return boom }},
		Options:   quietOptions(),
	})
	assert.ErrorIs(t, err, boom)
}

func TestEvaluate(t *testing.T) {
	y := []float64{1, -1, 1, -1}
	p := []float64{0.5, -0.5, -0.2, 0.1}

	ls := evaluate(LossSquare, y, nil, p)
	assert.ElementsMatch(t, []string{"loss", "rmse", "mae"}, keys(ls))
	assert.InDelta(t, (0.5+0.5+1.2+1.1)/4, ls["mae"], 1e-12)

	lg := evaluate(LossLog, y, nil, p)
	assert.ElementsMatch(t, []string{"loss", "error", "auc"}, keys(lg))
	assert.InDelta(t, 0.5, lg["error"], 1e-12)
	assert.InDelta(t, 0.75, lg["auc"], 1e-12)

	assert.ElementsMatch(t, []string{"loss"}, keys(evaluate(LossSquare, nil, nil, nil)))
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestEarlyStopping(t *testing.T) {
	logger := log.NewTestLogger(log.LevelInfo)
	f, err := NewForest(testParams(nil), WithLogger(logger))
	require.NoError(t, err)

	cb := EarlyStopping(2, "valid.loss", true)
	ctx := context.Background()
	var stoppedAt int
	for i, v := range []float64{1.0, 0.9, 0.95, 0.96, 0.5} {
		env := &CallbackEnv{Forest: f, Checkpoint: i + 1, EvalResults: map[string]float64{"valid.loss": v}}
		require.NoError(t, cb(ctx, env))
		if env.StopTraining {
			stoppedAt = env.Checkpoint
			break
		}
	}
	assert.Equal(t, 4, stoppedAt)
	assert.True(t, logger.ContainsMessage("Early stopping"))

	maximize := EarlyStopping(1, "valid.auc", false)
	env := &CallbackEnv{Forest: f, Checkpoint: 1, EvalResults: map[string]float64{"valid.auc": 0.7}}
	require.NoError(t, maximize(ctx, env))
	env = &CallbackEnv{Forest: f, Checkpoint: 2, EvalResults: map[string]float64{"valid.auc": 0.8}}
	require.NoError(t, maximize(ctx, env))
	assert.False(t, env.StopTraining)

	env = &CallbackEnv{Forest: f, Checkpoint: 3}
	require.NoError(t, maximize(ctx, env))
	assert.False(t, env.StopTraining, "a missing metric is ignored")
}

func TestCallbackList(t *testing.T) {
	var calls []int
	mk := func(id int, stop bool) Callback {
		return func(_ context.Context, env *CallbackEnv) error {
			calls = append(calls, id)
			if stop {
				env.StopTraining = true
			}
			return nil
		}
	}
	cl := NewCallbackList(mk(1, false), mk(2, true), TimeLimit(time.Hour))
	require.NoError(t, cl.AfterCheckpoint(context.Background(), &CallbackEnv{}))
	assert.Equal(t, []int{1, 2}, calls)
	assert.True(t, cl.ShouldStop())

	assert.Equal(t, "out/m-03", CheckpointPath("out/m", 3))
}

func TestLogEvaluation(t *testing.T) {
	logger := log.NewTestLogger(log.LevelInfo)
	cb := LogEvaluation(logger, 2)
	ctx := context.Background()

	require.NoError(t, cb(ctx, &CallbackEnv{Checkpoint: 1, EvalResults: map[string]float64{"valid.rmse": 1}}))
	assert.False(t, logger.ContainsMessage("Evaluation"))

	require.NoError(t, cb(ctx, &CallbackEnv{Checkpoint: 2, EvalResults: map[string]float64{"valid.rmse": 0.5}}))
	assert.True(t, logger.ContainsMessage("Evaluation"))
	assert.True(t, logger.ContainsField("valid.rmse", 0.5))
}
