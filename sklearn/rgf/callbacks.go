package rgf

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

// CallbackEnv contains the environment for callbacks
type CallbackEnv struct {
	Forest       *Forest
	Checkpoint   int // 1-based
	Final        bool
	Elapsed      time.Duration
	Info         ModelInfo
	EvalResults  map[string]float64 // "<eval set>.<metric>"
	Predictions  map[string][]float64
	StopTraining bool
}

// Callback is called at every test checkpoint and once at the end of
// training.
type Callback func(ctx context.Context, env *CallbackEnv) error

// CallbackList manages multiple callbacks
type CallbackList struct {
	callbacks []Callback
	stop      bool
}

// NewCallbackList creates a new callback list
func NewCallbackList(callbacks ...Callback) *CallbackList {
	return &CallbackList{callbacks: callbacks}
}

// AfterCheckpoint runs every callback in order.
func (cl *CallbackList) AfterCheckpoint(ctx context.Context, env *CallbackEnv) error {
	for _, cb := range cl.callbacks {
		if err := cb(ctx, env); err != nil {
			return err
		}
	}
	cl.stop = cl.stop || env.StopTraining
	return nil
}

// ShouldStop returns whether training should stop
func (cl *CallbackList) ShouldStop() bool {
	return cl.stop
}

// LogEvaluation logs the scores of every period-th checkpoint.
func LogEvaluation(logger log.Logger, period int) Callback {
	if period < 1 {
		period = 1
	}
	return func(_ context.Context, env *CallbackEnv) error {
		if env.Checkpoint%period != 0 && !env.Final {
			return nil
		}
		kv := append(env.Info.logAttrs(), "checkpoint", env.Checkpoint)
		names := make([]string, 0, len(env.EvalResults))
		for name := range env.EvalResults {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			kv = append(kv, name, env.EvalResults[name])
		}
		logger.Info("Evaluation", kv...)
		return nil
	}
}

// RecordEvaluation records evaluation history
func RecordEvaluation(history *map[string][]float64) Callback {
	return func(_ context.Context, env *CallbackEnv) error {
		if *history == nil {
			*history = make(map[string][]float64)
		}
		for name, value := range env.EvalResults {
			(*history)[name] = append((*history)[name], value)
		}
		(*history)["leaves"] = append((*history)["leaves"], float64(env.Info.Leaves))
		return nil
	}
}

// EarlyStopping stops training when metric has not improved for rounds
// checkpoints.
func EarlyStopping(rounds int, metric string, minimize bool) Callback {
	best := math.Inf(1)
	if !minimize {
		best = math.Inf(-1)
	}
	bestCheckpoint, noImprove := 0, 0
	return func(_ context.Context, env *CallbackEnv) error {
		value, ok := env.EvalResults[metric]
		if !ok {
			return nil
		}
		if (minimize && value < best) || (!minimize && value > best) {
			best, bestCheckpoint, noImprove = value, env.Checkpoint, 0
			return nil
		}
		noImprove++
		if noImprove >= rounds {
			env.Forest.logger.Info("Early stopping",
				"checkpoint", env.Checkpoint, "best_checkpoint", bestCheckpoint, metric, best)
			env.StopTraining = true
		}
		return nil
	}
}

// TimeLimit stops training after a specified duration
func TimeLimit(maxDuration time.Duration) Callback {
	return func(_ context.Context, env *CallbackEnv) error {
		if env.Elapsed > maxDuration {
			env.StopTraining = true
		}
		return nil
	}
}

// CheckpointPath returns the file name of the n-th model snapshot.
func CheckpointPath(prefix string, n int) string {
	return fmt.Sprintf("%s-%02d", prefix, n)
}

// ModelCheckpoint saves the model at every checkpoint as <prefix>-01,
// <prefix>-02, ...
func ModelCheckpoint(prefix string) Callback {
	return func(ctx context.Context, env *CallbackEnv) error {
		model, err := env.Forest.Model(ctx)
		if err != nil {
			return err
		}
		path := CheckpointPath(prefix, env.Checkpoint)
		if err := model.Save(path); err != nil {
			return err
		}
		env.Forest.logger.Info("Model saved", log.PathKey, path, log.LeavesKey, env.Info.Leaves)
		return nil
	}
}

// LearningCurvePlot collects metric against the leaf count and saves a line
// plot to path when training ends. The format follows the extension
// (png, svg, pdf, ...).
func LearningCurvePlot(path string, metrics ...string) Callback {
	curves := make(map[string]plotter.XYs, len(metrics))
	return func(_ context.Context, env *CallbackEnv) error {
		for _, m := range metrics {
			if v, ok := env.EvalResults[m]; ok {
				curves[m] = append(curves[m], plotter.XY{X: float64(env.Info.Leaves), Y: v})
			}
		}
		if !env.Final {
			return nil
		}
		return saveCurves(path, metrics, curves)
	}
}

func saveCurves(path string, order []string, curves map[string]plotter.XYs) error {
	p := plot.New()
	p.Title.Text = "Learning curve"
	p.X.Label.Text = "#leaf"
	p.Y.Label.Text = "score"
	for i, name := range order {
		pts, ok := curves[name]
		if !ok {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "curve %s", name)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		line.Width = vg.Points(2)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.NewModelError("LearningCurvePlot", "write", err)
	}
	return nil
}
