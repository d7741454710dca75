package rgf

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rgf/metrics"
	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

// EvalSet is a labeled dataset scored at every test checkpoint.
type EvalSet struct {
	Name string
	Data *Dataset
	Y    []float64
	W    []float64
}

// TrainConfig holds the optional inputs of Train.
type TrainConfig struct {
	// Weights are per-example training weights. nil means uniform.
	Weights []float64
	// InitModel continues training from an existing model.
	InitModel *Ensemble
	EvalSets  []EvalSet
	Callbacks []Callback
	Options   []ForestOption
}

// Train runs a forest to completion. Eval sets are scored at each test
// checkpoint and the results are handed to the callbacks, which may stop
// training early.
func Train(ctx context.Context, prm Params, data *Dataset, y []float64, cfg TrainConfig) (model *Ensemble, err error) {
	defer errors.Recover(&err, "rgf.Train")

	f, err := NewForest(prm, cfg.Options...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if cfg.InitModel != nil {
		err = f.WarmStart(data, y, cfg.Weights, cfg.InitModel)
	} else {
		err = f.ColdStart(data, y, cfg.Weights)
	}
	if err != nil {
		return nil, err
	}

	tests := make([]*TestData, len(cfg.EvalSets))
	for i, es := range cfg.EvalSets {
		if es.Data == nil {
			return nil, errors.NewValidationError("EvalSets", "nil dataset", es.Name)
		}
		rows, _ := es.Data.Dims()
		if rows != len(es.Y) {
			return nil, errors.NewDimensionError("rgf.Train", rows, len(es.Y), 0)
		}
		tests[i] = NewTestData(es.Data)
	}

	cbs := NewCallbackList(cfg.Callbacks...)
	start := time.Now()
	loss := prm.LossType()
	for checkpoint := 1; ; checkpoint++ {
		status, err := f.Proceed(ctx)
		if err != nil {
			return nil, err
		}
		env := &CallbackEnv{
			Forest:      f,
			Checkpoint:  checkpoint,
			Final:       status == StatusExit,
			Elapsed:     time.Since(start),
			EvalResults: make(map[string]float64),
			Predictions: make(map[string][]float64, len(tests)),
		}
		if len(tests) == 0 {
			env.Info = f.Info()
		}
		for i, td := range tests {
			es := cfg.EvalSets[i]
			p, info, err := f.Apply(ctx, td)
			if err != nil {
				return nil, err
			}
			env.Info = info
			env.Predictions[es.Name] = p
			for name, v := range evaluate(loss, es.Y, es.W, p) {
				env.EvalResults[es.Name+"."+name] = v
			}
		}
		if len(env.EvalResults) > 0 {
			f.logger.Info("Checkpoint", append(env.Info.logAttrs(), "scores", env.EvalResults)...)
		}
		if err := cbs.AfterCheckpoint(ctx, env); err != nil {
			return nil, err
		}
		if status == StatusExit {
			break
		}
		if cbs.ShouldStop() {
			f.logger.Info("Training stopped by callback", log.LeavesKey, f.NumLeaves())
			break
		}
	}
	return f.Model(ctx)
}

// evaluate scores predictions p against y. Regression losses get rmse and
// mae; classification losses get error and auc. Every loss gets its
// average value.
func evaluate(loss LossType, y, w, p []float64) map[string]float64 {
	out := map[string]float64{"loss": loss.AverageLoss(p, y, w)}
	if len(y) == 0 || len(y) != len(p) {
		return out
	}
	yv := mat.NewVecDense(len(y), append([]float64(nil), y...))
	pv := mat.NewVecDense(len(p), append([]float64(nil), p...))
	if loss == LossSquare {
		if v, err := metrics.RMSE(yv, pv); err == nil {
			out["rmse"] = v
		}
		if v, err := metrics.MAE(yv, pv); err == nil {
			out["mae"] = v
		}
		return out
	}
	if v, err := metrics.ClassificationError(yv, pv); err == nil {
		out["error"] = v
	}
	if v, err := metrics.AUC(yv, pv); err == nil {
		out["auc"] = v
	}
	return out
}
