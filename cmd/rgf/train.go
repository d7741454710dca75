package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/rgf/internal/dataio"
	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
	"github.com/YuminosukeSato/rgf/sklearn/rgf"
)

type trainOptions struct {
	config string
	sets   []string
	job    job // flag values, merged over the config file
	valid  dataFiles
}

func newTrainCmd() *cobra.Command {
	var o trainOptions
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a forest and save the model",
		Long: `Train reads an optional YAML job file, overlays --set parameters and
command line paths, trains until a stopping condition is met and writes the
model file. Parameters use the same keys as the model config string.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, &o)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&o.config, "config", "c", "", "YAML job file")
	fl.StringArrayVar(&o.sets, "set", nil, "parameter overlay key=value[,key=value] (repeatable)")
	fl.StringVar(&o.job.Train.X, "x", "", "training features (.npy or text)")
	fl.StringVar(&o.job.Train.Y, "y", "", "training targets")
	fl.StringVar(&o.job.Train.Weights, "weights", "", "training example weights")
	fl.StringVar(&o.valid.X, "valid-x", "", "validation features")
	fl.StringVar(&o.valid.Y, "valid-y", "", "validation targets")
	fl.StringVar(&o.job.InitModel, "init-model", "", "continue training from this model")
	fl.StringVarP(&o.job.ModelOut, "model-out", "o", "", "final model file")
	fl.StringVar(&o.job.CheckpointPrefix, "checkpoint-prefix", "", "save a model at each test checkpoint as <prefix>-NN")
	fl.StringVar(&o.job.MetricsOut, "metrics-out", "", "write training metrics in Prometheus text format")
	fl.StringVar(&o.job.CurveOut, "curve-out", "", "learning curve image (.png, .svg)")
	fl.IntVar(&o.job.EarlyStoppingRounds, "early-stopping", 0, "stop after this many checkpoints without improvement")
	fl.StringVar(&o.job.EarlyStoppingMetric, "early-stopping-metric", "", "metric watched by --early-stopping (default <first eval>.loss)")
	fl.StringVar(&o.job.TimeLimit, "time-limit", "", "stop at the first checkpoint after this duration, e.g. 10m")
	return cmd
}

// merge overlays the non-empty flag values on j.
func (o *trainOptions) merge(j *job) {
	f := o.job
	for dst, src := range map[*string]string{
		&j.Train.X:             f.Train.X,
		&j.Train.Y:             f.Train.Y,
		&j.Train.Weights:       f.Train.Weights,
		&j.InitModel:           f.InitModel,
		&j.ModelOut:            f.ModelOut,
		&j.CheckpointPrefix:    f.CheckpointPrefix,
		&j.MetricsOut:          f.MetricsOut,
		&j.CurveOut:            f.CurveOut,
		&j.EarlyStoppingMetric: f.EarlyStoppingMetric,
		&j.TimeLimit:           f.TimeLimit,
	} {
		if src != "" {
			*dst = src
		}
	}
	if f.EarlyStoppingRounds > 0 {
		j.EarlyStoppingRounds = f.EarlyStoppingRounds
	}
	if o.valid.X != "" || o.valid.Y != "" {
		v := o.valid
		v.Name = "valid"
		j.Eval = append(j.Eval, v)
	}
}

func runTrain(cmd *cobra.Command, o *trainOptions) error {
	logger := log.GetLoggerWithName("rgf.cli")

	j, err := loadJob(o.config)
	if err != nil {
		return err
	}
	o.merge(&j)
	if err := j.applySets(o.sets); err != nil {
		return err
	}
	if j.Train.X == "" || j.Train.Y == "" {
		return errors.NewValidationError("train", "training features and targets are required", j.Train)
	}
	if j.ModelOut == "" && j.CheckpointPrefix == "" {
		return errors.NewValidationError("model_out", "nothing would be saved; set --model-out or --checkpoint-prefix", "")
	}

	data, y, w, err := loadLabeled(j.Train)
	if err != nil {
		return err
	}
	cfg := rgf.TrainConfig{Weights: w}
	for i, ef := range j.Eval {
		if ef.Name == "" {
			ef.Name = fmt.Sprintf("eval%d", i)
		}
		ed, ey, ew, err := loadLabeled(ef)
		if err != nil {
			return err
		}
		cfg.EvalSets = append(cfg.EvalSets, rgf.EvalSet{Name: ef.Name, Data: ed, Y: ey, W: ew})
	}
	if j.InitModel != "" {
		if cfg.InitModel, err = rgf.LoadEnsemble(j.InitModel); err != nil {
			return err
		}
	}
	if cfg.Callbacks, err = j.callbacks(cfg.EvalSets, logger); err != nil {
		return err
	}

	metrics := rgf.NewMetrics()
	cfg.Options = []rgf.ForestOption{rgf.WithMetrics(metrics)}

	start := time.Now()
	model, err := rgf.Train(cmd.Context(), j.Params, data, y, cfg)
	if err != nil {
		return err
	}
	if j.ModelOut != "" {
		if err := model.Save(j.ModelOut); err != nil {
			return err
		}
	}
	if j.MetricsOut != "" {
		if err := prometheus.WriteToTextfile(j.MetricsOut, metrics.Registry()); err != nil {
			return errors.Wrapf(err, "write metrics %s", j.MetricsOut)
		}
	}

	info, err := model.Info()
	if err != nil {
		return err
	}
	logger.Info("Training finished",
		log.TreesKey, info.Trees,
		log.LeavesKey, info.Leaves,
		log.PathKey, j.ModelOut,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), info.String())
	return nil
}

func (j *job) callbacks(evals []rgf.EvalSet, logger log.Logger) ([]rgf.Callback, error) {
	var cbs []rgf.Callback
	if len(evals) > 0 {
		cbs = append(cbs, rgf.LogEvaluation(logger, 1))
	}
	if j.CheckpointPrefix != "" {
		cbs = append(cbs, rgf.ModelCheckpoint(j.CheckpointPrefix))
	}
	if j.TimeLimit != "" {
		d, err := time.ParseDuration(j.TimeLimit)
		if err != nil {
			return nil, errors.NewValidationError("time_limit", "not a duration", j.TimeLimit)
		}
		cbs = append(cbs, rgf.TimeLimit(d))
	}

	metric := j.EarlyStoppingMetric
	if metric == "" && len(evals) > 0 {
		metric = evals[0].Name + ".loss"
	}
	if j.EarlyStoppingRounds > 0 {
		if len(evals) == 0 {
			return nil, errors.NewValidationError("early_stopping_rounds", "needs an eval set", j.EarlyStoppingRounds)
		}
		cbs = append(cbs, rgf.EarlyStopping(j.EarlyStoppingRounds, metric, !strings.HasSuffix(metric, ".auc")))
	}
	if j.CurveOut != "" {
		if metric == "" {
			return nil, errors.NewValidationError("curve_out", "needs an eval set", j.CurveOut)
		}
		cbs = append(cbs, rgf.LearningCurvePlot(j.CurveOut, metric))
	}
	return cbs, nil
}

// loadLabeled reads features, targets and optional weights.
func loadLabeled(df dataFiles) (*rgf.Dataset, []float64, []float64, error) {
	if df.X == "" || df.Y == "" {
		return nil, nil, nil, errors.NewValidationError(df.Name, "features and targets are required", df)
	}
	X, err := dataio.ReadMatrix(df.X)
	if err != nil {
		return nil, nil, nil, err
	}
	data, err := rgf.NewDataset(X)
	if err != nil {
		return nil, nil, nil, err
	}
	y, err := dataio.ReadVector(df.Y)
	if err != nil {
		return nil, nil, nil, err
	}
	var w []float64
	if df.Weights != "" {
		if w, err = dataio.ReadVector(df.Weights); err != nil {
			return nil, nil, nil, err
		}
	}
	return data, y, w, nil
}
