package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/sklearn/rgf"
)

// dataFiles names the inputs of one labeled dataset.
type dataFiles struct {
	Name    string `yaml:"name"`
	X       string `yaml:"x"`
	Y       string `yaml:"y"`
	Weights string `yaml:"weights"`
}

// job is the YAML training configuration.
//
//	params:
//	  algorithm: RGF
//	  reg_L2: 0.1
//	  max_leaf_forest: 500
//	train: {x: train.x.npy, y: train.y.npy}
//	eval:
//	  - {name: valid, x: valid.x.npy, y: valid.y.npy}
//	model_out: model.rgf
type job struct {
	Params rgf.Params  `yaml:"params"`
	Train  dataFiles   `yaml:"train"`
	Eval   []dataFiles `yaml:"eval"`

	InitModel        string `yaml:"init_model"`
	ModelOut         string `yaml:"model_out"`
	CheckpointPrefix string `yaml:"checkpoint_prefix"`
	MetricsOut       string `yaml:"metrics_out"`
	CurveOut         string `yaml:"curve_out"`

	EarlyStoppingRounds int    `yaml:"early_stopping_rounds"`
	EarlyStoppingMetric string `yaml:"early_stopping_metric"`
	TimeLimit           string `yaml:"time_limit"`
}

// loadJob reads path on top of the default parameters. An empty path
// yields the defaults. Unknown keys are rejected.
func loadJob(path string) (job, error) {
	j := job{Params: rgf.DefaultParams()}
	if path == "" {
		return j, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return j, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&j); err != nil {
		return j, errors.Wrapf(err, "parse config %s", path)
	}
	return j, nil
}

// applySets overlays "key=value[,key=value]" strings on the parameters.
func (j *job) applySets(sets []string) error {
	for _, s := range sets {
		if err := j.Params.Set(s); err != nil {
			return err
		}
	}
	return nil
}
