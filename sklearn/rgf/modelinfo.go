package rgf

import (
	"fmt"

	"github.com/YuminosukeSato/rgf/pkg/log"
)

// ModelInfo summarizes a model at a checkpoint.
type ModelInfo struct {
	Leaves          int    `json:"leaves" yaml:"leaves"`
	Trees           int    `json:"trees" yaml:"trees"`
	Features        int    `json:"features" yaml:"features"`
	NonzeroFeatures int    `json:"nonzero_features" yaml:"nonzero_features"`
	NonzeroNoDup    int    `json:"nonzero_nodup" yaml:"nonzero_nodup"`
	Signature       string `json:"signature" yaml:"signature"`
	Config          string `json:"config" yaml:"config"`
}

func (mi ModelInfo) String() string {
	return fmt.Sprintf("#tree=%d,#leaf=%d,#feat=%d,#nz=%d(nodup=%d),sign=%s",
		mi.Trees, mi.Leaves, mi.Features, mi.NonzeroFeatures, mi.NonzeroNoDup, mi.Signature)
}

// logAttrs returns key-value pairs for structured logging.
func (mi ModelInfo) logAttrs() []any {
	return []any{
		log.TreesKey, mi.Trees,
		log.LeavesKey, mi.Leaves,
		"features", mi.Features,
		"nonzero", mi.NonzeroFeatures,
	}
}

// Info summarizes a trained model, e.g. one read back from a file.
func (e *Ensemble) Info() (ModelInfo, error) {
	fm := NewFeatMap()
	if _, err := fm.update(e); err != nil {
		return ModelInfo{}, err
	}
	nz, nzNoDup := fm.countNonzero(e)
	return ModelInfo{
		Leaves:          e.NumLeaves(),
		Trees:           e.NumTrees(),
		Features:        fm.NumActive(),
		NonzeroFeatures: nz,
		NonzeroNoDup:    nzNoDup,
		Signature:       e.Signature,
		Config:          e.Config,
	}, nil
}
