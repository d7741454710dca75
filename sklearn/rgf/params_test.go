package rgf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Params)
		param string
	}{
		{"reg_L2 is required", func(p *Params) { p.RegL2 = -1 }, "reg_L2"},
		{"unknown algorithm", func(p *Params) { p.Algorithm = "XGB" }, "algorithm"},
		{"unknown loss", func(p *Params) { p.Loss = "Hinge" }, "loss"},
		{"f_ratio above one", func(p *Params) { p.FRatio = 1.5 }, "f_ratio"},
		{"zero leaf budget", func(p *Params) { p.MaxLeafForest = 0 }, "max_leaf_forest"},
		{"min-penalty needs reg_depth >= 1", func(p *Params) {
			p.Algorithm = AlgoRGFOpt
			p.RegDepth = 0.5
		}, "reg_depth"},
		{"internal nodes with structure regularization", func(p *Params) {
			p.Algorithm = AlgoRGFSib
			p.UseInternalNodes = true
		}, "use_internal_nodes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams(tt.mod)
			err := p.Validate()
			require.Error(t, err)
			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.param, ve.ParamName)
		})
	}

	t.Run("defaults with reg_L2", func(t *testing.T) {
		p := DefaultParams()
		assert.Error(t, p.Validate())
		p.RegL2 = 0.1
		assert.NoError(t, p.Validate())
	})
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams("reg_L2=0.1, loss=Log;NormalizeTarget\nmax_leaf_forest=500,opt_intercept=true")
	require.NoError(t, err)
	assert.Equal(t, 0.1, p.RegL2)
	assert.Equal(t, LossLog, p.LossType())
	assert.True(t, p.NormalizeTarget)
	assert.True(t, p.OptIntercept)
	assert.Equal(t, 500, p.MaxLeafForest)
	assert.Equal(t, 100, p.OptInterval, "untouched keys keep their defaults")

	errCases := []string{
		"no_such_key=1",
		"max_tree",
		"max_tree=abc",
		"reg_L2=x",
		"doTime=maybe",
	}
	for _, s := range errCases {
		t.Run(s, func(t *testing.T) {
			_, err := ParseParams(s)
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestParams_StringRoundTrip(t *testing.T) {
	p := testParams(func(p *Params) {
		p.Algorithm = AlgoRGFSib
		p.RegDepth = 1.5
		p.OptUnregIntercept = true
		p.TempForTrees = "/tmp/rgf"
	})
	s := p.String()
	assert.Contains(t, s, "algorithm=RGF_Sib")
	assert.Contains(t, s, "opt_unreg_intercept")
	assert.NotContains(t, s, "opt_intercept,")
	assert.NotContains(t, s, "doTime")

	back, err := ParseParams(s)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestParams_Derived(t *testing.T) {
	p := testParams(nil)
	assert.Equal(t, 20, p.maxTrees())
	p.MaxTree = 3
	assert.Equal(t, 3, p.maxTrees())

	assert.Equal(t, -1, p.maxLeavesPerTree())
	p.MaxDepth = 3
	assert.Equal(t, 8, p.maxLeavesPerTree())
	p.MaxLeafTree = 5
	assert.Equal(t, 5, p.maxLeavesPerTree())

	p.NumIterationOpt = -1
	assert.Equal(t, 10, p.optIterations())
	assert.Equal(t, -1.0, p.optMaxDelta())
	p.Loss = "Log"
	assert.Equal(t, 5, p.optIterations())
	assert.Equal(t, 1.0, p.optMaxDelta())

	assert.Equal(t, 0.01, p.searchLambda())
	p.RegSL2 = 0.2
	assert.Equal(t, 0.2, p.searchLambda())
	assert.Equal(t, 0.0, p.searchSigma())

	assert.False(t, p.usesTreeReg())
	p.Algorithm = AlgoRGFOpt
	assert.True(t, p.usesTreeReg())
}
