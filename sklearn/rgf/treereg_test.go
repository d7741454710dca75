package rgf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

func TestMinPenaltyReg_OneSplit(t *testing.T) {
	// root with leaves a=-1, b=1: bar(root) = (a+b)/3 and
	// dP/db = (2b-a)/3, d²P/db² = 2/3
	data := lineData(t, 4)
	tree := newTree(treeConfig{})
	tree.makeRoot(4)
	require.NoError(t, tree.splitNode(0, &Split{Feature: 0, Border: 2.5, LeftWeight: -1, RightWeight: 1}, data))
	rd, err := NewRegDepth(1)
	require.NoError(t, err)

	regs := newRegArray(AlgoRGFOpt, 10)
	regs.reset(1)
	reg, err := regs.reg(0)
	require.NoError(t, err)
	require.NoError(t, reg.reset(tree, rd))

	dr, ddr, err := reg.penaltyDerivAt(2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dr, 1e-12)
	assert.InDelta(t, 2.0/3, ddr, 1e-12)

	dr, ddr, err = reg.penaltyDerivAt(1)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, dr, 1e-12)
	assert.InDelta(t, 2.0/3, ddr, 1e-12)

	// moving b by 1 shifts dP/db by d²P/db²
	reg.changeWeight(2, 1)
	dr, _, err = reg.penaltyDerivAt(2)
	require.NoError(t, err)
	assert.InDelta(t, 1+2.0/3, dr, 1e-12)
}

func TestMinPenaltyReg_RootLeaf(t *testing.T) {
	tree := newTree(treeConfig{})
	tree.makeRoot(4)
	tree.setWeight(0, 0.7)
	rd, err := NewRegDepth(2)
	require.NoError(t, err)

	reg := &minPenaltyReg{iteNum: 10, coeff: &coeffCache{}}
	require.NoError(t, reg.reset(tree, rd))
	dr, ddr, err := reg.penaltyDerivAt(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, dr, 1e-12)
	assert.InDelta(t, 1.0, ddr, 1e-12)

	reg.clearFocus()
	_, _, err = reg.penaltyDeriv()
	assert.Error(t, err)
}

func TestSiblingReg_ChainMatchesVector(t *testing.T) {
	data := lineData(t, 8)
	for _, base := range []float64{1, 2} {
		rd, err := NewRegDepth(base)
		require.NoError(t, err)

		fast, slow := &siblingReg{}, &siblingReg{slowPath: true}
		tree := twoSplitTree(t, data)

		require.NoError(t, fast.reset(tree, rd))
		require.NoError(t, slow.reset(tree, rd))
		for _, nx := range []int{1, 3, 4} {
			dr1, ddr1, err := fast.penaltyDerivAt(nx)
			require.NoError(t, err)
			dr2, ddr2, err := slow.penaltyDerivAt(nx)
			require.NoError(t, err)
			assert.InDelta(t, dr2, dr1, 1e-12, "base=%v leaf=%d", base, nx)
			assert.InDelta(t, ddr2, ddr1, 1e-12, "base=%v leaf=%d", base, nx)
		}

		require.NoError(t, fast.resetForNewLeaf(tree, rd))
		require.NoError(t, slow.resetForNewLeaf(tree, rd))
		for _, nx := range []int{1, 3, 4} {
			require.NoError(t, fast.resetForNewLeafAt(nx, tree, rd))
			require.NoError(t, slow.resetForNewLeafAt(nx, tree, rd))
			dr1, ddr1, err := fast.penaltyDeriv()
			require.NoError(t, err)
			dr2, ddr2, err := slow.penaltyDeriv()
			require.NoError(t, err)
			assert.InDelta(t, dr2, dr1, 1e-12, "base=%v leaf=%d", base, nx)
			assert.InDelta(t, ddr2, ddr1, 1e-12, "base=%v leaf=%d", base, nx)

			d := [2]float64{0.1, -0.3}
			assert.InDelta(t, slow.penaltyDiff(d), fast.penaltyDiff(d), 1e-12)
		}
	}
}

// randomTree grows a tree on x = 1..n by splitting random leaves at random
// borders and gives every leaf a random weight.
func randomTree(t *testing.T, data *Dataset, splits int, seed int64) *Tree {
	t.Helper()
	rng := newTestRand(seed)
	rows, _ := data.Dims()
	col := data.Column(0)
	tree := newTree(treeConfig{})
	tree.makeRoot(rows)
	for i := 0; i < splits; i++ {
		var cands []int
		for nx := range tree.nodes {
			if tree.nodes[nx].IsLeaf() && tree.nodes[nx].count >= 2 {
				cands = append(cands, nx)
			}
		}
		if len(cands) == 0 {
			break
		}
		nx := cands[rng.Intn(len(cands))]
		dxs, err := tree.indexes(nx)
		require.NoError(t, err)
		lo, hi := col[dxs[0]], col[dxs[0]]
		for _, dx := range dxs {
			lo, hi = min(lo, col[dx]), max(hi, col[dx])
		}
		border := lo + float64(rng.Intn(int(hi-lo))) + 0.5
		s := &Split{Feature: 0, Border: border, LeftWeight: rng.NormFloat64(), RightWeight: rng.NormFloat64()}
		require.NoError(t, tree.splitNode(nx, s, data))
	}
	return tree
}

func TestSiblingReg_ChainMatchesVectorRandomTrees(t *testing.T) {
	data := lineData(t, 64)
	for seed := int64(1); seed <= 20; seed++ {
		tree := randomTree(t, data, 5+int(seed), seed)
		for _, base := range []float64{1, 1.5, 3} {
			rd, err := NewRegDepth(base)
			require.NoError(t, err)
			rng := newTestRand(seed)

			reg := &siblingReg{}
			require.NoError(t, reg.reset(tree, rd))
			for nx := range tree.nodes {
				if !tree.nodes[nx].IsLeaf() {
					continue
				}
				reg.changeWeight(nx, rng.NormFloat64())
			}
			for nx := range tree.nodes {
				if !tree.nodes[nx].IsLeaf() {
					continue
				}
				reg.focus = nx
				vdv1, dv21 := reg.sumsByChain()
				vdv2, dv22 := reg.sumsByVector()
				assert.InDelta(t, vdv2, vdv1, 1e-9, "seed=%d base=%v leaf=%d", seed, base, nx)
				assert.InDelta(t, dv22, dv21, 1e-9, "seed=%d base=%v leaf=%d", seed, base, nx)
			}

			require.NoError(t, reg.resetForNewLeaf(tree, rd))
			for nx := range tree.nodes {
				if !tree.nodes[nx].IsLeaf() {
					continue
				}
				require.NoError(t, reg.resetForNewLeafAt(nx, tree, rd))
				vdv1, dv21 := reg.sumsByChain()
				vdv2, dv22 := reg.sumsByVector()
				assert.InDelta(t, vdv2, vdv1, 1e-9, "new leaf: seed=%d base=%v leaf=%d", seed, base, nx)
				assert.InDelta(t, dv22, dv21, 1e-9, "new leaf: seed=%d base=%v leaf=%d", seed, base, nx)
			}
		}
	}
}

func TestSiblingReg_OneSplit(t *testing.T) {
	// leaves -1 and 1 under the root give v = [0, -1, 1]
	data := lineData(t, 4)
	tree := newTree(treeConfig{})
	tree.makeRoot(4)
	require.NoError(t, tree.splitNode(0, &Split{Feature: 0, Border: 2.5, LeftWeight: -1, RightWeight: 1}, data))
	rd, err := NewRegDepth(1)
	require.NoError(t, err)

	reg := &siblingReg{}
	require.NoError(t, reg.reset(tree, rd))
	assert.InDeltaSlice(t, []float64{0, -1, 1}, reg.v, 1e-12)

	dr, ddr, err := reg.penaltyDerivAt(2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dr, 1e-12)
	assert.InDelta(t, 0.75, ddr, 1e-12)

	_, _, err = (&siblingReg{focus: -1}).penaltyDeriv()
	assert.Error(t, err)
	assert.Error(t, reg.resetForNewLeafAt(9, tree, rd))
}

func TestSiblingReg_InternalFocus(t *testing.T) {
	data := lineData(t, 8)
	tree := twoSplitTree(t, data)
	rd, err := NewRegDepth(1)
	require.NoError(t, err)

	reg := &siblingReg{}
	require.NoError(t, reg.resetForNewLeaf(tree, rd))
	for _, nx := range []int{0, 2} {
		err := reg.resetForNewLeafAt(nx, tree, rd)
		var se *errors.StructuralError
		assert.True(t, errors.As(err, &se), "node %d: got %v", nx, err)
	}

	require.NoError(t, reg.reset(tree, rd))
	_, _, err = reg.penaltyDerivAt(2)
	assert.Error(t, err)
	_, _, err = reg.penaltyDerivAt(len(tree.nodes))
	assert.Error(t, err)
	_, _, err = reg.penaltyDerivAt(3)
	assert.NoError(t, err)
}

func TestRegArray(t *testing.T) {
	tests := []struct {
		algo string
		sign string
		desc string
	}{
		{AlgoRGFOpt, minPenaltySignature, minPenaltyDesc},
		{AlgoRGFSib, siblingSignature, siblingDesc},
	}
	for _, tt := range tests {
		t.Run(tt.algo, func(t *testing.T) {
			regs := newRegArray(tt.algo, 10)
			regs.reset(3)
			assert.Equal(t, 3, regs.size())
			assert.Equal(t, tt.sign, regs.signature())
			assert.Equal(t, tt.desc, regs.description())

			reg, err := regs.reg(2)
			require.NoError(t, err)
			assert.Equal(t, tt.sign, reg.signature())
			_, err = regs.reg(3)
			assert.Error(t, err)

			frontier := regs.regForNewLeaf(3)
			assert.NotSame(t, reg, frontier)
			assert.Equal(t, tt.desc, frontier.description())
		})
	}

	rd, err := NewRegDepth(0.5)
	require.NoError(t, err)
	assert.Error(t, newRegArray(AlgoRGFOpt, 10).checkRegDepth(rd))
	assert.NoError(t, newRegArray(AlgoRGFSib, 10).checkRegDepth(rd))
}

func TestCoeffCache(t *testing.T) {
	rd, err := NewRegDepth(2)
	require.NoError(t, err)
	var c coeffCache
	c.ensure(rd, 3)
	assert.GreaterOrEqual(t, len(c.cols), coeffCacheMinDepth+1)
	assert.Equal(t, [coeffSumIndex + 1]float64{1, 2, 2, 5}, c.at(3))

	flat, err := NewRegDepth(1)
	require.NoError(t, err)
	c.ensure(flat, 3)
	assert.Equal(t, [coeffSumIndex + 1]float64{1, 1, 1, 3}, c.at(3), "a new base rebuilds the cache")
}
