package rgf

import (
	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// treeReg turns a structural penalty on the weights of one tree into first
// and second derivatives usable by the split search and the optimizer.
//
// Two implementations exist: minPenaltyReg (RGF_Opt) and siblingReg
// (RGF_Sib).
type treeReg interface {
	// reset recomputes all state for the tree as it stands. Used before a
	// weight optimization pass.
	reset(t *Tree, rd *RegDepth) error
	// resetForNewLeaf prepares the split search of a tree.
	resetForNewLeaf(t *Tree, rd *RegDepth) error
	// resetForNewLeafAt assumes leaf nx is split into two new leaves.
	resetForNewLeafAt(nx int, t *Tree, rd *RegDepth) error
	// penaltyDeriv returns the derivatives for the current focus node.
	penaltyDeriv() (dr, ddr float64, err error)
	// penaltyDerivAt focuses on nx and returns its derivatives.
	penaltyDerivAt(nx int) (dr, ddr float64, err error)
	// penaltyDiff is the change in penalty if the two new leaves receive
	// the given weight deltas.
	penaltyDiff(d [2]float64) float64
	// changeWeight patches the state after the weight of nx changed.
	changeWeight(nx int, delta float64)
	clearFocus()

	signature() string
	description() string
}

const (
	minPenaltySignature  = "-___-_RGF_TsrOpt_"
	siblingSignature     = "-___-_RGF_TsrSib_"
	defaultRGFSignature  = "-___-_RGF_"
	minPenaltyDesc       = "RGF w/min-penalty regularization"
	siblingDesc          = "RGF w/min-penalty regularization w/sum-to-zero sibling constraints"
	defaultRGFDesc       = "Regularized greedy forest"
	coeffCacheMinDepth   = 50
	coeffSumIndex        = 3
	errNoFocus           = "no focus node"
	errNotForNewLeaf     = "not prepared for a new leaf"
	errNodeToSplitIsLeaf = "node to be split must be a leaf"
)

// regArray holds one regularizer per tree plus a temporary one for the
// frontier tree. Min-penalty regularizers share the per-depth coefficients.
type regArray struct {
	algo   string
	iteNum int
	regs   []treeReg
	temp   treeReg
	coeff  *coeffCache
}

func newRegArray(algo string, iteNum int) *regArray {
	return &regArray{algo: algo, iteNum: iteNum, coeff: &coeffCache{}}
}

func (a *regArray) newReg() treeReg {
	if a.algo == AlgoRGFSib {
		return &siblingReg{}
	}
	return &minPenaltyReg{iteNum: a.iteNum, coeff: a.coeff}
}

// reset allocates regularizers for treeNum trees.
func (a *regArray) reset(treeNum int) {
	a.regs = make([]treeReg, treeNum)
	for i := range a.regs {
		a.regs[i] = a.newReg()
	}
	a.temp = a.newReg()
}

func (a *regArray) size() int { return len(a.regs) }

func (a *regArray) reg(tx int) (treeReg, error) {
	if tx < 0 || tx >= len(a.regs) {
		return nil, errors.NewStructuralErrorf("regArray.reg", "tree %d out of range [0,%d)", tx, len(a.regs))
	}
	return a.regs[tx], nil
}

// regForNewLeaf returns the regularizer used by the split search. Trees
// without a slot (the frontier) get the temporary one.
func (a *regArray) regForNewLeaf(tx int) treeReg {
	if tx >= 0 && tx < len(a.regs) {
		return a.regs[tx]
	}
	a.temp = a.newReg()
	return a.temp
}

func (a *regArray) signature() string {
	if a.algo == AlgoRGFSib {
		return siblingSignature
	}
	return minPenaltySignature
}

func (a *regArray) description() string {
	if a.algo == AlgoRGFSib {
		return siblingDesc
	}
	return minPenaltyDesc
}

// checkRegDepth validates the depth base for the regularizer kind.
func (a *regArray) checkRegDepth(rd *RegDepth) error {
	if a.algo == AlgoRGFOpt {
		return rd.checkMinPenalty("min-penalty regularizers")
	}
	return nil
}

// coeffCache holds per-depth propagation coefficients
// (parent, le, gt, sum) and grows when a deeper tree is seen.
type coeffCache struct {
	base float64
	cols [][coeffSumIndex + 1]float64
}

func (c *coeffCache) ensure(rd *RegDepth, maxDepth int) {
	if rd.Base() != c.base {
		c.cols = nil
		c.base = rd.Base()
	}
	if len(c.cols) >= maxDepth+1 {
		return
	}
	maxDepth = max(maxDepth, coeffCacheMinDepth)
	for depth := len(c.cols); depth <= maxDepth; depth++ {
		var k [coeffSumIndex + 1]float64
		k[0], k[1], k[2] = 1, 1, 1
		lamNx := rd.Apply(1, depth)
		if lamNx == 0 {
			k[0] = 0
		} else {
			k[1] = rd.Apply(1, depth+1) / lamNx
			k[2] = k[1]
		}
		k[coeffSumIndex] = k[0] + k[1] + k[2]
		c.cols = append(c.cols, k)
	}
}

func (c *coeffCache) at(depth int) [coeffSumIndex + 1]float64 { return c.cols[depth] }
