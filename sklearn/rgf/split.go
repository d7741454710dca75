package rgf

import (
	"math"
	"math/rand"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// Split is a candidate node split. Examples with value <= Border go to the
// LE child.
type Split struct {
	TreeIndex int
	NodeIndex int
	Feature   int
	Border    float64
	Gain      float64

	LeftWeight  float64
	RightWeight float64
}

func newSplit() *Split {
	return &Split{TreeIndex: -1, NodeIndex: -1, Feature: -1}
}

// keep overwrites s with c when c has strictly greater gain. The first
// candidate reaching the maximum wins.
func (s *Split) keep(c *Split, tx, nx int) {
	if c == nil || c.Feature < 0 || c.Gain <= s.Gain {
		return
	}
	*s = *c
	s.TreeIndex = tx
	s.NodeIndex = nx
}

// sideSums are the running totals of one side of a candidate split.
type sideSums struct {
	wy float64 // sum of tarDw
	w  float64 // sum of dw
}

// splitFinder scans features of a node for the threshold with the largest
// regularized gain. When reg is set the gain also accounts for the
// tree-structure penalty.
type splitFinder struct {
	data    *Dataset
	tar     *target
	rd      *RegDepth
	lambda  float64
	sigma   float64
	minSize int

	feats []int // sampled features, nil for all

	// per tree
	tree        *Tree
	reg         treeReg
	nlam, nsig  float64
	useInternal bool

	// per node
	p            float64 // current weight of the node
	pNlam, cNlam float64
	pNsig, cNsig float64
	dR, ddR      float64
}

func newSplitFinder(data *Dataset, tar *target, rd *RegDepth, lambda, sigma float64) *splitFinder {
	return &splitFinder{data: data, tar: tar, rd: rd, lambda: lambda, sigma: sigma}
}

// pickFeatures samples pickNum distinct features. pickNum == number of
// features turns sampling off.
func (fs *splitFinder) pickFeatures(rng *rand.Rand, pickNum int) error {
	_, fNum := fs.data.Dims()
	if pickNum < 1 || pickNum > fNum {
		return errors.NewStructuralErrorf("splitFinder.pickFeatures", "pick=%d out of range [1,%d]", pickNum, fNum)
	}
	if pickNum == fNum {
		fs.feats = nil
		return nil
	}
	perm := make([]int, fNum)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < pickNum; i++ {
		j := i + rng.Intn(fNum-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	fs.feats = perm[:pickNum]
	return nil
}

// begin binds a tree. nn is the example count (or weight sum); lamScale
// rescales λ and σ for the exponential loss.
func (fs *splitFinder) begin(tree *Tree, reg treeReg, nn, lamScale float64) error {
	fs.tree = tree
	fs.reg = reg
	fs.nlam = nn * fs.lambda
	fs.nsig = nn * fs.sigma
	if lamScale != 1 {
		fs.nlam *= lamScale
		fs.nsig *= lamScale
	}
	fs.useInternal = tree.cfg.useInternal
	if reg != nil {
		return reg.resetForNewLeaf(tree, fs.rd)
	}
	return nil
}

// findSplit returns the best split of leaf nx, or a split with Feature -1
// when no split has positive gain.
func (fs *splitFinder) findSplit(nx int) (*Split, error) {
	const op = "splitFinder.findSplit"
	if fs.tree == nil || fs.tar == nil || fs.data == nil {
		return nil, errors.NewStructuralError(op, "tree, target or data is not bound")
	}
	if fs.reg != nil {
		if fs.useInternal {
			return nil, errors.NewStructuralError(op, "tree-structure regularization can't coexist with internal node weights")
		}
		if err := fs.reg.resetForNewLeafAt(nx, fs.tree, fs.rd); err != nil {
			return nil, err
		}
		dR, ddR, err := fs.reg.penaltyDeriv()
		if err != nil {
			return nil, err
		}
		fs.dR, fs.ddR = dR, ddR
	}

	node := &fs.tree.nodes[nx]
	fs.p = node.Weight
	fs.pNlam = fs.rd.Apply(fs.nlam, node.Depth)
	fs.cNlam = fs.rd.Apply(fs.nlam, node.Depth+1)
	fs.pNsig = fs.rd.Apply(fs.nsig, node.Depth)
	fs.cNsig = fs.rd.Apply(fs.nsig, node.Depth+1)

	dxs, err := fs.tree.indexes(nx)
	if err != nil {
		return nil, err
	}
	var total sideSums
	total.wy, total.w = fs.tar.sums(dxs)

	best := newSplit()
	if fs.feats == nil {
		_, fNum := fs.data.Dims()
		for fx := 0; fx < fNum; fx++ {
			if err := fs.scan(nx, fx, len(dxs), total, best); err != nil {
				return nil, err
			}
		}
	} else {
		for _, fx := range fs.feats {
			if err := fs.scan(nx, fx, len(dxs), total, best); err != nil {
				return nil, err
			}
		}
	}
	return best, nil
}

// scan moves examples run by run (equal values) from the GT side to the LE
// side in ascending order and evaluates every feasible border.
func (fs *splitFinder) scan(nx, fx, totalSize int, total sideSums, best *Split) error {
	sorted, err := fs.tree.sortedFeature(nx, fx, fs.data)
	if err != nil {
		return err
	}
	if len(sorted) != totalSize {
		return errors.NewStructuralErrorf("splitFinder.scan", "conflict in #data: sorted=%d node=%d", len(sorted), totalSize)
	}
	col := fs.data.Column(fx)
	tarDw, dw := fs.tar.tarDw, fs.tar.dw

	var side [2]sideSums // 0: LE, 1: GT
	destSize := 0
	for i := 0; i < len(sorted); {
		value := col[sorted[i]]
		j := i
		var wyMove, wMove float64
		for ; j < len(sorted) && col[sorted[j]] == value; j++ {
			dx := sorted[j]
			wyMove += tarDw[dx]
			wMove += dw[dx]
		}
		destSize += j - i
		if destSize >= totalSize {
			break // all vs nothing
		}
		side[0].wy += wyMove
		side[0].w += wMove
		next := col[sorted[j]]
		i = j

		if fs.minSize > 0 {
			if destSize < fs.minSize {
				continue
			}
			if totalSize-destSize < fs.minSize {
				break
			}
		}
		side[1].wy = total.wy - side[0].wy
		side[1].w = total.w - side[0].w

		gain, le, gt := fs.evalSplit(side)
		if gain > best.Gain {
			best.Feature = fx
			best.Border = (value + next) / 2
			best.Gain = gain
			best.LeftWeight = le
			best.RightWeight = gt
		}
	}
	return nil
}

func (fs *splitFinder) evalSplit(side [2]sideSums) (gain, le, gt float64) {
	if fs.reg != nil {
		return fs.evalSplitTreeReg(side)
	}
	g0, q0 := fs.bestGain(side[0].w, side[0].wy)
	g1, q1 := fs.bestGain(side[1].w, side[1].wy)
	return g0 + g1, q0, q1
}

// bestGain returns n*gain of one child and its optimal weight.
func (fs *splitFinder) bestGain(wsum, wrsum float64) (gain, q float64) {
	p := fs.p
	denom := wsum + fs.cNlam
	if denom == 0 {
		denom = 1
	}
	switch {
	case fs.useInternal:
		q = wrsum / denom
		gain = q * q * denom
	case fs.nsig <= 0:
		q = (wrsum - fs.cNlam*p) / denom
		gain = q*q*denom + (fs.pNlam-2*fs.cNlam)*p*p/2
		q += p
	default:
		wy := wrsum + wsum*p
		switch {
		case wy > fs.cNsig:
			q = (wy - fs.cNsig) / denom
		case wy < -fs.cNsig:
			q = (wy + fs.cNsig) / denom
		}
		orgLossHat := -2*p*wy + p*p*(wsum+fs.pNlam) + 2*fs.pNsig*math.Abs(p)
		newLossHat := -q * q * denom
		gain = orgLossHat - newLossHat
	}
	return gain, q
}

func (fs *splitFinder) evalSplitTreeReg(side [2]sideSums) (gain, le, gt float64) {
	var d [2]float64
	for i := range side {
		denom := side[i].w + fs.nlam*fs.ddR
		if denom == 0 {
			denom = 1
		}
		d[i] = (side[i].wy - fs.nlam*fs.dR) / denom
	}
	diff := fs.reg.penaltyDiff(d)
	gain = 2*d[0]*side[0].wy - d[0]*d[0]*side[0].w +
		2*d[1]*side[1].wy - d[1]*d[1]*side[1].w
	gain -= 2 * fs.nlam * diff
	return gain, fs.p + d[0], fs.p + d[1]
}
