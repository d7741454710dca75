package rgf

import (
	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// minPenaltyReg implements the min-penalty regularizer. Every internal
// node carries an auxiliary value bar defined as the weighted average of
// its parent's and children's bars; leaves carry their weights. The
// penalty is Σ rd(depth)·(bar[n]-bar[parent(n)])²/2, and bar is found by a
// fixed number of Jacobi sweeps over the internal nodes.
type minPenaltyReg struct {
	iteNum int
	coeff  *coeffCache

	tree       *Tree
	rd         *RegDepth
	forNewLeaf bool
	focus      int

	vBar   []float64
	dBar   [][]float64 // d bar / d w[leaf], indexed by leaf
	v      []float64   // bar[n]-bar[parent], optimizer mode only
	dv     [][]float64 // d v / d w[leaf], optimizer mode only
	dv2Sum []float64   // Σ rd·dv², per leaf, optimizer mode only

	structure [][2]int

	currPenalty   float64
	penaltyOffset float64
	vdvSum        float64
	dv2           float64
	dr, ddr       float64
	newleafFactor float64
	newleafV      float64
	focusDbar     float64
}

func (r *minPenaltyReg) signature() string   { return minPenaltySignature }
func (r *minPenaltyReg) description() string { return minPenaltyDesc }

func (r *minPenaltyReg) clearFocus() { r.focus = -1 }

func (r *minPenaltyReg) resetValues() {
	r.penaltyOffset = 0
	r.vdvSum, r.dv2, r.dr, r.ddr = 0, 0, 0, 0
	r.newleafFactor = 1
	r.newleafV, r.focusDbar = 0, 0
}

func (r *minPenaltyReg) resetVDv() {
	r.v, r.dv, r.dv2Sum = nil, nil, nil
}

func (r *minPenaltyReg) sameStructure(t *Tree) bool {
	if len(r.structure) != len(t.nodes) {
		return false
	}
	for nx := range t.nodes {
		if r.structure[nx] != [2]int{t.nodes[nx].LE, t.nodes[nx].GT} {
			return false
		}
	}
	return true
}

func (r *minPenaltyReg) storeStructure() {
	r.structure = make([][2]int, len(r.tree.nodes))
	for nx := range r.tree.nodes {
		r.structure[nx] = [2]int{r.tree.nodes[nx].LE, r.tree.nodes[nx].GT}
	}
}

func splitLeaves(t *Tree) (leaves, nonleaves []int) {
	for nx := range t.nodes {
		if t.nodes[nx].IsLeaf() {
			leaves = append(leaves, nx)
		} else {
			nonleaves = append(nonleaves, nx)
		}
	}
	return leaves, nonleaves
}

func (r *minPenaltyReg) reset(t *Tree, rd *RegDepth) error {
	const op = "minPenaltyReg.reset"
	if t == nil {
		return errors.NewStructuralError(op, "nil tree")
	}
	isSame := r.sameStructure(t)
	r.tree, r.rd = t, rd
	r.forNewLeaf = false
	n := len(t.nodes)
	r.vBar = make([]float64, n)
	if !isSame {
		r.dBar = make([][]float64, n)
	} else if len(r.dBar) != n || len(r.dv) != n || len(r.dv2Sum) != n {
		return errors.NewStructuralError(op, "tree structure is the same but other info doesn't match")
	}
	leaves, nonleaves := splitLeaves(t)
	for _, nx := range leaves {
		if !isSame {
			d, err := r.deriv(nx, nonleaves)
			if err != nil {
				return err
			}
			r.dBar[nx] = d
		}
		w := t.nodes[nx].Weight
		for i, d := range r.dBar[nx] {
			r.vBar[i] += d * w
		}
		r.vBar[nx] = w
	}
	r.focus = -1
	if !isSame {
		r.updateDv()
		r.storeStructure()
	}
	r.updateV()
	r.resetValues()
	return nil
}

func (r *minPenaltyReg) updateDv() {
	n := len(r.tree.nodes)
	r.dv = make([][]float64, n)
	r.dv2Sum = make([]float64, n)
	for f := range r.tree.nodes {
		if !r.tree.nodes[f].IsLeaf() {
			continue
		}
		dbar := r.dBar[f]
		dv := make([]float64, n)
		var sum float64
		for nx := range r.tree.nodes {
			d := dbar[nx]
			if px := r.tree.nodes[nx].Parent; px >= 0 {
				d -= dbar[px]
			}
			dv[nx] = d
			sum += r.rd.Apply(d*d, r.tree.nodes[nx].Depth)
		}
		r.dv[f] = dv
		r.dv2Sum[f] = sum
	}
}

func (r *minPenaltyReg) updateV() {
	r.v = make([]float64, len(r.tree.nodes))
	for nx := range r.tree.nodes {
		v := r.vBar[nx]
		if px := r.tree.nodes[nx].Parent; px >= 0 {
			v -= r.vBar[px]
		}
		r.v[nx] = v
	}
	r.vBar = nil
}

func (r *minPenaltyReg) resetForNewLeaf(t *Tree, rd *RegDepth) error {
	r.tree, r.rd = t, rd
	r.forNewLeaf = false
	r.focus = -1
	r.structure = nil
	r.resetVDv()
	leaves, nonleaves := splitLeaves(t)
	if err := r.resetBar(-1, leaves, nonleaves); err != nil {
		return err
	}
	r.currPenalty = r.penalty()
	r.resetValues()
	return nil
}

func (r *minPenaltyReg) resetForNewLeafAt(focus int, t *Tree, rd *RegDepth) error {
	if focus < 0 || focus >= len(t.nodes) {
		return errors.NewStructuralErrorf("minPenaltyReg.resetForNewLeafAt", "node %d out of range", focus)
	}
	r.tree, r.rd = t, rd
	r.forNewLeaf = true
	r.focus = focus
	r.structure = nil
	r.resetVDv()
	leaves, nonleaves := splitLeaves(t)
	r.dBar = make([][]float64, len(t.nodes))
	d, err := r.deriv(focus, nonleaves)
	if err != nil {
		return err
	}
	r.dBar[focus] = d
	if err := r.resetBar(focus, leaves, nonleaves); err != nil {
		return err
	}
	r.penaltyOffset = r.penalty() - r.currPenalty
	return r.update()
}

// resetBar computes bar with leaves fixed to their weights. When splitNx
// is set the leaf is treated as internal with two new leaves carrying its
// weight.
func (r *minPenaltyReg) resetBar(splitNx int, leaves, nonleaves []int) error {
	r.vBar = make([]float64, len(r.tree.nodes))
	for _, nx := range leaves {
		r.vBar[nx] = r.tree.nodes[nx].Weight
	}
	var newLeafW [2]float64
	if splitNx >= 0 {
		r.vBar[splitNx] = 0
		w := r.tree.nodes[splitNx].Weight
		newLeafW = [2]float64{w, w}
	}
	return r.propagate(splitNx, newLeafW, nonleaves, r.vBar)
}

// deriv returns d bar / d w for the weight of base. For a new leaf the
// derivative is against the weight of its LE child.
func (r *minPenaltyReg) deriv(base int, nonleaves []int) ([]float64, error) {
	out := make([]float64, len(r.tree.nodes))
	splitNx := -1
	var newLeafW [2]float64
	if !r.forNewLeaf {
		out[base] = 1
	} else {
		newLeafW[0] = 1
		splitNx = base
	}
	if err := r.propagate(splitNx, newLeafW, nonleaves, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *minPenaltyReg) propagate(splitNx int, newLeafW [2]float64, nonleaves []int, v []float64) error {
	const op = "minPenaltyReg.propagate"
	t := r.tree
	r.coeff.ensure(r.rd, len(t.nodes))
	if splitNx >= 0 && !t.nodes[splitNx].IsLeaf() {
		return errors.NewStructuralError(op, errNodeToSplitIsLeaf)
	}
	if len(v) != len(t.nodes) {
		return errors.NewStructuralError(op, "v's dim is wrong")
	}
	var splitFixed, splitSum, splitC0 float64
	splitPx := -1
	if splitNx >= 0 {
		np := &t.nodes[splitNx]
		k := r.coeff.at(np.Depth)
		splitC0 = k[0]
		splitSum = k[coeffSumIndex]
		splitFixed = k[1]*newLeafW[0] + k[2]*newLeafW[1]
		splitPx = np.Parent
	}
	realNonleaf := len(nonleaves)
	if splitNx >= 0 {
		realNonleaf++
	}
	for ite := 0; ite < r.iteNum; ite++ {
		if splitNx >= 0 {
			sum := splitFixed
			if splitPx >= 0 {
				sum += splitC0 * v[splitPx]
			}
			v[splitNx] = sum / splitSum
		}
		for _, nx := range nonleaves {
			np := &t.nodes[nx]
			k := r.coeff.at(np.Depth)
			var nv float64
			if np.Parent >= 0 {
				nv += k[0] * v[np.Parent]
			}
			nv += k[1] * v[np.LE]
			nv += k[2] * v[np.GT]
			v[nx] = nv / k[coeffSumIndex]
		}
		if realNonleaf <= 1 {
			break // further sweeps can't change anything
		}
	}
	return nil
}

func (r *minPenaltyReg) getV(nx int) float64 {
	if r.v != nil {
		return r.v[nx]
	}
	v := r.vBar[nx]
	if px := r.tree.nodes[nx].Parent; px >= 0 {
		v -= r.vBar[px]
	}
	return v
}

func (r *minPenaltyReg) getDv(nx int) float64 {
	if r.dv != nil {
		return r.dv[r.focus][nx]
	}
	dbar := r.dBar[r.focus]
	d := dbar[nx]
	if px := r.tree.nodes[nx].Parent; px >= 0 {
		d -= dbar[px]
	}
	return d
}

func (r *minPenaltyReg) getDv2Sum() float64 {
	if r.dv2Sum != nil {
		return r.dv2Sum[r.focus]
	}
	var sum float64
	for nx := range r.tree.nodes {
		d := r.getDv(nx)
		sum += r.rd.Apply(d*d, r.tree.nodes[nx].Depth)
	}
	return sum
}

func (r *minPenaltyReg) penalty() float64 {
	var p float64
	for nx := range r.tree.nodes {
		v := r.getV(nx)
		p += r.rd.Apply(v*v/2, r.tree.nodes[nx].Depth)
	}
	if r.forNewLeaf && r.focus >= 0 {
		v := r.tree.nodes[r.focus].Weight - r.vBar[r.focus]
		p += 2 * r.rd.Apply(v*v/2, r.tree.nodes[r.focus].Depth+1)
	}
	return p
}

// update computes dr and ddr for the focus node. vdvSum and dv2 exclude
// the new leaves; dr and ddr include them.
func (r *minPenaltyReg) update() error {
	const op = "minPenaltyReg.update"
	if r.focus < 0 {
		return errors.NewStructuralError(op, errNoFocus)
	}
	r.dr, r.ddr = 0, 0
	if r.forNewLeaf {
		d := r.dBar[r.focus][r.focus]
		r.newleafV = r.tree.nodes[r.focus].Weight - r.vBar[r.focus]
		r.newleafFactor = r.rd.Apply(1, r.tree.nodes[r.focus].Depth+1)
		dv := 1 - d
		r.dr += r.newleafV * dv * r.newleafFactor
		r.ddr += dv * dv * r.newleafFactor
		dv = 0 - d // sibling
		r.dr += r.newleafV * dv * r.newleafFactor
		r.ddr += dv * dv * r.newleafFactor
		r.focusDbar = d
	}
	if r.v != nil && r.dv[r.focus] == nil {
		return errors.NewStructuralErrorf(op, "no derivative for node %d", r.focus)
	}
	r.vdvSum = 0
	for nx := range r.tree.nodes {
		r.vdvSum += r.rd.Apply(r.getV(nx)*r.getDv(nx), r.tree.nodes[nx].Depth)
	}
	r.dv2 = r.getDv2Sum()
	r.dr += r.vdvSum
	r.ddr += r.dv2
	return nil
}

func (r *minPenaltyReg) penaltyDeriv() (float64, float64, error) {
	if r.focus < 0 {
		return 0, 0, errors.NewStructuralError("minPenaltyReg.penaltyDeriv", errNoFocus)
	}
	return r.dr, r.ddr, nil
}

func (r *minPenaltyReg) penaltyDerivAt(nx int) (float64, float64, error) {
	r.focus = nx
	if err := r.update(); err != nil {
		return 0, 0, err
	}
	return r.dr, r.ddr, nil
}

func (r *minPenaltyReg) penaltyDiff(d [2]float64) float64 {
	diff := r.penaltyOffset
	delsum := d[0] + d[1]
	diff += r.vdvSum * delsum
	diff += r.dv2 * delsum * delsum * 0.5

	focusDelta := r.focusDbar * delsum
	d0 := d[0] - focusDelta
	d1 := d[1] - focusDelta
	diff += (r.newleafV*(d0+d1) + (d0*d0+d1*d1)/2) * r.newleafFactor
	return diff
}

func (r *minPenaltyReg) changeWeight(nx int, delta float64) {
	if delta == 0 {
		return
	}
	if r.v != nil {
		for i, d := range r.dv[nx] {
			r.v[i] += d * delta
		}
		return
	}
	for i, d := range r.dBar[nx] {
		r.vBar[i] += d * delta
	}
}
