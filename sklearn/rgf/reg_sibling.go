package rgf

import (
	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// sparseVec is a short list of (node, value) pairs.
type sparseVec struct {
	idx []int
	val []float64
}

func (s *sparseVec) set(nx int, v float64) {
	for i, j := range s.idx {
		if j == nx {
			s.val[i] = v
			return
		}
	}
	s.idx = append(s.idx, nx)
	s.val = append(s.val, v)
}

// siblingReg implements min-penalty regularization with sum-to-zero
// sibling constraints. Under the constraint v[s] = -v[t] for siblings s, t,
// and the derivative of v with respect to a leaf weight halves at every
// level toward the root, so dr and ddr follow from the ancestor chain of
// the focus node alone.
type siblingReg struct {
	tree       *Tree
	rd         *RegDepth
	forNewLeaf bool
	focus      int

	v  []float64
	dv []*sparseVec // per leaf, or the focus in search mode

	vdvSum        float64
	dv2           float64
	dr, ddr       float64
	newleafFactor float64

	// slowPath walks the stored derivative vector instead of the ancestor
	// chain. Kept for verification.
	slowPath bool
}

func (r *siblingReg) signature() string   { return siblingSignature }
func (r *siblingReg) description() string { return siblingDesc }

func (r *siblingReg) clearFocus() { r.focus = -1 }

func (r *siblingReg) resetValues() {
	r.vdvSum, r.dv2, r.dr, r.ddr = 0, 0, 0, 0
	r.newleafFactor = 1
}

// derivV walks from leaf to the root. Each ancestor gets derivative pow2
// (doubled at the root) and its sibling the negative; v accumulates
// derivative times the leaf weight.
func (r *siblingReg) derivV(leaf int, forNewLeaf bool, dv *sparseVec, v []float64) {
	t := r.tree
	leafW := t.nodes[leaf].Weight
	pow2 := 0.5
	if forNewLeaf {
		pow2 /= 2
	}
	for nx := leaf; nx >= 0; {
		px := t.nodes[nx].Parent
		deriv := pow2
		if px < 0 {
			deriv = pow2 * 2
		}
		if dv != nil {
			dv.set(nx, deriv)
		}
		if v != nil {
			v[nx] += deriv * leafW
		}
		if px >= 0 {
			sib := t.nodes[px].GT
			if sib == nx {
				sib = t.nodes[px].LE
			}
			if dv != nil {
				dv.set(sib, -deriv)
			}
			if v != nil {
				v[sib] -= deriv * leafW
			}
		}
		nx = px
		pow2 /= 2
	}
}

func (r *siblingReg) reset(t *Tree, rd *RegDepth) error {
	if t == nil {
		return errors.NewStructuralError("siblingReg.reset", "nil tree")
	}
	r.tree, r.rd = t, rd
	r.forNewLeaf = false
	r.focus = -1
	n := len(t.nodes)
	r.dv = make([]*sparseVec, n)
	r.v = make([]float64, n)
	for nx := range t.nodes {
		if !t.nodes[nx].IsLeaf() {
			continue
		}
		r.dv[nx] = &sparseVec{}
		r.derivV(nx, false, r.dv[nx], r.v)
	}
	r.resetValues()
	return nil
}

func (r *siblingReg) resetForNewLeaf(t *Tree, rd *RegDepth) error {
	r.tree, r.rd = t, rd
	r.forNewLeaf = true
	r.focus = -1
	r.v = make([]float64, len(t.nodes))
	for nx := range t.nodes {
		if t.nodes[nx].IsLeaf() {
			r.derivV(nx, false, nil, r.v)
		}
	}
	r.resetValues()
	return nil
}

func (r *siblingReg) resetForNewLeafAt(focus int, t *Tree, rd *RegDepth) error {
	const op = "siblingReg.resetForNewLeafAt"
	if focus < 0 || focus >= len(t.nodes) {
		return errors.NewStructuralErrorf(op, "node %d out of range", focus)
	}
	r.tree, r.rd = t, rd
	r.forNewLeaf = true
	r.focus = focus
	r.dv = make([]*sparseVec, len(t.nodes))
	r.dv[focus] = &sparseVec{}
	r.derivV(focus, true, r.dv[focus], nil)
	if len(r.v) != len(t.nodes) {
		return errors.NewStructuralError(op, "v is not initialized")
	}
	return r.update()
}

// update computes dr and ddr for the focus node. vdvSum and dv2 exclude
// the new leaves; dr and ddr include them.
func (r *siblingReg) update() error {
	if r.focus < 0 {
		return errors.NewStructuralError("siblingReg.update", errNoFocus)
	}
	if r.focus >= len(r.tree.nodes) || !r.tree.nodes[r.focus].IsLeaf() {
		return errors.NewStructuralErrorf("siblingReg.update", "focus %d is not a leaf", r.focus)
	}
	r.dr, r.ddr = 0, 0
	if r.forNewLeaf {
		// new leaves: v=0, dv=±0.5
		dv := 0.5
		r.newleafFactor = r.rd.Apply(1, r.tree.nodes[r.focus].Depth+1)
		r.ddr += dv * dv * r.newleafFactor * 2
	}
	if r.slowPath {
		r.vdvSum, r.dv2 = r.sumsByVector()
	} else {
		r.vdvSum, r.dv2 = r.sumsByChain()
	}
	r.dr += r.vdvSum
	r.ddr += r.dv2
	return nil
}

// sumsByChain uses v[s]+v[t]=0 and dv[s]+dv[t]=0 for siblings and the fact
// that dv depends only on the distance from the focus.
func (r *siblingReg) sumsByChain() (vdv, dv2 float64) {
	dv := 0.5
	if r.forNewLeaf {
		dv = 0.25
	}
	for nx := r.focus; ; {
		np := &r.tree.nodes[nx]
		v := r.v[nx]
		if np.Depth == 0 {
			dv *= 2
			f := dv * r.rd.Apply(1, 0)
			vdv += v * f
			dv2 += dv * f
			break
		}
		f := dv * r.rd.Apply(1, np.Depth)
		vdv += 2 * v * f // *2 for the sibling
		dv2 += 2 * dv * f
		nx = np.Parent
		dv /= 2
	}
	return vdv, dv2
}

func (r *siblingReg) sumsByVector() (vdv, dv2 float64) {
	vec := r.dv[r.focus]
	for i, nx := range vec.idx {
		dv := vec.val[i]
		f := dv * r.rd.Apply(1, r.tree.nodes[nx].Depth)
		vdv += r.v[nx] * f
		dv2 += dv * f
	}
	return vdv, dv2
}

func (r *siblingReg) penaltyDeriv() (float64, float64, error) {
	if r.focus < 0 {
		return 0, 0, errors.NewStructuralError("siblingReg.penaltyDeriv", errNoFocus)
	}
	return r.dr, r.ddr, nil
}

func (r *siblingReg) penaltyDerivAt(nx int) (float64, float64, error) {
	r.focus = nx
	if err := r.update(); err != nil {
		return 0, 0, err
	}
	return r.dr, r.ddr, nil
}

func (r *siblingReg) penaltyDiff(d [2]float64) float64 {
	delsum := d[0] + d[1]
	diff := r.vdvSum * delsum
	diff += r.dv2 * delsum * delsum * 0.5
	leafV := (d[0] - d[1]) / 2
	// "/2" of the penalty and "*2" for two leaves cancel out
	diff += r.newleafFactor * leafV * leafV
	return diff
}

func (r *siblingReg) changeWeight(nx int, delta float64) {
	if delta == 0 || r.dv[nx] == nil {
		return
	}
	vec := r.dv[nx]
	for i, j := range vec.idx {
		r.v[j] += vec.val[i] * delta
	}
}
