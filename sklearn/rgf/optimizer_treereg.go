package rgf

import (
	"context"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// optimizeTreeReg is optimize with a tree-structure regularizer in place of
// the plain L2 term. Tree weights are kept current during the pass since
// the regularizers read them.
func (o *optimizer) optimizeTreeReg(ctx context.Context, ens *Ensemble, fm *FeatMap) error {
	const op = "optimizer.optimizeTreeReg"
	if err := o.synchronize(ens, fm); err != nil {
		return err
	}
	o.updateTreeWeights(ens, fm)
	if o.regs.size() < ens.NumTrees() {
		return errors.NewStructuralErrorf(op, "max #tree has changed: regs=%d trees=%d", o.regs.size(), ens.NumTrees())
	}
	for tx, t := range ens.trees {
		reg, err := o.regs.reg(tx)
		if err != nil {
			return err
		}
		if err := reg.reset(t, o.rd); err != nil {
			return err
		}
	}
	if err := o.iterate(ctx, ens, fm); err != nil {
		return err
	}
	ens.Const = o.constant()
	return nil
}

// updateWithTreeReg visits the active nodes tree by tree. The penalty
// derivatives come from the tree's regularizer, which already accounts for
// node depth.
func (o *optimizer) updateWithTreeReg(ens *Ensemble, fm *FeatMap, nlam, py float64, fd *deltaStats) error {
	for tx, t := range ens.trees {
		reg, err := o.regs.reg(tx)
		if err != nil {
			return err
		}
		err = t.withIndexes(func() error {
			reg.clearFocus()
			for _, nf := range fm.featIDs(tx) {
				dxs, err := t.indexes(nf.nx)
				if err != nil {
					return err
				}
				if len(dxs) == 0 {
					continue // can happen after warm start on other data
				}
				negdL, ddL := o.loss.sumDeriv(dxs, o.p, o.y, o.fixedDw, py)
				dR, ddR, err := reg.penaltyDerivAt(nf.nx)
				if err != nil {
					return err
				}
				dd := ddL + nlam*ddR
				if dd == 0 {
					dd = 1
				}
				delta := (negdL - nlam*dR) * o.eta / dd
				fd.check(&delta, o.maxDelta)

				w := o.w[nf.fx] + delta
				o.w[nf.fx] = w
				addTo(o.p, dxs, delta)
				t.setWeight(nf.nx, w)
				reg.changeWeight(nf.nx, delta)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
