package rgf

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

// deltaStats accumulates the weight changes of one coordinate descent pass.
type deltaStats struct {
	sum       float64
	changed   int
	truncated int
}

// check clamps delta to ±maxDelta when maxDelta > 0 and records it.
func (d *deltaStats) check(delta *float64, maxDelta float64) {
	if maxDelta > 0 {
		switch {
		case *delta > maxDelta:
			*delta = maxDelta
			d.truncated++
		case *delta < -maxDelta:
			*delta = -maxDelta
			d.truncated++
		}
	}
	if *delta != 0 {
		d.changed++
		d.sum += math.Abs(*delta)
	}
}

func (d *deltaStats) avg() float64 {
	if d.changed == 0 {
		return 0
	}
	return d.sum / float64(d.changed)
}

// optimizer refits the weights of all active nodes by coordinate descent on
// the regularized training loss. It owns its prediction vector; the forest
// copies it back after every pass.
type optimizer struct {
	loss      LossType
	lambda    float64
	sigma     float64
	eta       float64
	maxIte    int
	maxDelta  float64
	exitDelta float64
	rd        *RegDepth

	doIntercept      bool
	doUnregIntercept bool
	doRefreshP       bool
	useAvg           bool
	verbose          bool

	y       []float64
	fixedDw []float64
	nn      float64
	allDxs  []int

	p          []float64
	w          []float64
	varConst   float64
	fixedConst float64

	// regs is set when a tree-structure regularizer replaces the L2 term.
	regs *regArray

	logger  log.Logger
	metrics *Metrics

	// last pass
	iterations int
	truncated  int
}

func newOptimizer(prm *Params, y, fixedDw []float64, rd *RegDepth, logger log.Logger, metrics *Metrics) *optimizer {
	o := &optimizer{
		loss:             prm.LossType(),
		lambda:           prm.RegL2,
		sigma:            max(prm.RegL1, 0),
		eta:              prm.OptStepsize,
		maxIte:           prm.optIterations(),
		maxDelta:         prm.optMaxDelta(),
		exitDelta:        prm.ExitDelta,
		rd:               rd,
		doIntercept:      prm.OptIntercept,
		doUnregIntercept: prm.OptUnregIntercept,
		useAvg:           prm.NormalizeTarget,
		verbose:          prm.OptVerbose,
		y:                y,
		fixedDw:          fixedDw,
		nn:               float64(len(y)),
		logger:           logger,
		metrics:          metrics,
	}
	if fixedDw != nil {
		o.nn = floats.Sum(fixedDw)
	}
	o.allDxs = make([]int, len(y))
	for i := range o.allDxs {
		o.allDxs[i] = i
	}
	o.reset()
	return o
}

// reset prepares a cold start: no weights, prediction = fixed constant.
func (o *optimizer) reset() {
	o.w = nil
	o.varConst = 0
	o.fixedConst = 0
	if o.useAvg {
		o.fixedConst = stat.Mean(o.y, nil)
	}
	o.p = make([]float64, len(o.y))
	for i := range o.p {
		o.p[i] = o.fixedConst
	}
}

// warmStart loads weights from an existing ensemble. p must hold the
// ensemble's predictions on the training data.
func (o *optimizer) warmStart(ens *Ensemble, fm *FeatMap, p []float64) {
	o.w = fm.weights(ens)
	o.varConst = ens.Const - o.fixedConst
	copy(o.p, p)
}

// constant is the intercept of the model.
func (o *optimizer) constant() float64 { return o.varConst + o.fixedConst }

func (o *optimizer) pred() []float64 { return o.p }

// clone deep-copies the optimizer. The regularizers are rebuilt from
// scratch on the next optimize call.
func (o *optimizer) clone() *optimizer {
	c := *o
	c.p = append([]float64(nil), o.p...)
	c.w = append([]float64(nil), o.w...)
	if o.regs != nil {
		c.regs = newRegArray(o.regs.algo, o.regs.iteNum)
		c.regs.reset(o.regs.size())
	}
	return &c
}

// optimize runs a full pass: sync with the feature map, iterate, then write
// the weights back into the trees.
func (o *optimizer) optimize(ctx context.Context, ens *Ensemble, fm *FeatMap) error {
	if o.regs != nil {
		return o.optimizeTreeReg(ctx, ens, fm)
	}
	if err := o.synchronize(ens, fm); err != nil {
		return err
	}
	if err := o.iterate(ctx, ens, fm); err != nil {
		return err
	}
	o.updateTreeWeights(ens, fm)
	return nil
}

// synchronize grows w to the current number of features and zeroes the
// weights of removed ones.
func (o *optimizer) synchronize(ens *Ensemble, fm *FeatMap) error {
	if o.lambda < 0 {
		return errors.NewValidationError("reg_L2", "must be non-negative", o.lambda)
	}
	if o.eta <= 0 {
		return errors.NewValidationError("opt_stepsize", "must be positive", o.eta)
	}
	fNum := fm.NumFeatures()
	old := len(o.w)
	if fNum < old {
		return errors.NewStructuralErrorf("optimizer.synchronize", "#feature decreased: %d -> %d", old, fNum)
	}
	o.w = append(o.w, make([]float64, fNum-old)...)
	changed := false
	for fx := 0; fx < old; fx++ {
		if fm.IsRemoved(fx) && o.w[fx] != 0 {
			o.w[fx] = 0
			changed = true
		}
	}
	if changed || o.doRefreshP {
		return o.refreshPred(ens, fm)
	}
	return nil
}

// iterate runs maxIte coordinate descent passes, stopping early once the
// average |delta| falls below exitDelta.
func (o *optimizer) iterate(ctx context.Context, ens *Ensemble, fm *FeatMap) error {
	const op = "optimizer.iterate"
	o.iterations, o.truncated = 0, 0
	if o.maxIte <= 0 {
		return nil
	}
	nlam := o.lambda * o.nn
	nsig := o.sigma * o.nn
	chk := min(5, o.maxIte)
	reached := false
	var avg float64
	for ite := 0; ite < o.maxIte; ite++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fd, err := o.update(ens, fm, nlam, nsig)
		if err != nil {
			return err
		}
		o.iterations = ite + 1
		o.truncated += fd.truncated
		avg = fd.avg()
		if o.exitDelta > 0 && avg < o.exitDelta {
			reached = true
		}
		if o.verbose && (ite+1 == chk || reached) {
			o.monitorLoss(ite, avg)
			if chk < 10 {
				chk += 5
			} else {
				chk += 10
			}
			chk = min(chk, o.maxIte)
		}
		if reached {
			o.logger.Debug("Reached exiting criteria", log.IterationKey, ite+1, log.DeltaKey, avg)
			break
		}
	}
	if o.truncated > 0 {
		o.metrics.addClamped(o.truncated)
		o.logger.Debug("Weight updates truncated", log.ClampedKey, o.truncated)
		errors.Warn(errors.NewClampWarning(op, o.truncated, o.maxDelta))
	}
	if o.exitDelta > 0 && !reached {
		errors.Warn(errors.NewConvergenceWarning(op, o.iterations,
			"average |delta| is still above exit_delta"))
	}
	return nil
}

func (o *optimizer) monitorLoss(ite int, delta float64) {
	l1 := floats.Norm(o.w, 1)
	l2 := floats.Dot(o.w, o.w)
	o.logger.Info("Optimizer iteration",
		log.IterationKey, ite+1,
		log.DeltaKey, delta,
		log.LossKey, o.loss.AverageLoss(o.p, o.y, o.fixedDw),
		"opt.w_l1", l1,
		"opt.w_l2sq", l2,
	)
}

// update is one pass over every active feature followed by the intercept.
func (o *optimizer) update(ens *Ensemble, fm *FeatMap, nlam, nsig float64) (*deltaStats, error) {
	var py float64
	if o.loss == LossExpo {
		py = pyAvg(o.p, o.y, nil)
		scale := math.Exp(py)
		if nlam > 0 {
			nlam *= scale
		}
		if nsig > 0 {
			nsig *= scale
		}
	}
	fd := &deltaStats{}
	var err error
	if o.regs != nil {
		err = o.updateWithTreeReg(ens, fm, nlam, py, fd)
	} else {
		err = o.updateWithFeatures(ens, fm, nlam, nsig, py, fd)
	}
	if err != nil {
		return nil, err
	}
	o.updateIntercept(nlam, nsig, py, fd)
	return fd, nil
}

func (o *optimizer) updateWithFeatures(ens *Ensemble, fm *FeatMap, nlam, nsig, py float64, fd *deltaStats) error {
	for tx, t := range ens.trees {
		err := t.withIndexes(func() error {
			for _, nf := range fm.featIDs(tx) {
				dxs, err := t.indexes(nf.nx)
				if err != nil {
					return err
				}
				depth := t.nodes[nf.nx].Depth
				w := o.w[nf.fx]
				delta := o.getDelta(dxs, w, o.rd.Apply(nlam, depth), o.rd.Apply(nsig, depth), py, fd)
				o.w[nf.fx] = w + delta
				addTo(o.p, dxs, delta)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *optimizer) updateIntercept(nlam, nsig, py float64, fd *deltaStats) {
	if !o.doIntercept && !o.doUnregIntercept {
		return
	}
	if o.doUnregIntercept {
		nlam, nsig = 0, 0
	}
	delta := o.getDelta(o.allDxs, o.varConst, nlam, nsig, py, fd)
	o.varConst += delta
	addTo(o.p, o.allDxs, delta)
}

// getDelta is one Newton step on weight w restricted to dxs, with L2 and
// L1 terms. An L1 step that would cross zero stops at zero.
func (o *optimizer) getDelta(dxs []int, w, nlam, nsig, py float64, fd *deltaStats) float64 {
	if len(dxs) == 0 {
		return 0
	}
	negdL, ddL := o.loss.sumDeriv(dxs, o.p, o.y, o.fixedDw, py)
	dd := ddL + nlam
	if dd == 0 {
		dd = 1
	}
	delta := (negdL - nlam*w) * o.eta / dd
	if nsig > 0 {
		var del1 float64
		if w+delta > 0 {
			del1 = delta - nsig*o.eta/dd
		} else {
			del1 = delta + nsig*o.eta/dd
		}
		if (w+delta)*(w+del1) <= 0 {
			delta = -w
		} else {
			delta = del1
		}
	}
	fd.check(&delta, o.maxDelta)
	return delta
}

// refreshPred recomputes p from the constant and the current weights.
func (o *optimizer) refreshPred(ens *Ensemble, fm *FeatMap) error {
	c := o.constant()
	for i := range o.p {
		o.p[i] = c
	}
	for tx, t := range ens.trees {
		err := t.withIndexes(func() error {
			for _, nf := range fm.featIDs(tx) {
				if nf.fx >= len(o.w) || o.w[nf.fx] == 0 {
					continue
				}
				dxs, err := t.indexes(nf.nx)
				if err != nil {
					return err
				}
				addTo(o.p, dxs, o.w[nf.fx])
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// updateTreeWeights writes w and the constant into the ensemble.
func (o *optimizer) updateTreeWeights(ens *Ensemble, fm *FeatMap) {
	for _, t := range ens.trees {
		t.resetWeights()
	}
	ens.Const = o.constant()
	for fx, w := range o.w {
		if w == 0 || fm.IsRemoved(fx) {
			continue
		}
		tx, nx := fm.Location(fx)
		ens.trees[tx].setWeight(nx, w)
	}
}

// predictTest returns predictions for the evaluation set.
func (o *optimizer) predictTest(td *TestData) []float64 {
	return td.predict(o.w, o.constant())
}

func addTo(p []float64, dxs []int, v float64) {
	if v == 0 {
		return
	}
	for _, dx := range dxs {
		p[dx] += v
	}
}
