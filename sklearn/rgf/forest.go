package rgf

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/rgf/internal/spill"
	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

// Status is returned by Forest.Proceed.
type Status int

const (
	// StatusTestNow means a test checkpoint was reached. Call Apply, then
	// Proceed again.
	StatusTestNow Status = iota
	// StatusExit means training is over.
	StatusExit
)

func (s Status) String() string {
	if s == StatusTestNow {
		return "TestNow"
	}
	return "Exit"
}

// Exit reasons.
const (
	ExitNoMoreSplit  = "No more split"
	ExitTreeMax      = "#tree reached max"
	ExitLeafMax      = "#leaf reached max"
	ExitNotStarted   = ""
	phaseSearch      = "search"
	phaseOptimize    = "optimize"
	spillKeyTemplate = "tree/%d"
)

// Forest grows a regularized greedy forest one split at a time. Weights
// are refit every opt_interval leaves and control returns to the caller
// every test_interval leaves.
//
// A Forest is not safe for concurrent use.
type Forest struct {
	prm    Params
	config string
	loss   LossType

	logger  log.Logger
	metrics *Metrics
	runID   string
	store   IndexStore
	ownedDB *spill.BadgerStore
	rng     *rand.Rand

	data     *Dataset
	tar      *target
	rd       *RegDepth
	fs       *splitFinder
	opt      *optimizer
	fmap     *FeatMap
	regs     *regArray
	ens      *Ensemble
	frontier *Tree
	treeCfg  treeConfig

	p        []float64
	pyAdjust float64
	lamScale float64

	maxTrees     int
	sTreeNum     int
	fPick        int
	frontierTx   int
	forceRefresh bool

	lNum       int
	isOpt      bool
	started    bool
	exited     bool
	exitReason string

	optTimer, testTimer, lmaxTimer leafTimer
	searchTime, optTime            time.Duration
}

// ForestOption configures a Forest.
type ForestOption func(*Forest)

// WithLogger sets the logger.
func WithLogger(l log.Logger) ForestOption {
	return func(f *Forest) { f.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) ForestOption {
	return func(f *Forest) { f.metrics = m }
}

// WithIndexStore spills the example indexes of trees outside the search
// window to s.
func WithIndexStore(s IndexStore) ForestOption {
	return func(f *Forest) { f.store = s }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) ForestOption {
	return func(f *Forest) { f.runID = id }
}

// NewForest validates prm and returns an idle trainer.
func NewForest(prm Params, opts ...ForestOption) (*Forest, error) {
	if err := prm.Validate(); err != nil {
		return nil, err
	}
	loss, err := ParseLoss(prm.Loss)
	if err != nil {
		return nil, err
	}
	f := &Forest{
		prm:    prm,
		config: prm.String(),
		loss:   loss,
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.GetLoggerWithName("rgf")
	}
	f.logger = f.logger.With(log.RunIDKey, f.runID)
	return f, nil
}

// Params returns the training parameters.
func (f *Forest) Params() Params { return f.prm }

// RunID returns the id of this training run.
func (f *Forest) RunID() string { return f.runID }

// ExitReason returns why training stopped, or "" while it is running.
func (f *Forest) ExitReason() string { return f.exitReason }

// NumLeaves returns the current leaf count.
func (f *Forest) NumLeaves() int { return f.lNum }

// Signature identifies the algorithm.
func (f *Forest) Signature() string {
	if f.regs != nil {
		return f.regs.signature()
	}
	return defaultRGFSignature
}

// Description is the human readable name of the algorithm.
func (f *Forest) Description() string {
	if f.regs != nil {
		return f.regs.description()
	}
	return defaultRGFDesc
}

// resetParam derives the controller settings from the parameters.
func (f *Forest) resetParam() {
	prm := &f.prm
	f.optTimer.reset(prm.OptInterval)
	f.sTreeNum = prm.NumTreeSearch
	f.maxTrees = prm.maxTrees()
	f.frontierTx = f.maxTrees + 1
	f.lmaxTimer.reset(prm.MaxLeafForest)

	test := adjustTestInterval(prm.TestInterval, prm.OptInterval, prm.TempForTrees != "")
	if test != prm.TestInterval {
		f.logger.Info("Changing test interval", "from", prm.TestInterval, "to", test)
	}
	f.testTimer.reset(test)

	seed := prm.RandomSeed
	if seed <= 0 {
		seed = time.Now().UnixNano()
	}
	f.rng = rand.New(rand.NewSource(seed))

	f.treeCfg = treeConfig{
		maxDepth:    prm.MaxDepth,
		maxLeaves:   prm.maxLeavesPerTree(),
		minSize:     max(prm.MinPop, 0),
		useInternal: prm.UseInternalNodes,
		tight:       prm.MemPolicy == MemTight,
	}

	f.forceRefresh = prm.DoForceToRefreshAll
	f.regs = nil
	if prm.usesTreeReg() {
		if prm.DoApproxTsr {
			if f.forceRefresh {
				f.logger.Info("Turning off doForceToRefreshAll")
			}
			f.forceRefresh = false
		} else {
			if !f.forceRefresh {
				f.logger.Info("Turning on doForceToRefreshAll")
			}
			f.forceRefresh = true
		}
		f.regs = newRegArray(prm.Algorithm, prm.RegIteNum)
		f.regs.reset(f.maxTrees)
	}
}

func (f *Forest) setInput(data *Dataset, y, w []float64) error {
	const op = "Forest.setInput"
	rows, cols := data.Dims()
	if len(y) != rows {
		return errors.NewDimensionError(op, rows, len(y), 0)
	}
	if err := errors.CheckSlice(op, y); err != nil {
		return err
	}
	if w != nil && len(w) != rows {
		return errors.NewDimensionError(op, rows, len(w), 0)
	}
	f.data = data
	f.fPick = -1
	if f.prm.FRatio > 0 {
		f.fPick = max(1, int(float64(cols)*f.prm.FRatio))
		f.logger.Info("Feature sampling", "features.sampled", f.fPick)
	}
	return nil
}

func (f *Forest) openStore() error {
	if f.store != nil || f.prm.TempForTrees == "" {
		return nil
	}
	db, err := spill.Open(spill.Config{Dir: f.prm.TempForTrees, Namespace: f.runID})
	if err != nil {
		return err
	}
	f.ownedDB = db
	f.store = db
	return nil
}

// Close releases the spill store opened for temp_for_trees.
func (f *Forest) Close() error {
	if f.ownedDB == nil {
		return nil
	}
	err := f.ownedDB.Close()
	f.ownedDB = nil
	f.store = nil
	return err
}

func (f *Forest) newTree(tx int) *Tree {
	t := newTree(f.treeCfg)
	if f.store != nil {
		t.store = f.store
		t.storeKey = fmt.Sprintf(spillKeyTemplate, tx)
	}
	return t
}

func (f *Forest) initCommon() error {
	rd, err := NewRegDepth(f.prm.RegDepth)
	if err != nil {
		return err
	}
	f.rd = rd
	if f.regs != nil {
		if err := f.regs.checkRegDepth(rd); err != nil {
			return err
		}
	}
	n, _ := f.data.Dims()
	f.frontier = newTree(f.treeCfg)
	f.frontier.makeRoot(n)
	f.fmap = NewFeatMap()
	return nil
}

func (f *Forest) logStart(kind string, w []float64) {
	rows, cols := f.data.Dims()
	f.logger.Info("Training started",
		log.OperationKey, kind,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.WeightedKey, w != nil,
		log.MaxLeavesKey, f.prm.MaxLeafForest,
		log.MaxTreesKey, f.maxTrees,
		"config", f.config,
		log.RegularizerKey, f.Description(),
	)
}

// ColdStart prepares training from scratch. w holds optional per-example
// weights.
func (f *Forest) ColdStart(data *Dataset, y, w []float64) error {
	f.resetParam()
	if err := f.setInput(data, y, w); err != nil {
		return err
	}
	if err := f.openStore(); err != nil {
		return err
	}
	if err := f.initCommon(); err != nil {
		return err
	}
	f.opt = newOptimizer(&f.prm, y, w, f.rd, f.logger, f.metrics)
	f.opt.regs = f.regs
	f.p = append([]float64(nil), f.opt.pred()...)
	if err := f.initTarget(y, w); err != nil {
		return err
	}
	_, cols := data.Dims()
	f.ens = newEnsemble(f.maxTrees, cols)
	// p starts at the fixed constant, which is the mean of y with normalize_target
	f.ens.Const = f.opt.constant()
	f.lNum = 0
	f.started, f.exited, f.isOpt = true, false, false
	f.exitReason = ExitNotStarted
	f.logStart("cold_start", w)
	return nil
}

// WarmStart continues training from model. Its trees are rebuilt on data
// and become the first trees of the forest.
func (f *Forest) WarmStart(data *Dataset, y, w []float64, model *Ensemble) error {
	const op = "Forest.WarmStart"
	_, cols := data.Dims()
	if model.OrgDim > 0 && model.OrgDim != cols {
		return errors.NewDimensionError(op, model.OrgDim, cols, 1)
	}
	if f.prm.UseInternalNodes {
		return errors.NewValidationError("use_internal_nodes", "cannot be used with warm start", true)
	}
	f.resetParam()
	inpLeaves := model.NumLeaves()
	if f.lmaxTimer.reachedMax(inpLeaves) || f.maxTrees <= model.NumTrees() {
		return errors.NewCapacityError(op, inpLeaves, model.NumTrees(), f.prm.MaxLeafForest, f.maxTrees)
	}
	f.testTimer.shift(inpLeaves)
	f.optTimer.shift(inpLeaves)

	if err := f.setInput(data, y, w); err != nil {
		return err
	}
	if err := f.openStore(); err != nil {
		return err
	}
	if err := f.initCommon(); err != nil {
		return err
	}

	f.logger.Info("Warming-up trees", log.TreesKey, model.NumTrees(), log.LeavesKey, inpLeaves)
	rows, _ := data.Dims()
	f.ens = newEnsemble(f.maxTrees, cols)
	f.ens.Const = model.Const
	p := make([]float64, rows)
	for i := range p {
		p[i] = model.Const
	}
	for tx, src := range model.trees {
		t := f.newTree(tx)
		if err := t.warmup(src, data, p); err != nil {
			return err
		}
		if _, err := f.ens.addTree(t); err != nil {
			return err
		}
	}
	for tx := 0; tx < f.ens.NumTrees()-f.sTreeNum; tx++ {
		n, err := f.ens.trees[tx].releaseWork()
		if err != nil {
			return err
		}
		f.metrics.addSpilled(n)
	}

	f.logger.Info("Warming-up the optimizer")
	f.opt = newOptimizer(&f.prm, y, w, f.rd, f.logger, f.metrics)
	f.opt.regs = f.regs
	if _, err := f.fmap.update(f.ens); err != nil {
		return err
	}
	f.opt.warmStart(f.ens, f.fmap, p)
	f.p = p
	if err := f.initTarget(y, w); err != nil {
		return err
	}
	f.lNum = f.ens.NumLeaves()
	f.started, f.exited, f.isOpt = true, false, false
	f.exitReason = ExitNotStarted
	f.logStart("warm_start", w)
	return nil
}

func (f *Forest) initTarget(y, w []float64) error {
	tar, err := newTarget(y, w)
	if err != nil {
		return err
	}
	f.tar = tar
	f.fs = newSplitFinder(f.data, f.tar, f.rd, f.prm.searchLambda(), f.prm.searchSigma())
	f.resetTarget()
	return nil
}

// resetTarget recomputes the search target at the current predictions.
func (f *Forest) resetTarget() {
	if f.loss == LossSquare {
		f.tar.resetResidual(f.p)
		f.pyAdjust, f.lamScale = 0, 1
		return
	}
	f.pyAdjust, f.lamScale = f.tar.resetDeriv(f.loss, f.p)
}

// Proceed grows the forest until the next test checkpoint or the end of
// training.
func (f *Forest) Proceed(ctx context.Context) (Status, error) {
	if !f.started {
		return StatusExit, errors.NewStructuralError("Forest.Proceed", "not started")
	}
	if f.exited {
		return StatusExit, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return StatusExit, err
		}
		exit, err := f.growForest()
		if err != nil {
			return StatusExit, err
		}
		if exit {
			break
		}
		if f.optTimer.ringing(f.lNum) {
			if err := f.optimizeResetTarget(ctx); err != nil {
				return StatusExit, err
			}
			f.showTreeInfo()
		}
		if f.testTimer.ringing(f.lNum) {
			f.metrics.incTest()
			return StatusTestNow, nil
		}
	}
	if !f.isOpt {
		if err := f.optimizeResetTarget(ctx); err != nil {
			return StatusExit, err
		}
	}
	f.exited = true
	f.metrics.incExit(f.exitReason)
	f.timeShow()
	return StatusExit, nil
}

func (f *Forest) exit(reason string) (bool, error) {
	f.exitReason = reason
	f.logger.Info("Training exit", log.ExitReasonKey, reason, log.TreesKey, f.ens.NumTrees(), log.LeavesKey, f.lNum)
	return true, nil
}

// growForest applies the best split. It returns true when training should
// stop.
func (f *Forest) growForest() (bool, error) {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		f.searchTime += d
		f.metrics.addPhase(phaseSearch, d)
	}()

	best, err := f.searchBestSplit()
	if err != nil {
		return true, err
	}
	if best.TreeIndex < 0 || best.Feature < 0 {
		return f.exit(ExitNoMoreSplit)
	}
	if best.TreeIndex == f.frontierTx && f.ens.isFull() {
		return f.exit(ExitTreeMax)
	}

	tree, nx, err := f.treeToGrow(best)
	if err != nil {
		return true, err
	}
	oldW := tree.nodes[nx].Weight
	if err := tree.splitNode(nx, best, f.data); err != nil {
		return true, err
	}
	wInc := tree.nodes[nx].Weight - oldW
	f.isOpt = false
	f.lNum++ // one leaf became two
	if nx == tree.root {
		f.lNum++
	}
	f.metrics.incSplit()
	f.metrics.observeSize(f.ens.NumTrees(), f.lNum)
	f.logger.Debug("Split applied",
		log.TreeIndexKey, best.TreeIndex, log.NodeIndexKey, nx,
		log.FeatureKey, best.Feature, log.GainKey, best.Gain, log.LeavesKey, f.lNum)

	if f.lmaxTimer.reachedMax(f.lNum) {
		return f.exit(ExitLeafMax)
	}
	return false, f.updateTarget(tree, nx, wInc)
}

// treeToGrow resolves the tree of best. A split found on the frontier
// starts a new tree.
func (f *Forest) treeToGrow(best *Split) (*Tree, int, error) {
	if best.TreeIndex != f.frontierTx {
		return f.ens.trees[best.TreeIndex], best.NodeIndex, nil
	}
	n, _ := f.data.Dims()
	t := f.newTree(f.ens.NumTrees())
	t.makeRoot(n)
	tx, err := f.ens.addTree(t)
	if err != nil {
		return nil, -1, err
	}
	best.TreeIndex = tx
	best.NodeIndex = t.root
	return t, t.root, nil
}

func (f *Forest) searchBestSplit() (*Split, error) {
	refreshAll := f.forceRefresh || f.sTreeNum > 1
	last := f.ens.NumTrees() - 1
	first := max(0, last+1-f.sTreeNum)
	if first-1 >= 0 {
		// never searched again
		n, err := f.ens.trees[first-1].releaseWork()
		if err != nil {
			return nil, err
		}
		f.metrics.addSpilled(n)
	}
	if f.fPick > 0 {
		if err := f.fs.pickFeatures(f.rng, f.fPick); err != nil {
			return nil, err
		}
	}
	best := newSplit()
	search := func(t *Tree, tx int) error {
		var reg treeReg
		if f.regs != nil {
			reg = f.regs.regForNewLeaf(tx)
		}
		if err := f.fs.begin(t, reg, f.tar.nn, f.lamScale); err != nil {
			return err
		}
		return t.findSplit(f.fs, tx, refreshAll, best)
	}
	for tx := first; tx <= last; tx++ {
		if err := search(f.ens.trees[tx], tx); err != nil {
			return nil, err
		}
	}
	if !f.prm.DoPassiveRoot || best.TreeIndex < 0 || best.Feature < 0 {
		if err := search(f.frontier, f.frontierTx); err != nil {
			return nil, err
		}
	}
	return best, nil
}

// updateTarget adjusts predictions and the search target of the examples
// of the two new leaves.
func (f *Forest) updateTarget(t *Tree, nx int, wInc float64) error {
	n := &t.nodes[nx]
	for _, cx := range [2]int{n.LE, n.GT} {
		dxs, err := t.indexes(cx)
		if err != nil {
			return err
		}
		inc := t.nodes[cx].Weight + wInc
		addTo(f.p, dxs, inc)
		if f.loss == LossSquare {
			f.tar.updateResidual(dxs, inc)
		} else {
			f.tar.updateDeriv(f.loss, dxs, f.p, f.pyAdjust)
		}
	}
	return nil
}

// optimizeResetTarget refits all weights, then resets the target and
// drops cached split assessments.
func (f *Forest) optimizeResetTarget(ctx context.Context) error {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		f.optTime += d
		f.metrics.addPhase(phaseOptimize, d)
	}()
	f.logger.Info("Calling optimizer", log.TreesKey, f.ens.NumTrees(), log.LeavesKey, f.lNum)
	added, err := f.fmap.update(f.ens)
	if err != nil {
		return err
	}
	if added > 0 || f.ens.NumTrees() == 0 {
		if err := f.opt.optimize(ctx, f.ens, f.fmap); err != nil {
			return err
		}
		f.metrics.incOptimizer()
	} else {
		f.logger.Info("No new feature")
	}
	copy(f.p, f.opt.pred())
	f.resetTarget()
	for _, t := range f.ens.trees {
		t.removeSplitAssessments()
	}
	f.isOpt = true
	return nil
}

func (f *Forest) showTreeInfo() {
	if !f.logger.Enabled(context.Background(), log.LevelDebug) {
		return
	}
	var maxDepth, maxLeaves int
	var sumDepth, sumLeaves float64
	for _, t := range f.ens.trees {
		maxDepth = max(maxDepth, t.currMaxDepth)
		sumDepth += float64(t.currMaxDepth)
		l := t.NumLeaves()
		maxLeaves = max(maxLeaves, l)
		sumLeaves += float64(l)
	}
	n := float64(max(f.ens.NumTrees(), 1))
	f.logger.Debug("Tree info",
		log.TreesKey, f.ens.NumTrees(),
		"depth.max", maxDepth, "depth.avg", sumDepth/n,
		"leaves.max", maxLeaves, "leaves.avg", sumLeaves/n)
}

func (f *Forest) timeShow() {
	if !f.prm.DoTime {
		return
	}
	f.logger.Info("Timing",
		"search_time", f.searchTime.Seconds(),
		"opt_time", f.optTime.Seconds())
}

// Apply predicts td with the current model. When weights are stale the
// ensemble and optimizer are copied and optimized first, leaving the
// training state untouched.
func (f *Forest) Apply(ctx context.Context, td *TestData) ([]float64, ModelInfo, error) {
	if !f.started {
		return nil, ModelInfo{}, errors.NewStructuralError("Forest.Apply", "not started")
	}
	if !f.isOpt {
		f.logger.Info("Testing (branch-off for end-of-training optimization)")
		b, err := f.branchOff(ctx)
		if err != nil {
			return nil, ModelInfo{}, err
		}
		tmp := td.clone()
		if err := tmp.update(b.ens, b.fmap); err != nil {
			return nil, ModelInfo{}, err
		}
		return b.opt.predictTest(tmp), f.info(b.ens, b.fmap, b.opt), nil
	}
	f.logger.Info("Testing")
	if err := td.update(f.ens, f.fmap); err != nil {
		return nil, ModelInfo{}, err
	}
	return f.opt.predictTest(td), f.info(f.ens, f.fmap, f.opt), nil
}

type branch struct {
	ens  *Ensemble
	fmap *FeatMap
	opt  *optimizer
}

// branchOff optimizes deep copies of the ensemble, feature map and
// optimizer.
func (f *Forest) branchOff(ctx context.Context) (*branch, error) {
	b := &branch{ens: f.ens.clone(), fmap: f.fmap.clone(), opt: f.opt.clone()}
	added, err := b.fmap.update(b.ens)
	if err != nil {
		return nil, err
	}
	if added > 0 || b.ens.NumTrees() == 0 {
		if err := b.opt.optimize(ctx, b.ens, b.fmap); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Model returns a cleaned-up copy of the current model. Stale weights are
// optimized on a branch first.
func (f *Forest) Model(ctx context.Context) (*Ensemble, error) {
	if !f.started {
		return nil, errors.NewStructuralError("Forest.Model", "not started")
	}
	ens := f.ens
	if !f.isOpt {
		f.logger.Info("Branch off for end-of-training optimization")
		b, err := f.branchOff(ctx)
		if err != nil {
			return nil, err
		}
		ens = b.ens
	}
	out := ens.clone()
	out.cleanUp()
	for _, t := range out.trees {
		t.dropTrainingState()
	}
	out.Config = f.config
	out.Signature = f.Signature()
	out.capacity = 0
	return out, nil
}

// Info summarizes the current model.
func (f *Forest) Info() ModelInfo {
	if !f.started {
		return ModelInfo{}
	}
	return f.info(f.ens, f.fmap, f.opt)
}

func (f *Forest) info(ens *Ensemble, fm *FeatMap, opt *optimizer) ModelInfo {
	nz, nzNoDup := fm.countNonzero(ens)
	return ModelInfo{
		Leaves:          f.lNum,
		Trees:           ens.NumTrees(),
		Features:        len(opt.w),
		NonzeroFeatures: nz,
		NonzeroNoDup:    nzNoDup,
		Signature:       f.Signature(),
		Config:          f.config,
	}
}
