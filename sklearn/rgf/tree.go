package rgf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// Node is one node of a tree. Children and parent are indexes into the
// tree's node arena; -1 means none.
type Node struct {
	Feature int
	Border  float64
	Weight  float64
	Parent  int
	LE      int
	GT      int
	Depth   int

	// Examples routed to the node are tree.dxs[offset:offset+count].
	offset int
	count  int
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.LE < 0 }

// Count returns the number of training examples routed to the node.
func (n *Node) Count() int { return n.count }

// IndexStore keeps the example indexes of trees that left the search
// window. Implemented by internal/spill.
type IndexStore interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

type treeConfig struct {
	maxDepth    int // <= 0: unconstrained
	maxLeaves   int // <= 0: unconstrained
	minSize     int
	useInternal bool
	tight       bool
}

// Tree is a binary decision tree stored as an append-only node arena.
type Tree struct {
	nodes []Node
	root  int

	cfg treeConfig

	// training state
	dxs      []int // root example array; node slices are ranges of it
	released bool
	sorted   map[int]*nodeSorted
	splits   map[int]*Split
	mark     []int32
	stamp    int32

	currMinPop   int
	currMaxDepth int

	store       IndexStore
	storeKey    string
	stored      bool
	storedNodes int
}

// nodeSorted holds, per feature, the node's examples in ascending value
// order. A nil entry is built on demand.
type nodeSorted struct {
	feats [][]int
}

func newTree(cfg treeConfig) *Tree {
	return &Tree{cfg: cfg, root: -1}
}

// makeRoot starts a root-only tree over n examples.
func (t *Tree) makeRoot(n int) {
	t.nodes = []Node{{Feature: -1, Parent: -1, LE: -1, GT: -1, count: n}}
	t.root = 0
	t.dxs = make([]int, n)
	for i := range t.dxs {
		t.dxs[i] = i
	}
	t.released = false
	t.sorted = nil
	t.splits = nil
	t.currMinPop = n
	t.currMaxDepth = 0
}

// NumNodes returns the number of nodes in use.
func (t *Tree) NumNodes() int { return len(t.nodes) }

// Root returns the index of the root node.
func (t *Tree) Root() int { return t.root }

// Node returns a copy of node nx.
func (t *Tree) Node(nx int) Node { return t.nodes[nx] }

// NumLeaves returns the number of leaves.
func (t *Tree) NumLeaves() int {
	n := 0
	for i := range t.nodes {
		if t.nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

func (t *Tree) checkNode(op string, nx int) error {
	if nx < 0 || nx >= len(t.nodes) {
		return errors.NewStructuralErrorf(op, "node %d out of range [0,%d)", nx, len(t.nodes))
	}
	return nil
}

// isActive reports whether node nx carries an optimizable weight.
func (t *Tree) isActive(nx int) bool {
	if t.nodes[nx].IsLeaf() {
		return true
	}
	return nx != t.root && t.cfg.useInternal
}

// indexes returns the training examples routed to nx.
func (t *Tree) indexes(nx int) ([]int, error) {
	const op = "Tree.indexes"
	if err := t.checkNode(op, nx); err != nil {
		return nil, err
	}
	if t.released {
		return nil, errors.WrapStructural(op, errors.Wrapf(errors.ErrIndexesReleased, "node %d", nx))
	}
	n := &t.nodes[nx]
	return t.dxs[n.offset : n.offset+n.count], nil
}

// sortedFeature returns the examples of nx ordered by feature fx.
func (t *Tree) sortedFeature(nx, fx int, data *Dataset) ([]int, error) {
	if nx == t.root {
		if t.released {
			return nil, errors.WrapStructural("Tree.sortedFeature", errors.ErrIndexesReleased)
		}
		return data.sortedIndex(fx), nil
	}
	if !t.cfg.tight {
		if ns := t.sorted[nx]; ns != nil && ns.feats[fx] != nil {
			return ns.feats[fx], nil
		}
	}
	dxs, err := t.indexes(nx)
	if err != nil {
		return nil, err
	}
	list := t.filterSorted(data.sortedIndex(fx), dxs, data.rows)
	if !t.cfg.tight {
		t.nodeSorted(nx, data.cols).feats[fx] = list
	}
	return list, nil
}

func (t *Tree) nodeSorted(nx, fNum int) *nodeSorted {
	if t.sorted == nil {
		t.sorted = make(map[int]*nodeSorted)
	}
	ns := t.sorted[nx]
	if ns == nil {
		ns = &nodeSorted{feats: make([][]int, fNum)}
		t.sorted[nx] = ns
	}
	return ns
}

// markSet stamps every example of dxs and returns the stamp.
func (t *Tree) markSet(dxs []int, n int) int32 {
	if len(t.mark) != n {
		t.mark = make([]int32, n)
		t.stamp = 0
	}
	t.stamp++
	if t.stamp == math.MaxInt32 {
		clear(t.mark)
		t.stamp = 1
	}
	for _, dx := range dxs {
		t.mark[dx] = t.stamp
	}
	return t.stamp
}

func (t *Tree) filterSorted(from, dxs []int, n int) []int {
	s := t.markSet(dxs, n)
	out := make([]int, 0, len(dxs))
	for _, dx := range from {
		if t.mark[dx] == s {
			out = append(out, dx)
		}
	}
	return out
}

// splitNode applies s to leaf nx. Examples are partitioned in place within
// the node's slice, LE first.
func (t *Tree) splitNode(nx int, s *Split, data *Dataset) error {
	const op = "Tree.splitNode"
	if err := t.checkNode(op, nx); err != nil {
		return err
	}
	if !t.nodes[nx].IsLeaf() {
		return errors.NewStructuralErrorf(op, "node %d is not a leaf", nx)
	}
	if s.Feature < 0 || s.Feature >= data.cols {
		return errors.NewStructuralErrorf(op, "feature %d out of range", s.Feature)
	}
	dxs, err := t.indexes(nx)
	if err != nil {
		return err
	}
	col := data.Column(s.Feature)
	le := make([]int, 0, len(dxs))
	gt := make([]int, 0, len(dxs))
	for _, dx := range dxs {
		if col[dx] <= s.Border {
			le = append(le, dx)
		} else {
			gt = append(gt, dx)
		}
	}
	if len(le) == 0 || len(gt) == 0 {
		return errors.NewStructuralErrorf(op, "split of node %d leaves an empty side (le=%d, gt=%d)", nx, len(le), len(gt))
	}
	copy(dxs, le)
	copy(dxs[len(le):], gt)

	parent := t.nodes[nx]
	leNx, gtNx := len(t.nodes), len(t.nodes)+1
	t.nodes = append(t.nodes,
		Node{Feature: -1, Parent: nx, LE: -1, GT: -1, Depth: parent.Depth + 1,
			Weight: s.LeftWeight, offset: parent.offset, count: len(le)},
		Node{Feature: -1, Parent: nx, LE: -1, GT: -1, Depth: parent.Depth + 1,
			Weight: s.RightWeight, offset: parent.offset + len(le), count: len(gt)},
	)
	p := &t.nodes[nx]
	p.Feature = s.Feature
	p.Border = s.Border
	p.LE, p.GT = leNx, gtNx
	if !t.cfg.useInternal {
		p.Weight = 0
	}
	t.currMinPop = min(t.currMinPop, len(le), len(gt))
	t.currMaxDepth = max(t.currMaxDepth, parent.Depth+1)

	t.separateSorted(nx, leNx, gtNx, data)
	delete(t.splits, nx)
	return nil
}

// separateSorted hands the parent's sorted lists down to the children.
// The parent's lists are dropped unless it is the root.
func (t *Tree) separateSorted(nx, leNx, gtNx int, data *Dataset) {
	if t.cfg.tight {
		return
	}
	ps := t.sorted[nx]
	if ps == nil {
		return
	}
	leDxs := t.dxs[t.nodes[leNx].offset : t.nodes[leNx].offset+t.nodes[leNx].count]
	s := t.markSet(leDxs, data.rows)
	les := t.nodeSorted(leNx, data.cols)
	gts := t.nodeSorted(gtNx, data.cols)
	for fx, list := range ps.feats {
		if list == nil {
			continue
		}
		l := make([]int, 0, len(leDxs))
		g := make([]int, 0, len(list)-len(leDxs))
		for _, dx := range list {
			if t.mark[dx] == s {
				l = append(l, dx)
			} else {
				g = append(g, dx)
			}
		}
		les.feats[fx], gts.feats[fx] = l, g
	}
	if nx != t.root {
		delete(t.sorted, nx)
	}
}

// findSplit searches every eligible leaf and keeps the best candidate in
// best. Cached assessments are reused unless refreshAll is set.
func (t *Tree) findSplit(fs *splitFinder, tx int, refreshAll bool, best *Split) error {
	if len(t.nodes) == 0 {
		return nil
	}
	if t.cfg.maxLeaves > 0 && t.NumLeaves() >= t.cfg.maxLeaves {
		return nil
	}
	fs.minSize = t.cfg.minSize
	for nx := range t.nodes {
		n := &t.nodes[nx]
		if !n.IsLeaf() {
			continue
		}
		if t.cfg.maxDepth > 0 && n.Depth >= t.cfg.maxDepth {
			continue
		}
		if t.cfg.minSize > 0 && n.count < 2*t.cfg.minSize {
			continue
		}
		cand := t.splits[nx]
		if refreshAll || cand == nil || nx == t.root {
			var err error
			if cand, err = fs.findSplit(nx); err != nil {
				return err
			}
			if t.splits == nil {
				t.splits = make(map[int]*Split)
			}
			t.splits[nx] = cand
		}
		best.keep(cand, tx, nx)
	}
	return nil
}

func (t *Tree) removeSplitAssessments() { t.splits = nil }

// releaseWork drops the search caches of a tree that left the search
// window and spills its example indexes when a store is attached. It
// returns the number of bytes written to the store.
func (t *Tree) releaseWork() (int, error) {
	t.sorted = nil
	t.splits = nil
	t.mark = nil
	return t.storeIndexes()
}

func encodeIndexes(t *Tree) []byte {
	buf := make([]byte, 0, 4*(2+len(t.nodes)+len(t.dxs)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.nodes)))
	for i := range t.nodes {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(t.nodes[i].count))
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.dxs)))
	for _, dx := range t.dxs {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(dx))
	}
	return buf
}

// storeIndexes writes the root example array and per-node counts to the
// store and releases them from memory.
func (t *Tree) storeIndexes() (int, error) {
	const op = "Tree.storeIndexes"
	if t.store == nil || t.released {
		return 0, nil
	}
	written := 0
	if t.stored {
		if t.storedNodes != len(t.nodes) {
			return 0, errors.NewStructuralErrorf(op, "conflict in #node: stored=%d now=%d", t.storedNodes, len(t.nodes))
		}
	} else {
		buf := encodeIndexes(t)
		if err := t.store.Put(t.storeKey, buf); err != nil {
			return 0, errors.Wrapf(err, "rgf: %s: %s", op, t.storeKey)
		}
		t.stored = true
		t.storedNodes = len(t.nodes)
		written = len(buf)
	}
	t.dxs = nil
	t.released = true
	return written, nil
}

// restoreIndexes reads the example indexes back and checks them against
// the node arena.
func (t *Tree) restoreIndexes() error {
	const op = "Tree.restoreIndexes"
	if !t.stored {
		return nil
	}
	if !t.released {
		return errors.NewStructuralError(op, "no need to restore")
	}
	buf, err := t.store.Get(t.storeKey)
	if err != nil {
		return errors.Wrapf(err, "rgf: %s: %s", op, t.storeKey)
	}
	rd := func() (int, error) {
		if len(buf) < 4 {
			return 0, errors.NewStructuralError(op, "truncated index record")
		}
		v := int(binary.LittleEndian.Uint32(buf))
		buf = buf[4:]
		return v, nil
	}
	nodeNum, err := rd()
	if err != nil {
		return err
	}
	if nodeNum != len(t.nodes) {
		return errors.NewStructuralErrorf(op, "conflict in #node: stored=%d tree=%d", nodeNum, len(t.nodes))
	}
	counts := make([]int, nodeNum)
	for i := range counts {
		if counts[i], err = rd(); err != nil {
			return err
		}
	}
	n, err := rd()
	if err != nil {
		return err
	}
	dxs := make([]int, n)
	for i := range dxs {
		if dxs[i], err = rd(); err != nil {
			return err
		}
	}
	for nx := range t.nodes {
		nd := &t.nodes[nx]
		if nd.count != counts[nx] {
			return errors.NewStructuralErrorf(op, "conflict in #data at node %d", nx)
		}
		if nd.offset+nd.count > len(dxs) {
			return errors.NewStructuralErrorf(op, "conflict in offset at node %d", nx)
		}
	}
	t.dxs = dxs
	t.released = false
	return nil
}

// withIndexes runs fn with the example indexes in memory, restoring and
// releasing them around the call when the tree is spilled.
func (t *Tree) withIndexes(fn func() error) error {
	if !t.released {
		return fn()
	}
	if err := t.restoreIndexes(); err != nil {
		return err
	}
	ferr := fn()
	t.dxs = nil
	t.released = true
	return ferr
}

// leafFor routes example row to its leaf and returns the leaf together
// with the sum of weights along the path.
func (t *Tree) leafFor(data *Dataset, row int) (int, float64) {
	nx := t.root
	var sum float64
	for {
		n := &t.nodes[nx]
		sum += n.Weight
		if n.IsLeaf() {
			return nx, sum
		}
		if data.At(row, n.Feature) <= n.Border {
			nx = n.LE
		} else {
			nx = n.GT
		}
	}
}

// apply returns the prediction of the tree for example row.
func (t *Tree) apply(data *Dataset, row int) float64 {
	if len(t.nodes) == 0 {
		return 0
	}
	_, sum := t.leafFor(data, row)
	return sum
}

// onPath calls fn for every node on the path of example row.
func (t *Tree) onPath(data *Dataset, row int, fn func(nx int)) {
	for nx := t.root; nx >= 0; {
		fn(nx)
		n := &t.nodes[nx]
		if n.IsLeaf() {
			return
		}
		if data.At(row, n.Feature) <= n.Border {
			nx = n.LE
		} else {
			nx = n.GT
		}
	}
}

// resetWeights zeroes every node weight.
func (t *Tree) resetWeights() {
	for i := range t.nodes {
		t.nodes[i].Weight = 0
	}
}

func (t *Tree) setWeight(nx int, w float64) { t.nodes[nx].Weight = w }

// cleanUp folds internal node weights into the leaves.
func (t *Tree) cleanUp() {
	var fold func(nx int, acc float64)
	fold = func(nx int, acc float64) {
		n := &t.nodes[nx]
		if n.IsLeaf() {
			n.Weight += acc
			return
		}
		acc += n.Weight
		n.Weight = 0
		fold(n.LE, acc)
		fold(n.GT, acc)
	}
	if len(t.nodes) > 0 {
		fold(t.root, 0)
	}
}

// clone returns a deep copy of the structure, weights and example indexes.
// Search caches are not copied.
func (t *Tree) clone() *Tree {
	c := &Tree{
		nodes:        append([]Node(nil), t.nodes...),
		root:         t.root,
		cfg:          t.cfg,
		released:     t.released,
		currMinPop:   t.currMinPop,
		currMaxDepth: t.currMaxDepth,
		store:        t.store,
		storeKey:     t.storeKey,
		stored:       t.stored,
		storedNodes:  t.storedNodes,
	}
	if t.dxs != nil {
		c.dxs = append([]int(nil), t.dxs...)
	}
	return c
}

// dropTrainingState detaches a model tree from training: example indexes,
// search caches and the spill store are dropped.
func (t *Tree) dropTrainingState() {
	t.dxs = nil
	t.released = true
	t.sorted, t.splits, t.mark = nil, nil, nil
	t.store, t.storeKey, t.stored, t.storedNodes = nil, "", false, 0
}

// rule encodes the decision path to nx: (feature, LE?, border) per
// ancestor from the node upward. The root's rule is empty.
func (t *Tree) rule(nx int) string {
	var b []byte
	for cx := nx; ; {
		px := t.nodes[cx].Parent
		if px < 0 {
			break
		}
		p := &t.nodes[px]
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(p.Feature)))
		if p.LE == cx {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(p.Border))
		cx = px
	}
	return string(b)
}

// Describe renders the decision path to nx, e.g. "f3<=0.5;f1>2".
func (t *Tree) Describe(nx int, featName func(int) string) string {
	if featName == nil {
		featName = defaultFeatName
	}
	var parts []string
	for cx := nx; t.nodes[cx].Parent >= 0; cx = t.nodes[cx].Parent {
		p := &t.nodes[t.nodes[cx].Parent]
		op := ">"
		if p.LE == cx {
			op = "<="
		}
		parts = append(parts, fmt.Sprintf("%s%s%g", featName(p.Feature), op, p.Border))
	}
	if len(parts) == 0 {
		return "ROOT"
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ";")
}

func defaultFeatName(fx int) string { return fmt.Sprintf("f%d", fx) }

// Show writes the tree as indented text: "[nx] (pop, weight) depth=d
// feat<=border", leaves marked with '*'.
func (t *Tree) Show(w io.Writer, featName func(int) string) error {
	if featName == nil {
		featName = defaultFeatName
	}
	var walk func(nx int) error
	walk = func(nx int) error {
		n := &t.nodes[nx]
		mark := " "
		if n.IsLeaf() {
			mark = "*"
		}
		line := fmt.Sprintf("%s%s[%d] (%d, %g) depth=%d", strings.Repeat("  ", n.Depth), mark, nx, n.count, n.Weight, n.Depth)
		if !n.IsLeaf() {
			line += fmt.Sprintf(" %s<=%g", featName(n.Feature), n.Border)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if n.IsLeaf() {
			return nil
		}
		if err := walk(n.LE); err != nil {
			return err
		}
		return walk(n.GT)
	}
	if len(t.nodes) == 0 {
		return nil
	}
	return walk(t.root)
}

// warmup rebuilds the training state of t from the structure and weights
// of src. Every example is routed through the tree and its output is added
// to p. Node ids are kept.
func (t *Tree) warmup(src *Tree, data *Dataset, p []float64) error {
	const op = "Tree.warmup"
	if len(src.nodes) == 0 {
		return nil
	}
	for nx := range src.nodes {
		if !src.nodes[nx].IsLeaf() && src.nodes[nx].Weight != 0 {
			return errors.NewStructuralErrorf(op, "internal node %d has a non-zero weight", nx)
		}
	}
	t.nodes = append([]Node(nil), src.nodes...)
	t.root = src.root
	t.sorted, t.splits, t.mark = nil, nil, nil
	t.released = false

	rows, _ := data.Dims()
	members := make([][]int, len(t.nodes))
	for dx := 0; dx < rows; dx++ {
		t.onPath(data, dx, func(nx int) {
			if t.nodes[nx].IsLeaf() {
				members[nx] = append(members[nx], dx)
			}
		})
		p[dx] += t.apply(data, dx)
	}

	// Lay the leaves out depth first so every node owns a contiguous range.
	t.dxs = make([]int, 0, rows)
	t.currMinPop, t.currMaxDepth = rows, 0
	var layout func(nx, depth int) error
	layout = func(nx, depth int) error {
		if nx < 0 || nx >= len(t.nodes) {
			return errors.NewStructuralErrorf(op, "child %d out of range", nx)
		}
		n := &t.nodes[nx]
		n.Depth = depth
		n.offset = len(t.dxs)
		if n.IsLeaf() {
			t.dxs = append(t.dxs, members[nx]...)
		} else {
			if err := layout(n.LE, depth+1); err != nil {
				return err
			}
			if err := layout(n.GT, depth+1); err != nil {
				return err
			}
		}
		n.count = len(t.dxs) - n.offset
		if nx != t.root {
			t.currMinPop = min(t.currMinPop, n.count)
		}
		t.currMaxDepth = max(t.currMaxDepth, depth)
		return nil
	}
	return layout(t.root, 0)
}
