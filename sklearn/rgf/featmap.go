package rgf

import (
	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// featInfo describes one global feature: a weight-bearing node of a tree.
type featInfo struct {
	tx, nx  int
	removed bool
	rule    string
}

// nodeFeat pairs a node with its global feature id.
type nodeFeat struct {
	nx, fx int
}

// FeatMap assigns stable global ids to active tree nodes across the
// ensemble. Ids are append-only: a node that stops being active is flagged
// removed and its id is never reused.
type FeatMap struct {
	defs  [][]int // per tree, node -> feature id or -1
	info  []featInfo
	rules map[string]int // active features per rule

	checkConsistency bool
}

// NewFeatMap returns an empty feature map.
func NewFeatMap() *FeatMap {
	return &FeatMap{rules: make(map[string]int)}
}

// NumFeatures returns the number of ids ever assigned.
func (m *FeatMap) NumFeatures() int { return len(m.info) }

// NumActive returns the number of ids not flagged removed.
func (m *FeatMap) NumActive() int {
	n := 0
	for i := range m.info {
		if !m.info[i].removed {
			n++
		}
	}
	return n
}

// IsRemoved reports whether feature fx was flagged removed.
func (m *FeatMap) IsRemoved(fx int) bool { return m.info[fx].removed }

// FeatureOf returns the id of node nx of tree tx, or -1.
func (m *FeatMap) FeatureOf(tx, nx int) int {
	if tx >= len(m.defs) || nx >= len(m.defs[tx]) {
		return -1
	}
	return m.defs[tx][nx]
}

// Location returns the tree and node of feature fx.
func (m *FeatMap) Location(fx int) (tx, nx int) { return m.info[fx].tx, m.info[fx].nx }

// featIDs lists (node, feature) pairs of tree tx in node order.
func (m *FeatMap) featIDs(tx int) []nodeFeat {
	if tx >= len(m.defs) {
		return nil
	}
	var out []nodeFeat
	for nx, fx := range m.defs[tx] {
		if fx >= 0 {
			out = append(out, nodeFeat{nx: nx, fx: fx})
		}
	}
	return out
}

// update brings the map in line with ens and returns the number of ids
// added.
func (m *FeatMap) update(ens *Ensemble) (int, error) {
	before := len(m.info)
	for tx, t := range ens.trees {
		if tx < len(m.defs) {
			if len(m.defs[tx]) == t.NumNodes() {
				continue
			}
			if err := m.updateTree(tx, t, m.defs[tx]); err != nil {
				return 0, err
			}
			continue
		}
		if tx != len(m.defs) {
			return 0, errors.NewStructuralErrorf("FeatMap.update", "tree %d added out of order", tx)
		}
		m.defs = append(m.defs, nil)
		if err := m.updateTree(tx, t, nil); err != nil {
			return 0, err
		}
	}
	if len(m.defs) != len(ens.trees) {
		return 0, errors.NewStructuralErrorf("FeatMap.update", "#tree conflict: map=%d ensemble=%d", len(m.defs), len(ens.trees))
	}
	if m.checkConsistency {
		if err := m.check(ens); err != nil {
			return 0, err
		}
	}
	return len(m.info) - before, nil
}

func (m *FeatMap) updateTree(tx int, t *Tree, prev []int) error {
	def := make([]int, t.NumNodes())
	for nx := range def {
		def[nx] = -1
		old := -1
		if nx < len(prev) {
			old = prev[nx]
		}
		if !t.isActive(nx) {
			if old >= 0 {
				if err := m.remove(old); err != nil {
					return err
				}
			}
			continue
		}
		if old >= 0 {
			def[nx] = old
			continue
		}
		rule := t.rule(nx)
		def[nx] = len(m.info)
		m.info = append(m.info, featInfo{tx: tx, nx: nx, rule: rule})
		m.rules[rule]++
	}
	m.defs[tx] = def
	return nil
}

func (m *FeatMap) remove(fx int) error {
	const op = "FeatMap.remove"
	if m.info[fx].removed {
		return errors.NewStructuralErrorf(op, "feature %d is already removed", fx)
	}
	m.info[fx].removed = true
	rule := m.info[fx].rule
	m.rules[rule]--
	switch c := m.rules[rule]; {
	case c < 0:
		return errors.NewStructuralErrorf(op, "negative rule count for feature %d", fx)
	case c == 0:
		delete(m.rules, rule)
	}
	return nil
}

// check verifies every id against the ensemble.
func (m *FeatMap) check(ens *Ensemble) error {
	const op = "FeatMap.check"
	for fx, fi := range m.info {
		if fi.removed {
			continue
		}
		if fi.tx >= len(ens.trees) || fi.nx >= ens.trees[fi.tx].NumNodes() {
			return errors.NewStructuralErrorf(op, "feature %d points outside the ensemble", fx)
		}
		if !ens.trees[fi.tx].isActive(fi.nx) {
			return errors.NewStructuralErrorf(op, "feature %d points to an inactive node", fx)
		}
		if m.defs[fi.tx][fi.nx] != fx {
			return errors.NewStructuralErrorf(op, "feature %d is not registered at its node", fx)
		}
	}
	return nil
}

// weights returns the current weight of every feature; removed ones are 0.
func (m *FeatMap) weights(ens *Ensemble) []float64 {
	w := make([]float64, len(m.info))
	for fx, fi := range m.info {
		if !fi.removed {
			w[fx] = ens.trees[fi.tx].nodes[fi.nx].Weight
		}
	}
	return w
}

// countNonzero returns the number of active features with a nonzero
// weight, and the same count after merging features sharing a rule. A
// rule counts unless every feature carrying it has zero weight.
func (m *FeatMap) countNonzero(ens *Ensemble) (nz, nzNoDup int) {
	zeros := make(map[string]int)
	for _, fi := range m.info {
		if fi.removed {
			continue
		}
		if ens.trees[fi.tx].nodes[fi.nx].Weight != 0 {
			nz++
		} else {
			zeros[fi.rule]++
		}
	}
	nzNoDup = len(m.rules)
	for rule, z := range zeros {
		if z >= m.rules[rule] {
			nzNoDup--
		}
	}
	return nz, nzNoDup
}

// clone deep-copies the map.
func (m *FeatMap) clone() *FeatMap {
	c := &FeatMap{
		defs:             make([][]int, len(m.defs)),
		info:             append([]featInfo(nil), m.info...),
		rules:            make(map[string]int, len(m.rules)),
		checkConsistency: m.checkConsistency,
	}
	for i, d := range m.defs {
		c.defs[i] = append([]int(nil), d...)
	}
	for k, v := range m.rules {
		c.rules[k] = v
	}
	return c
}
