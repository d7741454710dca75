package rgf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

func lineData(t *testing.T, n int) *Dataset {
	t.Helper()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{float64(i + 1)}
	}
	data, err := NewDatasetFromRows(rows)
	require.NoError(t, err)
	return data
}

// twoSplitTree splits x in 1..8 at 4.5 and then the GT side at 6.5.
func twoSplitTree(t *testing.T, data *Dataset) *Tree {
	t.Helper()
	tree := newTree(treeConfig{})
	tree.makeRoot(8)
	require.NoError(t, tree.splitNode(0, &Split{Feature: 0, Border: 4.5, LeftWeight: -1, RightWeight: 1}, data))
	require.NoError(t, tree.splitNode(2, &Split{Feature: 0, Border: 6.5, LeftWeight: 0.5, RightWeight: 2}, data))
	return tree
}

func TestTree_SplitNode(t *testing.T) {
	data := lineData(t, 8)
	tree := twoSplitTree(t, data)

	assert.Equal(t, 5, tree.NumNodes())
	assert.Equal(t, 3, tree.NumLeaves())

	le, err := tree.indexes(1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, le)
	gtle, err := tree.indexes(3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{4, 5}, gtle)

	n2 := tree.Node(2)
	assert.False(t, n2.IsLeaf())
	assert.Equal(t, 0.0, n2.Weight, "split nodes lose their weight")
	assert.Equal(t, 2, tree.Node(4).Depth)

	assert.InDelta(t, -1.0, tree.apply(data, 0), 1e-12)
	assert.InDelta(t, 0.5, tree.apply(data, 5), 1e-12)
	assert.InDelta(t, 2.0, tree.apply(data, 7), 1e-12)

	t.Run("errors", func(t *testing.T) {
		err := tree.splitNode(2, &Split{Feature: 0, Border: 7}, data)
		assert.Error(t, err)
		var se *errors.StructuralError
		assert.True(t, errors.As(err, &se))

		err = tree.splitNode(1, &Split{Feature: 0, Border: 100}, data)
		assert.Error(t, err, "one side empty")
		assert.Error(t, tree.splitNode(99, &Split{Feature: 0}, data))
	})
}

func TestTree_SortedFeature(t *testing.T) {
	rows := [][]float64{{5}, {1}, {4}, {2}, {8}, {3}}
	data, err := NewDatasetFromRows(rows)
	require.NoError(t, err)

	for _, tight := range []bool{false, true} {
		tree := newTree(treeConfig{tight: tight})
		tree.makeRoot(6)
		_, err := tree.sortedFeature(0, 0, data)
		require.NoError(t, err)
		require.NoError(t, tree.splitNode(0, &Split{Feature: 0, Border: 3.5}, data))

		le, err := tree.sortedFeature(1, 0, data)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3, 5}, le, "tight=%v", tight)
		gt, err := tree.sortedFeature(2, 0, data)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 0, 4}, gt, "tight=%v", tight)
	}
}

func TestTree_DescribeAndShow(t *testing.T) {
	data := lineData(t, 8)
	tree := twoSplitTree(t, data)

	assert.Equal(t, "ROOT", tree.Describe(0, nil))
	assert.Equal(t, "f0<=4.5", tree.Describe(1, nil))
	assert.Equal(t, "f0>4.5;f0>6.5", tree.Describe(4, nil))
	assert.Equal(t, "age>4.5;age<=6.5", tree.Describe(3, func(int) string { return "age" }))

	var buf bytes.Buffer
	require.NoError(t, tree.Show(&buf, nil))
	out := buf.String()
	assert.Contains(t, out, " [0] (8, 0) depth=0 f0<=4.5")
	assert.Contains(t, out, "*[1] (4, -1) depth=1")
	assert.Contains(t, out, "    *[4] (2, 2) depth=2")

	assert.NotEqual(t, tree.rule(3), tree.rule(4))
	assert.Empty(t, tree.rule(0))
}

func TestTree_CleanUp(t *testing.T) {
	data := lineData(t, 8)
	tree := newTree(treeConfig{useInternal: true})
	tree.makeRoot(8)
	require.NoError(t, tree.splitNode(0, &Split{Feature: 0, Border: 4.5, LeftWeight: 1, RightWeight: 2}, data))
	require.NoError(t, tree.splitNode(2, &Split{Feature: 0, Border: 6.5, LeftWeight: 3, RightWeight: 4}, data))
	tree.setWeight(0, 0.5)

	before := make([]float64, 8)
	for i := range before {
		before[i] = tree.apply(data, i)
	}
	tree.cleanUp()
	for nx := 0; nx < tree.NumNodes(); nx++ {
		if n := tree.Node(nx); !n.IsLeaf() {
			assert.Zero(t, n.Weight)
		}
	}
	for i := range before {
		assert.InDelta(t, before[i], tree.apply(data, i), 1e-12)
	}
	assert.InDelta(t, 0.5+2+4, tree.apply(data, 7), 1e-12)
}

func TestTree_SpillBracket(t *testing.T) {
	data := lineData(t, 8)
	tree := twoSplitTree(t, data)
	store := newMemStore()
	tree.store = store
	tree.storeKey = "tree/0"

	want, err := tree.indexes(3)
	require.NoError(t, err)
	want = append([]int(nil), want...)

	n, err := tree.releaseWork()
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Equal(t, 1, store.puts)

	_, err = tree.indexes(3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIndexesReleased))
	var se *errors.StructuralError
	assert.True(t, errors.As(err, &se))

	var got []int
	require.NoError(t, tree.withIndexes(func() error {
		dxs, err := tree.indexes(3)
		got = append([]int(nil), dxs...)
		return err
	}))
	assert.Equal(t, want, got)

	_, err = tree.indexes(3)
	assert.True(t, errors.Is(err, errors.ErrIndexesReleased), "released again after the bracket")

	// a second release does not rewrite the store
	n, err = tree.releaseWork()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.puts)
}

func TestTree_Warmup(t *testing.T) {
	data := lineData(t, 8)
	src := twoSplitTree(t, data)
	src.dropTrainingState()

	p := make([]float64, 8)
	tree := newTree(treeConfig{})
	require.NoError(t, tree.warmup(src, data, p))

	assert.Equal(t, src.NumNodes(), tree.NumNodes())
	for i := range p {
		assert.InDelta(t, src.apply(data, i), p[i], 1e-12)
	}
	for nx, want := range map[int][]int{0: {0, 1, 2, 3, 4, 5, 6, 7}, 1: {0, 1, 2, 3}, 2: {4, 5, 6, 7}, 3: {4, 5}, 4: {6, 7}} {
		dxs, err := tree.indexes(nx)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, dxs, "node %d", nx)
	}
	assert.Equal(t, 2, tree.currMaxDepth)

	t.Run("internal weights are rejected", func(t *testing.T) {
		bad := src.clone()
		bad.setWeight(2, 1)
		assert.Error(t, newTree(treeConfig{}).warmup(bad, data, make([]float64, 8)))
	})
}
