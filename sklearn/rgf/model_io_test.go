package rgf

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

func trainedModel(t *testing.T) (*Ensemble, *Dataset) {
	t.Helper()
	data, y := stepData(t, 100, 11)
	f, _ := trainToEnd(t, testParams(func(p *Params) { p.MaxLeafForest = 16 }), data, y)
	model, err := f.Model(context.Background())
	require.NoError(t, err)
	return model, data
}

func modelKind(t *testing.T, err error) string {
	t.Helper()
	var me *errors.ModelError
	require.True(t, errors.As(err, &me), "got %v", err)
	return me.Kind
}

func TestModelIO_RoundTrip(t *testing.T) {
	model, data := trainedModel(t)

	var buf bytes.Buffer
	n, err := model.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	back, err := ReadEnsemble(&buf)
	require.NoError(t, err)
	assert.Equal(t, model.NumTrees(), back.NumTrees())
	assert.Equal(t, model.NumLeaves(), back.NumLeaves())
	assert.Equal(t, model.Const, back.Const)
	assert.Equal(t, model.OrgDim, back.OrgDim)
	assert.Equal(t, model.Config, back.Config)
	assert.Equal(t, model.Signature, back.Signature)
	for tx := 0; tx < model.NumTrees(); tx++ {
		a, b := model.Tree(tx), back.Tree(tx)
		for nx := 0; nx < a.NumNodes(); nx++ {
			assert.Equal(t, a.Node(nx).Depth, b.Node(nx).Depth)
		}
	}

	want, err := model.Predict(data)
	require.NoError(t, err)
	got, err := back.Predict(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = back.Tree(0).indexes(0)
	assert.ErrorIs(t, err, errors.ErrIndexesReleased, "a loaded model has no training state")
}

func TestModelIO_SaveLoad(t *testing.T) {
	model, data := trainedModel(t)
	path := filepath.Join(t.TempDir(), "m.rgf")
	require.NoError(t, model.Save(path))

	back, err := LoadEnsemble(path)
	require.NoError(t, err)
	want, err := model.Predict(data)
	require.NoError(t, err)
	got, err := back.Predict(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadEnsemble(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, "open", modelKind(t, err))
}

func TestModelIO_Corrupt(t *testing.T) {
	model, _ := trainedModel(t)
	var buf bytes.Buffer
	_, err := model.WriteTo(&buf)
	require.NoError(t, err)
	good := buf.Bytes()

	mutate := func(fn func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return fn(b)
	}
	tests := []struct {
		name string
		data []byte
		kind string
	}{
		{"bad marker", mutate(func(b []byte) []byte { b[0] ^= 0xff; return b }), "format"},
		{"byte-swapped marker", mutate(func(b []byte) []byte { b[0], b[3] = b[3], b[0]; return b }), "format"},
		{"reserved byte set", mutate(func(b []byte) []byte { b[4+8+100] = 1; return b }), "format"},
		{"truncated header", good[:6], "format"},
		{"truncated trees", good[:len(good)-5], "read"},
		{"empty", nil, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadEnsemble(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.kind, modelKind(t, err))
		})
	}
}

func TestTreeFromRecords(t *testing.T) {
	leaf := func(parent int32) nodeRecord { return nodeRecord{Fx: -1, LE: -1, GT: -1, Parent: parent} }
	split := nodeRecord{Fx: 0, Border: 1, LE: 1, GT: 2, Parent: -1}

	tree, err := treeFromRecords(0, []nodeRecord{split, leaf(0), leaf(0)}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.NumLeaves())
	assert.Equal(t, 1, tree.Node(2).Depth)

	empty, err := treeFromRecords(0, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, -1, empty.Root())

	bad := []struct {
		name string
		recs []nodeRecord
	}{
		{"link out of range", []nodeRecord{{Fx: 0, LE: 1, GT: 5, Parent: -1}, leaf(0)}},
		{"single child", []nodeRecord{{Fx: 0, LE: 1, GT: -1, Parent: -1}, leaf(0)}},
		{"split without feature", []nodeRecord{{Fx: -1, LE: 1, GT: 2, Parent: -1}, leaf(0), leaf(0)}},
		{"shared child", []nodeRecord{{Fx: 0, LE: 1, GT: 1, Parent: -1}, leaf(0)}},
		{"feature out of range", []nodeRecord{{Fx: 3, LE: 1, GT: 2, Parent: -1}, leaf(0), leaf(0)}},
		{"parent mismatch", []nodeRecord{split, leaf(0), leaf(1)}},
		{"root with parent", []nodeRecord{{Fx: 0, LE: 1, GT: 2, Parent: 1}, leaf(0), leaf(0)}},
		{"cycle through parent", []nodeRecord{split, {Fx: 0, LE: 0, GT: 2, Parent: 0}, leaf(0)}},
		{"unreachable node", []nodeRecord{split, leaf(0), leaf(0), leaf(3)}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := treeFromRecords(0, tt.recs, 1)
			var se *errors.StructuralError
			assert.True(t, errors.As(err, &se), "got %v", err)
		})
	}
}

func TestModelIO_FeatureBeyondDimension(t *testing.T) {
	data := lineData(t, 8)
	tree := twoSplitTree(t, data)
	tree.nodes[tree.Root()].Feature = 7
	model := newEnsemble(0, 2)
	_, err := model.addTree(tree)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = model.WriteTo(&buf)
	require.NoError(t, err)

	_, err = ReadEnsemble(&buf)
	require.Error(t, err)
	assert.Equal(t, "format", modelKind(t, err))
	var se *errors.StructuralError
	assert.True(t, errors.As(err, &se))
}
