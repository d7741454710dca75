package spill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

func openTestStore(t *testing.T, ns string) *BadgerStore {
	t.Helper()
	s, err := Open(Config{InMemory: true, Namespace: ns})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStorePutGetDelete(t *testing.T) {
	s := openTestStore(t, "run-1")

	require.NoError(t, s.Put("tree/0", []byte{1, 2, 3}))
	got, err := s.Get("tree/0")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, s.Put("tree/0", []byte{9}))
	got, err = s.Get("tree/0")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got)

	require.NoError(t, s.Delete("tree/0"))
	_, err = s.Get("tree/0")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBadgerStoreNamespace(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		s := openTestStore(t, "abc")
		assert.Equal(t, "abc", s.Namespace())
		assert.Equal(t, "abc/k", string(s.key("k")))
	})
	t.Run("generated", func(t *testing.T) {
		s := openTestStore(t, "")
		assert.Len(t, s.Namespace(), 36)
	})
}

func TestBadgerStoreCloseTwice(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
