package boltstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmen-db/carmen/archive/kv"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "boltstore-*")
	require.NoError(t, err)
	s, err := Open(filepath.Join(dir, "archive.bolt"))
	require.NoError(t, err)
	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

func TestBoltStore_AddAndGet(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(t, s.Add([]byte("a"), []byte("1")))
	v, found, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), v)

	_, found, err = s.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltStore_AddRejectsDuplicateKey(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(t, s.Add([]byte("a"), []byte("1")))
	assert.Error(t, s.Add([]byte("a"), []byte("2")))
}

func TestBoltStore_DeleteUnsupported(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	assert.Error(t, s.Delete([]byte("a")))
}

func TestBoltStore_LowerBoundSeeksAndIterates(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(t, s.Add([]byte("a"), []byte("1")))
	require.NoError(t, s.Add([]byte("c"), []byte("3")))
	require.NoError(t, s.Add([]byte("e"), []byte("5")))

	cur, err := s.LowerBound([]byte("b"))
	require.NoError(t, err)
	require.True(t, cur.Valid())
	k, err := cur.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), k)

	require.NoError(t, cur.Next())
	require.True(t, cur.Valid())
	k, err = cur.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("e"), k)

	require.NoError(t, cur.Next())
	assert.False(t, cur.Valid())
}

func TestBoltStore_PrevReturnsErrNoPreviousAtStart(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(t, s.Add([]byte("a"), []byte("1")))
	require.NoError(t, s.Add([]byte("b"), []byte("2")))

	cur, err := s.LowerBound([]byte("a"))
	require.NoError(t, err)
	require.True(t, cur.Valid())

	err = cur.Prev()
	assert.True(t, errors.Is(err, kv.ErrNoPrevious))
}

func TestBoltStore_LowerBoundPastEndIsInvalid(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(t, s.Add([]byte("a"), []byte("1")))
	cur, err := s.LowerBound([]byte("z"))
	require.NoError(t, err)
	assert.False(t, cur.Valid())
}
