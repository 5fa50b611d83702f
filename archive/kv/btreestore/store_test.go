package btreestore

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmen-db/carmen/archive/kv"
	"github.com/carmen-db/carmen/common"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "btreestore-*")
	require.NoError(t, err)
	s, err := Open(dir, common.DefaultPoolOptions())
	require.NoError(t, err)
	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

func TestBtreeStore_AddAndGet(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	key := make([]byte, MaxKeyLen)
	key[0] = 1
	require.NoError(t, s.Add(key, []byte("hello")))

	v, found, err := s.Get(key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), v)
}

func TestBtreeStore_GetMissingKey(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	key := make([]byte, MaxKeyLen)
	key[0] = 9
	_, found, err := s.Get(key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBtreeStore_AddRejectsDuplicateKey(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	key := make([]byte, MaxKeyLen)
	key[0] = 1
	require.NoError(t, s.Add(key, []byte("a")))
	assert.Error(t, s.Add(key, []byte("b")))
}

func TestBtreeStore_DeleteUnsupported(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	key := make([]byte, MaxKeyLen)
	assert.Error(t, s.Delete(key))
}

// TestBtreeStore_EmptyValueRoundTrips exercises the zero-length blob path,
// which readBlob short-circuits before consulting the blob cache.
func TestBtreeStore_EmptyValueRoundTrips(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	key := make([]byte, MaxKeyLen)
	key[0] = 3
	require.NoError(t, s.Add(key, []byte{}))

	v, found, err := s.Get(key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, v)
}

// TestBtreeStore_RepeatedReadsHitBlobCache exercises the fastcache-backed
// read-through path in readBlob by reading the same key many times; it only
// asserts correctness (content) since hit/miss is an internal cache detail.
func TestBtreeStore_RepeatedReadsHitBlobCache(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	key := make([]byte, MaxKeyLen)
	key[0] = 5
	want := []byte("some account code bytes")
	require.NoError(t, s.Add(key, want))

	for i := 0; i < 5; i++ {
		v, found, err := s.Get(key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, v)
	}
}

func TestBtreeStore_LowerBoundIteratesInKeyOrder(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	for i := byte(1); i <= 3; i++ {
		key := make([]byte, MaxKeyLen)
		key[0] = i
		require.NoError(t, s.Add(key, []byte{i}))
	}

	seekKey := make([]byte, MaxKeyLen)
	seekKey[0] = 2
	cur, err := s.LowerBound(seekKey)
	require.NoError(t, err)
	require.True(t, cur.Valid())
	v, err := cur.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, v)

	require.NoError(t, cur.Next())
	require.True(t, cur.Valid())
	v, err = cur.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, v)

	require.NoError(t, cur.Next())
	assert.False(t, cur.Valid())
}

func TestBtreeStore_PrevReturnsErrNoPreviousAtStart(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	key := make([]byte, MaxKeyLen)
	key[0] = 1
	require.NoError(t, s.Add(key, []byte{1}))

	cur, err := s.LowerBound(key)
	require.NoError(t, err)
	require.True(t, cur.Valid())

	err = cur.Prev()
	assert.True(t, errors.Is(err, kv.ErrNoPrevious))
}

func TestBtreeStore_KeyExceedingMaxLengthRejected(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	oversized := make([]byte, MaxKeyLen+1)
	assert.Error(t, s.Add(oversized, []byte("x")))
}
