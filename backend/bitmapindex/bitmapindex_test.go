package bitmapindex

import (
	"os"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmen-db/carmen/archive/kv"
	"github.com/carmen-db/carmen/archive/kv/btreestore"
	"github.com/carmen-db/carmen/common"
)

func newTestStore(t *testing.T) (kv.Store, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "bitmapindex-*")
	require.NoError(t, err)
	s, err := btreestore.Open(dir, common.DefaultPoolOptions())
	require.NoError(t, err)
	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

func testAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestBitmapIndex_UpdateAndBlocksTouched(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	addr := testAddr(1)

	require.NoError(t, Update(store, addr, 1))
	require.NoError(t, Update(store, addr, 5))
	require.NoError(t, Update(store, addr, 10))

	bm, err := BlocksTouched(store, addr, 100)
	require.NoError(t, err)
	assert.True(t, bm.Contains(1))
	assert.True(t, bm.Contains(5))
	assert.True(t, bm.Contains(10))
	assert.Equal(t, uint64(3), bm.GetCardinality())
}

func TestBitmapIndex_CumulativeSnapshotRespectsAsOfBlock(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	addr := testAddr(1)
	require.NoError(t, Update(store, addr, 1))
	require.NoError(t, Update(store, addr, 5))

	bm, err := BlocksTouched(store, addr, 3)
	require.NoError(t, err)
	assert.True(t, bm.Contains(1))
	assert.False(t, bm.Contains(5), "a snapshot taken as of block 3 must not see a later touch at block 5")
}

func TestBitmapIndex_UntouchedAddressIsEmpty(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	bm, err := BlocksTouched(store, testAddr(9), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bm.GetCardinality())
}

func TestBitmapIndex_UpdateIsIdempotentForSameBlock(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	addr := testAddr(1)
	require.NoError(t, Update(store, addr, 1))
	require.NoError(t, Update(store, addr, 1))

	bm, err := BlocksTouched(store, addr, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bm.GetCardinality())
}

func TestBitmapIndex_SeparateAddressesDoNotMix(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	a1, a2 := testAddr(1), testAddr(2)
	require.NoError(t, Update(store, a1, 1))
	require.NoError(t, Update(store, a2, 2))

	bm1, err := BlocksTouched(store, a1, 100)
	require.NoError(t, err)
	assert.True(t, bm1.Contains(1))
	assert.False(t, bm1.Contains(2))

	bm2, err := BlocksTouched(store, a2, 100)
	require.NoError(t, err)
	assert.True(t, bm2.Contains(2))
	assert.False(t, bm2.Contains(1))
}

func TestBitmapIndex_EncodeDecodeRoundTrip(t *testing.T) {
	original := roaring.New()
	original.Add(1)
	original.Add(42)
	original.Add(1000)

	buf, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.True(t, decoded.Equals(original))
}

func TestBitmapIndex_DecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
