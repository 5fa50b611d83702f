package btree

import (
	"encoding/binary"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmen-db/carmen/backend/pagepool"
	"github.com/carmen-db/carmen/backend/rawfile"
	"github.com/carmen-db/carmen/common"
)

type uint32ValueCodec struct{}

func (uint32ValueCodec) Size() int                  { return 4 }
func (uint32ValueCodec) Encode(v uint32, buf []byte) { binary.BigEndian.PutUint32(buf, v) }
func (uint32ValueCodec) Decode(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }

func newTestTree(t *testing.T, maxEntries, maxKeys int) (*BTree[uint32, uint32], func()) {
	t.Helper()
	f, err := os.CreateTemp("", "btree-*.dat")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	rf, err := rawfile.Open(path)
	require.NoError(t, err)

	opts := common.DefaultPoolOptions()
	opts.PageSize = 128
	opts.Capacity = 64
	pool := pagepool.New(rf, opts)

	tree, err := Open[uint32, uint32](pool, Uint32Codec{}, uint32ValueCodec{}, common.BTreeOptions{
		MaxEntries: maxEntries,
		MaxKeys:    maxKeys,
	})
	require.NoError(t, err)
	return tree, func() { os.Remove(path) }
}

func TestBTree_InsertAndFind(t *testing.T) {
	tree, cleanup := newTestTree(t, 4, 4)
	defer cleanup()

	added, err := tree.Insert(10, 100)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = tree.Insert(10, 999)
	require.NoError(t, err)
	assert.False(t, added, "duplicate insert should report EntryPresent")

	v, found, err := tree.Find(10)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(100), v)

	_, found, err = tree.Find(11)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBTree_SplitsAndStaysOrdered(t *testing.T) {
	tree, cleanup := newTestTree(t, 4, 4)
	defer cleanup()

	keys := []uint32{50, 10, 90, 30, 70, 20, 80, 40, 60, 5, 95, 15, 25, 35, 45}
	for _, k := range keys {
		_, err := tree.Insert(k, k*10)
		require.NoError(t, err)
	}
	assert.Equal(t, len(keys), tree.Size())
	require.NoError(t, tree.Check())

	for _, k := range keys {
		v, found, err := tree.Find(k)
		require.NoError(t, err)
		require.True(t, found, "key %d should be found", k)
		assert.Equal(t, k*10, v)
	}
}

func TestBTree_IteratorWalksInOrder(t *testing.T) {
	tree, cleanup := newTestTree(t, 3, 3)
	defer cleanup()

	keys := []uint32{5, 3, 8, 1, 9, 4, 7, 2, 6}
	for _, k := range keys {
		_, err := tree.Insert(k, k)
		require.NoError(t, err)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	var seen []uint32
	for it.Valid() {
		k, err := it.Key()
		require.NoError(t, err)
		seen = append(seen, k)
		require.NoError(t, it.Next())
	}
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

func TestBTree_IteratorPrevious(t *testing.T) {
	tree, cleanup := newTestTree(t, 3, 3)
	defer cleanup()

	for _, k := range []uint32{1, 2, 3, 4, 5} {
		_, err := tree.Insert(k, k)
		require.NoError(t, err)
	}

	it := tree.End()
	require.NoError(t, it.Previous())
	var seen []uint32
	for {
		k, err := it.Key()
		require.NoError(t, err)
		seen = append(seen, k)
		if err := it.Previous(); err != nil {
			break
		}
	}
	assert.Equal(t, []uint32{5, 4, 3, 2, 1}, seen)
}

func TestBTree_PersistsAcrossReopen(t *testing.T) {
	f, err := os.CreateTemp("", "btree-reopen-*.dat")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	defer os.Remove(path)

	opts := common.DefaultPoolOptions()
	opts.PageSize = 128
	opts.Capacity = 64

	rf1, err := rawfile.Open(path)
	require.NoError(t, err)
	pool1 := pagepool.New(rf1, opts)
	tree1, err := Open[uint32, uint32](pool1, Uint32Codec{}, uint32ValueCodec{}, common.BTreeOptions{MaxEntries: 4, MaxKeys: 4})
	require.NoError(t, err)
	for _, k := range []uint32{1, 2, 3, 4, 5, 6, 7, 8} {
		_, err := tree1.Insert(k, k*2)
		require.NoError(t, err)
	}
	require.NoError(t, tree1.Close())

	rf2, err := rawfile.Open(path)
	require.NoError(t, err)
	pool2 := pagepool.New(rf2, opts)
	tree2, err := Open[uint32, uint32](pool2, Uint32Codec{}, uint32ValueCodec{}, common.BTreeOptions{MaxEntries: 4, MaxKeys: 4})
	require.NoError(t, err)
	assert.Equal(t, 8, tree2.Size())
	v, found, err := tree2.Find(5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(10), v)
	require.NoError(t, tree2.Check())
}

func TestBTree_CheckDetectsNothingOnEmptyTree(t *testing.T) {
	tree, cleanup := newTestTree(t, 4, 4)
	defer cleanup()
	assert.NoError(t, tree.Check())
}

// TestBTree_ShuffledInsertsStayValid is spec.md's S6: a max_keys=max_entries=7
// tree, inserting the shuffled sequence {0..9999}, must pass Check() after
// every single insert, and every inserted key must remain findable.
func TestBTree_ShuffledInsertsStayValid(t *testing.T) {
	tree, cleanup := newTestTree(t, 7, 7)
	defer cleanup()

	const n = 10000
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = uint32(i)
	}
	rand.New(rand.NewSource(1)).Shuffle(n, func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})

	for _, k := range keys {
		_, err := tree.Insert(k, k)
		require.NoError(t, err)
		require.NoError(t, tree.Check(), "tree invalid after inserting %d", k)
	}
	assert.Equal(t, n, tree.Size())

	for i := uint32(0); i < n; i++ {
		_, found, err := tree.Find(i)
		require.NoError(t, err)
		assert.True(t, found, "key %d should be found", i)
	}
	_, found, err := tree.Find(n)
	require.NoError(t, err)
	assert.False(t, found)
}
