package pagepool

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmen-db/carmen/backend/page"
	"github.com/carmen-db/carmen/backend/rawfile"
	"github.com/carmen-db/carmen/common"
)

func newTestPool(t *testing.T, capacity int) (*Pool, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "pagepool-*.dat")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	rf, err := rawfile.Open(path)
	require.NoError(t, err)

	opts := common.DefaultPoolOptions()
	opts.PageSize = 64
	opts.Capacity = capacity
	pool := New(rf, opts)
	return pool, func() { os.Remove(path) }
}

func TestPool_GetLoadsZeroedPageOnMiss(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	p, err := pool.Get(page.Id(3))
	require.NoError(t, err)
	assert.Equal(t, 64, p.Size())
	for _, b := range p.Bytes() {
		assert.Equal(t, byte(0), b)
	}
}

func TestPool_MarkDirtyAndFlushPersists(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	p, err := pool.Get(page.Id(1))
	require.NoError(t, err)
	p.Bytes()[0] = 0xAB
	pool.MarkDirty(page.Id(1))
	require.NoError(t, pool.Flush())

	// Force a reload by evicting capacity: flush should have written the
	// dirty page back to the underlying file.
	for id := page.Id(2); id <= 5; id++ {
		_, err := pool.Get(id)
		require.NoError(t, err)
	}
	p2, err := pool.Get(page.Id(1))
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), p2.Bytes()[0])
}

func TestPool_EvictsCleanBeforeDirty(t *testing.T) {
	pool, cleanup := newTestPool(t, 2)
	defer cleanup()

	_, err := pool.Get(page.Id(1))
	require.NoError(t, err)
	dirty, err := pool.Get(page.Id(2))
	require.NoError(t, err)
	dirty.Bytes()[0] = 0xFF
	pool.MarkDirty(page.Id(2))

	// id 1 is clean and least recently used among clean pages; bringing in
	// id 3 should evict it, not the dirty id 2.
	_, err = pool.Get(page.Id(3))
	require.NoError(t, err)

	assert.Len(t, pool.resident, 2)
	_, stillResident := pool.resident[page.Id(2)]
	assert.True(t, stillResident, "dirty page should not have been evicted")
}

func TestPool_ListenersFireInOrder(t *testing.T) {
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	var loaded []page.Id
	var evicted []page.Id
	pool.OnAfterLoad(func(id page.Id, p *page.Page) { loaded = append(loaded, id) })
	pool.OnBeforeEvict(func(id page.Id, p *page.Page, dirty bool) { evicted = append(evicted, id) })

	_, err := pool.Get(page.Id(1))
	require.NoError(t, err)
	_, err = pool.Get(page.Id(2))
	require.NoError(t, err)

	assert.Equal(t, []page.Id{1, 2}, loaded)
	assert.Equal(t, []page.Id{1}, evicted)
}

func TestPool_CloseRejectsSecondCall(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	require.NoError(t, pool.Close())
	err := pool.Close()
	require.Error(t, err)
	var precondition *common.PreconditionError
	assert.ErrorAs(t, err, &precondition)
}
