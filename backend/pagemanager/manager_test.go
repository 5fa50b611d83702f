package pagemanager

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmen-db/carmen/backend/page"
	"github.com/carmen-db/carmen/backend/pagepool"
	"github.com/carmen-db/carmen/backend/rawfile"
	"github.com/carmen-db/carmen/common"
)

// counterPage is a minimal page type used only to exercise Manager: a
// single little-endian uint64 counter.
type counterPage struct {
	count uint64
}

type counterCodec struct{}

func (counterCodec) Decode(raw []byte) *counterPage {
	return &counterPage{count: binary.LittleEndian.Uint64(raw[:8])}
}

func (counterCodec) Encode(p *counterPage, raw []byte) {
	binary.LittleEndian.PutUint64(raw[:8], p.count)
}

func newTestManager(t *testing.T) (*Manager[*counterPage], func()) {
	t.Helper()
	f, err := os.CreateTemp("", "pagemanager-*.dat")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	rf, err := rawfile.Open(path)
	require.NoError(t, err)

	opts := common.DefaultPoolOptions()
	opts.PageSize = 64
	opts.Capacity = 2
	pool := pagepool.New(rf, opts)
	mgr := New[*counterPage](pool, counterCodec{})
	return mgr, func() { os.Remove(path) }
}

func TestManager_NewStartsAtIdOne(t *testing.T) {
	mgr, cleanup := newTestManager(t)
	defer cleanup()

	id, p, err := mgr.New()
	require.NoError(t, err)
	assert.Equal(t, page.Id(1), id)
	assert.Equal(t, uint64(0), p.count)
}

func TestManager_MutationSurvivesEviction(t *testing.T) {
	mgr, cleanup := newTestManager(t)
	defer cleanup()

	id, p, err := mgr.New()
	require.NoError(t, err)
	p.count = 42
	mgr.MarkDirty(id)

	// Force eviction of id by allocating past pool capacity (2).
	_, _, err = mgr.New()
	require.NoError(t, err)
	_, _, err = mgr.New()
	require.NoError(t, err)

	got, err := mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.count)
}

func TestManager_FlushPersistsWithoutEviction(t *testing.T) {
	mgr, cleanup := newTestManager(t)
	defer cleanup()

	id, p, err := mgr.New()
	require.NoError(t, err)
	p.count = 7
	mgr.MarkDirty(id)
	require.NoError(t, mgr.Flush())

	got, err := mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.count)
}
