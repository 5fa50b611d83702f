package sqlarchive

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmen-db/carmen/archive"
	"github.com/carmen-db/carmen/common"
)

func newTestArchive(t *testing.T) (*Archive, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "sqlarchive-*")
	require.NoError(t, err)
	a, err := Open(dir)
	require.NoError(t, err)
	return a, func() {
		a.Close()
		os.RemoveAll(dir)
	}
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestSqlArchive_AddAndPointReads(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	u := archive.NewUpdate()
	u.CreatedAccounts = append(u.CreatedAccounts, addr(1))
	u.Balances[addr(1)] = common.BytesToBalance([]byte{42})
	require.NoError(t, a.Add(1, u))

	exists, err := a.Exists(1, addr(1))
	require.NoError(t, err)
	assert.True(t, exists)

	bal, err := a.GetBalance(1, addr(1))
	require.NoError(t, err)
	assert.Equal(t, common.BytesToBalance([]byte{42}), bal)

	exists, err = a.Exists(1, addr(2))
	require.NoError(t, err)
	assert.False(t, exists)

	latest, has, err := a.GetLatestBlock()
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, common.BlockId(1), latest)
}

func TestSqlArchive_AsOfBlockSemantics(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	u1 := archive.NewUpdate()
	u1.CreatedAccounts = append(u1.CreatedAccounts, addr(1))
	u1.Balances[addr(1)] = common.BytesToBalance([]byte{1})
	require.NoError(t, a.Add(1, u1))

	u2 := archive.NewUpdate()
	u2.Balances[addr(1)] = common.BytesToBalance([]byte{2})
	require.NoError(t, a.Add(5, u2))

	bal, err := a.GetBalance(3, addr(1))
	require.NoError(t, err)
	assert.Equal(t, common.BytesToBalance([]byte{1}), bal)

	bal, err = a.GetBalance(100, addr(1))
	require.NoError(t, err)
	assert.Equal(t, common.BytesToBalance([]byte{2}), bal)
}

func TestSqlArchive_EmptyUpdateSkipped(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	require.NoError(t, a.Add(1, archive.NewUpdate()))
	_, has, err := a.GetLatestBlock()
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSqlArchive_AddOutOfOrderRejected(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	u := archive.NewUpdate()
	u.Balances[addr(1)] = common.BytesToBalance([]byte{1})
	require.NoError(t, a.Add(5, u))
	assert.Error(t, a.Add(3, u))
}

func TestSqlArchive_ReincarnationClearsStorage(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	slot := common.BytesToKey([]byte{7})

	u1 := archive.NewUpdate()
	u1.CreatedAccounts = append(u1.CreatedAccounts, addr(1))
	u1.Storage[addr(1)] = []archive.StorageWrite{{Slot: slot, Value: common.BytesToValue([]byte{1})}}
	require.NoError(t, a.Add(1, u1))

	u2 := archive.NewUpdate()
	u2.DeletedAccounts = append(u2.DeletedAccounts, addr(1))
	require.NoError(t, a.Add(2, u2))

	u3 := archive.NewUpdate()
	u3.CreatedAccounts = append(u3.CreatedAccounts, addr(1))
	require.NoError(t, a.Add(3, u3))

	val, err := a.GetStorage(3, addr(1), slot)
	require.NoError(t, err)
	assert.Equal(t, common.Value{}, val)

	val, err = a.GetStorage(1, addr(1), slot)
	require.NoError(t, err)
	assert.Equal(t, common.BytesToValue([]byte{1}), val)
}

func TestSqlArchive_VerifySucceedsAfterAdd(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	u1 := archive.NewUpdate()
	u1.CreatedAccounts = append(u1.CreatedAccounts, addr(1))
	u1.Balances[addr(1)] = common.BytesToBalance([]byte{1})
	require.NoError(t, a.Add(1, u1))

	u2 := archive.NewUpdate()
	u2.Nonces[addr(1)] = common.BytesToNonce([]byte{9})
	require.NoError(t, a.Add(2, u2))

	hash, err := a.GetHash(2)
	require.NoError(t, err)
	require.NoError(t, a.Verify(2, hash, nil))
	require.NoError(t, a.VerifyAccount(2, addr(1)))
}

func TestSqlArchive_VerifyDetectsHashMismatch(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	u := archive.NewUpdate()
	u.CreatedAccounts = append(u.CreatedAccounts, addr(1))
	require.NoError(t, a.Add(1, u))

	err := a.Verify(1, common.Hash{0xff}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Archive hash does not match expected hash.")
}

func TestSqlArchive_VerifyReportsProgress(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	u := archive.NewUpdate()
	u.CreatedAccounts = append(u.CreatedAccounts, addr(1))
	require.NoError(t, a.Add(1, u))

	hash, err := a.GetHash(1)
	require.NoError(t, err)

	var steps []string
	require.NoError(t, a.Verify(1, hash, func(step string) { steps = append(steps, step) }))
	assert.NotEmpty(t, steps)
}

func TestSqlArchive_GetAccountListSortedAscending(t *testing.T) {
	a, cleanup := newTestArchive(t)
	defer cleanup()

	u := archive.NewUpdate()
	u.CreatedAccounts = append(u.CreatedAccounts, addr(2), addr(1))
	require.NoError(t, a.Add(1, u))

	accounts, err := a.GetAccountList(1)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, addr(1), accounts[0])
	assert.Equal(t, addr(2), accounts[1])
}

func TestSqlArchive_OperationsFailAfterClose(t *testing.T) {
	a, cleanup := newTestArchive(t)
	cleanup()
	_, _, err := a.GetLatestBlock()
	assert.Error(t, err)
}
