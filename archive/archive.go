package archive

import (
	"errors"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/carmen-db/carmen/archive/kv"
	"github.com/carmen-db/carmen/archive/kv/btreestore"
	"github.com/carmen-db/carmen/backend/bitmapindex"
	"github.com/carmen-db/carmen/common"
	"github.com/carmen-db/carmen/common/dbutils"
	"github.com/carmen-db/carmen/log"
)

// accountHashCacheCapacity bounds the number of addresses whose latest
// account hash is kept resident, avoiding a store round-trip for the common
// case of a block repeatedly touching the same hot accounts.
const accountHashCacheCapacity = 4096

type cachedAccountHash struct {
	block common.BlockId
	hash  common.Hash
}

// Archive is the public, verifiable per-block account history (spec.md
// §3-4, §6): Add appends a block's Update, point reads answer
// as-of-block queries, and Verify/VerifyAccount re-derive the hash chain
// from persisted state.
type Archive struct {
	store  kv.Store
	hasher common.Hasher
	logger log.Logger
	closed bool

	// accountHashCache remembers each address's account_hash as of the last
	// block it was written at, so Add's per-account diff chaining does not
	// need to round-trip the store for addresses touched in consecutive
	// blocks.
	accountHashCache *common.LruCache[common.Address, cachedAccountHash]
}

// Open opens (or creates) an archive backed by the project's own paged
// B-tree ordered-KV store under dir. Use NewWithStore to plug in a
// different backing (e.g. archive/kv/boltstore, archive/kv/lmdbstore, or
// the relational archive/sqlarchive backing, which implements the Archive
// surface except GetAccountBlocks independently since it speaks SQL rather
// than kv.Store).
func Open(dir string) (*Archive, error) {
	store, err := btreestore.Open(dir, common.DefaultPoolOptions())
	if err != nil {
		return nil, err
	}
	return NewWithStore(store), nil
}

// NewWithStore wraps an already-open kv.Store backing.
func NewWithStore(store kv.Store) *Archive {
	return &Archive{
		store:            store,
		hasher:           common.DefaultHasher,
		logger:           log.New("archive"),
		accountHashCache: common.NewLruCache[common.Address, cachedAccountHash](accountHashCacheCapacity),
	}
}

func (a *Archive) requireOpen() error {
	if a.closed {
		return common.NewPreconditionError("archive: operation on closed archive")
	}
	return nil
}

// Add appends block b's update. Empty updates are silently skipped.
func (a *Archive) Add(b common.BlockId, update *Update) error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	if update.Empty() {
		return nil
	}
	latest, hasLatest, err := a.getLatestBlock()
	if err != nil {
		return err
	}
	if hasLatest && b <= latest {
		return common.NewPreconditionError("archive: Add(%d) called but latest block is already %d", b, latest)
	}

	prevBlockHash := common.Hash{}
	if hasLatest {
		prevBlockHash, err = a.GetHash(latest)
		if err != nil {
			return err
		}
	}

	addrs := update.Addresses()
	accountHashes := make([]common.Hash, 0, len(addrs))
	for _, addr := range addrs {
		au := update.AccountUpdateFor(addr)

		prevReinc, err := a.reincarnationAtOrBefore(addr, b)
		if err != nil {
			return err
		}
		effectiveReinc := prevReinc
		if au.Created || au.Deleted {
			effectiveReinc = prevReinc + 1
			exists := au.Created && !au.Deleted
			if err := a.store.Add(dbutils.PropertyKey(dbutils.KeyTypeAccountState, addr, b), dbutils.EncodeAccountState(exists, effectiveReinc)); err != nil {
				return err
			}
		}
		if au.HasBalance {
			if err := a.store.Add(dbutils.PropertyKey(dbutils.KeyTypeBalance, addr, b), au.Balance.Bytes()); err != nil {
				return err
			}
		}
		if au.HasNonce {
			if err := a.store.Add(dbutils.PropertyKey(dbutils.KeyTypeNonce, addr, b), au.Nonce.Bytes()); err != nil {
				return err
			}
		}
		if au.HasCode {
			if err := a.store.Add(dbutils.PropertyKey(dbutils.KeyTypeCode, addr, b), au.Code); err != nil {
				return err
			}
		}
		for _, w := range au.Storage {
			if err := a.store.Add(dbutils.StorageKey(addr, effectiveReinc, w.Slot, b), w.Value.Bytes()); err != nil {
				return err
			}
		}

		prevAccountHash, err := a.accountHashAtOrBefore(latest, hasLatest, addr)
		if err != nil {
			return err
		}
		dh := DiffHash(a.hasher, au)
		newAccountHash := common.ChainHash(a.hasher, prevAccountHash, dh)
		if err := a.store.Add(dbutils.PropertyKey(dbutils.KeyTypeAccountHash, addr, b), newAccountHash.Bytes()); err != nil {
			return err
		}
		a.accountHashCache.Set(addr, cachedAccountHash{block: b, hash: newAccountHash})
		accountHashes = append(accountHashes, newAccountHash)

		if err := bitmapindex.Update(a.store, addr, b); err != nil {
			return err
		}
	}

	parts := make([][]byte, 0, len(accountHashes)+1)
	parts = append(parts, prevBlockHash.Bytes())
	for _, h := range accountHashes {
		parts = append(parts, h.Bytes())
	}
	blockHash := a.hasher.Sum(parts...)
	if err := a.store.Add(dbutils.BlockKey(b), blockHash.Bytes()); err != nil {
		return err
	}
	if err := a.store.Flush(); err != nil {
		return err
	}
	a.logger.Debug("added block", "block", b, "accounts", len(addrs))
	return nil
}

// accountHashAtOrBefore is GetAccountHash(latest, addr) with a cache
// fast-path for the common case where addr's account_hash was last written
// at exactly block latest (e.g. an account touched in consecutive blocks).
func (a *Archive) accountHashAtOrBefore(latest common.BlockId, hasLatest bool, addr common.Address) (common.Hash, error) {
	if !hasLatest {
		return common.Hash{}, nil
	}
	if cached, ok := a.accountHashCache.Get(addr); ok && cached.block == latest {
		return cached.hash, nil
	}
	return a.GetAccountHash(latest, addr)
}

// latestPropertyAtOrBefore finds the largest key with prefix [tag][addr]
// and block <= b, per spec.md §4.9's point-read rule.
func (a *Archive) latestPropertyAtOrBefore(tag dbutils.KeyType, addr common.Address, b common.BlockId) ([]byte, common.BlockId, bool, error) {
	upper := dbutils.PropertyKey(tag, addr, b+1)
	cur, err := a.store.LowerBound(upper)
	if err != nil {
		return nil, 0, false, err
	}
	if err := cur.Prev(); err != nil {
		if errors.Is(err, kv.ErrNoPrevious) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}
	key, err := cur.Key()
	if err != nil {
		return nil, 0, false, err
	}
	if len(key) < dbutils.PropertyKeyLen {
		return nil, 0, false, nil
	}
	tg, gotAddr, blk, ok := dbutils.DecodePropertyKey(key[:dbutils.PropertyKeyLen])
	if !ok || tg != tag || gotAddr != addr {
		return nil, 0, false, nil
	}
	val, err := cur.Value()
	if err != nil {
		return nil, 0, false, err
	}
	return val, blk, true, nil
}

func (a *Archive) reincarnationAtOrBefore(addr common.Address, b common.BlockId) (common.ReincarnationNumber, error) {
	val, _, found, err := a.latestPropertyAtOrBefore(dbutils.KeyTypeAccountState, addr, b)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	_, r, ok := dbutils.DecodeAccountState(val)
	if !ok {
		return 0, common.NewCorruptionError("archive: malformed account_state value for %s: expected %d bytes, got %d", addr.Hex(), dbutils.AccountStateLen, len(val))
	}
	return r, nil
}

// Exists reports whether addr is a live account as of block b.
func (a *Archive) Exists(b common.BlockId, addr common.Address) (bool, error) {
	if err := a.requireOpen(); err != nil {
		return false, err
	}
	val, _, found, err := a.latestPropertyAtOrBefore(dbutils.KeyTypeAccountState, addr, b)
	if err != nil || !found {
		return false, err
	}
	exists, _, ok := dbutils.DecodeAccountState(val)
	if !ok {
		return false, common.NewCorruptionError("archive: malformed account_state value for %s: expected %d bytes, got %d", addr.Hex(), dbutils.AccountStateLen, len(val))
	}
	return exists, nil
}

// GetBalance returns addr's balance as of block b, zero if never set.
func (a *Archive) GetBalance(b common.BlockId, addr common.Address) (common.Balance, error) {
	if err := a.requireOpen(); err != nil {
		return common.Balance{}, err
	}
	val, _, found, err := a.latestPropertyAtOrBefore(dbutils.KeyTypeBalance, addr, b)
	if err != nil || !found {
		return common.Balance{}, err
	}
	if len(val) != common.BalanceLength {
		return common.Balance{}, common.NewCorruptionError("archive: malformed balance value for %s: expected %d bytes, got %d", addr.Hex(), common.BalanceLength, len(val))
	}
	return common.BytesToBalance(val), nil
}

// GetNonce returns addr's nonce as of block b, zero if never set.
func (a *Archive) GetNonce(b common.BlockId, addr common.Address) (common.Nonce, error) {
	if err := a.requireOpen(); err != nil {
		return common.Nonce{}, err
	}
	val, _, found, err := a.latestPropertyAtOrBefore(dbutils.KeyTypeNonce, addr, b)
	if err != nil || !found {
		return common.Nonce{}, err
	}
	if len(val) != common.NonceLength {
		return common.Nonce{}, common.NewCorruptionError("archive: malformed nonce value for %s: expected %d bytes, got %d", addr.Hex(), common.NonceLength, len(val))
	}
	return common.BytesToNonce(val), nil
}

// GetCode returns addr's code as of block b, nil if never set.
func (a *Archive) GetCode(b common.BlockId, addr common.Address) (common.Code, error) {
	if err := a.requireOpen(); err != nil {
		return nil, err
	}
	val, _, found, err := a.latestPropertyAtOrBefore(dbutils.KeyTypeCode, addr, b)
	if err != nil || !found {
		return nil, err
	}
	return common.Code(val), nil
}

// GetStorage returns the value of slot for addr as of block b, zero if
// never written (or if the account was deleted since the last write).
func (a *Archive) GetStorage(b common.BlockId, addr common.Address, slot common.Key) (common.Value, error) {
	if err := a.requireOpen(); err != nil {
		return common.Value{}, err
	}
	r, err := a.reincarnationAtOrBefore(addr, b)
	if err != nil {
		return common.Value{}, err
	}
	upper := dbutils.StorageKey(addr, r, slot, b+1)
	cur, err := a.store.LowerBound(upper)
	if err != nil {
		return common.Value{}, err
	}
	if err := cur.Prev(); err != nil {
		if errors.Is(err, kv.ErrNoPrevious) {
			return common.Value{}, nil
		}
		return common.Value{}, err
	}
	key, err := cur.Key()
	if err != nil {
		return common.Value{}, err
	}
	gotAddr, gotR, gotSlot, _, ok := dbutils.DecodeStorageKey(key)
	if !ok || gotAddr != addr || gotR != r || gotSlot != slot {
		return common.Value{}, nil
	}
	val, err := cur.Value()
	if err != nil {
		return common.Value{}, err
	}
	if len(val) != common.ValueLength {
		return common.Value{}, common.NewCorruptionError("archive: malformed storage value for %s: expected %d bytes, got %d", addr.Hex(), common.ValueLength, len(val))
	}
	return common.BytesToValue(val), nil
}

func (a *Archive) getLatestBlock() (common.BlockId, bool, error) {
	cur, err := a.store.LowerBound(dbutils.BlockKey(common.BlockId(dbutils.MaxBlockSuffix)))
	if err != nil {
		return 0, false, err
	}
	if cur.Valid() {
		key, err := cur.Key()
		if err != nil {
			return 0, false, err
		}
		if blk, ok := dbutils.DecodeBlockKey(key[:dbutils.BlockKeyLen]); ok && uint32(blk) == dbutils.MaxBlockSuffix {
			return blk, true, nil
		}
	}
	if err := cur.Prev(); err != nil {
		if errors.Is(err, kv.ErrNoPrevious) {
			return 0, false, nil
		}
		return 0, false, err
	}
	key, err := cur.Key()
	if err != nil {
		return 0, false, err
	}
	blk, ok := dbutils.DecodeBlockKey(key[:dbutils.BlockKeyLen])
	if !ok {
		return 0, false, common.NewCorruptionError("archive: malformed block key")
	}
	return blk, true, nil
}

// GetLatestBlock returns the highest block added, and false if the
// archive is empty.
func (a *Archive) GetLatestBlock() (common.BlockId, bool, error) {
	if err := a.requireOpen(); err != nil {
		return 0, false, err
	}
	return a.getLatestBlock()
}

// GetHash returns the stored block_hash(b), defaulting to zero if no
// block <= b has been added.
func (a *Archive) GetHash(b common.BlockId) (common.Hash, error) {
	if err := a.requireOpen(); err != nil {
		return common.Hash{}, err
	}
	upper := dbutils.BlockKey(b + 1)
	cur, err := a.store.LowerBound(upper)
	if err != nil {
		return common.Hash{}, err
	}
	if err := cur.Prev(); err != nil {
		if errors.Is(err, kv.ErrNoPrevious) {
			return common.Hash{}, nil
		}
		return common.Hash{}, err
	}
	key, err := cur.Key()
	if err != nil {
		return common.Hash{}, err
	}
	got, ok := dbutils.DecodeBlockKey(key[:dbutils.BlockKeyLen])
	if !ok || got > b {
		return common.Hash{}, nil
	}
	val, err := cur.Value()
	if err != nil {
		return common.Hash{}, err
	}
	if len(val) != common.HashLength {
		return common.Hash{}, common.NewCorruptionError("archive: malformed block hash value for block %d: expected %d bytes, got %d", got, common.HashLength, len(val))
	}
	return common.BytesToHash(val), nil
}

// GetAccountHash returns the stored account_hash(b, addr), zero if none.
func (a *Archive) GetAccountHash(b common.BlockId, addr common.Address) (common.Hash, error) {
	val, _, found, err := a.latestPropertyAtOrBefore(dbutils.KeyTypeAccountHash, addr, b)
	if err != nil || !found {
		return common.Hash{}, err
	}
	if len(val) != common.HashLength {
		return common.Hash{}, common.NewCorruptionError("archive: malformed account_hash value for %s: expected %d bytes, got %d", addr.Hex(), common.HashLength, len(val))
	}
	return common.BytesToHash(val), nil
}

// GetAccountList returns every address with a row at or before block b,
// sorted ascending.
func (a *Archive) GetAccountList(b common.BlockId) ([]common.Address, error) {
	if err := a.requireOpen(); err != nil {
		return nil, err
	}
	cur, err := a.store.LowerBound([]byte{byte(dbutils.KeyTypeAccountHash)})
	if err != nil {
		return nil, err
	}
	seen := make(map[common.Address]bool)
	var addrs []common.Address
	for cur.Valid() {
		key, err := cur.Key()
		if err != nil {
			return nil, err
		}
		if len(key) == 0 || key[0] != byte(dbutils.KeyTypeAccountHash) {
			break
		}
		tag, addr, blk, ok := dbutils.DecodePropertyKey(key[:dbutils.PropertyKeyLen])
		if !ok || tag != dbutils.KeyTypeAccountHash {
			break
		}
		if blk <= b && !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
		if err := cur.Next(); err != nil {
			return nil, err
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
	return addrs, nil
}

// GetAccountBlocks returns the bitmap of every block at or before b at which
// addr was touched, backed by backend/bitmapindex. The result is empty, not
// an error, for an address never touched.
func (a *Archive) GetAccountBlocks(b common.BlockId, addr common.Address) (*roaring.Bitmap, error) {
	if err := a.requireOpen(); err != nil {
		return nil, err
	}
	return bitmapindex.BlocksTouched(a.store, addr, b)
}

// Flush persists any buffered writes.
func (a *Archive) Flush() error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	return a.store.Flush()
}

// Close flushes and releases the backing. Every other operation fails
// with a precondition error afterwards.
func (a *Archive) Close() error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	if err := a.store.Flush(); err != nil {
		return err
	}
	a.closed = true
	return a.store.Close()
}

