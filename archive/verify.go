package archive

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/carmen-db/carmen/common"
	"github.com/carmen-db/carmen/common/dbutils"
)

// ProgressCallback is invoked periodically during Verify with a
// human-readable description of the current step.
type ProgressCallback func(step string)

type integrityChecker interface {
	CheckIntegrity() []string
}

// Verify re-derives the archive's hash chain up to and including block b
// from persisted state and checks it against expectedHash (spec.md §4.9).
// It reports the first corruption found using the diagnostic text defined
// in errors.go.
func (a *Archive) Verify(b common.BlockId, expectedHash common.Hash, progress ProgressCallback) error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	if ic, ok := a.store.(integrityChecker); ok {
		if issues := ic.CheckIntegrity(); len(issues) > 0 {
			return common.NewCorruptionError("archive: backing integrity check failed: %v", issues)
		}
	}

	got, err := a.GetHash(b)
	if err != nil {
		return err
	}
	if got != expectedHash {
		return common.NewCorruptionError(errArchiveHashMismatch())
	}

	if progress != nil {
		progress("verifying block hash chain")
	}
	if err := a.verifyBlockHashChain(b); err != nil {
		return err
	}

	accounts, err := a.GetAccountList(b)
	if err != nil {
		return err
	}
	for _, addr := range accounts {
		if progress != nil {
			progress(fmt.Sprintf("verifying account %s", addr.Hex()))
		}
		if err := a.VerifyAccount(b, addr); err != nil {
			return err
		}
	}
	return nil
}

type accountHashAt struct {
	addr common.Address
	hash common.Hash
}

// verifyBlockHashChain re-derives block_hash(b') for every b' <= maxBlock
// by combining the previous block hash with every account_hash written at
// b', in ascending address order — the same order Add uses when writing.
func (a *Archive) verifyBlockHashChain(maxBlock common.BlockId) error {
	byBlock := make(map[common.BlockId][]accountHashAt)
	cur, err := a.store.LowerBound([]byte{byte(dbutils.KeyTypeAccountHash)})
	if err != nil {
		return err
	}
	for cur.Valid() {
		key, err := cur.Key()
		if err != nil {
			return err
		}
		if len(key) == 0 || key[0] != byte(dbutils.KeyTypeAccountHash) {
			break
		}
		tag, addr, blk, ok := dbutils.DecodePropertyKey(key[:dbutils.PropertyKeyLen])
		if !ok || tag != dbutils.KeyTypeAccountHash {
			break
		}
		if blk <= maxBlock {
			val, err := cur.Value()
			if err != nil {
				return err
			}
			if len(val) != common.HashLength {
				return common.NewCorruptionError("archive: malformed account_hash value for %s at block %d", addr.Hex(), blk)
			}
			byBlock[blk] = append(byBlock[blk], accountHashAt{addr: addr, hash: common.BytesToHash(val)})
		}
		if err := cur.Next(); err != nil {
			return err
		}
	}

	blockRows := make(map[common.BlockId]common.Hash)
	bcur, err := a.store.LowerBound([]byte{byte(dbutils.KeyTypeBlock)})
	if err != nil {
		return err
	}
	for bcur.Valid() {
		key, err := bcur.Key()
		if err != nil {
			return err
		}
		if len(key) == 0 || key[0] != byte(dbutils.KeyTypeBlock) {
			break
		}
		blk, ok := dbutils.DecodeBlockKey(key[:dbutils.BlockKeyLen])
		if !ok {
			break
		}
		if blk <= maxBlock {
			val, err := bcur.Value()
			if err != nil {
				return err
			}
			if len(val) != common.HashLength {
				return common.NewCorruptionError("archive: malformed block hash value for block %d", blk)
			}
			blockRows[blk] = common.BytesToHash(val)
		}
		if err := bcur.Next(); err != nil {
			return err
		}
	}

	seen := make(map[common.BlockId]bool)
	var allBlocks []common.BlockId
	for blk := range byBlock {
		if !seen[blk] {
			seen[blk] = true
			allBlocks = append(allBlocks, blk)
		}
	}
	for blk := range blockRows {
		if !seen[blk] {
			seen[blk] = true
			allBlocks = append(allBlocks, blk)
		}
	}
	sort.Slice(allBlocks, func(i, j int) bool { return allBlocks[i] < allBlocks[j] })

	prevHash := common.Hash{}
	for _, blk := range allBlocks {
		accHashes, hasAcc := byBlock[blk]
		storedHash, hasBlockRow := blockRows[blk]
		if hasAcc && !hasBlockRow {
			return common.NewCorruptionError(errChangeNotCoveredByArchiveHash(uint32(blk)))
		}
		if hasBlockRow && !hasAcc {
			return common.NewCorruptionError(errBlockHashValidationFailed(uint32(blk)))
		}
		if !hasBlockRow {
			continue
		}
		sort.Slice(accHashes, func(i, j int) bool { return accHashes[i].addr.Compare(accHashes[j].addr) < 0 })
		parts := make([][]byte, 0, len(accHashes)+1)
		parts = append(parts, prevHash.Bytes())
		for _, p := range accHashes {
			parts = append(parts, p.hash.Bytes())
		}
		expected := a.hasher.Sum(parts...)
		if expected != storedHash {
			return common.NewCorruptionError(errBlockHashValidationFailed(uint32(blk)))
		}
		prevHash = storedHash
	}
	return nil
}

type storageRowAt struct {
	slot          common.Key
	value         common.Value
	reincarnation common.ReincarnationNumber
}

// scanProperty collects every row of the given property key space for addr
// at or before maxBlock, keyed by block.
func (a *Archive) scanProperty(tag dbutils.KeyType, addr common.Address, maxBlock common.BlockId) (map[common.BlockId][]byte, error) {
	prefix := make([]byte, 1+common.AddressLength)
	prefix[0] = byte(tag)
	copy(prefix[1:], addr.Bytes())
	cur, err := a.store.LowerBound(prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[common.BlockId][]byte)
	for cur.Valid() {
		key, err := cur.Key()
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		tg, gotAddr, blk, ok := dbutils.DecodePropertyKey(key[:dbutils.PropertyKeyLen])
		if !ok || tg != tag || gotAddr != addr {
			break
		}
		if blk <= maxBlock {
			val, err := cur.Value()
			if err != nil {
				return nil, err
			}
			out[blk] = val
		}
		if err := cur.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scanStorageForAccount collects every storage row for addr (across all of
// its reincarnations) at or before maxBlock, keyed by block.
func (a *Archive) scanStorageForAccount(addr common.Address, maxBlock common.BlockId) (map[common.BlockId][]storageRowAt, error) {
	prefix := make([]byte, 1+common.AddressLength)
	prefix[0] = byte(dbutils.KeyTypeStorage)
	copy(prefix[1:], addr.Bytes())
	cur, err := a.store.LowerBound(prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[common.BlockId][]storageRowAt)
	for cur.Valid() {
		key, err := cur.Key()
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		gotAddr, r, slot, blk, ok := dbutils.DecodeStorageKey(key)
		if !ok || gotAddr != addr {
			break
		}
		if blk <= maxBlock {
			val, err := cur.Value()
			if err != nil {
				return nil, err
			}
			if len(val) != common.ValueLength {
				return nil, common.NewCorruptionError("archive: malformed storage value for %s: expected %d bytes, got %d", addr.Hex(), common.ValueLength, len(val))
			}
			out[blk] = append(out[blk], storageRowAt{slot: slot, value: common.BytesToValue(val), reincarnation: r})
		}
		if err := cur.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// VerifyAccount replays addr's entire update history up to block b and
// checks that every stored account_hash matches the recomputed diff-hash
// chain (spec.md §4.9).
func (a *Archive) VerifyAccount(b common.BlockId, addr common.Address) error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	stateRows, err := a.scanProperty(dbutils.KeyTypeAccountState, addr, b)
	if err != nil {
		return err
	}
	balanceRows, err := a.scanProperty(dbutils.KeyTypeBalance, addr, b)
	if err != nil {
		return err
	}
	nonceRows, err := a.scanProperty(dbutils.KeyTypeNonce, addr, b)
	if err != nil {
		return err
	}
	codeRows, err := a.scanProperty(dbutils.KeyTypeCode, addr, b)
	if err != nil {
		return err
	}
	storageRows, err := a.scanStorageForAccount(addr, b)
	if err != nil {
		return err
	}
	hashRows, err := a.scanProperty(dbutils.KeyTypeAccountHash, addr, b)
	if err != nil {
		return err
	}

	blocks := make(map[common.BlockId]bool)
	for blk := range stateRows {
		blocks[blk] = true
	}
	for blk := range balanceRows {
		blocks[blk] = true
	}
	for blk := range nonceRows {
		blocks[blk] = true
	}
	for blk := range codeRows {
		blocks[blk] = true
	}
	for blk := range storageRows {
		blocks[blk] = true
	}
	for blk := range hashRows {
		blocks[blk] = true
	}
	sorted := make([]common.BlockId, 0, len(blocks))
	for blk := range blocks {
		sorted = append(sorted, blk)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var prevReinc common.ReincarnationNumber
	var prevHash common.Hash
	for _, blk := range sorted {
		stateVal, hasState := stateRows[blk]
		balVal, hasBal := balanceRows[blk]
		nonceVal, hasNonce := nonceRows[blk]
		codeVal, hasCode := codeRows[blk]
		storageList, hasStorage := storageRows[blk]
		hashVal, hasHash := hashRows[blk]

		hasUpdate := hasState || hasBal || hasNonce || hasCode || hasStorage
		if hasUpdate && !hasHash {
			return common.NewCorruptionError(errUpdateWithoutAccountHash(uint32(blk)))
		}
		if hasHash && !hasUpdate {
			return common.NewCorruptionError(errAccountHashWithoutUpdate(uint32(blk)))
		}
		if !hasUpdate {
			continue
		}

		currentReinc := prevReinc
		var au AccountUpdate
		if hasState {
			exists, r, ok := dbutils.DecodeAccountState(stateVal)
			if !ok {
				return common.NewCorruptionError("archive: malformed account_state value for %s at block %d", addr.Hex(), blk)
			}
			if r != prevReinc+1 {
				return common.NewCorruptionError(errReincarnationNotIncremental())
			}
			currentReinc = r
			au.Created = exists
			au.Deleted = !exists
		}
		if hasBal {
			if len(balVal) != common.BalanceLength {
				return common.NewCorruptionError("archive: malformed balance value for %s at block %d", addr.Hex(), blk)
			}
			au.HasBalance = true
			au.Balance = common.BytesToBalance(balVal)
		}
		if hasNonce {
			if len(nonceVal) != common.NonceLength {
				return common.NewCorruptionError("archive: malformed nonce value for %s at block %d", addr.Hex(), blk)
			}
			au.HasNonce = true
			au.Nonce = common.BytesToNonce(nonceVal)
		}
		if hasCode {
			au.HasCode = true
			au.Code = common.Code(codeVal)
		}
		if hasStorage {
			for _, row := range storageList {
				if row.reincarnation != currentReinc {
					return common.NewCorruptionError(errInvalidStorageReincarnation(uint32(blk), uint32(currentReinc), uint32(row.reincarnation)))
				}
				au.Storage = append(au.Storage, StorageWrite{Slot: row.slot, Value: row.value})
			}
			sort.Slice(au.Storage, func(i, j int) bool { return au.Storage[i].Slot.Compare(au.Storage[j].Slot) < 0 })
		}

		if len(hashVal) != common.HashLength {
			return common.NewCorruptionError("archive: malformed account_hash value for %s at block %d", addr.Hex(), blk)
		}
		dh := DiffHash(a.hasher, au)
		expected := common.ChainHash(a.hasher, prevHash, dh)
		stored := common.BytesToHash(hashVal)
		if stored != expected {
			return common.NewCorruptionError(errDiffHashMismatch(uint32(blk)))
		}

		prevHash = stored
		prevReinc = currentReinc
	}
	return nil
}
