// Package dbutils defines the binary key layouts the ordered-KV archive
// backing uses, the same way the teacher's common/dbutils/bucket.go defines
// the bucket names and prefixes for turbo-geth's KV schema. Multi-byte
// integers are big-endian so lexicographic byte order matches numeric order,
// letting a plain ordered-KV cursor serve range queries like "largest block
// <= b".
package dbutils

import (
	"encoding/binary"

	"github.com/carmen-db/carmen/common"
)

// KeyType tags the first byte of every archive key, the same role the
// teacher's single-byte bucket prefixes (HeaderPrefix, BlockBodyPrefix, ...)
// play in common/dbutils/bucket.go.
type KeyType byte

const (
	KeyTypeBlock        KeyType = 0x31
	KeyTypeAccountState KeyType = 0x32
	KeyTypeBalance      KeyType = 0x33
	KeyTypeCode         KeyType = 0x34
	KeyTypeNonce        KeyType = 0x35
	KeyTypeStorage      KeyType = 0x36
	KeyTypeAccountHash  KeyType = 0x37

	// KeyTypeAccountBlockIndex tags cumulative roaring-bitmap snapshots of
	// the blocks touching one address (backend/bitmapindex), and
	// KeyTypeMigration tags applied-migration tracking rows (archive's
	// Migrator). The former uses the PropertyKey/PropertyKeyPrefix layout;
	// the latter uses MigrationKey's [tag][name] layout.
	KeyTypeAccountBlockIndex KeyType = 0x38
	KeyTypeMigration         KeyType = 0x39
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeBlock:
		return "block"
	case KeyTypeAccountState:
		return "account_state"
	case KeyTypeBalance:
		return "balance"
	case KeyTypeCode:
		return "code"
	case KeyTypeNonce:
		return "nonce"
	case KeyTypeStorage:
		return "storage"
	case KeyTypeAccountHash:
		return "account_hash"
	case KeyTypeAccountBlockIndex:
		return "account_block_index"
	case KeyTypeMigration:
		return "migration"
	default:
		return "unknown"
	}
}

// BlockKeyLen, PropertyKeyLen and StorageKeyLen are the normative on-disk
// widths from spec.md §4.8.
const (
	BlockKeyLen    = 5
	PropertyKeyLen = 25
	StorageKeyLen  = 61
)

// BlockKey builds the [tag=0x31][block:4BE] key identifying a block's root
// hash row.
func BlockKey(block common.BlockId) []byte {
	k := make([]byte, BlockKeyLen)
	k[0] = byte(KeyTypeBlock)
	binary.BigEndian.PutUint32(k[1:], uint32(block))
	return k
}

// DecodeBlockKey extracts the block number from a BlockKey. ok is false if
// key has the wrong length or tag.
func DecodeBlockKey(key []byte) (block common.BlockId, ok bool) {
	if len(key) != BlockKeyLen || KeyType(key[0]) != KeyTypeBlock {
		return 0, false
	}
	return common.BlockId(binary.BigEndian.Uint32(key[1:])), true
}

// PropertyKey builds [tag][address:20][block:4BE], used for account_state,
// balance, code, nonce and account_hash rows.
func PropertyKey(tag KeyType, addr common.Address, block common.BlockId) []byte {
	k := make([]byte, PropertyKeyLen)
	k[0] = byte(tag)
	copy(k[1:21], addr[:])
	binary.BigEndian.PutUint32(k[21:], uint32(block))
	return k
}

// PropertyKeyPrefix builds [tag][address:20], the prefix shared by all
// blocks recorded for one address/property pair. Appending 0xff bytes (or
// seeking a reverse cursor from the prefix+max) finds the newest entry with
// block <= some bound.
func PropertyKeyPrefix(tag KeyType, addr common.Address) []byte {
	k := make([]byte, 21)
	k[0] = byte(tag)
	copy(k[1:], addr[:])
	return k
}

// DecodePropertyKey extracts the tag, address and block.
func DecodePropertyKey(key []byte) (tag KeyType, addr common.Address, block common.BlockId, ok bool) {
	if len(key) != PropertyKeyLen {
		return 0, common.Address{}, 0, false
	}
	tag = KeyType(key[0])
	copy(addr[:], key[1:21])
	block = common.BlockId(binary.BigEndian.Uint32(key[21:]))
	return tag, addr, block, true
}

// StorageKey builds [0x36][address:20][reincarnation:4BE][slot:32][block:4BE].
func StorageKey(addr common.Address, r common.ReincarnationNumber, slot common.Key, block common.BlockId) []byte {
	k := make([]byte, StorageKeyLen)
	k[0] = byte(KeyTypeStorage)
	copy(k[1:21], addr[:])
	binary.BigEndian.PutUint32(k[21:25], uint32(r))
	copy(k[25:57], slot[:])
	binary.BigEndian.PutUint32(k[57:], uint32(block))
	return k
}

// StorageKeyPrefix builds [0x36][address:20][reincarnation:4BE][slot:32],
// the prefix shared by all blocks recorded for one storage slot within one
// reincarnation.
func StorageKeyPrefix(addr common.Address, r common.ReincarnationNumber, slot common.Key) []byte {
	k := make([]byte, 57)
	k[0] = byte(KeyTypeStorage)
	copy(k[1:21], addr[:])
	binary.BigEndian.PutUint32(k[21:25], uint32(r))
	copy(k[25:], slot[:])
	return k
}

// StorageAccountReincarnationPrefix builds [0x36][address:20][reincarnation:4BE],
// the prefix shared by all storage rows of one account's reincarnation.
func StorageAccountReincarnationPrefix(addr common.Address, r common.ReincarnationNumber) []byte {
	k := make([]byte, 25)
	k[0] = byte(KeyTypeStorage)
	copy(k[1:21], addr[:])
	binary.BigEndian.PutUint32(k[21:], uint32(r))
	return k
}

// DecodeStorageKey extracts the address, reincarnation, slot and block.
func DecodeStorageKey(key []byte) (addr common.Address, r common.ReincarnationNumber, slot common.Key, block common.BlockId, ok bool) {
	if len(key) != StorageKeyLen || KeyType(key[0]) != KeyTypeStorage {
		return common.Address{}, 0, common.Key{}, 0, false
	}
	copy(addr[:], key[1:21])
	r = common.ReincarnationNumber(binary.BigEndian.Uint32(key[21:25]))
	copy(slot[:], key[25:57])
	block = common.BlockId(binary.BigEndian.Uint32(key[57:]))
	return addr, r, slot, block, true
}

// MigrationKey builds [tag=0x39][name], used by the archive's Migrator to
// mark a named migration as applied. Unlike the other key spaces, migration
// keys are variable length (bounded by the backing's max key width); ordering
// among them carries no meaning, only presence/absence.
func MigrationKey(name string) []byte {
	k := make([]byte, 1+len(name))
	k[0] = byte(KeyTypeMigration)
	copy(k[1:], name)
	return k
}

// MigrationKeyPrefix is the one-byte tag shared by all migration rows.
func MigrationKeyPrefix() []byte {
	return []byte{byte(KeyTypeMigration)}
}

// DecodeMigrationKey extracts the migration name. ok is false if key is
// empty or carries the wrong tag. Trailing zero bytes, which fixed-width
// backings pad keys with, are not part of the name.
func DecodeMigrationKey(key []byte) (name string, ok bool) {
	if len(key) < 1 || KeyType(key[0]) != KeyTypeMigration {
		return "", false
	}
	raw := key[1:]
	for len(raw) > 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-1]
	}
	return string(raw), true
}

// MaxBlockSuffix is appended by callers seeking the newest row with
// block <= b: they seek the key for b+1 (or the all-0xff suffix for
// "no upper bound") on a reverse cursor and take the predecessor.
const MaxBlockSuffix = uint32(0xFFFFFFFF)
