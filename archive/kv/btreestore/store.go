// Package btreestore is the primary ordered-KV backing for the archive
// (spec.md §4.10), built directly on the project's own paged B-tree
// (backend/btree) rather than an external engine. Keys are fixed-width,
// zero-padded buffers, and Key returns the padded form. Every key space
// defined in common/dbutils except the migration rows has a single,
// tag-determined width, so the padding never changes relative order within
// or across those key spaces; migration keys are variable length, and
// dbutils.DecodeMigrationKey drops the padding. Values are stored
// out of line in an append-only blob log, referenced from the B-tree by a
// fixed 16 byte {offset, length} pair; this keeps the tree's leaf layout
// uniform-width even though account code is a variable-length blob. Blob log
// reads are fronted by a fastcache.Cache, since entries are immutable once
// written and repeated code/value reads for the same hot account are common.
package btreestore

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/carmen-db/carmen/archive/kv"
	"github.com/carmen-db/carmen/backend/btree"
	"github.com/carmen-db/carmen/backend/pagepool"
	"github.com/carmen-db/carmen/backend/rawfile"
	"github.com/carmen-db/carmen/common"
	"github.com/carmen-db/carmen/common/dbutils"
)

// blobCacheSize bounds the in-memory cache of append-only blob log reads.
// Blobs never change once written, so a cache hit never goes stale.
const blobCacheSize = 32 * 1024 * 1024

// MaxKeyLen is the widest key in the schema (dbutils.StorageKeyLen).
const MaxKeyLen = dbutils.StorageKeyLen

type fixedKey [MaxKeyLen]byte

func toFixedKey(key []byte) (fixedKey, error) {
	if len(key) > MaxKeyLen {
		return fixedKey{}, common.NewInvalidArgumentError("btreestore: key of %d bytes exceeds max key length %d", len(key), MaxKeyLen)
	}
	var k fixedKey
	copy(k[:], key)
	return k, nil
}

type fixedKeyCodec struct{}

func (fixedKeyCodec) Size() int             { return MaxKeyLen }
func (fixedKeyCodec) Encode(k fixedKey, buf []byte) { copy(buf, k[:]) }
func (fixedKeyCodec) Decode(buf []byte) fixedKey {
	var k fixedKey
	copy(k[:], buf)
	return k
}
func (fixedKeyCodec) Compare(a, b fixedKey) int {
	for i := 0; i < MaxKeyLen; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

type blobRef struct{ offset, length uint64 }

type blobRefCodec struct{}

func (blobRefCodec) Size() int { return 16 }
func (blobRefCodec) Encode(v blobRef, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], v.offset)
	binary.LittleEndian.PutUint64(buf[8:16], v.length)
}
func (blobRefCodec) Decode(buf []byte) blobRef {
	return blobRef{
		offset: binary.LittleEndian.Uint64(buf[0:8]),
		length: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// Store implements kv.Store over a btree.OrderedMap index file plus a
// sibling append-only blob log file, both under dir.
type Store struct {
	index   *btree.OrderedMap[fixedKey, blobRef]
	indexRF *rawfile.File
	blobs   *rawfile.File
	blobEnd int64
	// blobCache is a read-through cache over the blob log, keyed by the
	// blobRef the value is stored at. Grounded on go-ethereum's use of
	// fastcache as a byte-keyed, byte-valued cache in front of on-disk trie
	// data (see original_source's equivalent LevelDB-backed archive, which
	// keeps a similar hot-value cache in front of the account state tables).
	blobCache *fastcache.Cache
}

// Open opens (creating if necessary) the index and blob log files under
// dir.
func Open(dir string, poolOpts common.PoolOptions) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, common.NewIoError("btreestore: failed to create directory "+dir, err)
	}
	indexRF, err := rawfile.Open(filepath.Join(dir, "index.dat"))
	if err != nil {
		return nil, err
	}
	pool := pagepool.New(indexRF, poolOpts)
	index, err := btree.OpenOrderedMap[fixedKey, blobRef](pool, fixedKeyCodec{}, blobRefCodec{}, common.BTreeOptions{Pool: poolOpts})
	if err != nil {
		return nil, err
	}
	blobs, err := rawfile.Open(filepath.Join(dir, "blobs.dat"))
	if err != nil {
		return nil, err
	}
	return &Store{
		index:     index,
		indexRF:   indexRF,
		blobs:     blobs,
		blobEnd:   blobs.Size(),
		blobCache: fastcache.New(blobCacheSize),
	}, nil
}

// blobCacheKey renders a blobRef as the fixed-width byte key fastcache
// indexes by, reusing blobRefCodec's on-disk encoding.
func blobCacheKey(ref blobRef) []byte {
	buf := make([]byte, 16)
	blobRefCodec{}.Encode(ref, buf)
	return buf
}

func (s *Store) Add(key, value []byte) error {
	fk, err := toFixedKey(key)
	if err != nil {
		return err
	}
	ref := blobRef{offset: uint64(s.blobEnd), length: uint64(len(value))}
	if len(value) > 0 {
		if err := s.blobs.Write(s.blobEnd, value); err != nil {
			return err
		}
	}
	s.blobEnd += int64(len(value))
	added, err := s.index.Insert(fk, ref)
	if err != nil {
		return err
	}
	if !added {
		return common.NewInvalidArgumentError("btreestore: key already present")
	}
	s.blobCache.Set(blobCacheKey(ref), value)
	return nil
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	fk, err := toFixedKey(key)
	if err != nil {
		return nil, false, err
	}
	ref, found, err := s.index.Find(fk)
	if err != nil || !found {
		return nil, found, err
	}
	return s.readBlob(ref)
}

func (s *Store) readBlob(ref blobRef) ([]byte, bool, error) {
	if ref.length == 0 {
		return []byte{}, true, nil
	}
	key := blobCacheKey(ref)
	if cached := s.blobCache.Get(nil, key); cached != nil {
		return cached, true, nil
	}
	buf := make([]byte, ref.length)
	if err := s.blobs.Read(int64(ref.offset), buf); err != nil {
		return nil, false, err
	}
	s.blobCache.Set(key, buf)
	return buf, true, nil
}

// Delete is unsupported: the archive never removes a versioned row (see
// archive/kv.Store's doc comment).
func (s *Store) Delete(key []byte) error {
	return common.NewPreconditionError("btreestore: delete is not supported")
}

func (s *Store) LowerBound(key []byte) (kv.Cursor, error) {
	fk, err := toFixedKey(key)
	if err != nil {
		return nil, err
	}
	it, err := s.index.LowerBound(fk)
	if err != nil {
		return nil, err
	}
	return &cursor{store: s, it: it}, nil
}

func (s *Store) Flush() error {
	return s.index.Flush()
}

func (s *Store) Close() error {
	if err := s.index.Close(); err != nil {
		return err
	}
	return s.blobs.Close()
}

type cursor struct {
	store *Store
	it    *btree.Iterator[fixedKey, blobRef]
}

func (c *cursor) Valid() bool { return c.it.Valid() }

func (c *cursor) Key() ([]byte, error) {
	k, err := c.it.Key()
	if err != nil {
		return nil, err
	}
	return append([]byte{}, k[:]...), nil
}

func (c *cursor) Value() ([]byte, error) {
	ref, err := c.it.Value()
	if err != nil {
		return nil, err
	}
	b, _, err := c.store.readBlob(ref)
	return b, err
}

func (c *cursor) Next() error { return c.it.Next() }

func (c *cursor) Prev() error {
	err := c.it.Previous()
	if errors.Is(err, btree.ErrNoPrevious) {
		return kv.ErrNoPrevious
	}
	return err
}
