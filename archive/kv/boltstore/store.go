// Package boltstore is a thin kv.Store adapter over github.com/ledgerwatch/bolt
// (spec.md §4.10's "pluggable ordered-KV backing" requirement), grounded on
// the bucket/cursor usage the teacher's own bolt-backed code follows (see
// ethdb/memory_database.go and the trie sub-trie loader in the example pack).
// Unlike btreestore, no value indirection is needed: bolt stores arbitrary
// length values directly.
package boltstore

import (
	"runtime"

	"github.com/ledgerwatch/bolt"

	"github.com/carmen-db/carmen/archive/kv"
	"github.com/carmen-db/carmen/common"
)

var dataBucket = []byte("archive")

// Store implements kv.Store over a single bolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, common.NewIoError("boltstore: failed to open "+path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket, false)
		return err
	}); err != nil {
		return nil, common.NewIoError("boltstore: failed to create bucket", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Add(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		if b.Get(key) != nil {
			return common.NewInvalidArgumentError("boltstore: key already present")
		}
		return b.Put(common.CopyBytes(key), common.CopyBytes(value))
	})
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(key)
		if v != nil {
			found = true
			out = common.CopyBytes(v)
		}
		return nil
	})
	return out, found, err
}

// Delete is unsupported: see archive/kv.Store's doc comment — the archive
// never removes a versioned row.
func (s *Store) Delete(key []byte) error {
	return common.NewPreconditionError("boltstore: delete is not supported")
}

func (s *Store) LowerBound(key []byte) (kv.Cursor, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, common.NewIoError("boltstore: failed to begin read transaction", err)
	}
	c := tx.Bucket(dataBucket).Cursor()
	k, v := c.Seek(key)
	cur := &cursor{tx: tx, c: c, key: k, value: v}
	// kv.Cursor has no Close method, so a forgotten cursor would otherwise
	// hold its bolt read transaction open indefinitely. The finalizer is a
	// safety net, not the primary release path.
	runtime.SetFinalizer(cur, (*cursor).release)
	return cur, nil
}

func (s *Store) Flush() error { return nil }

func (s *Store) Close() error {
	return s.db.Close()
}

type cursor struct {
	tx    *bolt.Tx
	c     *bolt.Cursor
	key   []byte
	value []byte
}

func (c *cursor) release() {
	if c.tx != nil {
		c.tx.Rollback()
		c.tx = nil
	}
}

func (c *cursor) Valid() bool { return c.key != nil }

func (c *cursor) Key() ([]byte, error) {
	return common.CopyBytes(c.key), nil
}

func (c *cursor) Value() ([]byte, error) {
	return common.CopyBytes(c.value), nil
}

func (c *cursor) Next() error {
	c.key, c.value = c.c.Next()
	return nil
}

func (c *cursor) Prev() error {
	k, v := c.c.Prev()
	if k == nil {
		c.key, c.value = nil, nil
		return kv.ErrNoPrevious
	}
	c.key, c.value = k, v
	return nil
}
