// Package lmdbstore is a thin kv.Store adapter over
// github.com/ledgerwatch/lmdb-go/lmdb (spec.md §4.10's "pluggable ordered-KV
// backing" requirement). The teacher's own LMDB usage (common/dbutils/bucket.go,
// since deleted — see DESIGN.md) only named bucket strings and configured
// lmdb.DBI flags; no in-pack example exercises the lmdb.Txn/Cursor call
// sequence directly, so this adapter is written from the public lmdb-go API
// shape rather than grounded on a specific pack file. It follows the same
// env/txn/cursor structure as github.com/ledgerwatch/bolt (see boltstore),
// which the pack does exercise, adapted to lmdb-go's explicit Txn.Get/Put and
// lmdb.Cursor.Get(op) verbs in place of bolt's bucket methods.
package lmdbstore

import (
	"runtime"

	"github.com/ledgerwatch/lmdb-go/lmdb"

	"github.com/carmen-db/carmen/archive/kv"
	"github.com/carmen-db/carmen/common"
)

const dbiName = "archive"

// defaultMapSize is the initial LMDB map size; lmdb-go does not grow this
// automatically, so callers with large archives should use OpenWithMapSize.
const defaultMapSize = 1 << 34 // 16 GiB

// Store implements kv.Store over a single LMDB environment and database.
type Store struct {
	env *lmdb.Env
	dbi lmdb.DBI
}

// Open opens (creating if necessary) an LMDB environment at dir with the
// default map size.
func Open(dir string) (*Store, error) {
	return OpenWithMapSize(dir, defaultMapSize)
}

// OpenWithMapSize is Open with an explicit LMDB map size in bytes.
func OpenWithMapSize(dir string, mapSize int64) (*Store, error) {
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, common.NewIoError("lmdbstore: failed to create environment", err)
	}
	if err := env.SetMapSize(mapSize); err != nil {
		return nil, common.NewIoError("lmdbstore: failed to set map size", err)
	}
	if err := env.Open(dir, lmdb.NoTLS, 0600); err != nil {
		return nil, common.NewIoError("lmdbstore: failed to open "+dir, err)
	}
	var dbi lmdb.DBI
	err = env.Update(func(txn *lmdb.Txn) error {
		var err error
		dbi, err = txn.CreateDBI(dbiName)
		return err
	})
	if err != nil {
		return nil, common.NewIoError("lmdbstore: failed to create database", err)
	}
	return &Store{env: env, dbi: dbi}, nil
}

func (s *Store) Add(key, value []byte) error {
	return s.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(s.dbi, key, value, lmdb.NoOverwrite)
	})
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.env.View(func(txn *lmdb.Txn) error {
		v, err := txn.Get(s.dbi, key)
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		out = common.CopyBytes(v)
		return nil
	})
	if err != nil {
		return nil, false, common.NewIoError("lmdbstore: get failed", err)
	}
	return out, found, nil
}

// Delete is unsupported: see archive/kv.Store's doc comment — the archive
// never removes a versioned row.
func (s *Store) Delete(key []byte) error {
	return common.NewPreconditionError("lmdbstore: delete is not supported")
}

func (s *Store) LowerBound(key []byte) (kv.Cursor, error) {
	txn, err := s.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		return nil, common.NewIoError("lmdbstore: failed to begin read transaction", err)
	}
	c, err := txn.OpenCursor(s.dbi)
	if err != nil {
		txn.Abort()
		return nil, common.NewIoError("lmdbstore: failed to open cursor", err)
	}
	k, v, err := c.Get(key, nil, lmdb.SetRange)
	if lmdb.IsNotFound(err) {
		k, v = nil, nil
	} else if err != nil {
		c.Close()
		txn.Abort()
		return nil, common.NewIoError("lmdbstore: seek failed", err)
	}
	cur := &cursor{txn: txn, c: c, key: k, value: v}
	cur.armFinalizer()
	return cur, nil
}

func (s *Store) Flush() error { return nil }

func (s *Store) Close() error {
	s.env.CloseDBI(s.dbi)
	return s.env.Close()
}

type cursor struct {
	txn   *lmdb.Txn
	c     *lmdb.Cursor
	key   []byte
	value []byte
}

// armFinalizer is a safety net releasing the read transaction if a caller
// forgets to exhaust the cursor; kv.Cursor has no explicit Close method.
func (c *cursor) armFinalizer() {
	runtime.SetFinalizer(c, (*cursor).release)
}

func (c *cursor) release() {
	if c.c != nil {
		c.c.Close()
		c.c = nil
	}
	if c.txn != nil {
		c.txn.Abort()
		c.txn = nil
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
	k, v, err := c.c.Get(nil, nil, lmdb.Next)
	if lmdb.IsNotFound(err) {
		c.key, c.value = nil, nil
		return nil
	}
	if err != nil {
		return common.NewIoError("lmdbstore: next failed", err)
	}
	c.key, c.value = k, v
	return nil
}

func (c *cursor) Prev() error {
	k, v, err := c.c.Get(nil, nil, lmdb.Prev)
	if lmdb.IsNotFound(err) {
		c.key, c.value = nil, nil
		return kv.ErrNoPrevious
	}
	if err != nil {
		return common.NewIoError("lmdbstore: prev failed", err)
	}
	c.key, c.value = k, v
	return nil
}
