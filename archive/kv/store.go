// Package kv defines the ordered-KV adapter interface the archive engine
// composes against (spec.md §4.10): add/get/delete plus forward iteration
// with lowerBound, over keys built with the big-endian schema of §4.8 so
// lexicographic order matches block/address/slot order.
package kv

import "github.com/carmen-db/carmen/common"

// ErrNoPrevious is returned by Cursor.Prev when the cursor is already at
// the first entry of the store.
var ErrNoPrevious = common.NewPreconditionError("kv: cursor has no previous entry")

// Store is an ordered key/value backing for the archive engine.
type Store interface {
	// Add inserts a new key; the adapters in this repository reject a key
	// that is already present instead of overwriting it.
	Add(key, value []byte) error
	Get(key []byte) ([]byte, bool, error)
	// Delete is not supported by the adapters in this repository
	// (btreestore, boltstore, lmdbstore): each returns a precondition error
	// and leaves the store unchanged. The archive engine never calls it;
	// every write targets a fresh (address, block) key.
	Delete(key []byte) error
	// LowerBound returns a cursor at the first key >= key, or an invalid
	// cursor if none exists.
	LowerBound(key []byte) (Cursor, error)
	Flush() error
	Close() error
}

// Cursor walks a Store in ascending key order starting from a LowerBound
// call, with Prev available to step back.
type Cursor interface {
	Valid() bool
	Key() ([]byte, error)
	Value() ([]byte, error)
	Next() error
	Prev() error
}
