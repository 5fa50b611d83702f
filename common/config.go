package common

import "github.com/c2h5oh/datasize"

// PageSize is the unit of I/O for the paged substrate (C2-C5). It defaults
// to the filesystem page size the way the C++ reference's
// kFileSystemPageSize does, expressed with the same typed-size dependency
// the teacher uses for its changeset shard limit (ethdb/bitmapdb.ShardLimit).
const DefaultPageSize = 4 * datasize.KB

// EvictionPolicy selects the page pool's victim-selection strategy.
type EvictionPolicy int

const (
	// LRU evicts the least recently used clean page. This is the default,
	// matching spec.md §4.2.
	LRU EvictionPolicy = iota
)

// PoolOptions configures a page pool.
type PoolOptions struct {
	// PageSize is the fixed size, in bytes, of every page in the file.
	PageSize int
	// Capacity is the number of resident pages the pool keeps in memory.
	Capacity int
	// Policy selects which victim is evicted on a miss with no clean slot.
	Policy EvictionPolicy
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		PageSize: int(DefaultPageSize.Bytes()),
		Capacity: 1024,
		Policy:   LRU,
	}
}

// BTreeOptions configures an ordered B-tree (C7).
type BTreeOptions struct {
	// MaxEntries bounds the number of entries per leaf; 0 means "as many as
	// fit in a page".
	MaxEntries int
	// MaxKeys bounds the number of keys per inner node; 0 means "as many as
	// fit in a page".
	MaxKeys int
	Pool    PoolOptions
}

// HashTreeOptions configures a Merkle hash tree (C5).
type HashTreeOptions struct {
	// BranchingFactor is the fan-out of the tree; must be >= 2.
	BranchingFactor int
}

func DefaultHashTreeOptions() HashTreeOptions {
	return HashTreeOptions{BranchingFactor: 32}
}
