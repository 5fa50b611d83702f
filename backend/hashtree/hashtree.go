// Package hashtree implements the Merkle hash tree that aggregates
// per-page hashes into a single root hash for the paged substrate
// (spec.md §4.4, C5). Levels above the leaves combine a fixed number `b`
// of children per parent, padding a short final group with zero hashes.
package hashtree

import (
	"encoding/binary"

	"github.com/carmen-db/carmen/backend/page"
	"github.com/carmen-db/carmen/common"
)

// PageSource supplies the raw bytes of a page on demand, so the tree can
// hash a page without owning the page pool itself.
type PageSource interface {
	GetPageBytes(id page.Id) ([]byte, error)
}

// Tree is a single-threaded Merkle hash tree over a dense range of page
// ids. Level 0 holds leaf (page) hashes; each subsequent level holds the
// combined hash of up to branchingFactor children from the level below.
type Tree struct {
	branchingFactor int
	hasher          common.Hasher
	source          PageSource

	levels [][]common.Hash
	dirty  []map[int]bool
}

// New creates a hash tree with the given branching factor (must be >= 2),
// reading page content from source when a dirty leaf needs rehashing.
func New(opts common.HashTreeOptions, source PageSource) *Tree {
	return NewWithHasher(opts, source, common.DefaultHasher)
}

func NewWithHasher(opts common.HashTreeOptions, source PageSource, hasher common.Hasher) *Tree {
	if opts.BranchingFactor < 2 {
		opts.BranchingFactor = 2
	}
	return &Tree{
		branchingFactor: opts.BranchingFactor,
		hasher:          hasher,
		source:          source,
		levels:          [][]common.Hash{nil},
		dirty:           []map[int]bool{{}},
	}
}

// RegisterPage declares that page ids [0..id] exist. Any id in that range
// not previously known becomes dirty.
func (t *Tree) RegisterPage(id page.Id) {
	t.ensureLeafSlot(id)
}

// UpdateHash sets the hash of page id directly, clears its dirty mark, and
// marks its level-1 parent dirty.
func (t *Tree) UpdateHash(id page.Id, h common.Hash) {
	t.ensureLeafSlot(id)
	t.levels[0][id] = h
	delete(t.dirty[0], int(id))
	t.markDirty(1, int(id)/t.branchingFactor)
}

// UpdateHashBytes hashes bytes and stores the result as page id's hash.
func (t *Tree) UpdateHashBytes(id page.Id, bytes []byte) {
	t.UpdateHash(id, t.hasher.Sum(bytes))
}

// MarkDirty records that page id needs rehashing before the root is next
// read.
func (t *Tree) MarkDirty(id page.Id) {
	t.ensureLeafSlot(id)
	t.markDirty(0, int(id))
}

// NumPages returns the number of registered leaf pages.
func (t *Tree) NumPages() int { return len(t.levels[0]) }

// GetHash resolves every dirty page (fetching its bytes from the injected
// source and hashing them), then propagates dirty parent positions level
// by level, and returns the resulting root hash.
func (t *Tree) GetHash() (common.Hash, error) {
	if err := t.resolveLeafDirty(); err != nil {
		return common.Hash{}, err
	}
	level := 0
	for len(t.levels[level]) > 1 {
		t.ensureParentLevel(level)
		t.rehashDirtyParents(level)
		level++
	}
	if len(t.levels[level]) == 0 {
		return common.Hash{}, nil
	}
	return t.levels[level][0], nil
}

func (t *Tree) ensureLeafSlot(id page.Id) {
	need := int(id) + 1
	old := len(t.levels[0])
	if need <= old {
		return
	}
	grown := make([]common.Hash, need)
	copy(grown, t.levels[0])
	t.levels[0] = grown
	for i := old; i < need; i++ {
		t.markDirty(0, i)
	}
}

func (t *Tree) markDirty(level, idx int) {
	for len(t.dirty) <= level {
		t.dirty = append(t.dirty, map[int]bool{})
	}
	t.dirty[level][idx] = true
}

func (t *Tree) resolveLeafDirty() error {
	for idx := range t.dirty[0] {
		bytes, err := t.source.GetPageBytes(page.Id(idx))
		if err != nil {
			return common.NewIoError("failed to read page for hashing", err)
		}
		t.levels[0][idx] = t.hasher.Sum(bytes)
		t.markDirty(1, idx/t.branchingFactor)
	}
	t.dirty[0] = map[int]bool{}
	return nil
}

func (t *Tree) ensureParentLevel(level int) {
	b := t.branchingFactor
	numParents := (len(t.levels[level]) + b - 1) / b
	if numParents == 0 {
		numParents = 1
	}
	for len(t.levels) <= level+1 {
		t.levels = append(t.levels, nil)
	}
	if len(t.levels[level+1]) < numParents {
		grown := make([]common.Hash, numParents)
		copy(grown, t.levels[level+1])
		old := len(t.levels[level+1])
		t.levels[level+1] = grown
		for i := old; i < numParents; i++ {
			t.markDirty(level+1, i)
		}
	}
}

func (t *Tree) rehashDirtyParents(level int) {
	if len(t.dirty) <= level+1 {
		return
	}
	b := t.branchingFactor
	zero := make([]byte, common.HashLength)
	for idx := range t.dirty[level+1] {
		parts := make([][]byte, 0, b)
		for c := idx * b; c < idx*b+b; c++ {
			if c < len(t.levels[level]) {
				h := t.levels[level][c]
				parts = append(parts, h.Bytes())
			} else {
				parts = append(parts, zero)
			}
		}
		t.levels[level+1][idx] = t.hasher.Sum(parts...)
		t.markDirty(level+2, idx/b)
	}
	t.dirty[level+1] = map[int]bool{}
}

// Serialize writes little-endian u32 branching_factor, u32 num_pages, the
// 32 byte root hash, then num_pages consecutive 32 byte page hashes.
func (t *Tree) Serialize() ([]byte, error) {
	root, err := t.GetHash()
	if err != nil {
		return nil, err
	}
	numPages := len(t.levels[0])
	out := make([]byte, 4+4+common.HashLength+numPages*common.HashLength)
	binary.LittleEndian.PutUint32(out[0:4], uint32(t.branchingFactor))
	binary.LittleEndian.PutUint32(out[4:8], uint32(numPages))
	copy(out[8:8+common.HashLength], root.Bytes())
	off := 8 + common.HashLength
	for i := 0; i < numPages; i++ {
		copy(out[off:off+common.HashLength], t.levels[0][i].Bytes())
		off += common.HashLength
	}
	return out, nil
}

// Load parses a buffer produced by Serialize, recomputes the root from the
// stored page hashes, and returns a corruption error if it does not match
// the stored root.
func Load(buf []byte, source PageSource) (*Tree, error) {
	return LoadWithHasher(buf, source, common.DefaultHasher)
}

func LoadWithHasher(buf []byte, source PageSource, hasher common.Hasher) (*Tree, error) {
	if len(buf) < 8+common.HashLength {
		return nil, common.NewCorruptionError("hash tree: truncated header")
	}
	b := int(binary.LittleEndian.Uint32(buf[0:4]))
	numPages := int(binary.LittleEndian.Uint32(buf[4:8]))
	storedRoot := common.BytesToHash(buf[8 : 8+common.HashLength])
	wantLen := 8 + common.HashLength + numPages*common.HashLength
	if len(buf) != wantLen {
		return nil, common.NewCorruptionError("hash tree: page hash table length mismatch")
	}
	t := NewWithHasher(common.HashTreeOptions{BranchingFactor: b}, source, hasher)
	off := 8 + common.HashLength
	for i := 0; i < numPages; i++ {
		h := common.BytesToHash(buf[off : off+common.HashLength])
		t.UpdateHash(page.Id(i), h)
		off += common.HashLength
	}
	root, err := t.GetHash()
	if err != nil {
		return nil, err
	}
	if root != storedRoot {
		return nil, common.NewCorruptionError("hash tree: stored root hash does not match recomputed root hash")
	}
	return t, nil
}
