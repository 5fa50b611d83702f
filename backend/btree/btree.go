package btree

import (
	"encoding/binary"

	"github.com/carmen-db/carmen/backend/page"
	"github.com/carmen-db/carmen/backend/pagemanager"
	"github.com/carmen-db/carmen/backend/pagepool"
	"github.com/carmen-db/carmen/common"
)

// EntryResult reports whether an insert added a new entry or found the key
// already present.
type EntryResult int

const (
	EntryAdded EntryResult = iota
	EntryPresent
)

// splitResult is returned up the recursion when a node had to split: key
// is the separator promoted to the parent, newPage is the freshly
// allocated right sibling.
type splitResult[K any] struct {
	key     K
	newPage page.Id
}

const metaPageLen = 8 + 8 + 4

// BTree is an ordered, paged B-tree (spec.md §4.6, C7). The meta page
// (id 0, reserved by pagemanager.Manager) holds {root, num_entries,
// height}; node pages are managed by a pagemanager.Manager[*node[K,V]]
// sharing the same underlying pool and file.
type BTree[K any, V any] struct {
	pool *pagepool.Pool
	mgr  *pagemanager.Manager[*node[K, V]]
	kc   KeyCodec[K]
	vc   ValueCodec[V]

	maxEntries int
	maxKeys    int

	root       page.Id
	numEntries int
	height     int
}

// Open loads an existing tree from pool's backing file, or initializes a
// fresh one ({root=1, num_entries=0, height=0} with an empty root leaf) if
// the file is empty.
func Open[K any, V any](pool *pagepool.Pool, kc KeyCodec[K], vc ValueCodec[V], opts common.BTreeOptions) (*BTree[K, V], error) {
	mgr := pagemanager.New[*node[K, V]](pool, nodeCodec[K, V]{kc: kc, vc: vc})
	t := &BTree[K, V]{pool: pool, mgr: mgr, kc: kc, vc: vc}

	t.maxEntries = opts.MaxEntries
	if t.maxEntries == 0 {
		t.maxEntries = MaxEntries(pool.PageSize(), kc.Size(), vc.Size())
	}
	t.maxKeys = opts.MaxKeys
	if t.maxKeys == 0 {
		t.maxKeys = MaxKeys(pool.PageSize(), kc.Size())
	}

	if pool.FileSize() == 0 {
		id, root, err := mgr.New()
		if err != nil {
			return nil, err
		}
		root.isLeaf = true
		mgr.Set(id, root)
		t.root = id
		if err := t.writeMetaPage(); err != nil {
			return nil, err
		}
		return t, nil
	}
	if err := t.readMetaPage(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *BTree[K, V]) writeMetaPage() error {
	raw, err := t.pool.Get(page.Id(0))
	if err != nil {
		return err
	}
	buf := raw.Bytes()
	for i := 0; i < metaPageLen; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(t.root))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(t.numEntries))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(t.height))
	t.pool.MarkDirty(page.Id(0))
	return nil
}

func (t *BTree[K, V]) readMetaPage() error {
	raw, err := t.pool.Get(page.Id(0))
	if err != nil {
		return err
	}
	buf := raw.Bytes()
	t.root = page.Id(binary.LittleEndian.Uint64(buf[0:8]))
	t.numEntries = int(binary.LittleEndian.Uint64(buf[8:16]))
	t.height = int(binary.LittleEndian.Uint32(buf[16:20]))
	return nil
}

// Size returns the number of entries currently stored.
func (t *BTree[K, V]) Size() int { return t.numEntries }

func lowerBound[K any](kc KeyCodec[K], keys []K, key K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if kc.Compare(keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func upperBound[K any](kc KeyCodec[K], keys []K, key K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if kc.Compare(keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func leafFind[K any, V any](kc KeyCodec[K], n *node[K, V], key K) (int, bool) {
	lo, hi := 0, len(n.leafEntries)
	for lo < hi {
		mid := (lo + hi) / 2
		if kc.Compare(n.leafEntries[mid].key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.leafEntries) && kc.Compare(n.leafEntries[lo].key, key) == 0 {
		return lo, true
	}
	return lo, false
}

// Contains reports whether key is present, short-circuiting as soon as an
// inner node's separator exactly matches (spec.md §4.5: "locate i =
// lower_bound of key; if exact match return true").
func (t *BTree[K, V]) Contains(key K) (bool, error) {
	return t.containsAt(t.root, key)
}

func (t *BTree[K, V]) containsAt(id page.Id, key K) (bool, error) {
	n, err := t.mgr.Get(id)
	if err != nil {
		return false, err
	}
	if n.isLeaf {
		_, found := leafFind(t.kc, n, key)
		return found, nil
	}
	i := lowerBound(t.kc, n.keys, key)
	if i < len(n.keys) && t.kc.Compare(n.keys[i], key) == 0 {
		return true, nil
	}
	return t.containsAt(n.children[i], key)
}

// Find returns the value stored for key, if any.
func (t *BTree[K, V]) Find(key K) (V, bool, error) {
	return t.findAt(t.root, key)
}

func (t *BTree[K, V]) findAt(id page.Id, key K) (V, bool, error) {
	n, err := t.mgr.Get(id)
	if err != nil {
		var zero V
		return zero, false, err
	}
	if n.isLeaf {
		idx, found := leafFind(t.kc, n, key)
		if !found {
			var zero V
			return zero, false, nil
		}
		return n.leafEntries[idx].value, true, nil
	}
	// Equal keys live in the right child: the separator is the smallest
	// key of the right subtree, so descent uses upper_bound here too.
	i := upperBound(t.kc, n.keys, key)
	return t.findAt(n.children[i], key)
}

func insertEntryAt[K any, V any](s []entry[K, V], idx int, key K, value V) []entry[K, V] {
	s = append(s, entry[K, V]{})
	copy(s[idx+1:], s[idx:len(s)-1])
	s[idx] = entry[K, V]{key: key, value: value}
	return s
}

func insertKeyAt[K any](s []K, idx int, key K) []K {
	s = append(s, key)
	copy(s[idx+1:], s[idx:len(s)-1])
	s[idx] = key
	return s
}

func insertChildAt(s []page.Id, idx int, id page.Id) []page.Id {
	s = append(s, id)
	copy(s[idx+1:], s[idx:len(s)-1])
	s[idx] = id
	return s
}

// Insert adds (key, value). It returns false without modifying the tree if
// key is already present.
func (t *BTree[K, V]) Insert(key K, value V) (bool, error) {
	res, split, err := t.insertAt(t.root, key, value)
	if err != nil {
		return false, err
	}
	if split != nil {
		newRootId, newRoot, err := t.mgr.New()
		if err != nil {
			return false, err
		}
		newRoot.isLeaf = false
		newRoot.keys = []K{split.key}
		newRoot.children = []page.Id{t.root, split.newPage}
		t.mgr.Set(newRootId, newRoot)
		t.root = newRootId
		t.height++
		t.numEntries++
		return true, t.writeMetaPage()
	}
	if res == EntryAdded {
		t.numEntries++
		return true, t.writeMetaPage()
	}
	return false, nil
}

func (t *BTree[K, V]) insertAt(id page.Id, key K, value V) (EntryResult, *splitResult[K], error) {
	n, err := t.mgr.Get(id)
	if err != nil {
		return 0, nil, err
	}
	if n.isLeaf {
		return t.insertLeaf(id, n, key, value)
	}
	i := upperBound(t.kc, n.keys, key)
	res, split, err := t.insertAt(n.children[i], key, value)
	if err != nil || split == nil {
		return res, nil, err
	}
	return t.insertInner(id, n, i, split.key, split.newPage)
}

func (t *BTree[K, V]) insertLeaf(id page.Id, n *node[K, V], key K, value V) (EntryResult, *splitResult[K], error) {
	idx, found := leafFind(t.kc, n, key)
	if found {
		return EntryPresent, nil, nil
	}
	if len(n.leafEntries) < t.maxEntries {
		n.leafEntries = insertEntryAt(n.leafEntries, idx, key, value)
		t.mgr.Set(id, n)
		return EntryAdded, nil, nil
	}
	split, err := t.splitLeaf(id, n, idx, key, value)
	if err != nil {
		return 0, nil, err
	}
	return EntryAdded, split, nil
}

func (t *BTree[K, V]) splitLeaf(id page.Id, n *node[K, V], idx int, key K, value V) (*splitResult[K], error) {
	m := (t.maxEntries + 1) / 2
	goesLeft := idx < m
	if goesLeft {
		m--
	}
	left := append([]entry[K, V]{}, n.leafEntries[:m]...)
	right := append([]entry[K, V]{}, n.leafEntries[m:]...)
	if goesLeft {
		left = insertEntryAt(left, idx, key, value)
	} else {
		right = insertEntryAt(right, idx-m, key, value)
	}

	newId, newLeaf, err := t.mgr.New()
	if err != nil {
		return nil, err
	}
	oldNext := n.next
	newLeaf.isLeaf = true
	newLeaf.leafEntries = right
	newLeaf.prev = id
	newLeaf.next = oldNext
	t.mgr.Set(newId, newLeaf)

	if oldNext != page.NoPage {
		nn, err := t.mgr.Get(oldNext)
		if err != nil {
			return nil, err
		}
		nn.prev = newId
		t.mgr.Set(oldNext, nn)
	}

	n.leafEntries = left
	n.next = newId
	t.mgr.Set(id, n)

	return &splitResult[K]{key: right[0].key, newPage: newId}, nil
}

func (t *BTree[K, V]) insertInner(id page.Id, n *node[K, V], i int, sk K, np page.Id) (EntryResult, *splitResult[K], error) {
	if len(n.keys) < t.maxKeys {
		n.keys = insertKeyAt(n.keys, i, sk)
		n.children = insertChildAt(n.children, i+1, np)
		t.mgr.Set(id, n)
		return EntryAdded, nil, nil
	}
	split, err := t.splitInner(id, n, i, sk, np)
	if err != nil {
		return 0, nil, err
	}
	return EntryAdded, split, nil
}

func (t *BTree[K, V]) splitInner(id page.Id, n *node[K, V], i int, sk K, np page.Id) (*splitResult[K], error) {
	allKeys := make([]K, 0, len(n.keys)+1)
	allKeys = append(allKeys, n.keys[:i]...)
	allKeys = append(allKeys, sk)
	allKeys = append(allKeys, n.keys[i:]...)

	allChildren := make([]page.Id, 0, len(n.children)+1)
	allChildren = append(allChildren, n.children[:i+1]...)
	allChildren = append(allChildren, np)
	allChildren = append(allChildren, n.children[i+1:]...)

	m := (t.maxKeys + 1) / 2 // ceil(maxKeys/2)
	promoted := allKeys[m]

	newId, newInner, err := t.mgr.New()
	if err != nil {
		return nil, err
	}
	newInner.isLeaf = false
	newInner.keys = append([]K{}, allKeys[m+1:]...)
	newInner.children = append([]page.Id{}, allChildren[m+1:]...)
	t.mgr.Set(newId, newInner)

	n.keys = append([]K{}, allKeys[:m]...)
	n.children = append([]page.Id{}, allChildren[:m+1]...)
	t.mgr.Set(id, n)

	return &splitResult[K]{key: promoted, newPage: newId}, nil
}

// LowerBound returns an iterator positioned at the first key >= key (the
// past-the-end sentinel if none exists), following the same upper_bound
// descent findAt uses so inner separators resolve into the correct child.
func (t *BTree[K, V]) LowerBound(key K) (*Iterator[K, V], error) {
	id := t.root
	for {
		n, err := t.mgr.Get(id)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			idx, _ := leafFind(t.kc, n, key)
			if idx >= len(n.leafEntries) {
				if n.next == page.NoPage {
					return &Iterator[K, V]{t: t, done: true}, nil
				}
				return t.firstOfLeaf(n.next)
			}
			return &Iterator[K, V]{t: t, leafId: id, pos: idx}, nil
		}
		i := upperBound(t.kc, n.keys, key)
		id = n.children[i]
	}
}

func (t *BTree[K, V]) firstOfLeaf(id page.Id) (*Iterator[K, V], error) {
	n, err := t.mgr.Get(id)
	if err != nil {
		return nil, err
	}
	it := &Iterator[K, V]{t: t, leafId: id, pos: 0}
	it.done = len(n.leafEntries) == 0
	return it, nil
}

// Flush writes the meta page and flushes the page manager.
func (t *BTree[K, V]) Flush() error {
	if err := t.writeMetaPage(); err != nil {
		return err
	}
	return t.mgr.Flush()
}

// Close flushes then closes the underlying pool.
func (t *BTree[K, V]) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	return t.mgr.Close()
}

// Check verifies minimum sizes, key ordering, and inherited bound
// constraints top-down, recursing into children; leaves verify their own
// ordering and bounds.
func (t *BTree[K, V]) Check() error {
	if t.numEntries == 0 {
		return nil
	}
	return t.checkAt(t.root, t.height, nil, nil, true)
}

func (t *BTree[K, V]) checkAt(id page.Id, level int, lower, upper *K, isRoot bool) error {
	n, err := t.mgr.Get(id)
	if err != nil {
		return err
	}
	if n.isLeaf {
		if level != 0 {
			return common.NewCorruptionError("btree: leaf page %d found at non-zero level %d", id, level)
		}
		minEntries := (t.maxEntries + 1) / 2
		if !isRoot && len(n.leafEntries) < minEntries {
			return common.NewCorruptionError("btree: leaf page %d has %d entries, below minimum %d", id, len(n.leafEntries), minEntries)
		}
		for i := 1; i < len(n.leafEntries); i++ {
			if t.kc.Compare(n.leafEntries[i-1].key, n.leafEntries[i].key) >= 0 {
				return common.NewCorruptionError("btree: leaf page %d entries out of order", id)
			}
		}
		if len(n.leafEntries) > 0 {
			if lower != nil && t.kc.Compare(n.leafEntries[0].key, *lower) < 0 {
				return common.NewCorruptionError("btree: leaf page %d entry below inherited lower bound", id)
			}
			if upper != nil && t.kc.Compare(n.leafEntries[len(n.leafEntries)-1].key, *upper) >= 0 {
				return common.NewCorruptionError("btree: leaf page %d entry at or above inherited upper bound", id)
			}
		}
		return nil
	}
	if level == 0 {
		return common.NewCorruptionError("btree: inner page %d found at leaf level", id)
	}
	if len(n.keys) == 0 {
		return common.NewCorruptionError("btree: inner page %d has no keys", id)
	}
	minKeys := t.maxKeys / 2 // the smaller half splitInner leaves behind
	if !isRoot && len(n.keys) < minKeys {
		return common.NewCorruptionError("btree: inner page %d has %d keys, below minimum %d", id, len(n.keys), minKeys)
	}
	for i := 1; i < len(n.keys); i++ {
		if t.kc.Compare(n.keys[i-1], n.keys[i]) >= 0 {
			return common.NewCorruptionError("btree: inner page %d keys out of order", id)
		}
	}
	for i, child := range n.children {
		lo, hi := lower, upper
		if i > 0 {
			lo = &n.keys[i-1]
		}
		if i < len(n.keys) {
			hi = &n.keys[i]
		}
		if err := t.checkAt(child, level-1, lo, hi, false); err != nil {
			return err
		}
	}
	return nil
}
