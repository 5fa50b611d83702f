package btree

import "github.com/carmen-db/carmen/backend/page"

// Iterator walks a leaf reference plus position, following the leaf
// next/prev pointers across pages; the sentinel page.NoPage marks the end
// in either direction.
type Iterator[K any, V any] struct {
	t      *BTree[K, V]
	leafId page.Id
	pos    int
	done   bool
}

// Begin returns an iterator positioned at the smallest key, descending
// through the leftmost child at every level.
func (t *BTree[K, V]) Begin() (*Iterator[K, V], error) {
	id := t.root
	for {
		n, err := t.mgr.Get(id)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			it := &Iterator[K, V]{t: t, leafId: id, pos: 0}
			it.done = len(n.leafEntries) == 0
			return it, nil
		}
		id = n.children[0]
	}
}

// End returns the past-the-end sentinel iterator.
func (t *BTree[K, V]) End() *Iterator[K, V] {
	return &Iterator[K, V]{t: t, done: true}
}

// Valid reports whether the iterator currently references an entry.
func (it *Iterator[K, V]) Valid() bool { return !it.done }

// Key returns the entry's key. Valid must be true.
func (it *Iterator[K, V]) Key() (K, error) {
	n, err := it.t.mgr.Get(it.leafId)
	if err != nil {
		var zero K
		return zero, err
	}
	return n.leafEntries[it.pos].key, nil
}

// Value returns the entry's value. Valid must be true.
func (it *Iterator[K, V]) Value() (V, error) {
	n, err := it.t.mgr.Get(it.leafId)
	if err != nil {
		var zero V
		return zero, err
	}
	return n.leafEntries[it.pos].value, nil
}

// Next advances to the following entry, crossing into the next leaf page
// when the current one is exhausted.
func (it *Iterator[K, V]) Next() error {
	n, err := it.t.mgr.Get(it.leafId)
	if err != nil {
		return err
	}
	if it.pos+1 < len(n.leafEntries) {
		it.pos++
		return nil
	}
	if n.next == page.NoPage {
		it.done = true
		return nil
	}
	it.leafId = n.next
	it.pos = 0
	nn, err := it.t.mgr.Get(it.leafId)
	if err != nil {
		return err
	}
	it.done = len(nn.leafEntries) == 0
	return nil
}

// Previous steps back to the preceding entry, crossing into the previous
// leaf page when the current one is exhausted.
func (it *Iterator[K, V]) Previous() error {
	if !it.done && it.pos > 0 {
		it.pos--
		return nil
	}
	id := it.leafId
	if it.done {
		// Stepping back from End(): find the tree's last leaf.
		last, err := it.t.lastLeaf()
		if err != nil {
			return err
		}
		id = last
	}
	n, err := it.t.mgr.Get(id)
	if err != nil {
		return err
	}
	if it.done {
		if len(n.leafEntries) == 0 {
			return errNoPrevious
		}
		it.leafId = id
		it.pos = len(n.leafEntries) - 1
		it.done = false
		return nil
	}
	if n.prev == page.NoPage {
		return errNoPrevious
	}
	it.leafId = n.prev
	pn, err := it.t.mgr.Get(it.leafId)
	if err != nil {
		return err
	}
	it.pos = len(pn.leafEntries) - 1
	return nil
}

func (t *BTree[K, V]) lastLeaf() (page.Id, error) {
	id := t.root
	for {
		n, err := t.mgr.Get(id)
		if err != nil {
			return 0, err
		}
		if n.isLeaf {
			return id, nil
		}
		id = n.children[len(n.children)-1]
	}
}
