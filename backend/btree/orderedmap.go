package btree

import (
	"github.com/carmen-db/carmen/backend/pagepool"
	"github.com/carmen-db/carmen/common"
)

// OrderedMap is an ordered key/value store on top of BTree, the Go-facing
// surface described by spec.md §4.6 ("use unit for sets" is the
// specialization OrderedSet applies below).
type OrderedMap[K any, V any] struct {
	tree *BTree[K, V]
}

func OpenOrderedMap[K any, V any](pool *pagepool.Pool, kc KeyCodec[K], vc ValueCodec[V], opts common.BTreeOptions) (*OrderedMap[K, V], error) {
	t, err := Open[K, V](pool, kc, vc, opts)
	if err != nil {
		return nil, err
	}
	return &OrderedMap[K, V]{tree: t}, nil
}

func (m *OrderedMap[K, V]) Size() int                   { return m.tree.Size() }
func (m *OrderedMap[K, V]) Contains(k K) (bool, error)  { return m.tree.Contains(k) }
func (m *OrderedMap[K, V]) Find(k K) (V, bool, error)   { return m.tree.Find(k) }
func (m *OrderedMap[K, V]) Insert(k K, v V) (bool, error) { return m.tree.Insert(k, v) }
func (m *OrderedMap[K, V]) Begin() (*Iterator[K, V], error) { return m.tree.Begin() }
func (m *OrderedMap[K, V]) LowerBound(k K) (*Iterator[K, V], error) { return m.tree.LowerBound(k) }
func (m *OrderedMap[K, V]) End() *Iterator[K, V]        { return m.tree.End() }
func (m *OrderedMap[K, V]) Flush() error                { return m.tree.Flush() }
func (m *OrderedMap[K, V]) Close() error                { return m.tree.Close() }
func (m *OrderedMap[K, V]) Check() error                { return m.tree.Check() }

// OrderedSet is an ordered key-only store: BTree specialized with Unit
// values, matching the spec's "use unit for sets" guidance.
type OrderedSet[K any] struct {
	tree *BTree[K, Unit]
}

func OpenOrderedSet[K any](pool *pagepool.Pool, kc KeyCodec[K], opts common.BTreeOptions) (*OrderedSet[K], error) {
	t, err := Open[K, Unit](pool, kc, UnitCodec{}, opts)
	if err != nil {
		return nil, err
	}
	return &OrderedSet[K]{tree: t}, nil
}

func (s *OrderedSet[K]) Size() int                  { return s.tree.Size() }
func (s *OrderedSet[K]) Contains(k K) (bool, error) { return s.tree.Contains(k) }
func (s *OrderedSet[K]) Insert(k K) (bool, error)   { return s.tree.Insert(k, Unit{}) }
func (s *OrderedSet[K]) Begin() (*Iterator[K, Unit], error) { return s.tree.Begin() }
func (s *OrderedSet[K]) End() *Iterator[K, Unit]    { return s.tree.End() }
func (s *OrderedSet[K]) Flush() error               { return s.tree.Flush() }
func (s *OrderedSet[K]) Close() error               { return s.tree.Close() }
func (s *OrderedSet[K]) Check() error                { return s.tree.Check() }
