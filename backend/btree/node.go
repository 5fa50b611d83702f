// Package btree implements the paged B-tree (spec.md §4.5-4.6, C6-C7) that
// backs the ordered map/set used by the archive's ordered-KV storage.
// Leaf and inner nodes share one page layout (tag byte + body), the way
// the C++ reference's Node<Key,Value> variant does, distinguished here by
// the isLeaf tag instead of a reinterpreted union.
package btree

import (
	"encoding/binary"

	"github.com/carmen-db/carmen/backend/page"
)

// KeyCodec fixes a key type's on-page width, ordering, and encoding.
type KeyCodec[K any] interface {
	Size() int
	Encode(k K, buf []byte)
	Decode(buf []byte) K
	Compare(a, b K) int
}

// ValueCodec fixes a value type's on-page width and encoding. Use
// UnitCodec for sets, where only key membership matters.
type ValueCodec[V any] interface {
	Size() int
	Encode(v V, buf []byte)
	Decode(buf []byte) V
}

type entry[K any, V any] struct {
	key   K
	value V
}

// node is the shared in-memory representation of a leaf or inner page.
type node[K any, V any] struct {
	isLeaf bool

	// leaf fields
	leafEntries []entry[K, V]
	prev, next  page.Id

	// inner fields: len(children) == len(keys)+1
	keys     []K
	children []page.Id
}

// nodeCodec is the pagemanager.Codec for node[K,V]; the page layout is:
//
//	leaf:  [tag=0][size u16][prev u64][next u64][entries...]
//	inner: [tag=1][size u16][keys...][children: (size+1) u64]
type nodeCodec[K any, V any] struct {
	kc KeyCodec[K]
	vc ValueCodec[V]
}

const leafHeaderLen = 1 + 2 + 8 + 8
const innerHeaderLen = 1 + 2

func (c nodeCodec[K, V]) Decode(raw []byte) *node[K, V] {
	n := &node[K, V]{}
	if raw[0] == 0 {
		n.isLeaf = true
		size := int(binary.LittleEndian.Uint16(raw[1:3]))
		n.prev = page.Id(binary.LittleEndian.Uint64(raw[3:11]))
		n.next = page.Id(binary.LittleEndian.Uint64(raw[11:19]))
		off := leafHeaderLen
		ks, vs := c.kc.Size(), c.vc.Size()
		n.leafEntries = make([]entry[K, V], size)
		for i := 0; i < size; i++ {
			k := c.kc.Decode(raw[off : off+ks])
			off += ks
			v := c.vc.Decode(raw[off : off+vs])
			off += vs
			n.leafEntries[i] = entry[K, V]{key: k, value: v}
		}
		return n
	}
	size := int(binary.LittleEndian.Uint16(raw[1:3]))
	off := innerHeaderLen
	ks := c.kc.Size()
	n.keys = make([]K, size)
	for i := 0; i < size; i++ {
		n.keys[i] = c.kc.Decode(raw[off : off+ks])
		off += ks
	}
	n.children = make([]page.Id, size+1)
	for i := 0; i <= size; i++ {
		n.children[i] = page.Id(binary.LittleEndian.Uint64(raw[off : off+8]))
		off += 8
	}
	return n
}

func (c nodeCodec[K, V]) Encode(n *node[K, V], raw []byte) {
	for i := range raw {
		raw[i] = 0
	}
	if n.isLeaf {
		raw[0] = 0
		binary.LittleEndian.PutUint16(raw[1:3], uint16(len(n.leafEntries)))
		binary.LittleEndian.PutUint64(raw[3:11], uint64(n.prev))
		binary.LittleEndian.PutUint64(raw[11:19], uint64(n.next))
		off := leafHeaderLen
		ks, vs := c.kc.Size(), c.vc.Size()
		for _, e := range n.leafEntries {
			c.kc.Encode(e.key, raw[off:off+ks])
			off += ks
			c.vc.Encode(e.value, raw[off:off+vs])
			off += vs
		}
		return
	}
	raw[0] = 1
	binary.LittleEndian.PutUint16(raw[1:3], uint16(len(n.keys)))
	off := innerHeaderLen
	ks := c.kc.Size()
	for _, k := range n.keys {
		c.kc.Encode(k, raw[off:off+ks])
		off += ks
	}
	for _, child := range n.children {
		binary.LittleEndian.PutUint64(raw[off:off+8], uint64(child))
		off += 8
	}
}

// MaxEntries returns the largest number of leaf entries that fit in a page
// of pageSize bytes for the given key/value widths.
func MaxEntries(pageSize, keySize, valueSize int) int {
	avail := pageSize - leafHeaderLen
	n := avail / (keySize + valueSize)
	if n < 2 {
		n = 2
	}
	return n
}

// MaxKeys returns the largest number of keys an inner node of pageSize
// bytes can hold, accounting for its size+1 child pointers.
func MaxKeys(pageSize, keySize int) int {
	avail := pageSize - innerHeaderLen - 8 // one child pointer always present
	n := avail / (keySize + 8)
	if n < 2 {
		n = 2
	}
	return n
}
