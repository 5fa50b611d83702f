// Package pagemanager wraps a page pool with compile-time page-type
// discipline (spec.md §4.3, C4). The C++ reference's PageManager template
// reinterprets a page's raw bytes as Page<T> in place; Go has no equivalent
// reinterpret_cast, so every page type supplies a Codec that translates
// between its typed, in-memory form and the page's raw byte buffer.
package pagemanager

import (
	"github.com/carmen-db/carmen/backend/page"
	"github.com/carmen-db/carmen/backend/pagepool"
)

// Codec translates a single page type between its raw byte buffer and its
// typed, in-memory representation.
type Codec[P any] interface {
	// Decode interprets raw (exactly one page's worth of bytes) as a P.
	Decode(raw []byte) P
	// Encode serializes p's content back into raw.
	Encode(p P, raw []byte)
}

// Manager allocates, loads, and persists pages of a single type P, backed
// by a pagepool.Pool. Id 0 is conventionally reserved for a tree's meta
// page and is never handed out by New.
type Manager[P any] struct {
	pool   *pagepool.Pool
	codec  Codec[P]
	live   map[page.Id]P
	dirty  map[page.Id]bool
	nextId page.Id
}

// New wraps pool with typed access via codec. nextId picks up after
// whatever pages already exist in pool's backing file.
func New[P any](pool *pagepool.Pool, codec Codec[P]) *Manager[P] {
	m := &Manager[P]{
		pool:  pool,
		codec: codec,
		live:  make(map[page.Id]P),
		dirty: make(map[page.Id]bool),
	}
	pool.OnAfterLoad(func(id page.Id, raw *page.Page) {
		m.live[id] = codec.Decode(raw.Bytes())
	})
	pool.OnBeforeEvict(func(id page.Id, raw *page.Page, isDirty bool) {
		if isDirty {
			codec.Encode(m.live[id], raw.Bytes())
		}
		delete(m.live, id)
		delete(m.dirty, id)
	})
	nextId := page.Id(pool.FileSize() / int64(pool.PageSize()))
	if nextId == page.NoPage {
		nextId = 1
	}
	m.nextId = nextId
	return m
}

// New allocates a fresh, zero-valued page and returns its id and decoded
// content. The page is marked dirty immediately so it survives a flush
// even if the caller never mutates it further.
func (m *Manager[P]) New() (page.Id, P, error) {
	id := m.nextId
	m.nextId++
	if _, err := m.pool.Get(id); err != nil {
		var zero P
		return id, zero, err
	}
	m.MarkDirty(id)
	return id, m.live[id], nil
}

// Get fetches and decodes the page at id, loading it from the backing file
// on a pool miss.
func (m *Manager[P]) Get(id page.Id) (P, error) {
	if _, err := m.pool.Get(id); err != nil {
		var zero P
		return zero, err
	}
	return m.live[id], nil
}

// Set replaces the live, decoded content at id and marks it dirty. Used
// when P is a value type whose mutations would otherwise not be visible
// through the map returned by Get.
func (m *Manager[P]) Set(id page.Id, p P) {
	m.live[id] = p
	m.MarkDirty(id)
}

// MarkDirty records that the page at id has been mutated since it was last
// loaded or flushed.
func (m *Manager[P]) MarkDirty(id page.Id) {
	m.dirty[id] = true
	m.pool.MarkDirty(id)
}

// Flush encodes every dirty page's live content back into its raw buffer
// and writes all dirty pages to the backing file.
func (m *Manager[P]) Flush() error {
	for id := range m.dirty {
		raw, err := m.pool.Get(id)
		if err != nil {
			return err
		}
		m.codec.Encode(m.live[id], raw.Bytes())
	}
	m.dirty = make(map[page.Id]bool)
	return m.pool.Flush()
}

// Close flushes and closes the underlying pool.
func (m *Manager[P]) Close() error {
	if err := m.Flush(); err != nil {
		return err
	}
	return m.pool.Close()
}
