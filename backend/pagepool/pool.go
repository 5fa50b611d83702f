// Package pagepool implements the fixed-capacity, write-back page cache the
// paged substrate is built on (spec.md §4.2, C3): pages are pinned by
// fetching, victims are selected by a pluggable eviction policy (default
// LRU), and dirty pages are written back before eviction, flush, or close.
package pagepool

import (
	"container/list"

	"github.com/carmen-db/carmen/backend/page"
	"github.com/carmen-db/carmen/common"
)

// RawFile is the byte-addressable backing store a Pool reads pages from and
// writes them back to. backend/rawfile.File satisfies this.
type RawFile interface {
	Size() int64
	Read(offset int64, buf []byte) error
	Write(offset int64, buf []byte) error
	Flush() error
	Close() error
}

// AfterLoadListener is notified every time a page is loaded from the backing
// file, in insertion order.
type AfterLoadListener func(id page.Id, p *page.Page)

// BeforeEvictListener is notified just before a resident page is evicted
// (and, if dirty, written back), in insertion order.
type BeforeEvictListener func(id page.Id, p *page.Page, dirty bool)

type resident struct {
	page  *page.Page
	dirty bool
	elem  *list.Element // position in lru
}

// Pool is a single-threaded, capacity-bounded page cache. A returned page
// reference is valid until the next operation that could trigger eviction,
// matching the C++ reference's unchecked-pin contract (spec.md §4.2, §4.9).
type Pool struct {
	file     RawFile
	pageSize int
	capacity int

	resident map[page.Id]*resident
	lru      *list.List // front = most recently used

	afterLoad   []AfterLoadListener
	beforeEvict []BeforeEvictListener

	closed bool
}

func New(file RawFile, opts common.PoolOptions) *Pool {
	return &Pool{
		file:     file,
		pageSize: opts.PageSize,
		capacity: opts.Capacity,
		resident: make(map[page.Id]*resident),
		lru:      list.New(),
	}
}

func (p *Pool) OnAfterLoad(l AfterLoadListener)     { p.afterLoad = append(p.afterLoad, l) }
func (p *Pool) OnBeforeEvict(l BeforeEvictListener) { p.beforeEvict = append(p.beforeEvict, l) }

// Get pins page id by fetching it, loading it from the backing file on a
// miss. If the pool is at capacity, a victim is evicted first: a clean
// resident page if one exists, otherwise the least recently used page
// (written back if dirty).
func (p *Pool) Get(id page.Id) (*page.Page, error) {
	if p.closed {
		return nil, common.NewPreconditionError("page pool is closed")
	}
	if r, ok := p.resident[id]; ok {
		p.lru.MoveToFront(r.elem)
		return r.page, nil
	}
	if len(p.resident) >= p.capacity {
		if err := p.evictOne(); err != nil {
			return nil, err
		}
	}
	pg := page.New(p.pageSize)
	if err := p.file.Read(int64(id)*int64(p.pageSize), pg.Bytes()); err != nil {
		return nil, err
	}
	r := &resident{page: pg}
	r.elem = p.lru.PushFront(id)
	p.resident[id] = r
	for _, l := range p.afterLoad {
		l(id, pg)
	}
	return pg, nil
}

// evictOne removes one resident page, preferring a clean one so no write
// back is required.
func (p *Pool) evictOne() error {
	// Prefer a clean slot, scanning from least to most recently used.
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		id := e.Value.(page.Id)
		if !p.resident[id].dirty {
			return p.evict(id)
		}
	}
	// Nothing clean: evict the least recently used page.
	back := p.lru.Back()
	if back == nil {
		return nil
	}
	return p.evict(back.Value.(page.Id))
}

func (p *Pool) evict(id page.Id) error {
	r := p.resident[id]
	for _, l := range p.beforeEvict {
		l(id, r.page, r.dirty)
	}
	if r.dirty {
		if err := p.writeBack(id, r.page); err != nil {
			return err
		}
	}
	p.lru.Remove(r.elem)
	delete(p.resident, id)
	return nil
}

func (p *Pool) writeBack(id page.Id, pg *page.Page) error {
	return p.file.Write(int64(id)*int64(p.pageSize), pg.Bytes())
}

// MarkDirty marks a resident page dirty. The page must already be pinned
// via Get.
func (p *Pool) MarkDirty(id page.Id) {
	if r, ok := p.resident[id]; ok {
		r.dirty = true
	}
}

// Flush writes all dirty pages back and clears their dirty bits.
func (p *Pool) Flush() error {
	if p.closed {
		return common.NewPreconditionError("page pool is closed")
	}
	for id, r := range p.resident {
		if r.dirty {
			if err := p.writeBack(id, r.page); err != nil {
				return err
			}
			r.dirty = false
		}
	}
	return p.file.Flush()
}

// Close flushes and releases the pool's resources. Subsequent calls fail.
func (p *Pool) Close() error {
	if p.closed {
		return common.NewPreconditionError("page pool already closed")
	}
	if err := p.Flush(); err != nil {
		return err
	}
	p.closed = true
	return p.file.Close()
}

// PageSize returns the fixed page size this pool was configured with.
func (p *Pool) PageSize() int { return p.pageSize }

// FileSize returns the current size of the backing file, letting a
// pagemanager pick up numbering where a previously closed file left off.
func (p *Pool) FileSize() int64 { return p.file.Size() }
