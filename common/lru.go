package common

import (
	lru "github.com/hashicorp/golang-lru"
)

// LruCache is a small fixed-capacity, least-recently-used cache. It mirrors
// the shape of the reference archive's accountHashCache: a capped map used
// to avoid a storage round-trip for the hot path of repeatedly touching the
// same few keys (here: an account's most recent diff hash). It wraps hashicorp/golang-lru's non-generic Cache, which the
// teacher depends on directly for the same kind of bounded hot-key cache.
type LruCache[K comparable, V any] struct {
	inner *lru.Cache
}

func NewLruCache[K comparable, V any](capacity int) *LruCache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := lru.New(capacity)
	if err != nil {
		panic(err) // lru.New only errors for size <= 0, already guarded above
	}
	return &LruCache[K, V]{inner: c}
}

func (c *LruCache[K, V]) Get(key K) (V, bool) {
	v, ok := c.inner.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (c *LruCache[K, V]) Set(key K, value V) {
	c.inner.Add(key, value)
}

func (c *LruCache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

func (c *LruCache[K, V]) Clear() {
	c.inner.Purge()
}

func (c *LruCache[K, V]) Len() int { return c.inner.Len() }
