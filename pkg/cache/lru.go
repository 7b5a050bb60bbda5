package cache

import (
	"container/list"
	"sync"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// LRU is a thread-safe least-recently-used cache.
type LRU[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	stats   *counters
	evictFn EvictCallback[V]
}

func newLRU[V any](maxSize int, opts *cacheOptions[V]) (*LRU[V], error) {
	stats, err := newCounters(opts, "NewLRU")
	if err != nil {
		return nil, err
	}
	return &LRU[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   stats,
		evictFn: opts.evictCallback,
	}, nil
}

// Get retrieves a value and marks it as recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	element, ok := c.items[key]
	if ok {
		c.order.MoveToFront(element)
	}
	c.mu.Unlock()

	if !ok {
		c.stats.miss()
		var zero V
		return zero, false
	}
	c.stats.hit()
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRU[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evicted *lruEntry[V]

	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		size := len(c.items)
		c.mu.Unlock()
		c.stats.set(size)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		evicted = oldest.Value.(*lruEntry[V])
		delete(c.items, evicted.key)
	}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.set(size)
	if evicted != nil {
		c.stats.evicted(1, size)
		if c.evictFn != nil {
			c.evictFn(evicted.key, evicted.value)
		}
	}
	return true, nil
}

// Delete removes an entry.
func (c *LRU[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, ok := c.items[key]
	if ok {
		c.order.Remove(element)
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if ok {
		c.stats.deleted(size)
		if c.evictFn != nil {
			entry := element.Value.(*lruEntry[V])
			c.evictFn(entry.key, entry.value)
		}
	}
	return ok, nil
}

// Clear removes all entries.
func (c *LRU[V]) Clear() error {
	c.mu.Lock()
	old := c.order
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.mu.Unlock()

	c.stats.evicted(old.Len(), 0)
	if c.evictFn != nil {
		for e := old.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*lruEntry[V])
			c.evictFn(entry.key, entry.value)
		}
	}
	return nil
}

// Size returns the number of entries.
func (c *LRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys from most to least recently used.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *LRU[V]) Stats() Stats {
	return c.stats.snapshot(c.Size())
}

// Close is a no-op for the LRU cache.
func (c *LRU[V]) Close() error {
	return nil
}
