package cache

import (
	"sync"
	"time"

	"github.com/c360/semdds/errors"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe cache whose entries expire after a lease. Each entry
// carries its own lease so a remote participant's announced lease duration
// can be honored.
type TTL[V any] struct {
	mu              sync.Mutex
	ttl             time.Duration
	cleanupInterval time.Duration
	items           map[string]*ttlEntry[V]
	stats           *counters
	evictFn         EvictCallback[V]
	now             func() time.Time

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newTTL[V any](ttl, cleanupInterval time.Duration, opts *cacheOptions[V]) (*TTL[V], error) {
	stats, err := newCounters(opts, "NewTTL")
	if err != nil {
		return nil, err
	}

	c := &TTL[V]{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		items:           make(map[string]*ttlEntry[V]),
		stats:           stats,
		evictFn:         opts.evictCallback,
		now:             time.Now,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	go c.cleanup()
	return c, nil
}

// Get retrieves an unexpired value. An expired entry is evicted on access.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	entry, ok := c.items[key]
	if ok && c.now().After(entry.expiresAt) {
		delete(c.items, key)
		size := len(c.items)
		c.mu.Unlock()

		c.stats.evicted(1, size)
		c.stats.miss()
		if c.evictFn != nil {
			c.evictFn(key, entry.value)
		}
		return zero, false
	}
	c.mu.Unlock()

	if !ok {
		c.stats.miss()
		return zero, false
	}
	c.stats.hit()
	return entry.value, true
}

// Set stores a value with the default lease.
func (c *TTL[V]) Set(key string, value V) (bool, error) {
	return c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit lease, replacing any previous
// lease for the key.
func (c *TTL[V]) SetWithTTL(key string, value V, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "SetWithTTL", "ttl must be positive")
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = &ttlEntry[V]{value: value, expiresAt: c.now().Add(ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.set(size)
	return !exists, nil
}

// Touch extends the lease of an existing entry. Returns false if the key is
// absent or already expired.
func (c *TTL[V]) Touch(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	now := c.now()
	if !ok || now.After(entry.expiresAt) {
		return false
	}
	entry.expiresAt = now.Add(ttl)
	return true
}

// Delete removes an entry and fires the evict callback.
func (c *TTL[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if ok {
		c.stats.deleted(size)
		if c.evictFn != nil {
			c.evictFn(key, entry.value)
		}
	}
	return ok, nil
}

// Clear removes all entries.
func (c *TTL[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]*ttlEntry[V])
	c.mu.Unlock()

	c.stats.evicted(len(old), 0)
	if c.evictFn != nil {
		for key, entry := range old {
			c.evictFn(key, entry.value)
		}
	}
	return nil
}

// Size returns the number of entries, including expired ones not yet swept.
func (c *TTL[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys of unexpired entries.
func (c *TTL[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !now.After(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *TTL[V]) Stats() Stats {
	return c.stats.snapshot(c.Size())
}

// Close stops the background sweeper.
func (c *TTL[V]) Close() error {
	c.closeOnce.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(errors.ErrShuttingDown, "cache", "Close", "wait for cleanup goroutine")
	}
}

// Sweep removes expired entries immediately and returns how many were
// removed.
func (c *TTL[V]) Sweep() int {
	now := c.now()
	expired := make(map[string]V)

	c.mu.Lock()
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			expired[key] = entry.value
			delete(c.items, key)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	c.stats.evicted(len(expired), size)
	if c.evictFn != nil {
		for key, value := range expired {
			c.evictFn(key, value)
		}
	}
	return len(expired)
}

func (c *TTL[V]) cleanup() {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
