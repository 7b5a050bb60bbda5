// Package cache provides generic, thread-safe caches.
//
//   - LRU: bounded by entry count, evicts the least recently used entry
//   - TTL: entries expire after a per-entry lease; expiry fires the evict callback
//
// Discovery keeps remote participant leases in a TTL cache and the content
// filter keeps compiled LIKE patterns in an LRU cache.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/c360/semdds/errors"
)

// Cache represents a generic cache keyed by string.
type Cache[V any] interface {
	// Get retrieves a value by key.
	Get(key string) (V, bool)
	// Set stores a value. Returns true if a new entry was created.
	Set(key string, value V) (bool, error)
	// Delete removes an entry. Returns true if the key existed.
	Delete(key string) (bool, error)
	Clear() error
	Size() int
	Keys() []string
	Stats() Stats
	Close() error
}

// EvictCallback is called, outside the cache lock, when an entry leaves the
// cache through eviction, expiry, deletion or Clear.
type EvictCallback[V any] func(key string, value V)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
	Size      int
}

// HitRatio returns hits / (hits + misses), or 0 when there were no lookups.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	metrics   *cacheMetrics
}

func (c *counters) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
}

func (c *counters) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

func (c *counters) set(size int) {
	c.sets.Add(1)
	if c.metrics != nil {
		c.metrics.sets.Inc()
		c.metrics.size.Set(float64(size))
	}
}

func (c *counters) deleted(size int) {
	c.deletes.Add(1)
	if c.metrics != nil {
		c.metrics.deletes.Inc()
		c.metrics.size.Set(float64(size))
	}
}

func (c *counters) evicted(n, size int) {
	c.evictions.Add(int64(n))
	if c.metrics != nil {
		c.metrics.evictions.Add(float64(n))
		c.metrics.size.Set(float64(size))
	}
}

func (c *counters) snapshot(size int) Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}

func newCounters[V any](opts *cacheOptions[V], method string) (*counters, error) {
	c := &counters{}
	if opts.metricsReg != nil {
		m, err := newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", method, "metrics registration")
		}
		c.metrics = m
	}
	return c, nil
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, opts ...Option[V]) (*LRU[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "max size must be positive")
	}
	return newLRU(maxSize, applyOptions(opts...))
}

// NewTTL creates a TTL cache. ttl is the default lease used by Set and
// cleanupInterval is how often expired entries are swept.
func NewTTL[V any](ttl, cleanupInterval time.Duration, opts ...Option[V]) (*TTL[V], error) {
	if ttl <= 0 || cleanupInterval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL", "ttl and cleanup interval must be positive")
	}
	return newTTL(ttl, cleanupInterval, applyOptions(opts...))
}
