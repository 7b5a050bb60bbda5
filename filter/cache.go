package filter

import (
	"github.com/c360/semdds/pkg/cache"
)

// Cache holds compiled expressions keyed by their text.
type Cache struct {
	lru *cache.LRU[*Expression]
}

// NewCache creates a cache of at most size expressions.
func NewCache(size int, opts ...cache.Option[*Expression]) (*Cache, error) {
	lru, err := cache.NewLRU[*Expression](size, opts...)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: lru}, nil
}

// Compile returns the cached expression or compiles and stores it.
func (c *Cache) Compile(expr string) (*Expression, error) {
	if expr == "" {
		return Compile(expr)
	}
	if x, ok := c.lru.Get(expr); ok {
		return x, nil
	}
	x, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	_, _ = c.lru.Set(expr, x)
	return x, nil
}

// Stats returns the underlying cache statistics.
func (c *Cache) Stats() cache.Stats { return c.lru.Stats() }

// Close releases the cache.
func (c *Cache) Close() error { return c.lru.Close() }
