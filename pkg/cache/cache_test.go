package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/metric"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, err := NewLRU(2, WithEvictionCallback(func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	created, err := c.Set("a", 1)
	require.NoError(t, err)
	assert.True(t, created)
	_, _ = c.Set("b", 2)

	_, ok := c.Get("a")
	require.True(t, ok)

	_, _ = c.Set("c", 3)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, []string{"c", "a"}, c.Keys())

	created, err = c.Set("a", 10)
	require.NoError(t, err)
	assert.False(t, created)
	v, _ := c.Get("a")
	assert.Equal(t, 10, v)
}

func TestLRU_InvalidInput(t *testing.T) {
	_, err := NewLRU[int](0)
	assert.Error(t, err)

	c, err := NewLRU[int](1)
	require.NoError(t, err)
	_, err = c.Set("", 1)
	assert.Error(t, err)
	_, err = c.Delete("")
	assert.Error(t, err)
}

func TestLRU_StatsAndMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := NewLRU(4, WithMetrics[string](registry, "like_patterns"))
	require.NoError(t, err)

	_, _ = c.Set("k", "v")
	_, _ = c.Get("k")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRatio(), 0.001)

	_, err = NewLRU(4, WithMetrics[string](registry, "like_patterns"))
	assert.Error(t, err)
}

func TestTTL_PerEntryLease(t *testing.T) {
	c, err := NewTTL[string](time.Hour, time.Hour)
	require.NoError(t, err)
	defer c.Close()

	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	_, err = c.SetWithTTL("short", "x", time.Second)
	require.NoError(t, err)
	_, err = c.Set("long", "y")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)

	_, ok := c.Get("short")
	assert.False(t, ok)
	v, ok := c.Get("long")
	assert.True(t, ok)
	assert.Equal(t, "y", v)
	assert.Equal(t, []string{"long"}, c.Keys())
}

func TestTTL_TouchExtendsLease(t *testing.T) {
	c, err := NewTTL[int](time.Hour, time.Hour)
	require.NoError(t, err)
	defer c.Close()

	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }

	_, _ = c.SetWithTTL("p", 1, time.Second)
	now = now.Add(900 * time.Millisecond)
	assert.True(t, c.Touch("p", time.Second))

	now = now.Add(900 * time.Millisecond)
	_, ok := c.Get("p")
	assert.True(t, ok)

	assert.False(t, c.Touch("absent", time.Second))
}

func TestTTL_SweepFiresEvictCallback(t *testing.T) {
	var mu sync.Mutex
	var evicted []string

	c, err := NewTTL(time.Hour, 10*time.Millisecond, WithEvictionCallback(func(key string, _ int) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SetWithTTL("lease", 1, 20*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evicted) == 1 && evicted[0] == "lease"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestTTL_DeleteAndClear(t *testing.T) {
	count := 0
	c, err := NewTTL(time.Hour, time.Hour, WithEvictionCallback(func(string, int) { count++ }))
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Set("b", 2)
	_, _ = c.Set("c", 3)

	deleted, err := c.Delete("a")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, _ = c.Delete("a")
	assert.False(t, deleted)

	require.NoError(t, c.Clear())
	assert.Equal(t, 3, count)
	assert.Equal(t, 0, c.Size())

	_, err = c.SetWithTTL("x", 1, 0)
	assert.Error(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
