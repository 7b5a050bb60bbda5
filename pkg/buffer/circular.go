package buffer

import (
	"sync"

	"github.com/c360/semdds/errors"
)

type circularBuffer[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool

	ready   chan struct{}
	stats   counters
	metrics *bufferMetrics
	opts    *options[T]
}

func newCircularBuffer[T any](capacity int, opts *options[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		opts:     opts,
	}
	cb.notFull = sync.NewCond(&cb.mu)

	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "New", "metrics registration")
		}
		cb.metrics = m
	}
	return cb, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	var dropped []T

	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		switch cb.opts.policy {
		case DropOldest:
			dropped = append(dropped, cb.popLocked())
		case DropNewest:
			cb.mu.Unlock()
			cb.recordDrops(item)
			return nil
		case Block:
			for cb.size == cb.capacity && !cb.closed {
				cb.notFull.Wait()
			}
			if cb.closed {
				cb.mu.Unlock()
				return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed while blocked")
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	cb.stats.writes.Add(1)
	if int64(cb.size) > cb.stats.maxSize.Load() {
		cb.stats.maxSize.Store(int64(cb.size))
	}
	cb.observeDepth()
	cb.mu.Unlock()

	cb.recordDrops(dropped...)
	select {
	case cb.ready <- struct{}{}:
	default:
	}
	return nil
}

func (cb *circularBuffer[T]) popLocked() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

func (cb *circularBuffer[T]) recordDrops(items ...T) {
	for _, item := range items {
		cb.stats.drops.Add(1)
		if cb.metrics != nil {
			cb.metrics.drops.Inc()
		}
		if cb.opts.onDrop != nil {
			cb.opts.onDrop(item)
		}
	}
}

func (cb *circularBuffer[T]) observeDepth() {
	if cb.metrics != nil {
		cb.metrics.depth.Set(float64(cb.size))
	}
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	item := cb.popLocked()
	cb.stats.reads.Add(1)
	cb.observeDepth()
	cb.notFull.Signal()
	return item, true
}

func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	n := max
	if n > cb.size {
		n = cb.size
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	for i := range out {
		out[i] = cb.popLocked()
	}
	cb.stats.reads.Add(int64(n))
	cb.observeDepth()
	cb.notFull.Broadcast()
	return out
}

func (cb *circularBuffer[T]) Ready() <-chan struct{} {
	return cb.ready
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	dropped := make([]T, 0, cb.size)
	for cb.size > 0 {
		dropped = append(dropped, cb.popLocked())
	}
	cb.head, cb.tail = 0, 0
	cb.observeDepth()
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	cb.recordDrops(dropped...)
}

func (cb *circularBuffer[T]) Stats() Stats {
	cb.mu.Lock()
	size := cb.size
	cb.mu.Unlock()
	return Stats{
		Writes:  cb.stats.writes.Load(),
		Reads:   cb.stats.reads.Load(),
		Drops:   cb.stats.drops.Load(),
		Size:    size,
		MaxSize: int(cb.stats.maxSize.Load()),
	}
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notFull.Broadcast()
	return nil
}
