// Package buffer provides a generic, thread-safe circular buffer. Transports
// use it to decouple socket reads from RTPS message processing so a slow
// consumer drops the oldest packets instead of stalling the socket.
package buffer

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semdds/metric"
)

// Buffer is a bounded FIFO of items of type T.
type Buffer[T any] interface {
	// Write adds an item, applying the overflow policy when full.
	Write(item T) error
	// Read removes and returns the oldest item.
	Read() (T, bool)
	// ReadBatch removes up to max items in FIFO order.
	ReadBatch(max int) []T
	// Ready returns a channel that receives a value after writes. Consumers
	// drain with ReadBatch after each signal.
	Ready() <-chan struct{}
	Size() int
	Capacity() int
	Clear()
	Stats() Stats
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
	// Block makes Write wait for space.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Writes  int64
	Reads   int64
	Drops   int64
	Size    int
	MaxSize int
}

type counters struct {
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	maxSize atomic.Int64
}

// Option configures buffer behavior.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy        OverflowPolicy
	onDrop        func(T)
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) { o.policy = policy }
}

// WithDropCallback is called, outside the buffer lock, with every dropped item.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(o *options[T]) { o.onDrop = fn }
}

// WithMetrics exports the buffer's drop counter and depth gauge.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(o *options[T]) {
		if registry != nil && prefix != "" {
			o.metricsReg = registry
			o.metricsPrefix = prefix
		}
	}
}

type bufferMetrics struct {
	depth prometheus.Gauge
	drops prometheus.Counter
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "semdds",
			Subsystem:   "buffer",
			Name:        "depth",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Items currently held in the buffer",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "semdds",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Items dropped by the overflow policy",
		}),
	}
	if err := registry.RegisterGauge(prefix, "buffer_depth", m.depth); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops_total", m.drops); err != nil {
		registry.Unregister(prefix, "buffer_depth")
		return nil, err
	}
	return m, nil
}

// NewCircularBuffer creates a circular buffer of the given capacity.
func NewCircularBuffer[T any](capacity int, opts ...Option[T]) (Buffer[T], error) {
	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return newCircularBuffer(capacity, o)
}
