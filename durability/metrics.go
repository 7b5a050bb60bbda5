package durability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/rtps"
)

type storeMetrics struct {
	ops     *prometheus.CounterVec
	errors  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newStoreMetrics(registry *metric.MetricsRegistry, backend string) (*storeMetrics, error) {
	m := &storeMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "semdds",
			Subsystem:   "durability",
			Name:        "operations_total",
			Help:        "Durability store operations",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "semdds",
			Subsystem:   "durability",
			Name:        "errors_total",
			Help:        "Failed durability store operations",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"operation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "semdds",
			Subsystem:   "durability",
			Name:        "operation_duration_seconds",
			Help:        "Durability store operation latency",
			ConstLabels: prometheus.Labels{"backend": backend},
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
	}
	service := "durability_" + backend
	if err := registry.RegisterCounterVec(service, "operations_total", m.ops); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "errors_total", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(service, "operation_duration_seconds", m.latency); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *storeMetrics) observe(op string, start time.Time, err error) {
	m.ops.WithLabelValues(op).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}

type instrumented struct {
	Store
	m *storeMetrics
}

// Instrument wraps a store so each operation is counted and timed under the
// backend label. A nil registry returns the store unchanged.
func Instrument(s Store, registry *metric.MetricsRegistry, backend string) (Store, error) {
	if registry == nil {
		return s, nil
	}
	m, err := newStoreMetrics(registry, backend)
	if err != nil {
		return nil, err
	}
	return &instrumented{Store: s, m: m}, nil
}

func (i *instrumented) Put(ctx context.Context, rec Record) error {
	start := time.Now()
	err := i.Store.Put(ctx, rec)
	i.m.observe("put", start, err)
	return err
}

func (i *instrumented) Load(ctx context.Context, topic string) ([]Record, error) {
	start := time.Now()
	recs, err := i.Store.Load(ctx, topic)
	i.m.observe("load", start, err)
	return recs, err
}

func (i *instrumented) Delete(ctx context.Context, topic string, key rtps.KeyHash) error {
	start := time.Now()
	err := i.Store.Delete(ctx, topic, key)
	i.m.observe("delete", start, err)
	return err
}
