package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semdds/metric"
)

const metricsService = "bridge"

// Metrics holds the bridge's Prometheus metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	clientsConnected   prometheus.Gauge
	streamsActive      prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	framesSent         *prometheus.CounterVec
	framesDropped      *prometheus.CounterVec
	bytesSent          prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

// newMetrics registers the bridge metrics. A nil registry returns nil.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semdds",
			Subsystem: "bridge",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semdds",
			Subsystem: "bridge",
			Name:      "streams_active",
			Help:      "Topics with at least one connected client",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semdds",
			Subsystem: "bridge",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semdds",
			Subsystem: "bridge",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semdds",
			Subsystem: "bridge",
			Name:      "frames_sent_total",
			Help:      "Sample frames sent to clients",
		}, []string{"topic"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semdds",
			Subsystem: "bridge",
			Name:      "frames_dropped_total",
			Help:      "Sample frames dropped for slow clients",
		}, []string{"topic"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semdds",
			Subsystem: "bridge",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to clients",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semdds",
			Subsystem: "bridge",
			Name:      "errors_total",
			Help:      "Bridge errors",
		}, []string{"error_type"}),
	}

	regs := []func() error{
		func() error { return registry.RegisterGauge(metricsService, "clients_connected", m.clientsConnected) },
		func() error { return registry.RegisterGauge(metricsService, "streams_active", m.streamsActive) },
		func() error {
			return registry.RegisterCounter(metricsService, "client_connections_total", m.connectionTotal)
		},
		func() error {
			return registry.RegisterCounterVec(metricsService, "client_disconnections_total", m.disconnectionTotal)
		},
		func() error { return registry.RegisterCounterVec(metricsService, "frames_sent_total", m.framesSent) },
		func() error {
			return registry.RegisterCounterVec(metricsService, "frames_dropped_total", m.framesDropped)
		},
		func() error { return registry.RegisterCounter(metricsService, "bytes_sent_total", m.bytesSent) },
		func() error { return registry.RegisterCounterVec(metricsService, "errors_total", m.errorsTotal) },
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) connected(clients int) {
	if m == nil {
		return
	}
	m.connectionTotal.Inc()
	m.clientsConnected.Set(float64(clients))
}

func (m *Metrics) disconnected(clients int, reason string) {
	if m == nil {
		return
	}
	m.disconnectionTotal.WithLabelValues(reason).Inc()
	m.clientsConnected.Set(float64(clients))
}

func (m *Metrics) streamsSet(n int) {
	if m == nil {
		return
	}
	m.streamsActive.Set(float64(n))
}

func (m *Metrics) sent(topic string, size int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(topic).Inc()
	m.bytesSent.Add(float64(size))
}

func (m *Metrics) dropped(topic string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(topic).Inc()
}

func (m *Metrics) errorInc(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}
