package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semdds"

// Metrics contains the DDS middleware metrics. All Record methods accept a
// nil receiver so components can run without a registry.
type Metrics struct {
	SamplesWritten   *prometheus.CounterVec
	SamplesReceived  *prometheus.CounterVec
	SamplesRejected  *prometheus.CounterVec
	SamplesLost      *prometheus.CounterVec
	MatchedEndpoints *prometheus.GaugeVec
	IncompatibleQos  *prometheus.CounterVec

	DiscoveredParticipants *prometheus.GaugeVec
	ParticipantsLost       *prometheus.CounterVec

	TransportBytes   *prometheus.CounterVec
	TransportPackets *prometheus.CounterVec
	TransportErrors  *prometheus.CounterVec

	CoherentSetsCommitted *prometheus.CounterVec
	CoherentSetsDiscarded *prometheus.CounterVec
}

// NewMetrics creates the core metric collectors
func NewMetrics() *Metrics {
	counterVec := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	gaugeVec := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Metrics{
		SamplesWritten:   counterVec("samples", "written_total", "Samples written by local data writers", "topic"),
		SamplesReceived:  counterVec("samples", "received_total", "Samples accepted into reader caches", "topic"),
		SamplesRejected:  counterVec("samples", "rejected_total", "Samples rejected by resource limits", "topic", "reason"),
		SamplesLost:      counterVec("samples", "lost_total", "Samples lost before reaching a reader", "topic"),
		MatchedEndpoints: gaugeVec("match", "endpoints", "Currently matched remote endpoints", "topic", "side"),
		IncompatibleQos:  counterVec("match", "incompatible_qos_total", "Endpoint pairs rejected for QoS", "topic", "policy"),

		DiscoveredParticipants: gaugeVec("discovery", "participants", "Remote participants currently alive", "domain"),
		ParticipantsLost:       counterVec("discovery", "participants_lost_total", "Remote participants lost", "domain", "reason"),

		TransportBytes:   counterVec("transport", "bytes_total", "Bytes moved by transports", "kind", "direction"),
		TransportPackets: counterVec("transport", "packets_total", "Packets moved by transports", "kind", "direction"),
		TransportErrors:  counterVec("transport", "errors_total", "Transport send or receive failures", "kind", "op"),

		CoherentSetsCommitted: counterVec("coherent", "sets_committed_total", "Coherent sets delivered to readers", "topic"),
		CoherentSetsDiscarded: counterVec("coherent", "sets_discarded_total", "Incomplete coherent sets dropped", "topic"),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SamplesWritten, m.SamplesReceived, m.SamplesRejected, m.SamplesLost,
		m.MatchedEndpoints, m.IncompatibleQos,
		m.DiscoveredParticipants, m.ParticipantsLost,
		m.TransportBytes, m.TransportPackets, m.TransportErrors,
		m.CoherentSetsCommitted, m.CoherentSetsDiscarded,
	}
}

// RecordWrite counts a sample written on topic
func (m *Metrics) RecordWrite(topic string) {
	if m == nil {
		return
	}
	m.SamplesWritten.WithLabelValues(topic).Inc()
}

// RecordReceive counts a sample accepted by a reader on topic
func (m *Metrics) RecordReceive(topic string) {
	if m == nil {
		return
	}
	m.SamplesReceived.WithLabelValues(topic).Inc()
}

// RecordReject counts a rejected sample
func (m *Metrics) RecordReject(topic, reason string) {
	if m == nil {
		return
	}
	m.SamplesRejected.WithLabelValues(topic, reason).Inc()
}

// RecordLost counts lost samples
func (m *Metrics) RecordLost(topic string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SamplesLost.WithLabelValues(topic).Add(float64(n))
}

// RecordMatch adjusts the matched endpoint gauge. side is "writer" or "reader".
func (m *Metrics) RecordMatch(topic, side string, delta int) {
	if m == nil {
		return
	}
	m.MatchedEndpoints.WithLabelValues(topic, side).Add(float64(delta))
}

// RecordIncompatible counts an incompatible endpoint pair
func (m *Metrics) RecordIncompatible(topic, policy string) {
	if m == nil {
		return
	}
	m.IncompatibleQos.WithLabelValues(topic, policy).Inc()
}

// RecordParticipants sets the alive remote participant count for a domain
func (m *Metrics) RecordParticipants(domain string, n int) {
	if m == nil {
		return
	}
	m.DiscoveredParticipants.WithLabelValues(domain).Set(float64(n))
}

// RecordParticipantLost counts a remote participant loss
func (m *Metrics) RecordParticipantLost(domain, reason string) {
	if m == nil {
		return
	}
	m.ParticipantsLost.WithLabelValues(domain, reason).Inc()
}

// RecordTransport counts a packet of n bytes. direction is "in" or "out".
func (m *Metrics) RecordTransport(kind, direction string, n int) {
	if m == nil {
		return
	}
	m.TransportPackets.WithLabelValues(kind, direction).Inc()
	m.TransportBytes.WithLabelValues(kind, direction).Add(float64(n))
}

// RecordTransportError counts a transport failure
func (m *Metrics) RecordTransportError(kind, op string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(kind, op).Inc()
}

// RecordCoherentSet counts a committed or discarded coherent set
func (m *Metrics) RecordCoherentSet(topic string, committed bool) {
	if m == nil {
		return
	}
	if committed {
		m.CoherentSetsCommitted.WithLabelValues(topic).Inc()
		return
	}
	m.CoherentSetsDiscarded.WithLabelValues(topic).Inc()
}
