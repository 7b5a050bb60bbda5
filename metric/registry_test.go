package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "udp_drops_total", Help: "drops"})
	require.NoError(t, registry.RegisterCounter("transport", "udp_drops_total", counter))
	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["udp_drops_total"])

	assert.True(t, registry.Unregister("transport", "udp_drops_total"))
	assert.False(t, registry.Unregister("transport", "udp_drops_total"))
	assert.False(t, gatheredNames(t, registry)["udp_drops_total"])
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_depth", Help: "depth"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_depth", Help: "depth"})

	require.NoError(t, registry.RegisterGauge("dispatch", "queue_depth", g1))

	err := registry.RegisterGauge("dispatch", "queue_depth", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// same prometheus name under another service collides in prometheus
	err = registry.RegisterGauge("other", "queue_depth", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("pool_%d_submitted_total", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "n"})
			assert.NoError(t, registry.RegisterCounter("worker_pool", name, c))
		}(i)
	}
	wg.Wait()

	names := gatheredNames(t, registry)
	for i := 0; i < 20; i++ {
		assert.True(t, names[fmt.Sprintf("pool_%d_submitted_total", i)])
	}
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordWrite("Square")
	m.RecordWrite("Square")
	m.RecordReceive("Square")
	m.RecordReject("Square", "max_samples")
	m.RecordLost("Square", 3)
	m.RecordMatch("Square", "writer", 1)
	m.RecordMatch("Square", "writer", 1)
	m.RecordMatch("Square", "writer", -1)
	m.RecordParticipants("0", 4)
	m.RecordTransport("udp", "out", 128)
	m.RecordCoherentSet("Square", true)
	m.RecordCoherentSet("Square", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SamplesWritten.WithLabelValues("Square")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesReceived.WithLabelValues("Square")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SamplesLost.WithLabelValues("Square")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchedEndpoints.WithLabelValues("Square", "writer")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DiscoveredParticipants.WithLabelValues("0")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.TransportBytes.WithLabelValues("udp", "out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoherentSetsDiscarded.WithLabelValues("Square")))
}

func TestCoreMetrics_NilSafe(t *testing.T) {
	var registry *MetricsRegistry
	m := registry.CoreMetrics()
	assert.Nil(t, m)

	assert.NotPanics(t, func() {
		m.RecordWrite("t")
		m.RecordMatch("t", "reader", 1)
		m.RecordTransport("inproc", "in", 10)
	})
}

func TestServer_ServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordWrite("Circle")

	srv := NewServer("127.0.0.1:0", "", registry)
	srv.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"healthy":true}`))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "127.0.0.1:0" }, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "semdds_samples_written_total")

	resp, err = http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
