package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     string
	}{
		{"empty is healthy", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"degraded wins over healthy", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.statuses)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want == StatusHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.statuses))
		})
	}
}

func TestFromError_Sanitizes(t *testing.T) {
	assert.True(t, FromError("nats", nil).IsHealthy())

	s := FromError("nats", errors.New("dial nats://user:pw@10.0.0.5:4222 failed, token=abc123"))
	assert.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "10.0.0.5")
	assert.NotContains(t, s.Message, "abc123")
	assert.Contains(t, s.Message, "[URL]")
}

func TestMonitor_Lifecycle(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("participant/01/transport/udp", "bound")
	m.UpdateDegraded("participant/01/discovery", "no peers")
	m.UpdateHealthy("participant/02/transport/inproc", "bound")

	s, ok := m.Get("participant/01/discovery")
	require.True(t, ok)
	assert.Equal(t, "participant/01/discovery", s.Component)
	assert.False(t, s.Timestamp.IsZero())

	assert.Equal(t, StatusDegraded, m.AggregateHealth("semdds").Status)

	m.RemovePrefix("participant/01/")
	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "participant/02/transport/inproc", list[0].Component)

	m.Remove("participant/02/transport/inproc")
	assert.Empty(t, m.List())

	var nilMonitor *Monitor
	nilMonitor.UpdateHealthy("x", "")
	nilMonitor.RemovePrefix("x")
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "ok")

	rec := httptest.NewRecorder()
	m.Handler("semdds").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Healthy)

	m.UpdateUnhealthy("b", "down")
	rec = httptest.NewRecorder()
	m.Handler("semdds").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
