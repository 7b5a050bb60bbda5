package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Monitor tracks health of multiple components in a thread-safe manner.
// Component names are hierarchical ("participant/0103.../transport/udp") so
// a participant can drop all of its entries with RemovePrefix.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	if m == nil {
		return
	}
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// UpdateHealthy marks a component healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks a component degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove stops tracking a component.
func (m *Monitor) Remove(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// RemovePrefix stops tracking every component whose name starts with prefix.
func (m *Monitor) RemovePrefix(prefix string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	for name := range m.statuses {
		if strings.HasPrefix(name, prefix) {
			delete(m.statuses, name)
		}
	}
	m.mu.Unlock()
}

// List returns all statuses sorted by component name.
func (m *Monitor) List() []Status {
	m.mu.RLock()
	result := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		result = append(result, status)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Component < result[j].Component })
	return result
}

// AggregateHealth returns an aggregated health status for the entire system
func (m *Monitor) AggregateHealth(systemName string) Status {
	return Aggregate(systemName, m.List())
}

// Handler serves the aggregate status as JSON. Unhealthy systems answer
// 503 so the endpoint can back a readiness probe.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
