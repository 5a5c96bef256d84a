package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Monitor polls registered components on demand and aggregates the
// result.
type Monitor struct {
	system string

	mu      sync.RWMutex
	sources map[string]func() Status
}

// NewMonitor builds a monitor aggregating under the given system name.
func NewMonitor(system string) *Monitor {
	return &Monitor{system: system, sources: make(map[string]func() Status)}
}

// Register adds a health source. Re-registering a name replaces it.
func (m *Monitor) Register(name string, source func() Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = source
}

// Remove drops a health source.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, name)
}

// Check polls every source and aggregates, sub-statuses sorted by name.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	sources := make([]func() Status, len(names))
	for i, name := range names {
		sources[i] = m.sources[name]
	}
	m.mu.RUnlock()

	subs := make([]Status, len(sources))
	for i, source := range sources {
		subs[i] = source()
		subs[i].Component = names[i]
	}
	return Aggregate(m.system, subs)
}

// Handler serves the aggregated status as JSON. Unhealthy pipelines
// return 503 so the endpoint doubles as a readiness probe.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.Check()
		w.Header().Set("Content-Type", "application/json")
		if status.State == StateUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
