package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/metric"
)

// bufferMetrics holds Prometheus metrics for one buffer instance.
type bufferMetrics struct {
	writes    prometheus.Counter
	reads     prometheus.Counter
	peeks     prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newCounter(prefix, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "smartsocks",
		Subsystem:   "buffer",
		Name:        name,
		ConstLabels: prometheus.Labels{"component": prefix},
		Help:        help,
	})
}

func newGauge(prefix, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "smartsocks",
		Subsystem:   "buffer",
		Name:        name,
		ConstLabels: prometheus.Labels{"component": prefix},
		Help:        help,
	})
}

// newBufferMetrics creates and registers buffer metrics with the registry.
func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		writes:      newCounter(prefix, "writes_total", "Total buffer write operations"),
		reads:       newCounter(prefix, "reads_total", "Total buffer read operations"),
		peeks:       newCounter(prefix, "peeks_total", "Total buffer peek operations"),
		overflows:   newCounter(prefix, "overflows_total", "Total buffer overflow events"),
		drops:       newCounter(prefix, "drops_total", "Total items dropped by overflow policy"),
		size:        newGauge(prefix, "size", "Current number of items in buffer"),
		utilization: newGauge(prefix, "utilization", "Buffer utilization (0.0 to 1.0)"),
	}

	registrations := []struct {
		name string
		c    prometheus.Collector
	}{
		{"buffer_writes", m.writes},
		{"buffer_reads", m.reads},
		{"buffer_peeks", m.peeks},
		{"buffer_overflows", m.overflows},
		{"buffer_drops", m.drops},
		{"buffer_size", m.size},
		{"buffer_utilization", m.utilization},
	}
	for _, r := range registrations {
		var err error
		switch c := r.c.(type) {
		case prometheus.Gauge:
			err = registry.RegisterGauge(prefix, r.name, c)
		case prometheus.Counter:
			err = registry.RegisterCounter(prefix, r.name, c)
		}
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordPeek() { m.peeks.Inc() }

func (m *bufferMetrics) recordOverflow() { m.overflows.Inc() }

func (m *bufferMetrics) recordDrop() { m.drops.Inc() }

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
