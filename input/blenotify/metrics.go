package blenotify

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/metric"
)

// Metrics holds Prometheus metrics for the BLE adapter.
type Metrics struct {
	connects      prometheus.Counter
	disconnects   prometheus.Counter
	notifications prometheus.Counter
	samplesOut    prometheus.Counter
	parseErrors   prometheus.Counter
	commandsOut   prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, instance string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "blenotify",
			Name: "connects_total", Help: "Successful BLE connections",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "blenotify",
			Name: "disconnects_total", Help: "Connection losses",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "blenotify",
			Name: "notifications_total", Help: "Notification chunks received",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		samplesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "blenotify",
			Name: "samples_out_total", Help: "Samples published to the bus",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "blenotify",
			Name: "parse_errors_total", Help: "Lines that failed to parse",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		commandsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "blenotify",
			Name: "commands_out_total", Help: "Commands written to the node",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
	}
	registry.RegisterCounter(instance, "connects", m.connects)
	registry.RegisterCounter(instance, "disconnects", m.disconnects)
	registry.RegisterCounter(instance, "notifications", m.notifications)
	registry.RegisterCounter(instance, "samples_out", m.samplesOut)
	registry.RegisterCounter(instance, "parse_errors", m.parseErrors)
	registry.RegisterCounter(instance, "commands_out", m.commandsOut)
	return m
}
