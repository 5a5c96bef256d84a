package serialline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/metric"
)

// Metrics holds Prometheus metrics for the serial adapter.
type Metrics struct {
	linesRead     prometheus.Counter
	samplesOut    prometheus.Counter
	parseErrors   prometheus.Counter
	reconnects    prometheus.Counter
	commandsSent  prometheus.Counter
	publishErrors prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, instance string) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		linesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "serial",
			Name: "lines_read_total", Help: "CSV lines read from the port",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		samplesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "serial",
			Name: "samples_out_total", Help: "Samples published to the bus",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "serial",
			Name: "parse_errors_total", Help: "Lines rejected by the parser",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "serial",
			Name: "reconnects_total", Help: "Port reopen attempts after loss",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "serial",
			Name: "commands_sent_total", Help: "Operator commands relayed to the node",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "serial",
			Name: "publish_errors_total", Help: "Bus publishes that failed after retries",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
	}

	registry.RegisterCounter(instance, "lines_read", m.linesRead)
	registry.RegisterCounter(instance, "samples_out", m.samplesOut)
	registry.RegisterCounter(instance, "parse_errors", m.parseErrors)
	registry.RegisterCounter(instance, "reconnects", m.reconnects)
	registry.RegisterCounter(instance, "commands_sent", m.commandsSent)
	registry.RegisterCounter(instance, "publish_errors", m.publishErrors)
	return m
}
