package wsfeed

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/metric"
)

// Metrics holds Prometheus metrics for the WebSocket feed.
type Metrics struct {
	messagesIn  *prometheus.CounterVec
	messagesOut prometheus.Counter
	dropped     prometheus.Counter
	clients     prometheus.Gauge
	connections prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, instance string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "wsfeed",
			Name: "messages_in_total", Help: "Bus messages received for broadcast",
			ConstLabels: prometheus.Labels{"instance": instance},
		}, []string{"subject"}),
		messagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "wsfeed",
			Name: "messages_out_total", Help: "Messages delivered to clients",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "wsfeed",
			Name: "messages_dropped_total", Help: "Messages dropped on slow clients",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartsocks", Subsystem: "wsfeed",
			Name: "clients_connected", Help: "Currently connected clients",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "wsfeed",
			Name: "client_connections_total", Help: "Client connections accepted",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
	}
	registry.RegisterCounterVec(instance, "messages_in", m.messagesIn)
	registry.RegisterCounter(instance, "messages_out", m.messagesOut)
	registry.RegisterCounter(instance, "messages_dropped", m.dropped)
	registry.RegisterGauge(instance, "clients", m.clients)
	registry.RegisterCounter(instance, "client_connections", m.connections)
	return m
}
