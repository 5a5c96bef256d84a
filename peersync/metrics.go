package peersync

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/metric"
)

// Metrics holds Prometheus metrics for the sync coordinator.
type Metrics struct {
	heartbeatsSent     prometheus.Counter
	heartbeatsReceived prometheus.Counter
	triggersSent       prometheus.Counter
	triggersReceived   prometheus.Counter
	peerTimeouts       prometheus.Counter
	roleChanges        prometheus.Counter
	peerConnected      prometheus.Gauge
	clockOffsetMs      prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "peersync",
			Name: "heartbeats_sent_total",
			Help: "Heartbeats sent to the peer",
		}),
		heartbeatsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "peersync",
			Name: "heartbeats_received_total",
			Help: "Heartbeats received from the peer",
		}),
		triggersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "peersync",
			Name: "triggers_sent_total",
			Help: "Trigger packets sent, including retransmits",
		}),
		triggersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "peersync",
			Name: "triggers_received_total",
			Help: "Trigger packets received, including duplicates",
		}),
		peerTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "peersync",
			Name: "peer_timeouts_total",
			Help: "Times the peer went quiet past the timeout window",
		}),
		roleChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "peersync",
			Name: "role_changes_total",
			Help: "Coordination role transitions",
		}),
		peerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartsocks", Subsystem: "peersync",
			Name: "peer_connected",
			Help: "1 while heartbeats from the peer are fresh",
		}),
		clockOffsetMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartsocks", Subsystem: "peersync",
			Name: "clock_offset_ms",
			Help: "Estimated peer clock offset in milliseconds",
		}),
	}

	registry.RegisterCounter("peersync", "heartbeats_sent", m.heartbeatsSent)
	registry.RegisterCounter("peersync", "heartbeats_received", m.heartbeatsReceived)
	registry.RegisterCounter("peersync", "triggers_sent", m.triggersSent)
	registry.RegisterCounter("peersync", "triggers_received", m.triggersReceived)
	registry.RegisterCounter("peersync", "peer_timeouts", m.peerTimeouts)
	registry.RegisterCounter("peersync", "role_changes", m.roleChanges)
	registry.RegisterGauge("peersync", "peer_connected", m.peerConnected)
	registry.RegisterGauge("peersync", "clock_offset", m.clockOffsetMs)
	return m
}
