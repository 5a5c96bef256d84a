package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the pipeline-level metrics shared by all components.
type Metrics struct {
	ComponentStatus *prometheus.GaugeVec

	// Ingest
	SamplesReceived *prometheus.CounterVec
	SamplesDropped  *prometheus.CounterVec

	// Merge and classify
	FramesMerged    prometheus.Counter
	FramesGapFilled *prometheus.CounterVec
	WindowsEmitted  prometheus.Counter
	Classifications *prometheus.CounterVec

	ErrorsTotal *prometheus.CounterVec

	// Sync
	SyncHeartbeats    *prometheus.CounterVec
	SyncPeerConnected prometheus.Gauge
	SyncClockOffset   prometheus.Gauge

	// Bus
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "smartsocks",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		SamplesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "ingest",
				Name:      "samples_received_total",
				Help:      "Sensor samples received per transport adapter and leg",
			},
			[]string{"component", "leg"},
		),

		SamplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "ingest",
				Name:      "samples_dropped_total",
				Help:      "Sensor samples dropped by overflow policy; each drop is a gap",
			},
			[]string{"component", "leg"},
		),

		FramesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "merge",
				Name:      "frames_total",
				Help:      "Merged multi-channel frames emitted",
			},
		),

		FramesGapFilled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "merge",
				Name:      "frames_gap_filled_total",
				Help:      "Frames where one leg was carried forward past the alignment tolerance",
			},
			[]string{"leg"},
		),

		WindowsEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "window",
				Name:      "emitted_total",
				Help:      "Completed sliding windows handed to feature extraction",
			},
		),

		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "classify",
				Name:      "results_total",
				Help:      "Classification results by emitted label (including unknown)",
			},
			[]string{"label"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "pipeline",
				Name:      "errors_total",
				Help:      "Errors by component and classification",
			},
			[]string{"component", "class"},
		),

		SyncHeartbeats: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "sync",
				Name:      "heartbeats_total",
				Help:      "Heartbeat messages by direction (sent, received)",
			},
			[]string{"direction"},
		),

		SyncPeerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "smartsocks",
				Subsystem: "sync",
				Name:      "peer_connected",
				Help:      "1 while the peer node is inside its heartbeat timeout",
			},
		),

		SyncClockOffset: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "smartsocks",
				Subsystem: "sync",
				Name:      "clock_offset_ms",
				Help:      "Estimated peer clock offset in milliseconds",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "smartsocks",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "smartsocks",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "NATS reconnect events",
			},
		),
	}
}
