package merger

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/metric"
)

// Metrics holds Prometheus metrics for the merger.
type Metrics struct {
	samplesIn     *prometheus.CounterVec
	framesMerged  prometheus.Counter
	framesGapFill *prometheus.CounterVec
	stalls        prometheus.Counter
	mergeSkewMs   prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		samplesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "merger",
			Name: "samples_in_total",
			Help: "Samples consumed per leg",
		}, []string{"leg"}),
		framesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "merger",
			Name: "frames_total",
			Help: "Merged frames emitted",
		}),
		framesGapFill: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "merger",
			Name: "frames_gap_filled_total",
			Help: "Frames emitted with one leg gap-filled",
		}, []string{"leg"}),
		stalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "merger",
			Name: "stalls_total",
			Help: "Stream stall episodes",
		}),
		mergeSkewMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartsocks", Subsystem: "merger",
			Name: "pair_skew_ms",
			Help: "Timestamp skew between paired leg samples",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 50},
		}),
	}

	registry.RegisterCounterVec("merger", "samples_in", m.samplesIn)
	registry.RegisterCounter("merger", "frames", m.framesMerged)
	registry.RegisterCounterVec("merger", "frames_gap_filled", m.framesGapFill)
	registry.RegisterCounter("merger", "stalls", m.stalls)
	registry.RegisterHistogram("merger", "pair_skew", m.mergeSkewMs)
	return m
}
