package classify

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/metric"
)

// Metrics holds Prometheus metrics for the classify processor.
type Metrics struct {
	windowsEmitted   prometheus.Counter
	classifications  *prometheus.CounterVec
	rejections       prometheus.Counter
	qualityFlags     prometheus.Counter
	extractErrors    prometheus.Counter
	inferenceSeconds prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		windowsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "classify",
			Name: "windows_total",
			Help: "Windows pushed through the extractor",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "classify",
			Name: "results_total",
			Help: "Published results per smoothed label",
		}, []string{"label"}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "classify",
			Name: "rejections_total",
			Help: "Raw inferences under the rejection threshold",
		}),
		qualityFlags: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "classify",
			Name: "quality_flags_total",
			Help: "Windows carrying at least one data-quality flag",
		}),
		extractErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "classify",
			Name: "extract_errors_total",
			Help: "Windows the extractor or classifier rejected",
		}),
		inferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartsocks", Subsystem: "classify",
			Name:      "inference_duration_seconds",
			Help:      "Extraction plus forest walk per window",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		}),
	}

	registry.RegisterCounter("classify", "windows", m.windowsEmitted)
	registry.RegisterCounterVec("classify", "results", m.classifications)
	registry.RegisterCounter("classify", "rejections", m.rejections)
	registry.RegisterCounter("classify", "quality_flags", m.qualityFlags)
	registry.RegisterCounter("classify", "extract_errors", m.extractErrors)
	registry.RegisterHistogram("classify", "inference_latency", m.inferenceSeconds)
	return m
}
