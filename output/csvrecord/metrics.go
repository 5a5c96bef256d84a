package csvrecord

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/metric"
)

// Metrics holds Prometheus metrics for the CSV recorder.
type Metrics struct {
	sessions      prometheus.Counter
	framesWritten prometheus.Counter
	writeErrors   prometheus.Counter
	recording     prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry, instance string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "csvrecord",
			Name: "sessions_total", Help: "Recording sessions started",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		framesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "csvrecord",
			Name: "frames_written_total", Help: "Frames written to session files",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "csvrecord",
			Name: "write_errors_total", Help: "CSV write failures",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartsocks", Subsystem: "csvrecord",
			Name: "recording", Help: "1 while a session is open",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
	}
	registry.RegisterCounter(instance, "sessions", m.sessions)
	registry.RegisterCounter(instance, "frames_written", m.framesWritten)
	registry.RegisterCounter(instance, "write_errors", m.writeErrors)
	registry.RegisterGauge(instance, "recording", m.recording)
	return m
}
