// Package metric provides Prometheus metrics registration and serving for
// the pipeline. A single MetricsRegistry owns the Prometheus registry, the
// always-on core metrics (ingest, merge, window, classify, sync, bus), and
// per-component registrations keyed by "component.metric" to catch duplicate
// registration early.
package metric
