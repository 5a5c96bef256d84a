// Package health aggregates per-component health into a single pipeline
// status and serves it over HTTP for dashboards and probes.
package health
