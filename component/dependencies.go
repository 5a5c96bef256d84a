package component

import (
	"log/slog"

	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
)

// Dependencies provides all external dependencies needed by components.
// Constructors receive this struct rather than individual fields.
type Dependencies struct {
	NATSClient      *natsclient.Client      // message bus client
	MetricsRegistry *metric.MetricsRegistry // Prometheus registry (can be nil)
	Logger          *slog.Logger            // structured logger (nil defaults to slog.Default())
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
