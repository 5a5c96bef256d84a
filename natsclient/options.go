package natsclient

import "time"

type clientOptions struct {
	name          string
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		name:          "smartsocks",
		maxReconnects: -1, // reconnect forever
		reconnectWait: 2 * time.Second,
		pingInterval:  20 * time.Second,
	}
}

// ClientOption customizes client behavior.
type ClientOption func(*clientOptions)

// WithName sets the connection name reported to the server.
func WithName(name string) ClientOption {
	return func(o *clientOptions) { o.name = name }
}

// WithMaxReconnects bounds reconnect attempts (-1 = unlimited).
func WithMaxReconnects(n int) ClientOption {
	return func(o *clientOptions) { o.maxReconnects = n }
}

// WithReconnectWait sets the delay between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.reconnectWait = d }
}

// WithPingInterval sets the client ping interval.
func WithPingInterval(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.pingInterval = d }
}
