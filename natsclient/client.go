package natsclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

const (
	// StatusDisconnected means no connection is established
	StatusDisconnected ConnectionStatus = iota
	// StatusConnecting means a connection attempt is in progress
	StatusConnecting
	// StatusConnected means the connection is healthy
	StatusConnected
	// StatusReconnecting means the library is re-establishing a dropped connection
	StatusReconnecting
	// StatusClosed means the connection was closed and will not return
	StatusClosed
)

// String returns a human-readable connection status
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client wraps a NATS connection with status tracking and helpers.
type Client struct {
	url  string
	opts clientOptions

	mu       sync.RWMutex
	conn     *nats.Conn
	subs     []*nats.Subscription
	onHealth []func(bool)

	status   atomic.Int32
	failures atomic.Int32

	metrics *metric.Metrics
}

// NewClient creates a client for the given NATS URL. The connection is not
// established until Connect is called.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	c := &Client{
		url:  url,
		opts: defaultClientOptions(),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	c.status.Store(int32(StatusDisconnected))
	return c, nil
}

// URL returns the configured NATS URL
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the connection is usable
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the number of connection failures observed
func (c *Client) Failures() int32 { return c.failures.Load() }

// Backoff returns a delay derived from the failure count, capped at 30s.
func (c *Client) Backoff() time.Duration {
	n := c.failures.Load()
	if n <= 0 {
		return 0
	}
	d := time.Duration(1<<uint(min32(n-1, 5))) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// WithMetrics attaches core metrics updated on connection events.
func (c *Client) WithMetrics(m *metric.Metrics) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}

// OnHealthChange registers a callback invoked on connect/disconnect.
func (c *Client) OnHealthChange(fn func(bool)) {
	c.mu.Lock()
	c.onHealth = append(c.onHealth, fn)
	c.mu.Unlock()
}

func (c *Client) notifyHealth(healthy bool) {
	c.mu.RLock()
	callbacks := make([]func(bool), len(c.onHealth))
	copy(callbacks, c.onHealth)
	m := c.metrics
	c.mu.RUnlock()

	if m != nil {
		if healthy {
			m.NATSConnected.Set(1)
		} else {
			m.NATSConnected.Set(0)
		}
	}
	for _, fn := range callbacks {
		fn(healthy)
	}
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
}

func (c *Client) buildConnectionOptions() []nats.Option {
	return []nats.Option{
		nats.Name(c.opts.name),
		nats.MaxReconnects(c.opts.maxReconnects),
		nats.ReconnectWait(c.opts.reconnectWait),
		nats.PingInterval(c.opts.pingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, _ error) {
			c.setStatus(StatusReconnecting)
			c.failures.Add(1)
			c.notifyHealth(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(StatusConnected)
			c.failures.Store(0)
			c.mu.RLock()
			m := c.metrics
			c.mu.RUnlock()
			if m != nil {
				m.NATSReconnects.Inc()
			}
			c.notifyHealth(true)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusClosed)
			c.notifyHealth(false)
		}),
	}
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil && c.conn.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting)

	conn, err := nats.Connect(c.url, c.buildConnectionOptions()...)
	if err != nil {
		c.setStatus(StatusDisconnected)
		c.failures.Add(1)
		return errors.WrapTransient(err, "natsclient", "Connect", "dial")
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.failures.Store(0)
	c.notifyHealth(true)

	// honor an already-cancelled context
	if ctx.Err() != nil {
		_ = c.Close(context.Background())
		return ctx.Err()
	}
	return nil
}

// WaitForConnection blocks until the connection is healthy or ctx expires.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "natsclient", "WaitForConnection", "wait")
		case <-ticker.C:
		}
	}
}

// Publish sends data to a subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "natsclient", "Publish", subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "natsclient", "Publish", subject)
	}
	return nil
}

// Subscribe registers a handler for a subject. The subscription lives until
// Close; the handler receives the client's base context.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "natsclient", "Subscribe", subject)
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Subscribe", subject)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// RTT returns the round-trip time to the server.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return 0, errors.ErrNoConnection
	}
	return conn.RTT()
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	subs := c.subs
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Drain()
	}()
	select {
	case err := <-done:
		c.setStatus(StatusClosed)
		if err != nil {
			return errors.WrapTransient(err, "natsclient", "Close", "drain")
		}
	case <-ctx.Done():
		conn.Close()
		c.setStatus(StatusClosed)
		return fmt.Errorf("natsclient.Close: drain cut short: %w", ctx.Err())
	}
	return nil
}
