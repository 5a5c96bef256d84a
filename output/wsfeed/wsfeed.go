package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
)

// Config holds the feed server settings.
type Config struct {
	Addr          string `json:"addr"`
	Path          string `json:"path"`
	SendQueueSize int    `json:"send_queue_size"`
	PingSeconds   int    `json:"ping_seconds"`
}

// DefaultConfig serves on :8081/ws.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8081",
		Path:          "/ws",
		SendQueueSize: 64,
		PingSeconds:   30,
	}
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = ":8081"
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
	}
	if c.PingSeconds <= 0 {
		c.PingSeconds = 30
	}
	return nil
}

// Envelope wraps every feed message with its source subject.
type Envelope struct {
	Subject     string          `json:"subject"`
	TimestampMs int64           `json:"time_ms"`
	Payload     json.RawMessage `json:"payload"`
}

// client is one connected dashboard.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Feed broadcasts bus traffic to WebSocket clients.
type Feed struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	// Latest payloads replayed to new clients.
	lastActivity  atomic.Value // []byte
	lastSyncState atomic.Value // []byte

	shutdown    chan struct{}
	wg          sync.WaitGroup
	running     atomic.Bool
	startTime   time.Time
	messagesOut atomic.Int64
	errorCount  atomic.Int64
	lastSent    atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Feed)(nil)

// Deps holds runtime dependencies for the feed.
type Deps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewFeed builds a feed server.
func NewFeed(deps Deps) *Feed {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "wsfeed")
	}
	name := deps.Name
	if name == "" {
		name = "wsfeed"
	}
	f := &Feed{
		name:       name,
		cfg:        deps.Config,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry, name),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from anywhere on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		startTime: time.Now(),
	}
	f.lastSent.Store(time.Time{})
	return f
}

// Meta implements component.Discoverable.
func (f *Feed) Meta() component.Metadata {
	return component.Metadata{
		Name:        f.name,
		Type:        "output",
		Description: "WebSocket live feed for dashboards",
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (f *Feed) InputPorts() []component.Port {
	return []component.Port{
		{Name: "activity", Kind: "nats", Address: message.SubjectActivity},
		{Name: "sync_state", Kind: "nats", Address: message.SubjectSyncState},
		{Name: "status", Kind: "nats", Address: message.SubjectStatus},
	}
}

// OutputPorts implements component.Discoverable.
func (f *Feed) OutputPorts() []component.Port {
	return []component.Port{
		{Name: "feed", Kind: "websocket", Address: f.cfg.Addr + f.cfg.Path},
	}
}

// ConfigSchema implements component.Discoverable.
func (f *Feed) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"addr":            {Type: "string", Description: "listen address", Default: ":8081"},
			"path":            {Type: "string", Description: "WebSocket endpoint path", Default: "/ws"},
			"send_queue_size": {Type: "int", Description: "per-client send queue", Default: 64},
			"ping_seconds":    {Type: "int", Description: "keepalive ping period", Default: 30},
		},
	}
}

// Health implements component.Discoverable.
func (f *Feed) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    f.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(f.errorCount.Load()),
		Uptime:     time.Since(f.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (f *Feed) DataFlow() component.FlowMetrics {
	sent := f.messagesOut.Load()
	last, _ := f.lastSent.Load().(time.Time)
	var rate, errRate float64
	if up := time.Since(f.startTime).Seconds(); up > 0 {
		rate = float64(sent) / up
	}
	if sent > 0 {
		errRate = float64(f.errorCount.Load()) / float64(sent)
	}
	return component.FlowMetrics{MessagesPerSecond: rate, ErrorRate: errRate, LastActivity: last}
}

// Initialize validates configuration.
func (f *Feed) Initialize() error {
	return f.cfg.Validate()
}

// Start binds the listener and subscribes to the feed subjects.
func (f *Feed) Start(ctx context.Context) error {
	if f.running.Load() {
		return nil
	}

	listener, err := net.Listen("tcp", f.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "wsfeed", "Start", "listen")
	}
	f.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(f.cfg.Path, f.handleWS)
	f.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if f.natsClient != nil {
		for _, subject := range []string{message.SubjectActivity, message.SubjectSyncState, message.SubjectStatus} {
			subj := subject
			err := f.natsClient.Subscribe(ctx, subj, func(_ context.Context, data []byte) {
				f.Broadcast(subj, data)
			})
			if err != nil {
				_ = listener.Close()
				return errors.WrapTransient(err, "wsfeed", "Start", "subscribe "+subj)
			}
		}
	}

	f.shutdown = make(chan struct{})
	f.running.Store(true)
	f.startTime = time.Now()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			f.logger.Error("feed server failed", "error", err)
		}
	}()
	f.logger.Info("feed listening", "addr", listener.Addr().String(), "path", f.cfg.Path)
	return nil
}

// Stop closes all clients and shuts the server down.
func (f *Feed) Stop(timeout time.Duration) error {
	if !f.running.Load() {
		return nil
	}
	f.running.Store(false)
	close(f.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := f.server.Shutdown(ctx); err != nil {
		_ = f.server.Close()
	}

	f.mu.Lock()
	for c := range f.clients {
		c.close()
	}
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"wsfeed", "Stop", "server shutdown")
	}
}

// Addr returns the bound listen address.
func (f *Feed) Addr() string {
	if f.listener == nil {
		return f.cfg.Addr
	}
	return f.listener.Addr().String()
}

// Broadcast wraps a bus payload and queues it to every client. Slow
// clients lose messages rather than stalling the rest.
func (f *Feed) Broadcast(subject string, payload []byte) {
	if f.metrics != nil {
		f.metrics.messagesIn.WithLabelValues(subject).Inc()
	}

	env := Envelope{
		Subject:     subject,
		TimestampMs: time.Now().UnixMilli(),
		Payload:     json.RawMessage(payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		f.errorCount.Add(1)
		return
	}

	switch subject {
	case message.SubjectActivity:
		f.lastActivity.Store(data)
	case message.SubjectSyncState:
		f.lastSyncState.Store(data)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			if f.metrics != nil {
				f.metrics.dropped.Inc()
			}
		}
	}
}

// handleWS upgrades a connection and runs its pumps.
func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.errorCount.Add(1)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, f.cfg.SendQueueSize)}

	// Snapshot replay before the client joins the broadcast set.
	if data, ok := f.lastActivity.Load().([]byte); ok {
		c.send <- data
	}
	if data, ok := f.lastSyncState.Load().([]byte); ok {
		c.send <- data
	}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	count := len(f.clients)
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.connections.Inc()
		f.metrics.clients.Set(float64(count))
	}
	f.logger.Info("client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.writePump(c)
	}()
	go func() {
		defer f.wg.Done()
		f.readPump(c)
	}()
}

// writePump drains the client queue and sends keepalive pings.
func (f *Feed) writePump(c *client) {
	ticker := time.NewTicker(time.Duration(f.cfg.PingSeconds) * time.Second)
	defer ticker.Stop()
	defer f.dropClient(c)

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			f.messagesOut.Add(1)
			f.lastSent.Store(time.Now())
			if f.metrics != nil {
				f.metrics.messagesOut.Inc()
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-f.shutdown:
			return
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (f *Feed) readPump(c *client) {
	defer f.dropClient(c)
	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// dropClient removes a client and closes its connection. Safe to call
// from both pumps.
func (f *Feed) dropClient(c *client) {
	f.mu.Lock()
	_, present := f.clients[c]
	delete(f.clients, c)
	count := len(f.clients)
	f.mu.Unlock()

	c.close()
	_ = c.conn.Close()
	if present {
		if f.metrics != nil {
			f.metrics.clients.Set(float64(count))
		}
		f.logger.Info("client disconnected", "clients", count)
	}
}

// CreateFeed is the component factory.
func CreateFeed(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if err := config.ParseComponent(rawConfig, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewFeed(Deps{
		Name:            "wsfeed",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("wsfeed"),
	}), nil
}

// Register wires the factory into the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterFactory("wsfeed", &component.Registration{
		Name:        "wsfeed",
		Type:        "output",
		Protocol:    "websocket",
		Description: "WebSocket live feed for dashboards",
		Version:     "1.0.0",
		Factory:     CreateFeed,
	})
}
