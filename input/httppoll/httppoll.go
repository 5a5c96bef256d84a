package httppoll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
	"github.com/powerpig99/smart-socks-sub000/pkg/retry"
)

// Config holds the HTTP adapter settings.
type Config struct {
	BaseURL        string      `json:"base_url"`
	Leg            message.Leg `json:"leg"`
	PollIntervalMs int         `json:"poll_interval_ms"`
	TimeoutMs      int         `json:"timeout_ms"`
	SensorKeys     []string    `json:"sensor_keys"` // JSON keys in channel order
}

// DefaultConfig polls at the nominal sample rate with the firmware's
// per-node sensor key names.
func DefaultConfig() Config {
	return Config{
		PollIntervalMs: message.NominalIntervalMs,
		TimeoutMs:      500,
		SensorKeys:     []string{"P_Heel", "P_Ball", "S_Knee"},
	}
}

// Validate checks the URL, leg and key count.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "httppoll.Config", "Validate", "base url check")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.WrapInvalid(
			fmt.Errorf("bad base url %q", c.BaseURL),
			"httppoll.Config", "Validate", "base url parse")
	}
	if !c.Leg.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown leg %q", c.Leg),
			"httppoll.Config", "Validate", "leg check")
	}
	if len(c.SensorKeys) != message.ChannelsPerLeg {
		return errors.WrapInvalid(
			fmt.Errorf("%d sensor keys, want %d", len(c.SensorKeys), message.ChannelsPerLeg),
			"httppoll.Config", "Validate", "sensor key check")
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = message.NominalIntervalMs
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 500
	}
	return nil
}

// sensorsResponse mirrors the node's GET /api/sensors payload.
type sensorsResponse struct {
	TimeMs  int64          `json:"t"`
	MAC     string         `json:"mac"`
	Sensors map[string]int `json:"s"`
}

// Metrics holds Prometheus metrics for the HTTP adapter.
type Metrics struct {
	polls       prometheus.Counter
	pollErrors  prometheus.Counter
	samplesOut  prometheus.Counter
	commandsOut prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, instance string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "httppoll",
			Name: "polls_total", Help: "Sensor endpoint polls",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "httppoll",
			Name: "poll_errors_total", Help: "Failed or rejected polls",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		samplesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "httppoll",
			Name: "samples_out_total", Help: "Samples published to the bus",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
		commandsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartsocks", Subsystem: "httppoll",
			Name: "commands_out_total", Help: "Start/stop requests sent to the node",
			ConstLabels: prometheus.Labels{"instance": instance},
		}),
	}
	registry.RegisterCounter(instance, "polls", m.polls)
	registry.RegisterCounter(instance, "poll_errors", m.pollErrors)
	registry.RegisterCounter(instance, "samples_out", m.samplesOut)
	registry.RegisterCounter(instance, "commands_out", m.commandsOut)
	return m
}

// Input polls one node's HTTP API.
type Input struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics
	client     *http.Client

	onSample func(message.SensorSample)

	shutdown  chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
	startTime time.Time

	lastSampleTs atomic.Int64
	failures     atomic.Int32
	samplesOut   atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Input)(nil)

// Deps holds runtime dependencies for the HTTP adapter.
type Deps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	OnSample        func(message.SensorSample)
}

// NewInput builds an HTTP adapter.
func NewInput(deps Deps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "httppoll", "url", deps.Config.BaseURL)
	}
	name := deps.Name
	if name == "" {
		name = "httppoll"
	}
	in := &Input{
		name:       name,
		cfg:        deps.Config,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry, name),
		client: &http.Client{
			Timeout: time.Duration(deps.Config.TimeoutMs) * time.Millisecond,
		},
		onSample:  deps.OnSample,
		startTime: time.Now(),
	}
	in.lastSampleTs.Store(-1)
	in.lastActivity.Store(time.Time{})
	return in
}

// Meta implements component.Discoverable.
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        in.name,
		Type:        "input",
		Description: fmt.Sprintf("HTTP sensor poller for leg %s at %s", in.cfg.Leg, in.cfg.BaseURL),
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (in *Input) InputPorts() []component.Port {
	return []component.Port{
		{Name: "sensors", Kind: "http", Address: in.cfg.BaseURL + "/api/sensors"},
		{Name: "control", Kind: "nats", Address: message.SubjectControl, Description: "start/stop relayed to the node"},
	}
}

// OutputPorts implements component.Discoverable.
func (in *Input) OutputPorts() []component.Port {
	return []component.Port{
		{Name: "samples", Kind: "nats", Address: message.SampleSubject(in.cfg.Leg)},
	}
}

// ConfigSchema implements component.Discoverable.
func (in *Input) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"base_url":         {Type: "string", Description: "node API root, e.g. http://192.168.4.1"},
			"leg":              {Type: "enum", Description: "leg served by this node", Enum: []string{"L", "R"}},
			"poll_interval_ms": {Type: "int", Description: "poll period", Default: message.NominalIntervalMs},
			"timeout_ms":       {Type: "int", Description: "per-request timeout", Default: 500},
			"sensor_keys":      {Type: "array", Description: "JSON keys in channel order"},
		},
		Required: []string{"base_url", "leg"},
	}
}

// Health implements component.Discoverable.
func (in *Input) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    in.running.Load() && in.failures.Load() < 5,
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorCount.Load()),
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (in *Input) DataFlow() component.FlowMetrics {
	samples := in.samplesOut.Load()
	last, _ := in.lastActivity.Load().(time.Time)
	var rate, errRate float64
	if up := time.Since(in.startTime).Seconds(); up > 0 {
		rate = float64(samples) / up
	}
	if samples > 0 {
		errRate = float64(in.errorCount.Load()) / float64(samples)
	}
	return component.FlowMetrics{MessagesPerSecond: rate, ErrorRate: errRate, LastActivity: last}
}

// Initialize validates configuration.
func (in *Input) Initialize() error {
	return in.cfg.Validate()
}

// Start launches the poll loop.
func (in *Input) Start(ctx context.Context) error {
	if in.running.Load() {
		return nil
	}

	if in.natsClient != nil {
		if err := in.natsClient.Subscribe(ctx, message.SubjectControl, in.handleCommand); err != nil {
			in.logger.Warn("control subscription failed", "error", err)
		}
	}

	in.shutdown = make(chan struct{})
	in.running.Store(true)
	in.startTime = time.Now()

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.pollLoop(ctx)
	}()
	return nil
}

// Stop halts the poll loop.
func (in *Input) Stop(timeout time.Duration) error {
	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)
	close(in.shutdown)

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"httppoll", "Stop", "loop shutdown")
	}
	return nil
}

// pollLoop fetches the sensor endpoint at the configured cadence. Failed
// polls back off exponentially so a dead node does not get hammered.
func (in *Input) pollLoop(ctx context.Context) {
	interval := time.Duration(in.cfg.PollIntervalMs) * time.Millisecond
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-in.shutdown:
			return
		case <-timer.C:
		}

		if err := in.pollOnce(ctx); err != nil {
			n := in.failures.Add(1)
			in.errorCount.Add(1)
			if in.metrics != nil {
				in.metrics.pollErrors.Inc()
			}
			if n == 1 || n%50 == 0 {
				in.logger.Warn("sensor poll failed", "error", err, "consecutive", n)
			}
			timer.Reset(backoff(interval, n))
			continue
		}
		if in.failures.Swap(0) > 0 {
			in.logger.Info("sensor poll recovered")
		}
		timer.Reset(interval)
	}
}

// backoff doubles the poll interval per consecutive failure, capped at 5 s.
func backoff(base time.Duration, failures int32) time.Duration {
	if failures > 8 {
		failures = 8
	}
	d := base << uint(failures)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// pollOnce fetches and publishes one reading.
func (in *Input) pollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.cfg.BaseURL+"/api/sensors", nil)
	if err != nil {
		return errors.WrapInvalid(err, "httppoll", "pollOnce", "request build")
	}
	if in.metrics != nil {
		in.metrics.polls.Inc()
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "httppoll", "pollOnce", "sensor fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.WrapTransient(
			fmt.Errorf("sensor endpoint returned %s", resp.Status),
			"httppoll", "pollOnce", "status check")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return errors.WrapTransient(err, "httppoll", "pollOnce", "body read")
	}

	var payload sensorsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return errors.WrapInvalid(err, "httppoll", "pollOnce", "payload decode")
	}

	// The node serves its latest reading; a repeated timestamp means no
	// new sample yet.
	if payload.TimeMs == in.lastSampleTs.Load() {
		return nil
	}

	sample := message.SensorSample{
		Leg:         in.cfg.Leg,
		NodeID:      payload.MAC,
		TimestampMs: payload.TimeMs,
	}
	for i, key := range in.cfg.SensorKeys {
		v, ok := payload.Sensors[key]
		if !ok {
			return errors.WrapInvalid(
				fmt.Errorf("%w: missing sensor key %q", errors.ErrInvalidData, key),
				"httppoll", "pollOnce", "sensor key lookup")
		}
		sample.Values[i] = v
	}
	if err := sample.Validate(); err != nil {
		return err
	}

	in.lastSampleTs.Store(payload.TimeMs)
	in.publishSample(ctx, sample)
	return nil
}

func (in *Input) publishSample(ctx context.Context, s message.SensorSample) {
	if in.onSample != nil {
		in.onSample(s)
		in.samplesOut.Add(1)
		in.lastActivity.Store(time.Now())
		if in.metrics != nil {
			in.metrics.samplesOut.Inc()
		}
		return
	}
	if in.natsClient == nil {
		return
	}
	data, err := message.EncodeSample(s)
	if err != nil {
		in.errorCount.Add(1)
		return
	}
	err = retry.Do(ctx, retry.Quick(), func() error {
		return in.natsClient.Publish(ctx, message.SampleSubject(s.Leg), data)
	})
	if err != nil {
		in.errorCount.Add(1)
		return
	}
	in.samplesOut.Add(1)
	in.lastActivity.Store(time.Now())
	if in.metrics != nil {
		in.metrics.samplesOut.Inc()
	}
}

// handleCommand relays START/STOP as the node's HTTP control calls. The
// richer console commands have no HTTP equivalent.
func (in *Input) handleCommand(ctx context.Context, data []byte) {
	cmd, err := message.DecodeCommand(data)
	if err != nil {
		return
	}
	if cmd.Target != "" && cmd.Target != in.cfg.Leg {
		return
	}

	var path string
	switch strings.ToUpper(strings.TrimSpace(cmd.Name)) {
	case "START":
		path = "/api/start"
	case "STOP":
		path = "/api/stop"
	default:
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.cfg.BaseURL+path, nil)
	if err != nil {
		return
	}
	resp, err := in.client.Do(req)
	if err != nil {
		in.errorCount.Add(1)
		in.logger.Warn("node control call failed", "path", path, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		in.errorCount.Add(1)
		in.logger.Warn("node control call rejected", "path", path, "status", resp.Status)
		return
	}
	if in.metrics != nil {
		in.metrics.commandsOut.Inc()
	}
}

// DownloadCSV streams the node's on-device recording (GET /api/download)
// into w. The returned count is the number of bytes copied. The node
// serves this from flash, so no client timeout applies; cancel via ctx.
func (in *Input) DownloadCSV(ctx context.Context, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.cfg.BaseURL+"/api/download", nil)
	if err != nil {
		return 0, errors.WrapInvalid(err, "httppoll", "DownloadCSV", "request build")
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return 0, errors.WrapTransient(err, "httppoll", "DownloadCSV", "download fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, errors.WrapTransient(
			fmt.Errorf("download endpoint returned %s", resp.Status),
			"httppoll", "DownloadCSV", "status check")
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errors.WrapTransient(err, "httppoll", "DownloadCSV", "body copy")
	}
	return n, nil
}

// CreateInput is the component factory.
func CreateInput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if err := config.ParseComponent(rawConfig, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := "httppoll-" + strings.ToLower(string(cfg.Leg))
	return NewInput(Deps{
		Name:            name,
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent(name),
	}), nil
}

// Register wires the factory into the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterFactory("httppoll", &component.Registration{
		Name:        "httppoll",
		Type:        "input",
		Protocol:    "http",
		Description: "Wi-Fi HTTP sensor poller and start/stop relay",
		Version:     "1.0.0",
		Factory:     CreateInput,
	})
}
