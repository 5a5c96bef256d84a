package blenotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/input/serialline"
	"github.com/powerpig99/smart-socks-sub000/message"
	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
	"github.com/powerpig99/smart-socks-sub000/pkg/retry"
)

// Firmware GATT layout.
const (
	DefaultDeviceName  = "SmartSocks"
	DefaultServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	DefaultNotifyUUID  = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	DefaultWriteUUID   = "beb5483e-36e1-4688-b7f5-ea07361b26a9"
)

// Config holds the BLE adapter settings.
type Config struct {
	DeviceName   string      `json:"device_name"`
	Leg          message.Leg `json:"leg"`
	ServiceUUID  string      `json:"service_uuid"`
	NotifyUUID   string      `json:"notify_uuid"`
	WriteUUID    string      `json:"write_uuid"`
	ScanWindowMs int         `json:"scan_window_ms"`
	MaxLineBytes int         `json:"max_line_bytes"`
}

// DefaultConfig targets the stock firmware advertisement and GATT table.
func DefaultConfig() Config {
	return Config{
		DeviceName:   DefaultDeviceName,
		ServiceUUID:  DefaultServiceUUID,
		NotifyUUID:   DefaultNotifyUUID,
		WriteUUID:    DefaultWriteUUID,
		ScanWindowMs: 10000,
		MaxLineBytes: 256,
	}
}

// Validate checks the leg and fills firmware defaults.
func (c *Config) Validate() error {
	if !c.Leg.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown leg %q", c.Leg),
			"blenotify.Config", "Validate", "leg check")
	}
	if c.DeviceName == "" {
		c.DeviceName = DefaultDeviceName
	}
	if c.ServiceUUID == "" {
		c.ServiceUUID = DefaultServiceUUID
	}
	if c.NotifyUUID == "" {
		c.NotifyUUID = DefaultNotifyUUID
	}
	if c.WriteUUID == "" {
		c.WriteUUID = DefaultWriteUUID
	}
	if c.ScanWindowMs <= 0 {
		c.ScanWindowMs = 10000
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 256
	}
	return nil
}

// Input reads one node's sensor stream over BLE notifications.
type Input struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	newLink  func() (Link, error)
	onSample func(message.SensorSample)

	mu   sync.Mutex
	link Link

	shutdown  chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
	startTime time.Time

	connected    atomic.Bool
	samplesOut   atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Input)(nil)

// Deps holds runtime dependencies for the BLE adapter.
type Deps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger

	// NewLink overrides the BLE link constructor, for tests.
	NewLink func() (Link, error)
	// OnSample short-circuits bus publishing, for tests.
	OnSample func(message.SensorSample)
}

// NewInput builds a BLE adapter.
func NewInput(deps Deps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "blenotify", "device", deps.Config.DeviceName)
	}
	name := deps.Name
	if name == "" {
		name = "blenotify"
	}
	in := &Input{
		name:       name,
		cfg:        deps.Config,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry, name),
		newLink:    deps.NewLink,
		onSample:   deps.OnSample,
		startTime:  time.Now(),
	}
	if in.newLink == nil {
		in.newLink = func() (Link, error) {
			return newBLELink(
				in.cfg.DeviceName,
				in.cfg.ServiceUUID, in.cfg.NotifyUUID, in.cfg.WriteUUID,
				time.Duration(in.cfg.ScanWindowMs)*time.Millisecond)
		}
	}
	in.lastActivity.Store(time.Time{})
	return in
}

// Meta implements component.Discoverable.
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        in.name,
		Type:        "input",
		Description: fmt.Sprintf("BLE notification reader for leg %s (%s)", in.cfg.Leg, in.cfg.DeviceName),
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (in *Input) InputPorts() []component.Port {
	return []component.Port{
		{Name: "notify", Kind: "ble", Address: in.cfg.NotifyUUID},
		{Name: "control", Kind: "nats", Address: message.SubjectControl, Description: "commands relayed to the node"},
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
			"device_name":    {Type: "string", Description: "advertised local name", Default: DefaultDeviceName},
			"leg":            {Type: "enum", Description: "leg served by this node", Enum: []string{"L", "R"}},
			"service_uuid":   {Type: "string", Description: "sensor service UUID", Default: DefaultServiceUUID},
			"notify_uuid":    {Type: "string", Description: "stream characteristic UUID", Default: DefaultNotifyUUID},
			"write_uuid":     {Type: "string", Description: "command characteristic UUID", Default: DefaultWriteUUID},
			"scan_window_ms": {Type: "int", Description: "scan duration per connection attempt", Default: 10000},
		},
		Required: []string{"leg"},
	}
}

// Health implements component.Discoverable.
func (in *Input) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    in.running.Load() && in.connected.Load(),
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

// Start launches the connection loop.
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
		in.connectLoop(ctx)
	}()
	return nil
}

// Stop tears down the connection and halts the loop.
func (in *Input) Stop(timeout time.Duration) error {
	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)
	close(in.shutdown)

	in.mu.Lock()
	if in.link != nil {
		_ = in.link.Close()
		in.link = nil
	}
	in.mu.Unlock()

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
			"blenotify", "Stop", "loop shutdown")
	}
	return nil
}

// connectLoop keeps one connection alive, reconnecting with backoff after
// any loss. Each connection gets a fresh chunker so a torn line from the
// previous session is discarded.
func (in *Input) connectLoop(ctx context.Context) {
	var failures int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-in.shutdown:
			return
		default:
		}

		link, err := in.newLink()
		if err != nil {
			in.logger.Error("link construction failed", "error", err)
			return
		}

		lost := make(chan struct{}, 1)
		reasm := newChunker(in.cfg.MaxLineBytes)
		err = link.Connect(func(chunk []byte) {
			if in.metrics != nil {
				in.metrics.notifications.Inc()
			}
			if len(chunk) == 0 {
				// Zero-length notification signals disconnect on
				// some stacks.
				select {
				case lost <- struct{}{}:
				default:
				}
				return
			}
			for _, line := range reasm.feed(chunk) {
				in.handleLine(ctx, line)
			}
		})
		if err != nil {
			failures++
			if failures == 1 || failures%10 == 0 {
				in.logger.Warn("connection attempt failed", "error", err, "consecutive", failures)
			}
			in.errorCount.Add(1)
			select {
			case <-time.After(reconnectDelay(failures)):
			case <-in.shutdown:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		failures = 0
		in.connected.Store(true)
		if in.metrics != nil {
			in.metrics.connects.Inc()
		}
		in.logger.Info("connected", "device", in.cfg.DeviceName)

		in.mu.Lock()
		in.link = link
		in.mu.Unlock()

		select {
		case <-lost:
			in.logger.Warn("connection lost, reconnecting")
			if in.metrics != nil {
				in.metrics.disconnects.Inc()
			}
		case <-in.shutdown:
		case <-ctx.Done():
		}

		in.connected.Store(false)
		in.mu.Lock()
		if in.link != nil {
			_ = in.link.Close()
			in.link = nil
		}
		in.mu.Unlock()

		select {
		case <-in.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

// reconnectDelay doubles per consecutive failure, capped at 8 s.
func reconnectDelay(failures int32) time.Duration {
	if failures > 5 {
		failures = 5
	}
	return 250 * time.Millisecond << uint(failures)
}

// handleLine parses one reassembled line and publishes its samples. The
// wire format matches the serial console stream.
func (in *Input) handleLine(ctx context.Context, line string) {
	samples, err := serialline.ParseLine(line)
	if err != nil {
		in.errorCount.Add(1)
		if in.metrics != nil {
			in.metrics.parseErrors.Inc()
		}
		return
	}
	for _, s := range samples {
		if s.Leg != in.cfg.Leg {
			continue
		}
		in.publishSample(ctx, s)
	}
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

// handleCommand writes known console commands to the node's command
// characteristic.
func (in *Input) handleCommand(_ context.Context, data []byte) {
	cmd, err := message.DecodeCommand(data)
	if err != nil {
		return
	}
	if cmd.Target != "" && cmd.Target != in.cfg.Leg {
		return
	}
	name := strings.ToUpper(strings.TrimSpace(cmd.Name))
	if !serialline.ValidCommand(name) {
		return
	}

	in.mu.Lock()
	link := in.link
	in.mu.Unlock()
	if link == nil {
		return
	}
	if err := link.WriteCommand([]byte(name + "\n")); err != nil {
		in.errorCount.Add(1)
		in.logger.Warn("command write failed", "command", name, "error", err)
		return
	}
	if in.metrics != nil {
		in.metrics.commandsOut.Inc()
	}
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
	name := "blenotify-" + strings.ToLower(string(cfg.Leg))
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
	return registry.RegisterFactory("blenotify", &component.Registration{
		Name:        "blenotify",
		Type:        "input",
		Protocol:    "ble",
		Description: "BLE notification sensor reader and command relay",
		Version:     "1.0.0",
		Factory:     CreateInput,
	})
}
