package serialline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
	"github.com/powerpig99/smart-socks-sub000/pkg/buffer"
	"github.com/powerpig99/smart-socks-sub000/pkg/retry"
)

// Config holds the serial adapter settings.
type Config struct {
	Port       string      `json:"port"`        // device path, e.g. /dev/ttyUSB0
	BaudRate   int         `json:"baud_rate"`   // node firmware runs at 115200
	Leg        message.Leg `json:"leg"`         // empty means the link carries both legs
	BufferSize int         `json:"buffer_size"` // line intake capacity
}

// DefaultConfig returns the node firmware's link settings.
func DefaultConfig() Config {
	return Config{
		BaudRate:   115200,
		BufferSize: 512,
	}
}

// Validate checks the port path and baud rate.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "serialline.Config", "Validate", "port path check")
	}
	if c.BaudRate <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("baud rate %d not positive", c.BaudRate),
			"serialline.Config", "Validate", "baud rate check")
	}
	if c.Leg != "" && !c.Leg.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown leg %q", c.Leg),
			"serialline.Config", "Validate", "leg check")
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 512
	}
	return nil
}

// openFunc opens the device; swapped in tests for an in-memory pipe.
type openFunc func(port string, baud int) (io.ReadWriteCloser, error)

func openSerialPort(port string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	// Short read timeout keeps the loop responsive to shutdown.
	if err := p.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Input reads sensor lines from a serial port and publishes samples.
type Input struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics
	openPort   openFunc

	lineBuf     buffer.Buffer[string]
	retryConfig retry.Config

	// onSample, when set, receives samples instead of the bus.
	onSample func(message.SensorSample)

	mu   sync.Mutex
	port io.ReadWriteCloser

	shutdown  chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
	startTime time.Time

	samplesOut   atomic.Int64
	bytesIn      atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Input)(nil)

// Deps holds runtime dependencies for the serial adapter.
type Deps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	OnSample        func(message.SensorSample)
}

// NewInput builds a serial adapter; the port opens on Start.
func NewInput(deps Deps) (*Input, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "serialline", "port", deps.Config.Port)
	}

	name := deps.Name
	if name == "" {
		name = "serialline"
	}

	lineBuf, err := buffer.NewCircularBuffer[string](
		deps.Config.BufferSize,
		buffer.WithOverflowPolicy[string](buffer.DropOldest),
	)
	if err != nil {
		return nil, err
	}

	in := &Input{
		name:        name,
		cfg:         deps.Config,
		natsClient:  deps.NATSClient,
		logger:      logger,
		metrics:     newMetrics(deps.MetricsRegistry, name),
		openPort:    openSerialPort,
		onSample:    deps.OnSample,
		lineBuf:     lineBuf,
		retryConfig: retry.Quick(),
		startTime:   time.Now(),
	}
	in.lastActivity.Store(time.Time{})
	return in, nil
}

// Meta implements component.Discoverable.
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        in.name,
		Type:        "input",
		Description: fmt.Sprintf("serial sensor reader on %s at %d baud", in.cfg.Port, in.cfg.BaudRate),
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (in *Input) InputPorts() []component.Port {
	return []component.Port{
		{Name: "device", Kind: "serial", Address: in.cfg.Port, Description: "node USB serial link"},
		{Name: "control", Kind: "nats", Address: message.SubjectControl, Description: "commands relayed to the node"},
	}
}

// OutputPorts implements component.Discoverable.
func (in *Input) OutputPorts() []component.Port {
	ports := []component.Port{
		{Name: "samples_left", Kind: "nats", Address: message.SampleSubject(message.LegLeft)},
		{Name: "samples_right", Kind: "nats", Address: message.SampleSubject(message.LegRight)},
	}
	if in.cfg.Leg == message.LegLeft {
		return ports[:1]
	}
	if in.cfg.Leg == message.LegRight {
		return ports[1:]
	}
	return ports
}

// ConfigSchema implements component.Discoverable.
func (in *Input) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"port":        {Type: "string", Description: "serial device path"},
			"baud_rate":   {Type: "int", Description: "link speed", Default: 115200},
			"leg":         {Type: "enum", Description: "leg carried by this link; empty for both", Enum: []string{"", "L", "R"}},
			"buffer_size": {Type: "int", Description: "line intake capacity", Default: 512},
		},
		Required: []string{"port"},
	}
}

// Health implements component.Discoverable.
func (in *Input) Health() component.HealthStatus {
	in.mu.Lock()
	open := in.port != nil
	in.mu.Unlock()
	return component.HealthStatus{
		Healthy:    in.running.Load() && open,
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorCount.Load()),
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (in *Input) DataFlow() component.FlowMetrics {
	samples := in.samplesOut.Load()
	last, _ := in.lastActivity.Load().(time.Time)
	var rate, byteRate, errRate float64
	if up := time.Since(in.startTime).Seconds(); up > 0 {
		rate = float64(samples) / up
		byteRate = float64(in.bytesIn.Load()) / up
	}
	if samples > 0 {
		errRate = float64(in.errorCount.Load()) / float64(samples)
	}
	return component.FlowMetrics{
		MessagesPerSecond: rate,
		BytesPerSecond:    byteRate,
		ErrorRate:         errRate,
		LastActivity:      last,
	}
}

// Initialize validates configuration.
func (in *Input) Initialize() error {
	return in.cfg.Validate()
}

// Start opens the port and launches the read and publish loops.
func (in *Input) Start(ctx context.Context) error {
	if in.running.Load() {
		return nil
	}

	if err := retry.Do(ctx, in.retryConfig, func() error { return in.open() }); err != nil {
		return errors.WrapTransient(err, "serialline", "Start", "port open")
	}

	if in.natsClient != nil {
		if err := in.natsClient.Subscribe(ctx, message.SubjectControl, in.handleCommand); err != nil {
			in.logger.Warn("control subscription failed", "error", err)
		}
	}

	in.shutdown = make(chan struct{})
	in.running.Store(true)
	in.startTime = time.Now()

	in.wg.Add(2)
	go func() {
		defer in.wg.Done()
		in.readLoop(ctx)
	}()
	go func() {
		defer in.wg.Done()
		in.publishLoop(ctx)
	}()
	return nil
}

// Stop closes the port and waits for the loops.
func (in *Input) Stop(timeout time.Duration) error {
	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)
	close(in.shutdown)
	in.closePort()

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
			"serialline", "Stop", "loop shutdown")
	}
	_ = in.lineBuf.Close()
	return nil
}

func (in *Input) open() error {
	p, err := in.openPort(in.cfg.Port, in.cfg.BaudRate)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.port = p
	in.mu.Unlock()
	return nil
}

func (in *Input) closePort() {
	in.mu.Lock()
	if in.port != nil {
		_ = in.port.Close()
		in.port = nil
	}
	in.mu.Unlock()
}

// readLoop assembles lines from the port and queues them. On read errors
// it drops the connection and reopens with backoff; a dropped link shows
// up downstream as a sample gap, never as a crash.
func (in *Input) readLoop(ctx context.Context) {
	raw := make([]byte, 4096)
	var partial []byte

	for in.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-in.shutdown:
			return
		default:
		}

		in.mu.Lock()
		port := in.port
		in.mu.Unlock()

		if port == nil {
			if in.metrics != nil {
				in.metrics.reconnects.Inc()
			}
			if err := retry.Do(ctx, in.retryConfig, func() error { return in.open() }); err != nil {
				if ctx.Err() != nil {
					return
				}
				in.errorCount.Add(1)
				continue
			}
			partial = partial[:0] // a torn line does not survive reconnect
			continue
		}

		n, err := port.Read(raw)
		if err != nil {
			if !in.running.Load() {
				return
			}
			in.errorCount.Add(1)
			in.logger.Warn("serial read failed, reopening", "error",
				errors.WrapTransient(err, "serialline", "readLoop", "port read"))
			in.closePort()
			continue
		}
		if n == 0 {
			continue // read timeout
		}

		in.bytesIn.Add(int64(n))
		partial = append(partial, raw[:n]...)
		for {
			idx := bytes.IndexByte(partial, '\n')
			if idx < 0 {
				break
			}
			line := string(partial[:idx])
			partial = partial[idx+1:]
			if in.metrics != nil {
				in.metrics.linesRead.Inc()
			}
			_ = in.lineBuf.Write(line)
		}
	}
}

// publishLoop parses queued lines and publishes samples with retry.
func (in *Input) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-in.shutdown:
			return
		case <-ticker.C:
		}

		for _, line := range in.lineBuf.ReadBatch(64) {
			samples, err := ParseLine(line)
			if err != nil {
				in.errorCount.Add(1)
				if in.metrics != nil {
					in.metrics.parseErrors.Inc()
				}
				in.logger.Debug("unparseable line", "line", line, "error", err)
				continue
			}
			for _, s := range samples {
				if in.cfg.Leg != "" && s.Leg != in.cfg.Leg {
					// a mislabeled line on a single-leg link is data
					// corruption, not routing
					in.errorCount.Add(1)
					continue
				}
				in.publishSample(ctx, s)
			}
		}
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

	data, err := message.EncodeSample(s)
	if err != nil {
		in.errorCount.Add(1)
		return
	}
	subject := message.SampleSubject(s.Leg)

	err = retry.Do(ctx, in.retryConfig, func() error {
		if in.natsClient == nil {
			return retry.NonRetryable(errors.ErrNoConnection)
		}
		return in.natsClient.Publish(ctx, subject, data)
	})
	if err != nil {
		in.errorCount.Add(1)
		if in.metrics != nil {
			in.metrics.publishErrors.Inc()
		}
		return
	}

	in.samplesOut.Add(1)
	in.lastActivity.Store(time.Now())
	if in.metrics != nil {
		in.metrics.samplesOut.Inc()
	}
}

// handleCommand relays an operator command down the serial link.
func (in *Input) handleCommand(_ context.Context, data []byte) {
	cmd, err := message.DecodeCommand(data)
	if err != nil {
		return
	}
	if cmd.Target != "" && in.cfg.Leg != "" && cmd.Target != in.cfg.Leg {
		return
	}
	if !ValidCommand(cmd.Name) {
		in.logger.Warn("unknown command dropped", "command", cmd.Name)
		return
	}

	in.mu.Lock()
	port := in.port
	in.mu.Unlock()
	if port == nil {
		in.errorCount.Add(1)
		return
	}

	line := strings.ToUpper(strings.TrimSpace(cmd.Name)) + "\n"
	if _, err := port.Write([]byte(line)); err != nil {
		in.errorCount.Add(1)
		in.logger.Warn("command write failed", "command", cmd.Name, "error", err)
		return
	}
	if in.metrics != nil {
		in.metrics.commandsSent.Inc()
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

	name := "serialline"
	if cfg.Leg != "" {
		name = "serialline-" + strings.ToLower(string(cfg.Leg))
	}
	return NewInput(Deps{
		Name:            name,
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent(name),
	})
}

// Register wires the factory into the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterFactory("serialline", &component.Registration{
		Name:        "serialline",
		Type:        "input",
		Protocol:    "serial",
		Description: "USB serial sensor line reader and command relay",
		Version:     "1.0.0",
		Factory:     CreateInput,
	})
}
