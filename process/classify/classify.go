package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/powerpig99/smart-socks-sub000/classifier"
	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/feature"
	"github.com/powerpig99/smart-socks-sub000/message"
	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
)

// Config holds the windowing and inference tuning.
type Config struct {
	WindowSize int                   `json:"window_size"` // frames per window
	Stride     int                   `json:"stride"`      // frames between windows
	Classifier classifier.Config     `json:"classifier"`
	Feature    feature.Config        `json:"feature"`
	Quality    feature.QualityConfig `json:"quality"`
}

// DefaultConfig returns one-second windows with 50% overlap at 50 Hz.
func DefaultConfig() Config {
	return Config{
		WindowSize: 50,
		Stride:     25,
		Classifier: classifier.DefaultConfig(),
		Feature:    feature.DefaultConfig(),
		Quality:    feature.DefaultQualityConfig(),
	}
}

// Validate checks the window geometry.
func (c *Config) Validate() error {
	if c.WindowSize < 2 {
		return errors.WrapInvalid(
			fmt.Errorf("window size %d below 2", c.WindowSize),
			"classify.Config", "Validate", "window size check")
	}
	if c.Stride < 1 || c.Stride > c.WindowSize {
		return errors.WrapInvalid(
			fmt.Errorf("stride %d outside [1,%d]", c.Stride, c.WindowSize),
			"classify.Config", "Validate", "stride check")
	}
	return c.Feature.Validate()
}

// Processor is the windowing and inference stage.
type Processor struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	extractor *feature.Extractor
	cls       *classifier.Classifier

	// onResult, when set, receives results instead of the bus.
	onResult func(message.ClassificationResult)

	mu        sync.Mutex
	frames    []message.MergedFrame
	sinceEmit int
	warm      bool
	seq       int64

	running    atomic.Bool
	startTime  time.Time
	windowsOut atomic.Int64
	errorCount atomic.Int64
	lastResult atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Processor)(nil)

// Deps holds runtime dependencies. Classifier may be pre-built (tests, the
// offline tool); when nil it is loaded from Config.Classifier.ArtifactPath
// during Initialize.
type Deps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Classifier      *classifier.Classifier
	OnResult        func(message.ClassificationResult)
}

// NewProcessor builds the processor; the artifact loads on Initialize.
func NewProcessor(deps Deps) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "classify")
	}
	p := &Processor{
		name:       deps.Name,
		cfg:        deps.Config,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry),
		cls:        deps.Classifier,
		onResult:   deps.OnResult,
		startTime:  time.Now(),
	}
	p.lastResult.Store(time.Time{})
	return p
}

// Meta implements component.Discoverable.
func (p *Processor) Meta() component.Metadata {
	name := p.name
	if name == "" {
		name = "classify"
	}
	return component.Metadata{
		Name:        name,
		Type:        "processor",
		Description: fmt.Sprintf("windows of %d frames, stride %d, forest inference", p.cfg.WindowSize, p.cfg.Stride),
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (p *Processor) InputPorts() []component.Port {
	return []component.Port{
		{Name: "frames", Kind: "nats", Address: message.SubjectFrames},
		{Name: "control", Kind: "nats", Address: message.SubjectControl, Description: "session stop resets the window"},
		{Name: "status", Kind: "nats", Address: message.SubjectStatus, Description: "stalls reset the window"},
	}
}

// OutputPorts implements component.Discoverable.
func (p *Processor) OutputPorts() []component.Port {
	return []component.Port{
		{Name: "activity", Kind: "nats", Address: message.SubjectActivity},
	}
}

// ConfigSchema implements component.Discoverable.
func (p *Processor) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"window_size": {Type: "int", Description: "frames per window", Default: 50},
			"stride":      {Type: "int", Description: "frames between windows", Default: 25},
			"classifier":  {Type: "object", Description: "artifact path and post-processing tuning"},
			"feature":     {Type: "object", Description: "sensor layout for the extractor"},
			"quality":     {Type: "object", Description: "per-window data-quality thresholds"},
		},
		Required: []string{"classifier"},
	}
}

// Health implements component.Discoverable.
func (p *Processor) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    p.running.Load() && p.cls != nil,
		LastCheck:  time.Now(),
		ErrorCount: int(p.errorCount.Load()),
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (p *Processor) DataFlow() component.FlowMetrics {
	windows := p.windowsOut.Load()
	last, _ := p.lastResult.Load().(time.Time)
	var rate, errRate float64
	if up := time.Since(p.startTime).Seconds(); up > 0 {
		rate = float64(windows) / up
	}
	if windows > 0 {
		errRate = float64(p.errorCount.Load()) / float64(windows)
	}
	return component.FlowMetrics{MessagesPerSecond: rate, ErrorRate: errRate, LastActivity: last}
}

// Initialize builds the extractor and loads the artifact. A schema
// mismatch between artifact and extractor aborts startup.
func (p *Processor) Initialize() error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	ext, err := feature.NewExtractor(p.cfg.Feature)
	if err != nil {
		return err
	}
	p.extractor = ext

	if p.cls == nil {
		if p.cfg.Classifier.ArtifactPath == "" {
			return errors.WrapFatal(errors.ErrMissingConfig,
				"classify", "Initialize", "artifact path check")
		}
		cls, err := classifier.New(p.cfg.Classifier, ext.Names())
		if err != nil {
			return err
		}
		p.cls = cls
	}

	p.frames = make([]message.MergedFrame, 0, p.cfg.WindowSize)
	return nil
}

// Start subscribes the frame, control and status subjects.
func (p *Processor) Start(ctx context.Context) error {
	if p.running.Load() {
		return nil
	}
	if p.extractor == nil || p.cls == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "classify", "Start", "initialize check")
	}

	if p.natsClient != nil {
		err := p.natsClient.Subscribe(ctx, message.SubjectFrames, func(ctx context.Context, data []byte) {
			f, err := message.DecodeFrame(data)
			if err != nil {
				p.errorCount.Add(1)
				return
			}
			p.AddFrame(ctx, f)
		})
		if err != nil {
			return errors.WrapTransient(err, "classify", "Start", "frame subscription")
		}
		err = p.natsClient.Subscribe(ctx, message.SubjectControl, func(_ context.Context, data []byte) {
			cmd, err := message.DecodeCommand(data)
			if err != nil {
				return
			}
			if strings.EqualFold(cmd.Name, "STOP") {
				p.Reset()
			}
		})
		if err != nil {
			return errors.WrapTransient(err, "classify", "Start", "control subscription")
		}
		err = p.natsClient.Subscribe(ctx, message.SubjectStatus, func(_ context.Context, data []byte) {
			var ev struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(data, &ev) == nil && ev.Event == "stream_stalled" {
				p.Reset()
			}
		})
		if err != nil {
			return errors.WrapTransient(err, "classify", "Start", "status subscription")
		}
	}

	p.running.Store(true)
	p.startTime = time.Now()
	return nil
}

// Stop halts processing. Subscriptions drain with the NATS client.
func (p *Processor) Stop(time.Duration) error {
	p.running.Store(false)
	return nil
}

// Reset discards the partial window and the smoothing history. The next
// window starts cold, exactly like process startup.
func (p *Processor) Reset() {
	p.mu.Lock()
	p.frames = p.frames[:0]
	p.sinceEmit = 0
	p.warm = false
	p.mu.Unlock()
	if p.cls != nil {
		p.cls.Reset()
	}
	p.logger.Debug("window and smoothing history cleared")
}

// AddFrame appends one merged frame and runs inference whenever the
// sliding window advances a full stride.
func (p *Processor) AddFrame(ctx context.Context, f message.MergedFrame) {
	p.mu.Lock()
	p.seq++
	if len(p.frames) == p.cfg.WindowSize {
		p.frames = p.frames[1:]
	}
	p.frames = append(p.frames, f)

	ready := false
	if len(p.frames) == p.cfg.WindowSize {
		if !p.warm {
			p.warm = true
			ready = true
		} else {
			p.sinceEmit++
			if p.sinceEmit >= p.cfg.Stride {
				ready = true
			}
		}
	}

	var w message.Window
	if ready {
		p.sinceEmit = 0
		w = message.Window{
			Frames:   append([]message.MergedFrame(nil), p.frames...),
			StartSeq: p.seq - int64(p.cfg.WindowSize) + 1,
		}
	}
	p.mu.Unlock()

	if ready {
		p.processWindow(ctx, w)
	}
}

// processWindow extracts, classifies and publishes one window.
func (p *Processor) processWindow(ctx context.Context, w message.Window) {
	start := time.Now()

	fv, err := p.extractor.Extract(w)
	if err != nil {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.extractErrors.Inc()
		}
		p.logger.Warn("window extraction failed", "error", err)
		return
	}

	result, err := p.cls.Classify(fv)
	if err != nil {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.extractErrors.Inc()
		}
		p.logger.Warn("inference failed", "error", err)
		return
	}

	result.Quality = feature.CheckQuality(w, p.cfg.Feature.Channels, p.cfg.Quality)

	p.windowsOut.Add(1)
	p.lastResult.Store(time.Now())
	if p.metrics != nil {
		p.metrics.windowsEmitted.Inc()
		p.metrics.inferenceSeconds.Observe(time.Since(start).Seconds())
		p.metrics.classifications.WithLabelValues(result.Label).Inc()
		if result.Label == message.LabelUnknown && result.RawLabel != message.LabelUnknown {
			p.metrics.rejections.Inc()
		}
		if len(result.Quality) > 0 {
			p.metrics.qualityFlags.Inc()
		}
	}

	if p.onResult != nil {
		p.onResult(result)
		return
	}
	if p.natsClient == nil {
		return
	}
	data, err := message.EncodeResult(result)
	if err != nil {
		p.errorCount.Add(1)
		return
	}
	if err := p.natsClient.Publish(ctx, message.SubjectActivity, data); err != nil {
		p.errorCount.Add(1)
	}
}

// CreateProcessor is the component factory.
func CreateProcessor(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if err := config.ParseComponent(rawConfig, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewProcessor(Deps{
		Name:            "classify",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("classify"),
	}), nil
}

// Register wires the factory into the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterFactory("classify", &component.Registration{
		Name:        "classify",
		Type:        "processor",
		Protocol:    "nats",
		Description: "sliding-window feature extraction and forest inference",
		Version:     "1.0.0",
		Factory:     CreateProcessor,
	})
}
