package csvrecord

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
)

// Config holds the recorder settings.
type Config struct {
	Directory       string `json:"directory"`
	FlushMs         int    `json:"flush_ms"`
	DefaultSubject  string `json:"default_subject"`
	DefaultActivity string `json:"default_activity"`
}

// DefaultConfig flushes once a second and labels unlabeled sessions
// explicitly so they are easy to spot in the training set.
func DefaultConfig() Config {
	return Config{
		FlushMs:         1000,
		DefaultSubject:  "subject",
		DefaultActivity: "unlabeled",
	}
}

// Validate checks the directory and fills defaults.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "csvrecord.Config", "Validate", "directory check")
	}
	if c.FlushMs <= 0 {
		c.FlushMs = 1000
	}
	if c.DefaultSubject == "" {
		c.DefaultSubject = "subject"
	}
	if c.DefaultActivity == "" {
		c.DefaultActivity = "unlabeled"
	}
	return nil
}

// session is one open recording file.
type session struct {
	id       string
	subject  string
	activity string
	path     string
	file     *os.File
	w        *csv.Writer
	frames   int64
	started  time.Time
}

// Recorder writes merged frames to session CSV files.
type Recorder struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	nowFunc func() time.Time

	mu      sync.Mutex
	session *session

	shutdown  chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
	startTime time.Time

	framesWritten atomic.Int64
	errorCount    atomic.Int64
	lastActivity  atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Recorder)(nil)

// Deps holds runtime dependencies for the recorder.
type Deps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRecorder builds a recorder.
func NewRecorder(deps Deps) *Recorder {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "csvrecord")
	}
	name := deps.Name
	if name == "" {
		name = "csvrecord"
	}
	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	r := &Recorder{
		name:       name,
		cfg:        deps.Config,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry, name),
		nowFunc:    nowFunc,
		startTime:  time.Now(),
	}
	r.lastActivity.Store(time.Time{})
	return r
}

// Meta implements component.Discoverable.
func (r *Recorder) Meta() component.Metadata {
	return component.Metadata{
		Name:        r.name,
		Type:        "output",
		Description: "Session CSV recorder for training data collection",
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (r *Recorder) InputPorts() []component.Port {
	return []component.Port{
		{Name: "frames", Kind: "nats", Address: message.SubjectFrames},
		{Name: "control", Kind: "nats", Address: message.SubjectControl, Description: "START/STOP with session labels"},
	}
}

// OutputPorts implements component.Discoverable.
func (r *Recorder) OutputPorts() []component.Port {
	return []component.Port{
		{Name: "files", Kind: "file", Address: r.cfg.Directory},
		{Name: "status", Kind: "nats", Address: message.SubjectStatus},
	}
}

// ConfigSchema implements component.Discoverable.
func (r *Recorder) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"directory":        {Type: "string", Description: "session file directory"},
			"flush_ms":         {Type: "int", Description: "flush period", Default: 1000},
			"default_subject":  {Type: "string", Description: "subject label when START carries none", Default: "subject"},
			"default_activity": {Type: "string", Description: "activity label when START carries none", Default: "unlabeled"},
		},
		Required: []string{"directory"},
	}
}

// Health implements component.Discoverable.
func (r *Recorder) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    r.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(r.errorCount.Load()),
		Uptime:     time.Since(r.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (r *Recorder) DataFlow() component.FlowMetrics {
	frames := r.framesWritten.Load()
	last, _ := r.lastActivity.Load().(time.Time)
	var rate, errRate float64
	if up := time.Since(r.startTime).Seconds(); up > 0 {
		rate = float64(frames) / up
	}
	if frames > 0 {
		errRate = float64(r.errorCount.Load()) / float64(frames)
	}
	return component.FlowMetrics{MessagesPerSecond: rate, ErrorRate: errRate, LastActivity: last}
}

// Initialize validates configuration and creates the directory.
func (r *Recorder) Initialize() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.cfg.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "csvrecord", "Initialize", "directory create")
	}
	return nil
}

// Start subscribes to the frame and control subjects.
func (r *Recorder) Start(ctx context.Context) error {
	if r.running.Load() {
		return nil
	}

	if r.natsClient != nil {
		if err := r.natsClient.Subscribe(ctx, message.SubjectFrames, r.handleFrame); err != nil {
			return errors.WrapTransient(err, "csvrecord", "Start", "frame subscription")
		}
		if err := r.natsClient.Subscribe(ctx, message.SubjectControl, r.handleCommand); err != nil {
			return errors.WrapTransient(err, "csvrecord", "Start", "control subscription")
		}
	}

	r.shutdown = make(chan struct{})
	r.running.Store(true)
	r.startTime = time.Now()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.flushLoop()
	}()
	return nil
}

// Stop closes any open session and halts the flush loop.
func (r *Recorder) Stop(timeout time.Duration) error {
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)
	close(r.shutdown)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"csvrecord", "Stop", "loop shutdown")
	}

	r.closeSession(context.Background())
	return nil
}

// flushLoop pushes buffered rows to disk so a crash loses at most one
// flush period of data.
func (r *Recorder) flushLoop() {
	ticker := time.NewTicker(time.Duration(r.cfg.FlushMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.shutdown:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.session != nil {
				r.session.w.Flush()
				if err := r.session.w.Error(); err != nil {
					r.errorCount.Add(1)
					r.logger.Warn("session flush failed", "error", err)
				}
			}
			r.mu.Unlock()
		}
	}
}

// handleFrame appends one merged frame to the open session.
func (r *Recorder) handleFrame(_ context.Context, data []byte) {
	frame, err := message.DecodeFrame(data)
	if err != nil {
		r.errorCount.Add(1)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return
	}
	r.writeFrameLocked(frame)
}

func (r *Recorder) writeFrameLocked(f message.MergedFrame) {
	row := make([]string, 1+message.TotalChannels)
	row[0] = strconv.FormatInt(f.TimestampMs, 10)
	for i, v := range f.Values {
		row[1+i] = strconv.Itoa(v)
	}
	if err := r.session.w.Write(row); err != nil {
		r.errorCount.Add(1)
		if r.metrics != nil {
			r.metrics.writeErrors.Inc()
		}
		return
	}
	r.session.frames++
	r.framesWritten.Add(1)
	r.lastActivity.Store(time.Now())
	if r.metrics != nil {
		r.metrics.framesWritten.Inc()
	}
}

// handleCommand opens a session on START and closes it on STOP. Commands
// targeted at a single leg are node control, not session control.
func (r *Recorder) handleCommand(ctx context.Context, data []byte) {
	cmd, err := message.DecodeCommand(data)
	if err != nil {
		return
	}
	if cmd.Target != "" {
		return
	}
	switch strings.ToUpper(strings.TrimSpace(cmd.Name)) {
	case "START":
		r.openSession(cmd.Subject, cmd.Activity)
	case "STOP":
		r.closeSession(ctx)
	}
}

// openSession starts a new session file. A START while recording closes
// the current session first so no frames land in two files.
func (r *Recorder) openSession(subject, activity string) {
	r.closeSession(context.Background())

	if subject == "" {
		subject = r.cfg.DefaultSubject
	}
	if activity == "" {
		activity = r.cfg.DefaultActivity
	}
	now := r.nowFunc()
	name := fmt.Sprintf("%s_%s_%s.csv",
		sanitizeLabel(subject), sanitizeLabel(activity), now.Format("20060102_150405"))
	path := filepath.Join(r.cfg.Directory, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		r.errorCount.Add(1)
		r.logger.Error("session file open failed", "path", path, "error", err)
		return
	}

	s := &session{
		id:       uuid.NewString(),
		subject:  subject,
		activity: activity,
		path:     path,
		file:     file,
		w:        csv.NewWriter(file),
		started:  now,
	}
	header := make([]string, 1+message.TotalChannels)
	header[0] = "time_ms"
	copy(header[1:], message.DefaultChannels[:])
	if err := s.w.Write(header); err != nil {
		r.errorCount.Add(1)
		r.logger.Error("session header write failed", "path", path, "error", err)
		_ = file.Close()
		return
	}

	r.mu.Lock()
	r.session = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.sessions.Inc()
		r.metrics.recording.Set(1)
	}
	r.logger.Info("recording session started",
		"session", s.id, "subject", subject, "activity", activity, "path", path)
}

// closeSession flushes and closes the open session, if any, and announces
// the saved file.
func (r *Recorder) closeSession(ctx context.Context) {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()
	if s == nil {
		return
	}

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		r.errorCount.Add(1)
		r.logger.Warn("final session flush failed", "path", s.path, "error", err)
	}
	if err := s.file.Close(); err != nil {
		r.errorCount.Add(1)
		r.logger.Warn("session file close failed", "path", s.path, "error", err)
	}
	if r.metrics != nil {
		r.metrics.recording.Set(0)
	}
	r.logger.Info("recording session saved",
		"session", s.id, "path", s.path, "frames", s.frames,
		"duration", r.nowFunc().Sub(s.started))

	if r.natsClient == nil {
		return
	}
	event := struct {
		Component   string `json:"component"`
		Event       string `json:"event"`
		TimestampMs int64  `json:"time_ms"`
		Detail      string `json:"detail,omitempty"`
	}{
		Component:   r.name,
		Event:       "recording_saved",
		TimestampMs: r.nowFunc().UnixMilli(),
		Detail:      fmt.Sprintf("%s (%d frames)", filepath.Base(s.path), s.frames),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := r.natsClient.Publish(ctx, message.SubjectStatus, data); err != nil {
		r.errorCount.Add(1)
	}
}

// sanitizeLabel keeps labels filesystem-safe.
func sanitizeLabel(s string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		case c == '-' || c == '_':
			return c
		default:
			return '-'
		}
	}, s)
}

// CreateRecorder is the component factory.
func CreateRecorder(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if err := config.ParseComponent(rawConfig, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewRecorder(Deps{
		Name:            "csvrecord",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("csvrecord"),
	}), nil
}

// Register wires the factory into the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterFactory("csvrecord", &component.Registration{
		Name:        "csvrecord",
		Type:        "output",
		Protocol:    "file",
		Description: "Session CSV recorder for training data collection",
		Version:     "1.0.0",
		Factory:     CreateRecorder,
	})
}
