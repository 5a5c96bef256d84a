package merger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
	"github.com/powerpig99/smart-socks-sub000/pkg/buffer"
)

// Config holds the merge tuning. All values are milliseconds.
type Config struct {
	IntervalMs  int `json:"interval_ms"`   // nominal sample period
	ToleranceMs int `json:"tolerance_ms"`  // max pairing skew; default 1.5x interval
	MaxGapMs    int `json:"max_gap_ms"`    // one-leg silence before gap-filled frames flow
	StallMs     int `json:"stall_ms"`      // per-leg silence before the stream counts as stalled
	BufferSize  int `json:"buffer_size"`   // per-leg intake buffer capacity
	FlushMs     int `json:"flush_ms"`      // merge loop cadence
}

// DefaultConfig returns tuning matched to the 50 Hz node firmware.
func DefaultConfig() Config {
	return Config{
		IntervalMs:  message.NominalIntervalMs,
		ToleranceMs: message.NominalIntervalMs * 3 / 2,
		MaxGapMs:    50,
		StallMs:     1000,
		BufferSize:  1024,
		FlushMs:     10,
	}
}

// Validate checks ordering constraints between the thresholds.
func (c *Config) Validate() error {
	if c.IntervalMs <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("interval %d not positive", c.IntervalMs),
			"merger.Config", "Validate", "interval check")
	}
	if c.ToleranceMs <= 0 {
		c.ToleranceMs = c.IntervalMs * 3 / 2
	}
	if c.MaxGapMs < c.IntervalMs {
		return errors.WrapInvalid(
			fmt.Errorf("max gap %d below interval %d", c.MaxGapMs, c.IntervalMs),
			"merger.Config", "Validate", "gap threshold check")
	}
	if c.StallMs <= c.MaxGapMs {
		return errors.WrapInvalid(
			fmt.Errorf("stall threshold %d must exceed max gap %d", c.StallMs, c.MaxGapMs),
			"merger.Config", "Validate", "stall threshold check")
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.FlushMs <= 0 {
		c.FlushMs = 10
	}
	return nil
}

// legState tracks one leg's intake and gap-fill memory.
type legState struct {
	leg        message.Leg
	buf        buffer.Buffer[message.SensorSample]
	pending    []message.SensorSample
	lastValues [message.ChannelsPerLeg]int
	hasLast    bool
	lastSeen   time.Time // wall clock of last consumed sample
}

// statusEvent is published on the status subject for stall transitions.
type statusEvent struct {
	Component   string `json:"component"`
	Event       string `json:"event"`
	TimestampMs int64  `json:"time_ms"`
	Detail      string `json:"detail,omitempty"`
}

// Merger pairs the two leg streams into merged frames.
type Merger struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	// onFrame, when set, receives frames instead of the bus. Used by the
	// classify processor when wired in-process and by tests.
	onFrame func(message.MergedFrame)

	left  *legState
	right *legState

	offsetBits atomic.Uint64 // right-leg clock offset, float64 bits

	mu        sync.Mutex
	lastTs    int64
	emitted   bool
	stalled   bool
	seq       int64
	shutdown  chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
	startTime time.Time

	framesOut  atomic.Int64
	errorCount atomic.Int64
}

var _ component.LifecycleComponent = (*Merger)(nil)

// Deps holds runtime dependencies for the merger.
type Deps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	OnFrame         func(message.MergedFrame)
}

// NewMerger builds a merger; intake opens on Start.
func NewMerger(deps Deps) (*Merger, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "merger")
	}

	newLeg := func(leg message.Leg) (*legState, error) {
		buf, err := buffer.NewCircularBuffer[message.SensorSample](
			deps.Config.BufferSize,
			buffer.WithOverflowPolicy[message.SensorSample](buffer.DropOldest),
		)
		if err != nil {
			return nil, err
		}
		// lastSeen starts at construction so a leg that never shows up
		// still gets the MaxGap grace period before gap-fill kicks in.
		return &legState{leg: leg, buf: buf, lastSeen: time.Now()}, nil
	}

	left, err := newLeg(message.LegLeft)
	if err != nil {
		return nil, err
	}
	right, err := newLeg(message.LegRight)
	if err != nil {
		return nil, err
	}

	m := &Merger{
		name:       deps.Name,
		cfg:        deps.Config,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry),
		onFrame:    deps.OnFrame,
		left:       left,
		right:      right,
		startTime:  time.Now(),
	}
	m.offsetBits.Store(math.Float64bits(0))
	return m, nil
}

// Meta implements component.Discoverable.
func (m *Merger) Meta() component.Metadata {
	name := m.name
	if name == "" {
		name = "merger"
	}
	return component.Metadata{
		Name:        name,
		Type:        "processor",
		Description: "pairs per-leg sample streams into offset-corrected merged frames",
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (m *Merger) InputPorts() []component.Port {
	return []component.Port{
		{Name: "samples_left", Kind: "nats", Address: message.SampleSubject(message.LegLeft)},
		{Name: "samples_right", Kind: "nats", Address: message.SampleSubject(message.LegRight)},
		{Name: "sync_state", Kind: "nats", Address: message.SubjectSyncState, Description: "clock offset source"},
	}
}

// OutputPorts implements component.Discoverable.
func (m *Merger) OutputPorts() []component.Port {
	return []component.Port{
		{Name: "frames", Kind: "nats", Address: message.SubjectFrames},
		{Name: "status", Kind: "nats", Address: message.SubjectStatus, Description: "stall transitions"},
	}
}

// ConfigSchema implements component.Discoverable.
func (m *Merger) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"interval_ms":  {Type: "int", Description: "nominal sample period", Default: message.NominalIntervalMs},
			"tolerance_ms": {Type: "int", Description: "max pairing skew", Default: 30},
			"max_gap_ms":   {Type: "int", Description: "one-leg silence before gap-fill", Default: 50},
			"stall_ms":     {Type: "int", Description: "leg silence before stall", Default: 1000},
			"buffer_size":  {Type: "int", Description: "per-leg intake capacity", Default: 1024},
		},
	}
}

// Health implements component.Discoverable.
func (m *Merger) Health() component.HealthStatus {
	m.mu.Lock()
	stalled := m.stalled
	m.mu.Unlock()
	return component.HealthStatus{
		Healthy:    m.running.Load() && !stalled,
		LastCheck:  time.Now(),
		ErrorCount: int(m.errorCount.Load()),
		Uptime:     time.Since(m.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (m *Merger) DataFlow() component.FlowMetrics {
	frames := m.framesOut.Load()
	var rate, errRate float64
	if up := time.Since(m.startTime).Seconds(); up > 0 {
		rate = float64(frames) / up
	}
	if frames > 0 {
		errRate = float64(m.errorCount.Load()) / float64(frames)
	}
	m.mu.Lock()
	last := m.left.lastSeen
	if m.right.lastSeen.After(last) {
		last = m.right.lastSeen
	}
	m.mu.Unlock()
	return component.FlowMetrics{MessagesPerSecond: rate, ErrorRate: errRate, LastActivity: last}
}

// Initialize validates configuration.
func (m *Merger) Initialize() error {
	return m.cfg.Validate()
}

// Start subscribes the intake subjects and launches the merge loop.
func (m *Merger) Start(ctx context.Context) error {
	if m.running.Load() {
		return nil
	}

	if m.natsClient != nil {
		for _, leg := range []message.Leg{message.LegLeft, message.LegRight} {
			leg := leg
			subject := message.SampleSubject(leg)
			err := m.natsClient.Subscribe(ctx, subject, func(_ context.Context, data []byte) {
				sample, err := message.DecodeSample(data)
				if err != nil {
					m.errorCount.Add(1)
					return
				}
				_ = m.Offer(sample)
			})
			if err != nil {
				return errors.WrapTransient(err, "merger", "Start", "sample subscription")
			}
		}
		err := m.natsClient.Subscribe(ctx, message.SubjectSyncState, func(_ context.Context, data []byte) {
			state, err := message.DecodeSyncState(data)
			if err != nil {
				return
			}
			m.SetClockOffset(state.ClockOffsetMs)
		})
		if err != nil {
			return errors.WrapTransient(err, "merger", "Start", "sync state subscription")
		}
	}

	m.shutdown = make(chan struct{})
	m.running.Store(true)
	m.startTime = time.Now()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.mergeLoop(ctx)
	}()
	return nil
}

// Stop halts the merge loop.
func (m *Merger) Stop(timeout time.Duration) error {
	if !m.running.Load() {
		return nil
	}
	m.running.Store(false)
	close(m.shutdown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"merger", "Stop", "loop shutdown")
	}
	_ = m.left.buf.Close()
	_ = m.right.buf.Close()
	return nil
}

// Offer feeds one sample into the intake. Never blocks: the buffers drop
// oldest on overflow and the drop shows up as a gap downstream.
func (m *Merger) Offer(sample message.SensorSample) error {
	if err := sample.Validate(); err != nil {
		m.errorCount.Add(1)
		return err
	}
	leg := m.left
	if sample.Leg == message.LegRight {
		leg = m.right
	}
	if m.metrics != nil {
		m.metrics.samplesIn.WithLabelValues(string(sample.Leg)).Inc()
	}
	return leg.buf.Write(sample)
}

// SetClockOffset updates the right-leg clock offset in milliseconds.
func (m *Merger) SetClockOffset(offsetMs float64) {
	m.offsetBits.Store(math.Float64bits(offsetMs))
}

func (m *Merger) clockOffset() int64 {
	return int64(math.Float64frombits(m.offsetBits.Load()))
}

// mergeLoop drains the intake buffers and emits aligned frames.
func (m *Merger) mergeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.cfg.FlushMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-ticker.C:
		}
		m.mergeStep(ctx)
	}
}

// mergeStep is one pass of the pairing algorithm.
func (m *Merger) mergeStep(ctx context.Context) {
	m.drain(m.left)
	m.drain(m.right)

	m.mu.Lock()
	offset := m.clockOffset()
	tol := int64(m.cfg.ToleranceMs)

	for len(m.left.pending) > 0 && len(m.right.pending) > 0 {
		tl := m.left.pending[0].TimestampMs
		tr := m.right.pending[0].TimestampMs - offset
		skew := tl - tr

		switch {
		case abs64(skew) <= tol:
			m.emitLocked(ctx, tl, &m.left.pending[0], &m.right.pending[0])
			if m.metrics != nil {
				m.metrics.mergeSkewMs.Observe(float64(abs64(skew)))
			}
			m.left.pending = m.left.pending[1:]
			m.right.pending = m.right.pending[1:]
		case skew < 0:
			// left sample has no partner within tolerance
			m.emitLocked(ctx, tl, &m.left.pending[0], nil)
			m.left.pending = m.left.pending[1:]
		default:
			m.emitLocked(ctx, tr, nil, &m.right.pending[0])
			m.right.pending = m.right.pending[1:]
		}
	}

	// One leg flowing alone: wait MaxGapMs for the partner, then let the
	// live leg through gap-filled.
	m.flushLoneLocked(ctx, m.left, m.right, offset)
	m.flushLoneLocked(ctx, m.right, m.left, offset)

	m.checkStallLocked(ctx)
	m.mu.Unlock()
}

// drain moves buffered samples into the pending queue.
func (m *Merger) drain(leg *legState) {
	batch := leg.buf.ReadBatch(256)
	if len(batch) == 0 {
		return
	}
	m.mu.Lock()
	leg.pending = append(leg.pending, batch...)
	leg.lastSeen = time.Now()
	m.mu.Unlock()
}

// flushLoneLocked emits gap-filled frames for live when its partner has
// been quiet past the gap threshold.
func (m *Merger) flushLoneLocked(ctx context.Context, live, quiet *legState, offset int64) {
	if len(live.pending) == 0 || len(quiet.pending) > 0 {
		return
	}
	if time.Since(quiet.lastSeen) <= time.Duration(m.cfg.MaxGapMs)*time.Millisecond {
		return
	}
	for i := range live.pending {
		ts := live.pending[i].TimestampMs
		if live.leg == message.LegRight {
			ts -= offset
		}
		if live.leg == message.LegLeft {
			m.emitLocked(ctx, ts, &live.pending[i], nil)
		} else {
			m.emitLocked(ctx, ts, nil, &live.pending[i])
		}
	}
	live.pending = live.pending[:0]
}

// emitLocked builds and sends one frame. A nil sample means that leg is
// gap-filled from its last known values and flagged invalid.
func (m *Merger) emitLocked(ctx context.Context, ts int64, left, right *message.SensorSample) {
	var f message.MergedFrame

	// Output timestamps are strictly monotonic even when pairing picks a
	// slightly older partner.
	if m.emitted && ts <= m.lastTs {
		ts = m.lastTs + 1
	}
	f.TimestampMs = ts

	fill := func(state *legState, sample *message.SensorSample, base int) {
		if sample != nil {
			copy(state.lastValues[:], sample.Values[:])
			state.hasLast = true
			for i := 0; i < message.ChannelsPerLeg; i++ {
				f.Values[base+i] = sample.Values[i]
				f.Valid[base+i] = true
			}
			return
		}
		if m.metrics != nil {
			m.metrics.framesGapFill.WithLabelValues(string(state.leg)).Inc()
		}
		for i := 0; i < message.ChannelsPerLeg; i++ {
			f.Values[base+i] = state.lastValues[i]
			f.Valid[base+i] = false
		}
	}
	fill(m.left, left, 0)
	fill(m.right, right, message.ChannelsPerLeg)

	m.lastTs = f.TimestampMs
	m.emitted = true
	m.seq++
	m.framesOut.Add(1)
	if m.metrics != nil {
		m.metrics.framesMerged.Inc()
	}

	if m.onFrame != nil {
		m.onFrame(f)
		return
	}
	if m.natsClient == nil {
		return
	}
	data, err := message.EncodeFrame(f)
	if err != nil {
		m.errorCount.Add(1)
		return
	}
	if err := m.natsClient.Publish(ctx, message.SubjectFrames, data); err != nil {
		m.errorCount.Add(1)
	}
}

// checkStallLocked tracks the stalled condition. Losing either leg past
// the stall threshold degrades the stream, even while gap-filled frames
// keep the surviving leg flowing; the condition clears only once every
// leg has been heard from again.
func (m *Merger) checkStallLocked(ctx context.Context) {
	if !m.emitted {
		return
	}
	stallAfter := time.Duration(m.cfg.StallMs) * time.Millisecond
	var quiet []string
	for _, leg := range []*legState{m.left, m.right} {
		if time.Since(leg.lastSeen) > stallAfter {
			quiet = append(quiet, string(leg.leg))
		}
	}

	switch {
	case len(quiet) > 0 && !m.stalled:
		m.stalled = true
		m.errorCount.Add(1)
		if m.metrics != nil {
			m.metrics.stalls.Inc()
		}
		m.logger.Warn("stream stalled", "error", errors.ErrStreamStalled, "legs", quiet, "threshold", stallAfter)
		m.publishStatus(ctx, "stream_stalled",
			fmt.Sprintf("%s: leg %s", errors.ErrStreamStalled.Error(), strings.Join(quiet, ",")))
	case len(quiet) == 0 && m.stalled:
		m.stalled = false
		m.logger.Info("stream recovered")
		m.publishStatus(ctx, "stream_recovered", "")
	}
}

// Stalled reports whether the stream is currently stalled.
func (m *Merger) Stalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stalled
}

func (m *Merger) publishStatus(ctx context.Context, event, detail string) {
	if m.natsClient == nil {
		return
	}
	data, err := json.Marshal(statusEvent{
		Component:   "merger",
		Event:       event,
		TimestampMs: time.Now().UnixMilli(),
		Detail:      detail,
	})
	if err != nil {
		return
	}
	if err := m.natsClient.Publish(ctx, message.SubjectStatus, data); err != nil {
		m.errorCount.Add(1)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// CreateMerger is the component factory.
func CreateMerger(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if err := config.ParseComponent(rawConfig, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewMerger(Deps{
		Name:            "merger",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("merger"),
	})
}

// Register wires the factory into the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterFactory("merger", &component.Registration{
		Name:        "merger",
		Type:        "processor",
		Protocol:    "nats",
		Description: "time-aligns per-leg sample streams into merged frames",
		Version:     "1.0.0",
		Factory:     CreateMerger,
	})
}
