package peersync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
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
)

// Config holds the sync coordinator tuning. All durations are plain
// milliseconds to match the firmware's JSON conventions.
type Config struct {
	ListenAddr          string           `json:"listen_addr"`
	PeerAddr            string           `json:"peer_addr"`
	Leg                 message.Leg      `json:"leg"`
	Role                message.SyncRole `json:"role"`
	HeartbeatIntervalMs int              `json:"heartbeat_interval_ms"`
	TimeoutMultiple     int              `json:"timeout_multiple"`
	TriggerLeadMs       int              `json:"trigger_lead_ms"`
	TriggerRepeat       int              `json:"trigger_repeat"`
	OffsetSmoothing     float64          `json:"offset_smoothing"`
}

// DefaultConfig matches the firmware's sync timing: 1 s heartbeats, a 3x
// timeout window, 100 ms trigger lead, triple retransmit.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          "0.0.0.0:5005",
		Leg:                 message.LegLeft,
		Role:                message.RoleIndependent,
		HeartbeatIntervalMs: 1000,
		TimeoutMultiple:     3,
		TriggerLeadMs:       100,
		TriggerRepeat:       3,
		OffsetSmoothing:     0.3,
	}
}

// Validate checks addresses and timing.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "peersync.Config", "Validate", "listen address check")
	}
	if _, err := net.ResolveUDPAddr("udp", c.ListenAddr); err != nil {
		return errors.WrapInvalid(err, "peersync.Config", "Validate", "listen address parse")
	}
	if c.PeerAddr != "" {
		if _, err := net.ResolveUDPAddr("udp", c.PeerAddr); err != nil {
			return errors.WrapInvalid(err, "peersync.Config", "Validate", "peer address parse")
		}
	}
	if !c.Role.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown role %q", c.Role),
			"peersync.Config", "Validate", "role check")
	}
	if !c.Leg.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown leg %q", c.Leg),
			"peersync.Config", "Validate", "leg check")
	}
	if c.HeartbeatIntervalMs <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("heartbeat interval %d not positive", c.HeartbeatIntervalMs),
			"peersync.Config", "Validate", "heartbeat interval check")
	}
	if c.TimeoutMultiple < 2 {
		return errors.WrapInvalid(
			fmt.Errorf("timeout multiple %d below 2", c.TimeoutMultiple),
			"peersync.Config", "Validate", "timeout multiple check")
	}
	if c.TriggerLeadMs <= 0 || c.TriggerRepeat < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("trigger lead %d / repeat %d invalid", c.TriggerLeadMs, c.TriggerRepeat),
			"peersync.Config", "Validate", "trigger tuning check")
	}
	if c.OffsetSmoothing <= 0 || c.OffsetSmoothing > 1 {
		c.OffsetSmoothing = 0.3
	}
	return nil
}

// pendingTrigger is a scheduled recording transition awaiting its fire time.
type pendingTrigger struct {
	fireAtMs  int64 // local clock
	remoteMs  int64 // trigger_time as sent on the wire, for dedupe
	recording bool
}

// Coordinator is the UDP sync exchange endpoint.
type Coordinator struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *Metrics

	// nowMs is swappable in tests.
	nowMs func() int64

	mu            sync.Mutex
	conn          *net.UDPConn
	peer          *net.UDPAddr
	role          message.SyncRole
	recording     bool
	offsetMs      float64
	offsetValid   bool
	peerConnected bool
	peerLastSeen  time.Time
	lastTrigger   int64
	pending       *pendingTrigger
	lastHeartbeat time.Time

	shutdown  chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
	startTime time.Time

	messagesReceived atomic.Int64
	errorCount       atomic.Int64
	lastActivity     atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Coordinator)(nil)

// Deps holds runtime dependencies for the coordinator.
type Deps struct {
	Name            string
	Config          Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewCoordinator builds a coordinator; the socket opens on Start.
func NewCoordinator(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "peersync")
	}
	c := &Coordinator{
		name:       deps.Name,
		cfg:        deps.Config,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry),
		nowMs:      func() int64 { return time.Now().UnixMilli() },
		role:       deps.Config.Role,
		startTime:  time.Now(),
	}
	c.lastActivity.Store(time.Time{})
	return c
}

// Meta implements component.Discoverable.
func (c *Coordinator) Meta() component.Metadata {
	name := c.name
	if name == "" {
		name = "peersync"
	}
	return component.Metadata{
		Name:        name,
		Type:        "sync",
		Description: fmt.Sprintf("UDP sync coordinator on %s (leg %s)", c.cfg.ListenAddr, c.cfg.Leg),
		Version:     "1.0.0",
	}
}

// InputPorts implements component.Discoverable.
func (c *Coordinator) InputPorts() []component.Port {
	return []component.Port{
		{Name: "sync_socket", Kind: "udp", Address: c.cfg.ListenAddr, Description: "peer heartbeat/trigger exchange"},
		{Name: "control", Kind: "nats", Address: message.SubjectControl, Description: "operator role and trigger commands"},
	}
}

// OutputPorts implements component.Discoverable.
func (c *Coordinator) OutputPorts() []component.Port {
	return []component.Port{
		{Name: "sync_state", Kind: "nats", Address: message.SubjectSyncState, Description: "coordination status"},
		{Name: "control_out", Kind: "nats", Address: message.SubjectControl, Description: "synchronized start/stop commands"},
	}
}

// ConfigSchema implements component.Discoverable.
func (c *Coordinator) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"listen_addr":           {Type: "string", Description: "UDP listen address", Default: "0.0.0.0:5005"},
			"peer_addr":             {Type: "string", Description: "peer UDP address; empty runs independent"},
			"leg":                   {Type: "enum", Description: "identity stamped on outgoing packets", Enum: []string{"L", "R"}},
			"role":                  {Type: "enum", Description: "initial role", Enum: []string{"independent", "master", "slave"}},
			"heartbeat_interval_ms": {Type: "int", Description: "heartbeat period", Default: 1000},
			"timeout_multiple":      {Type: "int", Description: "missed intervals before the peer counts as dead", Default: 3},
			"trigger_lead_ms":       {Type: "int", Description: "future scheduling margin for triggers", Default: 100},
			"trigger_repeat":        {Type: "int", Description: "trigger retransmit count", Default: 3},
		},
		Required: []string{"listen_addr"},
	}
}

// Health implements component.Discoverable.
func (c *Coordinator) Health() component.HealthStatus {
	c.mu.Lock()
	bound := c.conn != nil
	c.mu.Unlock()
	return component.HealthStatus{
		Healthy:    c.running.Load() && bound,
		LastCheck:  time.Now(),
		ErrorCount: int(c.errorCount.Load()),
		Uptime:     time.Since(c.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (c *Coordinator) DataFlow() component.FlowMetrics {
	msgs := c.messagesReceived.Load()
	last, _ := c.lastActivity.Load().(time.Time)
	var rate, errRate float64
	if up := time.Since(c.startTime).Seconds(); up > 0 {
		rate = float64(msgs) / up
	}
	if msgs > 0 {
		errRate = float64(c.errorCount.Load()) / float64(msgs)
	}
	return component.FlowMetrics{
		MessagesPerSecond: rate,
		ErrorRate:         errRate,
		LastActivity:      last,
	}
}

// Initialize validates configuration.
func (c *Coordinator) Initialize() error {
	return c.cfg.Validate()
}

// Start binds the socket and launches the exchange loops.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.running.Load() {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", c.cfg.ListenAddr)
	if err != nil {
		return errors.WrapInvalid(err, "peersync", "Start", "listen address resolve")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.WrapTransient(err, "peersync", "Start", "socket bind")
	}

	var peer *net.UDPAddr
	if c.cfg.PeerAddr != "" {
		peer, err = net.ResolveUDPAddr("udp", c.cfg.PeerAddr)
		if err != nil {
			_ = conn.Close()
			return errors.WrapInvalid(err, "peersync", "Start", "peer address resolve")
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.peer = peer
	c.mu.Unlock()

	if c.natsClient != nil {
		if err := c.natsClient.Subscribe(ctx, message.SubjectControl, c.handleCommand); err != nil {
			c.logger.Warn("control subscription failed", "error", err)
		}
	}

	c.shutdown = make(chan struct{})
	c.running.Store(true)
	c.startTime = time.Now()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.tickLoop(ctx)
	}()

	c.publishState(ctx)
	return nil
}

// Stop closes the socket and waits for the loops.
func (c *Coordinator) Stop(timeout time.Duration) error {
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)
	close(c.shutdown)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"peersync", "Stop", "loop shutdown")
	}
	return nil
}

// LocalAddr returns the bound UDP address, for tests and discovery.
func (c *Coordinator) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// SetPeer points the coordinator at a peer address at runtime.
func (c *Coordinator) SetPeer(addr string) error {
	peer, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.WrapInvalid(err, "peersync", "SetPeer", "peer address resolve")
	}
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()
	return nil
}

// State snapshots the current coordination status.
func (c *Coordinator) State() message.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() message.SyncState {
	var lastSeen int64
	if !c.peerLastSeen.IsZero() {
		lastSeen = c.peerLastSeen.UnixMilli()
	}
	return message.SyncState{
		Role:           c.role,
		PeerConnected:  c.peerConnected,
		PeerLastSeenMs: lastSeen,
		ClockOffsetMs:  c.offsetMs,
		Recording:      c.recording,
	}
}

// readLoop receives and dispatches peer packets.
func (c *Coordinator) readLoop(ctx context.Context) {
	buf := make([]byte, 2048)
	for c.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !c.running.Load() {
				return
			}
			c.errorCount.Add(1)
			continue
		}

		msg, err := message.DecodeSyncMessage(buf[:n])
		if err != nil {
			c.errorCount.Add(1)
			c.logger.Debug("bad sync packet", "error", err, "from", from)
			continue
		}
		if msg.Leg == c.cfg.Leg {
			continue // our own reflection
		}

		c.messagesReceived.Add(1)
		c.lastActivity.Store(time.Now())
		c.handlePacket(ctx, msg, from)
	}
}

// handlePacket processes one peer heartbeat or trigger.
func (c *Coordinator) handlePacket(ctx context.Context, msg message.SyncMessage, from *net.UDPAddr) {
	now := c.nowMs()

	c.mu.Lock()
	if c.peer == nil {
		c.peer = from // learn the peer from its first packet
	}
	wasConnected := c.peerConnected
	c.peerLastSeen = time.Now()
	c.peerConnected = true

	// One-way offset estimate: remote clock minus local clock. Smoothed so
	// a single delayed packet cannot yank trigger scheduling.
	sample := float64(msg.TimeMs - now)
	if !c.offsetValid {
		c.offsetMs = sample
		c.offsetValid = true
	} else {
		a := c.cfg.OffsetSmoothing
		c.offsetMs = a*sample + (1-a)*c.offsetMs
	}
	if c.metrics != nil {
		c.metrics.clockOffsetMs.Set(c.offsetMs)
		c.metrics.peerConnected.Set(1)
	}

	var fire *pendingTrigger
	switch msg.Type {
	case message.SyncTypeHeartbeat:
		if c.metrics != nil {
			c.metrics.heartbeatsReceived.Inc()
		}
		// A slave reconciles its recording flag against the master's
		// heartbeat when no trigger is in flight.
		if c.role == message.RoleSlave && c.pending == nil && msg.Recording != nil && *msg.Recording != c.recording {
			c.recording = *msg.Recording
			fire = &pendingTrigger{fireAtMs: now, recording: c.recording}
		}
	case message.SyncTypeTrigger:
		if c.metrics != nil {
			c.metrics.triggersReceived.Inc()
		}
		remote := *msg.TriggerTimeMs
		if remote == c.lastTrigger || (c.pending != nil && c.pending.remoteMs == remote) {
			break // retransmit of a trigger we already hold
		}
		target := !c.recording
		if msg.Recording != nil {
			target = *msg.Recording
		}
		c.pending = &pendingTrigger{
			fireAtMs:  remote - int64(c.offsetMs),
			remoteMs:  remote,
			recording: target,
		}
	}
	changed := !wasConnected
	c.mu.Unlock()

	if fire != nil {
		c.executeTransition(ctx, fire.recording)
		changed = true
	}
	if changed {
		c.publishState(ctx)
	}
}

// tickLoop drives heartbeats, trigger firing and peer timeout detection on
// a 20 ms cadence so trigger timing stays within one sample interval.
func (c *Coordinator) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
		}

		now := c.nowMs()

		c.mu.Lock()
		interval := time.Duration(c.cfg.HeartbeatIntervalMs) * time.Millisecond
		sendHeartbeat := c.role != message.RoleIndependent && c.peer != nil &&
			time.Since(c.lastHeartbeat) >= interval
		if sendHeartbeat {
			c.lastHeartbeat = time.Now()
		}

		var fire *pendingTrigger
		if c.pending != nil && now >= c.pending.fireAtMs {
			fire = c.pending
			c.pending = nil
			c.lastTrigger = fire.remoteMs
			c.recording = fire.recording
		}

		timedOut := false
		if c.role != message.RoleIndependent && c.peerConnected &&
			time.Since(c.peerLastSeen) > interval*time.Duration(c.cfg.TimeoutMultiple) {
			c.peerConnected = false
			timedOut = true
			if c.metrics != nil {
				c.metrics.peerConnected.Set(0)
				c.metrics.peerTimeouts.Inc()
			}
			if c.role == message.RoleSlave {
				c.setRoleLocked(message.RoleIndependent)
			}
		}
		c.mu.Unlock()

		if sendHeartbeat {
			c.sendHeartbeat(now)
		}
		if fire != nil {
			c.executeTransition(ctx, fire.recording)
			c.publishState(ctx)
		}
		if timedOut {
			c.errorCount.Add(1)
			c.logger.Warn("peer heartbeat lost, continuing independent",
				"error", errors.ErrPeerTimeout,
				"timeout", interval*time.Duration(c.cfg.TimeoutMultiple))
			c.publishState(ctx)
		}
	}
}

// sendHeartbeat transmits one heartbeat carrying the recording flag.
func (c *Coordinator) sendHeartbeat(now int64) {
	c.mu.Lock()
	conn, peer := c.conn, c.peer
	recording := c.recording
	c.mu.Unlock()
	if conn == nil || peer == nil {
		return
	}

	data, err := message.EncodeSyncMessage(message.SyncMessage{
		Type:      message.SyncTypeHeartbeat,
		Leg:       c.cfg.Leg,
		TimeMs:    now,
		Recording: &recording,
	})
	if err != nil {
		return
	}
	if _, err := conn.WriteToUDP(data, peer); err != nil {
		c.errorCount.Add(1)
		return
	}
	if c.metrics != nil {
		c.metrics.heartbeatsSent.Inc()
	}
}

// Trigger schedules a synchronized recording transition. Only the master
// may call it; the trigger fires locally and at the peer at the same
// compensated instant.
func (c *Coordinator) Trigger(ctx context.Context, recording bool) error {
	c.mu.Lock()
	if c.role != message.RoleMaster {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrSyncRole, "peersync", "Trigger", "role check")
	}
	conn, peer := c.conn, c.peer
	fireAt := c.nowMs() + int64(c.cfg.TriggerLeadMs)
	c.pending = &pendingTrigger{fireAtMs: fireAt, remoteMs: fireAt, recording: recording}
	c.mu.Unlock()

	if conn == nil || peer == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "peersync", "Trigger", "peer link check")
	}

	data, err := message.EncodeSyncMessage(message.SyncMessage{
		Type:          message.SyncTypeTrigger,
		Leg:           c.cfg.Leg,
		TimeMs:        c.nowMs(),
		Recording:     &recording,
		TriggerTimeMs: &fireAt,
	})
	if err != nil {
		return errors.WrapInvalid(err, "peersync", "Trigger", "encode")
	}

	// Retransmit against single-packet loss; the receiver dedupes on
	// trigger_time.
	for i := 0; i < c.cfg.TriggerRepeat; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := conn.WriteToUDP(data, peer); err != nil {
			c.errorCount.Add(1)
			return errors.WrapTransient(err, "peersync", "Trigger", "send")
		}
		if c.metrics != nil {
			c.metrics.triggersSent.Inc()
		}
	}
	return nil
}

// handleCommand reacts to operator commands on the control subject.
func (c *Coordinator) handleCommand(ctx context.Context, data []byte) {
	cmd, err := message.DecodeCommand(data)
	if err != nil {
		return
	}

	switch strings.ToUpper(cmd.Name) {
	case "MASTER":
		c.setRole(ctx, message.RoleMaster)
	case "SLAVE":
		c.setRole(ctx, message.RoleSlave)
	case "SYNC OFF":
		c.setRole(ctx, message.RoleIndependent)
	case "TRIGGER":
		c.mu.Lock()
		target := !c.recording
		c.mu.Unlock()
		if err := c.Trigger(ctx, target); err != nil {
			c.logger.Warn("trigger rejected", "error", err)
		}
	case "START", "STOP":
		want := strings.EqualFold(cmd.Name, "START")
		c.mu.Lock()
		role := c.role
		already := c.recording == want
		if role == message.RoleIndependent {
			c.recording = want
		}
		c.mu.Unlock()
		if already {
			return
		}
		if role == message.RoleMaster {
			if err := c.Trigger(ctx, want); err != nil {
				c.logger.Warn("synchronized start rejected", "error", err)
			}
			return
		}
		c.publishState(ctx)
	}
}

func (c *Coordinator) setRole(ctx context.Context, role message.SyncRole) {
	c.mu.Lock()
	changed := c.role != role
	if changed {
		c.setRoleLocked(role)
	}
	c.mu.Unlock()
	if changed {
		c.publishState(ctx)
	}
}

func (c *Coordinator) setRoleLocked(role message.SyncRole) {
	c.logger.Info("sync role change", "from", c.role, "to", role)
	c.role = role
	if c.metrics != nil {
		c.metrics.roleChanges.Inc()
	}
}

// executeTransition flips the recording state and relays the matching
// START/STOP to the nodes through the control subject.
func (c *Coordinator) executeTransition(ctx context.Context, recording bool) {
	c.mu.Lock()
	c.recording = recording
	c.mu.Unlock()

	name := "STOP"
	if recording {
		name = "START"
	}
	c.logger.Info("synchronized transition", "command", name)

	if c.natsClient == nil {
		return
	}
	data, err := message.EncodeCommand(message.Command{Name: name})
	if err != nil {
		return
	}
	if err := c.natsClient.Publish(ctx, message.SubjectControl, data); err != nil {
		c.errorCount.Add(1)
	}
}

// publishState pushes the current coordination status onto the bus.
func (c *Coordinator) publishState(ctx context.Context) {
	if c.natsClient == nil {
		return
	}
	data, err := message.EncodeSyncState(c.State())
	if err != nil {
		return
	}
	if err := c.natsClient.Publish(ctx, message.SubjectSyncState, data); err != nil {
		c.errorCount.Add(1)
	}
}

// CreateCoordinator is the component factory.
func CreateCoordinator(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if err := config.ParseComponent(rawConfig, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewCoordinator(Deps{
		Name:            "peersync",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("peersync"),
	}), nil
}

// Register wires the factory into the component registry.
func Register(registry *component.Registry) error {
	return registry.RegisterFactory("peersync", &component.Registration{
		Name:        "peersync",
		Type:        "sync",
		Protocol:    "udp",
		Description: "UDP heartbeat/trigger sync coordinator for the leg node pair",
		Version:     "1.0.0",
		Factory:     CreateCoordinator,
	})
}
