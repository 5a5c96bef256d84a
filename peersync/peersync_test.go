package peersync

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/message"
)

func newTestCoordinator(t *testing.T, leg message.Leg, role message.SyncRole) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Leg = leg
	cfg.Role = role
	cfg.HeartbeatIntervalMs = 50
	cfg.TriggerLeadMs = 200

	c := NewCoordinator(Deps{Name: "peersync-" + string(leg), Config: cfg})
	require.NoError(t, c.Initialize())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(2 * time.Second) })
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestHeartbeatExchange(t *testing.T) {
	master := newTestCoordinator(t, message.LegLeft, message.RoleMaster)
	slave := newTestCoordinator(t, message.LegRight, message.RoleSlave)

	require.NoError(t, master.SetPeer(slave.LocalAddr().String()))
	require.NoError(t, slave.SetPeer(master.LocalAddr().String()))

	ok := waitFor(t, 2*time.Second, func() bool {
		return master.State().PeerConnected && slave.State().PeerConnected
	})
	require.True(t, ok, "both sides must see heartbeats")

	// Same host, same clock: the estimated offset stays near zero.
	assert.InDelta(t, 0, slave.State().ClockOffsetMs, 50)
}

func TestTriggerFiresAfterLead(t *testing.T) {
	master := newTestCoordinator(t, message.LegLeft, message.RoleMaster)
	slave := newTestCoordinator(t, message.LegRight, message.RoleSlave)
	require.NoError(t, master.SetPeer(slave.LocalAddr().String()))
	require.NoError(t, slave.SetPeer(master.LocalAddr().String()))

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return slave.State().PeerConnected
	}))

	sent := time.Now()
	require.NoError(t, master.Trigger(context.Background(), true))

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return slave.State().Recording && master.State().Recording
	}), "trigger must start recording on both sides")

	// Neither side may act before the scheduled lead time.
	elapsed := time.Since(sent)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "fired before the lead window")
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestTriggerRequiresMasterRole(t *testing.T) {
	slave := newTestCoordinator(t, message.LegRight, message.RoleSlave)
	err := slave.Trigger(context.Background(), true)
	assert.Error(t, err)
}

// rawPeer is a bare UDP socket standing in for the remote node.
type rawPeer struct {
	conn   *net.UDPConn
	target *net.UDPAddr
}

func newRawPeer(t *testing.T, target net.Addr) *rawPeer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	addr, err := net.ResolveUDPAddr("udp", target.String())
	require.NoError(t, err)
	return &rawPeer{conn: conn, target: addr}
}

func (p *rawPeer) send(t *testing.T, msg message.SyncMessage) {
	t.Helper()
	data, err := message.EncodeSyncMessage(msg)
	require.NoError(t, err)
	_, err = p.conn.WriteToUDP(data, p.target)
	require.NoError(t, err)
}

func TestRetransmittedTriggerTogglesOnce(t *testing.T) {
	slave := newTestCoordinator(t, message.LegRight, message.RoleSlave)
	peer := newRawPeer(t, slave.LocalAddr())

	now := time.Now().UnixMilli()
	fireAt := now + 50
	trigger := message.SyncMessage{
		Type:          message.SyncTypeTrigger,
		Leg:           message.LegLeft,
		TimeMs:        now,
		TriggerTimeMs: &fireAt,
	}
	// Triple send simulates the sender's loss protection.
	for i := 0; i < 3; i++ {
		peer.send(t, trigger)
	}

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return slave.State().Recording
	}), "toggle trigger must start recording")

	// A late duplicate of the same trigger_time must not toggle back.
	peer.send(t, trigger)
	time.Sleep(200 * time.Millisecond)
	assert.True(t, slave.State().Recording, "duplicate trigger re-fired")
}

func TestClockOffsetCompensation(t *testing.T) {
	slave := newTestCoordinator(t, message.LegRight, message.RoleSlave)
	peer := newRawPeer(t, slave.LocalAddr())

	const skewMs = 5000
	for i := 0; i < 4; i++ {
		peer.send(t, message.SyncMessage{
			Type:   message.SyncTypeHeartbeat,
			Leg:    message.LegLeft,
			TimeMs: time.Now().UnixMilli() + skewMs,
		})
		time.Sleep(20 * time.Millisecond)
	}

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		off := slave.State().ClockOffsetMs
		return off > skewMs-100 && off < skewMs+100
	}), "offset must converge to the peer skew, got %v", slave.State().ClockOffsetMs)

	// Trigger stamped on the skewed remote clock still fires near the
	// intended local instant.
	fireAt := time.Now().UnixMilli() + skewMs + 100
	sent := time.Now()
	peer.send(t, message.SyncMessage{
		Type:          message.SyncTypeTrigger,
		Leg:           message.LegLeft,
		TimeMs:        time.Now().UnixMilli() + skewMs,
		TriggerTimeMs: &fireAt,
	})

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return slave.State().Recording
	}))
	assert.Less(t, time.Since(sent), 1*time.Second, "offset compensation missed the fire window")
}

func TestPeerTimeoutRevertsSlave(t *testing.T) {
	slave := newTestCoordinator(t, message.LegRight, message.RoleSlave)
	peer := newRawPeer(t, slave.LocalAddr())

	rec := false
	for i := 0; i < 3; i++ {
		peer.send(t, message.SyncMessage{
			Type:      message.SyncTypeHeartbeat,
			Leg:       message.LegLeft,
			TimeMs:    time.Now().UnixMilli(),
			Recording: &rec,
		})
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return slave.State().PeerConnected
	}))

	// Starve heartbeats: 50 ms interval x3 multiple means the peer counts
	// as dead after 150 ms of silence.
	require.True(t, waitFor(t, 2*time.Second, func() bool {
		s := slave.State()
		return !s.PeerConnected && s.Role == message.RoleIndependent
	}), "slave must revert to independent after heartbeat loss")
}

func TestOwnPacketsIgnored(t *testing.T) {
	c := newTestCoordinator(t, message.LegLeft, message.RoleMaster)
	peer := newRawPeer(t, c.LocalAddr())

	// A packet stamped with our own leg is a reflection, not a peer.
	peer.send(t, message.SyncMessage{
		Type:   message.SyncTypeHeartbeat,
		Leg:    message.LegLeft,
		TimeMs: time.Now().UnixMilli(),
	})
	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.State().PeerConnected)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"with peer", func(c *Config) { c.PeerAddr = "10.0.0.2:5005" }, true},
		{"empty listen", func(c *Config) { c.ListenAddr = "" }, false},
		{"bad listen", func(c *Config) { c.ListenAddr = "nope:nope" }, false},
		{"bad peer", func(c *Config) { c.PeerAddr = "::bad::" }, false},
		{"bad role", func(c *Config) { c.Role = "boss" }, false},
		{"bad leg", func(c *Config) { c.Leg = "X" }, false},
		{"zero heartbeat", func(c *Config) { c.HeartbeatIntervalMs = 0 }, false},
		{"timeout multiple too low", func(c *Config) { c.TimeoutMultiple = 1 }, false},
		{"zero trigger lead", func(c *Config) { c.TriggerLeadMs = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
