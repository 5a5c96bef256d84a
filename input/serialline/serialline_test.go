package serialline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/message"
)

// fakePort is an in-memory stand-in for the USB serial device.
type fakePort struct {
	mu     sync.Mutex
	inbox  [][]byte
	writes []string
	closed bool
	fail   bool
}

func (p *fakePort) push(data string) {
	p.mu.Lock()
	p.inbox = append(p.inbox, []byte(data))
	p.mu.Unlock()
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed || p.fail {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(p.inbox) == 0 {
		p.mu.Unlock()
		time.Sleep(2 * time.Millisecond) // emulate the read timeout
		return 0, nil
	}
	chunk := p.inbox[0]
	p.inbox = p.inbox[1:]
	p.mu.Unlock()
	return copy(buf, chunk), nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.writes = append(p.writes, string(data))
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func newTestInput(t *testing.T, port *fakePort, collect func(message.SensorSample)) *Input {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Port = "/dev/fake0"

	in, err := NewInput(Deps{Name: "serial-test", Config: cfg, OnSample: collect})
	require.NoError(t, err)
	in.openPort = func(string, int) (io.ReadWriteCloser, error) { return port, nil }
	require.NoError(t, in.Initialize())
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(2 * time.Second) })
	return in
}

func TestReadSplitAcrossChunks(t *testing.T) {
	port := &fakePort{}
	var mu sync.Mutex
	var got []message.SensorSample
	in := newTestInput(t, port, func(s message.SensorSample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	_ = in

	// One line split over three reads, plus chatter and a second line in
	// a single chunk.
	port.push("100,L,10")
	port.push("24,2048")
	port.push(",512\n# booted\n120,R,1,2,3\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, message.LegLeft, got[0].Leg)
	assert.Equal(t, [3]int{1024, 2048, 512}, got[0].Values)
	assert.Equal(t, message.LegRight, got[1].Leg)
}

func TestCommandRelay(t *testing.T) {
	port := &fakePort{}
	in := newTestInput(t, port, func(message.SensorSample) {})

	data, err := message.EncodeCommand(message.Command{Name: "start"})
	require.NoError(t, err)
	in.handleCommand(context.Background(), data)

	data, err = message.EncodeCommand(message.Command{Name: "REBOOT"})
	require.NoError(t, err)
	in.handleCommand(context.Background(), data)

	assert.Equal(t, []string{"START\n"}, port.written(), "only known commands reach the node")
}

func TestCommandTargetFilter(t *testing.T) {
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.Port = "/dev/fake0"
	cfg.Leg = message.LegLeft

	in, err := NewInput(Deps{Name: "serial-left", Config: cfg, OnSample: func(message.SensorSample) {}})
	require.NoError(t, err)
	in.openPort = func(string, int) (io.ReadWriteCloser, error) { return port, nil }
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(2 * time.Second) })

	right, err := message.EncodeCommand(message.Command{Name: "STOP", Target: message.LegRight})
	require.NoError(t, err)
	in.handleCommand(context.Background(), right)
	assert.Empty(t, port.written(), "command for the other leg must not be relayed")

	left, err := message.EncodeCommand(message.Command{Name: "STOP", Target: message.LegLeft})
	require.NoError(t, err)
	in.handleCommand(context.Background(), left)
	assert.Equal(t, []string{"STOP\n"}, port.written())
}

func TestReconnectAfterReadError(t *testing.T) {
	first := &fakePort{fail: true}
	second := &fakePort{}

	var mu sync.Mutex
	var got []message.SensorSample
	cfg := DefaultConfig()
	cfg.Port = "/dev/fake0"

	in, err := NewInput(Deps{Name: "serial-test", Config: cfg, OnSample: func(s message.SensorSample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}})
	require.NoError(t, err)

	opens := 0
	in.openPort = func(string, int) (io.ReadWriteCloser, error) {
		opens++
		if opens == 1 {
			return first, nil
		}
		return second, nil
	}
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(2 * time.Second) })

	second.push("300,L,5,6,7\n")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, opens, 2, "port must reopen after the read error")
}

func TestLegFilterDropsForeignSamples(t *testing.T) {
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.Port = "/dev/fake0"
	cfg.Leg = message.LegLeft

	var mu sync.Mutex
	var got []message.SensorSample
	in, err := NewInput(Deps{Name: "serial-left", Config: cfg, OnSample: func(s message.SensorSample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}})
	require.NoError(t, err)
	in.openPort = func(string, int) (io.ReadWriteCloser, error) { return port, nil }
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(2 * time.Second) })

	port.push("100,R,1,2,3\n110,L,4,5,6\n")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, message.LegLeft, got[0].Leg)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "port path is required")

	cfg.Port = "/dev/ttyUSB0"
	assert.NoError(t, cfg.Validate())

	cfg.BaudRate = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Port = "/dev/ttyUSB0"
	cfg.Leg = "X"
	assert.Error(t, cfg.Validate())
}
