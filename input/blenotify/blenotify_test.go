package blenotify

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/message"
)

// fakeLink replays scripted notification chunks and records command
// writes. sessions counts Connect calls so reconnect behavior is
// observable.
type fakeLink struct {
	mu       sync.Mutex
	chunks   [][]byte
	written  [][]byte
	sessions int
	failures int // Connect errors before the first success
	onData   func([]byte)
}

func (f *fakeLink) Connect(onData func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	if f.failures > 0 {
		f.failures--
		return stderrors.New("scan failed")
	}
	f.onData = onData
	for _, c := range f.chunks {
		onData(c)
	}
	f.chunks = nil
	return nil
}

func (f *fakeLink) WriteCommand(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeLink) Close() error { return nil }

func (f *fakeLink) push(chunk []byte) {
	f.mu.Lock()
	onData := f.onData
	f.mu.Unlock()
	if onData != nil {
		onData(chunk)
	}
}

func (f *fakeLink) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, w := range f.written {
		out[i] = string(w)
	}
	return out
}

func newTestInput(t *testing.T, link *fakeLink, leg message.Leg, onSample func(message.SensorSample)) *Input {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Leg = leg
	require.NoError(t, cfg.Validate())
	in := NewInput(Deps{
		Config:   cfg,
		NewLink:  func() (Link, error) { return link, nil },
		OnSample: onSample,
	})
	require.NoError(t, in.Initialize())
	return in
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNotificationsBecomeSamples(t *testing.T) {
	var mu sync.Mutex
	var samples []message.SensorSample
	link := &fakeLink{chunks: [][]byte{
		[]byte("1000,L,10"),
		[]byte("0,200,300\n1020,L,"),
		[]byte("101,201,301\n"),
	}}
	in := newTestInput(t, link, message.LegLeft, func(s message.SensorSample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	})

	require.NoError(t, in.Start(context.Background()))
	defer func() { _ = in.Stop(time.Second) }()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(samples) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(1000), samples[0].TimestampMs)
	assert.Equal(t, [3]int{100, 200, 300}, samples[0].Values)
	assert.Equal(t, message.LegLeft, samples[0].Leg)
	assert.Equal(t, int64(1020), samples[1].TimestampMs)
}

func TestForeignLegFiltered(t *testing.T) {
	var count int64
	var mu sync.Mutex
	link := &fakeLink{chunks: [][]byte{
		[]byte("1000,R,1,2,3\n1000,L,4,5,6\n"),
	}}
	in := newTestInput(t, link, message.LegRight, func(message.SensorSample) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.NoError(t, in.Start(context.Background()))
	defer func() { _ = in.Stop(time.Second) }()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestReconnectAfterConnectFailure(t *testing.T) {
	var got int64
	var mu sync.Mutex
	link := &fakeLink{
		failures: 1,
		chunks:   [][]byte{[]byte("1000,L,1,2,3\n")},
	}
	in := newTestInput(t, link, message.LegLeft, func(message.SensorSample) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	require.NoError(t, in.Start(context.Background()))
	defer func() { _ = in.Stop(time.Second) }()

	// First attempt fails, second connects and delivers.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	})
	link.mu.Lock()
	sessions := link.sessions
	link.mu.Unlock()
	assert.GreaterOrEqual(t, sessions, 2)
}

func TestPartialLineDroppedOnDisconnect(t *testing.T) {
	var mu sync.Mutex
	var samples []message.SensorSample
	link := &fakeLink{}
	in := newTestInput(t, link, message.LegLeft, func(s message.SensorSample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	})

	require.NoError(t, in.Start(context.Background()))
	defer func() { _ = in.Stop(time.Second) }()

	waitFor(t, func() bool { return in.connected.Load() })

	// A torn line, then a disconnect signal, then a clean line after
	// the adapter reconnects.
	link.push([]byte("1000,L,1"))
	link.push(nil)

	waitFor(t, func() bool {
		link.mu.Lock()
		defer link.mu.Unlock()
		return link.sessions >= 2
	})
	waitFor(t, func() bool { return in.connected.Load() })
	link.push([]byte("2000,L,7,8,9\n"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(samples) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(2000), samples[0].TimestampMs, "torn prefix must not merge into the new session")
}

func TestCommandRelay(t *testing.T) {
	link := &fakeLink{}
	in := newTestInput(t, link, message.LegLeft, func(message.SensorSample) {})
	require.NoError(t, in.Start(context.Background()))
	defer func() { _ = in.Stop(time.Second) }()
	waitFor(t, func() bool { return in.connected.Load() })

	send := func(c message.Command) {
		data, err := message.EncodeCommand(c)
		require.NoError(t, err)
		in.handleCommand(context.Background(), data)
	}

	send(message.Command{Name: "START"})
	send(message.Command{Name: "REBOOT"})
	send(message.Command{Name: "STOP", Target: message.LegRight})
	send(message.Command{Name: "STOP", Target: message.LegLeft})

	assert.Equal(t, []string{"START\n", "STOP\n"}, link.commands())
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "leg is required")

	cfg.Leg = message.LegLeft
	cfg.DeviceName = ""
	cfg.ScanWindowMs = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultDeviceName, cfg.DeviceName)
	assert.Equal(t, 10000, cfg.ScanWindowMs)
}
