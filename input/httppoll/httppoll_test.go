package httppoll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/message"
)

// fakeNode emulates the ESP32 HTTP API.
type fakeNode struct {
	mu       sync.Mutex
	t        int64
	values   map[string]int
	failures int // remaining polls to reject
	started  int
	stopped  int
	csv      string
}

func (n *fakeNode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sensors", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.failures > 0 {
			n.failures--
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"t": n.t, "mac": "AA:BB:CC:DD:EE:FF", "s": n.values,
		})
	})
	mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		n.mu.Lock()
		n.started++
		n.mu.Unlock()
	})
	mux.HandleFunc("/api/stop", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		n.stopped++
		n.mu.Unlock()
	})
	mux.HandleFunc("/api/download", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		csv := n.csv
		n.mu.Unlock()
		if csv == "" {
			http.Error(w, "no recording", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(csv))
	})
	return mux
}

func (n *fakeNode) advance(t int64, heel, ball, knee int) {
	n.mu.Lock()
	n.t = t
	n.values = map[string]int{"P_Heel": heel, "P_Ball": ball, "S_Knee": knee}
	n.mu.Unlock()
}

func newTestInput(t *testing.T, node *fakeNode, collect func(message.SensorSample)) *Input {
	t.Helper()
	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Leg = message.LegRight
	cfg.PollIntervalMs = 5

	in := NewInput(Deps{Name: "httppoll-test", Config: cfg, OnSample: collect})
	require.NoError(t, in.Initialize())
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(2 * time.Second) })
	return in
}

func TestPollPublishesNewSamples(t *testing.T) {
	node := &fakeNode{}
	node.advance(100, 1000, 2000, 500)

	var mu sync.Mutex
	var got []message.SensorSample
	newTestInput(t, node, func(s message.SensorSample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	first := got[0]
	mu.Unlock()
	assert.Equal(t, message.LegRight, first.Leg)
	assert.Equal(t, int64(100), first.TimestampMs)
	assert.Equal(t, [3]int{1000, 2000, 500}, first.Values)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", first.NodeID)
}

func TestRepeatedTimestampNotRepublished(t *testing.T) {
	node := &fakeNode{}
	node.advance(100, 1, 2, 3)

	var mu sync.Mutex
	var got []message.SensorSample
	newTestInput(t, node, func(s message.SensorSample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	// Many polls of one unchanged reading yield exactly one sample.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	count := len(got)
	mu.Unlock()
	assert.Equal(t, 1, count)

	node.advance(120, 4, 5, 6)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPollRecoversAfterErrors(t *testing.T) {
	node := &fakeNode{failures: 3}
	node.advance(100, 1, 2, 3)

	var mu sync.Mutex
	var got []message.SensorSample
	in := newTestInput(t, node, func(s message.SensorSample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 5*time.Millisecond, "poll must recover once the node responds")
	assert.Equal(t, int32(0), in.failures.Load())
}

func TestCommandRelay(t *testing.T) {
	node := &fakeNode{}
	node.advance(100, 1, 2, 3)
	in := newTestInput(t, node, func(message.SensorSample) {})

	send := func(cmd message.Command) {
		data, err := message.EncodeCommand(cmd)
		require.NoError(t, err)
		in.handleCommand(context.Background(), data)
	}

	send(message.Command{Name: "START"})
	send(message.Command{Name: "stop"})
	send(message.Command{Name: "STATUS"})                            // no HTTP equivalent
	send(message.Command{Name: "START", Target: message.LegLeft})    // other leg
	send(message.Command{Name: "START", Target: message.LegRight})   // ours

	node.mu.Lock()
	defer node.mu.Unlock()
	assert.Equal(t, 2, node.started)
	assert.Equal(t, 1, node.stopped)
}

func TestDownloadCSV(t *testing.T) {
	recording := "time_ms,R_P_Heel,R_P_Ball,R_S_Knee\n1000,1,2,3\n"
	node := &fakeNode{csv: recording}
	node.advance(100, 1, 2, 3)
	in := newTestInput(t, node, func(message.SensorSample) {})

	var buf bytes.Buffer
	n, err := in.DownloadCSV(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(recording)), n)
	assert.Equal(t, recording, buf.String())

	empty := &fakeNode{}
	empty.advance(100, 1, 2, 3)
	in2 := newTestInput(t, empty, func(message.SensorSample) {})
	_, err = in2.DownloadCSV(context.Background(), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestMissingSensorKeyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"t":100,"mac":"x","s":{"P_Heel":1,"P_Ball":2}}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Leg = message.LegLeft
	in := NewInput(Deps{Config: cfg, OnSample: func(message.SensorSample) { t.Fatal("bad payload published") }})

	err := in.pollOnce(context.Background())
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) { c.BaseURL = "http://192.168.4.1"; c.Leg = message.LegLeft }, true},
		{"no url", func(c *Config) { c.Leg = message.LegLeft }, false},
		{"bad url", func(c *Config) { c.BaseURL = "::"; c.Leg = message.LegLeft }, false},
		{"no leg", func(c *Config) { c.BaseURL = "http://x" }, false},
		{"wrong key count", func(c *Config) {
			c.BaseURL = "http://x"
			c.Leg = message.LegLeft
			c.SensorKeys = []string{"a"}
		}, false},
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
