package csvrecord

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/message"
)

func newTestRecorder(t *testing.T, dir string) *Recorder {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Directory = dir
	r := NewRecorder(Deps{
		Config: cfg,
		Now: func() time.Time {
			return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		},
	})
	require.NoError(t, r.Initialize())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(time.Second) })
	return r
}

func command(t *testing.T, c message.Command) []byte {
	t.Helper()
	data, err := message.EncodeCommand(c)
	require.NoError(t, err)
	return data
}

func frame(t *testing.T, ts int64, base int) []byte {
	t.Helper()
	f := message.MergedFrame{TimestampMs: ts}
	for i := range f.Values {
		f.Values[i] = base + i
		f.Valid[i] = true
	}
	data, err := message.EncodeFrame(f)
	require.NoError(t, err)
	return data
}

func TestSessionFileContents(t *testing.T) {
	dir := t.TempDir()
	r := newTestRecorder(t, dir)
	ctx := context.Background()

	r.handleCommand(ctx, command(t, message.Command{Name: "START", Subject: "s01", Activity: "walking_forward"}))
	r.handleFrame(ctx, frame(t, 1000, 100))
	r.handleFrame(ctx, frame(t, 1020, 200))
	r.handleCommand(ctx, command(t, message.Command{Name: "STOP"}))

	path := filepath.Join(dir, "s01_walking_forward_20260314_093000.csv")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "time_ms,L_P_Heel,L_P_Ball,L_S_Knee,R_P_Heel,R_P_Ball,R_S_Knee\n" +
		"1000,100,101,102,103,104,105\n" +
		"1020,200,201,202,203,204,205\n"
	assert.Equal(t, want, string(data))
}

func TestFramesOutsideSessionDropped(t *testing.T) {
	dir := t.TempDir()
	r := newTestRecorder(t, dir)
	ctx := context.Background()

	r.handleFrame(ctx, frame(t, 1000, 100))
	assert.Equal(t, int64(0), r.framesWritten.Load())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no session, no file")
}

func TestStartWhileRecordingRotatesSession(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Directory = dir
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	r := NewRecorder(Deps{
		Config: cfg,
		Now: func() time.Time {
			ts = ts.Add(time.Second)
			return ts
		},
	})
	require.NoError(t, r.Initialize())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(time.Second) })
	ctx := context.Background()

	r.handleCommand(ctx, command(t, message.Command{Name: "START", Activity: "sitting"}))
	r.handleFrame(ctx, frame(t, 1000, 100))
	r.handleCommand(ctx, command(t, message.Command{Name: "START", Activity: "standing"}))
	r.handleFrame(ctx, frame(t, 1020, 200))
	r.handleCommand(ctx, command(t, message.Command{Name: "STOP"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestLegTargetedCommandsIgnored(t *testing.T) {
	dir := t.TempDir()
	r := newTestRecorder(t, dir)
	ctx := context.Background()

	// Per-node control, not session control.
	r.handleCommand(ctx, command(t, message.Command{Name: "START", Target: message.LegLeft}))
	r.mu.Lock()
	open := r.session != nil
	r.mu.Unlock()
	assert.False(t, open)
}

func TestLabelDefaultsAndSanitizing(t *testing.T) {
	dir := t.TempDir()
	r := newTestRecorder(t, dir)
	ctx := context.Background()

	r.handleCommand(ctx, command(t, message.Command{Name: "START", Subject: "p/1 a"}))
	r.handleCommand(ctx, command(t, message.Command{Name: "STOP"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p-1-a_unlabeled_20260314_093000.csv", entries[0].Name())
}

func TestStopClosesSessionOnShutdown(t *testing.T) {
	dir := t.TempDir()
	r := newTestRecorder(t, dir)
	ctx := context.Background()

	r.handleCommand(ctx, command(t, message.Command{Name: "START"}))
	r.handleFrame(ctx, frame(t, 1000, 100))
	require.NoError(t, r.Stop(time.Second))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "1000,100")
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "directory is required")

	cfg.Directory = t.TempDir()
	cfg.FlushMs = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.FlushMs)
}
