package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, nats.DefaultURL, c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
}

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusClosed, "closed"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestBackoffGrowsWithFailures(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), c.Backoff())

	c.failures.Store(1)
	first := c.Backoff()
	c.failures.Store(3)
	third := c.Backoff()
	assert.Greater(t, third, first)

	c.failures.Store(20)
	assert.LessOrEqual(t, c.Backoff(), 30*time.Second)
}

func TestPublishWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Publish(context.Background(), "socks.samples.left", []byte("{}"))
	assert.Error(t, err)

	err = c.Subscribe(context.Background(), "socks.samples.left", func(context.Context, []byte) {})
	assert.Error(t, err)

	_, err = c.RTT()
	assert.Error(t, err)
}

func TestCloseWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.NoError(t, c.Close(context.Background()))
}

func TestWaitForConnectionTimeout(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = c.WaitForConnection(ctx)
	assert.Error(t, err)
}
