package merger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/message"
)

// collectMerger wires a merger straight to a frame slice, no bus involved.
func collectMerger(t *testing.T, cfg Config) (*Merger, *[]message.MergedFrame) {
	t.Helper()
	var frames []message.MergedFrame
	m, err := NewMerger(Deps{
		Name:    "merger-test",
		Config:  cfg,
		OnFrame: func(f message.MergedFrame) { frames = append(frames, f) },
	})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	return m, &frames
}

func sample(leg message.Leg, ts int64, v int) message.SensorSample {
	return message.SensorSample{
		Leg:         leg,
		TimestampMs: ts,
		Values:      [3]int{v, v + 1, v + 2},
	}
}

func TestPairWithinTolerance(t *testing.T) {
	m, frames := collectMerger(t, DefaultConfig())

	require.NoError(t, m.Offer(sample(message.LegLeft, 100, 10)))
	require.NoError(t, m.Offer(sample(message.LegRight, 112, 20)))
	m.mergeStep(context.Background())

	require.Len(t, *frames, 1)
	f := (*frames)[0]
	assert.Equal(t, int64(100), f.TimestampMs)
	assert.True(t, f.AllValid())
	assert.Equal(t, [6]int{10, 11, 12, 20, 21, 22}, f.Values)
}

func TestClockOffsetCorrection(t *testing.T) {
	m, frames := collectMerger(t, DefaultConfig())

	// Right node's clock runs 5 s ahead; after correction the pair aligns.
	m.SetClockOffset(5000)
	require.NoError(t, m.Offer(sample(message.LegLeft, 100, 10)))
	require.NoError(t, m.Offer(sample(message.LegRight, 5110, 20)))
	m.mergeStep(context.Background())

	require.Len(t, *frames, 1)
	assert.True(t, (*frames)[0].AllValid())
}

func TestUnpairedSampleGapFillsPartner(t *testing.T) {
	m, frames := collectMerger(t, DefaultConfig())

	// Establish right-leg memory with one clean pair.
	require.NoError(t, m.Offer(sample(message.LegLeft, 100, 10)))
	require.NoError(t, m.Offer(sample(message.LegRight, 100, 90)))
	m.mergeStep(context.Background())
	require.Len(t, *frames, 1)

	// Left at 200 has no right partner within tolerance: right pending
	// holds only a much later sample.
	require.NoError(t, m.Offer(sample(message.LegLeft, 200, 11)))
	require.NoError(t, m.Offer(sample(message.LegRight, 400, 91)))
	m.mergeStep(context.Background())

	require.GreaterOrEqual(t, len(*frames), 2)
	f := (*frames)[1]
	assert.True(t, f.LegValid(message.LegLeft))
	assert.False(t, f.LegValid(message.LegRight))
	// Gap-filled channels carry the last known right values.
	assert.Equal(t, 90, f.Values[3])
	assert.Equal(t, 91, f.Values[4])
	assert.Equal(t, 92, f.Values[5])
}

func TestLoneLegFlowsAfterMaxGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGapMs = 20
	m, frames := collectMerger(t, cfg)

	require.NoError(t, m.Offer(sample(message.LegLeft, 100, 10)))
	require.NoError(t, m.Offer(sample(message.LegLeft, 120, 11)))
	m.mergeStep(context.Background())
	// Partner silence shorter than the gap threshold: hold the frames.
	assert.Empty(t, *frames)

	time.Sleep(30 * time.Millisecond)
	m.mergeStep(context.Background())

	require.Len(t, *frames, 2)
	for _, f := range *frames {
		assert.True(t, f.LegValid(message.LegLeft))
		assert.False(t, f.LegValid(message.LegRight))
	}
	assert.Equal(t, int64(100), (*frames)[0].TimestampMs)
	assert.Equal(t, int64(120), (*frames)[1].TimestampMs)
}

func TestMonotonicTimestamps(t *testing.T) {
	m, frames := collectMerger(t, DefaultConfig())

	require.NoError(t, m.Offer(sample(message.LegLeft, 100, 10)))
	require.NoError(t, m.Offer(sample(message.LegRight, 100, 20)))
	m.mergeStep(context.Background())

	// A late pair with an older timestamp must not move time backwards.
	require.NoError(t, m.Offer(sample(message.LegLeft, 95, 10)))
	require.NoError(t, m.Offer(sample(message.LegRight, 95, 20)))
	m.mergeStep(context.Background())

	require.Len(t, *frames, 2)
	assert.Equal(t, int64(100), (*frames)[0].TimestampMs)
	assert.Greater(t, (*frames)[1].TimestampMs, (*frames)[0].TimestampMs)
}

func TestStallAndRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGapMs = 20
	cfg.StallMs = 40
	m, frames := collectMerger(t, cfg)

	require.NoError(t, m.Offer(sample(message.LegLeft, 100, 10)))
	require.NoError(t, m.Offer(sample(message.LegRight, 100, 20)))
	m.mergeStep(context.Background())
	require.Len(t, *frames, 1)
	assert.False(t, m.Stalled())

	time.Sleep(60 * time.Millisecond)
	m.mergeStep(context.Background())
	assert.True(t, m.Stalled())
	assert.False(t, m.Health().Healthy)

	// Fresh data on both legs clears the condition.
	require.NoError(t, m.Offer(sample(message.LegLeft, 200, 10)))
	require.NoError(t, m.Offer(sample(message.LegRight, 200, 20)))
	m.mergeStep(context.Background())
	assert.False(t, m.Stalled())
	require.Len(t, *frames, 2)
}

func TestOneLegSilenceRaisesStall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGapMs = 20
	cfg.StallMs = 40
	m, frames := collectMerger(t, cfg)

	require.NoError(t, m.Offer(sample(message.LegLeft, 100, 10)))
	require.NoError(t, m.Offer(sample(message.LegRight, 100, 20)))
	m.mergeStep(context.Background())
	require.Len(t, *frames, 1)
	assert.False(t, m.Stalled())

	// Right leg dies while the left keeps streaming past the stall
	// threshold. The survivor must flow gap-filled AND the loss must
	// surface as a stall.
	ts := int64(120)
	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, m.Offer(sample(message.LegLeft, ts, 11)))
		ts += 20
		time.Sleep(10 * time.Millisecond)
		m.mergeStep(context.Background())
	}
	m.mergeStep(context.Background())

	require.Greater(t, len(*frames), 1, "surviving leg must keep flowing")
	last := (*frames)[len(*frames)-1]
	assert.True(t, last.LegValid(message.LegLeft))
	assert.False(t, last.LegValid(message.LegRight))
	assert.True(t, m.Stalled(), "one leg silent beyond the stall threshold")
	assert.False(t, m.Health().Healthy)

	// The missing leg returning clears the condition.
	require.NoError(t, m.Offer(sample(message.LegLeft, ts, 12)))
	require.NoError(t, m.Offer(sample(message.LegRight, ts, 22)))
	m.mergeStep(context.Background())
	assert.False(t, m.Stalled())
	assert.True(t, (*frames)[len(*frames)-1].AllValid())
}

func TestOfferRejectsBadSample(t *testing.T) {
	m, _ := collectMerger(t, DefaultConfig())

	bad := sample(message.LegLeft, 100, 10)
	bad.Values[0] = 5000 // beyond the 12-bit ADC
	assert.Error(t, m.Offer(bad))

	bad = sample("X", 100, 10)
	assert.Error(t, m.Offer(bad))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero interval", func(c *Config) { c.IntervalMs = 0 }, false},
		{"gap below interval", func(c *Config) { c.MaxGapMs = 5 }, false},
		{"stall below gap", func(c *Config) { c.StallMs = 40; c.MaxGapMs = 50 }, false},
		{"tolerance defaulted", func(c *Config) { c.ToleranceMs = 0 }, true},
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

func TestStartStopLifecycle(t *testing.T) {
	m, _ := collectMerger(t, DefaultConfig())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()), "start is idempotent")
	require.NoError(t, m.Stop(time.Second))
	require.NoError(t, m.Stop(time.Second), "stop is idempotent")
}
