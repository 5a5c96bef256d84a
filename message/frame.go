package message

import (
	"encoding/json"
	"fmt"

	"github.com/powerpig99/smart-socks-sub000/errors"
)

// MergedFrame is one time-aligned instant across both legs. It always
// carries exactly six channel slots; a missing leg's channels are marked
// invalid and carry the last known reading, never omitted, so downstream
// consumers see a stable shape.
type MergedFrame struct {
	TimestampMs int64               `json:"time_ms"`
	Values      [TotalChannels]int  `json:"values"`
	Valid       [TotalChannels]bool `json:"valid"`
}

// AllValid reports whether every channel carries a fresh reading.
func (f MergedFrame) AllValid() bool {
	for _, v := range f.Valid {
		if !v {
			return false
		}
	}
	return true
}

// LegValid reports whether all three channels of one leg are fresh.
func (f MergedFrame) LegValid(leg Leg) bool {
	base := 0
	if leg == LegRight {
		base = ChannelsPerLeg
	}
	return f.Valid[base] && f.Valid[base+1] && f.Valid[base+2]
}

// Validate checks the ADC range on every channel slot.
func (f MergedFrame) Validate() error {
	for i, v := range f.Values {
		if v < MinADC || v > MaxADC {
			return errors.WrapInvalid(
				fmt.Errorf("channel %s value %d outside [%d,%d]: %w",
					DefaultChannels[i], v, MinADC, MaxADC, errors.ErrValueRange),
				"MergedFrame", "Validate", "range check")
		}
	}
	return nil
}

// EncodeFrame serializes a frame for the bus.
func EncodeFrame(f MergedFrame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a frame from the bus and validates it.
func DecodeFrame(data []byte) (MergedFrame, error) {
	var f MergedFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, errors.WrapInvalid(err, "message", "DecodeFrame", "unmarshal")
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// Window is a fixed-length slice of consecutive merged frames. StartSeq is
// the sequence number of the first frame, used only for bookkeeping.
type Window struct {
	Frames   []MergedFrame
	StartSeq int64
}

// Channel extracts one channel's values across the window in frame order.
// The caller may pass a destination slice to avoid allocation; a nil dst
// allocates.
func (w Window) Channel(idx int, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(w.Frames))
	}
	for i, f := range w.Frames {
		dst[i] = float64(f.Values[idx])
	}
	return dst
}

// FeatureVector is the ordered numeric summary of one window. Order is
// fixed for a given sensor configuration and is the schema contract with
// the classifier artifact.
type FeatureVector struct {
	Names       []string  `json:"names,omitempty"`
	Values      []float64 `json:"values"`
	TimestampMs int64     `json:"time_ms"`
}
