package message

import (
	"encoding/json"
	"fmt"

	"github.com/powerpig99/smart-socks-sub000/errors"
)

// ADC and sampling constants shared with the leg node firmware.
const (
	MinADC = 0
	MaxADC = 4095

	NominalRateHz     = 50
	NominalIntervalMs = 20

	ChannelsPerLeg = 3
	TotalChannels  = 6
)

// Leg identifies which node a sample came from.
type Leg string

const (
	// LegLeft is the left-leg node
	LegLeft Leg = "L"
	// LegRight is the right-leg node
	LegRight Leg = "R"
)

// Valid reports whether the leg marker is one of the two known nodes.
func (l Leg) Valid() bool {
	return l == LegLeft || l == LegRight
}

// String returns the wire form of the leg marker.
func (l Leg) String() string { return string(l) }

// DefaultChannels is the declared channel order: left leg then right leg,
// pressure heel, pressure ball, stretch knee. This ordering is a contract
// with recorded CSV files and the classifier artifact.
var DefaultChannels = [TotalChannels]string{
	"L_P_Heel", "L_P_Ball", "L_S_Knee",
	"R_P_Heel", "R_P_Ball", "R_S_Knee",
}

// ChannelsForLeg returns the three channel names belonging to one leg,
// in declared order.
func ChannelsForLeg(leg Leg) [ChannelsPerLeg]string {
	if leg == LegLeft {
		return [ChannelsPerLeg]string{DefaultChannels[0], DefaultChannels[1], DefaultChannels[2]}
	}
	return [ChannelsPerLeg]string{DefaultChannels[3], DefaultChannels[4], DefaultChannels[5]}
}

// SensorSample is one reading of a leg node's three analog channels,
// timestamped with the node's local monotonic clock.
type SensorSample struct {
	Leg         Leg    `json:"leg"`
	NodeID      string `json:"node_id,omitempty"`
	TimestampMs int64  `json:"time_ms"`
	Values      [ChannelsPerLeg]int `json:"values"`
}

// Validate checks the leg marker and the ADC value range.
func (s SensorSample) Validate() error {
	if !s.Leg.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown leg %q", s.Leg),
			"SensorSample", "Validate", "leg check")
	}
	if s.TimestampMs < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("negative timestamp %d", s.TimestampMs),
			"SensorSample", "Validate", "timestamp check")
	}
	for i, v := range s.Values {
		if v < MinADC || v > MaxADC {
			return errors.WrapInvalid(
				fmt.Errorf("channel %d value %d outside [%d,%d]: %w",
					i, v, MinADC, MaxADC, errors.ErrValueRange),
				"SensorSample", "Validate", "range check")
		}
	}
	return nil
}

// EncodeSample serializes a sample for the bus.
func EncodeSample(s SensorSample) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSample parses a sample from the bus and validates it.
func DecodeSample(data []byte) (SensorSample, error) {
	var s SensorSample
	if err := json.Unmarshal(data, &s); err != nil {
		return s, errors.WrapInvalid(err, "message", "DecodeSample", "unmarshal")
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}
