package serialline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
)

// ParseLine parses one serial CSV line into samples. Two wire formats
// exist:
//
//	time_ms,leg,s1,s2,s3          per-leg line from a dual-node setup
//	time_ms,v1,v2,v3,v4,v5,v6     combined line from a single node
//
// The combined form yields one sample per leg sharing the timestamp.
// Status lines ('#' prefix) and blank lines return no samples and no
// error.
func ParseLine(line string) ([]message.SensorSample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	fields := strings.Split(line, ",")
	switch len(fields) {
	case 5:
		s, err := parsePerLeg(fields)
		if err != nil {
			return nil, err
		}
		return []message.SensorSample{s}, nil
	case 7:
		return parseCombined(fields)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d fields", errors.ErrParsingFailed, len(fields)),
			"serialline", "ParseLine", "field count check")
	}
}

func parsePerLeg(fields []string) (message.SensorSample, error) {
	var s message.SensorSample

	ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return s, errors.WrapInvalid(
			fmt.Errorf("%w: timestamp %q", errors.ErrParsingFailed, fields[0]),
			"serialline", "parsePerLeg", "timestamp parse")
	}
	s.TimestampMs = ts
	s.Leg = message.Leg(strings.TrimSpace(fields[1]))

	for i := 0; i < message.ChannelsPerLeg; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(fields[2+i]))
		if err != nil {
			return s, errors.WrapInvalid(
				fmt.Errorf("%w: value %q", errors.ErrParsingFailed, fields[2+i]),
				"serialline", "parsePerLeg", "value parse")
		}
		s.Values[i] = v
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func parseCombined(fields []string) ([]message.SensorSample, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: timestamp %q", errors.ErrParsingFailed, fields[0]),
			"serialline", "parseCombined", "timestamp parse")
	}

	values := make([]int, message.TotalChannels)
	for i := range values {
		v, err := strconv.Atoi(strings.TrimSpace(fields[1+i]))
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: value %q", errors.ErrParsingFailed, fields[1+i]),
				"serialline", "parseCombined", "value parse")
		}
		values[i] = v
	}

	left := message.SensorSample{Leg: message.LegLeft, TimestampMs: ts}
	right := message.SensorSample{Leg: message.LegRight, TimestampMs: ts}
	copy(left.Values[:], values[:message.ChannelsPerLeg])
	copy(right.Values[:], values[message.ChannelsPerLeg:])

	if err := left.Validate(); err != nil {
		return nil, err
	}
	if err := right.Validate(); err != nil {
		return nil, err
	}
	return []message.SensorSample{left, right}, nil
}

// knownCommands lists the node console commands the adapter will relay.
var knownCommands = map[string]bool{
	"START": true, "STOP": true, "STATUS": true, "HELP": true,
	"MASTER": true, "SLAVE": true, "SYNC OFF": true, "TRIGGER": true,
}

// ValidCommand reports whether name is a command the node understands.
func ValidCommand(name string) bool {
	return knownCommands[strings.ToUpper(strings.TrimSpace(name))]
}
