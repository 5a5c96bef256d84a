package message

import (
	"encoding/json"

	"github.com/powerpig99/smart-socks-sub000/errors"
)

// LabelUnknown is the reserved label emitted when the classifier's top
// confidence falls below the rejection threshold.
const LabelUnknown = "unknown"

// ClassificationResult is one inference outcome.
type ClassificationResult struct {
	Label       string             `json:"label"`
	RawLabel    string             `json:"raw_label,omitempty"` // before smoothing/rejection
	Confidence  float64            `json:"confidence"`
	TimestampMs int64              `json:"time_ms"`
	Quality     []string           `json:"quality_flags,omitempty"`
	Probs       map[string]float64 `json:"probabilities,omitempty"`
}

// EncodeResult serializes a result for the bus.
func EncodeResult(r ClassificationResult) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResult parses a result from the bus.
func DecodeResult(data []byte) (ClassificationResult, error) {
	var r ClassificationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return r, errors.WrapInvalid(err, "message", "DecodeResult", "unmarshal")
	}
	return r, nil
}

// Command is an operator instruction relayed to a node through whichever
// transport adapter holds its link.
type Command struct {
	Name   string `json:"command"`          // START, STOP, STATUS, HELP, MASTER, SLAVE, SYNC OFF, TRIGGER
	Target Leg    `json:"target,omitempty"` // empty targets all nodes

	// Session labels for recording, carried on START only.
	Subject  string `json:"subject,omitempty"`
	Activity string `json:"activity,omitempty"`
}

// EncodeCommand serializes a command for the bus.
func EncodeCommand(c Command) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCommand parses a command from the bus.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return c, errors.WrapInvalid(err, "message", "DecodeCommand", "unmarshal")
	}
	return c, nil
}
