package message

import (
	"encoding/json"
	"fmt"

	"github.com/powerpig99/smart-socks-sub000/errors"
)

// SyncRole is the coordination role of a node pair member.
type SyncRole string

const (
	// RoleIndependent means no peer coordination
	RoleIndependent SyncRole = "independent"
	// RoleMaster broadcasts heartbeats and issues triggers
	RoleMaster SyncRole = "master"
	// RoleSlave mirrors the master's recording flag
	RoleSlave SyncRole = "slave"
)

// Valid reports whether the role is one of the known roles.
func (r SyncRole) Valid() bool {
	return r == RoleIndependent || r == RoleMaster || r == RoleSlave
}

// Sync message types on the UDP exchange.
const (
	SyncTypeHeartbeat = "heartbeat"
	SyncTypeTrigger   = "trigger"
)

// SyncMessage is one UDP sync packet. Field names match the firmware's
// JSON exactly.
type SyncMessage struct {
	Type          string `json:"type"`
	Leg           Leg    `json:"leg"`
	TimeMs        int64  `json:"time"`
	Recording     *bool  `json:"recording,omitempty"`
	TriggerTimeMs *int64 `json:"trigger_time,omitempty"`
}

// Validate checks type, leg, and trigger payload presence.
func (m SyncMessage) Validate() error {
	switch m.Type {
	case SyncTypeHeartbeat:
	case SyncTypeTrigger:
		if m.TriggerTimeMs == nil {
			return errors.WrapInvalid(
				fmt.Errorf("trigger without trigger_time"),
				"SyncMessage", "Validate", "payload check")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown sync message type %q", m.Type),
			"SyncMessage", "Validate", "type check")
	}
	if !m.Leg.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown leg %q", m.Leg),
			"SyncMessage", "Validate", "leg check")
	}
	return nil
}

// EncodeSyncMessage serializes a sync packet.
func EncodeSyncMessage(m SyncMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeSyncMessage parses and validates a sync packet.
func DecodeSyncMessage(data []byte) (SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, errors.WrapInvalid(err, "message", "DecodeSyncMessage", "unmarshal")
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// SyncState is the coordination status of the node pair, published on the
// bus whenever it changes.
type SyncState struct {
	Role           SyncRole `json:"role"`
	PeerConnected  bool     `json:"peer_connected"`
	PeerLastSeenMs int64    `json:"peer_last_seen_ms"`
	ClockOffsetMs  float64  `json:"clock_offset_ms"`
	Recording      bool     `json:"recording"`
}

// EncodeSyncState serializes sync state for the bus.
func EncodeSyncState(s SyncState) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSyncState parses sync state from the bus.
func DecodeSyncState(data []byte) (SyncState, error) {
	var s SyncState
	if err := json.Unmarshal(data, &s); err != nil {
		return s, errors.WrapInvalid(err, "message", "DecodeSyncState", "unmarshal")
	}
	return s, nil
}
