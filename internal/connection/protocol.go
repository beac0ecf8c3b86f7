// Package connection implements a channel-tagged JSON-frame WebSocket
// transport, its connection state machine, and the per-IP handshake rate
// limiter. The envelope/channel shape follows internal/ws.Envelope's
// convention (internal/direct/server.go reads one off the wire the same
// way), generalized from a single PTY channel to the driver's multi-channel
// set.
package connection

import "encoding/json"

// Channel names the logical stream an outbound frame belongs to.
type Channel string

const (
	ChannelTerminal Channel = "terminal"
	ChannelCombat   Channel = "combat"
	ChannelGUI      Channel = "gui"
	ChannelMap      Channel = "map"
	ChannelTime     Channel = "time"
	ChannelIDE      Channel = "ide"

	// ChannelInput is inbound-only: raw command lines and login frames.
	ChannelInput Channel = "input"
)

// Envelope is the wire frame every message is wrapped in.
type Envelope struct {
	Channel Channel         `json:"channel"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MaxFrameBytes is the hard ceiling on any single outbound frame.
const MaxFrameBytes = 512 * 1024

// NewEnvelope marshals payload into an Envelope on channel/typ.
func NewEnvelope(channel Channel, typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: channel, Type: typ, Payload: raw}, nil
}

// TerminalLine is the payload of a terminal-channel text line.
type TerminalLine struct {
	Text string `json:"text"`
}

// CombatEvent is the payload of a combat-channel update.
type CombatEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// MapUpdate is the payload of a map-channel update.
type MapUpdate struct {
	RoomID string   `json:"room_id"`
	Exits  []string `json:"exits"`
}

// TimeSync is the payload of a periodic time-channel clock sync: the
// server's current wall clock, for a client to reconcile drift against.
type TimeSync struct {
	UnixSeconds int64  `json:"unix_seconds"`
	TZAbbrev    string `json:"tz_abbrev"`
}

// InputLine is the payload of an inbound input-channel frame: one raw
// command line.
type InputLine struct {
	Line string `json:"line"`
}

// GUIResponse is the payload of an inbound gui-channel frame: a client's
// reply to a modal (submit/button/closed).
type GUIResponse struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}
