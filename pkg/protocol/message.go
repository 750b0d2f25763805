// Package protocol defines the WebSocket message types for the voice relay.
// Every frame is an envelope {type, ts, data}; data carries the payload for
// that event name.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Relay messages
	TypeAudio   MessageType = "voice:audio"   // Recorded utterance
	TypeText    MessageType = "voice:text"    // Typed utterance (also Relay → Client text events)
	TypeControl MessageType = "voice:control" // start/stop/mute/unmute

	// Relay → Client messages
	TypeConnected MessageType = "voice:connected" // Sent once after handshake
	TypeStatus    MessageType = "voice:status"    // Pipeline or control status
	TypeError     MessageType = "voice:error"     // Run failed

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Status values carried by voice:status and voice:connected.
const (
	StatusConnected  = "connected"
	StatusProcessing = "processing"
	StatusThinking   = "thinking"
	StatusComplete   = "complete"
	StatusListening  = "listening"
	StatusStopped    = "stopped"
	StatusMuted      = "muted"
	StatusUnmuted    = "unmuted"
)

// TextKind distinguishes the two voice:text events sent to clients.
type TextKind string

const (
	TextTranscription TextKind = "transcription"
	TextResponse      TextKind = "response"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Client → Relay Message Types
// =============================================================================

// AudioData contains one recorded utterance
type AudioData struct {
	Data      AudioPayload `json:"data"`             // base64 string or byte array
	Voice     string       `json:"voice,omitempty"`  // synthesis voice hint
	Format    string       `json:"format,omitempty"` // "webm", "wav", "ogg", ...
	Timestamp int64        `json:"timestamp,omitempty"`
}

// TextData contains a typed utterance
type TextData struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ControlAction is a client control request.
type ControlAction string

const (
	ControlStart  ControlAction = "start"
	ControlStop   ControlAction = "stop"
	ControlMute   ControlAction = "mute"
	ControlUnmute ControlAction = "unmute"
)

// Status returns the status echoed for the action, or false if the action
// is unknown.
func (a ControlAction) Status() (string, bool) {
	switch a {
	case ControlStart:
		return StatusListening, true
	case ControlStop:
		return StatusStopped, true
	case ControlMute:
		return StatusMuted, true
	case ControlUnmute:
		return StatusUnmuted, true
	}
	return "", false
}

// ControlData contains a control request
type ControlData struct {
	Data      ControlAction `json:"data"`
	Timestamp int64         `json:"timestamp,omitempty"`
}

// =============================================================================
// Relay → Client Message Types
// =============================================================================

// StatusData reports connection, pipeline or control status.
// voice:connected uses the same shape with Status "connected".
type StatusData struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// TextEvent carries a transcription or a generated response
type TextEvent struct {
	Type      TextKind `json:"type"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
}

// ErrorData reports a failed run
type ErrorData struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData is sent for health checks
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData is the response to a ping
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
