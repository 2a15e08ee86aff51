// Package protocol defines the JSON wire format for the streaming
// transcription connection: control frames from the client and result
// frames back to it. Binary frames are raw audio and never reach this
// package.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound control frame types.
const (
	TypeConfig = "config"
	TypePing   = "ping"
)

// Outbound result frame types.
const (
	TypeStatus  = "status"
	TypePartial = "partial"
	TypeFinal   = "final"
	TypeError   = "error"
	TypePong    = "pong"
)

// Error kinds reported to the client.
const (
	ErrCapacityExceeded        = "capacity_exceeded"
	ErrSessionNotFound         = "session_not_found"
	ErrModelLoadFailed         = "model_load_failed"
	ErrTranscriptionFailed     = "transcription_failed"
	ErrMalformedControlMessage = "malformed_control_message"
)

// ControlMessage is the closed set of inbound text frames. Exactly one of
// Config or Ping is set after a successful Parse.
type ControlMessage struct {
	Config *ConfigMessage
	Ping   bool
}

// ConfigMessage is a session configuration request.
type ConfigMessage struct {
	Model      string  `json:"model"`
	Language   *string `json:"language"`
	VADEnabled *bool   `json:"vad_enabled"`
	BeamSize   int     `json:"beam_size"`
}

// ParseControl parses an inbound text frame into a tagged control
// message. Unknown types and malformed JSON are both reported as errors;
// the connection stays open either way.
func ParseControl(data []byte) (*ControlMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("could not parse JSON message: %w", err)
	}

	switch envelope.Type {
	case TypeConfig:
		var cfg ConfigMessage
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("could not parse config message: %w", err)
		}
		return &ControlMessage{Config: &cfg}, nil
	case TypePing:
		return &ControlMessage{Ping: true}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}
}

// WordTimestamp is a word with timing inside a final result frame.
type WordTimestamp struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// StatusFrame reports a session lifecycle status to the client.
type StatusFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// PartialFrame carries cumulative text-so-far for an in-progress span.
type PartialFrame struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// FinalFrame carries the conclusive transcription for one span.
type FinalFrame struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Start    float64         `json:"start"`
	End      float64         `json:"end"`
	Language string          `json:"language"`
	Words    []WordTimestamp `json:"words"`
}

// ErrorFrame reports a failure without closing the connection.
type ErrorFrame struct {
	Type   string  `json:"type"`
	Error  string  `json:"error"`
	Detail *string `json:"detail"`
}

// PongFrame answers a ping.
type PongFrame struct {
	Type string `json:"type"`
}

// NewStatus builds a status frame.
func NewStatus(status, sessionID string) StatusFrame {
	return StatusFrame{Type: TypeStatus, Status: status, SessionID: sessionID}
}

// NewError builds an error frame. An empty detail is encoded as null.
func NewError(kind, detail string) ErrorFrame {
	frame := ErrorFrame{Type: TypeError, Error: kind}
	if detail != "" {
		frame.Detail = &detail
	}
	return frame
}

// NewPong builds a pong frame.
func NewPong() PongFrame {
	return PongFrame{Type: TypePong}
}
