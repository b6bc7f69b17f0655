package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage   MessageType = "client_message"
	TypeClientControl   MessageType = "client_control"
	TypeMessageAssessed MessageType = "message_assessed"
	TypeSessionEnded    MessageType = "session_ended"
	TypeSystemEvent     MessageType = "system_event"
	TypeErrorEvent      MessageType = "error_event"
)

// Client control actions.
const (
	ActionPing = "ping"
	ActionEnd  = "end_session"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage appends a message to the stream's session.
type ClientMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Sender    string      `json:"sender"`
	Content   string      `json:"content"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

// MessageAssessed is pushed after a message is classified and persisted.
type MessageAssessed struct {
	Type        MessageType        `json:"type"`
	SessionID   string             `json:"session_id"`
	Message     session.Message    `json:"message"`
	Tier        risk.Tier          `json:"tier"`
	Action      guardrail.Action   `json:"action"`
	HotlineFlag bool               `json:"hotline_flag"`
	Decision    guardrail.Decision `json:"decision"`
	At          time.Time          `json:"at"`
}

// SessionEnded is pushed once when a session ends.
type SessionEnded struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Session   session.Session `json:"session"`
	Summary   session.Summary `json:"summary"`
	At        time.Time       `json:"at"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Sender) == "" || strings.TrimSpace(msg.Content) == "" {
			return nil, errors.New("invalid client_message")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionPing, ActionEnd:
			return msg, nil
		default:
			return nil, errors.New("invalid client_control")
		}
	default:
		return nil, ErrUnsupportedType
	}
}
