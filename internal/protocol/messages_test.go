package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAppend(t *testing.T) {
	raw := []byte(`{"type":"client_message","session_id":"s1","sender":"user","content":"I feel a bit tired today"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	in, ok := msg.(ClientMessage)
	if !ok {
		t.Fatalf("message type = %T, want ClientMessage", msg)
	}
	if in.Sender != "user" || in.Content != "I feel a bit tired today" {
		t.Fatalf("unexpected client message: %+v", in)
	}
}

func TestParseClientMessageRejectsEmptyContent(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_message","sender":"user","content":"  "}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"ping"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionPing {
		t.Fatalf("Action = %q, want %q", control.Action, ActionPing)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"interrupt"}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil for unknown action")
	}
}

func TestParseClientMessageInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}
