package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/consultx/consultx/internal/protocol"
	"github.com/consultx/consultx/internal/session"
)

// handleStream upgrades to a websocket that carries the session's risk
// events. Clients may also append messages and end the session over it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.tracker.GetSession(r.Context(), sessionID); err != nil {
		respondDomainError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.tracker.Subscribe(sessionID)
	defer unsubscribe()
	outbound := make(chan any, 64)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				msg = evt.Payload
			case m := <-outbound:
				msg = m
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessage("outbound", string(t))
			}
		}
	}()

	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Writes stay single-threaded; drop when the queue is saturated.
		}
	}
	send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "subscribed",
	})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(errorEvent(sessionID, "invalid_client_message", "gateway", err))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}
		switch m := parsed.(type) {
		case protocol.ClientMessage:
			if _, err := s.tracker.AppendMessage(ctx, sessionID, m.Sender, m.Content); err != nil {
				send(errorEvent(sessionID, "append_failed", "tracker", err))
			}
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionPing:
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "pong"})
			case protocol.ActionEnd:
				if _, err := s.tracker.EndSession(ctx, sessionID); err != nil {
					send(errorEvent(sessionID, "end_failed", "tracker", err))
				}
			}
		}
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

func errorEvent(sessionID, code, source string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: errors.Is(err, session.ErrUnavailable),
		Detail:    err.Error(),
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.MessageAssessed:
		return m.Type, true
	case protocol.SessionEnded:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
