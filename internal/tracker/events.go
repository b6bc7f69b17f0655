package tracker

import (
	"strings"
	"sync"

	"github.com/consultx/consultx/internal/protocol"
)

// Event is a stream payload published to a session's subscribers.
type Event struct {
	Type      protocol.MessageType
	SessionID string
	Payload   any
}

type hub struct {
	mu          sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]map[int]chan Event)}
}

func (h *hub) Subscribe(sessionID string) (<-chan Event, func()) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 256)
	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	if _, ok := h.subscribers[sessionID]; !ok {
		h.subscribers[sessionID] = make(map[int]chan Event)
	}
	h.subscribers[sessionID][id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[sessionID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subscribers, sessionID)
		}
	}
}

// publish never blocks; a full subscriber misses the event.
func (h *hub) publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers[evt.SessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *hub) subscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[sessionID])
}
