// Package buffer keeps the rolling window of recent messages per session.
// It is a disposable cache: every window can be rebuilt from the last N
// persisted messages.
package buffer

import (
	"time"

	"github.com/consultx/consultx/internal/risk"
)

const DefaultCapacity = 20

// Entry is a lightweight copy of a persisted message.
type Entry struct {
	MessageID string    `json:"message_id"`
	Position  int       `json:"position"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Sentiment float64   `json:"sentiment"`
	Tier      risk.Tier `json:"tier"`
	Score     float64   `json:"score"`
	// Signal is the message's own risk signal, excluding carry.
	Signal    float64   `json:"signal"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a point-in-time, oldest-first copy of a window.
type Snapshot struct {
	SessionID string  `json:"session_id"`
	Capacity  int     `json:"capacity"`
	Entries   []Entry `json:"entries"`
}

func (s Snapshot) Len() int {
	return len(s.Entries)
}

// Turns converts the snapshot into classifier context.
func (s Snapshot) Turns() []risk.Turn {
	out := make([]risk.Turn, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, risk.Turn{
			MessageID:  e.MessageID,
			Position:   e.Position,
			Sender:     e.Sender,
			Content:    e.Content,
			Sentiment:  e.Sentiment,
			Tier:       e.Tier,
			Score:      e.Score,
			BaseSignal: e.Signal,
		})
	}
	return out
}

// Window is a fixed-capacity FIFO ring. It is not safe for concurrent use;
// Cache guards it.
type Window struct {
	values []Entry
	next   int
	filled bool
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{values: make([]Entry, capacity)}
}

func (w *Window) Capacity() int {
	return len(w.values)
}

func (w *Window) Len() int {
	if w.filled {
		return len(w.values)
	}
	return w.next
}

// Push appends e, evicting the oldest entry once the window is full.
func (w *Window) Push(e Entry) {
	w.values[w.next] = e
	w.next++
	if w.next >= len(w.values) {
		w.next = 0
		w.filled = true
	}
}

// Entries returns the window contents oldest first.
func (w *Window) Entries() []Entry {
	n := w.Len()
	out := make([]Entry, 0, n)
	if w.filled {
		out = append(out, w.values[w.next:]...)
		out = append(out, w.values[:w.next]...)
		return out
	}
	return append(out, w.values[:w.next]...)
}
