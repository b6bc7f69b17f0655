package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/consultx/consultx/internal/session"
)

// MemoryStore is an in-process repository for local/dev use and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*session.Session
	messages  map[string][]session.Message
	summaries map[string]session.Summary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*session.Session),
		messages:  make(map[string][]session.Message),
		summaries: make(map[string]session.Summary),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, userID string, metadata map[string]any) (session.Session, error) {
	ts := now()
	sess := &session.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    session.StatusActive,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return cloneSession(*sess), nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return cloneSession(*sess), nil
}

func (s *MemoryStore) ListSessions(_ context.Context, filter session.Filter) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		out = append(out, cloneSession(*sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg session.NewMessage) (session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return session.Message{}, session.ErrNotFound
	}
	if !sess.Active() {
		return session.Message{}, session.ErrInvalidState
	}

	existing := s.messages[sessionID]
	var last *session.Message
	if len(existing) > 0 {
		last = &existing[len(existing)-1]
	}

	m := session.BuildMessage(sessionID, msg)
	m.ID = uuid.NewString()
	m.Position = len(existing) + 1
	if last != nil {
		m.CreatedAt = nextTimestamp(&last.CreatedAt)
	} else {
		m.CreatedAt = nextTimestamp(nil)
	}

	s.messages[sessionID] = append(existing, m)
	sess.UpdatedAt = m.CreatedAt
	return cloneMessage(m), nil
}

func (s *MemoryStore) EndSession(_ context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	if !sess.Active() {
		return session.Session{}, session.ErrInvalidState
	}
	ts := now()
	if ts.Before(sess.UpdatedAt) {
		ts = sess.UpdatedAt
	}
	sess.Status = session.StatusEnded
	sess.EndedAt = &ts
	sess.UpdatedAt = ts
	return cloneSession(*sess), nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, sessionID string, n int) ([]session.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, session.ErrNotFound
	}
	arr := s.messages[sessionID]
	limit := normalizeLimit(n)
	if limit == 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]session.Message, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, cloneMessage(arr[i]))
	}
	return out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	return s.RecentMessages(ctx, sessionID, 0)
}

func (s *MemoryStore) SaveSummary(_ context.Context, summary session.Summary, supersede bool) error {
	stored, err := cloneSummary(summary)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[summary.SessionID]; !ok {
		return session.ErrNotFound
	}
	if _, exists := s.summaries[summary.SessionID]; exists && !supersede {
		return session.ErrSummaryExists
	}
	s.summaries[summary.SessionID] = stored
	return nil
}

func (s *MemoryStore) GetSummary(_ context.Context, sessionID string) (session.Summary, error) {
	s.mu.RLock()
	stored, ok := s.summaries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return session.Summary{}, session.ErrNotFound
	}
	return cloneSummary(stored)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
