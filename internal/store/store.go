// Package store implements session.Repository on top of process memory,
// PostgreSQL and SQLite.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
)

// NewRepository picks an implementation from databaseURL:
//
//	""                                  in-memory
//	postgres://, postgresql://          PostgreSQL
//	sqlite://path, file:..., *.db       SQLite
func NewRepository(ctx context.Context, databaseURL string) (session.Repository, error) {
	dsn := strings.TrimSpace(databaseURL)
	switch {
	case dsn == "":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "sqlite3://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite3://"))
	case dsn == ":memory:", strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return NewSQLiteStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme %q", redactDSN(dsn))
	}
}

// Kind names the backend selected for databaseURL, for logs.
func Kind(databaseURL string) string {
	dsn := strings.TrimSpace(databaseURL)
	switch {
	case dsn == "":
		return "memory"
	case strings.HasPrefix(dsn, "postgres"):
		return "postgres"
	default:
		return "sqlite"
	}
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "…"
	}
	return "…"
}

// now is truncated to microseconds so every backend round-trips it exactly.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// nextTimestamp keeps message timestamps non-decreasing within a session.
func nextTimestamp(last *time.Time) time.Time {
	t := now()
	if last != nil && t.Before(*last) {
		return last.UTC()
	}
	return t
}

func normalizeLimit(n int) int {
	if n <= 0 {
		return 0
	}
	return n
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSession(s session.Session) session.Session {
	out := s
	out.Metadata = cloneMetadata(s.Metadata)
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}

func cloneMessage(m session.Message) session.Message {
	out := m
	out.Flags = session.CloneStrings(m.Flags)
	out.Notes = session.CloneStrings(m.Notes)
	return out
}

func cloneSummary(s session.Summary) (session.Summary, error) {
	raw, err := encodeSummary(s)
	if err != nil {
		return session.Summary{}, err
	}
	return decodeSummary(raw)
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

func encodeSummary(s session.Summary) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return raw, nil
}

func decodeSummary(raw []byte) (session.Summary, error) {
	var s session.Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return session.Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	if s.TierCounts == nil {
		s.TierCounts = map[risk.Tier]int{}
	}
	return s, nil
}
