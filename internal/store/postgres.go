package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
)

// PostgresStore persists sessions, messages and summaries in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			sentiment DOUBLE PRECISION NOT NULL DEFAULT 0,
			sentiment_band TEXT NOT NULL DEFAULT 'neutral',
			tier TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			flags TEXT[] NOT NULL DEFAULT '{}',
			notes TEXT[] NOT NULL DEFAULT '{}',
			hard_trigger BOOLEAN NOT NULL DEFAULT FALSE,
			action TEXT NOT NULL,
			hotline_flag BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, position)
		);`,
		`ALTER TABLE messages ADD COLUMN IF NOT EXISTS base_signal DOUBLE PRECISION NOT NULL DEFAULT 0;`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
			summary JSONB NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			revision INTEGER NOT NULL DEFAULT 1
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const sessionColumns = `id, user_id, status, metadata, created_at, updated_at, ended_at`

const messageColumns = `id, session_id, position, sender, content, sentiment, sentiment_band, tier,
	risk_score, flags, notes, hard_trigger, action, hotline_flag, created_at, base_signal`

func (s *PostgresStore) CreateSession(ctx context.Context, userID string, metadata map[string]any) (session.Session, error) {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return session.Session{}, err
	}
	ts := now()
	sess := session.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    session.StatusActive,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, status, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, string(sess.Status), meta, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return session.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter session.Filter) ([]session.Session, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]session.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg session.NewMessage) (session.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return session.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock serializes appends and end_session for the session.
	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM sessions WHERE id=$1 FOR UPDATE`, sessionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Message{}, session.ErrNotFound
		}
		return session.Message{}, fmt.Errorf("lock session: %w", err)
	}
	if session.Status(status) != session.StatusActive {
		return session.Message{}, session.ErrInvalidState
	}

	var (
		lastPos int
		lastAt  *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), 0), MAX(created_at) FROM messages WHERE session_id=$1`,
		sessionID,
	).Scan(&lastPos, &lastAt)
	if err != nil {
		return session.Message{}, fmt.Errorf("read last position: %w", err)
	}

	m := session.BuildMessage(sessionID, msg)
	m.ID = uuid.NewString()
	m.Position = lastPos + 1
	m.CreatedAt = nextTimestamp(lastAt)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.ID, m.SessionID, m.Position, string(m.Sender), m.Content, m.Sentiment, string(m.SentimentBand),
		string(m.Tier), m.RiskScore, m.Flags, m.Notes, m.HardTrigger, string(m.Action), m.HotlineFlag, m.CreatedAt, m.BaseSignal,
	)
	if err != nil {
		return session.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE sessions SET updated_at=$2 WHERE id=$1`, sessionID, m.CreatedAt); err != nil {
		return session.Message{}, fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return session.Message{}, fmt.Errorf("commit tx: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) EndSession(ctx context.Context, id string) (session.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return session.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		status    string
		updatedAt time.Time
	)
	err = tx.QueryRow(ctx, `SELECT status, updated_at FROM sessions WHERE id=$1 FOR UPDATE`, id).Scan(&status, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("lock session: %w", err)
	}
	if session.Status(status) != session.StatusActive {
		return session.Session{}, session.ErrInvalidState
	}

	ts := nextTimestamp(&updatedAt)
	row := tx.QueryRow(ctx,
		`UPDATE sessions SET status=$2, ended_at=$3, updated_at=$3 WHERE id=$1 RETURNING `+sessionColumns,
		id, string(session.StatusEnded), ts,
	)
	sess, err := scanSession(row)
	if err != nil {
		return session.Session{}, fmt.Errorf("end session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return session.Session{}, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]session.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var (
		rows pgx.Rows
		err  error
	)
	if limit := normalizeLimit(n); limit > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE session_id=$1 ORDER BY position DESC LIMIT $2`,
			sessionID, limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE session_id=$1 ORDER BY position DESC`,
			sessionID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	items := make([]session.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Reverse into arrival order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	return s.RecentMessages(ctx, sessionID, 0)
}

func (s *PostgresStore) SaveSummary(ctx context.Context, summary session.Summary, supersede bool) error {
	raw, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	if _, err := s.GetSession(ctx, summary.SessionID); err != nil {
		return err
	}

	var tag pgconn.CommandTag
	if supersede {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO session_summaries (session_id, summary, generated_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (session_id) DO UPDATE SET
				summary=EXCLUDED.summary,
				generated_at=EXCLUDED.generated_at,
				revision=session_summaries.revision + 1`,
			summary.SessionID, raw, summary.GeneratedAt,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO session_summaries (session_id, summary, generated_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (session_id) DO NOTHING`,
			summary.SessionID, raw, summary.GeneratedAt,
		)
	}
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrSummaryExists
	}
	return nil
}

func (s *PostgresStore) GetSummary(ctx context.Context, sessionID string) (session.Summary, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT summary FROM session_summaries WHERE session_id=$1`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Summary{}, session.ErrNotFound
		}
		return session.Summary{}, fmt.Errorf("get summary: %w", err)
	}
	return decodeSummary(raw)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (session.Session, error) {
	var (
		sess    session.Session
		status  string
		meta    []byte
		endedAt *time.Time
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &status, &meta, &sess.CreatedAt, &sess.UpdatedAt, &endedAt); err != nil {
		return session.Session{}, err
	}
	md, err := decodeMetadata(meta)
	if err != nil {
		return session.Session{}, err
	}
	sess.Status = session.Status(status)
	sess.Metadata = md
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	if endedAt != nil {
		t := endedAt.UTC()
		sess.EndedAt = &t
	}
	return sess, nil
}

func scanMessage(row pgx.Row) (session.Message, error) {
	var (
		m                          session.Message
		sender, band, tier, action string
	)
	err := row.Scan(
		&m.ID, &m.SessionID, &m.Position, &sender, &m.Content, &m.Sentiment, &band, &tier,
		&m.RiskScore, &m.Flags, &m.Notes, &m.HardTrigger, &action, &m.HotlineFlag, &m.CreatedAt, &m.BaseSignal,
	)
	if err != nil {
		return session.Message{}, err
	}
	m.Sender = session.Sender(sender)
	m.SentimentBand = risk.Band(band)
	m.Tier = risk.Tier(tier)
	m.Action = guardrail.Action(action)
	m.Flags = session.CloneStrings(m.Flags)
	m.Notes = session.CloneStrings(m.Notes)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}
