package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore persists sessions in a SQLite database. All access goes
// through a single connection, which serializes writers.
type SQLiteStore struct {
	db *sqlx.DB
}

type sessionRow struct {
	ID        string       `db:"id"`
	UserID    string       `db:"user_id"`
	Status    string       `db:"status"`
	Metadata  string       `db:"metadata"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
	EndedAt   sql.NullTime `db:"ended_at"`
}

type messageRow struct {
	ID            string    `db:"id"`
	SessionID     string    `db:"session_id"`
	Position      int       `db:"position"`
	Sender        string    `db:"sender"`
	Content       string    `db:"content"`
	Sentiment     float64   `db:"sentiment"`
	SentimentBand string    `db:"sentiment_band"`
	Tier          string    `db:"tier"`
	RiskScore     float64   `db:"risk_score"`
	BaseSignal    float64   `db:"base_signal"`
	Flags         string    `db:"flags"`
	Notes         string    `db:"notes"`
	HardTrigger   bool      `db:"hard_trigger"`
	Action        string    `db:"action"`
	HotlineFlag   bool      `db:"hotline_flag"`
	CreatedAt     time.Time `db:"created_at"`
}

func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("open sqlite: empty path")
	}
	db, err := sqlx.Open("sqlite3", withSQLiteParams(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// In-memory databases are per connection, and SQLite allows one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func withSQLiteParams(dsn string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	if dsn == ":memory:" {
		return "file::memory:?" + params
	}
	return dsn + "?" + params
}

func migrateSQLite(db *sqlx.DB) error {
	src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("load sqlite migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("init sqlite migrations: %w", err)
	}
	// m.Close would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply sqlite migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, userID string, metadata map[string]any) (session.Session, error) {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, status, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.Status), string(meta), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return session.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (session.Session, error) {
	return getSQLiteSession(ctx, s.db, id)
}

func getSQLiteSession(ctx context.Context, q sqlx.QueryerContext, id string) (session.Session, error) {
	var row sessionRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT * FROM sessions WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return row.toSession()
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter session.Filter) ([]session.Session, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT * FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]session.Session, 0, len(rows))
	for _, r := range rows {
		sess, err := r.toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg session.NewMessage) (session.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return session.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := getSQLiteSession(ctx, tx, sessionID)
	if err != nil {
		return session.Message{}, err
	}
	if !sess.Active() {
		return session.Message{}, session.ErrInvalidState
	}

	var last struct {
		Position  int          `db:"position"`
		CreatedAt sql.NullTime `db:"created_at"`
	}
	err = tx.GetContext(ctx, &last,
		`SELECT position, created_at FROM messages WHERE session_id = ? ORDER BY position DESC LIMIT 1`,
		sessionID,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return session.Message{}, fmt.Errorf("read last position: %w", err)
	}
	var lastAt *time.Time
	if last.CreatedAt.Valid {
		t := last.CreatedAt.Time
		lastAt = &t
	}

	m := session.BuildMessage(sessionID, msg)
	m.ID = uuid.NewString()
	m.Position = last.Position + 1
	m.CreatedAt = nextTimestamp(lastAt)

	row, err := newMessageRow(m)
	if err != nil {
		return session.Message{}, err
	}
	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO messages (id, session_id, position, sender, content, sentiment, sentiment_band, tier,
			risk_score, flags, notes, hard_trigger, action, hotline_flag, created_at, base_signal)
		 VALUES (:id, :session_id, :position, :sender, :content, :sentiment, :sentiment_band, :tier,
			:risk_score, :flags, :notes, :hard_trigger, :action, :hotline_flag, :created_at, :base_signal)`,
		row,
	)
	if err != nil {
		return session.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, m.CreatedAt, sessionID); err != nil {
		return session.Message{}, fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return session.Message{}, fmt.Errorf("commit tx: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) EndSession(ctx context.Context, id string) (session.Session, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return session.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := getSQLiteSession(ctx, tx, id)
	if err != nil {
		return session.Session{}, err
	}
	if !sess.Active() {
		return session.Session{}, session.ErrInvalidState
	}
	ts := nextTimestamp(&sess.UpdatedAt)
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ?, updated_at = ? WHERE id = ?`,
		string(session.StatusEnded), ts, ts, id,
	); err != nil {
		return session.Session{}, fmt.Errorf("end session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return session.Session{}, fmt.Errorf("commit tx: %w", err)
	}
	sess.Status = session.StatusEnded
	sess.EndedAt = &ts
	sess.UpdatedAt = ts
	return sess, nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]session.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	limit := normalizeLimit(n)
	if limit == 0 {
		limit = -1
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM messages WHERE session_id = ? ORDER BY position DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	out := make([]session.Message, len(rows))
	for i, r := range rows {
		m, err := r.toMessage()
		if err != nil {
			return nil, err
		}
		// Rows come newest first.
		out[len(rows)-1-i] = m
	}
	return out, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	return s.RecentMessages(ctx, sessionID, 0)
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, summary session.Summary, supersede bool) error {
	raw, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	if _, err := s.GetSession(ctx, summary.SessionID); err != nil {
		return err
	}

	var res sql.Result
	if supersede {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO session_summaries (session_id, summary, generated_at) VALUES (?, ?, ?)
			 ON CONFLICT (session_id) DO UPDATE SET
				summary = excluded.summary,
				generated_at = excluded.generated_at,
				revision = session_summaries.revision + 1`,
			summary.SessionID, string(raw), summary.GeneratedAt.UTC(),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO session_summaries (session_id, summary, generated_at) VALUES (?, ?, ?)
			 ON CONFLICT (session_id) DO NOTHING`,
			summary.SessionID, string(raw), summary.GeneratedAt.UTC(),
		)
	}
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	if n == 0 {
		return session.ErrSummaryExists
	}
	return nil
}

func (s *SQLiteStore) GetSummary(ctx context.Context, sessionID string) (session.Summary, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT summary FROM session_summaries WHERE session_id = ?`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Summary{}, session.ErrNotFound
		}
		return session.Summary{}, fmt.Errorf("get summary: %w", err)
	}
	return decodeSummary([]byte(raw))
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (r sessionRow) toSession() (session.Session, error) {
	md, err := decodeMetadata([]byte(r.Metadata))
	if err != nil {
		return session.Session{}, err
	}
	sess := session.Session{
		ID:        r.ID,
		UserID:    r.UserID,
		Status:    session.Status(r.Status),
		Metadata:  md,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time.UTC()
		sess.EndedAt = &t
	}
	return sess, nil
}

func newMessageRow(m session.Message) (messageRow, error) {
	flags, err := json.Marshal(m.Flags)
	if err != nil {
		return messageRow{}, fmt.Errorf("encode flags: %w", err)
	}
	notes, err := json.Marshal(m.Notes)
	if err != nil {
		return messageRow{}, fmt.Errorf("encode notes: %w", err)
	}
	return messageRow{
		ID:            m.ID,
		SessionID:     m.SessionID,
		Position:      m.Position,
		Sender:        string(m.Sender),
		Content:       m.Content,
		Sentiment:     m.Sentiment,
		SentimentBand: string(m.SentimentBand),
		Tier:          string(m.Tier),
		RiskScore:     m.RiskScore,
		BaseSignal:    m.BaseSignal,
		Flags:         string(flags),
		Notes:         string(notes),
		HardTrigger:   m.HardTrigger,
		Action:        string(m.Action),
		HotlineFlag:   m.HotlineFlag,
		CreatedAt:     m.CreatedAt,
	}, nil
}

func (r messageRow) toMessage() (session.Message, error) {
	m := session.Message{
		ID:            r.ID,
		SessionID:     r.SessionID,
		Position:      r.Position,
		Sender:        session.Sender(r.Sender),
		Content:       r.Content,
		Sentiment:     r.Sentiment,
		SentimentBand: risk.Band(r.SentimentBand),
		Tier:          risk.Tier(r.Tier),
		RiskScore:     r.RiskScore,
		BaseSignal:    r.BaseSignal,
		HardTrigger:   r.HardTrigger,
		Action:        guardrail.Action(r.Action),
		HotlineFlag:   r.HotlineFlag,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Flags), &m.Flags); err != nil {
		return session.Message{}, fmt.Errorf("decode flags: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Notes), &m.Notes); err != nil {
		return session.Message{}, fmt.Errorf("decode notes: %w", err)
	}
	m.Flags = session.CloneStrings(m.Flags)
	m.Notes = session.CloneStrings(m.Notes)
	return m, nil
}
