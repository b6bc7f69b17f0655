package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidState  = errors.New("invalid session state")
	ErrValidation    = errors.New("validation failed")
	ErrSummaryExists = errors.New("summary already exists")
	ErrUnavailable   = errors.New("repository unavailable")
)

// Repository owns all durable session state. Every write is atomic per call,
// and appends to one session are serialized by the implementation.
type Repository interface {
	CreateSession(ctx context.Context, userID string, metadata map[string]any) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, filter Filter) ([]Session, error)
	// AppendMessage fails with ErrInvalidState when the session is not active.
	AppendMessage(ctx context.Context, sessionID string, msg NewMessage) (Message, error)
	// EndSession fails with ErrInvalidState when the session already ended.
	EndSession(ctx context.Context, id string) (Session, error)
	// RecentMessages returns the last n messages oldest first.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	// SaveSummary stores a summary. Replacing an existing one requires
	// supersede; otherwise ErrSummaryExists is returned.
	SaveSummary(ctx context.Context, summary Summary, supersede bool) error
	GetSummary(ctx context.Context, sessionID string) (Summary, error)
	Ping(ctx context.Context) error
	Close() error
}

// BuildMessage fills the computed fields of a message from msg. Stores call
// it before assigning identity, position and timestamp.
func BuildMessage(sessionID string, msg NewMessage) Message {
	a := msg.Assessment
	return Message{
		SessionID:     sessionID,
		Sender:        msg.Sender,
		Content:       msg.Content,
		Sentiment:     msg.Sentiment.Score,
		SentimentBand: msg.Sentiment.Band,
		Tier:          a.Tier,
		RiskScore:     a.Score,
		BaseSignal:    a.BaseSignal,
		Flags:         CloneStrings(a.Flags),
		Notes:         CloneStrings(a.Notes),
		HardTrigger:   a.HardTrigger,
		Action:        msg.Decision.Action,
		HotlineFlag:   msg.Decision.HotlineFlag,
	}
}

// CloneStrings copies v, returning an empty non-nil slice for nil input.
func CloneStrings(v []string) []string {
	out := make([]string, len(v))
	copy(out, v)
	return out
}
