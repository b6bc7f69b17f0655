// Package session defines the persisted domain of a conversation: sessions,
// their append-only messages and end-of-session summaries, plus the
// repository contract every store implements.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/risk"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

func ParseStatus(v string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(v))); s {
	case "", StatusActive, StatusEnded:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, v)
	}
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

func ParseSender(v string) (Sender, error) {
	switch s := Sender(strings.ToLower(strings.TrimSpace(v))); s {
	case SenderUser, SenderAssistant, SenderSystem:
		return s, nil
	case "":
		return "", fmt.Errorf("%w: sender is required", ErrValidation)
	default:
		return "", fmt.Errorf("%w: unknown sender %q", ErrValidation, v)
	}
}

type Session struct {
	ID        string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Status    Status         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

func (s Session) Active() bool {
	return s.Status == StatusActive
}

// Message is an immutable, persisted message with its risk outcome attached.
type Message struct {
	ID            string           `json:"message_id"`
	SessionID     string           `json:"session_id"`
	Position      int              `json:"position"`
	Sender        Sender           `json:"sender"`
	Content       string           `json:"content"`
	Sentiment     float64          `json:"sentiment"`
	SentimentBand risk.Band        `json:"sentiment_band"`
	Tier          risk.Tier        `json:"tier"`
	RiskScore     float64          `json:"risk_score"`
	BaseSignal    float64          `json:"base_signal"`
	Flags         []string         `json:"flagged_keywords"`
	Notes         []string         `json:"notes"`
	HardTrigger   bool             `json:"hard_trigger"`
	Action        guardrail.Action `json:"action"`
	HotlineFlag   bool             `json:"hotline_flag"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewMessage is what the pipeline hands the repository to append. Position,
// identity and timestamp are assigned by the repository.
type NewMessage struct {
	Sender     Sender
	Content    string
	Sentiment  risk.Sentiment
	Assessment risk.Assessment
	Decision   guardrail.Decision
}

// Filter narrows ListSessions. Empty fields match everything.
type Filter struct {
	UserID string
	Status Status
}

// TrendPoint is one entry of a summary's sentiment trend. When the trend is
// bucketed, Count is the number of messages averaged into Score.
type TrendPoint struct {
	Index    int       `json:"index"`
	Position int       `json:"position"`
	Score    float64   `json:"score"`
	Tier     risk.Tier `json:"tier"`
	Count    int       `json:"count"`
}

// Resource is a referral or exercise suggestion.
type Resource struct {
	ID       string   `json:"id" yaml:"id"`
	Type     string   `json:"type" yaml:"type"`
	Label    string   `json:"label" yaml:"label"`
	Link     string   `json:"link,omitempty" yaml:"link"`
	Keywords []string `json:"keywords,omitempty" yaml:"-"`
}

// Summary is the end-of-session report. GeneratedAt is the only field that
// differs between two computations over the same history.
type Summary struct {
	SessionID        string            `json:"session_id"`
	GeneratedAt      time.Time         `json:"generated_at"`
	MessageCount     int               `json:"message_count"`
	UserTurns        int               `json:"user_turns"`
	AssistantTurns   int               `json:"assistant_turns"`
	TierCounts       map[risk.Tier]int `json:"tier_counts"`
	MaxTier          risk.Tier         `json:"max_tier"`
	HardTriggers     int               `json:"hard_triggers"`
	SentimentTrend   []TrendPoint      `json:"sentiment_trend"`
	AverageSentiment float64           `json:"average_sentiment"`
	BandCounts       map[risk.Band]int `json:"sentiment_band_counts"`
	FlaggedKeywords  []string          `json:"flagged_keywords"`
	Resources        []Resource        `json:"resources"`
	Notes            []string          `json:"notes"`
	DurationSeconds  float64           `json:"duration_seconds"`
}
