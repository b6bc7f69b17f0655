// Package retrieval is the grounding-context capability the pipeline
// consumes. The corpus itself is built and embedded elsewhere.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/consultx/consultx/internal/policy"
)

const DefaultK = 3

// Snippet is one piece of grounding context.
type Snippet struct {
	ID     string  `json:"id,omitempty"`
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
}

// Gateway fetches the top-k snippets for a query.
type Gateway interface {
	Retrieve(ctx context.Context, query string, k int) ([]Snippet, error)
}

// NoopGateway is used when no corpus is configured.
type NoopGateway struct{}

func (NoopGateway) Retrieve(context.Context, string, int) ([]Snippet, error) {
	return nil, nil
}

// Outcome classifies a bounded retrieval call.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeEmpty   Outcome = "empty"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

var ErrUnavailable = errors.New("retrieval unavailable")

// Bounded wraps a Gateway so that every call finishes within timeout and
// never fails: errors, panics and timeouts all degrade to no snippets.
type Bounded struct {
	gateway Gateway
	k       int
	timeout time.Duration
}

func NewBounded(g Gateway, k int, timeout time.Duration) *Bounded {
	if g == nil {
		g = NoopGateway{}
	}
	if k <= 0 {
		k = DefaultK
	}
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	return &Bounded{gateway: g, k: k, timeout: timeout}
}

func (b *Bounded) K() int {
	return b.k
}

func (b *Bounded) Retrieve(ctx context.Context, query string) ([]Snippet, Outcome) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Snippet{}, OutcomeSkipped
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		snippets []Snippet
		err      error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: panic: %v", ErrUnavailable, r)}
			}
		}()
		snippets, err := b.gateway.Retrieve(ctx, query, b.k)
		done <- result{snippets: snippets, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				log.Printf("retrieval timed out after %s", b.timeout)
				return []Snippet{}, OutcomeTimeout
			}
			log.Printf("retrieval failed: %v", r.err)
			return []Snippet{}, OutcomeError
		}
		out := clean(r.snippets, b.k)
		if len(out) == 0 {
			return out, OutcomeEmpty
		}
		return out, OutcomeOK
	case <-ctx.Done():
		log.Printf("retrieval timed out after %s", b.timeout)
		return []Snippet{}, OutcomeTimeout
	}
}

func clean(in []Snippet, k int) []Snippet {
	out := make([]Snippet, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		out = append(out, s)
		if len(out) == k {
			break
		}
	}
	return out
}

// Turn is the part of a prior message used to build a query.
type Turn struct {
	Sender  string
	Content string
}

// BuildQuery joins the last few user turns with the current message into a
// PII-redacted retrieval query.
func BuildQuery(prior []Turn, content string, maxTurns int) string {
	if maxTurns <= 0 {
		maxTurns = 2
	}
	var parts []string
	for i := len(prior) - 1; i >= 0 && len(parts) < maxTurns; i-- {
		if prior[i].Sender != "user" {
			continue
		}
		if c := strings.TrimSpace(prior[i].Content); c != "" {
			parts = append(parts, c)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	if c := strings.TrimSpace(content); c != "" {
		parts = append(parts, c)
	}
	query, _ := policy.RedactPII(strings.Join(parts, "\n"))
	return query
}
