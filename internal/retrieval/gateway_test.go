package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeGateway struct {
	snippets []Snippet
	err      error
	delay    time.Duration
	panics   bool
	gotK     int
	gotQuery string
}

func (f *fakeGateway) Retrieve(ctx context.Context, query string, k int) ([]Snippet, error) {
	f.gotK = k
	f.gotQuery = query
	if f.panics {
		panic("index corrupted")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.snippets, f.err
}

func TestBoundedReturnsTopK(t *testing.T) {
	g := &fakeGateway{snippets: []Snippet{{Text: "a"}, {Text: " "}, {Text: "b"}, {Text: "c"}, {Text: "d"}}}
	b := NewBounded(g, 3, time.Second)
	got, outcome := b.Retrieve(context.Background(), "tired")
	if outcome != OutcomeOK {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeOK)
	}
	if len(got) != 3 || got[0].Text != "a" || got[1].Text != "b" {
		t.Fatalf("snippets = %+v, want [a b c]", got)
	}
	if g.gotK != 3 {
		t.Fatalf("k = %d, want 3", g.gotK)
	}
}

func TestBoundedDegradesToEmpty(t *testing.T) {
	cases := []struct {
		name string
		g    *fakeGateway
		want Outcome
	}{
		{"error", &fakeGateway{err: errors.New("connection refused")}, OutcomeError},
		{"deadline", &fakeGateway{err: context.DeadlineExceeded}, OutcomeTimeout},
		{"panic", &fakeGateway{panics: true}, OutcomeError},
		{"slow", &fakeGateway{delay: 300 * time.Millisecond, snippets: []Snippet{{Text: "late"}}}, OutcomeTimeout},
		{"empty corpus", &fakeGateway{}, OutcomeEmpty},
	}
	for _, tc := range cases {
		b := NewBounded(tc.g, 3, 30*time.Millisecond)
		start := time.Now()
		got, outcome := b.Retrieve(context.Background(), "query")
		if outcome != tc.want {
			t.Fatalf("%s: outcome = %q, want %q", tc.name, outcome, tc.want)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("%s: snippets = %#v, want empty non-nil", tc.name, got)
		}
		if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
			t.Fatalf("%s: took %v, want bounded", tc.name, elapsed)
		}
	}
}

func TestBoundedSkipsEmptyQuery(t *testing.T) {
	g := &fakeGateway{snippets: []Snippet{{Text: "a"}}}
	_, outcome := NewBounded(g, 0, 0).Retrieve(context.Background(), "  ")
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeSkipped)
	}
	if g.gotQuery != "" {
		t.Fatalf("gateway called with %q", g.gotQuery)
	}
}

func TestBuildQueryUsesRecentUserTurnsAndRedacts(t *testing.T) {
	prior := []Turn{
		{Sender: "user", Content: "first"},
		{Sender: "user", Content: "mail me at sam@example.com"},
		{Sender: "assistant", Content: "I hear you"},
		{Sender: "user", Content: "third"},
	}
	got := BuildQuery(prior, "now", 2)
	want := "mail me at [REDACTED_EMAIL]\nthird\nnow"
	if got != want {
		t.Fatalf("BuildQuery() = %q, want %q", got, want)
	}
	if strings.Contains(got, "I hear you") {
		t.Fatalf("BuildQuery() included assistant turn")
	}
}
