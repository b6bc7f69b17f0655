package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/consultx/consultx/internal/assess"
	"github.com/consultx/consultx/internal/buffer"
	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/observability"
	"github.com/consultx/consultx/internal/protocol"
	"github.com/consultx/consultx/internal/retrieval"
	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
	"github.com/consultx/consultx/internal/store"
	"github.com/consultx/consultx/internal/summary"
)

type fakeGateway struct {
	mu      sync.Mutex
	queries []string
}

func (g *fakeGateway) Retrieve(_ context.Context, query string, k int) ([]retrieval.Snippet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, query)
	return []retrieval.Snippet{{ID: "grounding-1", Text: "A slow breath can help some people."}}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queries)
}

type failingRepo struct {
	*store.MemoryStore
}

func (failingRepo) AppendMessage(context.Context, string, session.NewMessage) (session.Message, error) {
	return session.Message{}, errors.New("disk full")
}

func newTestTracker(t *testing.T, repo session.Repository, gw retrieval.Gateway) (*Tracker, *observability.Metrics) {
	t.Helper()
	engine, err := guardrail.NewEngine(guardrail.DefaultTemplates())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	adapters := []risk.Adapter{}
	for _, name := range []string{risk.AdapterSustainedRisk, risk.AdapterFarewell, risk.AdapterMeansPolicy} {
		a, err := risk.BuiltinAdapter(context.Background(), name, risk.BuiltinOptions{})
		if err != nil {
			t.Fatalf("BuiltinAdapter(%q) error = %v", name, err)
		}
		adapters = append(adapters, a)
	}
	pipeline, err := risk.NewPipeline(0, adapters...)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	evaluator, err := assess.New(risk.NewClassifier(nil, risk.DefaultClassifierOptions()), pipeline, engine)
	if err != nil {
		t.Fatalf("assess.New() error = %v", err)
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("consultx_test", reg)
	tr, err := New(Deps{
		Repository: repo,
		Evaluator:  evaluator,
		Retrieval:  retrieval.NewBounded(gw, 3, 200*time.Millisecond),
		Summaries:  summary.NewGenerator(nil, 0),
		Buffers:    buffer.NewCache(20),
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tr, metrics
}

func TestTiredThenCrisisThenEndSession(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	tr, metrics := newTestTracker(t, store.NewMemoryStore(), gw)

	view, err := tr.CreateSession(ctx, "user-1", map[string]any{"channel": "web"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id := view.Session.ID
	if view.Buffer.Len() != 0 || view.Buffer.Capacity != 20 {
		t.Fatalf("Buffer = %+v, want empty window of 20", view.Buffer)
	}

	first, err := tr.AppendMessage(ctx, id, "user", "I feel a bit tired today")
	if err != nil {
		t.Fatalf("AppendMessage(tired) error = %v", err)
	}
	if first.Tier != risk.TierCaution {
		t.Fatalf("Tier = %q, want %q", first.Tier, risk.TierCaution)
	}
	if first.Action != guardrail.ActionSoften || first.HotlineFlag {
		t.Fatalf("Action = %q hotline = %t, want soften without hotline", first.Action, first.HotlineFlag)
	}
	if first.Message.Position != 1 {
		t.Fatalf("Position = %d, want 1", first.Message.Position)
	}
	if len(first.Snippets) != 1 || first.Retrieval != retrieval.OutcomeOK {
		t.Fatalf("Snippets = %v outcome = %q, want one ok snippet", first.Snippets, first.Retrieval)
	}

	second, err := tr.AppendMessage(ctx, id, "user", "I keep thinking about ending my life and imagining ways I could do it.")
	if err != nil {
		t.Fatalf("AppendMessage(crisis) error = %v", err)
	}
	if second.Tier != risk.TierCrisis || !second.Assessment.HardTrigger {
		t.Fatalf("Tier = %q hard = %t, want crisis hard trigger", second.Tier, second.Assessment.HardTrigger)
	}
	if second.Action != guardrail.ActionCrisisOverride || !second.HotlineFlag {
		t.Fatalf("Action = %q hotline = %t, want crisis_override with hotline", second.Action, second.HotlineFlag)
	}
	if second.Decision.Response == nil || len(second.Decision.Response.Hotlines) == 0 {
		t.Fatalf("Decision.Response = %+v, want crisis block with hotlines", second.Decision.Response)
	}
	if second.Retrieval != retrieval.OutcomeSkipped || len(second.Snippets) != 0 {
		t.Fatalf("Retrieval = %q snippets = %v, want skipped", second.Retrieval, second.Snippets)
	}
	if gw.calls() != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls())
	}

	got, err := tr.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Buffer.Len() != 2 || got.Metrics == nil || got.Metrics.MaxTier != risk.TierCrisis {
		t.Fatalf("GetSession() = %+v, want 2 buffered turns and crisis max tier", got)
	}

	ended, err := tr.EndSession(ctx, id)
	if err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if ended.Session.Status != session.StatusEnded {
		t.Fatalf("Status = %q, want ended", ended.Session.Status)
	}
	sum := ended.Summary
	if sum.TierCounts[risk.TierCaution] != 1 || sum.TierCounts[risk.TierCrisis] != 1 {
		t.Fatalf("TierCounts = %v, want one caution and one crisis", sum.TierCounts)
	}
	if _, ok := sum.TierCounts[risk.TierOK]; !ok {
		t.Fatalf("TierCounts = %v, want all tiers present", sum.TierCounts)
	}
	if len(sum.SentimentTrend) != 2 {
		t.Fatalf("len(SentimentTrend) = %d, want 2", len(sum.SentimentTrend))
	}
	hotline := false
	for _, r := range sum.Resources {
		if r.Type == summary.TypeHotline {
			hotline = true
		}
	}
	if !hotline {
		t.Fatalf("Resources = %+v, want a hotline resource", sum.Resources)
	}

	if _, err := tr.AppendMessage(ctx, id, "user", "are you still there"); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("AppendMessage(after end) error = %v, want ErrInvalidState", err)
	}
	if _, err := tr.EndSession(ctx, id); !errors.Is(err, session.ErrInvalidState) {
		t.Fatalf("EndSession(again) error = %v, want ErrInvalidState", err)
	}

	stored, err := tr.GetSummary(ctx, id, false)
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if !stored.GeneratedAt.Equal(sum.GeneratedAt) {
		t.Fatalf("GetSummary().GeneratedAt = %v, want cached %v", stored.GeneratedAt, sum.GeneratedAt)
	}

	if v := testutil.ToFloat64(metrics.HardTriggers); v != 1 {
		t.Fatalf("hard trigger counter = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.MessagesAssessed.WithLabelValues("crisis", "crisis_override")); v != 1 {
		t.Fatalf("crisis counter = %v, want 1", v)
	}
}

func TestAppendValidatesBeforeTouchingState(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	tr, _ := newTestTracker(t, repo, &fakeGateway{})
	view, err := tr.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	cases := []struct{ sender, content string }{
		{"", "hello"},
		{"robot", "hello"},
		{"user", "   "},
	}
	for _, tc := range cases {
		if _, err := tr.AppendMessage(ctx, view.Session.ID, tc.sender, tc.content); !errors.Is(err, session.ErrValidation) {
			t.Fatalf("AppendMessage(%q, %q) error = %v, want ErrValidation", tc.sender, tc.content, err)
		}
	}
	msgs, _ := repo.ListMessages(ctx, view.Session.ID)
	if len(msgs) != 0 {
		t.Fatalf("len(messages) = %d, want 0", len(msgs))
	}

	if _, err := tr.AppendMessage(ctx, "missing", "user", "hello"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("AppendMessage(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := tr.CreateSession(ctx, " ", nil); !errors.Is(err, session.ErrValidation) {
		t.Fatalf("CreateSession(blank) error = %v, want ErrValidation", err)
	}
}

func TestAppendSurfacesRepositoryFailure(t *testing.T) {
	ctx := context.Background()
	repo := failingRepo{store.NewMemoryStore()}
	tr, metrics := newTestTracker(t, repo, &fakeGateway{})
	view, err := tr.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	_, err = tr.AppendMessage(ctx, view.Session.ID, "user", "hello")
	if !errors.Is(err, session.ErrUnavailable) {
		t.Fatalf("AppendMessage() error = %v, want ErrUnavailable", err)
	}
	if v := testutil.ToFloat64(metrics.StoreWriteFailures.WithLabelValues("append_message")); v != 1 {
		t.Fatalf("store write failures = %v, want 1", v)
	}
	snap, ok := tr.buffers.Get(view.Session.ID)
	if !ok || snap.Len() != 0 {
		t.Fatalf("buffer = %+v, want no entry for the failed write", snap)
	}
}

func TestConcurrentAppendsKeepPositionsDense(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, store.NewMemoryStore(), retrieval.NoopGateway{})
	view, err := tr.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	positions := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := tr.AppendMessage(ctx, view.Session.ID, "user", fmt.Sprintf("message %d", i))
			if err != nil {
				errs <- err
				return
			}
			positions <- res.Message.Position
		}(i)
	}
	wg.Wait()
	close(positions)
	close(errs)
	for err := range errs {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	got := make([]int, 0, n)
	for p := range positions {
		got = append(got, p)
	}
	sort.Ints(got)
	for i, p := range got {
		if p != i+1 {
			t.Fatalf("positions = %v, want 1..%d", got, n)
		}
	}
	snap, _ := tr.buffers.Get(view.Session.ID)
	if snap.Len() != n {
		t.Fatalf("buffer len = %d, want %d", snap.Len(), n)
	}
	if tr.locks.Len() != 0 {
		t.Fatalf("locks held after appends = %d, want 0", tr.locks.Len())
	}
}

func TestBufferRebuildsFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	tr, _ := newTestTracker(t, repo, retrieval.NoopGateway{})
	view, err := tr.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id := view.Session.ID
	for _, content := range []string{"I feel so tired", "I feel exhausted and alone"} {
		if _, err := tr.AppendMessage(ctx, id, "user", content); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	// A second tracker over the same repository starts with a cold cache.
	restarted, _ := newTestTracker(t, repo, retrieval.NoopGateway{})
	cold, err := restarted.AppendMessage(ctx, id, "user", "still lonely")
	if err != nil {
		t.Fatalf("AppendMessage(cold) error = %v", err)
	}
	warm, err := tr.AppendMessage(ctx, id, "user", "still lonely")
	if err != nil {
		t.Fatalf("AppendMessage(warm) error = %v", err)
	}
	if cold.Message.Position != 3 || warm.Message.Position != 4 {
		t.Fatalf("positions = %d, %d, want 3, 4", cold.Message.Position, warm.Message.Position)
	}
	if !cold.Tier.AtLeast(risk.TierCaution) {
		t.Fatalf("cold Tier = %q, want at least caution", cold.Tier)
	}
	found := false
	for _, n := range cold.Assessment.Notes {
		if strings.HasPrefix(n, "prior distress carried") {
			found = true
		}
	}
	if !found {
		t.Fatalf("cold Notes = %v, want prior distress carried from rebuilt buffer", cold.Assessment.Notes)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, store.NewMemoryStore(), retrieval.NoopGateway{})
	view, err := tr.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id := view.Session.ID

	events, unsubscribe := tr.Subscribe(id)
	if _, err := tr.AppendMessage(ctx, id, "user", "I feel a bit tired today"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if _, err := tr.EndSession(ctx, id); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	want := []protocol.MessageType{protocol.TypeMessageAssessed, protocol.TypeSessionEnded}
	for _, typ := range want {
		select {
		case evt := <-events:
			if evt.Type != typ || evt.SessionID != id {
				t.Fatalf("event = %+v, want %q for %s", evt, typ, id)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", typ)
		}
	}

	unsubscribe()
	if _, ok := <-events; ok {
		t.Fatalf("events channel still open after unsubscribe")
	}
	if n := tr.events.subscriberCount(id); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestGetSummaryCachesUntilRefresh(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, store.NewMemoryStore(), retrieval.NoopGateway{})
	view, err := tr.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id := view.Session.ID
	if _, err := tr.AppendMessage(ctx, id, "user", "I feel a bit tired today"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	first, err := tr.GetSummary(ctx, id, false)
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if first.MessageCount != 1 {
		t.Fatalf("MessageCount = %d, want 1", first.MessageCount)
	}

	if _, err := tr.AppendMessage(ctx, id, "assistant", "Thanks for telling me."); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	cached, err := tr.GetSummary(ctx, id, false)
	if err != nil {
		t.Fatalf("GetSummary(cached) error = %v", err)
	}
	if cached.MessageCount != 1 {
		t.Fatalf("cached MessageCount = %d, want 1", cached.MessageCount)
	}

	refreshed, err := tr.GetSummary(ctx, id, true)
	if err != nil {
		t.Fatalf("GetSummary(refresh) error = %v", err)
	}
	if refreshed.MessageCount != 2 {
		t.Fatalf("refreshed MessageCount = %d, want 2", refreshed.MessageCount)
	}

	if _, err := tr.GetSummary(ctx, "missing", false); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("GetSummary(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMildMessageFadesAcrossNeutralTurns(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, store.NewMemoryStore(), retrieval.NoopGateway{})
	view, err := tr.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id := view.Session.ID

	first, err := tr.AppendMessage(ctx, id, "user", "I feel a bit tired today")
	if err != nil {
		t.Fatalf("AppendMessage(tired) error = %v", err)
	}
	if first.Tier != risk.TierCaution || first.Message.BaseSignal <= 0 {
		t.Fatalf("first = tier %q base %v, want caution with own signal", first.Tier, first.Message.BaseSignal)
	}

	for i := 1; i <= 8; i++ {
		res, err := tr.AppendMessage(ctx, id, "user", "we had pasta for dinner and watched a movie")
		if err != nil {
			t.Fatalf("AppendMessage(neutral %d) error = %v", i, err)
		}
		if res.Tier.AtLeast(risk.TierHigh) {
			t.Fatalf("neutral %d Tier = %q notes %v, want below high", i, res.Tier, res.Assessment.Notes)
		}
		if i >= 3 && (res.Tier != risk.TierOK || res.Action != guardrail.ActionOK) {
			t.Fatalf("neutral %d = tier %q action %q, want ok", i, res.Tier, res.Action)
		}
	}
}

func TestCrisisThenRecoveryReturnsToOK(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, store.NewMemoryStore(), retrieval.NoopGateway{})
	view, err := tr.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	id := view.Session.ID

	if _, err := tr.AppendMessage(ctx, id, "user", "I want to end my life"); err != nil {
		t.Fatalf("AppendMessage(crisis) error = %v", err)
	}
	contents := []string{
		"thanks, I am feeling much better and calm now",
		"we had pasta for dinner",
		"then we watched a movie",
		"the weather was nice",
		"I went for a walk after",
	}
	var last AppendResult
	for _, c := range contents {
		last, err = tr.AppendMessage(ctx, id, "user", c)
		if err != nil {
			t.Fatalf("AppendMessage(%q) error = %v", c, err)
		}
	}
	if last.Tier != risk.TierOK {
		t.Fatalf("Tier after recovery = %q notes %v, want ok", last.Tier, last.Assessment.Notes)
	}
}

func TestKeyedLocksSerializePerKey(t *testing.T) {
	locks := newKeyedLocks()
	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatalf("second Lock(a) acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlockB()
	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second Lock(a) never acquired")
	}
}
