// Package tracker drives a message through the risk pipeline: buffer,
// classify, adapt, guard, retrieve and persist, one session at a time.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/consultx/consultx/internal/assess"
	"github.com/consultx/consultx/internal/buffer"
	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/observability"
	"github.com/consultx/consultx/internal/policy"
	"github.com/consultx/consultx/internal/protocol"
	"github.com/consultx/consultx/internal/retrieval"
	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
	"github.com/consultx/consultx/internal/summary"
)

const (
	logSnippetMax   = 80
	queryPriorTurns = 2
)

// Deps are the collaborators a Tracker wires together. Metrics may be nil.
type Deps struct {
	Repository session.Repository
	Evaluator  *assess.Evaluator
	Retrieval  *retrieval.Bounded
	Summaries  *summary.Generator
	Buffers    *buffer.Cache
	Metrics    *observability.Metrics
}

type Tracker struct {
	repo      session.Repository
	evaluator *assess.Evaluator
	retrieval *retrieval.Bounded
	summaries *summary.Generator
	buffers   *buffer.Cache
	metrics   *observability.Metrics

	locks  *keyedLocks
	events *hub
}

// SessionView is a session with its rolling buffer and, when requested,
// running metrics.
type SessionView struct {
	Session session.Session  `json:"session"`
	Buffer  buffer.Snapshot  `json:"buffer"`
	Metrics *summary.Metrics `json:"metrics,omitempty"`
}

type AppendResult struct {
	Message     session.Message     `json:"message"`
	Tier        risk.Tier           `json:"tier"`
	Action      guardrail.Action    `json:"action"`
	HotlineFlag bool                `json:"hotline_flag"`
	Assessment  risk.Assessment     `json:"assessment"`
	Decision    guardrail.Decision  `json:"decision"`
	Snippets    []retrieval.Snippet `json:"snippets"`
	Retrieval   retrieval.Outcome   `json:"retrieval"`
}

type EndResult struct {
	Session session.Session `json:"session"`
	Summary session.Summary `json:"summary"`
}

func New(d Deps) (*Tracker, error) {
	switch {
	case d.Repository == nil:
		return nil, errors.New("tracker: repository is required")
	case d.Evaluator == nil:
		return nil, errors.New("tracker: evaluator is required")
	}
	if d.Retrieval == nil {
		d.Retrieval = retrieval.NewBounded(retrieval.NoopGateway{}, retrieval.DefaultK, 0)
	}
	if d.Summaries == nil {
		d.Summaries = summary.NewGenerator(nil, 0)
	}
	if d.Buffers == nil {
		d.Buffers = buffer.NewCache(buffer.DefaultCapacity)
	}
	if d.Metrics != nil {
		d.Evaluator.SetMetrics(d.Metrics)
	}
	return &Tracker{
		repo:      d.Repository,
		evaluator: d.Evaluator,
		retrieval: d.Retrieval,
		summaries: d.Summaries,
		buffers:   d.Buffers,
		metrics:   d.Metrics,
		locks:     newKeyedLocks(),
		events:    newHub(),
	}, nil
}

// Subscribe streams message_assessed and session_ended events for one session.
func (t *Tracker) Subscribe(sessionID string) (<-chan Event, func()) {
	return t.events.Subscribe(sessionID)
}

func (t *Tracker) Ping(ctx context.Context) error {
	return t.repo.Ping(ctx)
}

func (t *Tracker) CreateSession(ctx context.Context, userID string, metadata map[string]any) (SessionView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SessionView{}, fmt.Errorf("%w: user_id is required", session.ErrValidation)
	}
	sess, err := t.repo.CreateSession(ctx, userID, metadata)
	if err != nil {
		return SessionView{}, t.writeError("create_session", err)
	}
	snap := t.buffers.Load(sess.ID, nil)
	t.metrics.SessionEvent("created")
	log.Printf("session created session_id=%s user_id=%s", sess.ID, sess.UserID)
	return SessionView{Session: sess, Buffer: snap}, nil
}

// GetSession returns the session, its buffer and metrics over the full history.
func (t *Tracker) GetSession(ctx context.Context, id string) (SessionView, error) {
	sess, err := t.repo.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	msgs, err := t.repo.ListMessages(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	snap, ok := t.buffers.Get(id)
	if !ok {
		snap = snapshotOf(id, t.buffers.Capacity(), msgs)
	}
	metrics := summary.ComputeMetrics(msgs)
	return SessionView{Session: sess, Buffer: snap, Metrics: &metrics}, nil
}

func (t *Tracker) ListSessions(ctx context.Context, userID, status string) ([]session.Session, error) {
	st, err := session.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return t.repo.ListSessions(ctx, session.Filter{UserID: strings.TrimSpace(userID), Status: st})
}

// AppendMessage runs one message through the pipeline and persists it. The
// session lock is held for the whole run, so appends to one session are
// classified against a buffer that includes every earlier message.
func (t *Tracker) AppendMessage(ctx context.Context, sessionID, sender, content string) (AppendResult, error) {
	started := time.Now()
	s, err := session.ParseSender(sender)
	if err != nil {
		return AppendResult{}, err
	}
	if strings.TrimSpace(content) == "" {
		return AppendResult{}, fmt.Errorf("%w: content is required", session.ErrValidation)
	}

	unlock := t.locks.Lock(sessionID)
	defer unlock()

	sess, err := t.repo.GetSession(ctx, sessionID)
	if err != nil {
		return AppendResult{}, err
	}
	if !sess.Active() {
		return AppendResult{}, fmt.Errorf("%w: session %s has ended", session.ErrInvalidState, sessionID)
	}

	snap, err := t.buffer(ctx, sessionID)
	if err != nil {
		return AppendResult{}, err
	}
	prior := snap.Turns()
	eval := t.evaluator.Evaluate(ctx, sessionID, string(s), content, prior)

	snippets := []retrieval.Snippet{}
	outcome := retrieval.OutcomeSkipped
	if !eval.Decision.SuppressGrounding {
		stage := time.Now()
		snippets, outcome = t.retrieval.Retrieve(ctx, retrieval.BuildQuery(queryTurns(prior), content, queryPriorTurns))
		t.metrics.ObserveStage(observability.StageRetrieval, time.Since(stage))
	}
	t.metrics.RetrievalOutcome(string(outcome))

	stage := time.Now()
	msg, err := t.repo.AppendMessage(ctx, sessionID, session.NewMessage{
		Sender:     s,
		Content:    content,
		Sentiment:  eval.Sentiment,
		Assessment: eval.Assessment,
		Decision:   eval.Decision,
	})
	if err != nil {
		return AppendResult{}, t.writeError("append_message", err)
	}
	t.metrics.ObserveStage(observability.StagePersist, time.Since(stage))
	t.buffers.Push(sessionID, entryOf(msg))

	t.metrics.MessageAssessed(msg.Tier, string(msg.Action), msg.HardTrigger)
	t.metrics.ObservePipelineLatency(msg.Tier, time.Since(started))
	log.Printf("message assessed session_id=%s position=%d sender=%s tier=%s action=%s hotline=%t content=%q",
		sessionID, msg.Position, msg.Sender, msg.Tier, msg.Action, msg.HotlineFlag, policy.LogSnippet(content, logSnippetMax))

	res := AppendResult{
		Message:     msg,
		Tier:        msg.Tier,
		Action:      msg.Action,
		HotlineFlag: msg.HotlineFlag,
		Assessment:  eval.Assessment,
		Decision:    eval.Decision,
		Snippets:    snippets,
		Retrieval:   outcome,
	}
	t.events.publish(Event{
		Type:      protocol.TypeMessageAssessed,
		SessionID: sessionID,
		Payload: protocol.MessageAssessed{
			Type:        protocol.TypeMessageAssessed,
			SessionID:   sessionID,
			Message:     msg,
			Tier:        msg.Tier,
			Action:      msg.Action,
			HotlineFlag: msg.HotlineFlag,
			Decision:    eval.Decision,
			At:          msg.CreatedAt,
		},
	})
	return res, nil
}

// EndSession ends the session and stores a fresh summary, superseding any
// summary generated while it was active.
func (t *Tracker) EndSession(ctx context.Context, id string) (EndResult, error) {
	unlock := t.locks.Lock(id)
	defer unlock()

	sess, err := t.repo.EndSession(ctx, id)
	if err != nil {
		return EndResult{}, t.writeError("end_session", err)
	}
	t.buffers.Drop(id)
	t.metrics.SessionEvent("ended")

	msgs, err := t.repo.ListMessages(ctx, id)
	if err != nil {
		return EndResult{}, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	sum := t.summaries.Generate(sess, msgs)
	if err := t.repo.SaveSummary(ctx, sum, true); err != nil {
		return EndResult{}, t.writeError("save_summary", err)
	}
	log.Printf("session ended session_id=%s messages=%d max_tier=%s", id, sum.MessageCount, sum.MaxTier)

	t.events.publish(Event{
		Type:      protocol.TypeSessionEnded,
		SessionID: id,
		Payload: protocol.SessionEnded{
			Type:      protocol.TypeSessionEnded,
			SessionID: id,
			Session:   sess,
			Summary:   sum,
			At:        sum.GeneratedAt,
		},
	})
	return EndResult{Session: sess, Summary: sum}, nil
}

// GetSummary returns the stored summary, generating and caching one when
// none exists. refresh regenerates and supersedes the stored summary.
func (t *Tracker) GetSummary(ctx context.Context, id string, refresh bool) (session.Summary, error) {
	unlock := t.locks.Lock(id)
	defer unlock()

	sess, err := t.repo.GetSession(ctx, id)
	if err != nil {
		return session.Summary{}, err
	}
	if !refresh {
		sum, err := t.repo.GetSummary(ctx, id)
		if err == nil {
			return sum, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return session.Summary{}, err
		}
	}

	msgs, err := t.repo.ListMessages(ctx, id)
	if err != nil {
		return session.Summary{}, err
	}
	sum := t.summaries.Generate(sess, msgs)
	if err := t.repo.SaveSummary(ctx, sum, refresh); err != nil {
		if errors.Is(err, session.ErrSummaryExists) {
			return t.repo.GetSummary(ctx, id)
		}
		return session.Summary{}, t.writeError("save_summary", err)
	}
	return sum, nil
}

// buffer returns the cached window, rebuilding it from the last persisted
// messages after a restart or eviction.
func (t *Tracker) buffer(ctx context.Context, id string) (buffer.Snapshot, error) {
	if snap, ok := t.buffers.Get(id); ok {
		return snap, nil
	}
	msgs, err := t.repo.RecentMessages(ctx, id, t.buffers.Capacity())
	if err != nil {
		return buffer.Snapshot{}, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	entries := make([]buffer.Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, entryOf(m))
	}
	return t.buffers.Load(id, entries), nil
}

// writeError passes domain errors through and reports everything else as
// the repository being unavailable.
func (t *Tracker) writeError(op string, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrValidation),
		errors.Is(err, session.ErrSummaryExists):
		return err
	}
	t.metrics.StoreWriteFailed(op)
	log.Printf("store write failed op=%s err=%v", op, err)
	if errors.Is(err, session.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", session.ErrUnavailable, op, err)
}

func entryOf(m session.Message) buffer.Entry {
	return buffer.Entry{
		MessageID: m.ID,
		Position:  m.Position,
		Sender:    string(m.Sender),
		Content:   m.Content,
		Sentiment: m.Sentiment,
		Tier:      m.Tier,
		Score:     m.RiskScore,
		Signal:    m.BaseSignal,
		CreatedAt: m.CreatedAt,
	}
}

func snapshotOf(id string, capacity int, msgs []session.Message) buffer.Snapshot {
	w := buffer.NewWindow(capacity)
	for _, m := range msgs {
		w.Push(entryOf(m))
	}
	return buffer.Snapshot{SessionID: id, Capacity: w.Capacity(), Entries: w.Entries()}
}

func queryTurns(prior []risk.Turn) []retrieval.Turn {
	out := make([]retrieval.Turn, 0, len(prior))
	for _, p := range prior {
		out = append(out, retrieval.Turn{Sender: p.Sender, Content: p.Content})
	}
	return out
}
