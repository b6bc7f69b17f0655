package observability

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/consultx/consultx/internal/risk"
)

// Per-message latency budgets in milliseconds. Retrieval tracks the default
// retrieval timeout and adapters the default per-adapter timeout.
var stageBudgetsMS = map[string]float64{
	StageClassify:  5,
	StageAdapters:  250,
	StageGuardrail: 5,
	StageRetrieval: 800,
	StagePersist:   100,
	StageTotal:     1200,
}

var stageOrder = []string{StageClassify, StageAdapters, StageGuardrail, StageRetrieval, StagePersist, StageTotal}

// LatencyReport is served at /perf/latency.
type LatencyReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	WindowSize  int             `json:"window_size"`
	Stages      []StageLatency  `json:"stages"`
	Tiers       []TierLatency   `json:"tiers"`
	Retrieval   RetrievalHealth `json:"retrieval"`
}

// StageLatency covers the most recent WindowSize samples of a stage.
// OverBudget counts every sample since start that exceeded BudgetMS.
type StageLatency struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms"`
	OverBudget int     `json:"over_budget"`
}

// TierLatency is end to end append latency for messages that settled at Tier.
type TierLatency struct {
	Tier    risk.Tier `json:"tier"`
	Samples int       `json:"samples"`
	P50MS   float64   `json:"p50_ms"`
	P95MS   float64   `json:"p95_ms"`
}

// RetrievalHealth counts grounding outcomes. DegradedRatio is timeouts and
// errors over attempted retrievals; skipped turns are not attempts.
type RetrievalHealth struct {
	Outcomes      map[string]int `json:"outcomes"`
	Degraded      int            `json:"degraded"`
	DegradedRatio float64        `json:"degraded_ratio"`
}

type recent struct {
	ms   []float64
	over int
}

func (r *recent) add(v float64, limit int) {
	r.ms = append(r.ms, v)
	if len(r.ms) > limit {
		r.ms = r.ms[len(r.ms)-limit:]
	}
}

func (r *recent) sorted() []float64 {
	out := append([]float64(nil), r.ms...)
	sort.Float64s(out)
	return out
}

type latencyTracker struct {
	mu       sync.Mutex
	window   int
	stages   map[string]*recent
	tiers    map[risk.Tier]*recent
	outcomes map[string]int
}

func newLatencyTracker(window int) *latencyTracker {
	if window <= 0 {
		window = 256
	}
	return &latencyTracker{
		window:   window,
		stages:   make(map[string]*recent),
		tiers:    make(map[risk.Tier]*recent),
		outcomes: make(map[string]int),
	}
}

// stage ignores names without a budget.
func (l *latencyTracker) stage(name string, ms float64) {
	budget, ok := stageBudgetsMS[name]
	if !ok || ms < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.stages[name]
	if r == nil {
		r = &recent{}
		l.stages[name] = r
	}
	r.add(ms, l.window)
	if ms > budget {
		r.over++
	}
}

func (l *latencyTracker) message(tier risk.Tier, ms float64) {
	l.stage(StageTotal, ms)
	if !tier.Valid() || ms < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.tiers[tier]
	if r == nil {
		r = &recent{}
		l.tiers[tier] = r
	}
	r.add(ms, l.window)
}

func (l *latencyTracker) retrieval(outcome string) {
	if outcome == "" {
		return
	}
	l.mu.Lock()
	l.outcomes[outcome]++
	l.mu.Unlock()
}

func (l *latencyTracker) report() LatencyReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	rep := LatencyReport{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  l.window,
		Stages:      []StageLatency{},
		Tiers:       []TierLatency{},
		Retrieval:   RetrievalHealth{Outcomes: make(map[string]int, len(l.outcomes))},
	}
	for _, name := range stageOrder {
		r := l.stages[name]
		if r == nil || len(r.ms) == 0 {
			continue
		}
		s := r.sorted()
		rep.Stages = append(rep.Stages, StageLatency{
			Stage:      name,
			Samples:    len(s),
			P50MS:      round2(nearestRank(s, 0.50)),
			P95MS:      round2(nearestRank(s, 0.95)),
			MaxMS:      round2(s[len(s)-1]),
			BudgetMS:   stageBudgetsMS[name],
			OverBudget: r.over,
		})
	}
	for _, tier := range risk.Tiers {
		r := l.tiers[tier]
		if r == nil || len(r.ms) == 0 {
			continue
		}
		s := r.sorted()
		rep.Tiers = append(rep.Tiers, TierLatency{
			Tier:    tier,
			Samples: len(s),
			P50MS:   round2(nearestRank(s, 0.50)),
			P95MS:   round2(nearestRank(s, 0.95)),
		})
	}

	attempted := 0
	for outcome, n := range l.outcomes {
		rep.Retrieval.Outcomes[outcome] = n
		switch outcome {
		case "skipped":
		case "timeout", "error":
			rep.Retrieval.Degraded += n
			attempted += n
		default:
			attempted += n
		}
	}
	if attempted > 0 {
		rep.Retrieval.DegradedRatio = round2(float64(rep.Retrieval.Degraded) / float64(attempted))
	}
	return rep
}

// nearestRank returns the q-th percentile of a sorted, non-empty slice.
func nearestRank(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
