package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consultx/consultx/internal/risk"
)

// Pipeline stage names reported at /perf/latency.
const (
	StageClassify  = "classify"
	StageAdapters  = "adapters"
	StageGuardrail = "guardrail"
	StageRetrieval = "retrieval"
	StagePersist   = "persist"
	StageTotal     = "total"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	MessagesAssessed   *prometheus.CounterVec
	HardTriggers       prometheus.Counter
	AdapterFailures    *prometheus.CounterVec
	AdapterEscalations *prometheus.CounterVec
	RetrievalOutcomes  *prometheus.CounterVec
	StoreWriteFailures *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	PipelineLatency    prometheus.Histogram

	gatherer prometheus.Gatherer
	latency  *latencyTracker
}

// NewMetrics registers instruments on reg, or on the default registry when
// reg is nil.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently active.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		MessagesAssessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_assessed_total",
			Help:      "Messages assessed by final tier and guardrail action.",
		}, []string{"tier", "action"}),
		HardTriggers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hard_triggers_total",
			Help:      "Messages that matched a hard trigger phrase.",
		}),
		AdapterFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_failures_total",
			Help:      "Adapter errors, panics and timeouts by adapter.",
		}, []string{"adapter"}),
		AdapterEscalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_escalations_total",
			Help:      "Tier escalations by adapter and resulting tier.",
		}, []string{"adapter", "tier"}),
		RetrievalOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_outcomes_total",
			Help:      "Retrieval calls by outcome.",
		}, []string{"outcome"}),
		StoreWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Repository write failures by operation.",
		}, []string{"operation"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		PipelineLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_ms",
			Help:      "Append to persisted assessment latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000},
		}),
		gatherer: gatherer,
		latency:  newLatencyTracker(256),
	}
}

func (m *Metrics) AdapterFailed(name string) {
	if m == nil {
		return
	}
	m.AdapterFailures.WithLabelValues(name).Inc()
}

func (m *Metrics) AdapterEscalated(name string, tier risk.Tier) {
	if m == nil {
		return
	}
	m.AdapterEscalations.WithLabelValues(name, string(tier)).Inc()
}

var _ risk.PipelineObserver = (*Metrics)(nil)

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	switch event {
	case "created":
		m.ActiveSessions.Inc()
	case "ended":
		m.ActiveSessions.Dec()
	}
}

func (m *Metrics) MessageAssessed(tier risk.Tier, action string, hardTrigger bool) {
	if m == nil {
		return
	}
	m.MessagesAssessed.WithLabelValues(string(tier), action).Inc()
	if hardTrigger {
		m.HardTriggers.Inc()
	}
}

func (m *Metrics) RetrievalOutcome(outcome string) {
	if m == nil {
		return
	}
	m.RetrievalOutcomes.WithLabelValues(outcome).Inc()
	m.latency.retrieval(outcome)
}

func (m *Metrics) StoreWriteFailed(operation string) {
	if m == nil {
		return
	}
	m.StoreWriteFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// ObservePipelineLatency records a full append for a message that settled
// at tier.
func (m *Metrics) ObservePipelineLatency(tier risk.Tier, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineLatency.Observe(float64(d.Milliseconds()))
	m.latency.message(tier, durationMS(d))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.stage(stage, durationMS(d))
}

func (m *Metrics) Latency() LatencyReport {
	if m == nil {
		return newLatencyTracker(0).report()
	}
	return m.latency.report()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
