// Package assess evaluates one message: sentiment, base classification,
// escalate-only adapters and the guardrail decision. It does not persist
// anything; the tracker stores the result.
package assess

import (
	"context"
	"errors"
	"time"

	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/observability"
	"github.com/consultx/consultx/internal/risk"
)

// Evaluation is the outcome of classifying one message before it is stored.
type Evaluation struct {
	Sentiment  risk.Sentiment     `json:"sentiment"`
	Assessment risk.Assessment    `json:"assessment"`
	Decision   guardrail.Decision `json:"decision"`
}

type Evaluator struct {
	classifier *risk.Classifier
	pipeline   *risk.Pipeline
	guard      *guardrail.Engine
	metrics    *observability.Metrics
}

// New wires an evaluator. A nil pipeline runs no adapters.
func New(classifier *risk.Classifier, pipeline *risk.Pipeline, guard *guardrail.Engine) (*Evaluator, error) {
	if classifier == nil {
		return nil, errors.New("assess: classifier is required")
	}
	if guard == nil {
		return nil, errors.New("assess: guardrail engine is required")
	}
	if pipeline == nil {
		p, err := risk.NewPipeline(0)
		if err != nil {
			return nil, err
		}
		pipeline = p
	}
	return &Evaluator{classifier: classifier, pipeline: pipeline, guard: guard}, nil
}

// SetMetrics routes stage timings and adapter outcomes to m.
func (e *Evaluator) SetMetrics(m *observability.Metrics) {
	e.metrics = m
	if m != nil {
		e.pipeline.SetObserver(m)
	}
}

// Adapters lists the registered adapter names in run order.
func (e *Evaluator) Adapters() []string {
	return e.pipeline.Adapters()
}

// Evaluate scores content against prior, the session's buffered turns
// oldest first. prior may be nil for one-off checks.
func (e *Evaluator) Evaluate(ctx context.Context, sessionID, sender, content string, prior []risk.Turn) Evaluation {
	stage := time.Now()
	sentiment := e.classifier.Sentiment(content)
	in := risk.Input{
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
		Sentiment: sentiment,
	}
	base := e.classifier.Classify(in, prior)
	e.metrics.ObserveStage(observability.StageClassify, time.Since(stage))

	stage = time.Now()
	assessment := e.pipeline.Run(ctx, in, prior, base)
	e.metrics.ObserveStage(observability.StageAdapters, time.Since(stage))

	stage = time.Now()
	decision := e.guard.Decide(assessment)
	e.metrics.ObserveStage(observability.StageGuardrail, time.Since(stage))

	return Evaluation{Sentiment: sentiment, Assessment: assessment, Decision: decision}
}
