package assess

import (
	"context"
	"testing"

	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/risk"
)

func newTestEvaluator(t *testing.T, adapterNames ...string) *Evaluator {
	t.Helper()
	engine, err := guardrail.NewEngine(guardrail.DefaultTemplates())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	pipeline, err := risk.NewPipeline(0)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	for _, name := range adapterNames {
		a, err := risk.BuiltinAdapter(context.Background(), name, risk.BuiltinOptions{})
		if err != nil {
			t.Fatalf("BuiltinAdapter(%q) error = %v", name, err)
		}
		if err := pipeline.Register(a); err != nil {
			t.Fatalf("Register(%q) error = %v", name, err)
		}
	}
	e, err := New(risk.NewClassifier(nil, risk.DefaultClassifierOptions()), pipeline, engine)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func TestEvaluateMeansAtHighTierIsCrisis(t *testing.T) {
	e := newTestEvaluator(t, risk.BuiltinAdapterNames()...)
	got := e.Evaluate(context.Background(), "", risk.SenderUser, "I have pills and I can't go on", nil)
	if got.Assessment.Tier != risk.TierCrisis {
		t.Fatalf("Tier = %q, want crisis (notes %v)", got.Assessment.Tier, got.Assessment.Notes)
	}
	if got.Decision.Action != guardrail.ActionCrisisOverride || !got.Decision.HotlineFlag {
		t.Fatalf("Decision = %+v, want crisis_override with hotline", got.Decision)
	}
	if got.Assessment.BaseSignal <= 0 {
		t.Fatalf("BaseSignal = %v, want own signal recorded", got.Assessment.BaseSignal)
	}
}

func TestEvaluateNeutralIsOK(t *testing.T) {
	e := newTestEvaluator(t)
	got := e.Evaluate(context.Background(), "s1", risk.SenderUser, "We went for a walk by the lake.", nil)
	if got.Assessment.Tier != risk.TierOK || got.Decision.Action != guardrail.ActionOK {
		t.Fatalf("Evaluate() = %+v, want ok", got)
	}
	if len(e.Adapters()) != 0 {
		t.Fatalf("Adapters() = %v, want none", e.Adapters())
	}
}

func TestNewRequiresClassifierAndGuardrail(t *testing.T) {
	engine, err := guardrail.NewEngine(guardrail.DefaultTemplates())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if _, err := New(nil, nil, engine); err == nil {
		t.Fatalf("New(nil classifier) error = nil, want error")
	}
	if _, err := New(risk.NewClassifier(nil, risk.DefaultClassifierOptions()), nil, nil); err == nil {
		t.Fatalf("New(nil guardrail) error = nil, want error")
	}
}
