package risk

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed means_policy.rego
var defaultMeansPolicy string

const regoQuery = "data.consultx.risk.proposals"

// RegoAdapter evaluates a rego module whose `proposals` partial set yields
// objects of the form {"tier": "...", "note": "..."}.
type RegoAdapter struct {
	name  string
	query rego.PreparedEvalQuery
}

// DefaultMeansPolicy returns the embedded means_policy module.
func DefaultMeansPolicy() string {
	return defaultMeansPolicy
}

func NewRegoAdapter(ctx context.Context, name, module string) (*RegoAdapter, error) {
	r := rego.New(
		rego.Query(regoQuery),
		rego.Module(name+".rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego adapter %s: %w", name, err)
	}
	return &RegoAdapter{name: name, query: query}, nil
}

// LoadRegoAdapter reads the module from path, falling back to the embedded
// policy when path is empty.
func LoadRegoAdapter(ctx context.Context, name, path string) (*RegoAdapter, error) {
	module := defaultMeansPolicy
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rego policy %s: %w", path, err)
		}
		module = string(data)
	}
	return NewRegoAdapter(ctx, name, module)
}

func (a *RegoAdapter) Name() string { return a.name }

func (a *RegoAdapter) Assess(ctx context.Context, in Input, prior []Turn, current Assessment) (Assessment, error) {
	results, err := a.query.Eval(ctx, rego.EvalInput(regoInput(in, prior, current)))
	if err != nil {
		return Assessment{}, fmt.Errorf("evaluate rego adapter %s: %w", a.name, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return current, nil
	}

	proposals, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return Assessment{}, fmt.Errorf("rego adapter %s: unexpected result type %T", a.name, results[0].Expressions[0].Value)
	}

	out := current.Clone()
	var notes []string
	for _, raw := range proposals {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return Assessment{}, fmt.Errorf("rego adapter %s: unexpected proposal %T", a.name, raw)
		}
		label, _ := obj["tier"].(string)
		tier, err := ParseTier(label)
		if err != nil {
			return Assessment{}, fmt.Errorf("rego adapter %s: %w", a.name, err)
		}
		out.Tier = MaxTier(out.Tier, tier)
		if note, _ := obj["note"].(string); strings.TrimSpace(note) != "" {
			notes = append(notes, note)
		}
	}
	// Set results come back in unspecified order.
	sort.Strings(notes)
	out.Notes = append(out.Notes, notes...)
	return out, nil
}

func regoInput(in Input, prior []Turn, current Assessment) map[string]interface{} {
	flags := current.Flags
	if flags == nil {
		flags = []string{}
	}
	tiers := make([]string, 0, len(prior))
	for _, t := range prior {
		if t.Sender == SenderUser && t.BaseSignal > 0 {
			tiers = append(tiers, string(t.Tier))
		}
	}
	tokens := Tokenize(in.Content)
	if tokens == nil {
		tokens = []string{}
	}
	return map[string]interface{}{
		"sender":       in.Sender,
		"content":      in.Content,
		"tokens":       tokens,
		"tier":         string(current.Tier),
		"score":        current.Score,
		"flags":        flags,
		"sentiment":    in.Sentiment.Score,
		"buffer_tiers": tiers,
	}
}
