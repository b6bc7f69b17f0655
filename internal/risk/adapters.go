package risk

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Built-in adapter names accepted by BuiltinAdapter.
const (
	AdapterSustainedRisk = "sustained_risk"
	AdapterFarewell      = "farewell"
	AdapterMeansPolicy   = "means_policy"
)

// BuiltinAdapterNames lists the adapters BuiltinAdapter can construct.
func BuiltinAdapterNames() []string {
	names := []string{AdapterSustainedRisk, AdapterFarewell, AdapterMeansPolicy}
	sort.Strings(names)
	return names
}

// BuiltinOptions carries what some built-in adapters need to construct.
type BuiltinOptions struct {
	// PolicyPath overrides the embedded means_policy rego module.
	PolicyPath string
}

// BuiltinAdapter constructs a built-in adapter by name.
func BuiltinAdapter(ctx context.Context, name string, opts BuiltinOptions) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case AdapterSustainedRisk:
		return SustainedRiskAdapter{Window: 2}, nil
	case AdapterFarewell:
		return NewFarewellAdapter(), nil
	case AdapterMeansPolicy:
		return LoadRegoAdapter(ctx, AdapterMeansPolicy, opts.PolicyPath)
	default:
		return nil, fmt.Errorf("unknown risk adapter %q (known: %s)", name, strings.Join(BuiltinAdapterNames(), ", "))
	}
}

// SustainedRiskAdapter escalates to high when the current message and the
// previous Window user turns are all at caution or above on signal of their
// own. Turns elevated only by carry do not count.
type SustainedRiskAdapter struct {
	Window int
}

func (SustainedRiskAdapter) Name() string { return AdapterSustainedRisk }

func (a SustainedRiskAdapter) Assess(_ context.Context, in Input, prior []Turn, current Assessment) (Assessment, error) {
	if in.Sender != SenderUser || current.BaseSignal <= 0 ||
		!current.Tier.AtLeast(TierCaution) || current.Tier.AtLeast(TierHigh) {
		return current, nil
	}
	window := a.Window
	if window <= 0 {
		window = 2
	}
	turns := userTurnsNewestFirst(prior)
	if len(turns) < window {
		return current, nil
	}
	for _, t := range turns[:window] {
		if t.BaseSignal <= 0 || !t.Tier.AtLeast(TierCaution) {
			return current, nil
		}
	}
	out := current.Clone()
	out.Tier = TierHigh
	out.Notes = append(out.Notes, fmt.Sprintf("elevated risk sustained across %d consecutive user turns", window+1))
	return out, nil
}

var defaultFarewellPatterns = []string{
	`(?i)\bsay(ing)?\s+(my\s+)?good\s*byes?\b`,
	`(?i)\bgiv(e|ing)\s+away\s+(all\s+)?my\b`,
	`(?i)\bwon'?t\s+be\s+(around|here)\b`,
	`(?i)\bnobody\s+(will|would)\s+miss\s+me\b`,
	`(?i)\b(a|such\s+a)\s+burden\s+to\b`,
	`(?i)\bwrote\s+(a|my)\s+(letter|note)\s+(to|for)\s+(everyone|my\s+family)\b`,
}

// PatternAdapter escalates to Tier when any of its patterns match.
type PatternAdapter struct {
	AdapterName string
	Tier        Tier
	Patterns    []*regexp.Regexp
}

func NewFarewellAdapter() PatternAdapter {
	patterns := make([]*regexp.Regexp, 0, len(defaultFarewellPatterns))
	for _, p := range defaultFarewellPatterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	return PatternAdapter{AdapterName: AdapterFarewell, Tier: TierHigh, Patterns: patterns}
}

func (a PatternAdapter) Name() string { return a.AdapterName }

func (a PatternAdapter) Assess(_ context.Context, in Input, _ []Turn, current Assessment) (Assessment, error) {
	text := normalizeText(in.Content)
	out := current.Clone()
	hit := false
	for _, re := range a.Patterns {
		if m := re.FindString(text); m != "" {
			hit = true
			out.Flags = append(out.Flags, strings.TrimSpace(m))
		}
	}
	if !hit {
		return current, nil
	}
	out.Tier = MaxTier(out.Tier, a.Tier)
	out.Notes = append(out.Notes, a.AdapterName+" language detected")
	return out, nil
}
