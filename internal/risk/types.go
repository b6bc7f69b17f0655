package risk

import (
	"sort"
)

// SenderUser is the sender value whose turns accumulate distress.
const SenderUser = "user"

// Assessment is the risk result for a single message.
type Assessment struct {
	Tier        Tier     `json:"tier"`
	Score       float64  `json:"score"`
	Flags       []string `json:"flagged_keywords"`
	Notes       []string `json:"notes"`
	HardTrigger bool     `json:"hard_trigger"`
	// BaseSignal is the message's own signal on the Score scale, before any
	// carry from prior turns or adapter escalation.
	BaseSignal  float64  `json:"base_signal"`
}

func (a Assessment) Clone() Assessment {
	out := a
	if a.Flags != nil {
		out.Flags = append([]string(nil), a.Flags...)
	}
	if a.Notes != nil {
		out.Notes = append([]string(nil), a.Notes...)
	}
	return out
}

// Input is the message being assessed.
type Input struct {
	SessionID string
	Sender    string
	Content   string
	Sentiment Sentiment
}

// Turn is a lightweight view of a prior message in the rolling buffer,
// oldest first when passed as a slice. BaseSignal is the turn's own signal
// without carry.
type Turn struct {
	MessageID  string
	Position   int
	Sender     string
	Content    string
	Sentiment  float64
	Tier       Tier
	Score      float64
	BaseSignal float64
}

func unionFlags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, set := range [][]string{a, b} {
		for _, f := range set {
			if f == "" {
				continue
			}
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// userTurnsNewestFirst returns prior user turns starting at the most recent.
func userTurnsNewestFirst(prior []Turn) []Turn {
	out := make([]Turn, 0, len(prior))
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].Sender == SenderUser {
			out = append(out, prior[i])
		}
	}
	return out
}
