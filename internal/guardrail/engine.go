// Package guardrail maps a final risk tier to the action that shapes the
// assistant's reply.
package guardrail

import (
	"errors"
	"fmt"
	"strings"

	"github.com/consultx/consultx/internal/policy"
	"github.com/consultx/consultx/internal/risk"
)

// Action is how the reply pipeline must treat a message.
type Action string

const (
	ActionOK             Action = "ok"
	ActionSoften         Action = "soften"
	ActionCrisisOverride Action = "crisis_override"
)

var Actions = []Action{ActionOK, ActionSoften, ActionCrisisOverride}

// Hotline is a crisis contact disclosed with a crisis_override decision.
type Hotline struct {
	Label   string `json:"label" yaml:"label"`
	Contact string `json:"contact" yaml:"contact"`
	Link    string `json:"link" yaml:"link"`
}

// CrisisBlock is the fixed response returned instead of a generated reply.
type CrisisBlock struct {
	Message  string    `json:"message"`
	Hotlines []Hotline `json:"hotlines"`
}

// Decision is the guardrail outcome for one message.
type Decision struct {
	Action      Action          `json:"action"`
	HotlineFlag bool            `json:"hotline_flag"`
	Assessment  risk.Assessment `json:"assessment"`
	// SuppressGrounding is set when retrieval and reply generation must not run.
	SuppressGrounding bool         `json:"suppress_grounding"`
	Guidance          string       `json:"guidance,omitempty"`
	Response          *CrisisBlock `json:"response,omitempty"`
}

// Templates is the fixed wording the engine may emit.
type Templates struct {
	SoftenGuidance string
	CrisisMessage  string
	Hotlines       []Hotline
}

func DefaultHotlines() []Hotline {
	return []Hotline{
		{Label: "988 Suicide & Crisis Lifeline", Contact: "988 by call or text (US)", Link: "tel:988"},
		{Label: "Crisis Text Line", Contact: "741741 by text, keyword HOME (US)", Link: "sms:741741"},
	}
}

func DefaultTemplates() Templates {
	return Templates{
		SoftenGuidance: "Tone adjustment: a warm, validating register at a slower pace, acknowledging what the person shared before anything else.",
		CrisisMessage:  "It sounds like you are carrying something really painful right now, and you deserve support in this moment. Trained counselors are available any time, day or night, through the contacts below.",
		Hotlines:       DefaultHotlines(),
	}
}

var ErrDirectiveTemplate = errors.New("guardrail template contains directive wording")

// Engine is a pure tier→action mapping. It is safe for concurrent use.
type Engine struct {
	templates Templates
}

// NewEngine validates templates up front so no directive wording can reach
// a decision.
func NewEngine(t Templates) (*Engine, error) {
	if strings.TrimSpace(t.CrisisMessage) == "" {
		return nil, fmt.Errorf("guardrail: crisis message is required")
	}
	if len(t.Hotlines) == 0 {
		return nil, fmt.Errorf("guardrail: at least one hotline is required")
	}
	check := map[string]string{
		"soften guidance": t.SoftenGuidance,
		"crisis message":  t.CrisisMessage,
	}
	for _, h := range t.Hotlines {
		check["hotline "+h.Label] = h.Label + ". " + h.Contact
	}
	for name, text := range check {
		if policy.LooksDirective(text) {
			return nil, fmt.Errorf("%s: %w", name, ErrDirectiveTemplate)
		}
	}
	hotlines := append([]Hotline(nil), t.Hotlines...)
	t.Hotlines = hotlines
	return &Engine{templates: t}, nil
}

// ActionFor returns the action for tier. Unknown tiers are treated as
// crisis.
func ActionFor(tier risk.Tier) Action {
	switch tier {
	case risk.TierOK:
		return ActionOK
	case risk.TierCaution, risk.TierHigh:
		return ActionSoften
	default:
		return ActionCrisisOverride
	}
}

// Decide maps a final assessment to a decision. A hard trigger always yields
// crisis_override regardless of the reported tier.
func (e *Engine) Decide(a risk.Assessment) Decision {
	action := ActionFor(a.Tier)
	if a.HardTrigger {
		action = ActionCrisisOverride
	}

	d := Decision{
		Action:     action,
		Assessment: a.Clone(),
	}
	switch action {
	case ActionSoften:
		d.Guidance = e.templates.SoftenGuidance
	case ActionCrisisOverride:
		d.HotlineFlag = true
		d.SuppressGrounding = true
		d.Response = &CrisisBlock{
			Message:  e.templates.CrisisMessage,
			Hotlines: append([]Hotline(nil), e.templates.Hotlines...),
		}
	}
	return d
}
