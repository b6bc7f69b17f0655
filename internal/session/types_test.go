package session

import (
	"errors"
	"testing"

	"github.com/consultx/consultx/internal/guardrail"
	"github.com/consultx/consultx/internal/risk"
)

func TestParseSender(t *testing.T) {
	got, err := ParseSender(" User ")
	if err != nil || got != SenderUser {
		t.Fatalf("ParseSender() = %q, %v, want %q", got, err, SenderUser)
	}
	for _, in := range []string{"", "bot"} {
		if _, err := ParseSender(in); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseSender(%q) error = %v, want ErrValidation", in, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if got, err := ParseStatus(""); err != nil || got != "" {
		t.Fatalf("ParseStatus(\"\") = %q, %v", got, err)
	}
	if got, err := ParseStatus("ENDED"); err != nil || got != StatusEnded {
		t.Fatalf("ParseStatus() = %q, %v, want %q", got, err, StatusEnded)
	}
	if _, err := ParseStatus("paused"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseStatus() error = %v, want ErrValidation", err)
	}
}

func TestBuildMessageCopiesAssessment(t *testing.T) {
	a := risk.Assessment{Tier: risk.TierHigh, Score: 0.7, Flags: []string{"die"}}
	msg := BuildMessage("s1", NewMessage{
		Sender:     SenderUser,
		Content:    "x",
		Sentiment:  risk.Sentiment{Score: -0.5, Band: risk.BandNegative},
		Assessment: a,
		Decision:   guardrail.Decision{Action: guardrail.ActionSoften},
	})
	a.Flags[0] = "changed"
	if msg.Flags[0] != "die" {
		t.Fatalf("Flags = %v, shares storage with assessment", msg.Flags)
	}
	if msg.Notes == nil {
		t.Fatalf("Notes = nil, want empty slice")
	}
	if msg.Tier != risk.TierHigh || msg.Action != guardrail.ActionSoften || msg.SentimentBand != risk.BandNegative {
		t.Fatalf("BuildMessage() = %+v", msg)
	}
}
