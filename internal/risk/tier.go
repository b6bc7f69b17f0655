// Package risk classifies conversational messages into ordered risk tiers.
//
// A Classifier scores a message against weighted lexicons and the recent
// conversation; a Pipeline then lets registered adapters escalate (never
// lower) that result.
package risk

import (
	"fmt"
	"strings"
)

// Tier is an ordered risk classification: ok < caution < high < crisis.
type Tier string

const (
	TierOK      Tier = "ok"
	TierCaution Tier = "caution"
	TierHigh    Tier = "high"
	TierCrisis  Tier = "crisis"
)

// Tiers lists every tier in ascending severity.
var Tiers = []Tier{TierOK, TierCaution, TierHigh, TierCrisis}

// Rank returns the tier's severity, or -1 for an unknown tier.
func (t Tier) Rank() int {
	switch t {
	case TierOK:
		return 0
	case TierCaution:
		return 1
	case TierHigh:
		return 2
	case TierCrisis:
		return 3
	default:
		return -1
	}
}

func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// AtLeast reports whether t is as severe as other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

func ParseTier(v string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(v)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown risk tier %q", v)
	}
	return t, nil
}

// MaxTier returns the more severe of a and b. Unknown tiers never win.
func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func nextTier(t Tier) (Tier, bool) {
	r := t.Rank()
	if r < 0 || r+1 >= len(Tiers) {
		return t, false
	}
	return Tiers[r+1], true
}
