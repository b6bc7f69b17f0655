package risk

import (
	"fmt"
	"strings"
)

// Thresholds are the signal levels at which each tier starts. A signal that
// falls within RoundUpMargin below a threshold is promoted to that tier.
type Thresholds struct {
	Caution       float64
	High          float64
	Crisis        float64
	RoundUpMargin float64
}

const epsilon = 1e-9

func DefaultThresholds() Thresholds {
	return Thresholds{
		Caution:       0.2,
		High:          0.6,
		Crisis:        1.2,
		RoundUpMargin: 0.1,
	}
}

func (t Thresholds) of(tier Tier) float64 {
	switch tier {
	case TierCaution:
		return t.Caution
	case TierHigh:
		return t.High
	case TierCrisis:
		return t.Crisis
	default:
		return 0
	}
}

type ClassifierOptions struct {
	Thresholds Thresholds
	// SentimentWeight scales a negative sentiment score into signal.
	SentimentWeight float64
	// CarryWeight is the share of the previous user turn's signal carried
	// into the current one. Older turns decay by Decay per step.
	CarryWeight float64
	Decay       float64
}

func DefaultClassifierOptions() ClassifierOptions {
	return ClassifierOptions{
		Thresholds:      DefaultThresholds(),
		SentimentWeight: 0.15,
		CarryWeight:     0.5,
		Decay:           0.5,
	}
}

// Classifier is the base lexicon scorer. It holds no mutable state and is
// safe for concurrent use.
type Classifier struct {
	lex  *Lexicon
	opts ClassifierOptions
}

func NewClassifier(lex *Lexicon, opts ClassifierOptions) *Classifier {
	if lex == nil {
		lex = DefaultLexicon()
	}
	def := DefaultClassifierOptions()
	if opts.Thresholds.Crisis <= 0 {
		opts.Thresholds = def.Thresholds
	}
	if opts.SentimentWeight < 0 {
		opts.SentimentWeight = 0
	}
	if opts.CarryWeight <= 0 || opts.CarryWeight > 1 {
		opts.CarryWeight = def.CarryWeight
	}
	if opts.Decay <= 0 || opts.Decay >= 1 {
		opts.Decay = def.Decay
	}
	return &Classifier{lex: lex, opts: opts}
}

func (c *Classifier) Lexicon() *Lexicon {
	return c.lex
}

// Sentiment scores text with the classifier's lexicon.
func (c *Classifier) Sentiment(text string) Sentiment {
	return c.lex.Sentiment(text)
}

// Classify scores in against the lexicons, taking prior buffer turns (oldest
// first) into account. Only user turns accumulate.
func (c *Classifier) Classify(in Input, prior []Turn) Assessment {
	text := normalizeText(in.Content)
	th := c.opts.Thresholds

	hard := matchTerms(c.lex.hardTriggers, text)
	high := matchTerms(c.lex.high, text)
	caution := matchTerms(c.lex.caution, text)

	var notes []string
	flags := unionFlags(nil, matchTexts(hard, high, caution))

	if len(hard) > 0 {
		notes = append(notes, "hard trigger matched: "+strings.Join(matchTexts(hard), ", "))
		return Assessment{
			Tier:        TierCrisis,
			Score:       1,
			Flags:       flags,
			Notes:       notes,
			HardTrigger: true,
			BaseSignal:  1,
		}
	}

	signal := 0.0
	if len(high) > 0 {
		signal += sumWeights(high)
		notes = append(notes, "high-risk terms: "+strings.Join(matchTexts(high), ", "))
	}
	if len(caution) > 0 {
		signal += sumWeights(caution)
		notes = append(notes, "caution terms: "+strings.Join(matchTexts(caution), ", "))
	}
	if in.Sentiment.Score < 0 && c.opts.SentimentWeight > 0 {
		contrib := -in.Sentiment.Score * c.opts.SentimentWeight
		signal += contrib
		notes = append(notes, fmt.Sprintf("negative sentiment added %.3f", contrib))
	}
	base := signal
	if in.Sender == SenderUser {
		if carry, n := c.carry(prior); carry > 0 {
			signal += carry
			notes = append(notes, fmt.Sprintf("prior distress carried %.3f from %d turn(s)", carry, n))
		}
	}

	tier := TierOK
	for _, t := range Tiers[1:] {
		if signal >= th.of(t)-epsilon {
			tier = t
		}
	}
	if next, ok := nextTier(tier); ok && signal > 0 {
		if limit := th.of(next); signal < limit-epsilon && signal >= limit-th.RoundUpMargin-epsilon {
			notes = append(notes, fmt.Sprintf("signal %.3f within %.2f of %s threshold, rounded up", signal, th.RoundUpMargin, next))
			tier = next
		}
	}

	return Assessment{
		Tier:       tier,
		Score:      c.normalize(signal),
		Flags:      flags,
		Notes:      notes,
		BaseSignal: c.normalize(base),
	}
}

func (c *Classifier) normalize(signal float64) float64 {
	v := signal / c.opts.Thresholds.Crisis
	if v > 1 {
		v = 1
	}
	return round3(v)
}

// carry sums the decayed BaseSignal of prior user turns, newest first.
// Stored scores already include carry and must not feed it.
func (c *Classifier) carry(prior []Turn) (float64, int) {
	weight := c.opts.CarryWeight
	total := 0.0
	n := 0
	for _, turn := range userTurnsNewestFirst(prior) {
		if turn.BaseSignal > 0 {
			total += weight * turn.BaseSignal * c.opts.Thresholds.Crisis
			n++
		}
		weight *= c.opts.Decay
	}
	return round3(total), n
}

func matchTexts(sets ...[]match) []string {
	var out []string
	for _, set := range sets {
		for _, m := range set {
			out = append(out, m.text)
		}
	}
	return out
}

func sumWeights(ms []match) float64 {
	total := 0.0
	for _, m := range ms {
		total += m.weight
	}
	return total
}
