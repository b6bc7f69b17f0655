package risk

import "math"

// Band buckets a sentiment score.
type Band string

const (
	BandPositive Band = "positive"
	BandNeutral  Band = "neutral"
	BandNegative Band = "negative"
)

// Bands lists every band in display order.
var Bands = []Band{BandPositive, BandNeutral, BandNegative}

const bandThreshold = 0.1

// Sentiment is a lexicon sentiment score in [-1, 1].
type Sentiment struct {
	Score  float64  `json:"score"`
	Band   Band     `json:"band"`
	Tokens []string `json:"tokens,omitempty"`
}

// BandFor maps a score to its band.
func BandFor(score float64) Band {
	switch {
	case score > bandThreshold:
		return BandPositive
	case score < -bandThreshold:
		return BandNegative
	default:
		return BandNeutral
	}
}

// Sentiment scores text as (positive - negative) / matched words. A negation
// word directly before a matched word flips its polarity.
func (l *Lexicon) Sentiment(text string) Sentiment {
	tokens := Tokenize(text)
	var (
		sum     int
		total   int
		matched []string
	)
	for i, tok := range tokens {
		polarity := 0
		if _, ok := l.positive[tok]; ok {
			polarity = 1
		} else if _, ok := l.negative[tok]; ok {
			polarity = -1
		}
		if polarity == 0 {
			continue
		}
		if i > 0 {
			if _, ok := l.negations[tokens[i-1]]; ok {
				polarity = -polarity
			}
		}
		sum += polarity
		total++
		matched = append(matched, tok)
	}

	score := 0.0
	if total > 0 {
		score = round3(float64(sum) / float64(total))
	}
	return Sentiment{Score: score, Band: BandFor(score), Tokens: matched}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
