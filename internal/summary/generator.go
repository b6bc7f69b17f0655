// Package summary aggregates a session's message history into metrics and
// an end-of-session report.
package summary

import (
	"math"
	"sort"
	"time"

	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
)

const DefaultMaxTrendPoints = 50

const (
	noteSustained = "Sustained elevated risk across last three turns."
	noteClimbing  = "Risk climbing on most recent turn."
	noteNegative  = "Overall negative sentiment."
	noteEnded     = "Session marked as ended."

	negativeAverage = -0.3
)

// Metrics are the running aggregates shown alongside a session.
type Metrics struct {
	MessageCount     int               `json:"message_count"`
	UserTurns        int               `json:"user_turns"`
	AssistantTurns   int               `json:"assistant_turns"`
	AverageSentiment float64           `json:"average_sentiment"`
	MaxTier          risk.Tier         `json:"max_tier"`
	LastTier         risk.Tier         `json:"last_tier"`
	HardTriggers     int               `json:"hard_triggers"`
	TierCounts       map[risk.Tier]int `json:"tier_counts"`
	BandCounts       map[risk.Band]int `json:"sentiment_band_counts"`
	FlaggedKeywords  []string          `json:"flagged_keywords"`
	TrendNotes       []string          `json:"trend_notes"`
}

// Generator builds summaries. It is deterministic apart from GeneratedAt.
type Generator struct {
	catalog        *Catalog
	maxTrendPoints int
	now            func() time.Time
}

func NewGenerator(catalog *Catalog, maxTrendPoints int) *Generator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if maxTrendPoints <= 0 {
		maxTrendPoints = DefaultMaxTrendPoints
	}
	return &Generator{
		catalog:        catalog,
		maxTrendPoints: maxTrendPoints,
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// ComputeMetrics aggregates msgs, which must be in position order.
func ComputeMetrics(msgs []session.Message) Metrics {
	m := Metrics{
		MaxTier:         risk.TierOK,
		LastTier:        risk.TierOK,
		TierCounts:      make(map[risk.Tier]int, len(risk.Tiers)),
		BandCounts:      make(map[risk.Band]int, len(risk.Bands)),
		FlaggedKeywords: []string{},
		TrendNotes:      []string{},
	}
	for _, t := range risk.Tiers {
		m.TierCounts[t] = 0
	}
	for _, b := range risk.Bands {
		m.BandCounts[b] = 0
	}

	flags := make(map[string]struct{})
	sum := 0.0
	for _, msg := range msgs {
		m.MessageCount++
		switch msg.Sender {
		case session.SenderUser:
			m.UserTurns++
		case session.SenderAssistant:
			m.AssistantTurns++
		}
		sum += msg.Sentiment

		tier := msg.Tier
		if !tier.Valid() {
			tier = risk.TierCrisis
		}
		m.TierCounts[tier]++
		m.MaxTier = risk.MaxTier(m.MaxTier, tier)
		m.LastTier = tier

		band := msg.SentimentBand
		if band == "" {
			band = risk.BandFor(msg.Sentiment)
		}
		m.BandCounts[band]++

		if msg.HardTrigger {
			m.HardTriggers++
		}
		for _, f := range msg.Flags {
			flags[f] = struct{}{}
		}
	}
	if m.MessageCount > 0 {
		m.AverageSentiment = round3(sum / float64(m.MessageCount))
	}
	for f := range flags {
		m.FlaggedKeywords = append(m.FlaggedKeywords, f)
	}
	sort.Strings(m.FlaggedKeywords)
	m.TrendNotes = trendNotes(msgs, m.AverageSentiment)
	return m
}

func trendNotes(msgs []session.Message, avg float64) []string {
	notes := []string{}
	if len(msgs) == 0 {
		return notes
	}
	if n := len(msgs); n >= 3 {
		sustained := true
		for _, msg := range msgs[n-3:] {
			if !msg.Tier.AtLeast(risk.TierCaution) {
				sustained = false
			}
		}
		if sustained {
			notes = append(notes, noteSustained)
		}
	}
	if n := len(msgs); n >= 2 && msgs[n-1].Tier.Rank() > msgs[n-2].Tier.Rank() {
		notes = append(notes, noteClimbing)
	}
	if avg < negativeAverage {
		notes = append(notes, noteNegative)
	}
	return notes
}

// Generate builds the summary of sess from its full message history.
func (g *Generator) Generate(sess session.Session, msgs []session.Message) session.Summary {
	m := ComputeMetrics(msgs)

	notes := append([]string{}, m.TrendNotes...)
	if sess.Status == session.StatusEnded {
		notes = append(notes, noteEnded)
	}

	return session.Summary{
		SessionID:        sess.ID,
		GeneratedAt:      g.now(),
		MessageCount:     m.MessageCount,
		UserTurns:        m.UserTurns,
		AssistantTurns:   m.AssistantTurns,
		TierCounts:       m.TierCounts,
		MaxTier:          m.MaxTier,
		HardTriggers:     m.HardTriggers,
		SentimentTrend:   g.trend(msgs),
		AverageSentiment: m.AverageSentiment,
		BandCounts:       m.BandCounts,
		FlaggedKeywords:  m.FlaggedKeywords,
		Resources:        g.catalog.Suggest(m.FlaggedKeywords, m.MaxTier.AtLeast(risk.TierHigh)),
		Notes:            notes,
		DurationSeconds:  duration(sess, msgs),
	}
}

// trend returns one point per message, or equal-size buckets averaging
// consecutive messages once the history exceeds maxTrendPoints.
func (g *Generator) trend(msgs []session.Message) []session.TrendPoint {
	out := []session.TrendPoint{}
	if len(msgs) == 0 {
		return out
	}
	size := 1
	if len(msgs) > g.maxTrendPoints {
		size = int(math.Ceil(float64(len(msgs)) / float64(g.maxTrendPoints)))
	}
	for start := 0; start < len(msgs); start += size {
		end := start + size
		if end > len(msgs) {
			end = len(msgs)
		}
		sum := 0.0
		tier := risk.TierOK
		for _, msg := range msgs[start:end] {
			sum += msg.Sentiment
			tier = risk.MaxTier(tier, msg.Tier)
		}
		out = append(out, session.TrendPoint{
			Index:    len(out),
			Position: msgs[end-1].Position,
			Score:    round3(sum / float64(end-start)),
			Tier:     tier,
			Count:    end - start,
		})
	}
	return out
}

func duration(sess session.Session, msgs []session.Message) float64 {
	end := sess.CreatedAt
	if len(msgs) > 0 {
		end = msgs[len(msgs)-1].CreatedAt
	}
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	d := end.Sub(sess.CreatedAt).Seconds()
	if d < 0 {
		return 0
	}
	return round3(d)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
