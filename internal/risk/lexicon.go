package risk

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

// LexiconFile is the on-disk lexicon format.
type LexiconFile struct {
	HardTriggers []string         `yaml:"hard_triggers" json:"hard_triggers,omitempty" jsonschema:"description=Phrases that force the crisis tier. Extends the built-in reviewed set."`
	Tiers        TierWeights      `yaml:"tiers" json:"tiers,omitempty"`
	Sentiment    SentimentLexicon `yaml:"sentiment" json:"sentiment,omitempty"`
}

// TierWeights maps terms to their signal weight per tier. A weight <= 0 in an
// override removes the term.
type TierWeights struct {
	High    map[string]float64 `yaml:"high" json:"high,omitempty"`
	Caution map[string]float64 `yaml:"caution" json:"caution,omitempty"`
}

type SentimentLexicon struct {
	Positive  []string `yaml:"positive" json:"positive,omitempty"`
	Negative  []string `yaml:"negative" json:"negative,omitempty"`
	Negations []string `yaml:"negations" json:"negations,omitempty"`
}

type term struct {
	text   string
	weight float64
	re     *regexp.Regexp
}

// Lexicon is the compiled, read-only form of a LexiconFile. It is safe for
// concurrent use.
type Lexicon struct {
	hardTriggers []term
	high         []term
	caution      []term
	positive     map[string]struct{}
	negative     map[string]struct{}
	negations    map[string]struct{}
}

func ParseLexicon(data []byte) (LexiconFile, error) {
	var f LexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return LexiconFile{}, fmt.Errorf("parse lexicon: %w", err)
	}
	return f, nil
}

// DefaultLexicon returns the embedded lexicon.
func DefaultLexicon() *Lexicon {
	f, err := ParseLexicon(defaultLexiconYAML)
	if err != nil {
		panic(err)
	}
	lex, err := Compile(f)
	if err != nil {
		panic(err)
	}
	return lex
}

// LoadLexicon merges the file at path over the embedded lexicon. An empty
// path returns the embedded lexicon. Hard triggers can be added, not removed.
func LoadLexicon(path string) (*Lexicon, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultLexicon(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	override, err := ParseLexicon(data)
	if err != nil {
		return nil, err
	}
	base, err := ParseLexicon(defaultLexiconYAML)
	if err != nil {
		return nil, err
	}
	return Compile(MergeLexicon(base, override))
}

// MergeLexicon layers override on top of base.
func MergeLexicon(base, override LexiconFile) LexiconFile {
	out := LexiconFile{
		HardTriggers: mergeLists(base.HardTriggers, override.HardTriggers),
		Tiers: TierWeights{
			High:    mergeWeights(base.Tiers.High, override.Tiers.High),
			Caution: mergeWeights(base.Tiers.Caution, override.Tiers.Caution),
		},
		Sentiment: SentimentLexicon{
			Positive:  mergeLists(base.Sentiment.Positive, override.Sentiment.Positive),
			Negative:  mergeLists(base.Sentiment.Negative, override.Sentiment.Negative),
			Negations: mergeLists(base.Sentiment.Negations, override.Sentiment.Negations),
		},
	}
	return out
}

func Compile(f LexiconFile) (*Lexicon, error) {
	lex := &Lexicon{
		positive:  wordSet(f.Sentiment.Positive),
		negative:  wordSet(f.Sentiment.Negative),
		negations: wordSet(f.Sentiment.Negations),
	}
	var err error
	if lex.hardTriggers, err = compileTerms(weightsOf(f.HardTriggers, 1)); err != nil {
		return nil, err
	}
	if len(lex.hardTriggers) == 0 {
		return nil, fmt.Errorf("lexicon has no hard triggers")
	}
	if lex.high, err = compileTerms(f.Tiers.High); err != nil {
		return nil, err
	}
	if lex.caution, err = compileTerms(f.Tiers.Caution); err != nil {
		return nil, err
	}
	return lex, nil
}

// HardTriggers returns the compiled hard-trigger phrases, sorted.
func (l *Lexicon) HardTriggers() []string {
	out := make([]string, 0, len(l.hardTriggers))
	for _, t := range l.hardTriggers {
		out = append(out, t.text)
	}
	return out
}

type match struct {
	text   string
	weight float64
}

func matchTerms(terms []term, text string) []match {
	var out []match
	for _, t := range terms {
		if t.re.MatchString(text) {
			out = append(out, match{text: t.text, weight: t.weight})
		}
	}
	return out
}

func compileTerms(weights map[string]float64) ([]term, error) {
	keys := make([]string, 0, len(weights))
	for k, w := range weights {
		if w <= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]term, 0, len(keys))
	for _, k := range keys {
		text := normalizeText(k)
		if text == "" {
			continue
		}
		parts := strings.Fields(text)
		for i := range parts {
			parts[i] = regexp.QuoteMeta(parts[i])
		}
		re, err := regexp.Compile(`(?i)(^|[^a-z0-9'])` + strings.Join(parts, `\s+`) + `($|[^a-z0-9'])`)
		if err != nil {
			return nil, fmt.Errorf("compile lexicon term %q: %w", k, err)
		}
		out = append(out, term{text: text, weight: weights[k], re: re})
	}
	return out, nil
}

func weightsOf(items []string, w float64) map[string]float64 {
	out := make(map[string]float64, len(items))
	for _, it := range items {
		out[it] = w
	}
	return out
}

func mergeWeights(base, override map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(override))
	for k, v := range base {
		out[normalizeText(k)] = v
	}
	for k, v := range override {
		key := normalizeText(k)
		if v <= 0 {
			delete(out, key)
			continue
		}
		out[key] = v
	}
	return out
}

func mergeLists(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, set := range [][]string{base, extra} {
		for _, v := range set {
			v = normalizeText(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func wordSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = normalizeText(it)
		if it != "" {
			out[it] = struct{}{}
		}
	}
	return out
}

var apostropheReplacer = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

func normalizeText(v string) string {
	v = apostropheReplacer.Replace(strings.ToLower(v))
	return strings.Join(strings.Fields(v), " ")
}

var wordPattern = regexp.MustCompile(`[a-z']+`)

// Tokenize lowercases text and splits it into word tokens.
func Tokenize(text string) []string {
	return wordPattern.FindAllString(normalizeText(text), -1)
}
