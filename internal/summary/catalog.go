package summary

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/consultx/consultx/internal/session"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

const (
	TypeHotline = "hotline"

	lifelineID = "lifeline-988"
)

type catalogFile struct {
	Resources []catalogEntry `yaml:"resources"`
}

type catalogEntry struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"`
	Label    string   `yaml:"label"`
	Link     string   `yaml:"link"`
	Keywords []string `yaml:"keywords"`
}

// Catalog maps flagged keywords to resource suggestions.
type Catalog struct {
	byID      map[string]session.Resource
	byKeyword map[string][]string
	fallback  session.Resource
}

func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a catalog file, or returns the embedded one for an
// empty path. A custom catalog must still contain a hotline entry.
func LoadCatalog(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse resource catalog: %w", err)
	}
	c := &Catalog{
		byID:      make(map[string]session.Resource, len(f.Resources)),
		byKeyword: make(map[string][]string),
	}
	for _, e := range f.Resources {
		id := strings.TrimSpace(e.ID)
		if id == "" || strings.TrimSpace(e.Label) == "" {
			return nil, fmt.Errorf("resource catalog: entry needs id and label")
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("resource catalog: duplicate id %q", id)
		}
		c.byID[id] = session.Resource{ID: id, Type: e.Type, Label: e.Label, Link: e.Link}
		for _, kw := range e.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				c.byKeyword[kw] = append(c.byKeyword[kw], id)
			}
		}
		if c.fallback.ID == "" && e.Type == TypeHotline {
			c.fallback = c.byID[id]
		}
	}
	if lifeline, ok := c.byID[lifelineID]; ok {
		c.fallback = lifeline
	}
	if c.fallback.ID == "" {
		return nil, fmt.Errorf("resource catalog: at least one %s entry is required", TypeHotline)
	}
	return c, nil
}

// Suggest returns the resources for keywords, deduplicated and ordered with
// hotlines first. When hotline is set and nothing suggested is a hotline,
// the fallback hotline is added.
func (c *Catalog) Suggest(keywords []string, hotline bool) []session.Resource {
	hits := make(map[string][]string)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		for _, id := range c.byKeyword[kw] {
			hits[id] = append(hits[id], kw)
		}
	}

	out := make([]session.Resource, 0, len(hits)+1)
	hasHotline := false
	for id, kws := range hits {
		r := c.byID[id]
		sort.Strings(kws)
		r.Keywords = dedupe(kws)
		if r.Type == TypeHotline {
			hasHotline = true
		}
		out = append(out, r)
	}
	if hotline && !hasHotline {
		out = append(out, c.fallback)
	}

	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].Type == TypeHotline, out[j].Type == TypeHotline
		if hi != hj {
			return hi
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func dedupe(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}
