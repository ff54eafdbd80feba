// Package semantic expands a free-text query with synonyms, related terms and
// suggested CNAE codes from a hand-authored context table. It only annotates and
// boosts; it never hides an entry.
package semantic

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

const minTokenRunes = 3

//go:embed context.yaml
var defaultTable []byte

// Context is the semantic neighbourhood of one canonical term.
type Context struct {
	Term           string   `yaml:"term"`
	Synonyms       []string `yaml:"synonyms"`
	Related        []string `yaml:"related"`
	SuggestedCodes []string `yaml:"suggested_codes"`
}

// Layer is a read-only context table.
type Layer struct {
	contexts []Context
	byTerm   map[string]int
}

// Load parses a YAML list of contexts.
func Load(data []byte) (*Layer, error) {
	var contexts []Context
	if err := yaml.Unmarshal(data, &contexts); err != nil {
		return nil, fmt.Errorf("semantic: parse: %w", err)
	}
	l := &Layer{contexts: contexts, byTerm: make(map[string]int, len(contexts))}
	for i := range l.contexts {
		c := &l.contexts[i]
		c.Term = cnae.Fold(strings.TrimSpace(c.Term))
		if c.Term == "" {
			return nil, fmt.Errorf("semantic: context %d has an empty term", i)
		}
		if _, dup := l.byTerm[c.Term]; dup {
			return nil, fmt.Errorf("semantic: duplicate term %q", c.Term)
		}
		for j := range c.Synonyms {
			c.Synonyms[j] = cnae.Fold(c.Synonyms[j])
		}
		for j := range c.Related {
			c.Related[j] = cnae.Fold(c.Related[j])
		}
		for j := range c.SuggestedCodes {
			c.SuggestedCodes[j] = cnae.NormalizeCode(c.SuggestedCodes[j])
		}
		l.byTerm[c.Term] = i
	}
	return l, nil
}

// Default returns the embedded table.
func Default() *Layer {
	l, err := Load(defaultTable)
	if err != nil {
		panic(err)
	}
	return l
}

// tokens splits a query on whitespace, folds it and drops tokens of two runes or less.
func tokens(query string) []string {
	var out []string
	for _, t := range strings.Fields(cnae.Fold(query)) {
		if utf8.RuneCountInString(t) >= minTokenRunes {
			out = append(out, t)
		}
	}
	return out
}

// lookup returns the contexts matching token: the exact key first, then every key
// that contains the token or is contained by it, in table order.
func (l *Layer) lookup(token string) []*Context {
	var out []*Context
	exact, ok := l.byTerm[token]
	if ok {
		out = append(out, &l.contexts[exact])
	}
	for i := range l.contexts {
		if ok && i == exact {
			continue
		}
		key := l.contexts[i].Term
		if strings.Contains(token, key) || strings.Contains(key, token) {
			out = append(out, &l.contexts[i])
		}
	}
	return out
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet { return &orderedSet{seen: make(map[string]struct{})} }

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}

// Expand returns the query tokens followed by the synonyms and related terms of every
// matching context, deduplicated in discovery order.
func (l *Layer) Expand(query string) []string {
	toks := tokens(query)
	set := newOrderedSet()
	set.add(toks...)
	for _, t := range toks {
		for _, c := range l.lookup(t) {
			set.add(c.Synonyms...)
			set.add(c.Related...)
		}
	}
	return set.items
}

// SuggestedCodes walks the same matches as Expand and collects suggested codes,
// deduplicated in discovery order.
func (l *Layer) SuggestedCodes(query string) []string {
	set := newOrderedSet()
	for _, t := range tokens(query) {
		for _, c := range l.lookup(t) {
			set.add(c.SuggestedCodes...)
		}
	}
	return set.items
}

// Enrich returns a copy of results with the semantic flags of query set.
// Scores are left untouched.
func (l *Layer) Enrich(results []domain.ScoredResult, query string) []domain.ScoredResult {
	suggested := cnae.CodeSet(l.SuggestedCodes(query))
	expanded := l.Expand(query)
	out := make([]domain.ScoredResult, len(results))
	for i, r := range results {
		out[i] = r
		out[i].Candidate = cnae.Annotate(r.ClassificationEntry, suggested, expanded)
	}
	return out
}

// Terms lists the table keys in declaration order.
func (l *Layer) Terms() []string {
	out := make([]string, len(l.contexts))
	for i, c := range l.contexts {
		out[i] = c.Term
	}
	return out
}
