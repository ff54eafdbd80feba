// Package override is the explicit term → CNAE safety net. When a query contains a
// known trigger the curated answer is returned verbatim, before any fuzzy or AI step.
package override

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

// MaxScore is assigned to every explicit result.
const MaxScore = 1.0

//go:embed overrides.yaml
var defaultTable []byte

// Entry is one curated answer.
type Entry struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
}

// Rule maps a trigger substring to its answers.
type Rule struct {
	Trigger string  `yaml:"trigger"`
	Entries []Entry `yaml:"entries"`
}

// Map holds the rules in declaration order.
type Map struct {
	rules []Rule
}

// Load parses a YAML list of rules. Triggers are folded to lowercase and codes
// normalized to 7 digits.
func Load(data []byte) (*Map, error) {
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("override: parse: %w", err)
	}
	for i := range rules {
		r := &rules[i]
		r.Trigger = cnae.Fold(strings.TrimSpace(r.Trigger))
		if r.Trigger == "" {
			return nil, fmt.Errorf("override: rule %d has an empty trigger", i)
		}
		if len(r.Entries) == 0 {
			return nil, fmt.Errorf("override: trigger %q has no entries", r.Trigger)
		}
		for j := range r.Entries {
			r.Entries[j].Code = cnae.NormalizeCode(r.Entries[j].Code)
		}
	}
	return &Map{rules: rules}, nil
}

// Default returns the embedded table.
func Default() *Map {
	m, err := Load(defaultTable)
	if err != nil {
		panic(err)
	}
	return m
}

// TryOverride returns the curated results of the first trigger contained in query,
// or nil when none matches.
func (m *Map) TryOverride(query string) []domain.ScoredResult {
	q := cnae.Fold(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	for _, r := range m.rules {
		if !strings.Contains(q, r.Trigger) {
			continue
		}
		out := make([]domain.ScoredResult, len(r.Entries))
		for i, e := range r.Entries {
			out[i] = domain.ScoredResult{
				Candidate: domain.Candidate{ClassificationEntry: domain.ClassificationEntry{
					Code:        e.Code,
					Description: e.Description,
				}},
				Score:      MaxScore,
				Relevance:  domain.RelevanceOf(MaxScore),
				Source:     domain.SourceExplicit,
				Confidence: MaxScore,
			}
		}
		return out
	}
	return nil
}

// Triggers lists the triggers in match order.
func (m *Map) Triggers() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.Trigger
	}
	return out
}
