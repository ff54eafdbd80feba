package cnae

import (
	"slices"
	"sort"
	"strings"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

// Defaults for Rank.
const (
	DefaultMaxResults = 50
	DefaultMinScore   = 0.3
	FuzzyMinScore     = 0.2

	boostSuggested     = 0.2
	boostSemanticMatch = 0.1
)

// RankOptions controls a ranking pass over the catalog.
type RankOptions struct {
	MaxResults    int
	MinScore      float64
	BoostSemantic bool

	// Semantic context of the query; see semantic.Layer.
	ExpandedTerms  []string
	SuggestedCodes []string
}

// DefaultRankOptions returns maxResults=50, minScore=0.3 with semantic boosting on.
func DefaultRankOptions() RankOptions {
	return RankOptions{MaxResults: DefaultMaxResults, MinScore: DefaultMinScore, BoostSemantic: true}
}

// Annotate marks e with the semantic context of a query. Suggested codes win over
// plain term matches: boost 0.2 when suggested, 0.1 when the description contains an
// expanded term, 0 otherwise.
func Annotate(e domain.ClassificationEntry, suggested map[string]struct{}, expanded []string) domain.Candidate {
	c := domain.Candidate{ClassificationEntry: e}
	if _, ok := suggested[e.Code]; ok {
		c.IsSuggested = true
	}
	if len(expanded) > 0 {
		desc := Fold(e.Description)
		for _, t := range expanded {
			if t != "" && strings.Contains(desc, t) {
				c.HasSemanticMatch = true
				break
			}
		}
	}
	switch {
	case c.IsSuggested:
		c.SemanticBoost = boostSuggested
	case c.HasSemanticMatch:
		c.SemanticBoost = boostSemanticMatch
	}
	return c
}

// CodeSet builds a lookup set from a code list.
func CodeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Rank scores every entry against query, drops those below MinScore, sorts by score
// descending (ties keep catalog order) and truncates to MaxResults.
// The background index and the synchronous fallback both call it, so a given input
// scores identically on either path.
func Rank(entries []domain.ClassificationEntry, query string, opts RankOptions, source string) []domain.ScoredResult {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	q := Fold(query)
	words := QueryWords(q)
	digits := Digits(q)
	suggested := CodeSet(opts.SuggestedCodes)
	expanded := make([]string, len(opts.ExpandedTerms))
	for i, t := range opts.ExpandedTerms {
		expanded[i] = Fold(t)
	}
	so := ScoreOptions{BoostSemantic: opts.BoostSemantic}

	out := make([]domain.ScoredResult, 0, min(len(entries), opts.MaxResults))
	for _, e := range entries {
		c := Annotate(e, suggested, expanded)
		s := score(q, words, digits, c, so)
		if s < opts.MinScore {
			continue
		}
		out = append(out, domain.ScoredResult{
			Candidate: c,
			Score:     s,
			Relevance: domain.RelevanceOf(s),
			Source:    source,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return slices.Clip(out)
}
