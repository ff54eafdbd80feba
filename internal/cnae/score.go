package cnae

import (
	"strings"
	"unicode/utf8"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

// Scoring weights. The total is clamped to 1.0.
const (
	weightExact       = 1.0
	weightPrefix      = 0.8
	weightContains    = 0.6
	weightCode        = 0.7
	weightWords       = 0.5
	weightSuggested   = 0.2
	genericPenalty    = 0.7
	minQueryWordRunes = 3
)

// genericMarkers flag catch-all subclasses ("... não especificados anteriormente",
// "Outras atividades de ...").
var genericMarkers = []string{"não especificad", "outras atividades"}

// ScoreOptions tunes Score.
type ScoreOptions struct {
	BoostSemantic bool
}

// Score returns the relevance of c for query, in [0,1].
func Score(query string, c domain.Candidate, opts ScoreOptions) float64 {
	q := Fold(query)
	return score(q, QueryWords(q), Digits(q), c, opts)
}

// QueryWords splits a folded query on whitespace and keeps words longer than two runes.
func QueryWords(folded string) []string {
	fields := strings.Fields(folded)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minQueryWordRunes {
			words = append(words, f)
		}
	}
	return words
}

// score is the single implementation behind Score and Rank; q and words are already folded.
func score(q string, words []string, digits string, c domain.Candidate, opts ScoreOptions) float64 {
	desc := Fold(c.Description)

	var s float64
	if desc == q {
		s += weightExact
	}
	if strings.HasPrefix(desc, q) {
		s += weightPrefix
	}
	if strings.Contains(desc, q) {
		s += weightContains
	}
	if digits != "" && strings.Contains(c.Code, digits) {
		s += weightCode
	}
	if len(words) > 0 {
		matched := 0
		for _, w := range words {
			if strings.Contains(desc, w) {
				matched++
			}
		}
		s += float64(matched) / float64(len(words)) * weightWords
	}
	if opts.BoostSemantic && c.SemanticBoost > 0 {
		s += c.SemanticBoost
	}
	if c.IsSuggested {
		s += weightSuggested
	}
	for _, m := range genericMarkers {
		if strings.Contains(desc, m) {
			s *= genericPenalty
			break
		}
	}
	if s > 1.0 {
		return 1.0
	}
	return s
}
