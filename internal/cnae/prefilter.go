package cnae

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

// nonLetterRe splits free text into Portuguese words.
var nonLetterRe = regexp.MustCompile(`[^a-záàâãéêíóôõúüç]+`)

// Word-level keyword points.
const (
	kwExact    = 10
	kwPrefix   = 7
	kwContains = 5
	kwStem     = 3
	kwTypo     = 2

	typoSimilarity = 0.9
)

// Prefilter is the cheap keyword pass used to shrink the catalog before a synchronous
// scoring pass (or before handing candidates to the AI classifier). Every query term,
// plus any expanded term, is compared with every description word; entries scoring at
// least one point are kept, best first, capped at limit.
func Prefilter(entries []domain.ClassificationEntry, query string, expanded []string, limit int) []domain.ClassificationEntry {
	terms := keywordTerms(query, expanded)
	digits := Digits(query)
	if len(terms) == 0 && digits == "" {
		return nil
	}

	type hit struct {
		idx   int
		score int
	}
	hits := make([]hit, 0, 64)
	for i, e := range entries {
		s := 0
		if digits != "" && strings.Contains(e.Code, digits) {
			s += kwExact
		}
		words := strings.Fields(Fold(e.Description))
		for _, t := range terms {
			for _, w := range words {
				s += keywordPoints(t, w)
			}
		}
		if s >= 1 {
			hits = append(hits, hit{idx: i, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]domain.ClassificationEntry, len(hits))
	for i, h := range hits {
		out[i] = entries[h.idx]
	}
	return out
}

func keywordTerms(query string, expanded []string) []string {
	seen := make(map[string]struct{})
	var terms []string
	add := func(t string) {
		if utf8.RuneCountInString(t) < minQueryWordRunes {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	for _, t := range nonLetterRe.Split(Fold(query), -1) {
		add(t)
	}
	for _, t := range expanded {
		add(Fold(t))
	}
	return terms
}

func keywordPoints(term, word string) int {
	switch {
	case word == term:
		return kwExact
	case strings.HasPrefix(word, term):
		return kwPrefix
	case strings.Contains(word, term):
		return kwContains
	}
	tr, wr := []rune(term), []rune(word)
	if len(tr) > 3 && len(wr) >= 3 && string(tr[:3]) == string(wr[:3]) {
		return kwStem
	}
	if len(tr) > 3 {
		if sim, err := edlib.StringsSimilarity(term, word, edlib.JaroWinkler); err == nil && sim >= typoSimilarity {
			return kwTypo
		}
	}
	return 0
}
