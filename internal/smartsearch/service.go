// Package smartsearch orchestrates one CNAE search from free text.
//
// Phases:
//  1. Override   – hand-curated answers for known-bad terms, returned verbatim
//  2. Semantic   – expanded terms and suggested codes for scoring
//  3. Local rank – background index, or a synchronous prefiltered pass when the
//     index is not ready, times out or fails
//  4. AI         – optional reranking of the top 30 by the external classifier
//  5. Diversify  – rotating variants that keep the top 3 stable
//  6. Analytics  – fire-and-forget search event
package smartsearch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lucasfdcampos/cnae-search/internal/analytics"
	"github.com/lucasfdcampos/cnae-search/internal/classifier"
	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/diversify"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
	"github.com/lucasfdcampos/cnae-search/internal/index"
	"github.com/lucasfdcampos/cnae-search/internal/override"
	"github.com/lucasfdcampos/cnae-search/internal/semantic"
)

const (
	minQueryRunes     = 2
	fallbackPrefilter = 200
	aiFallbackConf    = 0.5
	aiFallbackReason  = "fallback"

	// WarnAINotConfigured is the only user-visible degradation message.
	WarnAINotConfigured = "AI classifier not configured (set GROQ_API_KEY)"
)

// Catalog is the canonical list of subclasses (see catalog.Provider).
type Catalog interface {
	Fetch(ctx context.Context) []domain.ClassificationEntry
	ForceRefresh(ctx context.Context) []domain.ClassificationEntry
	CacheInfo(ctx context.Context) domain.CacheInfo
}

// Index is the background search index (see index.Client).
type Index interface {
	Load(ctx context.Context, entries []domain.ClassificationEntry) (int, error)
	Search(ctx context.Context, query string, opts cnae.RankOptions) ([]domain.ScoredResult, error)
	FuzzySearch(ctx context.Context, term string, maxResults int) ([]domain.ScoredResult, error)
	Status(ctx context.Context) (index.Status, error)
	Clear(ctx context.Context) error
	ByCode(ctx context.Context, code string) (domain.ClassificationEntry, bool, error)
}

// Classifier is the external AI classifier (see classifier.Groq).
type Classifier interface {
	Configured() bool
	Classify(ctx context.Context, query string, candidates []domain.ScoredResult) ([]domain.Suggestion, error)
}

// Config holds injectable dependencies. Classifier, Variants and Tracker are optional.
type Config struct {
	Catalog    Catalog
	Index      Index
	Overrides  *override.Map
	Semantic   *semantic.Layer
	Classifier Classifier
	Variants   *diversify.VariantCache
	Tracker    *analytics.Tracker
	Logger     *zap.Logger
}

// Options tunes one search.
type Options struct {
	UserID string
	Limit  int // 0 = no extra truncation
}

// Service runs searches.
type Service struct {
	cfg     Config
	logger  *zap.Logger
	entries atomic.Pointer[[]domain.ClassificationEntry]
}

// New builds a Service. Overrides and Semantic default to the embedded tables.
func New(cfg Config) *Service {
	if cfg.Overrides == nil {
		cfg.Overrides = override.Default()
	}
	if cfg.Semantic == nil {
		cfg.Semantic = semantic.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, logger: logger}
}

// Search runs the full pipeline. It never fails; degradations are logged and,
// when actionable, reported in Warnings.
func (s *Service) Search(ctx context.Context, query string, opts Options) domain.SearchResponse {
	start := time.Now()
	query = strings.TrimSpace(query)
	resp := domain.SearchResponse{Query: query, Results: []domain.ScoredResult{}}
	if utf8.RuneCountInString(query) < minQueryRunes {
		return resp
	}

	// ── Phase 1: Explicit overrides ─────────────────────────────────────────
	if results := s.cfg.Overrides.TryOverride(query); results != nil {
		s.logger.Debug("explicit override", zap.String("query", query), zap.Int("results", len(results)))
		resp.Source = domain.SourceExplicit
		return s.finish(resp, results, opts, start)
	}

	// ── Phase 2: Semantic context ───────────────────────────────────────────
	resp.ExpandedTerms = s.cfg.Semantic.Expand(query)
	resp.SuggestedCodes = s.cfg.Semantic.SuggestedCodes(query)

	rank := cnae.DefaultRankOptions()
	rank.ExpandedTerms = resp.ExpandedTerms
	rank.SuggestedCodes = resp.SuggestedCodes

	// ── Phase 3: Local ranking ──────────────────────────────────────────────
	local, source := s.localSearch(ctx, query, rank)
	resp.Source = source
	results := local

	// ── Phase 4: AI classifier ──────────────────────────────────────────────
	switch {
	case s.cfg.Classifier == nil || !s.cfg.Classifier.Configured():
		resp.Warnings = append(resp.Warnings, WarnAINotConfigured)
	case len(local) > 0:
		if ai, ok := s.classify(ctx, query, local); ok {
			results = ai
			resp.Source = domain.SourceAI
			resp.AIUsed = true
		} else {
			results = markFallback(local)
		}
	}

	// ── Phase 5: Diversification ────────────────────────────────────────────
	if s.cfg.Variants != nil && len(results) > 0 {
		results = s.cfg.Variants.Next(ctx, query, results)
	}

	return s.finish(resp, results, opts, start)
}

func (s *Service) finish(resp domain.SearchResponse, results []domain.ScoredResult, opts Options, start time.Time) domain.SearchResponse {
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	resp.Results = results
	resp.Total = len(results)
	resp.DurationMs = time.Since(start).Milliseconds()

	// ── Phase 6: Analytics ──────────────────────────────────────────────────
	if s.cfg.Tracker != nil {
		s.cfg.Tracker.TrackSearch(opts.UserID, resp)
	}
	return resp
}

// localSearch ranks through the index and falls back to a synchronous pass over a
// prefiltered candidate set on any index error.
func (s *Service) localSearch(ctx context.Context, query string, rank cnae.RankOptions) ([]domain.ScoredResult, string) {
	results, err := s.cfg.Index.Search(ctx, query, rank)
	if err == nil && len(results) == 0 {
		results, err = s.cfg.Index.FuzzySearch(ctx, query, rank.MaxResults)
	}
	if err == nil {
		return results, domain.SourceIndex
	}

	s.logger.Warn("index search failed, ranking synchronously", zap.String("query", query), zap.Error(err))
	candidates := fallbackCandidates(s.catalog(ctx), query, rank)
	results = cnae.Rank(candidates, query, rank, domain.SourceFallback)
	if len(results) == 0 {
		rank.MinScore = cnae.FuzzyMinScore
		results = cnae.Rank(candidates, query, rank, domain.SourceFallback)
	}
	return results, domain.SourceFallback
}

// fallbackCandidates is the keyword prefilter plus every suggested code, which can
// score without sharing a word with the query.
func fallbackCandidates(entries []domain.ClassificationEntry, query string, rank cnae.RankOptions) []domain.ClassificationEntry {
	candidates := cnae.Prefilter(entries, query, rank.ExpandedTerms, fallbackPrefilter)
	if len(rank.SuggestedCodes) == 0 {
		return candidates
	}
	have := make(map[string]struct{}, len(candidates))
	for _, e := range candidates {
		have[e.Code] = struct{}{}
	}
	suggested := cnae.CodeSet(rank.SuggestedCodes)
	for _, e := range entries {
		if _, ok := suggested[e.Code]; !ok {
			continue
		}
		if _, ok := have[e.Code]; !ok {
			candidates = append(candidates, e)
			have[e.Code] = struct{}{}
		}
	}
	return candidates
}

func (s *Service) classify(ctx context.Context, query string, local []domain.ScoredResult) ([]domain.ScoredResult, bool) {
	suggestions, err := s.cfg.Classifier.Classify(ctx, query, local[:min(len(local), classifier.MaxCandidates)])
	if err != nil {
		s.logger.Warn("AI classifier failed, using local ranking", zap.String("query", query), zap.Error(err))
		return nil, false
	}
	if len(suggestions) == 0 {
		s.logger.Warn("AI classifier returned no suggestions, using local ranking", zap.String("query", query))
		return nil, false
	}

	known := make(map[string]domain.ClassificationEntry, len(local))
	for _, r := range local {
		known[r.Code] = r.ClassificationEntry
	}

	out := make([]domain.ScoredResult, 0, len(suggestions))
	seen := make(map[string]struct{}, len(suggestions))
	for _, sg := range suggestions {
		if _, dup := seen[sg.Code]; dup {
			continue
		}
		seen[sg.Code] = struct{}{}

		entry, ok := known[sg.Code]
		if !ok {
			entry = domain.ClassificationEntry{Code: sg.Code}
		}
		if sg.Description != "" && entry.Description == "" {
			entry.Description = sg.Description
		}
		out = append(out, domain.ScoredResult{
			Candidate:  domain.Candidate{ClassificationEntry: entry},
			Score:      sg.Confidence,
			Relevance:  domain.RelevanceOf(sg.Confidence),
			Source:     domain.SourceAI,
			Confidence: sg.Confidence,
			Reasoning:  sg.Reasoning,
		})
	}
	return s.cfg.Semantic.Enrich(out, query), true
}

func markFallback(local []domain.ScoredResult) []domain.ScoredResult {
	out := make([]domain.ScoredResult, len(local))
	for i, r := range local {
		r.Confidence = aiFallbackConf
		r.Reasoning = aiFallbackReason
		out[i] = r
	}
	return out
}

// ─── Catalog lifecycle ────────────────────────────────────────────────────────

// Warm fetches the catalog and loads it into the index. An indeterminate index is
// cleared first.
func (s *Service) Warm(ctx context.Context) (int, error) {
	return s.load(ctx, s.cfg.Catalog.Fetch(ctx))
}

// Reload drops the cached catalog, fetches it again and reloads the index.
func (s *Service) Reload(ctx context.Context) (int, error) {
	return s.load(ctx, s.cfg.Catalog.ForceRefresh(ctx))
}

func (s *Service) load(ctx context.Context, entries []domain.ClassificationEntry) (int, error) {
	s.entries.Store(&entries)

	n, err := s.cfg.Index.Load(ctx, entries)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, index.ErrIndeterminate) {
		return 0, err
	}
	s.logger.Warn("index indeterminate, clearing before load")
	if err := s.cfg.Index.Clear(ctx); err != nil {
		return 0, err
	}
	return s.cfg.Index.Load(ctx, entries)
}

// catalog returns the entries of the last load, fetching them on first use.
func (s *Service) catalog(ctx context.Context) []domain.ClassificationEntry {
	if p := s.entries.Load(); p != nil {
		return *p
	}
	entries := s.cfg.Catalog.Fetch(ctx)
	s.entries.CompareAndSwap(nil, &entries)
	return entries
}

// CatalogStatus is the diagnostic view of the catalog and the index.
type CatalogStatus struct {
	Cache      domain.CacheInfo `json:"cache"`
	Index      index.Status     `json:"index"`
	IndexError string           `json:"index_error,omitempty"`
}

// Status reports the cache slot and the index state.
func (s *Service) Status(ctx context.Context) CatalogStatus {
	st := CatalogStatus{Cache: s.cfg.Catalog.CacheInfo(ctx)}
	is, err := s.cfg.Index.Status(ctx)
	if err != nil {
		st.IndexError = err.Error()
	}
	st.Index = is
	return st
}

// ByCode finds one subclass, through the index when it is ready.
func (s *Service) ByCode(ctx context.Context, code string) (domain.ClassificationEntry, bool) {
	e, ok, err := s.cfg.Index.ByCode(ctx, code)
	if err == nil {
		return e, ok
	}
	want := cnae.NormalizeCode(code)
	for _, e := range s.catalog(ctx) {
		if e.Code == want {
			return e, true
		}
	}
	return domain.ClassificationEntry{}, false
}

// ─── Analytics & variants ─────────────────────────────────────────────────────

// TrackSelection records a code picked by the user.
func (s *Service) TrackSelection(sel domain.SelectionRequest) {
	if s.cfg.Tracker == nil {
		return
	}
	sel.Code = cnae.NormalizeCode(sel.Code)
	s.cfg.Tracker.TrackSelection(sel)
}

// ClearVariants drops every stored diversification variant.
func (s *Service) ClearVariants(ctx context.Context) (int, error) {
	if s.cfg.Variants == nil {
		return 0, nil
	}
	return s.cfg.Variants.ClearAll(ctx)
}
