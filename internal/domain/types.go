package domain

import (
	"math"
	"time"
)

// ClassificationEntry é uma subclasse CNAE oficial (código de 7 dígitos + descrição).
// Entries are immutable once the catalog is loaded; a refresh replaces the whole slice.
type ClassificationEntry struct {
	Code        string `json:"code"               bson:"codigo"`
	Description string `json:"description"        bson:"descricao"`
	Section     string `json:"section,omitempty"  bson:"secao,omitempty"`
	Division    string `json:"division,omitempty" bson:"divisao,omitempty"`
	Group       string `json:"group,omitempty"    bson:"grupo,omitempty"`
}

// DisplayLabel returns "<code> - <description>".
func (e ClassificationEntry) DisplayLabel() string {
	return e.Code + " - " + e.Description
}

// Candidate is a catalog entry annotated with the semantic context of one query.
type Candidate struct {
	ClassificationEntry
	IsSuggested      bool    `json:"is_suggested,omitempty"`
	HasSemanticMatch bool    `json:"has_semantic_match,omitempty"`
	SemanticBoost    float64 `json:"semantic_boost,omitempty"`
}

// Result provenance markers.
const (
	SourceExplicit = "explicit"
	SourceIndex    = "index"
	SourceFallback = "fallback"
	SourceAI       = "ai"
)

// ScoredResult é um resultado de busca com score em [0,1]. Created per search, never persisted
// except inside a variant set.
type ScoredResult struct {
	Candidate
	Score      float64 `json:"score"`
	Relevance  int     `json:"relevance"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// RelevanceOf scales a [0,1] score to the 0..100 relevance shown to users.
func RelevanceOf(score float64) int {
	return int(math.Round(score * 100))
}

// CatalogCache is the persisted snapshot of the catalog.
type CatalogCache struct {
	Data      []ClassificationEntry `json:"data"`
	Timestamp int64                 `json:"timestamp"` // unix millis
	Version   string                `json:"version"`
	Count     int                   `json:"count"`
}

// CacheInfo is the read-only diagnostic view of the catalog cache.
type CacheInfo struct {
	Exists    bool   `json:"exists"`
	Version   string `json:"version,omitempty"`
	Count     int    `json:"count"`
	DaysOld   int    `json:"days_old"`
	ExpiresIn int    `json:"expires_in"`
	Error     bool   `json:"error,omitempty"`
}

// VariantSet holds the precomputed diversified orderings for one query key.
type VariantSet struct {
	Variants  [][]ScoredResult `json:"variants"`
	LastIndex int              `json:"last_index"`
	Timestamp int64            `json:"timestamp"` // unix millis
}

// Suggestion is one item of the external AI classifier's answer.
type Suggestion struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// ─── API ──────────────────────────────────────────────────────────────────────

// SearchResponse é a resposta de GET /api/v1/cnae/search
type SearchResponse struct {
	Query          string         `json:"query"`
	Total          int            `json:"total"`
	Source         string         `json:"source"`
	AIUsed         bool           `json:"ai_used"`
	ExpandedTerms  []string       `json:"expanded_terms,omitempty"`
	SuggestedCodes []string       `json:"suggested_codes,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	Results        []ScoredResult `json:"results"`
}

// SelectionRequest é o corpo de POST /api/v1/cnae/selection
type SelectionRequest struct {
	UserID           string  `json:"user_id,omitempty"`
	Code             string  `json:"code"`
	Description      string  `json:"description"`
	SearchTerm       string  `json:"search_term"`
	Position         int     `json:"position"`
	IsSuggested      bool    `json:"is_suggested"`
	HasSemanticMatch bool    `json:"has_semantic_match"`
	Confidence       float64 `json:"confidence"`
}

// ─── Analytics ────────────────────────────────────────────────────────────────

// Event kinds.
const (
	EventSearch    = "search"
	EventSelection = "selection"
)

// Event is an analytics record. Search events use the Search* fields, selection
// events the CNAE* ones; both share the envelope.
type Event struct {
	ID        string    `bson:"_id"       json:"id"`
	Kind      string    `bson:"kind"      json:"kind"`
	UserID    string    `bson:"user_id"   json:"user_id"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`

	SearchTerm     string   `bson:"search_term"                json:"search_term"`
	ResultsCount   int      `bson:"results_count,omitempty"    json:"results_count,omitempty"`
	AIUsed         bool     `bson:"ai_used,omitempty"          json:"ai_used,omitempty"`
	ExpandedTerms  []string `bson:"expanded_terms,omitempty"   json:"expanded_terms,omitempty"`
	SuggestedCodes []string `bson:"suggested_cnaes,omitempty"  json:"suggested_cnaes,omitempty"`
	ResponseTimeMs int64    `bson:"response_time_ms,omitempty" json:"response_time_ms,omitempty"`

	CNAECode         string  `bson:"cnae_code,omitempty"          json:"cnae_code,omitempty"`
	CNAEDescription  string  `bson:"cnae_description,omitempty"   json:"cnae_description,omitempty"`
	Position         int     `bson:"position,omitempty"           json:"position,omitempty"`
	IsAISuggested    bool    `bson:"is_ai_suggested,omitempty"    json:"is_ai_suggested,omitempty"`
	HasSemanticMatch bool    `bson:"has_semantic_match,omitempty" json:"has_semantic_match,omitempty"`
	Confidence       float64 `bson:"confidence,omitempty"         json:"confidence,omitempty"`
}

// TopCode is one row of the most-selected codes report.
type TopCode struct {
	Code        string `bson:"_id"         json:"code"`
	Description string `bson:"description" json:"description"`
	Count       int    `bson:"count"       json:"count"`
}

// SearchStats summarizes search events over a window.
type SearchStats struct {
	TotalSearches   int `json:"total_searches"`
	AvgResponseTime int `json:"avg_response_time_ms"`
	AvgResults      int `json:"avg_results"`
}

// AIAccuracy summarizes selection events over a window.
type AIAccuracy struct {
	Total           int     `json:"total"`
	AISuggestedRate float64 `json:"ai_suggested_rate"`
	TopPositionRate float64 `json:"top_position_rate"`
}
