package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lucasfdcampos/cnae-search/internal/analytics"
	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/diversify"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
	"github.com/lucasfdcampos/cnae-search/internal/smartsearch"
)

const (
	maxLimit      = 50
	maxBodyBytes  = 1 << 20
	defaultKeep   = 3
	refreshBudget = 2 * time.Minute
)

// Handler holds the HTTP dependencies.
type Handler struct {
	svc     *smartsearch.Service
	tracker *analytics.Tracker
}

// NewHandler creates a new Handler. tracker may be nil.
func NewHandler(svc *smartsearch.Service, tracker *analytics.Tracker) *Handler {
	if tracker == nil {
		tracker = analytics.New(nil)
	}
	return &Handler{svc: svc, tracker: tracker}
}

// errResponse writes a JSON error body.
func errResponse(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// Health godoc
//
//	GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// Search godoc
//
//	GET /api/v1/cnae/search?q=dentista&limit=10&user_id=...
//
//	Response: SearchResponse JSON
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		errResponse(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		errResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := h.svc.Search(r.Context(), q, smartsearch.Options{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  min(limit, maxLimit),
	})
	writeJSON(w, http.StatusOK, resp)
}

// Selection godoc
//
//	POST /api/v1/cnae/selection
//
//	Request body: { "code": "8630504", "description": "...", "search_term": "dentista", "position": 1, ... }
func (h *Handler) Selection(w http.ResponseWriter, r *http.Request) {
	var req domain.SelectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		errResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		errResponse(w, http.StatusBadRequest, "code is required")
		return
	}
	h.svc.TrackSelection(req)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type codeResponse struct {
	domain.ClassificationEntry
	Display string `json:"display"`
}

// ByCode godoc
//
//	GET /api/v1/cnae/code/{code}
func (h *Handler) ByCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if cnae.Digits(code) == "" {
		errResponse(w, http.StatusBadRequest, "code must contain digits")
		return
	}
	e, ok := h.svc.ByCode(r.Context(), code)
	if !ok {
		errResponse(w, http.StatusNotFound, "code not found: "+cnae.NormalizeCode(code))
		return
	}
	writeJSON(w, http.StatusOK, codeResponse{ClassificationEntry: e, Display: cnae.FormatDisplay(e.Code)})
}

// Catalog godoc
//
//	GET /api/v1/cnae/catalog
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// RefreshCatalog godoc
//
//	POST /api/v1/cnae/catalog/refresh
func (h *Handler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshBudget)
	defer cancel()
	n, err := h.svc.Reload(ctx)
	if err != nil {
		errResponse(w, http.StatusServiceUnavailable, "index reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// ClearVariants godoc
//
//	DELETE /api/v1/cnae/variants
func (h *Handler) ClearVariants(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearVariants(r.Context())
	if err != nil {
		errResponse(w, http.StatusInternalServerError, "failed to clear variants: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// TopCodes godoc
//
//	GET /api/v1/cnae/analytics/top?limit=10&days=30
func (h *Handler) TopCodes(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		errResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := intParam(r, "days", 0)
	if err != nil {
		errResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	top, err := h.tracker.TopCodes(r.Context(), min(limit, maxLimit), days)
	if err != nil {
		h.reportError(w, err)
		return
	}
	if top == nil {
		top = []domain.TopCode{}
	}
	writeJSON(w, http.StatusOK, top)
}

type statsResponse struct {
	Days     int                `json:"days"`
	Searches domain.SearchStats `json:"searches"`
	AI       domain.AIAccuracy  `json:"ai"`
}

// Stats godoc
//
//	GET /api/v1/cnae/analytics/stats?days=30
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 30)
	if err != nil {
		errResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	searches, err := h.tracker.SearchStats(r.Context(), days)
	if err != nil {
		h.reportError(w, err)
		return
	}
	ai, err := h.tracker.AIAccuracy(r.Context(), days)
	if err != nil {
		h.reportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Days: days, Searches: searches, AI: ai})
}

func (h *Handler) reportError(w http.ResponseWriter, err error) {
	if errors.Is(err, analytics.ErrNoReports) {
		errResponse(w, http.StatusServiceUnavailable, "analytics storage not configured")
		return
	}
	errResponse(w, http.StatusInternalServerError, "analytics query failed: "+err.Error())
}

type shuffleRequest struct {
	Items   []json.RawMessage `json:"items"`
	KeepTop *int              `json:"keep_top,omitempty"`
}

// Shuffle godoc
//
//	POST /api/v1/results/shuffle
//
//	Request body: { "items": [...], "keep_top": 3 }
func (h *Handler) Shuffle(w http.ResponseWriter, r *http.Request) {
	var req shuffleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		errResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	keep := defaultKeep
	if req.KeepTop != nil {
		keep = *req.KeepTop
	}
	items := diversify.ShuffleKeepingTop(req.Items, keep)
	if items == nil {
		items = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string][]json.RawMessage{"items": items})
}
