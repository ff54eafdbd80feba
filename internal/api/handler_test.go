package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasfdcampos/cnae-search/internal/analytics"
	"github.com/lucasfdcampos/cnae-search/internal/cache"
	"github.com/lucasfdcampos/cnae-search/internal/catalog"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
	"github.com/lucasfdcampos/cnae-search/internal/index"
	"github.com/lucasfdcampos/cnae-search/internal/smartsearch"
)

type memSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *memSink) Insert(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

type fakeReports struct{}

func (fakeReports) TopCodes(context.Context, int, int) ([]domain.TopCode, error) {
	return []domain.TopCode{{Code: "8630504", Description: "Atividade odontológica", Count: 12}}, nil
}

func (fakeReports) SearchStats(context.Context, int) (domain.SearchStats, error) {
	return domain.SearchStats{TotalSearches: 40, AvgResponseTime: 180, AvgResults: 9}, nil
}

func (fakeReports) AIAccuracy(context.Context, int) (domain.AIAccuracy, error) {
	return domain.AIAccuracy{Total: 10, AISuggestedRate: 0.7, TopPositionRate: 0.9}, nil
}

type env struct {
	srv     *httptest.Server
	sink    *memSink
	tracker *analytics.Tracker
}

func newEnv(t *testing.T, reports analytics.Reports) *env {
	t.Helper()
	idx := index.New()
	t.Cleanup(idx.Close)

	sink := &memSink{}
	opts := []analytics.Option{}
	if reports != nil {
		opts = append(opts, analytics.WithReports(reports))
	}
	tracker := analytics.New(sink, opts...)

	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(registry.Close)

	provider := catalog.New(registry.URL, cache.NewMemory())
	svc := smartsearch.New(smartsearch.Config{Catalog: provider, Index: idx, Tracker: tracker})
	_, err := svc.Warm(context.Background())
	require.NoError(t, err)

	srv := httptest.NewServer(Routes(NewHandler(svc, tracker)))
	t.Cleanup(srv.Close)
	return &env{srv: srv, sink: sink, tracker: tracker}
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	resp, body := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, _ = e.do(t, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	e := newEnv(t, nil)

	resp, _ := e.do(t, http.MethodGet, "/api/v1/cnae/search", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/cnae/search?q=padaria&limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := e.do(t, http.MethodGet, "/api/v1/cnae/search?q=padaria&limit=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr domain.SearchResponse
	require.NoError(t, json.Unmarshal(body, &sr))
	assert.Equal(t, "padaria", sr.Query)
	assert.Equal(t, domain.SourceIndex, sr.Source)
	assert.Len(t, sr.Results, 3)
	assert.Equal(t, []string{smartsearch.WarnAINotConfigured}, sr.Warnings)

	resp, body = e.do(t, http.MethodGet, "/api/v1/cnae/search?q=dentista", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &sr))
	assert.Equal(t, domain.SourceExplicit, sr.Source)
	assert.Equal(t, "8630503", sr.Results[0].Code)
	assert.Equal(t, 100, sr.Results[0].Relevance)
}

func TestSelectionEndpoint(t *testing.T) {
	e := newEnv(t, nil)

	resp, _ := e.do(t, http.MethodPost, "/api/v1/cnae/selection", "{")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/cnae/selection", `{"search_term":"dentista"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/cnae/selection",
		`{"code":"8630-5/04","description":"Atividade odontológica","search_term":"dentista","position":1,"is_suggested":true}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, e.tracker.Close(context.Background()))
	e.sink.mu.Lock()
	defer e.sink.mu.Unlock()
	require.Len(t, e.sink.events, 1)
	assert.Equal(t, "8630504", e.sink.events[0].CNAECode)
	assert.True(t, e.sink.events[0].IsAISuggested)
}

func TestByCodeEndpoint(t *testing.T) {
	e := newEnv(t, nil)

	resp, body := e.do(t, http.MethodGet, "/api/v1/cnae/code/8630504", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got codeResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "8630504", got.Code)
	assert.Equal(t, "8630-5/04", got.Display)
	assert.Equal(t, "Atividade odontológica", got.Description)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/cnae/code/9999999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/cnae/code/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogEndpoints(t *testing.T) {
	e := newEnv(t, nil)
	n := len(catalog.Bundled())

	resp, body := e.do(t, http.MethodGet, "/api/v1/cnae/catalog", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st smartsearch.CatalogStatus
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, index.Status{Loaded: true, Count: n}, st.Index)
	assert.False(t, st.Cache.Exists, "bundled data is never cached")

	resp, body = e.do(t, http.MethodPost, "/api/v1/cnae/catalog/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed map[string]int
	require.NoError(t, json.Unmarshal(body, &refreshed))
	assert.Equal(t, n, refreshed["count"])

	resp, body = e.do(t, http.MethodDelete, "/api/v1/cnae/variants", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted":0}`, string(body))
}

func TestAnalyticsEndpoints(t *testing.T) {
	e := newEnv(t, nil)
	resp, _ := e.do(t, http.MethodGet, "/api/v1/cnae/analytics/top", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	e = newEnv(t, fakeReports{})
	resp, body := e.do(t, http.MethodGet, "/api/v1/cnae/analytics/top?limit=5&days=7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"code":"8630504","description":"Atividade odontológica","count":12}]`, string(body))

	resp, _ = e.do(t, http.MethodGet, "/api/v1/cnae/analytics/top?days=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/v1/cnae/analytics/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 30, stats.Days)
	assert.Equal(t, 40, stats.Searches.TotalSearches)
	assert.Equal(t, 0.7, stats.AI.AISuggestedRate)
}

func TestShuffleEndpoint(t *testing.T) {
	e := newEnv(t, nil)

	resp, body := e.do(t, http.MethodPost, "/api/v1/results/shuffle", `{"items":[1,2,3,4,5,6,7,8],"keep_top":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Items []int `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, []int{1, 2}, got.Items[:2])
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, got.Items)

	resp, body = e.do(t, http.MethodPost, "/api/v1/results/shuffle", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"items":[]}`, string(body))

	resp, _ = e.do(t, http.MethodPost, "/api/v1/results/shuffle", `[`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
