package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

func candidates(n int) []domain.ScoredResult {
	out := make([]domain.ScoredResult, n)
	for i := range out {
		out[i] = domain.ScoredResult{Candidate: domain.Candidate{ClassificationEntry: domain.ClassificationEntry{
			Code: "86305" + string(rune('0'+i/10)) + string(rune('0'+i%10)), Description: "Atividade odontológica",
		}}}
	}
	return out
}

func chatServer(t *testing.T, content string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassify(t *testing.T) {
	var seen chatRequest
	srv := chatServer(t, "Claro! Aqui está:\n```json\n"+
		`[{"code":"8630-5/04","description":"Atividade odontológica","confidence":0.97,"reasoning":"consultório"},`+
		`{"code":8630503,"description":"Atividade médica ambulatorial restrita a consultas","confidence":0.6,"reason":"clínica"}]`+
		"\n```\nEspero ter ajudado.", &seen)

	g := NewGroq("test-key", WithBaseURL(srv.URL))
	got, err := g.Classify(context.Background(), "dentista", candidates(40))
	require.NoError(t, err)

	assert.Equal(t, []domain.Suggestion{
		{Code: "8630504", Description: "Atividade odontológica", Confidence: 0.97, Reasoning: "consultório"},
		{Code: "8630503", Description: "Atividade médica ambulatorial restrita a consultas", Confidence: 0.6, Reasoning: "clínica"},
	}, got)

	assert.Equal(t, DefaultModel, seen.Model)
	assert.Equal(t, 0.05, seen.Temperature)
	assert.Equal(t, 1500, seen.MaxTokens)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	prompt := seen.Messages[1].Content
	assert.Contains(t, prompt, `"dentista"`)
	assert.Equal(t, MaxCandidates, strings.Count(prompt, " - Atividade odontológica"))
}

func TestClassify_NotConfigured(t *testing.T) {
	g := NewGroq("  ")
	assert.False(t, g.Configured())
	_, err := g.Classify(context.Background(), "dentista", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClassify_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		target  error
	}{
		{"http error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
		}, nil},
		{"no choices", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}, ErrEmptyResponse},
		{"prose answer", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Não sei."}}]}`))
		}, ErrNoJSONArray},
		{"not json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewGroq("k", WithBaseURL(srv.URL)).Classify(context.Background(), "dentista", candidates(2))
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}
}

func TestParseSuggestions(t *testing.T) {
	got, err := ParseSuggestions(`[]`)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ParseSuggestions(`[{"description":"sem código"},{"code":"4721102","confidence":1.7}]`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "4721102", got[0].Code)
	assert.Equal(t, 1.0, got[0].Confidence)

	_, err = ParseSuggestions(`] antes [`)
	assert.ErrorIs(t, err, ErrNoJSONArray)

	_, err = ParseSuggestions(`[{"code":}]`)
	assert.Error(t, err)
}
