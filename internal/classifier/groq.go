// Package classifier asks an LLM (Groq chat completions) to pick the right CNAE
// subclasses for a free-text activity among a prefiltered candidate list.
//
// The answer is trusted structurally: the Explicit Override Map runs before this
// step for the terms the model is known to misclassify.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel   = "llama-3.3-70b-versatile"

	// MaxCandidates is how many prefiltered entries go into the prompt.
	MaxCandidates = 30

	temperature = 0.05
	topP        = 0.8
	maxTokens   = 1500
)

var (
	ErrNotConfigured = errors.New("classifier: GROQ_API_KEY not configured")
	ErrNoJSONArray   = errors.New("classifier: response has no JSON array")
	ErrEmptyResponse = errors.New("classifier: empty response")
)

// Groq is a chat-completions client.
type Groq struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// Option configures a Groq client.
type Option func(*Groq)

// WithModel overrides DefaultModel.
func WithModel(m string) Option {
	return func(g *Groq) {
		if m != "" {
			g.model = m
		}
	}
}

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option { return func(g *Groq) { g.baseURL = u } }

// WithHTTPClient overrides the default 30 s client.
func WithHTTPClient(c *http.Client) Option { return func(g *Groq) { g.client = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Groq) { g.logger = l } }

// NewGroq creates a client. An empty apiKey yields a client whose Configured is false.
func NewGroq(apiKey string, opts ...Option) *Groq {
	g := &Groq{
		apiKey:  strings.TrimSpace(apiKey),
		model:   DefaultModel,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Configured reports whether an API key is present.
func (g *Groq) Configured() bool { return g.apiKey != "" }

// Model returns the model name sent with each request.
func (g *Groq) Model() string { return g.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify sends query and up to MaxCandidates candidates to the model and returns
// its suggestions in the order given.
func (g *Groq) Classify(ctx context.Context, query string, candidates []domain.ScoredResult) ([]domain.Suggestion, error) {
	if !g.Configured() {
		return nil, ErrNotConfigured
	}
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}

	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(query, candidates)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		TopP:        topP,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classifier: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier: post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("classifier: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("classifier: HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("classifier: decode response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("classifier: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	suggestions, err := ParseSuggestions(cr.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("classifier answered",
		zap.String("query", query),
		zap.Int("candidates", len(candidates)),
		zap.Int("suggestions", len(suggestions)),
		zap.Duration("took", time.Since(start)))
	return suggestions, nil
}

// ParseSuggestions extracts the JSON array from a model answer. Code fences and any
// text around the first '[' ... last ']' span are ignored. Items without a code are
// dropped.
func ParseSuggestions(content string) ([]domain.Suggestion, error) {
	content = strings.TrimSpace(content)
	for _, pfx := range []string{"```json", "```"} {
		content = strings.TrimPrefix(content, pfx)
	}
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, ErrNoJSONArray
	}

	var extracted []struct {
		Code        json.RawMessage `json:"code"`
		Description string          `json:"description"`
		Confidence  float64         `json:"confidence"`
		Reasoning   string          `json:"reasoning"`
		Reason      string          `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &extracted); err != nil {
		return nil, fmt.Errorf("classifier: parse JSON array: %w", err)
	}

	out := make([]domain.Suggestion, 0, len(extracted))
	for _, e := range extracted {
		code := strings.Trim(strings.TrimSpace(string(e.Code)), `"`)
		if code == "" || code == "null" {
			continue
		}
		reasoning := e.Reasoning
		if reasoning == "" {
			reasoning = e.Reason
		}
		out = append(out, domain.Suggestion{
			Code:        cnae.NormalizeCode(code),
			Description: strings.TrimSpace(e.Description),
			Confidence:  clamp01(e.Confidence),
			Reasoning:   reasoning,
		})
	}
	return out, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
