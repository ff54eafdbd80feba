// Package catalog provides the canonical list of CNAE subclasses.
//
// Sources, in order:
//  1. Cache slot    – cnae:catalog:v1, valid for 7 days and for the current schema version
//  2. Registry      – IBGE CNAE API (GET, JSON), result written back to the slot
//  3. Mirror        – lead_api.cnaes in MongoDB, when configured
//  4. Bundled       – a small embedded dataset of common subclasses
//
// Fetch never fails; every degraded path logs a warning and moves to the next source.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lucasfdcampos/cnae-search/internal/cache"
	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

const (
	CacheKey     = "cnae:catalog:v1"
	CacheVersion = "1.0"
	CacheTTL     = 7 * 24 * time.Hour

	DefaultRegistryURL = "https://servicodados.ibge.gov.br/api/v2/cnae/subclasses"

	maxBodyBytes = 32 << 20
	day          = 24 * time.Hour
)

// ErrBadStatus is returned for a non-2xx registry response.
var ErrBadStatus = errors.New("catalog: registry returned non-2xx status")

// ErrEmptyRegistry is returned when the registry answers with zero usable records.
var ErrEmptyRegistry = errors.New("catalog: registry returned no usable records")

//go:embed fallback.json
var fallbackJSON []byte

// Mirror is a secondary copy of the catalog (see store.Client).
type Mirror interface {
	LoadCNAEs(ctx context.Context) ([]domain.ClassificationEntry, error)
	SaveCNAEs(ctx context.Context, entries []domain.ClassificationEntry) error
}

// Provider fetches and caches the catalog.
type Provider struct {
	url    string
	client *http.Client
	retry  backoff
	store  cache.Store
	mirror Mirror
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the default 30 s client.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// WithRetry sets how many times a throttled or failed registry request is retried,
// starting at base delay.
func WithRetry(retries int, base time.Duration) Option {
	return func(p *Provider) {
		p.retry.retries = max(0, retries)
		if base > 0 {
			p.retry.base = base
		}
	}
}

// WithMirror sets the secondary catalog source.
func WithMirror(m Mirror) Option { return func(p *Provider) { p.mirror = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(p *Provider) { p.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }

// New creates a Provider reading from url and caching into store.
func New(url string, store cache.Store, opts ...Option) *Provider {
	if url == "" {
		url = DefaultRegistryURL
	}
	p := &Provider{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		retry:  defaultBackoff,
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Fetch returns the catalog. It never fails: see the package doc for the fallback chain.
func (p *Provider) Fetch(ctx context.Context) []domain.ClassificationEntry {
	if entries, ok := p.readCache(ctx); ok {
		p.logger.Debug("catalog served from cache", zap.Int("count", len(entries)))
		return entries
	}
	return p.fetchRemote(ctx)
}

// ForceRefresh drops the cache slot and fetches again.
func (p *Provider) ForceRefresh(ctx context.Context) []domain.ClassificationEntry {
	if err := p.store.Delete(ctx, CacheKey); err != nil {
		p.logger.Warn("catalog cache delete failed", zap.Error(err))
	}
	p.logger.Info("forcing catalog refresh")
	return p.fetchRemote(ctx)
}

// CacheInfo reports the state of the cache slot without fetching anything.
func (p *Provider) CacheInfo(ctx context.Context) domain.CacheInfo {
	raw, err := p.store.Get(ctx, CacheKey)
	if err != nil || raw == nil {
		return domain.CacheInfo{}
	}
	var c domain.CatalogCache
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.CacheInfo{Error: true}
	}
	age := p.now().Sub(time.UnixMilli(c.Timestamp))
	daysOld := int(age / day)
	return domain.CacheInfo{
		Exists:    true,
		Version:   c.Version,
		Count:     len(c.Data),
		DaysOld:   daysOld,
		ExpiresIn: max(0, int(CacheTTL/day)-daysOld),
	}
}

// ByCode looks up a single subclass; code may be formatted ("4711-3/01").
func (p *Provider) ByCode(ctx context.Context, code string) (domain.ClassificationEntry, bool) {
	want := cnae.NormalizeCode(code)
	for _, e := range p.Fetch(ctx) {
		if e.Code == want {
			return e, true
		}
	}
	return domain.ClassificationEntry{}, false
}

// ─── Cache slot ───────────────────────────────────────────────────────────────

func (p *Provider) readCache(ctx context.Context) ([]domain.ClassificationEntry, bool) {
	raw, err := p.store.Get(ctx, CacheKey)
	if err != nil {
		p.logger.Warn("catalog cache read failed", zap.Error(err))
		return nil, false
	}
	if raw == nil {
		return nil, false
	}
	var c domain.CatalogCache
	if err := json.Unmarshal(raw, &c); err != nil {
		p.logger.Warn("catalog cache corrupt, removing", zap.Error(err))
		if err := p.store.Delete(ctx, CacheKey); err != nil {
			p.logger.Warn("catalog cache delete failed", zap.Error(err))
		}
		return nil, false
	}
	if c.Version != CacheVersion {
		p.logger.Info("catalog cache version mismatch", zap.String("version", c.Version))
		return nil, false
	}
	if p.now().Sub(time.UnixMilli(c.Timestamp)) >= CacheTTL {
		p.logger.Info("catalog cache expired")
		return nil, false
	}
	return c.Data, true
}

func (p *Provider) writeCache(ctx context.Context, entries []domain.ClassificationEntry) {
	b, err := json.Marshal(domain.CatalogCache{
		Data:      entries,
		Timestamp: p.now().UnixMilli(),
		Version:   CacheVersion,
		Count:     len(entries),
	})
	if err != nil {
		p.logger.Warn("catalog cache encode failed", zap.Error(err))
		return
	}
	if err := p.store.Set(ctx, CacheKey, b, CacheTTL); err != nil {
		p.logger.Warn("catalog cache write failed", zap.Error(err))
	}
}

// ─── Registry ─────────────────────────────────────────────────────────────────

func (p *Provider) fetchRemote(ctx context.Context) []domain.ClassificationEntry {
	p.logger.Info("fetching catalog from registry", zap.String("url", p.url))
	entries, err := p.download(ctx)
	if err != nil {
		p.logger.Warn("registry fetch failed, using fallback", zap.Error(err))
		return p.fallback(ctx)
	}

	p.writeCache(ctx, entries)
	if p.mirror != nil {
		if err := p.mirror.SaveCNAEs(ctx, entries); err != nil {
			p.logger.Warn("catalog mirror write failed", zap.Error(err))
		}
	}
	p.logger.Info("catalog loaded from registry", zap.Int("count", len(entries)))
	return entries
}

func (p *Provider) download(ctx context.Context) ([]domain.ClassificationEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.retry.do(ctx, p.client, req)
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrBadStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("catalog: read body: %w", err)
	}
	entries, err := decodeRegistry(body)
	if err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyRegistry
	}
	return entries, nil
}

// ─── Fallbacks ────────────────────────────────────────────────────────────────

func (p *Provider) fallback(ctx context.Context) []domain.ClassificationEntry {
	if p.mirror != nil {
		entries, err := p.mirror.LoadCNAEs(ctx)
		switch {
		case err != nil:
			p.logger.Warn("catalog mirror read failed", zap.Error(err))
		case len(entries) > 0:
			p.logger.Info("catalog served from mirror", zap.Int("count", len(entries)))
			return entries
		}
	}
	entries := Bundled()
	p.logger.Info("catalog served from bundled dataset", zap.Int("count", len(entries)))
	return entries
}

// Bundled returns the embedded dataset of common subclasses, or an empty list if it
// cannot be decoded.
func Bundled() []domain.ClassificationEntry {
	var entries []domain.ClassificationEntry
	if err := json.Unmarshal(fallbackJSON, &entries); err != nil {
		return []domain.ClassificationEntry{}
	}
	for i := range entries {
		entries[i].Code = cnae.NormalizeCode(entries[i].Code)
	}
	return entries
}
