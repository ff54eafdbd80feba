package diversify

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/lucasfdcampos/cnae-search/internal/cache"
	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

// Variant cache layout.
const (
	KeyPrefix     = "cnae:variant:v1:"
	DefaultTTL    = 5 * time.Minute
	VariantCount  = 3
	seedStepMilli = 1000
)

// VariantCache precomputes VariantCount diversified orderings per query and rotates
// through them until the set is older than the TTL.
type VariantCache struct {
	mu     sync.Mutex
	store  cache.Store
	ttl    time.Duration
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// VariantOption configures a VariantCache.
type VariantOption func(*VariantCache)

// WithTTL overrides the 5 minute lifetime of a variant set.
func WithTTL(ttl time.Duration) VariantOption {
	return func(v *VariantCache) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) VariantOption { return func(v *VariantCache) { v.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) VariantOption { return func(v *VariantCache) { v.now = now } }

// WithOptions overrides the diversification parameters; Seed is ignored.
func WithOptions(o Options) VariantOption { return func(v *VariantCache) { v.opts = o } }

// NewVariantCache creates a cache writing into store.
func NewVariantCache(store cache.Store, opts ...VariantOption) *VariantCache {
	v := &VariantCache{
		store:  store,
		ttl:    DefaultTTL,
		opts:   DefaultOptions(0),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	return v
}

// Key derives the slot key for a query.
func Key(query string) string {
	return KeyPrefix + strconv.FormatUint(xxhash.Sum64String(cnae.Fold(query)), 16)
}

// Next returns the next variant of results for query. The first call within a window
// builds the set and returns variant 0; later calls rotate 1, 2, 0, ...
// Store failures degrade to an uncached single diversification.
func (v *VariantCache) Next(ctx context.Context, query string, results []domain.ScoredResult) []domain.ScoredResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := Key(query)
	now := v.now()

	if set, ok := v.read(ctx, key, now); ok {
		set.LastIndex = (set.LastIndex + 1) % len(set.Variants)
		v.write(ctx, key, set)
		return set.Variants[set.LastIndex]
	}

	set := v.build(results, now)
	v.write(ctx, key, set)
	return set.Variants[0]
}

// ClearAll drops every stored variant set.
func (v *VariantCache) ClearAll(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.DeleteByPrefix(ctx, KeyPrefix)
}

func (v *VariantCache) build(results []domain.ScoredResult, now time.Time) domain.VariantSet {
	base := now.UnixMilli()
	set := domain.VariantSet{
		Variants:  make([][]domain.ScoredResult, VariantCount),
		Timestamp: base,
	}
	for i := range VariantCount {
		o := v.opts
		o.Seed = base + int64(i)*seedStepMilli
		set.Variants[i] = Diversify(results, o)
	}
	return set
}

func (v *VariantCache) read(ctx context.Context, key string, now time.Time) (domain.VariantSet, bool) {
	raw, err := v.store.Get(ctx, key)
	if err != nil {
		v.logger.Warn("variant cache read failed", zap.Error(err))
		return domain.VariantSet{}, false
	}
	if raw == nil {
		return domain.VariantSet{}, false
	}
	var set domain.VariantSet
	if err := json.Unmarshal(raw, &set); err != nil || len(set.Variants) == 0 {
		v.logger.Warn("variant cache entry corrupt, rebuilding", zap.String("key", key))
		return domain.VariantSet{}, false
	}
	if now.Sub(time.UnixMilli(set.Timestamp)) >= v.ttl {
		return domain.VariantSet{}, false
	}
	return set, true
}

func (v *VariantCache) write(ctx context.Context, key string, set domain.VariantSet) {
	b, err := json.Marshal(set)
	if err != nil {
		v.logger.Warn("variant cache encode failed", zap.Error(err))
		return
	}
	if err := v.store.Set(ctx, key, b, v.ttl); err != nil {
		v.logger.Warn("variant cache write failed", zap.Error(err))
	}
}
