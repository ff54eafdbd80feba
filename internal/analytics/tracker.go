// Package analytics records "term searched" and "code selected" events without
// ever blocking or failing a search. Failed writes are kept in a bounded local
// queue and retried after the next successful write.
package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

const (
	// MaxQueued bounds the retry queue; the oldest events are dropped first.
	MaxQueued = 100

	defaultWriteTimeout = 5 * time.Second
	defaultTopLimit     = 10
	defaultWindowDays   = 30
)

// ErrNoReports is returned by the report queries when no Reports backend is set.
var ErrNoReports = errors.New("analytics: reports not available")

// Sink persists events (see store.Client).
type Sink interface {
	Insert(ctx context.Context, events []domain.Event) error
}

// Reports answers aggregate queries over stored events (see store.Client).
type Reports interface {
	TopCodes(ctx context.Context, limit, days int) ([]domain.TopCode, error)
	SearchStats(ctx context.Context, days int) (domain.SearchStats, error)
	AIAccuracy(ctx context.Context, days int) (domain.AIAccuracy, error)
}

// Tracker sends events to a Sink in the background.
type Tracker struct {
	sink    Sink
	reports Reports
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu    sync.Mutex
	queue []domain.Event

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithReports enables the aggregate queries.
func WithReports(r Reports) Option { return func(t *Tracker) { t.reports = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// New creates a Tracker. A nil sink disables tracking.
func New(sink Sink, opts ...Option) *Tracker {
	t := &Tracker{
		sink:    sink,
		logger:  zap.NewNop(),
		now:     time.Now,
		timeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// Enabled reports whether events go anywhere.
func (t *Tracker) Enabled() bool { return t.sink != nil }

// TrackSearch records one completed search.
func (t *Tracker) TrackSearch(userID string, resp domain.SearchResponse) {
	t.send(domain.Event{
		Kind:           domain.EventSearch,
		UserID:         userID,
		SearchTerm:     resp.Query,
		ResultsCount:   resp.Total,
		AIUsed:         resp.AIUsed,
		ExpandedTerms:  resp.ExpandedTerms,
		SuggestedCodes: resp.SuggestedCodes,
		ResponseTimeMs: resp.DurationMs,
	})
}

// TrackSelection records that the user picked a code from a result list.
func (t *Tracker) TrackSelection(sel domain.SelectionRequest) {
	t.send(domain.Event{
		Kind:             domain.EventSelection,
		UserID:           sel.UserID,
		SearchTerm:       sel.SearchTerm,
		CNAECode:         sel.Code,
		CNAEDescription:  sel.Description,
		Position:         sel.Position,
		IsAISuggested:    sel.IsSuggested,
		HasSemanticMatch: sel.HasSemanticMatch,
		Confidence:       sel.Confidence,
	})
}

// Queued reports how many events wait for a retry.
func (t *Tracker) Queued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Close stops accepting events and waits for in-flight writes until ctx is done.
func (t *Tracker) Close(ctx context.Context) error {
	t.closed.Store(true)
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if n := t.Queued(); n > 0 {
			t.logger.Warn("analytics closed with unsent events", zap.Int("queued", n))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Delivery ─────────────────────────────────────────────────────────────────

func (t *Tracker) send(e domain.Event) {
	if t.sink == nil || t.closed.Load() {
		return
	}
	e.ID = uuid.NewString()
	e.Timestamp = t.now().UTC()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.sink.Insert(ctx, []domain.Event{e}); err != nil {
			t.logger.Warn("analytics write failed, queued for retry",
				zap.String("kind", e.Kind), zap.Error(err))
			t.enqueue(e)
			return
		}
		t.flush(ctx)
	}()
}

func (t *Tracker) enqueue(events ...domain.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, events...)
	if over := len(t.queue) - MaxQueued; over > 0 {
		t.queue = append(t.queue[:0:0], t.queue[over:]...)
	}
}

// flush retries the queued events as one batch.
func (t *Tracker) flush(ctx context.Context) {
	t.mu.Lock()
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := t.sink.Insert(ctx, batch); err != nil {
		t.logger.Warn("analytics retry failed", zap.Int("events", len(batch)), zap.Error(err))
		t.mu.Lock()
		t.queue = append(batch, t.queue...)
		if over := len(t.queue) - MaxQueued; over > 0 {
			t.queue = append(t.queue[:0:0], t.queue[over:]...)
		}
		t.mu.Unlock()
		return
	}
	t.logger.Info("analytics queue flushed", zap.Int("events", len(batch)))
}

// ─── Reports ──────────────────────────────────────────────────────────────────

// TopCodes returns the most selected codes over the last days.
func (t *Tracker) TopCodes(ctx context.Context, limit, days int) ([]domain.TopCode, error) {
	if t.reports == nil {
		return nil, ErrNoReports
	}
	if limit <= 0 {
		limit = defaultTopLimit
	}
	return t.reports.TopCodes(ctx, limit, window(days))
}

// SearchStats summarizes search events over the last days.
func (t *Tracker) SearchStats(ctx context.Context, days int) (domain.SearchStats, error) {
	if t.reports == nil {
		return domain.SearchStats{}, ErrNoReports
	}
	return t.reports.SearchStats(ctx, window(days))
}

// AIAccuracy summarizes selection events over the last days.
func (t *Tracker) AIAccuracy(ctx context.Context, days int) (domain.AIAccuracy, error) {
	if t.reports == nil {
		return domain.AIAccuracy{}, ErrNoReports
	}
	return t.reports.AIAccuracy(ctx, window(days))
}

func window(days int) int {
	if days <= 0 {
		return defaultWindowDays
	}
	return days
}
