package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSink struct {
	mu      sync.Mutex
	fail    bool
	block   chan struct{}
	batches [][]domain.Event
}

func (s *memSink) Insert(ctx context.Context, events []domain.Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("mongo down")
	}
	s.batches = append(s.batches, append([]domain.Event(nil), events...))
	return nil
}

func (s *memSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *memSink) events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestTrackSearch(t *testing.T) {
	sink := &memSink{}
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	tr := New(sink, WithClock(func() time.Time { return at }))

	tr.TrackSearch("u1", domain.SearchResponse{
		Query: "padaria", Total: 10, AIUsed: true,
		ExpandedTerms: []string{"padaria", "panificação"}, SuggestedCodes: []string{"4721102"},
		DurationMs: 120,
	})
	require.NoError(t, tr.Close(context.Background()))

	got := sink.events()
	require.Len(t, got, 1)
	e := got[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, domain.EventSearch, e.Kind)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, at, e.Timestamp)
	assert.Equal(t, "padaria", e.SearchTerm)
	assert.Equal(t, 10, e.ResultsCount)
	assert.True(t, e.AIUsed)
	assert.Equal(t, []string{"4721102"}, e.SuggestedCodes)
	assert.EqualValues(t, 120, e.ResponseTimeMs)
}

func TestTrackSelection(t *testing.T) {
	sink := &memSink{}
	tr := New(sink)

	tr.TrackSelection(domain.SelectionRequest{
		Code: "8630504", Description: "Atividade odontológica", SearchTerm: "dentista",
		Position: 1, IsSuggested: true, Confidence: 0.9,
	})
	require.NoError(t, tr.Close(context.Background()))

	got := sink.events()
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventSelection, got[0].Kind)
	assert.Equal(t, "8630504", got[0].CNAECode)
	assert.True(t, got[0].IsAISuggested)
	assert.Equal(t, 1, got[0].Position)
}

func TestFailedEventsAreRetriedAfterNextSuccess(t *testing.T) {
	sink := &memSink{fail: true}
	tr := New(sink)

	for range 3 {
		tr.TrackSelection(domain.SelectionRequest{Code: "4721102"})
	}
	tr.wg.Wait()
	assert.Equal(t, 3, tr.Queued())
	assert.Empty(t, sink.events())

	sink.setFail(false)
	tr.TrackSearch("", domain.SearchResponse{Query: "padaria"})
	require.NoError(t, tr.Close(context.Background()))

	assert.Len(t, sink.events(), 4)
	assert.Zero(t, tr.Queued())
}

func TestQueueIsBounded(t *testing.T) {
	sink := &memSink{fail: true}
	tr := New(sink)

	for range MaxQueued + 25 {
		tr.TrackSearch("", domain.SearchResponse{Query: "x"})
	}
	require.NoError(t, tr.Close(context.Background()))
	assert.Equal(t, MaxQueued, tr.Queued())
}

func TestEnqueueDropsOldest(t *testing.T) {
	tr := New(&memSink{})
	for i := range MaxQueued + 2 {
		tr.enqueue(domain.Event{Position: i})
	}
	require.Equal(t, MaxQueued, tr.Queued())
	assert.Equal(t, 2, tr.queue[0].Position)
	assert.Equal(t, MaxQueued+1, tr.queue[MaxQueued-1].Position)
}

func TestDisabled(t *testing.T) {
	tr := New(nil)
	assert.False(t, tr.Enabled())
	tr.TrackSearch("", domain.SearchResponse{Query: "padaria"})
	require.NoError(t, tr.Close(context.Background()))
}

func TestTrackAfterCloseIsDropped(t *testing.T) {
	sink := &memSink{}
	tr := New(sink)
	require.NoError(t, tr.Close(context.Background()))
	tr.TrackSearch("", domain.SearchResponse{Query: "padaria"})
	tr.wg.Wait()
	assert.Empty(t, sink.events())
}

func TestCloseHonoursContext(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	tr := New(sink)
	tr.TrackSearch("", domain.SearchResponse{Query: "padaria"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Close(ctx), context.DeadlineExceeded)

	close(sink.block)
	tr.wg.Wait()
	assert.Len(t, sink.events(), 1)
}

type fakeReports struct {
	limit, days int
}

func (f *fakeReports) TopCodes(_ context.Context, limit, days int) ([]domain.TopCode, error) {
	f.limit, f.days = limit, days
	return []domain.TopCode{{Code: "4721102", Count: 3}}, nil
}

func (f *fakeReports) SearchStats(_ context.Context, days int) (domain.SearchStats, error) {
	f.days = days
	return domain.SearchStats{TotalSearches: 7}, nil
}

func (f *fakeReports) AIAccuracy(_ context.Context, days int) (domain.AIAccuracy, error) {
	f.days = days
	return domain.AIAccuracy{Total: 2, AISuggestedRate: 0.5}, nil
}

func TestReports(t *testing.T) {
	ctx := context.Background()

	_, err := New(nil).TopCodes(ctx, 5, 7)
	assert.ErrorIs(t, err, ErrNoReports)

	r := &fakeReports{}
	tr := New(nil, WithReports(r))

	top, err := tr.TopCodes(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, top, 1)
	assert.Equal(t, 10, r.limit)
	assert.Equal(t, 30, r.days)

	stats, err := tr.SearchStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalSearches)
	assert.Equal(t, 7, r.days)

	acc, err := tr.AIAccuracy(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, acc.AISuggestedRate)
	assert.Equal(t, 30, r.days)
}
