// Package index runs the background search index: one goroutine owns the catalog
// and answers requests that callers send over a channel. Every request carries a
// correlation id, resolved through a pending table, and a caller-side timeout.
//
// States: empty → loaded (Load) → empty (Clear). A panic inside the owner goroutine
// rejects every pending request and leaves the index indeterminate until Clear.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

var (
	ErrNotLoaded     = errors.New("index: catalog not loaded")
	ErrTimeout       = errors.New("index: request timed out")
	ErrClosed        = errors.New("index: closed")
	ErrIndeterminate = errors.New("index: indeterminate state, clear and reload")
	ErrUnknownOp     = errors.New("index: unknown operation")
)

// Status is the observable state of the index.
type Status struct {
	Loaded        bool `json:"is_loaded"`
	Count         int  `json:"count"`
	Indeterminate bool `json:"indeterminate,omitempty"`
}

type op int

const (
	opLoad op = iota + 1
	opSearch
	opStatus
	opClear
	opByCode
	opBySection

	// test hooks
	opPanic
	opStall
)

type request struct {
	id      uint64
	op      op
	entries []domain.ClassificationEntry
	query   string
	opts    cnae.RankOptions
	release <-chan struct{}
}

type response struct {
	results []domain.ScoredResult
	entries []domain.ClassificationEntry
	entry   domain.ClassificationEntry
	found   bool
	status  Status
	err     error
}

// state is owned by the loop goroutine.
type state struct {
	entries []domain.ClassificationEntry
	loaded  bool
	broken  bool
}

// Client is the caller side of the index. It is safe for concurrent use.
type Client struct {
	reqs    chan request
	quit    chan struct{}
	timeout time.Duration
	logger  *zap.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan response
	closed  bool

	wg sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// New starts the index goroutine. Call Close to stop it.
func New(opts ...Option) *Client {
	c := &Client{
		reqs:    make(chan request),
		quit:    make(chan struct{}),
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
		pending: make(map[uint64]chan response),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// ─── Operations ───────────────────────────────────────────────────────────────

// Load replaces the catalog and returns the new count. entries is copied.
func (c *Client) Load(ctx context.Context, entries []domain.ClassificationEntry) (int, error) {
	snapshot := append([]domain.ClassificationEntry(nil), entries...)
	resp, err := c.call(ctx, request{op: opLoad, entries: snapshot})
	if err != nil {
		return 0, err
	}
	return resp.status.Count, nil
}

// Search ranks the catalog against query. Zero MaxResults means 50.
func (c *Client) Search(ctx context.Context, query string, opts cnae.RankOptions) ([]domain.ScoredResult, error) {
	resp, err := c.call(ctx, request{op: opSearch, query: query, opts: opts})
	if err != nil {
		return nil, err
	}
	return resp.results, nil
}

// FuzzySearch is Search with the looser 0.2 threshold.
func (c *Client) FuzzySearch(ctx context.Context, term string, maxResults int) ([]domain.ScoredResult, error) {
	opts := cnae.DefaultRankOptions()
	opts.MinScore = cnae.FuzzyMinScore
	opts.MaxResults = maxResults
	return c.Search(ctx, term, opts)
}

// Status reports whether a catalog is loaded and its size.
func (c *Client) Status(ctx context.Context) (Status, error) {
	resp, err := c.call(ctx, request{op: opStatus})
	if err != nil {
		return Status{}, err
	}
	return resp.status, nil
}

// Clear drops the catalog. It also resets an indeterminate index.
func (c *Client) Clear(ctx context.Context) error {
	_, err := c.call(ctx, request{op: opClear})
	return err
}

// ByCode looks up one entry; code may be formatted.
func (c *Client) ByCode(ctx context.Context, code string) (domain.ClassificationEntry, bool, error) {
	resp, err := c.call(ctx, request{op: opByCode, query: cnae.NormalizeCode(code)})
	if err != nil {
		return domain.ClassificationEntry{}, false, err
	}
	return resp.entry, resp.found, nil
}

// BySection lists the entries of one section, matched case-insensitively on the
// section description.
func (c *Client) BySection(ctx context.Context, section string) ([]domain.ClassificationEntry, error) {
	resp, err := c.call(ctx, request{op: opBySection, query: cnae.Fold(section)})
	if err != nil {
		return nil, err
	}
	return resp.entries, nil
}

// Close stops the index goroutine and rejects every pending request with ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.quit)
	c.wg.Wait()
	c.rejectAll(ErrClosed)
}

// ─── Caller side ──────────────────────────────────────────────────────────────

func (c *Client) call(ctx context.Context, req request) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, err
	}
	id, ch, err := c.register()
	if err != nil {
		return response{}, err
	}
	req.id = id

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case c.reqs <- req:
	case <-timer.C:
		c.forget(id)
		return response{}, ErrTimeout
	case <-ctx.Done():
		c.forget(id)
		return response{}, ctx.Err()
	case <-c.quit:
		c.forget(id)
		return response{}, ErrClosed
	}

	select {
	case resp := <-ch:
		return resp, resp.err
	case <-timer.C:
		c.forget(id)
		c.logger.Warn("index request timed out", zap.Uint64("id", id), zap.Duration("timeout", c.timeout))
		return response{}, ErrTimeout
	case <-ctx.Done():
		c.forget(id)
		return response{}, ctx.Err()
	}
}

func (c *Client) register() (uint64, chan response, error) {
	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, ErrClosed
	}
	c.pending[id] = ch
	return id, ch, nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve answers one pending request. Answers for forgotten ids are dropped.
func (c *Client) resolve(id uint64, resp response) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) rejectAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan response)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- response{err: err}
	}
}

// ─── Index goroutine ──────────────────────────────────────────────────────────

func (c *Client) run() {
	defer c.wg.Done()
	st := &state{}
	for !c.serve(st) {
	}
}

// serve handles requests until Close (returns true) or a panic (returns false).
func (c *Client) serve(st *state) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("index goroutine panicked, rejecting pending requests", zap.Any("panic", r))
			st.entries, st.loaded, st.broken = nil, false, true
			c.rejectAll(ErrIndeterminate)
			stopped = false
		}
	}()
	for {
		select {
		case <-c.quit:
			return true
		case req := <-c.reqs:
			c.handle(st, req)
		}
	}
}

func (c *Client) handle(st *state, req request) {
	if st.broken && req.op != opClear && req.op != opStatus {
		c.resolve(req.id, response{err: ErrIndeterminate})
		return
	}

	switch req.op {
	case opLoad:
		st.entries, st.loaded = req.entries, true
		c.logger.Info("index loaded", zap.Int("count", len(st.entries)))
		c.resolve(req.id, response{status: st.status()})

	case opSearch:
		if !st.loaded {
			c.resolve(req.id, response{err: ErrNotLoaded})
			return
		}
		// Searches run off the loop on the current snapshot, so they may finish in
		// any order. Load replaces the slice and never mutates it.
		entries := st.entries
		c.wg.Add(1)
		go c.search(req, entries)

	case opStatus:
		c.resolve(req.id, response{status: st.status()})

	case opClear:
		st.entries, st.loaded, st.broken = nil, false, false
		c.logger.Info("index cleared")
		c.resolve(req.id, response{status: st.status()})

	case opByCode:
		if !st.loaded {
			c.resolve(req.id, response{err: ErrNotLoaded})
			return
		}
		for _, e := range st.entries {
			if e.Code == req.query {
				c.resolve(req.id, response{entry: e, found: true})
				return
			}
		}
		c.resolve(req.id, response{})

	case opBySection:
		if !st.loaded {
			c.resolve(req.id, response{err: ErrNotLoaded})
			return
		}
		var out []domain.ClassificationEntry
		for _, e := range st.entries {
			if cnae.Fold(e.Section) == req.query {
				out = append(out, e)
			}
		}
		c.resolve(req.id, response{entries: out})

	case opPanic:
		panic("index: induced failure")

	case opStall:
		select {
		case <-req.release:
		case <-c.quit:
			return
		}
		c.resolve(req.id, response{status: st.status()})

	default:
		c.resolve(req.id, response{err: fmt.Errorf("%w: %d", ErrUnknownOp, req.op)})
	}
}

func (c *Client) search(req request, entries []domain.ClassificationEntry) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("index search panicked", zap.Any("panic", r), zap.String("query", req.query))
			c.resolve(req.id, response{err: fmt.Errorf("index: search failed: %v", r)})
		}
	}()
	opts := req.opts
	if opts.MaxResults <= 0 {
		opts.MaxResults = cnae.DefaultMaxResults
	}
	c.resolve(req.id, response{results: cnae.Rank(entries, req.query, opts, domain.SourceIndex)})
}

func (st *state) status() Status {
	return Status{Loaded: st.loaded, Count: len(st.entries), Indeterminate: st.broken}
}
