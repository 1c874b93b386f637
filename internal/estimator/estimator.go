// Package estimator reports the catalog size of every source. Results are
// cached per source for a TTL; failures fall back to the last known or the
// configured default count and are never returned to the caller.
package estimator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a live result is served without refetching.
const DefaultTTL = time.Hour

type State string

const (
	StateNotFetched State = "not_fetched"
	StateFetching   State = "fetching"
	StateFresh      State = "fresh"
	StateStale      State = "stale"
	StateFailed     State = "failed"
)

// Result is the reported total of one source.
type Result struct {
	SourceID  string    `json:"sourceId"`
	Count     int       `json:"count"`
	Source    string    `json:"source"`
	Estimated bool      `json:"estimated"`
	State     State     `json:"state"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// TotalStore persists the last known count so a restart can still report
// something when the live signal is down. *database.DB implements it.
type TotalStore interface {
	LoadTotal(sourceID string) (int, bool)
	SaveTotal(sourceID string, count int) error
}

type registration struct {
	site     string
	strategy Strategy
	fallback int
}

type entry struct {
	state  State
	result Result
	// live is the last successful result, kept across failures.
	live *Result
}

type Estimator struct {
	now   func() time.Time
	ttl   time.Duration
	store TotalStore

	mu      sync.Mutex
	sources map[string]registration
	entries map[string]*entry
	group   singleflight.Group
}

type Option func(*Estimator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(e *Estimator) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// New creates an estimator. store may be nil.
func New(store TotalStore, opts ...Option) *Estimator {
	e := &Estimator{
		now:     time.Now,
		ttl:     DefaultTTL,
		store:   store,
		sources: make(map[string]registration),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a source. site labels estimates; fallback is the count
// reported when no live or persisted value exists.
func (e *Estimator) Register(sourceID, site string, strategy Strategy, fallback int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[sourceID] = registration{site: site, strategy: strategy, fallback: fallback}
	if _, ok := e.entries[sourceID]; !ok {
		e.entries[sourceID] = &entry{state: StateNotFetched}
	}
}

// RegisterReporter registers a source by its own strategy, with its
// FallbackEstimate as the default when it declares one.
func (e *Estimator) RegisterReporter(sourceID, site string, r Reporter) {
	fallback := 0
	if d, ok := r.(Defaulter); ok {
		fallback = d.FallbackEstimate()
	}
	e.Register(sourceID, site, r.TotalStrategy(), fallback)
}

// Get returns the cached result while it is fresh and refetches otherwise.
func (e *Estimator) Get(ctx context.Context, sourceID string) Result {
	if r, ok := e.cached(sourceID); ok {
		return r
	}
	return e.refresh(ctx, sourceID)
}

// Refresh always performs one live fetch (shared with concurrent callers).
func (e *Estimator) Refresh(ctx context.Context, sourceID string) Result {
	return e.refresh(ctx, sourceID)
}

// All returns the result of every registered source, sorted by id.
func (e *Estimator) All(ctx context.Context, force bool) []Result {
	ids := e.ids()
	results := make([]Result, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			if force {
				results[i] = e.Refresh(gctx, id)
			} else {
				results[i] = e.Get(gctx, id)
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// Snapshot reports the current state of every source without fetching.
func (e *Estimator) Snapshot() []Result {
	ids := e.ids()
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		en := e.entries[id]
		r := en.result
		r.SourceID = id
		r.State = en.state
		if en.state == StateFresh && e.now().Sub(r.FetchedAt) >= e.ttl {
			r.State = StateStale
		}
		out = append(out, r)
	}
	return out
}

// State returns the state of one source.
func (e *Estimator) State(sourceID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.entries[sourceID]
	if !ok {
		return StateNotFetched
	}
	if en.state == StateFresh && e.now().Sub(en.result.FetchedAt) >= e.ttl {
		return StateStale
	}
	return en.state
}

func (e *Estimator) cached(sourceID string) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.entries[sourceID]
	if !ok || en.state == StateNotFetched || en.state == StateFetching {
		return Result{}, false
	}
	// Fallback results are served until the TTL elapses too.
	if e.now().Sub(en.result.FetchedAt) >= e.ttl {
		return Result{}, false
	}
	return en.result, true
}

func (e *Estimator) refresh(ctx context.Context, sourceID string) Result {
	v, _, _ := e.group.Do(sourceID, func() (interface{}, error) {
		return e.fetch(ctx, sourceID), nil
	})
	return v.(Result)
}

func (e *Estimator) fetch(ctx context.Context, sourceID string) Result {
	e.mu.Lock()
	reg, ok := e.sources[sourceID]
	if !ok {
		e.mu.Unlock()
		return Result{SourceID: sourceID, State: StateFailed, Error: "unknown source"}
	}
	en := e.entries[sourceID]
	en.state = StateFetching
	e.mu.Unlock()

	count, err := safeTotal(ctx, reg.strategy)
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		r := Result{
			SourceID:  sourceID,
			Count:     count.N,
			Source:    count.Source,
			Estimated: count.Estimated,
			State:     StateFresh,
			FetchedAt: now,
		}
		if r.Estimated && r.Source == "" {
			r.Source = EstimateLabel(reg.site)
		}
		en.state = StateFresh
		en.result = r
		en.live = &r
		if e.store != nil && !r.Estimated {
			if err := e.store.SaveTotal(sourceID, r.Count); err != nil {
				slog.Warn("Failed to persist total", "source", sourceID, "error", err)
			}
		}
		return r
	}

	slog.Warn("Total count fetch failed, using fallback", "source", sourceID, "error", err)

	r := Result{
		SourceID:  sourceID,
		Source:    EstimateLabel(reg.site),
		Estimated: true,
		FetchedAt: now,
		Error:     err.Error(),
	}
	switch {
	case en.live != nil:
		r.Count = en.live.Count
		r.State = StateStale
	default:
		r.State = StateFailed
		r.Count = reg.fallback
		if e.store != nil {
			if n, ok := e.store.LoadTotal(sourceID); ok {
				r.Count = n
			}
		}
	}
	en.state = r.State
	en.result = r
	return r
}

// safeTotal shields callers from a panicking strategy.
func safeTotal(ctx context.Context, s Strategy) (c Count, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError{p}
		}
	}()
	return s.Total(ctx)
}

func (e *Estimator) ids() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sources))
	for id := range e.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EstimateLabel is the source label of a hard-coded or fallback count.
func EstimateLabel(site string) string {
	return site + " (estimate)"
}
