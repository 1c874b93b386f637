package estimator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/database/dbtest"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingStrategy struct {
	calls atomic.Int32
	n     int
	err   error
}

func (s *countingStrategy) Total(context.Context) (Count, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Count{}, s.err
	}
	return Count{N: s.n, Source: "api"}, nil
}

func newTest(t *testing.T) (*Estimator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	return New(nil, WithClock(clock.Now)), clock
}

func TestGetWithinTTLUsesCache(t *testing.T) {
	e, clock := newTest(t)
	s := &countingStrategy{n: 1200}
	e.Register("duga", "DUGA", s, 100)
	ctx := context.Background()

	if e.State("duga") != StateNotFetched {
		t.Errorf("State() = %s, want not_fetched", e.State("duga"))
	}

	first := e.Get(ctx, "duga")
	clock.Advance(30 * time.Minute)
	second := e.Get(ctx, "duga")

	if got := s.calls.Load(); got != 1 {
		t.Errorf("strategy calls = %d, want 1", got)
	}
	if first.Count != 1200 || second.Count != 1200 {
		t.Errorf("Count = %d/%d, want 1200", first.Count, second.Count)
	}
	if second.State != StateFresh {
		t.Errorf("State = %s, want fresh", second.State)
	}

	clock.Advance(31 * time.Minute)
	if e.State("duga") != StateStale {
		t.Errorf("State() after TTL = %s, want stale", e.State("duga"))
	}
	e.Get(ctx, "duga")
	if got := s.calls.Load(); got != 2 {
		t.Errorf("strategy calls after TTL = %d, want 2", got)
	}
}

func TestRefreshAlwaysFetchesOnce(t *testing.T) {
	e, _ := newTest(t)
	s := &countingStrategy{n: 5}
	e.Register("duga", "DUGA", s, 0)
	ctx := context.Background()

	e.Get(ctx, "duga")
	e.Refresh(ctx, "duga")
	if got := s.calls.Load(); got != 2 {
		t.Errorf("strategy calls = %d, want 2", got)
	}
}

func TestFailureFallsBackToDefault(t *testing.T) {
	e, _ := newTest(t)
	e.Register("mgs", "MGS", &countingStrategy{err: errors.New("connection refused")}, 150000)

	r := e.Get(context.Background(), "mgs")
	if r.Count != 150000 {
		t.Errorf("Count = %d, want fallback 150000", r.Count)
	}
	if r.State != StateFailed || !r.Estimated {
		t.Errorf("State = %s, Estimated = %v, want failed estimate", r.State, r.Estimated)
	}
	if r.Source != "MGS (estimate)" {
		t.Errorf("Source = %q, want MGS (estimate)", r.Source)
	}
}

func TestFailureKeepsLastKnownValue(t *testing.T) {
	e, clock := newTest(t)
	s := &countingStrategy{n: 900}
	e.Register("fc2", "FC2", s, 1)
	ctx := context.Background()

	e.Get(ctx, "fc2")
	s.err = errors.New("timeout")
	clock.Advance(2 * time.Hour)

	r := e.Get(ctx, "fc2")
	if r.Count != 900 {
		t.Errorf("Count = %d, want last known 900", r.Count)
	}
	if r.State != StateStale {
		t.Errorf("State = %s, want stale", r.State)
	}
}

func TestFailureUsesPersistedTotal(t *testing.T) {
	db := dbtest.New(t)
	if err := db.SaveTotal("b10f", 4321); err != nil {
		t.Fatal(err)
	}
	e := New(db)
	e.Register("b10f", "b10f", &countingStrategy{err: errors.New("503")}, 10)

	if r := e.Get(context.Background(), "b10f"); r.Count != 4321 {
		t.Errorf("Count = %d, want persisted 4321", r.Count)
	}
}

func TestSuccessPersistsTotal(t *testing.T) {
	db := dbtest.New(t)
	e := New(db)
	e.Register("duga", "DUGA", &countingStrategy{n: 77}, 0)
	e.Get(context.Background(), "duga")

	if n, ok := db.LoadTotal("duga"); !ok || n != 77 {
		t.Errorf("LoadTotal() = %d, %v, want 77", n, ok)
	}
}

func TestPanickingStrategyDegrades(t *testing.T) {
	e, _ := newTest(t)
	e.Register("x", "X", StrategyFunc(func(context.Context) (Count, error) {
		panic("boom")
	}), 3)
	if r := e.Get(context.Background(), "x"); r.Count != 3 {
		t.Errorf("Count = %d, want 3", r.Count)
	}
}

func TestStaticIsFlaggedAsEstimate(t *testing.T) {
	e, _ := newTest(t)
	e.Register("tokyohot", "Tokyo-Hot", Static("Tokyo-Hot", 8000), 8000)
	r := e.Get(context.Background(), "tokyohot")
	if !r.Estimated || r.Source != "Tokyo-Hot (estimate)" || r.Count != 8000 {
		t.Errorf("Get() = %+v", r)
	}
}

func TestAllConcurrent(t *testing.T) {
	e, _ := newTest(t)
	a := &countingStrategy{n: 1}
	b := &countingStrategy{n: 2}
	e.Register("b", "B", b, 0)
	e.Register("a", "A", a, 0)

	results := e.All(context.Background(), false)
	if len(results) != 2 || results[0].SourceID != "a" || results[1].Count != 2 {
		t.Errorf("All() = %+v", results)
	}
	e.All(context.Background(), false)
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Error("second All() within TTL should not fetch")
	}
	e.All(context.Background(), true)
	if a.calls.Load() != 2 || b.calls.Load() != 2 {
		t.Error("forced All() should fetch every source once")
	}
}

func TestCountCSVRecords(t *testing.T) {
	body := []byte("id,title\n1,\"multi\nline\"\n2,b\n3,c\n")
	n, err := CountCSVRecords(body)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("CountCSVRecords() = %d, want 3", n)
	}
	if _, err := CountCSVRecords(nil); !errors.Is(err, ErrNoSignal) {
		t.Errorf("CountCSVRecords(empty) error = %v, want ErrNoSignal", err)
	}
}

func TestMaxIDStrategy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/moviepages/3401/">a</a><a href="/moviepages/3412/">b</a><a href="/moviepages/99/">c</a>`))
	}))
	defer srv.Close()

	s := MaxID(fetch.New(fetch.Options{}), srv.URL, regexp.MustCompile(`/moviepages/(\d+)/`), "heyzo listing")
	c, err := s.Total(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.N != 3412 {
		t.Errorf("N = %d, want 3412", c.N)
	}

	none := MaxID(fetch.New(fetch.Options{}), srv.URL, regexp.MustCompile(`/nothing/(\d+)`), "x")
	if _, err := none.Total(context.Background()); !errors.Is(err, ErrNoSignal) {
		t.Errorf("Total() error = %v, want ErrNoSignal", err)
	}
}

type listingReporter struct {
	url      string
	estimate int
}

func (r listingReporter) TotalStrategy() Strategy {
	return MaxID(fetch.New(fetch.Options{}), r.url, regexp.MustCompile(`/moviepages/(\d+)/`), "listing")
}

func (r listingReporter) FallbackEstimate() int { return r.estimate }

func TestFailedMaxIDUsesDeclaredEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := New(dbtest.New(t))
	e.RegisterReporter("heyzo", "HEYZO", listingReporter{url: srv.URL, estimate: 3500})

	r := e.Get(context.Background(), "heyzo")
	if r.Count != 3500 {
		t.Errorf("Count = %d, want declared estimate 3500", r.Count)
	}
	if !r.Estimated || r.State != StateFailed {
		t.Errorf("Estimated = %v, State = %s, want failed estimate", r.Estimated, r.State)
	}
	if r.Source != "HEYZO (estimate)" {
		t.Errorf("Source = %q, want HEYZO (estimate)", r.Source)
	}
}
