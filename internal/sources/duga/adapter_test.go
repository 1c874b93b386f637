package duga

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/ratelimit"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

type lastQuery struct {
	mu sync.Mutex
	q  url.Values
}

func (l *lastQuery) get() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q
}

func newTestAdapter(t *testing.T) (*Adapter, *atomic.Int32, *lastQuery) {
	t.Helper()
	body, err := os.ReadFile("testdata/search.json")
	if err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	last := &lastQuery{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		last.mu.Lock()
		last.q = r.URL.Query()
		last.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(server.Close)

	a := New(server.URL, 5*time.Second)
	a.SetCredentials(map[string]string{"app_id": "app", "agent_id": "12345"})
	return a, &calls, last
}

func TestSearchNormalizesItems(t *testing.T) {
	a, _, last := newTestAdapter(t)

	res, err := a.Search(context.Background(), sources.SearchParams{Keyword: "夏", Limit: 10, Offset: 20})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 183422 {
		t.Errorf("TotalCount = %d, want 183422", res.TotalCount)
	}
	if len(res.Items) != 2 {
		t.Fatalf("Items = %d, want 2", len(res.Items))
	}

	q := last.get()
	if q.Get("appid") != "app" || q.Get("hits") != "10" || q.Get("offset") != "21" || q.Get("keyword") != "夏" {
		t.Errorf("query = %v", q)
	}

	p := res.Items[0]
	if p.LocalID != "glory-4321" || p.Title != "夏の終わりの物語" {
		t.Errorf("item = %s %q", p.LocalID, p.Title)
	}
	if p.DurationMinutes != 118 || p.Price != 1980 {
		t.Errorf("duration/price = %d/%d", p.DurationMinutes, p.Price)
	}
	if p.Sale == nil || p.Sale.SalePrice != 980 || p.Sale.DiscountPercent != 51 {
		t.Errorf("Sale = %+v, want 980 at 51%%", p.Sale)
	}
	if len(p.Performers) != 1 || p.Performers[0].Name != "山田花子" {
		t.Errorf("Performers = %+v", p.Performers)
	}
	if len(p.SampleImageURLs) != 2 || len(p.SampleVideoURLs) != 1 || len(p.Genres) != 2 {
		t.Errorf("media/genres = %v %v %v", p.SampleImageURLs, p.SampleVideoURLs, p.Genres)
	}
	if p.ThumbnailURL != "https://pic.duga.jp/unsecure/glory/4321/noauth/240x180.jpg" {
		t.Errorf("ThumbnailURL = %q, want the poster image", p.ThumbnailURL)
	}
	for _, u := range p.SampleImageURLs {
		if !strings.Contains(u, "/scap/") {
			t.Errorf("SampleImageURLs = %v, want the sample pictures only", p.SampleImageURLs)
			break
		}
	}

	second := res.Items[1]
	if second.Description != "" || second.ThumbnailURL != "" || second.Sale != nil {
		t.Errorf("absent optional fields must stay empty: %+v", second)
	}
	if second.AffiliateURL != "https://duga.jp/ppv/glory-4322/" {
		t.Errorf("AffiliateURL = %q", second.AffiliateURL)
	}
}

func TestFetchBatchKeepsRawItems(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	batch, err := a.FetchBatch(context.Background(), sources.ListParams{Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Items) != 2 || batch.Items[0].LocalID != "glory-4321" {
		t.Fatalf("batch = %+v", batch.Items)
	}
	p, err := a.ParseItem(batch.Items[1])
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "冬の日" {
		t.Errorf("Title = %q", p.Title)
	}
}

func TestQuotaRejectsWithoutRequest(t *testing.T) {
	a, calls, _ := newTestAdapter(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.client = a.client.WithQuota(ratelimit.New(2, time.Minute).WithClock(func() time.Time { return now }))

	for i := 0; i < 2; i++ {
		if _, err := a.RecentItems(context.Background(), 1, 0); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := a.RecentItems(context.Background(), 1, 0)
	if !errors.Is(err, ratelimit.ErrExceeded) {
		t.Fatalf("err = %v, want ratelimit.ErrExceeded", err)
	}
	var ae *sources.AdapterError
	if !errors.As(err, &ae) || ae.Code != sources.ErrCodeRateLimit {
		t.Errorf("err = %v, want RATE_LIMITED adapter error", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
}

func TestMissingCredentials(t *testing.T) {
	a := New("http://127.0.0.1:1", time.Second)
	_, err := a.FetchBatch(context.Background(), sources.ListParams{})
	var ae *sources.AdapterError
	if !errors.As(err, &ae) || ae.Code != sources.ErrCodeInvalidConfig {
		t.Errorf("err = %v, want INVALID_CONFIG", err)
	}
}

func TestTotalStrategy(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	c, err := a.TotalStrategy().Total(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.N != 183422 || c.Estimated {
		t.Errorf("Total = %+v", c)
	}
}
