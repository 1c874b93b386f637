package b10f

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/encoding/japanese"

	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

func setup(t *testing.T) (*Adapter, *atomic.Int32) {
	t.Helper()
	utf8CSV, err := os.ReadFile("testdata/products.csv")
	if err != nil {
		t.Fatal(err)
	}
	sjis, err := japanese.ShiftJIS.NewEncoder().Bytes(utf8CSV)
	if err != nil {
		t.Fatal(err)
	}

	var downloads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Header().Set("Content-Type", "text/csv; charset=Shift_JIS")
		w.Write(sjis)
	}))
	t.Cleanup(server.Close)
	return New(server.URL, 5*time.Second), &downloads
}

func TestFetchBatchDownloadsOncePerRun(t *testing.T) {
	a, downloads := setup(t)
	ctx := context.Background()

	first, err := a.FetchBatch(ctx, sources.ListParams{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if first.TotalCount != 3 || len(first.Items) != 2 {
		t.Fatalf("first batch = %d items of %d, want 2 of 3", len(first.Items), first.TotalCount)
	}
	second, err := a.FetchBatch(ctx, sources.ListParams{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Items) != 1 || second.Items[0].LocalID != "b10f-1003" {
		t.Errorf("second batch = %+v", second.Items)
	}
	empty, err := a.FetchBatch(ctx, sources.ListParams{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.Items) != 0 {
		t.Errorf("past the end = %d items, want 0", len(empty.Items))
	}
	if downloads.Load() != 1 {
		t.Errorf("downloads = %d, want 1", downloads.Load())
	}

	if _, err := a.FetchBatch(ctx, sources.ListParams{Limit: 2}); err != nil {
		t.Fatal(err)
	}
	if downloads.Load() != 2 {
		t.Errorf("a new run should download again, downloads = %d", downloads.Load())
	}
}

func TestBeginRunDropsEarlierDownload(t *testing.T) {
	var rows atomic.Int32
	rows.Store(1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := "id,title\n"
		for i := 1; i <= int(rows.Load()); i++ {
			body += fmt.Sprintf("%d,Title %d\n", i, i)
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	a := New(server.URL, 5*time.Second)
	ctx := context.Background()

	a.BeginRun()
	first, err := a.FetchBatch(ctx, sources.ListParams{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if first.TotalCount != 1 {
		t.Fatalf("TotalCount = %d, want 1", first.TotalCount)
	}
	a.EndRun()
	if a.items != nil {
		t.Error("EndRun() kept the parsed dump")
	}

	rows.Store(3)
	a.BeginRun()
	batch, err := a.FetchBatch(ctx, sources.ListParams{Offset: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if batch.TotalCount != 3 || len(batch.Items) != 2 {
		t.Errorf("batch = %d items of %d, want 2 of 3", len(batch.Items), batch.TotalCount)
	}
}

func TestParseItem(t *testing.T) {
	a, _ := setup(t)
	batch, err := a.FetchBatch(context.Background(), sources.ListParams{})
	if err != nil {
		t.Fatal(err)
	}

	p, err := a.ParseItem(batch.Items[0])
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "湯けむり紀行" || p.Description != "温泉地を巡る旅。" {
		t.Errorf("title/description = %q %q", p.Title, p.Description)
	}
	if p.DurationMinutes != 120 || p.Price != 1980 {
		t.Errorf("duration/price = %d/%d", p.DurationMinutes, p.Price)
	}
	if p.Sale == nil || p.Sale.SalePrice != 980 || p.Sale.SaleType != "timesale" {
		t.Errorf("Sale = %+v", p.Sale)
	}
	if len(p.SampleImageURLs) != 2 {
		t.Errorf("SampleImageURLs = %v", p.SampleImageURLs)
	}
	if len(p.Performers) != 2 || p.Performers[1].Name != "鈴木一郎" {
		t.Errorf("Performers = %+v", p.Performers)
	}
	if len(p.Genres) != 2 || p.Genres[0] != "温泉" {
		t.Errorf("Genres = %v", p.Genres)
	}

	p, err = a.ParseItem(batch.Items[1])
	if err != nil {
		t.Fatal(err)
	}
	if p.DurationMinutes != 65 || p.Sale != nil || p.ThumbnailURL != "" {
		t.Errorf("second item = %+v", p)
	}

	p, err = a.ParseItem(batch.Items[2])
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Performers) != 0 {
		t.Errorf("placeholder performer kept: %+v", p.Performers)
	}
}

func TestTotalStrategy(t *testing.T) {
	a, _ := setup(t)
	c, err := a.TotalStrategy().Total(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// the id-less row is still a CSV record
	if c.N != 4 {
		t.Errorf("Total = %d, want 4", c.N)
	}
}
