package heyzo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

func setup(t *testing.T) *Adapter {
	t.Helper()
	files := map[string]string{
		"/listpages/all_1.html":       "list.html",
		"/moviepages/3321/index.html": "detail.html",
		"/moviepages/3000/index.html": "fallback.html",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := files[r.URL.Path]
		if !ok {
			if r.URL.Path == "/moviepages/0001/index.html" {
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}
			w.Write([]byte("<html></html>"))
			return
		}
		b, err := os.ReadFile("testdata/" + name)
		if err != nil {
			t.Error(err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		w.Write(b)
	}))
	t.Cleanup(server.Close)
	return New(server.URL, 5*time.Second)
}

func TestListIDsRange(t *testing.T) {
	a := New(DefaultBaseURL, time.Second)

	ids, err := a.ListIDs(context.Background(), sources.ListParams{StartID: "98", EndID: "101"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"0101", "0100", "0099", "0098"}
	if len(ids) != len(want) {
		t.Fatalf("ListIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}

	if _, err := a.ListIDs(context.Background(), sources.ListParams{StartID: "20", EndID: "10"}); err == nil {
		t.Error("reversed range should fail")
	}
}

func TestListIDsRangeBounds(t *testing.T) {
	a := New(DefaultBaseURL, time.Second)
	ctx := context.Background()

	bad := []sources.ListParams{
		{StartID: "0", EndID: "9223372036854775807", Limit: 5},
		{StartID: "1", EndID: "10000"},
		{StartID: "-5", EndID: "5"},
		{StartID: "100"},
		{EndID: "100"},
	}
	for _, params := range bad {
		_, err := a.ListIDs(ctx, params)
		var ae *sources.AdapterError
		if !errors.As(err, &ae) || ae.Code != sources.ErrCodeInvalidConfig {
			t.Errorf("ListIDs(%+v) error = %v, want INVALID_CONFIG", params, err)
		}
	}

	ids, err := a.ListIDs(ctx, sources.ListParams{StartID: "1", EndID: "9999", Offset: 2, Limit: 3})
	if err != nil {
		t.Fatalf("ListIDs() error = %v, a range of %d ids is allowed", err, maxIDRange-1)
	}
	want := []string{"9997", "9996", "9995"}
	if len(ids) != len(want) {
		t.Fatalf("ListIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestListIDsFromListing(t *testing.T) {
	a := setup(t)
	ids, err := a.ListIDs(context.Background(), sources.ListParams{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "3321" {
		t.Errorf("ListIDs() = %v", ids)
	}
}

func TestParseJSONLD(t *testing.T) {
	a := setup(t)
	page, err := a.FetchDetail(context.Background(), "3321")
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.ParseDetail(page)
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "夕暮れの約束" {
		t.Errorf("Title = %q, want the JSON-LD name", p.Title)
	}
	if p.DurationMinutes != 60 {
		t.Errorf("DurationMinutes = %d, want 60", p.DurationMinutes)
	}
	if p.ReleaseDate == nil || p.ReleaseDate.Format("2006-01-02") != "2024-08-10" {
		t.Errorf("ReleaseDate = %v", p.ReleaseDate)
	}
	if p.ThumbnailURL != "http://www.heyzo.com/contents/3000/3321/images/player_thumbnail.jpg" {
		t.Errorf("ThumbnailURL = %q", p.ThumbnailURL)
	}
	if len(p.Performers) != 1 || p.Performers[0].Name != "桜井ゆき" {
		t.Errorf("Performers = %+v", p.Performers)
	}
	if len(p.Genres) != 2 || len(p.SampleImageURLs) != 1 {
		t.Errorf("genres/samples = %v %v", p.Genres, p.SampleImageURLs)
	}
}

func TestParseHTMLFallback(t *testing.T) {
	a := setup(t)
	page, err := a.FetchDetail(context.Background(), "3000")
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.ParseDetail(page)
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "雨の日" || p.DurationMinutes != 58 {
		t.Errorf("title/duration = %q/%d", p.Title, p.DurationMinutes)
	}
	if p.ReleaseDate == nil || p.ReleaseDate.Year() != 2023 {
		t.Errorf("ReleaseDate = %v", p.ReleaseDate)
	}
	if len(p.Performers) != 1 || p.Performers[0].Name != "青木りん" {
		t.Errorf("Performers = %+v", p.Performers)
	}
}

func TestNotAProduct(t *testing.T) {
	a := setup(t)
	for _, id := range []string{"0001", "0002"} {
		page, err := a.FetchDetail(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := a.ParseDetail(page); !errors.Is(err, sources.ErrNotAProduct) {
			t.Errorf("%s: err = %v, want ErrNotAProduct", id, err)
		}
	}
}

func TestTotalStrategyMaxID(t *testing.T) {
	a := setup(t)
	c, err := a.TotalStrategy().Total(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.N != 3321 || c.Estimated {
		t.Errorf("Total = %+v, want 3321", c)
	}
}
