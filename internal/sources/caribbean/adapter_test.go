package caribbean

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/japanese"

	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

func eucjp(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := japanese.EUCJP.NewEncoder().Bytes(b)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func setup(t *testing.T) *Adapter {
	t.Helper()
	detail, list := eucjp(t, "detail.html"), eucjp(t, "list.html")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=EUC-JP")
		switch {
		case r.URL.Path == "/listpages/all1.htm":
			w.Write(list)
		case strings.HasPrefix(r.URL.Path, "/listpages/"):
			w.Write([]byte("<html></html>"))
		case r.URL.Path == "/moviepages/080924-001/index.html":
			w.Write(detail)
		case r.URL.Path == "/moviepages/999999-999/index.html":
			http.Redirect(w, r, "/index.html", http.StatusMovedPermanently)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return New(Caribbeancom, server.URL, 5*time.Second)
}

func TestListIDs(t *testing.T) {
	a := setup(t)
	ids, err := a.ListIDs(context.Background(), sources.ListParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "080924-001" || ids[1] != "080824-002" {
		t.Errorf("ListIDs() = %v", ids)
	}
}

func TestParseEUCJPDetail(t *testing.T) {
	a := setup(t)
	page, err := a.FetchDetail(context.Background(), "080924-001")
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.ParseDetail(page)
	if err != nil {
		t.Fatal(err)
	}

	if p.Title != "真夏の約束" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.Description != "幼なじみとの再会を描いた作品です。" {
		t.Errorf("Description = %q", p.Description)
	}
	if p.DurationMinutes != 62 {
		t.Errorf("DurationMinutes = %d, want 62", p.DurationMinutes)
	}
	if p.ReleaseDate == nil || p.ReleaseDate.Format("2006-01-02") != "2024-08-09" {
		t.Errorf("ReleaseDate = %v", p.ReleaseDate)
	}
	if len(p.Performers) != 1 || p.Performers[0].Name != "星野ひかり" {
		t.Errorf("Performers = %+v", p.Performers)
	}
	if len(p.Genres) != 2 || p.Genres[1] != "美少女" {
		t.Errorf("Genres = %v", p.Genres)
	}
	if len(p.SampleImageURLs) != 2 || !strings.HasPrefix(p.SampleImageURLs[0], "http") {
		t.Errorf("SampleImageURLs = %v", p.SampleImageURLs)
	}
	if !strings.HasSuffix(p.ThumbnailURL, "/moviepages/080924-001/images/l_l.jpg") {
		t.Errorf("ThumbnailURL = %q, want the constructed fallback", p.ThumbnailURL)
	}
}

func TestRedirectToHome(t *testing.T) {
	a := setup(t)
	page, err := a.FetchDetail(context.Background(), "999999-999")
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.ParseDetail(page)
	if !errors.Is(err, sources.ErrNotAProduct) {
		t.Errorf("err = %v, want ErrNotAProduct", err)
	}
}

func TestVariantsDiffer(t *testing.T) {
	pr := New(CaribbeancomPR, "", time.Second)
	if pr.ID() != "caribbeancompr" || pr.BaseURL != "https://www.caribbeancompr.com" {
		t.Errorf("variant = %s %s", pr.ID(), pr.BaseURL)
	}
	if !CaribbeancomPR.IDPattern.MatchString("/moviepages/080924_001/") {
		t.Error("premium ids use an underscore")
	}
	c, err := pr.TotalStrategy().Total(context.Background())
	if err != nil || !c.Estimated || c.N != CaribbeancomPR.Estimate {
		t.Errorf("Total = %+v, %v", c, err)
	}
}
