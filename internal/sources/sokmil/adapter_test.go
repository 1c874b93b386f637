package sokmil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

func setup(t *testing.T, status string) *Adapter {
	t.Helper()
	item, err := os.ReadFile("testdata/item.json")
	if err != nil {
		t.Fatal(err)
	}
	actor, err := os.ReadFile("testdata/actor.json")
	if err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != "" {
			w.Write([]byte(`{"result": {"status": "` + status + `", "message": "invalid api_key"}}`))
			return
		}
		if r.URL.Query().Get("api_key") != "key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/Item"):
			w.Write(item)
		case strings.HasSuffix(r.URL.Path, "/Actor"):
			if r.URL.Query().Get("id") != "9001" {
				w.Write([]byte(`{"result": {"status": "200", "items": []}}`))
				return
			}
			w.Write(actor)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	a := New(server.URL, 5*time.Second)
	a.SetCredentials(map[string]string{"api_key": "key", "affiliate_id": "AFF1"})
	return a
}

func TestRecentItems(t *testing.T) {
	a := setup(t, "")

	res, err := a.RecentItems(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 98765 || len(res.Items) != 1 {
		t.Fatalf("result = %d items of %d", len(res.Items), res.TotalCount)
	}

	p := res.Items[0]
	if p.LocalID != "74512" || p.Title != "秋の旅路" {
		t.Errorf("item = %s %q", p.LocalID, p.Title)
	}
	if p.DurationMinutes != 95 {
		t.Errorf("DurationMinutes = %d, want 95", p.DurationMinutes)
	}
	if p.ThumbnailURL != "https://img.sokmil.com/74512_l.jpg" {
		t.Errorf("ThumbnailURL = %q", p.ThumbnailURL)
	}
	if p.Price != 2480 || p.Sale == nil || p.Sale.SalePrice != 1240 || p.Sale.DiscountPercent != 50 {
		t.Errorf("price = %d sale = %+v", p.Price, p.Sale)
	}
	if p.Sale != nil && p.Sale.SaleType != "campaign" {
		t.Errorf("SaleType = %q, want campaign", p.Sale.SaleType)
	}
	// the actor equal to the title is an extraction artefact
	if len(p.Performers) != 1 || p.Performers[0].Name != "佐藤美咲" || p.Performers[0].ExternalID != "9001" {
		t.Errorf("Performers = %+v", p.Performers)
	}
	if p.AffiliateURL != "https://www.sokmil.com/av/_item/item74512.htm?aff=AFF1" {
		t.Errorf("AffiliateURL = %q", p.AffiliateURL)
	}
}

func TestEnrichAddsReading(t *testing.T) {
	a := setup(t, "")

	p := &sources.ProductInfo{
		Title: "秋の旅路",
		Performers: []sources.PerformerInfo{
			{Name: "佐藤美咲", ExternalID: "9001"},
			{Name: "無名の人"},
		},
	}
	if err := a.Enrich(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.Performers[0].Reading != "さとうみさき" {
		t.Errorf("Reading = %q, want さとうみさき", p.Performers[0].Reading)
	}
	if p.Performers[1].Reading != "" {
		t.Errorf("unmatched performer got reading %q", p.Performers[1].Reading)
	}
}

func TestAPIStatusErrors(t *testing.T) {
	a := setup(t, "401")
	err := a.ValidateCredentials(context.Background())
	var ae *sources.AdapterError
	if !errors.As(err, &ae) || ae.Code != sources.ErrCodeAuth {
		t.Errorf("err = %v, want AUTH_ERROR", err)
	}
}

func TestForbiddenIsAuthError(t *testing.T) {
	a := setup(t, "")
	a.SetCredentials(map[string]string{"api_key": "wrong", "affiliate_id": "AFF1"})
	_, err := a.FetchBatch(context.Background(), sources.ListParams{Limit: 10})
	var ae *sources.AdapterError
	if !errors.As(err, &ae) || ae.Code != sources.ErrCodeAuth {
		t.Errorf("err = %v, want AUTH_ERROR", err)
	}
}
