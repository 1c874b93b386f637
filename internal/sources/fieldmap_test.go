package sources

import (
	"testing"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/pricing"
)

var testMap = FieldMap{
	LocalID:      []string{"product_id", "productid", "id"},
	Title:        []string{"title", "item.title"},
	Description:  []string{"caption", "description"},
	ReleaseDate:  []string{"release_date", "opendate"},
	Duration:     []string{"volume", "duration"},
	Thumbnail:    []string{"jacketimage.large", "thumbnail"},
	SampleImages: []string{"thumbnails.#.image", "sample_images"},
	SampleVideos: []string{"samplemovie.#.movie", "sample_movie"},
	Price:        []string{"price", "pricelist.price"},
	SalePrice:    []string{"sale_price"},
	SaleContext:  []string{"sale_label"},
	Performers:   []string{"performer.#.data.name", "actresses", "performer_names"},
	Genres:       []string{"category.#.data.name", "genres"},
	AffiliateURL: []string{"affiliateurl", "url"},
}

func TestFieldMapNormalize(t *testing.T) {
	raw := []byte(`{
		"productid": "ABC-0001",
		"title": "夏の思い出",
		"description": "長い説明",
		"opendate": "2024/05/01",
		"volume": "120",
		"thumbnail": "https://img.example.com/abc.jpg",
		"thumbnails": [{"image": "https://img.example.com/1.jpg"}, {"image": "https://img.example.com/2.jpg"}],
		"price": "1,980円",
		"sale_price": 980,
		"sale_label": "タイムセール",
		"performer": [{"data": {"name": "山田花子"}}, {"data": {"name": "不明"}}],
		"genres": [{"name": "ドラマ"}, "企画"],
		"url": "https://example.com/abc"
	}`)

	p, err := testMap.Normalize("duga", raw)
	if err != nil {
		t.Fatal(err)
	}
	if p.LocalID != "ABC-0001" {
		t.Errorf("LocalID = %q, want ABC-0001", p.LocalID)
	}
	if p.Title != "夏の思い出" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.Description != "長い説明" {
		t.Errorf("Description = %q, want fallback path value", p.Description)
	}
	if p.ReleaseDate == nil || p.ReleaseDate.Format("2006-01-02") != "2024-05-01" {
		t.Errorf("ReleaseDate = %v, want 2024-05-01", p.ReleaseDate)
	}
	if p.DurationMinutes != 120 {
		t.Errorf("DurationMinutes = %d, want 120", p.DurationMinutes)
	}
	if p.ThumbnailURL != "https://img.example.com/abc.jpg" {
		t.Errorf("ThumbnailURL = %q", p.ThumbnailURL)
	}
	if len(p.SampleImageURLs) != 2 {
		t.Errorf("SampleImageURLs = %v, want 2", p.SampleImageURLs)
	}
	if p.Price != 1980 {
		t.Errorf("Price = %d, want 1980", p.Price)
	}
	if p.Sale == nil || p.Sale.SalePrice != 980 || p.Sale.DiscountPercent != 51 || p.Sale.SaleType != "timesale" {
		t.Errorf("Sale = %+v, want 980 at 51%% timesale", p.Sale)
	}
	if len(p.Performers) != 1 || p.Performers[0].Name != "山田花子" {
		t.Errorf("Performers = %+v, want only 山田花子", p.Performers)
	}
	if len(p.Genres) != 2 || p.Genres[0] != "ドラマ" || p.Genres[1] != "企画" {
		t.Errorf("Genres = %v", p.Genres)
	}
	if p.AffiliateURL != "https://example.com/abc" {
		t.Errorf("AffiliateURL = %q", p.AffiliateURL)
	}
}

func TestFieldMapMissingOptionalFields(t *testing.T) {
	p, err := testMap.Normalize("duga", []byte(`{"id": 42, "title": "Only a title"}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.LocalID != "42" {
		t.Errorf("LocalID = %q, want 42", p.LocalID)
	}
	if p.ReleaseDate != nil || p.Price != 0 || p.ThumbnailURL != "" || p.Performers != nil || p.Sale != nil {
		t.Errorf("absent fields should stay zero: %+v", p)
	}
}

func TestFieldMapNormalizeAtUsesGivenClock(t *testing.T) {
	raw := []byte(`{"id": "S-1", "title": "Sale", "price": 2000, "sale_price": 1000, "sale_label": "1/5まで"}`)

	for _, year := range []int{2024, 2030} {
		now := time.Date(year, 12, 20, 9, 0, 0, 0, pricing.JST)
		p, err := testMap.NormalizeAt("duga", raw, now)
		if err != nil {
			t.Fatal(err)
		}
		if p.Sale == nil || p.Sale.ExpiresAt == nil {
			t.Fatalf("Sale = %+v, want an expiry", p.Sale)
		}
		want := time.Date(year+1, 1, 5, 23, 59, 59, 0, pricing.JST)
		if !p.Sale.ExpiresAt.Equal(want) {
			t.Errorf("now %d: ExpiresAt = %v, want %v", year, p.Sale.ExpiresAt, want)
		}
		if !p.Sale.ExpiryInferred {
			t.Errorf("now %d: ExpiryInferred = false, want true", year)
		}
	}
}

func TestFieldMapRejectsBadInput(t *testing.T) {
	if _, err := testMap.Normalize("duga", []byte(`{not json`)); err == nil {
		t.Error("Normalize() should fail on invalid JSON")
	}
	if _, err := testMap.Normalize("duga", []byte(`{"title": "no id"}`)); err == nil {
		t.Error("Normalize() should fail when the item has no id")
	}
}

func TestLookup(t *testing.T) {
	raw := []byte(`{"a": "", "b": {"c": "x"}}`)
	if got := Lookup(raw, "a", "b.c"); got != "x" {
		t.Errorf("Lookup() = %q, want x", got)
	}
}
