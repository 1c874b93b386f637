package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/catalog-dev/catalog-ingest/internal/database"
	"github.com/catalog-dev/catalog-ingest/internal/database/dbtest"
	"github.com/catalog-dev/catalog-ingest/internal/pricing"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

func count(t *testing.T, db *database.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCanonicalID(t *testing.T) {
	if got := CanonicalID("DUGA", "ABC-0001"); got != "duga-abc-0001" {
		t.Errorf("CanonicalID() = %q, want duga-abc-0001", got)
	}
	if CanonicalID("fc2", "123") != CanonicalID("fc2", "123") {
		t.Error("CanonicalID() must be deterministic")
	}
}

func TestUpsertConverges(t *testing.T) {
	db := dbtest.New(t)
	r := New(db)
	ctx := context.Background()
	id := Identity{SourceID: "a", LocalID: "X-1", Origin: OriginScrape}

	first, err := r.Upsert(ctx, id, &sources.ProductInfo{Title: "First title", Description: "desc", Price: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created {
		t.Error("first upsert should report Created")
	}

	second, err := r.Upsert(ctx, id, &sources.ProductInfo{Title: "Second title"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Created {
		t.Error("second upsert should report an update")
	}

	if n := count(t, db, &database.Product{}); n != 1 {
		t.Fatalf("product rows = %d, want 1", n)
	}
	var p database.Product
	db.First(&p, "id = ?", "a-x-1")
	if p.Title != "Second title" {
		t.Errorf("Title = %q, want Second title", p.Title)
	}
	if p.Description != "desc" {
		t.Errorf("Description = %q, empty patch fields must not erase data", p.Description)
	}

	if n := count(t, db, &database.ProductSource{}); n != 1 {
		t.Errorf("product_sources rows = %d, want 1", n)
	}
	var ps database.ProductSource
	db.First(&ps)
	if ps.Price != 1000 || ps.OriginalID != "X-1" || ps.DataOrigin != OriginScrape {
		t.Errorf("ProductSource = %+v", ps)
	}
}

func TestUpsertAppendsChildren(t *testing.T) {
	db := dbtest.New(t)
	r := New(db)
	ctx := context.Background()
	id := Identity{SourceID: "heyzo", LocalID: "0001"}

	r.Upsert(ctx, id, &sources.ProductInfo{
		Title:           "Title",
		ThumbnailURL:    "https://img/t.jpg",
		SampleImageURLs: []string{"https://img/1.jpg"},
		SampleVideoURLs: []string{"https://vid/1.mp4"},
		Performers:      []sources.PerformerInfo{{Name: "山田花子"}},
		Genres:          []string{"Drama"},
	})
	r.Upsert(ctx, id, &sources.ProductInfo{
		Title:           "Title",
		ThumbnailURL:    "https://img/t.jpg",
		SampleImageURLs: []string{"https://img/1.jpg", "https://img/2.jpg"},
		SampleVideoURLs: []string{"https://vid/1.mp4"},
		Performers:      []sources.PerformerInfo{{Name: "鈴木愛"}},
		Genres:          []string{"drama", "Comedy"},
	})

	if n := count(t, db, &database.ProductImage{}); n != 3 {
		t.Errorf("images = %d, want 3", n)
	}
	if n := count(t, db, &database.ProductVideo{}); n != 1 {
		t.Errorf("videos = %d, want 1", n)
	}
	if n := count(t, db, &database.ProductPerformer{}); n != 2 {
		t.Errorf("performer links = %d, want 2 (existing link kept)", n)
	}
	if n := count(t, db, &database.Category{}); n != 2 {
		t.Errorf("categories = %d, want 2 (Drama matched case-insensitively)", n)
	}

	var p database.Product
	if err := db.Preload("Performers").Preload("Categories").First(&p, "id = ?", "heyzo-0001").Error; err != nil {
		t.Fatal(err)
	}
	if len(p.Performers) != 2 || len(p.Categories) != 2 {
		t.Errorf("Preload: %d performers, %d categories", len(p.Performers), len(p.Categories))
	}
}

func TestUpsertCountsNewPerformerLinksOnly(t *testing.T) {
	db := dbtest.New(t)
	r := New(db)
	ctx := context.Background()
	id := Identity{SourceID: "heyzo", LocalID: "0002"}

	first, err := r.Upsert(ctx, id, &sources.ProductInfo{
		Title:      "Title",
		Performers: []sources.PerformerInfo{{Name: "山田花子"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.Performers != 1 {
		t.Errorf("first Performers = %d, want 1", first.Performers)
	}

	second, err := r.Upsert(ctx, id, &sources.ProductInfo{
		Title:      "Title",
		Performers: []sources.PerformerInfo{{Name: "山田花子"}, {Name: "鈴木愛"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Performers != 1 {
		t.Errorf("second Performers = %d, want 1 (existing link not counted)", second.Performers)
	}
}

func TestPerformerResolution(t *testing.T) {
	db := dbtest.New(t)
	r := New(db)
	ctx := context.Background()

	r.Upsert(ctx, Identity{SourceID: "s", LocalID: "1"}, &sources.ProductInfo{
		Title:      "One",
		Performers: []sources.PerformerInfo{{Name: "Jane Doe", Aliases: []string{"Jane D"}}},
	})
	r.Upsert(ctx, Identity{SourceID: "s", LocalID: "2"}, &sources.ProductInfo{
		Title:      "Two",
		Performers: []sources.PerformerInfo{{Name: "JANE DOE", Reading: "じぇーん"}},
	})
	r.Upsert(ctx, Identity{SourceID: "t", LocalID: "3"}, &sources.ProductInfo{
		Title:      "Three",
		Performers: []sources.PerformerInfo{{Name: "jane d"}},
	})

	if n := count(t, db, &database.Performer{}); n != 1 {
		t.Fatalf("performers = %d, want 1 (exact name then alias match)", n)
	}
	var p database.Performer
	db.Preload("Aliases").First(&p)
	if p.Name != "Jane Doe" {
		t.Errorf("Name = %q, first seen display name should win", p.Name)
	}
	if p.Reading != "じぇーん" {
		t.Errorf("Reading = %q, want filled from later ingestion", p.Reading)
	}
	if len(p.Aliases) != 1 || p.Aliases[0].Alias != "Jane D" {
		t.Errorf("Aliases = %+v", p.Aliases)
	}
	if n := count(t, db, &database.ProductPerformer{}); n != 3 {
		t.Errorf("links = %d, want 3", n)
	}
}

func TestSaleLifecycle(t *testing.T) {
	db := dbtest.New(t)
	r := New(db)
	ctx := context.Background()
	id := Identity{SourceID: "fc2", LocalID: "100"}
	expires := time.Date(2025, 6, 30, 23, 59, 59, 0, pricing.JST)

	r.Upsert(ctx, id, &sources.ProductInfo{
		Title: "On sale",
		Price: 980,
		Sale: &pricing.SaleInfo{
			RegularPrice: 1980, SalePrice: 980, DiscountPercent: 51,
			SaleType: pricing.SaleTypeTimesale, ExpiresAt: &expires, ExpiryInferred: true,
		},
	})

	var sale database.SaleRecord
	if err := db.First(&sale).Error; err != nil {
		t.Fatal(err)
	}
	if !sale.Active || sale.DiscountPercent != 51 || sale.ProductID != "fc2-100" || !sale.ExpiryInferred {
		t.Errorf("SaleRecord = %+v", sale)
	}

	r.Upsert(ctx, id, &sources.ProductInfo{Title: "On sale", Price: 1980})
	sale = database.SaleRecord{}
	db.First(&sale)
	if sale.Active {
		t.Error("sale should be deactivated when the item is no longer discounted")
	}
	if n := count(t, db, &database.SaleRecord{}); n != 1 {
		t.Errorf("sale rows = %d, want 1", n)
	}
}

func TestUpsertRejectsEmptyTitle(t *testing.T) {
	r := New(dbtest.New(t))
	_, err := r.Upsert(context.Background(), Identity{SourceID: "s", LocalID: "1"}, &sources.ProductInfo{Title: " "})
	if !errors.Is(err, sources.ErrValidationRejected) {
		t.Errorf("Upsert() error = %v, want ErrValidationRejected", err)
	}
}

func TestConcurrentUpsertsCreateOneProduct(t *testing.T) {
	db := dbtest.New(t)
	r := New(db)
	ctx := context.Background()
	id := Identity{SourceID: "a", LocalID: "X-1"}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Upsert(ctx, id, &sources.ProductInfo{
				Title:      fmt.Sprintf("Title %d", i),
				Performers: []sources.PerformerInfo{{Name: "山田花子"}},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Upsert() error = %v", err)
		}
	}

	if n := count(t, db, &database.Product{}); n != 1 {
		t.Errorf("products = %d, want 1", n)
	}
	if n := count(t, db, &database.Performer{}); n != 1 {
		t.Errorf("performers = %d, want 1", n)
	}
	if n := count(t, db, &database.ProductPerformer{}); n != 1 {
		t.Errorf("performer links = %d, want 1", n)
	}
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey), true},
		{errors.New("database is locked"), true},
		{errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := IsConflict(tt.err); got != tt.want {
			t.Errorf("IsConflict(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
