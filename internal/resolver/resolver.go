// Package resolver maps (source, local id) pairs onto canonical products and
// is the only writer of products and their children.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/catalog-dev/catalog-ingest/internal/database"
	"github.com/catalog-dev/catalog-ingest/internal/names"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

const (
	OriginAPI    = "api"
	OriginScrape = "scrape"
	OriginCSV    = "csv"

	ImageKindThumbnail = "thumbnail"
	ImageKindSample    = "sample"

	maxAttempts = 5
)

// Identity is the stable key of a source item.
type Identity struct {
	SourceID string
	LocalID  string
	// Origin tags the ProductSource row: api, scrape or csv.
	Origin string
}

// CanonicalID is the product id of an identity: "{source}-{local id}",
// lower-cased.
func CanonicalID(sourceID, localID string) string {
	return strings.ToLower(strings.TrimSpace(sourceID) + "-" + strings.TrimSpace(localID))
}

// Outcome describes what an upsert did. Created is advisory: two concurrent
// first writes may both see the product as new.
type Outcome struct {
	ProductID  string
	Created    bool
	Performers int
	Categories int
}

type Resolver struct {
	db  *database.DB
	now func() time.Time
}

func New(db *database.DB) *Resolver {
	return &Resolver{db: db, now: time.Now}
}

// Upsert creates or updates the canonical product of id from patch in one
// transaction. Mutable fields take the latest non-empty value; images,
// videos, performers and categories are only ever appended.
func (r *Resolver) Upsert(ctx context.Context, id Identity, patch *sources.ProductInfo) (*Outcome, error) {
	if id.SourceID == "" || id.LocalID == "" {
		return nil, errors.New("identity requires source and local id")
	}
	if patch == nil || strings.TrimSpace(patch.Title) == "" {
		return nil, fmt.Errorf("%w: empty title", sources.ErrValidationRejected)
	}

	var out *Outcome
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err = r.upsertOnce(ctx, id, patch)
		if err == nil || !IsConflict(err) {
			break
		}
		slog.Debug("Retrying upsert after conflict", "source", id.SourceID, "localID", id.LocalID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("upsert %s/%s: %w", id.SourceID, id.LocalID, err)
	}
	return out, nil
}

func (r *Resolver) upsertOnce(ctx context.Context, id Identity, p *sources.ProductInfo) (*Outcome, error) {
	productID := CanonicalID(id.SourceID, id.LocalID)
	now := r.now()
	out := &Outcome{ProductID: productID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&database.Product{}).Where("id = ?", productID).Count(&existing).Error; err != nil {
			return err
		}
		out.Created = existing == 0

		if err := upsertProduct(tx, productID, p, now); err != nil {
			return fmt.Errorf("product: %w", err)
		}
		if err := upsertProductSource(tx, productID, id, p, now); err != nil {
			return fmt.Errorf("product source: %w", err)
		}
		if err := appendMedia(tx, productID, id.SourceID, p); err != nil {
			return fmt.Errorf("media: %w", err)
		}
		n, err := linkPerformers(tx, productID, p.Performers)
		if err != nil {
			return fmt.Errorf("performers: %w", err)
		}
		out.Performers = n
		n, err = linkCategories(tx, productID, p.Genres)
		if err != nil {
			return fmt.Errorf("categories: %w", err)
		}
		out.Categories = n
		if err := upsertSale(tx, productID, id, p, now); err != nil {
			return fmt.Errorf("sale: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func upsertProduct(tx *gorm.DB, productID string, p *sources.ProductInfo, now time.Time) error {
	row := database.Product{
		ID:                  productID,
		Title:               p.Title,
		Description:         p.Description,
		ReleaseDate:         p.ReleaseDate,
		DurationMinutes:     p.DurationMinutes,
		DefaultThumbnailURL: p.ThumbnailURL,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	updates := map[string]interface{}{
		"title":      p.Title,
		"updated_at": now,
	}
	if p.Description != "" {
		updates["description"] = p.Description
	}
	if p.ReleaseDate != nil {
		updates["release_date"] = p.ReleaseDate
	}
	if p.DurationMinutes > 0 {
		updates["duration_minutes"] = p.DurationMinutes
	}
	if p.ThumbnailURL != "" {
		updates["default_thumbnail_url"] = p.ThumbnailURL
	}

	return tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&row).Error
}

func upsertProductSource(tx *gorm.DB, productID string, id Identity, p *sources.ProductInfo, now time.Time) error {
	row := database.ProductSource{
		ProductID:    productID,
		SourceID:     id.SourceID,
		OriginalID:   id.LocalID,
		AffiliateURL: p.AffiliateURL,
		Price:        p.Price,
		DataOrigin:   id.Origin,
		LastUpdated:  now,
		CreatedAt:    now,
	}

	updates := map[string]interface{}{
		"original_id":  id.LocalID,
		"data_origin":  id.Origin,
		"last_updated": now,
	}
	if p.AffiliateURL != "" {
		updates["affiliate_url"] = p.AffiliateURL
	}
	if p.Price > 0 {
		updates["price"] = p.Price
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "source_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&row).Error
}

func appendMedia(tx *gorm.DB, productID, sourceID string, p *sources.ProductInfo) error {
	var images []database.ProductImage
	if p.ThumbnailURL != "" {
		images = append(images, database.ProductImage{
			ProductID: productID, URL: p.ThumbnailURL, Kind: ImageKindThumbnail, SourceID: sourceID,
		})
	}
	for i, u := range p.SampleImageURLs {
		images = append(images, database.ProductImage{
			ProductID: productID, URL: u, Kind: ImageKindSample, SourceID: sourceID, Position: i + 1,
		})
	}
	if len(images) > 0 {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&images).Error; err != nil {
			return err
		}
	}

	var videos []database.ProductVideo
	for i, u := range p.SampleVideoURLs {
		videos = append(videos, database.ProductVideo{
			ProductID: productID, URL: u, SourceID: sourceID, Position: i,
		})
	}
	if len(videos) > 0 {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&videos).Error; err != nil {
			return err
		}
	}
	return nil
}

func upsertSale(tx *gorm.DB, productID string, id Identity, p *sources.ProductInfo, now time.Time) error {
	if p.Sale == nil || p.Sale.SalePrice <= 0 || p.Sale.SalePrice >= p.Sale.RegularPrice {
		return tx.Model(&database.SaleRecord{}).
			Where("source_id = ? AND local_id = ? AND active = ?", id.SourceID, id.LocalID, true).
			Updates(map[string]interface{}{"active": false, "updated_at": now}).Error
	}

	s := p.Sale
	row := database.SaleRecord{
		SourceID:        id.SourceID,
		LocalID:         id.LocalID,
		ProductID:       productID,
		RegularPrice:    s.RegularPrice,
		SalePrice:       s.SalePrice,
		DiscountPercent: s.DiscountPercent,
		SaleType:        s.SaleType,
		ExpiresAt:       s.ExpiresAt,
		ExpiryInferred:  s.ExpiryInferred,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "local_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"product_id":       productID,
			"regular_price":    s.RegularPrice,
			"sale_price":       s.SalePrice,
			"discount_percent": s.DiscountPercent,
			"sale_type":        s.SaleType,
			"expires_at":       s.ExpiresAt,
			"expiry_inferred":  s.ExpiryInferred,
			"active":           true,
			"updated_at":       now,
		}),
	}).Create(&row).Error
}

// IsConflict reports whether err is a unique violation or a lock /
// serialization failure that a retry of the whole transaction can resolve.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"database is locked",
		"database table is locked",
		"unique constraint failed",
		"deadlock",
		"could not serialize",
		"sqlstate 40001",
		"sqlstate 40p01",
		"error 1213",
		"error 1205",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func categoryKey(name string) string {
	return names.Key(name)
}
