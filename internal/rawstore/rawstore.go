// Package rawstore keeps the verbatim capture of every fetch, keyed by
// (source, local id), and decides whether a re-fetched page needs to be
// parsed again.
package rawstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/catalog-dev/catalog-ingest/internal/database"
)

var ErrBlobUnavailable = errors.New("raw body is in the blob store but no blob store is configured")

// BlobStore holds large raw bodies outside the database.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type Store struct {
	db       *database.DB
	blobs    BlobStore
	minBytes int
}

// New returns a store. blobs may be nil, in which case bodies are stored
// inline. Bodies shorter than minBytes are always inline.
func New(db *database.DB, blobs BlobStore, minBytes int) *Store {
	return &Store{db: db, blobs: blobs, minBytes: minBytes}
}

// Hash is the content hash stored with every capture.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ShouldSkip reports whether a capture with hash can skip extraction: the
// stored capture has the same content and was already processed.
func ShouldSkip(existing *database.RawResponse, hash string, force bool) bool {
	if force || existing == nil {
		return false
	}
	return existing.ContentHash == hash && existing.ProcessedAt != nil
}

// Capture is one fetch result to persist.
type Capture struct {
	SourceID  string
	LocalID   string
	URL       string
	Body      []byte
	FetchedAt time.Time
}

type SaveResult struct {
	Record *database.RawResponse
	// Previous is the capture that was current before this save, if any.
	Previous *database.RawResponse
	Changed  bool
}

// Current returns the stored capture for (sourceID, localID), or nil.
func (s *Store) Current(ctx context.Context, sourceID, localID string) (*database.RawResponse, error) {
	var rec database.RawResponse
	err := s.db.WithContext(ctx).
		Where("source_id = ? AND local_id = ?", sourceID, localID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save persists c. An unchanged body only advances fetched_at; a changed
// body replaces the capture in place and clears processed_at.
func (s *Store) Save(ctx context.Context, c Capture) (*SaveResult, error) {
	if c.FetchedAt.IsZero() {
		c.FetchedAt = time.Now()
	}
	hash := Hash(c.Body)

	prev, err := s.Current(ctx, c.SourceID, c.LocalID)
	if err != nil {
		return nil, fmt.Errorf("load raw response: %w", err)
	}

	if prev != nil && prev.ContentHash == hash {
		err := s.db.WithContext(ctx).Model(&database.RawResponse{}).
			Where("id = ? AND fetched_at < ?", prev.ID, c.FetchedAt).
			Update("fetched_at", c.FetchedAt).Error
		if err != nil {
			return nil, fmt.Errorf("refresh raw response: %w", err)
		}
		rec := *prev
		if c.FetchedAt.After(rec.FetchedAt) {
			rec.FetchedAt = c.FetchedAt
		}
		return &SaveResult{Record: &rec, Previous: prev}, nil
	}

	body, ref := c.Body, ""
	if s.blobs != nil && len(c.Body) >= s.minBytes {
		key := objectKey(c.SourceID, c.LocalID, hash)
		if r, err := s.blobs.Put(ctx, key, c.Body); err != nil {
			slog.Warn("Blob store unavailable, storing raw body inline",
				"source", c.SourceID, "localID", c.LocalID, "error", err)
		} else {
			body, ref = nil, r
		}
	}

	rec := &database.RawResponse{
		SourceID:    c.SourceID,
		LocalID:     c.LocalID,
		URL:         c.URL,
		ContentHash: hash,
		Body:        body,
		BlobRef:     ref,
		Size:        int64(len(c.Body)),
		FetchedAt:   c.FetchedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "local_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"url":          c.URL,
			"content_hash": hash,
			"body":         body,
			"blob_ref":     ref,
			"size":         int64(len(c.Body)),
			"fetched_at":   c.FetchedAt,
			"processed_at": nil,
			"updated_at":   time.Now(),
		}),
	}).Create(rec).Error
	if err != nil {
		return nil, fmt.Errorf("save raw response: %w", err)
	}

	stored, err := s.Current(ctx, c.SourceID, c.LocalID)
	if err != nil {
		return nil, fmt.Errorf("reload raw response: %w", err)
	}
	if stored == nil {
		return nil, errors.New("raw response vanished after save")
	}
	return &SaveResult{Record: stored, Previous: prev, Changed: true}, nil
}

// MarkProcessed records a successful parse of the capture.
func (s *Store) MarkProcessed(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&database.RawResponse{}).
		Where("id = ?", id).
		Update("processed_at", at).Error
}

// Link records that a capture was resolved into a canonical product.
func (s *Store) Link(ctx context.Context, rawID uint, productID string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&database.RawResponseLink{RawResponseID: rawID, ProductID: productID}).Error
}

// Body returns the raw body of rec, reading the blob store when needed.
func (s *Store) Body(ctx context.Context, rec *database.RawResponse) ([]byte, error) {
	if rec.BlobRef == "" {
		return rec.Body, nil
	}
	if s.blobs == nil {
		return nil, ErrBlobUnavailable
	}
	return s.blobs.Get(ctx, rec.BlobRef)
}

// Each calls fn for every capture of a source in id order. With
// onlyUnprocessed set, captures that were already parsed are skipped.
func (s *Store) Each(ctx context.Context, sourceID string, onlyUnprocessed bool, fn func(*database.RawResponse) error) error {
	q := s.db.WithContext(ctx).Where("source_id = ?", sourceID)
	if onlyUnprocessed {
		q = q.Where("processed_at IS NULL")
	}

	var batch []database.RawResponse
	var fnErr error
	res := q.FindInBatches(&batch, 100, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			if err := ctx.Err(); err != nil {
				fnErr = err
				return err
			}
			if err := fn(&batch[i]); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return res.Error
}

// Count returns how many captures a source has.
func (s *Store) Count(ctx context.Context, sourceID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&database.RawResponse{}).Where("source_id = ?", sourceID).Count(&n).Error
	return n, err
}
