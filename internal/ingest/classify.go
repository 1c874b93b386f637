package ingest

import (
	"context"
	"errors"

	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/ratelimit"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

// Labels attached to every per-item outcome in logs and run events.
const (
	LabelNotAProduct        = "not_a_product"
	LabelValidationRejected = "validation_rejected"
	LabelRateLimited        = "rate_limited"
	LabelNotFound           = "not_found"
	LabelTransport          = "transport"
	LabelCredentials        = "credentials"
	LabelParse              = "parse"
	LabelPersistence        = "persistence"
	LabelCancelled          = "cancelled"
	LabelUnknown            = "unknown"
)

// Classify maps an item error onto its label. A nil error has no label.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return LabelCancelled
	}
	if errors.Is(err, sources.ErrNotAProduct) {
		return LabelNotAProduct
	}
	if errors.Is(err, sources.ErrValidationRejected) {
		return LabelValidationRejected
	}
	if errors.Is(err, ratelimit.ErrExceeded) {
		return LabelRateLimited
	}
	if errors.Is(err, sources.ErrMissingCredentials) {
		return LabelCredentials
	}
	if errors.Is(err, ErrPersistence) {
		return LabelPersistence
	}

	var ae *sources.AdapterError
	if errors.As(err, &ae) {
		switch ae.Code {
		case sources.ErrCodeNotFound:
			return LabelNotFound
		case sources.ErrCodeRateLimit:
			return LabelRateLimited
		case sources.ErrCodeAuth, sources.ErrCodeInvalidConfig:
			return LabelCredentials
		case sources.ErrCodeNotAProduct:
			return LabelNotAProduct
		case sources.ErrCodeValidationRejected:
			return LabelValidationRejected
		case sources.ErrCodeParse:
			return LabelParse
		case sources.ErrCodeNetwork:
			return LabelTransport
		}
	}

	var te *fetch.TransportError
	if errors.As(err, &te) {
		if te.NotFound() {
			return LabelNotFound
		}
		return LabelTransport
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return LabelTransport
	}
	return LabelUnknown
}
