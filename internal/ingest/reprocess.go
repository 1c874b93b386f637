package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/catalog-dev/catalog-ingest/internal/database"
	"github.com/catalog-dev/catalog-ingest/internal/hooks"
	"github.com/catalog-dev/catalog-ingest/internal/resolver"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

var errLimitReached = errors.New("limit reached")

// Reprocess re-derives canonical records of a source from its stored
// captures without touching the network. Only unprocessed captures are
// parsed unless opts.ForceReprocess is set.
func (r *Runner) Reprocess(ctx context.Context, sourceID string, opts Options) (*Stats, error) {
	src, ok := r.registry.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}

	var parse func(rec *database.RawResponse, body []byte) (*sources.ProductInfo, error)
	origin := resolver.OriginAPI
	switch s := src.(type) {
	case sources.DetailSource:
		origin = resolver.OriginScrape
		parse = func(rec *database.RawResponse, body []byte) (*sources.ProductInfo, error) {
			return s.ParseDetail(&sources.Page{
				LocalID:    rec.LocalID,
				URL:        rec.URL,
				FinalURL:   rec.URL,
				StatusCode: 200,
				Body:       body,
				FetchedAt:  rec.FetchedAt,
			})
		}
	case sources.CatalogSource:
		if tagged, ok := src.(sources.OriginTagger); ok {
			origin = tagged.DataOrigin()
		}
		parse = func(rec *database.RawResponse, body []byte) (*sources.ProductInfo, error) {
			return s.ParseItem(sources.BatchItem{LocalID: rec.LocalID, URL: rec.URL, Raw: body})
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, sourceID)
	}

	// Reprocessing never calls the source, so enrichment is off.
	opts.EnableEnrichment = false

	return r.execute(ctx, src, database.RunModeReprocess, opts, func(ctx context.Context, rn *run) error {
		if n, err := r.raw.Count(ctx, sourceID); err == nil {
			total := int(n)
			if opts.Limit > 0 {
				total = min(total, opts.Limit)
			}
			r.progress.SetTotal(rn.record.ID, total)
		}

		seen := 0
		err := r.raw.Each(ctx, sourceID, !opts.ForceReprocess, func(rec *database.RawResponse) error {
			if opts.Limit > 0 && seen >= opts.Limit {
				return errLimitReached
			}
			seen++

			res, err := r.replay(ctx, rec, parse)
			if stop, err := r.settle(ctx, rn, rec.LocalID, res, err, origin); stop {
				if err == nil {
					return errLimitReached
				}
				return err
			}
			return nil
		})
		if errors.Is(err, errLimitReached) {
			return nil
		}
		return err
	})
}

func (r *Runner) replay(ctx context.Context, rec *database.RawResponse, parse func(*database.RawResponse, []byte) (*sources.ProductInfo, error)) (*DetailResult, error) {
	body, err := r.raw.Body(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	res := &DetailResult{RawResponseID: rec.ID}
	product, err := safeParse(func() (*sources.ProductInfo, error) { return parse(rec, body) })
	var nap *sources.NotAProductError
	if errors.As(err, &nap) {
		res.NotFoundReason = nap.Reason
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Product = product
	return res, nil
}

func (r *Runner) emitProductCreated(ctx context.Context, sourceID, productID, localID, title string) {
	r.hooks.Emit(ctx, hooks.NewEvent(hooks.EventProductCreated, sourceID).
		WithProduct(productID, localID, title))
}
