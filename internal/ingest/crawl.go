package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/catalog-dev/catalog-ingest/internal/database"
	"github.com/catalog-dev/catalog-ingest/internal/rawstore"
	"github.com/catalog-dev/catalog-ingest/internal/resolver"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

// DetailResult is the outcome of fetching and parsing one detail page.
// Product is nil when the page was skipped as unchanged or is not a product.
type DetailResult struct {
	Product        *sources.ProductInfo
	RawResponseID  uint
	ShouldSkip     bool
	NotFoundReason string
}

// ParseDetailPage fetches one detail page, stores the capture and parses it
// unless the stored capture has the same content and was already processed.
func (r *Runner) ParseDetailPage(ctx context.Context, src sources.DetailSource, localID string, force bool) (*DetailResult, error) {
	page, err := src.FetchDetail(ctx, localID)
	if err != nil {
		return nil, err
	}
	return r.parseCaptured(ctx, src.ID(), localID, page.URL, page.Body, force, func() (*sources.ProductInfo, error) {
		return src.ParseDetail(page)
	})
}

// parseCaptured persists body as the current capture and, unless it can be
// skipped, runs parse on it.
func (r *Runner) parseCaptured(ctx context.Context, sourceID, localID, url string, body []byte, force bool, parse func() (*sources.ProductInfo, error)) (*DetailResult, error) {
	prev, err := r.raw.Current(ctx, sourceID, localID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	skip := rawstore.ShouldSkip(prev, rawstore.Hash(body), force)

	saved, err := r.raw.Save(ctx, rawstore.Capture{
		SourceID:  sourceID,
		LocalID:   localID,
		URL:       url,
		Body:      body,
		FetchedAt: r.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	res := &DetailResult{RawResponseID: saved.Record.ID}
	if skip {
		res.ShouldSkip = true
		return res, nil
	}

	product, err := safeParse(parse)
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

func safeParse(parse func() (*sources.ProductInfo, error)) (p *sources.ProductInfo, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = sources.NewAdapterError(sources.ErrCodeParse, "parser panicked", fmt.Errorf("%v", v))
		}
	}()
	return parse()
}

func (r *Runner) crawlDetails(ctx context.Context, src sources.DetailSource, rn *run) error {
	var ids []string
	err := r.request(ctx, rn, func() error {
		var err error
		ids, err = src.ListIDs(ctx, rn.opts.listParams())
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if Classify(err) == LabelRateLimited {
			rn.stopped = true
			slog.Warn("Stopping source after rate limit", "source", src.ID(), "runID", rn.record.ID)
			return nil
		}
		return fmt.Errorf("list ids: %w", err)
	}
	if rn.opts.Limit > 0 && len(ids) > rn.opts.Limit {
		ids = ids[:rn.opts.Limit]
	}
	r.progress.SetTotal(rn.record.ID, len(ids))

	for _, localID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		var res *DetailResult
		err := r.request(ctx, rn, func() error {
			var err error
			res, err = r.ParseDetailPage(ctx, src, localID, rn.opts.ForceReprocess)
			return err
		})
		if stop, err := r.settle(ctx, rn, localID, res, err, resolver.OriginScrape); stop {
			return err
		}
	}
	return nil
}

func (r *Runner) crawlCatalog(ctx context.Context, src sources.CatalogSource, rn *run) error {
	params := rn.opts.listParams()
	remaining := rn.opts.Limit
	origin := resolver.OriginAPI
	if tagged, ok := src.(sources.OriginTagger); ok {
		origin = tagged.DataOrigin()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		params.Limit = batchSize
		if rn.opts.Limit > 0 {
			if remaining <= 0 {
				return nil
			}
			params.Limit = min(batchSize, remaining)
		}

		var batch *sources.Batch
		err := r.request(ctx, rn, func() error {
			var err error
			batch, err = src.FetchBatch(ctx, params)
			return err
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			if Classify(err) == LabelRateLimited {
				rn.stopped = true
				slog.Warn("Stopping source after rate limit", "source", src.ID(), "runID", rn.record.ID)
				return nil
			}
			return fmt.Errorf("fetch batch at offset %d: %w", params.Offset, err)
		}
		if len(batch.Items) == 0 {
			return nil
		}
		if batch.TotalCount > 0 {
			total := batch.TotalCount - rn.opts.Offset
			if rn.opts.Limit > 0 {
				total = min(total, rn.opts.Limit)
			}
			r.progress.SetTotal(rn.record.ID, total)
		}

		for _, item := range batch.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if rn.opts.Limit > 0 && remaining <= 0 {
				return nil
			}
			remaining--
			res, err := r.parseCaptured(ctx, src.ID(), item.LocalID, item.URL, item.Raw, rn.opts.ForceReprocess, func() (*sources.ProductInfo, error) {
				return src.ParseItem(item)
			})
			if stop, err := r.settle(ctx, rn, item.LocalID, res, err, origin); stop {
				return err
			}
		}

		params.Offset += len(batch.Items)
		if batch.TotalCount > 0 && params.Offset >= batch.TotalCount {
			return nil
		}
	}
}

// settle turns the outcome of one item into statistics and, for a parsed
// product, resolves it into the canonical store. It reports whether the run
// must stop.
func (r *Runner) settle(ctx context.Context, rn *run, localID string, res *DetailResult, err error, origin string) (bool, error) {
	defer r.progress.Increment(rn.record.ID)
	sourceID := rn.source.ID()

	if err == nil {
		if rn.record.Mode == database.RunModeFetch {
			rn.stats.Fetched++
		}
		switch {
		case res.ShouldSkip:
			rn.stats.SkippedUnchanged++
			slog.Debug("Skipped unchanged item", "source", sourceID, "localID", localID)
			return false, nil
		case res.Product == nil:
			rn.stats.NotFound++
			slog.Info("Item is not a product", "source", sourceID, "localID", localID,
				"reason", LabelNotAProduct, "detail", res.NotFoundReason)
			return false, nil
		}
		err = r.store(ctx, rn, localID, res, origin)
		if err == nil {
			return false, nil
		}
	}

	if errors.Is(err, context.Canceled) {
		return true, err
	}
	if errors.Is(err, ErrStorageUnavailable) {
		rn.stats.Errors++
		slog.Error("Stopping run, capture store unavailable", "source", sourceID, "localID", localID, "error", err)
		return true, err
	}
	label := Classify(err)
	switch label {
	case LabelNotFound, LabelNotAProduct:
		rn.stats.NotFound++
		slog.Info("Item not found", "source", sourceID, "localID", localID, "reason", label)
	case LabelValidationRejected:
		rn.stats.Rejected++
		slog.Info("Item rejected", "source", sourceID, "localID", localID, "reason", label, "error", err)
	case LabelRateLimited:
		rn.stopped = true
		slog.Warn("Stopping source after rate limit", "source", sourceID, "localID", localID, "reason", label)
		return true, nil
	case LabelCredentials:
		rn.stats.Errors++
		return true, err
	default:
		rn.stats.Errors++
		slog.Warn("Item failed", "source", sourceID, "localID", localID, "reason", label, "error", err)
	}
	return false, nil
}

func (r *Runner) store(ctx context.Context, rn *run, localID string, res *DetailResult, origin string) error {
	p := res.Product
	sourceID := rn.source.ID()
	if p.LocalID == "" {
		p.LocalID = localID
	}
	p.SourceID = sourceID

	if rn.opts.EnableEnrichment {
		if enricher, ok := rn.source.(sources.Enricher); ok {
			err := r.request(ctx, rn, func() error { return enricher.Enrich(ctx, p) })
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.Warn("Enrichment failed", "source", sourceID, "localID", localID, "reason", Classify(err), "error", err)
			}
		}
	}
	if err := sources.Finalize(p); err != nil {
		return err
	}

	out, err := r.resolver.Upsert(ctx, resolver.Identity{SourceID: sourceID, LocalID: localID, Origin: origin}, p)
	if err != nil {
		if errors.Is(err, sources.ErrValidationRejected) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := r.raw.Link(ctx, res.RawResponseID, out.ProductID); err != nil {
		return fmt.Errorf("%w: link raw response: %w", ErrStorageUnavailable, err)
	}
	if err := r.raw.MarkProcessed(ctx, res.RawResponseID, r.now()); err != nil {
		return fmt.Errorf("%w: mark processed: %w", ErrStorageUnavailable, err)
	}

	if out.Created {
		rn.stats.NewProducts++
		r.emitProductCreated(ctx, sourceID, out.ProductID, localID, p.Title)
	} else {
		rn.stats.UpdatedProducts++
	}
	slog.Debug("Item ingested", "source", sourceID, "localID", localID, "productID", out.ProductID, "created", out.Created)
	return nil
}
