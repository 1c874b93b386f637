// Package ingest runs one source's ingestion job: list or page through the
// source, capture every response, parse, resolve into the canonical store and
// report per-run statistics.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/catalog-dev/catalog-ingest/config"
	"github.com/catalog-dev/catalog-ingest/internal/database"
	"github.com/catalog-dev/catalog-ingest/internal/hooks"
	"github.com/catalog-dev/catalog-ingest/internal/ratelimit"
	"github.com/catalog-dev/catalog-ingest/internal/rawstore"
	"github.com/catalog-dev/catalog-ingest/internal/resolver"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

var (
	ErrRunInProgress  = errors.New("run already in progress")
	ErrRunNotFound    = errors.New("run not found")
	ErrSourceNotFound = errors.New("source not found")
	ErrPersistence    = errors.New("persistence failed")
	ErrUnsupported    = errors.New("source kind not supported")

	// ErrStorageUnavailable marks a failed read or write of the capture
	// store. It ends the run, unlike a failed upsert of a single item.
	ErrStorageUnavailable = fmt.Errorf("%w: storage unavailable", ErrPersistence)
)

const (
	batchSize = 100
	// maxRateLimitWait is the longest quota pause a run sits out before it
	// stops the source for this run.
	maxRateLimitWait = 2 * time.Minute
)

// Options bounds one run.
type Options struct {
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
	StartID          string `json:"startId,omitempty"`
	EndID            string `json:"endId,omitempty"`
	ForceReprocess   bool   `json:"forceReprocess,omitempty"`
	EnableEnrichment bool   `json:"enableEnrichment,omitempty"`
}

func (o Options) listParams() sources.ListParams {
	return sources.ListParams{Limit: o.Limit, Offset: o.Offset, StartID: o.StartID, EndID: o.EndID}
}

// Stats is the summary reported when a run finishes.
type Stats struct {
	Fetched          int `json:"fetched"`
	NewProducts      int `json:"newProducts"`
	UpdatedProducts  int `json:"updatedProducts"`
	SkippedUnchanged int `json:"skippedUnchanged"`
	NotFound         int `json:"notFound"`
	Rejected         int `json:"rejected"`
	RateLimited      int `json:"rateLimited"`
	Errors           int `json:"errors"`
}

func (s *Stats) Map() map[string]int {
	return map[string]int{
		"fetched":          s.Fetched,
		"newProducts":      s.NewProducts,
		"updatedProducts":  s.UpdatedProducts,
		"skippedUnchanged": s.SkippedUnchanged,
		"notFound":         s.NotFound,
		"rejected":         s.Rejected,
		"rateLimited":      s.RateLimited,
		"errors":           s.Errors,
	}
}

// Runner executes ingestion runs. Runs of different sources proceed
// concurrently up to the configured limit; a source has at most one active
// run.
type Runner struct {
	db       *database.DB
	registry *sources.Registry
	raw      *rawstore.Store
	resolver *resolver.Resolver
	hooks    *hooks.Manager

	delay     time.Duration
	now       func() time.Time
	semaphore chan struct{}
	progress  *ProgressTracker
	active    sync.Map // sourceID -> context.CancelFunc
}

func New(db *database.DB, registry *sources.Registry, raw *rawstore.Store, res *resolver.Resolver, hooks *hooks.Manager, cfg *config.Config) *Runner {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		db:        db,
		registry:  registry,
		raw:       raw,
		resolver:  res,
		hooks:     hooks,
		delay:     cfg.RequestDelay(),
		now:       time.Now,
		semaphore: make(chan struct{}, maxConcurrent),
		progress:  NewProgressTracker(),
	}
}

// run is the state of one execution.
type run struct {
	record  *database.IngestRun
	source  sources.Source
	opts    Options
	stats   Stats
	pacer   *rate.Limiter
	limited bool
	stopped bool
}

// Run fetches and ingests sourceID. Per-item failures are counted, never
// returned; the error is reserved for configuration failures, storage
// failures and cancellation.
func (r *Runner) Run(ctx context.Context, sourceID string, opts Options) (*Stats, error) {
	src, ok := r.registry.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	if err := r.registry.CheckCredentials(sourceID); err != nil {
		r.hooks.Emit(ctx, hooks.NewEvent(hooks.EventCredentialsInvalid, sourceID).
			WithError(sources.ErrCodeInvalidConfig, err.Error()))
		return nil, err
	}
	return r.execute(ctx, src, database.RunModeFetch, opts, func(ctx context.Context, rn *run) error {
		if scoped, ok := src.(sources.RunScoped); ok {
			scoped.BeginRun()
			defer scoped.EndRun()
		}
		switch s := src.(type) {
		case sources.DetailSource:
			return r.crawlDetails(ctx, s, rn)
		case sources.CatalogSource:
			return r.crawlCatalog(ctx, s, rn)
		default:
			return fmt.Errorf("%w: %s", ErrUnsupported, sourceID)
		}
	})
}

func (r *Runner) execute(ctx context.Context, src sources.Source, mode string, opts Options, body func(context.Context, *run) error) (*Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	if _, busy := r.active.LoadOrStore(src.ID(), cancel); busy {
		cancel()
		return nil, ErrRunInProgress
	}
	defer func() {
		r.active.Delete(src.ID())
		cancel()
	}()

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	optsJSON, _ := json.Marshal(opts)
	rn := &run{
		source: src,
		opts:   opts,
		pacer:  newPacer(r.delay),
		record: &database.IngestRun{
			ID:        uuid.NewString(),
			SourceID:  src.ID(),
			Mode:      mode,
			Status:    database.RunStatusRunning,
			Options:   string(optsJSON),
			StartedAt: r.now(),
		},
	}
	if err := r.db.Create(rn.record).Error; err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	r.progress.Start(rn.record.ID, src.ID(), mode, opts.Limit)
	defer r.progress.Complete(rn.record.ID)

	slog.Info("Run started", "source", src.ID(), "runID", rn.record.ID, "mode", mode)
	r.hooks.Emit(ctx, hooks.NewEvent(hooks.EventRunStarted, src.ID()).WithRun(rn.record.ID, mode, nil))

	err := runBody(ctx, rn, body)
	return r.finish(ctx, rn, err)
}

func runBody(ctx context.Context, rn *run, body func(context.Context, *run) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			slog.Error("Run panicked", "source", rn.source.ID(), "runID", rn.record.ID, "panic", v)
			err = fmt.Errorf("run panicked: %v", v)
		}
	}()
	return body(ctx, rn)
}

func (r *Runner) finish(ctx context.Context, rn *run, err error) (*Stats, error) {
	rec := rn.record
	completedAt := r.now()
	rec.CompletedAt = &completedAt
	rec.Fetched = rn.stats.Fetched
	rec.NewProducts = rn.stats.NewProducts
	rec.UpdatedProducts = rn.stats.UpdatedProducts
	rec.SkippedUnchanged = rn.stats.SkippedUnchanged
	rec.NotFound = rn.stats.NotFound
	rec.Rejected = rn.stats.Rejected
	rec.RateLimited = rn.stats.RateLimited
	rec.Errors = rn.stats.Errors

	stats := rn.stats
	event := hooks.EventRunCompleted
	switch {
	case err == nil:
		rec.Status = database.RunStatusCompleted
	case errors.Is(err, context.Canceled):
		rec.Status = database.RunStatusCancelled
		event = hooks.EventRunCancelled
	default:
		rec.Status = database.RunStatusFailed
		rec.ErrorMessage = err.Error()
		event = hooks.EventRunFailed
	}
	if saveErr := r.db.Save(rec).Error; saveErr != nil {
		slog.Error("Failed to update run record", "runID", rec.ID, "error", saveErr)
	}

	e := hooks.NewEvent(event, rec.SourceID).WithRun(rec.ID, rec.Mode, stats.Map())
	if err != nil {
		e.WithError(Classify(err), err.Error())
	}
	if rn.stopped {
		e.WithAlert("rate_limited", "source quota exhausted, run stopped early", "warning")
	}
	r.hooks.Emit(ctx, e)

	if err != nil {
		slog.Warn("Run ended", "source", rec.SourceID, "runID", rec.ID, "status", rec.Status, "error", err)
		return &stats, err
	}
	if rec.Mode == database.RunModeFetch {
		if err := r.registry.MarkSynced(rec.SourceID, completedAt); err != nil {
			slog.Error("Failed to mark source synced", "source", rec.SourceID, "error", err)
		}
	}
	slog.Info("Run completed", "source", rec.SourceID, "runID", rec.ID,
		"fetched", stats.Fetched, "newProducts", stats.NewProducts, "updatedProducts", stats.UpdatedProducts,
		"skippedUnchanged", stats.SkippedUnchanged, "notFound", stats.NotFound, "rejected", stats.Rejected,
		"rateLimited", stats.RateLimited, "errors", stats.Errors)
	return &stats, nil
}

// Cancel stops the active run of a source between two items.
func (r *Runner) Cancel(sourceID string) error {
	if cancel, ok := r.active.Load(sourceID); ok {
		cancel.(context.CancelFunc)()
		return nil
	}
	return ErrRunNotFound
}

// IsRunning reports whether sourceID has an active run.
func (r *Runner) IsRunning(sourceID string) bool {
	_, ok := r.active.Load(sourceID)
	return ok
}

// ActiveRuns returns progress for all active runs
func (r *Runner) ActiveRuns() []RunProgress {
	return r.progress.GetAll()
}

// GetProgress returns progress for a specific run
func (r *Runner) GetProgress(runID string) *RunProgress {
	return r.progress.Get(runID)
}

// ListRuns returns the most recent runs, newest first. An empty sourceID
// lists every source.
func (r *Runner) ListRuns(sourceID string, limit int) ([]database.IngestRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := r.db.Order("started_at DESC").Limit(limit)
	if sourceID != "" {
		q = q.Where("source_id = ?", sourceID)
	}
	var runs []database.IngestRun
	return runs, q.Find(&runs).Error
}

func (r *Runner) GetRun(id string) (*database.IngestRun, error) {
	var rec database.IngestRun
	if err := r.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, ErrRunNotFound
	}
	return &rec, nil
}

// newPacer spaces requests of one run by delay. A zero delay disables pacing.
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// request paces and performs one network call. A quota refusal is waited
// out once when the window reopens soon enough.
func (r *Runner) request(ctx context.Context, rn *run, call func() error) error {
	if err := rn.pacer.Wait(ctx); err != nil {
		return err
	}
	err := call()

	var exceeded *ratelimit.ExceededError
	if !errors.As(err, &exceeded) {
		return err
	}
	rn.stats.RateLimited++
	if !rn.limited {
		rn.limited = true
		r.hooks.Emit(ctx, hooks.NewEvent(hooks.EventSourceRateLimited, rn.source.ID()).
			WithRun(rn.record.ID, rn.record.Mode, nil).
			WithError(sources.ErrCodeRateLimit, err.Error()))
	}
	if exceeded.RetryAfter > maxRateLimitWait {
		return err
	}
	slog.Info("Rate limit reached, waiting", "source", rn.source.ID(), "retryAfter", exceeded.RetryAfter)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(exceeded.RetryAfter):
	}
	return call()
}
