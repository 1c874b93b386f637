// Package scheduler triggers ingestion runs on each source's cron schedule
// and refreshes the cross-source totals.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/hooks"
	"github.com/catalog-dev/catalog-ingest/internal/ingest"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

const totalsEntry = "__totals__"

// Runner starts an ingestion run. *ingest.Runner implements it.
type Runner interface {
	Run(ctx context.Context, sourceID string, opts ingest.Options) (*ingest.Stats, error)
}

// Reprocessor re-derives a source from its stored captures.
// *ingest.Runner implements it.
type Reprocessor interface {
	Reprocess(ctx context.Context, sourceID string, opts ingest.Options) (*ingest.Stats, error)
}

// Totals refreshes every source's total. *estimator.Estimator implements it.
type Totals interface {
	All(ctx context.Context, force bool) []estimator.Result
}

type Scheduler struct {
	registry *sources.Registry
	runner   Runner
	totals   Totals
	hooks    *hooks.Manager
	cron     *cron.Cron
	entryIDs map[string]cron.EntryID
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// New loads the schedule of every enabled source and, when totalsSpec is
// set, schedules the totals refresh. The cron loop starts immediately.
func New(registry *sources.Registry, runner Runner, totals Totals, hooks *hooks.Manager, totalsSpec string) *Scheduler {
	s := &Scheduler{
		registry: registry,
		runner:   runner,
		totals:   totals,
		hooks:    hooks,
		cron:     cron.New(),
		entryIDs: make(map[string]cron.EntryID),
	}
	s.loadSchedules()
	if totals != nil && totalsSpec != "" {
		if err := s.add(totalsEntry, totalsSpec, func() { s.RefreshTotals(context.Background()) }); err != nil {
			slog.Error("Failed to schedule totals refresh", "schedule", totalsSpec, "error", err)
		}
	}
	s.cron.Start()
	return s
}

// Stop halts the cron loop and waits for triggered runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// ScheduleSource (re)installs the cron entry of a source. An empty spec
// removes it.
func (s *Scheduler) ScheduleSource(sourceID, spec string) error {
	if spec == "" {
		s.UnscheduleSource(sourceID)
		return nil
	}
	if err := s.add(sourceID, spec, func() { s.runSource(sourceID) }); err != nil {
		return err
	}
	slog.Info("Scheduled source", "source", sourceID, "schedule", spec)
	return nil
}

func (s *Scheduler) add(key, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := cron.ParseStandard(spec); err != nil {
		return err
	}
	if entryID, ok := s.entryIDs[key]; ok {
		s.cron.Remove(entryID)
		delete(s.entryIDs, key)
	}
	entryID, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return err
	}
	s.entryIDs[key] = entryID
	return nil
}

func (s *Scheduler) UnscheduleSource(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entryIDs[sourceID]; ok {
		s.cron.Remove(entryID)
		delete(s.entryIDs, sourceID)
	}
}

// Reload applies the current enabled flag and schedule of a source.
func (s *Scheduler) Reload(sourceID string) error {
	info, err := s.registry.GetSource(sourceID)
	if err != nil {
		return err
	}
	if !info.Enabled {
		s.UnscheduleSource(sourceID)
		return nil
	}
	return s.ScheduleSource(sourceID, info.Schedule)
}

func (s *Scheduler) loadSchedules() {
	infos, err := s.registry.ListSources()
	if err != nil {
		slog.Error("Failed to load source schedules", "error", err)
		return
	}

	scheduled := 0
	for _, info := range infos {
		if !info.Enabled || info.Schedule == "" {
			continue
		}
		if err := s.ScheduleSource(info.ID, info.Schedule); err != nil {
			slog.Error("Failed to schedule source", "source", info.ID, "error", err)
			continue
		}
		scheduled++
	}
	slog.Info("Loaded source schedules", "count", scheduled)
}

func (s *Scheduler) runSource(sourceID string) {
	s.wg.Add(1)
	defer s.wg.Done()

	slog.Info("Starting scheduled run", "source", sourceID)
	_, err := s.runner.Run(context.Background(), sourceID, ingest.Options{})
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrRunInProgress):
		slog.Info("Skipping scheduled run, previous run still active", "source", sourceID)
	default:
		slog.Error("Scheduled run failed", "source", sourceID, "error", err)
	}
}

// RunNow starts a run in the background and returns immediately.
func (s *Scheduler) RunNow(sourceID string, opts ingest.Options) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runner.Run(context.Background(), sourceID, opts); err != nil {
			slog.Error("Run failed", "source", sourceID, "error", err)
		}
	}()
}

// ReprocessNow starts offline reprocessing in the background. It reports
// false when the runner cannot reprocess.
func (s *Scheduler) ReprocessNow(sourceID string, opts ingest.Options) bool {
	rp, ok := s.runner.(Reprocessor)
	if !ok {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := rp.Reprocess(context.Background(), sourceID, opts); err != nil {
			slog.Error("Reprocess failed", "source", sourceID, "error", err)
		}
	}()
	return true
}

// ValidateSchedule checks a standard five-field cron spec or descriptor.
func ValidateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// RefreshTotals forces a refresh of every source total and announces the
// result.
func (s *Scheduler) RefreshTotals(ctx context.Context) []estimator.Result {
	results := s.totals.All(ctx, true)
	event := hooks.NewEvent(hooks.EventTotalsRefreshed, "")
	for _, r := range results {
		event.WithTotal(r.SourceID, r.Count, r.Source, r.Estimated)
		if r.State == estimator.StateFailed || r.State == estimator.StateStale {
			event.WithAlert("total_degraded", r.SourceID+": "+r.Error, "warning")
		}
	}
	s.hooks.Emit(ctx, event)
	slog.Info("Totals refreshed", "sources", len(results))
	return results
}

func (s *Scheduler) GetNextRun(sourceID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entryIDs[sourceID]
	if !ok {
		return nil
	}
	next := s.cron.Entry(entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}
