package ingest

import (
	"sort"
	"sync"
	"time"
)

// ProgressTracker tracks in-flight runs
type ProgressTracker struct {
	runs map[string]*RunProgress
	mu   sync.RWMutex
	now  func() time.Time
}

// RunProgress represents the progress of a single run
type RunProgress struct {
	RunID     string    `json:"runId"`
	SourceID  string    `json:"sourceId"`
	Mode      string    `json:"mode"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"startedAt"`
	Speed     float64   `json:"speed"` // items per second
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		runs: make(map[string]*RunProgress),
		now:  time.Now,
	}
}

// Start registers a new run. total may be 0 when unknown.
func (pt *ProgressTracker) Start(runID, sourceID, mode string, total int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.runs[runID] = &RunProgress{
		RunID:     runID,
		SourceID:  sourceID,
		Mode:      mode,
		Total:     total,
		StartedAt: pt.now(),
	}
}

// SetTotal records the number of items a run expects once it is known.
func (pt *ProgressTracker) SetTotal(runID string, total int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if p, ok := pt.runs[runID]; ok && total > 0 {
		p.Total = total
	}
}

// Increment records one settled item.
func (pt *ProgressTracker) Increment(runID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	p, ok := pt.runs[runID]
	if !ok {
		return
	}
	p.Processed++
	if p.Total > 0 && p.Processed > p.Total {
		p.Total = p.Processed
	}

	elapsed := pt.now().Sub(p.StartedAt).Seconds()
	if elapsed > 0 {
		p.Speed = float64(p.Processed) / elapsed
	}
}

// Complete removes a run from tracking
func (pt *ProgressTracker) Complete(runID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.runs, runID)
}

// Get returns a copy of the progress of one run
func (pt *ProgressTracker) Get(runID string) *RunProgress {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if p, ok := pt.runs[runID]; ok {
		c := *p
		return &c
	}
	return nil
}

// GetAll returns progress for all active runs, ordered by source
func (pt *ProgressTracker) GetAll() []RunProgress {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	result := make([]RunProgress, 0, len(pt.runs))
	for _, p := range pt.runs {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SourceID < result[j].SourceID })
	return result
}

// Percent returns the run progress as a percentage
func (p *RunProgress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) * 100 / float64(p.Total)
}

// ETA returns the estimated time remaining
func (p *RunProgress) ETA() time.Duration {
	if p.Speed == 0 || p.Total == 0 {
		return 0
	}
	remaining := p.Total - p.Processed
	return time.Duration(float64(remaining) / p.Speed * float64(time.Second))
}
