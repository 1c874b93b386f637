// Package ratelimit implements the client-side request quota used by API sources.
//
// A Window remembers the timestamps of the requests it admitted. Acquire
// evicts timestamps older than the window and refuses, without blocking,
// once the remaining count reaches the configured maximum. Callers decide
// whether to wait for RetryAfter or skip the source.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExceeded matches every *ExceededError via errors.Is.
var ErrExceeded = errors.New("rate limit exceeded")

// ExceededError reports a refused request and when the oldest admitted
// request leaves the window.
type ExceededError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry after %s", e.Limit, e.Window, e.RetryAfter)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrExceeded
}

type Window struct {
	max    int
	period time.Duration
	now    func() time.Time

	mu     sync.Mutex
	stamps []time.Time
}

// New returns a window admitting max requests per period.
func New(max int, period time.Duration) *Window {
	return &Window{max: max, period: period, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.now = now
	return w
}

// Acquire records a request if the quota allows it.
func (w *Window) Acquire() error {
	if w == nil || w.max <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.evict(now)

	if len(w.stamps) >= w.max {
		return &ExceededError{
			Limit:      w.max,
			Window:     w.period,
			RetryAfter: w.stamps[0].Add(w.period).Sub(now),
		}
	}
	w.stamps = append(w.stamps, now)
	return nil
}

// Remaining reports how many requests would currently be admitted.
func (w *Window) Remaining() int {
	if w == nil || w.max <= 0 {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return w.max - len(w.stamps)
}

func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
