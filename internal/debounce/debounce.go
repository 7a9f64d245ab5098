// Package debounce defers work until input has been quiet for a fixed
// interval, so bursts collapse into a single trailing invocation.
package debounce

import (
	"sync"
	"time"
)

// DefaultInterval matches the delay used for search inputs across the UI.
const DefaultInterval = 300 * time.Millisecond

// Debouncer coalesces calls to Trigger: only the last function passed within
// a quiet interval runs, on the trailing edge.
type Debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// New creates a Debouncer. A non-positive interval falls back to DefaultInterval.
func New(interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Debouncer{interval: interval}
}

// Trigger schedules fn to run after the quiet interval, replacing any
// previously scheduled function. fn runs on a timer goroutine.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, fn)
}

// Stop cancels any pending invocation. Nothing is flushed.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
