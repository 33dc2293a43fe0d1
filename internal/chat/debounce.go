package chat

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid Trigger calls into one deferred fn invocation:
// each call re-arms the single timer. Used for the typing broadcast and any
// future ephemeral-intent signal.
type Debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Trigger schedules fn after delay, replacing any pending invocation.
func (d *Debouncer) Trigger(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, fn)
}

// Cancel drops any pending invocation.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
