// Package notify provides the error-forwarding guard used by pipeline
// components. Components report failures through a [Guard] rather than calling
// their owner's error handler directly: the guard rate-limits forwarding so a
// component stuck in a failure loop cannot flood the handler.
package notify

import (
	"sync"
	"time"
)

const (
	// guardWindow is the rolling window within which consecutive errors from
	// one emitter are counted as a single burst.
	guardWindow = 500 * time.Millisecond

	// guardBurst is the number of errors forwarded per burst before the guard
	// starts suppressing.
	guardBurst = 10
)

// Guard wraps an error handler with burst suppression. Errors arriving within
// [guardWindow] of the previous one accumulate; once more than [guardBurst]
// have accumulated, further errors in the burst are dropped. The counter
// resets as soon as the window elapses without an error.
//
// A nil handler is valid; the guard then drops everything. Guard is safe for
// concurrent use.
type Guard struct {
	fn func(error)

	mu    sync.Mutex
	prev  time.Time
	count int

	// now is the clock; overridden in tests.
	now func() time.Time
}

// NewGuard creates a Guard forwarding to fn. fn may be nil.
func NewGuard(fn func(error)) *Guard {
	return &Guard{fn: fn, now: time.Now}
}

// Report forwards err to the handler unless the current burst budget is
// exhausted. A nil err is ignored.
func (g *Guard) Report(err error) {
	if err == nil {
		return
	}

	g.mu.Lock()
	now := g.now()
	if now.Before(g.prev.Add(guardWindow)) {
		g.count++
	} else {
		g.count = 1
	}
	g.prev = now
	suppress := g.count > guardBurst
	fn := g.fn
	g.mu.Unlock()

	if suppress || fn == nil {
		return
	}
	fn(err)
}
