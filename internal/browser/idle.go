package browser

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultIdleMaxInflight is the number of open requests still counted as idle.
	DefaultIdleMaxInflight = 2
	// DefaultIdleWindow is how long the page must stay at or under the
	// in-flight limit.
	DefaultIdleWindow = 500 * time.Millisecond
)

// IdleTracker decides when a page's network has gone quiet: no more than
// maxInflight requests open for a continuous window.
type IdleTracker struct {
	maxInflight int
	window      time.Duration

	mu         sync.Mutex
	inflight   map[string]struct{}
	quietSince time.Time
	changed    chan struct{}
}

// NewIdleTracker builds a tracker. A negative maxInflight or non-positive
// window takes the default.
func NewIdleTracker(maxInflight int, window time.Duration) *IdleTracker {
	if maxInflight < 0 {
		maxInflight = DefaultIdleMaxInflight
	}
	if window <= 0 {
		window = DefaultIdleWindow
	}
	return &IdleTracker{
		maxInflight: maxInflight,
		window:      window,
		inflight:    make(map[string]struct{}),
		quietSince:  time.Now(),
		changed:     make(chan struct{}),
	}
}

// Reset forgets every open request and restarts the quiet window.
func (t *IdleTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = make(map[string]struct{})
	t.quietSince = time.Now()
	t.notifyLocked()
}

// Start records an outgoing request.
func (t *IdleTracker) Start(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; ok {
		return
	}
	t.inflight[id] = struct{}{}
	t.updateLocked()
}

// Finish records a completed or failed request.
func (t *IdleTracker) Finish(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.updateLocked()
}

// Inflight reports the number of open requests.
func (t *IdleTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *IdleTracker) updateLocked() {
	quiet := len(t.inflight) <= t.maxInflight
	switch {
	case quiet && t.quietSince.IsZero():
		t.quietSince = time.Now()
	case !quiet && !t.quietSince.IsZero():
		t.quietSince = time.Time{}
	default:
		return
	}
	t.notifyLocked()
}

func (t *IdleTracker) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Wait blocks until the network has been quiet for the full window or ctx
// is done.
func (t *IdleTracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		quietSince, changed := t.quietSince, t.changed
		t.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if !quietSince.IsZero() {
			remaining := t.window - time.Since(quietSince)
			if remaining <= 0 {
				return nil
			}
			timer = time.NewTimer(remaining)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-changed:
		case <-timerC:
		}
		stopTimer(timer)
	}
}

func stopTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}
