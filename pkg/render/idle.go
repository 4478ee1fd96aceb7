package render

import (
	"context"
	"sync"
	"time"
)

// idleTracker counts in-flight network requests of one page. The page is
// idle once nothing has been in flight for a quiet period.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	kick     chan struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight: make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
	}
}

func (t *idleTracker) start(id string) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.mu.Unlock()
	t.notify()
}

func (t *idleTracker) finish(id string) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
	t.notify()
}

func (t *idleTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *idleTracker) notify() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// wait blocks until no request has been in flight for quiet, or ctx ends
func (t *idleTracker) wait(ctx context.Context, quiet time.Duration) error {
	timer := time.NewTimer(quiet)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.kick:
			timer.Reset(quiet)
		case <-timer.C:
			if t.pending() == 0 {
				return nil
			}
			timer.Reset(quiet)
		}
	}
}
