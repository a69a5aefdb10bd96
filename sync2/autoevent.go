package sync2

import (
	"context"
	"sync"
)

// AutoResetEvent is the coroutine-facing event of spec.md §4.E /
// §8-property-2: each Set either hands off to exactly one queued waiter
// or, if none is queued, increments a permit count that a future Wait
// consumes immediately. Across W waiters and S sets issued in any
// interleaving, exactly min(W, S) waiters resume, each exactly once.
type AutoResetEvent struct {
	mu      sync.Mutex
	permits int
	waiters []chan struct{}
}

// NewAutoResetEvent returns an AutoResetEvent with no pending permits.
func NewAutoResetEvent() *AutoResetEvent {
	return &AutoResetEvent{}
}

// Set hands off to the longest-waiting goroutine, or banks a permit if
// none is currently waiting.
func (e *AutoResetEvent) Set() {
	e.mu.Lock()
	if len(e.waiters) > 0 {
		w := e.waiters[0]
		e.waiters = e.waiters[1:]
		e.mu.Unlock()
		close(w)
		return
	}
	e.permits++
	e.mu.Unlock()
}

// Wait blocks until a Set hands off to this call or a banked permit is
// consumed, or ctx is done first.
func (e *AutoResetEvent) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.permits > 0 {
		e.permits--
		e.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		for i, w := range e.waiters {
			if w == ch {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
		return ctx.Err()
	}
}
