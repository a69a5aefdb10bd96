package sync2

import (
	"context"
	"sync"
)

// ManualResetEvent is the latch variant of spec.md §4.E: Set resumes
// every waiter, current and future, until Reset clears the flag again.
type ManualResetEvent struct {
	mu      sync.Mutex
	set     bool
	waiters []chan struct{}
}

// NewManualResetEvent returns a ManualResetEvent in the cleared state.
func NewManualResetEvent() *ManualResetEvent {
	return &ManualResetEvent{}
}

// Set latches the event and resumes every goroutine currently in Wait.
func (e *ManualResetEvent) Set() {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return
	}
	e.set = true
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Reset clears the latch. It has no effect on goroutines already
// resumed by a prior Set.
func (e *ManualResetEvent) Reset() {
	e.mu.Lock()
	e.set = false
	e.mu.Unlock()
}

// IsSet reports the current latch state.
func (e *ManualResetEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set (immediately, if already latched)
// or ctx is done first.
func (e *ManualResetEvent) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.set {
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
