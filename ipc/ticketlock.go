package ipc

import (
	"sync"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// pipeLock is the interface peerLink synchronizes on. A real,
// separate-process Fleet backs this with a SharedRegion-based SpinLock
// (cross-process, since a sync.Cond cannot wake a sibling process); an
// in-process Fleet (every worker a goroutine in this binary, no pipes
// or mmap involved) backs it with the cheaper, properly-blocking
// TicketLock below.
type pipeLock interface {
	Lock(deadline time.Time) error
	Unlock()
}

// TicketLock is a strictly-FIFO, goroutine-blocking lock guarding one
// in-process worker's inbound channel (spec.md §4.F / §5: "write ends
// shared by all other workers; serialized by the worker's ticket lock").
// Unlike sync.Mutex, ticket order is exactly arrival order, which is the
// fairness property spec.md calls out explicitly; unlike the
// cross-process SpinLock, it blocks properly instead of spinning, since
// goroutines in the same process can be woken without a shared-memory
// word.
//
// next and serving are both guarded by mu: next still needs to hand out a
// unique ticket per Lock call, but since every waiter already blocks on mu
// via cond.Wait, there is no benefit to making serving lock-free, and
// abandoning a ticket on timeout (below) needs to mutate serving and the
// abandoned set atomically with respect to Unlock.
type TicketLock struct {
	mu        sync.Mutex
	cond      *sync.Cond
	next      uint64
	serving   uint64
	abandoned map[uint64]struct{}
}

// NewTicketLock returns an unheld TicketLock.
func NewTicketLock() *TicketLock {
	l := &TicketLock{abandoned: make(map[uint64]struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock takes the next ticket and waits for it to be served, or for
// deadline to pass (zero deadline means no timeout). A waiter that times
// out abandons its ticket (see advanceServingLocked) instead of leaving a
// hole that would wedge every later-numbered waiter forever.
func (l *TicketLock) Lock(deadline time.Time) error {
	l.mu.Lock()
	my := l.next
	l.next++

	var timer *time.Timer
	if !deadline.IsZero() {
		timer = time.AfterFunc(time.Until(deadline), func() {
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		})
		defer timer.Stop()
	}

	defer l.mu.Unlock()
	for l.serving != my {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			// my is still somewhere ahead of serving: mark it abandoned so
			// the Unlock that eventually reaches it skips straight past,
			// rather than leaving serving stuck one short of my forever.
			l.abandoned[my] = struct{}{}
			l.cond.Broadcast()
			return errs.Timeout("ipc", "ticket lock acquisition timed out")
		}
		l.cond.Wait()
	}
	return nil
}

// Unlock advances past the caller's ticket and any immediately-following
// tickets that were abandoned by a timed-out Lock, then wakes every
// waiter (only the one whose ticket now matches serving proceeds; the
// rest re-check and sleep again).
func (l *TicketLock) Unlock() {
	l.mu.Lock()
	l.serving++
	l.advanceServingLocked()
	l.cond.Broadcast()
	l.mu.Unlock()
}

// advanceServingLocked skips serving forward over any ticket numbers
// abandoned via a timed-out Lock, so an abandoned ticket never leaves a
// gap that no Unlock call can ever close. Must be called with mu held.
func (l *TicketLock) advanceServingLocked() {
	for {
		if _, ok := l.abandoned[l.serving]; !ok {
			return
		}
		delete(l.abandoned, l.serving)
		l.serving++
	}
}
