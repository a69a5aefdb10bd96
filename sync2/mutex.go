// Package sync2 implements the coroutine-facing synchronization
// primitives of spec.md §4.E: a lock-free Mutex, AutoResetEvent,
// ManualResetEvent, a sentinel-terminated Channel, and a Conditional.
// Since a Task in this module is a goroutine rather than a stackless
// coroutine, "await" becomes an ordinary blocking call (optionally
// ctx-aware); the FIFO-handoff and wait-list invariants of spec.md §3/§4.E
// are preserved exactly, only the suspension mechanism changes.
package sync2

import (
	"sync"
	"sync/atomic"
)

// node is a waiter entry in the Mutex's internal lock-free LIFO.
type node struct {
	next  *node
	ready chan struct{}
}

// Two unique sentinel addresses stand in for the spec's NOT_LOCKED and
// LOCKED_NO_WAITERS pointer-word tags (spec.md §4.E); any other value of
// head is the top of the waiter LIFO.
var (
	notLocked       = &node{}
	lockedNoWaiters = &node{}
)

// Mutex is the lock-free coroutine mutex of spec.md §4.E. Unlock performs
// FIFO handoff among waiters that queued since the last drain; it never
// produces a thundering herd.
type Mutex struct {
	head atomic.Pointer[node]

	cacheMu sync.Mutex
	cache   []*node // FIFO of waiters reversed out of the LIFO by the last Unlock
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{}
	m.head.Store(notLocked)
	return m
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	return m.head.CompareAndSwap(notLocked, lockedNoWaiters)
}

// Lock acquires the mutex, blocking the calling goroutine if it is
// already held. There is no deadline parameter: spec.md's operation
// table gives lock_async no timeout, only the socket/IPC/channel
// operations are deadline-bearing (spec.md §4.G, §4.F, §4.E Channel).
func (m *Mutex) Lock() {
	if m.TryLock() {
		return
	}
	n := &node{ready: make(chan struct{})}
	for {
		old := m.head.Load()
		if old == notLocked {
			if m.head.CompareAndSwap(notLocked, lockedNoWaiters) {
				return
			}
			continue
		}
		n.next = old
		if m.head.CompareAndSwap(old, n) {
			break
		}
	}
	<-n.ready
}

// Unlock releases the mutex, handing it directly to the next waiter (if
// any) rather than reopening it for contention. If the waiter-list cache
// is empty it first tries the fast CAS path; on failure it atomically
// takes the whole LIFO, reverses it into FIFO order, and resumes the
// front.
func (m *Mutex) Unlock() {
	m.cacheMu.Lock()
	if len(m.cache) > 0 {
		next := m.cache[0]
		m.cache = m.cache[1:]
		m.cacheMu.Unlock()
		close(next.ready)
		return
	}
	m.cacheMu.Unlock()

	if m.head.CompareAndSwap(lockedNoWaiters, notLocked) {
		return
	}

	old := m.head.Swap(lockedNoWaiters)
	var lifo []*node
	for old != nil && old != lockedNoWaiters {
		lifo = append(lifo, old)
		old = old.next
	}
	if len(lifo) == 0 {
		// Another unlock already drained this epoch; restore the
		// unlocked sentinel so a future Lock can fast-path again.
		m.head.CompareAndSwap(lockedNoWaiters, notLocked)
		return
	}
	for i, j := 0, len(lifo)-1; i < j; i, j = i+1, j-1 {
		lifo[i], lifo[j] = lifo[j], lifo[i]
	}
	next := lifo[0]
	m.cacheMu.Lock()
	m.cache = lifo[1:]
	m.cacheMu.Unlock()
	close(next.ready)
}
