package ipc

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// SpinLock is a CAS-based mutual exclusion lock over a single shared
// memory word, usable across process boundaries since it never relies
// on goroutine-local blocking primitives (a sync.Cond cannot wake a
// sibling process). It backs both the per-worker pipe-serialization
// lock spec.md §4.F describes and the general-purpose
// spin_lock(id)/spin_unlock(id) API of spec.md §6.
type SpinLock struct {
	word *uint32
}

func newSpinLock(word *uint32) *SpinLock {
	return &SpinLock{word: word}
}

// Lock spins until the word can be claimed (0 -> 1) or deadline passes.
// A zero deadline means no timeout.
func (l *SpinLock) Lock(deadline time.Time) error {
	spins := 0
	for {
		if atomic.CompareAndSwapUint32(l.word, 0, 1) {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return errs.Timeout("ipc", "spin lock acquisition timed out")
		}
		spins++
		if spins < 1000 {
			runtime.Gosched()
		} else {
			time.Sleep(time.Microsecond * 50)
		}
	}
}

// Unlock releases the word. Unlocking an already-unlocked SpinLock is a
// programmer error in the caller, mirroring spec.md's spin_unlock
// contract, but is not itself checked here to keep the hot path free of
// an extra atomic read.
func (l *SpinLock) Unlock() {
	atomic.StoreUint32(l.word, 0)
}

// PeerLock returns the SpinLock serializing writes to workerID's pipe.
func (s *SharedRegion) PeerLock(workerID int) (*SpinLock, error) {
	w, err := s.peerLockWord(workerID)
	if err != nil {
		return nil, err
	}
	return newSpinLock(w), nil
}

// SpinLockByID returns the generic spin lock identified by id
// (spec.md §6's spin_lock(id)/spin_unlock(id) surface).
func (s *SharedRegion) SpinLockByID(id int) (*SpinLock, error) {
	w, err := s.spinLockWord(id)
	if err != nil {
		return nil, err
	}
	return newSpinLock(w), nil
}
