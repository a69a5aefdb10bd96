// Package scheduler implements the cooperative task runtime described in
// spec.md §4.A/§4.B: a fixed pool of worker goroutines, each owning a
// priority-ordered Work Queue, running Tasks (closures) to completion or
// until they suspend on a primitive elsewhere in this module
// (sync2, timer, iopoll).
//
// It generalizes the host application's pkg/common/workers.Pool — a
// single-priority buffered-channel pool with a WaitGroup and atomic
// counters — into P priority sub-queues per worker with strict
// priority-then-FIFO dequeue order (spec.md §8 property 1), and adds the
// high/low water-mark back-pressure described in spec.md §4.B.
package scheduler

import (
	"runtime"
	"sync"

	"github.com/TheEntropyCollective/scoro/internal/errs"
	"github.com/TheEntropyCollective/scoro/internal/logging"

	"golang.org/x/sys/unix"
)

// Task is a unit of suspendable work. It is not an OS thread: it runs on
// whichever worker goroutine dequeues it, and it may re-enqueue itself
// (indirectly, via a primitive's wait-list) any number of times before
// Run returns for good.
type Task struct {
	// ID is used only for diagnostics; it need not be unique.
	ID string
	// Run executes the task body. The task is considered complete when
	// Run returns.
	Run func()
	// Priority is clamped to [0, P-1] by the owning Work Queue.
	Priority int
}

// workQueue is a per-worker ready queue with P priority sub-queues,
// dequeued highest-priority-first, FIFO within a priority (spec.md §3,
// §4.A).
//
// Sub-queues are implemented as a mutex-guarded slice ring per priority
// rather than a lock-free MPSC list: spec.md §9 leaves that choice open,
// and the host application never reaches for lock-free structures
// anywhere in its own tree, so a mutex-guarded batch structure is the
// idiomatic choice here (documented as an Open Question decision in
// SPEC_FULL.md §6).
type workQueue struct {
	mu       sync.Mutex
	levels   [][]*Task
	sem      chan struct{} // counting semaphore: one token per enqueued-but-undequeued task
	active   bool
	affinity int
	log      *logging.Logger
}

func newWorkQueue(priorities, affinity int, log *logging.Logger) *workQueue {
	return &workQueue{
		levels:   make([][]*Task, priorities),
		sem:      make(chan struct{}, 1<<20),
		active:   true,
		affinity: affinity,
		log:      log,
	}
}

// enqueue pushes t onto the sub-queue for priority (clamped to the last
// level) and wakes the dequeuer. It never blocks the caller.
func (q *workQueue) enqueue(t *Task) {
	p := t.Priority
	if p < 0 {
		p = 0
	}
	if p >= len(q.levels) {
		p = len(q.levels) - 1
	}

	q.mu.Lock()
	q.levels[p] = append(q.levels[p], t)
	q.mu.Unlock()

	select {
	case q.sem <- struct{}{}:
	default:
		// Semaphore buffer exhausted (over a million outstanding wakeups);
		// the dequeue loop drains every ready task per wakeup anyway, so a
		// dropped token only costs one extra idle wakeup later, never a
		// lost task.
	}
}

// dequeue pops the oldest Task at the highest non-empty priority level.
// Returns nil, false if every level is empty.
func (q *workQueue) dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := len(q.levels) - 1; p >= 0; p-- {
		if len(q.levels[p]) == 0 {
			continue
		}
		t := q.levels[p][0]
		q.levels[p] = q.levels[p][1:]
		return t, true
	}
	return nil, false
}

// sizeApprox sums the length of every sub-queue under the queue lock; the
// sum may already be stale by the time the caller reads it.
func (q *workQueue) sizeApprox() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, lvl := range q.levels {
		n += len(lvl)
	}
	return n
}

// run is the loop executed by the queue's owning worker goroutine. It
// blocks on the semaphore, then drains and runs every ready task before
// blocking again.
func (q *workQueue) run() {
	for {
		<-q.sem

		q.mu.Lock()
		active := q.active
		q.mu.Unlock()
		if !active {
			return
		}

		for {
			t, ok := q.dequeue()
			if !ok {
				break
			}
			runTask(t, q.log)
		}
	}
}

// stop marks the queue inactive and releases the semaphore once so the
// run loop's next wakeup observes the flag and exits, matching spec.md
// §4.A ("the destructor releases the semaphore once to guarantee exit").
func (q *workQueue) stop() {
	q.mu.Lock()
	q.active = false
	q.mu.Unlock()
	select {
	case q.sem <- struct{}{}:
	default:
	}
}

// runTask executes a task body under a top-level recover, matching
// spec.md §7's propagation policy: "individual task bodies run under a
// top-level catch that logs and terminates only that task."
func runTask(t *Task, log *logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			err := errs.Resource("scheduler", "task panicked", nil)
			fields := map[string]interface{}{"task_id": t.ID, "panic": r, "error": err.Error()}
			if log != nil {
				log.Error("task panicked", fields)
			}
			// Deliberately not re-panicked: the scheduler itself never
			// catches exceptions from the queue loop, only from the task
			// body, so the owning worker goroutine survives.
		}
	}()
	t.Run()
}

func defaultWorkerCount(requested int) int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if requested > 0 && requested < n {
		return requested
	}
	return n
}

// pin locks the calling goroutine to its OS thread and binds that thread
// to CPU id, mirroring ipc/fleet.go's RunIfWorker affinity pattern.
// Best-effort: spec.md §4.A describes CPU affinity as a starting hint, not
// a hard guarantee, so a failure to set it is not propagated.
func pin(id int) {
	if id < 0 {
		return
	}
	runtime.LockOSThread()

	n := runtime.NumCPU()
	if n < 1 {
		return
	}
	var set unix.CPUSet
	set.Set(id % n)
	_ = unix.SchedSetaffinity(0, &set) // best effort; not fatal if the kernel refuses
}
