// Package timer implements the monotonic deadline heap described in
// spec.md §4.C: tasks call SleepUntil to suspend until a deadline, a
// single background ticker pops expired entries and hands the
// corresponding task back to a scheduler.Scheduler.
//
// There is no third-party min-heap/timer-wheel library anywhere in the
// example corpus (the host application's own worker pool only uses
// time.Ticker for periodic polling, e.g. pkg/core/blocks.WorkerPoolOptimizer's
// adaptiveScalingLoop), so this is built on the standard library's
// container/heap, which is the idiomatic Go choice for a priority queue
// of deadlines; see DESIGN.md for the justification.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/config"
	"github.com/TheEntropyCollective/scoro/scheduler"
)

// entry is one (deadline, Task-ref) pair, spec.md §3.
type entry struct {
	deadline  time.Time
	task      *scheduler.Task
	queueHint int
	index     int  // heap index, maintained by container/heap
	canceled  bool // tombstone, checked lazily at pop time
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Cancellation is a token returned by Wheel.Schedule that can be used to
// tombstone a pending entry before it fires.
type Cancellation struct {
	e *entry
	w *Wheel
}

// Cancel marks the entry canceled. It is lazily removed from the heap at
// pop time (spec.md §4.C), so Cancel never blocks on the heap lock for
// longer than a flag flip.
func (c *Cancellation) Cancel() {
	c.w.mu.Lock()
	c.e.canceled = true
	c.w.mu.Unlock()
}

// Wheel is a per-scheduler monotonic min-heap of deadlines.
type Wheel struct {
	mu   sync.Mutex
	h    entryHeap
	wake chan struct{}

	sched *scheduler.Scheduler

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Wheel that re-enqueues expired tasks onto sched.
func New(cfg config.TimerConfig, sched *scheduler.Scheduler) *Wheel {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	w := &Wheel{
		sched:  sched,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go w.run(cfg.TickInterval)
	return w
}

// Schedule inserts (deadline, task) into the heap and returns a
// Cancellation. queueHint is forwarded to scheduler.Schedule when the
// task fires, preserving the task's original priority/locality.
func (w *Wheel) Schedule(deadline time.Time, task *scheduler.Task, queueHint int) *Cancellation {
	e := &entry{deadline: deadline, task: task, queueHint: queueHint}
	w.mu.Lock()
	heap.Push(&w.h, e)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}

	return &Cancellation{e: e, w: w}
}

// SleepUntil schedules a wake-up at deadline and returns a channel that
// receives the firing time once the deadline has passed; it does not
// block itself. It is the analogue of spec.md §4.C's sleep_until: the
// caller suspends by receiving from the channel rather than yielding a
// coroutine, since Go tasks are goroutines, not stackless coroutines.
func (w *Wheel) SleepUntil(deadline time.Time) <-chan time.Time {
	fired := make(chan time.Time, 1)
	w.Schedule(deadline, &scheduler.Task{Run: func() {
		fired <- time.Now()
	}}, -1)
	return fired
}

// run is the single background ticker that pops expired entries. It
// piggy-backs on a time.Ticker rather than a dedicated timer FD (the
// alternative spec.md §4.C allows), woken early whenever Schedule adds a
// new nearer-term deadline.
func (w *Wheel) run(tick time.Duration) {
	defer close(w.doneCh)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-w.wake:
			w.fireExpired()
		case <-ticker.C:
			w.fireExpired()
		}
	}
}

func (w *Wheel) fireExpired() {
	now := time.Now()
	for {
		w.mu.Lock()
		if w.h.Len() == 0 {
			w.mu.Unlock()
			return
		}
		top := w.h[0]
		if top.canceled {
			heap.Pop(&w.h)
			w.mu.Unlock()
			continue
		}
		if top.deadline.After(now) {
			w.mu.Unlock()
			return
		}
		e := heap.Pop(&w.h).(*entry)
		w.mu.Unlock()

		if w.sched != nil {
			w.sched.Schedule(e.task, e.queueHint)
		} else {
			e.task.Run()
		}
	}
}

// Stop halts the background ticker goroutine and waits for it to exit.
func (w *Wheel) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// Len reports the number of pending (including tombstoned, not yet
// lazily removed) entries. Diagnostics only.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.h.Len()
}
