package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/config"
	"github.com/TheEntropyCollective/scoro/internal/logging"
)

// Scheduler owns K worker goroutines, each running its own Work Queue,
// and hands newly-ready tasks to one of them round-robin (spec.md §4.B).
// Re-entering a suspended task (Schedule) may name a queue hint to
// improve cache/data locality; timer.Wheel uses this to put a fired task
// back on the queue hint it was scheduled with.
type Scheduler struct {
	cfg    config.SchedulerConfig
	log    *logging.Logger
	queues []*workQueue
	cursor uint64

	mu        sync.Mutex
	cond      *sync.Cond
	backedOff []bool // per-queue back-off flag, guarded by mu

	wg      sync.WaitGroup
	started bool
	stopped bool
	stopCh  chan struct{}
}

// New creates a Scheduler with K = min(requested, hardware_concurrency)
// (when requested <= 0, K = hardware_concurrency) Work Queues, each with
// cfg.Priorities priority levels.
func New(cfg config.SchedulerConfig, log *logging.Logger) *Scheduler {
	if cfg.Priorities < 1 {
		cfg.Priorities = 1
	}
	k := defaultWorkerCount(cfg.Workers)

	if log == nil {
		log = logging.NewLogger(logging.DefaultConfig())
	}
	log = log.WithComponent("scheduler")

	s := &Scheduler{
		cfg:       cfg,
		log:       log,
		queues:    make([]*workQueue, k),
		backedOff: make([]bool, k),
		stopCh:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	for i := range s.queues {
		s.queues[i] = newWorkQueue(cfg.Priorities, i, log)
	}
	return s
}

// Start launches one goroutine per Work Queue, each bound to its
// affinity index (best effort) and running the dequeue loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for _, q := range s.queues {
		q := q
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			pin(q.affinity)
			q.run()
		}()
	}

	if s.cfg.QueueHighWater > 0 {
		s.wg.Add(1)
		go s.backPressureMonitor()
	}
}

// backPressureMonitor periodically re-checks every queue's size and
// clears back-off flags that have fallen below the low-water mark,
// waking any producer blocked in waitForCapacity. This is the "worker
// crossing below low-water notifies one producer" rule of spec.md §5,
// implemented as a lightweight poll rather than a push from workQueue
// (which stays ignorant of its owning Scheduler).
func (s *Scheduler) backPressureMonitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.notifyCapacity()
		case <-s.stopCh:
			return
		}
	}
}

// Spawn creates a ready Task from fn and places it on the next queue in
// round-robin order, applying the configured back-pressure: if every
// queue is at or above its high-water mark, Spawn blocks until one drops
// below the low-water mark.
func (s *Scheduler) Spawn(fn func(), priority int) *Task {
	t := &Task{ID: fmt.Sprintf("task-%d", atomic.LoadUint64(&s.cursor)), Run: fn, Priority: priority}
	idx := s.pickQueue()
	s.Schedule(t, idx)
	return t
}

// Schedule re-enters (or initially enqueues) a Task, preferring the
// Work Queue named by hint when hint is a valid index.
func (s *Scheduler) Schedule(t *Task, hint int) {
	idx := hint
	if idx < 0 || idx >= len(s.queues) {
		idx = s.pickQueue()
	}
	s.waitForCapacity(idx)
	s.queues[idx].enqueue(t)
}

// pickQueue advances the round-robin cursor and returns the next index.
func (s *Scheduler) pickQueue() int {
	n := atomic.AddUint64(&s.cursor, 1)
	return int(n % uint64(len(s.queues)))
}

// waitForCapacity blocks the caller while every queue is backed off,
// implementing the high/low water mark policy of spec.md §4.B: a
// worker marks itself back-off above QueueHighWater and clears it below
// QueueLowWater; a producer skips back-off workers and waits on a
// condition variable until one clears.
func (s *Scheduler) waitForCapacity(idx int) {
	if s.cfg.QueueHighWater <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		size := s.queues[idx].sizeApprox()
		switch {
		case size >= s.cfg.QueueHighWater:
			s.backedOff[idx] = true
		case size < s.cfg.QueueLowWater:
			s.backedOff[idx] = false
		}
		if !s.allBackedOffLocked() {
			return
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) allBackedOffLocked() bool {
	for _, b := range s.backedOff {
		if !b {
			return false
		}
	}
	return true
}

// notifyCapacity clears the back-off flag of every queue whose size is
// below QueueLowWater and wakes all producers blocked in
// waitForCapacity. backPressureMonitor calls it on every poll tick;
// workQueue itself never calls it, so it keeps no back-reference to its
// Scheduler.
func (s *Scheduler) notifyCapacity() {
	s.mu.Lock()
	for i, q := range s.queues {
		if q.sizeApprox() < s.cfg.QueueLowWater {
			s.backedOff[i] = false
		}
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Stop marks every Work Queue inactive and joins their goroutines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	for _, q := range s.queues {
		q.stop()
	}
	s.wg.Wait()
	s.cond.Broadcast()
}

// NumQueues reports how many Work Queues the scheduler owns (K).
func (s *Scheduler) NumQueues() int { return len(s.queues) }

// QueueSize reports the approximate size of queue idx, for diagnostics.
func (s *Scheduler) QueueSize(idx int) int {
	if idx < 0 || idx >= len(s.queues) {
		return 0
	}
	return s.queues[idx].sizeApprox()
}
