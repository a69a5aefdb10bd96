package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/scoro/internal/config"
	"github.com/TheEntropyCollective/scoro/scheduler"
)

func TestWheelFiresInDeadlineOrder(t *testing.T) {
	sched := scheduler.New(config.SchedulerConfig{Workers: 2, Priorities: 1}, nil)
	sched.Start()
	t.Cleanup(sched.Stop)

	w := New(config.TimerConfig{TickInterval: time.Millisecond}, sched)
	t.Cleanup(w.Stop)

	var order []int
	done := make(chan struct{})
	var n int32

	fire := func(i int) func() {
		return func() {
			order = append(order, i)
			if atomic.AddInt32(&n, 1) == 3 {
				close(done)
			}
		}
	}

	now := time.Now()
	w.Schedule(now.Add(30*time.Millisecond), &scheduler.Task{Run: fire(3)}, -1)
	w.Schedule(now.Add(10*time.Millisecond), &scheduler.Task{Run: fire(1)}, -1)
	w.Schedule(now.Add(20*time.Millisecond), &scheduler.Task{Run: fire(2)}, -1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers never fired")
	}
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestWheelCancellation(t *testing.T) {
	w := New(config.TimerConfig{TickInterval: time.Millisecond}, nil)
	t.Cleanup(w.Stop)

	fired := make(chan struct{}, 1)
	c := w.Schedule(time.Now().Add(20*time.Millisecond), &scheduler.Task{Run: func() {
		fired <- struct{}{}
	}}, -1)
	c.Cancel()

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}
