package sync2

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutexTryLock(t *testing.T) {
	m := NewMutex()
	require.True(t, m.TryLock())
	require.False(t, m.TryLock())
	m.Unlock()
	require.True(t, m.TryLock())
}

// TestMutexMutualExclusion exercises spec.md §8 property 3: no two
// goroutines observe the critical section simultaneously.
func TestMutexMutualExclusion(t *testing.T) {
	m := NewMutex()
	var inside int32
	var violations int32
	var wg sync.WaitGroup

	const goroutines = 20
	const iterations = 50
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				m.Lock()
				if atomic.AddInt32(&inside, 1) != 1 {
					atomic.AddInt32(&violations, 1)
				}
				atomic.AddInt32(&inside, -1)
				m.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mutex test deadlocked")
	}

	require.Zero(t, atomic.LoadInt32(&violations))
}

// TestMutexFIFOHandoff checks that waiters queued while the mutex is held
// are resumed in the order they queued.
func TestMutexFIFOHandoff(t *testing.T) {
	m := NewMutex()
	m.Lock()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	started := make(chan struct{}, 5)

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			time.Sleep(time.Duration(i) * 2 * time.Millisecond) // stagger queue order
			m.Lock()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			m.Unlock()
		}()
	}

	for i := 0; i < 5; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond) // let all 5 queue up before releasing
	m.Unlock()

	wg.Wait()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
