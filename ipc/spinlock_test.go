package ipc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpinLockMutualExclusion(t *testing.T) {
	word := new(uint32)
	l := newSpinLock(word)

	var inside int32
	var violations int32
	var wg sync.WaitGroup
	const n = 16
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				require.NoError(t, l.Lock(time.Time{}))
				inside++
				if inside != 1 {
					violations++
				}
				inside--
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Zero(t, violations)
}

func TestSpinLockTimesOut(t *testing.T) {
	l := newSpinLock(new(uint32))
	require.NoError(t, l.Lock(time.Time{}))
	err := l.Lock(time.Now().Add(30 * time.Millisecond))
	require.Error(t, err)
}

func TestTicketLockFIFOOrder(t *testing.T) {
	l := NewTicketLock()
	require.NoError(t, l.Lock(time.Time{}))

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Lock(time.Time{}))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Unlock()
		}()
		time.Sleep(5 * time.Millisecond) // ensure queuing order
	}
	time.Sleep(10 * time.Millisecond)
	l.Unlock()
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3}, order)
}
