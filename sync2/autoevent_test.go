package sync2

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAutoResetEventBankedPermit(t *testing.T) {
	e := NewAutoResetEvent()
	e.Set()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))

	// The permit was consumed; a second Wait with a short deadline times out.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	require.Error(t, e.Wait(ctx2))
}

// TestAutoResetEventExactlyMinWS is spec.md §8 property 2: across W
// waiters and S sets, exactly min(W, S) waiters resume, each exactly
// once.
func TestAutoResetEventExactlyMinWS(t *testing.T) {
	e := NewAutoResetEvent()
	const w, s = 7, 4

	var resumed int32
	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	wg.Add(w)
	for i := 0; i < w; i++ {
		go func() {
			defer wg.Done()
			if e.Wait(ctx) == nil {
				atomic.AddInt32(&resumed, 1)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond) // let all waiters queue
	for i := 0; i < s; i++ {
		e.Set()
	}
	wg.Wait()

	require.EqualValues(t, s, atomic.LoadInt32(&resumed))
}
