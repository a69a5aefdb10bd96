package sync2

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualResetEventLatches(t *testing.T) {
	e := NewManualResetEvent()
	require.False(t, e.IsSet())

	var wg sync.WaitGroup
	const n = 10
	wg.Add(n)
	ok := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if e.Wait(ctx) == nil {
				ok <- struct{}{}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	e.Set()
	wg.Wait()
	close(ok)

	count := 0
	for range ok {
		count++
	}
	require.Equal(t, n, count)
	require.True(t, e.IsSet())

	e.Reset()
	require.False(t, e.IsSet())
}
