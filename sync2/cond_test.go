package sync2

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConditionalNotifyAll(t *testing.T) {
	c := NewConditional()
	const n = 5
	var wg sync.WaitGroup
	results := make([]any, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			v, err := c.Wait(ctx)
			require.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(10 * time.Millisecond)
	c.Notify("go")
	wg.Wait()

	for _, r := range results {
		require.Equal(t, "go", r)
	}
}

func TestConditionalNotifyOneIsFIFO(t *testing.T) {
	c := NewConditional()
	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err := c.Wait(ctx)
			if err == nil {
				order <- i
			}
		}()
		time.Sleep(5 * time.Millisecond) // ensure registration order
	}

	c.NotifyOne("x")
	select {
	case first := <-order:
		require.Equal(t, 0, first)
	case <-time.After(time.Second):
		t.Fatal("NotifyOne never resumed anyone")
	}
}

func TestConditionalCloseAborts(t *testing.T) {
	c := NewConditional()
	errs := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background())
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("Close never resumed the waiter")
	}

	_, err := c.Wait(context.Background())
	require.ErrorIs(t, err, ErrAborted)
}
