package sync2

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelSendRecv(t *testing.T) {
	c := NewChannel[int](2)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, 1))
	require.NoError(t, c.Send(ctx, 2))

	v, ok, err := c.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestChannelTerminateDrainsThenEOF(t *testing.T) {
	c := NewChannel[string](4)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, "a"))
	require.NoError(t, c.Send(ctx, "b"))
	c.Terminate()

	v, ok, err := c.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", v)

	v, ok, err = c.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", v)

	_, ok, err = c.Recv(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChannelSendAfterTerminate(t *testing.T) {
	c := NewChannel[int](1)
	c.Terminate()
	err := c.Send(context.Background(), 1)
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

// TestChannelRecvNExact exercises the "wait for exactly k" mode adapted
// from original_source/'s recv_many.
func TestChannelRecvNExact(t *testing.T) {
	c := NewChannel[int](8)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(ctx, i))
	}

	got, err := c.RecvN(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, got)
}

func TestChannelRecvNEarlyTermination(t *testing.T) {
	c := NewChannel[int](4)
	ctx := context.Background()
	require.NoError(t, c.Send(ctx, 1))
	c.Terminate()

	_, err := c.RecvN(ctx, 3)
	require.ErrorIs(t, err, io.EOF)
}

func TestChannelRecvCtxDeadline(t *testing.T) {
	c := NewChannel[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := c.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
