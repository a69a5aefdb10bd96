package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/scoro/internal/config"
	"github.com/TheEntropyCollective/scoro/socket"
)

func TestServerAcceptAndDispatch(t *testing.T) {
	cfg := config.ServerConfig{
		ListenAddr:       "127.0.0.1:0",
		Network:          "tcp",
		AcceptBackoffMin: time.Millisecond,
		AcceptBackoffMax: 50 * time.Millisecond,
	}

	var handled sync.WaitGroup
	handled.Add(1)

	srv := New(cfg, nil, func(ctx context.Context, sock socket.Socket) {
		defer handled.Done()
		defer sock.Close()
		buf := make([]byte, 5)
		n, err := sock.Receive(ctx, buf, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Equal(t, "hello", string(buf[:n]))
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	// wait for the listener to bind
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)

	cli := socket.NewTCPSocket()
	require.NoError(t, cli.Connect(context.Background(), srv.Addr().String(), time.Now().Add(time.Second)))
	_, err := cli.Send(context.Background(), []byte("hello"), time.Now().Add(time.Second))
	require.NoError(t, err)
	defer cli.Close()

	handled.Wait()
	require.NoError(t, srv.Shutdown())
	<-serveErr
}

func TestServerShutdownIsIdempotent(t *testing.T) {
	cfg := config.ServerConfig{ListenAddr: "127.0.0.1:0", Network: "tcp", AcceptBackoffMin: time.Millisecond, AcceptBackoffMax: time.Millisecond}
	srv := New(cfg, nil, func(ctx context.Context, sock socket.Socket) { sock.Close() }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)

	require.NoError(t, srv.Shutdown())
	require.NoError(t, srv.Shutdown())
	cancel()
}
