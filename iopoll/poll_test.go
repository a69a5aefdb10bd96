package iopoll

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/scoro/internal/config"
)

func TestPollFiresOnReadableFD(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})

	p, err := New(config.IOPollConfig{MaxEvents: 16}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	fired := make(chan Interest, 1)
	require.NoError(t, p.Register(fds[0], InterestRead, 0, func(ready Interest) {
		fired <- ready
	}))

	_, err = unix.Write(fds[1], []byte("ping"))
	require.NoError(t, err)

	select {
	case ready := <-fired:
		require.NotZero(t, ready&InterestRead)
	case <-time.After(2 * time.Second):
		t.Fatal("poll never fired for a readable fd")
	}
}

func TestPollUnregisterStopsCallbacks(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})

	p, err := New(config.IOPollConfig{MaxEvents: 16}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	fired := make(chan struct{}, 4)
	require.NoError(t, p.Register(fds[0], InterestRead, 0, func(Interest) {
		fired <- struct{}{}
	}))
	p.Unregister(fds[0])

	_, err = unix.Write(fds[1], []byte("ping"))
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("callback fired after Unregister")
	case <-time.After(150 * time.Millisecond):
	}
}
