package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// wireTwoWorkers builds a pair of Workers, each with its own inbound
// sharedPipe, mirroring how a real Fleet gives every worker exactly one
// inbound OS pipe that siblings share (spec.md §4.F, §5).
func wireTwoWorkers(t *testing.T, h0, h1 *HandlerTable) (*Worker, *Worker) {
	t.Helper()
	pipe0 := newSharedPipe() // worker 0's inbound
	pipe1 := newSharedPipe() // worker 1's inbound

	w0 := NewWorker(0, pipe0.inboundTransport(), map[uint8]*peerLink{
		1: {tx: pipe1.outboundTransport(), lock: NewTicketLock()},
	}, h0, nil)
	w1 := NewWorker(1, pipe1.inboundTransport(), map[uint8]*peerLink{
		0: {tx: pipe0.outboundTransport(), lock: NewTicketLock()},
	}, h1, nil)

	w0.Start()
	w1.Start()
	t.Cleanup(w0.Stop)
	t.Cleanup(w1.Stop)
	return w0, w1
}

func TestWorkerSendDispatchesToHandler(t *testing.T) {
	h1 := NewHandlerTable()
	received := make(chan []byte, 1)
	h1.RegisterHandler(FirstUserMessageID, func(src uint8, payload []byte) {
		received <- payload
	})

	w0, _ := wireTwoWorkers(t, NewHandlerTable(), h1)

	require.NoError(t, w0.Send(context.Background(), 1, FirstUserMessageID, []byte("hello"), time.Time{}))

	select {
	case got := <-received:
		require.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("handler never received the message")
	}
}

func TestWorkerGetRoundTrip(t *testing.T) {
	h1 := NewHandlerTable()
	h1.RegisterGetHandler(FirstUserMessageID, func(src uint8, payload []byte) []byte {
		return []byte("echo:" + string(payload))
	})

	w0, _ := wireTwoWorkers(t, NewHandlerTable(), h1)

	resp, err := w0.Get(context.Background(), FirstUserMessageID, 1, []byte("ping"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "echo:ping", string(resp))
}

func TestWorkerGetTimesOutWithNoHandler(t *testing.T) {
	w0, _ := wireTwoWorkers(t, NewHandlerTable(), NewHandlerTable())

	_, err := w0.Get(context.Background(), FirstUserMessageID, 1, []byte("ping"), 50*time.Millisecond)
	require.Error(t, err)
}

// TestWorkerGatherCollectsAllResponses wires a 3-worker star (0 as the
// requester, 1 and 2 as responders) to exercise broadcast+collect. Each
// worker still owns exactly one inbound sharedPipe; worker 0's is
// written to by both 1 and 2, exactly as a real fan-in pipe would be
// shared by sibling processes.
func TestWorkerGatherCollectsAllResponses(t *testing.T) {
	h0 := NewHandlerTable()
	h1 := NewHandlerTable()
	h2 := NewHandlerTable()
	h1.RegisterGetHandler(FirstUserMessageID, func(src uint8, payload []byte) []byte { return []byte("from-1") })
	h2.RegisterGetHandler(FirstUserMessageID, func(src uint8, payload []byte) []byte { return []byte("from-2") })

	pipe0 := newSharedPipe()
	pipe1 := newSharedPipe()
	pipe2 := newSharedPipe()

	w0 := NewWorker(0, pipe0.inboundTransport(), map[uint8]*peerLink{
		1: {tx: pipe1.outboundTransport(), lock: NewTicketLock()},
		2: {tx: pipe2.outboundTransport(), lock: NewTicketLock()},
	}, h0, nil)
	w1 := NewWorker(1, pipe1.inboundTransport(), map[uint8]*peerLink{
		0: {tx: pipe0.outboundTransport(), lock: NewTicketLock()},
	}, h1, nil)
	w2 := NewWorker(2, pipe2.inboundTransport(), map[uint8]*peerLink{
		0: {tx: pipe0.outboundTransport(), lock: NewTicketLock()},
	}, h2, nil)

	w0.Start()
	w1.Start()
	w2.Start()
	t.Cleanup(w0.Stop)
	t.Cleanup(w1.Stop)
	t.Cleanup(w2.Stop)

	results, err := w0.Gather(context.Background(), FirstUserMessageID, []byte("ping"), time.Second)
	require.NoError(t, err)
	require.Len(t, results, 2)

	got := map[string]bool{}
	for _, r := range results {
		got[string(r)] = true
	}
	require.True(t, got["from-1"])
	require.True(t, got["from-2"])
}
