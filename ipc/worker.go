package ipc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/errs"
	"github.com/TheEntropyCollective/scoro/internal/logging"
)

// peerLink is one outbound connection to a sibling worker: the transport
// to write frames on, guarded by a lock serializing concurrent senders
// (spec.md §4.F: "write ends shared by all other workers; serialized by
// the worker's ticket lock").
type peerLink struct {
	tx   Transport
	lock pipeLock
}

type pendingResponse struct {
	ch     chan Frame
	expect int // gather: responses still owed; get: always 1
}

// Worker is one member of an ipc Fleet: it owns its inbound pipe
// exclusively (spec.md §5: "per-worker pipe read end: owned exclusively
// by that worker's own receive coroutine") and a peerLink to every
// sibling for outbound sends.
type Worker struct {
	ID       uint8
	self     Transport // inbound, exclusively owned
	peers    map[uint8]*peerLink
	handlers *HandlerTable
	log      *logging.Logger

	mu          sync.Mutex
	nextHandle  uint64
	pending     map[uint64]*pendingResponse

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker constructs a Worker. peers maps sibling id -> outbound
// Transport + lock; self is this worker's own inbound Transport.
func NewWorker(id uint8, self Transport, peers map[uint8]*peerLink, handlers *HandlerTable, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.NewLogger(logging.DefaultConfig())
	}
	if handlers == nil {
		handlers = NewHandlerTable()
	}
	return &Worker{
		ID:       id,
		self:     self,
		peers:    peers,
		handlers: handlers,
		log:      log.WithComponent(fmt.Sprintf("ipc.worker[%d]", id)),
		pending:  make(map[uint64]*pendingResponse),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker's single receive loop.
func (w *Worker) Start() {
	go w.receiveLoop()
}

// Stop runs registered cleaners, then stops the receive loop.
func (w *Worker) Stop() {
	w.handlers.RunCleaners()
	close(w.stopCh)
	_ = w.self.Close()
	<-w.doneCh
}

func (w *Worker) receiveLoop() {
	defer close(w.doneCh)
	for {
		f, err := ReadFrame(w.self)
		if err != nil {
			select {
			case <-w.stopCh:
				return
			default:
			}
			w.log.Warnf("receive loop exiting: %v", err)
			return
		}
		w.handleFrame(f)
	}
}

func (w *Worker) handleFrame(f Frame) {
	switch f.ID {
	case MsgGetResponse:
		w.deliverResponse(f)
	default:
		if g := w.handlers.DispatchGet(f); g != nil {
			// A get-handler answered: reply carries the handle prefix the
			// requester embedded (see Get), followed by the payload.
			w.replyTo(f, g)
			return
		}
		w.handlers.Dispatch(f)
	}
}

// handleSize is the width of the handle prefix Get/Gather embed at the
// front of the request payload so responses can be matched without a
// separate side-channel.
const handleSize = 8

func (w *Worker) replyTo(req Frame, payload []byte) {
	if len(req.Payload) < handleSize {
		return
	}
	handle := req.Payload[:handleSize]
	out := make([]byte, handleSize+len(payload))
	copy(out, handle)
	copy(out[handleSize:], payload)
	_ = w.Send(context.Background(), req.Src, MsgGetResponse, out, time.Time{})
}

func (w *Worker) deliverResponse(f Frame) {
	if len(f.Payload) < handleSize {
		return
	}
	handle := decodeHandle(f.Payload[:handleSize])
	w.mu.Lock()
	pr, ok := w.pending[handle]
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case pr.ch <- Frame{ID: f.ID, Src: f.Src, Payload: f.Payload[handleSize:]}:
	default:
	}
}

// Send delivers id/payload to dst, serialized by dst's shared pipe lock.
func (w *Worker) Send(ctx context.Context, dst uint8, id uint8, payload []byte, deadline time.Time) error {
	link, ok := w.peers[dst]
	if !ok {
		return errs.Programmer("ipc", fmt.Sprintf("no peer link for worker %d", dst))
	}
	if err := link.lock.Lock(deadline); err != nil {
		return err
	}
	defer link.lock.Unlock()
	return WriteFrame(link.tx, id, w.ID, payload)
}

// Broadcast sends id/payload to every peer link, running sends
// concurrently and waiting for all to finish. It does not consult the
// peers' interest bitmaps: a peer with no handler for id still receives
// the frame and discards it.
func (w *Worker) Broadcast(ctx context.Context, id uint8, payload []byte) []error {
	var wg sync.WaitGroup
	errsOut := make([]error, 0, len(w.peers))
	var mu sync.Mutex
	blob := append([]byte(nil), payload...) // transfer-owned copy, per spec.md §4.F

	for dst := range w.peers {
		dst := dst
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Send(ctx, dst, id, blob, time.Time{}); err != nil {
				mu.Lock()
				errsOut = append(errsOut, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errsOut
}

// Get sends a request to dst and suspends until exactly one response
// arrives via MsgGetResponse or timeout elapses.
func (w *Worker) Get(ctx context.Context, id uint8, dst uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	handle := w.mu_nextHandle()
	ch := make(chan Frame, 1)
	w.mu.Lock()
	w.pending[handle] = &pendingResponse{ch: ch, expect: 1}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, handle)
		w.mu.Unlock()
	}()

	req := make([]byte, handleSize+len(payload))
	encodeHandle(req[:handleSize], handle)
	copy(req[handleSize:], payload)

	deadline := time.Now().Add(timeout)
	if err := w.Send(ctx, dst, id, req, deadline); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.Payload, nil
	case <-time.After(timeout):
		return nil, errs.Timeout("ipc", "get() timed out waiting for a response")
	case <-ctx.Done():
		return nil, errs.Canceled("ipc", "get() canceled")
	}
}

// Gather broadcasts a request and waits for n_active-1 responses (every
// other active worker) or timeout, returning whatever arrived.
func (w *Worker) Gather(ctx context.Context, id uint8, payload []byte, timeout time.Duration) ([][]byte, error) {
	handle := w.mu_nextHandle()
	expect := len(w.peers)
	ch := make(chan Frame, expect)
	w.mu.Lock()
	w.pending[handle] = &pendingResponse{ch: ch, expect: expect}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, handle)
		w.mu.Unlock()
	}()

	req := make([]byte, handleSize+len(payload))
	encodeHandle(req[:handleSize], handle)
	copy(req[handleSize:], payload)

	for dst := range w.peers {
		_ = w.Send(ctx, dst, id, req, time.Now().Add(timeout))
	}

	results := make([][]byte, 0, expect)
	deadline := time.After(timeout)
	for i := 0; i < expect; i++ {
		select {
		case resp := <-ch:
			results = append(results, resp.Payload)
		case <-deadline:
			return results, errs.Timeout("ipc", "gather() timed out before all responses arrived")
		case <-ctx.Done():
			return results, errs.Canceled("ipc", "gather() canceled")
		}
	}
	return results, nil
}

func (w *Worker) mu_nextHandle() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextHandle++
	return w.nextHandle
}

func encodeHandle(buf []byte, h uint64) {
	for i := 0; i < handleSize; i++ {
		buf[i] = byte(h >> (8 * i))
	}
}

func decodeHandle(buf []byte) uint64 {
	var h uint64
	for i := 0; i < handleSize; i++ {
		h |= uint64(buf[i]) << (8 * i)
	}
	return h
}
