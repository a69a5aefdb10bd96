package ipc

import "io"

// sharedPipe is a single-reader, multi-writer in-memory transport: every
// sibling worker's peerLink.tx for a given destination points at the
// same sharedPipe.writer, exactly mirroring how real sibling processes
// all hold a dup of the destination's one inbound OS pipe fd (spec.md
// §4.F, §5). io.Pipe already serializes concurrent writers safely,
// which is what lets this stand in for the real pipe without its own
// locking; the pipeLock in peerLink (a TicketLock for in-process
// workers) still provides the frame-level
// atomicity spec.md's ticket lock requires (header+body as one unit).
type sharedPipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newSharedPipe() *sharedPipe {
	r, w := io.Pipe()
	return &sharedPipe{r: r, w: w}
}

// inboundTransport exposes the read side to the pipe's owning worker.
func (p *sharedPipe) inboundTransport() Transport {
	return &pipeEnd{r: p.r, w: nil}
}

// outboundTransport exposes the write side to a sending peer.
func (p *sharedPipe) outboundTransport() Transport {
	return &pipeEnd{r: nil, w: p.w}
}

// pipeEnd adapts one direction of an io.Pipe to the full Transport
// interface; the unused direction is a programmer error if ever called.
type pipeEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (e *pipeEnd) Read(b []byte) (int, error) {
	if e.r == nil {
		return 0, io.ErrClosedPipe
	}
	return e.r.Read(b)
}

func (e *pipeEnd) Write(b []byte) (int, error) {
	if e.w == nil {
		return 0, io.ErrClosedPipe
	}
	return e.w.Write(b)
}

func (e *pipeEnd) Close() error {
	if e.r != nil {
		return e.r.Close()
	}
	if e.w != nil {
		return e.w.Close()
	}
	return nil
}
