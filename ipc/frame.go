// Package ipc implements the cross-process substrate of spec.md §4.F: a
// supervisor process spawns a fleet of workers, each worker exchanges
// typed, length-prefixed messages over a dedicated pipe, and a small set
// of reserved message ids carry liveness/ops traffic (GET_STATS,
// mem-info, route enable/disable, ...).
//
// Go has no portable fork(); spec.md §6's Open Question on this point is
// resolved by re-executing the current binary via os/exec with an
// inherited pipe pair per worker (Cmd.ExtraFiles) instead of forking —
// see DESIGN.md for the justification.
package ipc

import (
	"encoding/binary"
	"io"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// Reserved message ids, spec.md §6. Ids >= FirstUserMessageID are free
// for caller use.
const (
	MsgSysPing           uint8 = 0
	MsgGetResponse       uint8 = 1
	MsgGetStats          uint8 = 2
	MsgMemInfo           uint8 = 3
	MsgInitializerEnable uint8 = 4
	MsgEnableRoute       uint8 = 5
	MsgDisableRoute      uint8 = 6

	FirstUserMessageID uint8 = 64
)

// HeaderSize is the fixed 10-byte frame header: {id:u8, src:u8, len:u64}.
const HeaderSize = 10

// Frame is one decoded IPC message.
type Frame struct {
	ID      uint8
	Src     uint8
	Payload []byte
}

// WriteFrame serializes the 10-byte header followed by payload to w.
func WriteFrame(w io.Writer, id, src uint8, payload []byte) error {
	var hdr [HeaderSize]byte
	hdr[0] = id
	hdr[1] = src
	binary.LittleEndian.PutUint64(hdr[2:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errs.New("TRANSIENT_IO", "ipc", "frame header write failed", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errs.New("TRANSIENT_IO", "ipc", "frame body write failed", err)
	}
	return nil
}

// ReadFrame blocks until a complete frame is available on r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, errs.PeerClosed("ipc", "peer closed while reading frame header", err)
		}
		return Frame{}, errs.New("TRANSIENT_IO", "ipc", "frame header read failed", err)
	}
	n := binary.LittleEndian.Uint64(hdr[2:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, errs.Protocol("ipc", "frame body truncated")
		}
	}
	return Frame{ID: hdr[0], Src: hdr[1], Payload: payload}, nil
}
