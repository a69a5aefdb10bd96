// Package rpc implements the length-prefixed RPC framer of spec.md §4.I:
// a transport-agnostic transmit/receive pair that works identically over
// any socket.Socket. Two modes are supported, selected by
// Config.SizePrefixEnabled:
//
//   - size-prefix on: an 8-byte little-endian length N precedes exactly N
//     body bytes.
//   - size-prefix off: a best-effort read loop, starting with a blocking
//     read of at least one byte under the keep-alive deadline, then
//     iterating short reads, each under a fresh idle deadline, until one
//     times out or returns no data (spec.md §9 flags this mode as
//     inherently heuristic).
package rpc

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/errs"
	"github.com/TheEntropyCollective/scoro/socket"
)

// SizePrefixLen is the fixed 8-byte little-endian length header used in
// size-prefix mode (spec.md §6's second wire format).
const SizePrefixLen = 8

// Config controls framer behavior; IdleTimeout bounds the opportunistic
// reads used when SizePrefixEnabled is false.
type Config struct {
	SizePrefixEnabled bool
	IdleTimeout       time.Duration
}

// Transmit sends payload over sock. Under size-prefix mode the 8-byte
// length is sent first, then the body, then a flush; with size-prefix
// disabled the body is sent directly and flushed.
func Transmit(ctx context.Context, sock socket.Socket, payload []byte, deadline time.Time, cfg Config) error {
	if cfg.SizePrefixEnabled {
		var hdr [SizePrefixLen]byte
		binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))
		if _, err := writeAll(ctx, sock, hdr[:], deadline); err != nil {
			return err
		}
	}
	if len(payload) > 0 {
		if _, err := writeAll(ctx, sock, payload, deadline); err != nil {
			return err
		}
	}
	return sock.Flush(ctx, deadline)
}

// Receive reads one message from sock. Under size-prefix mode it reads
// exactly 8 length bytes then exactly that many body bytes, each under
// deadline. With size-prefix disabled it performs a blocking read of at
// least one byte under keepAliveDeadline, then keeps reading under a
// shorter idle deadline (cfg.IdleTimeout) until a read returns having
// made no further progress, treating that as end-of-message — this is
// the heuristic framing spec.md §9 calls out explicitly; callers that
// need correctness guarantees should prefer SizePrefixEnabled.
func Receive(ctx context.Context, sock socket.Socket, keepAliveDeadline time.Time, cfg Config) ([]byte, error) {
	if cfg.SizePrefixEnabled {
		return receiveSizePrefixed(ctx, sock, keepAliveDeadline)
	}
	return receiveOpportunistic(ctx, sock, keepAliveDeadline, cfg.IdleTimeout)
}

func receiveSizePrefixed(ctx context.Context, sock socket.Socket, deadline time.Time) ([]byte, error) {
	hdr := make([]byte, SizePrefixLen)
	if err := readExact(ctx, sock, hdr, deadline); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(hdr)
	body := make([]byte, n)
	if n > 0 {
		if err := readExact(ctx, sock, body, deadline); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func receiveOpportunistic(ctx context.Context, sock socket.Socket, keepAliveDeadline time.Time, idleTimeout time.Duration) ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := sock.Read(ctx, buf, keepAliveDeadline)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), buf[:n]...)

	for {
		idleDeadline := time.Now().Add(idleTimeout)
		n, err := sock.Read(ctx, buf, idleDeadline)
		if err != nil {
			if errs.IsTimeout(err) {
				return out, nil
			}
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}

func writeAll(ctx context.Context, sock socket.Socket, buf []byte, deadline time.Time) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := sock.Send(ctx, buf[total:], deadline)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func readExact(ctx context.Context, sock socket.Socket, buf []byte, deadline time.Time) error {
	total := 0
	for total < len(buf) {
		n, err := sock.Receive(ctx, buf[total:], deadline)
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// New constructs a Config from the shared framing configuration knobs,
// defaulting IdleTimeout to a conservative 200ms when unset.
func New(sizePrefixEnabled bool, idleTimeout time.Duration) Config {
	if idleTimeout <= 0 {
		idleTimeout = 200 * time.Millisecond
	}
	return Config{SizePrefixEnabled: sizePrefixEnabled, IdleTimeout: idleTimeout}
}
