// Package socket implements the uniform transport contract of spec.md
// §4.G: the RPC framer (framing/rpc) and the accept loop (server) speak
// through the Socket interface rather than a concrete net.Conn. The HTTP
// parser reads from a plain io.Reader and the IPC pubsub bridge uses
// libp2p streams; neither goes through Socket.
package socket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// Socket is the transport-agnostic contract spec.md §4.G defines. All
// deadlines are absolute; a zero Deadline means no timeout.
type Socket interface {
	// Connect dials addr, returning once connected or deadline passes.
	Connect(ctx context.Context, addr string, deadline time.Time) error
	// Send writes buf, returning the number of bytes actually sent.
	// Zero bytes with a nil error never happens; errors are always
	// reported through the returned error.
	Send(ctx context.Context, buf []byte, deadline time.Time) (int, error)
	// SendFile streams length bytes of f starting at offset. TLS sockets
	// fall back to a buffered read+Send since the kernel sendfile
	// syscall cannot traverse the TLS record layer.
	SendFile(ctx context.Context, f *os.File, offset, length int64, deadline time.Time) (int64, error)
	// Flush drains any buffered writes.
	Flush(ctx context.Context, deadline time.Time) error
	// Receive reads at least one byte, up to len(buf), returning the
	// count actually read.
	Receive(ctx context.Context, buf []byte, deadline time.Time) (int, error)
	// ReceiveUntil fills buf until one of the delimiter bytes is seen or
	// buf is exhausted, returning the count read including the
	// delimiter when found.
	ReceiveUntil(ctx context.Context, buf []byte, delims []byte, deadline time.Time) (int, error)
	// Read is a best-effort fill: it returns whatever is immediately
	// available, up to len(buf), without requiring a full buffer.
	Read(ctx context.Context, buf []byte, deadline time.Time) (int, error)
	// Close is idempotent: it flushes with a short deadline, then closes
	// the underlying transport.
	Close() error
	// LocalAddr/RemoteAddr mirror net.Conn for diagnostics and Monitor.
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// connSocket implements Socket directly atop a net.Conn; it backs the
// TCP and Unix-domain transports, and is embedded by the TLS socket.
// network is the net.Dial network name ("tcp", "unix") used by Connect;
// connSocket instances produced by a Server's accept loop already carry
// conn and never call Connect.
type connSocket struct {
	network string
	conn    net.Conn
	closed  bool
}

// newConnSocket wraps an already-established conn (e.g. from Accept).
func newConnSocket(conn net.Conn) *connSocket {
	return &connSocket{conn: conn}
}

// newDialSocket returns a not-yet-connected socket for the given dial
// network; Connect must be called before any other operation.
func newDialSocket(network string) *connSocket {
	return &connSocket{network: network}
}

func (s *connSocket) Connect(ctx context.Context, addr string, deadline time.Time) error {
	if s.conn != nil {
		return errs.Programmer("socket", "Connect called on an already-connected socket")
	}
	var d net.Dialer
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	conn, err := d.DialContext(ctx, s.network, addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.Timeout("socket", "connect deadline exceeded")
		}
		return errs.New("TRANSIENT_IO", "socket", "connect failed", err)
	}
	s.conn = conn
	return nil
}

func (s *connSocket) Send(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	if err := s.applyDeadline(deadline, s.conn.SetWriteDeadline); err != nil {
		return 0, err
	}
	n, err := s.conn.Write(buf)
	if err != nil {
		return n, s.classifyWriteErr(err)
	}
	return n, nil
}

func (s *connSocket) SendFile(ctx context.Context, f *os.File, offset, length int64, deadline time.Time) (int64, error) {
	if err := s.applyDeadline(deadline, s.conn.SetWriteDeadline); err != nil {
		return 0, err
	}
	section := io.NewSectionReader(f, offset, length)
	n, err := io.Copy(s.conn, section)
	if err != nil {
		return n, s.classifyWriteErr(err)
	}
	return n, nil
}

func (s *connSocket) Flush(ctx context.Context, deadline time.Time) error {
	return nil // net.Conn has no user-space write buffer to drain
}

func (s *connSocket) Receive(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	if len(buf) == 0 {
		return 0, errs.Programmer("socket", "Receive called with an empty buffer")
	}
	if err := s.applyDeadline(deadline, s.conn.SetReadDeadline); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		return n, s.classifyReadErr(err)
	}
	return n, nil
}

func (s *connSocket) ReceiveUntil(ctx context.Context, buf []byte, delims []byte, deadline time.Time) (int, error) {
	if err := s.applyDeadline(deadline, s.conn.SetReadDeadline); err != nil {
		return 0, err
	}
	total := 0
	for total < len(buf) {
		n, err := s.conn.Read(buf[total : total+1])
		if err != nil {
			return total, s.classifyReadErr(err)
		}
		total += n
		if n > 0 && bytes.IndexByte(delims, buf[total-1]) >= 0 {
			return total, nil
		}
	}
	return total, errs.Protocol("socket", "ReceiveUntil exhausted buffer before seeing a delimiter")
}

func (s *connSocket) Read(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	if err := s.applyDeadline(deadline, s.conn.SetReadDeadline); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(buf)
	if err != nil && n == 0 {
		return 0, s.classifyReadErr(err)
	}
	return n, nil
}

func (s *connSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	return s.conn.Close()
}

func (s *connSocket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *connSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *connSocket) applyDeadline(deadline time.Time, set func(time.Time) error) error {
	if deadline.IsZero() {
		return set(time.Time{})
	}
	return set(deadline)
}

func (s *connSocket) classifyWriteErr(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errs.Timeout("socket", "write deadline exceeded")
	}
	if isPeerClosed(err) {
		_ = s.Close()
		return errs.PeerClosed("socket", "peer closed during write", err)
	}
	return errs.New("TRANSIENT_IO", "socket", "write failed", err)
}

func (s *connSocket) classifyReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		_ = s.Close()
		return errs.PeerClosed("socket", "peer closed the connection", err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errs.Timeout("socket", "read deadline exceeded")
	}
	return errs.New("TRANSIENT_IO", "socket", "read failed", err)
}

func isPeerClosed(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false
	}
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
