package socket

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// tlsSocket wraps a *tls.Conn. SendFile falls back to a buffered
// read+Send since the kernel sendfile syscall cannot traverse the TLS
// record layer (spec.md §4.G).
type tlsSocket struct {
	*connSocket
	cfg *tls.Config
}

// NewTLSSocket returns a Socket that dials then performs a TLS
// handshake with cfg.
func NewTLSSocket(cfg *tls.Config) Socket {
	return &tlsSocket{connSocket: newDialSocket("tcp"), cfg: cfg}
}

// FromAcceptedTLSConn wraps a *tls.Conn returned by a TLS listener's
// Accept.
func FromAcceptedTLSConn(conn *tls.Conn) Socket {
	return &tlsSocket{connSocket: newConnSocket(conn)}
}

func (s *tlsSocket) Connect(ctx context.Context, addr string, deadline time.Time) error {
	if err := s.connSocket.Connect(ctx, addr, deadline); err != nil {
		return err
	}
	tconn := tls.Client(s.connSocket.conn, s.cfg)
	if !deadline.IsZero() {
		if err := tconn.SetDeadline(deadline); err != nil {
			return errs.Resource("socket", "failed to set TLS handshake deadline", err)
		}
	}
	if err := tconn.HandshakeContext(ctx); err != nil {
		return errs.New("TRANSIENT_IO", "socket", "TLS handshake failed", err)
	}
	s.connSocket.conn = tconn
	return nil
}

func (s *tlsSocket) SendFile(ctx context.Context, f *os.File, offset, length int64, deadline time.Time) (int64, error) {
	if err := s.applyDeadline(deadline, s.conn.SetWriteDeadline); err != nil {
		return 0, err
	}
	section := io.NewSectionReader(f, offset, length)
	n, err := io.Copy(s.conn, section)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, errs.Timeout("socket", "sendfile (TLS fallback) deadline exceeded")
		}
		return n, errs.New("TRANSIENT_IO", "socket", "sendfile (TLS fallback) failed", err)
	}
	return n, nil
}

func (s *tlsSocket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *tlsSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
