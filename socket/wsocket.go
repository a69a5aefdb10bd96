package socket

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// wsSocket adapts a *websocket.Conn (the teacher's own wsUpgrader/
// wsClients pattern from its announce-webui commands) onto the Socket
// contract: each binary WS message is treated as an opaque byte run,
// and a per-socket read buffer lets Receive/ReceiveUntil/Read satisfy
// partial reads the same way a stream socket would.
type wsSocket struct {
	conn    *websocket.Conn
	dialer  *websocket.Dialer
	closed  bool
	readBuf bytes.Buffer
}

// NewWebSocket returns a Socket ready to Connect as a WS client.
func NewWebSocket() Socket {
	return &wsSocket{dialer: websocket.DefaultDialer}
}

// FromUpgradedConn wraps a server-side *websocket.Conn returned by
// websocket.Upgrader.Upgrade.
func FromUpgradedConn(conn *websocket.Conn) Socket {
	return &wsSocket{conn: conn}
}

func (s *wsSocket) Connect(ctx context.Context, addr string, deadline time.Time) error {
	if s.conn != nil {
		return errs.Programmer("socket", "Connect called on an already-connected WS socket")
	}
	u := addr
	if parsed, err := url.Parse(addr); err != nil || parsed.Scheme == "" {
		u = "ws://" + addr
	}
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	conn, _, err := s.dialer.DialContext(ctx, u, http.Header{})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.Timeout("socket", "WS connect deadline exceeded")
		}
		return errs.New("TRANSIENT_IO", "socket", "WS dial failed", err)
	}
	s.conn = conn
	return nil
}

func (s *wsSocket) Send(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	if err := s.applyWriteDeadline(deadline); err != nil {
		return 0, err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return 0, s.classifyErr(err, true)
	}
	return len(buf), nil
}

func (s *wsSocket) SendFile(ctx context.Context, f *os.File, offset, length int64, deadline time.Time) (int64, error) {
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && int64(n) != length {
		return int64(n), errs.Resource("socket", "SendFile read failed on WS socket", err)
	}
	sent, sendErr := s.Send(ctx, buf[:n], deadline)
	return int64(sent), sendErr
}

func (s *wsSocket) Flush(ctx context.Context, deadline time.Time) error { return nil }

func (s *wsSocket) Receive(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	if err := s.fillReadBuf(deadline); err != nil && s.readBuf.Len() == 0 {
		return 0, err
	}
	return s.readBuf.Read(buf)
}

func (s *wsSocket) ReceiveUntil(ctx context.Context, buf []byte, delims []byte, deadline time.Time) (int, error) {
	total := 0
	for total < len(buf) {
		if s.readBuf.Len() == 0 {
			if err := s.fillReadBuf(deadline); err != nil {
				return total, err
			}
		}
		b, err := s.readBuf.ReadByte()
		if err != nil {
			continue
		}
		buf[total] = b
		total++
		if bytes.IndexByte(delims, b) >= 0 {
			return total, nil
		}
	}
	return total, errs.Protocol("socket", "ReceiveUntil exhausted buffer before seeing a delimiter")
}

func (s *wsSocket) Read(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	if s.readBuf.Len() == 0 {
		if err := s.fillReadBuf(deadline); err != nil {
			return 0, err
		}
	}
	return s.readBuf.Read(buf)
}

func (s *wsSocket) fillReadBuf(deadline time.Time) error {
	if err := s.applyReadDeadline(deadline); err != nil {
		return err
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return s.classifyErr(err, false)
	}
	s.readBuf.Write(data)
	return nil
}

func (s *wsSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(50*time.Millisecond))
	return s.conn.Close()
}

func (s *wsSocket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *wsSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *wsSocket) applyWriteDeadline(deadline time.Time) error {
	if deadline.IsZero() {
		return s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.SetWriteDeadline(deadline)
}

func (s *wsSocket) applyReadDeadline(deadline time.Time) error {
	if deadline.IsZero() {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.SetReadDeadline(deadline)
}

func (s *wsSocket) classifyErr(err error, writing bool) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errs.Timeout("socket", "WS deadline exceeded")
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		_ = s.Close()
		return errs.PeerClosed("socket", "WS peer closed the connection", err)
	}
	verb := "read"
	if writing {
		verb = "write"
	}
	return errs.New("TRANSIENT_IO", "socket", "WS "+verb+" failed", err)
}
