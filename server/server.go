// Package server implements the generic accept loop of spec.md §4.H: bind,
// listen, accept, and dispatch each accepted connection onto a worker pool
// as a socket.Socket, without knowing anything about the protocol spoken
// over it (HTTP, SMTP, raw RPC framing, ...).
//
// It generalizes the host application's own worker-pool dispatch pattern
// (scheduler.Scheduler.Spawn) to a socket-accepting front end, the way the
// teacher's cmd/noisefs-webui wires an http.Server's Handler onto a
// goroutine per connection but with an explicit priority-aware pool
// instead of the standard library's unbounded goroutine-per-request.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/config"
	"github.com/TheEntropyCollective/scoro/internal/errs"
	"github.com/TheEntropyCollective/scoro/internal/logging"
	"github.com/TheEntropyCollective/scoro/scheduler"
	"github.com/TheEntropyCollective/scoro/socket"
)

// ConnectionHandler processes one accepted connection. It owns sock for
// the lifetime of the call and must Close it before returning.
type ConnectionHandler func(ctx context.Context, sock socket.Socket)

// Server owns a listening socket, a ConnectionHandler, and a Scheduler
// used as the dispatch pool (spec.md §4.H names a generic ThreadPool;
// scoro reuses its own cooperative Scheduler so accepted connections
// cooperate with the same priority levels as everything else in the
// runtime).
type Server struct {
	cfg     config.ServerConfig
	handler ConnectionHandler
	sched   *scheduler.Scheduler
	log     *logging.Logger
	tlsCfg  *tls.Config

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Server bound to cfg.ListenAddr/cfg.Network. sched is used
// to dispatch accepted connections; the caller owns sched's lifecycle
// (Start/Stop) independently of the Server's own Serve/Shutdown.
func New(cfg config.ServerConfig, sched *scheduler.Scheduler, handler ConnectionHandler, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewLogger(logging.DefaultConfig())
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		sched:   sched,
		log:     log.WithComponent("server"),
	}
}

// WithTLS attaches a tls.Config used when cfg.Network == "tls". Must be
// called before Serve.
func (s *Server) WithTLS(tlsCfg *tls.Config) *Server {
	s.tlsCfg = tlsCfg
	return s
}

// Serve binds, listens, and runs accept → dispatch until ctx is canceled
// or Shutdown is called. Transient accept errors (spec.md §4.H: EAGAIN,
// EINTR, and anything net.Error reports as Temporary) are retried with an
// exponential backoff bounded by AcceptBackoffMin/Max; anything else stops
// the loop and is returned.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	backoff := s.cfg.AcceptBackoffMin
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if isTransientAcceptErr(err) {
				s.log.Warn("transient accept error, backing off", map[string]interface{}{
					"error":   err.Error(),
					"backoff": backoff.String(),
				})
				time.Sleep(backoff)
				backoff *= 2
				if backoff > s.cfg.AcceptBackoffMax {
					backoff = s.cfg.AcceptBackoffMax
				}
				continue
			}
			return errs.New("RESOURCE", "server", "fatal accept error", err)
		}
		backoff = s.cfg.AcceptBackoffMin
		s.dispatch(ctx, conn)
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn) {
	var sock socket.Socket
	if tconn, ok := conn.(*tls.Conn); ok {
		sock = socket.FromAcceptedTLSConn(tconn)
	} else {
		sock = socket.FromAcceptedConn(conn)
	}

	s.wg.Add(1)
	run := func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("connection handler panicked", map[string]interface{}{"panic": r})
			}
		}()
		s.handler(ctx, sock)
	}

	if s.sched != nil {
		s.sched.Spawn(run, 0)
		return
	}
	go run()
}

// Shutdown closes the listening socket and returns without waiting; the
// running Serve call waits for in-flight handlers (wg.Wait) before it
// returns. Idempotent.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) listen() (net.Listener, error) {
	switch s.cfg.Network {
	case "unix":
		ln, err := net.Listen("unix", s.cfg.ListenAddr)
		if err != nil {
			return nil, errs.Resource("server", "unix listen failed", err)
		}
		return ln, nil
	case "tls":
		if s.tlsCfg == nil {
			return nil, errs.Programmer("server", "tls network requires WithTLS before Serve")
		}
		ln, err := tls.Listen("tcp", s.cfg.ListenAddr, s.tlsCfg)
		if err != nil {
			return nil, errs.Resource("server", "tls listen failed", err)
		}
		return ln, nil
	default:
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return nil, errs.Resource("server", "tcp listen failed", err)
		}
		return ln, nil
	}
}

// Addr returns the listener's bound address, valid only after Serve has
// started listening. Useful for tests that bind to ":0".
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func isTransientAcceptErr(err error) bool {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
		return true
	}
	var te interface{ Temporary() bool }
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}
