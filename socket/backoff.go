package socket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// breakerState is the circuit state guarding repeated Connect attempts
// against a single remote address, adapted from the host application's
// resilience.CircuitBreaker: failed connects trip the circuit open,
// a RecoveryTimeout later allows one probe (half-open), and enough
// consecutive successes close it again.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// BackoffConfig controls a ConnectBreaker's thresholds.
type BackoffConfig struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	MaxProbes        int64
}

// DefaultBackoffConfig mirrors the host application's
// DefaultCircuitBreakerConfig defaults, tuned for connect attempts
// rather than request/response calls.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		MaxProbes:        1,
	}
}

// ConnectBreaker wraps repeated Socket.Connect calls against one logical
// peer address, refusing to dial while open instead of piling up
// redundant timeouts (spec.md §4.G's connect contract plus the ambient
// resilience pattern the host application applies elsewhere).
type ConnectBreaker struct {
	cfg BackoffConfig

	mu               sync.Mutex
	state            breakerState
	stateChangedAt   time.Time
	consecutiveFails int64
	successesInHalf  int64
	probesInHalf     int64
}

// NewConnectBreaker creates a ConnectBreaker in the closed state.
func NewConnectBreaker(cfg BackoffConfig) *ConnectBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBackoffConfig()
	}
	return &ConnectBreaker{cfg: cfg, stateChangedAt: time.Now()}
}

// Connect attempts sock.Connect(ctx, addr, deadline) if the breaker
// currently allows it, recording the outcome.
func (b *ConnectBreaker) Connect(ctx context.Context, sock Socket, addr string, deadline time.Time) error {
	if !b.allow() {
		return errs.New("TRANSIENT_IO", "socket", "connect breaker open for "+addr, nil)
	}
	err := sock.Connect(ctx, addr, deadline)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *ConnectBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.stateChangedAt) >= b.cfg.RecoveryTimeout {
			b.setStateLocked(breakerHalfOpen)
			atomic.AddInt64(&b.probesInHalf, 1)
			return true
		}
		return false
	case breakerHalfOpen:
		if atomic.LoadInt64(&b.probesInHalf) < b.cfg.MaxProbes {
			atomic.AddInt64(&b.probesInHalf, 1)
			return true
		}
		return false
	default:
		return false
	}
}

func (b *ConnectBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	atomic.StoreInt64(&b.consecutiveFails, 0)
	if b.state == breakerHalfOpen {
		atomic.AddInt64(&b.successesInHalf, 1)
		if atomic.LoadInt64(&b.successesInHalf) >= int64(b.cfg.SuccessThreshold) {
			b.setStateLocked(breakerClosed)
		}
	}
}

func (b *ConnectBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerClosed:
		n := atomic.AddInt64(&b.consecutiveFails, 1)
		if n >= int64(b.cfg.FailureThreshold) {
			b.setStateLocked(breakerOpen)
		}
	case breakerHalfOpen:
		b.setStateLocked(breakerOpen)
	}
}

func (b *ConnectBreaker) setStateLocked(s breakerState) {
	b.state = s
	b.stateChangedAt = time.Now()
	atomic.StoreInt64(&b.consecutiveFails, 0)
	atomic.StoreInt64(&b.successesInHalf, 0)
	atomic.StoreInt64(&b.probesInHalf, 0)
}

// State reports the breaker's current state, for diagnostics.
func (b *ConnectBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
