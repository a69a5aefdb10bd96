package ipc

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/TheEntropyCollective/scoro/internal/logging"
)

// Supervisor receives SIGCHLD, SIGTERM and SIGINT on an os/signal
// channel (Go's runtime takes the place of a self-pipe) and drives the
// reap/forward loop of spec.md §4.F: on SIGCHLD it reaps one child; on
// SIGTERM or SIGINT it forwards SIGTERM to each active worker and then
// waits for all of them to exit before Run returns.
type Supervisor struct {
	fleet *Fleet
	log   *logging.Logger

	sigCh  chan os.Signal
	stopCh chan struct{}
	doneCh chan struct{}

	mu     sync.Mutex
	onExit func()
}

// NewSupervisor wires a Supervisor to fleet, ready to Run.
func NewSupervisor(fleet *Fleet, log *logging.Logger) *Supervisor {
	if log == nil {
		log = logging.NewLogger(logging.DefaultConfig())
	}
	s := &Supervisor{
		fleet:  fleet,
		log:    log.WithComponent("ipc.supervisor"),
		sigCh:  make(chan os.Signal, 8),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	signal.Notify(s.sigCh, syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGINT)
	return s
}

// OnExit registers fn to run once, right before Run returns.
func (s *Supervisor) OnExit(fn func()) {
	s.mu.Lock()
	s.onExit = fn
	s.mu.Unlock()
}

// Run blocks, reaping SIGCHLDs and forwarding SIGTERM/SIGINT to the
// fleet on fatal signals, until Stop is called or every worker exits on
// its own.
func (s *Supervisor) Run() {
	defer close(s.doneCh)
	waitDone := make(chan struct{})
	go func() {
		s.fleet.Wait()
		close(waitDone)
	}()

	for {
		select {
		case <-s.stopCh:
			s.fleet.Terminate()
			<-waitDone
			s.runOnExit()
			return
		case <-waitDone:
			s.runOnExit()
			return
		case sig := <-s.sigCh:
			switch sig {
			case syscall.SIGCHLD:
				s.reapOne()
			case syscall.SIGTERM, syscall.SIGINT:
				s.log.Infof("received %v, forwarding SIGTERM to fleet", sig)
				s.fleet.Terminate()
				<-waitDone
				s.runOnExit()
				return
			}
		}
	}
}

func (s *Supervisor) reapOne() {
	var status syscall.WaitStatus
	pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
	if err != nil || pid <= 0 {
		return
	}
	s.log.Infof("reaped child pid %d (status %v)", pid, status)
}

func (s *Supervisor) runOnExit() {
	s.mu.Lock()
	fn := s.onExit
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stop requests Run to terminate the fleet and return.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
