// Package iopoll implements the I/O Poll (spec.md §4.D) and File Watcher
// (spec.md §4.J) substrate: a single epoll instance multiplexes socket
// readiness across all registered file descriptors and hands ready
// callbacks back to a scheduler.Scheduler, exactly as the scheduler
// hands expired timers back (timer.Wheel is iopoll's sibling).
package iopoll

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/TheEntropyCollective/scoro/internal/config"
	"github.com/TheEntropyCollective/scoro/internal/errs"
	"github.com/TheEntropyCollective/scoro/internal/logging"
	"github.com/TheEntropyCollective/scoro/scheduler"
)

// Interest describes which readiness edges a registration cares about.
type Interest uint32

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Callback is invoked on the owning scheduler when a registered fd
// becomes ready for the given Interest bits.
type Callback func(ready Interest)

type registration struct {
	fd  int
	cb  Callback
	pri int
}

// Poll owns one epoll instance (Linux) and a background goroutine that
// waits on it, dispatching ready callbacks through a scheduler.Scheduler
// so they run on a worker goroutine rather than the poll loop itself.
type Poll struct {
	epfd int
	log  *logging.Logger

	mu   sync.Mutex
	regs map[int]*registration

	sched *scheduler.Scheduler

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates and starts a Poll backed by its own epoll_create1 fd.
func New(cfg config.IOPollConfig, sched *scheduler.Scheduler, log *logging.Logger) (*Poll, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, errs.Resource("iopoll", "epoll_create1 failed", err)
	}
	if log == nil {
		log = logging.NewLogger(logging.DefaultConfig())
	}
	log = log.WithComponent("iopoll")

	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 256
	}

	p := &Poll{
		epfd:   epfd,
		log:    log,
		regs:   make(map[int]*registration),
		sched:  sched,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go p.loop(maxEvents)
	return p, nil
}

// Register arms fd for the given interest; cb fires (via the scheduler,
// at pri) whenever any of the requested edges is ready. Re-registering
// an already-watched fd replaces its callback and interest set.
func (p *Poll) Register(fd int, interest Interest, pri int, cb Callback) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	if interest&InterestRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}

	p.mu.Lock()
	_, exists := p.regs[fd]
	p.regs[fd] = &registration{fd: fd, cb: cb, pri: pri}
	p.mu.Unlock()

	op := unix.EPOLL_CTL_ADD
	if exists {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		p.mu.Lock()
		delete(p.regs, fd)
		p.mu.Unlock()
		return errs.Resource("iopoll", fmt.Sprintf("epoll_ctl failed for fd %d", fd), err)
	}
	return nil
}

// Unregister removes fd from the epoll set. It is a no-op if fd was
// never registered.
func (p *Poll) Unregister(fd int) {
	p.mu.Lock()
	_, ok := p.regs[fd]
	delete(p.regs, fd)
	p.mu.Unlock()
	if ok {
		_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
}

func (p *Poll) loop(maxEvents int) {
	defer close(p.doneCh)
	events := make([]unix.EpollEvent, maxEvents)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		n, err := unix.EpollWait(p.epfd, events, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.log.Errorf("epoll_wait failed: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ready := Interest(0)
			if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				ready |= InterestRead
			}
			if events[i].Events&unix.EPOLLOUT != 0 {
				ready |= InterestWrite
			}

			p.mu.Lock()
			reg, ok := p.regs[fd]
			p.mu.Unlock()
			if !ok {
				continue
			}

			cb := reg.cb
			pri := reg.pri
			if p.sched != nil {
				p.sched.Spawn(func() { cb(ready) }, pri)
			} else {
				cb(ready)
			}
		}
	}
}

// Close stops the poll loop and closes the epoll fd.
func (p *Poll) Close() error {
	close(p.stopCh)
	<-p.doneCh
	return unix.Close(p.epfd)
}
