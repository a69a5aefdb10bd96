package ipc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// sharedWordSize is the size, in bytes, of one atomic word in the shared
// region: one per worker's pipe-serialization spin lock, plus a fixed bank of
// general-purpose spin_lock(id) words.
const sharedWordSize = 4

// SpinLockCount is the number of generic, caller-addressable spin locks
// exposed via spin_lock(id)/spin_unlock(id) (spec.md §6), independent of
// the per-worker pipe-serialization locks.
const SpinLockCount = 64

// SharedRegion is the mmap'd MAP_SHARED memory backing cross-process
// synchronization: spec.md §4.F's "shared memory table: counters
// modified only with atomics; per-entry locks for state transitions"
// (spec.md §5). It is created by the supervisor over a memfd and
// inherited by every worker via Cmd.ExtraFiles, since Go has no portable
// fork() to simply share the parent's address space (spec.md §6 Open
// Question, resolved in DESIGN.md).
type SharedRegion struct {
	fd   int
	mem  []byte
	nPeerLocks int
}

func layoutSize(nWorkers int) int {
	return (nWorkers+SpinLockCount)*sharedWordSize
}

// NewSharedRegion creates a fresh anonymous shared region sized for
// nWorkers pipe-serialization locks plus the fixed spin-lock bank.
func NewSharedRegion(nWorkers int) (*SharedRegion, error) {
	fd, err := unix.MemfdCreate("scoro-ipc-shm", 0)
	if err != nil {
		return nil, errs.Resource("ipc", "memfd_create failed", err)
	}
	size := layoutSize(nWorkers)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, errs.Resource("ipc", "ftruncate on shared region failed", err)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errs.Resource("ipc", "mmap of shared region failed", err)
	}
	return &SharedRegion{fd: fd, mem: mem, nPeerLocks: nWorkers}, nil
}

// OpenSharedRegion maps an inherited shared-region fd (a worker's view
// of the region its supervisor created).
func OpenSharedRegion(fd, nWorkers int) (*SharedRegion, error) {
	size := layoutSize(nWorkers)
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errs.Resource("ipc", "mmap of inherited shared region failed", err)
	}
	return &SharedRegion{fd: fd, mem: mem, nPeerLocks: nWorkers}, nil
}

// Fd returns the underlying memfd, for passing via Cmd.ExtraFiles.
func (s *SharedRegion) Fd() int { return s.fd }

// Close unmaps the region (the fd itself is owned and closed by whoever
// opened it: the supervisor's *os.File wrapper, or the worker's).
func (s *SharedRegion) Close() error {
	if err := unix.Munmap(s.mem); err != nil {
		return errs.Resource("ipc", "munmap of shared region failed", err)
	}
	return nil
}

func (s *SharedRegion) wordAt(index int) *uint32 {
	off := index * sharedWordSize
	return (*uint32)(unsafe.Pointer(&s.mem[off]))
}

// peerLockWord returns the shared word backing worker id's pipe
// serialization lock.
func (s *SharedRegion) peerLockWord(workerID int) (*uint32, error) {
	if workerID < 0 || workerID >= s.nPeerLocks {
		return nil, errs.Programmer("ipc", fmt.Sprintf("worker id %d out of range for shared region", workerID))
	}
	return s.wordAt(workerID), nil
}

// spinLockWord returns the shared word backing generic spin lock id.
func (s *SharedRegion) spinLockWord(id int) (*uint32, error) {
	if id < 0 || id >= SpinLockCount {
		return nil, errs.Programmer("ipc", fmt.Sprintf("spin lock id %d out of range", id))
	}
	return s.wordAt(s.nPeerLocks + id), nil
}
