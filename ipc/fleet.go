package ipc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/TheEntropyCollective/scoro/internal/errs"
	"github.com/TheEntropyCollective/scoro/internal/logging"
)

// EntrypointFunc is a worker's entire work loop, matching spec.md's
// `spawn(work, post_spawn, parent_post_spawn)` from §6: work runs inside
// the child after it has installed PDEATHSIG and CPU affinity and
// entered its own copy of the registered entrypoint.
type EntrypointFunc func(w *Worker)

var (
	entrypointsMu sync.Mutex
	entrypoints   = map[string]EntrypointFunc{}
)

// RegisterEntrypoint makes fn runnable as a worker role by name. A
// binary that spawns a Fleet must register every role it uses before
// calling SpawnFleet, and must call RunIfWorker early in main() so a
// re-exec'd child recognizes its role instead of running the
// supervisor's own code path.
func RegisterEntrypoint(name string, fn EntrypointFunc) {
	entrypointsMu.Lock()
	defer entrypointsMu.Unlock()
	entrypoints[name] = fn
}

const (
	envWorkerRole  = "SCORO_IPC_WORKER_ROLE"
	envWorkerID    = "SCORO_IPC_WORKER_ID"
	envWorkerCount = "SCORO_IPC_WORKER_COUNT"
)

// fdBase is the lowest fd number a re-exec'd child finds its inherited
// pipe/shared-region fds at (ExtraFiles are always contiguous starting
// at fd 3, after stdin/stdout/stderr).
const fdBase = 3

// RunIfWorker checks whether the current process was re-exec'd as a
// Fleet worker (spec.md §6's Open Question on Go's lack of fork() is
// resolved this way — see DESIGN.md) and, if so, runs the registered
// entrypoint and never returns (it calls os.Exit). Call this as the
// first statement of main() in any binary that uses ipc.Fleet.
func RunIfWorker() {
	role := os.Getenv(envWorkerRole)
	if role == "" {
		return
	}
	fn, ok := lookupEntrypoint(role)
	if !ok {
		fmt.Fprintf(os.Stderr, "ipc: unknown worker role %q\n", role)
		os.Exit(1)
	}

	var id, n int
	fmt.Sscanf(os.Getenv(envWorkerID), "%d", &id)
	fmt.Sscanf(os.Getenv(envWorkerCount), "%d", &n)

	runtime.LockOSThread()
	if n > 0 {
		var set unix.CPUSet
		set.Set(id % runtime.NumCPU())
		_ = unix.SchedSetaffinity(0, &set) // best effort; not fatal if the kernel refuses
	}

	shm, err := OpenSharedRegion(fdBase, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipc: worker %d failed to open shared region: %v\n", id, err)
		os.Exit(1)
	}

	self := os.NewFile(uintptr(fdBase+1+id), fmt.Sprintf("worker-%d-inbound", id))
	peers := make(map[uint8]*peerLink, n-1)
	for i := 0; i < n; i++ {
		if i == id {
			continue
		}
		lock, err := shm.PeerLock(i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ipc: worker %d failed to open peer lock %d: %v\n", id, i, err)
			os.Exit(1)
		}
		f := os.NewFile(uintptr(fdBase+1+i), fmt.Sprintf("worker-%d-outbound", i))
		peers[uint8(i)] = &peerLink{tx: f, lock: lock}
	}

	handlers := NewHandlerTable()
	w := NewWorker(uint8(id), self, peers, handlers, nil)
	w.Start()
	fn(w)
	w.Stop()
	os.Exit(0)
}

func lookupEntrypoint(name string) (EntrypointFunc, bool) {
	entrypointsMu.Lock()
	defer entrypointsMu.Unlock()
	fn, ok := entrypoints[name]
	return fn, ok
}

// Fleet is the supervisor side of the IPC substrate: it owns the shared
// memory region and one pipe per worker, and spawns/reaps the worker
// processes (spec.md §4.F's initialization sequence).
type Fleet struct {
	log   *logging.Logger
	shm   *SharedRegion
	procs []*exec.Cmd
	n     int
}

// SpawnFleet starts n worker processes, each re-executing the current
// binary with entrypoint selected via environment variables, and wires
// every worker's inbound pipe read end plus every sibling's write end
// into its ExtraFiles in worker-index order.
func SpawnFleet(entrypoint string, n int, log *logging.Logger) (*Fleet, error) {
	if log == nil {
		log = logging.NewLogger(logging.DefaultConfig())
	}
	log = log.WithComponent("ipc.fleet")

	self, err := os.Executable()
	if err != nil {
		return nil, errs.Resource("ipc", "failed to resolve own executable for re-exec", err)
	}

	shm, err := NewSharedRegion(n)
	if err != nil {
		return nil, err
	}

	// One pipe per worker: readEnds[i] stays with worker i; writeEnds[i]
	// is handed to every sibling as their outbound link to worker i.
	readEnds := make([]*os.File, n)
	writeEnds := make([]*os.File, n)
	for i := 0; i < n; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, errs.Resource("ipc", "failed to create worker pipe", err)
		}
		readEnds[i] = r
		writeEnds[i] = w
	}

	f := &Fleet{log: log, shm: shm, n: n}
	shmFile := os.NewFile(uintptr(shm.Fd()), "scoro-ipc-shm")

	for i := 0; i < n; i++ {
		cmd := exec.Command(self)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%s=%s", envWorkerRole, entrypoint),
			fmt.Sprintf("%s=%d", envWorkerID, i),
			fmt.Sprintf("%s=%d", envWorkerCount, n),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		// fd layout: shm, then each worker's inbound/outbound end in
		// worker-index order, mirroring RunIfWorker's fdBase math.
		cmd.ExtraFiles = append(cmd.ExtraFiles, shmFile)
		for j := 0; j < n; j++ {
			if j == i {
				cmd.ExtraFiles = append(cmd.ExtraFiles, readEnds[j])
			} else {
				cmd.ExtraFiles = append(cmd.ExtraFiles, writeEnds[j])
			}
		}
		cmd.SysProcAttr = &unix.SysProcAttr{Pdeathsig: unix.SIGHUP}

		if err := cmd.Start(); err != nil {
			f.Terminate()
			return nil, errs.Resource("ipc", fmt.Sprintf("failed to spawn worker %d", i), err)
		}
		f.procs = append(f.procs, cmd)
	}

	// The supervisor doesn't read/write worker pipes directly; close its
	// copies now that every child has inherited what it needs.
	for _, r := range readEnds {
		_ = r.Close()
	}
	for _, w := range writeEnds {
		_ = w.Close()
	}

	return f, nil
}

// Wait blocks until every worker process has exited.
func (f *Fleet) Wait() []error {
	var errsOut []error
	for i, cmd := range f.procs {
		if err := cmd.Wait(); err != nil {
			errsOut = append(errsOut, fmt.Errorf("worker %d: %w", i, err))
		}
	}
	return errsOut
}

// Terminate sends SIGTERM to every still-running worker (spec.md §4.F's
// signal-handling rule: "on fatal signals it forwards SIGTERM to each
// active worker and then waits for all to exit").
func (f *Fleet) Terminate() {
	for _, cmd := range f.procs {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(unix.SIGTERM)
		}
	}
}

// Close releases the supervisor's shared-region mapping. Call only
// after Wait returns.
func (f *Fleet) Close() error {
	return f.shm.Close()
}
