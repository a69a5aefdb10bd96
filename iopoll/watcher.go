package iopoll

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheEntropyCollective/scoro/internal/errs"
	"github.com/TheEntropyCollective/scoro/internal/logging"
)

// FSEventType classifies a debounced filesystem change (spec.md §4.J).
type FSEventType int

const (
	FSCreated FSEventType = iota
	FSModified
	FSDeleted
	FSRenamed
)

func (t FSEventType) String() string {
	switch t {
	case FSCreated:
		return "created"
	case FSModified:
		return "modified"
	case FSDeleted:
		return "deleted"
	case FSRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FSEvent is a single, debounced filesystem change delivered on
// Watcher.Events.
type FSEvent struct {
	Type      FSEventType
	Path      string
	IsDir     bool
	Timestamp time.Time
}

// WatcherConfig controls recursion, debounce, and path filtering.
type WatcherConfig struct {
	Recursive       bool
	DebounceWindow  time.Duration
	ExcludePatterns []string
	IncludePatterns []string
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 100 * time.Millisecond
	}
	return c
}

// Watcher wraps fsnotify with the debounced, recursive, filtered
// semantics spec.md §4.J asks of the async file watcher. It is the
// core-substrate adaptation of the host application's own
// pkg/sync.FileWatcher, generalized from that package's sync-session
// domain to a plain (type, path, timestamp) event stream any component
// (ipc, socket, server) can subscribe to.
type Watcher struct {
	fsw    *fsnotify.Watcher
	cfg    WatcherConfig
	log    *logging.Logger
	events chan FSEvent
	errors chan error

	mu      sync.RWMutex
	watched map[string]bool

	debounceMu sync.Mutex
	debounce   map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a Watcher and starts its event loop.
func NewWatcher(cfg WatcherConfig, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Resource("iopoll", "fsnotify.NewWatcher failed", err)
	}
	if log == nil {
		log = logging.NewLogger(logging.DefaultConfig())
	}
	log = log.WithComponent("watcher")

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsw:      fsw,
		cfg:      cfg.withDefaults(),
		log:      log,
		events:   make(chan FSEvent, 128),
		errors:   make(chan error, 16),
		watched:  make(map[string]bool),
		debounce: make(map[string]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
	go w.loop()
	return w, nil
}

// Events returns the channel of debounced filesystem events.
func (w *Watcher) Events() <-chan FSEvent { return w.events }

// Errors returns the channel of watcher-internal errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Add begins watching path, recursing into subdirectories when
// cfg.Recursive is set.
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watched[path] {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return errs.Resource("iopoll", "fsnotify.Add failed for "+path, err)
	}
	w.watched[path] = true

	if !w.cfg.Recursive {
		return nil
	}
	return filepath.Walk(path, func(sub string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && sub != path && !w.shouldIgnore(sub) {
			if err := w.fsw.Add(sub); err != nil {
				return errs.Resource("iopoll", "fsnotify.Add failed for "+sub, err)
			}
			w.watched[sub] = true
		}
		return nil
	})
}

// Remove stops watching path and any subdirectories previously added
// under it.
func (w *Watcher) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watched[path] {
		return nil
	}
	if err := w.fsw.Remove(path); err != nil {
		return errs.Resource("iopoll", "fsnotify.Remove failed for "+path, err)
	}
	delete(w.watched, path)

	prefix := path + string(filepath.Separator)
	for p := range w.watched {
		if strings.HasPrefix(p, prefix) {
			_ = w.fsw.Remove(p)
			delete(w.watched, p)
		}
	}
	return nil
}

// WatchedPaths returns a snapshot of currently watched paths.
func (w *Watcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.watched))
	for p := range w.watched {
		out = append(out, p)
	}
	return out
}

// Close stops the watcher and closes its channels.
func (w *Watcher) Close() error {
	w.cancel()
	w.debounceMu.Lock()
	for _, t := range w.debounce {
		t.Stop()
	}
	w.debounceMu.Unlock()

	if err := w.fsw.Close(); err != nil {
		return errs.Resource("iopoll", "fsnotify.Close failed", err)
	}
	close(w.events)
	close(w.errors)
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.shouldIgnore(ev.Name) {
		return
	}

	w.debounceMu.Lock()
	if t, ok := w.debounce[ev.Name]; ok {
		t.Stop()
	}
	w.debounce[ev.Name] = time.AfterFunc(w.cfg.DebounceWindow, func() {
		w.emit(ev)
		w.debounceMu.Lock()
		delete(w.debounce, ev.Name)
		w.debounceMu.Unlock()
	})
	w.debounceMu.Unlock()
}

func (w *Watcher) emit(ev fsnotify.Event) {
	var kind FSEventType
	switch {
	case ev.Has(fsnotify.Create):
		kind = FSCreated
	case ev.Has(fsnotify.Remove):
		kind = FSDeleted
	case ev.Has(fsnotify.Rename):
		kind = FSRenamed
	default:
		kind = FSModified
	}

	out := FSEvent{Type: kind, Path: ev.Name, Timestamp: time.Now()}

	if kind == FSCreated && w.cfg.Recursive {
		w.mu.Lock()
		if !w.watched[ev.Name] {
			if err := w.fsw.Add(ev.Name); err == nil {
				w.watched[ev.Name] = true
				out.IsDir = true
			}
		}
		w.mu.Unlock()
	}

	select {
	case w.events <- out:
	case <-w.ctx.Done():
	default:
		select {
		case w.errors <- errs.Resource("iopoll", "event channel full, dropping event for "+ev.Name, nil):
		default:
		}
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	name := filepath.Base(path)
	for _, pattern := range w.cfg.ExcludePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	if len(w.cfg.IncludePatterns) > 0 {
		for _, pattern := range w.cfg.IncludePatterns {
			if matched, _ := filepath.Match(pattern, name); matched {
				return false
			}
		}
		return true
	}
	return false
}
