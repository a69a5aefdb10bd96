package iopoll

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherEmitsCreateEvent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(WatcherConfig{DebounceWindow: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.Add(dir))

	target := filepath.Join(dir, "new-file.txt")
	require.NoError(t, os.WriteFile(target, []byte("hi"), 0o644))

	select {
	case ev := <-w.Events():
		require.Equal(t, target, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never emitted an event for the new file")
	}
}

func TestWatcherIgnoresExcludedPatterns(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(WatcherConfig{
		DebounceWindow:  10 * time.Millisecond,
		ExcludePatterns: []string{"*.tmp"},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.Add(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.tmp"), []byte("x"), 0o644))

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherRemoveStopsEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(WatcherConfig{DebounceWindow: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.Add(dir))
	require.NoError(t, w.Remove(dir))
	require.Empty(t, w.WatchedPaths())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "after-remove.txt"), []byte("x"), 0o644))
	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event after Remove, got %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}
