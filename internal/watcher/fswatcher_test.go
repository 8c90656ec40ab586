package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, locator Locator) (*FSWatcher, context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := NewFSWatcher(locator, Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// fsnotify registration happens inside Start
	time.Sleep(100 * time.Millisecond)
	return w, cancel, done
}

func TestFSWatcher_SaveBecomesIndexRequest(t *testing.T) {
	// Given: a watcher feeding a dispatcher
	locator, root := newLocator(t)
	w, cancel, done := startWatcher(t, locator)
	defer cancel()
	sink := &recordingSink{}
	go func() { _ = NewDispatcher(locator, sink, nil).Run(context.Background(), w.Events()) }()

	// When: a document is saved
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.md"), []byte("# Note"), 0o644))

	// Then: the sink receives an index request for it
	require.Eventually(t, func() bool {
		for _, r := range sink.Requests() {
			if r.op == "index" && r.target == "docs:/note.md" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	// And: cancelling stops the watcher and closes Events
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Events():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFSWatcher_DeleteBecomesUnindexRequest(t *testing.T) {
	// Given: an existing document under watch
	locator, root := newLocator(t)
	path := filepath.Join(root, "gone.md")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))
	w, cancel, _ := startWatcher(t, locator)
	defer cancel()
	sink := &recordingSink{}
	go func() { _ = NewDispatcher(locator, sink, nil).Run(context.Background(), w.Events()) }()

	// When: it is removed
	require.NoError(t, os.Remove(path))

	// Then: the sink receives an unindex request
	require.Eventually(t, func() bool {
		for _, r := range sink.Requests() {
			if r.op == "unindex" && r.target == "docs:/gone.md" && !r.recursive {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFSWatcher_IgnoresHiddenAndForeignFiles(t *testing.T) {
	// Given: a watcher
	locator, root := newLocator(t)
	w, cancel, _ := startWatcher(t, locator)
	defer cancel()

	// When: only a hidden file and a non-document file change
	require.NoError(t, os.WriteFile(filepath.Join(root, ".swap.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build.go"), []byte("x"), 0o644))

	// Then: no batch is published
	select {
	case batch := <-w.Events():
		t.Fatalf("unexpected batch: %v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFSWatcher_StartTwice(t *testing.T) {
	// Given: a running watcher
	locator, _ := newLocator(t)
	w, cancel, _ := startWatcher(t, locator)
	defer cancel()

	// When/Then: a second Start is refused
	require.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
