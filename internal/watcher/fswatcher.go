package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher watches every repository root of a Locator with fsnotify and
// publishes debounced batches of FileEvents.
type FSWatcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	locator   Locator
	logger    *slog.Logger

	events  chan []FileEvent
	stopCh  chan struct{}
	stopped sync.Once
	started atomic.Bool

	errCount atomic.Uint64
}

// NewFSWatcher creates a watcher over all repositories known to locator.
func NewFSWatcher(locator Locator, opts Options) (*FSWatcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &FSWatcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		locator:   locator,
		logger:    slog.Default(),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		stopCh:    make(chan struct{}),
	}, nil
}

// SetLogger replaces the default logger. Call before Start.
func (w *FSWatcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// Start registers every repository root and runs the event loop until ctx is
// cancelled or Stop is called. The Events channel is closed when it returns.
func (w *FSWatcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already started")
	}

	var forwarder sync.WaitGroup
	forwarder.Add(1)
	go func() {
		defer forwarder.Done()
		defer close(w.events)
		w.forward(ctx)
	}()
	defer forwarder.Wait()
	defer w.Stop()

	for _, name := range w.locator.Repositories() {
		root, err := w.locator.Root(name)
		if err != nil {
			return err
		}
		if err := w.addRecursive(root); err != nil {
			return fmt.Errorf("watch repository %s: %w", name, err)
		}
	}
	w.logger.Info("watcher_started",
		slog.Int("repositories", len(w.locator.Repositories())),
		slog.Int("directories", len(w.fsWatcher.WatchList())))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.errCount.Add(1)
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// handle converts an fsnotify event and feeds the debouncer.
func (w *FSWatcher) handle(event fsnotify.Event) {
	if hidden(event.Name) {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
		if isDir {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("watch new folder failed",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
		}
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		// chmod
		return
	}

	if isDir && op == OpModify {
		return
	}
	if !isDir && !op.Removes() && !w.locator.Indexable(event.Name) {
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      filepath.Clean(event.Name),
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// forward moves debounced batches to the Events channel, blocking while the
// consumer is behind.
func (w *FSWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch := <-w.debouncer.Output():
			select {
			case w.events <- batch:
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}
	}
}

// addRecursive adds root and every non-hidden folder below it.
func (w *FSWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// hidden reports whether the base name of p starts with a dot.
// Events under hidden folders never arrive since those are not watched.
func hidden(p string) bool {
	return strings.HasPrefix(filepath.Base(p), ".")
}

// Events returns the channel of debounced batches. It is closed when Start
// returns.
func (w *FSWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the number of errors fsnotify reported.
func (w *FSWatcher) Errors() uint64 {
	return w.errCount.Load()
}

// Pending returns the number of paths waiting in the debounce window.
func (w *FSWatcher) Pending() int {
	return w.debouncer.Pending()
}

// Stop stops the watcher and releases resources. Safe to call multiple times.
func (w *FSWatcher) Stop() error {
	var err error
	w.stopped.Do(func() {
		close(w.stopCh)
		w.debouncer.Stop()
		err = w.fsWatcher.Close()
	})
	return err
}
