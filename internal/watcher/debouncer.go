package watcher

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so an editor's save burst becomes a
// single indexing request. Events for the same path within the window are
// merged according to these rules:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// RENAME behaves like DELETE for the path it was reported on.
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a new debouncer with the given window duration.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 1),
		stopCh:  make(chan struct{}),
	}
}

// Add adds an event to be debounced.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(existing, event)
		if !keep {
			delete(d.pending, event.Path)
		} else {
			existing.event = merged
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges next into existing. keep is false when the two cancel out.
func coalesce(existing *pendingEvent, next FileEvent) (merged FileEvent, keep bool) {
	switch {
	case existing.firstOp == OpCreate && next.Operation == OpModify:
		return existing.event, true
	case existing.firstOp == OpCreate && next.Operation.Removes():
		return FileEvent{}, false
	case existing.firstOp.Removes() && (next.Operation == OpCreate || next.Operation == OpModify):
		next.Operation = OpModify
		return next, true
	default:
		return next, true
	}
}

// flush emits all pending events as one batch sorted by path. It blocks
// while the consumer is behind, which in turn holds back newer batches.
func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)
	d.mu.Unlock()

	slices.SortFunc(events, func(a, b FileEvent) int { return cmp.Compare(a.Path, b.Path) })

	select {
	case d.output <- events:
	case <-d.stopCh:
	}
}

// Output returns the channel of debounced batches. It is never closed;
// select on Done to observe Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Done is closed by Stop.
func (d *Debouncer) Done() <-chan struct{} {
	return d.stopCh
}

// Pending returns the number of paths waiting for the window to elapse.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop stops the debouncer and discards pending events.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
}
