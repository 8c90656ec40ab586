// Package queue implements the dedup blocking queue that feeds a worker lane.
//
// The queue holds two lists. Ready is a bounded FIFO of freshly submitted
// tasks. Awaiting collects tasks pulled from ready whose target was running
// at the time; it is unbounded and always scanned first, so a deferred task
// is dispatched as soon as its target is released.
//
// Take claims the returned task's key in the RunningSet before releasing the
// queue lock. The worker hands the key back with Done once execution ends.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/task"
)

// ErrClosed is returned once the queue stops handing out or accepting tasks.
var ErrClosed = errors.New(errors.ErrCodePoolStopped, "queue closed", nil)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100

type entry struct {
	task     task.Task
	enqueued time.Time
}

// Queue is a bounded blocking queue with per-target mutual exclusion.
type Queue struct {
	lane     string
	capacity int
	running  *RunningSet
	observer RejectionObserver
	logger   *slog.Logger

	mu       sync.Mutex
	notEmpty sync.Cond
	notFull  sync.Cond
	ready    []*entry
	awaiting []*entry
	queued   map[string]*entry

	admissionClosed bool
	closed          bool

	coalesced  atomic.Int64
	rejected   atomic.Int64
	violations atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithLane names the lane in logs and observer calls.
func WithLane(name string) Option {
	return func(q *Queue) { q.lane = name }
}

// WithRejectionObserver sets the observer notified by TryPut refusals.
func WithRejectionObserver(obs RejectionObserver) Option {
	return func(q *Queue) { q.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// New creates a queue whose ready list holds at most capacity tasks.
func New(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		lane:     "default",
		capacity: capacity,
		running:  NewRunningSet(),
		logger:   slog.Default(),
		queued:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.notEmpty.L = &q.mu
	q.notFull.L = &q.mu
	return q
}

// Put enqueues t, blocking while the ready list is full.
//
// If a task for the same key is already queued, t is merged into it and Put
// returns without using capacity. A key that is only running does not
// suppress t: it waits until the running task is done.
func (q *Queue) Put(ctx context.Context, t task.Task) error {
	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.admissionClosed || q.closed {
			return ErrClosed
		}
		if q.mergeLocked(t) {
			return nil
		}
		if len(q.ready) < q.capacity {
			q.pushLocked(t)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
	}
}

// TryPut enqueues t without blocking. It returns false when the queue is
// closed or the ready list is full; the rejection observer is told why.
func (q *Queue) TryPut(t task.Task) bool {
	q.mu.Lock()
	var reason error
	switch {
	case q.admissionClosed || q.closed:
		reason = ErrClosed
	case q.mergeLocked(t):
	case len(q.ready) < q.capacity:
		q.pushLocked(t)
	default:
		reason = errors.ErrQueueFull
	}
	q.mu.Unlock()

	if reason == nil {
		return true
	}
	q.rejected.Add(1)
	notify(q.observer, q.logger, q.lane, t, reason)
	return false
}

// Take blocks until a dispatchable task is available and claims its key.
// It returns ErrClosed once the queue is force-closed, or once admission is
// closed and nothing is left to dispatch.
func (q *Queue) Take(ctx context.Context) (task.Task, error) {
	t, _, err := q.take(ctx, 0)
	return t, err
}

// PollWithTimeout is Take bounded by d. It returns ok=false if no task
// became dispatchable in time.
func (q *Queue) PollWithTimeout(ctx context.Context, d time.Duration) (t task.Task, ok bool, err error) {
	if d <= 0 {
		t, err = q.Take(ctx)
		return t, err == nil, err
	}
	return q.take(ctx, d)
}

func (q *Queue) take(ctx context.Context, d time.Duration) (task.Task, bool, error) {
	stop := context.AfterFunc(ctx, q.wakeAll)
	defer stop()

	var expired atomic.Bool
	if d > 0 {
		timer := time.AfterFunc(d, func() {
			expired.Store(true)
			q.wakeAll()
		})
		defer timer.Stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return task.Task{}, false, ErrClosed
		}
		if t, ok := q.dispatchLocked(); ok {
			return t, true, nil
		}
		if q.admissionClosed && len(q.ready) == 0 && len(q.awaiting) == 0 {
			return task.Task{}, false, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return task.Task{}, false, err
		}
		if expired.Load() {
			return task.Task{}, false, nil
		}
		q.notEmpty.Wait()
	}
}

// dispatchLocked finds the oldest dispatchable task, awaiting list first,
// and claims it. Ready tasks whose key is running move to awaiting.
func (q *Queue) dispatchLocked() (task.Task, bool) {
	for i, e := range q.awaiting {
		if q.running.Contains(e.task.Key()) {
			continue
		}
		q.awaiting = append(q.awaiting[:i], q.awaiting[i+1:]...)
		return q.claimLocked(e), true
	}
	for len(q.ready) > 0 {
		e := q.ready[0]
		q.ready[0] = nil
		q.ready = q.ready[1:]
		q.notFull.Broadcast()
		if q.running.Contains(e.task.Key()) {
			q.awaiting = append(q.awaiting, e)
			continue
		}
		return q.claimLocked(e), true
	}
	return task.Task{}, false
}

func (q *Queue) claimLocked(e *entry) task.Task {
	key := e.task.Key()
	delete(q.queued, key)
	if holder, ok := q.running.Claim(e.task); !ok {
		q.violations.Add(1)
		q.logger.Error("running set conflict",
			slog.String("event", "running_set_conflict"),
			slog.String("lane", q.lane),
			slog.String("target", key),
			slog.String("kind", e.task.Kind.String()),
			slog.String("holder_kind", holder.Kind.String()))
	}
	return e.task
}

func (q *Queue) mergeLocked(t task.Task) bool {
	e, ok := q.queued[t.Key()]
	if !ok {
		return false
	}
	e.task = e.task.Merge(t)
	q.coalesced.Add(1)
	return true
}

func (q *Queue) pushLocked(t task.Task) {
	e := &entry{task: t, enqueued: time.Now()}
	q.ready = append(q.ready, e)
	q.queued[t.Key()] = e
	q.notEmpty.Broadcast()
}

// Done releases key after its task finished and wakes waiting takers.
func (q *Queue) Done(key string) {
	q.mu.Lock()
	q.running.Release(key)
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// CloseAdmission stops Put and TryPut. Takers keep draining what is queued.
func (q *Queue) CloseAdmission() {
	q.mu.Lock()
	q.admissionClosed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Close force-closes the queue and returns the tasks that never ran,
// awaiting first, then ready in FIFO order. Blocked callers are woken.
func (q *Queue) Close() []task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.admissionClosed = true
	pending := make([]task.Task, 0, len(q.awaiting)+len(q.ready))
	for _, e := range q.awaiting {
		pending = append(pending, e.task)
	}
	for _, e := range q.ready {
		pending = append(pending, e.task)
	}
	q.awaiting = nil
	q.ready = nil
	q.queued = make(map[string]*entry)
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	return pending
}

func (q *Queue) wakeAll() {
	q.mu.Lock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Size returns the number of queued tasks, ready plus awaiting.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.awaiting)
}

// Queued reports whether a task for key is waiting, ready or awaiting.
// A Put for that key would merge into it without using capacity.
func (q *Queue) Queued(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[key]
	return ok
}

// Capacity returns the bound of the ready list.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	Ready      int
	Awaiting   int
	Running    int
	Coalesced  int64
	Rejected   int64
	Violations int64
	OldestWait time.Duration
}

// Snapshot returns the current counts.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	s := Snapshot{
		Ready:    len(q.ready),
		Awaiting: len(q.awaiting),
		Running:  q.running.Len(),
	}
	var oldest time.Time
	for _, e := range q.awaiting {
		if oldest.IsZero() || e.enqueued.Before(oldest) {
			oldest = e.enqueued
		}
	}
	if len(q.ready) > 0 && (oldest.IsZero() || q.ready[0].enqueued.Before(oldest)) {
		oldest = q.ready[0].enqueued
	}
	q.mu.Unlock()

	if !oldest.IsZero() {
		s.OldestWait = time.Since(oldest)
	}
	s.Coalesced = q.coalesced.Load()
	s.Rejected = q.rejected.Load()
	s.Violations = q.violations.Load()
	return s
}
