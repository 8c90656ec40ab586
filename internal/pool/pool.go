// Package pool runs tasks from a dedup queue on a bounded set of workers.
//
// A Pool is one lane: a queue, a RunningSet and the workers draining them.
// Core workers start together on the first submission; extra workers up to
// the configured maximum are added while a backlog exists and retire after
// their keep-alive expires without work.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/queue"
	"github.com/Aman-CERP/indexpool/internal/task"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// State is the lane lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pool is a bounded worker lane.
type Pool struct {
	cfg     Config
	backend indexer.Backend
	queue   *queue.Queue
	logger  *slog.Logger

	// lifecycle orders worker spawns before the shutdown join.
	lifecycle sync.RWMutex
	state     atomic.Int32
	workers   *errgroup.Group

	// ctx is handed to backend calls and cancelled by a forced shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	live      atomic.Int32
	idle      atomic.Int32
	active    atomic.Int32
	nextID    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	recycled  atomic.Int64

	shutdownOnce sync.Once
	report       ShutdownReport
}

// New creates a lane executing tasks against backend. Workers are not
// started until the first submission or an explicit Start.
func New(backend indexer.Backend, cfg Config) (*Pool, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeInternal, "backend is required", nil)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(err.Error(), nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		backend: backend,
		logger:  cfg.Logger.With(slog.String("lane", cfg.Name)),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.queue = queue.New(cfg.QueueCapacity,
		queue.WithLane(cfg.Name),
		queue.WithLogger(cfg.Logger),
		queue.WithRejectionObserver(cfg.Rejections))

	p.workers = new(errgroup.Group)
	p.workers.SetLimit(cfg.MaxWorkers)
	return p, nil
}

// Name returns the lane name.
func (p *Pool) Name() string { return p.cfg.Name }

// State returns the lifecycle state.
func (p *Pool) State() State { return State(p.state.Load()) }

// Accepting reports whether the lane admits new tasks.
func (p *Pool) Accepting() bool {
	s := p.State()
	return s == StateCreated || s == StateRunning
}

// QueueSize returns the number of queued tasks.
func (p *Pool) QueueSize() int { return p.queue.Size() }

// Capacity returns the queue capacity.
func (p *Pool) Capacity() int { return p.queue.Capacity() }

// Queued reports whether a task for key is waiting in the lane's queue.
func (p *Pool) Queued(key string) bool { return p.queue.Queued(key) }

// Start moves the lane to Running and starts the core workers. It is a no-op
// unless the lane is in Created.
func (p *Pool) Start() {
	if p.State() != StateCreated {
		return
	}
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if !p.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return
	}
	for i := 0; i < p.cfg.MinWorkers; i++ {
		p.workers.Go(func() error {
			p.runWorker(true)
			return nil
		})
	}
	p.logger.Debug("lane started",
		slog.Int("min_workers", p.cfg.MinWorkers),
		slog.Int("max_workers", p.cfg.MaxWorkers),
		slog.Int("queue_capacity", p.cfg.QueueCapacity))
}

// Submit enqueues t, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, t task.Task) error {
	if !p.Accepting() {
		return errors.ErrPoolStopped
	}
	p.Start()
	if err := p.queue.Put(ctx, t); err != nil {
		return err
	}
	p.grow()
	return nil
}

// TrySubmit enqueues t without blocking and reports whether it was admitted.
func (p *Pool) TrySubmit(t task.Task) bool {
	if !p.Accepting() {
		return false
	}
	p.Start()
	if !p.queue.TryPut(t) {
		return false
	}
	p.grow()
	return true
}

// grow adds an extra worker when every live worker is busy and work is queued.
func (p *Pool) grow() {
	if p.idle.Load() > 0 || p.queue.Size() == 0 {
		return
	}
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()
	if p.State() != StateRunning {
		return
	}
	if int(p.live.Load()) >= p.cfg.MaxWorkers {
		return
	}
	if p.workers.TryGo(func() error {
		p.runWorker(false)
		return nil
	}) {
		p.logger.Debug("extra worker started", slog.Int("workers", int(p.live.Load())))
	}
}

// ShutdownReport describes how a lane stopped.
type ShutdownReport struct {
	Lane string
	// Forced is set when the drain deadline expired before the queue emptied.
	Forced bool
	// NotRun lists tasks that were discarded without executing.
	NotRun  []task.Task
	Elapsed time.Duration
}

// Shutdown stops admission and drains the lane until ctx is done. On expiry
// the queue is force-closed, backend calls are cancelled and the discarded
// tasks are returned in the report. Shutdown always joins the workers and
// is safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) ShutdownReport {
	p.shutdownOnce.Do(func() {
		p.report = p.shutdown(ctx)
	})
	return p.report
}

func (p *Pool) shutdown(ctx context.Context) ShutdownReport {
	start := time.Now()
	report := ShutdownReport{Lane: p.cfg.Name}

	p.lifecycle.Lock()
	if p.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		p.lifecycle.Unlock()
		p.queue.Close()
		p.cancel()
		return report
	}
	p.state.Store(int32(StateDraining))
	p.lifecycle.Unlock()
	p.queue.CloseAdmission()

	done := make(chan struct{})
	go func() {
		_ = p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		report.Forced = true
		report.NotRun = p.queue.Close()
		p.cancel()
		<-done
	}
	p.cancel()
	p.state.Store(int32(StateStopped))

	for _, t := range report.NotRun {
		p.logger.Warn("task not run",
			slog.String("kind", t.Kind.String()),
			slog.String("target", t.Key()))
		if p.cfg.Observer != nil {
			p.cfg.Observer.TaskFinished(p.cfg.Name, t, OutcomeNotRun, 0)
		}
	}
	report.Elapsed = time.Since(start)
	p.logger.Info("lane stopped",
		slog.Bool("forced", report.Forced),
		slog.Int("not_run", len(report.NotRun)),
		slog.Int64("completed", p.completed.Load()),
		slog.Duration("elapsed", report.Elapsed))
	return report
}

// Stats is a point-in-time view of a lane.
type Stats struct {
	Lane       string
	State      State
	Workers    int
	Active     int
	Completed  int64
	Failed     int64
	Rejected   int64
	Coalesced  int64
	Recycled   int64
	Violations int64
	QueueDepth int
	Awaiting   int
	Running    int
	OldestWait time.Duration
}

// Stats returns the lane statistics.
func (p *Pool) Stats() Stats {
	snap := p.queue.Snapshot()
	return Stats{
		Lane:       p.cfg.Name,
		State:      p.State(),
		Workers:    int(p.live.Load()),
		Active:     int(p.active.Load()),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   snap.Rejected,
		Coalesced:  snap.Coalesced,
		Recycled:   p.recycled.Load(),
		Violations: snap.Violations,
		QueueDepth: snap.Ready + snap.Awaiting,
		Awaiting:   snap.Awaiting,
		Running:    snap.Running,
		OldestWait: snap.OldestWait,
	}
}
