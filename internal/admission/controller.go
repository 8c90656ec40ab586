// Package admission is the producer-facing facade over the indexing lanes.
//
// Interactive work (single documents, folders, resource batches) goes to a
// bounded elastic lane and blocks producers while that lane is saturated.
// Repository-wide reindexing runs on a separate single-slot lane so it can
// never take workers away from interactive indexing.
package admission

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/pool"
	"github.com/Aman-CERP/indexpool/internal/queue"
	"github.com/Aman-CERP/indexpool/internal/task"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// DefaultBackpressureInterval is how often a blocked producer re-checks the queue.
const DefaultBackpressureInterval = 50 * time.Millisecond

// Lane names.
const (
	LaneInteractive = "interactive"
	LaneBulk        = "bulk"
)

// Config configures a Controller.
type Config struct {
	Interactive pool.Config

	// BulkEnabled turns on the single-slot lane used by ReindexAll.
	BulkEnabled bool
	Bulk        pool.Config

	BackpressureInterval time.Duration

	// Observer and Rejections are shared by both lanes.
	Observer   pool.Observer
	Rejections queue.RejectionObserver
	Logger     *slog.Logger
}

// DefaultConfig returns a controller configuration with both lanes enabled.
func DefaultConfig() Config {
	return Config{
		Interactive:          pool.DefaultConfig(),
		BulkEnabled:          true,
		Bulk:                 pool.SingleSlot(LaneBulk),
		BackpressureInterval: DefaultBackpressureInterval,
	}
}

// Controller admits tasks onto the lanes.
type Controller struct {
	backend     indexer.Backend
	interactive *pool.Pool
	bulk        *pool.Pool
	interval    time.Duration
	logger      *slog.Logger

	reindexingAll atomic.Bool
	throttled     atomic.Int64
}

// New builds the controller and its lanes.
func New(backend indexer.Backend, cfg Config) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackpressureInterval <= 0 {
		cfg.BackpressureInterval = DefaultBackpressureInterval
	}

	c := &Controller{
		backend:  backend,
		interval: cfg.BackpressureInterval,
		logger:   cfg.Logger,
	}

	rejections := queue.Rejections{queue.LogRejections(cfg.Logger), cfg.Rejections}

	ic := cfg.Interactive
	ic.Name = LaneInteractive
	ic.Logger = cfg.Logger
	ic.Observer = cfg.Observer
	ic.Rejections = rejections
	interactive, err := pool.New(backend, ic)
	if err != nil {
		return nil, err
	}
	c.interactive = interactive

	if cfg.BulkEnabled {
		bc := cfg.Bulk
		bc.Name = LaneBulk
		bc.MinWorkers, bc.MaxWorkers, bc.QueueCapacity = 1, 1, 1
		bc.Logger = cfg.Logger
		bc.Observer = pool.Observers{pool.FinishedFunc(c.bulkFinished), cfg.Observer}
		bc.Rejections = rejections
		bulk, err := pool.New(backend, bc)
		if err != nil {
			return nil, err
		}
		c.bulk = bulk
	}
	return c, nil
}

// Index schedules indexing of a document, or of a folder when recursive.
func (c *Controller) Index(ctx context.Context, ref indexer.DocRef, recursive, fulltext bool) error {
	if recursive {
		return c.Submit(ctx, task.IndexRecursive(ref, fulltext))
	}
	return c.Submit(ctx, task.Index(ref, fulltext))
}

// Unindex schedules removal of a document, or of a folder when recursive.
func (c *Controller) Unindex(ctx context.Context, ref indexer.DocRef, recursive bool) error {
	return c.Submit(ctx, task.Unindex(ref, recursive))
}

// IndexResources schedules indexing of a resolved batch.
func (c *Controller) IndexResources(ctx context.Context, batch indexer.ResourceBatch) error {
	return c.Submit(ctx, task.IndexResources(batch))
}

// Submit admits t on the interactive lane. It blocks while the lane's queue
// is at capacity and returns early only if ctx is done.
func (c *Controller) Submit(ctx context.Context, t task.Task) error {
	if err := c.admit(t); err != nil {
		return err
	}
	if !c.interactive.Accepting() {
		return errors.ErrPoolStopped
	}
	if err := c.waitForCapacity(ctx, t); err != nil {
		return err
	}
	return c.interactive.Submit(ctx, t)
}

// ReindexAll schedules the bulk reindex on the single-slot lane. Only one may
// be outstanding; a second request is refused with ErrReindexInProgress.
func (c *Controller) ReindexAll(ref indexer.DocRef, recursive, fulltext bool) error {
	t := task.ReindexAll(ref, recursive, fulltext)
	if err := c.admit(t); err != nil {
		return err
	}
	if c.bulk == nil || !c.bulk.Accepting() {
		return errors.New(errors.ErrCodeIndexingDisabled, "bulk reindex lane is not running", nil)
	}
	if !c.reindexingAll.CompareAndSwap(false, true) {
		c.logger.Info("reindex all already in progress", slog.String("target", t.Key()))
		return errors.ErrReindexInProgress
	}
	if !c.bulk.TrySubmit(t) {
		c.reindexingAll.Store(false)
		if !c.bulk.Accepting() {
			return errors.New(errors.ErrCodeIndexingDisabled, "bulk reindex lane is not running", nil)
		}
		return errors.ErrReindexInProgress
	}
	c.logger.Info("reindex all scheduled",
		slog.String("target", t.Key()),
		slog.Bool("recursive", recursive),
		slog.Bool("fulltext", fulltext))
	return nil
}

// ReindexingAll reports whether a bulk reindex is queued or running.
func (c *Controller) ReindexingAll() bool {
	return c.reindexingAll.Load()
}

func (c *Controller) bulkFinished(_ string, t task.Task, outcome pool.Outcome) {
	if !t.Bulk {
		return
	}
	c.reindexingAll.Store(false)
	c.logger.Info("reindex all finished",
		slog.String("target", t.Key()),
		slog.String("outcome", string(outcome)))
}

func (c *Controller) admit(t task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if c.backend == nil || !c.backend.IsEnabled() {
		return errors.ErrIndexingDisabled
	}
	return nil
}

// waitForCapacity sleeps in fixed steps while the interactive queue is full.
// A task whose key is already queued is coalesced by the queue and never waits.
func (c *Controller) waitForCapacity(ctx context.Context, t task.Task) error {
	key := t.Key()
	full := func() bool {
		return c.interactive.QueueSize() >= c.interactive.Capacity() && !c.interactive.Queued(key)
	}
	if !full() {
		return nil
	}
	c.throttled.Add(1)
	start := time.Now()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for full() {
		if !c.interactive.Accepting() {
			return errors.ErrPoolStopped
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	c.logger.Debug("admission throttled",
		slog.String("target", key),
		slog.Duration("waited", time.Since(start)))
	return nil
}

// Report is the outcome of a controller shutdown.
type Report struct {
	Interactive pool.ShutdownReport
	Bulk        pool.ShutdownReport
}

// NotRun returns every discarded task across lanes.
func (r Report) NotRun() []task.Task {
	return append(append([]task.Task(nil), r.Interactive.NotRun...), r.Bulk.NotRun...)
}

// Forced reports whether any lane hit the drain deadline.
func (r Report) Forced() bool {
	return r.Interactive.Forced || r.Bulk.Forced
}

// Shutdown drains both lanes in parallel until ctx is done. No submission
// succeeds once it has begun.
func (c *Controller) Shutdown(ctx context.Context) Report {
	var report Report
	g := new(errgroup.Group)
	g.Go(func() error {
		report.Interactive = c.interactive.Shutdown(ctx)
		return nil
	})
	if c.bulk != nil {
		g.Go(func() error {
			report.Bulk = c.bulk.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()
	c.reindexingAll.Store(false)

	c.logger.Info("indexing stopped",
		slog.Bool("forced", report.Forced()),
		slog.Int("not_run", len(report.NotRun())))
	return report
}

// Stats combines both lanes.
type Stats struct {
	Interactive   pool.Stats
	Bulk          pool.Stats
	ReindexingAll bool
	Throttled     int64
}

// Stats returns a snapshot of both lanes.
func (c *Controller) Stats() Stats {
	s := Stats{
		Interactive:   c.interactive.Stats(),
		ReindexingAll: c.reindexingAll.Load(),
		Throttled:     c.throttled.Load(),
	}
	if c.bulk != nil {
		s.Bulk = c.bulk.Stats()
	}
	return s
}
