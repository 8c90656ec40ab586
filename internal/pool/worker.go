package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/task"
)

// runWorker runs worker incarnations until the queue closes or, for extra
// workers, the keep-alive expires.
func (p *Pool) runWorker(core bool) {
	p.live.Add(1)
	defer p.live.Add(-1)

	for {
		id := p.nextID.Add(1)
		if !p.incarnation(id, core) {
			return
		}
		p.recycled.Add(1)
		p.logger.Debug("worker recycled", slog.Int64("worker", id))
	}
}

// incarnation executes tasks and reports whether the worker should be
// recycled (true) or exit (false).
func (p *Pool) incarnation(id int64, core bool) bool {
	executed := 0
	for {
		t, ok := p.next(core)
		if !ok {
			return false
		}
		p.execute(id, t)
		executed++
		if p.cfg.Recycle != nil && p.cfg.Recycle.ShouldRecycle(executed) {
			return true
		}
	}
}

func (p *Pool) next(core bool) (task.Task, bool) {
	p.idle.Add(1)
	defer p.idle.Add(-1)

	if core || p.cfg.KeepAlive <= 0 {
		t, err := p.queue.Take(p.ctx)
		return t, err == nil
	}
	t, ok, err := p.queue.PollWithTimeout(p.ctx, p.cfg.KeepAlive)
	if err == nil && !ok {
		p.logger.Debug("extra worker idle, exiting", slog.Duration("keep_alive", p.cfg.KeepAlive))
	}
	return t, err == nil && ok
}

// execute runs one claimed task. The key is released on every path.
func (p *Pool) execute(worker int64, t task.Task) {
	key := t.Key()
	defer p.queue.Done(key)

	p.active.Add(1)
	defer p.active.Add(-1)
	if p.cfg.Observer != nil {
		p.cfg.Observer.TaskStarted(p.cfg.Name, t)
	}

	start := time.Now()
	err := p.invoke(t)
	elapsed := time.Since(start)

	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case errors.GetCode(err) == errors.ErrCodeTaskTimeout:
		outcome = OutcomeTimeout
	case errors.GetCode(err) == errors.ErrCodeTaskPanic:
		outcome = OutcomePanic
	default:
		outcome = OutcomeFailed
	}

	p.completed.Add(1)
	if err != nil {
		p.failed.Add(1)
		attrs := []any{
			slog.Int64("worker", worker),
			slog.String("kind", t.Kind.String()),
			slog.String("target", key),
			slog.String("outcome", string(outcome)),
			slog.Duration("elapsed", elapsed),
		}
		for _, a := range errors.LogAttrs(err) {
			attrs = append(attrs, a)
		}
		p.logger.Error("task failed", attrs...)
	} else {
		p.logger.Debug("task done",
			slog.Int64("worker", worker),
			slog.String("kind", t.Kind.String()),
			slog.String("target", key),
			slog.Duration("elapsed", elapsed))
	}
	if p.cfg.Observer != nil {
		p.cfg.Observer.TaskFinished(p.cfg.Name, t, outcome, elapsed)
	}
}

// invoke runs the backend call in its own goroutine so that a deadline or a
// forced shutdown frees the worker even if the backend ignores its context.
func (p *Pool) invoke(t task.Task) error {
	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.cfg.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.TaskTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.call(ctx, t) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if p.ctx.Err() != nil {
			return errors.Wrap(errors.ErrCodeInternal, p.ctx.Err()).
				WithDetail("reason", "lane shut down")
		}
		return errors.New(errors.ErrCodeTaskTimeout,
			fmt.Sprintf("task exceeded %s", p.cfg.TaskTimeout), ctx.Err())
	}
}

// call dispatches on the task kind and converts a backend panic to an error.
func (p *Pool) call(ctx context.Context, t task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodeTaskPanic, fmt.Sprintf("backend panic: %v", r), nil).
				WithDetail("stack", string(debug.Stack()))
		}
	}()

	switch t.Kind {
	case task.KindIndex:
		return p.backend.Index(ctx, t.Ref, t.Fulltext)
	case task.KindIndexRecursive:
		return p.backend.IndexRecursive(ctx, t.Ref, t.Fulltext)
	case task.KindUnindex:
		return p.backend.Unindex(ctx, t.Ref)
	case task.KindUnindexRecursive:
		return p.backend.UnindexRecursive(ctx, t.Ref)
	case task.KindIndexResources:
		return p.backend.IndexResources(ctx, t.Batch)
	default:
		return errors.InvalidTask(fmt.Sprintf("unknown task kind %d", int(t.Kind)))
	}
}
