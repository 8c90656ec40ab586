package watcher

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// Sink accepts indexing requests. *admission.Controller implements it.
type Sink interface {
	Index(ctx context.Context, ref indexer.DocRef, recursive, fulltext bool) error
	Unindex(ctx context.Context, ref indexer.DocRef, recursive bool) error
}

// Dispatcher maps debounced file events onto Sink requests.
type Dispatcher struct {
	locator Locator
	sink    Sink
	logger  *slog.Logger

	submitted atomic.Uint64
	refused   atomic.Uint64
}

// NewDispatcher creates a dispatcher. A nil logger uses slog.Default().
func NewDispatcher(locator Locator, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{locator: locator, sink: sink, logger: logger}
}

// Run handles batches until events is closed or ctx is cancelled. It stops
// early, returning the error, once the sink reports the lane has stopped.
func (d *Dispatcher) Run(ctx context.Context, events <-chan []FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			for _, ev := range batch {
				err := d.Handle(ctx, ev)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if stderrors.Is(err, errors.ErrPoolStopped) {
					return err
				}
			}
		}
	}
}

// Handle submits the request for a single event. Events outside every
// repository and non-document files are ignored.
func (d *Dispatcher) Handle(ctx context.Context, ev FileEvent) error {
	ref, ok := d.locator.RefFor(ev.Path)
	if !ok || hidden(ev.Path) {
		return nil
	}

	var err error
	switch {
	case ev.Operation.Removes():
		switch {
		case d.locator.Indexable(ev.Path):
			err = d.sink.Unindex(ctx, ref, false)
		case filepath.Ext(ev.Path) == "":
			// Possibly a folder; drop everything indexed below it.
			err = d.sink.Unindex(ctx, ref, true)
		default:
			return nil
		}
	case ev.IsDir:
		err = d.sink.Index(ctx, ref, true, false)
	case d.locator.Indexable(ev.Path):
		err = d.sink.Index(ctx, ref, false, false)
	default:
		return nil
	}

	if err != nil {
		d.refused.Add(1)
		// Admission refusals are routine while indexing is off or draining.
		level := slog.LevelWarn
		if errors.IsAdmission(err) {
			level = slog.LevelInfo
		}
		attrs := append([]any{
			slog.String("path", ev.Path),
			slog.String("op", ev.Operation.String()),
		}, attrsOf(err)...)
		d.logger.Log(ctx, level, "watch_event_refused", attrs...)
		return err
	}
	d.submitted.Add(1)
	d.logger.Debug("watch_event_submitted",
		slog.String("target", ref.ID()),
		slog.String("op", ev.Operation.String()))
	return nil
}

// Submitted returns how many events were accepted by the sink.
func (d *Dispatcher) Submitted() uint64 { return d.submitted.Load() }

// Refused returns how many events the sink rejected.
func (d *Dispatcher) Refused() uint64 { return d.refused.Load() }

func attrsOf(err error) []any {
	la := errors.LogAttrs(err)
	out := make([]any, len(la))
	for i, a := range la {
		out[i] = a
	}
	return out
}
