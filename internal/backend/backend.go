// Package backend provides StoreBackend, the indexer.Backend that resolves
// documents from repositories and writes them to a store.DocumentIndex.
package backend

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/resolve"
	"github.com/Aman-CERP/indexpool/internal/store"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// DefaultWriteBatch is how many documents a recursive index writes at once.
const DefaultWriteBatch = 100

var (
	// ErrNilResolver is returned when New is called without a resolver.
	ErrNilResolver = errors.New(errors.ErrCodeInternal, "resolver is required", nil)

	// ErrNilIndex is returned when New is called without a document index.
	ErrNilIndex = errors.New(errors.ErrCodeInternal, "document index is required", nil)
)

// StoreBackend implements indexer.Backend.
type StoreBackend struct {
	resolver     *resolve.Resolver
	index        store.DocumentIndex
	fingerprints *resolve.Fingerprints
	breaker      *errors.CircuitBreaker
	writeBatch   int
	logger       *slog.Logger

	enabled atomic.Bool
	written atomic.Int64
	skipped atomic.Int64
	removed atomic.Int64
}

var _ indexer.Backend = (*StoreBackend)(nil)

// Option configures a StoreBackend.
type Option func(*StoreBackend)

// WithFingerprints enables skipping of unchanged documents on non-fulltext indexing.
func WithFingerprints(f *resolve.Fingerprints) Option {
	return func(b *StoreBackend) { b.fingerprints = f }
}

// WithCircuitBreaker guards index writes. While the circuit is open the
// backend reports itself disabled.
func WithCircuitBreaker(cb *errors.CircuitBreaker) Option {
	return func(b *StoreBackend) { b.breaker = cb }
}

// WithWriteBatch sets the recursive write batch size.
func WithWriteBatch(n int) Option {
	return func(b *StoreBackend) {
		if n > 0 {
			b.writeBatch = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *StoreBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a StoreBackend.
func New(resolver *resolve.Resolver, index store.DocumentIndex, opts ...Option) (*StoreBackend, error) {
	if resolver == nil {
		return nil, ErrNilResolver
	}
	if index == nil {
		return nil, ErrNilIndex
	}
	b := &StoreBackend{
		resolver:   resolver,
		index:      index,
		writeBatch: DefaultWriteBatch,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.breaker == nil {
		b.breaker = errors.NewCircuitBreaker("document-index")
	}
	b.enabled.Store(true)
	return b, nil
}

// SetEnabled switches the backend on or off.
func (b *StoreBackend) SetEnabled(v bool) { b.enabled.Store(v) }

// IsEnabled reports whether the backend accepts work.
func (b *StoreBackend) IsEnabled() bool {
	return b.enabled.Load() && b.breaker.Allow()
}

// Index resolves and writes one document.
func (b *StoreBackend) Index(ctx context.Context, ref indexer.DocRef, fulltext bool) error {
	res, err := b.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	docs := b.documents([]indexer.Resource{res}, fulltext)
	return b.put(ctx, docs)
}

// IndexRecursive writes every document under ref and removes indexed
// documents under ref that no longer exist. It stops between batch writes
// once ctx is done, so an abandoned call does not keep mutating the index.
func (b *StoreBackend) IndexRecursive(ctx context.Context, ref indexer.DocRef, fulltext bool) error {
	start := time.Now()
	seen := make(map[string]bool)
	pending := make([]indexer.Resource, 0, b.writeBatch)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.put(ctx, b.documents(pending, fulltext))
		pending = pending[:0]
		return err
	}

	err := b.resolver.Walk(ctx, ref, func(res indexer.Resource) error {
		seen[res.Ref.ID()] = true
		pending = append(pending, res)
		if len(pending) >= b.writeBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	stale, err := b.staleIDs(ctx, ref, seen)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		if err := b.guard(ctx, func() error { return b.index.Delete(ctx, stale) }); err != nil {
			return err
		}
		for _, id := range stale {
			b.forget(id)
		}
		b.removed.Add(int64(len(stale)))
	}

	b.logger.Info("folder indexed",
		slog.String("target", ref.ID()),
		slog.Int("documents", len(seen)),
		slog.Int("stale_removed", len(stale)),
		slog.Bool("fulltext", fulltext),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (b *StoreBackend) staleIDs(ctx context.Context, ref indexer.DocRef, seen map[string]bool) ([]string, error) {
	ids, err := b.index.IDs(ctx, ref.Repository)
	if err != nil {
		return nil, err
	}
	id := ref.ID()
	prefix := strings.TrimSuffix(id, "/") + "/"
	var stale []string
	for _, existing := range ids {
		if seen[existing] {
			continue
		}
		if ref.IsRoot() || existing == id || strings.HasPrefix(existing, prefix) {
			stale = append(stale, existing)
		}
	}
	return stale, nil
}

// Unindex removes one document.
func (b *StoreBackend) Unindex(ctx context.Context, ref indexer.DocRef) error {
	id := ref.ID()
	if err := b.guard(ctx, func() error { return b.index.Delete(ctx, []string{id}) }); err != nil {
		return err
	}
	b.forget(id)
	b.removed.Add(1)
	return nil
}

// UnindexRecursive removes ref and everything below it.
func (b *StoreBackend) UnindexRecursive(ctx context.Context, ref indexer.DocRef) error {
	var n int
	err := b.guard(ctx, func() error {
		var err error
		n, err = b.index.DeleteTree(ctx, ref.Repository, indexer.CleanPath(ref.Path))
		return err
	})
	if err != nil {
		return err
	}
	if b.fingerprints != nil {
		b.fingerprints.ForgetTree(ref)
	}
	b.removed.Add(int64(n))
	b.logger.Debug("folder unindexed", slog.String("target", ref.ID()), slog.Int("documents", n))
	return nil
}

// IndexResources writes an already resolved batch.
func (b *StoreBackend) IndexResources(ctx context.Context, batch indexer.ResourceBatch) error {
	return b.put(ctx, b.documents(batch.Resources, true))
}

// documents converts resources, dropping unchanged ones unless fulltext.
func (b *StoreBackend) documents(resources []indexer.Resource, fulltext bool) []*store.Document {
	docs := make([]*store.Document, 0, len(resources))
	for _, res := range resources {
		fp := resolve.Fingerprint(res)
		id := res.Ref.ID()
		if !fulltext && b.fingerprints != nil && b.fingerprints.Unchanged(id, fp) {
			b.skipped.Add(1)
			continue
		}
		docs = append(docs, &store.Document{
			ID:          id,
			Repository:  res.Ref.Repository,
			Path:        indexer.CleanPath(res.Ref.Path),
			Title:       res.Title,
			Body:        res.Body,
			Fingerprint: fp,
		})
	}
	return docs
}

func (b *StoreBackend) put(ctx context.Context, docs []*store.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := b.guard(ctx, func() error { return b.index.Put(ctx, docs) }); err != nil {
		return err
	}
	if b.fingerprints != nil {
		for _, d := range docs {
			b.fingerprints.Record(d.ID, d.Fingerprint)
		}
	}
	b.written.Add(int64(len(docs)))
	return nil
}

func (b *StoreBackend) forget(id string) {
	if b.fingerprints != nil {
		b.fingerprints.Forget(id)
	}
}

// guard runs a store operation through the circuit breaker. Cancellations
// are not counted as store failures.
func (b *StoreBackend) guard(ctx context.Context, fn func() error) error {
	err := b.breaker.Execute(ctx, fn)
	if err != nil && err != errors.ErrCircuitOpen && b.breaker.State() == errors.StateOpen {
		b.logger.Error("document index circuit opened",
			slog.String("breaker", b.breaker.Name()),
			slog.Int("failures", b.breaker.Failures()))
	}
	return err
}

// Stats summarizes backend activity.
type Stats struct {
	Index   store.Stats
	Written int64
	Skipped int64
	Removed int64
	Circuit string
}

// Stats returns the index statistics and write counters.
func (b *StoreBackend) Stats(ctx context.Context) (Stats, error) {
	idx, err := b.index.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Index:   idx,
		Written: b.written.Load(),
		Skipped: b.skipped.Load(),
		Removed: b.removed.Load(),
		Circuit: b.breaker.State().String(),
	}, nil
}
