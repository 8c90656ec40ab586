// Package indextest provides indexer.Backend doubles for tests.
package indextest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// Call is one recorded backend invocation.
type Call struct {
	Op       string
	Target   string
	Fulltext bool
	Started  time.Time
	Finished time.Time
	Err      error
}

// Backend records every call and lets tests inject delays, errors and
// panics per target. It also tracks overlapping calls on the same target.
type Backend struct {
	// Delay returns how long a call on target should block. Nil means no delay.
	Delay func(target string) time.Duration
	// Fail returns the error a call on target should report.
	Fail func(target string) error
	// Panic lists targets whose calls panic.
	Panic map[string]bool
	// Gate, when set, is received from before each call returns.
	Gate chan struct{}

	enabled atomic.Bool

	mu        sync.Mutex
	calls     []Call
	running   map[string]int
	overlaps  int
	inFlight  int
	maxFlight int
}

// NewBackend returns an enabled recording backend.
func NewBackend() *Backend {
	b := &Backend{running: make(map[string]int)}
	b.enabled.Store(true)
	return b
}

// SetEnabled toggles IsEnabled.
func (b *Backend) SetEnabled(v bool) { b.enabled.Store(v) }

func (b *Backend) IsEnabled() bool { return b.enabled.Load() }

func (b *Backend) Index(ctx context.Context, ref indexer.DocRef, fulltext bool) error {
	return b.do(ctx, "index", ref.ID(), fulltext)
}

func (b *Backend) IndexRecursive(ctx context.Context, ref indexer.DocRef, fulltext bool) error {
	return b.do(ctx, "index_recursive", ref.ID(), fulltext)
}

func (b *Backend) Unindex(ctx context.Context, ref indexer.DocRef) error {
	return b.do(ctx, "unindex", ref.ID(), false)
}

func (b *Backend) UnindexRecursive(ctx context.Context, ref indexer.DocRef) error {
	return b.do(ctx, "unindex_recursive", ref.ID(), false)
}

func (b *Backend) IndexResources(ctx context.Context, batch indexer.ResourceBatch) error {
	return b.do(ctx, "index_resources", batch.ID, false)
}

func (b *Backend) do(ctx context.Context, op, target string, fulltext bool) (err error) {
	call := Call{Op: op, Target: target, Fulltext: fulltext, Started: time.Now()}

	b.mu.Lock()
	if b.running[target] > 0 {
		b.overlaps++
	}
	b.running[target]++
	b.inFlight++
	if b.inFlight > b.maxFlight {
		b.maxFlight = b.inFlight
	}
	b.mu.Unlock()

	defer func() {
		call.Finished = time.Now()
		call.Err = err
		b.mu.Lock()
		b.running[target]--
		b.inFlight--
		b.calls = append(b.calls, call)
		b.mu.Unlock()
	}()

	if b.Delay != nil {
		if d := b.Delay(target); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if b.Gate != nil {
		select {
		case <-b.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.Panic[target] {
		panic(fmt.Sprintf("backend panic on %s", target))
	}
	if b.Fail != nil {
		return b.Fail(target)
	}
	return nil
}

// Calls returns the completed calls in completion order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsFor returns the completed calls for target.
func (b *Backend) CallsFor(target string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Target == target {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of completed calls.
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// InFlight returns the number of calls currently executing.
func (b *Backend) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// MaxInFlight returns the highest observed concurrency.
func (b *Backend) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxFlight
}

// Overlaps returns how many calls started while another call on the same
// target was executing.
func (b *Backend) Overlaps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overlaps
}

// DelayFor returns a Delay func that sleeps d for the listed targets only.
func DelayFor(d time.Duration, targets ...string) func(string) time.Duration {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[t] = true
	}
	return func(target string) time.Duration {
		if set[target] {
			return d
		}
		return 0
	}
}
