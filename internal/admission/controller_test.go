package admission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/indextest"
	"github.com/Aman-CERP/indexpool/internal/pool"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

func doc(path string) indexer.DocRef {
	return indexer.NewDocRef("docs", path)
}

func newController(t *testing.T, backend indexer.Backend, mutate func(*Config)) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BackpressureInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(backend, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}

func singleWorker(cfg *Config) {
	cfg.Interactive = pool.Config{MinWorkers: 1, MaxWorkers: 1, QueueCapacity: 1}
}

func TestController_DuplicateBeforeDispatchRunsOnce(t *testing.T) {
	// Given: the only worker is busy on another document
	backend := indextest.NewBackend()
	backend.Delay = indextest.DelayFor(100*time.Millisecond, "docs:/busy.md")
	c := newController(t, backend, func(cfg *Config) {
		cfg.Interactive = pool.Config{MinWorkers: 1, MaxWorkers: 1, QueueCapacity: 4}
	})
	ctx := context.Background()
	require.NoError(t, c.Index(ctx, doc("busy.md"), false, false))
	require.Eventually(t, func() bool { return backend.InFlight() == 1 }, time.Second, 2*time.Millisecond)

	// When: doc1 is submitted twice before it can be dispatched
	require.NoError(t, c.Index(ctx, doc("doc1.md"), false, false))
	require.NoError(t, c.Index(ctx, doc("doc1.md"), false, false))

	// Then: the backend indexes doc1 exactly once
	require.Eventually(t, func() bool { return backend.Count() == 2 }, 2*time.Second, 5*time.Millisecond)
	c.Shutdown(context.Background())
	assert.Len(t, backend.CallsFor("docs:/doc1.md"), 1)
	assert.Equal(t, int64(1), c.Stats().Interactive.Coalesced)
}

func TestController_NarrowerRequestKeepsQueuedFolderScope(t *testing.T) {
	// Given: the only worker is busy on another document
	backend := indextest.NewBackend()
	backend.Delay = indextest.DelayFor(100*time.Millisecond, "docs:/busy.md")
	c := newController(t, backend, func(cfg *Config) {
		cfg.Interactive = pool.Config{MinWorkers: 1, MaxWorkers: 1, QueueCapacity: 4}
	})
	ctx := context.Background()
	require.NoError(t, c.Index(ctx, doc("busy.md"), false, false))
	require.Eventually(t, func() bool { return backend.InFlight() == 1 }, time.Second, 2*time.Millisecond)

	// When: folder requests are followed by single-document requests for the same folders
	require.NoError(t, c.Unindex(ctx, doc("folder"), true))
	require.NoError(t, c.Unindex(ctx, doc("folder"), false))
	require.NoError(t, c.Index(ctx, doc("tree"), true, false))
	require.NoError(t, c.Index(ctx, doc("tree"), false, false))

	// Then: each folder is processed once, recursively
	require.Eventually(t, func() bool { return backend.Count() == 3 }, 2*time.Second, 5*time.Millisecond)
	c.Shutdown(context.Background())
	folder := backend.CallsFor("docs:/folder")
	require.Len(t, folder, 1)
	assert.Equal(t, "unindex_recursive", folder[0].Op)
	tree := backend.CallsFor("docs:/tree")
	require.Len(t, tree, 1)
	assert.Equal(t, "index_recursive", tree[0].Op)
	assert.Equal(t, int64(2), c.Stats().Interactive.Coalesced)
}

func TestController_UnrelatedKeyOvertakesSlowOne(t *testing.T) {
	// Given: indexing doc1 takes 500ms
	backend := indextest.NewBackend()
	backend.Delay = indextest.DelayFor(500*time.Millisecond, "docs:/doc1.md")
	c := newController(t, backend, nil)
	ctx := context.Background()

	// When: doc1 then doc2 are submitted
	require.NoError(t, c.Index(ctx, doc("doc1.md"), false, false))
	require.NoError(t, c.Index(ctx, doc("doc2.md"), false, false))

	// Then: doc2 returns from the backend first
	require.Eventually(t, func() bool { return backend.Count() == 2 }, 3*time.Second, 10*time.Millisecond)
	calls := backend.Calls()
	assert.Equal(t, "docs:/doc2.md", calls[0].Target)
	assert.True(t, calls[0].Finished.Before(calls[1].Finished))
}

func TestController_BackpressureBlocksProducer(t *testing.T) {
	// Given: one gated worker busy on a and b filling the queue
	backend := indextest.NewBackend()
	backend.Gate = make(chan struct{})
	c := newController(t, backend, singleWorker)
	ctx := context.Background()
	require.NoError(t, c.Index(ctx, doc("a.md"), false, false))
	require.Eventually(t, func() bool { return backend.InFlight() == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, c.Index(ctx, doc("b.md"), false, false))

	// When: a third submission arrives and capacity frees after 100ms
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(backend.Gate)
	}()
	start := time.Now()
	err := c.Index(ctx, doc("c.md"), false, false)

	// Then: the producer was held back rather than refused
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int64(1), c.Stats().Throttled)
	require.Eventually(t, func() bool { return backend.Count() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestController_QueuedDuplicateSkipsBackpressure(t *testing.T) {
	// Given: one gated worker busy on a and b filling the queue
	backend := indextest.NewBackend()
	backend.Gate = make(chan struct{})
	defer close(backend.Gate)
	c := newController(t, backend, singleWorker)
	ctx := context.Background()
	require.NoError(t, c.Index(ctx, doc("a.md"), false, false))
	require.Eventually(t, func() bool { return backend.InFlight() == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, c.Index(ctx, doc("b.md"), false, false))

	// When: b is saved again while the queue is still full
	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := c.Index(tctx, doc("b.md"), false, true)

	// Then: it is merged into the queued task without throttling
	require.NoError(t, err)
	stats := c.Stats()
	assert.Zero(t, stats.Throttled)
	assert.Equal(t, int64(1), stats.Interactive.Coalesced)
	assert.Equal(t, 1, stats.Interactive.QueueDepth)
}

func TestController_BackpressureHonoursContext(t *testing.T) {
	backend := indextest.NewBackend()
	backend.Gate = make(chan struct{})
	defer close(backend.Gate)
	c := newController(t, backend, singleWorker)
	ctx := context.Background()
	require.NoError(t, c.Index(ctx, doc("a.md"), false, false))
	require.Eventually(t, func() bool { return backend.InFlight() == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, c.Index(ctx, doc("b.md"), false, false))

	tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := c.Index(tctx, doc("c.md"), false, false)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_ReindexAllKeepsInteractiveLaneFree(t *testing.T) {
	// Given: a repository-wide reindex that takes a long time
	backend := indextest.NewBackend()
	backend.Delay = indextest.DelayFor(time.Second, "docs:/")
	c := newController(t, backend, func(cfg *Config) {
		cfg.Interactive = pool.Config{MinWorkers: 1, MaxWorkers: 1, QueueCapacity: 4}
	})
	ctx := context.Background()
	require.NoError(t, c.ReindexAll(doc("/"), true, true))
	require.Eventually(t, func() bool { return backend.InFlight() == 1 }, time.Second, 2*time.Millisecond)

	// When: interactive documents are indexed meanwhile
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Index(ctx, doc(fmt.Sprintf("i%d.md", i)), false, false))
	}

	// Then: they complete while the reindex is still running
	require.Eventually(t, func() bool { return backend.Count() == 3 }, 500*time.Millisecond, 5*time.Millisecond)
	assert.True(t, c.ReindexingAll())
	assert.Empty(t, backend.CallsFor("docs:/"))
}

func TestController_ReindexAllRefusesSecondRequest(t *testing.T) {
	// Given: a reindex in progress
	backend := indextest.NewBackend()
	backend.Gate = make(chan struct{})
	c := newController(t, backend, nil)
	require.NoError(t, c.ReindexAll(doc("/"), true, false))

	// When: another reindex is requested
	err := c.ReindexAll(doc("/"), true, true)

	// Then: it is refused and the flag stays set
	assert.ErrorIs(t, err, errors.ErrReindexInProgress)
	assert.True(t, c.Stats().ReindexingAll)

	// When: the first reindex finishes
	close(backend.Gate)

	// Then: a new reindex is accepted
	require.Eventually(t, func() bool { return !c.ReindexingAll() }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.ReindexAll(doc("/"), true, false))
	require.Eventually(t, func() bool { return len(backend.CallsFor("docs:/")) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "index_recursive", backend.CallsFor("docs:/")[0].Op)
}

func TestController_ReindexAllWithoutBulkLane(t *testing.T) {
	c := newController(t, indextest.NewBackend(), func(cfg *Config) {
		cfg.BulkEnabled = false
	})

	err := c.ReindexAll(doc("/"), true, true)

	assert.ErrorIs(t, err, errors.ErrIndexingDisabled)
	assert.False(t, c.ReindexingAll())
}

func TestController_RejectsInvalidTaskSynchronously(t *testing.T) {
	// Given: a controller
	backend := indextest.NewBackend()
	c := newController(t, backend, nil)
	ctx := context.Background()

	// When: malformed targets are submitted
	errMissingRepo := c.Index(ctx, indexer.DocRef{Path: "a.md"}, false, false)
	errBadRepo := c.Unindex(ctx, indexer.DocRef{Repository: "docs/x", Path: "a.md"}, false)
	errBatch := c.IndexResources(ctx, indexer.ResourceBatch{ID: "b1"})

	// Then: each fails at submission and nothing is queued
	assert.ErrorIs(t, errMissingRepo, errors.ErrInvalidTask)
	assert.ErrorIs(t, errBadRepo, errors.ErrInvalidTask)
	assert.ErrorIs(t, errBatch, errors.ErrInvalidTask)
	assert.Zero(t, c.Stats().Interactive.QueueDepth)
	assert.Zero(t, backend.Count())
}

func TestController_DisabledBackend(t *testing.T) {
	backend := indextest.NewBackend()
	backend.SetEnabled(false)
	c := newController(t, backend, nil)

	assert.ErrorIs(t, c.Index(context.Background(), doc("a.md"), false, false), errors.ErrIndexingDisabled)
	assert.ErrorIs(t, c.ReindexAll(doc("/"), true, true), errors.ErrIndexingDisabled)
}

func TestController_IndexResourcesAndUnindexKinds(t *testing.T) {
	backend := indextest.NewBackend()
	c := newController(t, backend, nil)
	ctx := context.Background()
	batch := indexer.ResourceBatch{
		ID:        "batch-1",
		Resources: []indexer.Resource{{Ref: doc("r.md"), Body: "body"}},
	}

	require.NoError(t, c.IndexResources(ctx, batch))
	require.NoError(t, c.Unindex(ctx, doc("gone"), true))
	require.NoError(t, c.Index(ctx, doc("folder"), true, true))

	require.Eventually(t, func() bool { return backend.Count() == 3 }, time.Second, 5*time.Millisecond)
	ops := map[string]string{}
	for _, call := range backend.Calls() {
		ops[call.Target] = call.Op
	}
	assert.Equal(t, "index_resources", ops["batch-1"])
	assert.Equal(t, "unindex_recursive", ops["docs:/gone"])
	assert.Equal(t, "index_recursive", ops["docs:/folder"])
}

func TestController_ShutdownStopsAdmission(t *testing.T) {
	// Given: three in-flight tasks and two queued
	backend := indextest.NewBackend()
	backend.Gate = make(chan struct{})
	c := newController(t, backend, func(cfg *Config) {
		cfg.Interactive = pool.Config{MinWorkers: 3, MaxWorkers: 3, QueueCapacity: 4}
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Index(ctx, doc(fmt.Sprintf("s%d.md", i)), false, false))
	}
	require.Eventually(t, func() bool { return backend.InFlight() == 3 }, time.Second, 2*time.Millisecond)

	// When: shutdown runs with a short drain window
	sctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	report := c.Shutdown(sctx)

	// Then: queued work is reported and no submission succeeds afterwards
	assert.True(t, report.Forced())
	assert.Len(t, report.NotRun(), 2)
	assert.ErrorIs(t, c.Index(ctx, doc("late.md"), false, false), errors.ErrPoolStopped)
	assert.ErrorIs(t, c.ReindexAll(doc("/"), true, true), errors.ErrIndexingDisabled)
	assert.Equal(t, pool.StateStopped, c.Stats().Interactive.State)
	assert.Equal(t, pool.StateStopped, c.Stats().Bulk.State)
}
