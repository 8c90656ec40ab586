package watcher

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/resolve"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

type request struct {
	op        string
	target    string
	recursive bool
}

type recordingSink struct {
	mu       sync.Mutex
	requests []request
	err      error
}

func (s *recordingSink) Index(_ context.Context, ref indexer.DocRef, recursive, _ bool) error {
	return s.record("index", ref, recursive)
}

func (s *recordingSink) Unindex(_ context.Context, ref indexer.DocRef, recursive bool) error {
	return s.record("unindex", ref, recursive)
}

func (s *recordingSink) record(op string, ref indexer.DocRef, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.requests = append(s.requests, request{op: op, target: ref.ID(), recursive: recursive})
	return nil
}

func (s *recordingSink) Requests() []request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]request(nil), s.requests...)
}

func newLocator(t *testing.T) (*resolve.Resolver, string) {
	t.Helper()
	root := t.TempDir()
	r, err := resolve.New(map[string]string{"docs": root})
	require.NoError(t, err)
	return r, root
}

func TestDispatcher_MapsEventsToRequests(t *testing.T) {
	// Given: a repository and a recording sink
	locator, root := newLocator(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "guides"), 0o755))
	sink := &recordingSink{}
	d := NewDispatcher(locator, sink, nil)
	ctx := context.Background()

	// When: a mix of events is handled
	events := []FileEvent{
		{Path: filepath.Join(root, "a.md"), Operation: OpCreate},
		{Path: filepath.Join(root, "b.md"), Operation: OpModify},
		{Path: filepath.Join(root, "guides"), Operation: OpCreate, IsDir: true},
		{Path: filepath.Join(root, "c.md"), Operation: OpDelete},
		{Path: filepath.Join(root, "old"), Operation: OpRename},
		{Path: filepath.Join(root, "main.go"), Operation: OpModify},
		{Path: filepath.Join(root, "main.go"), Operation: OpDelete},
		{Path: filepath.Join(root, ".draft.md"), Operation: OpModify},
		{Path: "/elsewhere/x.md", Operation: OpModify},
	}
	for _, ev := range events {
		require.NoError(t, d.Handle(ctx, ev))
	}

	// Then: only document events inside the repository become requests
	assert.Equal(t, []request{
		{op: "index", target: "docs:/a.md"},
		{op: "index", target: "docs:/b.md"},
		{op: "index", target: "docs:/guides", recursive: true},
		{op: "unindex", target: "docs:/c.md"},
		{op: "unindex", target: "docs:/old", recursive: true},
	}, sink.Requests())
	assert.Equal(t, uint64(5), d.Submitted())
}

func TestDispatcher_RunStopsWhenPoolStopped(t *testing.T) {
	// Given: a sink whose lane has shut down
	locator, root := newLocator(t)
	sink := &recordingSink{err: errors.ErrPoolStopped}
	d := NewDispatcher(locator, sink, nil)
	events := make(chan []FileEvent, 1)
	events <- []FileEvent{{Path: filepath.Join(root, "a.md"), Operation: OpModify}}

	// When: running the dispatcher
	err := d.Run(context.Background(), events)

	// Then: it returns the admission error
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPoolStopped)
	assert.Equal(t, uint64(1), d.Refused())
}

func TestDispatcher_RunContinuesAfterOtherErrors(t *testing.T) {
	// Given: a sink that refuses with a non-fatal error
	locator, root := newLocator(t)
	sink := &recordingSink{err: errors.ErrIndexingDisabled}
	d := NewDispatcher(locator, sink, nil)
	events := make(chan []FileEvent, 2)
	events <- []FileEvent{{Path: filepath.Join(root, "a.md"), Operation: OpModify}}
	events <- []FileEvent{{Path: filepath.Join(root, "b.md"), Operation: OpModify}}
	close(events)

	// When: running until the channel closes
	err := d.Run(context.Background(), events)

	// Then: both events were attempted and Run ends cleanly
	require.NoError(t, err)
	assert.Equal(t, uint64(2), d.Refused())
}

func TestDispatcher_LogsAdmissionRefusalsQuietly(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"indexing disabled", errors.ErrIndexingDisabled, "level=INFO"},
		{"backend failure", errors.IOError("disk full", nil), "level=WARN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a sink refusing with err and a captured logger
			locator, root := newLocator(t)
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			d := NewDispatcher(locator, &recordingSink{err: tt.err}, logger)

			// When: an event is handled
			err := d.Handle(context.Background(), FileEvent{Path: filepath.Join(root, "a.md"), Operation: OpModify})

			// Then: the refusal is logged at the expected level
			require.Error(t, err)
			assert.Contains(t, buf.String(), "watch_event_refused")
			assert.Contains(t, buf.String(), tt.level)
		})
	}
}
