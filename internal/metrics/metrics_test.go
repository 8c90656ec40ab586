package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexpool/internal/admission"
	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/pool"
	"github.com/Aman-CERP/indexpool/internal/queue"
	"github.com/Aman-CERP/indexpool/internal/task"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

var (
	_ pool.Observer           = (*Recorder)(nil)
	_ queue.RejectionObserver = (*Recorder)(nil)
)

func TestRecorder_CountsOutcomes(t *testing.T) {
	// Given: a recorder on a private registry
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	tk := task.Index(indexer.NewDocRef("docs", "a.md"), false)

	// When: tasks start and finish
	r.TaskStarted("interactive", tk)
	r.TaskFinished("interactive", tk, pool.OutcomeSuccess, 20*time.Millisecond)
	r.TaskFinished("interactive", tk, pool.OutcomeNotRun, 0)
	r.Rejected("bulk", tk, errors.ErrQueueFull)

	// Then: each series reflects the events
	assert.Equal(t, 1.0, testutil.ToFloat64(r.started.WithLabelValues("interactive", "index")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.finished.WithLabelValues("interactive", "index", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.finished.WithLabelValues("interactive", "index", "not_run")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rejected.WithLabelValues("bulk", "queue_full")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

type staticStats admission.Stats

func (s staticStats) Stats() admission.Stats { return admission.Stats(s) }

func TestLaneCollector_ReportsBothLanes(t *testing.T) {
	// Given: stats for two lanes with a bulk reindex running
	src := staticStats{
		Interactive:   pool.Stats{Lane: "interactive", Workers: 3, QueueDepth: 7, Completed: 42},
		Bulk:          pool.Stats{Lane: "bulk", Workers: 1, Active: 1},
		ReindexingAll: true,
		Throttled:     2,
	}
	c := NewLaneCollector(src)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	// Then: per-lane series exist for both lanes
	assert.Equal(t, 2, testutil.CollectAndCount(c, "indexpool_lane_workers"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "indexpool_reindexing_all"))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "/" + l.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				values[key] = g.GetValue()
			}
			if ctr := m.GetCounter(); ctr != nil {
				values[key] = ctr.GetValue()
			}
		}
	}
	assert.Equal(t, 7.0, values["indexpool_lane_queue_depth/interactive"])
	assert.Equal(t, 42.0, values["indexpool_lane_completed_total/interactive"])
	assert.Equal(t, 1.0, values["indexpool_lane_active_tasks/bulk"])
	assert.Equal(t, 1.0, values["indexpool_reindexing_all"])
	assert.Equal(t, 2.0, values["indexpool_admission_throttled_total"])
}

type fakeWatch struct {
	submitted, refused, errs uint64
	pending                  int
}

func (f *fakeWatch) Submitted() uint64 { return f.submitted }
func (f *fakeWatch) Refused() uint64   { return f.refused }
func (f *fakeWatch) Errors() uint64    { return f.errs }
func (f *fakeWatch) Pending() int      { return f.pending }

func TestRegisterWatch_ReadsAtScrapeTime(t *testing.T) {
	// Given: watcher counters registered on a private registry
	w := &fakeWatch{}
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterWatch(reg, w, w))

	// When: the counters move after registration
	w.submitted, w.refused, w.errs, w.pending = 5, 2, 1, 3

	// Then: a scrape sees the current values
	expected := strings.NewReader(`
# HELP indexpool_watch_events_refused_total File events whose indexing request was refused.
# TYPE indexpool_watch_events_refused_total counter
indexpool_watch_events_refused_total 2
# HELP indexpool_watch_events_submitted_total File events turned into indexing requests.
# TYPE indexpool_watch_events_submitted_total counter
indexpool_watch_events_submitted_total 5
# HELP indexpool_watch_pending_events Paths waiting for the debounce window to elapse.
# TYPE indexpool_watch_pending_events gauge
indexpool_watch_pending_events 3
`)
	assert.NoError(t, testutil.GatherAndCompare(reg, expected,
		"indexpool_watch_events_submitted_total",
		"indexpool_watch_events_refused_total",
		"indexpool_watch_pending_events"))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)

	// And: registering twice is refused
	assert.Error(t, RegisterWatch(reg, w, w))
}
