package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/indexpool/internal/admission"
	"github.com/Aman-CERP/indexpool/internal/pool"
)

// StatsSource provides lane statistics on demand.
type StatsSource interface {
	Stats() admission.Stats
}

// LaneCollector reports lane gauges and counters read at scrape time.
type LaneCollector struct {
	source StatsSource

	workers       *prometheus.Desc
	active        *prometheus.Desc
	queueDepth    *prometheus.Desc
	awaiting      *prometheus.Desc
	running       *prometheus.Desc
	completed     *prometheus.Desc
	failed        *prometheus.Desc
	coalesced     *prometheus.Desc
	recycled      *prometheus.Desc
	violations    *prometheus.Desc
	oldestWait    *prometheus.Desc
	reindexingAll *prometheus.Desc
	throttled     *prometheus.Desc
}

// NewLaneCollector creates a collector over source.
func NewLaneCollector(source StatsSource) *LaneCollector {
	lane := []string{"lane"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "lane", name), help, labels, nil)
	}
	return &LaneCollector{
		source:     source,
		workers:    desc("workers", "Live worker goroutines.", lane),
		active:     desc("active_tasks", "Tasks executing in the backend.", lane),
		queueDepth: desc("queue_depth", "Queued tasks, ready plus awaiting.", lane),
		awaiting:   desc("awaiting_tasks", "Queued tasks deferred because their target was running.", lane),
		running:    desc("running_targets", "Targets held in the running set.", lane),
		completed:  desc("completed_total", "Tasks executed, successful or not.", lane),
		failed:     desc("failed_total", "Tasks whose backend call failed.", lane),
		coalesced:  desc("coalesced_total", "Submissions merged into an already queued task.", lane),
		recycled:   desc("recycled_total", "Worker incarnations retired by the recycle policy.", lane),
		violations: desc("running_set_conflicts_total", "Dispatches that found their target already running.", lane),
		oldestWait: desc("oldest_wait_seconds", "Age of the oldest queued task.", lane),
		reindexingAll: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "reindexing_all"),
			"1 while a repository-wide reindex is queued or running.", nil, nil),
		throttled: prometheus.NewDesc(prometheus.BuildFQName(namespace, "admission", "throttled_total"),
			"Submissions that waited for queue capacity.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *LaneCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.workers, c.active, c.queueDepth, c.awaiting, c.running, c.completed, c.failed,
		c.coalesced, c.recycled, c.violations, c.oldestWait, c.reindexingAll, c.throttled,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *LaneCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	c.collectLane(ch, stats.Interactive)
	if stats.Bulk.Lane != "" {
		c.collectLane(ch, stats.Bulk)
	}

	reindexing := 0.0
	if stats.ReindexingAll {
		reindexing = 1
	}
	ch <- prometheus.MustNewConstMetric(c.reindexingAll, prometheus.GaugeValue, reindexing)
	ch <- prometheus.MustNewConstMetric(c.throttled, prometheus.CounterValue, float64(stats.Throttled))
}

func (c *LaneCollector) collectLane(ch chan<- prometheus.Metric, s pool.Stats) {
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Lane)
	}
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), s.Lane)
	}
	gauge(c.workers, float64(s.Workers))
	gauge(c.active, float64(s.Active))
	gauge(c.queueDepth, float64(s.QueueDepth))
	gauge(c.awaiting, float64(s.Awaiting))
	gauge(c.running, float64(s.Running))
	gauge(c.oldestWait, s.OldestWait.Seconds())
	counter(c.completed, s.Completed)
	counter(c.failed, s.Failed)
	counter(c.coalesced, s.Coalesced)
	counter(c.recycled, s.Recycled)
	counter(c.violations, s.Violations)
}
