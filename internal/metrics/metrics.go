// Package metrics exposes indexing lane activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/pool"
	"github.com/Aman-CERP/indexpool/internal/task"
)

const namespace = "indexpool"

// Recorder counts task outcomes and rejections. It implements pool.Observer
// and queue.RejectionObserver.
type Recorder struct {
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rejected *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "started_total",
			Help:      "Tasks dispatched to a worker.",
		}, []string{"lane", "kind"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Tasks that left the lane, by outcome.",
		}, []string{"lane", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Backend call duration.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"lane", "kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "rejected_total",
			Help:      "Tasks refused by a bounded queue.",
		}, []string{"lane", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(r.started, r.finished, r.duration, r.rejected)
	}
	return r
}

// TaskStarted implements pool.Observer.
func (r *Recorder) TaskStarted(lane string, t task.Task) {
	r.started.WithLabelValues(lane, t.Kind.String()).Inc()
}

// TaskFinished implements pool.Observer.
func (r *Recorder) TaskFinished(lane string, t task.Task, outcome pool.Outcome, elapsed time.Duration) {
	r.finished.WithLabelValues(lane, t.Kind.String(), string(outcome)).Inc()
	if outcome != pool.OutcomeNotRun {
		r.duration.WithLabelValues(lane, t.Kind.String()).Observe(elapsed.Seconds())
	}
}

// Rejected implements queue.RejectionObserver.
func (r *Recorder) Rejected(lane string, _ task.Task, reason error) {
	label := "other"
	switch errors.GetCode(reason) {
	case errors.ErrCodeQueueFull:
		label = "queue_full"
	case errors.ErrCodePoolStopped:
		label = "closed"
	}
	r.rejected.WithLabelValues(lane, label).Inc()
}
