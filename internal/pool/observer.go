package pool

import (
	"time"

	"github.com/Aman-CERP/indexpool/internal/task"
)

// Outcome classifies how a task ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
	OutcomePanic   Outcome = "panic"
	// OutcomeNotRun is reported for tasks discarded by a forced shutdown.
	OutcomeNotRun Outcome = "not_run"
)

// Observer receives task lifecycle events from a lane. Calls are made from
// worker goroutines and must not block.
type Observer interface {
	TaskStarted(lane string, t task.Task)
	TaskFinished(lane string, t task.Task, outcome Outcome, elapsed time.Duration)
}

// Observers fans events out to several observers.
type Observers []Observer

// TaskStarted forwards to every non-nil observer.
func (obs Observers) TaskStarted(lane string, t task.Task) {
	for _, o := range obs {
		if o != nil {
			o.TaskStarted(lane, t)
		}
	}
}

// TaskFinished forwards to every non-nil observer.
func (obs Observers) TaskFinished(lane string, t task.Task, outcome Outcome, elapsed time.Duration) {
	for _, o := range obs {
		if o != nil {
			o.TaskFinished(lane, t, outcome, elapsed)
		}
	}
}

// FinishedFunc adapts a completion callback to Observer.
type FinishedFunc func(lane string, t task.Task, outcome Outcome)

// TaskStarted does nothing.
func (f FinishedFunc) TaskStarted(string, task.Task) {}

// TaskFinished calls f(lane, t, outcome).
func (f FinishedFunc) TaskFinished(lane string, t task.Task, outcome Outcome, _ time.Duration) {
	f(lane, t, outcome)
}
