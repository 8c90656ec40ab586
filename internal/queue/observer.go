package queue

import (
	"log/slog"

	"github.com/Aman-CERP/indexpool/internal/task"
)

// RejectionObserver is told about tasks a bounded buffer refused.
// Implementations must not block.
type RejectionObserver interface {
	Rejected(lane string, t task.Task, reason error)
}

// RejectionFunc adapts a function to RejectionObserver.
type RejectionFunc func(lane string, t task.Task, reason error)

// Rejected calls f.
func (f RejectionFunc) Rejected(lane string, t task.Task, reason error) {
	f(lane, t, reason)
}

// LogRejections returns an observer that logs each rejection as a warning.
func LogRejections(logger *slog.Logger) RejectionObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return RejectionFunc(func(lane string, t task.Task, reason error) {
		logger.Warn("task_rejected",
			slog.String("lane", lane),
			slog.String("kind", t.Kind.String()),
			slog.String("target", t.Key()),
			slog.String("reason", reason.Error()))
	})
}

// Rejections fans a rejection out to several observers.
type Rejections []RejectionObserver

// Rejected notifies every non-nil observer in order.
func (rs Rejections) Rejected(lane string, t task.Task, reason error) {
	for _, r := range rs {
		if r != nil {
			r.Rejected(lane, t, reason)
		}
	}
}

// notify calls the observer and swallows any panic it raises.
func notify(obs RejectionObserver, logger *slog.Logger, lane string, t task.Task, reason error) {
	if obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("rejection observer panicked",
				slog.String("lane", lane),
				slog.Any("panic", r))
		}
	}()
	obs.Rejected(lane, t, reason)
}
