package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DispatchCounts is implemented by watcher.Dispatcher.
type DispatchCounts interface {
	Submitted() uint64
	Refused() uint64
}

// WatchCounts is implemented by watcher.FSWatcher.
type WatchCounts interface {
	Errors() uint64
	Pending() int
}

// RegisterWatch exposes the document-save listener on reg. The values are
// read at scrape time.
func RegisterWatch(reg prometheus.Registerer, d DispatchCounts, w WatchCounts) error {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "watch", Name: name, Help: help}
	}
	cs := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("events_submitted_total",
			"File events turned into indexing requests.")),
			func() float64 { return float64(d.Submitted()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("events_refused_total",
			"File events whose indexing request was refused.")),
			func() float64 { return float64(d.Refused()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("errors_total",
			"Errors reported by the file system watcher.")),
			func() float64 { return float64(w.Errors()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts("pending_events",
			"Paths waiting for the debounce window to elapse.")),
			func() float64 { return float64(w.Pending()) }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
