package pool

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/indexpool/internal/queue"
)

// Default lane sizing.
const (
	DefaultMinWorkers    = 2
	DefaultMaxWorkers    = 5
	DefaultKeepAlive     = 30 * time.Second
	DefaultQueueCapacity = queue.DefaultCapacity
)

// Config sizes and wires one lane.
type Config struct {
	// Name identifies the lane in logs, stats and metrics.
	Name string

	// MinWorkers are started eagerly on the first submission.
	MinWorkers int

	// MaxWorkers bounds the lane; workers above MinWorkers are started on
	// backlog and exit after KeepAlive without work.
	MaxWorkers int
	KeepAlive  time.Duration

	// QueueCapacity bounds the ready list of the lane's queue.
	QueueCapacity int

	// TaskTimeout is the per-task deadline. Zero disables it.
	//
	// On expiry the worker reports ErrTaskTimeout and releases the key while
	// the backend call keeps running with a cancelled context. Until that call
	// returns, a later task for the same key may overlap it at the backend.
	// The same holds for calls still running when a forced shutdown returns.
	TaskTimeout time.Duration

	// Recycle decides when a worker starts a fresh incarnation. Nil never recycles.
	Recycle RecyclePolicy

	Observer   Observer
	Rejections queue.RejectionObserver
	Logger     *slog.Logger
}

// DefaultConfig returns the interactive lane defaults.
func DefaultConfig() Config {
	return Config{
		Name:          "interactive",
		MinWorkers:    DefaultMinWorkers,
		MaxWorkers:    DefaultMaxWorkers,
		KeepAlive:     DefaultKeepAlive,
		QueueCapacity: DefaultQueueCapacity,
	}
}

// SingleSlot returns the configuration of an isolated one-worker lane with a
// one-task queue.
func SingleSlot(name string) Config {
	return Config{
		Name:          name,
		MinWorkers:    1,
		MaxWorkers:    1,
		QueueCapacity: 1,
	}
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "interactive"
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MinWorkers == 0 {
		c.MinWorkers = min(DefaultMinWorkers, c.MaxWorkers)
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the sizing after defaults are applied.
func (c Config) Validate() error {
	if c.MinWorkers < 1 {
		return fmt.Errorf("lane %s: min workers must be at least 1, got %d", c.Name, c.MinWorkers)
	}
	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("lane %s: max workers (%d) must be >= min workers (%d)", c.Name, c.MaxWorkers, c.MinWorkers)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("lane %s: queue capacity must be at least 1, got %d", c.Name, c.QueueCapacity)
	}
	if c.KeepAlive < 0 || c.TaskTimeout < 0 {
		return fmt.Errorf("lane %s: durations must not be negative", c.Name)
	}
	return nil
}
