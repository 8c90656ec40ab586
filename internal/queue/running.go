package queue

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Aman-CERP/indexpool/internal/task"
)

// RunningSet holds the tasks currently executing, keyed by target.
// A key is present only while exactly one worker executes a task for it.
type RunningSet struct {
	tasks *xsync.MapOf[string, task.Task]
}

// NewRunningSet returns an empty set.
func NewRunningSet() *RunningSet {
	return &RunningSet{tasks: xsync.NewMapOf[string, task.Task]()}
}

// Claim records t as running. If another task already holds the key it is
// returned with ok=false and the set is left unchanged.
func (s *RunningSet) Claim(t task.Task) (holder task.Task, ok bool) {
	holder, loaded := s.tasks.LoadOrStore(t.Key(), t)
	return holder, !loaded
}

// Release removes key from the set.
func (s *RunningSet) Release(key string) {
	s.tasks.Delete(key)
}

// Contains reports whether a task for key is running.
func (s *RunningSet) Contains(key string) bool {
	_, ok := s.tasks.Load(key)
	return ok
}

// Len returns the number of running tasks.
func (s *RunningSet) Len() int {
	return s.tasks.Size()
}

// Keys returns the running keys in sorted order.
func (s *RunningSet) Keys() []string {
	keys := make([]string, 0, s.tasks.Size())
	s.tasks.Range(func(key string, _ task.Task) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}
