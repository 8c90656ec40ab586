package pool

// RecyclePolicy decides when a worker should retire its current incarnation
// and start a fresh one. executed counts tasks run by the current incarnation.
type RecyclePolicy interface {
	ShouldRecycle(executed int) bool
}

// RecycleFunc adapts a function to RecyclePolicy.
type RecycleFunc func(executed int) bool

// ShouldRecycle calls f.
func (f RecycleFunc) ShouldRecycle(executed int) bool { return f(executed) }

// EveryN recycles a worker after n tasks. n <= 0 never recycles.
func EveryN(n int) RecyclePolicy {
	if n <= 0 {
		return nil
	}
	return RecycleFunc(func(executed int) bool { return executed >= n })
}
