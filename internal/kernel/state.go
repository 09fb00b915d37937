package kernel

import "sync/atomic"

// State is a thread's position in its lifecycle, per spec.md §3.
type State uint32

const (
	// Running is the single currently-executing thread.
	Running State = iota
	// Ready means runnable, sitting on the scheduler's ready list.
	Ready
	// Blocked means waiting for an event: a lock, a condition variable,
	// a semaphore, or the sleep-list wakeup tick.
	Blocked
	// Dying means thread_exit has been called; the thread has given up
	// the CPU for good and is never scheduled again.
	Dying
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Ready:
		return "READY"
	case Blocked:
		return "BLOCKED"
	case Dying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

// atomicState is a lock-free state holder, modeled on the teacher's
// FastState: the status field is read by the timer-tick path and
// written by the scheduler path, so it is plain atomic CAS rather than
// mutex-guarded, matching spec.md §5's "disable interrupts only for the
// minimum span needed" discipline applied to a single word.
type atomicState struct {
	v atomic.Uint32
}

func newAtomicState(initial State) *atomicState {
	s := &atomicState{}
	s.v.Store(uint32(initial))
	return s
}

func (s *atomicState) Load() State {
	return State(s.v.Load())
}

func (s *atomicState) Store(state State) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically move from `from` to `to`.
func (s *atomicState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
