package kernel

import "github.com/DarwinGalicia/chaparrOS/internal/klist"

// Semaphore is an unsigned value plus an ordered wait queue, per
// spec.md §3/§4.4: arrival order is FIFO, but Up always wakes the
// waiter with the highest effective priority, re-sorting at pop time
// since priorities may have changed while a thread waited (the same
// "recompute at pop, not at insert" idiom the teacher's MicrotaskRing
// applies to its ready slots).
type Semaphore struct {
	sched *Scheduler
	value int
	waitq *klist.List[*Thread]
}

// NewSemaphore creates a semaphore with the given initial value. It is
// not yet bound to a Scheduler; Bind must be called (done automatically
// by Scheduler.NewSemaphore) before Down/Up are used.
func NewSemaphore(value int) *Semaphore {
	return &Semaphore{value: value, waitq: klist.New[*Thread]()}
}

// Bind attaches the semaphore to the scheduler whose interrupt-disabled
// critical sections protect its wait queue.
func (s *Semaphore) Bind(sched *Scheduler) { s.sched = sched }

// Down blocks the calling thread until the semaphore's value is
// positive, then decrements it, per spec.md §4.4.
//
// The wait loop cannot be a single withInterruptsDisabled closure: once
// the value is zero, the caller must release the scheduler's lock
// before parking on its own baton channel (relinquishing the CPU to
// whichever thread runs next), then re-acquire the lock to recheck the
// value after being granted the CPU again.
func (s *Semaphore) Down(caller *Thread) {
	for {
		done := false
		s.sched.withInterruptsDisabled(func() {
			if s.value > 0 {
				s.value--
				done = true
				return
			}
			s.sched.enqueueWaiterLocked(s.waitq, caller)
		})
		if done {
			return
		}
		s.sched.relinquish(caller, true)
	}
}

// TryDown attempts a non-blocking Down; returns true on success.
func (s *Semaphore) TryDown() bool {
	ok := false
	s.sched.withInterruptsDisabled(func() {
		if s.value > 0 {
			s.value--
			ok = true
		}
	})
	return ok
}

// Up increments the semaphore's value and, if any thread is waiting,
// wakes the one with the highest effective priority (FIFO among ties).
// If the newly-woken thread now outranks the caller, and the caller is
// not itself in an interrupt context, the caller yields, per spec.md
// §4.4.
func (s *Semaphore) Up(caller *Thread) {
	var woke *Thread
	s.sched.withInterruptsDisabled(func() {
		s.value++
		if t, ok := s.waitq.RemoveMax(func(t *Thread) int { return t.EffectivePriority() }); ok {
			woke = t
			s.sched.unblockLocked(t)
		}
	})
	if woke != nil && caller != nil && woke.EffectivePriority() > caller.EffectivePriority() {
		s.sched.ThreadYield(caller)
	}
}

// Lock is a binary semaphore plus holder tracking, the donation-aware
// primitive described in spec.md §4.3/§4.4.
type Lock struct {
	sema   *Semaphore
	holder *Thread
}

// NewLock creates an unheld lock.
func NewLock() *Lock {
	return &Lock{sema: NewSemaphore(1)}
}

// Bind attaches the lock's internal semaphore to a scheduler.
func (l *Lock) Bind(sched *Scheduler) { l.sema.Bind(sched) }

// Holder returns the thread currently holding the lock, or nil.
func (l *Lock) Holder() *Thread { return l.holder }

// HeldByCurrentThread returns l.Holder() == current.
func (l *Lock) HeldByCurrentThread(current *Thread) bool {
	return l.holder == current
}

// Acquire walks the donation chain (spec.md §4.3) if the lock is held,
// blocks until it is free, then records the caller as holder.
func (l *Lock) Acquire(caller *Thread) {
	sched := l.sema.sched
	sched.withInterruptsDisabled(func() {
		if l.holder != nil {
			caller.waitingFor = l
			sched.donate(caller, l)
		}
	})
	l.sema.Down(caller)
	sched.withInterruptsDisabled(func() {
		caller.waitingFor = nil
		l.holder = caller
		caller.holding = append(caller.holding, l)
	})
}

// TryAcquire attempts sema_try_down and, on success, records the
// holder without running the donation walk, per spec.md §4.4.
func (l *Lock) TryAcquire(caller *Thread) bool {
	if !l.sema.TryDown() {
		return false
	}
	sched := l.sema.sched
	sched.withInterruptsDisabled(func() {
		l.holder = caller
		caller.holding = append(caller.holding, l)
	})
	return true
}

// Release removes the lock from the holder's held set, recomputes the
// holder's effective priority, and wakes the highest-priority waiter,
// per spec.md §4.3.
func (l *Lock) Release(caller *Thread) {
	sched := l.sema.sched
	sched.withInterruptsDisabled(func() {
		l.holder = nil
		for i, held := range caller.holding {
			if held == l {
				caller.holding = append(caller.holding[:i], caller.holding[i+1:]...)
				break
			}
		}
		sched.recomputeEffective(caller)
	})
	l.sema.Up(caller)
}

// condWaiter is a one-shot rendezvous point for a single cond_wait
// call, per spec.md §4.4.
type condWaiter struct {
	owner *Thread
	sema  *Semaphore
}

// Cond is a condition variable: an ordered list of per-waiter
// semaphores, per spec.md §3/§4.4.
type Cond struct {
	sched   *Scheduler
	waiters *klist.List[*condWaiter]
}

// NewCond creates a condition variable.
func NewCond(sched *Scheduler) *Cond {
	return &Cond{sched: sched, waiters: klist.New[*condWaiter]()}
}

// Wait requires l to be held by caller. It atomically releases l,
// blocks until signaled, then reacquires l, per spec.md §4.4.
func (c *Cond) Wait(l *Lock, caller *Thread) {
	w := &condWaiter{owner: caller, sema: NewSemaphore(0)}
	w.sema.Bind(c.sched)
	c.sched.withInterruptsDisabled(func() {
		c.waiters.PushBack(w)
	})
	l.Release(caller)
	w.sema.Down(caller)
	l.Acquire(caller)
}

// Signal wakes the waiter whose owning thread has the highest
// effective priority, if any, per spec.md §4.4.
func (c *Cond) Signal(caller *Thread) {
	var w *condWaiter
	c.sched.withInterruptsDisabled(func() {
		w, _ = c.waiters.RemoveMax(func(w *condWaiter) int { return w.owner.EffectivePriority() })
	})
	if w != nil {
		w.sema.Up(caller)
	}
}

// Broadcast signals every waiter in priority order until the list is
// empty.
func (c *Cond) Broadcast(caller *Thread) {
	for {
		empty := false
		c.sched.withInterruptsDisabled(func() {
			empty = c.waiters.Len() == 0
		})
		if empty {
			return
		}
		c.Signal(caller)
	}
}
