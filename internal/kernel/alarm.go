package kernel

import "github.com/DarwinGalicia/chaparrOS/pkg/fixedpoint"

// Tick advances the kernel's simulated clock by one timer tick: it
// accounts recent_cpu for the running thread, wakes any thread whose
// TimerSleep has elapsed (flagging preemptPending if a newly-woken
// thread now outranks the one running, spec.md §4.2's second
// preemption trigger), and, under MLFQS only, recomputes every
// thread's priority every four ticks and the load average and every
// thread's recent_cpu every TimerFreq ticks, per spec.md §4.5. The
// first preemption trigger, quantum expiry, is flagged here too. Both
// triggers are only acted on at the running thread's next Checkpoint
// call. If the idle thread holds the CPU while threads are Ready, Tick
// grants the idle thread so that it hands the CPU over. Tick is meant
// to be driven by a
// single dedicated ticker goroutine (see Scheduler.Run), never called
// concurrently with itself.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	s.ticks++
	tick := s.ticks
	if s.current != nil && s.current != s.idle {
		s.current.recentCPU = s.current.recentCPU.AddInt(1)
		s.quantumTicks++
	}

	s.wakeDueLocked(tick)

	if s.mlfqs {
		if tick%4 == 0 {
			s.all.Do(func(t *Thread) { s.recomputeMLFQSPriorityLocked(t) })
		}
		if tick%TimerFreq == 0 {
			s.recomputeLoadAvgLocked()
			s.all.Do(func(t *Thread) { s.recomputeRecentCPULocked(t) })
			s.all.Do(func(t *Thread) { s.recomputeMLFQSPriorityLocked(t) })
		}
	}

	preempt := s.current != nil && s.current != s.idle && s.quantumTicks >= s.timeSlice
	if preempt {
		s.preemptPending = true
	}
	idleWithWork := s.current == s.idle && s.ready.Len() > 0
	s.mu.Unlock()
	if idleWithWork {
		select {
		case s.idle.grant <- struct{}{}:
		default:
		}
	}
}

// wakeDueLocked pops every thread from the sleep list (kept sorted
// ascending by wake tick via klist.InsertSorted) whose wake tick has
// arrived, and unblocks it. If a woken thread now outranks the
// currently running one, this is spec.md §4.2's second preemption
// trigger ("or when a higher-priority thread becomes READY"): it marks
// preemptPending exactly as a quantum expiry would, for the running
// thread's next Checkpoint call to act on. Caller must hold s.mu.
func (s *Scheduler) wakeDueLocked(tick uint64) {
	for {
		t, ok := s.sleep.PopFront()
		if !ok {
			return
		}
		if t.wakeTick > tick {
			s.sleep.PushFront(t)
			return
		}
		s.unblockLocked(t)
		if s.current != nil && s.current != s.idle && t.EffectivePriority() > s.current.EffectivePriority() {
			s.preemptPending = true
		}
	}
}

// TimerSleep blocks caller until at least ticks timer ticks have
// elapsed, per spec.md §4.5 (timer_sleep). A non-positive ticks
// returns immediately without yielding, matching the documented
// behavior of the original.
func (s *Scheduler) TimerSleep(caller *Thread, ticks int64) {
	if ticks <= 0 {
		return
	}
	s.mu.Lock()
	caller.wakeTick = s.ticks + uint64(ticks)
	caller.state.Store(Blocked)
	s.sleep.InsertSorted(caller, func(a, b *Thread) bool { return a.wakeTick < b.wakeTick })
	s.mu.Unlock()
	s.relinquish(caller, true)
}

// Checkpoint is the cooperative-preemption point a CPU-bound thread
// body is required to call at its loop-iteration boundaries (spec.md
// §9's documented simplification in place of a real timer interrupt
// trap, since a baton-model thread holds the CPU until it voluntarily
// gives it up): if Tick has flagged this thread's quantum expired, or
// a higher-priority thread ready, while it was the one running,
// Checkpoint yields the CPU exactly the way a timer interrupt return
// would. A thread body that never blocks and never calls Checkpoint
// runs to completion regardless of ticks, the same way a Pintos thread
// that disabled interrupts forever would starve the rest of the
// system; cmd/chaparros's "busy-process" scripted program and
// TestCheckpointPreemptsAfterTimeSlice follow the contract.
func (s *Scheduler) Checkpoint(caller *Thread) {
	s.mu.Lock()
	yield := s.preemptPending && s.current == caller
	if yield {
		s.preemptPending = false
	}
	s.mu.Unlock()
	if yield {
		s.ThreadYield(caller)
	}
}

// recomputeMLFQSPriorityLocked applies the MLFQS priority formula:
// PRI_MAX - (recent_cpu / 4) - (nice * 2), clamped to [PriMin,PriMax].
// Caller must hold s.mu.
func (s *Scheduler) recomputeMLFQSPriorityLocked(t *Thread) {
	p := fixedpoint.FromInt(PriMax).
		Sub(t.recentCPU.DivInt(4)).
		SubInt(t.nice * 2).
		ToIntRound()
	t.setEffectivePriority(p)
	t.basePriority = t.EffectivePriority()
}

// recomputeLoadAvgLocked applies load_avg = (59/60)*load_avg +
// (1/60)*ready_threads, where ready_threads counts the running thread
// (if not idle) plus everything on the ready list, per spec.md §4.5.
// Caller must hold s.mu.
func (s *Scheduler) recomputeLoadAvgLocked() {
	ready := s.ready.Len()
	if s.current != nil && s.current != s.idle {
		ready++
	}
	fiftyNineSixtieths := fixedpoint.FromInt(59).Div(fixedpoint.FromInt(60))
	oneSixtieth := fixedpoint.FromInt(1).Div(fixedpoint.FromInt(60))
	s.loadAvg = s.loadAvg.Mul(fiftyNineSixtieths).Add(oneSixtieth.MulInt(ready))
}

// recomputeRecentCPULocked applies recent_cpu = (2*load_avg) /
// (2*load_avg + 1) * recent_cpu + nice, per spec.md §4.5. Caller must
// hold s.mu.
func (s *Scheduler) recomputeRecentCPULocked(t *Thread) {
	twoLoadAvg := s.loadAvg.MulInt(2)
	coeff := twoLoadAvg.Div(twoLoadAvg.AddInt(1))
	t.recentCPU = coeff.Mul(t.recentCPU).AddInt(t.nice)
}

// ThreadSetNice sets caller's MLFQS niceness, recomputes its priority,
// and yields if it no longer has the highest priority, per spec.md
// §4.5 (thread_set_nice).
func (s *Scheduler) ThreadSetNice(caller *Thread, nice int) {
	if nice < NiceMin {
		nice = NiceMin
	}
	if nice > NiceMax {
		nice = NiceMax
	}
	s.mu.Lock()
	caller.nice = nice
	s.recomputeMLFQSPriorityLocked(caller)
	s.mu.Unlock()
	s.maybeYieldToHigherPriority(caller)
}

// ThreadGetNice returns caller's niceness.
func (s *Scheduler) ThreadGetNice(caller *Thread) int { return caller.nice }

// ThreadGetRecentCPU returns caller's recent_cpu, scaled by 100 and
// rounded, per spec.md §4.5.
func (s *Scheduler) ThreadGetRecentCPU(caller *Thread) int {
	return caller.RecentCPU()
}

// ThreadGetLoadAvg returns the system load average, scaled by 100 and
// rounded, per spec.md §4.5.
func (s *Scheduler) ThreadGetLoadAvg() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg.MulInt(100).ToIntRound()
}
