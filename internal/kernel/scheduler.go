// Package kernel implements chaparrOS's thread scheduling and
// synchronization core (spec.md §§2-5): the ready queue and MLFQS
// selection policy, priority donation, the semaphore/lock/condvar
// family, and the tick-driven sleep list.
//
// There is no real hardware here, so "one CPU, one running thread at a
// time" is modeled as a baton handed goroutine to goroutine: every
// Thread owns a buffered channel (grant) that the scheduler sends to
// exactly when that thread becomes the one allowed to run, and every
// thread's body blocks on its own grant channel whenever it yields,
// blocks, or waits for the CPU again. Scheduler.mu stands in for
// intr_disable/intr_enable: it protects the ready list, the sleep
// list, and every thread's status/priority/donation bookkeeping, the
// same set of shared resources spec.md §5 names.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DarwinGalicia/chaparrOS/internal/klist"
	"github.com/DarwinGalicia/chaparrOS/internal/klog"
	"github.com/DarwinGalicia/chaparrOS/pkg/fixedpoint"
)

// Option configures a Scheduler at construction, following the
// teacher's LoopOption/loopOptionImpl functional-options idiom
// (options.go in the reference event loop).
type Option func(*config)

type config struct {
	mlfqs     bool
	timeSlice int
	logger    *klog.Logger
}

// WithMLFQS selects the multi-level feedback queue scheduler in place
// of strict priority + round-robin, the Go analogue of the "-o mlfqs"
// kernel command-line flag (spec.md §4.6/§6).
func WithMLFQS() Option {
	return func(c *config) { c.mlfqs = true }
}

// WithTimeSlice overrides the default TimeSlice quantum, in ticks.
func WithTimeSlice(ticks int) Option {
	return func(c *config) { c.timeSlice = ticks }
}

// WithLogger installs a structured logger; components default to
// klog.Default() otherwise.
func WithLogger(l *klog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Scheduler is the process-wide kernel context: the all-threads
// roster, the ready list, the sleep list, and (under MLFQS) the
// system-wide load_avg and the idle thread. Spec.md §9 asks that this
// state be "a single kernel context value passed or stored once, not
// ambient globals sprinkled across modules" — Scheduler is that value.
type Scheduler struct {
	mu sync.Mutex

	all   *klist.List[*Thread]
	ready *klist.List[*Thread]
	sleep *klist.List[*Thread]

	current *Thread
	idle    *Thread

	nextID atomic.Int64

	ticks          uint64
	quantumTicks   int
	timeSlice      int
	preemptPending bool

	mlfqs   bool
	loadAvg fixedpoint.Fixed

	log *klog.Logger
}

// New constructs a Scheduler. Boot must be called once before any
// other method to designate the calling goroutine as the initial
// ("main") thread and start the idle thread.
func New(opts ...Option) *Scheduler {
	cfg := config{timeSlice: TimeSlice}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = klog.Default()
	}
	return &Scheduler{
		all:       klist.New[*Thread](),
		ready:     klist.New[*Thread](),
		sleep:     klist.New[*Thread](),
		timeSlice: cfg.timeSlice,
		mlfqs:     cfg.mlfqs,
		log:       cfg.logger,
	}
}

// withInterruptsDisabled runs fn with the scheduler's lock held. fn
// must never block: all bookkeeping inside it (status changes, queue
// manipulation, donation) is O(n) in the number of threads and must
// complete without relinquishing the CPU, mirroring spec.md §5's "all
// queue manipulation, status transitions, and donation walks run with
// interrupts disabled".
func (s *Scheduler) withInterruptsDisabled(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Boot allocates the initial ("main") thread, representing the
// goroutine calling Boot, and starts the idle thread. It must be
// called exactly once, before any other Scheduler method.
func (s *Scheduler) Boot(mainName string) *Thread {
	main := newThread(s.allocID(), mainName, PriDefault)
	main.state.Store(Running)
	s.mu.Lock()
	if s.mlfqs {
		s.recomputeMLFQSPriorityLocked(main)
	}
	main.allElem = s.all.PushBack(main)
	s.current = main
	s.mu.Unlock()

	idle := newThread(s.allocID(), "idle", PriMin)
	s.mu.Lock()
	idle.allElem = s.all.PushBack(idle)
	s.idle = idle
	s.mu.Unlock()
	go s.idleLoop(idle)

	s.log.Debug().Str("thread", mainName).Log("kernel booted")
	return main
}

func (s *Scheduler) allocID() ID {
	return ID(s.nextID.Add(1))
}

// idleLoop is the designated idle thread's body. Each time it is
// granted the CPU it marks itself Blocked and relinquishes, handing the
// CPU to any Ready thread; with none ready it stays current, parked on
// its grant channel until a blocking thread or Tick (when a sleeper
// wakes) grants it again. It never holds s.mu across iterations.
func (s *Scheduler) idleLoop(idle *Thread) {
	for {
		<-idle.grant
		// Nothing runnable exists; immediately give another thread
		// (or itself again) the chance to run, the same way Pintos'
		// idle thread calls thread_block right after being scheduled.
		s.mu.Lock()
		idle.state.Store(Blocked)
		s.mu.Unlock()
		s.relinquish(idle, true)
	}
}

// pickNextLocked returns the next thread to run: the highest
// effective-priority Ready thread (FIFO among ties, per spec.md §4.2),
// or the idle thread if none is ready. Caller must hold s.mu.
func (s *Scheduler) pickNextLocked() *Thread {
	if t, ok := s.ready.RemoveMax(func(t *Thread) int { return t.EffectivePriority() }); ok {
		return t
	}
	return s.idle
}

// relinquish hands the CPU baton to the next thread to run. If wait is
// true, the calling goroutine (caller) then parks on its own grant
// channel until granted the CPU again — the caller must already have
// recorded its non-Running status and queue membership (if any) before
// calling relinquish, since relinquish itself does not touch caller's
// bookkeeping beyond the handoff.
func (s *Scheduler) relinquish(caller *Thread, wait bool) {
	s.mu.Lock()
	next := s.pickNextLocked()
	s.current = next
	next.state.Store(Running)
	s.quantumTicks = 0
	s.mu.Unlock()

	// If the scheduler reselects the caller itself — it was the only
	// ready thread, or it is the idle thread falling back to itself —
	// there is no handoff to perform: the caller is already the one
	// running, so it returns without parking on its own grant channel.
	if next == caller {
		return
	}
	next.grant <- struct{}{}
	if wait {
		<-caller.grant
	}
}

// enqueueWaiterLocked marks t Blocked and appends it to list. Caller
// must hold s.mu.
func (s *Scheduler) enqueueWaiterLocked(list *klist.List[*Thread], t *Thread) {
	t.checkMagic()
	t.state.Store(Blocked)
	list.PushBack(t)
}

// unblockLocked marks t Ready and inserts it into the ready list.
// Caller must hold s.mu. Requires t.Status() == Blocked, per spec.md
// §4.2.
func (s *Scheduler) unblockLocked(t *Thread) {
	if !t.state.TryTransition(Blocked, Ready) {
		panic(fmt.Sprintf("kernel: thread_unblock on thread %q not Blocked (status=%s)", t.Name, t.state.Load()))
	}
	s.ready.PushBack(t)
}

// NewSemaphore creates a semaphore already bound to this scheduler.
func (s *Scheduler) NewSemaphore(value int) *Semaphore {
	sem := NewSemaphore(value)
	sem.Bind(s)
	return sem
}

// NewLock creates a lock already bound to this scheduler.
func (s *Scheduler) NewLock() *Lock {
	l := NewLock()
	l.Bind(s)
	return l
}

// NewCond creates a condition variable bound to this scheduler.
func (s *Scheduler) NewCond() *Cond {
	return NewCond(s)
}

// Current returns the thread the scheduler currently believes is
// running. Safe to call from any goroutine.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ThreadCreate allocates a new thread in the Blocked state, registers
// it in the all-threads roster, then unblocks it (making it Ready).
// Per spec.md §4.2, if the new thread's effective priority exceeds the
// creator's, the creator yields immediately — which, combined with the
// FIFO-among-equals ready-queue policy, guarantees the new thread runs
// at least once before ThreadCreate returns whenever it outranks its
// creator.
func (s *Scheduler) ThreadCreate(creator *Thread, name string, priority int, fn Func, aux any) (*Thread, error) {
	if priority < PriMin || priority > PriMax {
		return nil, fmt.Errorf("kernel: priority %d out of range [%d,%d]", priority, PriMin, PriMax)
	}
	t := newThread(s.allocID(), name, priority)
	t.fn = fn
	t.aux = aux
	if s.mlfqs {
		s.mu.Lock()
		t.nice = creator.nice
		t.recentCPU = creator.recentCPU
		s.mu.Unlock()
		s.recomputeMLFQSPriorityLocked(t)
	}

	go func() {
		<-t.grant
		t.fn(t.aux)
		// A user-process body is expected to call process.Manager.Exit
		// itself (the PCB-aware exit path); this is the fallback for a
		// plain kernel thread function that simply returns.
		if t.state.Load() != Dying {
			s.ThreadExit(t)
		}
	}()

	s.mu.Lock()
	t.allElem = s.all.PushBack(t)
	s.mu.Unlock()

	s.ThreadUnblock(t)

	s.log.Debug().Str("thread", name).Int("priority", priority).Log("thread created")

	if t.EffectivePriority() > creator.EffectivePriority() {
		s.ThreadYield(creator)
	}
	return t, nil
}

// ThreadBlock marks caller Blocked without adding it to any wait
// queue, and schedules away from it. Most blocking call sites use
// enqueueWaiterLocked directly (so the thread lands on a specific wait
// queue atomically with the status change); ThreadBlock exists for
// callers outside the sync primitives and the sleep list that must
// block with no queue membership at all, per spec.md §4.2. Nothing in
// this package calls it.
func (s *Scheduler) ThreadBlock(caller *Thread) {
	s.mu.Lock()
	caller.state.Store(Blocked)
	s.mu.Unlock()
	s.relinquish(caller, true)
}

// ThreadUnblock transitions t from Blocked to Ready and inserts it
// into the ready list. It does not itself preempt the current thread,
// per spec.md §4.2.
func (s *Scheduler) ThreadUnblock(t *Thread) {
	s.mu.Lock()
	s.unblockLocked(t)
	s.mu.Unlock()
}

// ThreadYield pushes caller onto the ready list (unless it is the idle
// thread, which never sits on the ready list) and relinquishes the
// CPU, per spec.md §4.2.
func (s *Scheduler) ThreadYield(caller *Thread) {
	s.mu.Lock()
	if caller != s.idle {
		caller.state.Store(Ready)
		s.ready.PushBack(caller)
	} else {
		caller.state.Store(Blocked)
	}
	s.mu.Unlock()
	s.relinquish(caller, true)
}

// ThreadExit marks caller Dying and relinquishes the CPU without
// waiting to run again; the calling goroutine's body function has
// already returned by the time ThreadExit is invoked (it is the last
// thing run on a thread's goroutine), so there is no page to free —
// Go's garbage collector reclaims the Thread once the roster (and any
// remaining PCB references) drop it.
func (s *Scheduler) ThreadExit(caller *Thread) {
	s.mu.Lock()
	caller.state.Store(Dying)
	s.mu.Unlock()
	s.log.Debug().Str("thread", caller.Name).Log("thread exiting")
	s.relinquish(caller, false)
}

// ThreadSetPriority sets caller's base priority. Under MLFQS this is a
// no-op, per spec.md §4.3; otherwise it recomputes effective priority
// and yields if a higher-priority thread now exists.
func (s *Scheduler) ThreadSetPriority(caller *Thread, priority int) {
	if s.mlfqs {
		return
	}
	s.mu.Lock()
	caller.basePriority = priority
	s.recomputeEffective(caller)
	s.mu.Unlock()
	s.maybeYieldToHigherPriority(caller)
}

// ThreadGetPriority returns caller's current effective priority.
func (s *Scheduler) ThreadGetPriority(caller *Thread) int {
	return caller.EffectivePriority()
}

// maybeYieldToHigherPriority yields caller if any ready thread now
// outranks it.
func (s *Scheduler) maybeYieldToHigherPriority(caller *Thread) {
	s.mu.Lock()
	higher := false
	s.ready.Do(func(t *Thread) {
		if t.EffectivePriority() > caller.EffectivePriority() {
			higher = true
		}
	})
	s.mu.Unlock()
	if higher {
		s.ThreadYield(caller)
	}
}

// recomputeEffective recomputes t's effective priority as the max of
// its base priority and, over every lock it currently holds, the
// maximum effective priority among that lock's waiters, per spec.md
// §4.3. Caller must hold s.mu.
func (s *Scheduler) recomputeEffective(t *Thread) {
	best := t.basePriority
	for _, l := range t.holding {
		l.sema.waitq.Do(func(w *Thread) {
			if p := w.EffectivePriority(); p > best {
				best = p
			}
		})
	}
	t.setEffectivePriority(best)
}

// Run drives the simulated timer: it calls Tick once per period until
// ctx is canceled. period stands in for the 1/TimerFreq-second
// interval a real PIT or APIC timer would interrupt on; chaparrOS has
// no hardware clock, so a time.Ticker plays that role instead.
func (s *Scheduler) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// donate walks the holder chain starting at lock l, to a bounded
// depth, raising each holder's effective priority to at least donor's,
// per spec.md §4.3/§9. Caller must hold s.mu. A chain longer than
// donationMaxDepth indicates a lock-graph cycle, a bug, and panics
// rather than looping forever.
func (s *Scheduler) donate(donor *Thread, l *Lock) {
	depth := 0
	cur := l
	for cur != nil && cur.holder != nil {
		depth++
		if depth > donationMaxDepth {
			panic("kernel: lock donation chain exceeds bounded depth; lock-graph cycle suspected")
		}
		holder := cur.holder
		if donor.EffectivePriority() > holder.EffectivePriority() {
			holder.setEffectivePriority(donor.EffectivePriority())
		}
		if holder.state.Load() == Blocked && holder.waitingFor != nil {
			cur = holder.waitingFor
			continue
		}
		break
	}
}
