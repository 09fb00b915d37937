package kernel

import (
	"fmt"
	"sync/atomic"

	"github.com/DarwinGalicia/chaparrOS/internal/klist"
	"github.com/DarwinGalicia/chaparrOS/pkg/fixedpoint"
)

// ID identifies a thread uniquely for its lifetime; monotonically
// increasing, matching Pintos' tid_t.
type ID int64

// Func is the body a newly created thread runs; it receives the
// auxiliary value passed to ThreadCreate, mirroring thread_func in
// spec.md §4.2.
type Func func(aux any)

// Thread is the control block described in spec.md §3. Unlike Pintos,
// it does not live inside a 4 KiB page with a kernel stack growing
// below it (that memory layout exists to share one allocation between
// control block and stack; chaparrOS instead backs every thread with a
// real goroutine and needs no stack window of its own) — the magic
// sentinel is kept anyway, as a direct stand-in assertion for "this
// control block has not been corrupted", checked the same places
// spec.md names.
type Thread struct {
	ID     ID
	Name   string
	magic uint32
	state *atomicState

	basePriority int
	effPriority  atomic.Int32

	// donation bookkeeping, spec.md §4.3
	waitingFor *Lock
	holding    []*Lock

	// MLFQS bookkeeping, spec.md §4.5
	recentCPU fixedpoint.Fixed
	nice      int

	// sleep bookkeeping, spec.md §4.5
	wakeTick uint64

	// allElem is this thread's node in the scheduler's all-threads
	// roster, held for the thread's whole lifetime (spec.md §3). Ready
	// queue, wait queue, and sleep list membership is, by contrast,
	// never held by more than one of those lists at a time but is not
	// tracked by a dedicated field: per spec.md §9's explicitly
	// sanctioned alternative, each of those lists owns its own node
	// allocated at insertion time, rather than reusing one embedded
	// link field the way the original Pintos source does.
	allElem *klist.Elem[*Thread]

	// cooperative-preemption baton: exactly one thread's grant channel
	// ever has a pending send at a time; see Scheduler for the handoff
	// protocol. Buffered 1 so granting never blocks the granter.
	grant chan struct{}

	fn  Func
	aux any

	// user-process extension, spec.md §3.
	PCB         *PCB
	Children    []*PCB
	Descriptors []*Descriptor
	nextFD      int
}

// newThread allocates a Thread in the Blocked state, matching
// thread_create's documented initial status before thread_unblock is
// called on it.
func newThread(id ID, name string, priority int) *Thread {
	t := &Thread{
		ID:           id,
		Name:         name,
		magic:        ThreadMagic,
		state:        newAtomicState(Blocked),
		basePriority: priority,
		nextFD:       3,
		grant:        make(chan struct{}, 1),
	}
	t.effPriority.Store(int32(priority))
	return t
}

// checkMagic panics if the control block's sentinel has been
// corrupted, per spec.md §3/§7 item 6 — an assertion failure here is
// not recoverable, matching Pintos' ASSERT (t->magic == THREAD_MAGIC).
func (t *Thread) checkMagic() {
	if t.magic != ThreadMagic {
		panic(fmt.Sprintf("kernel: thread %q (id %d): magic mismatch, stack corruption suspected", t.Name, t.ID))
	}
}

// Status returns the thread's current lifecycle state.
func (t *Thread) Status() State {
	return t.state.Load()
}

// BasePriority returns the thread's un-donated priority.
func (t *Thread) BasePriority() int {
	return t.basePriority
}

// EffectivePriority returns the thread's scheduling priority: its base
// priority, possibly elevated by donation (or, under MLFQS, computed
// purely from recent_cpu/nice — see Scheduler.recomputeMLFQSPriorityLocked).
func (t *Thread) EffectivePriority() int {
	return int(t.effPriority.Load())
}

func (t *Thread) setEffectivePriority(p int) {
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	t.effPriority.Store(int32(p))
}

// Nice returns the thread's MLFQS niceness value.
func (t *Thread) Nice() int {
	return t.nice
}

// RecentCPU returns the thread's MLFQS recent_cpu value, scaled by 100
// and rounded, per spec.md §4.5 (thread_get_recent_cpu contract).
func (t *Thread) RecentCPU() int {
	return t.recentCPU.MulInt(100).ToIntRound()
}

// AllocFD installs file as a new open-file-descriptor entry and
// returns its number. Descriptor numbers start at 3 (0-2 are reserved
// for stdin/stdout/stderr per the original source's obtener_descriptor
// convention) and are never reused while the thread is alive, matching
// spec.md §4.6.
func (t *Thread) AllocFD(file File) int {
	fd := t.nextFD
	t.nextFD++
	t.Descriptors = append(t.Descriptors, &Descriptor{ID: fd, File: file})
	return fd
}

// Descriptor returns the open-file entry for fd, or nil if fd is not
// currently open on this thread.
func (t *Thread) Descriptor(fd int) *Descriptor {
	for _, d := range t.Descriptors {
		if d.ID == fd {
			return d
		}
	}
	return nil
}

// FreeFD removes fd from this thread's descriptor table, if present.
func (t *Thread) FreeFD(fd int) {
	for i, d := range t.Descriptors {
		if d.ID == fd {
			t.Descriptors = append(t.Descriptors[:i], t.Descriptors[i+1:]...)
			return
		}
	}
}
