// Package process implements the user-process lifecycle described in
// spec.md §4.6: loading (modeled, not performed — the real ELF loader
// is an explicit external collaborator), the parent/child exit
// rendezvous via a PCB's two semaphores, and the deboliberar orphan-
// ownership policy that decides which side frees a PCB when parent and
// child finish in either order.
package process

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/DarwinGalicia/chaparrOS/internal/kernel"
)

// Loader is the external collaborator that turns a command line into
// a runnable thread body, standing in for Pintos' start_process plus
// the ELF loader spec.md §1 places out of scope. Supplying a Loader
// lets tests run Manager against a fake program table without
// depending on any real executable format.
type Loader interface {
	Load(cmdLine string) (kernel.Func, error)
}

// Manager owns the process table and implements
// syscall.ProcessOps, wiring user syscalls to thread lifecycle
// operations.
type Manager struct {
	sched  *kernel.Scheduler
	loader Loader
	stdout io.Writer

	mu        sync.Mutex
	processes map[int]*kernel.PCB
	halted    bool
}

// NewManager creates a process manager bound to a scheduler and a
// program loader. Exit lines are written to os.Stdout by default; use
// SetStdout to redirect them (tests do, to assert on the exact format).
func NewManager(sched *kernel.Scheduler, loader Loader) *Manager {
	return &Manager{
		sched:     sched,
		loader:    loader,
		stdout:    os.Stdout,
		processes: make(map[int]*kernel.PCB),
	}
}

// SetStdout redirects the per-exit "<name>: exit(<code>)" line.
func (m *Manager) SetStdout(w io.Writer) { m.stdout = w }

// Halt stops the whole simulated machine. The original source calls
// shutdown_power_off(); chaparrOS has no machine to power off, so Halt
// just marks the manager halted for callers (e.g. cmd/chaparros) that
// poll it, per spec.md §4.6 (sys_halt).
func (m *Manager) Halt() {
	m.mu.Lock()
	m.halted = true
	m.mu.Unlock()
}

// Halted reports whether a thread has called sys_halt.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// Exec creates a new child process of t to run cmdLine, per spec.md
// §4.6 (sys_exec / process_execute). The child thread — not the
// caller — attempts the load; it records success or failure on the
// PCB and signals Inicializacion, which Exec blocks on, mirroring the
// original's "child loads, parent waits to hear the result" handoff
// exactly rather than running the load synchronously in the caller.
func (m *Manager) Exec(t *kernel.Thread, cmdLine string) (pid int, ok bool) {
	pcb := kernel.NewPCB(cmdLine)
	pcb.Inicializacion.Bind(m.sched)
	pcb.Esperar.Bind(m.sched)

	child, cerr := m.sched.ThreadCreate(t, cmdLine, kernel.PriDefault, func(aux any) {
		self := m.sched.Current()
		fn, err := m.loader.Load(cmdLine)
		pcb.LoadFailed = err != nil
		pcb.Inicializacion.Up(self)
		if err != nil {
			m.Exit(self, -1)
			return
		}
		fn(aux)
	}, nil)
	if cerr != nil {
		return kernel.TIDError, false
	}
	child.PCB = pcb
	pcb.PID = child.ID
	t.Children = append(t.Children, pcb)

	m.mu.Lock()
	m.processes[int(child.ID)] = pcb
	m.mu.Unlock()

	pcb.Inicializacion.Down(t)

	if pcb.LoadFailed {
		return kernel.TIDError, false
	}
	return int(pcb.PID), true
}

// Wait blocks t until the child process named by pid exits, returning
// its exit code, per spec.md §4.6 (sys_wait / process_wait). Waiting
// twice on the same pid, or waiting on a pid that is not t's child,
// both fail per the documented contract.
func (m *Manager) Wait(t *kernel.Thread, pid int) (exitCode int, ok bool) {
	var pcb *kernel.PCB
	for _, c := range t.Children {
		if int(c.PID) == pid {
			pcb = c
			break
		}
	}
	if pcb == nil {
		return -1, false
	}

	pcb.Lock()
	if pcb.Esperando {
		pcb.Unlock()
		return -1, false
	}
	pcb.Esperando = true
	alreadyDone := pcb.Terminado
	pcb.Unlock()

	if !alreadyDone {
		pcb.Esperar.Down(t)
	}

	pcb.Lock()
	code := pcb.ExitCode
	pcb.Unlock()

	m.removeChild(t, pcb)
	m.forget(pcb)
	return code, true
}

// Exit records t's exit code on its PCB (if it has one — the initial
// thread created by Scheduler.Boot does not), wakes a waiting parent,
// applies the deboliberar orphan policy to every one of t's own
// children, and finally exits the thread, per spec.md §4.6.
func (m *Manager) Exit(t *kernel.Thread, code int) {
	fmt.Fprintf(m.stdout, "%s: exit(%d)\n", t.Name, code)

	if t.PCB != nil {
		pcb := t.PCB
		pcb.Lock()
		pcb.Terminado = true
		pcb.ExitCode = code
		orphaned := pcb.Deboliberar
		pcb.Unlock()

		pcb.Esperar.Up(t)

		if orphaned {
			// The parent has already exited (orphanChildren set
			// Deboliberar), so no process_wait will ever collect this
			// PCB: the child drops it from the process table itself.
			// The Go garbage collector reclaims the memory.
			m.forget(pcb)
		}
	}

	m.orphanChildren(t)
	m.sched.ThreadExit(t)
}

// orphanChildren marks every child of t as disowned: the parent is
// exiting without (or after) waiting on them, so a child that exits
// later drops its own PCB instead of leaving it for a process_wait
// that will never come, per spec.md §4.6's deboliberar policy.
func (m *Manager) orphanChildren(t *kernel.Thread) {
	for _, c := range t.Children {
		c.Lock()
		c.Deboliberar = true
		c.Unlock()
	}
}

func (m *Manager) removeChild(t *kernel.Thread, pcb *kernel.PCB) {
	for i, c := range t.Children {
		if c == pcb {
			t.Children = append(t.Children[:i], t.Children[i+1:]...)
			return
		}
	}
}

func (m *Manager) forget(pcb *kernel.PCB) {
	m.mu.Lock()
	delete(m.processes, int(pcb.PID))
	m.mu.Unlock()
}
