//go:build linux || darwin

// Command chaparros is a small interactive front end onto the chaparrOS
// kernel core: it boots a Scheduler, opens the terminal in raw mode so
// keystrokes reach it immediately, and drives a scripted process table
// through process.Manager's Exec and Wait — exec requests are throttled
// through a rate limiter so a user holding a key down can't flood the
// scheduler with process churn, the same category of guard the
// teacher's own tools put in front of bursty event sources.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"

	"github.com/DarwinGalicia/chaparrOS/internal/kernel"
	"github.com/DarwinGalicia/chaparrOS/internal/kernel/filesys"
	"github.com/DarwinGalicia/chaparrOS/internal/kernel/process"
	"github.com/DarwinGalicia/chaparrOS/internal/klog"
)

// scriptedLoader maps a command line to a canned thread body, standing
// in for the real ELF loader spec.md declares out of scope.
type scriptedLoader struct {
	sched   *kernel.Scheduler
	mgr     *process.Manager
	log     *klog.Logger
	history chan<- string
}

// busyProcessCmd names the one scripted program that is actually
// CPU-bound: it never blocks on a semaphore or timer, so the only way
// it ever yields the CPU is by calling Checkpoint itself at each loop
// iteration, exercising the time-slice preemption contract live
// instead of only in tests.
const busyProcessCmd = "busy-process"

const busyProcessIterations = 1_000_000

func (l *scriptedLoader) Load(cmdLine string) (kernel.Func, error) {
	if cmdLine == busyProcessCmd {
		return func(aux any) {
			self := l.sched.Current()
			l.log.Info().Str("cmd", cmdLine).Log("busy process running")
			for i := 0; i < busyProcessIterations; i++ {
				l.sched.Checkpoint(self)
			}
			l.history <- cmdLine
			l.mgr.Exit(self, 0)
		}, nil
	}
	return func(aux any) {
		self := l.sched.Current()
		l.log.Info().Str("cmd", cmdLine).Log("process running")
		l.history <- cmdLine
		l.mgr.Exit(self, 0)
	}, nil
}

func main() {
	log := klog.New(os.Stdout, logiface.LevelInformational)
	klog.SetDefault(log)

	sched := kernel.New(kernel.WithMLFQS())
	main := sched.Boot("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx, 10*time.Millisecond)

	history := make(chan string, 64)
	loader := &scriptedLoader{sched: sched, log: log, history: history}
	mgr := process.NewManager(sched, loader)
	loader.mgr = mgr

	fs := filesys.New()
	_ = fs // wired for completeness; the scripted demo never opens files itself

	limiter := catrate.NewLimiter(map[time.Duration]int{
		time.Second:      2,
		10 * time.Second: 10,
	})

	term, err := newRawTerminal(int(os.Stdin.Fd()))
	interactive := err == nil
	if interactive {
		if err := term.Enable(); err != nil {
			interactive = false
		} else {
			defer term.Restore()
		}
	}

	fmt.Fprintln(os.Stderr, "chaparros: e=exec a scripted process, b=exec a CPU-bound busy process, w=wait on the last one, q=quit")

	var lastPID int
	haveLast := false
	stdin := bufio.NewReader(os.Stdin)

	for {
		b, rerr := stdin.ReadByte()
		if rerr != nil {
			break
		}
		switch b {
		case 'q', 'Q', 3: // 3 == Ctrl-C, since raw mode disables signal generation
			return
		case 'e', 'E':
			if _, ok := limiter.Allow("exec"); !ok {
				fmt.Fprintln(os.Stderr, "exec rate limit exceeded, try again shortly")
				continue
			}
			pid, ok := mgr.Exec(main, "demo-process")
			if !ok {
				fmt.Fprintln(os.Stderr, "exec failed")
				continue
			}
			lastPID, haveLast = pid, true
			fmt.Fprintf(os.Stderr, "spawned pid %d\n", pid)
		case 'b', 'B':
			if _, ok := limiter.Allow("exec"); !ok {
				fmt.Fprintln(os.Stderr, "exec rate limit exceeded, try again shortly")
				continue
			}
			pid, ok := mgr.Exec(main, busyProcessCmd)
			if !ok {
				fmt.Fprintln(os.Stderr, "exec failed")
				continue
			}
			lastPID, haveLast = pid, true
			fmt.Fprintf(os.Stderr, "spawned busy pid %d\n", pid)
		case 'w', 'W':
			if !haveLast {
				fmt.Fprintln(os.Stderr, "nothing to wait on")
				continue
			}
			code, ok := mgr.Wait(main, lastPID)
			if !ok {
				fmt.Fprintln(os.Stderr, "wait failed (already waited, or not our child)")
				continue
			}
			fmt.Fprintf(os.Stderr, "pid %d exited with code %d\n", lastPID, code)
			haveLast = false
		}
		if mgr.Halted() {
			return
		}
	}
}
