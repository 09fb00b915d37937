package kernel_test

import (
	"testing"

	"github.com/DarwinGalicia/chaparrOS/internal/kernel"
	"github.com/stretchr/testify/require"
)

func TestLockTryAcquireFailsWhenHeld(t *testing.T) {
	sched := kernel.New()
	main := sched.Boot("main")
	lock := sched.NewLock()

	require.True(t, lock.TryAcquire(main))
	require.True(t, lock.HeldByCurrentThread(main))

	ok := lock.TryAcquire(main)
	require.False(t, ok)
}

func TestCondWaitSignalHandsOffLock(t *testing.T) {
	sched := kernel.New()
	main := sched.Boot("main")
	sched.ThreadSetPriority(main, kernel.PriMin)

	lock := sched.NewLock()
	cond := sched.NewCond()

	waiting := make(chan struct{})
	woke := make(chan struct{})
	_, err := sched.ThreadCreate(main, "waiter", kernel.PriDefault, func(aux any) {
		self := sched.Current()
		lock.Acquire(self)
		close(waiting)
		cond.Wait(lock, self)
		close(woke)
		lock.Release(self)
	}, nil)
	require.NoError(t, err)
	<-waiting

	lock.Acquire(main)
	cond.Signal(main)
	lock.Release(main)

	<-woke
}

func TestCondBroadcastWakesAllWaiters(t *testing.T) {
	sched := kernel.New()
	main := sched.Boot("main")
	sched.ThreadSetPriority(main, kernel.PriMin)

	lock := sched.NewLock()
	cond := sched.NewCond()

	const n = 3
	woke := make(chan int, n)
	ready := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		_, err := sched.ThreadCreate(main, "waiter", kernel.PriDefault, func(aux any) {
			self := sched.Current()
			lock.Acquire(self)
			ready <- struct{}{}
			cond.Wait(lock, self)
			woke <- 1
			lock.Release(self)
		}, nil)
		require.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		<-ready
	}

	lock.Acquire(main)
	cond.Broadcast(main)
	lock.Release(main)

	total := 0
	for i := 0; i < n; i++ {
		total += <-woke
	}
	require.Equal(t, n, total)
}
