package threadaddr

import (
	"time"

	peakthreads "github.com/matthewtolman/peak-threads"
	"github.com/matthewtolman/peak-threads/internal/core"
)

// NotifyOne wakes at most one waiter blocked on element i, returning
// the number actually woken (0 or 1).
func (a *Address[T]) NotifyOne(i int) (int, error) {
	return a.Notify(i, 1)
}

// NotifyAll wakes every waiter currently blocked on element i.
func (a *Address[T]) NotifyAll(i int) (int, error) {
	return a.Notify(i, int(^uint(0)>>1))
}

// Notify wakes up to n waiters blocked on element i.
func (a *Address[T]) Notify(i int, n int) (int, error) {
	if err := a.checkAtomic(i); err != nil {
		return 0, err
	}
	return notify(addrOf(a.ptr(i)), n), nil
}

// Wait returns WaitNotEqual at once if element i's value no longer
// equals expected; otherwise it blocks the calling goroutine until a
// matching Notify arrives or timeout elapses (timeout<=0 waits
// forever). A change of the value with no Notify does not end the
// wait. It fails immediately with
// BlockingNotAllowed if called from the goroutine marked via
// peakthreads.MarkMainGoroutine — use WaitAsync there instead.
func (a *Address[T]) Wait(i int, expected T, timeout time.Duration) (WaitResult, error) {
	if peakthreads.IsMainGoroutine() {
		return WaitTimedOut, core.NewThreadError(core.KindBlockingNotAllowed,
			"Wait may not be called from the main goroutine; use WaitAsync")
	}
	if err := a.checkAtomic(i); err != nil {
		return WaitTimedOut, err
	}

	p := a.ptr(i)
	addr := addrOf(p)
	result := wait(addr, timeout, func() bool {
		cur, err := a.Load(i)
		return err == nil && cur == expected
	})
	return result, nil
}

// WaitAsync is the non-blocking sibling of Wait: it returns
// immediately with a channel that receives exactly one WaitResult.
// Safe to call from the main goroutine.
func (a *Address[T]) WaitAsync(i int, expected T, timeout time.Duration) (<-chan WaitResult, error) {
	if err := a.checkAtomic(i); err != nil {
		return nil, err
	}
	ch := make(chan WaitResult, 1)
	go func() {
		p := a.ptr(i)
		addr := addrOf(p)
		ch <- wait(addr, timeout, func() bool {
			cur, err := a.Load(i)
			return err == nil && cur == expected
		})
	}()
	return ch, nil
}
