package syncprim

import (
	"time"

	peakthreads "github.com/matthewtolman/peak-threads"
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/dehydrate"
	"github.com/matthewtolman/peak-threads/internal/threadaddr"
	"github.com/matthewtolman/peak-threads/internal/threadalloc"
)

// WaitGroup is a non-negative counter over one shared int32 word: Add
// increments it, Done decrements it and wakes every waiter once it
// reaches zero, and Wait blocks until it does. Add must happen-before
// the matching Done; calling Add after a Wait has already started
// observing zero is undefined, same as sync.WaitGroup's own contract.
type WaitGroup struct {
	state *threadaddr.Address[int32]
}

// WaitGroupValue is WaitGroup's dehydrated shape: the address of its
// single counter word.
type WaitGroupValue struct {
	Addr threadaddr.AddressValue
}

// WaitGroupHydrationKey is the __type tag WaitGroup dehydrates under.
const WaitGroupHydrationKey = "WaitGroup"

// MakeWaitGroup allocates a fresh WaitGroup with counter 0.
func MakeWaitGroup() (*WaitGroup, error) {
	return threadalloc.Make(func(handles []threadaddr.Handle, extra ...any) *WaitGroup {
		state, _ := threadaddr.Cast[int32](handles[0])
		return &WaitGroup{state: state}
	}, ELEMENT_LAYOUT_WaitGroup())
}

// ELEMENT_LAYOUT_WaitGroup describes WaitGroup's backing slab: one
// int32 counter.
func ELEMENT_LAYOUT_WaitGroup() []threadalloc.LayoutItem {
	return []threadalloc.LayoutItem{{Tag: threadaddr.TagInt32, Count: 1}}
}

// HydrateWaitGroup reconstructs a WaitGroup pointing at the same
// backing counter.
func HydrateWaitGroup(v WaitGroupValue) (*WaitGroup, error) {
	h, err := threadaddr.HydrateAddress(v.Addr)
	if err != nil {
		return nil, err
	}
	state, err := threadaddr.Cast[int32](h)
	if err != nil {
		return nil, err
	}
	return &WaitGroup{state: state}, nil
}

// DehydrateSelf implements dehydrate.Dehydratable.
func (w *WaitGroup) DehydrateSelf() dehydrate.Dehydrated {
	return dehydrate.Dehydrated{
		Type:  WaitGroupHydrationKey,
		Value: WaitGroupValue{Addr: w.state.DehydrateSelf().Value.(threadaddr.AddressValue)},
	}
}

// HydrationKey reports the __type tag this WaitGroup dehydrates under.
func (w *WaitGroup) HydrationKey() string { return WaitGroupHydrationKey }

// Add increments the counter by n (1 if n is 0).
func (w *WaitGroup) Add(n int32) error {
	if n == 0 {
		n = 1
	}
	_, err := w.state.Add(0, n)
	return err
}

// Done decrements the counter by one and wakes every waiter if the
// counter reached zero.
func (w *WaitGroup) Done() error {
	prev, err := w.state.Sub(0, 1)
	if err != nil {
		return err
	}
	if prev <= 1 {
		_, err := w.state.NotifyAll(0)
		return err
	}
	return nil
}

// Wait blocks until the counter reaches zero or timeout elapses
// (timeout<=0 waits forever), returning whether it reached zero.
// Fails immediately with BlockingNotAllowed on the main goroutine.
func (w *WaitGroup) Wait(timeout time.Duration) (bool, error) {
	if peakthreads.IsMainGoroutine() {
		return false, core.NewThreadError(core.KindBlockingNotAllowed,
			"Wait may not be called from the main goroutine; use WaitAsync")
	}

	return w.waitBlocking(timeout)
}

// WaitAsync is the non-blocking sibling of Wait. Safe to call from
// the main goroutine.
func (w *WaitGroup) WaitAsync(timeout time.Duration) (<-chan threadaddr.WaitResult, error) {
	ch := make(chan threadaddr.WaitResult, 1)
	go func() {
		ok, err := w.waitBlocking(timeout)
		if err != nil {
			ch <- threadaddr.WaitTimedOut
			return
		}
		if ok {
			ch <- threadaddr.WaitOK
		} else {
			ch <- threadaddr.WaitTimedOut
		}
	}()
	return ch, nil
}

// waitBlocking is Wait's body without the main-goroutine guard, reused
// by WaitAsync's background goroutine (which is never the marked main
// goroutine itself).
func (w *WaitGroup) waitBlocking(timeout time.Duration) (bool, error) {
	deadline, hasDeadline := deadlineFor(timeout)
	for {
		cur, err := w.state.Load(0)
		if err != nil {
			return false, err
		}
		if cur <= 0 {
			return true, nil
		}

		remaining, expired := remainingUntil(deadline, hasDeadline)
		if expired {
			return false, nil
		}

		if _, err := w.state.Wait(0, cur, remaining); err != nil {
			return false, err
		}

		if _, expired := remainingUntil(deadline, hasDeadline); expired {
			cur, err := w.state.Load(0)
			if err != nil {
				return false, err
			}
			return cur <= 0, nil
		}
	}
}
