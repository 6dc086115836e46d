package syncprim

import (
	"time"
	"unsafe"

	peakthreads "github.com/matthewtolman/peak-threads"
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/dehydrate"
	"github.com/matthewtolman/peak-threads/internal/threadaddr"
	"github.com/matthewtolman/peak-threads/internal/threadalloc"
)

// Semaphore bounds concurrent access to value permits via one shared
// int32 counter, which always represents the number of permits
// currently held (not the number free, the reverse of a POSIX
// semaphore's counter) — grounded on the veezhang annotated runtime
// sema.go's counting-over-a-futex-word shape, adapted so waiters block
// on the counter reaching the capacity value rather than on a
// separate "nwait" field.
type Semaphore struct {
	state *threadaddr.Address[int32]
	value int32
	held  *heldSet
}

// SemaphoreValue is Semaphore's dehydrated shape: the address of its
// counter word and its fixed capacity.
type SemaphoreValue struct {
	Addr  threadaddr.AddressValue
	Value int32
}

// SemaphoreHydrationKey is the __type tag Semaphore dehydrates under.
const SemaphoreHydrationKey = "Semaphore"

// MakeSemaphore allocates a fresh Semaphore bounding concurrent
// acquisitions to value permits. value must be at least 1.
func MakeSemaphore(value int32) (*Semaphore, error) {
	if value < 1 {
		return nil, core.NewThreadError(core.KindInvalidOperation, "Semaphore requires value >= 1").
			WithDetail("value", value)
	}
	return threadalloc.Make(func(handles []threadaddr.Handle, extra ...any) *Semaphore {
		state, _ := threadaddr.Cast[int32](handles[0])
		return &Semaphore{state: state, value: value, held: newHeldSet()}
	}, ELEMENT_LAYOUT_Semaphore())
}

// ELEMENT_LAYOUT_Semaphore describes Semaphore's backing slab: one
// int32 counter.
func ELEMENT_LAYOUT_Semaphore() []threadalloc.LayoutItem {
	return []threadalloc.LayoutItem{{Tag: threadaddr.TagInt32, Count: 1}}
}

// HydrateSemaphore reconstructs a Semaphore pointing at the same
// backing counter and capacity.
func HydrateSemaphore(v SemaphoreValue) (*Semaphore, error) {
	h, err := threadaddr.HydrateAddress(v.Addr)
	if err != nil {
		return nil, err
	}
	state, err := threadaddr.Cast[int32](h)
	if err != nil {
		return nil, err
	}
	return &Semaphore{state: state, value: v.Value, held: newHeldSet()}, nil
}

// DehydrateSelf implements dehydrate.Dehydratable.
func (s *Semaphore) DehydrateSelf() dehydrate.Dehydrated {
	return dehydrate.Dehydrated{
		Type: SemaphoreHydrationKey,
		Value: SemaphoreValue{
			Addr:  s.state.DehydrateSelf().Value.(threadaddr.AddressValue),
			Value: s.value,
		},
	}
}

// HydrationKey reports the __type tag this Semaphore dehydrates under.
func (s *Semaphore) HydrationKey() string { return SemaphoreHydrationKey }

func (s *Semaphore) identity() uintptr {
	return uintptr(unsafe.Pointer(s.state))
}

// Acquire blocks until a permit is available or timeout elapses
// (timeout<=0 waits forever), returning whether one was acquired.
// Fails immediately with BlockingNotAllowed on the main goroutine.
func (s *Semaphore) Acquire(timeout time.Duration) (bool, error) {
	if peakthreads.IsMainGoroutine() {
		return false, core.NewThreadError(core.KindBlockingNotAllowed,
			"Acquire may not be called from the main goroutine; use AcquireAsync")
	}
	return s.acquireBlocking(timeout)
}

// AcquireAsync is the non-blocking sibling of Acquire. Safe to call
// from the main goroutine.
func (s *Semaphore) AcquireAsync(timeout time.Duration) (<-chan threadaddr.WaitResult, error) {
	ch := make(chan threadaddr.WaitResult, 1)
	go func() {
		ok, err := s.acquireBlocking(timeout)
		if err != nil || !ok {
			ch <- threadaddr.WaitTimedOut
			return
		}
		ch <- threadaddr.WaitOK
	}()
	return ch, nil
}

func (s *Semaphore) acquireBlocking(timeout time.Duration) (bool, error) {
	deadline, hasDeadline := deadlineFor(timeout)
	for {
		cur, err := s.state.Load(0)
		if err != nil {
			return false, err
		}
		if cur < s.value {
			prev, swapped, err := s.state.CompareExchange(0, cur, cur+1)
			if err != nil {
				return false, err
			}
			if swapped {
				s.held.add(s.identity())
				return true, nil
			}
			_ = prev
			continue
		}

		remaining, expired := remainingUntil(deadline, hasDeadline)
		if expired {
			return false, nil
		}
		if _, err := s.state.Wait(0, s.value, remaining); err != nil {
			return false, err
		}
		if _, expired := remainingUntil(deadline, hasDeadline); expired {
			return false, nil
		}
		// loop back around to retry the CAS; a stale Load here would let
		// two expiring waiters both observe cur < s.value and both return
		// true without either actually incrementing the counter.
	}
}

// Release gives up one held permit and wakes one waiter.
func (s *Semaphore) Release() error {
	if _, err := s.state.Sub(0, 1); err != nil {
		return err
	}
	if _, err := s.state.NotifyOne(0); err != nil {
		return err
	}
	s.held.remove(s.identity())
	return nil
}

// HasAcquired reports whether the calling goroutine currently holds a
// permit on this Semaphore. Local bookkeeping only, same rationale as
// Mutex.HasLock.
func (s *Semaphore) HasAcquired() bool {
	return s.held.has(s.identity())
}
