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

// Bits of a Mutex's single int32 state word. Tri-state rather than a
// plain held/free flag so Unlock can tell whether anyone queued up
// while the lock was held, and only pay for a wake-up call when
// someone did.
const (
	mutexUnlocked int32 = iota
	mutexLocked
	mutexContended
)

// Mutex is a mutual-exclusion lock backed by one shared int32 word, so
// it can be dehydrated and handed to another worker the way a plain
// function closure cannot. Grounded on nsync.Mu's tri-state word (see
// muLock/muWaiting/muDesigWaker), simplified to a single CONTENDED
// state since this Mutex doesn't need nsync's designated-waker
// optimization to be correct — only to shave one extra wake-up in the
// heavily-contended case, which isn't a goal here.
//
// Fairness is not guaranteed: a goroutine can stall behind a steady
// stream of other lockers. It is starvation-free only in a
// probabilistic sense, same as nsync.Mu and sync.Mutex.
type Mutex struct {
	state *threadaddr.Address[int32]
	held  *heldSet
}

// MutexValue is Mutex's dehydrated shape: the address of its single
// state word.
type MutexValue struct {
	Addr threadaddr.AddressValue
}

// MutexHydrationKey is the __type tag Mutex dehydrates under.
const MutexHydrationKey = "Mutex"

// MakeMutex allocates a fresh, unlocked Mutex.
func MakeMutex() (*Mutex, error) {
	return threadalloc.Make(func(handles []threadaddr.Handle, extra ...any) *Mutex {
		state, _ := threadaddr.Cast[int32](handles[0])
		return &Mutex{state: state, held: newHeldSet()}
	}, ELEMENT_LAYOUT_Mutex())
}

// ELEMENT_LAYOUT_Mutex describes Mutex's backing slab: one int32.
func ELEMENT_LAYOUT_Mutex() []threadalloc.LayoutItem {
	return []threadalloc.LayoutItem{{Tag: threadaddr.TagInt32, Count: 1}}
}

// HydrateMutex reconstructs a Mutex from a dehydrated MutexValue,
// pointing at the same backing word rather than allocating a new one.
func HydrateMutex(v MutexValue) (*Mutex, error) {
	h, err := threadaddr.HydrateAddress(v.Addr)
	if err != nil {
		return nil, err
	}
	state, err := threadaddr.Cast[int32](h)
	if err != nil {
		return nil, err
	}
	return &Mutex{state: state, held: newHeldSet()}, nil
}

// DehydrateSelf implements dehydrate.Dehydratable.
func (m *Mutex) DehydrateSelf() dehydrate.Dehydrated {
	return dehydrate.Dehydrated{
		Type:  MutexHydrationKey,
		Value: MutexValue{Addr: m.state.DehydrateSelf().Value.(threadaddr.AddressValue)},
	}
}

// HydrationKey reports the __type tag this Mutex dehydrates under.
func (m *Mutex) HydrationKey() string { return MutexHydrationKey }

func (m *Mutex) identity() uintptr {
	return uintptr(unsafe.Pointer(m.state))
}

// TryLock attempts to acquire the lock without blocking, returning
// whether it succeeded.
func (m *Mutex) TryLock() (bool, error) {
	_, swapped, err := m.state.CompareExchange(0, mutexUnlocked, mutexLocked)
	if err != nil {
		return false, err
	}
	if swapped {
		m.held.add(m.identity())
	}
	return swapped, nil
}

// Lock blocks until the Mutex is acquired or timeout elapses
// (timeout<=0 waits forever), returning whether it was acquired.
// Fails immediately with BlockingNotAllowed on the main goroutine —
// use LockAsync there instead.
func (m *Mutex) Lock(timeout time.Duration) (bool, error) {
	if peakthreads.IsMainGoroutine() {
		return false, core.NewThreadError(core.KindBlockingNotAllowed,
			"Lock may not be called from the main goroutine; use LockAsync")
	}

	ok, err := m.tryAcquireOrContend()
	if err != nil || ok {
		return ok, err
	}

	deadline, hasDeadline := deadlineFor(timeout)
	for {
		remaining, expired := remainingUntil(deadline, hasDeadline)
		if expired {
			return false, nil
		}

		res, err := m.state.Wait(0, mutexContended, remaining)
		if err != nil {
			return false, err
		}
		_ = res // spurious OK/NotEqual both just re-drive the CAS loop below

		if hasDeadline {
			remaining, expired = remainingUntil(deadline, hasDeadline)
			if expired {
				return false, nil
			}
		}

		prev, swapped, err := m.state.CompareExchange(0, mutexUnlocked, mutexContended)
		if err != nil {
			return false, err
		}
		if swapped {
			m.held.add(m.identity())
			return true, nil
		}
		if prev == mutexUnlocked {
			// Raced with another locker between Wait returning and our
			// CAS; loop and try again rather than giving up.
			continue
		}
	}
}

// tryAcquireOrContend is the first step of Lock/LockAsync: a plain CAS
// to acquire the free lock, falling back to publishing contention so
// the holder knows to notify on Unlock.
func (m *Mutex) tryAcquireOrContend() (bool, error) {
	_, swapped, err := m.state.CompareExchange(0, mutexUnlocked, mutexLocked)
	if err != nil {
		return false, err
	}
	if swapped {
		m.held.add(m.identity())
		return true, nil
	}
	if _, _, err := m.state.CompareExchange(0, mutexLocked, mutexContended); err != nil {
		return false, err
	}
	return false, nil
}

// LockAsync is the non-blocking sibling of Lock: it returns
// immediately with a channel that receives exactly one WaitResult
// (WaitOK once acquired, WaitTimedOut if timeout elapses first). Safe
// to call from the main goroutine.
func (m *Mutex) LockAsync(timeout time.Duration) (<-chan threadaddr.WaitResult, error) {
	ch := make(chan threadaddr.WaitResult, 1)
	ok, err := m.tryAcquireOrContend()
	if err != nil {
		return nil, err
	}
	if ok {
		ch <- threadaddr.WaitOK
		return ch, nil
	}

	go func() {
		deadline, hasDeadline := deadlineFor(timeout)
		for {
			remaining, expired := remainingUntil(deadline, hasDeadline)
			if expired {
				ch <- threadaddr.WaitTimedOut
				return
			}

			waitCh, err := m.state.WaitAsync(0, mutexContended, remaining)
			if err != nil {
				ch <- threadaddr.WaitTimedOut
				return
			}
			<-waitCh

			if hasDeadline {
				if _, expired := remainingUntil(deadline, hasDeadline); expired {
					ch <- threadaddr.WaitTimedOut
					return
				}
			}

			prev, swapped, err := m.state.CompareExchange(0, mutexUnlocked, mutexContended)
			if err != nil {
				ch <- threadaddr.WaitTimedOut
				return
			}
			if swapped {
				m.held.add(m.identity())
				ch <- threadaddr.WaitOK
				return
			}
			if prev == mutexUnlocked {
				continue
			}
		}
	}()
	return ch, nil
}

// Unlock releases the Mutex. If the prior state was CONTENDED (someone
// was waiting), it resets the word to UNLOCKED and wakes one waiter.
func (m *Mutex) Unlock() error {
	prev, err := m.state.Sub(0, 1)
	if err != nil {
		return err
	}
	if prev != mutexLocked {
		if err := m.state.Store(0, mutexUnlocked); err != nil {
			return err
		}
		if _, err := m.state.NotifyOne(0); err != nil {
			return err
		}
	}
	m.held.remove(m.identity())
	return nil
}

// HasLock reports whether the calling goroutine currently holds this
// Mutex. This is local bookkeeping, not shared state — it can't be,
// since the whole point of the underlying word is that it carries no
// notion of which goroutine (or worker) holds it, only that one does.
func (m *Mutex) HasLock() bool {
	return m.held.has(m.identity())
}

func deadlineFor(timeout time.Duration) (time.Time, bool) {
	if timeout <= 0 {
		return time.Time{}, false
	}
	return time.Now().Add(timeout), true
}

func remainingUntil(deadline time.Time, has bool) (time.Duration, bool) {
	if !has {
		return 0, false
	}
	remaining := time.Until(deadline)
	return remaining, remaining <= 0
}
