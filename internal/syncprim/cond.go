package syncprim

import (
	"time"

	peakthreads "github.com/matthewtolman/peak-threads"
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/dehydrate"
	"github.com/matthewtolman/peak-threads/internal/threadaddr"
	"github.com/matthewtolman/peak-threads/internal/threadalloc"
)

// ConditionVariable is a Mesa-style condition variable over two shared
// int32 words (prev, seq), paired with an externally supplied Mutex
// exactly as nsync.CV's Wait takes a sync.Locker. Spurious wakeups are
// possible; callers must re-check their predicate in a loop, same as
// every Mesa-style condition variable (see nsync.CV's package doc for
// why this is preferred over precise Hoare-style wakeups).
type ConditionVariable struct {
	state *threadaddr.Address[int32]
}

const (
	cvPrevIdx = 0
	cvSeqIdx  = 1
)

// ConditionVariableValue is ConditionVariable's dehydrated shape: the
// address of its two-int32 state pair.
type ConditionVariableValue struct {
	Addr threadaddr.AddressValue
}

// ConditionVariableHydrationKey is the __type tag ConditionVariable
// dehydrates under.
const ConditionVariableHydrationKey = "ConditionVariable"

// MakeConditionVariable allocates a fresh ConditionVariable with no
// waiters.
func MakeConditionVariable() (*ConditionVariable, error) {
	return threadalloc.Make(func(handles []threadaddr.Handle, extra ...any) *ConditionVariable {
		state, _ := threadaddr.Cast[int32](handles[0])
		return &ConditionVariable{state: state}
	}, ELEMENT_LAYOUT_ConditionVariable())
}

// ELEMENT_LAYOUT_ConditionVariable describes ConditionVariable's
// backing slab: two consecutive int32s (prev, seq).
func ELEMENT_LAYOUT_ConditionVariable() []threadalloc.LayoutItem {
	return []threadalloc.LayoutItem{{Tag: threadaddr.TagInt32, Count: 2}}
}

// HydrateConditionVariable reconstructs a ConditionVariable pointing
// at the same backing words.
func HydrateConditionVariable(v ConditionVariableValue) (*ConditionVariable, error) {
	h, err := threadaddr.HydrateAddress(v.Addr)
	if err != nil {
		return nil, err
	}
	state, err := threadaddr.Cast[int32](h)
	if err != nil {
		return nil, err
	}
	return &ConditionVariable{state: state}, nil
}

// DehydrateSelf implements dehydrate.Dehydratable.
func (c *ConditionVariable) DehydrateSelf() dehydrate.Dehydrated {
	return dehydrate.Dehydrated{
		Type:  ConditionVariableHydrationKey,
		Value: ConditionVariableValue{Addr: c.state.DehydrateSelf().Value.(threadaddr.AddressValue)},
	}
}

// HydrationKey reports the __type tag this ConditionVariable
// dehydrates under.
func (c *ConditionVariable) HydrationKey() string { return ConditionVariableHydrationKey }

// Wait atomically releases mux, blocks until Notify/NotifyAll is
// called or timeout elapses, then reacquires mux before returning. A
// spurious wakeup is indistinguishable from a real one at this layer —
// callers MUST re-check their predicate in a loop, as with every
// Mesa-style condition variable. Fails immediately with
// BlockingNotAllowed on the main goroutine.
func (c *ConditionVariable) Wait(mux *Mutex, timeout time.Duration) (bool, error) {
	if peakthreads.IsMainGoroutine() {
		return false, core.NewThreadError(core.KindBlockingNotAllowed,
			"Wait may not be called from the main goroutine; use WaitAsync")
	}

	seq, err := c.state.Load(cvSeqIdx)
	if err != nil {
		return false, err
	}
	if err := c.state.Store(cvPrevIdx, seq); err != nil {
		return false, err
	}
	if err := mux.Unlock(); err != nil {
		return false, err
	}

	start := time.Now()
	res, err := c.state.Wait(cvSeqIdx, seq, timeout)
	if err != nil {
		return false, err
	}

	remaining := time.Duration(0)
	if timeout > 0 {
		remaining = timeout - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
	}
	acquired, lockErr := mux.Lock(remaining)
	if lockErr != nil {
		return false, lockErr
	}
	if !acquired {
		return false, nil
	}
	return res != threadaddr.WaitTimedOut, nil
}

// WaitAsync is the non-blocking sibling of Wait. Safe to call from the
// main goroutine.
func (c *ConditionVariable) WaitAsync(mux *Mutex, timeout time.Duration) (<-chan threadaddr.WaitResult, error) {
	ch := make(chan threadaddr.WaitResult, 1)
	seq, err := c.state.Load(cvSeqIdx)
	if err != nil {
		return nil, err
	}
	if err := c.state.Store(cvPrevIdx, seq); err != nil {
		return nil, err
	}
	if err := mux.Unlock(); err != nil {
		return nil, err
	}

	go func() {
		start := time.Now()
		res, err := c.state.Wait(cvSeqIdx, seq, timeout)
		if err != nil {
			ch <- threadaddr.WaitTimedOut
			return
		}
		remaining := time.Duration(0)
		if timeout > 0 {
			remaining = timeout - time.Since(start)
			if remaining < 0 {
				remaining = 0
			}
		}
		acquired, lockErr := mux.Lock(remaining)
		if lockErr != nil || !acquired {
			ch <- threadaddr.WaitTimedOut
			return
		}
		ch <- res
	}()
	return ch, nil
}

// Notify wakes up to count waiters: it loads prev (the seq value the
// most recent waiter observed before blocking), stores prev+1 into
// seq, then notifies count waiters blocked on seq.
func (c *ConditionVariable) Notify(count int) (int, error) {
	prev, err := c.state.Load(cvPrevIdx)
	if err != nil {
		return 0, err
	}
	if err := c.state.Store(cvSeqIdx, prev+1); err != nil {
		return 0, err
	}
	return c.state.Notify(cvSeqIdx, count)
}

// NotifyAll wakes every waiter currently blocked on this
// ConditionVariable.
func (c *ConditionVariable) NotifyAll() (int, error) {
	return c.Notify(int(^uint(0) >> 1))
}
