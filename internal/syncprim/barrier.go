package syncprim

import (
	peakthreads "github.com/matthewtolman/peak-threads"
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/dehydrate"
	"github.com/matthewtolman/peak-threads/internal/threadaddr"
	"github.com/matthewtolman/peak-threads/internal/threadalloc"
)

const (
	barrierNumHitIdx   = 0
	barrierEpochSeqIdx = 1
)

// Barrier holds maxNeeded arrivals at Wait until the last one shows
// up, then releases all of them together and resets for the next
// epoch — reusable indefinitely, unlike a one-shot countdown latch.
// Backed by an embedded Mutex (protecting numHit) plus two shared
// int32 words (numHit, epochSeq).
type Barrier struct {
	mux       *Mutex
	state     *threadaddr.Address[int32]
	maxNeeded int32
}

// BarrierValue is Barrier's dehydrated shape: its embedded Mutex, the
// address of its two-int32 state pair, and its fixed party count.
type BarrierValue struct {
	Mux       MutexValue
	Addr      threadaddr.AddressValue
	MaxNeeded int32
}

// BarrierHydrationKey is the __type tag Barrier dehydrates under.
const BarrierHydrationKey = "Barrier"

// MakeBarrier allocates a fresh Barrier requiring maxNeeded arrivals
// per epoch. maxNeeded must be at least 1.
func MakeBarrier(maxNeeded int32) (*Barrier, error) {
	if maxNeeded < 1 {
		return nil, core.NewThreadError(core.KindInvalidOperation, "Barrier requires maxNeeded >= 1").
			WithDetail("maxNeeded", maxNeeded)
	}
	mux, err := MakeMutex()
	if err != nil {
		return nil, err
	}
	return threadalloc.Make(func(handles []threadaddr.Handle, extra ...any) *Barrier {
		state, _ := threadaddr.Cast[int32](handles[0])
		return &Barrier{mux: mux, state: state, maxNeeded: maxNeeded}
	}, ELEMENT_LAYOUT_Barrier())
}

// ELEMENT_LAYOUT_Barrier describes Barrier's own backing slab — two
// consecutive int32s (numHit, epochSeq). The embedded Mutex's slab is
// separate, allocated by MakeMutex.
func ELEMENT_LAYOUT_Barrier() []threadalloc.LayoutItem {
	return []threadalloc.LayoutItem{{Tag: threadaddr.TagInt32, Count: 2}}
}

// HydrateBarrier reconstructs a Barrier pointing at the same backing
// words and embedded Mutex.
func HydrateBarrier(v BarrierValue) (*Barrier, error) {
	mux, err := HydrateMutex(v.Mux)
	if err != nil {
		return nil, err
	}
	h, err := threadaddr.HydrateAddress(v.Addr)
	if err != nil {
		return nil, err
	}
	state, err := threadaddr.Cast[int32](h)
	if err != nil {
		return nil, err
	}
	return &Barrier{mux: mux, state: state, maxNeeded: v.MaxNeeded}, nil
}

// DehydrateSelf implements dehydrate.Dehydratable.
func (b *Barrier) DehydrateSelf() dehydrate.Dehydrated {
	return dehydrate.Dehydrated{
		Type: BarrierHydrationKey,
		Value: BarrierValue{
			Mux:       b.mux.DehydrateSelf().Value.(MutexValue),
			Addr:      b.state.DehydrateSelf().Value.(threadaddr.AddressValue),
			MaxNeeded: b.maxNeeded,
		},
	}
}

// HydrationKey reports the __type tag this Barrier dehydrates under.
func (b *Barrier) HydrationKey() string { return BarrierHydrationKey }

// Wait blocks until maxNeeded goroutines have called Wait for the
// current epoch, then releases all of them and opens a new epoch.
// Fails immediately with BlockingNotAllowed on the main goroutine.
func (b *Barrier) Wait() error {
	if peakthreads.IsMainGoroutine() {
		return core.NewThreadError(core.KindBlockingNotAllowed,
			"Wait may not be called from the main goroutine; use WaitAsync")
	}

	return b.waitBlocking()
}

// WaitAsync is the non-blocking sibling of Wait. Safe to call from
// the main goroutine.
func (b *Barrier) WaitAsync() <-chan threadaddr.WaitResult {
	ch := make(chan threadaddr.WaitResult, 1)
	go func() {
		if err := b.waitBlocking(); err != nil {
			ch <- threadaddr.WaitTimedOut
			return
		}
		ch <- threadaddr.WaitOK
	}()
	return ch
}

// waitBlocking is Wait's body without the main-goroutine guard.
func (b *Barrier) waitBlocking() error {
	if _, err := b.mux.Lock(0); err != nil {
		return err
	}

	hit, err := b.state.Add(barrierNumHitIdx, 1)
	if err != nil {
		b.mux.Unlock()
		return err
	}
	hit++

	if hit < b.maxNeeded {
		epoch, err := b.state.Load(barrierEpochSeqIdx)
		if err != nil {
			b.mux.Unlock()
			return err
		}
		if err := b.mux.Unlock(); err != nil {
			return err
		}
		_, err = b.state.Wait(barrierEpochSeqIdx, epoch, 0)
		return err
	}

	if _, err := b.state.Add(barrierEpochSeqIdx, 1); err != nil {
		b.mux.Unlock()
		return err
	}
	if err := b.state.Store(barrierNumHitIdx, 0); err != nil {
		b.mux.Unlock()
		return err
	}
	if _, err := b.state.NotifyAll(barrierEpochSeqIdx); err != nil {
		b.mux.Unlock()
		return err
	}
	return b.mux.Unlock()
}
