// Package thread is the parent side of the worker protocol: Spawn
// starts a worker goroutine running a caller-supplied WorkerFunc
// against an internal/workerrt.Runtime, then SendWork/SendEvent/
// Share/Transfer/Close/Kill drive it over two buffered channels.
//
// Grounded on internal/agent/event_worker.go's EventWorker lifecycle —
// Start dials then waits for confirmation, Stop cancels a context and
// drains a sync.WaitGroup, requests are buffered and flushed — rebuilt
// here as an in-process goroutine+channel pair instead of a gRPC
// client, since a "worker" in this module is a goroutine, not a
// remote agent.
package thread

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/hydrate"
	"github.com/matthewtolman/peak-threads/internal/workerrt"
)

// WorkerFunc is the body executed on a freshly spawned worker
// goroutine. It installs handlers on rt before returning; Spawn then
// calls rt.Run(), which blocks the worker goroutine for its entire
// lifetime.
type WorkerFunc func(rt *workerrt.Runtime)

// SpawnOptions configures a Spawn call, mirroring the opts bag the
// spec's Thread.spawn takes.
type SpawnOptions struct {
	InitData          any
	OnEventHandler    func(msg any)
	OnTransferHandler func(message any, items []any)
	OnErrorHandler    func(err error)
	CloseWhenIdle     time.Duration
	CloseHandler      func(t *Thread)
}

// Thread is a handle to a running worker goroutine, held by whichever
// goroutine spawned it (or by a ThreadPool on its behalf).
type Thread struct {
	id       string
	inbound  chan workerrt.Message
	outbound chan workerrt.Message

	mu              sync.Mutex
	pendingWork     map[string]chan workReply
	pendingShare    map[string]chan error
	pendingTransfer map[string]chan error
	pendingPool     int32

	closeWhenIdle time.Duration
	idleTimers    *core.TimeoutManager

	killed int32
	closed int32

	onEvent    func(msg any)
	onTransfer func(message any, items []any)
	onError    func(err error)
	onClose    func(t *Thread)

	doneCh chan struct{}
}

type workReply struct {
	result any
	err    error
}

var (
	childCountersMu sync.Mutex
	childCounters   = map[string]*int64{}
)

// nextID builds a hierarchical id of the form "parent>n", where n
// increments within the parent (a second, unrelated parent's children
// are numbered independently), matching the spec's thread.id()
// contract. The root thread (no parent) is "main".
func nextID(parent string) string {
	if parent == "" {
		parent = "main"
	}

	childCountersMu.Lock()
	counter, ok := childCounters[parent]
	if !ok {
		counter = new(int64)
		childCounters[parent] = counter
	}
	childCountersMu.Unlock()

	n := atomic.AddInt64(counter, 1)
	return fmt.Sprintf("%s>%d", parent, n)
}

// Spawn starts fn on a new goroutine backed by a workerrt.Runtime,
// performs the init handshake, and returns a live handle once the
// worker acknowledges __initd. parentID is "" for a thread spawned
// directly from the main goroutine ("main>1"); a ThreadPool passes
// "pool" as parent so pooled workers are numbered "pool>n".
func Spawn(parentID string, fn WorkerFunc, opts SpawnOptions) (*Thread, error) {
	id := nextID(parentID)

	t := &Thread{
		id:              id,
		inbound:         make(chan workerrt.Message, 16),
		outbound:        make(chan workerrt.Message, 16),
		pendingWork:     make(map[string]chan workReply),
		pendingShare:    make(map[string]chan error),
		pendingTransfer: make(map[string]chan error),
		closeWhenIdle:   opts.CloseWhenIdle,
		idleTimers:      core.NewTimeoutManager(nil),
		onEvent:         opts.OnEventHandler,
		onTransfer:      opts.OnTransferHandler,
		onError:         opts.OnErrorHandler,
		onClose:         opts.CloseHandler,
		doneCh:          make(chan struct{}),
	}

	rt := workerrt.NewRuntime(id, t.inbound, t.outbound)
	go func() {
		fn(rt)
		rt.Run()
	}()

	t.inbound <- workerrt.Message{Kind: workerrt.KindInit, ThreadID: id, InitData: hydrate.Dehydrate(opts.InitData)}

	// Spawn is the sole reader of outbound until the init handshake
	// completes; pump takes over as the only reader from here on, so
	// there is never more than one goroutine draining the channel.
	initd := <-t.outbound
	if initd.Kind != workerrt.KindInitd {
		return nil, core.NewThreadError(core.KindInitializationFailed, "worker did not acknowledge init")
	}
	if initd.Err != nil {
		return nil, core.NewThreadError(core.KindInitializationFailed, "worker init handler failed").WithCause(initd.Err)
	}

	go t.pump()
	t.armIdleTimer()
	return t, nil
}

// pump is the single goroutine reading every message a worker sends
// back after the init handshake, routing system replies to pending
// requests and everything else to the relevant handler.
func (t *Thread) pump() {
	for msg := range t.outbound {
		switch msg.Kind {
		case workerrt.KindInitd:
			// already consumed synchronously by Spawn; unreachable.
		case workerrt.KindRes:
			t.resolveWork(msg.WorkID, workReply{result: hydrate.Hydrate(msg.Result)})
		case workerrt.KindRej:
			t.resolveWork(msg.WorkID, workReply{err: msg.Err})
		case workerrt.KindShared:
			t.resolveShare(msg.ShareID, nil)
		case workerrt.KindTransferd:
			if msg.TransferID != "" {
				t.resolveTransfer(msg.TransferID, nil)
				continue
			}
			if t.onTransfer != nil {
				items := make([]any, len(msg.TransferItems))
				for i, item := range msg.TransferItems {
					items[i] = hydrate.Hydrate(item)
				}
				t.onTransfer(hydrate.Hydrate(msg.TransferMsg), items)
			}
		case workerrt.KindEvent:
			if t.onEvent != nil {
				t.onEvent(hydrate.Hydrate(msg.EventData))
			}
		case workerrt.KindError:
			if t.onError != nil {
				t.onError(msg.Err)
			}
		case workerrt.KindClosed:
			close(t.doneCh)
			if t.onClose != nil {
				t.onClose(t)
			}
			return
		}
	}
}

func (t *Thread) resolveWork(workID string, reply workReply) {
	t.mu.Lock()
	ch, ok := t.pendingWork[workID]
	delete(t.pendingWork, workID)
	t.mu.Unlock()
	if ok {
		ch <- reply
	}
	t.armIdleTimer()
}

func (t *Thread) resolveShare(shareID string, err error) {
	t.mu.Lock()
	ch, ok := t.pendingShare[shareID]
	delete(t.pendingShare, shareID)
	t.mu.Unlock()
	if ok {
		ch <- err
	}
	t.armIdleTimer()
}

func (t *Thread) resolveTransfer(transferID string, err error) {
	t.mu.Lock()
	ch, ok := t.pendingTransfer[transferID]
	delete(t.pendingTransfer, transferID)
	t.mu.Unlock()
	if ok {
		ch <- err
	}
	t.armIdleTimer()
}

// rejectPending fails every outstanding SendWork/Share/Transfer
// request with err. Used by both Close (a request lost behind a
// racing KindClose) and Kill (every request, since nothing further
// will ever be dispatched).
func (t *Thread) rejectPending(err error) {
	t.mu.Lock()
	for id, ch := range t.pendingWork {
		ch <- workReply{err: err}
		delete(t.pendingWork, id)
	}
	for id, ch := range t.pendingShare {
		ch <- err
		delete(t.pendingShare, id)
	}
	for id, ch := range t.pendingTransfer {
		ch <- err
		delete(t.pendingTransfer, id)
	}
	t.mu.Unlock()
}

// ID returns this thread's hierarchical id, e.g. "main>1" or
// "main>1>3" for a thread spawned from within thread main>1.
func (t *Thread) ID() string { return t.id }

func (t *Thread) checkLive() error {
	if atomic.LoadInt32(&t.killed) != 0 {
		return core.NewThreadError(core.KindThreadStopped, "thread has been killed")
	}
	if atomic.LoadInt32(&t.closed) != 0 {
		return core.NewThreadError(core.KindInvalidOperation, "thread has been closed")
	}
	return nil
}

// SendWork posts work to the worker and blocks until it replies with
// a result or an error. NumPendingRequests reflects this call for its
// entire duration.
func (t *Thread) SendWork(work any) (any, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}

	workID := uuid.NewString()
	replyCh := make(chan workReply, 1)
	t.mu.Lock()
	t.pendingWork[workID] = replyCh
	t.mu.Unlock()

	t.idleTimers.CancelTimeout("idle")
	t.inbound <- workerrt.Message{Kind: workerrt.KindWork, WorkID: workID, Work: hydrate.Dehydrate(work)}

	reply := <-replyCh
	return reply.result, reply.err
}

// SendEvent posts a non-system message to the worker's onEvent
// handler. It does not count toward NumPendingRequests and has no
// reply.
func (t *Thread) SendEvent(event any) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.idleTimers.CancelTimeout("idle")
	t.inbound <- workerrt.Message{Kind: workerrt.KindEvent, EventData: hydrate.Dehydrate(event)}
	t.armIdleTimer()
	return nil
}

// Share posts item, plus an optional message, to the worker's onShare
// handler and blocks until the worker acknowledges receipt.
func (t *Thread) Share(item any, message any) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	shareID := uuid.NewString()
	ackCh := make(chan error, 1)
	t.mu.Lock()
	t.pendingShare[shareID] = ackCh
	t.mu.Unlock()

	t.idleTimers.CancelTimeout("idle")
	t.inbound <- workerrt.Message{Kind: workerrt.KindShare, ShareID: shareID, ShareItem: hydrate.Dehydrate(item), ShareMsg: hydrate.Dehydrate(message)}
	return <-ackCh
}

// Transfer posts message plus items to the worker's onTransfer
// handler. Items are conceptually moved: Go has no structured-clone
// detach to enforce this, so callers must not keep using items after
// a Transfer the way they must stop after a JS transferable is sent.
func (t *Thread) Transfer(message any, items []any) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	transferID := uuid.NewString()
	ackCh := make(chan error, 1)
	t.mu.Lock()
	t.pendingTransfer[transferID] = ackCh
	t.mu.Unlock()

	dehydratedItems := make([]any, len(items))
	for i, item := range items {
		dehydratedItems[i] = hydrate.Dehydrate(item)
	}
	t.idleTimers.CancelTimeout("idle")
	t.inbound <- workerrt.Message{Kind: workerrt.KindTransfer, TransferID: transferID, TransferMsg: hydrate.Dehydrate(message), TransferItems: dehydratedItems}
	return <-ackCh
}

// Close requests a graceful shutdown: the worker's onClose handler
// runs, then its dispatch loop exits. Any call after Close fails with
// InvalidOperation, except Kill, which returns nothing and does nothing
// then; after Kill, SendWork/SendEvent/Share/Transfer fail
// with ThreadStopped and Close fails with InvalidOperation.
func (t *Thread) Close() error {
	if atomic.LoadInt32(&t.killed) != 0 {
		return core.NewThreadError(core.KindInvalidOperation, "thread already killed")
	}
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return core.NewThreadError(core.KindInvalidOperation, "thread already closed")
	}
	t.inbound <- workerrt.Message{Kind: workerrt.KindClose}
	<-t.doneCh
	close(t.inbound)

	// A message sent concurrently with this Close (Share/Transfer/SendWork
	// racing the idle timer or a second caller) can land behind KindClose
	// in the worker's inbound channel and never get dispatched, since the
	// worker's Run loop returns as soon as it sees KindClose. Reject
	// whatever is still pending rather than leaving its caller blocked
	// forever on an ack that will now never arrive.
	t.rejectPending(core.NewThreadError(core.KindShuttingDown, "thread closed while request was in flight"))
	return nil
}

// Kill terminates this thread immediately: outstanding requests are
// rejected with ThreadStopped, and closeHandler (if any) runs exactly
// once. Go has no way to preempt a running goroutine, so Kill's
// "immediately" is from the caller's perspective only — it stops
// accepting new work and tears down bookkeeping right away, but a
// worker handler already in flight still runs to completion on its
// own goroutine. Closing inbound unblocks the dispatch loop once that
// handler returns, instead of waiting on the graceful onClose/KindClose
// round trip that Close performs.
func (t *Thread) Kill() {
	if !atomic.CompareAndSwapInt32(&t.killed, 0, 1) {
		return
	}
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		// Close already closed inbound and ran closeHandler.
		return
	}

	t.rejectPending(core.NewThreadError(core.KindThreadStopped, "thread was killed"))

	t.idleTimers.CancelAll()
	close(t.inbound)
	if t.onClose != nil {
		t.onClose(t)
	}
}

// NumPendingRequests counts outstanding SendWork calls plus any pool
// reservations claimed via PoolClaim.
func (t *Thread) NumPendingRequests() int {
	t.mu.Lock()
	n := len(t.pendingWork)
	t.mu.Unlock()
	return n + int(atomic.LoadInt32(&t.pendingPool))
}

// PoolClaim lets a ThreadPool reserve capacity on this thread ahead of
// actually sending work, so concurrent scheduling decisions see it as
// busy before the first SendWork lands.
func (t *Thread) PoolClaim() {
	atomic.AddInt32(&t.pendingPool, 1)
}

// PoolRelease releases a reservation made by PoolClaim.
func (t *Thread) PoolRelease() {
	atomic.AddInt32(&t.pendingPool, -1)
}

func (t *Thread) armIdleTimer() {
	if t.closeWhenIdle <= 0 {
		return
	}
	if t.NumPendingRequests() > 0 {
		return
	}
	t.idleTimers.StartTimeout("idle", t.closeWhenIdle, func() {
		_ = t.Close()
	})
}
