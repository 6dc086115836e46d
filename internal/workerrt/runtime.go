// Package workerrt is the worker side of the protocol internal/thread
// drives from the parent side: a message loop, a handler dispatch
// table, and the helpers a worker body uses to talk back to its
// parent. Grounded on internal/hooks/dispatcher.go's channel-fed
// dispatch loop and internal/core/errors.go's ErrorRecovery.SafeExecute
// panic boundary (a panicking handler becomes a WorkerError reply,
// not a crashed goroutine).
package workerrt

import (
	"sync/atomic"
	"time"

	peakthreads "github.com/matthewtolman/peak-threads"
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/hydrate"
)

// Message is the single envelope shape exchanged in both directions
// between a Thread and its worker goroutine. Kind discriminates which
// fields are meaningful, mirroring the spec's disjoint-field-pattern
// system messages.
type Message struct {
	Kind          string
	ThreadID      string
	WorkID        string
	Work          any
	Result        any
	Err           error
	ShareID       string
	ShareItem     any
	ShareMsg      any
	TransferID    string
	TransferMsg   any
	TransferItems []any
	InitData      any
	CloseWhenIdle time.Duration
	EventData     any
}

// Kinds a parent sends inbound to a worker.
const (
	KindInit     = "init"
	KindWork     = "work"
	KindShare    = "share"
	KindTransfer = "transfer"
	KindClose    = "close"
	KindEvent    = "event"
)

// Kinds a worker sends outbound to its parent.
const (
	KindInitd     = "initd"
	KindRes       = "res"
	KindRej       = "rej"
	KindShared    = "shared"
	KindTransferd = "transferd"
	KindClosed    = "closed"
	KindError     = "error"
)

// Runtime is the handler table and dispatch loop a worker body runs
// against. internal/thread constructs one per spawned worker and
// hands it to the caller's WorkerFunc, which installs handlers on it
// before Run is called.
type Runtime struct {
	threadID string
	inbound  <-chan Message
	outbound chan<- Message

	onInit     func(initData any) error
	onWork     func(work any) (any, error)
	onShare    func(item any, message any)
	onTransfer func(message any, items []any)
	onEvent    func(event any)
	onClose    func()

	processing int64
	recovery   *core.ErrorRecovery
	registry   map[string]func(any) (any, error)
}

// NewRuntime constructs a Runtime reading from inbound and writing to
// outbound. internal/thread owns both channels and passes them here
// when spawning a worker goroutine.
func NewRuntime(threadID string, inbound <-chan Message, outbound chan<- Message) *Runtime {
	return &Runtime{
		threadID: threadID,
		inbound:  inbound,
		outbound: outbound,
		recovery: core.NewErrorRecovery(nil),
		registry: make(map[string]func(any) (any, error)),
	}
}

// OnInit installs the handler run once, synchronously, on the initial
// system message. A non-nil return fails the spawn.
func (r *Runtime) OnInit(fn func(initData any) error) { r.onInit = fn }

// OnWork installs the handler invoked for every sendWork request.
func (r *Runtime) OnWork(fn func(work any) (any, error)) { r.onWork = fn }

// OnShare installs the handler invoked when the parent shares an item.
func (r *Runtime) OnShare(fn func(item any, message any)) { r.onShare = fn }

// OnTransfer installs the handler invoked when the parent transfers
// ownership of items to this worker.
func (r *Runtime) OnTransfer(fn func(message any, items []any)) { r.onTransfer = fn }

// OnEvent installs the handler invoked for non-system messages sent
// via Thread.SendEvent.
func (r *Runtime) OnEvent(fn func(event any)) { r.onEvent = fn }

// OnClose installs the handler invoked once, just before the worker's
// dispatch loop exits following a Close.
func (r *Runtime) OnClose(fn func()) { r.onClose = fn }

// CurThread returns this worker's hierarchical thread id.
func (r *Runtime) CurThread() string { return r.threadID }

// NumMessagesProcessing reports how many inbound messages this
// worker is currently handling concurrently (always 0 or 1 — the
// dispatch loop below processes one message at a time, matching a
// single-threaded JS worker realm).
func (r *Runtime) NumMessagesProcessing() int {
	return int(atomic.LoadInt64(&r.processing))
}

// Transfer posts a transfer message from the worker back to its
// parent, carrying message and items. Go has no structured-clone
// transfer list to detach — items travel by reference, and callers
// are expected to honor the same "treat as moved" discipline the
// parent-side Transfer documents, even though nothing enforces it.
func (r *Runtime) Transfer(message any, items []any) {
	dehydratedItems := make([]any, len(items))
	for i, item := range items {
		dehydratedItems[i] = hydrate.Dehydrate(item)
	}
	r.outbound <- Message{Kind: KindTransferd, TransferMsg: hydrate.Dehydrate(message), TransferItems: dehydratedItems}
}

// SendError posts an unsolicited error from the worker to its parent's
// onErrorHandler.
func (r *Runtime) SendError(err error) {
	r.outbound <- Message{Kind: KindError, Err: err}
}

// Register installs a handler for a custom, non-system message kind
// this worker recognizes on top of the fixed onWork/onShare/onTransfer
// slots. Fails with NotInWorker if called from the goroutine marked
// via peakthreads.MarkMainGoroutine, since registration only makes
// sense from inside a running worker body.
func (r *Runtime) Register(kind string, handler func(any) (any, error)) error {
	if peakthreads.IsMainGoroutine() {
		return core.NewThreadError(core.KindNotInWorker, "Register may not be called from the main goroutine")
	}
	if kind == "" || handler == nil {
		return core.NewThreadError(core.KindInvalidRegistration, "worker handler registration missing kind or handler")
	}
	r.registry[kind] = handler
	return nil
}

// Run drives this worker's dispatch loop until a close message is
// received or inbound is closed. It blocks the calling goroutine —
// internal/thread always calls Run from a freshly spawned goroutine,
// never the one that called Spawn.
func (r *Runtime) Run() {
	defer close(r.outbound)
	for msg := range r.inbound {
		atomic.AddInt64(&r.processing, 1)
		r.dispatch(msg)
		atomic.AddInt64(&r.processing, -1)

		if msg.Kind == KindClose {
			return
		}
	}
}

func (r *Runtime) dispatch(msg Message) {
	switch msg.Kind {
	case KindInit:
		r.handleInit(msg)
	case KindWork:
		r.handleWork(msg)
	case KindShare:
		r.handleShare(msg)
	case KindTransfer:
		r.handleTransfer(msg)
	case KindEvent:
		r.handleEvent(msg)
	case KindClose:
		if r.onClose != nil {
			r.recovery.SafeExecute(func() error { r.onClose(); return nil })
		}
		r.outbound <- Message{Kind: KindClosed}
	default:
		if handler, ok := r.registry[msg.Kind]; ok {
			result, err := handler(hydrate.Hydrate(msg.Work))
			if err != nil {
				r.outbound <- Message{Kind: KindRej, WorkID: msg.WorkID, Err: err}
				return
			}
			r.outbound <- Message{Kind: KindRes, WorkID: msg.WorkID, Result: hydrate.Dehydrate(result)}
		}
	}
}

func (r *Runtime) handleInit(msg Message) {
	var initErr error
	if r.onInit != nil {
		_, err := r.recovery.SafeExecute(func() error { return r.onInit(hydrate.Hydrate(msg.InitData)) })
		initErr = err
	}
	r.outbound <- Message{Kind: KindInitd, Err: initErr}
}

func (r *Runtime) handleWork(msg Message) {
	if r.onWork == nil {
		r.outbound <- Message{Kind: KindRej, WorkID: msg.WorkID,
			Err: core.NewThreadError(core.KindInvalidOperation, "worker has no onwork handler installed")}
		return
	}

	var result any
	_, err := r.recovery.SafeExecute(func() error {
		var werr error
		result, werr = r.onWork(hydrate.Hydrate(msg.Work))
		return werr
	})
	if err != nil {
		r.outbound <- Message{Kind: KindRej, WorkID: msg.WorkID, Err: err}
		return
	}
	r.outbound <- Message{Kind: KindRes, WorkID: msg.WorkID, Result: hydrate.Dehydrate(result)}
}

func (r *Runtime) handleShare(msg Message) {
	if r.onShare != nil {
		r.recovery.SafeExecute(func() error {
			r.onShare(hydrate.Hydrate(msg.ShareItem), hydrate.Hydrate(msg.ShareMsg))
			return nil
		})
	}
	r.outbound <- Message{Kind: KindShared, ShareID: msg.ShareID}
}

func (r *Runtime) handleTransfer(msg Message) {
	if r.onTransfer != nil {
		r.recovery.SafeExecute(func() error {
			items := make([]any, len(msg.TransferItems))
			for i, item := range msg.TransferItems {
				items[i] = hydrate.Hydrate(item)
			}
			r.onTransfer(hydrate.Hydrate(msg.TransferMsg), items)
			return nil
		})
	}
	r.outbound <- Message{Kind: KindTransferd, TransferID: msg.TransferID}
}

func (r *Runtime) handleEvent(msg Message) {
	if r.onEvent != nil {
		r.recovery.SafeExecute(func() error {
			r.onEvent(hydrate.Hydrate(msg.EventData))
			return nil
		})
	}
}
