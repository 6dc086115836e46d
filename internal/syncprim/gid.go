package syncprim

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the runtime's own goroutine id by parsing the
// "goroutine N [state]:" header every stack dump starts with. Mutex
// and Semaphore both need this for their local "which permits does
// the calling goroutine hold" bookkeeping — the spec requires HasLock
// and HasAcquired to answer per-caller, not per-instance, since the
// same *Mutex Go value is shared by every goroutine in this process
// (there is no per-worker address space to keep a thread-local set
// in, the way the original browser-worker model does).
//
// This duplicates peakthreads.goroutineID rather than importing the
// module root: that package's purpose is the single main-goroutine
// flag, not a general-purpose goroutine-identity utility, and pulling
// a second concern into it would blur its one job.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx >= 0 {
		buf = buf[:idx]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}

// heldSet tracks, per goroutine, which instances of a shared-memory
// lock-like primitive (identified by pointer identity) that goroutine
// currently believes it holds. Mutex.HasLock and Semaphore.HasAcquired
// are both local membership queries of exactly this shape.
type heldSet struct {
	mu   sync.Mutex
	held map[uint64]map[uintptr]struct{}
}

func newHeldSet() *heldSet {
	return &heldSet{held: make(map[uint64]map[uintptr]struct{})}
}

func (h *heldSet) add(owner uintptr) {
	gid := goroutineID()
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.held[gid]
	if !ok {
		set = make(map[uintptr]struct{})
		h.held[gid] = set
	}
	set[owner] = struct{}{}
}

func (h *heldSet) remove(owner uintptr) {
	gid := goroutineID()
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.held[gid]; ok {
		delete(set, owner)
		if len(set) == 0 {
			delete(h.held, gid)
		}
	}
}

func (h *heldSet) has(owner uintptr) bool {
	gid := goroutineID()
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.held[gid]
	if !ok {
		return false
	}
	_, ok = set[owner]
	return ok
}
