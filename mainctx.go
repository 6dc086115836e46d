// Package peakthreads is the module root: it carries the process-wide
// "am I the UI/main goroutine" flag the spec's blocking-wait guard
// relies on, and nothing else.
package peakthreads

import (
	"bytes"
	"runtime"
	"strconv"
	"sync/atomic"
)

var (
	mainMarked      int32
	mainGoroutineID uint64
)

// MarkMainGoroutine records the calling goroutine as the UI/main
// context. Call it once, early, from func main(). Every blocking
// primitive call (Lock, Acquire, Wait, ...) made from this goroutine
// afterward fails with a BlockingNotAllowed error instead of
// suspending it; the *Async sibling must be used there instead.
func MarkMainGoroutine() {
	mainGoroutineID = goroutineID()
	atomic.StoreInt32(&mainMarked, 1)
}

// IsMainGoroutine reports whether the calling goroutine is the one
// that called MarkMainGoroutine.
func IsMainGoroutine() bool {
	if atomic.LoadInt32(&mainMarked) == 0 {
		return false
	}
	return goroutineID() == mainGoroutineID
}

// goroutineID extracts the runtime's own goroutine id by parsing the
// "goroutine N [state]:" header every stack dump starts with. The
// runtime does not export goroutine identity any other way.
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
