package threadaddr

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/matthewtolman/peak-threads/internal/core"
)

// Handle is the type-erased interface every *Address[T] satisfies. It
// lets code that doesn't know (or care about) T pass an address
// around positionally — the allocator hands back a []Handle, one per
// ELEMENT_LAYOUT item, and each primitive constructor recovers its
// concrete *Address[T] from the slot it expects via Cast[T].
type Handle interface {
	Tag() ScalarTag
	Count() int
	Memory() []byte
	Offset() int
}

// Address is a typed, bounds-checked view over a window of a shared
// []byte slab. It is the unit the allocator hands back for every
// ELEMENT_LAYOUT item, and the unit every synchronization primitive
// addresses its state words through.
type Address[T Numeric] struct {
	memory []byte
	offset int
	count  int
	tag    ScalarTag
}

// New constructs an Address over memory[offset : offset+count*width(T)].
// Construction fails with an OutOfBounds ThreadError if that window
// doesn't fit.
func New[T Numeric](memory []byte, offset, count int) (*Address[T], error) {
	tag, err := tagFor[T]()
	if err != nil {
		return nil, err
	}
	if offset < 0 || count < 0 || offset+count*tag.Width() > len(memory) {
		return nil, core.NewThreadError(core.KindOutOfBounds, "address window exceeds backing memory").
			WithDetail("offset", offset).
			WithDetail("count", count).
			WithDetail("width", tag.Width()).
			WithDetail("memory_len", len(memory))
	}
	return &Address[T]{memory: memory, offset: offset, count: count, tag: tag}, nil
}

// Count returns the number of elements this address spans.
func (a *Address[T]) Count() int { return a.count }

// Tag returns the scalar kind backing this address.
func (a *Address[T]) Tag() ScalarTag { return a.tag }

// Memory returns the backing slab, for passing to threadalloc or a
// dehydration envelope — callers must not resize it.
func (a *Address[T]) Memory() []byte { return a.memory }

// Offset returns the byte offset into Memory() this address starts at.
func (a *Address[T]) Offset() int { return a.offset }

func (a *Address[T]) checkIndex(i int) error {
	if i < 0 || i >= a.count {
		return core.NewThreadError(core.KindOutOfBounds, "index out of range").
			WithDetail("index", i).
			WithDetail("count", a.count)
	}
	return nil
}

func (a *Address[T]) ptr(i int) unsafe.Pointer {
	return unsafe.Pointer(&a.memory[a.offset+i*a.tag.Width()])
}

// Get performs a plain (non-atomic) load of element i.
func (a *Address[T]) Get(i int) (T, error) {
	var zero T
	if err := a.checkIndex(i); err != nil {
		return zero, err
	}
	return *(*T)(a.ptr(i)), nil
}

// Set performs a plain (non-atomic) store to element i.
func (a *Address[T]) Set(i int, v T) error {
	if err := a.checkIndex(i); err != nil {
		return err
	}
	*(*T)(a.ptr(i)) = v
	return nil
}

func (a *Address[T]) checkAtomic(i int) error {
	if a.tag.IsFloat() {
		return core.NewThreadError(core.KindInvalidLayout, "atomic operations require integer-backed Address").
			WithDetail("tag", a.tag.String())
	}
	return a.checkIndex(i)
}

// narrowLocks stripes a small mutex table over addresses for the
// widths sync/atomic doesn't natively support (8/16-bit); 32/64-bit
// widths use real lock-free atomics below. Striping by pointer avoids
// one giant lock while keeping the table's own footprint tiny.
var narrowLocks [256]sync.Mutex

func narrowLockFor(p unsafe.Pointer) *sync.Mutex {
	h := uintptr(p)
	h = (h >> 3) ^ (h >> 11)
	return &narrowLocks[h%uintptr(len(narrowLocks))]
}

// Load atomically reads element i.
func (a *Address[T]) Load(i int) (T, error) {
	var zero T
	if err := a.checkAtomic(i); err != nil {
		return zero, err
	}
	p := a.ptr(i)
	switch a.tag {
	case TagInt32:
		return any(atomic.LoadInt32((*int32)(p))).(T), nil
	case TagUint32:
		return any(atomic.LoadUint32((*uint32)(p))).(T), nil
	case TagInt64:
		return any(atomic.LoadInt64((*int64)(p))).(T), nil
	case TagUint64:
		return any(atomic.LoadUint64((*uint64)(p))).(T), nil
	default:
		m := narrowLockFor(p)
		m.Lock()
		defer m.Unlock()
		return *(*T)(p), nil
	}
}

// Store atomically writes v to element i.
func (a *Address[T]) Store(i int, v T) error {
	if err := a.checkAtomic(i); err != nil {
		return err
	}
	p := a.ptr(i)
	switch a.tag {
	case TagInt32:
		atomic.StoreInt32((*int32)(p), any(v).(int32))
	case TagUint32:
		atomic.StoreUint32((*uint32)(p), any(v).(uint32))
	case TagInt64:
		atomic.StoreInt64((*int64)(p), any(v).(int64))
	case TagUint64:
		atomic.StoreUint64((*uint64)(p), any(v).(uint64))
	default:
		m := narrowLockFor(p)
		m.Lock()
		*(*T)(p) = v
		m.Unlock()
	}
	return nil
}

// Swap atomically stores v and returns the previous value.
func (a *Address[T]) Swap(i int, v T) (T, error) {
	var zero T
	if err := a.checkAtomic(i); err != nil {
		return zero, err
	}
	p := a.ptr(i)
	switch a.tag {
	case TagInt32:
		return any(atomic.SwapInt32((*int32)(p), any(v).(int32))).(T), nil
	case TagUint32:
		return any(atomic.SwapUint32((*uint32)(p), any(v).(uint32))).(T), nil
	case TagInt64:
		return any(atomic.SwapInt64((*int64)(p), any(v).(int64))).(T), nil
	case TagUint64:
		return any(atomic.SwapUint64((*uint64)(p), any(v).(uint64))).(T), nil
	default:
		m := narrowLockFor(p)
		m.Lock()
		defer m.Unlock()
		old := *(*T)(p)
		*(*T)(p) = v
		return old, nil
	}
}

// CompareExchange stores replacement at element i if its current
// value equals expected, and always returns the value observed there
// immediately before the attempt (mirroring Atomics.compareExchange,
// which returns the prior value rather than a boolean).
func (a *Address[T]) CompareExchange(i int, expected, replacement T) (previous T, swapped bool, err error) {
	if err = a.checkAtomic(i); err != nil {
		return previous, false, err
	}
	p := a.ptr(i)
	switch a.tag {
	case TagInt32:
		e, r := any(expected).(int32), any(replacement).(int32)
		for {
			old := atomic.LoadInt32((*int32)(p))
			if old != e {
				return any(old).(T), false, nil
			}
			if atomic.CompareAndSwapInt32((*int32)(p), old, r) {
				return any(old).(T), true, nil
			}
		}
	case TagUint32:
		e, r := any(expected).(uint32), any(replacement).(uint32)
		for {
			old := atomic.LoadUint32((*uint32)(p))
			if old != e {
				return any(old).(T), false, nil
			}
			if atomic.CompareAndSwapUint32((*uint32)(p), old, r) {
				return any(old).(T), true, nil
			}
		}
	case TagInt64:
		e, r := any(expected).(int64), any(replacement).(int64)
		for {
			old := atomic.LoadInt64((*int64)(p))
			if old != e {
				return any(old).(T), false, nil
			}
			if atomic.CompareAndSwapInt64((*int64)(p), old, r) {
				return any(old).(T), true, nil
			}
		}
	case TagUint64:
		e, r := any(expected).(uint64), any(replacement).(uint64)
		for {
			old := atomic.LoadUint64((*uint64)(p))
			if old != e {
				return any(old).(T), false, nil
			}
			if atomic.CompareAndSwapUint64((*uint64)(p), old, r) {
				return any(old).(T), true, nil
			}
		}
	default:
		m := narrowLockFor(p)
		m.Lock()
		defer m.Unlock()
		old := *(*T)(p)
		if old != expected {
			return old, false, nil
		}
		*(*T)(p) = replacement
		return old, true, nil
	}
}

// CompareAndSwap is the boolean-returning sibling of CompareExchange,
// for call sites that only care whether the swap happened.
func (a *Address[T]) CompareAndSwap(i int, old, new T) (bool, error) {
	_, swapped, err := a.CompareExchange(i, old, new)
	return swapped, err
}

// combine applies a bitwise operator via a CAS retry loop, uniformly
// across every integer width (including the narrow ones, under the
// striped lock instead of a lock-free primitive).
func (a *Address[T]) combine(i int, rhs T, op func(T, T) T) (T, error) {
	var zero T
	if err := a.checkAtomic(i); err != nil {
		return zero, err
	}
	p := a.ptr(i)
	if a.tag == TagInt32 || a.tag == TagUint32 || a.tag == TagInt64 || a.tag == TagUint64 {
		for {
			var old T
			switch a.tag {
			case TagInt32:
				old = any(atomic.LoadInt32((*int32)(p))).(T)
			case TagUint32:
				old = any(atomic.LoadUint32((*uint32)(p))).(T)
			case TagInt64:
				old = any(atomic.LoadInt64((*int64)(p))).(T)
			case TagUint64:
				old = any(atomic.LoadUint64((*uint64)(p))).(T)
			}
			next := op(old, rhs)
			swapped, _ := a.CompareAndSwap(i, old, next)
			if swapped {
				return old, nil
			}
		}
	}
	m := narrowLockFor(p)
	m.Lock()
	defer m.Unlock()
	old := *(*T)(p)
	*(*T)(p) = op(old, rhs)
	return old, nil
}

// Add atomically adds delta to element i and returns the value
// observed immediately before the add, matching CompareExchange's
// "prior value" convention — several synchronization primitives branch
// on the value a counter held before their own add/sub.
func (a *Address[T]) Add(i int, delta T) (T, error) {
	return a.combine(i, delta, func(x, y T) T { return x + y })
}

// Sub atomically subtracts delta from element i and returns the prior
// value (before the subtraction).
func (a *Address[T]) Sub(i int, delta T) (T, error) {
	return a.combine(i, delta, func(x, y T) T { return x - y })
}
