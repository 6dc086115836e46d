package threadaddr

import "sync/atomic"

// Integer is the subset of Numeric that supports bitwise operators.
// And/Or/Xor are defined as free functions over this narrower
// constraint rather than methods on Address[T Numeric], since Go does
// not allow a generic method to apply `&`/`|`/`^` when its receiver's
// type parameter also ranges over float32/float64.
type Integer interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

func bitwiseCombine[T Integer](a *Address[T], i int, rhs T, op func(T, T) T) (T, error) {
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

// And atomically applies bitwise AND with rhs to element i and
// returns the prior value.
func And[T Integer](a *Address[T], i int, rhs T) (T, error) {
	return bitwiseCombine(a, i, rhs, func(x, y T) T { return x & y })
}

// Or atomically applies bitwise OR with rhs to element i and returns
// the prior value.
func Or[T Integer](a *Address[T], i int, rhs T) (T, error) {
	return bitwiseCombine(a, i, rhs, func(x, y T) T { return x | y })
}

// Xor atomically applies bitwise XOR with rhs to element i and
// returns the prior value.
func Xor[T Integer](a *Address[T], i int, rhs T) (T, error) {
	return bitwiseCombine(a, i, rhs, func(x, y T) T { return x ^ y })
}
