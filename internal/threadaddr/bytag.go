package threadaddr

import "github.com/matthewtolman/peak-threads/internal/core"

// NewByTag constructs the concrete *Address[T] matching tag and
// returns it boxed as a Handle. The allocator uses this to build one
// Address per ELEMENT_LAYOUT item without knowing each item's scalar
// type at compile time.
func NewByTag(tag ScalarTag, memory []byte, offset, count int) (Handle, error) {
	switch tag {
	case TagInt8:
		return New[int8](memory, offset, count)
	case TagInt16:
		return New[int16](memory, offset, count)
	case TagInt32:
		return New[int32](memory, offset, count)
	case TagInt64:
		return New[int64](memory, offset, count)
	case TagUint8:
		return New[uint8](memory, offset, count)
	case TagUint16:
		return New[uint16](memory, offset, count)
	case TagUint32:
		return New[uint32](memory, offset, count)
	case TagUint64:
		return New[uint64](memory, offset, count)
	case TagFloat32:
		return New[float32](memory, offset, count)
	case TagFloat64:
		return New[float64](memory, offset, count)
	default:
		return nil, core.NewThreadError(core.KindInvalidLayout, "unknown scalar tag")
	}
}

// Cast recovers the concrete *Address[T] from a Handle. Callers (the
// synchronization primitives) know statically which T each of their
// ELEMENT_LAYOUT slots holds, so this is a plain type assertion dressed
// up with a clearer error than a bare panic.
func Cast[T Numeric](h Handle) (*Address[T], error) {
	addr, ok := h.(*Address[T])
	if !ok {
		return nil, core.NewThreadError(core.KindInvalidLayout, "handle does not hold the expected scalar type")
	}
	return addr, nil
}
