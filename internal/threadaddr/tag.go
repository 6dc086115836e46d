// Package threadaddr implements typed, bounds-checked views over a
// shared []byte slab (Address[T]) with an atomic surface and a
// futex-style Wait/Notify pair, the memory-model layer every
// synchronization primitive in this module is built on.
package threadaddr

import "github.com/matthewtolman/peak-threads/internal/core"

// ScalarTag identifies one of the ten scalar element kinds an
// ELEMENT_LAYOUT entry (and therefore an Address) can hold.
type ScalarTag int

const (
	TagInt8 ScalarTag = iota
	TagInt16
	TagInt32
	TagInt64
	TagUint8
	TagUint16
	TagUint32
	TagUint64
	TagFloat32
	TagFloat64
)

// Width returns the element width in bytes for the tag.
func (t ScalarTag) Width() int {
	switch t {
	case TagInt8, TagUint8:
		return 1
	case TagInt16, TagUint16:
		return 2
	case TagInt32, TagUint32, TagFloat32:
		return 4
	case TagInt64, TagUint64, TagFloat64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether the tag is a floating-point kind; these
// reject every atomic operation with an InvalidLayout ThreadError.
func (t ScalarTag) IsFloat() bool {
	return t == TagFloat32 || t == TagFloat64
}

func (t ScalarTag) String() string {
	switch t {
	case TagInt8:
		return "int8"
	case TagInt16:
		return "int16"
	case TagInt32:
		return "int32"
	case TagInt64:
		return "int64"
	case TagUint8:
		return "uint8"
	case TagUint16:
		return "uint16"
	case TagUint32:
		return "uint32"
	case TagUint64:
		return "uint64"
	case TagFloat32:
		return "float32"
	case TagFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// Numeric is the set of concrete Go types an Address[T] may be
// instantiated with — exactly the ELEMENT_LAYOUT scalar kinds.
type Numeric interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

func tagFor[T Numeric]() (ScalarTag, error) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return TagInt8, nil
	case int16:
		return TagInt16, nil
	case int32:
		return TagInt32, nil
	case int64:
		return TagInt64, nil
	case uint8:
		return TagUint8, nil
	case uint16:
		return TagUint16, nil
	case uint32:
		return TagUint32, nil
	case uint64:
		return TagUint64, nil
	case float32:
		return TagFloat32, nil
	case float64:
		return TagFloat64, nil
	default:
		return 0, core.NewThreadError(core.KindInvalidLayout, "unsupported scalar type for Address")
	}
}
