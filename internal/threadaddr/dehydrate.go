package threadaddr

import "github.com/matthewtolman/peak-threads/internal/dehydrate"

// AddressValue is Address's dehydrated shape: enough to reconstruct a
// Handle over the same backing slab on the far side of a worker
// boundary (or in the same process, for a primitive that embeds an
// Address in its own dehydrated value). Memory is carried by reference
// — dehydration never copies the slab.
type AddressValue struct {
	Memory []byte
	Offset int
	Count  int
	Tag    ScalarTag
}

// DehydrateSelf implements dehydrate.Dehydratable. It is defined once
// here and satisfied by every instantiation of Address[T], since the
// method's signature carries no type parameter of its own.
func (a *Address[T]) DehydrateSelf() dehydrate.Dehydrated {
	return dehydrate.Dehydrated{
		Type: "Address",
		Value: AddressValue{
			Memory: a.memory,
			Offset: a.offset,
			Count:  a.count,
			Tag:    a.tag,
		},
	}
}

// HydrateAddress reconstructs a type-erased Handle from a dehydrated
// AddressValue. Callers that know the concrete scalar type statically
// recover it with Cast[T] afterward.
func HydrateAddress(v AddressValue) (Handle, error) {
	return NewByTag(v.Tag, v.Memory, v.Offset, v.Count)
}
