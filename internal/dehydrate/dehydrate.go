// Package dehydrate defines the envelope every (de)hydratable value in
// this module is carried in across a worker boundary, plus the
// Dehydratable interface built-in primitives implement to opt into it.
// It sits below internal/threadaddr, internal/syncprim, and
// internal/hydrate so none of them need to import each other just to
// agree on this one shape.
package dehydrate

// Dehydrated is the structural form a live value is reduced to before
// crossing a worker boundary: a type tag plus a type-specific value.
// On the wire (in the dispatch envelopes internal/thread and
// internal/workerrt exchange) it serializes as
// {__dehydrated: true, __type: Type, __value: Value}.
type Dehydrated struct {
	Type  string
	Value any
}

// Dehydratable is satisfied by every built-in primitive — Address and
// the five synchronization primitives. internal/hydrate's recursive
// engine checks for it before falling through to the user registry, so
// a built-in can never be shadowed by a same-named user registration.
type Dehydratable interface {
	DehydrateSelf() Dehydrated
}
