package hydrate

import (
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/dehydrate"
)

const errorHydrationKey = "Error"

// ErrorValue is the dehydrated shape every error takes crossing a
// worker boundary: name/stack/message plus a recursively dehydrated
// cause, so an error chain survives the trip intact.
type ErrorValue struct {
	Name    string
	Stack   string
	Message string
	Cause   any
}

func dehydrateError(err error) dehydrate.Dehydrated {
	v := ErrorValue{Message: err.Error()}

	if te, ok := err.(*core.ThreadError); ok {
		v.Name = string(te.Kind)
		v.Stack = string(te.Stack)
		if te.Cause != nil {
			v.Cause = Dehydrate(te.Cause)
		}
	} else {
		v.Name = "Error"
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			if cause := unwrapper.Unwrap(); cause != nil {
				v.Cause = Dehydrate(cause)
			}
		}
	}

	return dehydrate.Dehydrated{Type: errorHydrationKey, Value: v}
}

// hydrateError reconstructs an error from an ErrorValue. Go has no
// open-ended class registry to resurrect the original concrete type
// from a bare name the way the browser original does via
// globalThis[name], so this always rebuilds a *core.ThreadError
// carrying the original Kind (if it was one), message, and stack —
// the closest faithful equivalent, and the fallback the spec itself
// calls for when the original type can't be reconstructed.
func hydrateError(v ErrorValue) error {
	kind := core.ErrorKind(v.Name)
	rebuilt := &core.ThreadError{
		Kind:    kind,
		Message: v.Message,
		Stack:   []byte(v.Stack),
	}
	if v.Cause != nil {
		if causeErr, ok := Hydrate(v.Cause).(error); ok {
			rebuilt.Cause = causeErr
		}
	}
	return rebuilt
}
