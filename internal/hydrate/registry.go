// Package hydrate implements the recursive (de)hydration codec every
// message crossing a worker boundary passes through: built-in
// synchronization primitives and Address dehydrate/hydrate via a fixed
// type switch, user-registered types via an ordered registry, and
// everything else (slices, string-keyed maps, scalars, errors)
// recurses or passes through unchanged.
//
// Grounded on internal/hooks/dispatcher.go's tagged-dispatch pattern
// (switch on an event's declared type, falling back to a registry) and
// internal/hooks/event_queue.go's envelope shape ({id, type, data}),
// adapted to {__dehydrated, __type, __value}.
package hydrate

import (
	"log/slog"
	"sync"

	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/dehydrate"
)

// Entry is one user-registered (de)hydration rule. IsType answers
// "does this entry own v" during dehydrate; HydrateFn reconstructs a
// live value from the dehydrated __value of an envelope whose __type
// matched Key.
type Entry struct {
	Key       string
	IsType    func(v any) bool
	Dehydrate func(v any) any
	HydrateFn func(value any) (any, error)
}

var (
	registryMu sync.Mutex
	registry   []Entry
	keys       = map[string]struct{}{}
)

// Register appends a new (de)hydration entry. Malformed entries
// (missing key, IsType, Dehydrate, or HydrateFn) fail with
// InvalidRegistration. Keys must be unique — re-registering an
// existing key also fails, since "most recent registration wins" only
// applies to the isa check order among *distinct* keys, not to
// silently shadowing one key with another entry of the same name.
func Register(e Entry) error {
	if e.Key == "" || e.IsType == nil || e.Dehydrate == nil || e.HydrateFn == nil {
		return core.NewThreadError(core.KindInvalidRegistration, "dehydration entry missing required field").
			WithDetail("key", e.Key)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := keys[e.Key]; exists {
		return core.NewThreadError(core.KindInvalidRegistration, "dehydration key already registered").
			WithDetail("key", e.Key)
	}
	keys[e.Key] = struct{}{}
	registry = append(registry, e)
	return nil
}

// snapshot returns the registry newest-registration-first, for
// dehydrate's isa scan ("most recent registration wins").
func snapshot() []Entry {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Entry, len(registry))
	for i, e := range registry {
		out[len(registry)-1-i] = e
	}
	return out
}

func findByKey(key string) (Entry, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, e := range registry {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Dehydrate recursively converts v into a message-safe tree: built-in
// primitives and errors convert via their own fixed rules, registered
// user types via the registry (newest registration wins ties), slices
// and string-keyed maps recurse elementwise, everything else passes
// through unchanged.
func Dehydrate(v any) any {
	if d, ok := v.(dehydrate.Dehydratable); ok {
		return d.DehydrateSelf()
	}

	if err, ok := v.(error); ok {
		return dehydrateError(err)
	}

	for _, e := range snapshot() {
		if e.IsType(v) {
			return dehydrate.Dehydrated{Type: e.Key, Value: e.Dehydrate(v)}
		}
	}

	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Dehydrate(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Dehydrate(item)
		}
		return out
	default:
		return v
	}
}

// Hydrate recursively reconstructs live values from a tree previously
// produced by Dehydrate. An unrecognized __type logs a warning and
// returns the dehydrated envelope unchanged, rather than failing the
// whole message.
func Hydrate(v any) any {
	switch t := v.(type) {
	case dehydrate.Dehydrated:
		return hydrateTagged(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Hydrate(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Hydrate(item)
		}
		return out
	default:
		return v
	}
}

func hydrateTagged(d dehydrate.Dehydrated) any {
	if built, ok := hydrateBuiltin(d); ok {
		return built
	}

	if e, ok := findByKey(d.Type); ok {
		v, err := e.HydrateFn(d.Value)
		if err != nil {
			slog.Warn("hydration failed", "type", d.Type, "error", err)
			return d
		}
		return v
	}

	slog.Warn("unknown dehydrated type, returning original", "type", d.Type)
	return d
}
