package hydrate

import (
	"github.com/matthewtolman/peak-threads/internal/dehydrate"
	"github.com/matthewtolman/peak-threads/internal/syncprim"
	"github.com/matthewtolman/peak-threads/internal/threadaddr"
)

// hydrateBuiltin reconstructs the module's own pre-registered types —
// Address and the five synchronization primitives — straight from
// their concrete Value structs rather than going through the generic
// user registry, exactly as the built-in isa check in Dehydrate always
// runs before the registry scan.
func hydrateBuiltin(d dehydrate.Dehydrated) (any, bool) {
	switch d.Type {
	case "Address":
		v, ok := d.Value.(threadaddr.AddressValue)
		if !ok {
			return nil, false
		}
		h, err := threadaddr.HydrateAddress(v)
		if err != nil {
			return nil, false
		}
		return h, true

	case syncprim.MutexHydrationKey:
		v, ok := d.Value.(syncprim.MutexValue)
		if !ok {
			return nil, false
		}
		m, err := syncprim.HydrateMutex(v)
		if err != nil {
			return nil, false
		}
		return m, true

	case syncprim.ConditionVariableHydrationKey:
		v, ok := d.Value.(syncprim.ConditionVariableValue)
		if !ok {
			return nil, false
		}
		cv, err := syncprim.HydrateConditionVariable(v)
		if err != nil {
			return nil, false
		}
		return cv, true

	case syncprim.WaitGroupHydrationKey:
		v, ok := d.Value.(syncprim.WaitGroupValue)
		if !ok {
			return nil, false
		}
		wg, err := syncprim.HydrateWaitGroup(v)
		if err != nil {
			return nil, false
		}
		return wg, true

	case syncprim.BarrierHydrationKey:
		v, ok := d.Value.(syncprim.BarrierValue)
		if !ok {
			return nil, false
		}
		b, err := syncprim.HydrateBarrier(v)
		if err != nil {
			return nil, false
		}
		return b, true

	case syncprim.SemaphoreHydrationKey:
		v, ok := d.Value.(syncprim.SemaphoreValue)
		if !ok {
			return nil, false
		}
		s, err := syncprim.HydrateSemaphore(v)
		if err != nil {
			return nil, false
		}
		return s, true

	case errorHydrationKey:
		v, ok := d.Value.(ErrorValue)
		if !ok {
			return nil, false
		}
		return hydrateError(v), true

	default:
		return nil, false
	}
}
