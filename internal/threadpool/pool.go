// Package threadpool manages a dynamically sized set of
// internal/thread.Thread workers: fewest-pending scheduling by
// default, respawn-below-minimum/evict-above-minimum lifecycle
// policy, and a per-slot circuit breaker guarding against respawn
// loops.
//
// Grounded on internal/core/performance.go's CircuitBreaker, which
// this package instantiates once per pool slot instead of once per
// pool the way the teacher's WorkerPool does — a below-minimum slot
// that keeps dying on init is the thing worth tripping a breaker over,
// not the pool as a whole.
package threadpool

import (
	"sync"
	"time"

	"github.com/matthewtolman/peak-threads/internal/common"
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/sysinfo"
	"github.com/matthewtolman/peak-threads/internal/thread"
)

// Config collects a pool's tunables, modeled on the teacher's
// CoreConfig pattern: a plain struct with a Default constructor.
type Config struct {
	MaxThreads                int
	MinThreads                int
	QueueRetries              int
	CloseThreadWhenIdle       time.Duration
	RespawnBreakerMaxFailures int64
	RespawnBreakerWindow      time.Duration
}

// DefaultConfig sizes MaxThreads from sysinfo.MaxThreads (hardware
// concurrency), matching the spec's hardwareConcurrency||2 fallback
// chain, and MinThreads at sysinfo.MinThreads.
func DefaultConfig() Config {
	max := sysinfo.MaxThreads()
	if max < 2 {
		max = 2
	}
	return Config{
		MaxThreads:                max,
		MinThreads:                sysinfo.MinThreads,
		QueueRetries:              3,
		CloseThreadWhenIdle:       0,
		RespawnBreakerMaxFailures: 5,
		RespawnBreakerWindow:      30 * time.Second,
	}
}

// Strategy picks which live slot should receive the next unit of
// work, given the pool's current slots. Returning a nil slot with a
// nil error tells the pool to grow instead (spawn a new worker, up to
// MaxThreads); returning a nil slot with a non-nil error means no slot
// can take the work right now (SchedulerExhausted).
type Strategy func(slots []*poolSlot) (*poolSlot, error)

// FewestPendingStrategy is the pool's default: route to the first live
// slot with zero outstanding requests, or signal growth (nil, nil) if
// every live slot already has work in flight or is degraded.
func FewestPendingStrategy(slots []*poolSlot) (*poolSlot, error) {
	for _, s := range slots {
		if !s.degraded && s.thread.NumPendingRequests() == 0 {
			return s, nil
		}
	}
	return nil, nil
}

type poolSlot struct {
	index    int
	thread   *thread.Thread
	breaker  *core.CircuitBreaker
	degraded bool
	failures int64
}

// Pool is a dynamically sized set of worker threads.
type Pool struct {
	mu       sync.Mutex
	cfg      Config
	workerFn thread.WorkerFunc
	strategy Strategy
	slots    []*poolSlot // dense prefix [0:lastLive) holds live slots
	lastLive int
	closed   bool
	logger   *common.Logger
	onEvent  func(kind string, detail string)
}

// New creates a pool and spawns cfg.MinThreads initial workers. A nil
// logger uses common.GetLogger()'s default backend.
func New(workerFn thread.WorkerFunc, cfg Config, strategy Strategy, logger *common.Logger) (*Pool, error) {
	if logger == nil {
		logger = common.GetLogger()
	}
	if strategy == nil {
		strategy = FewestPendingStrategy
	}
	p := &Pool{
		cfg:      cfg,
		workerFn: workerFn,
		strategy: strategy,
		logger:   logger,
	}
	for i := 0; i < cfg.MinThreads; i++ {
		if _, err := p.growLocked(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// OnEvent installs a callback invoked for pool lifecycle transitions
// (spawn, init-failed, respawn, circuit-trip, evict, close). Used by
// internal/diagnostics to persist these without the pool itself
// depending on sqlite/prometheus.
func (p *Pool) OnEvent(fn func(kind string, detail string)) {
	p.mu.Lock()
	p.onEvent = fn
	p.mu.Unlock()
}

func (p *Pool) emit(kind, detail string) {
	switch kind {
	case "init-failed", "circuit-trip":
		p.logger.Warn(kind + ": " + detail)
	case "spawn", "respawn":
		p.logger.Info(kind + ": " + detail)
	default:
		p.logger.Info(kind)
	}
	if p.onEvent != nil {
		p.onEvent(kind, detail)
	}
}

// growLocked spawns one new worker slot. Caller must hold p.mu.
func (p *Pool) growLocked() (*poolSlot, error) {
	index := p.lastLive
	slot := &poolSlot{
		index:   index,
		breaker: core.NewCircuitBreaker("pool-slot", p.cfg.RespawnBreakerMaxFailures, p.cfg.RespawnBreakerWindow),
	}

	th, err := p.spawnFor(slot)
	if err != nil {
		return nil, err
	}
	slot.thread = th

	if index < len(p.slots) {
		p.slots[index] = slot
	} else {
		p.slots = append(p.slots, slot)
	}
	p.lastLive++
	p.emit("spawn", th.ID())
	return slot, nil
}

func (p *Pool) spawnFor(slot *poolSlot) (*thread.Thread, error) {
	var th *thread.Thread
	err := slot.breaker.Execute(func() error {
		spawned, spawnErr := thread.Spawn("pool", p.workerFn, thread.SpawnOptions{
			CloseWhenIdle: p.cfg.CloseThreadWhenIdle,
			CloseHandler:  func(t *thread.Thread) { p.handleSlotClosed(slot) },
		})
		if spawnErr != nil {
			p.emit("init-failed", spawnErr.Error())
			return spawnErr
		}
		th = spawned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return th, nil
}

// handleSlotClosed runs whenever a slot's worker thread closes or is
// killed, whether requested by the pool or the worker itself. Slots
// below MinThreads are respawned (circuit-breaker guarded); slots at
// or above MinThreads are evicted instead, keeping the dense prefix.
func (p *Pool) handleSlotClosed(slot *poolSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	if slot.index >= p.cfg.MinThreads {
		p.evictLocked(slot.index)
		return
	}

	th, err := p.spawnFor(slot)
	if err != nil {
		slot.failures++
		slot.degraded = true
		p.emit("circuit-trip", err.Error())
		return
	}
	slot.thread = th
	slot.degraded = false
	p.emit("respawn", th.ID())
}

// evictLocked removes the slot at index, swapping the last live slot
// into its place so [0:lastLive) stays dense even when the freed index
// isn't the tail. Caller must hold p.mu.
func (p *Pool) evictLocked(index int) {
	last := p.lastLive - 1
	if index != last {
		p.slots[index] = p.slots[last]
		p.slots[index].index = index
	}
	p.slots[last] = nil
	p.lastLive--
	p.emit("evict", "")
}

// Size reports the number of currently live worker slots.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLive
}

// Degraded reports whether any below-minimum slot is sitting dead
// because its respawn failed, either because the spawn itself errored
// or because the slot's circuit breaker was open. A degraded slot is
// not respawned again.
func (p *Pool) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.lastLive; i++ {
		if p.slots[i].degraded {
			return true
		}
	}
	return false
}

// SendWork routes work to a slot chosen by the pool's Strategy,
// growing the pool (up to MaxThreads) when the strategy signals it,
// and retrying with a short backoff up to cfg.QueueRetries times if no
// slot is immediately available.
func (p *Pool) SendWork(work any) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.QueueRetries; attempt++ {
		slot, err := p.pickOrGrow()
		if err == nil {
			result, sendErr := slot.thread.SendWork(work)
			slot.thread.PoolRelease()
			return result, sendErr
		}
		lastErr = err
		if attempt < p.cfg.QueueRetries {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
		}
	}
	return nil, lastErr
}

func (p *Pool) pickOrGrow() (slot *poolSlot, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Claim the chosen slot before p.mu is released, so a concurrent
	// pickOrGrow already counts it as busy.
	defer func() {
		if err == nil {
			slot.thread.PoolClaim()
		}
	}()

	if p.closed {
		return nil, core.NewThreadError(core.KindPoolClosed, "pool is closed")
	}

	live := p.slots[:p.lastLive]
	slot, err = p.strategy(live)
	if err != nil {
		return nil, err
	}
	if slot != nil {
		return slot, nil
	}

	if p.lastLive >= p.cfg.MaxThreads {
		return p.leastBusyLocked(live)
	}
	return p.growLocked()
}

func (p *Pool) leastBusyLocked(live []*poolSlot) (*poolSlot, error) {
	var best *poolSlot
	bestPending := -1
	for _, s := range live {
		if s.degraded {
			continue
		}
		pending := s.thread.NumPendingRequests()
		if bestPending == -1 || pending < bestPending {
			best, bestPending = s, pending
		}
	}
	if best == nil {
		return nil, core.NewThreadError(core.KindSchedulerExhausted, "no live worker slots available")
	}
	return best, nil
}

// Close gracefully closes every live worker in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	slots := append([]*poolSlot(nil), p.slots[:p.lastLive]...)
	p.mu.Unlock()

	var firstErr error
	for _, s := range slots {
		if err := s.thread.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.emit("close", "")
	return firstErr
}

// Kill terminates every live worker in the pool immediately.
func (p *Pool) Kill() {
	p.mu.Lock()
	p.closed = true
	slots := append([]*poolSlot(nil), p.slots[:p.lastLive]...)
	p.mu.Unlock()

	for _, s := range slots {
		s.thread.Kill()
	}
}
