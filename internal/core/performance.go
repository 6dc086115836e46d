package core

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// PerformanceMetrics tracks runtime performance of a pool or thread:
// task throughput plus the Go runtime's own memory/goroutine counters,
// sampled on a timer the way the teacher's version does.
type PerformanceMetrics struct {
	mu              sync.RWMutex
	TaskExecutions  int64
	TotalDuration   time.Duration
	MemoryUsage     runtime.MemStats
	GoroutineCount  int
	LastGCTime      time.Time
	PeakMemoryUsage uint64
}

// NewPerformanceMetrics creates a new performance metrics tracker and
// starts its background sampling loop.
func NewPerformanceMetrics() *PerformanceMetrics {
	pm := &PerformanceMetrics{}
	pm.startMonitoring()
	return pm
}

func (pm *PerformanceMetrics) startMonitoring() {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for range ticker.C {
			pm.updateMetrics()
		}
	}()
}

func (pm *PerformanceMetrics) updateMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	runtime.ReadMemStats(&pm.MemoryUsage)
	pm.GoroutineCount = runtime.NumGoroutine()

	if pm.MemoryUsage.Alloc > pm.PeakMemoryUsage {
		pm.PeakMemoryUsage = pm.MemoryUsage.Alloc
	}
}

// RecordTaskExecution records one completed unit of work dispatch.
func (pm *PerformanceMetrics) RecordTaskExecution(duration time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.TaskExecutions++
	pm.TotalDuration += duration
}

// GetSnapshot returns a copy of the current metrics.
func (pm *PerformanceMetrics) GetSnapshot() PerformanceMetrics {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return *pm
}

// CircuitState is one of closed/open/half-open.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards the pool's respawn loop: repeated init failures
// for a given spawn path trip the breaker open so the pool stops
// hammering a worker that can't come up, and probes again after
// resetTimeout via the half-open state.
type CircuitBreaker struct {
	mu           sync.RWMutex
	name         string
	maxFailures  int64
	resetTimeout time.Duration
	state        CircuitState
	failures     int64
	successes    int64
	lastFailure  time.Time
	lastSuccess  time.Time
	halfOpenMax  int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, maxFailures int64, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		halfOpenMax:  5,
	}
}

// Execute wraps fn with circuit breaker logic, short-circuiting with an
// error instead of calling fn while the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return fmt.Errorf("circuit breaker '%s' is open", cb.name)
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(cb.lastFailure) > cb.resetTimeout
	case StateHalfOpen:
		return cb.successes < cb.halfOpenMax
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()

		if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		} else if cb.state == StateHalfOpen {
			cb.state = StateOpen
			cb.successes = 0
		}
	} else {
		cb.successes++
		cb.lastSuccess = time.Now()

		if cb.state == StateHalfOpen && cb.successes >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
		}
	}

	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
}

// GetStats returns current circuit breaker statistics.
func (cb *CircuitBreaker) GetStats() CircuitStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitStats{
		Name:        cb.name,
		State:       cb.state.String(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
		LastSuccess: cb.lastSuccess,
	}
}

// CircuitStats is a point-in-time snapshot of a CircuitBreaker.
type CircuitStats struct {
	Name        string
	State       string
	Failures    int64
	Successes   int64
	LastFailure time.Time
	LastSuccess time.Time
}
