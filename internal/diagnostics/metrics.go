package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports prometheus gauges/counters for a pool's size,
// capacity, pending requests, and lifecycle events. Grounded on the
// teacher's direct prometheus/client_golang dependency, wired here to
// a component that actually has something worth counting.
type Metrics struct {
	Size     prometheus.Gauge
	Capacity prometheus.Gauge
	Pending  prometheus.Gauge
	Respawns prometheus.Counter
	Trips    prometheus.Counter
	Evicts   prometheus.Counter
}

// NewMetrics creates and registers a pool's metric set against reg.
// Pass prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer to expose them on the process's default
// /metrics handler.
func NewMetrics(reg prometheus.Registerer, poolName string) *Metrics {
	labels := prometheus.Labels{"pool": poolName}
	m := &Metrics{
		Size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peakthreads_pool_size", Help: "Live worker slots in the pool.", ConstLabels: labels,
		}),
		Capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peakthreads_pool_capacity", Help: "Configured MaxThreads for the pool.", ConstLabels: labels,
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peakthreads_pool_pending_requests", Help: "Outstanding SendWork requests across all live slots.", ConstLabels: labels,
		}),
		Respawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peakthreads_pool_respawns_total", Help: "Below-minimum slot respawns.", ConstLabels: labels,
		}),
		Trips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peakthreads_pool_circuit_trips_total", Help: "Failed below-minimum slot respawns (pool circuit-trip events).", ConstLabels: labels,
		}),
		Evicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peakthreads_pool_evicts_total", Help: "Above-minimum slots evicted on close.", ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.Size, m.Capacity, m.Pending, m.Respawns, m.Trips, m.Evicts)
	return m
}

// Observe updates Size/Capacity/Pending from a live snapshot. Callers
// poll this on a timer; it's not wired to the pool's hot path.
func (m *Metrics) Observe(size, capacity, pending int) {
	m.Size.Set(float64(size))
	m.Capacity.Set(float64(capacity))
	m.Pending.Set(float64(pending))
}

// OnPoolEvent adapts threadpool.Pool.OnEvent's (kind, detail string)
// callback shape into the matching counter increments.
func (m *Metrics) OnPoolEvent(kind, _ string) {
	switch kind {
	case "respawn":
		m.Respawns.Inc()
	case "circuit-trip":
		m.Trips.Inc()
	case "evict":
		m.Evicts.Inc()
	}
}
