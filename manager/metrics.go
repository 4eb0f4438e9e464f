package manager

import (
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
)

// Metrics counts logical operations and per-backend attempts. All counters are
// updated atomically and never block an operation.
//
// Reset publishes a fresh generation of counters. Each update loads the
// generation once, so an update racing with Reset is counted entirely in the
// old or the new generation.
type Metrics struct {
	current atomic.Pointer[counters]
}

type counters struct {
	operations  atomic.Uint64
	errors      atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	backendOperations *xsync.MapOf[string, *atomic.Uint64]
	backendErrors     *xsync.MapOf[string, *atomic.Uint64]
}

func newCounters() *counters {
	return &counters{
		backendOperations: xsync.NewMapOf[string, *atomic.Uint64](),
		backendErrors:     xsync.NewMapOf[string, *atomic.Uint64](),
	}
}

func newMetrics() *Metrics {
	m := &Metrics{}
	m.current.Store(newCounters())
	return m
}

func counterFor(m *xsync.MapOf[string, *atomic.Uint64], name string) *atomic.Uint64 {
	c, _ := m.LoadOrCompute(name, func() *atomic.Uint64 { return atomic.NewUint64(0) })
	return c
}

func (m *Metrics) recordCall(err error) {
	c := m.current.Load()
	c.operations.Inc()
	if err != nil {
		c.errors.Inc()
	}
}

func (m *Metrics) recordBackend(name string, err error) {
	c := m.current.Load()
	counterFor(c.backendOperations, name).Inc()
	if err != nil {
		counterFor(c.backendErrors, name).Inc()
	}
}

func (m *Metrics) recordCacheLookup(hit bool) {
	c := m.current.Load()
	if hit {
		c.cacheHits.Inc()
	} else {
		c.cacheMisses.Inc()
	}
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	c := m.current.Load()
	s := MetricsSnapshot{
		Operations:        c.operations.Load(),
		Errors:            c.errors.Load(),
		CacheHits:         c.cacheHits.Load(),
		CacheMisses:       c.cacheMisses.Load(),
		BackendOperations: map[string]uint64{},
		BackendErrors:     map[string]uint64{},
	}
	c.backendOperations.Range(func(name string, n *atomic.Uint64) bool {
		s.BackendOperations[name] = n.Load()
		return true
	})
	c.backendErrors.Range(func(name string, n *atomic.Uint64) bool {
		s.BackendErrors[name] = n.Load()
		return true
	})
	return s
}

// Reset zeroes every counter at once.
func (m *Metrics) Reset() {
	m.current.Store(newCounters())
}

// MetricsSnapshot is a copy of the manager's counters.
type MetricsSnapshot struct {
	Operations        uint64            `json:"operations"`
	Errors            uint64            `json:"errors"`
	CacheHits         uint64            `json:"cache_hits"`
	CacheMisses       uint64            `json:"cache_misses"`
	BackendOperations map[string]uint64 `json:"backend_operations"`
	BackendErrors     map[string]uint64 `json:"backend_errors"`
}

// SuccessRate is the share of logical operations that succeeded, 1 when
// nothing ran yet.
func (s MetricsSnapshot) SuccessRate() float64 {
	if s.Operations == 0 {
		return 1
	}
	return float64(s.Operations-s.Errors) / float64(s.Operations)
}

// CacheHitRate is the share of cache lookups that hit, 0 when nothing was
// looked up.
func (s MetricsSnapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}
