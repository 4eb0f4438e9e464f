package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusOK    = "ok"
	statusError = "error"
	resultHit   = "hit"
	resultMiss  = "miss"
)

// PrometheusSink records per-backend storage attempts and cache lookups.
// It implements interfaces.MetricsSink.
type PrometheusSink struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
}

// NewPrometheusSink creates the sink's collectors and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) (*PrometheusSink, error) {
	s := &PrometheusSink{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_operations_total",
				Help:      "Storage operations attempted per backend",
			},
			[]string{"operation", "backend", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_operation_duration_seconds",
				Help:      "Storage operation duration per backend in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
			},
			[]string{"operation", "backend"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups made by the prefer-cache policy",
			},
			[]string{"backend", "result"},
		),
	}

	for _, c := range []prometheus.Collector{s.operations, s.duration, s.cacheLookups} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) ObserveOperation(op, backend string, d time.Duration, err error) {
	status := statusOK
	if err != nil {
		status = statusError
	}
	s.operations.WithLabelValues(op, backend, status).Inc()
	s.duration.WithLabelValues(op, backend).Observe(d.Seconds())
}

func (s *PrometheusSink) ObserveCacheLookup(backend string, hit bool) {
	result := resultMiss
	if hit {
		result = resultHit
	}
	s.cacheLookups.WithLabelValues(backend, result).Inc()
}
