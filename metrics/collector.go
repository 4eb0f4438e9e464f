package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/node-storage/manager"
)

// SnapshotCollector exposes the manager's logical counters at scrape time.
type SnapshotCollector struct {
	snapshot func() manager.MetricsSnapshot

	operations    *prometheus.Desc
	errors        *prometheus.Desc
	cacheHits     *prometheus.Desc
	cacheMisses   *prometheus.Desc
	backendOps    *prometheus.Desc
	backendErrors *prometheus.Desc
	successRate   *prometheus.Desc
	cacheHitRate  *prometheus.Desc
}

func NewSnapshotCollector(namespace string, snapshot func() manager.MetricsSnapshot) *SnapshotCollector {
	return &SnapshotCollector{
		snapshot:      snapshot,
		operations:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "operations_total"), "Logical storage operations", nil, nil),
		errors:        prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "errors_total"), "Logical storage operations that failed", nil, nil),
		cacheHits:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "cache_hits_total"), "Reads served by the cache", nil, nil),
		cacheMisses:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "cache_misses_total"), "Reads the cache could not serve", nil, nil),
		backendOps:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "manager", "backend_operations_total"), "Backend attempts made by the manager", []string{"backend"}, nil),
		backendErrors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "manager", "backend_errors_total"), "Backend attempts that failed", []string{"backend"}, nil),
		successRate:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "success_rate"), "Share of logical operations that succeeded", nil, nil),
		cacheHitRate:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "cache_hit_rate"), "Share of cache lookups that hit", nil, nil),
	}
}

func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.operations, c.errors, c.cacheHits, c.cacheMisses,
		c.backendOps, c.backendErrors, c.successRate, c.cacheHitRate,
	} {
		ch <- d
	}
}

func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()

	ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(s.Operations))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(s.CacheMisses))
	for name, n := range s.BackendOperations {
		ch <- prometheus.MustNewConstMetric(c.backendOps, prometheus.CounterValue, float64(n), name)
	}
	for name, n := range s.BackendErrors {
		ch <- prometheus.MustNewConstMetric(c.backendErrors, prometheus.CounterValue, float64(n), name)
	}
	ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, s.SuccessRate())
	ch <- prometheus.MustNewConstMetric(c.cacheHitRate, prometheus.GaugeValue, s.CacheHitRate())
}
