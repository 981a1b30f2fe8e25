package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one process in a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	rows          *prometheus.CounterVec
	rowGroups     *prometheus.CounterVec
	chunkBytes    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	tableDuration *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	cacheBytes    prometheus.Gauge
}

// NewMetrics creates and registers the Strata collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_rows_total",
			Help: "Rows archived or restored",
		}, []string{"table", "direction"}),
		rowGroups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_row_groups_total",
			Help: "Row groups sealed or read",
		}, []string{"table", "direction"}),
		chunkBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_chunk_bytes_total",
			Help: "Column chunk bytes before and after compression",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_table_failures_total",
			Help: "Tables that failed, by error code",
		}, []string{"direction", "code"}),
		tableDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strata_table_duration_seconds",
			Help:    "Time spent per table",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"direction"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_archive_cache_lookups_total",
			Help: "Archive cache lookups by result",
		}, []string{"result"}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_archive_cache_bytes",
			Help: "Bytes held by the local archive cache",
		}),
	}
	m.registry.MustRegister(m.rows, m.rowGroups, m.chunkBytes, m.failures, m.tableDuration,
		m.cacheLookups, m.cacheBytes)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCacheLookup counts one archive cache lookup and updates the cache
// size.
func (m *Metrics) RecordCacheLookup(hit bool, cacheBytes int64) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheBytes.Set(float64(cacheBytes))
}

// WriteTextfile writes the current values in the Prometheus text format,
// for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("observability: failed to write metrics textfile: %w", err)
	}
	return nil
}
