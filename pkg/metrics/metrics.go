// Package metrics exposes Prometheus collectors for the query core.
//
// Every method is safe to call on a nil *Collector, so components can be
// built without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "laura"

// Collector holds the Prometheus metrics of a database
type Collector struct {
	// Document writes by collection, operation and status
	DocumentsWritten *prometheus.CounterVec
	// Write latency by operation
	WriteDuration *prometheus.HistogramVec

	// Query plans chosen, by plan kind (COLLSCAN, IXSCAN, TEXT, GEO_NEAR_2DSPHERE)
	QueryPlans *prometheus.CounterVec
	// Documents returned from finds and aggregations
	DocumentsReturned prometheus.Counter

	// Documents removed by the TTL sweeper
	TTLDeletions *prometheus.CounterVec
	// Failed TTL sweeps
	TTLSweepFailures prometheus.Counter

	// Pipeline runs by terminal kind (cursor or out) and status
	PipelineRuns *prometheus.CounterVec
	// Pipeline duration by terminal kind
	PipelineDuration *prometheus.HistogramVec

	// Compiled filter cache lookups by result (hit or miss)
	FilterCacheLookups *prometheus.CounterVec

	// Live collections
	Collections prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// leaves them unregistered, which is what tests use.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		DocumentsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_written_total",
				Help:      "Total number of document writes",
			},
			[]string{"collection", "operation", "status"},
		),
		WriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_duration_seconds",
				Help:      "Duration of document writes in seconds",
				Buckets:   []float64{.00001, .0001, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"operation"},
		),
		QueryPlans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_plans_total",
				Help:      "Query plans chosen by kind",
			},
			[]string{"kind"},
		),
		DocumentsReturned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_returned_total",
				Help:      "Total number of documents returned to callers",
			},
		),
		TTLDeletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ttl_deletions_total",
				Help:      "Documents removed by TTL expiry",
			},
			[]string{"collection"},
		),
		TTLSweepFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ttl_sweep_failures_total",
				Help:      "TTL sweeps that failed",
			},
		),
		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Aggregation pipeline runs",
			},
			[]string{"terminal", "status"},
		),
		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Aggregation pipeline duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"terminal"},
		),
		FilterCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_cache_lookups_total",
				Help:      "Compiled filter cache lookups by result",
			},
			[]string{"result"},
		),
		Collections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "collections",
				Help:      "Number of collections",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			c.DocumentsWritten,
			c.WriteDuration,
			c.QueryPlans,
			c.DocumentsReturned,
			c.TTLDeletions,
			c.TTLSweepFailures,
			c.PipelineRuns,
			c.PipelineDuration,
			c.FilterCacheLookups,
			c.Collections,
		)
	}
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordWrite counts one document write and its latency
func (c *Collector) RecordWrite(collection, operation string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.DocumentsWritten.WithLabelValues(collection, operation, status(err)).Inc()
	c.WriteDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordPlan counts a chosen query plan
func (c *Collector) RecordPlan(kind string) {
	if c == nil {
		return
	}
	c.QueryPlans.WithLabelValues(kind).Inc()
}

// RecordReturned adds n returned documents
func (c *Collector) RecordReturned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.DocumentsReturned.Add(float64(n))
}

// RecordTTLDeletions counts documents expired from a collection
func (c *Collector) RecordTTLDeletions(collection string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.TTLDeletions.WithLabelValues(collection).Add(float64(n))
}

// RecordTTLFailure counts a failed sweep
func (c *Collector) RecordTTLFailure() {
	if c == nil {
		return
	}
	c.TTLSweepFailures.Inc()
}

// RecordPipeline counts one pipeline run. terminal is "out" for pipelines
// ending in $out and "cursor" otherwise.
func (c *Collector) RecordPipeline(terminal string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.PipelineRuns.WithLabelValues(terminal, status(err)).Inc()
	c.PipelineDuration.WithLabelValues(terminal).Observe(d.Seconds())
}

// RecordFilterCache counts one compiled filter cache lookup
func (c *Collector) RecordFilterCache(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.FilterCacheLookups.WithLabelValues(result).Inc()
}

// SetCollections sets the collection gauge
func (c *Collector) SetCollections(n int) {
	if c == nil {
		return
	}
	c.Collections.Set(float64(n))
}
