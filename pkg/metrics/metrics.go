// Package metrics exposes Prometheus counters, histograms, and gauges for
// the run-coordination core: documents moving through the Worker, batches
// shipped by the Indexer, and outstanding work tracked by the Publisher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsProcessed counts documents the Worker has run through a
	// pipeline, labeled by pipeline name and terminal outcome.
	DocumentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lucilliform_worker_documents_processed_total",
			Help: "Total documents run through a pipeline by the worker pool",
		},
		[]string{"pipeline", "outcome"},
	)

	// PipelineLatency tracks per-document pipeline execution time.
	PipelineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lucilliform_worker_pipeline_latency_seconds",
			Help:    "Pipeline execution latency per document",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline"},
	)

	// IndexerBatchSize tracks the size of batches shipped to the backend.
	IndexerBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lucilliform_indexer_batch_size",
			Help:    "Number of documents per indexer batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"backend"},
	)

	// IndexerBatchLatency tracks backend call latency per batch.
	IndexerBatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lucilliform_indexer_batch_latency_seconds",
			Help:    "Backend call latency per batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// IndexerDocumentsTotal counts per-document indexer outcomes.
	IndexerDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lucilliform_indexer_documents_total",
			Help: "Total documents indexed, labeled by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// PublisherOutstanding is the current size of a run's outstanding ledger.
	PublisherOutstanding = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lucilliform_publisher_ledger_outstanding",
			Help: "Outstanding document count in the publisher's ledger",
		},
		[]string{"run_id"},
	)

	// QueueDepth tracks messenger queue depth by queue name.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lucilliform_messenger_queue_depth",
			Help: "Current depth of a messenger queue",
		},
		[]string{"queue"},
	)

	// RunDuration tracks total wall-clock time per run.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lucilliform_runner_run_duration_seconds",
			Help:    "Total duration of a run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"outcome"},
	)

	// ConnectorDuration tracks wall-clock time per connector execution.
	ConnectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lucilliform_runner_connector_duration_seconds",
			Help:    "Duration of a single connector's run, from preExecute to postExecute",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"connector"},
	)
)

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since the timer started.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
