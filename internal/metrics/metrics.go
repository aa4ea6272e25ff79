// Package metrics defines the recording interface the pipeline reports
// through, plus the Prometheus implementation used in production.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects pipeline counters and histograms. Transport and
// exposition are handled elsewhere; components only ever see this interface.
type Recorder interface {
	AddBlobsFound(container string, n int)
	IncBlobsProcessed(container string)
	IncBlobsFailed(container string)
	AddLinesSkipped(container string, n int)
	AddEntriesForwarded(logType string, n int)
	IncBatchesSent(logType string)
	IncBatchesFailed(logType string)
	IncDispatchRetries(logType string)
	ObserveBlobDuration(container string, seconds float64)
	ObserveBlobSize(container string, bytes int64)
	ObserveBatchBytes(logType string, bytes int)
	SetUp(up bool)
}

// Prometheus implements Recorder on prometheus counters and histograms
type Prometheus struct {
	blobsFound       *prometheus.CounterVec
	blobsProcessed   *prometheus.CounterVec
	blobsFailed      *prometheus.CounterVec
	linesSkipped     *prometheus.CounterVec
	entriesForwarded *prometheus.CounterVec
	batchesSent      *prometheus.CounterVec
	batchesFailed    *prometheus.CounterVec
	dispatchRetries  *prometheus.CounterVec
	blobDuration     *prometheus.HistogramVec
	blobSize         *prometheus.HistogramVec
	batchBytes       *prometheus.HistogramVec
	up               prometheus.Gauge
}

// NewPrometheus registers the forwarder metrics with reg
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		blobsFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secops_forwarder_blobs_found_total",
			Help: "Total number of blobs returned by container listings",
		}, []string{"container"}),
		blobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secops_forwarder_blobs_processed_total",
			Help: "Total number of blobs successfully processed",
		}, []string{"container"}),
		blobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secops_forwarder_blobs_failed_total",
			Help: "Total number of blobs failed processing",
		}, []string{"container"}),
		linesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secops_forwarder_log_entries_skipped_total",
			Help: "Total number of log entries skipped (malformed)",
		}, []string{"container"}),
		entriesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secops_forwarder_log_entries_processed_total",
			Help: "Total number of log entries forwarded",
		}, []string{"log_type"}),
		batchesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secops_forwarder_batches_sent_total",
			Help: "Total number of batches sent to SecOps",
		}, []string{"log_type"}),
		batchesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secops_forwarder_batches_failed_total",
			Help: "Total number of batches failed to send to SecOps",
		}, []string{"log_type"}),
		dispatchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secops_forwarder_dispatch_retries_total",
			Help: "Total number of ingestion request retries",
		}, []string{"log_type"}),
		blobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "secops_forwarder_processing_time_seconds",
			Help:    "Time taken to process a blob",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"container"}),
		blobSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "secops_forwarder_blob_size_bytes",
			Help:    "Size of processed blobs in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		}, []string{"container"}),
		batchBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "secops_forwarder_batch_size_bytes",
			Help:    "Size of batches sent to SecOps in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"log_type"}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Name: "secops_forwarder_up",
			Help: "Set to 1 while the forwarder is running",
		}),
	}
}

func (p *Prometheus) AddBlobsFound(container string, n int) {
	if n > 0 {
		p.blobsFound.WithLabelValues(container).Add(float64(n))
	}
}

func (p *Prometheus) IncBlobsProcessed(container string) {
	p.blobsProcessed.WithLabelValues(container).Inc()
}

func (p *Prometheus) IncBlobsFailed(container string) {
	p.blobsFailed.WithLabelValues(container).Inc()
}

func (p *Prometheus) AddLinesSkipped(container string, n int) {
	if n > 0 {
		p.linesSkipped.WithLabelValues(container).Add(float64(n))
	}
}

func (p *Prometheus) AddEntriesForwarded(logType string, n int) {
	if n > 0 {
		p.entriesForwarded.WithLabelValues(logType).Add(float64(n))
	}
}

func (p *Prometheus) IncBatchesSent(logType string) {
	p.batchesSent.WithLabelValues(logType).Inc()
}

func (p *Prometheus) IncBatchesFailed(logType string) {
	p.batchesFailed.WithLabelValues(logType).Inc()
}

func (p *Prometheus) IncDispatchRetries(logType string) {
	p.dispatchRetries.WithLabelValues(logType).Inc()
}

func (p *Prometheus) ObserveBlobDuration(container string, seconds float64) {
	p.blobDuration.WithLabelValues(container).Observe(seconds)
}

func (p *Prometheus) ObserveBlobSize(container string, bytes int64) {
	p.blobSize.WithLabelValues(container).Observe(float64(bytes))
}

func (p *Prometheus) ObserveBatchBytes(logType string, bytes int) {
	p.batchBytes.WithLabelValues(logType).Observe(float64(bytes))
}

func (p *Prometheus) SetUp(up bool) {
	if up {
		p.up.Set(1)
	} else {
		p.up.Set(0)
	}
}

// Nop discards every observation; used by tests
type Nop struct{}

func (Nop) AddBlobsFound(string, int)           {}
func (Nop) IncBlobsProcessed(string)            {}
func (Nop) IncBlobsFailed(string)               {}
func (Nop) AddLinesSkipped(string, int)         {}
func (Nop) AddEntriesForwarded(string, int)     {}
func (Nop) IncBatchesSent(string)               {}
func (Nop) IncBatchesFailed(string)             {}
func (Nop) IncDispatchRetries(string)           {}
func (Nop) ObserveBlobDuration(string, float64) {}
func (Nop) ObserveBlobSize(string, int64)       {}
func (Nop) ObserveBatchBytes(string, int)       {}
func (Nop) SetUp(bool)                          {}
