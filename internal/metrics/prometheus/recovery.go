// Package prometheus backs the metrics interfaces with client_golang collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deploymenttheory/go-recovery/internal/metrics"
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// scanMetrics is the Prometheus implementation of metrics.ScanMetrics
type scanMetrics struct {
	bytesScanned     *prometheus.CounterVec
	candidates       *prometheus.CounterVec
	malformed        *prometheus.CounterVec
	unreadableBytes  prometheus.Counter
	unreadableRanges prometheus.Counter
	scans            *prometheus.CounterVec
	scanDuration     *prometheus.HistogramVec
}

// NewScanMetrics registers scan metrics on the global registry. It returns a
// no-op implementation when metrics are disabled.
func NewScanMetrics() metrics.ScanMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopScanMetrics()
	}
	return NewScanMetricsWith(metrics.GetRegistry())
}

// NewScanMetricsWith registers scan metrics on reg
func NewScanMetricsWith(reg prometheus.Registerer) metrics.ScanMetrics {
	return &scanMetrics{
		bytesScanned: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_scan_bytes_total",
				Help: "Total bytes examined by carving and partition passes",
			},
			[]string{"mode"},
		),
		candidates: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_candidates_total",
				Help: "Candidates accepted into sessions by evidence source and file type",
			},
			[]string{"source", "file_type"},
		),
		malformed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_malformed_entries_total",
				Help: "Metadata entries skipped as malformed",
			},
			[]string{"strategy"},
		),
		unreadableBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "recovery_unreadable_bytes_total",
				Help: "Bytes that could not be read while scanning",
			},
		),
		unreadableRanges: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "recovery_unreadable_ranges_total",
				Help: "Ranges that could not be read while scanning",
			},
		),
		scans: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_scans_total",
				Help: "Finished scans by mode and status",
			},
			[]string{"mode", "status"},
		),
		scanDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recovery_scan_duration_seconds",
				Help:    "Duration of scans",
				Buckets: []float64{0.1, 1, 10, 60, 600, 3600},
			},
			[]string{"mode"},
		),
	}
}

func (m *scanMetrics) RecordBytesScanned(mode string, bytes uint64) {
	m.bytesScanned.WithLabelValues(mode).Add(float64(bytes))
}

func (m *scanMetrics) RecordCandidate(source, fileType string) {
	m.candidates.WithLabelValues(source, fileType).Inc()
}

func (m *scanMetrics) RecordMalformed(strategy string) {
	m.malformed.WithLabelValues(strategy).Inc()
}

func (m *scanMetrics) RecordUnreadable(bytes uint64) {
	m.unreadableRanges.Inc()
	m.unreadableBytes.Add(float64(bytes))
}

func (m *scanMetrics) RecordScan(mode string, duration time.Duration, err error) {
	m.scans.WithLabelValues(mode, status(err)).Inc()
	m.scanDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// extractionMetrics is the Prometheus implementation of metrics.ExtractionMetrics
type extractionMetrics struct {
	results        *prometheus.CounterVec
	bytesRecovered prometheus.Counter
	gapBytes       prometheus.Counter
	batches        *prometheus.CounterVec
	batchDuration  prometheus.Histogram
}

// NewExtractionMetrics registers extraction metrics on the global registry.
// It returns a no-op implementation when metrics are disabled.
func NewExtractionMetrics() metrics.ExtractionMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopExtractionMetrics()
	}
	return NewExtractionMetricsWith(metrics.GetRegistry())
}

// NewExtractionMetricsWith registers extraction metrics on reg
func NewExtractionMetricsWith(reg prometheus.Registerer) metrics.ExtractionMetrics {
	return &extractionMetrics{
		results: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_results_total",
				Help: "Terminal extraction results by status",
			},
			[]string{"status"},
		),
		bytesRecovered: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "recovery_bytes_recovered_total",
				Help: "Bytes written to destinations",
			},
		),
		gapBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "recovery_gap_bytes_total",
				Help: "Unreadable bytes zero-filled in recovered files",
			},
		),
		batches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_batches_total",
				Help: "Finished extraction batches by status",
			},
			[]string{"status"},
		),
		batchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recovery_batch_duration_seconds",
				Help:    "Duration of extraction batches",
				Buckets: []float64{0.1, 1, 10, 60, 600, 3600},
			},
		),
	}
}

func (m *extractionMetrics) RecordResult(status string, bytes uint64) {
	m.results.WithLabelValues(status).Inc()
	m.bytesRecovered.Add(float64(bytes))
}

func (m *extractionMetrics) RecordGapBytes(bytes uint64) {
	m.gapBytes.Add(float64(bytes))
}

func (m *extractionMetrics) RecordBatch(duration time.Duration, err error) {
	m.batches.WithLabelValues(status(err)).Inc()
	m.batchDuration.Observe(duration.Seconds())
}
