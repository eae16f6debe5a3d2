package metrics

import "time"

// ScanMetrics records the work of a scan.
//
// Example usage:
//
//	m := prometheus.NewScanMetrics()
//	m.RecordBytesScanned("raw", 1<<20)
type ScanMetrics interface {
	// RecordBytesScanned adds bytes examined by a carving or partition pass
	RecordBytesScanned(mode string, bytes uint64)

	// RecordCandidate counts a candidate accepted into a session.
	//
	// Parameters:
	//   - source: "metadata-walk" or "signature-carve"
	//   - fileType: the candidate's file type tag
	RecordCandidate(source, fileType string)

	// RecordMalformed counts a skipped metadata entry of strategy
	RecordMalformed(strategy string)

	// RecordUnreadable counts a range that could not be read
	RecordUnreadable(bytes uint64)

	// RecordScan records a finished scan and its duration
	RecordScan(mode string, duration time.Duration, err error)
}

// ExtractionMetrics records the outcome of extractions
type ExtractionMetrics interface {
	// RecordResult counts a terminal result and the bytes it wrote
	RecordResult(status string, bytes uint64)

	// RecordGapBytes adds bytes that were zero-filled
	RecordGapBytes(bytes uint64)

	// RecordBatch records a finished batch and its duration
	RecordBatch(duration time.Duration, err error)
}

// NewNoopScanMetrics returns a ScanMetrics that does nothing
func NewNoopScanMetrics() ScanMetrics {
	return noopScanMetrics{}
}

// NewNoopExtractionMetrics returns an ExtractionMetrics that does nothing
func NewNoopExtractionMetrics() ExtractionMetrics {
	return noopExtractionMetrics{}
}

type noopScanMetrics struct{}

func (noopScanMetrics) RecordBytesScanned(mode string, bytes uint64)             {}
func (noopScanMetrics) RecordCandidate(source, fileType string)                  {}
func (noopScanMetrics) RecordMalformed(strategy string)                          {}
func (noopScanMetrics) RecordUnreadable(bytes uint64)                            {}
func (noopScanMetrics) RecordScan(mode string, duration time.Duration, err error) {}

type noopExtractionMetrics struct{}

func (noopExtractionMetrics) RecordResult(status string, bytes uint64)        {}
func (noopExtractionMetrics) RecordGapBytes(bytes uint64)                     {}
func (noopExtractionMetrics) RecordBatch(duration time.Duration, err error) {}
