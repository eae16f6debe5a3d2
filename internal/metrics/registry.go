// Package metrics provides optional Prometheus metrics for scans and
// extractions.
//
// Metrics are disabled until InitRegistry is called. Engines given a nil
// metrics value fall back to the no-op implementations in this package.
//
// Usage:
//
//	metrics.InitRegistry()
//	scanMetrics := prometheus.NewScanMetrics()
//	engine := scan.New(reader, scan.Options{Metrics: scanMetrics})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called
func IsEnabled() bool {
	return GetRegistry() != nil
}

// WriteTextfile writes the current values of the global registry in the
// Prometheus text format, for collection by a node exporter textfile
// collector after a batch run.
func WriteTextfile(path string) error {
	if !IsEnabled() {
		return nil
	}
	return prometheus.WriteToTextfile(path, GetRegistry())
}
