package config

import (
	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/extraction"
	"github.com/deploymenttheory/go-recovery/internal/metrics"
	"github.com/deploymenttheory/go-recovery/internal/scan"
	"github.com/deploymenttheory/go-recovery/internal/sink"
)

// ReaderOptions converts the reader section
func (c *Config) ReaderOptions(log zerolog.Logger) blockreader.Options {
	return blockreader.Options{
		SectorSize:    c.Reader.SectorSize,
		ChunkSize:     c.Reader.ChunkSize,
		RetryAttempts: c.Reader.RetryAttempts,
		RetryDelay:    c.Reader.RetryDelay,
		CacheBlocks:   c.Reader.CacheBlocks,
		Logger:        log,
	}
}

// ScanOptions converts the scan section
func (c *Config) ScanOptions(log zerolog.Logger, m metrics.ScanMetrics) scan.Options {
	opts := scan.DefaultOptions()
	opts.WindowSize = c.Scan.WindowSize
	opts.Workers = c.Scan.Workers
	opts.MaxCarveSize = c.Scan.MaxCarveSize
	opts.MaxOpenHeaders = c.Scan.MaxOpenHeaders
	opts.ProbeBytes = c.Scan.ProbeBytes
	opts.ProgressInterval = c.Progress.Interval
	opts.Logger = log
	opts.Metrics = m
	return opts
}

// ExtractionOptions converts the extraction section
func (c *Config) ExtractionOptions(log zerolog.Logger, m metrics.ExtractionMetrics) extraction.Options {
	return extraction.Options{
		Workers:          c.Extraction.Workers,
		MaxNameAttempts:  c.Extraction.MaxNameAttempts,
		ProgressInterval: c.Progress.Interval,
		Logger:           log,
		Metrics:          m,
	}
}

// SinkConfig converts the s3 section
func (c S3Config) SinkConfig() sink.S3Config {
	return sink.S3Config{
		Endpoint:  c.Endpoint,
		Bucket:    c.Bucket,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		UseSSL:    c.UseSSL,
		Prefix:    c.Prefix,
	}
}
