package config

import (
	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/extraction"
	"github.com/deploymenttheory/go-recovery/internal/scan"
)

// DefaultProgressInterval is the longest gap between progress events
const DefaultProgressInterval = "500ms"

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.no_color", false)

	v.SetDefault("reader.sector_size", blockreader.DefaultSectorSize)
	v.SetDefault("reader.chunk_size", blockreader.DefaultChunkSize)
	v.SetDefault("reader.retry_attempts", blockreader.DefaultRetryAttempts)
	v.SetDefault("reader.retry_delay", blockreader.DefaultRetryDelay.String())
	v.SetDefault("reader.cache_blocks", blockreader.DefaultCacheBlocks)

	v.SetDefault("scan.window_size", scan.DefaultWindowSize)
	v.SetDefault("scan.workers", scan.DefaultWorkers)
	v.SetDefault("scan.max_carve_size", scan.DefaultMaxCarveSize)
	v.SetDefault("scan.max_open_headers", scan.DefaultMaxOpenHeaders)
	v.SetDefault("scan.probe_bytes", scan.DefaultProbeBytes)

	v.SetDefault("extraction.workers", extraction.DefaultWorkers)
	v.SetDefault("extraction.max_name_attempts", extraction.DefaultMaxNameAttempts)

	v.SetDefault("progress.interval", DefaultProgressInterval)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.listen", "")

	v.SetDefault("output.format", "table")
	v.SetDefault("output.no_color", false)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.prefix", "")
}
