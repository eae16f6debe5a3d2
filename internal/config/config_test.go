package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/scan"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigName+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, uint32(blockreader.DefaultSectorSize), cfg.Reader.SectorSize)
	assert.Equal(t, blockreader.DefaultRetryDelay, cfg.Reader.RetryDelay)
	assert.Equal(t, uint64(scan.DefaultWindowSize), cfg.Scan.WindowSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Progress.Interval)
	assert.Equal(t, "table", cfg.Output.Format)
	assert.False(t, cfg.S3.Configured())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
reader:
  sector_size: 4096
  chunk_size: 65536
  retry_delay: 50ms
scan:
  workers: 8
extraction:
  workers: 3
s3:
  endpoint: localhost:9000
  bucket: evidence
  prefix: case-7/
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, uint32(4096), cfg.Reader.SectorSize)
	assert.Equal(t, uint32(65536), cfg.Reader.ChunkSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Reader.RetryDelay)
	assert.Equal(t, 8, cfg.Scan.Workers)
	assert.Equal(t, 3, cfg.Extraction.Workers)
	assert.True(t, cfg.S3.Configured())

	sc := cfg.S3.SinkConfig()
	assert.Equal(t, "evidence", sc.Bucket)
	assert.Equal(t, "case-7/", sc.Prefix)
	assert.True(t, sc.UseSSL)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("RECOVERY_SCAN_WORKERS", "12")
	t.Setenv("RECOVERY_OUTPUT_FORMAT", "json")

	cfg, err := Load(writeConfig(t, "scan:\n  workers: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Scan.Workers)
	assert.Equal(t, "json", cfg.Output.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad level", "logging:\n  level: loud\n", "Level"},
		{"sector not a power of two", "reader:\n  sector_size: 1000\n  chunk_size: 4000\n", "sector"},
		{"chunk not a sector multiple", "reader:\n  sector_size: 512\n  chunk_size: 1000\n", "multiple of the sector size"},
		{"tiny window", "scan:\n  window_size: 512\n", "WindowSize"},
		{"output format", "output:\n  format: xml\n", "Format"},
		{"bucket missing", "s3:\n  endpoint: localhost:9000\n", "bucket is required"},
		{"half credentials", "s3:\n  bucket: b\n  access_key: k\n", "must be set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "scan: [unterminated\n"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestOptionConversion(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	ro := cfg.ReaderOptions(nopLogger())
	assert.Equal(t, cfg.Reader.ChunkSize, ro.ChunkSize)
	so := cfg.ScanOptions(nopLogger(), nil)
	assert.Equal(t, cfg.Scan.WindowSize, so.WindowSize)
	assert.Equal(t, cfg.Progress.Interval, so.ProgressInterval)
	eo := cfg.ExtractionOptions(nopLogger(), nil)
	assert.Equal(t, cfg.Extraction.MaxNameAttempts, eo.MaxNameAttempts)
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
