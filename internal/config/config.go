// Package config loads the go-recovery configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags bound by the caller
//  2. Environment variables (RECOVERY_*)
//  3. Configuration file (recovery-config.yaml)
//  4. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-recovery/internal/logger"
)

const (
	// ConfigName is the base name of the configuration file
	ConfigName = "recovery-config"
	// EnvPrefix prefixes every environment variable override
	EnvPrefix = "RECOVERY"
)

// Config is the complete go-recovery configuration
type Config struct {
	Logging    logger.Config    `mapstructure:"logging"`
	Reader     ReaderConfig     `mapstructure:"reader"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Output     OutputConfig     `mapstructure:"output"`
	S3         S3Config         `mapstructure:"s3"`
}

// ReaderConfig tunes the block reader
type ReaderConfig struct {
	SectorSize    uint32        `mapstructure:"sector_size" validate:"required,sector"`
	ChunkSize     uint32        `mapstructure:"chunk_size" validate:"required,gtefield=SectorSize"`
	RetryAttempts int           `mapstructure:"retry_attempts" validate:"gte=0,lte=10"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	CacheBlocks   int           `mapstructure:"cache_blocks" validate:"gte=0"`
}

// ScanConfig tunes the scan engine
type ScanConfig struct {
	WindowSize     uint64 `mapstructure:"window_size" validate:"required,gte=4096"`
	Workers        int    `mapstructure:"workers" validate:"required,gte=1,lte=64"`
	MaxCarveSize   uint64 `mapstructure:"max_carve_size" validate:"required"`
	MaxOpenHeaders int    `mapstructure:"max_open_headers" validate:"required,gte=1"`
	ProbeBytes     uint64 `mapstructure:"probe_bytes" validate:"required"`
}

// ExtractionConfig tunes the extraction engine
type ExtractionConfig struct {
	Workers         int `mapstructure:"workers" validate:"required,gte=1,lte=64"`
	MaxNameAttempts int `mapstructure:"max_name_attempts" validate:"required,gte=1"`
}

// ProgressConfig controls progress reporting
type ProgressConfig struct {
	// Interval is the longest time between two progress events while work
	// is being done
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// MetricsConfig controls the optional Prometheus metrics
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Textfile receives the final metric values after a run
	Textfile string `mapstructure:"textfile"`
	// Listen serves /metrics while a command runs
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// OutputConfig controls command output
type OutputConfig struct {
	Format  string `mapstructure:"format" validate:"required,oneof=table json yaml"`
	NoColor bool   `mapstructure:"no_color"`
}

// S3Config describes an S3-compatible destination
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// Configured reports whether an S3 destination was set up
func (c S3Config) Configured() bool {
	return c.Bucket != ""
}

// Load reads the configuration from configPath, or from the first
// recovery-config.yaml found in the search path when configPath is empty.
// A missing file is not an error.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith loads into v, which may already carry bound flags
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	setupViper(v, configPath)
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	for _, dir := range SearchPaths() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

// SearchPaths lists the directories searched for recovery-config.yaml
func SearchPaths() []string {
	paths := []string{".", "./config"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".go-recovery"))
	}
	return append(paths, "/etc/go-recovery")
}
