package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-recovery/internal/config"
	"github.com/deploymenttheory/go-recovery/internal/logger"
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	noColor      bool
	outputFormat string
	configPath   string
	timeout      time.Duration

	// appCtx is built before every command runs
	appCtx *app.Context
	// stopMetrics flushes and stops the metrics outputs
	stopMetrics func() error
	// cancelTimeout releases the --timeout deadline
	cancelTimeout context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "go-recovery",
	Short: "Read-only data recovery for disks, partitions and images",
	Long: `go-recovery finds and recovers deleted files from raw disks, partitions
and disk images without mounting them or writing to the source.

It walks NTFS, FAT and exFAT metadata for recently deleted entries, carves
file signatures out of unallocated or damaged space, and locates lost
partitions. Every candidate gets a confidence score; recovered files are
checksummed and unreadable sectors are zero-filled and reported.

Commands:
  scan        Scan a volume and list recoverable files
  recover     Scan a volume and copy files out
  partitions  Look for lost partitions and volumes
  preview     Show the first bytes of one candidate
  config      Show or create the configuration`,
	Version:           "0.1.0-dev",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cancelTimeout != nil {
			cancelTimeout()
		}
		if stopMetrics == nil {
			return nil
		}
		return stopMetrics()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "stop scanning or recovering after this long and keep what was found (0 disables)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: recovery-config.yaml in the search path)")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// setup loads the configuration and builds the application context
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if outputFormat != "" {
		cfg.Output.Format = outputFormat
	}
	if noColor {
		cfg.Output.NoColor = true
	}
	switch {
	case verbose:
		cfg.Logging.Level = "debug"
	case quiet:
		cfg.Logging.Level = "error"
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	cfg.Logging.NoColor = cfg.Logging.NoColor || cfg.Output.NoColor
	log, err := logger.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	appCtx, err = app.NewContext(cfg)
	if err != nil {
		return err
	}
	appCtx = appCtx.WithContext(cmd.Context())
	if timeout > 0 {
		appCtx, cancelTimeout = appCtx.WithTimeout(timeout)
	}
	appCtx.Logger = log
	appCtx.Verbose = verbose
	appCtx.Quiet = quiet
	appCtx.Out = cmd.OutOrStdout()

	stopMetrics, err = startMetrics(appCtx)
	return err
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	if appCtx != nil {
		return appCtx.OutputFormat
	}
	return outputFormat
}
