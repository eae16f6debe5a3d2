package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-recovery/internal/config"
	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/metrics"
)

// Context holds application-wide configuration and state
type Context struct {
	context.Context

	Config *config.Config
	Logger zerolog.Logger

	// Output preferences
	OutputFormat string
	Verbose      bool
	Quiet        bool
	NoColor      bool
	Out          io.Writer

	// Reporter receives coalesced progress events; nil disables them
	Reporter interfaces.ProgressReporter

	ScanMetrics       metrics.ScanMetrics
	ExtractionMetrics metrics.ExtractionMetrics
}

// NewContext creates a context for cfg. A nil cfg loads the defaults.
func NewContext(cfg *config.Config) (*Context, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Load(""); err != nil {
			return nil, err
		}
	}
	return &Context{
		Context:           context.Background(),
		Config:            cfg,
		Logger:            zerolog.Nop(),
		OutputFormat:      cfg.Output.Format,
		NoColor:           cfg.Output.NoColor,
		Out:               os.Stdout,
		ScanMetrics:       metrics.NewNoopScanMetrics(),
		ExtractionMetrics: metrics.NewNoopExtractionMetrics(),
	}, nil
}

// WithTimeout creates a context with timeout
func (c *Context) WithTimeout(timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// WithContext returns a copy of c running under ctx
func (c *Context) WithContext(ctx context.Context) *Context {
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx
}
