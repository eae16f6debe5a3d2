package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deploymenttheory/go-recovery/internal/metrics"
	prommetrics "github.com/deploymenttheory/go-recovery/internal/metrics/prometheus"
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// startMetrics enables the Prometheus metrics of the configuration. The
// returned function writes the textfile and stops the listener.
func startMetrics(ctx *app.Context) (func() error, error) {
	cfg := ctx.Config.Metrics
	if !cfg.Enabled {
		return nil, nil
	}
	metrics.InitRegistry()
	ctx.ScanMetrics = prommetrics.NewScanMetrics()
	ctx.ExtractionMetrics = prommetrics.NewExtractionMetrics()

	var srv *http.Server
	if cfg.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return nil, fmt.Errorf("failed to listen for metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				ctx.Logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		ctx.Logger.Info().Str("address", ln.Addr().String()).Msg("serving metrics")
	}

	return func() error {
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		if cfg.Textfile == "" {
			return nil
		}
		if err := metrics.WriteTextfile(cfg.Textfile); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
		ctx.Logger.Debug().Str("path", cfg.Textfile).Msg("metrics written")
		return nil
	}, nil
}
