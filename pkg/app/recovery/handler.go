// Package recovery implements the recover command of the application
// layer: scan a volume, pick candidates and copy them out.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/deploymenttheory/go-recovery/internal/extraction"
	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/sink"
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

// Handle processes a recovery request
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.UseS3 && !ctx.Config.S3.Configured() {
		return nil, app.NewError(app.ErrCodeInvalidInput, "no s3 bucket configured", nil)
	}

	scanned, err := scan.Execute(ctx, &req.Scan)
	if err != nil {
		return nil, err
	}
	defer scanned.Source.Close()
	sess := scanned.Session

	// the destination is created only after the scan succeeded
	out, where, err := openSink(ctx, req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	keys := req.Keys
	if len(keys) == 0 {
		if keys, err = sess.SelectAll(req.MinConfidence); err != nil {
			return nil, app.NewError(app.ErrCodeRecoveryFailed, "cannot select candidates", err)
		}
	}
	ctx.Logger.Info().Str("session", sess.ID()).Int("selected", len(keys)).Str("destination", where).Msg("recovering")

	// extraction reads file data directly; cached metadata blocks are done
	scanned.Source.Reader.ClearCache()

	resp := &Response{Destination: where, Selected: len(keys)}
	var recErr error
	if len(keys) > 0 {
		engine := extraction.New(scanned.Source.Reader, ctx.Config.ExtractionOptions(ctx.Logger, ctx.ExtractionMetrics))
		var results []types.RecoveryResult
		results, recErr = engine.Recover(ctx, sess, keys, out, ctx.Reporter)
		for _, res := range results {
			if res.Status == types.StatusPartiallyRecovered && len(res.Gaps) > 0 {
				resp.Damaged = append(resp.Damaged, DamagedFile{CandidateKey: res.CandidateKey, Gaps: res.Gaps})
			}
		}
	}
	if recErr != nil {
		sess.Complete(recErr)
	} else {
		sess.Complete(scanned.Stopped)
	}

	resp.Summary = sess.Summary()
	resp.Results = sess.Export()
	resp.RecoveryTime = time.Since(started)
	if recErr == nil && scanned.Stopped != nil {
		resp.Interrupted = scanned.Stopped.Error()
	}
	return finish(resp, recErr)
}

// finish maps the error of an extraction batch onto the response
func finish(resp *Response, err error) (*Response, error) {
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, types.ErrCandidateNotFound):
		return nil, app.NewError(app.ErrCodeCandidateMissing, "unknown candidate", err)
	case errors.Is(err, types.ErrDestinationIO):
		return resp, app.NewError(app.ErrCodeDestination, "destination failed, recovery stopped", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// a cancelled run keeps the files recovered before it stopped
		resp.Interrupted = err.Error()
		return resp, nil
	default:
		return resp, app.NewError(app.ErrCodeRecoveryFailed, "recovery failed", err)
	}
}

// openSink returns the destination of req and a printable location
func openSink(ctx *app.Context, req *Request) (interfaces.OutputSink, string, error) {
	if req.UseS3 {
		cfg := ctx.Config.S3
		s, err := sink.NewMinioSink(ctx, cfg.SinkConfig())
		if err != nil {
			return nil, "", app.NewError(app.ErrCodeDestination, "cannot reach s3 destination", err)
		}
		return s, s.Location(""), nil
	}

	s, err := sink.NewDirectorySink(req.Destination)
	if err != nil {
		return nil, "", app.NewError(app.ErrCodeDestination, "cannot use destination", err)
	}
	return s, s.Location(""), nil
}
