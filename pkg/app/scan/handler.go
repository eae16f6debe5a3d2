// Package scan implements the scan command of the application layer.
package scan

import (
	"context"
	"errors"
	"time"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	scanengine "github.com/deploymenttheory/go-recovery/internal/scan"
	"github.com/deploymenttheory/go-recovery/internal/session"
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// Result is an opened source and the session scanned from it. The caller
// closes Source.
type Result struct {
	Source  *app.Source
	Session *session.Session
	// Stopped is set when the scan ended early; Session still holds
	// everything found before that
	Stopped error
	Elapsed time.Duration
	// Cache is the block cache of the reader when the scan ended
	Cache blockreader.CacheStats
}

// Execute opens the source of req and scans it
func Execute(ctx *app.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mode, filter, _ := req.parse()

	src, err := ctx.OpenSource(req.Source)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	engine := scanengine.New(src.Reader, ctx.Config.ScanOptions(ctx.Logger, ctx.ScanMetrics))
	sess, err := engine.Scan(ctx, mode, filter, ctx.Reporter)
	if sess == nil {
		src.Close()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, app.NewError(app.ErrCodeCancelled, "scan cancelled before it started", err)
		}
		return nil, app.ClassifyScanError(err)
	}

	if err != nil {
		ctx.Logger.Warn().Err(err).Str("session", sess.ID()).Msg("scan incomplete, keeping partial results")
	}
	if n := src.ReadErrors(); n > 0 {
		ctx.Logger.Info().Int64("read_errors", n).Msg("source reported read errors")
	}
	cache := src.Reader.CacheStats()
	ctx.Logger.Debug().Int("blocks", cache.Blocks).Int("max_blocks", cache.MaxBlocks).Msg("metadata cache after scan")
	return &Result{Source: src, Session: sess, Stopped: err, Elapsed: time.Since(started), Cache: cache}, nil
}

// Handle processes a scan request
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	res, err := Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	defer res.Source.Close()

	resp := BuildResponse(res.Session, req.MinConfidence, req.MaxResults)
	resp.ScanTime = res.Elapsed
	if res.Stopped != nil {
		resp.Interrupted = res.Stopped.Error()
	}
	return resp, nil
}

// BuildResponse lists the candidates of sess scored at least minConfidence,
// in discovery order
func BuildResponse(sess *session.Session, minConfidence float64, maxResults int) *Response {
	resp := &Response{
		Summary:     sess.Summary(),
		Volumes:     sess.Volumes(),
		Diagnostics: sess.Diagnostics(),
		Candidates:  []CandidateResult{},
	}
	for _, c := range sess.Candidates() {
		if c.Confidence < minConfidence {
			continue
		}
		resp.Shown++
		if maxResults > 0 && len(resp.Candidates) >= maxResults {
			resp.Truncated = true
			continue
		}
		resp.Candidates = append(resp.Candidates, NewCandidateResult(c))
	}
	return resp
}

// CountByType tallies the listed candidates per file type tag
func (r *Response) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, c := range r.Candidates {
		counts[c.Type]++
	}
	return counts
}

// IsPartitionScan reports whether the response lists volumes rather than files
func (r *Response) IsPartitionScan() bool {
	return r.Summary.Mode == types.ScanPartition.String()
}

