// Package scan discovers recoverable files on a volume. A scan runs in one
// of four modes and fills a session with scored candidates, or with
// candidate volumes for a partition scan.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/metrics"
	"github.com/deploymenttheory/go-recovery/internal/parsers/metadata"
	"github.com/deploymenttheory/go-recovery/internal/progress"
	"github.com/deploymenttheory/go-recovery/internal/session"
	"github.com/deploymenttheory/go-recovery/internal/signatures"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	DefaultWindowSize     = 1 << 20
	DefaultWorkers        = 4
	DefaultMaxCarveSize   = 64 << 20
	DefaultMaxOpenHeaders = 64
	DefaultProbeBytes     = 64 << 10
	// sniffBytes is how much of an unclassified file is inspected
	sniffBytes = 512
)

// Options configures an Engine
type Options struct {
	// WindowSize is the amount of volume matched per carving unit
	WindowSize uint64
	Workers    int
	// MaxCarveSize expires open headers and rejects larger self-delimited files
	MaxCarveSize uint64
	// MaxOpenHeaders bounds the open headers kept per format
	MaxOpenHeaders int
	// ProbeBytes is how much of the volume start must be partly readable
	ProbeBytes       uint64
	ProgressInterval time.Duration
	Matcher          *signatures.Matcher
	Logger           zerolog.Logger
	Metrics          metrics.ScanMetrics
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		WindowSize:     DefaultWindowSize,
		Workers:        DefaultWorkers,
		MaxCarveSize:   DefaultMaxCarveSize,
		MaxOpenHeaders: DefaultMaxOpenHeaders,
		ProbeBytes:     DefaultProbeBytes,
		Logger:         zerolog.Nop(),
	}
}

// Engine runs scans over one volume. Scans share no state, so several may
// run at once against the same reader.
type Engine struct {
	reader  *blockreader.Reader
	opts    Options
	matcher *signatures.Matcher
}

// New creates an engine. Zero option values fall back to the defaults.
func New(reader *blockreader.Reader, opts Options) *Engine {
	def := DefaultOptions()
	if opts.WindowSize == 0 {
		opts.WindowSize = def.WindowSize
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.MaxCarveSize == 0 {
		opts.MaxCarveSize = def.MaxCarveSize
	}
	if opts.MaxOpenHeaders <= 0 {
		opts.MaxOpenHeaders = def.MaxOpenHeaders
	}
	if opts.ProbeBytes == 0 {
		opts.ProbeBytes = def.ProbeBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopScanMetrics()
	}
	matcher := opts.Matcher
	if matcher == nil {
		matcher = signatures.NewMatcher(nil)
	}
	// windows must be longer than the overlap they carry
	opts.WindowSize = max(opts.WindowSize, uint64(matcher.Lookahead()), uint64(signatures.PartitionLookahead()))

	return &Engine{reader: reader, opts: opts, matcher: matcher}
}

// Scan examines the volume in mode and returns the session holding what was
// found. Candidates whose type fails filter are never inserted.
//
// The only error without a session is types.ErrVolumeUnreadable (or a
// cancellation before anything was read). When the context is cancelled
// mid-scan the partial session is returned along with the context error;
// every candidate in it is scored and can be extracted.
func (e *Engine) Scan(ctx context.Context, mode types.ScanMode, filter types.FileType, reporter interfaces.ProgressReporter) (*session.Session, error) {
	if mode < types.ScanQuick || mode > types.ScanPartition {
		return nil, fmt.Errorf("unsupported scan mode %d", mode)
	}

	started := time.Now()
	if err := e.reader.Probe(ctx, e.opts.ProbeBytes); err != nil {
		e.opts.Logger.Error().Err(err).Str("mode", mode.Tag()).Msg("volume cannot be scanned")
		e.opts.Metrics.RecordScan(mode.Tag(), time.Since(started), err)
		return nil, err
	}

	sess := session.New(e.volumeRef(), mode, filter)
	log := e.opts.Logger.With().Str("session", sess.ID()).Str("mode", mode.Tag()).Logger()
	log.Info().Uint64("capacity", e.reader.Capacity()).Str("filter", filter.Tag()).Msg("scan started")

	tracker := progress.NewTracker(reporter, e.opts.ProgressInterval)
	run := &scanRun{Engine: e, sess: sess, log: log, mode: mode}

	var err error
	switch mode {
	case types.ScanQuick:
		_, err = run.walkMetadata(ctx, metadata.DepthQuick, tracker.Phase(0, 100))
	case types.ScanDeep:
		var idx *metadataIndex
		idx, err = run.walkMetadata(ctx, metadata.DepthDeep, tracker.Phase(0, 40))
		if err == nil {
			regions := types.NewRangeSet(idx.live).Complement(e.reader.Capacity())
			err = run.carve(ctx, regions, idx, tracker.Phase(40, 100))
		}
	case types.ScanRaw:
		whole := []types.ByteRange{{Offset: 0, Length: e.reader.Capacity()}}
		err = run.carve(ctx, whole, nil, tracker.Phase(0, 100))
	case types.ScanPartition:
		err = run.locatePartitions(ctx, tracker.Phase(0, 100))
	}

	sess.FinishScan(err)
	counters := sess.Counters()
	if err != nil {
		tracker.Abort()
		log.Warn().Err(err).Int("found", counters.Found).Msg("scan stopped early")
	} else {
		tracker.Complete(fmt.Sprintf("%s complete: %d candidates", mode, counters.Found))
		log.Info().Int("found", counters.Found).Int("volumes", len(sess.Volumes())).
			Dur("elapsed", time.Since(started)).Msg("scan finished")
	}
	e.opts.Metrics.RecordScan(mode.Tag(), time.Since(started), err)
	return sess, err
}

func (e *Engine) volumeRef() session.VolumeRef {
	ref := session.VolumeRef{
		Capacity:   e.reader.Capacity(),
		SectorSize: e.reader.SectorSize(),
	}
	if info, ok := e.reader.Volume().(interfaces.VolumeInfo); ok {
		ref.Path = info.DevicePath()
		ref.Type = info.DeviceType()
	}
	return ref
}

// scanRun carries the per-scan state shared by the passes
type scanRun struct {
	*Engine
	sess *session.Session
	log  zerolog.Logger
	mode types.ScanMode
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
