// Package extraction copies selected candidates from a volume to an output
// sink, salvaging what it can from damaged ranges.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/metrics"
	"github.com/deploymenttheory/go-recovery/internal/progress"
	"github.com/deploymenttheory/go-recovery/internal/session"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	DefaultWorkers         = 2
	DefaultMaxNameAttempts = 100
	// copySpan is the largest volume read of one copy step
	copySpan = 1 << 20
	// sniffBytes is how much of the output is kept for content type detection
	sniffBytes = 3072
)

// Options configures an Engine
type Options struct {
	// Workers bounds how many files are copied at once
	Workers int
	// MaxNameAttempts bounds the suffixes tried after a name collision
	MaxNameAttempts  int
	ProgressInterval time.Duration
	Logger           zerolog.Logger
	Metrics          metrics.ExtractionMetrics
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		Workers:         DefaultWorkers,
		MaxNameAttempts: DefaultMaxNameAttempts,
		Logger:          zerolog.Nop(),
	}
}

// Engine extracts candidates read through a block reader
type Engine struct {
	reader *blockreader.Reader
	opts   Options
}

// New creates an engine. Zero option values fall back to the defaults.
func New(reader *blockreader.Reader, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxNameAttempts <= 0 {
		opts.MaxNameAttempts = DefaultMaxNameAttempts
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopExtractionMetrics()
	}
	return &Engine{reader: reader, opts: opts}
}

// Recover selects keys, skips every other scored candidate and copies the
// selected ones to sink in discovery order. With no keys, the candidates
// already selected are copied.
//
// Per-file failures are recorded in the results. A destination I/O error
// stops the batch: files already started finish, later ones stay selected,
// and the error is returned with the results obtained so far. After a
// cancellation no new file or range is started.
func (e *Engine) Recover(ctx context.Context, sess *session.Session, keys []string, sink interfaces.OutputSink, reporter interfaces.ProgressReporter) ([]types.RecoveryResult, error) {
	started := time.Now()
	if len(keys) > 0 {
		if err := sess.Select(keys...); err != nil {
			return nil, err
		}
	}
	selected := sess.Selected()
	skipped := sess.SkipUnselected()

	var total uint64
	for _, key := range selected {
		if c, ok := sess.Get(key); ok {
			total += c.Size()
		}
	}
	log := e.opts.Logger.With().Str("session", sess.ID()).Logger()
	log.Info().Int("selected", len(selected)).Int("skipped", skipped).Uint64("bytes", total).Msg("extraction started")

	tracker := progress.NewTracker(reporter, e.opts.ProgressInterval)
	b := &batch{
		Engine:  e,
		sess:    sess,
		sink:    sink,
		log:     log,
		counter: progress.NewCounter(tracker.Phase(0, 100), total),
	}

	results := make([]*types.RecoveryResult, len(selected))
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, key := range selected {
		if ctx.Err() != nil || b.aborted.Load() {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil || b.aborted.Load() {
				return nil
			}
			res, err := b.recoverOne(ctx, key)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = b.destinationErr()
	}
	if err == nil {
		err = ctx.Err()
	}

	out := make([]types.RecoveryResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}

	if err != nil {
		tracker.Abort()
		log.Warn().Err(err).Int("results", len(out)).Msg("extraction stopped early")
	} else {
		tracker.Complete(fmt.Sprintf("recovered %d files", len(out)))
		log.Info().Int("results", len(out)).Dur("elapsed", time.Since(started)).Msg("extraction finished")
	}
	e.opts.Metrics.RecordBatch(time.Since(started), err)
	return out, err
}

// batch is the state shared by the workers of one Recover call
type batch struct {
	*Engine
	sess    *session.Session
	sink    interfaces.OutputSink
	log     zerolog.Logger
	counter *progress.Counter

	aborted atomic.Bool
	mu      sync.Mutex
	destErr error
}

func (b *batch) abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destErr == nil {
		b.destErr = err
	}
	b.aborted.Store(true)
}

func (b *batch) destinationErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destErr
}

// recoverOne copies one candidate and records its result. The returned
// error is reserved for session failures; destination errors abort the
// batch through abort.
func (b *batch) recoverOne(ctx context.Context, key string) (*types.RecoveryResult, error) {
	c, err := b.sess.BeginRecovery(key)
	if err != nil {
		return nil, err
	}
	log := b.log.With().Str("key", key).Logger()

	cp := &fileCopy{batch: b, cand: c, name: destinationName(c), hash: sha256.New()}
	copyErr := cp.run(ctx)

	res := cp.result(copyErr)
	if errors.Is(copyErr, types.ErrDestinationIO) {
		b.abort(copyErr)
	}
	if err := b.sess.RecordResult(res); err != nil {
		return nil, err
	}
	stored, _ := b.sess.Result(key)

	b.opts.Metrics.RecordResult(res.Status.String(), res.RecoveredBytes)
	b.opts.Metrics.RecordGapBytes(types.TotalLength(res.Gaps))
	event := log.Debug()
	if res.Status != types.StatusRecovered {
		event = log.Warn()
	}
	event.Str("status", res.Status.String()).Str("destination", res.DestinationPath).
		Uint64("bytes", res.RecoveredBytes).Int("gaps", len(res.Gaps)).Str("reason", res.FailureReason).Msg("file extracted")
	return &stored, nil
}

// fileCopy streams one candidate to the sink. The destination object is
// created with the first readable byte, so a file with nothing readable
// leaves nothing behind.
type fileCopy struct {
	*batch
	cand *types.CandidateFile
	name string

	handle  interfaces.WritableHandle
	created string
	hash    hash.Hash
	head    []byte
	// zeros is the unreadable prefix not yet written
	zeros uint64

	offset   uint64
	readable uint64
	gaps     []types.ByteRange
	readErr  error
	// stopped is set when a cancellation cut the copy short
	stopped error
}

func (cp *fileCopy) run(ctx context.Context) error {
	err := cp.copyRanges(ctx)
	if cp.handle == nil {
		return err
	}
	if closeErr := cp.handle.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cp.discard()
	}
	return err
}

// discard removes a destination object whose copy failed
func (cp *fileCopy) discard() {
	if err := cp.sink.Remove(cp.created); err != nil {
		cp.log.Warn().Err(err).Str("key", cp.cand.Key).Str("name", cp.created).Msg("failed to remove partial file")
		return
	}
	cp.log.Debug().Str("key", cp.cand.Key).Str("name", cp.created).Msg("removed partial file")
	cp.created = ""
}

func (cp *fileCopy) copyRanges(ctx context.Context) error {
	// reads in flight finish after a cancellation
	readCtx := context.WithoutCancel(ctx)
	for _, rng := range cp.cand.ByteRanges {
		if err := ctx.Err(); err != nil {
			cp.stopped = err
			break
		}
		for pos := rng.Offset; pos < rng.End(); {
			n := min(uint64(copySpan), rng.End()-pos)
			if err := cp.copySpan(readCtx, pos, n); err != nil {
				return err
			}
			pos += n
		}
	}

	// the object always gets the full length; the cut-off tail is a gap
	if size := cp.cand.Size(); cp.stopped != nil && cp.offset < size {
		cp.gaps = append(cp.gaps, types.ByteRange{Offset: cp.offset, Length: size - cp.offset})
		return cp.fill(size - cp.offset)
	}
	return nil
}

func (cp *fileCopy) copySpan(ctx context.Context, pos, n uint64) error {
	res, err := cp.reader.ReadSalvage(ctx, pos, n)
	if err != nil {
		res = &blockreader.SalvageResult{
			Offset:  pos,
			Data:    make([]byte, n),
			Gaps:    []types.ByteRange{{Offset: pos, Length: n}},
			LastErr: err,
		}
	}
	for _, g := range res.RelativeGaps() {
		cp.gaps = append(cp.gaps, types.ByteRange{Offset: cp.offset + g.Offset, Length: g.Length})
	}
	if res.LastErr != nil {
		cp.readErr = res.LastErr
	}
	good := n - res.Unreadable()
	cp.readable += good
	cp.offset += n
	cp.counter.Add(n, "extracting "+cp.cand.DisplayName())

	if cp.handle == nil && good == 0 {
		cp.zeros += n
		return nil
	}
	return cp.write(res.Data)
}

// fill writes n zero bytes, or defers them while nothing was created
func (cp *fileCopy) fill(n uint64) error {
	if cp.handle == nil {
		cp.zeros += n
		return nil
	}
	for n > 0 {
		chunk := min(n, uint64(copySpan))
		if err := cp.append(make([]byte, chunk)); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (cp *fileCopy) write(data []byte) error {
	if cp.handle == nil {
		if err := cp.create(); err != nil {
			return err
		}
		zeros := cp.zeros
		cp.zeros = 0
		if err := cp.fill(zeros); err != nil {
			return err
		}
	}
	return cp.append(data)
}

func (cp *fileCopy) append(data []byte) error {
	if err := cp.handle.Append(data); err != nil {
		if !errors.Is(err, types.ErrDestinationIO) {
			err = fmt.Errorf("%w: %v", types.ErrDestinationIO, err)
		}
		return err
	}
	cp.hash.Write(data)
	if len(cp.head) < sniffBytes {
		cp.head = append(cp.head, data[:min(len(data), sniffBytes-len(cp.head))]...)
	}
	return nil
}

// create opens the destination under the first free name
func (cp *fileCopy) create() error {
	size := cp.cand.Size()
	for i := 0; i < cp.opts.MaxNameAttempts; i++ {
		name := cp.name
		if i > 0 {
			name = withSuffix(cp.name, i)
		}
		h, err := cp.sink.Create(name, size)
		if errors.Is(err, types.ErrNameCollision) {
			continue
		}
		if err != nil {
			return err
		}
		cp.handle, cp.created = h, name
		return nil
	}
	return fmt.Errorf("%w: no free name for %s after %d attempts", types.ErrNameCollision, cp.name, cp.opts.MaxNameAttempts)
}

func (cp *fileCopy) result(copyErr error) types.RecoveryResult {
	c := cp.cand
	res := types.RecoveryResult{
		CandidateKey:   c.Key,
		Name:           c.DisplayName(),
		RecoveredBytes: cp.readable,
		Gaps:           types.CoalesceAdjacent(cp.gaps),
		Compressed:     c.Compressed,
		Encrypted:      c.Encrypted,
	}
	switch {
	case copyErr != nil:
		res.Status = types.StatusFailed
		res.RecoveredBytes = 0
		res.FailureReason = copyErr.Error()
		return res
	case cp.handle == nil:
		res.Status = types.StatusFailed
		res.RecoveredBytes = 0
		res.FailureReason = "no readable data"
		if cp.readErr != nil {
			res.FailureReason = cp.readErr.Error()
		}
		if cp.stopped != nil {
			res.FailureReason = "interrupted: " + cp.stopped.Error()
		}
		return res
	}

	// failed results never carry a destination
	res.DestinationPath = cp.created
	if loc, ok := cp.sink.(interfaces.LocatableSink); ok {
		res.DestinationPath = loc.Location(cp.created)
	}
	res.Checksum = hex.EncodeToString(cp.hash.Sum(nil))
	res.ContentType = mimetype.Detect(cp.head).String()
	switch {
	case cp.readable == c.Size():
		res.Status = types.StatusRecovered
	case cp.stopped != nil:
		res.Status = types.StatusPartiallyRecovered
		res.FailureReason = "interrupted: " + cp.stopped.Error()
	default:
		res.Status = types.StatusPartiallyRecovered
		res.FailureReason = fmt.Sprintf("%d of %d bytes unreadable", c.Size()-cp.readable, c.Size())
		if cp.readErr != nil {
			res.FailureReason += ": " + cp.readErr.Error()
		}
	}
	return res
}
