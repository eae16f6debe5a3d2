package scan

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-recovery/internal/progress"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// window is one unit of matching. It owns [Offset, End()) and matches whose
// first byte falls there; the bytes it reads run lookahead further.
type window struct {
	types.ByteRange
	// gaps are the unreadable ranges inside the owned span
	gaps []types.ByteRange
}

// splitWindows cuts regions into windows of at most size bytes
func splitWindows(regions []types.ByteRange, size uint64) []types.ByteRange {
	var out []types.ByteRange
	for _, r := range regions {
		for off := r.Offset; off < r.End(); off += size {
			out = append(out, types.ByteRange{Offset: off, Length: min(size, r.End()-off)})
		}
	}
	return out
}

// scanWindows reads the windows covering regions in parallel and hands each
// window's matches to handle in volume order. match receives the window
// bytes and their volume offset; matches starting outside the owned span
// are dropped using offsetOf, so a signature spanning two windows is seen
// exactly once.
func scanWindows[T any](
	ctx context.Context,
	r *scanRun,
	regions []types.ByteRange,
	lookahead int,
	phase *progress.Phase,
	message string,
	match func(data []byte, base uint64) []T,
	offsetOf func(T) uint64,
	handle func(w window, found []T) error,
) error {
	capacity := r.reader.Capacity()
	windows := splitWindows(regions, r.opts.WindowSize)
	counter := progress.NewCounter(phase, types.TotalLength(regions))
	batch := r.opts.Workers * 2

	type result struct {
		w     window
		found []T
	}

	for start := 0; start < len(windows); start += batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := windows[start:min(start+batch, len(windows))]
		results := make([]result, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Workers)
		for i, owned := range chunk {
			g.Go(func() error {
				readEnd := min(owned.End()+uint64(lookahead), capacity)
				res, err := r.reader.ReadSalvage(gctx, owned.Offset, readEnd-owned.Offset)
				if err != nil {
					return fmt.Errorf("failed to read window at %d: %w", owned.Offset, err)
				}
				var kept []T
				for _, m := range match(res.Data, owned.Offset) {
					if off := offsetOf(m); off >= owned.Offset && off < owned.End() {
						kept = append(kept, m)
					}
				}
				results[i] = result{
					w:     window{ByteRange: owned, gaps: intersect(res.Gaps, []types.ByteRange{owned})},
					found: kept,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, res := range results {
			for _, gap := range res.w.gaps {
				r.sess.RecordUnreadable(gap)
				r.opts.Metrics.RecordUnreadable(gap.Length)
				r.log.Debug().Uint64("offset", gap.Offset).Uint64("length", gap.Length).Msg("unreadable range")
			}
			if err := handle(res.w, res.found); err != nil {
				return err
			}
			r.opts.Metrics.RecordBytesScanned(r.mode.Tag(), res.w.Length)
			counter.Add(res.w.Length, message)
		}
	}
	return nil
}

// intersect returns the parts of a covered by b. Both must be sorted and
// non-overlapping.
func intersect(a, b []types.ByteRange) []types.ByteRange {
	var out []types.ByteRange
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo := max(a[i].Offset, b[j].Offset)
		hi := min(a[i].End(), b[j].End())
		if lo < hi {
			out = append(out, types.ByteRange{Offset: lo, Length: hi - lo})
		}
		if a[i].End() < b[j].End() {
			i++
		} else {
			j++
		}
	}
	return out
}
