package scan

import (
	"context"
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/progress"
	"github.com/deploymenttheory/go-recovery/internal/scoring"
	"github.com/deploymenttheory/go-recovery/internal/signatures"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// carver pairs signature matches into candidates. It sees matches in volume
// order and keeps, per format, the headers still waiting for a footer.
type carver struct {
	run *scanRun
	// idx is nil outside a deep scan
	idx     *metadataIndex
	claimed *types.RangeSet
	// live holds the allocated files of the metadata pass
	live *types.RangeSet

	open map[string][]signatures.Match
	// headers starting before claimedUntil lie inside an accepted
	// self-delimited file and are not carved again
	claimedUntil uint64
	// gaps seen so far, sorted
	gaps []types.ByteRange
	// pending candidates wait until the scan has read past their end so
	// their evidence gaps are known
	pending      []*types.CandidateFile
	corroborated map[string]bool
}

func newCarver(run *scanRun, idx *metadataIndex) *carver {
	c := &carver{
		run:          run,
		idx:          idx,
		open:         make(map[string][]signatures.Match),
		corroborated: make(map[string]bool),
	}
	if idx != nil {
		c.claimed = types.NewRangeSet(idx.claimed)
		c.live = types.NewRangeSet(idx.live)
	}
	return c
}

// carve matches file signatures over regions
func (r *scanRun) carve(ctx context.Context, regions []types.ByteRange, idx *metadataIndex, phase *progress.Phase) error {
	c := newCarver(r, idx)
	r.log.Info().Int("regions", len(regions)).Uint64("bytes", types.TotalLength(regions)).Msg("carving")

	err := scanWindows(ctx, r, regions, r.matcher.Lookahead(), phase, "carving signatures",
		r.matcher.Match,
		func(m signatures.Match) uint64 { return m.Offset },
		func(w window, found []signatures.Match) error {
			c.gaps = append(c.gaps, w.gaps...)
			for _, m := range found {
				if err := c.accept(m); err != nil {
					return err
				}
			}
			c.expire(w.End())
			return c.flush(w.End())
		},
	)
	// candidates already paired are kept after a cancellation
	if flushErr := c.flush(r.reader.Capacity()); flushErr != nil && err == nil {
		err = flushErr
	}
	if unpaired := c.openHeaders(); unpaired > 0 {
		r.log.Debug().Int("headers", unpaired).Msg("headers left without a footer")
	}
	if err == nil {
		phase.Done("carving finished")
	}
	return err
}

func (c *carver) accept(m signatures.Match) error {
	switch m.Kind {
	case signatures.KindHeader:
		if err := c.corroborate(m); err != nil {
			return err
		}
		if m.Offset < c.claimedUntil {
			return nil
		}
		c.pushHeader(m)
	case signatures.KindSelfDelimited:
		if err := c.corroborate(m); err != nil {
			return err
		}
		if m.Offset < c.claimedUntil {
			return nil
		}
		end := m.Offset + m.Size
		if m.Size < max(m.Format.MinSize, 1) || m.Size > c.run.opts.MaxCarveSize || end > c.run.reader.Capacity() {
			return nil
		}
		c.claimedUntil = max(c.claimedUntil, end)
		c.queue(m.Format, m.Offset, m.Size, true)
	case signatures.KindFooter:
		c.closeHeader(m)
	}
	return nil
}

func (c *carver) pushHeader(m signatures.Match) {
	stack := append(c.open[m.Format.ID], m)
	if over := len(stack) - c.run.opts.MaxOpenHeaders; over > 0 {
		c.run.log.Debug().Str("format", m.Format.ID).Uint64("offset", stack[0].Offset).Msg("dropped open header")
		stack = stack[over:]
	}
	c.open[m.Format.ID] = stack
}

// closeHeader pairs a footer with an open header of its format
func (c *carver) closeHeader(footer signatures.Match) {
	f := footer.Format
	stack := c.open[f.ID]
	if len(stack) == 0 {
		return
	}
	capacity := c.run.reader.Capacity()

	pick := len(stack) - 1
	if f.Pairing == signatures.PairOutermost {
		pick = 0
	}
	header := stack[pick]
	if footer.End <= header.Offset || footer.End > capacity {
		return
	}
	size := footer.End - header.Offset
	if size < f.MinSize {
		// too small to be the whole file, wait for a later footer
		return
	}
	if f.Pairing == signatures.PairOutermost {
		c.open[f.ID] = nil
	} else {
		c.open[f.ID] = stack[:pick]
	}
	if size > c.run.opts.MaxCarveSize {
		return
	}
	c.queue(f, header.Offset, size, false)
}

// expire drops headers that can no longer be closed within the maximum
// carve size
func (c *carver) expire(upTo uint64) {
	limit := c.run.opts.MaxCarveSize
	for id, stack := range c.open {
		keep := stack[:0]
		for _, h := range stack {
			if upTo < h.Offset || upTo-h.Offset <= limit {
				keep = append(keep, h)
			}
		}
		if dropped := len(stack) - len(keep); dropped > 0 {
			c.run.log.Debug().Str("format", id).Int("headers", dropped).Msg("open headers expired")
		}
		c.open[id] = keep
	}
}

func (c *carver) openHeaders() int {
	n := 0
	for _, stack := range c.open {
		n += len(stack)
	}
	return n
}

// corroborate re-scores the metadata candidate that starts where a header was found
func (c *carver) corroborate(m signatures.Match) error {
	if c.idx == nil {
		return nil
	}
	key, ok := c.idx.starts[m.Offset]
	if !ok || c.corroborated[key] {
		return nil
	}
	c.corroborated[key] = true
	err := c.run.sess.Update(key, func(cand *types.CandidateFile) error {
		cand.Corroborated = true
		return scoring.Apply(cand)
	})
	if err != nil {
		return fmt.Errorf("failed to corroborate %s: %w", key, err)
	}
	c.run.log.Debug().Str("key", key).Str("format", m.Format.ID).Msg("signature corroborates metadata")
	return nil
}

func (c *carver) queue(f *signatures.Format, offset, size uint64, selfDelimited bool) {
	cand := &types.CandidateFile{
		Key: fmt.Sprintf("carve:%s:%d", f.ID, offset),
		Identity: types.Identity{
			Name:        fmt.Sprintf("carved_%d.%s", offset, f.Extension),
			Path:        "/carved",
			Synthesized: true,
		},
		ByteRanges: []types.ByteRange{{Offset: offset, Length: size}},
		FileType:   f.FileType,
		Evidence:   types.EvidenceSignatureCarve,
		Strategy:   "carve",
		FormatID:   f.ID,
		Status:     types.StatusDiscovered,
	}
	if selfDelimited {
		cand.DeclaredSize = size
		cand.HasDeclaredSize = true
	}
	c.pending = append(c.pending, cand)
}

// flush inserts pending candidates that end at or before upTo
func (c *carver) flush(upTo uint64) error {
	keep := c.pending[:0]
	for _, cand := range c.pending {
		if cand.ByteRanges[0].End() > upTo {
			keep = append(keep, cand)
			continue
		}
		if err := c.insert(cand); err != nil {
			return err
		}
	}
	c.pending = keep
	return nil
}

func (c *carver) insert(cand *types.CandidateFile) error {
	r := c.run
	rng := cand.ByteRanges[0]

	// metadata candidates win over carved copies of the same bytes
	if c.claimed != nil && c.claimed.OverlapBytes(rng)*2 > rng.Length {
		r.sess.Discard()
		r.log.Debug().Str("key", cand.Key).Msg("carve duplicates a metadata candidate")
		return nil
	}

	cand.EvidenceGaps = intersect(c.gaps, cand.ByteRanges)
	// a pair spanning two free regions can enclose a live file
	if c.live != nil && c.live.Overlaps(rng) {
		cand.OverlapsLive = true
	}
	if err := scoring.Apply(cand); err != nil {
		return err
	}
	inserted, err := r.sess.Insert(cand)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", cand.Key, err)
	}
	if inserted {
		r.opts.Metrics.RecordCandidate(cand.Evidence.String(), cand.FileType.Tag())
		r.log.Debug().Str("key", cand.Key).Uint64("size", rng.Length).Msg("carved")
	}
	return nil
}
