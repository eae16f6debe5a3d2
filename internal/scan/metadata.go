package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"github.com/deploymenttheory/go-recovery/internal/parsers/metadata"
	"github.com/deploymenttheory/go-recovery/internal/progress"
	"github.com/deploymenttheory/go-recovery/internal/scoring"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// metadataIndex is what a metadata pass leaves for carving
type metadataIndex struct {
	keys []string
	// live holds ranges of files that are still allocated
	live []types.ByteRange
	// claimed holds the ranges of the metadata candidates
	claimed []types.ByteRange
	// starts maps the first byte of a candidate to its key
	starts map[uint64]string
}

func newMetadataIndex() *metadataIndex {
	return &metadataIndex{starts: make(map[uint64]string)}
}

func (idx *metadataIndex) add(c *types.CandidateFile) {
	idx.keys = append(idx.keys, c.Key)
	idx.claimed = append(idx.claimed, c.ByteRanges...)
	if _, seen := idx.starts[c.ByteRanges[0].Offset]; !seen {
		idx.starts[c.ByteRanges[0].Offset] = c.Key
	}
}

// walkMetadata runs every strategy Probe finds. Deleted entries become
// candidates and live entries become claims used for the overwrite-risk
// check. Candidates are scored once all strategies are done, also after a
// cancellation, so none is left unscored.
func (r *scanRun) walkMetadata(ctx context.Context, depth metadata.Depth, phase *progress.Phase) (*metadataIndex, error) {
	idx := newMetadataIndex()

	strategies, err := metadata.Probe(ctx, r.reader, r.reader.SectorSize())
	if err != nil {
		return idx, err
	}

	var walkErr error
	for i, s := range strategies {
		if s.Kind == metadata.KindNone {
			r.sess.AddWarning("no recognizable filesystem metadata on the volume")
			r.log.Info().Msg("no filesystem metadata found")
			continue
		}
		log := r.log.With().Str("strategy", s.Name()).Uint64("offset", s.Base).Logger()
		log.Info().Str("filesystem", s.FileSystem.String()).Str("depth", depth.String()).Msg("walking metadata")

		span := 1 / float64(len(strategies))
		message := fmt.Sprintf("reading %s metadata", s.FileSystem)

		for entry, err := range s.Entries(ctx, depth) {
			if err != nil {
				var malformed *types.MalformedError
				if errors.As(err, &malformed) {
					r.sess.RecordMalformed(s.Name())
					r.opts.Metrics.RecordMalformed(s.Name())
					log.Debug().Str("entry", malformed.Entry).Str("reason", malformed.Reason).Msg("skipped malformed entry")
					continue
				}
				walkErr = err
				break
			}
			phase.Update((float64(i)+entry.Progress)*span, message)

			if !entry.Deleted {
				idx.live = append(idx.live, entry.Extents...)
				continue
			}
			if len(entry.Extents) == 0 {
				log.Debug().Str("entry", entry.ID).Str("name", entry.Name).Msg("deleted entry has no data")
				continue
			}

			c := r.metadataCandidate(ctx, s, entry)
			inserted, err := r.sess.Insert(c)
			if err != nil {
				// extents that fail validation make the entry malformed
				r.sess.RecordMalformed(s.Name())
				r.opts.Metrics.RecordMalformed(s.Name())
				log.Debug().Err(err).Str("key", c.Key).Msg("rejected candidate")
				continue
			}
			if inserted {
				idx.add(c)
				r.opts.Metrics.RecordCandidate(c.Evidence.String(), c.FileType.Tag())
			}
		}
		if walkErr != nil {
			break
		}
		log.Info().Int("candidates", len(idx.keys)).Msg("metadata walk finished")
	}

	if err := r.scoreMetadata(idx); err != nil {
		return idx, err
	}
	if walkErr == nil {
		phase.Done("metadata walk finished")
	}
	return idx, walkErr
}

// scoreMetadata marks candidates that overlap live files and scores them
func (r *scanRun) scoreMetadata(idx *metadataIndex) error {
	live := types.NewRangeSet(idx.live)
	for _, key := range idx.keys {
		err := r.sess.Update(key, func(c *types.CandidateFile) error {
			for _, br := range c.ByteRanges {
				if live.Overlaps(br) {
					c.OverlapsLive = true
					break
				}
			}
			return scoring.Apply(c)
		})
		if err != nil {
			return fmt.Errorf("failed to score %s: %w", key, err)
		}
	}
	return nil
}

// candidateKey builds the stable key of a metadata entry. Filesystems found
// through a partition table carry the slot so keys stay unique per volume.
func candidateKey(s *metadata.Strategy, id string) string {
	if s.Partition >= 0 {
		return fmt.Sprintf("%s:p%d:%s", s.Name(), s.Partition, id)
	}
	return s.Name() + ":" + id
}

func (r *scanRun) metadataCandidate(ctx context.Context, s *metadata.Strategy, entry types.RawEntry) *types.CandidateFile {
	ranges := types.CoalesceAdjacent(entry.Extents)
	c := &types.CandidateFile{
		Key: candidateKey(s, entry.ID),
		Identity: types.Identity{
			Name: entry.Name,
			Path: entry.Path,
		},
		ByteRanges:      ranges,
		DeclaredSize:    entry.DeclaredSize,
		HasDeclaredSize: entry.HasSize,
		FileType:        types.ClassifyName(entry.Name),
		Timestamps:      entry.Timestamps,
		Evidence:        types.EvidenceMetadataWalk,
		Strategy:        s.Name(),
		Status:          types.StatusDiscovered,
		Compressed:      entry.Compressed,
		Encrypted:       entry.Encrypted,
	}
	if c.Identity.Name == "" {
		c.Identity.Name = fmt.Sprintf("%s_%s", s.Name(), entry.ID)
		c.Identity.Synthesized = true
	}
	if c.FileType == types.FileTypeUnknown && !entry.Encrypted && !entry.Compressed {
		c.FileType = r.sniff(ctx, ranges[0])
	}
	return c
}

// sniff classifies a file by its first bytes
func (r *scanRun) sniff(ctx context.Context, first types.ByteRange) types.FileType {
	n := min(first.Length, sniffBytes)
	if n == 0 || first.End() > r.reader.Capacity() {
		return types.FileTypeUnknown
	}
	head, err := r.reader.ReadAt(ctx, first.Offset, uint32(n))
	if err != nil {
		return types.FileTypeUnknown
	}
	return types.ClassifyMIME(mimetype.Detect(head).String())
}
