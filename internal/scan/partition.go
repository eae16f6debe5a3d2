package scan

import (
	"context"

	"github.com/deploymenttheory/go-recovery/internal/parsers/partition"
	"github.com/deploymenttheory/go-recovery/internal/progress"
	"github.com/deploymenttheory/go-recovery/internal/signatures"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// locatePartitions scans every sector for partition tables and boot
// sectors and records the candidate volumes they describe. Volumes found
// before a cancellation are kept.
func (r *scanRun) locatePartitions(ctx context.Context, phase *progress.Phase) error {
	capacity := r.reader.Capacity()
	ss := r.reader.SectorSize()
	locator := partition.NewLocator(capacity)

	whole := []types.ByteRange{{Offset: 0, Length: capacity}}
	err := scanWindows(ctx, r, whole, signatures.PartitionLookahead(), phase, "searching for partitions",
		func(data []byte, base uint64) []signatures.PartitionMatch {
			return signatures.MatchPartitions(data, base, ss)
		},
		func(m signatures.PartitionMatch) uint64 { return m.Offset },
		func(_ window, found []signatures.PartitionMatch) error {
			for _, m := range found {
				err := locator.Inspect(ctx, r.reader, m, ss)
				switch {
				case err == nil:
					r.log.Debug().Str("structure", string(m.Kind)).Uint64("offset", m.Offset).Msg("found partition structure")
				case isContextErr(err):
					return err
				case partition.IsNotFound(err):
				default:
					r.log.Debug().Err(err).Msg("rejected partition structure")
				}
			}
			return nil
		},
	)

	for _, t := range locator.Tables() {
		for _, w := range t.Warnings {
			r.sess.AddWarning("%s table at %d: %s", t.Scheme, t.Offset, w)
		}
	}
	for _, v := range locator.Volumes() {
		if addErr := r.sess.AddVolume(v); addErr != nil {
			return addErr
		}
		r.log.Info().Str("key", v.Key).Uint64("offset", v.Offset).Uint64("size", v.Size).
			Str("filesystem", v.FileSystem.String()).Float64("confidence", v.Confidence).Msg("candidate volume")
	}
	if err == nil {
		phase.Done("partition search finished")
	}
	return err
}
