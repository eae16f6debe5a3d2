package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/parsers/exfat"
	"github.com/deploymenttheory/go-recovery/internal/parsers/fat"
	"github.com/deploymenttheory/go-recovery/internal/parsers/ntfs"
	"github.com/deploymenttheory/go-recovery/internal/parsers/partition"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// Open identifies the filesystem whose boot sector is at base
func Open(ctx context.Context, src interfaces.MetadataSource, base uint64) (*Strategy, error) {
	nv, ntfsErr := ntfs.Open(ctx, src, base)
	if ntfsErr == nil {
		return &Strategy{
			Kind:       KindNTFS,
			FileSystem: types.FileSystemNTFS,
			Base:       base,
			Size:       nv.Boot.VolumeSize(),
			Partition:  -1,
			ntfs:       nv,
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	xv, exfatErr := exfat.Open(ctx, src, base)
	if exfatErr == nil {
		return &Strategy{
			Kind:       KindExFAT,
			FileSystem: types.FileSystemExFAT,
			Base:       base,
			Size:       xv.Boot.VolumeSize(),
			Partition:  -1,
			exfat:      xv,
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fv, fatErr := fat.Open(ctx, src, base)
	if fatErr == nil {
		return &Strategy{
			Kind:       KindFAT,
			FileSystem: fv.Type(),
			Base:       base,
			Size:       fv.Boot.VolumeSize(),
			Partition:  -1,
			fat:        fv,
		}, nil
	}

	return nil, fmt.Errorf("no filesystem at offset %d: %w", base, errors.Join(
		fmt.Errorf("ntfs: %w", ntfsErr),
		fmt.Errorf("exfat: %w", exfatErr),
		fmt.Errorf("fat: %w", fatErr),
	))
}

// Probe finds the filesystems of a volume. A filesystem starting at offset 0
// is used alone; otherwise every partition of an MBR or GPT table is tried.
// A volume where nothing is recognized gets the generic strategy. Only a
// cancelled context is returned as an error.
func Probe(ctx context.Context, src interfaces.MetadataSource, sectorSize uint32) ([]*Strategy, error) {
	s, err := Open(ctx, src, 0)
	if err == nil {
		return []*Strategy{s}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var out []*Strategy
	for _, e := range partitionEntries(ctx, src, sectorSize) {
		s, err := Open(ctx, src, e.Offset)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		s.Partition = e.Index
		if e.Size > 0 {
			s.Size = min(s.Size, e.Size)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return []*Strategy{None()}, nil
	}
	return out, nil
}

// partitionEntries reads the MBR at the start of the volume, falling back to
// the primary and then the backup GPT header
func partitionEntries(ctx context.Context, src interfaces.MetadataSource, sectorSize uint32) []partition.Entry {
	if t, err := partition.ReadMBR(ctx, src, 0, sectorSize); err == nil {
		return t.Entries
	}
	ss := uint64(sectorSize)
	if t, err := partition.ReadGPT(ctx, src, ss, sectorSize); err == nil {
		return t.Entries
	}
	if capacity := src.Capacity(); capacity >= 2*ss {
		if t, err := partition.ReadGPT(ctx, src, (capacity/ss-1)*ss, sectorSize); err == nil {
			return t.Entries
		}
	}
	return nil
}
