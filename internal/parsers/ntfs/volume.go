package ntfs

import (
	"context"
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	recordMFT  = 0
	recordRoot = 5
	// records below this number hold filesystem metadata
	firstUserRecord = 24
)

// Volume gives access to the MFT of one NTFS volume. Offsets it returns are
// absolute offsets of the underlying source.
type Volume struct {
	src  interfaces.MetadataSource
	base uint64
	Boot *BootSector

	clusterSize uint64
	recordSize  uint64
	end         uint64

	// mft lists the absolute byte ranges of the $MFT data in VCN order
	mft         []types.ByteRange
	recordCount uint64
}

// Open reads the boot sector at base and maps the MFT from record 0
func Open(ctx context.Context, src interfaces.MetadataSource, base uint64) (*Volume, error) {
	data, err := src.ReadCached(ctx, base, bootSectorSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read boot sector: %w", err)
	}
	bs, err := ParseBootSector(data)
	if err != nil {
		return nil, err
	}

	v := &Volume{
		src:         src,
		base:        base,
		Boot:        bs,
		clusterSize: bs.ClusterSize(),
		recordSize:  bs.RecordSize(),
		end:         min(base+bs.VolumeSize(), src.Capacity()),
	}

	// record 0 is read from the boot sector location until the runlist is known
	start := base + bs.MFTCluster*v.clusterSize
	v.mft = []types.ByteRange{{Offset: start, Length: v.recordSize}}
	v.recordCount = 1

	mft, err := v.ReadRecord(ctx, recordMFT)
	if err != nil {
		return nil, fmt.Errorf("failed to read $MFT record: %w", err)
	}
	da := mft.Data()
	if da == nil || !da.NonResident {
		return nil, fmt.Errorf("$MFT record has no non-resident data attribute")
	}
	ranges, _, err := v.runRanges(da.Runs, da.DataSize)
	if err != nil {
		return nil, fmt.Errorf("$MFT runlist: %w", err)
	}
	v.mft = ranges
	v.recordCount = types.TotalLength(ranges) / v.recordSize
	return v, nil
}

// RecordCount returns the number of record slots in the MFT
func (v *Volume) RecordCount() uint64 {
	return v.recordCount
}

// RecordSize returns the MFT record size in bytes
func (v *Volume) RecordSize() uint64 {
	return v.recordSize
}

// physical maps a byte position of record n to its absolute offset
func (v *Volume) physical(n, pos uint64) (uint64, error) {
	logical := n*v.recordSize + pos
	var acc uint64
	for _, r := range v.mft {
		if logical < acc+r.Length {
			return r.Offset + (logical - acc), nil
		}
		acc += r.Length
	}
	return 0, fmt.Errorf("record %d lies beyond the MFT", n)
}

// ReadRecord reads record n and applies its fixups
func (v *Volume) ReadRecord(ctx context.Context, n uint64) (*Record, error) {
	if n >= v.recordCount {
		return nil, fmt.Errorf("record %d out of range", n)
	}
	buf := make([]byte, 0, v.recordSize)
	for pos := uint64(0); pos < v.recordSize; pos += fixupStride {
		off, err := v.physical(n, pos)
		if err != nil {
			return nil, err
		}
		chunk, err := v.src.ReadCached(ctx, off, fixupStride)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", n, err)
		}
		buf = append(buf, chunk...)
	}
	return parseRecord(n, buf)
}

// runRanges converts a runlist to absolute ranges trimmed to size. Sparse
// runs are left out and reported.
func (v *Volume) runRanges(runs []Run, size uint64) ([]types.ByteRange, bool, error) {
	var ranges []types.ByteRange
	var sparse bool
	var covered uint64
	for _, r := range runs {
		if covered >= size {
			break
		}
		length := r.Length * v.clusterSize
		if r.Sparse {
			sparse = true
			covered += length
			continue
		}
		off := v.base + uint64(r.LCN)*v.clusterSize
		if off+length > v.end || off+length < off {
			return nil, sparse, fmt.Errorf("run at cluster %d of %d clusters lies past the end of the volume", r.LCN, r.Length)
		}
		take := min(length, size-covered)
		ranges = append(ranges, types.ByteRange{Offset: off, Length: take})
		covered += length
	}
	return types.CoalesceAdjacent(ranges), sparse, nil
}

// residentRanges locates a resident value on disk. The last two bytes of
// every stride hold the update sequence number; their real content lives in
// the update sequence array of the same record.
func (v *Volume) residentRanges(r *Record, a *Attribute) ([]types.ByteRange, error) {
	start := uint64(a.ValueOffset)
	end := start + uint64(len(a.Value))
	usa := uint64(r.Header.UsaOffset)

	var ranges []types.ByteRange
	emit := func(pos, length uint64) error {
		off, err := v.physical(r.Number, pos)
		if err != nil {
			return err
		}
		ranges = append(ranges, types.ByteRange{Offset: off, Length: length})
		return nil
	}

	for pos := start; pos < end; {
		stride := pos / fixupStride
		tail := (stride+1)*fixupStride - 2
		switch {
		case pos < tail:
			n := min(end, tail) - pos
			if err := emit(pos, n); err != nil {
				return nil, err
			}
			pos += n
		default:
			// inside the two fixup bytes of this stride
			k := pos - tail
			n := min(end-pos, 2-k)
			if err := emit(usa+2*(stride+1)+k, n); err != nil {
				return nil, err
			}
			pos += n
		}
	}
	return types.CoalesceAdjacent(ranges), nil
}
