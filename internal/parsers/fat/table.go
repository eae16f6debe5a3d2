package fat

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// Volume gives access to the structures of one FAT volume. All offsets it
// returns are absolute offsets of the underlying source.
type Volume struct {
	src  interfaces.MetadataSource
	base uint64
	Boot *BootSector

	bytesPerSector uint64
	clusterSize    uint64
	fatOffset      uint64
	rootDirOffset  uint64
	rootDirSize    uint64
	dataOffset     uint64
	end            uint64
}

// Open reads and validates the boot sector at base
func Open(ctx context.Context, src interfaces.MetadataSource, base uint64) (*Volume, error) {
	data, err := src.ReadCached(ctx, base, bootSectorSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read boot sector: %w", err)
	}
	bs, err := ParseBootSector(data)
	if err != nil {
		return nil, err
	}

	bps := uint64(bs.BPB.BytesPerSector)
	v := &Volume{
		src:            src,
		base:           base,
		Boot:           bs,
		bytesPerSector: bps,
		clusterSize:    bs.BytesPerCluster(),
		fatOffset:      base + uint64(bs.BPB.ReservedSectors)*bps,
		dataOffset:     base + uint64(bs.FirstDataSector)*bps,
		end:            min(base+bs.VolumeSize(), src.Capacity()),
	}
	v.rootDirOffset = v.fatOffset + uint64(bs.BPB.NumFATs)*uint64(bs.FATSize)*bps
	v.rootDirSize = uint64(bs.RootDirSectors) * bps

	if v.dataOffset >= v.end {
		return nil, fmt.Errorf("data region at %d lies beyond the readable volume", v.dataOffset)
	}
	return v, nil
}

// Type returns FAT12, FAT16 or FAT32
func (v *Volume) Type() types.FileSystemType {
	return v.Boot.Type
}

// ClusterSize returns the cluster size in bytes
func (v *Volume) ClusterSize() uint64 {
	return v.clusterSize
}

// ValidCluster reports whether c addresses the data region
func (v *Volume) ValidCluster(c uint32) bool {
	return c >= 2 && c-2 < v.Boot.ClusterCount
}

// ClusterOffset returns the absolute offset of cluster c
func (v *Volume) ClusterOffset(c uint32) uint64 {
	return v.dataOffset + uint64(c-2)*v.clusterSize
}

// End returns the absolute offset past the readable part of the volume
func (v *Volume) End() uint64 {
	return v.end
}

func (v *Volume) endOfChain(value uint32) bool {
	switch v.Boot.Type {
	case types.FileSystemFAT12:
		return value >= 0xFF8
	case types.FileSystemFAT16:
		return value >= 0xFFF8
	default:
		return value >= 0x0FFFFFF8
	}
}

// Next returns the FAT entry of cluster c from the first FAT
func (v *Volume) Next(ctx context.Context, c uint32) (uint32, error) {
	switch v.Boot.Type {
	case types.FileSystemFAT12:
		off := uint64(c) + uint64(c)/2
		b, err := v.src.ReadCached(ctx, v.fatOffset+off, 2)
		if err != nil {
			return 0, err
		}
		val := binary.LittleEndian.Uint16(b)
		if c&1 == 1 {
			return uint32(val >> 4), nil
		}
		return uint32(val & 0x0FFF), nil
	case types.FileSystemFAT16:
		b, err := v.src.ReadCached(ctx, v.fatOffset+uint64(c)*2, 2)
		if err != nil {
			return 0, err
		}
		return uint32(binary.LittleEndian.Uint16(b)), nil
	default:
		b, err := v.src.ReadCached(ctx, v.fatOffset+uint64(c)*4, 4)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(b) & 0x0FFFFFFF, nil
	}
}

// Chain follows the cluster chain starting at first. It stops after limit
// clusters and fails on free, bad, out-of-range or looping links.
func (v *Volume) Chain(ctx context.Context, first uint32, limit int) ([]uint32, error) {
	if !v.ValidCluster(first) {
		return nil, fmt.Errorf("first cluster %d out of range", first)
	}

	chain := []uint32{first}
	seen := map[uint32]struct{}{first: {}}
	for c := first; len(chain) < limit; {
		next, err := v.Next(ctx, c)
		if err != nil {
			return chain, fmt.Errorf("failed to read FAT entry %d: %w", c, err)
		}
		if v.endOfChain(next) {
			return chain, nil
		}
		if !v.ValidCluster(next) {
			return chain, fmt.Errorf("cluster %d links to invalid cluster %#x", c, next)
		}
		if _, loop := seen[next]; loop {
			return chain, fmt.Errorf("cluster chain loops at %d", next)
		}
		seen[next] = struct{}{}
		chain = append(chain, next)
		c = next
	}
	return chain, nil
}

// ChainRanges converts a cluster chain into coalesced absolute byte ranges
func (v *Volume) ChainRanges(chain []uint32) []types.ByteRange {
	ranges := make([]types.ByteRange, 0, len(chain))
	for _, c := range chain {
		ranges = append(ranges, types.ByteRange{Offset: v.ClusterOffset(c), Length: v.clusterSize})
	}
	return types.CoalesceAdjacent(ranges)
}
