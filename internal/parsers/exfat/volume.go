package exfat

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	clusterBad  = 0xFFFFFFF7
	clusterLast = 0xFFFFFFFF
)

// Volume gives access to the structures of one exFAT volume. Offsets it
// returns are absolute offsets of the underlying source.
type Volume struct {
	src  interfaces.MetadataSource
	base uint64
	Boot *BootSectorHeader

	clusterSize uint64
	fatOffset   uint64
	heapOffset  uint64
	end         uint64
}

// Open reads and validates the boot sector at base
func Open(ctx context.Context, src interfaces.MetadataSource, base uint64) (*Volume, error) {
	data, err := src.ReadCached(ctx, base, bootSectorSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read boot sector: %w", err)
	}
	bsh, err := ParseBootSector(data)
	if err != nil {
		return nil, err
	}

	ss := bsh.SectorSize()
	v := &Volume{
		src:         src,
		base:        base,
		Boot:        bsh,
		clusterSize: bsh.ClusterSize(),
		fatOffset:   base + uint64(bsh.FatOffset)*ss,
		heapOffset:  base + uint64(bsh.ClusterHeapOffset)*ss,
		end:         min(base+bsh.VolumeSize(), src.Capacity()),
	}
	if bsh.VolumeFlags.UseSecondFat() && bsh.NumberOfFats == 2 {
		v.fatOffset += uint64(bsh.FatLength) * ss
	}
	if v.heapOffset >= v.end {
		return nil, fmt.Errorf("cluster heap at %d lies beyond the readable volume", v.heapOffset)
	}
	return v, nil
}

// ClusterSize returns the cluster size in bytes
func (v *Volume) ClusterSize() uint64 {
	return v.clusterSize
}

// End returns the absolute offset past the readable part of the volume
func (v *Volume) End() uint64 {
	return v.end
}

// ValidCluster reports whether c addresses the cluster heap
func (v *Volume) ValidCluster(c uint32) bool {
	return c >= 2 && c-2 < v.Boot.ClusterCount
}

// ClusterOffset returns the absolute offset of cluster c
func (v *Volume) ClusterOffset(c uint32) uint64 {
	return v.heapOffset + uint64(c-2)*v.clusterSize
}

// Next returns the FAT entry of cluster c from the active FAT
func (v *Volume) Next(ctx context.Context, c uint32) (uint32, error) {
	b, err := v.src.ReadCached(ctx, v.fatOffset+uint64(c)*4, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Chain follows the FAT from first for at most limit clusters
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
		switch {
		case next == clusterLast:
			return chain, nil
		case next == clusterBad:
			return chain, fmt.Errorf("cluster %d links to a bad cluster", c)
		case !v.ValidCluster(next):
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

// contiguous returns the clusters of an allocation that bypasses the FAT
func (v *Volume) contiguous(first uint32, size uint64) ([]uint32, error) {
	if !v.ValidCluster(first) {
		return nil, fmt.Errorf("first cluster %d out of range", first)
	}
	n := (size + v.clusterSize - 1) / v.clusterSize
	if n == 0 {
		n = 1
	}
	if uint64(first-2)+n > uint64(v.Boot.ClusterCount) {
		return nil, fmt.Errorf("%d clusters from %d run past the cluster heap", n, first)
	}
	chain := make([]uint32, n)
	for i := range chain {
		chain[i] = first + uint32(i)
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
