// File: internal/interfaces/block_device.go
package interfaces

import "context"

// VolumeHandle is a read-only, randomly addressable byte source of known capacity.
// Implementations must be safe for concurrent readers.
type VolumeHandle interface {
	// CapacityBytes returns the total addressable size of the volume
	CapacityBytes() uint64

	// ReadAt reads length bytes at offset. Unreadable sectors yield a *types.IOError.
	ReadAt(offset uint64, length uint32) ([]byte, error)
}

// VolumeInfo provides descriptive information about a volume source
type VolumeInfo interface {
	// DevicePath returns the path the volume was opened from
	DevicePath() string

	// DeviceType returns "image", "device" or "memory"
	DeviceType() string

	// SectorSize returns the logical sector size in bytes
	SectorSize() uint32
}

// MetadataSource is the cached, context-aware view of a volume used by
// filesystem parsers
type MetadataSource interface {
	// Capacity returns the volume size in bytes
	Capacity() uint64

	// ReadCached reads length bytes at offset through a block cache
	ReadCached(ctx context.Context, offset uint64, length uint32) ([]byte, error)
}
