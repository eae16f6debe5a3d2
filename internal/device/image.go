package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// DefaultSectorSize is used when the caller does not specify one
const DefaultSectorSize = 512

// ImageVolume provides read-only access to a disk image or block device
type ImageVolume struct {
	path       string
	file       *os.File
	size       uint64
	sectorSize uint32
	isDevice   bool
	stats      *ImageStatistics
}

// ImageStatistics tracks access statistics of an image
type ImageStatistics struct {
	reads      atomic.Int64
	bytesRead  atomic.Int64
	readErrors atomic.Int64
}

// Reads returns the number of ReadAt calls
func (s *ImageStatistics) Reads() int64 { return s.reads.Load() }

// BytesRead returns the number of bytes returned to callers
func (s *ImageStatistics) BytesRead() int64 { return s.bytesRead.Load() }

// ReadErrors returns the number of failed reads
func (s *ImageStatistics) ReadErrors() int64 { return s.readErrors.Load() }

// OpenImage opens a disk image file or block device read-only
func OpenImage(path string, sectorSize uint32) (*ImageVolume, error) {
	if path == "" {
		return nil, fmt.Errorf("image path cannot be empty")
	}
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}

	vol := &ImageVolume{
		path:       path,
		file:       file,
		sectorSize: sectorSize,
		stats:      &ImageStatistics{},
	}

	if stat.Mode()&os.ModeDevice != 0 {
		vol.isDevice = true
		size, err := deviceSize(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to determine device size: %w", err)
		}
		vol.size = size
	} else {
		if !stat.Mode().IsRegular() {
			file.Close()
			return nil, fmt.Errorf("%s is neither a regular file nor a device", path)
		}
		vol.size = uint64(stat.Size())
	}

	return vol, nil
}

// CapacityBytes returns the size of the image
func (v *ImageVolume) CapacityBytes() uint64 {
	return v.size
}

// ReadAt reads length bytes at offset
func (v *ImageVolume) ReadAt(offset uint64, length uint32) ([]byte, error) {
	v.stats.reads.Add(1)
	if offset+uint64(length) > v.size || offset+uint64(length) < offset {
		v.stats.readErrors.Add(1)
		return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: io.ErrUnexpectedEOF}
	}

	buf := make([]byte, length)
	n, err := v.file.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && n == int(length)) {
		v.stats.readErrors.Add(1)
		return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: err}
	}

	v.stats.bytesRead.Add(int64(n))
	return buf, nil
}

// DevicePath returns the path the image was opened from
func (v *ImageVolume) DevicePath() string {
	return v.path
}

// DeviceType returns "device" for block devices and "image" otherwise
func (v *ImageVolume) DeviceType() string {
	if v.isDevice {
		return "device"
	}
	return "image"
}

// SectorSize returns the logical sector size
func (v *ImageVolume) SectorSize() uint32 {
	return v.sectorSize
}

// Statistics returns the access statistics
func (v *ImageVolume) Statistics() *ImageStatistics {
	return v.stats
}

// Close closes the image file
func (v *ImageVolume) Close() error {
	if v.file != nil {
		return v.file.Close()
	}
	return nil
}
