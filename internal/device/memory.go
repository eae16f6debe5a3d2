package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

var errBadSector = errors.New("bad sector")

// seekSize determines a file's size by seeking to its end
func seekSize(file *os.File) (uint64, error) {
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek failed: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek failed: %w", err)
	}
	return uint64(end), nil
}

// MemoryVolume is an in-memory volume that can simulate unreadable sectors
type MemoryVolume struct {
	data       []byte
	sectorSize uint32
	mu         sync.RWMutex
	bad        map[uint64]struct{}
}

// NewMemoryVolume wraps data as a volume. The slice is not copied.
func NewMemoryVolume(data []byte) *MemoryVolume {
	return &MemoryVolume{
		data:       data,
		sectorSize: DefaultSectorSize,
		bad:        make(map[uint64]struct{}),
	}
}

// MarkBad makes every sector touching [offset, offset+length) unreadable
func (v *MemoryVolume) MarkBad(offset, length uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ss := uint64(v.sectorSize)
	for sector := offset / ss; sector*ss < offset+length; sector++ {
		v.bad[sector] = struct{}{}
	}
}

// CapacityBytes returns the size of the buffer
func (v *MemoryVolume) CapacityBytes() uint64 {
	return uint64(len(v.data))
}

// ReadAt returns a copy of the requested bytes, or an IOError when a bad sector is touched
func (v *MemoryVolume) ReadAt(offset uint64, length uint32) ([]byte, error) {
	end := offset + uint64(length)
	if end > uint64(len(v.data)) || end < offset {
		return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: io.ErrUnexpectedEOF}
	}

	v.mu.RLock()
	if len(v.bad) > 0 && length > 0 {
		ss := uint64(v.sectorSize)
		for sector := offset / ss; sector*ss < end; sector++ {
			if _, bad := v.bad[sector]; bad {
				v.mu.RUnlock()
				return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: errBadSector}
			}
		}
	}
	v.mu.RUnlock()

	return append([]byte(nil), v.data[offset:end]...), nil
}

// DevicePath returns a fixed descriptor
func (v *MemoryVolume) DevicePath() string { return "memory" }

// DeviceType returns "memory"
func (v *MemoryVolume) DeviceType() string { return "memory" }

// SectorSize returns the simulated sector size
func (v *MemoryVolume) SectorSize() uint32 { return v.sectorSize }
