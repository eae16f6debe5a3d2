package device

import (
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// Window exposes a sub-range of a parent volume, such as one partition of a disk image
type Window struct {
	parent interfaces.VolumeHandle
	offset uint64
	size   uint64
}

// NewWindow creates a view of size bytes of parent starting at offset
func NewWindow(parent interfaces.VolumeHandle, offset, size uint64) (*Window, error) {
	capacity := parent.CapacityBytes()
	if offset > capacity {
		return nil, fmt.Errorf("window offset %d is beyond volume capacity %d", offset, capacity)
	}
	if size > capacity-offset {
		size = capacity - offset
	}
	return &Window{parent: parent, offset: offset, size: size}, nil
}

// Base returns the offset of the window within its parent
func (w *Window) Base() uint64 {
	return w.offset
}

// CapacityBytes returns the window size
func (w *Window) CapacityBytes() uint64 {
	return w.size
}

// ReadAt reads relative to the start of the window
func (w *Window) ReadAt(offset uint64, length uint32) ([]byte, error) {
	if offset+uint64(length) > w.size {
		return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: fmt.Errorf("read past end of window")}
	}
	data, err := w.parent.ReadAt(w.offset+offset, length)
	if err != nil {
		return nil, fmt.Errorf("window at %d: %w", w.offset, err)
	}
	return data, nil
}
