package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

func TestOpenImage(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	vol, err := OpenImage(path, 0)
	require.NoError(t, err)
	defer vol.Close()

	assert.Equal(t, uint64(4096), vol.CapacityBytes())
	assert.Equal(t, uint32(DefaultSectorSize), vol.SectorSize())
	assert.Equal(t, "image", vol.DeviceType())
	assert.Equal(t, path, vol.DevicePath())

	got, err := vol.ReadAt(1000, 16)
	require.NoError(t, err)
	assert.Equal(t, data[1000:1016], got)

	got, err = vol.ReadAt(4096-8, 8)
	require.NoError(t, err)
	assert.Equal(t, data[4088:], got)

	_, err = vol.ReadAt(4090, 16)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRangeUnreadable))

	assert.Equal(t, int64(3), vol.Statistics().Reads())
	assert.Equal(t, int64(24), vol.Statistics().BytesRead())
	assert.Equal(t, int64(1), vol.Statistics().ReadErrors())
}

func TestOpenImage_Errors(t *testing.T) {
	_, err := OpenImage("", 512)
	assert.Error(t, err)

	_, err = OpenImage(filepath.Join(t.TempDir(), "missing.img"), 512)
	assert.Error(t, err)

	_, err = OpenImage(t.TempDir(), 512)
	assert.Error(t, err)
}

func TestMemoryVolume_BadSectors(t *testing.T) {
	vol := NewMemoryVolume(make([]byte, 8192))
	vol.MarkBad(1024, 1)

	tests := []struct {
		name    string
		offset  uint64
		length  uint32
		wantErr bool
	}{
		{"before bad sector", 0, 1024, false},
		{"bad sector", 1024, 512, true},
		{"spanning bad sector", 1000, 100, true},
		{"after bad sector", 1536, 512, false},
		{"past end", 8000, 512, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := vol.ReadAt(tt.offset, tt.length)
			if tt.wantErr {
				require.Error(t, err)
				var ioErr *types.IOError
				assert.True(t, errors.As(err, &ioErr))
				return
			}
			require.NoError(t, err)
			assert.Len(t, data, int(tt.length))
		})
	}
}

func TestWindow(t *testing.T) {
	data := make([]byte, 4096)
	data[2048] = 0xAB
	parent := NewMemoryVolume(data)

	w, err := NewWindow(parent, 2048, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), w.CapacityBytes())
	assert.Equal(t, uint64(2048), w.Base())

	got, err := w.ReadAt(0, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), got[0])

	_, err = w.ReadAt(2040, 16)
	assert.Error(t, err)

	_, err = NewWindow(parent, 5000, 1)
	assert.Error(t, err)
}
