package extraction

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/device"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

func TestCandidateReader(t *testing.T) {
	data := pattern()
	ranges := []types.ByteRange{{Offset: 8192, Length: 700}, {Offset: 1024, Length: 300}, {Offset: 20000, Length: 24}}
	c := &types.CandidateFile{Key: "k", ByteRanges: ranges}
	r := NewCandidateReader(context.Background(), newReader(device.NewMemoryVolume(data)), c)
	want := expected(data, ranges...)

	assert.Equal(t, int64(1024), r.Size())

	t.Run("read all", func(t *testing.T) {
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("read across ranges", func(t *testing.T) {
		buf := make([]byte, 200)
		n, err := r.ReadAt(buf, 600)
		require.NoError(t, err)
		assert.Equal(t, 200, n)
		assert.Equal(t, want[600:800], buf)
	})

	t.Run("short read at end", func(t *testing.T) {
		buf := make([]byte, 100)
		n, err := r.ReadAt(buf, 1000)
		assert.Equal(t, io.EOF, err)
		assert.Equal(t, 24, n)
		assert.Equal(t, want[1000:], buf[:n])
	})

	t.Run("seek", func(t *testing.T) {
		pos, err := r.Seek(-24, io.SeekEnd)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), pos)
		rest, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, want[1000:], rest)

		_, err = r.Seek(-1, io.SeekStart)
		assert.Error(t, err)
	})
}

func TestCandidateReaderUnreadable(t *testing.T) {
	vol := device.NewMemoryVolume(pattern())
	vol.MarkBad(4096, 512)
	c := &types.CandidateFile{Key: "k", ByteRanges: []types.ByteRange{{Offset: 3584, Length: 1024}}}
	r := NewCandidateReader(context.Background(), newReader(vol), c)

	_, err := io.ReadAll(r)
	assert.ErrorIs(t, err, types.ErrRangeUnreadable)
}
