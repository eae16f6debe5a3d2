package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a.txt", "a.txt"},
		{"/carved/x.jpg", "carved/x.jpg"},
		{"../../etc/passwd", "etc/passwd"},
		{"dir//sub/./f", "dir/sub/f"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize(tt.in))
		})
	}
}

func TestMemorySink(t *testing.T) {
	s := NewMemorySink()

	h, err := s.Create("docs/report.txt", 11)
	require.NoError(t, err)
	require.NoError(t, h.Append([]byte("hello ")))
	require.NoError(t, h.Append([]byte("world")))
	require.NoError(t, h.Close())

	data, err := util.ReadFile(s.Filesystem(), "docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "memory:/docs/report.txt", s.Location("docs/report.txt"))

	_, err = s.Create("/docs/report.txt", 1)
	assert.ErrorIs(t, err, types.ErrNameCollision)
}

func TestMemorySinkRemove(t *testing.T) {
	s := NewMemorySink()

	h, err := s.Create("carved/half.jpg", 100)
	require.NoError(t, err)
	require.NoError(t, h.Append([]byte("partial")))
	require.NoError(t, h.Close())

	require.NoError(t, s.Remove("/carved/half.jpg"))
	_, err = s.Filesystem().Stat("carved/half.jpg")
	assert.ErrorIs(t, err, os.ErrNotExist)

	// the name is free again and removing twice is fine
	assert.NoError(t, s.Remove("carved/half.jpg"))
	h, err = s.Create("carved/half.jpg", 1)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestDirectorySink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewDirectorySink(dir)
	require.NoError(t, err)

	h, err := s.Create("carved/carved_4096.jpg", 3)
	require.NoError(t, err)
	require.NoError(t, h.Append([]byte{1, 2, 3}))
	require.NoError(t, h.Close())

	loc := s.Location("carved/carved_4096.jpg")
	assert.Equal(t, filepath.Join(dir, "carved", "carved_4096.jpg"), loc)
	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = s.Create("carved/carved_4096.jpg", 3)
	assert.ErrorIs(t, err, types.ErrNameCollision)
}

func TestQuotaExceeded(t *testing.T) {
	s := NewMemorySink()
	s.freeSpace = func() (uint64, error) { return 100, nil }

	_, err := s.Create("big.bin", 101)
	assert.ErrorIs(t, err, types.ErrQuotaExceeded)

	h, err := s.Create("small.bin", 100)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}
