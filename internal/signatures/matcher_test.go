package signatures

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

func kinds(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Format.ID + ":" + m.Kind.String()
	}
	return out
}

func TestMatcher_Lookahead(t *testing.T) {
	m := NewMatcher(nil)
	assert.Equal(t, 32, m.Lookahead())
	f, ok := m.Format("jpeg")
	require.True(t, ok)
	assert.Equal(t, types.FileTypePhoto, f.FileType)
}

func TestMatcher_JPEG(t *testing.T) {
	window := make([]byte, 2048)
	copy(window[100:], []byte{0xFF, 0xD8, 0xFF, 0xE0})
	copy(window[598:], []byte{0xFF, 0xD9})

	matches := NewMatcher(nil).Match(window, 4096)
	require.Equal(t, []string{"jpeg:header", "jpeg:footer"}, kinds(matches))

	assert.Equal(t, uint64(4196), matches[0].Offset)
	assert.Equal(t, uint64(4694), matches[1].Offset)
	assert.Equal(t, uint64(4696), matches[1].End)
}

func TestMatcher_SelfDelimited(t *testing.T) {
	tests := []struct {
		name     string
		build    func() []byte
		id       string
		expected uint64
	}{
		{
			name: "wav",
			build: func() []byte {
				b := make([]byte, 44)
				copy(b, "RIFF")
				binary.LittleEndian.PutUint32(b[4:], 1000)
				copy(b[8:], "WAVE")
				return b
			},
			id:       "wav",
			expected: 1008,
		},
		{
			name: "avi",
			build: func() []byte {
				b := make([]byte, 44)
				copy(b, "RIFF")
				binary.LittleEndian.PutUint32(b[4:], 4092)
				copy(b[8:], "AVI ")
				return b
			},
			id:       "avi",
			expected: 4100,
		},
		{
			name: "aiff",
			build: func() []byte {
				b := make([]byte, 44)
				copy(b, "FORM")
				binary.BigEndian.PutUint32(b[4:], 992)
				copy(b[8:], "AIFF")
				return b
			},
			id:       "aiff",
			expected: 1000,
		},
		{
			name: "bmp",
			build: func() []byte {
				b := make([]byte, 64)
				copy(b, "BM")
				binary.LittleEndian.PutUint32(b[2:], 2054)
				binary.LittleEndian.PutUint32(b[10:], 54)
				binary.LittleEndian.PutUint32(b[14:], 40)
				return b
			},
			id:       "bmp",
			expected: 2054,
		},
		{
			name: "7z",
			build: func() []byte {
				b := make([]byte, 64)
				copy(b, []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C, 0, 4})
				binary.LittleEndian.PutUint64(b[12:], 900)
				binary.LittleEndian.PutUint64(b[20:], 68)
				return b
			},
			id:       "7z",
			expected: 1000,
		},
		{
			name: "sqlite",
			build: func() []byte {
				b := make([]byte, 100)
				copy(b, "SQLite format 3\x00")
				binary.BigEndian.PutUint16(b[16:], 4096)
				binary.BigEndian.PutUint32(b[28:], 3)
				return b
			},
			id:       "sqlite",
			expected: 12288,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := make([]byte, 512)
			copy(window[64:], tt.build())

			matches := NewMatcher(nil).Match(window, 0)
			require.Len(t, matches, 1)
			assert.Equal(t, tt.id, matches[0].Format.ID)
			assert.Equal(t, KindSelfDelimited, matches[0].Kind)
			assert.Equal(t, uint64(64), matches[0].Offset)
			assert.Equal(t, tt.expected, matches[0].Size)
		})
	}
}

func TestMatcher_RejectsImplausibleHeaders(t *testing.T) {
	window := make([]byte, 256)
	// BMP with an unknown DIB header size
	copy(window[0:], "BM")
	binary.LittleEndian.PutUint32(window[2:], 2000)
	binary.LittleEndian.PutUint32(window[14:], 7)
	// SQLite with zero pages
	copy(window[64:], "SQLite format 3\x00")
	binary.BigEndian.PutUint16(window[80:], 4096)

	assert.Empty(t, NewMatcher(nil).Match(window, 0))
}

func TestMatcher_TruncatedAtWindowEnd(t *testing.T) {
	window := make([]byte, 64)
	copy(window[56:], "RIFF")

	assert.Empty(t, NewMatcher(nil).Match(window, 0))
}

func TestMatcher_ZipFooterComment(t *testing.T) {
	window := make([]byte, 256)
	copy(window, []byte{'P', 'K', 3, 4})
	copy(window[100:], []byte{'P', 'K', 5, 6})
	binary.LittleEndian.PutUint16(window[120:], 10)

	matches := NewMatcher(nil).Match(window, 0)
	require.Equal(t, []string{"zip:header", "zip:footer"}, kinds(matches))
	assert.Equal(t, uint64(132), matches[1].End)
}

func TestMatchPartitions(t *testing.T) {
	window := make([]byte, 4096)
	// MBR in sector 0
	window[510], window[511] = 0x55, 0xAA
	// NTFS boot sector in sector 2
	copy(window[1024+3:], "NTFS    ")
	window[1024+510], window[1024+511] = 0x55, 0xAA
	// GPT header in sector 4
	copy(window[2048:], "EFI PART")
	// misaligned NTFS string is ignored
	copy(window[3000:], "NTFS    ")

	matches := MatchPartitions(window, 0, 512)
	assert.Equal(t, []PartitionMatch{
		{Kind: StructureMBR, Offset: 0},
		{Kind: StructureNTFS, Offset: 1024},
		{Kind: StructureGPT, Offset: 2048},
	}, matches)

	// a window starting mid-sector realigns to volume sectors
	shifted := MatchPartitions(window[100:], 100, 512)
	assert.Equal(t, []PartitionMatch{
		{Kind: StructureNTFS, Offset: 1024},
		{Kind: StructureGPT, Offset: 2048},
	}, shifted)
}
