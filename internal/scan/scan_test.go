package scan

import (
	"bytes"
	"context"
	"encoding/binary"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/device"
	"github.com/deploymenttheory/go-recovery/internal/scoring"
	"github.com/deploymenttheory/go-recovery/internal/testutil/exfatimage"
	"github.com/deploymenttheory/go-recovery/internal/testutil/fatimage"
	"github.com/deploymenttheory/go-recovery/internal/testutil/ntfsimage"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

func newReader(vol *device.MemoryVolume) *blockreader.Reader {
	opts := blockreader.DefaultOptions()
	opts.RetryAttempts = 0
	return blockreader.New(vol, opts)
}

func newEngine(data []byte, tweak func(*Options)) *Engine {
	opts := DefaultOptions()
	if tweak != nil {
		tweak(&opts)
	}
	return New(newReader(device.NewMemoryVolume(data)), opts)
}

// jpeg returns a minimal JPEG of n bytes
func jpeg(n int) []byte {
	b := bytes.Repeat([]byte{0x11}, n)
	copy(b, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	copy(b[n-2:], []byte{0xFF, 0xD9})
	return b
}

// wav returns a RIFF/WAVE file of n bytes
func wav(n int) []byte {
	b := make([]byte, n)
	copy(b, "RIFF")
	binary.LittleEndian.PutUint32(b[4:], uint32(n-8))
	copy(b[8:], "WAVE")
	return b
}

type recorder struct {
	mu        sync.Mutex
	pcts      []int
	completed int
	onFirst   func()
}

func (r *recorder) OnProgress(pct int, _ string) {
	r.mu.Lock()
	r.pcts = append(r.pcts, pct)
	first := len(r.pcts) == 1
	r.mu.Unlock()
	if first && r.onFirst != nil {
		r.onFirst()
	}
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
}

func TestScanQuickFindsDeletedFiles(t *testing.T) {
	sizes := []int{100, 200, 300}
	content := func(i int) []byte { return bytes.Repeat([]byte{byte('a' + i)}, sizes[i]) }

	tests := []struct {
		name     string
		strategy string
		build    func() []byte
	}{
		{
			name:     "FAT16",
			strategy: "fat",
			build: func() []byte {
				img := fatimage.NewFAT16()
				img.Root().AddFile("KEEP.TXT", []byte("still here"))
				for i := range sizes {
					img.Delete(img.Root().AddFile(string(rune('A'+i))+".TXT", content(i)))
				}
				return img.Bytes()
			},
		},
		{
			name:     "exFAT",
			strategy: "exfat",
			build: func() []byte {
				img := exfatimage.New()
				img.Root().AddFile("keep.txt", []byte("still here"))
				for i := range sizes {
					img.Delete(img.Root().AddFile(string(rune('a'+i))+".txt", content(i)))
				}
				return img.Bytes()
			},
		},
		{
			name:     "NTFS",
			strategy: "ntfs",
			build: func() []byte {
				img := ntfsimage.New()
				img.AddFile(ntfsimage.RootRef, "keep.txt", []byte("still here"))
				for i := range sizes {
					f := img.AddFile(ntfsimage.RootRef, string(rune('a'+i))+".txt", content(i))
					img.Delete(f.Ref)
				}
				return img.Bytes()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			sess, err := newEngine(tt.build(), nil).Scan(context.Background(), types.ScanQuick, types.FileTypeAllData, rec)
			require.NoError(t, err)

			candidates := sess.Candidates()
			require.Len(t, candidates, 3)
			var got []uint64
			for _, c := range candidates {
				assert.True(t, strings.HasPrefix(c.Key, tt.strategy+":"), c.Key)
				assert.Equal(t, types.EvidenceMetadataWalk, c.Evidence)
				assert.Equal(t, types.StatusScored, c.Status)
				assert.GreaterOrEqual(t, c.Confidence, 0.85)
				assert.False(t, c.OverlapsLive)
				got = append(got, c.Size())
			}
			assert.ElementsMatch(t, []uint64{100, 200, 300}, got)

			counters := sess.Counters()
			assert.Equal(t, 3, counters.Found)
			assert.Equal(t, 3, counters.FoundByMetadata)
			assert.Equal(t, 1, rec.completed)
			assert.Equal(t, 100, rec.pcts[len(rec.pcts)-1])
		})
	}
}

func TestScanRawCarvesJPEG(t *testing.T) {
	data := make([]byte, 10<<20)
	copy(data[4096:], jpeg(500))

	rec := &recorder{}
	sess, err := newEngine(data, nil).Scan(context.Background(), types.ScanRaw, types.FileTypeAllData, rec)
	require.NoError(t, err)

	candidates := sess.Candidates()
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "carve:jpeg:4096", c.Key)
	assert.Equal(t, []types.ByteRange{{Offset: 4096, Length: 500}}, c.ByteRanges)
	assert.Equal(t, types.FileTypePhoto, c.FileType)
	assert.Equal(t, types.EvidenceSignatureCarve, c.Evidence)
	assert.InDelta(t, 0.5, c.Confidence, 1e-9)
	assert.True(t, c.Identity.Synthesized)
	assert.Equal(t, "carved_4096.jpg", c.Identity.Name)

	for i := 1; i < len(rec.pcts); i++ {
		assert.GreaterOrEqual(t, rec.pcts[i], rec.pcts[i-1])
	}
	assert.LessOrEqual(t, len(rec.pcts), 101)
	assert.Equal(t, 100, rec.pcts[len(rec.pcts)-1])
}

func TestScanRawWindowBoundary(t *testing.T) {
	data := make([]byte, 64<<10)
	// header bytes straddle the first window boundary
	copy(data[4094:], jpeg(600))

	sess, err := newEngine(data, func(o *Options) { o.WindowSize = 4096 }).
		Scan(context.Background(), types.ScanRaw, types.FileTypeAllData, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"carve:jpeg:4094"}, sess.Keys())

	c, ok := sess.Get("carve:jpeg:4094")
	require.True(t, ok)
	assert.Equal(t, uint64(600), c.Size())
}

func TestScanRawSelfDelimited(t *testing.T) {
	data := make([]byte, 1<<20)
	w := wav(1008)
	// a picture embedded in the audio samples is part of the WAV
	copy(w[100:], jpeg(400))
	copy(data[8192:], w)

	sess, err := newEngine(data, nil).Scan(context.Background(), types.ScanRaw, types.FileTypeAllData, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"carve:wav:8192"}, sess.Keys())

	c, _ := sess.Get("carve:wav:8192")
	assert.Equal(t, types.FileTypeAudio, c.FileType)
	assert.True(t, c.HasDeclaredSize)
	assert.Equal(t, uint64(1008), c.DeclaredSize)
	assert.InDelta(t, 0.6, c.Confidence, 1e-9)
}

func TestScanFilterDropsBeforeInsert(t *testing.T) {
	data := make([]byte, 1<<20)
	copy(data[4096:], jpeg(500))
	copy(data[65536:], wav(2048))

	sess, err := newEngine(data, nil).Scan(context.Background(), types.ScanRaw, types.FileTypeAudio, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"carve:wav:65536"}, sess.Keys())
	counters := sess.Counters()
	assert.Equal(t, 1, counters.Found)
	assert.Equal(t, 1, counters.Filtered)
}

func TestScanDeep(t *testing.T) {
	img := fatimage.NewFAT16()
	img.Root().AddFile("KEEP.TXT", bytes.Repeat([]byte("k"), 1500))
	photo := img.Root().AddFile("PHOTO.JPG", jpeg(3000))
	img.Delete(photo)
	data := img.Bytes()
	// a picture whose entry is gone, in space no file uses
	orphan := uint64(len(data) - 16384)
	copy(data[orphan:], jpeg(700))

	quick, err := newEngine(data, nil).Scan(context.Background(), types.ScanQuick, types.FileTypeAllData, nil)
	require.NoError(t, err)
	deep, err := newEngine(data, nil).Scan(context.Background(), types.ScanDeep, types.FileTypeAllData, nil)
	require.NoError(t, err)

	assert.Subset(t, deep.Keys(), quick.Keys())
	require.Len(t, quick.Keys(), 1)

	meta, ok := deep.Get(quick.Keys()[0])
	require.True(t, ok)
	assert.True(t, meta.Corroborated, "the carve header sits on the first byte of the deleted file")
	assert.Equal(t, types.FileTypePhoto, meta.FileType)
	assert.Equal(t, photo.DataOffset(img), meta.ByteRanges[0].Offset)

	carved, ok := deep.Get("carve:jpeg:" + strconv.FormatUint(orphan, 10))
	require.True(t, ok)
	assert.Equal(t, types.EvidenceSignatureCarve, carved.Evidence)

	counters := deep.Counters()
	assert.Equal(t, 1, counters.FoundByMetadata)
	assert.Equal(t, 1, counters.FoundByCarving)
	assert.Equal(t, 1, counters.Discarded, "the carved copy of the deleted file is a duplicate")
}

func TestScanDeepCarveAcrossLiveFile(t *testing.T) {
	img := fatimage.NewFAT16()
	img.SkipClusters(2)
	keep := img.Root().AddFile("KEEP.TXT", bytes.Repeat([]byte("k"), 1500))
	data := img.Bytes()

	// header in the free clusters before the live file, footer in the free
	// space after it
	header := img.ClusterOffset(2)
	copy(data[header:], []byte{0xFF, 0xD8, 0xFF, 0xE0})
	footer := img.ClusterOffset(9) + 100
	copy(data[footer:], []byte{0xFF, 0xD9})

	sess, err := newEngine(data, nil).Scan(context.Background(), types.ScanDeep, types.FileTypeAllData, nil)
	require.NoError(t, err)

	carved, ok := sess.Get("carve:jpeg:" + strconv.FormatUint(header, 10))
	require.True(t, ok)
	require.Len(t, carved.ByteRanges, 1)
	assert.Equal(t, footer+2-header, carved.ByteRanges[0].Length)
	assert.Positive(t, carved.ByteRanges[0].Overlap(types.ByteRange{Offset: keep.DataOffset(img), Length: 1500}))

	assert.True(t, carved.OverlapsLive)
	assert.InDelta(t, scoring.CarveBaseline-scoring.OverwriteRiskPenalty, carved.Confidence, 1e-9)
}

func TestScanPartition(t *testing.T) {
	const fatLBA = 2048
	disk := make([]byte, (fatLBA+8192)*512)
	entry := disk[446:]
	entry[4] = 0x06
	binary.LittleEndian.PutUint32(entry[8:], fatLBA)
	binary.LittleEndian.PutUint32(entry[12:], 8192)
	disk[510], disk[511] = 0x55, 0xAA
	copy(disk[fatLBA*512:], fatimage.NewFAT16().Bytes())

	sess, err := newEngine(disk, nil).Scan(context.Background(), types.ScanPartition, types.FileTypeAllData, nil)
	require.NoError(t, err)

	assert.Zero(t, sess.Len())
	volumes := sess.Volumes()
	require.NotEmpty(t, volumes)
	assert.Equal(t, uint64(fatLBA*512), volumes[0].Offset)
	assert.Equal(t, types.SchemeMBR, volumes[0].Scheme)
	assert.Equal(t, types.FileSystemFAT16, volumes[0].FileSystem)
	assert.True(t, volumes[0].InTable)
	assert.True(t, volumes[0].BootSector)
}

func TestScanUnreadableVolume(t *testing.T) {
	vol := device.NewMemoryVolume(make([]byte, 1<<20))
	vol.MarkBad(0, 1<<20)

	sess, err := New(newReader(vol), DefaultOptions()).Scan(context.Background(), types.ScanRaw, types.FileTypeAllData, nil)
	assert.ErrorIs(t, err, types.ErrVolumeUnreadable)
	assert.Nil(t, sess)
}

func TestScanRecordsUnreadableRanges(t *testing.T) {
	data := make([]byte, 1<<20)
	copy(data[4096:], jpeg(2048))
	vol := device.NewMemoryVolume(data)
	vol.MarkBad(5120, 512)

	sess, err := New(newReader(vol), DefaultOptions()).Scan(context.Background(), types.ScanRaw, types.FileTypeAllData, nil)
	require.NoError(t, err)

	assert.Equal(t, []types.ByteRange{{Offset: 5120, Length: 512}}, sess.Diagnostics().Unreadable)
	c, ok := sess.Get("carve:jpeg:4096")
	require.True(t, ok)
	assert.Equal(t, []types.ByteRange{{Offset: 5120, Length: 512}}, c.EvidenceGaps)
}

func TestScanCancelledKeepsCandidates(t *testing.T) {
	data := make([]byte, 4<<20)
	copy(data[4096:], jpeg(500))
	copy(data[3<<20:], jpeg(500))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{onFirst: cancel}

	engine := newEngine(data, func(o *Options) {
		o.WindowSize = 64 << 10
		o.Workers = 2
	})
	sess, err := engine.Scan(ctx, types.ScanRaw, types.FileTypeAllData, rec)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sess)

	require.Equal(t, []string{"carve:jpeg:4096"}, sess.Keys())
	c, _ := sess.Get("carve:jpeg:4096")
	assert.Equal(t, types.StatusScored, c.Status)
	assert.ErrorIs(t, sess.LastError(), context.Canceled)
	assert.Equal(t, 1, rec.completed)
	assert.Less(t, rec.pcts[len(rec.pcts)-1], 100)
}

func TestScanUnsupportedMode(t *testing.T) {
	_, err := newEngine(make([]byte, 4096), nil).Scan(context.Background(), types.ScanMode(42), types.FileTypeAllData, nil)
	assert.Error(t, err)
}

func TestSplitWindows(t *testing.T) {
	got := splitWindows([]types.ByteRange{{Offset: 0, Length: 10}, {Offset: 20, Length: 4}}, 4)
	assert.Equal(t, []types.ByteRange{
		{Offset: 0, Length: 4}, {Offset: 4, Length: 4}, {Offset: 8, Length: 2}, {Offset: 20, Length: 4},
	}, got)
}

func TestIntersect(t *testing.T) {
	a := []types.ByteRange{{Offset: 0, Length: 10}, {Offset: 20, Length: 10}}
	b := []types.ByteRange{{Offset: 5, Length: 20}}
	assert.Equal(t, []types.ByteRange{{Offset: 5, Length: 5}, {Offset: 20, Length: 5}}, intersect(a, b))
	assert.Empty(t, intersect(a, nil))
}
