package ntfs

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/device"
	"github.com/deploymenttheory/go-recovery/internal/testutil/ntfsimage"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

func openImage(t *testing.T, data []byte) *Volume {
	t.Helper()
	opts := blockreader.DefaultOptions()
	opts.RetryAttempts = 0
	v, err := Open(context.Background(), blockreader.New(device.NewMemoryVolume(data), opts), 0)
	require.NoError(t, err)
	return v
}

func collect(t *testing.T, v *Volume, deep bool) (map[string]types.RawEntry, []error) {
	t.Helper()
	entries := make(map[string]types.RawEntry)
	var errs []error
	for e, err := range v.Entries(context.Background(), deep) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries[e.FullPath()] = e
	}
	return entries, errs
}

func gather(data []byte, ranges []types.ByteRange) []byte {
	var out []byte
	for _, r := range ranges {
		out = append(out, data[r.Offset:r.End()]...)
	}
	return out
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func TestParseBootSector(t *testing.T) {
	bs, err := ParseBootSector(ntfsimage.New().Bytes()[:512])
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), bs.ClusterSize())
	assert.Equal(t, uint64(1024), bs.RecordSize())
	assert.Equal(t, uint64(4<<20), bs.VolumeSize())
	assert.Equal(t, "1122334455667788", bs.Serial())
}

func TestParseBootSectorRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{name: "oem id", mutate: func(b []byte) { copy(b[3:], "MSDOS5.0") }},
		{name: "signature", mutate: func(b []byte) { b[510] = 0 }},
		{name: "sector size", mutate: func(b []byte) { b[11], b[12] = 0, 0 }},
		{name: "cluster size", mutate: func(b []byte) { b[13] = 6 }},
		{name: "mft cluster", mutate: func(b []byte) { b[48] = 0 }},
		{name: "record size", mutate: func(b []byte) { b[64] = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), ntfsimage.New().Bytes()[:512]...)
			tt.mutate(b)
			_, err := ParseBootSector(b)
			assert.Error(t, err)
		})
	}
}

func TestRunlist(t *testing.T) {
	tests := []struct {
		name string
		runs []Run
	}{
		{name: "single", runs: []Run{{LCN: 4, Length: 16}}},
		{name: "backwards delta", runs: []Run{{LCN: 70000, Length: 3}, {LCN: 12, Length: 300}}},
		{name: "sparse", runs: []Run{{LCN: 100, Length: 1}, {Length: 8, Sparse: true}, {LCN: 200, Length: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := make([]ntfsimage.Run, len(tt.runs))
			for i, r := range tt.runs {
				encoded[i] = ntfsimage.Run(r)
			}
			got, err := decodeRunlist(ntfsimage.EncodeRunlist(encoded))
			require.NoError(t, err)
			assert.Equal(t, tt.runs, got)
		})
	}

	t.Run("known bytes", func(t *testing.T) {
		// 0x18 clusters at 0x5634, then 0x10 clusters 0x100 back
		runs, err := decodeRunlist([]byte{0x21, 0x18, 0x34, 0x56, 0x21, 0x10, 0x00, 0xFF, 0x00})
		require.NoError(t, err)
		assert.Equal(t, []Run{{LCN: 0x5634, Length: 0x18}, {LCN: 0x5534, Length: 0x10}}, runs)
	})

	t.Run("errors", func(t *testing.T) {
		for _, b := range [][]byte{
			{0x11, 0x01},             // unterminated
			{0x11, 0x00, 0x05, 0x00}, // zero length
			{0x21, 0x01, 0x00},       // truncated
			{0x11, 0x01, 0x80, 0x00}, // negative cluster
		} {
			_, err := decodeRunlist(b)
			assert.Error(t, err, "%x", b)
		}
	})
}

type tree struct {
	img   *ntfsimage.Image
	files map[string]ntfsimage.File
	data  []byte
}

func buildTree(t *testing.T) *tree {
	t.Helper()
	img := ntfsimage.New()
	root := ntfsimage.RootRef
	files := make(map[string]ntfsimage.File)

	files["report"] = img.AddFile(root, "report.docx", pattern(10000, 1))
	files["frag"] = img.AddFile(root, "frag.bin", pattern(3*4096, 2), ntfsimage.Fragmented())
	files["photo"] = img.AddFile(root, "photo.jpg", pattern(5000, 3))
	files["note"] = img.AddFile(root, "note.txt", pattern(600, 4), ntfsimage.Resident())
	files["sparse"] = img.AddFile(root, "disk.vhd", pattern(3*4096, 5), ntfsimage.Sparse())
	files["comp"] = img.AddFile(root, "comp.bin", pattern(100, 6), ntfsimage.Compressed())
	files["enc"] = img.AddFile(root, "enc.bin", pattern(100, 7), ntfsimage.Encrypted())
	files["big"] = img.AddFile(root, "big.iso", pattern(4*4096, 8), ntfsimage.InExtensionRecord())

	docs := img.AddDir(root, "Docs")
	files["old"] = img.AddFile(docs, "old.txt", pattern(2000, 9))

	trash := img.AddDir(root, "Trash")
	files["lost"] = img.AddFile(trash, "lost.pdf", pattern(3000, 10))

	gone := img.AddDir(root, "Gone")
	files["orphan"] = img.AddFile(gone, "orphan.dat", pattern(1500, 11))

	img.Delete(files["photo"].Ref)
	img.Delete(files["old"].Ref)
	img.Delete(files["lost"].Ref)
	img.Delete(trash)
	img.Delete(files["orphan"].Ref)
	img.Wipe(gone)

	return &tree{img: img, files: files, data: img.Bytes()}
}

func TestOpen(t *testing.T) {
	tr := buildTree(t)
	v := openImage(t, tr.data)
	assert.Equal(t, uint64(64), v.RecordCount())
	assert.Equal(t, uint64(1024), v.RecordSize())

	rec, err := v.ReadRecord(context.Background(), tr.files["report"].Record)
	require.NoError(t, err)
	assert.True(t, rec.Header.InUse())
	fn := rec.FileName()
	require.NotNil(t, fn)
	assert.Equal(t, "report.docx", fn.Name, "Win32 name preferred over the DOS alias")
	parent, seq := fn.Parent()
	assert.Equal(t, uint64(5), parent)
	assert.Equal(t, uint16(5), seq)
}

func TestEntriesQuick(t *testing.T) {
	tr := buildTree(t)
	entries, errs := collect(t, openImage(t, tr.data), false)
	assert.Empty(t, errs)

	want := []string{
		"/report.docx", "/frag.bin", "/photo.jpg", "/note.txt", "/disk.vhd",
		"/comp.bin", "/enc.bin", "/big.iso", "/Docs/old.txt",
	}
	assert.Len(t, entries, len(want))
	for _, path := range want {
		assert.Contains(t, entries, path)
	}

	report := entries["/report.docx"]
	assert.False(t, report.Deleted)
	assert.Equal(t, strconv.FormatUint(tr.files["report"].Record, 10), report.ID)
	assert.Equal(t, uint64(10000), report.DeclaredSize)
	assert.Equal(t, pattern(10000, 1), gather(tr.data, report.Extents))
	require.NotNil(t, report.Timestamps.Modified)
	assert.True(t, report.Timestamps.Modified.Equal(ntfsimage.Timestamp))

	frag := entries["/frag.bin"]
	assert.Len(t, frag.Extents, 3)
	assert.Equal(t, pattern(3*4096, 2), gather(tr.data, frag.Extents))

	photo := entries["/photo.jpg"]
	assert.True(t, photo.Deleted)
	assert.Equal(t, pattern(5000, 3), gather(tr.data, photo.Extents))

	old := entries["/Docs/old.txt"]
	assert.True(t, old.Deleted)
	assert.Equal(t, "/Docs", old.Path)

	big := entries["/big.iso"]
	assert.Len(t, big.Extents, 4)
	assert.Equal(t, pattern(4*4096, 8), gather(tr.data, big.Extents))
}

func TestEntriesFlags(t *testing.T) {
	tr := buildTree(t)
	entries, _ := collect(t, openImage(t, tr.data), false)

	sparse := entries["/disk.vhd"]
	assert.True(t, sparse.Sparse)
	assert.Equal(t, uint64(3*4096), sparse.DeclaredSize)
	// the hole is left out of the extents
	assert.Equal(t, uint64(2*4096), types.TotalLength(sparse.Extents))

	assert.True(t, entries["/comp.bin"].Compressed)
	assert.False(t, entries["/comp.bin"].Encrypted)
	assert.True(t, entries["/enc.bin"].Encrypted)
}

func TestEntriesResidentAcrossFixup(t *testing.T) {
	tr := buildTree(t)
	entries, _ := collect(t, openImage(t, tr.data), false)

	note := entries["/note.txt"]
	assert.Equal(t, uint64(600), note.DeclaredSize)
	assert.Greater(t, len(note.Extents), 1, "value crosses the first stride boundary")
	assert.Equal(t, pattern(600, 4), gather(tr.data, note.Extents))

	start := ntfsimage.RecordOffset(tr.files["note"].Record)
	for _, r := range note.Extents {
		assert.GreaterOrEqual(t, r.Offset, start)
		assert.LessOrEqual(t, r.End(), start+1024)
	}
}

func TestEntriesDeep(t *testing.T) {
	tr := buildTree(t)
	entries, errs := collect(t, openImage(t, tr.data), true)
	assert.Empty(t, errs)
	assert.Len(t, entries, 11)

	lost, ok := entries["/Trash/lost.pdf"]
	require.True(t, ok)
	assert.True(t, lost.Deleted)
	assert.False(t, lost.Orphan)
	assert.Equal(t, pattern(3000, 10), gather(tr.data, lost.Extents))

	orphan, ok := entries[OrphanPath+"/orphan.dat"]
	require.True(t, ok)
	assert.True(t, orphan.Orphan)
	assert.Equal(t, pattern(1500, 11), gather(tr.data, orphan.Extents))
}

func TestEntriesTornRecord(t *testing.T) {
	img := ntfsimage.New()
	bad := img.AddFile(ntfsimage.RootRef, "bad.bin", pattern(100, 1))
	img.AddFile(ntfsimage.RootRef, "good.bin", pattern(100, 2))
	img.Tear(bad.Ref)

	entries, errs := collect(t, openImage(t, img.Bytes()), false)
	assert.Contains(t, entries, "/good.bin")
	require.Len(t, errs, 1)

	var malformed *types.MalformedError
	require.ErrorAs(t, errs[0], &malformed)
	assert.Equal(t, StrategyName, malformed.Strategy)
	assert.Equal(t, strconv.FormatUint(bad.Record, 10), malformed.Entry)
	assert.Contains(t, malformed.Reason, "torn write")
}

func TestEntriesCancelled(t *testing.T) {
	tr := buildTree(t)
	v := openImage(t, tr.data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var errs []error
	for _, err := range v.Entries(ctx, false) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestApplyFixups(t *testing.T) {
	buf := make([]byte, 1024)
	h := &RecordHeader{UsaOffset: 48, UsaCount: 3}
	copy(buf[48:], []byte{0x07, 0x00, 0xAA, 0xBB, 0xCC, 0xDD})
	copy(buf[510:], []byte{0x07, 0x00})
	copy(buf[1022:], []byte{0x07, 0x00})

	require.NoError(t, applyFixups(buf, h))
	assert.Equal(t, []byte{0xAA, 0xBB}, buf[510:512])
	assert.Equal(t, []byte{0xCC, 0xDD}, buf[1022:1024])

	buf[510] = 0
	copy(buf[1022:], []byte{0x07, 0x00})
	assert.Error(t, applyFixups(buf, h))
	assert.True(t, bytes.Equal(buf[1022:], []byte{0x07, 0x00}))
}
