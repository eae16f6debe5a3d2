package extraction

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/device"
	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/scoring"
	"github.com/deploymenttheory/go-recovery/internal/session"
	"github.com/deploymenttheory/go-recovery/internal/sink"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const volumeSize = 1 << 20

// pattern fills a volume with bytes that identify their offset
func pattern() []byte {
	data := make([]byte, volumeSize)
	for i := range data {
		data[i] = byte(i*7 + i/256)
	}
	return data
}

func newReader(vol *device.MemoryVolume) *blockreader.Reader {
	opts := blockreader.DefaultOptions()
	opts.RetryAttempts = 0
	return blockreader.New(vol, opts)
}

type candidateSpec struct {
	key    string
	name   string
	path   string
	ranges []types.ByteRange
}

func newSession(t *testing.T, specs ...candidateSpec) *session.Session {
	t.Helper()
	sess := session.New(session.VolumeRef{Capacity: volumeSize, SectorSize: 512}, types.ScanDeep, types.FileTypeAllData)
	for _, s := range specs {
		c := &types.CandidateFile{
			Key:        s.key,
			Identity:   types.Identity{Name: s.name, Path: s.path},
			ByteRanges: s.ranges,
			FileType:   types.FileTypeDocument,
			Evidence:   types.EvidenceMetadataWalk,
			Status:     types.StatusDiscovered,
		}
		require.NoError(t, scoring.Apply(c))
		_, err := sess.Insert(c)
		require.NoError(t, err)
	}
	return sess
}

func expected(data []byte, ranges ...types.ByteRange) []byte {
	var out []byte
	for _, r := range ranges {
		out = append(out, data[r.Offset:r.End()]...)
	}
	return out
}

func readSink(t *testing.T, s *sink.FilesystemSink, name string) []byte {
	t.Helper()
	data, err := util.ReadFile(s.Filesystem(), name)
	require.NoError(t, err)
	return data
}

func TestRecoverCopiesRanges(t *testing.T) {
	data := pattern()
	contiguous := []types.ByteRange{{Offset: 4096, Length: 3000}}
	fragmented := []types.ByteRange{{Offset: 65536, Length: 4096}, {Offset: 8192, Length: 1000}}
	sess := newSession(t,
		candidateSpec{key: "fat:1", name: "notes.txt", path: "/docs", ranges: contiguous},
		candidateSpec{key: "fat:2", name: "frag.bin", path: "/", ranges: fragmented},
	)
	out := sink.NewMemorySink()

	results, err := New(newReader(device.NewMemoryVolume(data)), DefaultOptions()).
		Recover(context.Background(), sess, []string{"fat:1", "fat:2"}, out, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	want := expected(data, contiguous...)
	assert.Equal(t, want, readSink(t, out, "docs/notes.txt"))
	assert.Equal(t, expected(data, fragmented...), readSink(t, out, "frag.bin"))

	first := results[0]
	sum := sha256.Sum256(want)
	assert.Equal(t, "fat:1", first.CandidateKey)
	assert.Equal(t, types.StatusRecovered, first.Status)
	assert.Equal(t, uint64(3000), first.RecoveredBytes)
	assert.Equal(t, "memory:/docs/notes.txt", first.DestinationPath)
	assert.Equal(t, hex.EncodeToString(sum[:]), first.Checksum)
	assert.NotEmpty(t, first.ContentType)
	assert.Empty(t, first.Gaps)
	assert.InDelta(t, 0.9, first.Confidence, 1e-9)

	counters := sess.Counters()
	assert.Equal(t, 2, counters.Recovered)
	assert.Equal(t, uint64(3000+4096+1000), counters.BytesRecovered)
}

func TestRecoverPartial(t *testing.T) {
	data := pattern()
	vol := device.NewMemoryVolume(data)
	vol.MarkBad(4096+1024, 512)
	rng := types.ByteRange{Offset: 4096, Length: 4096}
	sess := newSession(t, candidateSpec{key: "ntfs:40", name: "photo.jpg", ranges: []types.ByteRange{rng}})
	out := sink.NewMemorySink()

	results, err := New(newReader(vol), DefaultOptions()).Recover(context.Background(), sess, []string{"ntfs:40"}, out, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, types.StatusPartiallyRecovered, res.Status)
	assert.Equal(t, uint64(4096-512), res.RecoveredBytes)
	assert.Equal(t, []types.ByteRange{{Offset: 1024, Length: 512}}, res.Gaps)
	assert.Contains(t, res.FailureReason, "512 of 4096 bytes unreadable")

	got := readSink(t, out, "photo.jpg")
	want := expected(data, rng)
	copy(want[1024:1536], make([]byte, 512))
	assert.Equal(t, want, got, "unreadable sectors are zero-filled")
	assert.Equal(t, 1, sess.Counters().PartiallyRecovered)
}

func TestRecoverFailedRange(t *testing.T) {
	vol := device.NewMemoryVolume(pattern())
	vol.MarkBad(8192, 2048)
	sess := newSession(t, candidateSpec{key: "fat:9", name: "lost.doc", ranges: []types.ByteRange{{Offset: 8192, Length: 2048}}})
	out := sink.NewMemorySink()

	results, err := New(newReader(vol), DefaultOptions()).Recover(context.Background(), sess, []string{"fat:9"}, out, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Zero(t, res.RecoveredBytes)
	assert.NotEmpty(t, res.FailureReason)
	assert.Empty(t, res.DestinationPath)

	_, statErr := out.Filesystem().Stat("lost.doc")
	assert.Error(t, statErr, "nothing is written for a file with no readable byte")
	assert.Equal(t, 1, sess.Counters().Failed)
}

func TestRecoverNameCollision(t *testing.T) {
	data := pattern()
	out := sink.NewMemorySink()
	require.NoError(t, util.WriteFile(out.Filesystem(), "docs/a.txt", []byte("existing"), 0o644))

	sess := newSession(t,
		candidateSpec{key: "k1", name: "a.txt", path: "/docs", ranges: []types.ByteRange{{Offset: 0, Length: 100}}},
		candidateSpec{key: "k2", name: "a.txt", path: "/docs", ranges: []types.ByteRange{{Offset: 512, Length: 100}}},
	)
	opts := DefaultOptions()
	opts.Workers = 1
	results, err := New(newReader(device.NewMemoryVolume(data)), opts).Recover(context.Background(), sess, []string{"k1", "k2"}, out, nil)
	require.NoError(t, err)

	assert.Equal(t, "memory:/docs/a (1).txt", results[0].DestinationPath)
	assert.Equal(t, "memory:/docs/a (2).txt", results[1].DestinationPath)
	assert.Equal(t, "existing", string(readSink(t, out, "docs/a.txt")), "existing files are never replaced")
	assert.Equal(t, data[512:612], readSink(t, out, "docs/a (2).txt"))
}

func TestRecoverSkipsUnselectedAndKeepsOrder(t *testing.T) {
	var specs []candidateSpec
	for i := range 6 {
		specs = append(specs, candidateSpec{
			key:    fmt.Sprintf("k%d", i),
			name:   fmt.Sprintf("f%d.bin", i),
			ranges: []types.ByteRange{{Offset: uint64(i) * 8192, Length: 4096}},
		})
	}
	sess := newSession(t, specs...)
	opts := DefaultOptions()
	opts.Workers = 4

	results, err := New(newReader(device.NewMemoryVolume(pattern())), opts).
		Recover(context.Background(), sess, []string{"k4", "k1", "k3", "k5"}, sink.NewMemorySink(), nil)
	require.NoError(t, err)

	var keys []string
	for _, r := range results {
		keys = append(keys, r.CandidateKey)
	}
	assert.Equal(t, []string{"k1", "k3", "k4", "k5"}, keys, "results follow discovery order")

	for _, key := range []string{"k0", "k2"} {
		c, _ := sess.Get(key)
		assert.Equal(t, types.StatusSkipped, c.Status)
	}
	assert.Equal(t, 2, sess.Counters().Skipped)
}

// faultySink fails chosen names the way a full or broken destination does
type faultySink struct {
	*sink.FilesystemSink
	quota      map[string]bool
	failAppend map[string]bool
}

func (s *faultySink) Create(name string, size uint64) (interfaces.WritableHandle, error) {
	if s.quota[name] {
		return nil, fmt.Errorf("%w: %s", types.ErrQuotaExceeded, name)
	}
	h, err := s.FilesystemSink.Create(name, size)
	if err != nil || !s.failAppend[name] {
		return h, err
	}
	return failingHandle{h}, nil
}

type failingHandle struct {
	interfaces.WritableHandle
}

func (failingHandle) Append([]byte) error {
	return fmt.Errorf("%w: no space left on device", types.ErrDestinationIO)
}

func threeFiles(t *testing.T) *session.Session {
	return newSession(t,
		candidateSpec{key: "k1", name: "one.bin", ranges: []types.ByteRange{{Offset: 0, Length: 1000}}},
		candidateSpec{key: "k2", name: "two.bin", ranges: []types.ByteRange{{Offset: 4096, Length: 1000}}},
		candidateSpec{key: "k3", name: "three.bin", ranges: []types.ByteRange{{Offset: 8192, Length: 1000}}},
	)
}

func TestRecoverQuotaExceededFailsOneFile(t *testing.T) {
	sess := threeFiles(t)
	out := &faultySink{FilesystemSink: sink.NewMemorySink(), quota: map[string]bool{"two.bin": true}}

	results, err := New(newReader(device.NewMemoryVolume(pattern())), DefaultOptions()).
		Recover(context.Background(), sess, []string{"k1", "k2", "k3"}, out, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, types.StatusRecovered, results[0].Status)
	assert.Equal(t, types.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].FailureReason, "quota exceeded")
	assert.Equal(t, types.StatusRecovered, results[2].Status)
}

func TestRecoverDestinationErrorAbortsBatch(t *testing.T) {
	sess := threeFiles(t)
	out := &faultySink{FilesystemSink: sink.NewMemorySink(), failAppend: map[string]bool{"two.bin": true}}
	opts := DefaultOptions()
	opts.Workers = 1

	results, err := New(newReader(device.NewMemoryVolume(pattern())), opts).
		Recover(context.Background(), sess, []string{"k1", "k2", "k3"}, out, nil)
	require.ErrorIs(t, err, types.ErrDestinationIO)
	require.Len(t, results, 2)

	assert.Equal(t, types.StatusRecovered, results[0].Status)
	assert.Equal(t, types.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].FailureReason, "no space left")
	assert.Empty(t, results[1].DestinationPath)
	assert.Equal(t, "memory:/one.bin", results[0].DestinationPath)

	_, statErr := out.Filesystem().Stat("two.bin")
	assert.ErrorIs(t, statErr, os.ErrNotExist, "the half-written file is removed")

	third, _ := sess.Get("k3")
	assert.Equal(t, types.StatusSelected, third.Status, "files after the failure are not started")
}

func TestRecoverCancelled(t *testing.T) {
	sess := threeFiles(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := New(newReader(device.NewMemoryVolume(pattern())), DefaultOptions()).
		Recover(ctx, sess, []string{"k1", "k2"}, sink.NewMemorySink(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)

	c, _ := sess.Get("k1")
	assert.Equal(t, types.StatusSelected, c.Status)
}

func TestRecoverIsRepeatable(t *testing.T) {
	data := pattern()
	vol := device.NewMemoryVolume(data)
	vol.MarkBad(512, 512)

	extract := func() *sink.FilesystemSink {
		sess := threeFiles(t)
		out := sink.NewMemorySink()
		_, err := New(newReader(vol), DefaultOptions()).Recover(context.Background(), sess, []string{"k1", "k2", "k3"}, out, nil)
		require.NoError(t, err)
		return out
	}
	a, b := extract(), extract()
	for _, name := range []string{"one.bin", "two.bin", "three.bin"} {
		assert.True(t, bytes.Equal(readSink(t, a, name), readSink(t, b, name)), name)
	}
}

func TestRecoverUnknownKey(t *testing.T) {
	sess := threeFiles(t)
	_, err := New(newReader(device.NewMemoryVolume(pattern())), DefaultOptions()).
		Recover(context.Background(), sess, []string{"missing"}, sink.NewMemorySink(), nil)
	assert.ErrorIs(t, err, types.ErrCandidateNotFound)
}
