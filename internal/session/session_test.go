package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

var testVolume = VolumeRef{Path: "memory", Type: "memory", Capacity: 1 << 20, SectorSize: 512}

func candidate(key string, offset, length uint64, ft types.FileType) *types.CandidateFile {
	return &types.CandidateFile{
		Key:        key,
		Identity:   types.Identity{Name: key + ".bin"},
		ByteRanges: []types.ByteRange{{Offset: offset, Length: length}},
		FileType:   ft,
		Evidence:   types.EvidenceMetadataWalk,
		Strategy:   "fat",
	}
}

func scored(t *testing.T, s *Session, key string, confidence float64) {
	t.Helper()
	require.NoError(t, s.Update(key, func(c *types.CandidateFile) error {
		c.Confidence = confidence
		return c.Transition(types.StatusScored)
	}))
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(1500 * time.Millisecond)
		return now
	}
}

func TestNew(t *testing.T) {
	s := New(testVolume, types.ScanDeep, types.FileTypeAllData)

	_, err := uuid.Parse(s.ID())
	assert.NoError(t, err)
	assert.NotEqual(t, s.ID(), New(testVolume, types.ScanDeep, types.FileTypeAllData).ID())
	assert.Equal(t, types.ScanDeep, s.Mode())
	assert.Equal(t, testVolume, s.Volume())
	assert.False(t, s.StartedAt().IsZero())
	assert.False(t, s.Completed())
}

func TestInsert(t *testing.T) {
	tests := []struct {
		name      string
		filter    types.FileType
		candidate *types.CandidateFile
		inserted  bool
		wantErr   bool
	}{
		{name: "all data accepts", filter: types.FileTypeAllData, candidate: candidate("a", 0, 10, types.FileTypeArchive), inserted: true},
		{name: "matching filter", filter: types.FileTypePhoto, candidate: candidate("a", 0, 10, types.FileTypePhoto), inserted: true},
		{name: "filtered out", filter: types.FileTypePhoto, candidate: candidate("a", 0, 10, types.FileTypeDocument)},
		{name: "beyond capacity", filter: types.FileTypeAllData, candidate: candidate("a", 1<<20-5, 10, types.FileTypePhoto), wantErr: true},
		{name: "no ranges", filter: types.FileTypeAllData, candidate: &types.CandidateFile{Key: "a"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(testVolume, types.ScanQuick, tt.filter)
			ok, err := s.Insert(tt.candidate)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Zero(t, s.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.inserted, ok)
			if tt.inserted {
				assert.Equal(t, 1, s.Counters().Found)
			} else {
				assert.Equal(t, 1, s.Counters().Filtered)
				assert.Zero(t, s.Counters().Found)
			}
		})
	}
}

func TestInsertDuplicateAndOrder(t *testing.T) {
	s := New(testVolume, types.ScanQuick, types.FileTypeAllData)
	for i, key := range []string{"c", "a", "b"} {
		_, err := s.Insert(candidate(key, uint64(i)*100, 10, types.FileTypeUnknown))
		require.NoError(t, err)
	}
	_, err := s.Insert(candidate("a", 500, 10, types.FileTypeUnknown))
	assert.Error(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, s.Keys())
	var keys []string
	for _, c := range s.Candidates() {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"c", "a", "b"}, keys)
}

func TestStoredCandidatesAreCopies(t *testing.T) {
	s := New(testVolume, types.ScanQuick, types.FileTypeAllData)
	c := candidate("a", 0, 10, types.FileTypeUnknown)
	_, err := s.Insert(c)
	require.NoError(t, err)

	c.ByteRanges[0].Length = 99
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint64(10), got.ByteRanges[0].Length)

	got.Confidence = 1
	again, _ := s.Get("a")
	assert.Zero(t, again.Confidence)
}

func TestUpdate(t *testing.T) {
	s := New(testVolume, types.ScanQuick, types.FileTypeAllData)
	_, err := s.Insert(candidate("a", 0, 10, types.FileTypeUnknown))
	require.NoError(t, err)

	t.Run("failed update keeps previous value", func(t *testing.T) {
		err := s.Update("a", func(c *types.CandidateFile) error {
			c.Confidence = 0.7
			return errors.New("boom")
		})
		assert.Error(t, err)
		c, _ := s.Get("a")
		assert.Zero(t, c.Confidence)
	})

	t.Run("invalid ranges rejected", func(t *testing.T) {
		err := s.Update("a", func(c *types.CandidateFile) error {
			c.ByteRanges = append(c.ByteRanges, types.ByteRange{Offset: 5, Length: 10})
			return nil
		})
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		err := s.Update("missing", func(*types.CandidateFile) error { return nil })
		assert.True(t, IsNotFound(err))
	})
}

func TestSelection(t *testing.T) {
	s := New(testVolume, types.ScanQuick, types.FileTypeAllData)
	for i, conf := range []float64{0.9, 0.4, 0.6} {
		key := fmt.Sprintf("k%d", i)
		_, err := s.Insert(candidate(key, uint64(i)*100, 10, types.FileTypeUnknown))
		require.NoError(t, err)
		scored(t, s, key, conf)
	}
	_, err := s.Insert(candidate("unscored", 900, 10, types.FileTypeUnknown))
	require.NoError(t, err)

	selected, err := s.SelectAll(0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k2"}, selected)

	require.NoError(t, s.Select("k1"))
	require.NoError(t, s.Select("k1"), "selecting twice is a no-op")
	assert.Equal(t, []string{"k0", "k1", "k2"}, s.Selected())

	assert.ErrorIs(t, s.Select("unscored"), types.ErrInvalidTransition)
	assert.ErrorIs(t, s.Select("missing"), types.ErrCandidateNotFound)

	ordered, err := s.OrderKeys([]string{"k2", "k0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k2"}, ordered)
}

func TestSkipUnselected(t *testing.T) {
	s := New(testVolume, types.ScanQuick, types.FileTypeAllData)
	for i := range 3 {
		key := fmt.Sprintf("k%d", i)
		_, err := s.Insert(candidate(key, uint64(i)*100, 10, types.FileTypeUnknown))
		require.NoError(t, err)
		scored(t, s, key, 0.9)
	}
	require.NoError(t, s.Select("k1"))
	assert.Equal(t, 2, s.SkipUnselected())
	assert.Equal(t, 2, s.Counters().Skipped)

	c, _ := s.Get("k0")
	assert.Equal(t, types.StatusSkipped, c.Status)
	assert.ErrorIs(t, s.Select("k0"), types.ErrInvalidTransition, "skipped is terminal")
}

func TestRecoveryLifecycle(t *testing.T) {
	s := New(testVolume, types.ScanQuick, types.FileTypeAllData)
	for i := range 3 {
		key := fmt.Sprintf("k%d", i)
		_, err := s.Insert(candidate(key, uint64(i)*100, 10, types.FileTypeUnknown))
		require.NoError(t, err)
		scored(t, s, key, 0.9)
	}
	_, err := s.SelectAll(0)
	require.NoError(t, err)

	outcomes := []types.RecoveryResult{
		{CandidateKey: "k2", Status: types.StatusFailed, FailureReason: "read failed"},
		{CandidateKey: "k0", Status: types.StatusRecovered, RecoveredBytes: 10, DestinationPath: "/out/k0.bin"},
		{CandidateKey: "k1", Status: types.StatusPartiallyRecovered, RecoveredBytes: 4, DestinationPath: "/out/k1.bin"},
	}
	for _, res := range outcomes {
		c, err := s.BeginRecovery(res.CandidateKey)
		require.NoError(t, err)
		assert.Equal(t, types.StatusRecovering, c.Status)
		require.NoError(t, s.RecordResult(res))
	}

	t.Run("results follow discovery order", func(t *testing.T) {
		var keys []string
		for _, res := range s.Results() {
			keys = append(keys, res.CandidateKey)
			assert.InDelta(t, 0.9, res.Confidence, 1e-9)
		}
		assert.Equal(t, []string{"k0", "k1", "k2"}, keys)
	})

	t.Run("counters", func(t *testing.T) {
		c := s.Counters()
		assert.Equal(t, 1, c.Recovered)
		assert.Equal(t, 1, c.PartiallyRecovered)
		assert.Equal(t, 1, c.Failed)
		assert.Equal(t, uint64(14), c.BytesRecovered)
	})

	t.Run("terminal candidates cannot recover again", func(t *testing.T) {
		_, err := s.BeginRecovery("k0")
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
		assert.ErrorIs(t, s.RecordResult(types.RecoveryResult{CandidateKey: "k0", Status: types.StatusRecovered}), types.ErrInvalidTransition)
	})

	t.Run("export", func(t *testing.T) {
		records := s.Export()
		require.Len(t, records, 3)
		assert.Equal(t, ExportRecord{
			CandidateKey: "k0", Name: "k0.bin", Size: 10, Status: "recovered",
			Confidence: 0.9, DestinationPath: "/out/k0.bin",
		}, records[0])
		assert.Equal(t, "failed", records[2].Status)
		assert.Equal(t, "read failed", records[2].FailureReason)
		assert.Empty(t, records[2].DestinationPath)
	})
}

func TestRecordResultRejectsNonTerminal(t *testing.T) {
	s := New(testVolume, types.ScanQuick, types.FileTypeAllData)
	_, err := s.Insert(candidate("a", 0, 10, types.FileTypeUnknown))
	require.NoError(t, err)
	err = s.RecordResult(types.RecoveryResult{CandidateKey: "a", Status: types.StatusSelected})
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestComplete(t *testing.T) {
	s := newWithClock(testVolume, types.ScanRaw, types.FileTypeAllData, fixedClock())
	_, err := s.Insert(candidate("a", 0, 10, types.FileTypeUnknown))
	require.NoError(t, err)

	scanErr := errors.New("interrupted")
	s.FinishScan(scanErr)
	s.Complete(nil)

	assert.True(t, s.Completed())
	assert.Equal(t, scanErr, s.LastError())

	_, err = s.Insert(candidate("b", 100, 10, types.FileTypeUnknown))
	assert.ErrorIs(t, err, types.ErrSessionClosed)
	assert.ErrorIs(t, s.Update("a", func(*types.CandidateFile) error { return nil }), types.ErrSessionClosed)
	assert.ErrorIs(t, s.AddVolume(types.CandidateVolume{Key: "volume:0"}), types.ErrSessionClosed)
	_, err = s.SelectAll(0)
	assert.ErrorIs(t, err, types.ErrSessionClosed)

	sum := s.Summary()
	assert.Equal(t, "Raw Recovery", sum.Mode)
	assert.Equal(t, "All Data", sum.Filter)
	assert.Equal(t, 1, sum.Counters.Found)
	assert.Equal(t, "interrupted", sum.LastError)
	assert.Equal(t, "3s", sum.Duration)
}

func TestDiagnostics(t *testing.T) {
	s := New(testVolume, types.ScanDeep, types.FileTypeAllData)
	s.RecordMalformed("ntfs")
	s.RecordMalformed("ntfs")
	s.RecordMalformed("fat")
	s.RecordUnreadable(types.ByteRange{Offset: 512, Length: 512})
	s.RecordUnreadable(types.ByteRange{Offset: 1024, Length: 512})
	s.AddWarning("gpt %s", "backup only")

	d := s.Diagnostics()
	assert.Equal(t, map[string]int{"ntfs": 2, "fat": 1}, d.Malformed)
	assert.Equal(t, 3, d.MalformedTotal())
	assert.Equal(t, []types.ByteRange{{Offset: 512, Length: 1024}}, d.Unreadable)
	assert.Equal(t, []string{"gpt backup only"}, d.Warnings)

	sum := s.Summary()
	assert.Equal(t, 3, sum.Malformed)
	assert.Equal(t, uint64(1024), sum.UnreadableSize)
}

func TestConcurrentInsert(t *testing.T) {
	s := New(testVolume, types.ScanRaw, types.FileTypeAllData)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				off := uint64(w*50+i) * 16
				_, err := s.Insert(candidate(fmt.Sprintf("carve:%d", off), off, 16, types.FileTypeUnknown))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, s.Len())
	assert.Equal(t, 400, s.Counters().Found)
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KiB"},
		{10 << 20, "10 MiB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFileSize(tt.in))
		})
	}
}
