package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

func ranges(pairs ...uint64) []types.ByteRange {
	var out []types.ByteRange
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, types.ByteRange{Offset: pairs[i], Length: pairs[i+1]})
	}
	return out
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		candidate types.CandidateFile
		want      float64
	}{
		{
			name: "metadata contiguous size consistent",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceMetadataWalk, ByteRanges: ranges(4096, 100),
				DeclaredSize: 100, HasDeclaredSize: true,
			},
			want: 1.0,
		},
		{
			name: "metadata without declared size",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceMetadataWalk, ByteRanges: ranges(4096, 100),
			},
			want: 0.9,
		},
		{
			name: "carve header footer",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceSignatureCarve, ByteRanges: ranges(4096, 500),
			},
			want: 0.5,
		},
		{
			name: "carve self delimited",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceSignatureCarve, ByteRanges: ranges(4096, 500),
				DeclaredSize: 500, HasDeclaredSize: true,
			},
			want: 0.6,
		},
		{
			name: "three fragments",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceMetadataWalk, ByteRanges: ranges(0, 512, 2048, 512, 8192, 512),
				DeclaredSize: 1536, HasDeclaredSize: true,
			},
			want: 0.9,
		},
		{
			name: "adjacent ranges are one fragment",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceMetadataWalk, ByteRanges: ranges(0, 512, 512, 512),
			},
			want: 0.9,
		},
		{
			name: "fragmentation floor",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceSignatureCarve,
				ByteRanges: ranges(0, 1, 10, 1, 20, 1, 30, 1, 40, 1, 50, 1, 60, 1, 70, 1, 80, 1, 90, 1,
					100, 1, 110, 1),
			},
			want: 0.1,
		},
		{
			name: "overlaps live file",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceMetadataWalk, ByteRanges: ranges(0, 100),
				DeclaredSize: 100, HasDeclaredSize: true, OverlapsLive: true,
			},
			want: 0.8,
		},
		{
			name: "clamped below",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceSignatureCarve,
				ByteRanges: ranges(0, 1, 10, 1, 20, 1, 30, 1, 40, 1, 50, 1, 60, 1, 70, 1, 80, 1, 90, 1),
				OverlapsLive: true,
			},
			want: 0,
		},
		{
			name: "corroborated clamped above",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceMetadataWalk, ByteRanges: ranges(0, 100),
				DeclaredSize: 100, HasDeclaredSize: true, Corroborated: true,
			},
			want: 1.0,
		},
		{
			name: "corroborated",
			candidate: types.CandidateFile{
				Evidence: types.EvidenceMetadataWalk, ByteRanges: ranges(0, 100),
				Corroborated: true,
			},
			want: 0.95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(&tt.candidate)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			assert.Equal(t, got, Score(&tt.candidate), "score must be deterministic")
		})
	}
}

func TestExplain(t *testing.T) {
	c := &types.CandidateFile{
		Evidence: types.EvidenceMetadataWalk, ByteRanges: ranges(0, 512, 2048, 512),
		DeclaredSize: 1024, HasDeclaredSize: true, OverlapsLive: true,
	}
	b := Explain(c)
	assert.InDelta(t, 0.9, b.Baseline, 1e-9)
	assert.InDelta(t, -0.05, b.Fragmentation, 1e-9)
	assert.InDelta(t, 0.1, b.SizeBonus, 1e-9)
	assert.InDelta(t, -0.2, b.OverwriteRisk, 1e-9)
	assert.Zero(t, b.Corroboration)
	assert.InDelta(t, 0.75, b.Score, 1e-9)
}

func TestApply(t *testing.T) {
	c := &types.CandidateFile{Key: "carve:jpeg:0", Evidence: types.EvidenceSignatureCarve, ByteRanges: ranges(0, 500)}
	require.NoError(t, Apply(c))
	assert.Equal(t, types.StatusScored, c.Status)
	assert.InDelta(t, 0.5, c.Confidence, 1e-9)

	t.Run("rescore never decreases", func(t *testing.T) {
		c.Corroborated = true
		require.NoError(t, Apply(c))
		assert.InDelta(t, 0.55, c.Confidence, 1e-9)

		c.Corroborated = false
		c.OverlapsLive = true
		require.NoError(t, Apply(c))
		assert.InDelta(t, 0.55, c.Confidence, 1e-9)
		assert.Equal(t, types.StatusScored, c.Status)
	})

	t.Run("terminal states are not scored", func(t *testing.T) {
		done := &types.CandidateFile{Key: "fat:1", Status: types.StatusRecovered}
		assert.ErrorIs(t, Apply(done), types.ErrInvalidTransition)
	})
}
