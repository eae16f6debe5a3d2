package recovery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/internal/config"
	"github.com/deploymenttheory/go-recovery/internal/testutil/ntfsimage"
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

var (
	reportContent = bytes.Repeat([]byte("quarterly "), 300)
	photoContent  = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x11}, 2000)...)
)

func newContext(t *testing.T) *app.Context {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	ctx, err := app.NewContext(cfg)
	require.NoError(t, err)
	return ctx
}

func writeImage(t *testing.T) string {
	t.Helper()
	img := ntfsimage.New()
	img.AddFile(ntfsimage.RootRef, "keep.txt", []byte("still here"))
	report := img.AddFile(ntfsimage.RootRef, "report.txt", reportContent)
	photo := img.AddFile(ntfsimage.RootRef, "photo.jpg", photoContent)
	img.Delete(report.Ref)
	img.Delete(photo.Ref)

	path := filepath.Join(t.TempDir(), "volume.img")
	require.NoError(t, os.WriteFile(path, img.Bytes(), 0o644))
	return path
}

func TestHandleRecoversEverything(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "recovered")
	req := &Request{
		Scan:        scan.Request{Source: app.SourceTarget{Path: writeImage(t)}, Mode: "quick"},
		Destination: dest,
	}

	resp, err := Handle(newContext(t), req)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Selected)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, map[string]int{"recovered": 2}, resp.CountByStatus())
	assert.Empty(t, resp.Damaged)
	assert.Empty(t, resp.Interrupted)
	assert.Equal(t, dest, resp.Destination)

	got, err := os.ReadFile(filepath.Join(dest, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, reportContent, got)
	got, err = os.ReadFile(filepath.Join(dest, "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, photoContent, got)

	for _, res := range resp.Results {
		assert.Len(t, res.Checksum, 64)
		assert.Equal(t, filepath.Join(dest, res.Name), res.DestinationPath)
	}
	assert.Equal(t, 2, resp.Summary.Counters.Recovered)
	assert.False(t, resp.Summary.CompletedAt.IsZero())
}

func TestHandleSelectedKeys(t *testing.T) {
	image := writeImage(t)
	listed, err := scan.Handle(newContext(t), &scan.Request{Source: app.SourceTarget{Path: image}, Mode: "quick", FileType: "photos"})
	require.NoError(t, err)
	require.Len(t, listed.Candidates, 1)

	dest := t.TempDir()
	resp, err := Handle(newContext(t), &Request{
		Scan:        scan.Request{Source: app.SourceTarget{Path: image}, Mode: "quick"},
		Destination: dest,
		Keys:        []string{listed.Candidates[0].Key},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "photo.jpg", resp.Results[0].Name)
	assert.Equal(t, 1, resp.Summary.Counters.Skipped)

	_, err = os.Stat(filepath.Join(dest, "report.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestHandleConfidenceThreshold(t *testing.T) {
	resp, err := Handle(newContext(t), &Request{
		Scan:          scan.Request{Source: app.SourceTarget{Path: writeImage(t)}, Mode: "quick"},
		Destination:   t.TempDir(),
		MinConfidence: 0.99,
	})
	require.NoError(t, err)
	assert.Zero(t, resp.Selected)
	assert.Empty(t, resp.Results)
}

func TestHandleErrors(t *testing.T) {
	image := writeImage(t)
	tests := []struct {
		name    string
		request *Request
		errCode string
	}{
		{
			name:    "unknown key",
			request: &Request{Scan: scan.Request{Source: app.SourceTarget{Path: image}, Mode: "quick"}, Destination: t.TempDir(), Keys: []string{"ntfs:999999"}},
			errCode: app.ErrCodeCandidateMissing,
		},
		{
			name:    "s3 without a bucket",
			request: &Request{Scan: scan.Request{Source: app.SourceTarget{Path: image}, Mode: "quick"}, UseS3: true},
			errCode: app.ErrCodeInvalidInput,
		},
		{
			name:    "partition mode",
			request: &Request{Scan: scan.Request{Source: app.SourceTarget{Path: image}, Mode: "partition"}, Destination: t.TempDir()},
			errCode: app.ErrCodeInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Handle(newContext(t), tt.request)
			require.Error(t, err)
			assert.Equal(t, tt.errCode, app.ErrorCode(err))
		})
	}
}

func TestHandleUnreadableSourceLeavesNoDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "recovered")
	_, err := Handle(newContext(t), &Request{
		Scan:        scan.Request{Source: app.SourceTarget{Path: filepath.Join(t.TempDir(), "missing.img")}, Mode: "quick"},
		Destination: dest,
	})
	require.Error(t, err)
	assert.Equal(t, app.ErrCodeSourceAccess, app.ErrorCode(err))

	_, statErr := os.Stat(dest)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestFinish(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		errCode         string
		wantResponse    bool
		wantInterrupted bool
	}{
		{name: "success", wantResponse: true},
		{name: "cancelled", err: context.Canceled, wantResponse: true, wantInterrupted: true},
		{name: "deadline", err: fmt.Errorf("copy: %w", context.DeadlineExceeded), wantResponse: true, wantInterrupted: true},
		{name: "unknown key", err: types.ErrCandidateNotFound, errCode: app.ErrCodeCandidateMissing},
		{name: "destination", err: fmt.Errorf("%w: disk full", types.ErrDestinationIO), errCode: app.ErrCodeDestination, wantResponse: true},
		{name: "bad transition", err: types.ErrInvalidTransition, errCode: app.ErrCodeRecoveryFailed, wantResponse: true},
		{name: "closed session", err: types.ErrSessionClosed, errCode: app.ErrCodeRecoveryFailed, wantResponse: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := finish(&Response{}, tt.err)
			if tt.errCode == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.errCode, app.ErrorCode(err))
				assert.ErrorIs(t, err, tt.err)
			}
			if !tt.wantResponse {
				assert.Nil(t, resp)
				return
			}
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantInterrupted, resp.Interrupted != "")
		})
	}
}
