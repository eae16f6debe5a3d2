package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-recovery/pkg/app"
)

func TestRequest_Validate(t *testing.T) {
	source := app.SourceTarget{Path: "/dev/sdb"}
	tests := []struct {
		name    string
		request Request
		wantErr bool
	}{
		{"valid quick scan", Request{Source: source, Mode: "quick"}, false},
		{"valid deep scan of photos", Request{Source: source, Mode: "deep", FileType: "photos"}, false},
		{"valid partition window", Request{Source: app.SourceTarget{Path: "disk.img", Offset: 1 << 20}, Mode: "partition"}, false},
		{"missing source", Request{Mode: "quick"}, true},
		{"missing mode", Request{Source: source}, true},
		{"unknown file type", Request{Source: source, Mode: "raw", FileType: "spreadsheets"}, true},
		{"confidence above one", Request{Source: source, Mode: "raw", MinConfidence: 1.5}, true},
		{"negative limit", Request{Source: source, Mode: "raw", MaxResults: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, app.ErrCodeInvalidInput, app.ErrorCode(err))
		})
	}
}
