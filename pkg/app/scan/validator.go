package scan

import (
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// Validate validates a scan request
func (r *Request) Validate() error {
	if err := r.Source.Validate(); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid source", err)
	}
	if _, _, err := r.parse(); err != nil {
		return err
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return app.NewError(app.ErrCodeInvalidInput, "min confidence must be between 0 and 1", nil)
	}
	if r.MaxResults < 0 {
		return app.NewError(app.ErrCodeInvalidInput, "max results cannot be negative", nil)
	}
	return nil
}

// parse converts the mode and file type spellings
func (r *Request) parse() (types.ScanMode, types.FileType, error) {
	mode, err := types.ParseScanMode(r.Mode)
	if err != nil {
		return 0, 0, app.NewError(app.ErrCodeInvalidInput, "invalid scan mode", err)
	}
	filter, err := types.ParseFileType(r.FileType)
	if err != nil {
		return 0, 0, app.NewError(app.ErrCodeInvalidInput, "invalid file type", err)
	}
	return mode, filter, nil
}
