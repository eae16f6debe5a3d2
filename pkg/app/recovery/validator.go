package recovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// Validate validates a recovery request
func (r *Request) Validate() error {
	if err := r.Scan.Validate(); err != nil {
		return err
	}
	if mode, _ := types.ParseScanMode(r.Scan.Mode); mode == types.ScanPartition {
		return app.NewError(app.ErrCodeInvalidInput, "a partition scan finds volumes, not files; scan a volume with quick, deep or raw", nil)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return app.NewError(app.ErrCodeInvalidInput, "min confidence must be between 0 and 1", nil)
	}
	if !r.UseS3 {
		if err := ValidateDestination(r.Destination); err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "invalid destination", err)
		}
	}
	return nil
}

// ValidateDestination accepts a directory, or a path whose parent directory
// exists
func ValidateDestination(dest string) error {
	if dest == "" {
		return errors.New("destination is required")
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	if info, err := os.Stat(abs); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", abs)
		}
		return nil
	}
	parent := filepath.Dir(abs)
	info, err := os.Stat(parent)
	if err != nil {
		return fmt.Errorf("parent directory %s does not exist", parent)
	}
	if !info.IsDir() {
		return fmt.Errorf("parent %s is not a directory", parent)
	}
	return nil
}
