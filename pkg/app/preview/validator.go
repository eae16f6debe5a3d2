package preview

import (
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// maxLength bounds a single preview
const maxLength = 1 << 20

// Validate validates a preview request
func (r *Request) Validate() error {
	if err := r.Scan.Validate(); err != nil {
		return err
	}
	if r.Key == "" {
		return app.NewError(app.ErrCodeInvalidInput, "candidate key is required", nil)
	}
	if r.Offset < 0 {
		return app.NewError(app.ErrCodeInvalidInput, "offset cannot be negative", nil)
	}
	if r.Length < 0 || r.Length > maxLength {
		return app.NewError(app.ErrCodeInvalidInput, "length must be between 0 and 1 MiB", nil)
	}
	return nil
}
