package app

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// SourceTarget selects the volume a command reads
type SourceTarget struct {
	Path string
	// Offset and Length narrow the source to one partition of a disk image.
	// A zero Length extends to the end of the source.
	Offset uint64
	Length uint64
}

// Validate ensures the source target is usable
func (st *SourceTarget) Validate() error {
	if st.Path == "" {
		return errors.New("source path is required")
	}
	if st.Length > 0 && st.Offset+st.Length < st.Offset {
		return errors.New("source window overflows")
	}
	return nil
}

// IsWindow reports whether only part of the source is read
func (st *SourceTarget) IsWindow() bool {
	return st.Offset > 0 || st.Length > 0
}

// String returns a string representation of the source target
func (st *SourceTarget) String() string {
	if !st.IsWindow() {
		return st.Path
	}
	if st.Length == 0 {
		return fmt.Sprintf("%s @ %d", st.Path, st.Offset)
	}
	return fmt.Sprintf("%s @ %d+%d", st.Path, st.Offset, st.Length)
}

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeSourceAccess     = "SOURCE_ACCESS"
	ErrCodeVolumeUnreadable = "VOLUME_UNREADABLE"
	ErrCodeCandidateMissing = "CANDIDATE_NOT_FOUND"
	ErrCodeDestination      = "DESTINATION"
	ErrCodeScanFailed       = "SCAN_FAILED"
	ErrCodeRecoveryFailed   = "RECOVERY_FAILED"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeTimeout          = "TIMEOUT"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode returns the code of the first CommonError in err's chain, or
// the empty string
func ErrorCode(err error) string {
	var ce *CommonError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ClassifyScanError wraps a scan error with the code that describes it
func ClassifyScanError(err error) error {
	switch {
	case errors.Is(err, types.ErrVolumeUnreadable):
		return NewError(ErrCodeVolumeUnreadable, "volume cannot be read", err)
	default:
		return NewError(ErrCodeScanFailed, "scan failed", err)
	}
}
