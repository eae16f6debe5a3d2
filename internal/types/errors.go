package types

import (
	"errors"
	"fmt"
)

// Recovery error taxonomy
var (
	// ErrVolumeUnreadable is fatal to a scan: the start of the volume cannot be read at all.
	ErrVolumeUnreadable = errors.New("volume unreadable")
	// ErrRangeUnreadable marks a byte range that could not be read; recorded per candidate.
	ErrRangeUnreadable = errors.New("range unreadable")
	// ErrMalformedMetadata marks a metadata entry that was skipped.
	ErrMalformedMetadata = errors.New("malformed metadata")
	// ErrNameCollision is returned by a sink when the requested name already exists.
	ErrNameCollision = errors.New("name collision")
	// ErrQuotaExceeded is returned by a sink that cannot hold the object.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrDestinationIO aborts the remainder of an extraction batch.
	ErrDestinationIO = errors.New("destination I/O error")
	// ErrSessionClosed is returned when mutating a completed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCandidateNotFound is returned for an unknown candidate key.
	ErrCandidateNotFound = errors.New("candidate not found")
)

// IOError describes an unreadable region of a volume.
type IOError struct {
	Offset uint64
	Length uint64
	Err    error
}

func (e *IOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("read of %d bytes at offset %d failed: %v", e.Length, e.Offset, e.Err)
	}
	return fmt.Sprintf("read of %d bytes at offset %d failed", e.Length, e.Offset)
}

// Is makes every IOError match ErrRangeUnreadable
func (e *IOError) Is(target error) bool {
	return target == ErrRangeUnreadable
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// MalformedError describes a metadata entry a strategy had to skip.
type MalformedError struct {
	Strategy string
	Entry    string
	Reason   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: malformed entry %s: %s", e.Strategy, e.Entry, e.Reason)
}

// Is makes every MalformedError match ErrMalformedMetadata
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedMetadata
}

// NewMalformedError builds a MalformedError with a formatted reason.
func NewMalformedError(strategy, entry, format string, args ...any) *MalformedError {
	return &MalformedError{Strategy: strategy, Entry: entry, Reason: fmt.Sprintf(format, args...)}
}
