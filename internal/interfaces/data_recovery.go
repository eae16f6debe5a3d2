// File: internal/interfaces/data_recovery.go
package interfaces

// OutputSink is the destination recovered files are written to
type OutputSink interface {
	// Create opens a new object. It never replaces an existing one: an existing
	// name yields types.ErrNameCollision, and a sink that cannot hold sizeHint
	// bytes yields types.ErrQuotaExceeded.
	Create(name string, sizeHint uint64) (WritableHandle, error)

	// Remove deletes an object created by the sink, such as a file whose
	// copy failed half way. A missing object is not an error.
	Remove(name string) error
}

// WritableHandle receives the content of one recovered file
type WritableHandle interface {
	// Append writes data at the end of the object
	Append(data []byte) error

	// Close flushes and finalizes the object
	Close() error
}

// LocatableSink reports where an object created by the sink lives
type LocatableSink interface {
	// Location returns a user-facing path or URL for name
	Location(name string) string
}

// ProgressReporter consumes progress events of a scan or extraction
type ProgressReporter interface {
	// OnProgress receives a non-decreasing percentage and a status message
	OnProgress(percentage int, message string)

	// OnComplete is called once when the operation finishes
	OnComplete()
}
