package types

// RecoveryResult is the terminal outcome of one extracted candidate.
type RecoveryResult struct {
	CandidateKey    string  `json:"candidate_key" yaml:"candidate_key"`
	Name            string  `json:"name" yaml:"name"`
	Status          Status  `json:"status" yaml:"status"`
	RecoveredBytes  uint64  `json:"recovered_bytes" yaml:"recovered_bytes"`
	DestinationPath string  `json:"destination_path,omitempty" yaml:"destination_path,omitempty"`
	FailureReason   string  `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	Confidence      float64 `json:"confidence" yaml:"confidence"`

	// Gaps are file-relative ranges that were zero-filled because they were unreadable.
	Gaps        []ByteRange `json:"gaps,omitempty" yaml:"gaps,omitempty"`
	Checksum    string      `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	ContentType string      `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Compressed  bool        `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	Encrypted   bool        `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
}

// Succeeded reports whether any content reached the destination
func (r RecoveryResult) Succeeded() bool {
	return r.Status == StatusRecovered || r.Status == StatusPartiallyRecovered
}
