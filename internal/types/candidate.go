package types

import (
	"fmt"
)

// EvidenceSource names the strategy family that produced a candidate.
type EvidenceSource int

const (
	EvidenceMetadataWalk EvidenceSource = iota
	EvidenceSignatureCarve
)

// String returns the evidence source name
func (e EvidenceSource) String() string {
	switch e {
	case EvidenceMetadataWalk:
		return "metadata-walk"
	case EvidenceSignatureCarve:
		return "signature-carve"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (e EvidenceSource) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Identity is the best known name and location of a candidate.
type Identity struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
	// Synthesized is set when no original name survived.
	Synthesized bool `json:"synthesized" yaml:"synthesized"`
}

// CandidateFile is a file the scan believes may be recoverable.
type CandidateFile struct {
	Key      string   `json:"key" yaml:"key"`
	Identity Identity `json:"identity" yaml:"identity"`

	ByteRanges      []ByteRange `json:"byte_ranges" yaml:"byte_ranges"`
	DeclaredSize    uint64      `json:"declared_size,omitempty" yaml:"declared_size,omitempty"`
	HasDeclaredSize bool        `json:"has_declared_size" yaml:"has_declared_size"`

	FileType   FileType       `json:"file_type" yaml:"file_type"`
	Timestamps Timestamps     `json:"timestamps" yaml:"timestamps"`
	Evidence   EvidenceSource `json:"evidence" yaml:"evidence"`
	// Strategy is the metadata strategy or "carve".
	Strategy string `json:"strategy" yaml:"strategy"`
	// FormatID is the signature format for carved candidates.
	FormatID string `json:"format_id,omitempty" yaml:"format_id,omitempty"`

	Confidence float64 `json:"confidence" yaml:"confidence"`
	Status     Status  `json:"status" yaml:"status"`

	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	Encrypted  bool `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`

	// OverlapsLive is set when a range is also claimed by a live file.
	OverlapsLive bool `json:"overlaps_live,omitempty" yaml:"overlaps_live,omitempty"`
	// Corroborated is set when an independent strategy confirmed the candidate's start.
	Corroborated bool `json:"corroborated,omitempty" yaml:"corroborated,omitempty"`

	// EvidenceGaps lists ranges that could not be read while scanning.
	EvidenceGaps []ByteRange `json:"evidence_gaps,omitempty" yaml:"evidence_gaps,omitempty"`
}

// Size returns the number of bytes covered by the byte ranges
func (c *CandidateFile) Size() uint64 {
	return TotalLength(c.ByteRanges)
}

// SizeConsistent reports whether the declared size matches the ranges.
func (c *CandidateFile) SizeConsistent() bool {
	return c.HasDeclaredSize && c.DeclaredSize == c.Size()
}

// Fragments returns the number of non-contiguous pieces
func (c *CandidateFile) Fragments() int {
	if len(c.ByteRanges) == 0 {
		return 0
	}
	return Discontinuities(c.ByteRanges) + 1
}

// Validate checks the range invariants against the volume capacity
func (c *CandidateFile) Validate(capacity uint64) error {
	if c.Key == "" {
		return fmt.Errorf("candidate has no key")
	}
	if err := ValidateRanges(c.ByteRanges, capacity); err != nil {
		return fmt.Errorf("candidate %s: %w", c.Key, err)
	}
	return nil
}

// Transition moves the candidate to next if the lifecycle allows it.
func (c *CandidateFile) Transition(next Status) error {
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (candidate %s)", ErrInvalidTransition, c.Status, next, c.Key)
	}
	c.Status = next
	return nil
}

// Clone returns a deep copy
func (c *CandidateFile) Clone() *CandidateFile {
	out := *c
	out.ByteRanges = append([]ByteRange(nil), c.ByteRanges...)
	out.EvidenceGaps = append([]ByteRange(nil), c.EvidenceGaps...)
	return &out
}

// DisplayName returns a name suitable for a destination object.
func (c *CandidateFile) DisplayName() string {
	if c.Identity.Name != "" {
		return c.Identity.Name
	}
	return c.Key
}
