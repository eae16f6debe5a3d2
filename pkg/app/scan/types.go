package scan

import (
	"time"

	"github.com/deploymenttheory/go-recovery/internal/session"
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// Request represents a scan request
type Request struct {
	Source   app.SourceTarget
	Mode     string
	FileType string

	// MinConfidence hides candidates scored below it
	MinConfidence float64
	// MaxResults truncates the candidate list; zero lists everything
	MaxResults int
}

// Response represents scan results
type Response struct {
	Summary     session.Summary         `json:"summary" yaml:"summary"`
	Candidates  []CandidateResult       `json:"candidates" yaml:"candidates"`
	Volumes     []types.CandidateVolume `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Diagnostics session.Diagnostics     `json:"diagnostics" yaml:"diagnostics"`
	// Shown is how many candidates passed MinConfidence
	Shown     int  `json:"shown" yaml:"shown"`
	Truncated bool `json:"truncated" yaml:"truncated"`
	// Interrupted holds the reason a scan stopped early
	Interrupted string        `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	ScanTime    time.Duration `json:"scan_time" yaml:"scan_time"`
}

// CandidateResult represents one candidate file
type CandidateResult struct {
	Key          string     `json:"key" yaml:"key"`
	Name         string     `json:"name" yaml:"name"`
	Path         string     `json:"path" yaml:"path"`
	Synthesized  bool       `json:"synthesized" yaml:"synthesized"`
	Type         string     `json:"type" yaml:"type"`
	Size         uint64     `json:"size" yaml:"size"`
	Fragments    int        `json:"fragments" yaml:"fragments"`
	Confidence   float64    `json:"confidence" yaml:"confidence"`
	Evidence     string     `json:"evidence" yaml:"evidence"`
	Strategy     string     `json:"strategy" yaml:"strategy"`
	Modified     *time.Time `json:"modified,omitempty" yaml:"modified,omitempty"`
	OverlapsLive bool       `json:"overlaps_live,omitempty" yaml:"overlaps_live,omitempty"`
	Corroborated bool       `json:"corroborated,omitempty" yaml:"corroborated,omitempty"`
	Compressed   bool       `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	Encrypted    bool       `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
	// UnreadableBytes were skipped while scanning the candidate's ranges
	UnreadableBytes uint64 `json:"unreadable_bytes,omitempty" yaml:"unreadable_bytes,omitempty"`
}

// ConfidenceClass groups scores for display
type ConfidenceClass string

const (
	ConfidenceHigh   ConfidenceClass = "high"   // >= 0.8
	ConfidenceMedium ConfidenceClass = "medium" // >= 0.5
	ConfidenceLow    ConfidenceClass = "low"
)

// GetConfidenceClass returns the display class of the candidate's score
func (c *CandidateResult) GetConfidenceClass() ConfidenceClass {
	switch {
	case c.Confidence >= 0.8:
		return ConfidenceHigh
	case c.Confidence >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// FullPath joins the recovered directory and name
func (c *CandidateResult) FullPath() string {
	if c.Path == "" || c.Path == "/" {
		return "/" + c.Name
	}
	return c.Path + "/" + c.Name
}

// NewCandidateResult flattens a candidate for output
func NewCandidateResult(c *types.CandidateFile) CandidateResult {
	return CandidateResult{
		Key:             c.Key,
		Name:            c.DisplayName(),
		Path:            c.Identity.Path,
		Synthesized:     c.Identity.Synthesized,
		Type:            c.FileType.Tag(),
		Size:            c.Size(),
		Fragments:       c.Fragments(),
		Confidence:      c.Confidence,
		Evidence:        c.Evidence.String(),
		Strategy:        c.Strategy,
		Modified:        c.Timestamps.Modified,
		OverlapsLive:    c.OverlapsLive,
		Corroborated:    c.Corroborated,
		Compressed:      c.Compressed,
		Encrypted:       c.Encrypted,
		UnreadableBytes: types.TotalLength(c.EvidenceGaps),
	}
}
