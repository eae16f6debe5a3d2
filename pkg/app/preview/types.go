package preview

import (
	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

// DefaultBytes is how much of a candidate is shown when no length is given
const DefaultBytes = 256

// Request represents a preview of one candidate's content
type Request struct {
	Scan scan.Request
	Key  string
	// Offset and Length select the part of the content to show
	Offset int64
	Length int
}

// Response holds the previewed bytes
type Response struct {
	Candidate   scan.CandidateResult `json:"candidate" yaml:"candidate"`
	ContentType string               `json:"content_type" yaml:"content_type"`
	Offset      int64                `json:"offset" yaml:"offset"`
	Data        []byte               `json:"data" yaml:"data"`
	// Unreadable is set when the preview stopped at a damaged range
	Unreadable string `json:"unreadable,omitempty" yaml:"unreadable,omitempty"`
}
