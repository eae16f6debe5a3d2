package recovery

import (
	"time"

	"github.com/deploymenttheory/go-recovery/internal/session"
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

// Request represents a recovery request: a scan followed by extraction of
// the chosen candidates
type Request struct {
	Scan scan.Request

	// Destination is a local directory. It is ignored when UseS3 is set.
	Destination string
	// UseS3 uploads to the bucket of the s3 configuration section
	UseS3 bool

	// Keys picks candidates explicitly; when empty every candidate scored at
	// least MinConfidence is recovered
	Keys          []string
	MinConfidence float64
}

// Response represents recovery results
type Response struct {
	Summary     session.Summary        `json:"summary" yaml:"summary"`
	Destination string                 `json:"destination" yaml:"destination"`
	Selected    int                    `json:"selected" yaml:"selected"`
	Results     []session.ExportRecord `json:"results" yaml:"results"`
	Damaged     []DamagedFile          `json:"damaged,omitempty" yaml:"damaged,omitempty"`
	// Interrupted holds the reason the run stopped early
	Interrupted  string        `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
	RecoveryTime time.Duration `json:"recovery_time" yaml:"recovery_time"`
}

// DamagedFile lists the zero-filled ranges of a partially recovered file
type DamagedFile struct {
	CandidateKey string            `json:"candidate_key" yaml:"candidate_key"`
	Gaps         []types.ByteRange `json:"gaps" yaml:"gaps"`
}

// CountByStatus tallies results per status name
func (r *Response) CountByStatus() map[string]int {
	counts := make(map[string]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}
