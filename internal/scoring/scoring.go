// Package scoring assigns recoverability scores to candidate files. Scores
// depend only on the evidence recorded on the candidate.
package scoring

import (
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// Weights of the score
const (
	MetadataBaseline     = 0.9
	CarveBaseline        = 0.5
	FragmentPenalty      = 0.05
	FragmentFloor        = 0.1
	SizeConsistencyBonus = 0.1
	OverwriteRiskPenalty = 0.2
	CorroborationBonus   = 0.05
)

// Breakdown shows how a score was reached
type Breakdown struct {
	Baseline      float64 `json:"baseline" yaml:"baseline"`
	Fragmentation float64 `json:"fragmentation" yaml:"fragmentation"`
	SizeBonus     float64 `json:"size_bonus" yaml:"size_bonus"`
	OverwriteRisk float64 `json:"overwrite_risk" yaml:"overwrite_risk"`
	Corroboration float64 `json:"corroboration" yaml:"corroboration"`
	Score         float64 `json:"score" yaml:"score"`
}

// Explain scores c and returns every contribution. The fragmentation floor
// applies to the baseline minus the fragmentation penalty; the later terms
// can still move the score below it before the final clamp.
func Explain(c *types.CandidateFile) Breakdown {
	var b Breakdown
	switch c.Evidence {
	case types.EvidenceMetadataWalk:
		b.Baseline = MetadataBaseline
	default:
		b.Baseline = CarveBaseline
	}

	score := b.Baseline
	if extra := c.Fragments() - 1; extra > 0 {
		penalized := max(score-FragmentPenalty*float64(extra), FragmentFloor)
		b.Fragmentation = penalized - score
		score = penalized
	}
	if c.SizeConsistent() {
		b.SizeBonus = SizeConsistencyBonus
		score += b.SizeBonus
	}
	if c.OverlapsLive {
		b.OverwriteRisk = -OverwriteRiskPenalty
		score += b.OverwriteRisk
	}
	if c.Corroborated {
		b.Corroboration = CorroborationBonus
		score += b.Corroboration
	}

	b.Score = clamp(score)
	return b
}

// Score returns the confidence of c in [0, 1]
func Score(c *types.CandidateFile) float64 {
	return Explain(c).Score
}

// Apply scores c and moves it to Scored. A candidate that is already scored
// is re-scored; its confidence never decreases.
func Apply(c *types.CandidateFile) error {
	score := Score(c)
	switch c.Status {
	case types.StatusDiscovered:
		if err := c.Transition(types.StatusScored); err != nil {
			return err
		}
		c.Confidence = score
	case types.StatusScored:
		if err := c.Transition(types.StatusScored); err != nil {
			return err
		}
		c.Confidence = max(c.Confidence, score)
	default:
		return fmt.Errorf("%w: cannot score candidate %s in state %s", types.ErrInvalidTransition, c.Key, c.Status)
	}
	return nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
