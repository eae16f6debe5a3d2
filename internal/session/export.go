package session

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// ExportRecord is the flat per-result record handed to external logging
type ExportRecord struct {
	CandidateKey    string  `json:"candidate_key" yaml:"candidate_key"`
	Name            string  `json:"name" yaml:"name"`
	Size            uint64  `json:"size" yaml:"size"`
	Status          string  `json:"status" yaml:"status"`
	Confidence      float64 `json:"confidence" yaml:"confidence"`
	DestinationPath string  `json:"destination_path,omitempty" yaml:"destination_path,omitempty"`
	FailureReason   string  `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	Checksum        string  `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Export returns one record per recovery result, in discovery order
func (s *Session) Export() []ExportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ExportRecord, 0, len(s.results))
	for _, key := range s.keys {
		res, ok := s.results[key]
		if !ok {
			continue
		}
		c := s.candidates[key]
		size := c.Size()
		if c.HasDeclaredSize {
			size = c.DeclaredSize
		}
		name := res.Name
		if name == "" {
			name = c.DisplayName()
		}
		out = append(out, ExportRecord{
			CandidateKey:    key,
			Name:            name,
			Size:            size,
			Status:          res.Status.String(),
			Confidence:      res.Confidence,
			DestinationPath: res.DestinationPath,
			FailureReason:   res.FailureReason,
			Checksum:        res.Checksum,
		})
	}
	return out
}

// Summary is a printable overview of a session
type Summary struct {
	ID             string    `json:"id" yaml:"id"`
	Volume         VolumeRef `json:"volume" yaml:"volume"`
	Mode           string    `json:"mode" yaml:"mode"`
	Filter         string    `json:"filter" yaml:"filter"`
	Counters       Counters  `json:"counters" yaml:"counters"`
	Volumes        int       `json:"volumes" yaml:"volumes"`
	Malformed      int       `json:"malformed" yaml:"malformed"`
	UnreadableSize uint64    `json:"unreadable_bytes" yaml:"unreadable_bytes"`
	BytesRecovered string    `json:"bytes_recovered_human" yaml:"bytes_recovered_human"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Duration       string    `json:"duration" yaml:"duration"`
	LastError      string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Summary returns the counters and timings of the session
func (s *Session) Summary() Summary {
	d := s.Diagnostics()

	s.mu.RLock()
	defer s.mu.RUnlock()

	end := s.completedAt
	if end.IsZero() {
		end = s.scanFinishedAt
	}
	if end.IsZero() {
		end = s.now()
	}

	sum := Summary{
		ID:             s.id.String(),
		Volume:         s.volume,
		Mode:           s.mode.String(),
		Filter:         s.filter.String(),
		Counters:       s.counters,
		Volumes:        len(s.volumes),
		Malformed:      d.MalformedTotal(),
		UnreadableSize: types.TotalLength(d.Unreadable),
		BytesRecovered: FormatFileSize(s.counters.BytesRecovered),
		StartedAt:      s.startedAt,
		CompletedAt:    s.completedAt,
		Duration:       FormatDuration(end.Sub(s.startedAt)),
	}
	if s.lastError != nil {
		sum.LastError = s.lastError.Error()
	}
	return sum
}

// FormatFileSize renders a byte count for people, e.g. "1.5 MiB"
func FormatFileSize(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// FormatDuration renders an elapsed time rounded for display
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Hour:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
