// Package session holds the state of one scan-then-recover workflow against
// one volume. A Session is safe for concurrent use: scan workers insert
// through a single locked section and extraction workers update statuses.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// VolumeRef describes the volume a session was created for
type VolumeRef struct {
	Path       string `json:"path" yaml:"path"`
	Type       string `json:"type" yaml:"type"`
	Capacity   uint64 `json:"capacity" yaml:"capacity"`
	SectorSize uint32 `json:"sector_size" yaml:"sector_size"`
}

// Counters are the summary counters of a session
type Counters struct {
	Found              int    `json:"found" yaml:"found"`
	FoundByMetadata    int    `json:"found_by_metadata" yaml:"found_by_metadata"`
	FoundByCarving     int    `json:"found_by_carving" yaml:"found_by_carving"`
	Filtered           int    `json:"filtered" yaml:"filtered"`
	Discarded          int    `json:"discarded" yaml:"discarded"`
	Recovered          int    `json:"recovered" yaml:"recovered"`
	PartiallyRecovered int    `json:"partially_recovered" yaml:"partially_recovered"`
	Failed             int    `json:"failed" yaml:"failed"`
	Skipped            int    `json:"skipped" yaml:"skipped"`
	BytesRecovered     uint64 `json:"bytes_recovered" yaml:"bytes_recovered"`
}

// Diagnostics collects the non-fatal conditions met while scanning
type Diagnostics struct {
	// Malformed counts skipped metadata entries per strategy
	Malformed  map[string]int    `json:"malformed" yaml:"malformed"`
	Unreadable []types.ByteRange `json:"unreadable" yaml:"unreadable"`
	Warnings   []string          `json:"warnings" yaml:"warnings"`
}

// MalformedTotal sums the malformed entries of every strategy
func (d Diagnostics) MalformedTotal() int {
	total := 0
	for _, n := range d.Malformed {
		total += n
	}
	return total
}

// Session is the aggregate of one scan and its recoveries
type Session struct {
	mu sync.RWMutex

	id     uuid.UUID
	volume VolumeRef
	mode   types.ScanMode
	filter types.FileType
	now    func() time.Time

	keys       []string
	candidates map[string]*types.CandidateFile
	volumes    []types.CandidateVolume
	results    map[string]types.RecoveryResult

	counters    Counters
	diagnostics Diagnostics

	startedAt      time.Time
	scanFinishedAt time.Time
	completedAt    time.Time
	lastError      error
}

// New creates a session for volume. The filter FileTypeAllData accepts every candidate.
func New(volume VolumeRef, mode types.ScanMode, filter types.FileType) *Session {
	return newWithClock(volume, mode, filter, time.Now)
}

func newWithClock(volume VolumeRef, mode types.ScanMode, filter types.FileType, now func() time.Time) *Session {
	return &Session{
		id:          uuid.New(),
		volume:      volume,
		mode:        mode,
		filter:      filter,
		now:         now,
		candidates:  make(map[string]*types.CandidateFile),
		results:     make(map[string]types.RecoveryResult),
		diagnostics: Diagnostics{Malformed: make(map[string]int)},
		startedAt:   now(),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id.String()
}

// Volume returns the volume reference
func (s *Session) Volume() VolumeRef {
	return s.volume
}

// Mode returns the scan mode
func (s *Session) Mode() types.ScanMode {
	return s.mode
}

// Filter returns the file type filter
func (s *Session) Filter() types.FileType {
	return s.filter
}

// Accepts reports whether a candidate of type t passes the session filter
func (s *Session) Accepts(t types.FileType) bool {
	return s.filter.Matches(t)
}

// Insert adds a candidate at the end of the discovery order. A candidate the
// filter rejects is counted and dropped; Insert then returns false.
func (s *Session) Insert(c *types.CandidateFile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if !s.filter.Matches(c.FileType) {
		s.counters.Filtered++
		return false, nil
	}
	if _, exists := s.candidates[c.Key]; exists {
		return false, fmt.Errorf("candidate %s already exists", c.Key)
	}
	if err := c.Validate(s.volume.Capacity); err != nil {
		return false, err
	}

	s.keys = append(s.keys, c.Key)
	s.candidates[c.Key] = c.Clone()
	s.counters.Found++
	switch c.Evidence {
	case types.EvidenceMetadataWalk:
		s.counters.FoundByMetadata++
	case types.EvidenceSignatureCarve:
		s.counters.FoundByCarving++
	}
	return true, nil
}

// Discard records a candidate dropped as a duplicate of an existing one
func (s *Session) Discard() {
	s.mu.Lock()
	s.counters.Discarded++
	s.mu.Unlock()
}

// Update applies fn to a copy of the candidate and stores the copy if fn
// succeeds. The key and byte ranges must stay valid.
func (s *Session) Update(key string, fn func(c *types.CandidateFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	current, ok := s.candidates[key]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrCandidateNotFound, key)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if next.Key != key {
		return fmt.Errorf("candidate %s: key cannot change", key)
	}
	if err := next.Validate(s.volume.Capacity); err != nil {
		return err
	}
	s.candidates[key] = next
	return nil
}

// Get returns a copy of the candidate stored under key
func (s *Session) Get(key string) (*types.CandidateFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidates[key]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Len returns the number of candidates
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Keys returns candidate keys in discovery order
func (s *Session) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.keys...)
}

// Candidates returns copies of all candidates in discovery order
func (s *Session) Candidates() []*types.CandidateFile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.CandidateFile, len(s.keys))
	for i, key := range s.keys {
		out[i] = s.candidates[key].Clone()
	}
	return out
}

// AddVolume records a volume found by a partition scan
func (s *Session) AddVolume(v types.CandidateVolume) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	s.volumes = append(s.volumes, v)
	return nil
}

// Volumes returns the candidate volumes in discovery order
func (s *Session) Volumes() []types.CandidateVolume {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.CandidateVolume(nil), s.volumes...)
}

// RecordMalformed counts one skipped metadata entry of strategy
func (s *Session) RecordMalformed(strategy string) {
	s.mu.Lock()
	s.diagnostics.Malformed[strategy]++
	s.mu.Unlock()
}

// RecordUnreadable adds a range that could not be read while scanning
func (s *Session) RecordUnreadable(r types.ByteRange) {
	s.mu.Lock()
	s.diagnostics.Unreadable = append(s.diagnostics.Unreadable, r)
	s.mu.Unlock()
}

// AddWarning records a diagnostic message
func (s *Session) AddWarning(format string, args ...any) {
	s.mu.Lock()
	s.diagnostics.Warnings = append(s.diagnostics.Warnings, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// Diagnostics returns a copy of the scan diagnostics
func (s *Session) Diagnostics() Diagnostics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := Diagnostics{
		Malformed:  make(map[string]int, len(s.diagnostics.Malformed)),
		Unreadable: types.NewRangeSet(s.diagnostics.Unreadable).Ranges(),
		Warnings:   append([]string(nil), s.diagnostics.Warnings...),
	}
	for k, v := range s.diagnostics.Malformed {
		d.Malformed[k] = v
	}
	return d
}

// Counters returns a snapshot of the counters
func (s *Session) Counters() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// FinishScan marks the end of the scan phase. A non-nil err is kept as the
// last error; the candidates found so far stay usable.
func (s *Session) FinishScan(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scanFinishedAt = s.now()
	if err != nil {
		s.lastError = err
	}
}

// Complete closes the session. Afterwards it is read-only and every mutation
// fails with types.ErrSessionClosed.
func (s *Session) Complete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.completedAt.IsZero() {
		return
	}
	if s.scanFinishedAt.IsZero() {
		s.scanFinishedAt = s.now()
	}
	s.completedAt = s.now()
	if err != nil {
		s.lastError = err
	}
}

// Completed reports whether the session is closed
func (s *Session) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.completedAt.IsZero()
}

// StartedAt returns the creation time
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// CompletedAt returns the completion time, zero while open
func (s *Session) CompletedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completedAt
}

// LastError returns the last fatal condition, if any
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Session) checkOpen() error {
	if !s.completedAt.IsZero() {
		return types.ErrSessionClosed
	}
	return nil
}

// transition moves a stored candidate. Must be called with mu locked.
func (s *Session) transition(key string, next types.Status) error {
	c, ok := s.candidates[key]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrCandidateNotFound, key)
	}
	return c.Transition(next)
}

// IsNotFound reports whether err names an unknown candidate
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrCandidateNotFound)
}
