package session

import (
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// SelectAll selects every scored candidate with confidence of at least
// minConfidence and returns the selected keys in discovery order.
func (s *Session) SelectAll(minConfidence float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var selected []string
	for _, key := range s.keys {
		c := s.candidates[key]
		if c.Status != types.StatusScored || c.Confidence < minConfidence {
			continue
		}
		if err := c.Transition(types.StatusSelected); err != nil {
			return selected, err
		}
		selected = append(selected, key)
	}
	return selected, nil
}

// Select marks the given candidates for extraction. Already selected
// candidates are left alone.
func (s *Session) Select(keys ...string) error {
	return s.mark(types.StatusSelected, keys)
}

// Skip marks the given candidates as not to be extracted
func (s *Session) Skip(keys ...string) error {
	return s.mark(types.StatusSkipped, keys)
}

func (s *Session) mark(status types.Status, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, key := range keys {
		c, ok := s.candidates[key]
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrCandidateNotFound, key)
		}
		if c.Status == status {
			continue
		}
		if err := c.Transition(status); err != nil {
			return err
		}
		if status == types.StatusSkipped {
			s.counters.Skipped++
		}
	}
	return nil
}

// SkipUnselected moves every scored candidate that was not selected to
// Skipped and returns how many were moved.
func (s *Session) SkipUnselected() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkOpen() != nil {
		return 0
	}
	n := 0
	for _, key := range s.keys {
		c := s.candidates[key]
		if c.Status == types.StatusScored && c.Transition(types.StatusSkipped) == nil {
			n++
		}
	}
	s.counters.Skipped += n
	return n
}

// Selected returns the keys of selected candidates in discovery order
func (s *Session) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, key := range s.keys {
		if s.candidates[key].Status == types.StatusSelected {
			out = append(out, key)
		}
	}
	return out
}

// OrderKeys returns keys sorted by discovery order. Unknown keys are returned
// as an error.
func (s *Session) OrderKeys(keys []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(keys))
	for _, key := range keys {
		if _, ok := s.candidates[key]; !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrCandidateNotFound, key)
		}
		wanted[key] = true
	}
	out := make([]string, 0, len(wanted))
	for _, key := range s.keys {
		if wanted[key] {
			out = append(out, key)
		}
	}
	return out, nil
}

// BeginRecovery moves a selected candidate to Recovering and returns a copy
// of it for the extractor.
func (s *Session) BeginRecovery(key string) (*types.CandidateFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.transition(key, types.StatusRecovering); err != nil {
		return nil, err
	}
	return s.candidates[key].Clone(), nil
}

// RecordResult stores the terminal outcome of a recovering candidate
func (s *Session) RecordResult(res types.RecoveryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if !res.Status.IsTerminal() || res.Status == types.StatusSkipped {
		return fmt.Errorf("%w: result status %s for %s", types.ErrInvalidTransition, res.Status, res.CandidateKey)
	}
	if err := s.transition(res.CandidateKey, res.Status); err != nil {
		return err
	}

	res.Confidence = s.candidates[res.CandidateKey].Confidence
	s.results[res.CandidateKey] = res
	switch res.Status {
	case types.StatusRecovered:
		s.counters.Recovered++
	case types.StatusPartiallyRecovered:
		s.counters.PartiallyRecovered++
	case types.StatusFailed:
		s.counters.Failed++
	}
	s.counters.BytesRecovered += res.RecoveredBytes
	return nil
}

// Result returns the recorded outcome of key
func (s *Session) Result(key string) (types.RecoveryResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[key]
	return res, ok
}

// Results returns every recorded outcome in discovery order
func (s *Session) Results() []types.RecoveryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.RecoveryResult, 0, len(s.results))
	for _, key := range s.keys {
		if res, ok := s.results[key]; ok {
			out = append(out, res)
		}
	}
	return out
}
