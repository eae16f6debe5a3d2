package types

// Status is the lifecycle state of a candidate file.
type Status int

const (
	StatusDiscovered Status = iota
	StatusScored
	StatusSelected
	StatusSkipped
	StatusRecovering
	StatusRecovered
	StatusPartiallyRecovered
	StatusFailed
)

var statusNames = map[Status]string{
	StatusDiscovered:         "discovered",
	StatusScored:             "scored",
	StatusSelected:           "selected",
	StatusSkipped:            "skipped",
	StatusRecovering:         "recovering",
	StatusRecovered:          "recovered",
	StatusPartiallyRecovered: "partially_recovered",
	StatusFailed:             "failed",
}

// String returns the lowercase status name
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSkipped, StatusRecovered, StatusPartiallyRecovered, StatusFailed:
		return true
	}
	return false
}

// transitions lists the allowed successor states. Scored -> Scored is the
// re-score path and the only backward edge.
var transitions = map[Status][]Status{
	StatusDiscovered: {StatusScored},
	StatusScored:     {StatusScored, StatusSelected, StatusSkipped},
	StatusSelected:   {StatusRecovering, StatusSkipped},
	StatusRecovering: {StatusRecovered, StatusPartiallyRecovered, StatusFailed},
}

// CanTransition reports whether a candidate may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
