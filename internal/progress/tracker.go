// Package progress coalesces fine-grained work updates into the bounded
// stream of percentage events a ProgressReporter expects.
package progress

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
)

// DefaultInterval is the minimum time between events that only change the message
const DefaultInterval = 250 * time.Millisecond

// Tracker forwards progress to a reporter. An event is emitted when the
// percentage grows by at least one point, or when the message changed and
// the interval has passed since the last event. Percentages never decrease.
// A Tracker is safe for concurrent use.
type Tracker struct {
	reporter interfaces.ProgressReporter
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	current  int
	lastPct  int
	lastMsg  string
	lastEmit time.Time
	done     bool
	events   int
}

// NewTracker creates a tracker. A nil reporter discards events and a
// non-positive interval uses DefaultInterval.
func NewTracker(reporter interfaces.ProgressReporter, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		reporter: reporter,
		interval: interval,
		now:      time.Now,
		lastPct:  -1,
	}
}

// Update reports the completed fraction of the operation, in [0, 1]
func (t *Tracker) Update(fraction float64, message string) {
	t.Set(percent(fraction), message)
}

// Set reports an absolute percentage
func (t *Tracker) Set(pct int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	pct = min(max(pct, t.current), 100)
	t.current = pct

	now := t.now()
	switch {
	case pct > t.lastPct:
	case message != t.lastMsg && now.Sub(t.lastEmit) >= t.interval:
	default:
		return
	}
	t.emit(pct, message, now)
}

// Complete emits 100% if it was not reached yet and signals completion.
// Later calls and updates are ignored.
func (t *Tracker) Complete(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	t.done = true
	if t.lastPct < 100 {
		t.current = 100
		t.emit(100, message, t.now())
	}
	if t.reporter != nil {
		t.reporter.OnComplete()
	}
}

// Abort signals completion without moving to 100%, for an operation that
// stopped early
func (t *Tracker) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	t.done = true
	if t.reporter != nil {
		t.reporter.OnComplete()
	}
}

// Current returns the latest percentage
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Events returns how many progress events were emitted
func (t *Tracker) Events() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// emit must be called with mu locked
func (t *Tracker) emit(pct int, message string, now time.Time) {
	t.lastPct = pct
	t.lastMsg = message
	t.lastEmit = now
	t.events++
	if t.reporter != nil {
		t.reporter.OnProgress(pct, message)
	}
}

// Phase maps its own [0, 1] progress onto the [From, To] percentage range of a tracker
type Phase struct {
	tracker  *Tracker
	From, To int
}

// Phase returns a sub-range of the tracker
func (t *Tracker) Phase(from, to int) *Phase {
	from = min(max(from, 0), 100)
	to = min(max(to, from), 100)
	return &Phase{tracker: t, From: from, To: to}
}

// Update reports the completed fraction of the phase
func (p *Phase) Update(fraction float64, message string) {
	if p == nil || p.tracker == nil {
		return
	}
	fraction = min(max(fraction, 0), 1)
	p.tracker.Set(p.From+int(math.Floor(fraction*float64(p.To-p.From))), message)
}

// Done moves the tracker to the end of the phase
func (p *Phase) Done(message string) {
	p.Update(1, message)
}

// Counter turns units of work into phase updates. Add may be called from
// many goroutines.
type Counter struct {
	phase *Phase
	total uint64
	done  atomic.Uint64
}

// NewCounter creates a counter for total units of work
func NewCounter(phase *Phase, total uint64) *Counter {
	return &Counter{phase: phase, total: total}
}

// Add records n finished units
func (c *Counter) Add(n uint64, message string) {
	done := c.done.Add(n)
	if c.total == 0 {
		c.phase.Update(1, message)
		return
	}
	c.phase.Update(float64(done)/float64(c.total), message)
}

// Done returns the finished units so far
func (c *Counter) Done() uint64 {
	return c.done.Load()
}

func percent(fraction float64) int {
	if math.IsNaN(fraction) || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return 100
	}
	return int(math.Floor(fraction * 100))
}
