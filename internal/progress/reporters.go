package progress

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
)

// ReporterFunc adapts a function to a ProgressReporter with a no-op OnComplete
type ReporterFunc func(percentage int, message string)

// OnProgress calls f
func (f ReporterFunc) OnProgress(percentage int, message string) {
	f(percentage, message)
}

// OnComplete does nothing
func (f ReporterFunc) OnComplete() {}

// Event is one progress update delivered by a ChannelReporter
type Event struct {
	Percentage int
	Message    string
}

// ChannelReporter delivers events on a buffered channel. Events that do not
// fit in the buffer are dropped; the channel is closed on completion.
type ChannelReporter struct {
	ch   chan Event
	once sync.Once
}

// NewChannelReporter creates a reporter with the given buffer size
func NewChannelReporter(buffer int) *ChannelReporter {
	return &ChannelReporter{ch: make(chan Event, max(buffer, 1))}
}

// Events returns the receive side of the channel
func (r *ChannelReporter) Events() <-chan Event {
	return r.ch
}

// OnProgress sends the event if the buffer has room
func (r *ChannelReporter) OnProgress(percentage int, message string) {
	select {
	case r.ch <- Event{Percentage: percentage, Message: message}:
	default:
	}
}

// OnComplete closes the channel
func (r *ChannelReporter) OnComplete() {
	r.once.Do(func() { close(r.ch) })
}

// LogReporter writes progress events to a zerolog logger
type LogReporter struct {
	logger    zerolog.Logger
	operation string
}

// NewLogReporter logs events of operation at debug level
func NewLogReporter(logger zerolog.Logger, operation string) *LogReporter {
	return &LogReporter{logger: logger, operation: operation}
}

// OnProgress logs the event
func (r *LogReporter) OnProgress(percentage int, message string) {
	r.logger.Debug().Str("operation", r.operation).Int("percent", percentage).Msg(message)
}

// OnComplete logs completion
func (r *LogReporter) OnComplete() {
	r.logger.Debug().Str("operation", r.operation).Msg("complete")
}

// Multi fans events out to several reporters. Nil reporters are ignored.
func Multi(reporters ...interfaces.ProgressReporter) interfaces.ProgressReporter {
	var out multiReporter
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiReporter []interfaces.ProgressReporter

func (m multiReporter) OnProgress(percentage int, message string) {
	for _, r := range m {
		r.OnProgress(percentage, message)
	}
}

func (m multiReporter) OnComplete() {
	for _, r := range m {
		r.OnComplete()
	}
}
