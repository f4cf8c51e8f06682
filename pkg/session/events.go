package session

import (
	"time"

	"streamscraper/pkg/backoff"
	"streamscraper/pkg/models"
)

// EventType identifies what happened in the read loop
type EventType int

const (
	EventStarted EventType = iota
	EventConnected
	EventRecord
	EventRollover
	EventDecodeError
	EventWriteFailure
	EventBackoff
	EventStopped
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventConnected:
		return "connected"
	case EventRecord:
		return "record"
	case EventRollover:
		return "rollover"
	case EventDecodeError:
		return "decode_error"
	case EventWriteFailure:
		return "write_failure"
	case EventBackoff:
		return "backoff"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Phase is the coarse session state shown to operators
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseStreaming  Phase = "streaming"
	PhaseCooling    Phase = "cooling"
	PhaseStopped    Phase = "stopped"
	PhaseFailed     Phase = "failed"
)

// Event is delivered to observers synchronously from the read loop
type Event struct {
	Type  EventType
	Time  time.Time
	Phase Phase
	// Stats is a copy of the counters after the event was applied
	Stats    models.Stats
	Rollover *models.RolloverEvent
	Backoff  backoff.Status
	// Err is set for decode errors, write failures, backoffs and failed stops
	Err error
}

// Observer receives session events. OnEvent runs on the read loop and must
// return quickly.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(Event)

// OnEvent calls f
func (f ObserverFunc) OnEvent(e Event) { f(e) }
