package chat

import "fmt"

// EventKind discriminates decoded stream events.
type EventKind int

const (
	// EventDelta carries an incremental fragment of assistant text.
	EventDelta EventKind = iota + 1
	// EventSentinel is the explicit end-of-response marker.
	EventSentinel
	// EventClose is the natural end of the transport stream.
	EventClose
	// EventError is a transport or protocol failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventSentinel:
		return "sentinel"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one logical unit produced by a decoder or by the transport.
type Event struct {
	Kind  EventKind
	Delta string
	Err   error
}

func DeltaEvent(text string) Event { return Event{Kind: EventDelta, Delta: text} }

func SentinelEvent() Event { return Event{Kind: EventSentinel} }

func CloseEvent() Event { return Event{Kind: EventClose} }

func ErrorEvent(err error) Event { return Event{Kind: EventError, Err: err} }
