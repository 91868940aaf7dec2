package chat

import "github.com/quillhq/quill/internal/retrieval"

// EventType discriminates stream events.
type EventType string

// Stream event types, in the order a successful turn emits them:
// one sources event, zero or more chunks, then exactly one terminal
// done or error event.
const (
	EventSources EventType = "sources"
	EventChunk   EventType = "chunk"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item on a turn's output stream.
type Event struct {
	Type      EventType
	Citations []retrieval.Citation // EventSources
	Text      string               // EventChunk
	Usage     Usage                // EventDone
	Message   string               // EventError
}

// Stream is the live output of one executing turn. The events channel is
// closed after the terminal event; callers range over Events until it
// closes.
type Stream struct {
	events chan Event
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.events
}
