package agent

import (
	"context"
)

// Stages reported on status events, in the order a request moves
// through them. A request may loop through searching and processing
// several times before finalizing.
const (
	StageInitializing = "initializing"
	StageThinking     = "thinking"
	StageSearching    = "searching"
	StageProcessing   = "processing"
	StageFinalizing   = "finalizing"
)

// Event types emitted on the stream.
const (
	EventStatus  = "status"
	EventContent = "content"
	EventURLs    = "urls"
	EventError   = "error"
)

// Event is one item in a request's progress stream. Type selects which
// of the remaining fields are meaningful; the zero values of the others
// are omitted on the wire.
type Event struct {
	Type    string     `json:"type"`
	Message string     `json:"message,omitempty"`
	Stage   string     `json:"stage,omitempty"`
	Tool    string     `json:"tool,omitempty"`
	Content string     `json:"content,omitempty"`
	URLs    []Citation `json:"urls,omitempty"`
}

// EventStreamer carries a request's ordered event sequence to a single
// consumer over a bounded channel. Sends block when the consumer falls
// behind, so a slow client stalls the producing turn rather than
// growing an unbounded queue; cancelling the context releases a
// blocked producer when the consumer disconnects.
type EventStreamer struct {
	ctx context.Context
	ch  chan Event
}

// NewEventStreamer creates a streamer whose sends respect ctx.
func NewEventStreamer(ctx context.Context, buffer int) *EventStreamer {
	return &EventStreamer{
		ctx: ctx,
		ch:  make(chan Event, buffer),
	}
}

// Events returns the receive side of the stream. The channel closes
// when the producing request finishes, after which the consumer writes
// its terminal marker.
func (s *EventStreamer) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Call exactly once, after the last send.
func (s *EventStreamer) Close() {
	close(s.ch)
}

func (s *EventStreamer) send(e Event) {
	select {
	case s.ch <- e:
	case <-s.ctx.Done():
	}
}

// Status reports a stage transition.
func (s *EventStreamer) Status(stage, message string) {
	if s == nil {
		return
	}
	s.send(Event{Type: EventStatus, Stage: stage, Message: message})
}

// Content forwards a fragment of generated answer text. Fragments
// arrive in generation order.
func (s *EventStreamer) Content(fragment string) {
	if s == nil || fragment == "" {
		return
	}
	s.send(Event{Type: EventContent, Content: fragment})
}

// Searching reports the start of a tool turn, naming the tool being run.
func (s *EventStreamer) Searching(tool, message string) {
	if s == nil {
		return
	}
	s.send(Event{Type: EventStatus, Stage: StageSearching, Tool: tool, Message: message})
}

// URLs reports the citations gathered by a tool turn.
func (s *EventStreamer) URLs(citations []Citation) {
	if s == nil || len(citations) == 0 {
		return
	}
	s.send(Event{Type: EventURLs, URLs: citations})
}

// Error reports a terminal failure. At most one error event is emitted
// per request, immediately before the stream closes.
func (s *EventStreamer) Error(err error) {
	if s == nil || err == nil {
		return
	}
	s.send(Event{Type: EventError, Message: err.Error()})
}
