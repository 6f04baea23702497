package domain

import (
	"context"
	"sync"
	"time"
)

// EventType names the kinds of events a chain run emits.
type EventType string

const (
	EventStatusUpdate     EventType = "STATUS_UPDATE"
	EventPhaseComplete    EventType = "PHASE_COMPLETE"
	EventWorkflowComplete EventType = "WORKFLOW_COMPLETE"
	EventError            EventType = "ERROR"
)

// EventStatus is the progress payload of an event.
type EventStatus struct {
	Phase        string         `json:"phase"`
	Progress     float64        `json:"progress"`
	CurrentSteps []string       `json:"currentSteps"`
	Results      map[string]any `json:"results,omitempty"`
	Error        string         `json:"error,omitempty"`
	FinalAnswer  any            `json:"finalAnswer,omitempty"`
}

// Event is one record of a session's event stream. Sequence starts at 1 and has no gaps.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"sessionId"`
	Sequence  int         `json:"sequence"`
	Timestamp time.Time   `json:"timestamp"`
	Status    EventStatus `json:"status"`
}

// AsMap flattens the event for notification payloads.
func (e Event) AsMap() map[string]any {
	status := map[string]any{
		"phase":        e.Status.Phase,
		"progress":     e.Status.Progress,
		"currentSteps": e.Status.CurrentSteps,
	}
	if e.Status.Results != nil {
		status["results"] = e.Status.Results
	}
	if e.Status.Error != "" {
		status["error"] = e.Status.Error
	}
	if e.Status.FinalAnswer != nil {
		status["finalAnswer"] = e.Status.FinalAnswer
	}
	return map[string]any{
		"type":      string(e.Type),
		"sessionId": e.SessionID,
		"sequence":  e.Sequence,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"status":    status,
	}
}

// EventStream delivers the events of one session in order. Publish blocks while the buffer
// is full, so no event is dropped. Only the producing run publishes and closes.
type EventStream struct {
	sessionID string
	ch        chan Event
	once      sync.Once
}

// NewEventStream creates a stream with the given buffer size.
func NewEventStream(sessionID string, buffer int) *EventStream {
	if buffer < 0 {
		buffer = 0
	}
	return &EventStream{sessionID: sessionID, ch: make(chan Event, buffer)}
}

func (s *EventStream) SessionID() string { return s.sessionID }

// Events returns the receive side. It is closed once the run has finished.
func (s *EventStream) Events() <-chan Event { return s.ch }

// Publish waits until the event is buffered or ctx is done.
func (s *EventStream) Publish(ctx context.Context, event Event) error {
	select {
	case s.ch <- event:
		return nil
	default:
	}
	select {
	case s.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream.
func (s *EventStream) Close() {
	s.once.Do(func() { close(s.ch) })
}
