package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Event struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	Resource     string            `json:"resource"`
	Parameters   map[string]any    `json:"parameters,omitempty"`
	Result       string            `json:"result"`
	ErrorMessage string            `json:"error,omitempty"`
	Duration     time.Duration     `json:"duration,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type EventSink interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// HistoryReader exposes the recorded events of one resource, oldest first.
type HistoryReader interface {
	History(resource string) []Event
}

type NoOpSink struct{}

func NewNoOpSink() *NoOpSink {
	return &NoOpSink{}
}

func (s *NoOpSink) Record(ctx context.Context, event Event) error {
	return nil
}

func (s *NoOpSink) Close() error {
	return nil
}

// MemorySink logs each event and keeps a bounded per-resource history.
type MemorySink struct {
	logger      *slog.Logger
	maxPerEntry int
	mu          sync.RWMutex
	history     map[string][]Event
}

func NewMemorySink(logger *slog.Logger, maxPerResource int) *MemorySink {
	if maxPerResource <= 0 {
		maxPerResource = 500
	}
	return &MemorySink{
		logger:      logger.With("component", "audit"),
		maxPerEntry: maxPerResource,
		history:     make(map[string][]Event),
	}
}

func (s *MemorySink) Record(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.logger.InfoContext(ctx, "audit",
		"action", event.Action,
		"resource", event.Resource,
		"result", event.Result,
		"error", event.ErrorMessage)

	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.history[event.Resource], event)
	if len(events) > s.maxPerEntry {
		events = events[len(events)-s.maxPerEntry:]
	}
	s.history[event.Resource] = events
	return nil
}

func (s *MemorySink) History(resource string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.history[resource]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Restore replaces the history of a resource, used when importing a snapshot.
func (s *MemorySink) Restore(resource string, events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(events))
	copy(out, events)
	s.history[resource] = out
}

func (s *MemorySink) Close() error {
	return nil
}
