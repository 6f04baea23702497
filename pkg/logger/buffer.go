package logger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one buffered log record rendered as a single line.
type Entry struct {
	Time  time.Time
	Level slog.Level
	Line  string
}

// RingBuffer stores recent log entries in-memory with a fixed capacity.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	start    int
	count    int
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBuffer{capacity: capacity, entries: make([]Entry, capacity)}
}

func (b *RingBuffer) Append(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count < b.capacity {
		b.entries[(b.start+b.count)%b.capacity] = entry
		b.count++
		return
	}
	b.entries[b.start] = entry
	b.start = (b.start + 1) % b.capacity
}

// GetLast returns up to n of the most recent lines at or above minLevel, oldest first.
// n <= 0 means all matching lines.
func (b *RingBuffer) GetLast(n int, minLevel slog.Level) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0)
	for i := b.count - 1; i >= 0; i-- {
		e := b.entries[(b.start+i)%b.capacity]
		if e.Level < minLevel {
			continue
		}
		out = append(out, e.Line)
		if n > 0 && len(out) == n {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Capacity returns maximum number of entries the buffer can hold
func (b *RingBuffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// Size returns the current number of stored entries
func (b *RingBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// bufferingHandler tees records to an underlying handler and to the ring buffer.
// Attributes added through WithAttrs are kept so buffered lines carry the same context.
type bufferingHandler struct {
	next   slog.Handler
	buffer *RingBuffer
	attrs  []slog.Attr
	group  string
}

func newBufferingHandler(next slog.Handler, buffer *RingBuffer) slog.Handler {
	return &bufferingHandler{next: next, buffer: buffer}
}

func (h *bufferingHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h *bufferingHandler) Handle(ctx context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var buf bytes.Buffer
	buf.WriteString(ts.Format(time.RFC3339))
	buf.WriteString(" ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")
	buf.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		buf.WriteString(" ")
		if h.group != "" {
			buf.WriteString(h.group)
			buf.WriteString(".")
		}
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)

	h.buffer.Append(Entry{Time: ts, Level: r.Level, Line: buf.String()})
	return h.next.Handle(ctx, r)
}

func (h *bufferingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &bufferingHandler{next: h.next.WithAttrs(attrs), buffer: h.buffer, attrs: merged, group: h.group}
}

func (h *bufferingHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &bufferingHandler{next: h.next.WithGroup(name), buffer: h.buffer, attrs: h.attrs, group: group}
}
