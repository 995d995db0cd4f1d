package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log line stored in the ring buffer.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SessionID returns the worker session the entry belongs to, if any.
func (e LogEntry) SessionID() string {
	id, _ := e.Attributes["session_id"].(string)
	return id
}

// Query selects entries from a RingBuffer. Zero fields match everything.
type Query struct {
	Module  string
	Session string
	// Limit keeps only the newest matches.
	Limit int
}

func (q Query) match(e LogEntry) bool {
	return (q.Module == "" || e.Module == q.Module) &&
		(q.Session == "" || e.SessionID() == q.Session)
}

// RingBuffer is a thread-safe circular buffer for log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	full    bool
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{entries: make([]LogEntry, size)}
}

// Write adds a log entry to the buffer, overwriting the oldest entry if full.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.next] = entry
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next = 0
		rb.full = true
	}
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.entries)
	}
	return rb.next
}

// ReadAll returns all entries in chronological order.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Query(Query{})
}

// Tail returns at most n of the newest entries in chronological order.
func (rb *RingBuffer) Tail(n int) []LogEntry {
	return rb.Query(Query{Limit: n})
}

// Query returns the matching entries in chronological order, or nil.
func (rb *RingBuffer) Query(q Query) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	// Oldest entry is at next once the buffer has wrapped.
	ordered := rb.entries[:rb.next]
	if rb.full {
		ordered = append(append([]LogEntry(nil), rb.entries[rb.next:]...), rb.entries[:rb.next]...)
	}

	var out []LogEntry
	for _, e := range ordered {
		if q.match(e) {
			out = append(out, e)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}
