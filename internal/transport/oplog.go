package transport

import (
	"sync"
	"time"
)

// OpResult classifies an operational log entry.
type OpResult string

const (
	OpSuccess OpResult = "success"
	OpFailure OpResult = "failure"
	OpProbe   OpResult = "probe"
	OpDemoted OpResult = "demoted"
	OpRestore OpResult = "restored"
)

// OpEntry is one transport attempt as seen by operators. It is independent of
// the outbox: losing entries loses diagnostics, never data.
type OpEntry struct {
	Time      time.Time `json:"time"`
	Transport string    `json:"transport"`
	Result    OpResult  `json:"result"`
	Detail    string    `json:"detail,omitempty"`
	BatchSize int       `json:"batch_size,omitempty"`
}

// OpLog is a fixed-size ring buffer of transport attempts.
type OpLog struct {
	mu      sync.Mutex
	entries []OpEntry
	next    int
	full    bool
}

// NewOpLog creates an operational log holding the most recent size entries.
func NewOpLog(size int) *OpLog {
	if size <= 0 {
		size = 256
	}
	return &OpLog{entries: make([]OpEntry, size)}
}

// Append records one attempt, overwriting the oldest entry when full.
func (l *OpLog) Append(entry OpEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Snapshot returns the retained entries oldest-first.
func (l *OpLog) Snapshot() []OpEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]OpEntry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}

	out := make([]OpEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}
