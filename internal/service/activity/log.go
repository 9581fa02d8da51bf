// Package activity keeps a short, human-readable feed of recent edits.
package activity

import (
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/cobuild/backend/internal/model/event"
)

const DefaultCapacity = 50

// Entry is one line of the feed.
type Entry struct {
	At       time.Time  `json:"at"`
	UserID   string     `json:"userId"`
	Username string     `json:"username"`
	Kind     event.Kind `json:"kind"`
	Message  string     `json:"message"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s", e.At.Format("15:04:05"), e.Username, e.Message)
}

// Log is a bounded feed; once full the oldest entry is dropped.
type Log struct {
	capacity int

	mu      sync.Mutex
	entries []Entry // oldest first
}

// NewLog returns an empty feed holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Record appends e to the feed.
func (l *Log) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}
}

// Entries returns the feed newest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e
	}
	return out
}

// Len returns the number of entries in the feed.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
