// Package dedup drops collaboration events that were already processed a
// moment ago. The dual transport and relay fan-out redeliver logically
// identical events; applying them twice would duplicate activity entries or
// make peer state flicker.
package dedup

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/zhouzirui/cobuild/backend/internal/model/event"
)

const (
	DefaultWindow   = 1500 * time.Millisecond
	DefaultCapacity = 32
)

type entry struct {
	key    string
	seenAt time.Time
}

// Filter remembers recent event fingerprints. It is safe for concurrent use.
type Filter struct {
	clock    quartz.Clock
	window   time.Duration
	capacity int

	mu      sync.Mutex
	entries []entry // oldest first
}

// New returns a filter with the given window and capacity. Non-positive
// values select the defaults.
func New(clock quartz.Clock, window time.Duration, capacity int) *Filter {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Filter{clock: clock, window: window, capacity: capacity}
}

// ShouldProcess reports whether ev is new. A fingerprint seen within the
// window is rejected and its original timestamp kept; otherwise it is
// recorded with the current time.
func (f *Filter) ShouldProcess(ev event.Event) bool {
	key := Fingerprint(ev)
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	for i, e := range f.entries {
		if e.key != key {
			continue
		}
		if now.Sub(e.seenAt) < f.window {
			return false
		}
		f.entries = append(f.entries[:i], f.entries[i+1:]...)
		break
	}

	f.entries = append(f.entries, entry{key: key, seenAt: now})
	if over := len(f.entries) - f.capacity; over > 0 {
		f.entries = append(f.entries[:0], f.entries[over:]...)
	}
	return true
}

// Len returns the number of remembered fingerprints.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Fingerprint derives the identity of an event from its kind, sender and the
// part of its payload that makes it distinct.
func Fingerprint(ev event.Event) string {
	var detail string
	switch p := ev.Payload.(type) {
	case event.Cursor:
		detail = fmt.Sprintf("%d:%d", int64(math.Round(p.X)), int64(math.Round(p.Y)))
	case event.Focus:
		if p.Field == nil {
			detail = "<none>"
		} else {
			detail = *p.Field
		}
	case event.Config:
		detail = p.Document.CanonicalSelections()
	case event.CommentAdded:
		detail = p.Comment.ID
	case event.ProjectMeta:
		detail = strings.Join(p.ChangedKeys(), ",")
	}
	return string(ev.Kind()) + "|" + ev.UserID + "|" + detail
}
