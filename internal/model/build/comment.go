package build

import (
	"sort"
	"time"
)

// Comment is an inline note attached to one attribute of the document.
type Comment struct {
	ID        string    `json:"id"`
	Attribute string    `json:"attribute"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Threads maps an attribute key to its comments ordered by CreatedAt.
type Threads map[string][]Comment

// Clone returns a deep copy of the threads.
func (t Threads) Clone() Threads {
	out := make(Threads, len(t))
	for attr, comments := range t {
		out[attr] = append([]Comment(nil), comments...)
	}
	return out
}

// Merge appends c to the thread for c.Attribute unless a comment with the
// same id is already present in it. It reports whether the comment was added.
func (t Threads) Merge(c Comment) bool {
	thread := t[c.Attribute]
	for _, existing := range thread {
		if existing.ID == c.ID {
			return false
		}
	}
	thread = append(thread, c)
	sort.SliceStable(thread, func(i, j int) bool {
		return thread[i].CreatedAt.Before(thread[j].CreatedAt)
	})
	t[c.Attribute] = thread
	return true
}

// Len returns the total number of comments across all threads.
func (t Threads) Len() int {
	n := 0
	for _, comments := range t {
		n += len(comments)
	}
	return n
}
