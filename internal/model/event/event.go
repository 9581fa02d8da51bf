// Package event defines the collaboration events exchanged between
// participants of a project session and their wire encoding.
package event

import (
	"sort"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

// Kind discriminates the payload carried by an Event.
type Kind string

const (
	KindCursor      Kind = "cursor"
	KindFocus       Kind = "focus"
	KindConfig      Kind = "config"
	KindProjectMeta Kind = "project-meta"
	KindComment     Kind = "comment"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCursor, KindFocus, KindConfig, KindProjectMeta, KindComment:
		return true
	}
	return false
}

// Event is a collaboration event originating from one participant. Events are
// values: receivers never modify them.
type Event struct {
	UserID   string
	Username string
	Payload  Payload
}

// Kind returns the kind of the event's payload.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Payload is implemented by exactly the payload types of this package.
type Payload interface {
	Kind() Kind
	sealed()
}

// Cursor reports the pointer position of a participant.
type Cursor struct {
	X float64
	Y float64
}

// Focus reports the field a participant is editing. A nil Field means the
// participant left every field.
type Focus struct {
	Field *string
}

// Config carries the entire configuration document after an edit.
type Config struct {
	Document build.Document
}

// ProjectMeta carries a partial update of the project's metadata. Nil fields
// are unchanged.
type ProjectMeta struct {
	Title       *string
	Description *string
	Model       *string
}

// CommentAdded carries a newly authored comment.
type CommentAdded struct {
	Comment build.Comment
}

func (Cursor) Kind() Kind       { return KindCursor }
func (Focus) Kind() Kind        { return KindFocus }
func (Config) Kind() Kind       { return KindConfig }
func (ProjectMeta) Kind() Kind  { return KindProjectMeta }
func (CommentAdded) Kind() Kind { return KindComment }

func (Cursor) sealed()       {}
func (Focus) sealed()        {}
func (Config) sealed()       {}
func (ProjectMeta) sealed()  {}
func (CommentAdded) sealed() {}

// ChangedKeys returns the wire names of the fields set on the update, sorted.
func (m ProjectMeta) ChangedKeys() []string {
	var keys []string
	if m.Title != nil {
		keys = append(keys, "title")
	}
	if m.Description != nil {
		keys = append(keys, "description")
	}
	if m.Model != nil {
		keys = append(keys, "model")
	}
	sort.Strings(keys)
	return keys
}

// Empty reports whether the update changes nothing.
func (m ProjectMeta) Empty() bool {
	return m.Title == nil && m.Description == nil && m.Model == nil
}
