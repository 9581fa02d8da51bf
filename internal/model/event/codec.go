package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrMalformed   = errors.New("malformed event")
)

type wireDocument struct {
	ModelName  *string           `json:"modelName"`
	Brand      *string           `json:"brand"`
	BasePrice  *float64          `json:"basePrice"`
	Selections map[string]string `json:"selections"`
}

type wireComment struct {
	ID        string    `json:"id"`
	Attribute string    `json:"attribute"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type wireMeta struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Model       *string `json:"model,omitempty"`
}

// envelope is the flat JSON shape shared by every kind. Kind-specific fields
// are pointers so that missing fields can be told apart from zero values.
type envelope struct {
	Kind     Kind            `json:"kind"`
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	X        *float64        `json:"x,omitempty"`
	Y        *float64        `json:"y,omitempty"`
	Field    json.RawMessage `json:"field,omitempty"`
	Config   *wireDocument   `json:"config,omitempty"`
	Meta     *wireMeta       `json:"meta,omitempty"`
	Comment  *wireComment    `json:"comment,omitempty"`
}

// Encode serializes ev into its wire shape.
func Encode(ev Event) ([]byte, error) {
	env := envelope{Kind: ev.Kind(), UserID: ev.UserID, Username: ev.Username}

	switch p := ev.Payload.(type) {
	case Cursor:
		env.X, env.Y = &p.X, &p.Y
	case Focus:
		field, err := json.Marshal(p.Field)
		if err != nil {
			return nil, fmt.Errorf("encode focus: %w", err)
		}
		env.Field = field
	case Config:
		doc := p.Document
		env.Config = &wireDocument{
			ModelName:  &doc.ModelName,
			Brand:      &doc.Brand,
			BasePrice:  &doc.BasePrice,
			Selections: p.Document.Selections,
		}
		if env.Config.Selections == nil {
			env.Config.Selections = map[string]string{}
		}
	case ProjectMeta:
		env.Meta = &wireMeta{Title: p.Title, Description: p.Description, Model: p.Model}
	case CommentAdded:
		env.Comment = &wireComment{
			ID:        p.Comment.ID,
			Attribute: p.Comment.Attribute,
			Author:    p.Comment.Author,
			Text:      p.Comment.Text,
			CreatedAt: p.Comment.CreatedAt,
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, ev.Payload)
	}

	return json.Marshal(env)
}

// Decode parses and validates a wire event. Unknown kinds yield
// ErrUnknownKind; missing required fields yield ErrMalformed.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Kind.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if env.UserID == "" || env.Username == "" {
		return Event{}, fmt.Errorf("%w: %s without sender", ErrMalformed, env.Kind)
	}

	ev := Event{UserID: env.UserID, Username: env.Username}
	switch env.Kind {
	case KindCursor:
		if env.X == nil || env.Y == nil {
			return Event{}, fmt.Errorf("%w: cursor without position", ErrMalformed)
		}
		ev.Payload = Cursor{X: *env.X, Y: *env.Y}
	case KindFocus:
		var field *string
		if len(env.Field) > 0 {
			if err := json.Unmarshal(env.Field, &field); err != nil {
				return Event{}, fmt.Errorf("%w: focus field: %v", ErrMalformed, err)
			}
		}
		ev.Payload = Focus{Field: field}
	case KindConfig:
		c := env.Config
		if c == nil || c.ModelName == nil || c.Brand == nil || c.BasePrice == nil || c.Selections == nil {
			return Event{}, fmt.Errorf("%w: incomplete config", ErrMalformed)
		}
		ev.Payload = Config{Document: build.Document{
			ModelName:  *c.ModelName,
			Brand:      *c.Brand,
			BasePrice:  *c.BasePrice,
			Selections: c.Selections,
		}}
	case KindProjectMeta:
		if env.Meta == nil {
			return Event{}, fmt.Errorf("%w: project-meta without meta", ErrMalformed)
		}
		meta := ProjectMeta{Title: env.Meta.Title, Description: env.Meta.Description, Model: env.Meta.Model}
		if meta.Empty() {
			return Event{}, fmt.Errorf("%w: project-meta changes nothing", ErrMalformed)
		}
		ev.Payload = meta
	case KindComment:
		c := env.Comment
		if c == nil || c.ID == "" || c.Attribute == "" || c.Author == "" || c.Text == "" || c.CreatedAt.IsZero() {
			return Event{}, fmt.Errorf("%w: incomplete comment", ErrMalformed)
		}
		ev.Payload = CommentAdded{Comment: build.Comment{
			ID:        c.ID,
			Attribute: c.Attribute,
			Author:    c.Author,
			Text:      c.Text,
			CreatedAt: c.CreatedAt,
		}}
	}
	return ev, nil
}

// PeekKind reads only the discriminator of a wire event. The relay uses it to
// reject unknown kinds without decoding the rest of the payload.
func PeekKind(raw []byte) (Kind, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !head.Kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, head.Kind)
	}
	return head.Kind, nil
}
