// Package reconcile owns the local copy of a project's configuration
// document and comment threads. Local edits are applied synchronously,
// persisted in the background and broadcast as full documents; remote
// documents replace the local one outright (last write wins).
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/zhouzirui/cobuild/backend/internal/identity"
	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/model/event"
	"github.com/zhouzirui/cobuild/backend/internal/service/activity"
	"github.com/zhouzirui/cobuild/backend/internal/store"
)

var (
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrUnknownOption    = errors.New("unknown option")
	ErrEmptyComment     = errors.New("comment text is required")
	ErrUnknownModel     = errors.New("unknown model")
	ErrNothingChanged   = errors.New("no meta fields to update")
)

// Publisher emits events to the other participants. Publish must not block.
type Publisher interface {
	Publish(ev event.Event)
}

// Meta is the descriptive part of a project.
type Meta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ModelID     string `json:"model"`
}

// Options configure a Reconciler.
type Options struct {
	ProjectID string
	Self      identity.Participant
	Catalog   build.Catalog
	Store     store.Store
	Publisher Publisher
	Activity  *activity.Log
	Logger    slog.Logger
	Clock     quartz.Clock
	StatusTTL time.Duration
}

// Reconciler is owned by a single client session.
type Reconciler struct {
	projectID string
	self      identity.Participant
	catalog   build.Catalog
	store     store.Store
	publisher Publisher
	activity  *activity.Log
	logger    slog.Logger
	clock     quartz.Clock
	status    *Status

	ctx    context.Context
	cancel context.CancelFunc
	docs   *latestWriter[build.Document]
	notes  *latestWriter[build.Threads]

	mu      sync.Mutex
	model   build.Model
	doc     build.Document
	threads build.Threads
	meta    Meta
}

// New returns a reconciler holding a default document for the catalog's
// default model. Call Load to replace it with the stored snapshot.
func New(opts Options) *Reconciler {
	if opts.Activity == nil {
		opts.Activity = activity.NewLog(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	model := opts.Catalog.Default()
	r := &Reconciler{
		projectID: opts.ProjectID,
		self:      opts.Self,
		catalog:   opts.Catalog,
		store:     opts.Store,
		publisher: opts.Publisher,
		activity:  opts.Activity,
		logger:    opts.Logger.Named("reconcile"),
		clock:     opts.Clock,
		status:    NewStatus(opts.Clock, opts.StatusTTL),
		ctx:       ctx,
		cancel:    cancel,
		model:     model,
		doc:       build.NewDocument(model),
		threads:   build.Threads{},
		meta:      Meta{ModelID: model.ID},
	}
	r.docs = newLatestWriter(func(ctx context.Context, doc build.Document) error {
		return r.store.PutDocument(ctx, r.projectID, doc)
	}, r.persistFailed)
	r.notes = newLatestWriter(func(ctx context.Context, threads build.Threads) error {
		return r.store.PutThreads(ctx, r.projectID, threads)
	}, r.persistFailed)
	go r.docs.run(ctx)
	go r.notes.run(ctx)
	return r
}

// Load reads the initial snapshot from the store. On failure the default
// document is kept and the failure is shown as a transient status.
func (r *Reconciler) Load(ctx context.Context) error {
	doc, err := r.store.GetDocument(ctx, r.projectID)
	if err != nil {
		r.persistFailed(err)
		return fmt.Errorf("load document: %w", err)
	}
	threads, err := r.store.GetThreads(ctx, r.projectID)
	if err != nil {
		r.persistFailed(err)
		return fmt.Errorf("load threads: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.model = r.resolveModel(doc.ModelName)
	r.doc = conform(doc, r.model)
	r.meta.ModelID = r.model.ID
	r.threads = threads.Clone()
	return nil
}

// resolveModel finds the model named name, falling back to the current one.
func (r *Reconciler) resolveModel(name string) build.Model {
	if m, ok := r.catalog.FindByName(name); ok {
		return m
	}
	return r.model
}

// conform fits doc to m: its selections are normalized and the model fields
// are taken from m, never from the sender.
func conform(doc build.Document, m build.Model) build.Document {
	out := doc.Normalize(m)
	out.ModelName, out.Brand, out.BasePrice = m.Name, m.Brand, m.BasePrice
	return out
}

// ApplyLocalEdit selects value for attribute, persists the document in the
// background and broadcasts the whole document. The local state stays
// authoritative whatever the persistence outcome.
func (r *Reconciler) ApplyLocalEdit(attribute, value string) (build.Document, error) {
	r.mu.Lock()
	attr, ok := r.model.Attribute(attribute)
	if !ok {
		r.mu.Unlock()
		return build.Document{}, fmt.Errorf("%w: %q", ErrUnknownAttribute, attribute)
	}
	if _, ok := attr.Option(value); !ok && value != "" {
		r.mu.Unlock()
		return build.Document{}, fmt.Errorf("%w: %q for %s", ErrUnknownOption, value, attribute)
	}
	prev := r.doc.Selections[attribute]
	r.doc.Selections[attribute] = value
	doc := r.doc.Clone()
	r.mu.Unlock()

	if prev != value {
		r.record(r.self.ID, r.self.DisplayName, event.KindConfig, describeChange(attr, value))
	}
	r.docs.schedule(doc)
	r.publish(event.Config{Document: doc.Clone()})
	return doc, nil
}

// ApplyRemoteConfig replaces the local document with doc. No ordering check
// is made: the most recently applied document wins. A model name the catalog
// does not know keeps the current model. It returns the attributes that
// changed.
func (r *Reconciler) ApplyRemoteConfig(from event.Event, doc build.Document) []build.Change {
	r.mu.Lock()
	r.model = r.resolveModel(doc.ModelName)
	r.meta.ModelID = r.model.ID
	next := conform(doc, r.model)
	changes := build.Diff(r.doc, next)
	r.doc = next
	model := r.model
	r.mu.Unlock()

	for _, change := range changes {
		attr, ok := model.Attribute(change.Attribute)
		if !ok {
			continue
		}
		r.record(from.UserID, from.Username, event.KindConfig, describeChange(attr, change.To))
	}
	return changes
}

// ApplyComment merges a received comment. It reports whether the comment was
// new.
func (r *Reconciler) ApplyComment(from event.Event, c build.Comment) bool {
	r.mu.Lock()
	added := r.threads.Merge(c)
	label := r.attributeLabel(c.Attribute)
	r.mu.Unlock()

	if added {
		r.record(from.UserID, from.Username, event.KindComment, fmt.Sprintf("commented on %s: %s", label, c.Text))
	}
	return added
}

// AddComment authors a comment on attribute, persists the threads in the
// background and broadcasts the comment.
func (r *Reconciler) AddComment(attribute, text string) (build.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return build.Comment{}, ErrEmptyComment
	}

	r.mu.Lock()
	if _, ok := r.model.Attribute(attribute); !ok {
		r.mu.Unlock()
		return build.Comment{}, fmt.Errorf("%w: %q", ErrUnknownAttribute, attribute)
	}
	c := build.Comment{
		ID:        uuid.NewString(),
		Attribute: attribute,
		Author:    r.self.DisplayName,
		Text:      text,
		CreatedAt: r.clock.Now().UTC(),
	}
	r.threads.Merge(c)
	threads := r.threads.Clone()
	label := r.attributeLabel(attribute)
	r.mu.Unlock()

	r.record(r.self.ID, r.self.DisplayName, event.KindComment, fmt.Sprintf("commented on %s: %s", label, text))
	r.notes.schedule(threads)
	r.publish(event.CommentAdded{Comment: c})
	return c, nil
}

// ApplyProjectMeta merges a received meta update. Switching the model starts
// a fresh document for it.
func (r *Reconciler) ApplyProjectMeta(from event.Event, meta event.ProjectMeta) {
	r.applyMeta(from.UserID, from.Username, meta)
}

// UpdateMeta changes the project's metadata locally and broadcasts the
// change.
func (r *Reconciler) UpdateMeta(meta event.ProjectMeta) error {
	if meta.Empty() {
		return ErrNothingChanged
	}
	if meta.Model != nil {
		if _, ok := r.catalog.FindByID(*meta.Model); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownModel, *meta.Model)
		}
	}
	if doc, switched := r.applyMeta(r.self.ID, r.self.DisplayName, meta); switched {
		r.docs.schedule(doc)
	}
	r.publish(meta)
	return nil
}

func (r *Reconciler) applyMeta(userID, username string, meta event.ProjectMeta) (build.Document, bool) {
	var messages []string
	switched := false

	r.mu.Lock()
	if meta.Title != nil && *meta.Title != r.meta.Title {
		r.meta.Title = *meta.Title
		messages = append(messages, fmt.Sprintf("renamed the project to %q", *meta.Title))
	}
	if meta.Description != nil && *meta.Description != r.meta.Description {
		r.meta.Description = *meta.Description
		messages = append(messages, "updated the description")
	}
	if meta.Model != nil && *meta.Model != r.model.ID {
		if m, ok := r.catalog.FindByID(*meta.Model); ok {
			r.model = m
			r.meta.ModelID = m.ID
			r.doc = build.NewDocument(m)
			switched = true
			messages = append(messages, fmt.Sprintf("switched the model to %s", m.Name))
		}
	}
	doc := r.doc.Clone()
	r.mu.Unlock()

	for _, msg := range messages {
		r.record(userID, username, event.KindProjectMeta, msg)
	}
	return doc, switched
}

func (r *Reconciler) attributeLabel(key string) string {
	if attr, ok := r.model.Attribute(key); ok && attr.Label != "" {
		return attr.Label
	}
	return key
}

func describeChange(attr build.Attribute, value string) string {
	label := attr.Label
	if label == "" {
		label = attr.Key
	}
	if value == "" {
		return fmt.Sprintf("cleared %s", label)
	}
	if opt, ok := attr.Option(value); ok && opt.Label != "" {
		value = opt.Label
	}
	return fmt.Sprintf("set %s to %s", label, value)
}

func (r *Reconciler) record(userID, username string, kind event.Kind, message string) {
	r.activity.Record(activity.Entry{
		At:       r.clock.Now(),
		UserID:   userID,
		Username: username,
		Kind:     kind,
		Message:  message,
	})
}

func (r *Reconciler) publish(p event.Payload) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(event.Event{UserID: r.self.ID, Username: r.self.DisplayName, Payload: p})
}

func (r *Reconciler) persistFailed(err error) {
	r.logger.Warn(r.ctx, "persist project", slog.F("project", r.projectID), slog.Error(err))
	msg := "Couldn't save changes"
	if errors.Is(err, store.ErrUnavailable) {
		msg = "Storage unavailable, changes are kept locally"
	}
	r.status.Report(msg)
}

// Document returns a copy of the current document.
func (r *Reconciler) Document() build.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Clone()
}

// Model returns the model the document is built from.
func (r *Reconciler) Model() build.Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model
}

// Meta returns the project's metadata.
func (r *Reconciler) Meta() Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// Threads returns a copy of every comment thread.
func (r *Reconciler) Threads() build.Threads {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threads.Clone()
}

// Activity returns the feed the reconciler writes to.
func (r *Reconciler) Activity() *activity.Log {
	return r.activity
}

// Status returns the transient persistence message, "" when there is none.
func (r *Reconciler) Status() string {
	return r.status.Message()
}

// Flush blocks until every scheduled write has completed.
func (r *Reconciler) Flush() {
	r.docs.wait()
	r.notes.wait()
}

// Close waits for scheduled writes until ctx is done, then stops the
// background writers.
func (r *Reconciler) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	r.cancel()
	r.status.Stop()
}
