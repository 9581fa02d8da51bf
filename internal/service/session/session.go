// Package session runs one participant's view of a collaborative project.
// Every inbound event, from either transport channel, is handled on a single
// event loop goroutine: self-echoes are dropped, duplicates are filtered,
// the sender's presence is refreshed and document events go to the
// reconciler.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/zhouzirui/cobuild/backend/internal/identity"
	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/model/event"
	"github.com/zhouzirui/cobuild/backend/internal/service/activity"
	"github.com/zhouzirui/cobuild/backend/internal/service/dedup"
	"github.com/zhouzirui/cobuild/backend/internal/service/presence"
	"github.com/zhouzirui/cobuild/backend/internal/service/reconcile"
	"github.com/zhouzirui/cobuild/backend/internal/service/transport"
	"github.com/zhouzirui/cobuild/backend/internal/store"
)

var ErrProjectRequired = errors.New("project id is required")

const inboxSize = 256

// Options configure a Session.
type Options struct {
	ProjectID string
	Self      identity.Participant
	Catalog   build.Catalog
	Store     store.Store

	// Device connects sessions of the same machine. Nil disables the channel.
	Device transport.Device
	// Relay describes the relay connection. An empty URL disables it.
	Relay transport.RelayOptions

	Presence       presence.Options
	DedupWindow    time.Duration
	DedupCapacity  int
	CursorInterval time.Duration
	StatusTTL      time.Duration

	Logger slog.Logger
	Clock  quartz.Clock

	// OnEvent observes every event after it has been applied.
	OnEvent func(ev event.Event)
}

// Session is a joined collaborative project.
type Session struct {
	projectID string
	self      identity.Participant
	logger    slog.Logger

	mux        *transport.Multiplexer
	presence   *presence.Registry
	dedup      *dedup.Filter
	reconciler *reconcile.Reconciler
	cursor     *transport.Throttle
	onEvent    func(ev event.Event)

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan event.Event
	sweep  quartz.Waiter
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// Open joins the project. A relay that cannot be reached or a store that
// cannot be read is logged and the session continues in degraded mode.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.ProjectID == "" {
		return nil, ErrProjectRequired
	}
	if opts.Self.ID == "" || opts.Self.DisplayName == "" {
		return nil, identity.ErrDisplayNameRequired
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	logger := opts.Logger.Named("session").With(slog.F("project", opts.ProjectID), slog.F("self", opts.Self.ID))

	var channels []transport.Channel
	if opts.Device != nil {
		ch, err := opts.Device.Join(opts.ProjectID)
		if err != nil {
			logger.Warn(ctx, "device channel unavailable", slog.Error(err))
		} else {
			channels = append(channels, ch)
		}
	}
	if opts.Relay.URL != "" {
		relayOpts := opts.Relay
		relayOpts.Room = opts.ProjectID
		relayOpts.UserID = opts.Self.ID
		relayOpts.Username = opts.Self.DisplayName
		ch, err := transport.DialRelay(ctx, opts.Logger, relayOpts)
		if err != nil {
			logger.Warn(ctx, "relay unavailable, collaborating on this device only", slog.Error(err))
		} else {
			channels = append(channels, ch)
		}
	}
	mux := transport.NewMultiplexer(opts.Logger, channels...)

	registry := presence.NewRegistry(opts.Logger, opts.Clock, opts.Presence)
	self := opts.Self
	self.Color = registry.ColorFor(self.ID)

	reconciler := reconcile.New(reconcile.Options{
		ProjectID: opts.ProjectID,
		Self:      self,
		Catalog:   opts.Catalog,
		Store:     opts.Store,
		Publisher: mux,
		Logger:    opts.Logger,
		Clock:     opts.Clock,
		StatusTTL: opts.StatusTTL,
	})
	if err := reconciler.Load(ctx); err != nil {
		logger.Warn(ctx, "load project, starting from defaults", slog.Error(err))
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		projectID:  opts.ProjectID,
		self:       self,
		logger:     logger,
		mux:        mux,
		presence:   registry,
		dedup:      dedup.New(opts.Clock, opts.DedupWindow, opts.DedupCapacity),
		reconciler: reconciler,
		cursor:     transport.NewThrottle(opts.Clock, opts.CursorInterval),
		onEvent:    opts.OnEvent,
		ctx:        sctx,
		cancel:     cancel,
		inbox:      make(chan event.Event, inboxSize),
	}
	mux.Subscribe(s.enqueue)
	s.sweep = registry.Run(sctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		_ = mux.Run(sctx)
	}()
	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	logger.Info(ctx, "session opened", slog.F("channels", mux.Channels()), slog.F("color", self.Color))
	return s, nil
}

func (s *Session) enqueue(ev event.Event) {
	select {
	case s.inbox <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

// handle applies one inbound event. It only runs on the event loop.
func (s *Session) handle(ev event.Event) {
	if ev.UserID == s.self.ID {
		return
	}
	if !s.dedup.ShouldProcess(ev) {
		return
	}

	update := presence.Update{ID: ev.UserID, DisplayName: ev.Username}
	switch p := ev.Payload.(type) {
	case event.Cursor:
		update.Position = &presence.Position{X: p.X, Y: p.Y}
	case event.Focus:
		update.Focus = &presence.FocusChange{Field: p.Field}
	}
	s.presence.Upsert(update)

	switch p := ev.Payload.(type) {
	case event.Config:
		changes := s.reconciler.ApplyRemoteConfig(ev, p.Document)
		if len(changes) > 0 {
			s.logger.Debug(s.ctx, "applied remote config", slog.F("from", ev.UserID), slog.F("changes", len(changes)))
		}
	case event.CommentAdded:
		s.reconciler.ApplyComment(ev, p.Comment)
	case event.ProjectMeta:
		s.reconciler.ApplyProjectMeta(ev, p)
	}

	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Session) publish(p event.Payload) {
	s.mux.Publish(event.Event{UserID: s.self.ID, Username: s.self.DisplayName, Payload: p})
}

// MoveCursor broadcasts the local cursor position. Moves arriving faster
// than the cursor interval are dropped; it reports whether this one was sent.
func (s *Session) MoveCursor(x, y float64) bool {
	if !s.cursor.Allow() {
		return false
	}
	s.publish(event.Cursor{X: x, Y: y})
	return true
}

// Focus announces that the local participant is editing field.
func (s *Session) Focus(field string) {
	s.publish(event.Focus{Field: &field})
}

// Blur announces that no field is being edited.
func (s *Session) Blur() {
	s.publish(event.Focus{})
}

// Edit selects value for attribute and broadcasts the document.
func (s *Session) Edit(attribute, value string) (build.Document, error) {
	return s.reconciler.ApplyLocalEdit(attribute, value)
}

// Comment adds a comment on attribute and broadcasts it.
func (s *Session) Comment(attribute, text string) (build.Comment, error) {
	return s.reconciler.AddComment(attribute, text)
}

// UpdateMeta changes the project metadata and broadcasts the change.
func (s *Session) UpdateMeta(meta event.ProjectMeta) error {
	return s.reconciler.UpdateMeta(meta)
}

func (s *Session) ProjectID() string                    { return s.projectID }
func (s *Session) Self() identity.Participant           { return s.self }
func (s *Session) Channels() []string                   { return s.mux.Channels() }
func (s *Session) Peers() []presence.Peer               { return s.presence.Peers() }
func (s *Session) Document() build.Document             { return s.reconciler.Document() }
func (s *Session) Model() build.Model                   { return s.reconciler.Model() }
func (s *Session) Meta() reconcile.Meta                 { return s.reconciler.Meta() }
func (s *Session) Threads() build.Threads               { return s.reconciler.Threads() }
func (s *Session) Activity() []activity.Entry           { return s.reconciler.Activity().Entries() }
func (s *Session) Status() string                       { return s.reconciler.Status() }
func (s *Session) Peer(id string) (presence.Peer, bool) { return s.presence.Get(id) }

// Close leaves the project: both channels are torn down immediately, the
// sweep stops and pending writes are given until ctx is done to finish.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.mux.Close()
		s.wg.Wait()
		if werr := s.sweep.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
			s.logger.Debug(ctx, "presence sweep stopped", slog.Error(werr))
		}
		s.reconciler.Close(ctx)
		s.logger.Info(ctx, "session closed")
	})
	return err
}
