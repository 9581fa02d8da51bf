// Package presence tracks the peers of a collaboration session: where their
// cursor is, which field they focus, and when they were last heard from.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
)

const (
	DefaultStaleAfter    = 12 * time.Second
	DefaultSweepInterval = 4 * time.Second
)

// Peer is a remote participant's state as observed locally.
type Peer struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Color        string    `json:"color"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	FocusedField *string   `json:"focusedField"`
}

// Position is a cursor location.
type Position struct {
	X float64
	Y float64
}

// FocusChange sets the focused field. A nil Field clears the focus.
type FocusChange struct {
	Field *string
}

// Update carries partial peer data. Nil fields keep the peer's prior value.
type Update struct {
	ID          string
	DisplayName string
	Position    *Position
	Focus       *FocusChange
}

// Options configure a Registry. Zero values use the defaults.
type Options struct {
	StaleAfter    time.Duration
	SweepInterval time.Duration
	Palette       []string
}

// Registry holds the peers of one session.
type Registry struct {
	logger slog.Logger
	clock  quartz.Clock
	opts   Options

	mu     sync.Mutex
	peers  map[string]*Peer
	colors *Colors
}

// NewRegistry creates an empty registry.
func NewRegistry(logger slog.Logger, clock quartz.Clock, opts Options) *Registry {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Palette == nil {
		opts.Palette = Palette
	}
	return &Registry{
		logger: logger.Named("presence"),
		clock:  clock,
		opts:   opts,
		peers:  make(map[string]*Peer),
		colors: NewColors(opts.Palette),
	}
}

// Upsert merges u into the peer with u.ID, creating it when absent, and marks
// it seen now. It returns a copy of the resulting peer.
func (r *Registry) Upsert(u Update) Peer {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[u.ID]
	if !ok {
		p = &Peer{ID: u.ID, Color: r.colors.For(u.ID)}
		r.peers[u.ID] = p
		r.logger.Debug(context.Background(), "peer joined", slog.F("peer", u.ID))
	}
	if u.DisplayName != "" {
		p.DisplayName = u.DisplayName
	}
	if u.Position != nil {
		p.X, p.Y = u.Position.X, u.Position.Y
	}
	if u.Focus != nil {
		p.FocusedField = copyField(u.Focus.Field)
	}
	p.LastSeenAt = now
	return clonePeer(p)
}

// Sweep removes every peer last seen before now minus the staleness threshold
// and returns the removed ids.
func (r *Registry) Sweep(now time.Time) []string {
	cutoff := now.Add(-r.opts.StaleAfter)

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, p := range r.peers {
		if p.LastSeenAt.Before(cutoff) {
			delete(r.peers, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		r.logger.Debug(context.Background(), "evicted stale peers", slog.F("peers", removed))
	}
	return removed
}

// Run sweeps on a fixed interval until ctx is done. The returned waiter
// completes once the ticker has stopped.
func (r *Registry) Run(ctx context.Context) quartz.Waiter {
	return r.clock.TickerFunc(ctx, r.opts.SweepInterval, func() error {
		r.Sweep(r.clock.Now())
		return nil
	}, "presence", "sweep")
}

// ColorFor returns the session-stable colour of id.
func (r *Registry) ColorFor(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.colors.For(id)
}

// Get returns a copy of the peer with id.
func (r *Registry) Get(id string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return clonePeer(p), true
}

// Peers returns copies of all peers sorted by id.
func (r *Registry) Peers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, clonePeer(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clonePeer(p *Peer) Peer {
	out := *p
	out.FocusedField = copyField(p.FocusedField)
	return out
}

func copyField(field *string) *string {
	if field == nil {
		return nil
	}
	v := *field
	return &v
}
