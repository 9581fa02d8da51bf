// Package relay implements the session relay: connections are grouped into
// rooms by project id and every event a member sends is re-emitted verbatim
// to the other members of its room. The relay keeps no document state.
package relay

import (
	"context"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/google/uuid"

	"github.com/zhouzirui/cobuild/backend/internal/model/event"
)

// GlobalRoom is the room of connections that did not name one. They only
// reach each other.
const GlobalRoom = ""

const DefaultSendBuffer = 64

// Client is one connection's membership in a room.
type Client struct {
	ID       uuid.UUID
	Room     string
	UserID   string
	Username string

	send chan []byte
}

// Outbound returns the payloads the relay wants written to this connection.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

type room struct {
	id      string
	mu      sync.RWMutex
	members map[uuid.UUID]*Client
}

// Options configure a Hub.
type Options struct {
	SendBuffer int
	Metrics    *Metrics
	Backplane  Backplane
}

// Hub tracks room membership and fans events out.
type Hub struct {
	logger     slog.Logger
	metrics    *Metrics
	backplane  Backplane
	sendBuffer int

	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub returns a hub without members.
func NewHub(logger slog.Logger, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Hub{
		logger:     logger.Named("relay"),
		metrics:    opts.Metrics,
		backplane:  opts.Backplane,
		sendBuffer: opts.SendBuffer,
		rooms:      make(map[string]*room),
	}
}

// Join adds a new client to roomID.
func (h *Hub) Join(roomID, userID, username string) *Client {
	c := &Client{
		ID:       uuid.New(),
		Room:     roomID,
		UserID:   userID,
		Username: username,
		send:     make(chan []byte, h.sendBuffer),
	}

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{id: roomID, members: make(map[uuid.UUID]*Client)}
		h.rooms[roomID] = r
		h.metrics.Rooms.Inc()
	}
	// Holding the hub lock while adding keeps a concurrent Leave from
	// deleting the room in between.
	r.mu.Lock()
	r.members[c.ID] = c
	r.mu.Unlock()
	h.mu.Unlock()

	h.metrics.Connections.Inc()
	h.logger.Debug(context.Background(), "joined", slog.F("room", roomID), slog.F("user", userID), slog.F("client", c.ID))
	return c
}

// Leave removes c from its room. No event is sent to the remaining members;
// they notice the departure when the peer goes stale.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[c.Room]
	if !ok {
		return
	}
	r.mu.Lock()
	_, member := r.members[c.ID]
	delete(r.members, c.ID)
	empty := len(r.members) == 0
	r.mu.Unlock()
	if !member {
		return
	}
	if empty {
		delete(h.rooms, c.Room)
		h.metrics.Rooms.Dec()
	}
	h.metrics.Connections.Dec()
	h.logger.Debug(context.Background(), "left", slog.F("room", c.Room), slog.F("user", c.UserID), slog.F("client", c.ID))
}

func (h *Hub) room(id string) (*room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	return r, ok
}

// Relay re-emits payload from c to every other member of c's room. Payloads
// of unknown kinds are dropped.
func (h *Hub) Relay(ctx context.Context, from *Client, payload []byte) {
	kind, err := event.PeekKind(payload)
	if err != nil {
		h.metrics.Dropped.WithLabelValues("malformed").Inc()
		h.logger.Debug(ctx, "drop malformed event", slog.F("client", from.ID), slog.Error(err))
		return
	}
	h.metrics.Events.WithLabelValues(string(kind)).Inc()
	h.fanOut(from.Room, from.ID, payload)

	if h.backplane != nil && from.Room != GlobalRoom {
		if err := h.backplane.Publish(ctx, from.Room, payload); err != nil {
			h.metrics.Dropped.WithLabelValues("backplane").Inc()
			h.logger.Warn(ctx, "backplane publish", slog.F("room", from.Room), slog.Error(err))
		}
	}
}

// deliverRemote fans out a payload that another relay instance received.
func (h *Hub) deliverRemote(roomID string, payload []byte) {
	h.fanOut(roomID, uuid.Nil, payload)
}

func (h *Hub) fanOut(roomID string, exclude uuid.UUID, payload []byte) {
	r, ok := h.room(roomID)
	if !ok {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, member := range r.members {
		if id == exclude {
			continue
		}
		select {
		case member.send <- payload:
		default:
			h.metrics.Dropped.WithLabelValues("slow_consumer").Inc()
		}
	}
}

// Members returns the number of clients in roomID.
func (h *Hub) Members(roomID string) int {
	r, ok := h.room(roomID)
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// RunBackplane delivers events from other relay instances until ctx is done.
// It returns immediately when no backplane is configured.
func (h *Hub) RunBackplane(ctx context.Context) error {
	if h.backplane == nil {
		return nil
	}
	return h.backplane.Subscribe(ctx, h.deliverRemote)
}
