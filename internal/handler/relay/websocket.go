// Package relay serves the relay's websocket endpoint.
package relay

import (
	"context"
	"net/http"
	"time"

	"cdr.dev/slog/v3"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	relayservice "github.com/zhouzirui/cobuild/backend/internal/service/relay"
)

const (
	DefaultPingInterval = 54 * time.Second
	DefaultReadTimeout  = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	maxMessageSize      = 64 << 10
)

// Options configure the websocket handler. Zero durations use the defaults.
type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// Handler upgrades connections and joins them to the hub.
type Handler struct {
	hub      *relayservice.Hub
	logger   slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// New creates the websocket handler.
func New(hub *relayservice.Hub, logger slog.Logger, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	h := &Handler{
		hub:    hub,
		logger: logger.Named("ws"),
		opts:   opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// RegisterRoutes mounts the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleWebSocket upgrades the request and relays its messages until the
// connection drops.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	room := query.Get("room")
	userID := query.Get("userId")
	username := query.Get("username")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "upgrade failed", slog.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(slog.F("room", room), slog.F("user", userID))
	if room == relayservice.GlobalRoom {
		logger.Warn(r.Context(), "connection without room, relaying to other roomless connections")
	}

	client := h.hub.Join(room, userID, username)
	defer h.hub.Leave(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, client)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(ctx, "read error", slog.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}
		h.hub.Relay(ctx, client, data)
	}

	cancel()
	<-writerDone
}

// writeLoop is the only writer on conn. It drains the client's outbound
// queue and pings on a fixed interval.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, client *relayservice.Client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(h.opts.WriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case payload := <-client.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug(ctx, "write failed", slog.F("client", client.ID), slog.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
