package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/gorilla/websocket"
)

// RelayOptions describe the connection to the session relay.
type RelayOptions struct {
	URL              string
	Room             string
	UserID           string
	Username         string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// DefaultRelayOptions returns the timeouts used when none are given.
func DefaultRelayOptions() RelayOptions {
	return RelayOptions{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     54 * time.Second,
	}
}

func (o RelayOptions) withDefaults() RelayOptions {
	d := DefaultRelayOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	return o
}

// RelayChannel is a websocket connection to the session relay server.
type RelayChannel struct {
	conn   *websocket.Conn
	opts   RelayOptions
	logger slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// DialRelay connects to the relay and joins opts.Room.
func DialRelay(ctx context.Context, logger slog.Logger, opts RelayOptions) (*RelayChannel, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	if opts.Room != "" {
		q.Set("room", opts.Room)
	}
	q.Set("userId", opts.UserID)
	q.Set("username", opts.Username)
	u.RawQuery = q.Encode()

	dialer := &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})

	return &RelayChannel{
		conn:   conn,
		opts:   opts,
		logger: logger.Named("relay_channel"),
		done:   make(chan struct{}),
	}, nil
}

func (*RelayChannel) Name() string { return "relay" }

func (c *RelayChannel) Send(_ context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *RelayChannel) Listen(ctx context.Context, deliver func([]byte)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pingLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("relay read: %w", err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		deliver(payload)
	}
}

// pingLoop keeps the connection alive through idle periods.
func (c *RelayChannel) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug(ctx, "relay ping failed", slog.Error(err))
				return
			}
		}
	}
}

func (c *RelayChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, websocket.ErrCloseSent) {
			err = cerr
		}
	})
	return err
}
