package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"cdr.dev/slog/v3"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/cobuild/backend/internal/model/event"
)

// Handler receives every valid event arriving on any channel.
type Handler func(ev event.Event)

const outboxSize = 64

// Multiplexer publishes each event on every channel and merges what the
// channels receive into a single stream of validated events. Each channel
// has its own sender so one slow channel never delays the other, while
// events keep their publish order within a channel.
type Multiplexer struct {
	logger   slog.Logger
	channels []Channel
	outboxes []chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu      sync.RWMutex
	handler Handler
}

// NewMultiplexer combines channels. Nil channels are skipped, which is how a
// session without a relay connection runs.
func NewMultiplexer(logger slog.Logger, channels ...Channel) *Multiplexer {
	var active []Channel
	for _, ch := range channels {
		if ch != nil {
			active = append(active, ch)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Multiplexer{
		logger:   logger.Named("transport"),
		channels: active,
		outboxes: make([]chan []byte, len(active)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i, ch := range active {
		m.outboxes[i] = make(chan []byte, outboxSize)
		go m.sendLoop(ch, m.outboxes[i])
	}
	return m
}

func (m *Multiplexer) sendLoop(ch Channel, outbox <-chan []byte) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case payload := <-outbox:
			if m.closed.Load() {
				return
			}
			if err := ch.Send(m.ctx, payload); err != nil {
				m.logger.Debug(m.ctx, "send failed", slog.F("channel", ch.Name()), slog.Error(err))
			}
		}
	}
}

// Channels returns the names of the active channels.
func (m *Multiplexer) Channels() []string {
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Subscribe sets the handler for received events, replacing any previous one.
func (m *Multiplexer) Subscribe(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Publish queues ev on every channel and returns immediately. Failures and
// overflow are dropped: a later event supersedes a lost one.
func (m *Multiplexer) Publish(ev event.Event) {
	if m.closed.Load() {
		return
	}
	payload, err := event.Encode(ev)
	if err != nil {
		m.logger.Debug(m.ctx, "drop unencodable event", slog.F("kind", ev.Kind()), slog.Error(err))
		return
	}
	for i, outbox := range m.outboxes {
		select {
		case outbox <- payload:
		default:
			m.logger.Debug(m.ctx, "outbox full, dropping event", slog.F("channel", m.channels[i].Name()), slog.F("kind", ev.Kind()))
		}
	}
}

// Run listens on every channel until ctx is done or the multiplexer is
// closed. A channel that fails is logged and abandoned; the others keep
// running.
func (m *Multiplexer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	var g errgroup.Group
	for _, ch := range m.channels {
		g.Go(func() error {
			if err := ch.Listen(ctx, m.receiver(ch.Name())); err != nil {
				m.logger.Warn(ctx, "channel stopped, continuing without it", slog.F("channel", ch.Name()), slog.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Multiplexer) receiver(channel string) func([]byte) {
	return func(raw []byte) {
		if m.closed.Load() {
			return
		}
		ev, err := event.Decode(raw)
		if err != nil {
			m.logger.Debug(m.ctx, "drop malformed event", slog.F("channel", channel), slog.Error(err))
			return
		}
		m.mu.RLock()
		h := m.handler
		m.mu.RUnlock()
		if h != nil {
			h(ev)
		}
	}
}

// Close tears down every channel. Events published or received afterwards
// are discarded.
func (m *Multiplexer) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cancel()
	var merr *multierror.Error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
