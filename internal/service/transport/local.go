package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const defaultInboxSize = 64

// LocalBus fans events out between sessions sharing one process, such as
// several windows hosted by the same client. Topics are session identifiers.
type LocalBus struct {
	mu     sync.RWMutex
	topics map[string]map[uuid.UUID]*LocalChannel
}

// NewLocalBus returns an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{topics: make(map[string]map[uuid.UUID]*LocalChannel)}
}

// Join attaches a new channel to topic. It never fails.
func (b *LocalBus) Join(topic string) (Channel, error) {
	return b.Attach(topic), nil
}

// Attach is Join returning the concrete channel.
func (b *LocalBus) Attach(topic string) *LocalChannel {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.topics[topic]
	if !ok {
		members = make(map[uuid.UUID]*LocalChannel)
		b.topics[topic] = members
	}
	var id uuid.UUID
	for {
		id = uuid.New()
		if _, ok = members[id]; !ok {
			break
		}
	}
	c := &LocalChannel{
		bus:   b,
		topic: topic,
		id:    id,
		inbox: make(chan []byte, defaultInboxSize),
		done:  make(chan struct{}),
	}
	members[id] = c
	return c
}

// Members returns how many channels are attached to topic.
func (b *LocalBus) Members(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *LocalBus) leave(c *LocalChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.topics[c.topic]
	delete(members, c.id)
	if len(members) == 0 {
		delete(b.topics, c.topic)
	}
}

func (b *LocalBus) broadcast(from *LocalChannel, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, member := range b.topics[from.topic] {
		if id == from.id {
			continue
		}
		// A member that is not keeping up loses the event; a later event
		// supersedes it.
		select {
		case member.inbox <- payload:
		default:
		}
	}
}

// LocalChannel is one session's attachment to a LocalBus. Like a browser
// broadcast channel it never receives its own messages.
type LocalChannel struct {
	bus   *LocalBus
	topic string
	id    uuid.UUID
	inbox chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (*LocalChannel) Name() string { return "local" }

func (c *LocalChannel) Send(_ context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.bus.broadcast(c, append([]byte(nil), payload...))
	return nil
}

func (c *LocalChannel) Listen(ctx context.Context, deliver func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case payload := <-c.inbox:
			deliver(payload)
		}
	}
}

func (c *LocalChannel) Close() error {
	c.closeOnce.Do(func() {
		c.bus.leave(c)
		close(c.done)
	})
	return nil
}
