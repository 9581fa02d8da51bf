package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cdr.dev/slog/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces backplane channels in Redis.
const DefaultChannelPrefix = "cobuild:relay:"

// Backplane carries room traffic between relay instances.
type Backplane interface {
	// Publish announces payload to the other instances serving room.
	Publish(ctx context.Context, room string, payload []byte) error
	// Subscribe delivers payloads published by other instances until ctx
	// is done.
	Subscribe(ctx context.Context, deliver func(room string, payload []byte)) error
}

type envelope struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

// RedisBackplane fans rooms out over Redis pub/sub, one channel per room.
type RedisBackplane struct {
	logger   slog.Logger
	client   redis.UniversalClient
	prefix   string
	instance string
}

// NewRedisBackplane returns a backplane identified by a fresh instance id.
func NewRedisBackplane(logger slog.Logger, client redis.UniversalClient, prefix string) *RedisBackplane {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBackplane{
		logger:   logger.Named("backplane"),
		client:   client,
		prefix:   prefix,
		instance: uuid.NewString(),
	}
}

// Instance returns the id this backplane stamps on its messages.
func (b *RedisBackplane) Instance() string {
	return b.instance
}

func (b *RedisBackplane) Publish(ctx context.Context, room string, payload []byte) error {
	data, err := json.Marshal(envelope{Origin: b.instance, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+room, data).Err(); err != nil {
		return fmt.Errorf("publish to %q: %w", room, err)
	}
	return nil
}

func (b *RedisBackplane) Subscribe(ctx context.Context, deliver func(room string, payload []byte)) error {
	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}
	b.logger.Info(ctx, "backplane subscribed", slog.F("instance", b.instance))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Debug(ctx, "drop malformed backplane message", slog.Error(err))
				continue
			}
			if env.Origin == b.instance {
				continue
			}
			deliver(strings.TrimPrefix(msg.Channel, b.prefix), env.Payload)
		}
	}
}
