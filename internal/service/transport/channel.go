// Package transport moves encoded collaboration events between participants
// over two channels: a device channel shared by every session on the same
// machine, and a websocket connection to the session relay.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when sending on a channel that was torn down.
var ErrClosed = errors.New("channel closed")

// Channel is one way of reaching the other participants of a session.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string
	// Send delivers payload to the other participants. Delivery is not
	// confirmed.
	Send(ctx context.Context, payload []byte) error
	// Listen calls deliver for every payload received until ctx is done or
	// the channel is closed.
	Listen(ctx context.Context, deliver func([]byte)) error
	// Close tears the channel down. Pending payloads are discarded.
	Close() error
}

// Device attaches a session to the other sessions of the same machine.
type Device interface {
	Join(topic string) (Channel, error)
}
