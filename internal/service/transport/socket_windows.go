//go:build windows

package transport

import (
	"errors"

	"cdr.dev/slog/v3"
)

var errSocketUnsupported = errors.New("device sockets are not supported on windows")

// DefaultSocketDir returns "" on windows.
func DefaultSocketDir() string { return "" }

// SocketDevice is unavailable on windows; sessions fall back to the relay.
type SocketDevice struct{}

func NewSocketDevice(slog.Logger, string) *SocketDevice { return &SocketDevice{} }

func (*SocketDevice) Join(string) (Channel, error) { return nil, errSocketUnsupported }
