//go:build !windows

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

const (
	socketSuffix       = ".sock"
	socketWriteTimeout = 200 * time.Millisecond
	maxDatagram        = 64 << 10
)

// DefaultSocketDir returns the per-user directory holding device sockets.
func DefaultSocketDir() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "cobuild")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("cobuild-%d", os.Getuid()))
}

// SocketDevice connects the collaboration processes running on one machine
// through unix datagram sockets. Every member binds a socket in a directory
// per topic, and sending writes the datagram to every other socket there.
type SocketDevice struct {
	logger slog.Logger
	dir    string
}

// NewSocketDevice returns a device rooted at dir. An empty dir selects
// DefaultSocketDir.
func NewSocketDevice(logger slog.Logger, dir string) *SocketDevice {
	if dir == "" {
		dir = DefaultSocketDir()
	}
	return &SocketDevice{logger: logger.Named("device"), dir: dir}
}

// Join binds a new socket for topic.
func (d *SocketDevice) Join(topic string) (Channel, error) {
	dir := filepath.Join(d.dir, fmt.Sprintf("%016x", xxhash.Sum64String(topic)))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	// Paths stay short: sun_path holds about a hundred bytes.
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	path := filepath.Join(dir, id+socketSuffix)
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("listen on unix socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = conn.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}

	return &SocketChannel{
		logger: d.logger.With(slog.F("socket", path)),
		dir:    dir,
		path:   path,
		conn:   conn,
		done:   make(chan struct{}),
	}, nil
}

// SocketChannel is one process's membership in a SocketDevice topic. It
// never receives its own datagrams.
type SocketChannel struct {
	logger slog.Logger
	dir    string
	path   string
	conn   *net.UnixConn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (*SocketChannel) Name() string { return "local" }

// Path returns the socket this channel listens on.
func (c *SocketChannel) Path() string { return c.path }

// Send writes payload to every other member. Sockets left behind by a
// process that exited without closing are removed.
func (c *SocketChannel) Send(_ context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if len(payload) > maxDatagram {
		return fmt.Errorf("payload of %d bytes exceeds datagram limit", len(payload))
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var merr *multierror.Error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), socketSuffix) {
			continue
		}
		peer := filepath.Join(c.dir, entry.Name())
		if peer == c.path {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		_, err := c.conn.WriteToUnix(payload, &net.UnixAddr{Name: peer, Net: "unixgram"})
		switch {
		case err == nil:
		case errors.Is(err, syscall.ECONNREFUSED):
			c.logger.Debug(context.Background(), "removing stale member", slog.F("peer", peer))
			_ = os.Remove(peer)
		case errors.Is(err, os.ErrNotExist):
		default:
			merr = multierror.Append(merr, fmt.Errorf("write to %s: %w", entry.Name(), err))
		}
	}
	return merr.ErrorOrNil()
}

func (c *SocketChannel) Listen(ctx context.Context, deliver func([]byte)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-c.done:
		case <-stop:
		}
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := c.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read socket: %w", err)
		}
		deliver(append([]byte(nil), buf[:n]...))
	}
}

func (c *SocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		if rmErr := os.Remove(c.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	})
	return err
}
