//go:build !windows

package session_test

import (
	"os"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cobuild/backend/internal/service/transport"
)

func TestEditReachesWindowOfAnotherProcess(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "cb")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	// No relay: the device sockets are the only path between the two.
	w := newWorld(t)
	w.device = transport.NewSocketDevice(slogtest.Make(t, nil), dir)
	a := w.join(t, "a", "Ana")
	b := w.join(t, "b", "Ben")
	require.Equal(t, []string{"local"}, a.Channels())

	_, err = a.Edit("color", "red")
	require.NoError(t, err)
	eventually(t, func() bool { return b.Document().Selections["color"] == "red" })

	a.Focus("wheels")
	eventually(t, func() bool {
		peer, ok := b.Peer("a")
		return ok && peer.FocusedField != nil && *peer.FocusedField == "wheels"
	})
}
