package session_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	relayhandler "github.com/zhouzirui/cobuild/backend/internal/handler/relay"
	"github.com/zhouzirui/cobuild/backend/internal/identity"
	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/model/event"
	"github.com/zhouzirui/cobuild/backend/internal/service/relay"
	"github.com/zhouzirui/cobuild/backend/internal/service/session"
	"github.com/zhouzirui/cobuild/backend/internal/service/transport"
	"github.com/zhouzirui/cobuild/backend/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}

type world struct {
	catalog build.Catalog
	store   store.Store
	device  transport.Device
	clock   *quartz.Mock
	hub     *relay.Hub
	relay   string
}

func newWorld(t *testing.T) *world {
	t.Helper()
	catalog := build.NewMemoryCatalog(build.Seed())
	return &world{
		catalog: catalog,
		store:   store.NewMemoryStore(store.CatalogDefaults(catalog)),
		device:  transport.NewLocalBus(),
		clock:   quartz.NewMock(t),
	}
}

// withRelay starts a relay server every session of the world connects to.
func (w *world) withRelay(t *testing.T) {
	t.Helper()
	logger := slogtest.Make(t, nil)
	r := chi.NewRouter()
	w.hub = relay.NewHub(logger, relay.Options{})
	relayhandler.New(w.hub, logger, relayhandler.Options{}).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	w.relay = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type participant struct {
	*session.Session
	applied atomic.Int32
}

func (w *world) join(t *testing.T, id, name string) *participant {
	t.Helper()
	p := &participant{}
	s, err := session.Open(context.Background(), session.Options{
		ProjectID: "project-1",
		Self:      identity.Participant{ID: id, DisplayName: name},
		Catalog:   w.catalog,
		Store:     w.store,
		Device:    w.device,
		Relay:     transport.RelayOptions{URL: w.relay},
		Logger:    slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		Clock:     w.clock,
		OnEvent:   func(event.Event) { p.applied.Add(1) },
	})
	require.NoError(t, err)
	p.Session = s
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return p
}

func TestOpenValidates(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	_, err := session.Open(context.Background(), session.Options{Self: identity.Participant{ID: "a", DisplayName: "Ana"}, Catalog: w.catalog, Store: w.store})
	require.ErrorIs(t, err, session.ErrProjectRequired)
	_, err = session.Open(context.Background(), session.Options{ProjectID: "p", Catalog: w.catalog, Store: w.store})
	require.ErrorIs(t, err, identity.ErrDisplayNameRequired)
}

func TestEditReachesPeer(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	a := w.join(t, "a", "Ana")
	b := w.join(t, "b", "Ben")

	before := b.Document()
	_, err := a.Edit("color", "red")
	require.NoError(t, err)

	eventually(t, func() bool { return b.Document().Selections["color"] == "red" })
	after := b.Document()
	for key, value := range before.Selections {
		if key == "color" {
			continue
		}
		require.Equal(t, value, after.Selections[key], key)
	}
	require.Len(t, after.Selections, len(before.Selections))

	entries := b.Activity()
	require.NotEmpty(t, entries)
	require.Equal(t, "Ana", entries[0].Username)
	require.Equal(t, "set Paint to Ember Red", entries[0].Message)

	peer, ok := b.Peer("a")
	require.True(t, ok)
	require.Equal(t, "Ana", peer.DisplayName)
}

func TestCommentAndMetaReachPeer(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	a := w.join(t, "a", "Ana")
	b := w.join(t, "b", "Ben")

	c, err := a.Comment("wheels", "too flashy?")
	require.NoError(t, err)
	eventually(t, func() bool { return len(b.Threads()["wheels"]) == 1 })
	require.Equal(t, c.ID, b.Threads()["wheels"][0].ID)

	title := "Weekend car"
	require.NoError(t, a.UpdateMeta(event.ProjectMeta{Title: &title}))
	eventually(t, func() bool { return b.Meta().Title == title })
}

func TestCursorAndFocusUpdatePresence(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	a := w.join(t, "a", "Ana")
	b := w.join(t, "b", "Ben")

	require.True(t, a.MoveCursor(10, 20))
	require.False(t, a.MoveCursor(11, 21), "moves within the cursor interval are dropped")
	eventually(t, func() bool {
		peer, ok := b.Peer("a")
		return ok && peer.X == 10 && peer.Y == 20
	})

	a.Focus("color")
	eventually(t, func() bool {
		peer, _ := b.Peer("a")
		return peer.FocusedField != nil && *peer.FocusedField == "color"
	})
	a.Blur()
	eventually(t, func() bool {
		peer, _ := b.Peer("a")
		return peer.FocusedField == nil
	})
}

func TestDuplicateAcrossChannelsAppliedOnce(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.withRelay(t)
	a := w.join(t, "a", "Ana")
	b := w.join(t, "b", "Ben")
	require.ElementsMatch(t, []string{"local", "relay"}, a.Channels())
	require.ElementsMatch(t, []string{"local", "relay"}, b.Channels())

	// Give the relay time to register both connections.
	time.Sleep(100 * time.Millisecond)

	require.True(t, a.MoveCursor(5, 6))
	eventually(t, func() bool { return b.applied.Load() == 1 })
	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 1, b.applied.Load())
	peer, ok := b.Peer("a")
	require.True(t, ok)
	require.Equal(t, 5.0, peer.X)
}

func TestSelfEchoDropped(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	first := w.join(t, "a", "Ana")
	second := w.join(t, "a", "Ana")

	require.True(t, first.MoveCursor(1, 1))
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, second.Peers())
	require.Zero(t, second.applied.Load())
}

func TestRelayUnavailableDegrades(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	srv := httptest.NewServer(chi.NewRouter())
	w.relay = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	srv.Close()

	a := w.join(t, "a", "Ana")
	b := w.join(t, "b", "Ben")
	require.Equal(t, []string{"local"}, a.Channels())

	_, err := a.Edit("interior", "leather")
	require.NoError(t, err)
	eventually(t, func() bool { return b.Document().Selections["interior"] == "leather" })
}

type unavailableDevice struct{}

func (unavailableDevice) Join(string) (transport.Channel, error) {
	return nil, errors.New("no socket directory")
}

func TestDeviceUnavailableDegrades(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.withRelay(t)
	w.device = unavailableDevice{}

	a := w.join(t, "a", "Ana")
	b := w.join(t, "b", "Ben")
	require.Equal(t, []string{"relay"}, a.Channels())
	eventually(t, func() bool { return w.hub.Members("project-1") == 2 })

	_, err := a.Edit("interior", "leather")
	require.NoError(t, err)
	eventually(t, func() bool { return b.Document().Selections["interior"] == "leather" })
}

func TestStalePeerEvicted(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	a := w.join(t, "a", "Ana")
	b := w.join(t, "b", "Ben")

	require.True(t, a.MoveCursor(1, 2))
	eventually(t, func() bool { _, ok := b.Peer("a"); return ok })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Sweeps at 4s, 8s and 12s keep the peer; the one at 16s evicts it.
	for i := 0; i < 3; i++ {
		w.clock.Advance(4 * time.Second).MustWait(ctx)
	}
	_, ok := b.Peer("a")
	require.True(t, ok)
	w.clock.Advance(4 * time.Second).MustWait(ctx)
	eventually(t, func() bool { _, ok := b.Peer("a"); return !ok })
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	a := w.join(t, "a", "Ana")
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
	require.Equal(t, 0, w.device.(*transport.LocalBus).Members("project-1"))
}
