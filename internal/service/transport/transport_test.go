package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/cobuild/backend/internal/model/event"
	"github.com/zhouzirui/cobuild/backend/internal/service/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}

type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) handle(ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) all() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.events...)
}

func TestLocalBusExcludesSender(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := transport.NewLocalBus()

	a := bus.Attach("p1")
	b := bus.Attach("p1")
	other := bus.Attach("p2")
	require.Equal(t, 2, bus.Members("p1"))

	var mu sync.Mutex
	got := map[string][]string{}
	listen := func(name string, ch *transport.LocalChannel) {
		go func() {
			_ = ch.Listen(ctx, func(p []byte) {
				mu.Lock()
				defer mu.Unlock()
				got[name] = append(got[name], string(p))
			})
		}()
	}
	listen("a", a)
	listen("b", b)
	listen("other", other)

	require.NoError(t, a.Send(ctx, []byte("hello")))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["b"]) == 1
	})
	mu.Lock()
	require.Empty(t, got["a"])
	require.Empty(t, got["other"])
	mu.Unlock()

	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Send(ctx, []byte("late")), transport.ErrClosed)
	require.Equal(t, 1, bus.Members("p1"))
	require.NoError(t, a.Close())
	require.NoError(t, other.Close())
	require.Equal(t, 0, bus.Members("p1"))
}

func TestMultiplexerMergesChannels(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slogtest.Make(t, nil)

	// Two independent buses stand in for the device bus and the relay.
	busA, busB := transport.NewLocalBus(), transport.NewLocalBus()
	sender := transport.NewMultiplexer(logger, busA.Attach("p"), busB.Attach("p"))
	receiver := transport.NewMultiplexer(logger, busA.Attach("p"), busB.Attach("p"), nil)
	require.Equal(t, []string{"local", "local"}, receiver.Channels())

	got := &collector{}
	receiver.Subscribe(got.handle)
	done := make(chan struct{})
	go func() {
		_ = receiver.Run(ctx)
		close(done)
	}()
	go func() { _ = sender.Run(ctx) }()

	ev := event.Event{UserID: "u1", Username: "Ana", Payload: event.Cursor{X: 10, Y: 20}}
	sender.Publish(ev)
	waitFor(t, func() bool { return got.len() == 2 })
	for _, e := range got.all() {
		require.Equal(t, ev, e)
	}

	require.NoError(t, sender.Close())
	sender.Publish(ev)
	require.NoError(t, receiver.Close())
	<-done
	require.Equal(t, 2, got.len())
}

func TestMultiplexerDropsMalformed(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := transport.NewLocalBus()
	raw := bus.Attach("p")
	mux := transport.NewMultiplexer(slogtest.Make(t, nil), bus.Attach("p"))
	defer mux.Close()
	defer raw.Close()

	got := &collector{}
	mux.Subscribe(got.handle)
	go func() { _ = mux.Run(ctx) }()

	require.NoError(t, raw.Send(ctx, []byte(`{"kind":"cursor","userId":"u","username":"n"}`)))
	require.NoError(t, raw.Send(ctx, []byte(`{"kind":"dance","userId":"u","username":"n"}`)))
	require.NoError(t, raw.Send(ctx, []byte(`not json`)))
	require.NoError(t, raw.Send(ctx, []byte(`{"kind":"focus","userId":"u","username":"n","field":"color"}`)))

	waitFor(t, func() bool { return got.len() == 1 })
	require.Equal(t, event.KindFocus, got.all()[0].Kind())
}

func TestMultiplexerKeepsOrderPerChannel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slogtest.Make(t, nil)
	bus := transport.NewLocalBus()
	sender := transport.NewMultiplexer(logger, bus.Attach("p"))
	receiver := transport.NewMultiplexer(logger, bus.Attach("p"))
	defer sender.Close()
	defer receiver.Close()

	got := &collector{}
	receiver.Subscribe(got.handle)
	go func() { _ = receiver.Run(ctx) }()

	for i := 0; i < 20; i++ {
		sender.Publish(event.Event{UserID: "u", Username: "n", Payload: event.Cursor{X: float64(i)}})
	}
	waitFor(t, func() bool { return got.len() == 20 })
	for i, ev := range got.all() {
		require.Equal(t, float64(i), ev.Payload.(event.Cursor).X)
	}
}

func TestRelayChannelRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch, err := transport.DialRelay(ctx, slogtest.Make(t, nil), transport.RelayOptions{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Room:     "project-1",
		UserID:   "u1",
		Username: "Ana Lee",
	})
	require.NoError(t, err)
	require.Equal(t, "room=project-1&userId=u1&username=Ana+Lee", <-query)

	received := make(chan string, 1)
	listenDone := make(chan error, 1)
	go func() {
		listenDone <- ch.Listen(ctx, func(p []byte) { received <- string(p) })
	}()

	require.NoError(t, ch.Send(ctx, []byte(`{"kind":"cursor"}`)))
	select {
	case got := <-received:
		require.Equal(t, `{"kind":"cursor"}`, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	require.NoError(t, ch.Close())
	require.NoError(t, <-listenDone)
	require.ErrorIs(t, ch.Send(ctx, []byte("x")), transport.ErrClosed)
}

func TestDialRelayUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := transport.DialRelay(context.Background(), slogtest.Make(t, nil), transport.RelayOptions{URL: url, UserID: "u", Username: "n"})
	require.Error(t, err)
}

func TestThrottle(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	th := transport.NewThrottle(clock, 0)

	require.True(t, th.Allow())
	require.False(t, th.Allow())
	clock.Advance(10 * time.Millisecond)
	require.False(t, th.Allow())
	clock.Advance(21 * time.Millisecond)
	require.True(t, th.Allow())
	require.False(t, th.Allow())
}
