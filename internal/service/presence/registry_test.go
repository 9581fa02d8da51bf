package presence_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cobuild/backend/internal/service/presence"
)

func field(s string) *string { return &s }

func newRegistry(t *testing.T) (*presence.Registry, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	logger := slogtest.Make(t, nil)
	return presence.NewRegistry(logger, clock, presence.Options{}), clock
}

func TestUpsertPreservesUnspecifiedFields(t *testing.T) {
	t.Parallel()
	reg, clock := newRegistry(t)

	reg.Upsert(presence.Update{ID: "b", DisplayName: "Bo", Focus: &presence.FocusChange{Field: field("color")}})
	clock.Advance(time.Second)
	got := reg.Upsert(presence.Update{ID: "b", Position: &presence.Position{X: 10, Y: 20}})

	require.Equal(t, "Bo", got.DisplayName)
	require.NotNil(t, got.FocusedField)
	require.Equal(t, "color", *got.FocusedField)
	require.Equal(t, 10.0, got.X)
	require.Equal(t, 20.0, got.Y)
	require.Equal(t, clock.Now(), got.LastSeenAt)

	got = reg.Upsert(presence.Update{ID: "b", Focus: &presence.FocusChange{}})
	require.Nil(t, got.FocusedField)
	require.Equal(t, 10.0, got.X)
}

func TestSweepTTL(t *testing.T) {
	t.Parallel()
	reg, clock := newRegistry(t)
	start := clock.Now()

	reg.Upsert(presence.Update{ID: "a", DisplayName: "Al"})

	require.Empty(t, reg.Sweep(start.Add(11*time.Second)))
	_, ok := reg.Get("a")
	require.True(t, ok)

	require.Equal(t, []string{"a"}, reg.Sweep(start.Add(12*time.Second+time.Millisecond)))
	_, ok = reg.Get("a")
	require.False(t, ok)
}

func TestRunSweepsPeriodically(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg, clock := newRegistry(t)

	runCtx, stop := context.WithCancel(ctx)
	waiter := reg.Run(runCtx)

	reg.Upsert(presence.Update{ID: "a", DisplayName: "Al"})
	for i := 0; i < 3; i++ {
		clock.Advance(presence.DefaultSweepInterval).MustWait(ctx)
		require.Len(t, reg.Peers(), 1, "tick %d", i)
	}
	// 16s after the last update the peer is older than the 12s threshold.
	clock.Advance(presence.DefaultSweepInterval).MustWait(ctx)
	require.Empty(t, reg.Peers())

	stop()
	require.ErrorIs(t, waiter.Wait(), context.Canceled)
}

func TestColorForIsStableAndDistinct(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)

	seen := map[string]string{}
	for i := 0; i < len(presence.Palette); i++ {
		id := fmt.Sprintf("user-%d", i)
		color := reg.ColorFor(id)
		require.Equal(t, presence.Palette[i], color)
		for other, c := range seen {
			require.NotEqual(t, c, color, "%s and %s share a colour", id, other)
		}
		seen[id] = color
	}
	for id, color := range seen {
		require.Equal(t, color, reg.ColorFor(id))
	}

	overflow := reg.ColorFor("user-overflow")
	require.True(t, strings.HasPrefix(overflow, "hsl("), overflow)
	require.Equal(t, overflow, reg.ColorFor("user-overflow"))
	require.Equal(t, presence.HashedHue("user-overflow"), overflow)
}

func TestPeerColorMatchesColorFor(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)

	self := reg.ColorFor("self")
	peer := reg.Upsert(presence.Update{ID: "peer", DisplayName: "P"})
	require.Equal(t, presence.Palette[0], self)
	require.Equal(t, presence.Palette[1], peer.Color)
	require.Equal(t, peer.Color, reg.ColorFor("peer"))
}
