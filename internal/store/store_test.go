package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/store"
)

func defaults() store.DefaultFunc {
	return store.CatalogDefaults(build.NewMemoryCatalog(build.Seed()))
}

func newRedisStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, "test:", defaults()), mr
}

func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	doc, err := s.GetDocument(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Roadster GT", doc.ModelName)
	require.Len(t, doc.Selections, 4)

	doc.Selections["color"] = "red"
	require.NoError(t, s.PutDocument(ctx, "p1", doc))
	require.NoError(t, s.PutDocument(ctx, "p1", doc))

	got, err := s.GetDocument(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, doc, got)

	threads, err := s.GetThreads(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, threads)

	created := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	threads.Merge(build.Comment{ID: "c1", Attribute: "color", Author: "Ana", Text: "hm", CreatedAt: created})
	require.NoError(t, s.PutThreads(ctx, "p1", threads))

	gotThreads, err := s.GetThreads(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, threads, gotThreads)

	other, err := s.GetDocument(ctx, "p2")
	require.NoError(t, err)
	require.Empty(t, other.Selections["color"])
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, store.NewMemoryStore(defaults()))
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore(defaults())

	doc, err := s.GetDocument(ctx, "p")
	require.NoError(t, err)
	require.NoError(t, s.PutDocument(ctx, "p", doc))
	doc.Selections["color"] = "mutated"

	got, err := s.GetDocument(ctx, "p")
	require.NoError(t, err)
	require.Empty(t, got.Selections["color"])
}

func TestRedisStore(t *testing.T) {
	t.Parallel()
	s, mr := newRedisStore(t)
	exerciseStore(t, s)
	require.True(t, mr.Exists("test:project:p1:config"))
	require.True(t, mr.Exists("test:project:p1:comments"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	t.Parallel()
	s, mr := newRedisStore(t)
	ctx := context.Background()
	mr.SetError("ERR backend unavailable")

	_, err := s.GetDocument(ctx, "p1")
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.ErrorIs(t, s.PutDocument(ctx, "p1", build.Document{}), store.ErrUnavailable)
	_, err = s.GetThreads(ctx, "p1")
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.ErrorIs(t, s.PutThreads(ctx, "p1", nil), store.ErrUnavailable)
}
