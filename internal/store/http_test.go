package store_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cobuild/backend/internal/handler/project"
	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/store"
)

func newAPI(t *testing.T, backing store.Store) string {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		project.New(backing, build.NewMemoryCatalog(build.Seed()), slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})).RegisterRoutes(api)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHTTPStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, store.NewHTTPStore(newAPI(t, store.NewMemoryStore(defaults())), nil))
}

func TestHTTPStoreUnavailable(t *testing.T) {
	t.Parallel()
	s, mr := newRedisStore(t)
	api := store.NewHTTPStore(newAPI(t, s), nil)
	mr.SetError("ERR backend unavailable")

	_, err := api.GetDocument(context.Background(), "p1")
	require.ErrorIs(t, err, store.ErrUnavailable)

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	_, err = store.NewHTTPStore(srv.URL, nil).GetThreads(context.Background(), "p1")
	require.ErrorIs(t, err, store.ErrUnavailable)
}

func TestHTTPStoreRejected(t *testing.T) {
	t.Parallel()
	api := store.NewHTTPStore(newAPI(t, store.NewMemoryStore(defaults())), nil)
	err := api.PutDocument(context.Background(), "p1", build.Document{ModelName: "Hovercraft"})
	require.Error(t, err)
	require.NotErrorIs(t, err, store.ErrUnavailable)
	require.Contains(t, err.Error(), "400")
}

func TestBaseURLFromRelay(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"ws://localhost:8080/ws":         "http://localhost:8080",
		"wss://relay.example.com/ws?x=1": "https://relay.example.com",
		"http://localhost:8080":          "http://localhost:8080",
		"wss://example.com/collab/ws/":   "https://example.com/collab",
	}
	for in, want := range cases {
		got, err := store.BaseURLFromRelay(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := store.BaseURLFromRelay("ftp://example.com")
	require.Error(t, err)
}
