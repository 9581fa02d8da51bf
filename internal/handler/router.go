package handler

import (
	"net/http"
	"time"

	"cdr.dev/slog/v3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/cobuild/backend/internal/handler/catalog"
	"github.com/zhouzirui/cobuild/backend/internal/handler/project"
	"github.com/zhouzirui/cobuild/backend/internal/handler/relay"
	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	relayservice "github.com/zhouzirui/cobuild/backend/internal/service/relay"
	"github.com/zhouzirui/cobuild/backend/internal/store"
	"github.com/zhouzirui/cobuild/backend/pkg/utils"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Logger         slog.Logger
	Hub            *relayservice.Hub
	Store          store.Store
	Catalog        build.Catalog
	Gatherer       prometheus.Gatherer
	Relay          relay.Options
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Session relay
	relay.New(deps.Hub, deps.Logger, deps.Relay).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		catalog.New(deps.Catalog).RegisterRoutes(api)
		project.New(deps.Store, deps.Catalog, deps.Logger).RegisterRoutes(api)
	})

	return r
}

// requestLogger logs one line per request once it has been served.
func requestLogger(logger slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug(r.Context(), "request",
				slog.F("method", r.Method),
				slog.F("path", r.URL.Path),
				slog.F("status", ww.Status()),
				slog.F("bytes", ww.BytesWritten()),
				slog.F("duration", time.Since(start)),
				slog.F("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
