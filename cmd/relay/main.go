package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/cobuild/backend/internal/config"
	"github.com/zhouzirui/cobuild/backend/internal/handler"
	relayhandler "github.com/zhouzirui/cobuild/backend/internal/handler/relay"
	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/service/relay"
	"github.com/zhouzirui/cobuild/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Make(sloghuman.Sink(os.Stderr))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Info(ctx, "no .env file loaded, using the process environment", slog.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(ctx, "failed to load configuration", slog.Error(err))
	}
	if cfg.Server.Verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatal(ctx, "relay stopped", slog.Error(err))
	}
}

func run(ctx context.Context, logger slog.Logger, cfg *config.Config) error {
	catalog := build.NewMemoryCatalog(build.Seed())
	defaults := store.CatalogDefaults(catalog)

	var (
		projects    store.Store = store.NewMemoryStore(defaults)
		redisClient *redis.Client
	)
	if cfg.Store.RedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// The store reports ErrUnavailable per request until Redis is back.
			logger.Warn(ctx, "redis not reachable yet", slog.F("addr", cfg.Store.RedisAddr), slog.Error(err))
		}
		projects = store.NewRedisStore(redisClient, cfg.Store.KeyPrefix, defaults)
		logger.Info(ctx, "using redis store", slog.F("addr", cfg.Store.RedisAddr))
	} else {
		logger.Info(ctx, "REDIS_ADDR not set, using in-memory store")
	}

	var snapshotter *store.Snapshotter
	if cfg.Snapshot.Enabled() {
		sink, err := store.OpenPostgresSink(ctx, cfg.Snapshot.DatabaseURL)
		if err != nil {
			return err
		}
		defer sink.Close()
		snapshotter = store.NewSnapshotter(projects, sink, logger, quartz.NewReal(), cfg.Snapshot.Interval)
		projects = snapshotter
		logger.Info(ctx, "snapshots enabled", slog.F("interval", cfg.Snapshot.Interval))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var backplane relay.Backplane
	if cfg.Backplane.Enabled {
		backplane = relay.NewRedisBackplane(logger, redisClient, cfg.Backplane.ChannelPrefix)
		logger.Info(ctx, "relay backplane enabled")
	}
	hub := relay.NewHub(logger, relay.Options{
		SendBuffer: cfg.Relay.SendBuffer,
		Metrics:    relay.NewMetrics(reg),
		Backplane:  backplane,
	})

	router := handler.NewRouter(handler.Dependencies{
		Logger:   logger,
		Hub:      hub,
		Store:    projects,
		Catalog:  catalog,
		Gatherer: reg,
		Relay: relayhandler.Options{
			PingInterval:   cfg.Relay.PingInterval,
			ReadTimeout:    cfg.Relay.ReadTimeout,
			WriteTimeout:   cfg.Relay.WriteTimeout,
			AllowedOrigins: cfg.Relay.AllowedOrigins,
		},
		AllowedOrigins: cfg.Relay.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "cobuild relay listening", slog.F("addr", srv.Addr))
		return runServer(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return hub.RunBackplane(gctx)
	})
	if snapshotter != nil {
		g.Go(func() error {
			return ignoreCanceled(snapshotter.Run(gctx).Wait())
		})
	}
	err := g.Wait()

	if snapshotter != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if ferr := snapshotter.Flush(flushCtx); ferr != nil {
			logger.Error(flushCtx, "final snapshot flush", slog.Error(ferr))
		}
	}
	return err
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
