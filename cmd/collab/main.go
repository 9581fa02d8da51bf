package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/zhouzirui/cobuild/backend/internal/config"
	"github.com/zhouzirui/cobuild/backend/internal/identity"
	"github.com/zhouzirui/cobuild/backend/internal/model/build"
	"github.com/zhouzirui/cobuild/backend/internal/service/presence"
	"github.com/zhouzirui/cobuild/backend/internal/service/session"
	"github.com/zhouzirui/cobuild/backend/internal/service/transport"
	"github.com/zhouzirui/cobuild/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Make(sloghuman.Sink(os.Stderr)).Leveled(slog.LevelWarn)

	if err := godotenv.Load(); err != nil {
		logger.Debug(ctx, "no .env file loaded", slog.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(ctx, "failed to load configuration", slog.Error(err))
	}

	flags := pflag.NewFlagSet("collab", pflag.ExitOnError)
	project := flags.StringP("project", "p", "", "project id to join (required)")
	name := flags.StringP("name", "n", "", "display name, stored in the identity file")
	relayURL := flags.String("relay", cfg.Client.RelayURL, "relay websocket url, empty to stay offline")
	identityFile := flags.String("identity", cfg.Client.IdentityFile, "identity file")
	localDir := flags.String("local-dir", cfg.Client.LocalDir, "directory of the sockets shared with other windows on this machine")
	useRedis := flags.Bool("redis", false, "persist directly to REDIS_ADDR instead of the relay API")
	verbose := flags.BoolP("verbose", "v", false, "log debug output to stderr")
	_ = flags.Parse(os.Args[1:])

	if *project == "" {
		fmt.Fprintln(os.Stderr, "--project is required")
		flags.Usage()
		os.Exit(2)
	}
	if *verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}

	self, err := identity.Resolve(*identityFile, *name)
	if err != nil {
		logger.Fatal(ctx, "resolve identity", slog.Error(err), slog.F("file", *identityFile))
	}

	catalog := build.NewMemoryCatalog(build.Seed())
	projects, closeStore, err := openStore(cfg, *relayURL, *useRedis, catalog)
	if err != nil {
		logger.Fatal(ctx, "open store", slog.Error(err))
	}
	defer closeStore()

	sess, err := session.Open(ctx, session.Options{
		ProjectID: *project,
		Self:      self,
		Catalog:   catalog,
		Store:     projects,
		Device:    transport.NewSocketDevice(logger, *localDir),
		Relay:     transport.RelayOptions{URL: *relayURL},
		Presence: presence.Options{
			StaleAfter:    cfg.Client.StaleAfter,
			SweepInterval: cfg.Client.SweepInterval,
		},
		DedupWindow:    cfg.Client.DedupWindow,
		CursorInterval: cfg.Client.CursorInterval,
		StatusTTL:      cfg.Client.StatusTTL,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal(ctx, "open session", slog.Error(err))
	}

	fmt.Fprintf(os.Stdout, "joined %s as %s (%s) via %v\n", *project, self.DisplayName, sess.Self().Color, sess.Channels())
	runErr := newConsole(sess, os.Stdout).Run(ctx, os.Stdin)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		logger.Warn(closeCtx, "close session", slog.Error(err))
	}
	if runErr != nil {
		logger.Fatal(ctx, "read commands", slog.Error(runErr))
	}
}

func openStore(cfg *config.Config, relayURL string, useRedis bool, catalog build.Catalog) (store.Store, func(), error) {
	if useRedis {
		if !cfg.Store.RedisEnabled() {
			return nil, nil, fmt.Errorf("--redis needs REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		return store.NewRedisStore(client, cfg.Store.KeyPrefix, store.CatalogDefaults(catalog)), func() { _ = client.Close() }, nil
	}
	if relayURL == "" {
		return store.NewMemoryStore(store.CatalogDefaults(catalog)), func() {}, nil
	}
	base, err := store.BaseURLFromRelay(relayURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewHTTPStore(base, nil), func() {}, nil
}
