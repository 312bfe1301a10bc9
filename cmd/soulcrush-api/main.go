package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"soulcrush/internal/config"
	server "soulcrush/internal/http"
	"soulcrush/internal/migrate"
	"soulcrush/internal/notify"
	"soulcrush/internal/refresh"
	"soulcrush/internal/store"
)

func main() {
	flagSet := pflag.NewFlagSet("soulcrush-api", pflag.ExitOnError)
	configPath := flagSet.String("config", "config/config.yaml", "path to config file")
	logLevel := flagSet.String("log-level", "", "override log level (debug|info|warn|error)")
	skipMigrate := flagSet.Bool("skip-migrations", false, "do not apply migrations on startup")
	_ = flagSet.Parse(os.Args[1:])

	cfg := config.Load(*configPath)
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))

	// Run migrations on a short-lived connection
	if !*skipMigrate {
		if err := migrate.Run(cfg.Database.Driver, cfg.Database.DSN); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	defer db.Close()

	st := store.New(db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []refresh.Option{
		refresh.WithLogger(logger),
		refresh.WithFetchTimeout(time.Duration(cfg.Refresh.FetchTimeoutMs) * time.Millisecond),
	}

	// Redis is optional: rate limiting and cross-process notifications.
	var rdb *redis.Client
	source := uuid.New().String()
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		opts = append(opts, refresh.WithPublisher(notify.NewRedisPublisher(rdb, cfg.Redis.Channel, source)))
	}

	ctrl := refresh.NewController(st, opts...)

	var srvRedis redis.UniversalClient
	if rdb != nil {
		srvRedis = rdb
	}
	s := server.NewServer(cfg, st, ctrl, srvRedis, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	if rdb != nil {
		g.Go(func() error {
			notify.Listen(gctx, rdb, cfg.Redis.Channel, source, ctrl, logger)
			return nil
		})
	}
	g.Go(func() error {
		return s.Listen()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server failed: %v", err)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
