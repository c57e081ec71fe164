package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nostr-lanes/internal/cache"
	"nostr-lanes/internal/config"
	"nostr-lanes/internal/download"
	"nostr-lanes/internal/feedback"
	"nostr-lanes/internal/lane"
	"nostr-lanes/internal/logging"
	"nostr-lanes/internal/metrics"
	"nostr-lanes/internal/nip05"
	"nostr-lanes/internal/relay"
	"nostr-lanes/internal/server"
	"nostr-lanes/internal/store"
	"nostr-lanes/internal/stream"
)

const (
	memoryCacheSize     = 10000
	memoryCacheInterval = time.Minute
	redisKeyPrefix      = "nostr-lanes:"
	shutdownTimeout     = 10 * time.Second
)

// runApp builds every service from cfg and runs them until ctx is done.
// configPath is watched for relay list changes when set.
func runApp(ctx context.Context, cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.Init(cfg.App.LogLevel)
	relays := cfg.RelayURLs()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("cache_dir", cfg.Cache.Dir),
		slog.Int("relays", len(relays)),
		slog.Int("lanes", len(cfg.Lanes)))

	m := metrics.New(nil)

	db, err := store.Open(cfg.SQLite.Path, store.WithVerifiedWindow(cfg.Nip05.RevalidateAfter))
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	backend, err := newCacheBackend(ctx, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer backend.Close()

	gateway := store.NewCachedDB(db, backend, cache.Config{
		PersonaTTL:         cfg.Cache.PersonaTTL,
		PersonaNotFoundTTL: cfg.Cache.PersonaNotFoundTTL,
	}, logger)

	resources, err := download.New(download.Options{
		Dir:      cfg.Cache.Dir,
		MaxBytes: cfg.Cache.MaxDownloadBytes,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("init resource cache: %w", err)
	}

	checker := nip05.NewChecker(gateway, nip05.NewHTTPVerifier(cfg.Nip05.Timeout, logger),
		cfg.Nip05.RevalidateAfter, m, logger)

	pool := relay.NewPool(relay.Options{
		Relays:           relays,
		ReconnectDelay:   cfg.Pipeline.ReconnectDelay,
		SubscriberBuffer: cfg.Pipeline.SubscriberBuffer,
		Metrics:          m,
		Logger:           logger,
	})
	m.SetRelayConnections(pool.Connections)

	requests := feedback.NewChannel(cfg.Pipeline.FeedbackCapacity, m)
	defer requests.Close()
	dispatcher := feedback.NewDispatcher(requests, pool, cfg.Pipeline.MetadataRequestValidity, m, logger)

	pipeline := stream.New(stream.Deps{
		Gateway:     gateway,
		Resources:   resources,
		Identity:    checker,
		Feedback:    requests,
		Concurrency: cfg.Pipeline.Concurrency,
		Metrics:     m,
		Logger:      logger,
	})

	views := make([]*lane.View, 0, len(cfg.Lanes))
	for _, lc := range cfg.Lanes {
		views = append(views, lane.NewView(lc.Name, lc.CentralID(), 0, logChanges(logger), logger))
	}
	hub := lane.NewHub(logger, views...)

	router := server.NewRouter(server.Deps{
		Lanes:   hub,
		Relays:  pool,
		Store:   gateway,
		Metrics: m,
		Logger:  logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(gCtx)
	})

	g.Go(func() error {
		dispatcher.Run(gCtx)
		return nil
	})

	records := pipeline.Start(gCtx, pool)
	g.Go(func() error {
		if err := hub.Run(gCtx, records); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("lanes: %w", err)
		}
		return nil
	})

	if configPath != "" {
		g.Go(func() error {
			err := config.WatchRelays(gCtx, configPath, relays, logger, func(updated []string) {
				pool.SetRelays(updated)
			})
			if err != nil {
				// keep running on the relays we have
				logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

func newCacheBackend(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (cache.Backend, error) {
	if cfg.RedisURL == "" {
		logger.Info("persona cache: memory")
		return cache.NewMemoryCache(memoryCacheSize, memoryCacheInterval), nil
	}
	rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, redisKeyPrefix)
	if err != nil {
		return nil, err
	}
	logger.Info("persona cache: redis")
	return rc, nil
}

func logChanges(logger *slog.Logger) lane.ChangeFunc {
	return func(view string, ops []lane.Op) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		for _, op := range ops {
			logger.Debug("lane changed",
				slog.String("lane", view),
				slog.String("op", op.Kind.String()),
				slog.Int("position", op.Position),
				slog.String("event_id", op.ID))
		}
	}
}
