// FFC Tracker
// Polls OpenSky for the flying club fleet and serves the REST API,
// WebSocket feed and refresh controls.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/unklstewy/ffc-tracker/internal/auth"
	"github.com/unklstewy/ffc-tracker/internal/collector"
	"github.com/unklstewy/ffc-tracker/internal/db"
	"github.com/unklstewy/ffc-tracker/internal/logging"
	"github.com/unklstewy/ffc-tracker/internal/refresh"
	"github.com/unklstewy/ffc-tracker/internal/server"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/config"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	port       = flag.String("port", "", "HTTP server port (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Default().Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		logging.Default().Fatal().Err(err).Msg("Invalid configuration")
	}

	logger, closer := logging.Configure(cfg.Logging)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithContext(ctx, logger)

	logger.Info().
		Int("fleet", len(cfg.Fleet)).
		Str("config", *configPath).
		Msg("Starting FFC tracker")

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Tracker failed")
	}
	logger.Info().Msg("Tracker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	client := adsb.NewOpenSkyClient(cfg.OpenSky.ClientConfig())
	defer client.Close()
	if cfg.OpenSky.ClientID == "" {
		logger.Warn().Msg("No OpenSky client credentials; flight history will be unavailable")
	}

	var (
		store   collector.Store
		history server.HistoryStore
		healthy func(context.Context) bool
	)
	if cfg.Database.Enabled {
		database, err := db.ReconnectWithRetry(ctx, cfg.Database, 5, 2*time.Second)
		if err != nil {
			return err
		}
		if err := database.InitSchema(ctx); err != nil {
			database.Close()
			return err
		}
		if err := database.SeedFleet(ctx, cfg.Fleet); err != nil {
			database.Close()
			return err
		}

		handle := db.NewHandle(database, cfg.Database)
		defer handle.Close()
		store, history, healthy = handle, handle, handle.Healthy

		dbLogger := logging.Component("database")
		go cleanupLoop(logging.WithContext(ctx, dbLogger), handle, cfg.Database.Retention(), time.Hour)
	}

	coll := collector.NewFromConfig(client, cfg, store)

	collectorLogger := logging.Component("collector")
	refreshCtx := logging.WithContext(ctx, logging.Component("refresh"))
	ctrl := refresh.NewController(refreshCtx, func(ctx context.Context) error {
		_, err := coll.Refresh(logging.WithContext(ctx, collectorLogger))
		return err
	})
	defer ctrl.Close()

	authSvc := auth.NewService(auth.Config{
		JWTSecret:         cfg.Server.JWTSecret,
		AdminUsername:     cfg.Server.AdminUsername,
		AdminPasswordHash: cfg.Server.AdminPasswordHash,
	})

	serverLogger := logging.Component("server")
	srv := server.New(server.Options{
		Config:    cfg,
		Collector: coll,
		Refresh:   ctrl,
		Auth:      authSvc,
		Store:     history,
		Healthy:   healthy,
		Logger:    &serverLogger,
	})
	srv.Start(ctx)

	if cfg.Refresh.AutoStart {
		if err := ctrl.Start(cfg.Refresh.Interval()); err != nil {
			return err
		}
		logger.Info().Dur("interval", cfg.Refresh.Interval()).Msg("Auto-refresh started")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server")
	ctrl.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// cleanupLoop removes history older than retention on every tick,
// reconnecting first when the database has gone away.
func cleanupLoop(ctx context.Context, store *db.Handle, retention, every time.Duration) {
	logger := zerolog.Ctx(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := store.Ensure(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("Skipping cleanup, database unavailable")
			continue
		}

		var deleted int64
		err := db.WithRetry(ctx, func() error {
			var err error
			deleted, err = store.CleanupOldData(ctx, retention)
			return err
		}, 2)
		if err != nil {
			logger.Error().Err(err).Msg("Cleanup failed")
			continue
		}
		logger.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Old history removed")
	}
}
