package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gridclash/internal/api"
	"gridclash/internal/broadcast"
	"gridclash/internal/config"
	"gridclash/internal/game"
	"gridclash/internal/htmx"
	"gridclash/internal/invite"
	"gridclash/internal/models"
	"gridclash/internal/presence"
	"gridclash/internal/storage"
	"gridclash/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize layers
	gameService := game.NewService(store, game.WithLogger(logger))
	hub := broadcast.NewHub(logger)

	var announcer *broadcast.Announcer
	clock := game.NewTurnClock(gameService, func(s *models.GameSession) {
		announcer.Updated(models.StatusInProgress, s)
	}, logger)
	defer clock.Stop()
	announcer = broadcast.NewAnnouncer(hub, clock)

	tracker, err := presence.NewTracker(hub, cfg.Presence(), logger)
	if err != nil {
		return err
	}
	defer tracker.Stop()
	invites := invite.NewCoordinator(gameService, hub, cfg.InviteTTL, logger)
	defer invites.Stop()

	router := ws.NewRouter(gameService, hub, announcer, tracker, invites, logger)

	// Setup routes
	mux := http.NewServeMux()
	api.NewHandler(gameService, announcer, invites, logger).RegisterRoutes(mux)
	ws.NewHandler(router, hub, ws.Options{AllowedOrigins: cfg.AllowedOrigins, SendBuffer: cfg.SendBuffer}, logger).RegisterRoutes(mux)
	htmx.NewHandler(gameService, hub, logger).RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LogMiddleware(logger, api.CORSMiddleware(cfg.AllowedOrigins, mux)),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", cfg.Addr), zap.Bool("persistent", cfg.DatabaseDSN != ""))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn("DATABASE_DSN not set, games are kept in memory")
		return storage.NewMemoryStore(), func() {}, nil
	}
	db, err := storage.OpenSQLite(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	store, err := storage.NewGormStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return store, closeFn, nil
}
