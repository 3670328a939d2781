// Command server starts the bell schedule gateway.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	appauth "github.com/example/bellgate/internal/auth"
	"github.com/example/bellgate/internal/bell"
	"github.com/example/bellgate/internal/bus"
	"github.com/example/bellgate/internal/config"
	httpserver "github.com/example/bellgate/internal/http"
	"github.com/example/bellgate/internal/http/api"
	"github.com/example/bellgate/internal/reconcile"
	"github.com/example/bellgate/internal/store"
	"github.com/example/bellgate/internal/timesource"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("failed to create db pool", zap.Error(err))
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}

	stor := store.NewFromPool(pool)

	busClient := bus.NewClient(bus.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		UseTLS:   cfg.MQTT.UseTLS,
	}, logger)
	defer busClient.Close()

	clock := timesource.New(cfg.Timezone, logger)
	svc := bell.New(stor.Schedules, busClient, clock, logger)
	reconciler := reconcile.New(stor.Schedules, busClient, logger)

	sessionManager := appauth.NewSessionManager(cfg)
	authService, err := appauth.NewService(ctx, cfg, sessionManager)
	if err != nil {
		logger.Fatal("failed to initialize auth service", zap.Error(err))
	}

	apiHandler := api.NewHandler(svc, reconciler)
	r := httpserver.NewRouter(cfg, stor, busClient, authService, apiHandler)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go reconciler.Run(ctx, cfg.ReconcileInterval)
	go svc.RunTimeSync(ctx, cfg.TimeSyncInterval)

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
