package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"passculture/internal/platform/config"
	"passculture/internal/platform/httpserver"
	"passculture/internal/platform/logger"
	"passculture/internal/platform/tracing"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger config yet.
		logger.New(config.LogConfig{Level: "error"}).Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log, cfg.Tracing, cfg.Server.Environment)
	if err != nil {
		log.Error("init tracing", "error", err)
		os.Exit(1)
	}

	app, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("wire application", "error", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg.Server.Addr, app.router, log)
	app.start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting beneficiary service",
			"addr", cfg.Server.Addr,
			"environment", cfg.Server.Environment,
			"storage", app.profile,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.Error("server error", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	app.close(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
}
