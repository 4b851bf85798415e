// Package main provides the entry point for the OMR grading service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"omr-grader/internal/api"
	"omr-grader/internal/config"
	"omr-grader/internal/service"
	"omr-grader/internal/version"
	"omr-grader/pkg/logger"
)

// HTTP server timeout constants. The read timeout allows for full-size
// sheet uploads on slow links.
const (
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Start with default log settings; reconfigured once config is loaded.
	if err := logger.Init(logger.Options{}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env).
	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, "failed to load config", logger.Err(err))
		return
	}

	// Apply configured log settings (keep defaults on invalid input).
	if err := logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Warn(ctx, "invalid log settings; keeping defaults",
			logger.String("log_level", cfg.LogLevel),
			logger.String("log_format", cfg.LogFormat),
			logger.Err(err))
	} else {
		log = logger.Get()
	}

	log.Info(ctx, "starting "+version.AppName,
		logger.String("version", version.Version),
		logger.String("commit", version.GitCommit))

	// Bring up the grading service: datastore, templates, answer keys,
	// pipeline engine, and the worker pool.
	svc := service.New(cfg)
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Err(err))
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "service stop failed", logger.Err(err))
		}
	}()

	// HTTP routes.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if _, err := api.New(e, api.Config{
		Store:           svc.Store(),
		Queue:           svc.Queue(),
		Keys:            svc.Keys(),
		DataDir:         svc.UploadDir(),
		OverlayDir:      svc.OverlayDir(),
		DefaultTemplate: cfg.DefaultTemplate,
		Log:             logger.Named("api"),
	}); err != nil {
		log.Error(ctx, "failed to register API routes", logger.Err(err))
		return
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           e,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server.
	go func() {
		log.Info(ctx, "HTTP server listening", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "HTTP server failed", logger.Err(err))
			stop()
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Err(err))
	}

	log.Info(ctx, "server stopped")
}
