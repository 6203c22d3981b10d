package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/api"
	"github.com/donatonuis/chatsync/internal/api/middleware"
	"github.com/donatonuis/chatsync/internal/app"
	"github.com/donatonuis/chatsync/internal/config"
	"github.com/donatonuis/chatsync/internal/handlers"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	stack, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer stack.Close()

	opts := handlers.Options{NotificationLimit: cfg.NotificationLimit, Redis: stack.Redis}
	if p, ok := stack.Broker.(handlers.Pinger); ok {
		opts.Broker = p
	}
	h := handlers.NewHandler(stack.Backend, stack.Loader, logger, opts)

	var routerOpts api.Options
	if stack.Redis != nil {
		routerOpts.RateLimiter = middleware.NewRateLimiter(stack.Redis, logger, middleware.RateLimiterConfig{
			Limit:     cfg.RateLimitPerMinute,
			Whitelist: cfg.RateLimitWhitelist,
		})
	}
	router := api.NewRouter(logger, h, routerOpts)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("broker", cfg.Broker).
			Msg("starting chatsync server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
