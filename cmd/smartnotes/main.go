package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/smartnotes/internal/ai"
	"github.com/dukerupert/smartnotes/internal/config"
	"github.com/dukerupert/smartnotes/internal/database"
	"github.com/dukerupert/smartnotes/internal/logging"
	"github.com/dukerupert/smartnotes/internal/metrics"
	"github.com/dukerupert/smartnotes/internal/server"
	"github.com/dukerupert/smartnotes/internal/token"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath, database.Options{MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		return err
	}
	defer db.Close()

	codec, err := token.New([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}

	m := metrics.New()
	client := ai.NewClient(cfg.GeminiAPIKey,
		ai.WithBaseURL(cfg.GeminiBaseURL),
		ai.WithModel(cfg.GeminiModel),
		ai.WithHTTPClient(&http.Client{Timeout: cfg.AITimeout}),
		ai.WithRecorder(m),
	)
	if !client.Configured() {
		logger.Warn("GEMINI_API_KEY not set, assistant endpoints will return 503")
	}

	var assistant ai.Assistant = client
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, ai cache will fall back to direct calls", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()

		assistant = ai.NewCachedAssistant(client, rdb, cfg.AICacheTTL,
			ai.WithCacheLogger(logger.With("component", "ai_cache")),
			ai.WithCacheRecorder(m),
		)
	}

	srv, err := server.New(db, codec, assistant, m, server.Options{
		Production:    cfg.IsProduction(),
		AuthRateLimit: cfg.AuthRateLimit,
		TrustProxy:    cfg.TrustProxy,
	}, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.AITimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("smartnotes listening", "addr", httpServer.Addr, "env", cfg.AppEnv)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
