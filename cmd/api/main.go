// Package main is the entrypoint for the Cardfolio analytics API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/cardfolio/cardfolio/internal/analytics"
	"github.com/cardfolio/cardfolio/internal/cache"
	"github.com/cardfolio/cardfolio/internal/config"
	"github.com/cardfolio/cardfolio/internal/geo"
	"github.com/cardfolio/cardfolio/internal/handler"
	"github.com/cardfolio/cardfolio/internal/ingest"
	"github.com/cardfolio/cardfolio/internal/metrics"
	"github.com/cardfolio/cardfolio/internal/repository"
	"github.com/cardfolio/cardfolio/internal/server"
	"github.com/cardfolio/cardfolio/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return errors.New("database unavailable")
	}
	defer repo.Close()
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return errors.New("redis unavailable")
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	geoResolver, err := geo.Open(cfg.GeoIPDBPath, logger)
	if err != nil {
		return err
	}

	recorder := metrics.NewPrometheus()
	events := repository.NewEventRepository(repo)

	analyticsService := analytics.NewService(repo, events, logger, recorder)
	publisher := ingest.NewPublisher(cacheClient.Client(), logger, recorder)
	trackingService := service.NewTrackingService(repo, cacheClient, geoResolver, publisher, logger)

	router := newRouter(routerDeps{
		cfg:       cfg,
		logger:    logger,
		root:      handler.New(),
		health:    handler.NewHealthHandler(repo, cacheClient),
		analytics: handler.NewAnalyticsHandler(analyticsService, logger, recorder),
		track:     handler.NewTrackHandler(trackingService, logger),
		limiter:   cacheClient,
		metrics:   recorder.Handler(),
	})

	srv := server.New(router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first so the reader closes after the worker has drained.
	srv.OnShutdown("geoip", func(context.Context) error {
		return geoResolver.Close()
	})

	if cfg.IngestWorkerEnabled {
		worker := ingest.NewWorker(cacheClient.Client(), events, logger, ingest.NewConsumerID(), recorder)
		worker.SetBatchSize(cfg.IngestBatchSize)
		worker.SetBlockTimeout(cfg.IngestBlockTimeout)

		go func() {
			if err := worker.Run(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ingest worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("ingest-worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"geoip", geoResolver.Enabled(),
		"ingest_worker", cfg.IngestWorkerEnabled,
	)

	return srv.Run(ctx)
}

func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

// redactURL drops the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			username = "redacted"
		}
		parsed.User = url.User(username)
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
