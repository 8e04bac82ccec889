package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/LeventeLantos/scheduled-messaging/internal/api"
	"github.com/LeventeLantos/scheduled-messaging/internal/cache"
	"github.com/LeventeLantos/scheduled-messaging/internal/config"
	"github.com/LeventeLantos/scheduled-messaging/internal/contact"
	apperrors "github.com/LeventeLantos/scheduled-messaging/internal/errors"
	"github.com/LeventeLantos/scheduled-messaging/internal/feed"
	"github.com/LeventeLantos/scheduled-messaging/internal/notify"
	"github.com/LeventeLantos/scheduled-messaging/internal/service"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}

	logger := apperrors.NewLogger(cfg.LogLevel)
	logger.WithFields(logrus.Fields{
		"addr":     cfg.Server.Address,
		"driver":   cfg.Database.Driver,
		"platform": cfg.Platform.Name,
		"interval": cfg.Scheduler.Interval.String(),
		"redis":    cfg.Redis.Enabled,
	}).Info("Scheduled messaging starting")

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.LogWarn(err, "Failed to close store", logrus.Fields{"driver": cfg.Database.Driver})
		}
	}()

	deps := service.Deps{
		Repo:   store,
		Logger: logger,
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.Cache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
		deps.Feed = feed.NewRedisFeed(rdb, logger)
	}

	alerter, launch := buildPlatform(cfg, logger)
	deps.Notifier = notify.NewTimerFactory(alerter, logger)
	deps.Launcher = launch

	sessions := service.NewSessions(deps,
		service.WithSweepInterval(cfg.Scheduler.Interval),
		service.WithFailedOnLaunchError(cfg.Database.Driver == config.DriverMemory),
	)
	defer sessions.Close()

	h := api.NewHandler(sessions, contact.NewDirectory(store), logger, cfg.Message.BodySoftMax)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      loggingMiddleware(logger, api.Router(h)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(err, "Graceful shutdown failed")
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
