package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/LeventeLantos/scheduled-messaging/internal/client"
	"github.com/LeventeLantos/scheduled-messaging/internal/config"
	"github.com/LeventeLantos/scheduled-messaging/internal/launcher"
	"github.com/LeventeLantos/scheduled-messaging/internal/notify"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
)

type store interface {
	repo.MessageRepository
	repo.ContactRepository
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		r, err := repo.Open(ctx, repo.Postgres, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case config.DriverSQLite:
		r, err := repo.Open(ctx, repo.SQLite, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case config.DriverMemory:
		return repo.NewMemoryMessageRepo(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// buildPlatform picks the alert and launch variants once for the whole process.
func buildPlatform(cfg *config.Config, logger logrus.FieldLogger) (notify.Alerter, launcher.Launcher) {
	var alerters notify.FanoutAlerter
	var launch launcher.Launcher

	switch cfg.Platform.Name {
	case config.PlatformNative:
		gateway := client.NewWebhookClient(cfg.Platform.WebhookURL, client.WithToken(cfg.Platform.WebhookToken))
		alerters = append(alerters, notify.NewWebhookAlerter(gateway))
		launch = launcher.NewNative(cfg.Platform.LaunchScheme, launcher.NewWebhookOpener(gateway, logger))
	default:
		alerters = append(alerters, notify.NewLogAlerter(logger, true))
		launch = launcher.NewWeb(cfg.Platform.LaunchService, launcher.NewLogOpener(logger))
	}

	if cfg.Email.Enabled {
		e := cfg.Email
		alerters = append(alerters, notify.NewEmailAlerter(e.Host, e.Port, e.Username, e.Password, e.From, e.To))
	}

	if len(alerters) == 1 {
		return alerters[0], launch
	}
	return alerters, launch
}
