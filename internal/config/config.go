package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"

	PlatformNative = "native"
	PlatformWeb    = "web"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Platform  PlatformConfig
	Email     EmailConfig
	Message   MessageConfig
	LogLevel  string
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Driver      string
	PostgresURL string
	SQLitePath  string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
}

type PlatformConfig struct {
	Name          string
	WebhookURL    string
	WebhookToken  string
	LaunchService string
	LaunchScheme  string
}

type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type MessageConfig struct {
	BodySoftMax int
}

// LoadAll reads the configuration from the environment and reports every problem at once.
func LoadAll() (*Config, error) {
	var errs []error

	intEnv := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", DriverPostgres),
			SQLitePath: getEnv("SQLITE_PATH", "scheduled-messaging.db"),
		},
		Scheduler: SchedulerConfig{
			Interval: time.Duration(intEnv("SWEEP_INTERVAL_SECONDS", 30)) * time.Second,
		},
		Platform: PlatformConfig{
			Name:          getEnv("PLATFORM", PlatformWeb),
			WebhookURL:    os.Getenv("GATEWAY_WEBHOOK_URL"),
			WebhookToken:  os.Getenv("GATEWAY_TOKEN"),
			LaunchService: getEnv("LAUNCH_SERVICE", "wa.me"),
			LaunchScheme:  getEnv("LAUNCH_SCHEME", "whatsapp://send"),
		},
		Message: MessageConfig{
			BodySoftMax: intEnv("BODY_SOFT_MAX", 1000),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.Database.Driver {
	case DriverPostgres:
		url, err := requireEnv("POSTGRES_URL")
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Database.PostgresURL = url
	case DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be one of postgres, sqlite3, memory: %q", cfg.Database.Driver))
	}

	switch cfg.Platform.Name {
	case PlatformNative:
		if cfg.Platform.WebhookURL == "" {
			errs = append(errs, errors.New("missing required env var: GATEWAY_WEBHOOK_URL (PLATFORM=native)"))
		}
	case PlatformWeb:
	default:
		errs = append(errs, fmt.Errorf("PLATFORM must be native or web: %q", cfg.Platform.Name))
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intEnv("REDIS_DB", 0),
			TTL:      time.Duration(intEnv("REDIS_TTL_SECONDS", 86400)) * time.Second,
		}
	}

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.Email = EmailConfig{
			Enabled:  true,
			Host:     host,
			Port:     intEnv("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			To:       os.Getenv("REMINDER_EMAIL"),
		}
		if cfg.Email.To == "" {
			errs = append(errs, errors.New("missing required env var: REMINDER_EMAIL (SMTP_HOST set)"))
		}
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Message.BodySoftMax <= 0 {
		errs = append(errs, errors.New("BODY_SOFT_MAX must be > 0"))
	}
	return errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}
