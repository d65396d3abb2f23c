package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	ProgressStorePostgres = "postgres"
	ProgressStoreSQLite   = "sqlite"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" default:"development"`
	Port          string `env:"PORT" default:"4000"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisURL      string `env:"REDIS_URL"`
	ProgressStore string `env:"PROGRESS_STORE" default:"postgres"`
	SQLitePath    string `env:"SQLITE_PATH" default:"simulations.db"`
	LogLevel      string `env:"LOG_LEVEL" default:"info"`
	LogFormat     string `env:"LOG_FORMAT" default:"text"`

	PollInterval        time.Duration `env:"POLL_INTERVAL" default:"5s"`
	PollQueryTimeout    time.Duration `env:"POLL_QUERY_TIMEOUT" default:"2s"`
	PollMaxBackoff      time.Duration `env:"POLL_MAX_BACKOFF" default:"1m"`
	PollerRetryInterval time.Duration `env:"POLLER_RETRY_INTERVAL" default:"10s"`
	MaxPollers          int           `env:"MAX_POLLERS" default:"1000"`
	ProgressCacheTTL    time.Duration `env:"PROGRESS_CACHE_TTL" default:"1s"`

	MaxWebSocketConnections int    `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	AllowedOrigins          string `env:"ALLOWED_ORIGINS" default:"*"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"20"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"40"`

	SynthInterval time.Duration `env:"SYNTH_INTERVAL" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Origins splits ALLOWED_ORIGINS into its entries.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	switch cfg.ProgressStore {
	case ProgressStorePostgres:
	case ProgressStoreSQLite:
		if cfg.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when PROGRESS_STORE=sqlite")
		}
	default:
		return fmt.Errorf("PROGRESS_STORE must be %q or %q, got %q", ProgressStorePostgres, ProgressStoreSQLite, cfg.ProgressStore)
	}

	durations := map[string]time.Duration{
		"POLL_INTERVAL":         cfg.PollInterval,
		"POLL_QUERY_TIMEOUT":    cfg.PollQueryTimeout,
		"POLL_MAX_BACKOFF":      cfg.PollMaxBackoff,
		"POLLER_RETRY_INTERVAL": cfg.PollerRetryInterval,
		"SYNTH_INTERVAL":        cfg.SynthInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.PollMaxBackoff < cfg.PollInterval {
		return errors.New("POLL_MAX_BACKOFF must not be shorter than POLL_INTERVAL")
	}
	if cfg.MaxPollers < 0 {
		return errors.New("MAX_POLLERS must not be negative")
	}
	if cfg.MaxWebSocketConnections <= 0 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be positive")
	}
	if cfg.APIRateLimit <= 0 || cfg.APIRateBurst <= 0 {
		return errors.New("API_RATE_LIMIT and API_RATE_BURST must be positive")
	}

	if cfg.AppEnv == "production" {
		if err := rejectInsecureSSL(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	return nil
}

func rejectInsecureSSL(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
