package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath   string `envconfig:"DB_PATH" default:"m3u-downloader.db"`

	// DownloadDir and WatchlistRefresh seed the settings row on first start. After that the
	// values stored in the database win.
	DownloadDir      string        `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	WatchlistRefresh time.Duration `envconfig:"WATCHLIST_REFRESH" default:"60m"`

	PlaylistTimeout         time.Duration `envconfig:"PLAYLIST_TIMEOUT" default:"10s"`
	DownloadResponseTimeout time.Duration `envconfig:"DOWNLOAD_RESPONSE_TIMEOUT" default:"60s"`
	ProgressInterval        time.Duration `envconfig:"PROGRESS_INTERVAL" default:"1s"`
	UserAgent               string        `envconfig:"USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) m3u-downloader/1.0"`
	SearchConcurrency       int           `envconfig:"SEARCH_CONCURRENCY" default:"4"`
	ReconcileOnStartup      bool          `envconfig:"RECONCILE_ON_STARTUP" default:"true"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile           string `envconfig:"LOG_FILE"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	SeedFile          string `envconfig:"SEED_FILE"`

	Telemetry struct {
		Enabled        bool          `split_words:"true" default:"true"`
		ServiceName    string        `split_words:"true" default:"m3u-downloader"`
		ServiceVersion string        `split_words:"true" default:"dev"`
		OTLPEndpoint   string        `envconfig:"OTLP_ENDPOINT"`
		ExportInterval time.Duration `split_words:"true" default:"30s"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:3000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or sqlite3)", c.DBDriver)
	}

	if c.WatchlistRefresh < time.Minute {
		return fmt.Errorf("WATCHLIST_REFRESH must be at least 1m, got %s", c.WatchlistRefresh)
	}

	if c.ProgressInterval <= 0 {
		return fmt.Errorf("PROGRESS_INTERVAL must be positive, got %s", c.ProgressInterval)
	}

	if c.SearchConcurrency < 1 {
		c.SearchConcurrency = 1
	}

	return nil
}

// WatchlistRefreshMinutes is the refresh rate in the unit the settings table stores.
func (c *Config) WatchlistRefreshMinutes() int {
	return int(c.WatchlistRefresh / time.Minute)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
