package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Server:
// - PORT: HTTP listen port (default: 5000)
//
// Downloads:
// - DOWNLOAD_DIR: output directory for extracted audio (default: downloads)
// - DB_PATH: sqlite history database path (default: database.db)
// - SEARCH_LIMIT: max search results returned (default: 5)
// - DEFAULT_QUALITY: audio quality when the request omits one (default: 128)
// - COOKIE_FILE: yt-dlp cookies file for restricted sources (default: unset)
// - RETENTION_WINDOW: file age after which the sweeper deletes (default: 1h)
// - SWEEP_INTERVAL: how often the sweeper runs (default: 1h)
//
// Bot (optional, enabled when the token is set):
// - TELEGRAM_BOT_TOKEN: bot API token
// - WEBHOOK_URL: public URL registered as the bot webhook

type Config struct {
	Server   ServerConfig
	Download DownloadConfig
	Bot      BotConfig
}

type ServerConfig struct {
	Port int
}

type DownloadConfig struct {
	Dir             string
	DBPath          string
	SearchLimit     int
	DefaultQuality  string
	CookieFile      string
	RetentionWindow time.Duration
	SweepInterval   time.Duration
}

type BotConfig struct {
	Token      string
	WebhookURL string
}

func (b BotConfig) Enabled() bool {
	return b.Token != ""
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 5000),
		},
		Download: DownloadConfig{
			Dir:             getEnvString("DOWNLOAD_DIR", "downloads"),
			DBPath:          getEnvString("DB_PATH", "database.db"),
			SearchLimit:     getEnvInt("SEARCH_LIMIT", 5),
			DefaultQuality:  getEnvString("DEFAULT_QUALITY", "128"),
			CookieFile:      getEnvString("COOKIE_FILE", ""),
			RetentionWindow: getEnvDuration("RETENTION_WINDOW", time.Hour),
			SweepInterval:   getEnvDuration("SWEEP_INTERVAL", time.Hour),
		},
		Bot: BotConfig{
			Token:      getEnvString("TELEGRAM_BOT_TOKEN", ""),
			WebhookURL: getEnvString("WEBHOOK_URL", ""),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Download.Dir == "" {
		return fmt.Errorf("DOWNLOAD_DIR is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be a valid port number")
	}
	if c.Download.RetentionWindow <= 0 {
		return fmt.Errorf("RETENTION_WINDOW must be positive")
	}
	if c.Bot.Enabled() && c.Bot.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
