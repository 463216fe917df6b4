package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MicrosoftTokenURL is the default OAuth2 token endpoint for Outlook accounts
const MicrosoftTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"

// MinRealTimeInterval is the shortest allowed real-time check interval
const MinRealTimeInterval = 30 * time.Second

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailsync.db"`

	// HTTP control API
	HTTPListenAddr   string        `env:"HTTP_LISTEN_ADDR" envDefault:":8080"`
	CheckWaitTimeout time.Duration `env:"CHECK_WAIT_TIMEOUT" envDefault:"30s"`

	// Scheduler
	ManualWorkers   int `env:"SYNC_MANUAL_WORKERS" envDefault:"5"`
	RealTimeWorkers int `env:"SYNC_REALTIME_WORKERS" envDefault:"5"`
	QueueSize       int `env:"SYNC_QUEUE_SIZE" envDefault:"100"`
	FirstRunLimit   int `env:"SYNC_FIRST_RUN_LIMIT" envDefault:"100"`

	// Dedup: treat a failed lookup as "new" (at-least-once) instead of skipping the message
	DedupAssumeNewOnError bool `env:"DEDUP_ASSUME_NEW_ON_ERROR" envDefault:"false"`

	// Email
	IMAPDialTimeout    time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPCommandTimeout time.Duration `env:"IMAP_COMMAND_TIMEOUT" envDefault:"60s"`

	// Real-time polling
	RealTimeEnabled  bool          `env:"REALTIME_ENABLED" envDefault:"true"`
	RealTimeInterval time.Duration `env:"REALTIME_CHECK_INTERVAL" envDefault:"60s"`

	// OAuth2 (Outlook)
	OAuthTokenURL string   `env:"OAUTH_TOKEN_URL" envDefault:"https://login.microsoftonline.com/common/oauth2/v2.0/token"`
	OAuthScopes   []string `env:"OAUTH_SCOPES" envSeparator:","`

	// Telegram notifications (optional)
	TelegramToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID  int64  `env:"TELEGRAM_CHAT_ID"`
	TelegramTopicID int    `env:"TELEGRAM_TOPIC_ID"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if Telegram notifications are configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and clamps the real-time interval
func (c *Config) Validate() error {
	// Validate encryption key length (32 bytes for AES-256)
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.ManualWorkers < 1 || c.RealTimeWorkers < 1 {
		return fmt.Errorf("worker counts must be positive, got manual=%d realtime=%d", c.ManualWorkers, c.RealTimeWorkers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("SYNC_QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	if c.FirstRunLimit < 1 {
		return fmt.Errorf("SYNC_FIRST_RUN_LIMIT must be positive, got %d", c.FirstRunLimit)
	}
	if c.RealTimeInterval < MinRealTimeInterval {
		c.RealTimeInterval = MinRealTimeInterval
	}
	return nil
}
