// Package config defines the top-level configuration for the twitch bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TWITCHBOT_* environment variables.
type Config struct {
	Manifold ManifoldConfig `toml:"manifold"`
	Twitch   TwitchConfig   `toml:"twitch"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Bot      BotConfig      `toml:"bot"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// ManifoldConfig holds the market platform's API endpoints.
type ManifoldConfig struct {
	APIBase string `toml:"api_base"`
	WSURL   string `toml:"ws_url"`
	// GroupID is the platform group that chat-created markets are tagged
	// into. Optional.
	GroupID string `toml:"group_id"`
}

// TwitchConfig holds chat credentials and the OAuth application used for
// account linking.
type TwitchConfig struct {
	BotUsername  string `toml:"bot_username"`
	BotToken     string `toml:"bot_token"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	// AdminLogins link with the admin flag set.
	AdminLogins []string `toml:"admin_logins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// BotConfig holds chat command behavior knobs.
type BotConfig struct {
	// SignupURL is where unlinked users are pointed to link their account.
	SignupURL string `toml:"signup_url"`
	// WarningThreshold is the queue depth past which the falling-behind
	// warning fires.
	WarningThreshold int `toml:"warning_threshold"`
	// WarningWindow is the minimum gap between falling-behind warnings per
	// channel.
	WarningWindow duration `toml:"warning_window"`
	// AutoUnfeatureDelay is how long a resolved market stays featured before
	// the channel clears itself.
	AutoUnfeatureDelay duration `toml:"auto_unfeature_delay"`
}

// ServerConfig holds the HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML values like "5s" parse directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns a Config populated with sensible defaults. Credentials are
// left empty and must come from the TOML file or environment.
func Defaults() Config {
	return Config{
		Manifold: ManifoldConfig{
			APIBase: "https://api.manifold.markets/v0",
			WSURL:   "wss://api.manifold.markets/ws",
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		Bot: BotConfig{
			SignupURL:          "https://manifold.markets/twitch",
			WarningThreshold:   5,
			WarningWindow:      duration{5 * time.Second},
			AutoUnfeatureDelay: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        9172,
			CORSOrigins: []string{"*"},
		},
		Notify: NotifyConfig{
			Events: []string{"chat_connect_lost", "channel_join_failed", "feed_disconnected"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Manifold endpoints
	if c.Manifold.APIBase == "" {
		errs = append(errs, "manifold: api_base must not be empty")
	}
	if c.Manifold.WSURL == "" {
		errs = append(errs, "manifold: ws_url must not be empty")
	}

	// Twitch credentials
	if c.Twitch.BotUsername == "" {
		errs = append(errs, "twitch: bot_username must not be empty")
	}
	if c.Twitch.BotToken == "" {
		errs = append(errs, "twitch: bot_token must not be empty")
	}
	if c.Server.Enabled {
		if c.Twitch.ClientID == "" || c.Twitch.ClientSecret == "" {
			errs = append(errs, "twitch: client_id and client_secret are required for account linking")
		}
		if c.Twitch.RedirectURI == "" {
			errs = append(errs, "twitch: redirect_uri must not be empty")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Bot
	if c.Bot.WarningThreshold < 1 {
		errs = append(errs, "bot: warning_threshold must be >= 1")
	}
	if c.Bot.WarningWindow.Duration <= 0 {
		errs = append(errs, "bot: warning_window must be > 0")
	}
	if c.Bot.AutoUnfeatureDelay.Duration <= 0 {
		errs = append(errs, "bot: auto_unfeature_delay must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify — Telegram needs both halves.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
