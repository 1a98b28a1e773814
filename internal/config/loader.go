package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TWITCHBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TWITCHBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Manifold ──
	setStr(&cfg.Manifold.APIBase, "TWITCHBOT_MANIFOLD_API_BASE")
	setStr(&cfg.Manifold.WSURL, "TWITCHBOT_MANIFOLD_WS_URL")
	setStr(&cfg.Manifold.GroupID, "TWITCHBOT_MANIFOLD_GROUP_ID")

	// ── Twitch ──
	setStr(&cfg.Twitch.BotUsername, "TWITCHBOT_TWITCH_BOT_USERNAME")
	setStr(&cfg.Twitch.BotToken, "TWITCHBOT_TWITCH_BOT_TOKEN")
	setStr(&cfg.Twitch.ClientID, "TWITCHBOT_TWITCH_CLIENT_ID")
	setStr(&cfg.Twitch.ClientSecret, "TWITCHBOT_TWITCH_CLIENT_SECRET")
	setStr(&cfg.Twitch.RedirectURI, "TWITCHBOT_TWITCH_REDIRECT_URI")
	setStringSlice(&cfg.Twitch.AdminLogins, "TWITCHBOT_TWITCH_ADMIN_LOGINS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TWITCHBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TWITCHBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TWITCHBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TWITCHBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TWITCHBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TWITCHBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TWITCHBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TWITCHBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TWITCHBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TWITCHBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TWITCHBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TWITCHBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TWITCHBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TWITCHBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TWITCHBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TWITCHBOT_REDIS_TLS_ENABLED")

	// ── Bot ──
	setStr(&cfg.Bot.SignupURL, "TWITCHBOT_BOT_SIGNUP_URL")
	setInt(&cfg.Bot.WarningThreshold, "TWITCHBOT_BOT_WARNING_THRESHOLD")
	setDuration(&cfg.Bot.WarningWindow, "TWITCHBOT_BOT_WARNING_WINDOW")
	setDuration(&cfg.Bot.AutoUnfeatureDelay, "TWITCHBOT_BOT_AUTO_UNFEATURE_DELAY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TWITCHBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TWITCHBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TWITCHBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.DiscordWebhookURL, "TWITCHBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramToken, "TWITCHBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TWITCHBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "TWITCHBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TWITCHBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
