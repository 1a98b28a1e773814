package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns defaults patched up to pass Validate.
func validConfig() Config {
	cfg := Defaults()
	cfg.Twitch.BotUsername = "testbot"
	cfg.Twitch.BotToken = "oauth:abc"
	cfg.Twitch.ClientID = "cid"
	cfg.Twitch.ClientSecret = "csecret"
	cfg.Twitch.RedirectURI = "https://example.com/callback"
	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Database = "twitchbot"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	cfg.Twitch.BotToken = ""
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted a broken config")
	}
	for _, want := range []string{"log_level", "bot_token", "redis"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestValidateSkipsOAuthWhenServerDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Enabled = false
	cfg.Twitch.ClientID = ""
	cfg.Twitch.ClientSecret = ""
	cfg.Twitch.RedirectURI = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateDSNReplacesHostFields(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	cfg.Postgres.DSN = "postgres://u:p@db:5432/twitchbot"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateTelegramNeedsBothHalves(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("Validate = %v, want telegram error", err)
	}
}

func TestLoadAppliesTOMLAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
log_level = "debug"

[twitch]
bot_username = "testbot"

[bot]
warning_window = "10s"
auto_unfeature_delay = "2h"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Twitch.BotUsername != "testbot" {
		t.Errorf("BotUsername = %q", cfg.Twitch.BotUsername)
	}
	if cfg.Bot.WarningWindow.Duration != 10*time.Second {
		t.Errorf("WarningWindow = %v", cfg.Bot.WarningWindow.Duration)
	}
	if cfg.Bot.AutoUnfeatureDelay.Duration != 2*time.Hour {
		t.Errorf("AutoUnfeatureDelay = %v", cfg.Bot.AutoUnfeatureDelay.Duration)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Port != 9172 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
}

func TestEnvOverridesBeatTOML(t *testing.T) {
	t.Setenv("TWITCHBOT_TWITCH_BOT_TOKEN", "oauth:from-env")
	t.Setenv("TWITCHBOT_SERVER_PORT", "8081")
	t.Setenv("TWITCHBOT_SERVER_ENABLED", "false")
	t.Setenv("TWITCHBOT_TWITCH_ADMIN_LOGINS", "alice, bob ,")
	t.Setenv("TWITCHBOT_BOT_WARNING_WINDOW", "30s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Twitch.BotToken != "oauth:from-env" {
		t.Errorf("BotToken = %q", cfg.Twitch.BotToken)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Server.Enabled {
		t.Error("Server.Enabled not overridden")
	}
	if len(cfg.Twitch.AdminLogins) != 2 || cfg.Twitch.AdminLogins[0] != "alice" || cfg.Twitch.AdminLogins[1] != "bob" {
		t.Errorf("AdminLogins = %v", cfg.Twitch.AdminLogins)
	}
	if cfg.Bot.WarningWindow.Duration != 30*time.Second {
		t.Errorf("WarningWindow = %v", cfg.Bot.WarningWindow.Duration)
	}
}
