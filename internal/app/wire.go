package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/manifoldmarkets/twitch-bot/internal/bot"
	"github.com/manifoldmarkets/twitch-bot/internal/cache/redis"
	"github.com/manifoldmarkets/twitch-bot/internal/config"
	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/notify"
	"github.com/manifoldmarkets/twitch-bot/internal/platform/manifold"
	"github.com/manifoldmarkets/twitch-bot/internal/platform/twitch"
	"github.com/manifoldmarkets/twitch-bot/internal/server"
	"github.com/manifoldmarkets/twitch-bot/internal/server/handler"
	"github.com/manifoldmarkets/twitch-bot/internal/server/ws"
	"github.com/manifoldmarkets/twitch-bot/internal/store/postgres"
	"github.com/manifoldmarkets/twitch-bot/internal/stream"
)

// Dependencies bundles every wired component the application needs to run.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Accounts domain.AccountStore
	Channels domain.ChannelStore

	// Platform
	Gateway *manifold.Client
	Feed    *manifold.Feed

	// Chat
	Chat *twitch.Chat
	Bot  *bot.Bot

	// Channel state
	Registry *stream.Registry

	// HTTP
	HTTP *server.Server

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Accounts = postgres.NewAccountStore(pool)
	deps.Channels = postgres.NewChannelStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	// --- Market platform ---
	deps.Gateway = manifold.NewClient(cfg.Manifold.APIBase)
	deps.Feed = manifold.NewFeed(cfg.Manifold.WSURL, deps.Gateway, logger)

	names := redis.NewNameCache(redisClient, deps.Gateway)
	notices := redis.NewNoticeLimiter(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	deps.Feed.OnDisconnect(func(err error) {
		_ = deps.Notifier.Notify(context.Background(), notify.EventFeedDisconnected,
			"Feed disconnected", err.Error())
	})

	// --- Chat and channel state ---
	// The registry's channel factory reads chatBot at call time, after the
	// bot exists; channels are only created once traffic flows.
	deps.Chat = twitch.NewChat(cfg.Twitch.BotUsername, cfg.Twitch.BotToken, logger)

	var chatBot *bot.Bot
	deps.Registry = stream.NewRegistry(func(name string) *stream.Channel {
		return stream.NewChannel(name, deps.Feed, names, chatBot, cfg.Bot.AutoUnfeatureDelay.Duration, logger)
	})

	chatBot = bot.New(deps.Chat, deps.Registry, deps.Accounts, deps.Channels, deps.Gateway, notices, bot.Config{
		SignupURL:        cfg.Bot.SignupURL,
		WarningThreshold: cfg.Bot.WarningThreshold,
		WarningWindow:    cfg.Bot.WarningWindow.Duration,
	}, logger)
	deps.Bot = chatBot

	deps.Chat.OnMessage(chatBot.HandleMessage)

	// --- HTTP + WebSocket server ---
	if cfg.Server.Enabled {
		helix := twitch.NewHelix(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret, cfg.Twitch.RedirectURI)
		sockets := ws.NewServer(deps.Registry, deps.Accounts, deps.Gateway, cfg.Manifold.APIBase, logger)

		handlers := server.Handlers{
			Health: handler.NewHealthHandler(logger),
			Link:   handler.NewLinkHandler(deps.Gateway, helix, deps.Accounts, cfg.Twitch.AdminLogins, logger),
			BotReg: handler.NewBotRegHandler(chatBot, deps.Accounts, logger),
		}
		deps.HTTP = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
		}, handlers, sockets, logger)
	}

	return deps, cleanup, nil
}
