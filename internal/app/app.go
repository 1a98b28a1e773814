// Package app provides the top-level application lifecycle management for the
// twitch bot. It wires together all dependencies (stores, caches, the market
// gateway and feed, the chat bot, and the HTTP/WebSocket server) and runs
// them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manifoldmarkets/twitch-bot/internal/config"
	"github.com/manifoldmarkets/twitch-bot/internal/notify"
)

// shutdownGrace is how long in-flight HTTP requests get on shutdown.
const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the chat
// bot, the realtime feed, and the HTTP server, and blocks until the context
// is cancelled or a fatal error occurs. On return the caller should invoke
// Close to release resources.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// The feed must be live before any channel can feature a market.
	if err := deps.Feed.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect feed: %w", err)
	}
	a.closers = append(a.closers, func() { _ = deps.Feed.Close() })

	g, ctx := errgroup.WithContext(ctx)

	// Chat transport. A connect failure here is fatal: a bot that cannot
	// reach chat has nothing to do.
	g.Go(func() error {
		if err := deps.Chat.Run(ctx); err != nil && ctx.Err() == nil {
			_ = deps.Notifier.Notify(context.Background(), notify.EventChatConnectLost,
				"Chat connection lost", err.Error())
			return fmt.Errorf("app: chat: %w", err)
		}
		return nil
	})

	// Join registered channels once chat is up.
	g.Go(func() error {
		if err := deps.Bot.Start(ctx); err != nil {
			_ = deps.Notifier.Notify(context.Background(), notify.EventChannelJoinFailed,
				"Channel join failed", err.Error())
			return err
		}
		return nil
	})

	// HTTP + WebSocket server.
	if a.cfg.Server.Enabled {
		g.Go(func() error {
			return deps.HTTP.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return deps.HTTP.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
