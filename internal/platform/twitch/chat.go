package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// elevatedBadges are the chat badges that grant admin-level bot commands.
var elevatedBadges = []string{"moderator", "admin", "global_mod", "broadcaster"}

// MessageHandler receives every chat message seen in a joined channel.
type MessageHandler func(ctx context.Context, msg domain.ChatMessage)

// Chat is the IRC chat transport. It adapts the Twitch IRC client to the
// bot's ChatClient surface and normalizes inbound messages.
type Chat struct {
	client  *irc.Client
	logger  *slog.Logger
	handler MessageHandler
}

// NewChat creates a chat transport authenticated as the given bot account.
// token is the OAuth access token, with or without the "oauth:" prefix.
func NewChat(username, token string, logger *slog.Logger) *Chat {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	c := &Chat{
		client: irc.NewClient(username, token),
		logger: logger.With(slog.String("component", "twitch_chat")),
	}

	c.client.OnConnect(func() {
		c.logger.Info("connected to chat")
	})
	c.client.OnPrivateMessage(func(msg irc.PrivateMessage) {
		if c.handler == nil {
			return
		}
		c.handler(context.Background(), domain.ChatMessage{
			Channel:     strings.ToLower(msg.Channel),
			Login:       strings.ToLower(msg.User.Name),
			DisplayName: msg.User.DisplayName,
			Text:        msg.Message,
			Elevated:    isElevated(msg.User.Badges),
		})
	})

	return c
}

// OnMessage registers the inbound message handler. Must be called before Run.
func (c *Chat) OnMessage(handler MessageHandler) {
	c.handler = handler
}

// Run connects to chat and blocks until the context is cancelled or the
// connection fails. A connect failure is fatal to the caller.
func (c *Chat) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.client.Connect()
	}()

	select {
	case <-ctx.Done():
		if err := c.client.Disconnect(); err != nil {
			c.logger.Warn("disconnect failed", slog.String("error", err.Error()))
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("twitch/chat: connect: %w", err)
		}
		return nil
	}
}

// Say sends a message to a channel's chat.
func (c *Chat) Say(channel, message string) {
	c.client.Say(channel, message)
}

// Join joins a channel's chat.
func (c *Chat) Join(channel string) {
	c.client.Join(channel)
}

// Depart leaves a channel's chat.
func (c *Chat) Depart(channel string) {
	c.client.Depart(channel)
}

func isElevated(badges map[string]int) bool {
	for _, badge := range elevatedBadges {
		if badges[badge] > 0 {
			return true
		}
	}
	return false
}

var _ domain.ChatSender = (*Chat)(nil)
