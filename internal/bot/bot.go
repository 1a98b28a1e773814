// Package bot parses chat into trading commands, authorizes them, and
// serializes their execution through each channel's FIFO queue.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/stream"
)

// queueWarningThreshold is the queue depth past which the bot warns chat
// that it is behind.
const queueWarningThreshold = 5

// commandTimeout bounds one queued command's execution, network calls
// included.
const commandTimeout = 30 * time.Second

// ChatClient is the transport the bot speaks chat through.
type ChatClient interface {
	domain.ChatSender
	Join(channel string)
	Depart(channel string)
}

// Config carries the bot's tunables.
type Config struct {
	SignupURL        string
	WarningThreshold int
	WarningWindow    time.Duration
}

// Bot routes inbound chat lines to command handlers. Handlers for one
// channel run strictly one at a time in arrival order on the channel's own
// queue; channels drain independently.
type Bot struct {
	chat     ChatClient
	registry *stream.Registry
	accounts domain.AccountStore
	channels domain.ChannelStore
	gateway  domain.MarketGateway
	notices  domain.NoticeLimiter
	logger   *slog.Logger

	signupURL        string
	warningThreshold int
	warningWindow    time.Duration

	commands map[string]*command

	mu     sync.Mutex
	joined map[string]struct{}
}

// New assembles a Bot. It does not join any channels; call Start.
func New(chat ChatClient, registry *stream.Registry, accounts domain.AccountStore, channels domain.ChannelStore, gateway domain.MarketGateway, notices domain.NoticeLimiter, cfg Config, logger *slog.Logger) *Bot {
	b := &Bot{
		chat:             chat,
		registry:         registry,
		accounts:         accounts,
		channels:         channels,
		gateway:          gateway,
		notices:          notices,
		logger:           logger.With(slog.String("component", "bot")),
		signupURL:        cfg.SignupURL,
		warningThreshold: cfg.WarningThreshold,
		warningWindow:    cfg.WarningWindow,
		joined:           make(map[string]struct{}),
	}
	if b.warningThreshold <= 0 {
		b.warningThreshold = queueWarningThreshold
	}
	if b.warningWindow <= 0 {
		b.warningWindow = 5 * time.Second
	}
	b.commands = b.buildCommands()
	return b
}

// Start joins every registered broadcast channel.
func (b *Bot) Start(ctx context.Context) error {
	registered, err := b.channels.List(ctx)
	if err != nil {
		return fmt.Errorf("bot: list registered channels: %w", err)
	}
	for _, ch := range registered {
		b.chat.Join(ch)
		b.mu.Lock()
		b.joined[ch] = struct{}{}
		b.mu.Unlock()
	}
	b.logger.Info("joined registered channels", slog.Int("count", len(registered)))
	return nil
}

// HandleMessage is the chat transport's delivery callback. Requirement
// failures short-circuit here with a reply or a silent drop; a command that
// passes is enqueued on its channel.
func (b *Bot) HandleMessage(ctx context.Context, msg domain.ChatMessage) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	cmd := b.commands[name]
	if cmd == nil {
		if !isBetShorthand(name) {
			return
		}
		// Rewrite !y12 style shorthand into the generic bet command with
		// the token as its first argument.
		cmd = betCommand(nil)
		args = append([]string{name}, args...)
	}

	channelName := strings.ToLower(strings.TrimPrefix(msg.Channel, "#"))
	channel := b.registry.Get(channelName)

	broadcaster, err := b.accounts.GetByTwitchLogin(ctx, channelName)
	if err != nil {
		b.logger.Error("broadcaster account lookup failed",
			slog.String("channel", channelName),
			slog.String("error", err.Error()),
		)
		b.chat.Say(channelName, msgCommandFailed(msg.DisplayName))
		return
	}

	var user *domain.LinkedAccount
	if acct, err := b.accounts.GetByTwitchLogin(ctx, msg.Login); err == nil {
		acct.TwitchDisplayName = msg.DisplayName
		user = &acct
	}

	params := &commandArgs{
		args:        args,
		msg:         msg,
		channel:     channel,
		broadcaster: broadcaster,
		user:        user,
		mirror:      channel.FeaturedMarket(),
	}

	if !b.checkRequirements(name, cmd, params) {
		return
	}

	depth := channel.Enqueue(func(ctx context.Context) {
		b.execute(ctx, name, cmd, params)
	})
	if depth > b.warningThreshold {
		b.warnBehind(ctx, channelName, depth)
	}
}

// checkRequirements applies a command's declared requirements. It returns
// true when the command may be enqueued, and handles all replies for
// failures itself.
func (b *Bot) checkRequirements(name string, cmd *command, p *commandArgs) bool {
	req := cmd.requires

	if req.isAdmin && !p.msg.Elevated {
		b.logger.Warn("unauthorized elevated command",
			slog.String("command", name),
			slog.String("login", p.msg.Login),
			slog.String("channel", p.msg.Channel),
		)
		// The resolve command gets a joke acknowledgement instead of
		// silently vanishing.
		if name == "resolve" && len(p.args) > 0 {
			b.chat.Say(p.msg.Channel, fmt.Sprintf("%s resolved %s Kappa", p.msg.DisplayName, strings.ToUpper(p.args[0])))
		}
		return false
	}
	if len(p.args) < req.minArgs {
		return false
	}
	if req.hasUser && p.user == nil {
		b.chat.Say(p.msg.Channel, msgSignup(p.msg.DisplayName, b.signupURL))
		return false
	}
	if req.marketFeatured && p.mirror == nil {
		b.chat.Say(p.msg.Channel, msgNoMarketSelected(p.msg.DisplayName))
		return false
	}
	return true
}

// execute runs one dequeued command and maps its failure onto a chat reply.
// The queue advances regardless of outcome; nothing is retried.
func (b *Bot) execute(ctx context.Context, name string, cmd *command, p *commandArgs) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err := cmd.handler(ctx, b, p)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrTradingClosed):
		b.chat.Say(p.msg.Channel, msgTradingClosed(p.msg.DisplayName))
	case errors.Is(err, domain.ErrInsufficientBalance):
		b.chat.Say(p.msg.Channel, msgNotEnoughManaPlaceBet(p.msg.DisplayName))
	default:
		b.logger.Error("command failed",
			slog.String("command", name),
			slog.String("channel", p.msg.Channel),
			slog.String("login", p.msg.Login),
			slog.String("error", err.Error()),
		)
		b.chat.Say(p.msg.Channel, msgCommandFailed(p.msg.DisplayName))
	}
}

// warnBehind emits the backpressure notice, at most once per window per
// channel. This is a notification rate limit only; the queue keeps
// accepting entries regardless of depth.
func (b *Bot) warnBehind(ctx context.Context, channelName string, depth int) {
	allowed, err := b.notices.Allow(ctx, "queue-warning:"+channelName, b.warningWindow)
	if err != nil {
		b.logger.Error("notice limiter failed", slog.String("error", err.Error()))
		return
	}
	if !allowed {
		return
	}
	b.logger.Warn("bot getting behind",
		slog.String("channel", channelName),
		slog.Int("queue_depth", depth),
	)
	b.chat.Say(channelName, msgBehindProcessing())
}

// MarketFeatured implements stream.Announcer.
func (b *Bot) MarketFeatured(channel string, m domain.Market) {
	b.chat.Say(channel, msgFeatured(m))
}

// MarketResolved implements stream.Announcer.
func (b *Bot) MarketResolved(channel string, m domain.Market, summary domain.ResolutionSummary) {
	b.chat.Say(channel, msgResolved(m, summary))
}

// JoinChannel adds the bot to a broadcast channel and records the
// registration so the channel is rejoined on restart.
func (b *Bot) JoinChannel(ctx context.Context, channelName string) error {
	channelName = strings.ToLower(strings.TrimPrefix(channelName, "#"))

	b.mu.Lock()
	_, already := b.joined[channelName]
	b.joined[channelName] = struct{}{}
	b.mu.Unlock()
	if already {
		return nil
	}

	b.chat.Join(channelName)
	if err := b.channels.Register(ctx, channelName); err != nil {
		return fmt.Errorf("bot: register channel %s: %w", channelName, err)
	}
	b.chat.Say(channelName, "Hey there! I am the chat bot. Please /mod me so I can do my job.")
	b.logger.Info("joined channel", slog.String("channel", channelName))
	return nil
}

// LeaveChannel removes the bot from a broadcast channel.
func (b *Bot) LeaveChannel(ctx context.Context, channelName string) error {
	channelName = strings.ToLower(strings.TrimPrefix(channelName, "#"))

	b.mu.Lock()
	_, present := b.joined[channelName]
	delete(b.joined, channelName)
	b.mu.Unlock()
	if !present {
		return nil
	}

	b.chat.Say(channelName, "Goodbye cruel world.")
	b.chat.Depart(channelName)
	if err := b.channels.Unregister(ctx, channelName); err != nil {
		return fmt.Errorf("bot: unregister channel %s: %w", channelName, err)
	}
	b.logger.Info("left channel", slog.String("channel", channelName))
	return nil
}
