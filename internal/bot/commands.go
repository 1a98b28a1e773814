package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/market"
	"github.com/manifoldmarkets/twitch-bot/internal/stream"
)

// requirements are checked before a command is enqueued, so authorization
// failures never consume queue slots.
type requirements struct {
	minArgs        int
	hasUser        bool
	marketFeatured bool
	isAdmin        bool
}

// commandArgs carries everything a handler needs, captured at enqueue time.
type commandArgs struct {
	args        []string
	msg         domain.ChatMessage
	channel     *stream.Channel
	broadcaster domain.LinkedAccount
	user        *domain.LinkedAccount // nil when the sender is not linked
	mirror      *market.Mirror        // nil when no market is featured
}

type command struct {
	requires requirements
	handler  func(ctx context.Context, b *Bot, p *commandArgs) error
}

// buildCommands assembles the chat command table. Aliases share one
// definition, matching their shared behavior.
func (b *Bot) buildCommands() map[string]*command {
	bet := betCommand(nil)
	yes, no := true, false

	feature := &command{
		requires: requirements{isAdmin: true, minArgs: 1},
		handler: func(ctx context.Context, b *Bot, p *commandArgs) error {
			m, err := b.gateway.GetMarketBySlug(ctx, p.args[0])
			if err != nil {
				return err
			}
			return p.channel.SelectMarket(ctx, m.ID, nil)
		},
	}

	position := &command{
		requires: requirements{hasUser: true, marketFeatured: true},
		handler: func(ctx context.Context, b *Bot, p *commandArgs) error {
			shares := int(math.Trunc(p.mirror.PositionShares(p.user.PlatformUserID)))
			b.chat.Say(p.msg.Channel, msgPosition(p.msg.DisplayName, shares))
			return nil
		},
	}

	help := &command{
		handler: func(ctx context.Context, b *Bot, p *commandArgs) error {
			b.chat.Say(p.msg.Channel, msgHelp(b.signupURL))
			return nil
		},
	}

	return map[string]*command{
		"help":     help,
		"commands": help,
		"signup": {
			handler: func(ctx context.Context, b *Bot, p *commandArgs) error {
				b.chat.Say(p.msg.Channel, msgSignup(p.msg.DisplayName, b.signupURL))
				return nil
			},
		},
		"buy":     bet,
		"bet":     bet,
		"predict": bet,
		"y":       betCommand(&yes),
		"n":       betCommand(&no),
		"sell": {
			requires: requirements{hasUser: true, marketFeatured: true},
			handler: func(ctx context.Context, b *Bot, p *commandArgs) error {
				return b.gateway.SellShares(ctx, p.user.APIKey, p.mirror.ID())
			},
		},
		"allin": {
			requires: requirements{hasUser: true, marketFeatured: true, minArgs: 1},
			handler:  allinHandler,
		},
		"balance": {
			requires: requirements{hasUser: true},
			handler: func(ctx context.Context, b *Bot, p *commandArgs) error {
				u, err := b.gateway.GetUser(ctx, p.user.PlatformUserID)
				if err != nil {
					return err
				}
				b.chat.Say(p.msg.Channel, msgBalance(p.msg.DisplayName, u.Balance))
				return nil
			},
		},
		"feature": feature,
		"select":  feature,
		"unfeature": {
			requires: requirements{isAdmin: true, marketFeatured: true},
			handler: func(ctx context.Context, b *Bot, p *commandArgs) error {
				if err := p.channel.SelectMarket(ctx, "", nil); err != nil {
					return err
				}
				b.chat.Say(p.msg.Channel, msgMarketUnfeatured())
				return nil
			},
		},
		"create": {
			requires: requirements{isAdmin: true, minArgs: 1},
			handler:  createHandler,
		},
		"resolve":  {requires: requirements{isAdmin: true, marketFeatured: true, minArgs: 1}, handler: resolveHandler},
		"position": position,
		"pos":      position,
	}
}

// betCommand builds a betting command. With direction == nil the direction
// comes out of the arguments; otherwise the fixed direction is appended to
// the amount token, funneling !y / !n through the same fuzzy parser.
func betCommand(direction *bool) *command {
	return &command{
		requires: requirements{hasUser: true, marketFeatured: true, minArgs: 1},
		handler: func(ctx context.Context, b *Bot, p *commandArgs) error {
			token := strings.ToLower(p.args[0])
			if direction == nil {
				if len(p.args) >= 2 {
					token += strings.ToLower(p.args[1])
				}
			} else if *direction {
				token += "y"
			} else {
				token += "n"
			}

			yes, amount, ok := parseBetToken(token)
			if !ok {
				return nil // unparseable bets are dropped without a reply
			}
			outcome := domain.OutcomeNo
			if yes {
				outcome = domain.OutcomeYes
			}
			return b.gateway.PlaceBet(ctx, p.user.APIKey, p.mirror.ID(), amount, outcome)
		},
	}
}

// allinHandler bets the user's entire balance. The balance read and the bet
// are two separate gateway calls; a concurrent spend between them loses the
// race and the bet fails with an insufficient-balance reply. Accepted
// limitation.
func allinHandler(ctx context.Context, b *Bot, p *commandArgs) error {
	var yes bool
	switch strings.ToLower(p.args[0]) {
	case "yes":
		yes = true
	case "no":
		yes = false
	default:
		return nil
	}

	u, err := b.gateway.GetUser(ctx, p.user.PlatformUserID)
	if err != nil {
		return err
	}
	amount := int(math.Floor(u.Balance))
	if amount <= 0 {
		return fmt.Errorf("all-in: %w", domain.ErrInsufficientBalance)
	}
	outcome := domain.OutcomeNo
	if yes {
		outcome = domain.OutcomeYes
	}
	return b.gateway.PlaceBet(ctx, p.user.APIKey, p.mirror.ID(), amount, outcome)
}

// createHandler creates an unlisted binary market from the remaining
// arguments and features it. An underfunded broadcaster gets a dedicated
// reply that includes their balance.
func createHandler(ctx context.Context, b *Bot, p *commandArgs) error {
	question := strings.TrimSpace(strings.Join(p.args, " "))
	b.logger.Info("create command issued", slog.String("question", question), slog.String("channel", p.msg.Channel))

	m, err := b.gateway.CreateMarket(ctx, p.broadcaster.APIKey, question, "")
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			balance := 0.0
			if u, berr := b.gateway.GetUser(ctx, p.broadcaster.PlatformUserID); berr == nil {
				balance = u.Balance
			}
			b.chat.Say(p.msg.Channel, msgNotEnoughManaCreateMarket(p.msg.DisplayName, balance))
			return nil
		}
		return err
	}

	b.logger.Info("market created", slog.String("market_id", m.ID))
	if err := p.channel.SelectMarket(ctx, m.ID, nil); err != nil {
		return err
	}
	b.chat.Say(p.msg.Channel, msgMarketCreated(question))
	return nil
}

// resolveHandler resolves the featured market. NA and N/A map to CANCEL;
// the probabilistic outcome is not a valid terminal resolution here and is
// dropped, as are unknown tokens.
func resolveHandler(ctx context.Context, b *Bot, p *commandArgs) error {
	outcome, ok := domain.ParseOutcome(p.args[0])
	if !ok || outcome == domain.OutcomeMkt {
		b.logger.Info("resolve command dropped",
			slog.String("token", p.args[0]),
			slog.String("channel", p.msg.Channel),
		)
		return nil
	}
	return b.gateway.ResolveMarket(ctx, p.broadcaster.APIKey, p.mirror.ID(), outcome)
}
