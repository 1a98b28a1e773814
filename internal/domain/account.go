package domain

import (
	"context"
	"time"
)

// LinkedAccount joins a Twitch identity to an external platform account. The
// control token authenticates dock and overlay socket connections for the
// account's channel.
type LinkedAccount struct {
	TwitchLogin       string
	TwitchDisplayName string
	PlatformUserID    string
	APIKey            string
	ControlToken      string
	IsAdmin           bool
	LinkedAt          time.Time
	UpdatedAt         time.Time
}

// AccountStore persists linked accounts. Lookups return ErrNotFound when no
// account matches.
type AccountStore interface {
	GetByTwitchLogin(ctx context.Context, login string) (LinkedAccount, error)
	GetByControlToken(ctx context.Context, token string) (LinkedAccount, error)
	// Upsert creates the account or replaces its credential and display
	// name. ControlToken is preserved on conflict so existing dock and
	// overlay URLs stay valid across relinks.
	Upsert(ctx context.Context, a LinkedAccount) error
}

// ChannelStore persists the set of broadcast channels the bot has been
// registered to join.
type ChannelStore interface {
	Register(ctx context.Context, channel string) error
	Unregister(ctx context.Context, channel string) error
	List(ctx context.Context) ([]string, error)
}
