package domain

import (
	"context"
	"time"
)

// ChatMessage is one inbound chat line, pre-parsed from the transport's tags.
type ChatMessage struct {
	Channel     string // broadcast channel, lower-case, no '#'
	Login       string
	DisplayName string
	Text        string

	// Elevated is true when the sender holds a moderator, broadcaster,
	// admin, or global-mod badge.
	Elevated bool
}

// ChatSender delivers messages into a broadcast channel's chat.
type ChatSender interface {
	Say(channel, message string)
}

// NoticeLimiter gates repeated notices. Allow reports whether a notice keyed
// by key may fire now, and if so claims the slot for the given window.
type NoticeLimiter interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}
