package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// NoticeLimiter implements domain.NoticeLimiter with a fixed window per key:
// the first caller in a window wins, everyone else is suppressed until the
// key expires. SET NX with a TTL is atomic, so no script is needed.
type NoticeLimiter struct {
	rdb *redis.Client
}

// NewNoticeLimiter creates a NoticeLimiter backed by the given Client.
func NewNoticeLimiter(c *Client) *NoticeLimiter {
	return &NoticeLimiter{rdb: c.Underlying()}
}

func noticeKey(key string) string {
	return "notice:" + key
}

// Allow reports whether the notice identified by key may be emitted now. A
// true result claims the window.
func (nl *NoticeLimiter) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := nl.rdb.SetNX(ctx, noticeKey(key), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("redis: notice allow %s: %w", key, err)
	}
	return ok, nil
}

var _ domain.NoticeLimiter = (*NoticeLimiter)(nil)
