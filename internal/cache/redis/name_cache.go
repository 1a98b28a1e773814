package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// defaultNameTTL bounds how long a cached display name is trusted. Platform
// users can rename, so entries expire rather than living forever.
const defaultNameTTL = 24 * time.Hour

// NameCache implements domain.NameResolver with a Redis read-through cache in
// front of the market gateway. The mirror resolves every distinct bettor on
// bulk load, so misses go straight to the platform and hits stay local.
type NameCache struct {
	rdb     *redis.Client
	gateway domain.MarketGateway
	ttl     time.Duration
}

// NewNameCache creates a NameCache backed by the given Client and gateway.
func NewNameCache(c *Client, gateway domain.MarketGateway) *NameCache {
	return &NameCache{
		rdb:     c.Underlying(),
		gateway: gateway,
		ttl:     defaultNameTTL,
	}
}

func nameKey(userID string) string {
	return "name:" + userID
}

// DisplayName resolves a platform user id to a display name, consulting the
// cache first and falling back to the gateway on a miss. Cache write failures
// are swallowed; the resolved name is still returned.
func (nc *NameCache) DisplayName(ctx context.Context, userID string) (string, error) {
	name, err := nc.rdb.Get(ctx, nameKey(userID)).Result()
	if err == nil && name != "" {
		return name, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis: get name %s: %w", userID, err)
	}

	user, err := nc.gateway.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve name %s: %w", userID, err)
	}

	_ = nc.rdb.Set(ctx, nameKey(userID), user.Name, nc.ttl).Err()

	return user.Name, nil
}

var _ domain.NameResolver = (*NameCache)(nil)
