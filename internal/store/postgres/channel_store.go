package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// ChannelStore implements domain.ChannelStore using PostgreSQL.
type ChannelStore struct {
	pool *pgxpool.Pool
}

// NewChannelStore creates a new ChannelStore backed by the given connection pool.
func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

// Register records that the bot should join the channel. Idempotent.
func (s *ChannelStore) Register(ctx context.Context, channel string) error {
	const query = `
		INSERT INTO registered_channels (channel)
		VALUES ($1)
		ON CONFLICT (channel) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, strings.ToLower(channel)); err != nil {
		return fmt.Errorf("postgres: register channel %s: %w", channel, err)
	}
	return nil
}

// Unregister removes the channel from the bot's join list. Idempotent.
func (s *ChannelStore) Unregister(ctx context.Context, channel string) error {
	const query = `DELETE FROM registered_channels WHERE channel = $1`

	if _, err := s.pool.Exec(ctx, query, strings.ToLower(channel)); err != nil {
		return fmt.Errorf("postgres: unregister channel %s: %w", channel, err)
	}
	return nil
}

// List returns every registered channel.
func (s *ChannelStore) List(ctx context.Context) ([]string, error) {
	const query = `SELECT channel FROM registered_channels ORDER BY channel`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list channels: %w", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			return nil, fmt.Errorf("postgres: scan channel: %w", err)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate channels: %w", err)
	}

	return channels, nil
}

var _ domain.ChannelStore = (*ChannelStore)(nil)
