package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountColumns = `
	twitch_login, twitch_display_name, platform_user_id,
	api_key, control_token, is_admin, linked_at, updated_at`

// GetByTwitchLogin returns the linked account for a Twitch login.
func (s *AccountStore) GetByTwitchLogin(ctx context.Context, login string) (domain.LinkedAccount, error) {
	const query = `SELECT` + accountColumns + ` FROM linked_accounts WHERE twitch_login = $1`

	a, err := scanAccount(s.pool.QueryRow(ctx, query, strings.ToLower(login)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LinkedAccount{}, fmt.Errorf("postgres: account for %s: %w", login, domain.ErrNotFound)
		}
		return domain.LinkedAccount{}, fmt.Errorf("postgres: get account by login: %w", err)
	}
	return a, nil
}

// GetByControlToken returns the linked account that owns a control token.
func (s *AccountStore) GetByControlToken(ctx context.Context, token string) (domain.LinkedAccount, error) {
	const query = `SELECT` + accountColumns + ` FROM linked_accounts WHERE control_token = $1`

	a, err := scanAccount(s.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LinkedAccount{}, fmt.Errorf("postgres: account for token: %w", domain.ErrNotFound)
		}
		return domain.LinkedAccount{}, fmt.Errorf("postgres: get account by token: %w", err)
	}
	return a, nil
}

// Upsert creates or relinks an account. The control token is preserved on
// conflict so existing dock and overlay URLs stay valid.
func (s *AccountStore) Upsert(ctx context.Context, a domain.LinkedAccount) error {
	const query = `
		INSERT INTO linked_accounts (
			twitch_login, twitch_display_name, platform_user_id,
			api_key, control_token, is_admin, linked_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (twitch_login) DO UPDATE SET
			twitch_display_name = EXCLUDED.twitch_display_name,
			platform_user_id    = EXCLUDED.platform_user_id,
			api_key             = EXCLUDED.api_key,
			is_admin            = EXCLUDED.is_admin,
			updated_at          = NOW()`

	_, err := s.pool.Exec(ctx, query,
		strings.ToLower(a.TwitchLogin), a.TwitchDisplayName, a.PlatformUserID,
		a.APIKey, a.ControlToken, a.IsAdmin,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", a.TwitchLogin, err)
	}
	return nil
}

func scanAccount(row pgx.Row) (domain.LinkedAccount, error) {
	var a domain.LinkedAccount
	err := row.Scan(
		&a.TwitchLogin, &a.TwitchDisplayName, &a.PlatformUserID,
		&a.APIKey, &a.ControlToken, &a.IsAdmin, &a.LinkedAt, &a.UpdatedAt,
	)
	return a, err
}

var _ domain.AccountStore = (*AccountStore)(nil)
