package domain

import "context"

// MarketGateway is the narrow REST boundary to the external market platform.
// Mutating calls act on behalf of a linked account and take that account's
// API key. Implementations map platform failures onto the sentinel errors in
// errors.go (ErrInsufficientBalance, ErrTradingClosed, ErrForbidden,
// ErrNotFound); anything unmatched surfaces as a generic error naming the
// endpoint and payload.
type MarketGateway interface {
	GetUser(ctx context.Context, userID string) (User, error)
	GetMarket(ctx context.Context, marketID string) (Market, error)
	GetMarketBySlug(ctx context.Context, slug string) (Market, error)

	PlaceBet(ctx context.Context, apiKey, marketID string, amount int, outcome Outcome) error
	SellShares(ctx context.Context, apiKey, marketID string) error
	CreateMarket(ctx context.Context, apiKey, question, groupID string) (Market, error)
	ResolveMarket(ctx context.Context, apiKey, marketID string, outcome Outcome) error
}

// NameResolver maps a platform user id to a display name. Implementations
// should cache aggressively; the mirror resolves every distinct bettor.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}
