package domain

import "context"

// CancelFunc tears down one change-feed subscription. It is idempotent.
type CancelFunc func()

// ChangeFeed is the abstract push interface over the external platform's
// realtime store. The market mirror depends only on this interface.
//
// SubscribeMarket delivers the current metadata document as its first
// element and every subsequent change after that.
//
// SubscribeBets delivers the full bet history as its first element (the bulk
// load) and then batches of newly added bets as they arrive, in feed order.
type ChangeFeed interface {
	SubscribeMarket(ctx context.Context, marketID string) (<-chan Market, CancelFunc, error)
	SubscribeBets(ctx context.Context, marketID string) (<-chan []Bet, CancelFunc, error)
}
