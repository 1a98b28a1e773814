package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// Sink receives the mirror's live events. The owning channel implements it
// to broadcast to attached sessions.
type Sink interface {
	OnNewBet(bet domain.NamedBet)
	OnResolved(summary domain.ResolutionSummary)
}

// Mirror is an eventually-consistent local copy of one external market:
// metadata plus the ordered, append-only bet history. It is built from two
// change-feed subscriptions and torn down when the market is unfeatured.
type Mirror struct {
	marketID string
	names    domain.NameResolver
	sink     Sink
	logger   *slog.Logger

	mu       sync.Mutex
	data     domain.Market
	bets     []domain.NamedBet
	resolved *domain.ResolutionSummary

	cancelOnce sync.Once
	cancels    []domain.CancelFunc
}

// Load subscribes to the market's metadata document and bet collection,
// performs the initial bulk load, and returns a running mirror. The load
// fails when the market is already resolved or uses an unsupported
// mechanism; on failure all subscriptions are cancelled before returning.
func Load(ctx context.Context, feed domain.ChangeFeed, names domain.NameResolver, marketID string, sink Sink, logger *slog.Logger) (*Mirror, error) {
	m := &Mirror{
		marketID: marketID,
		names:    names,
		sink:     sink,
		logger:   logger.With(slog.String("component", "mirror"), slog.String("market_id", marketID)),
	}

	marketCh, cancelMarket, err := feed.SubscribeMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market %s: subscribe metadata: %w", marketID, err)
	}
	m.cancels = append(m.cancels, cancelMarket)

	first, err := recvFirst(ctx, marketCh)
	if err != nil {
		m.Unfeature()
		return nil, fmt.Errorf("market %s: initial metadata: %w", marketID, err)
	}
	if first.IsResolved {
		m.Unfeature()
		return nil, fmt.Errorf("market %s: %w", marketID, domain.ErrAlreadyResolved)
	}
	if err := m.applyMetadata(first); err != nil {
		m.Unfeature()
		return nil, err
	}

	betsCh, cancelBets, err := feed.SubscribeBets(ctx, marketID)
	if err != nil {
		m.Unfeature()
		return nil, fmt.Errorf("market %s: subscribe bets: %w", marketID, err)
	}
	m.cancels = append(m.cancels, cancelBets)

	bulk, err := recvFirst(ctx, betsCh)
	if err != nil {
		m.Unfeature()
		return nil, fmt.Errorf("market %s: bet bulk load: %w", marketID, err)
	}
	if err := m.bulkLoad(ctx, bulk); err != nil {
		m.Unfeature()
		return nil, err
	}

	go m.metadataLoop(marketCh)
	go m.betLoop(betsCh)

	return m, nil
}

// recvFirst waits for the first delivery of a fresh subscription.
func recvFirst[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v, ok := <-ch:
		if !ok {
			var zero T
			return zero, domain.ErrFeedDisconnected
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// betVisible reports whether a bet belongs in the visible sequence.
// Redemptions and zero-share entries are excluded everywhere, including
// payout math.
func betVisible(b domain.Bet) bool {
	return !b.IsRedemption && b.Shares != 0
}

// bulkLoad filters, orders, and name-resolves the initial bet history.
// Display names are resolved once per distinct bettor.
func (m *Mirror) bulkLoad(ctx context.Context, bets []domain.Bet) error {
	visible := make([]domain.Bet, 0, len(bets))
	for _, b := range bets {
		if betVisible(b) {
			visible = append(visible, b)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].CreatedTime < visible[j].CreatedTime
	})

	namesByUser := make(map[string]string)
	for _, b := range visible {
		if _, done := namesByUser[b.UserID]; done {
			continue
		}
		name, err := m.names.DisplayName(ctx, b.UserID)
		if err != nil {
			return fmt.Errorf("market %s: resolve name for %s: %w", m.marketID, b.UserID, err)
		}
		namesByUser[b.UserID] = name
	}

	named := make([]domain.NamedBet, 0, len(visible))
	for _, b := range visible {
		named = append(named, domain.NamedBet{Bet: b, Username: namesByUser[b.UserID]})
	}

	m.mu.Lock()
	m.bets = named
	m.mu.Unlock()

	m.logger.Info("bet history loaded", slog.Int("bets", len(named)))
	return nil
}

// applyMetadata replaces the metadata snapshot and refreshes the live
// probability for binary markets.
func (m *Mirror) applyMetadata(data domain.Market) error {
	if data.OutcomeType == domain.OutcomeTypeBinary {
		p, err := Probability(data)
		if err != nil {
			return err
		}
		data.Probability = p
	}

	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// metadataLoop consumes metadata changes until the subscription is
// cancelled. A delivery reporting resolution triggers the summary exactly
// once.
func (m *Mirror) metadataLoop(ch <-chan domain.Market) {
	for data := range ch {
		if err := m.applyMetadata(data); err != nil {
			m.logger.Error("metadata update rejected", slog.String("error", err.Error()))
			continue
		}
		if data.IsResolved {
			m.resolve()
		}
	}
}

// betLoop consumes incremental bet deliveries in feed order.
func (m *Mirror) betLoop(ch <-chan []domain.Bet) {
	for batch := range ch {
		for _, b := range batch {
			if !betVisible(b) {
				continue
			}
			name, err := m.names.DisplayName(context.Background(), b.UserID)
			if err != nil {
				m.logger.Warn("display name lookup failed",
					slog.String("user_id", b.UserID),
					slog.String("error", err.Error()),
				)
				name = b.UserID
			}
			named := domain.NamedBet{Bet: b, Username: name}

			m.mu.Lock()
			m.bets = append(m.bets, named)
			m.mu.Unlock()

			m.sink.OnNewBet(named)
		}
	}
}

// resolve computes the resolution summary once and hands it to the sink.
func (m *Mirror) resolve() {
	m.mu.Lock()
	if m.resolved != nil {
		m.mu.Unlock()
		return
	}
	data := m.data
	bets := append([]domain.NamedBet(nil), m.bets...)
	m.mu.Unlock()

	summary, err := ComputeSummary(data, bets)
	if err != nil {
		m.logger.Error("resolution summary failed", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	m.resolved = &summary
	m.mu.Unlock()

	m.sink.OnResolved(summary)
}

// Unfeature cancels both feed subscriptions. Safe to call repeatedly.
func (m *Mirror) Unfeature() {
	m.cancelOnce.Do(func() {
		for _, cancel := range m.cancels {
			cancel()
		}
	})
}

// ID returns the mirrored market's external id.
func (m *Mirror) ID() string { return m.marketID }

// Data returns the current metadata snapshot.
func (m *Mirror) Data() domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// LastBets returns up to n most recent visible bets, oldest first.
func (m *Mirror) LastBets(n int) []domain.NamedBet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bets) < n {
		n = len(m.bets)
	}
	return append([]domain.NamedBet(nil), m.bets[len(m.bets)-n:]...)
}

// Resolved returns the resolution summary, or nil while the market is open.
func (m *Mirror) Resolved() *domain.ResolutionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolved == nil {
		return nil
	}
	summary := *m.resolved
	return &summary
}

// PositionShares returns a user's net share position over the visible bet
// sequence: positive for net YES shares, negative for net NO.
func (m *Mirror) PositionShares(userID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, b := range m.bets {
		if b.UserID != userID {
			continue
		}
		if b.Outcome == domain.OutcomeYes {
			total += b.Shares
		} else {
			total -= b.Shares
		}
	}
	return total
}
