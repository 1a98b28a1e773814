package market

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// fakeFeed is an in-memory ChangeFeed with manually pushed deliveries.
type fakeFeed struct {
	mu        sync.Mutex
	marketCh  chan domain.Market
	betsCh    chan []domain.Bet
	cancelled int
}

func newFakeFeed(snapshot domain.Market, history []domain.Bet) *fakeFeed {
	f := &fakeFeed{
		marketCh: make(chan domain.Market, 8),
		betsCh:   make(chan []domain.Bet, 8),
	}
	f.marketCh <- snapshot
	f.betsCh <- history
	return f
}

func (f *fakeFeed) SubscribeMarket(ctx context.Context, marketID string) (<-chan domain.Market, domain.CancelFunc, error) {
	return f.marketCh, f.cancel, nil
}

func (f *fakeFeed) SubscribeBets(ctx context.Context, marketID string) (<-chan []domain.Bet, domain.CancelFunc, error) {
	return f.betsCh, f.cancel, nil
}

func (f *fakeFeed) cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeFeed) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// staticNames resolves every user id to a fixed display name.
type staticNames map[string]string

func (n staticNames) DisplayName(ctx context.Context, userID string) (string, error) {
	if name, ok := n[userID]; ok {
		return name, nil
	}
	return "", errors.New("unknown user")
}

// recordingSink collects mirror events for assertions.
type recordingSink struct {
	mu       sync.Mutex
	bets     []domain.NamedBet
	resolved []domain.ResolutionSummary
}

func (s *recordingSink) OnNewBet(bet domain.NamedBet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets = append(s.bets, bet)
}

func (s *recordingSink) OnResolved(summary domain.ResolutionSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, summary)
}

func (s *recordingSink) newBets() []domain.NamedBet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.NamedBet(nil), s.bets...)
}

func (s *recordingSink) resolutions() []domain.ResolutionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ResolutionSummary(nil), s.resolved...)
}

func openMarket() domain.Market {
	return domain.Market{
		ID:          "m1",
		Question:    "Will it rain tomorrow?",
		Mechanism:   domain.MechanismCPMM,
		OutcomeType: domain.OutcomeTypeBinary,
		Pool:        domain.Pool{Yes: 100, No: 100},
		P:           0.5,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLoadOrdersAndFiltersBulkHistory(t *testing.T) {
	history := []domain.Bet{
		{ID: "b3", UserID: "u1", Outcome: domain.OutcomeYes, Amount: 5, Shares: 9, CreatedTime: 300},
		{ID: "b1", UserID: "u1", Outcome: domain.OutcomeYes, Amount: 10, Shares: 18, CreatedTime: 100},
		{ID: "br", UserID: "u2", Outcome: domain.OutcomeNo, Amount: 1, Shares: 2, CreatedTime: 150, IsRedemption: true},
		{ID: "b2", UserID: "u2", Outcome: domain.OutcomeNo, Amount: 20, Shares: 36, CreatedTime: 200},
		{ID: "bz", UserID: "u2", Outcome: domain.OutcomeNo, Amount: 3, Shares: 0, CreatedTime: 250},
	}
	feed := newFakeFeed(openMarket(), history)
	names := staticNames{"u1": "alice", "u2": "bob"}

	m, err := Load(context.Background(), feed, names, "m1", &recordingSink{}, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Unfeature()

	bets := m.LastBets(10)
	if len(bets) != 3 {
		t.Fatalf("visible bets = %d, want 3", len(bets))
	}
	for i, wantID := range []string{"b1", "b2", "b3"} {
		if bets[i].ID != wantID {
			t.Errorf("bets[%d].ID = %s, want %s", i, bets[i].ID, wantID)
		}
	}
	if bets[0].Username != "alice" || bets[1].Username != "bob" {
		t.Errorf("display names not resolved: %s, %s", bets[0].Username, bets[1].Username)
	}
}

func TestLoadRejectsResolvedMarket(t *testing.T) {
	snapshot := openMarket()
	snapshot.IsResolved = true
	snapshot.Resolution = domain.OutcomeYes
	feed := newFakeFeed(snapshot, nil)

	_, err := Load(context.Background(), feed, staticNames{}, "m1", &recordingSink{}, testLogger())
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("Load error = %v, want ErrAlreadyResolved", err)
	}
	if feed.cancelCount() == 0 {
		t.Error("subscription not cancelled after failed load")
	}
}

func TestLoadRejectsUnsupportedMechanism(t *testing.T) {
	snapshot := openMarket()
	snapshot.Mechanism = "dpm-2"
	feed := newFakeFeed(snapshot, nil)

	_, err := Load(context.Background(), feed, staticNames{}, "m1", &recordingSink{}, testLogger())
	if !errors.Is(err, domain.ErrUnsupportedMechanism) {
		t.Fatalf("Load error = %v, want ErrUnsupportedMechanism", err)
	}
}

func TestMirrorAppendsLiveBets(t *testing.T) {
	feed := newFakeFeed(openMarket(), nil)
	names := staticNames{"u1": "alice"}
	sink := &recordingSink{}

	m, err := Load(context.Background(), feed, names, "m1", sink, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Unfeature()

	feed.betsCh <- []domain.Bet{
		{ID: "b1", UserID: "u1", Outcome: domain.OutcomeYes, Amount: 10, Shares: 18, CreatedTime: 100},
		{ID: "br", UserID: "u1", Outcome: domain.OutcomeYes, Amount: 1, Shares: 2, CreatedTime: 110, IsRedemption: true},
	}

	waitFor(t, func() bool { return len(sink.newBets()) == 1 })
	got := sink.newBets()
	if got[0].ID != "b1" || got[0].Username != "alice" {
		t.Errorf("live bet = %+v, want b1 by alice", got[0])
	}
	if m.PositionShares("u1") != 18 {
		t.Errorf("PositionShares = %v, want 18", m.PositionShares("u1"))
	}
}

func TestMirrorResolvesOnce(t *testing.T) {
	feed := newFakeFeed(openMarket(), []domain.Bet{
		{ID: "b1", UserID: "u1", Outcome: domain.OutcomeYes, Amount: 10, Shares: 18, CreatedTime: 100},
	})
	names := staticNames{"u1": "alice"}
	sink := &recordingSink{}

	m, err := Load(context.Background(), feed, names, "m1", sink, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Unfeature()

	resolved := openMarket()
	resolved.IsResolved = true
	resolved.Resolution = domain.OutcomeYes
	feed.marketCh <- resolved
	feed.marketCh <- resolved

	waitFor(t, func() bool { return len(sink.resolutions()) >= 1 })
	// A repeat resolution delivery must not produce a second summary.
	time.Sleep(50 * time.Millisecond)
	if n := len(sink.resolutions()); n != 1 {
		t.Fatalf("resolutions = %d, want 1", n)
	}

	summary := sink.resolutions()[0]
	if summary.Outcome != domain.OutcomeYes || summary.UniqueTraders != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if m.Resolved() == nil {
		t.Error("Resolved() = nil after resolution")
	}
}

func TestUnfeatureIsIdempotent(t *testing.T) {
	feed := newFakeFeed(openMarket(), nil)
	m, err := Load(context.Background(), feed, staticNames{}, "m1", &recordingSink{}, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	m.Unfeature()
	first := feed.cancelCount()
	m.Unfeature()
	if feed.cancelCount() != first {
		t.Error("second Unfeature cancelled subscriptions again")
	}
}
