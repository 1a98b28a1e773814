package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/proto"
)

// memFeed is an in-memory ChangeFeed serving canned snapshots per market id.
type memFeed struct {
	mu      sync.Mutex
	markets map[string]domain.Market
	betsOut map[string]chan []domain.Bet
	mktOut  map[string]chan domain.Market
}

func newMemFeed(markets ...domain.Market) *memFeed {
	f := &memFeed{
		markets: make(map[string]domain.Market),
		betsOut: make(map[string]chan []domain.Bet),
		mktOut:  make(map[string]chan domain.Market),
	}
	for _, m := range markets {
		f.markets[m.ID] = m
	}
	return f
}

func (f *memFeed) SubscribeMarket(ctx context.Context, marketID string) (<-chan domain.Market, domain.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[marketID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	ch := make(chan domain.Market, 8)
	ch <- m
	f.mktOut[marketID] = ch
	return ch, func() {}, nil
}

func (f *memFeed) SubscribeBets(ctx context.Context, marketID string) (<-chan []domain.Bet, domain.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []domain.Bet, 8)
	ch <- nil
	f.betsOut[marketID] = ch
	return ch, func() {}, nil
}

func (f *memFeed) pushMetadata(m domain.Market) {
	f.mu.Lock()
	ch := f.mktOut[m.ID]
	f.mu.Unlock()
	ch <- m
}

type noNames struct{}

func (noNames) DisplayName(ctx context.Context, userID string) (string, error) {
	return userID, nil
}

// fakeSession records every packet sent to it.
type fakeSession struct {
	kind SessionKind

	mu      sync.Mutex
	packets []string
}

func (s *fakeSession) Kind() SessionKind { return s.kind }

func (s *fakeSession) Send(kind string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, kind)
}

func (s *fakeSession) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.packets...)
}

func (s *fakeSession) sawKind(kind string) bool {
	for _, k := range s.sent() {
		if k == kind {
			return true
		}
	}
	return false
}

func binaryMarket(id string) domain.Market {
	return domain.Market{
		ID:          id,
		Question:    "test market " + id,
		Mechanism:   domain.MechanismCPMM,
		OutcomeType: domain.OutcomeTypeBinary,
		Pool:        domain.Pool{Yes: 100, No: 100},
		P:           0.5,
	}
}

func newTestChannel(name string, feed domain.ChangeFeed) *Channel {
	return NewChannel(name, feed, noNames{}, nil, time.Hour, slog.New(slog.DiscardHandler))
}

func TestSelectMarketBroadcasts(t *testing.T) {
	feed := newMemFeed(binaryMarket("m1"))
	ch := newTestChannel("streamer", feed)

	dock := &fakeSession{kind: Dock}
	overlay := &fakeSession{kind: Overlay}
	ch.Attach(dock)
	ch.Attach(overlay)

	if err := ch.SelectMarket(context.Background(), "m1", nil); err != nil {
		t.Fatalf("SelectMarket: %v", err)
	}

	if ch.FeaturedMarket() == nil || ch.FeaturedMarket().ID() != "m1" {
		t.Fatal("mirror not installed")
	}
	if !dock.sawKind(proto.KindSelectMarketID) {
		t.Errorf("dock packets = %v, want select_market_id", dock.sent())
	}
	if !overlay.sawKind(proto.KindSelectMarket) {
		t.Errorf("overlay packets = %v, want select", overlay.sent())
	}
}

func TestSelectMarketSkipsOriginatingSession(t *testing.T) {
	feed := newMemFeed(binaryMarket("m1"))
	ch := newTestChannel("streamer", feed)

	origin := &fakeSession{kind: Dock}
	other := &fakeSession{kind: Dock}
	ch.Attach(origin)
	ch.Attach(other)
	sentBefore := len(origin.sent())

	if err := ch.SelectMarket(context.Background(), "m1", origin); err != nil {
		t.Fatalf("SelectMarket: %v", err)
	}

	if len(origin.sent()) != sentBefore {
		t.Errorf("originating session received %v", origin.sent()[sentBefore:])
	}
	if !other.sawKind(proto.KindSelectMarketID) {
		t.Errorf("other dock packets = %v", other.sent())
	}
}

func TestSelectMarketFailureLeavesUnfeatured(t *testing.T) {
	feed := newMemFeed(binaryMarket("m1"))
	ch := newTestChannel("streamer", feed)

	if err := ch.SelectMarket(context.Background(), "m1", nil); err != nil {
		t.Fatalf("SelectMarket: %v", err)
	}
	if err := ch.SelectMarket(context.Background(), "missing", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SelectMarket(missing) = %v, want ErrNotFound", err)
	}
	if ch.FeaturedMarket() != nil {
		t.Error("failed select left a mirror featured")
	}
}

func TestUnfeatureBroadcastsToEveryone(t *testing.T) {
	feed := newMemFeed(binaryMarket("m1"))
	ch := newTestChannel("streamer", feed)
	if err := ch.SelectMarket(context.Background(), "m1", nil); err != nil {
		t.Fatalf("SelectMarket: %v", err)
	}

	dock := &fakeSession{kind: Dock}
	overlay := &fakeSession{kind: Overlay}
	ch.Attach(dock)
	ch.Attach(overlay)

	if err := ch.SelectMarket(context.Background(), "", nil); err != nil {
		t.Fatalf("unfeature: %v", err)
	}
	if ch.FeaturedMarket() != nil {
		t.Error("mirror still featured")
	}
	if !dock.sawKind(proto.KindUnfeature) || !overlay.sawKind(proto.KindUnfeature) {
		t.Errorf("unfeature not broadcast: dock=%v overlay=%v", dock.sent(), overlay.sent())
	}
}

func TestAttachReplaysState(t *testing.T) {
	feed := newMemFeed(binaryMarket("m1"))
	ch := newTestChannel("streamer", feed)

	// Unfeatured channel pushes an explicit unfeature, overlays get a
	// clear first.
	overlay := &fakeSession{kind: Overlay}
	ch.Attach(overlay)
	got := overlay.sent()
	if len(got) != 2 || got[0] != proto.KindClear || got[1] != proto.KindUnfeature {
		t.Fatalf("unfeatured overlay attach = %v", got)
	}

	if err := ch.SelectMarket(context.Background(), "m1", nil); err != nil {
		t.Fatalf("SelectMarket: %v", err)
	}

	lateDock := &fakeSession{kind: Dock}
	ch.Attach(lateDock)
	if !lateDock.sawKind(proto.KindSelectMarketID) {
		t.Errorf("late dock attach = %v", lateDock.sent())
	}

	lateOverlay := &fakeSession{kind: Overlay}
	ch.Attach(lateOverlay)
	if !lateOverlay.sawKind(proto.KindSelectMarket) {
		t.Errorf("late overlay attach = %v", lateOverlay.sent())
	}
}

func TestResolutionAutoUnfeatures(t *testing.T) {
	feed := newMemFeed(binaryMarket("m1"))
	ch := NewChannel("streamer", feed, noNames{}, nil, 20*time.Millisecond, slog.New(slog.DiscardHandler))

	dock := &fakeSession{kind: Dock}
	ch.Attach(dock)

	if err := ch.SelectMarket(context.Background(), "m1", nil); err != nil {
		t.Fatalf("SelectMarket: %v", err)
	}

	resolved := binaryMarket("m1")
	resolved.IsResolved = true
	resolved.Resolution = domain.OutcomeYes
	feed.pushMetadata(resolved)

	waitFor(t, func() bool { return dock.sawKind(proto.KindResolved) })
	waitFor(t, func() bool { return ch.FeaturedMarket() == nil })
}

func TestSelectCancelsAutoUnfeatureTimer(t *testing.T) {
	feed := newMemFeed(binaryMarket("m1"), binaryMarket("m2"))
	ch := NewChannel("streamer", feed, noNames{}, nil, 200*time.Millisecond, slog.New(slog.DiscardHandler))

	if err := ch.SelectMarket(context.Background(), "m1", nil); err != nil {
		t.Fatalf("SelectMarket: %v", err)
	}

	resolved := binaryMarket("m1")
	resolved.IsResolved = true
	resolved.Resolution = domain.OutcomeYes
	feed.pushMetadata(resolved)

	waitFor(t, func() bool {
		m := ch.FeaturedMarket()
		return m != nil && m.Resolved() != nil
	})

	// A new selection before the delay fires must survive it.
	if err := ch.SelectMarket(context.Background(), "m2", nil); err != nil {
		t.Fatalf("SelectMarket(m2): %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if m := ch.FeaturedMarket(); m == nil || m.ID() != "m2" {
		t.Fatal("auto-unfeature timer fired against the new selection")
	}
}

func TestSelectPropagatesToLinkedChannels(t *testing.T) {
	feed := newMemFeed(binaryMarket("m1"))
	leader := newTestChannel("leader", feed)
	follower := newTestChannel("follower", feed)

	if err := leader.SetLinks([]*Channel{follower}); err != nil {
		t.Fatalf("SetLinks: %v", err)
	}
	if err := leader.SelectMarket(context.Background(), "m1", nil); err != nil {
		t.Fatalf("SelectMarket: %v", err)
	}

	if m := follower.FeaturedMarket(); m == nil || m.ID() != "m1" {
		t.Error("selection did not propagate to linked channel")
	}
}

func TestSetLinksRejectsCycles(t *testing.T) {
	feed := newMemFeed()
	a := newTestChannel("a", feed)
	b := newTestChannel("b", feed)
	c := newTestChannel("c", feed)

	if err := a.SetLinks([]*Channel{a}); !errors.Is(err, domain.ErrControlCycle) {
		t.Errorf("self link = %v, want ErrControlCycle", err)
	}

	if err := a.SetLinks([]*Channel{b}); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := b.SetLinks([]*Channel{c}); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	if err := c.SetLinks([]*Channel{a}); !errors.Is(err, domain.ErrControlCycle) {
		t.Errorf("c->a closing a cycle = %v, want ErrControlCycle", err)
	}

	// The rejected call must not have changed c's links.
	if len(c.Links()) != 0 {
		t.Errorf("c.Links() = %d entries after rejected SetLinks", len(c.Links()))
	}
}

func TestEnqueueRunsFIFO(t *testing.T) {
	feed := newMemFeed()
	ch := newTestChannel("streamer", feed)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	release := make(chan struct{})
	wg.Add(1)
	ch.Enqueue(func(ctx context.Context) {
		<-release
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
		wg.Done()
	})

	for i := 1; i <= 5; i++ {
		i := i
		wg.Add(1)
		ch.Enqueue(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	if depth := ch.QueueDepth(); depth != 6 {
		t.Errorf("QueueDepth = %d, want 6", depth)
	}

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("execution order = %v", order)
		}
	}
}

func TestQueuesAreIndependentPerChannel(t *testing.T) {
	feed := newMemFeed()
	a := newTestChannel("a", feed)
	b := newTestChannel("b", feed)

	blocked := make(chan struct{})
	a.Enqueue(func(ctx context.Context) { <-blocked })
	defer close(blocked)

	done := make(chan struct{})
	b.Enqueue(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("channel b's queue was blocked by channel a")
	}
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
