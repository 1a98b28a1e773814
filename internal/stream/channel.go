// Package stream owns the per-broadcast-channel synchronization state: the
// featured market mirror, the attached dock/overlay sessions, the serial
// command queue, and linked-control relationships to other channels.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/market"
	"github.com/manifoldmarkets/twitch-bot/internal/proto"
)

// selectWindow is how many trailing bets accompany a select broadcast.
const selectWindow = 3

// SessionKind distinguishes the two client surfaces.
type SessionKind int

const (
	Dock SessionKind = iota
	Overlay
)

// Session is one attached client connection. Send must not block; slow
// clients are the transport layer's problem.
type Session interface {
	Kind() SessionKind
	Send(kind string, payload any)
}

// Announcer receives channel lifecycle events destined for chat.
type Announcer interface {
	MarketFeatured(channel string, m domain.Market)
	MarketResolved(channel string, m domain.Market, summary domain.ResolutionSummary)
}

// Channel is one broadcast channel's aggregate. It is created on first
// reference and lives for the process lifetime.
type Channel struct {
	name               string
	feed               domain.ChangeFeed
	names              domain.NameResolver
	announcer          Announcer
	autoUnfeatureDelay time.Duration
	logger             *slog.Logger

	// selectMu serializes feature/unfeature transitions, which span
	// network calls and must not interleave.
	selectMu sync.Mutex

	mu             sync.Mutex
	mirror         *market.Mirror
	docks          map[Session]struct{}
	overlays       map[Session]struct{}
	links          []*Channel
	unfeatureTimer *time.Timer

	queueMu  sync.Mutex
	queue    []func(context.Context)
	draining bool
}

// NewChannel constructs an idle (unfeatured) channel. The announcer may be
// nil when chat integration is disabled.
func NewChannel(name string, feed domain.ChangeFeed, names domain.NameResolver, announcer Announcer, autoUnfeatureDelay time.Duration, logger *slog.Logger) *Channel {
	return &Channel{
		name:               name,
		feed:               feed,
		names:              names,
		announcer:          announcer,
		autoUnfeatureDelay: autoUnfeatureDelay,
		logger:             logger.With(slog.String("component", "channel"), slog.String("channel", name)),
		docks:              make(map[Session]struct{}),
		overlays:           make(map[Session]struct{}),
	}
}

// Name returns the broadcast channel name.
func (c *Channel) Name() string { return c.name }

// FeaturedMarket returns the live mirror, or nil while unfeatured.
func (c *Channel) FeaturedMarket() *market.Mirror {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror
}

// SelectMarket features the market with the given id, or unfeatures when id
// is empty. The call propagates to linked channels first, then tears down
// any current mirror and broadcasts the transition to attached sessions,
// suppressing the originating session. A failed load leaves the channel
// unfeatured and returns the error.
func (c *Channel) SelectMarket(ctx context.Context, id string, source Session) error {
	c.mu.Lock()
	links := append([]*Channel(nil), c.links...)
	c.mu.Unlock()
	for _, link := range links {
		if err := link.SelectMarket(ctx, id, nil); err != nil {
			c.logger.Error("linked channel select failed",
				slog.String("linked_channel", link.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	c.mu.Lock()
	if c.unfeatureTimer != nil {
		c.unfeatureTimer.Stop()
		c.unfeatureTimer = nil
	}
	old := c.mirror
	c.mirror = nil
	c.mu.Unlock()

	if old != nil {
		old.Unfeature()
	}
	c.broadcast(proto.KindUnfeature, &proto.Unfeature{}, source, Dock, Overlay)

	if id == "" {
		return nil
	}

	mirror, err := market.Load(ctx, c.feed, c.names, id, c, c.logger)
	if err != nil {
		return fmt.Errorf("channel %s: select market %s: %w", c.name, id, err)
	}

	c.mu.Lock()
	c.mirror = mirror
	c.mu.Unlock()

	c.broadcast(proto.KindSelectMarketID, &proto.SelectMarketID{ID: id}, source, Dock)
	c.broadcast(proto.KindSelectMarket, &proto.SelectMarket{
		Market:      mirror.Data(),
		InitialBets: mirror.LastBets(selectWindow),
	}, source, Overlay)

	if c.announcer != nil {
		c.announcer.MarketFeatured(c.name, mirror.Data())
	}
	c.logger.Info("market featured", slog.String("market_id", id))
	return nil
}

// OnNewBet implements market.Sink: incremental bets stream to overlays.
func (c *Channel) OnNewBet(bet domain.NamedBet) {
	c.broadcast(proto.KindAddBets, &proto.AddBets{Bets: []domain.NamedBet{bet}}, nil, Overlay)
}

// OnResolved implements market.Sink. The summary goes to every session and
// to chat, and the channel auto-unfeatures after the configured delay unless
// a new selection arrives first.
func (c *Channel) OnResolved(summary domain.ResolutionSummary) {
	c.broadcast(proto.KindResolved, &proto.Resolved{ResolutionSummary: summary}, nil, Dock, Overlay)

	c.mu.Lock()
	mirror := c.mirror
	if c.unfeatureTimer != nil {
		c.unfeatureTimer.Stop()
	}
	c.unfeatureTimer = time.AfterFunc(c.autoUnfeatureDelay, func() {
		if err := c.SelectMarket(context.Background(), "", nil); err != nil {
			c.logger.Error("auto-unfeature failed", slog.String("error", err.Error()))
		}
	})
	c.mu.Unlock()

	if c.announcer != nil && mirror != nil {
		c.announcer.MarketResolved(c.name, mirror.Data(), summary)
	}
	c.logger.Info("market resolved", slog.String("outcome", string(summary.Outcome)))
}

// Attach registers a session and replays the current state to it: featured
// channels push the selection (and the resolution, for overlays of resolved
// markets); unfeatured channels push an explicit unfeature. Overlays always
// receive a clear first.
func (c *Channel) Attach(s Session) {
	c.mu.Lock()
	switch s.Kind() {
	case Dock:
		c.docks[s] = struct{}{}
	case Overlay:
		c.overlays[s] = struct{}{}
	}
	mirror := c.mirror
	c.mu.Unlock()

	if s.Kind() == Overlay {
		s.Send(proto.KindClear, &proto.Clear{})
	}

	if mirror == nil {
		s.Send(proto.KindUnfeature, &proto.Unfeature{})
		return
	}

	switch s.Kind() {
	case Dock:
		s.Send(proto.KindSelectMarketID, &proto.SelectMarketID{ID: mirror.ID()})
	case Overlay:
		s.Send(proto.KindSelectMarket, &proto.SelectMarket{
			Market:      mirror.Data(),
			InitialBets: mirror.LastBets(selectWindow),
		})
		if summary := mirror.Resolved(); summary != nil {
			s.Send(proto.KindResolved, &proto.Resolved{ResolutionSummary: *summary})
		}
	}
}

// Detach removes a session. No resume state is kept; a reconnecting client
// goes through Attach again.
func (c *Channel) Detach(s Session) {
	c.mu.Lock()
	delete(c.docks, s)
	delete(c.overlays, s)
	c.mu.Unlock()
}

// SetLinks replaces this channel's linked-control relationships wholesale.
// A configuration through which this channel could be reached from any of
// its own targets is rejected: the linked-control graph must stay acyclic or
// selection propagation would recurse forever.
func (c *Channel) SetLinks(targets []*Channel) error {
	for _, t := range targets {
		if t == c || t.reaches(c, map[*Channel]struct{}{}) {
			return fmt.Errorf("channel %s: link to %s: %w", c.name, t.Name(), domain.ErrControlCycle)
		}
	}

	c.mu.Lock()
	c.links = append([]*Channel(nil), targets...)
	c.mu.Unlock()
	return nil
}

// Links returns a snapshot of the linked channels.
func (c *Channel) Links() []*Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Channel(nil), c.links...)
}

// reaches reports whether target is reachable from c through link edges.
func (c *Channel) reaches(target *Channel, visited map[*Channel]struct{}) bool {
	if c == target {
		return true
	}
	if _, seen := visited[c]; seen {
		return false
	}
	visited[c] = struct{}{}
	for _, link := range c.Links() {
		if link.reaches(target, visited) {
			return true
		}
	}
	return false
}

// broadcast sends a packet to every attached session of the given kinds,
// skipping the originating session.
func (c *Channel) broadcast(kind string, payload any, skip Session, kinds ...SessionKind) {
	c.mu.Lock()
	var targets []Session
	for _, k := range kinds {
		switch k {
		case Dock:
			for s := range c.docks {
				targets = append(targets, s)
			}
		case Overlay:
			for s := range c.overlays {
				targets = append(targets, s)
			}
		}
	}
	c.mu.Unlock()

	for _, s := range targets {
		if s == skip {
			continue
		}
		s.Send(kind, payload)
	}
}

// Enqueue appends a task to the channel's FIFO command queue and returns the
// resulting queue depth. The first entry starts a drain worker; entries
// execute strictly one at a time in arrival order, and the queue keeps
// accepting regardless of depth.
func (c *Channel) Enqueue(task func(ctx context.Context)) int {
	c.queueMu.Lock()
	c.queue = append(c.queue, task)
	depth := len(c.queue)
	if !c.draining {
		c.draining = true
		go c.drain()
	}
	c.queueMu.Unlock()
	return depth
}

// QueueDepth returns the number of queued, not-yet-completed tasks.
func (c *Channel) QueueDepth() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// drain executes queued tasks until the queue empties. A task is removed
// only after it completes, so depth includes the in-flight entry.
func (c *Channel) drain() {
	for {
		c.queueMu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.queueMu.Unlock()
			return
		}
		task := c.queue[0]
		c.queueMu.Unlock()

		task(context.Background())

		c.queueMu.Lock()
		c.queue = c.queue[1:]
		c.queueMu.Unlock()
	}
}
