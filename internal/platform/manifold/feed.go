package manifold

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// subscriberBuffer is the per-topic delivery buffer. The mirror drains
	// promptly; the buffer only absorbs short bursts.
	subscriberBuffer = 64
)

// wsCommand is a client-to-server frame on the realtime socket.
type wsCommand struct {
	Type   string   `json:"type"`
	TxID   int      `json:"txid"`
	Topics []string `json:"topics,omitempty"`
}

// wsMessage is a server-to-client frame on the realtime socket.
type wsMessage struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// subscriber is one live topic subscription.
type subscriber struct {
	topic string
	ch    chan json.RawMessage
	done  chan struct{}
}

// Feed implements domain.ChangeFeed over the platform's realtime WebSocket.
// First deliveries are synthesized from REST snapshots so subscribers always
// start from a complete view; the socket only carries changes after that.
type Feed struct {
	wsURL  string
	rest   *Client
	logger *slog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	closed       bool
	nextTxID     int
	subs         map[*subscriber]struct{}
	topicCount   map[string]int
	onDisconnect func(err error)

	// done is closed when the feed is shut down.
	done chan struct{}
}

// NewFeed creates a realtime feed backed by the given REST client.
//
// wsURL is the realtime endpoint, e.g. "wss://api.manifold.markets/ws".
func NewFeed(wsURL string, rest *Client, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:      wsURL,
		rest:       rest,
		logger:     logger.With(slog.String("component", "manifold_feed")),
		subs:       make(map[*subscriber]struct{}),
		topicCount: make(map[string]int),
		done:       make(chan struct{}),
	}
}

// OnDisconnect registers a hook invoked when the socket drops and the feed
// begins reconnecting. Register before Connect.
func (f *Feed) OnDisconnect(fn func(err error)) {
	f.mu.Lock()
	f.onDisconnect = fn
	f.mu.Unlock()
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. It restores any live subscriptions after a reconnect.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("manifold/feed: %w", domain.ErrFeedDisconnected)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("manifold/feed: connect: %w", err)
	}

	f.conn = conn

	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go f.readLoop(conn)
	go f.pingLoop(conn)

	// Restore live topic subscriptions after reconnect.
	topics := make([]string, 0, len(f.topicCount))
	for topic := range f.topicCount {
		topics = append(topics, topic)
	}
	if len(topics) > 0 {
		if err := f.sendCommand(wsCommand{Type: "subscribe", Topics: topics}); err != nil {
			return fmt.Errorf("manifold/feed: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Close shuts down the connection and cancels every live subscription.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true
	close(f.done)

	for sub := range f.subs {
		close(sub.done)
	}
	f.subs = make(map[*subscriber]struct{})
	f.topicCount = make(map[string]int)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}

	return nil
}

// SubscribeMarket delivers the market's current metadata document first, then
// every subsequent change pushed on the contract topic.
func (f *Feed) SubscribeMarket(ctx context.Context, marketID string) (<-chan domain.Market, domain.CancelFunc, error) {
	snapshot, err := f.rest.GetMarket(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}

	sub, cancel, err := f.subscribeTopic("contract/" + marketID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan domain.Market, 1)
	out <- snapshot

	go func() {
		defer close(out)
		for {
			select {
			case <-sub.done:
				return
			case raw := <-sub.ch:
				var apiMarket APIMarket
				if err := json.Unmarshal(raw, &apiMarket); err != nil {
					f.logger.Warn("dropping malformed market update",
						slog.String("market_id", marketID),
						slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- apiMarket.ToDomain():
				case <-sub.done:
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// SubscribeBets delivers the market's full bet history first (fetched over
// REST), then batches of new bets as the contract topic pushes them.
func (f *Feed) SubscribeBets(ctx context.Context, marketID string) (<-chan []domain.Bet, domain.CancelFunc, error) {
	history, err := f.rest.GetMarketBets(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}

	sub, cancel, err := f.subscribeTopic("contract/" + marketID + "/new-bet")
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []domain.Bet, 1)
	out <- history

	go func() {
		defer close(out)
		for {
			select {
			case <-sub.done:
				return
			case raw := <-sub.ch:
				var apiBets []APIBet
				if err := json.Unmarshal(raw, &apiBets); err != nil {
					f.logger.Warn("dropping malformed bet batch",
						slog.String("market_id", marketID),
						slog.String("error", err.Error()))
					continue
				}
				batch := make([]domain.Bet, 0, len(apiBets))
				for i := range apiBets {
					batch = append(batch, apiBets[i].ToDomain())
				}
				select {
				case out <- batch:
				case <-sub.done:
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// subscribeTopic registers a subscriber for the topic and, if this is the
// topic's first subscriber, sends the subscribe command upstream.
func (f *Feed) subscribeTopic(topic string) (*subscriber, domain.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, nil, fmt.Errorf("manifold/feed: %w", domain.ErrFeedDisconnected)
	}

	sub := &subscriber{
		topic: topic,
		ch:    make(chan json.RawMessage, subscriberBuffer),
		done:  make(chan struct{}),
	}
	f.subs[sub] = struct{}{}
	f.topicCount[topic]++

	if f.topicCount[topic] == 1 && f.conn != nil {
		if err := f.sendCommand(wsCommand{Type: "subscribe", Topics: []string{topic}}); err != nil {
			delete(f.subs, sub)
			f.topicCount[topic]--
			return nil, nil, fmt.Errorf("manifold/feed: subscribe to %s: %w", topic, err)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { f.unsubscribe(sub) })
	}

	return sub, cancel, nil
}

// unsubscribe removes the subscriber and, if it was the topic's last one,
// sends the unsubscribe command upstream.
func (f *Feed) unsubscribe(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[sub]; !ok {
		return
	}

	delete(f.subs, sub)
	close(sub.done)

	f.topicCount[sub.topic]--
	if f.topicCount[sub.topic] <= 0 {
		delete(f.topicCount, sub.topic)
		if f.conn != nil && !f.closed {
			if err := f.sendCommand(wsCommand{Type: "unsubscribe", Topics: []string{sub.topic}}); err != nil {
				f.logger.Warn("unsubscribe failed",
					slog.String("topic", sub.topic),
					slog.String("error", err.Error()))
			}
		}
	}
}

// sendCommand sends a JSON command upstream. Caller must hold f.mu.
func (f *Feed) sendCommand(cmd wsCommand) error {
	f.nextTxID++
	cmd.TxID = f.nextTxID

	f.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return f.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames from the socket and fans broadcast payloads out to
// topic subscribers. On disconnect it hands off to reconnect.
func (f *Feed) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}

			f.logger.Warn("feed disconnected, reconnecting", slog.String("error", err.Error()))
			f.mu.Lock()
			hook := f.onDisconnect
			f.mu.Unlock()
			if hook != nil {
				hook(err)
			}
			f.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		f.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the socket alive. It exits when the
// connection it was started for goes away.
func (f *Feed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes one server frame. Only broadcast frames carry data;
// ack and error frames are logged and dropped.
func (f *Feed) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "broadcast":
		f.mu.Lock()
		targets := make([]*subscriber, 0, 2)
		for sub := range f.subs {
			if sub.topic == msg.Topic {
				targets = append(targets, sub)
			}
		}
		f.mu.Unlock()

		for _, sub := range targets {
			select {
			case sub.ch <- msg.Data:
			case <-sub.done:
			}
		}
	case "error":
		f.logger.Warn("feed error frame", slog.String("raw", string(raw)))
	}
}

// reconnect re-establishes the connection with exponential backoff. It blocks
// until successful or the feed is closed.
func (f *Feed) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-f.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()

		if err == nil {
			f.logger.Info("feed reconnected")
			return
		}

		f.logger.Warn("feed reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

var _ domain.ChangeFeed = (*Feed)(nil)
