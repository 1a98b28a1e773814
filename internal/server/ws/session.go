package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/proto"
	"github.com/manifoldmarkets/twitch-bot/internal/stream"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing packets per session.
	sendBufferSize = 256
)

// session is a single dock or overlay WebSocket connection. It implements
// stream.Session; Send never blocks, slow clients lose packets.
type session struct {
	server  *Server
	conn    *websocket.Conn
	kind    stream.SessionKind
	channel *stream.Channel
	account domain.LinkedAccount
	logger  *slog.Logger

	// send is never closed; done signals writePump and turns Send into a
	// no-op. A broadcast can hold a reference to a session past its
	// detach, so closing send would panic the broadcaster.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(server *Server, conn *websocket.Conn, kind stream.SessionKind, channel *stream.Channel, account domain.LinkedAccount, logger *slog.Logger) *session {
	return &session{
		server:  server,
		conn:    conn,
		kind:    kind,
		channel: channel,
		account: account,
		logger:  logger,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
	}
}

// Kind implements stream.Session.
func (s *session) Kind() stream.SessionKind { return s.kind }

// Send implements stream.Session. Packets for a full buffer are dropped; the
// client reconciles from a fresh Attach after reconnecting. Send on a closed
// session is a no-op.
func (s *session) Send(kind string, payload any) {
	select {
	case <-s.done:
		return
	default:
	}

	raw, err := proto.Encode(kind, payload)
	if err != nil {
		s.logger.Error("encode packet failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()))
		return
	}

	select {
	case s.send <- raw:
	default:
		s.logger.Warn("dropping packet for slow client", slog.String("kind", kind))
	}
}

// close tears the session down exactly once.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.channel.Detach(s)
		close(s.done)
	})
}

// readPump reads packets from the connection and dispatches dock requests.
// Overlay connections are read-only; anything an overlay sends is dropped.
func (s *session) readPump() {
	defer func() {
		s.close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		kind, payload, err := proto.Decode(message)
		if err != nil {
			s.logger.Warn("dropping malformed packet", slog.String("error", err.Error()))
			continue
		}

		if s.kind != stream.Dock {
			continue
		}
		s.server.dispatchDock(s, kind, payload)
	}
}

// writePump pumps encoded packets from the send channel to the connection and
// keeps the connection alive with periodic pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ stream.Session = (*session)(nil)
