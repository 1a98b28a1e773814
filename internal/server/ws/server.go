package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/proto"
	"github.com/manifoldmarkets/twitch-bot/internal/stream"
)

// requestTimeout bounds gateway work done on behalf of a dock packet.
const requestTimeout = 30 * time.Second

// upgrader configures the WebSocket upgrade parameters. Dock and overlay
// pages are served from the platform's own origin, but the control token in
// the query string is the real gate, so origins are not restricted here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server owns the dock and overlay WebSocket endpoints. Connections are
// authenticated by control token and attached to the token owner's channel.
type Server struct {
	registry *stream.Registry
	accounts domain.AccountStore
	gateway  domain.MarketGateway
	apiBase  string
	serverID string
	logger   *slog.Logger
}

// NewServer creates the WebSocket endpoint handler. apiBase is advertised to
// docks in the handshake so they can make direct platform calls.
func NewServer(registry *stream.Registry, accounts domain.AccountStore, gateway domain.MarketGateway, apiBase string, logger *slog.Logger) *Server {
	return &Server{
		registry: registry,
		accounts: accounts,
		gateway:  gateway,
		apiBase:  apiBase,
		serverID: uuid.NewString(),
		logger:   logger.With(slog.String("component", "ws")),
	}
}

// HandleDock upgrades a dock connection.
// GET /ws/dock?t=<control token>
func (s *Server) HandleDock(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, stream.Dock)
}

// HandleOverlay upgrades an overlay connection.
// GET /ws/overlay?t=<control token>
func (s *Server) HandleOverlay(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, stream.Overlay)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request, kind stream.SessionKind) {
	token := r.URL.Query().Get("t")
	if token == "" {
		http.Error(w, "missing control token", http.StatusUnauthorized)
		return
	}

	account, err := s.accounts.GetByControlToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "invalid control token", http.StatusUnauthorized)
			return
		}
		s.logger.Error("control token lookup failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	channel := s.registry.Get(account.TwitchLogin)
	logger := s.logger.With(
		slog.String("channel", channel.Name()),
		slog.String("session_kind", kindName(kind)),
	)

	sess := newSession(s, conn, kind, channel, account, logger)
	go sess.writePump()

	handshake := &proto.Handshake{ServerID: s.serverID}
	if kind == stream.Dock {
		handshake.ActingUserID = account.PlatformUserID
		handshake.APIBase = s.apiBase
		handshake.IsAdmin = account.IsAdmin
	}
	sess.Send(proto.KindHandshake, handshake)

	channel.Attach(sess)
	logger.Info("session attached")

	sess.readPump()
	logger.Info("session detached")
}

// dispatchDock routes one decoded dock packet. Kinds the server only ever
// sends are dropped when received.
func (s *Server) dispatchDock(sess *session, kind string, payload any) {
	switch kind {
	case proto.KindSelectMarketID:
		req := payload.(*proto.SelectMarketID)
		s.selectMarket(sess, req.ID)

	case proto.KindUnfeature:
		s.selectMarket(sess, "")

	case proto.KindCreateMarket:
		req := payload.(*proto.CreateMarket)
		s.createMarket(sess, req)

	case proto.KindRequestResolve:
		req := payload.(*proto.RequestResolve)
		s.requestResolve(sess, req)

	case proto.KindGroupControlFields:
		req := payload.(*proto.GroupControlFields)
		s.setControlFields(sess, req)

	case proto.KindPing:
		sess.Send(proto.KindPong, &proto.Pong{})

	default:
		sess.logger.Warn("dropping unexpected dock packet", slog.String("kind", kind))
	}
}

// selectMarket runs the selection on the channel's command queue so dock
// selections serialize with chat commands.
func (s *Server) selectMarket(sess *session, id string) {
	sess.channel.Enqueue(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := sess.channel.SelectMarket(ctx, id, sess); err != nil {
			sess.logger.Error("dock select failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()))
		}
	})
}

func (s *Server) createMarket(sess *session, req *proto.CreateMarket) {
	sess.channel.Enqueue(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		m, err := s.gateway.CreateMarket(ctx, sess.account.APIKey, req.Question, req.GroupID)
		if err != nil {
			sess.logger.Error("dock create market failed", slog.String("error", err.Error()))
			sess.Send(proto.KindMarketCreated, &proto.MarketCreated{FailReason: failReason(err)})
			return
		}

		sess.Send(proto.KindMarketCreated, &proto.MarketCreated{ID: m.ID})
	})
}

func (s *Server) requestResolve(sess *session, req *proto.RequestResolve) {
	outcome, ok := domain.ParseOutcome(req.OutcomeString)
	if !ok || outcome == domain.OutcomeMkt {
		sess.logger.Warn("dropping resolve request with unsupported outcome",
			slog.String("outcome", req.OutcomeString))
		return
	}

	sess.channel.Enqueue(func(ctx context.Context) {
		mirror := sess.channel.FeaturedMarket()
		if mirror == nil {
			sess.logger.Warn("dropping resolve request with no featured market")
			return
		}

		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := s.gateway.ResolveMarket(ctx, sess.account.APIKey, mirror.ID(), outcome); err != nil {
			sess.logger.Error("dock resolve failed",
				slog.String("market_id", mirror.ID()),
				slog.String("error", err.Error()))
		}
	})
}

// setControlFields resolves each declared control URL to a channel and
// replaces the dock channel's links with the resolvable set. Fields that do
// not resolve, and the whole set when it would form a cycle, come back
// marked invalid; a rejected set leaves the previous links in place.
func (s *Server) setControlFields(sess *session, req *proto.GroupControlFields) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	fields := make([]proto.ControlField, 0, len(req.Fields))
	targets := make([]*stream.Channel, 0, len(req.Fields))

	for _, field := range req.Fields {
		resolved, ok := s.resolveControlURL(ctx, field.URL)
		if !ok {
			fields = append(fields, proto.ControlField{URL: field.URL})
			continue
		}
		fields = append(fields, proto.ControlField{URL: field.URL, Valid: true, Channel: resolved.Name()})
		targets = append(targets, resolved)
	}

	if err := sess.channel.SetLinks(targets); err != nil {
		sess.logger.Warn("rejected control links", slog.String("error", err.Error()))
		for i := range fields {
			fields[i].Valid = false
			fields[i].Channel = ""
		}
	}

	sess.Send(proto.KindGroupControlFields, &proto.GroupControlFields{Fields: fields})
}

// resolveControlURL maps a pasted dock URL to the channel its embedded
// control token belongs to.
func (s *Server) resolveControlURL(ctx context.Context, raw string) (*stream.Channel, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	token := parsed.Query().Get("t")
	if token == "" {
		return nil, false
	}

	account, err := s.accounts.GetByControlToken(ctx, token)
	if err != nil {
		return nil, false
	}
	return s.registry.Get(account.TwitchLogin), true
}

// failReason turns a gateway error into the short reason docks display.
func failReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, domain.ErrForbidden):
		return "Not authorized"
	default:
		return "Market creation failed"
	}
}

func kindName(kind stream.SessionKind) string {
	if kind == stream.Dock {
		return "dock"
	}
	return "overlay"
}
