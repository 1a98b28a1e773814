// Package proto defines the kind-tagged message protocol spoken between the
// server and dock/overlay clients. The packet set is closed: Decode rejects
// unknown kinds, so every handler table over these kinds is exhaustive.
package proto

import (
	"encoding/json"
	"fmt"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// Packet kinds. Direction is noted per payload type below.
const (
	KindHandshake          = "handshake"
	KindSelectMarket       = "select"
	KindSelectMarketID     = "select_market_id"
	KindUnfeature          = "unfeature"
	KindClear              = "clear"
	KindAddBets            = "add_bets"
	KindResolved           = "resolved"
	KindCreateMarket       = "create_market"
	KindMarketCreated      = "market_created"
	KindRequestResolve     = "request_resolve"
	KindGroupControlFields = "group_control_fields"
	KindPing               = "ping"
	KindPong               = "pong"
)

// Envelope is the wire form of every packet: a kind tag plus the payload.
type Envelope struct {
	Kind string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handshake is sent once, server to client, immediately after connect. The
// dock-only fields are empty for overlays.
type Handshake struct {
	ServerID string `json:"serverID"`

	ActingUserID string `json:"actingUserID,omitempty"`
	APIBase      string `json:"apiBase,omitempty"`
	IsAdmin      bool   `json:"isAdmin,omitempty"`
}

// SelectMarket carries the full market snapshot plus the trailing bet
// window. Server to overlay.
type SelectMarket struct {
	Market      domain.Market     `json:"market"`
	InitialBets []domain.NamedBet `json:"initialBets"`
}

// SelectMarketID names a market by id. Server to dock when echoing a
// selection, dock to server when requesting one.
type SelectMarketID struct {
	ID string `json:"id"`
}

// Unfeature clears the featured market. Both directions; no payload.
type Unfeature struct{}

// Clear resets an overlay's UI. Sent once at connect, before any state push.
type Clear struct{}

// AddBets carries incrementally observed bets. Server to overlay.
type AddBets struct {
	Bets []domain.NamedBet `json:"bets"`
}

// Resolved carries the resolution summary. Server to overlay (and bot).
type Resolved struct {
	domain.ResolutionSummary
}

// CreateMarket asks the server to create a new binary market. Dock to
// server.
type CreateMarket struct {
	Question string `json:"question"`
	GroupID  string `json:"groupId,omitempty"`
}

// MarketCreated reports the result of CreateMarket. Server to dock.
type MarketCreated struct {
	ID         string `json:"id,omitempty"`
	FailReason string `json:"failReason,omitempty"`
}

// RequestResolve asks the server to resolve the featured market. Dock to
// server.
type RequestResolve struct {
	OutcomeString string `json:"outcomeString"`
}

// ControlField is one entry of a dock's linked-control configuration.
type ControlField struct {
	URL     string `json:"url"`
	Valid   bool   `json:"valid"`
	Channel string `json:"channel,omitempty"`
}

// GroupControlFields declares (dock to server) or reports (server to dock)
// the set of control-surface URLs linked to this dock's channel.
type GroupControlFields struct {
	Fields []ControlField `json:"fields"`
}

// Ping and Pong are the dock's application-level keepalive.
type Ping struct{}
type Pong struct{}

// payloadFactories instantiates the payload type for each known kind.
var payloadFactories = map[string]func() any{
	KindHandshake:          func() any { return &Handshake{} },
	KindSelectMarket:       func() any { return &SelectMarket{} },
	KindSelectMarketID:     func() any { return &SelectMarketID{} },
	KindUnfeature:          func() any { return &Unfeature{} },
	KindClear:              func() any { return &Clear{} },
	KindAddBets:            func() any { return &AddBets{} },
	KindResolved:           func() any { return &Resolved{} },
	KindCreateMarket:       func() any { return &CreateMarket{} },
	KindMarketCreated:      func() any { return &MarketCreated{} },
	KindRequestResolve:     func() any { return &RequestResolve{} },
	KindGroupControlFields: func() any { return &GroupControlFields{} },
	KindPing:               func() any { return &Ping{} },
	KindPong:               func() any { return &Pong{} },
}

// Encode marshals a packet into its wire envelope.
func Encode(kind string, payload any) ([]byte, error) {
	if _, known := payloadFactories[kind]; !known {
		return nil, fmt.Errorf("proto: unknown packet kind %q", kind)
	}

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("proto: marshal %s payload: %w", kind, err)
		}
		data = raw
	}

	raw, err := json.Marshal(Envelope{Kind: kind, Data: data})
	if err != nil {
		return nil, fmt.Errorf("proto: marshal %s envelope: %w", kind, err)
	}
	return raw, nil
}

// Decode parses a wire envelope into its kind and typed payload. Unknown
// kinds are an error; the packet set is closed.
func Decode(raw []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("proto: parse envelope: %w", err)
	}

	factory, ok := payloadFactories[env.Kind]
	if !ok {
		return "", nil, fmt.Errorf("proto: unknown packet kind %q", env.Kind)
	}

	payload := factory()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return "", nil, fmt.Errorf("proto: parse %s payload: %w", env.Kind, err)
		}
	}
	return env.Kind, payload, nil
}
