package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/platform/twitch"
)

// linkStateTTL bounds how long a link session waits for the OAuth redirect.
const linkStateTTL = 10 * time.Minute

// KeyResolver validates a platform API key and returns its owner.
type KeyResolver interface {
	GetMe(ctx context.Context, apiKey string) (domain.User, error)
}

// IdentityResolver drives the Twitch side of the OAuth link flow.
type IdentityResolver interface {
	AuthorizeURL(state string) string
	ResolveAuthCode(ctx context.Context, code string) (twitch.Identity, error)
}

// pendingLink is a link session waiting for its OAuth redirect.
type pendingLink struct {
	apiKey         string
	platformUserID string
	returnURL      string
	expires        time.Time
}

// LinkHandler implements the account-linking flow: a platform user proves
// ownership of an API key, authorizes with Twitch, and the pair is persisted
// as a LinkedAccount with a control token for dock and overlay URLs.
type LinkHandler struct {
	keys     KeyResolver
	identity IdentityResolver
	accounts domain.AccountStore
	admins   map[string]bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingLink
}

// NewLinkHandler creates a LinkHandler. adminLogins are the Twitch logins
// that receive the admin flag when they link.
func NewLinkHandler(keys KeyResolver, identity IdentityResolver, accounts domain.AccountStore, adminLogins []string, logger *slog.Logger) *LinkHandler {
	admins := make(map[string]bool, len(adminLogins))
	for _, login := range adminLogins {
		admins[strings.ToLower(strings.TrimSpace(login))] = true
	}
	return &LinkHandler{
		keys:     keys,
		identity: identity,
		accounts: accounts,
		admins:   admins,
		logger:   logger.With(slog.String("component", "link")),
		pending:  make(map[string]pendingLink),
	}
}

// InitiateLink validates the supplied API key and answers with the Twitch
// authorization URL that completes the link. The return URL, when given, is
// where the completion callback sends the browser afterwards.
// POST /api/link/init  body: {"apiKey": "...", "returnURL": "..."}
func (h *LinkHandler) InitiateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey    string `json:"apiKey"`
		ReturnURL string `json:"returnURL"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		writeError(w, http.StatusBadRequest, "missing apiKey")
		return
	}

	user, err := h.keys.GetMe(r.Context(), req.APIKey)
	if err != nil {
		h.logger.Warn("link init with bad api key", slog.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	state := uuid.NewString()
	h.mu.Lock()
	h.expireLocked()
	h.pending[state] = pendingLink{
		apiKey:         req.APIKey,
		platformUserID: user.ID,
		returnURL:      strings.TrimSpace(req.ReturnURL),
		expires:        time.Now().Add(linkStateTTL),
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"redirectURL": h.identity.AuthorizeURL(state),
	})
}

// CompleteLink is the OAuth redirect target. It resolves the code to a Twitch
// identity, pairs it with the pending session's platform credentials, persists
// the linked account, and sends the browser back to the return URL the init
// step supplied.
// GET /api/link/callback?code=...&state=...
func (h *LinkHandler) CompleteLink(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}

	h.mu.Lock()
	h.expireLocked()
	session, ok := h.pending[state]
	delete(h.pending, state)
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown or expired link session")
		return
	}

	ident, err := h.identity.ResolveAuthCode(r.Context(), code)
	if err != nil {
		h.logger.Error("link callback failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "could not verify Twitch identity")
		return
	}

	account := domain.LinkedAccount{
		TwitchLogin:       ident.Login,
		TwitchDisplayName: ident.DisplayName,
		PlatformUserID:    session.platformUserID,
		APIKey:            session.apiKey,
		ControlToken:      uuid.NewString(),
		IsAdmin:           h.admins[ident.Login],
	}
	if err := h.accounts.Upsert(r.Context(), account); err != nil {
		h.logger.Error("persist linked account failed",
			slog.String("twitch_login", ident.Login),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not save linked account")
		return
	}

	h.logger.Info("account linked", slog.String("twitch_login", ident.Login))

	if session.returnURL != "" {
		http.Redirect(w, r, session.returnURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><p>Linked %s. You can close this tab.</p></body></html>", ident.DisplayName)
}

// GetAccount returns the caller's linked account, authenticated by control
// token. Docks use this to render identity without a socket round trip.
// GET /api/account
func (h *LinkHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	token := controlToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing control token")
		return
	}

	account, err := h.accounts.GetByControlToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid control token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"twitchLogin":       account.TwitchLogin,
		"twitchDisplayName": account.TwitchDisplayName,
		"platformUserID":    account.PlatformUserID,
		"isAdmin":           account.IsAdmin,
	})
}

// expireLocked drops expired link sessions. Caller must hold h.mu.
func (h *LinkHandler) expireLocked() {
	now := time.Now()
	for state, session := range h.pending {
		if now.After(session.expires) {
			delete(h.pending, state)
		}
	}
}
