package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// BotControl joins and leaves broadcast channels on behalf of the HTTP
// boundary.
type BotControl interface {
	JoinChannel(ctx context.Context, channel string) error
	LeaveChannel(ctx context.Context, channel string) error
}

// BotRegHandler lets a linked broadcaster register or unregister the bot for
// their own channel, authenticated by control token.
type BotRegHandler struct {
	bot      BotControl
	accounts domain.AccountStore
	logger   *slog.Logger
}

// NewBotRegHandler creates a BotRegHandler.
func NewBotRegHandler(bot BotControl, accounts domain.AccountStore, logger *slog.Logger) *BotRegHandler {
	return &BotRegHandler{
		bot:      bot,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "botreg")),
	}
}

// Register joins the caller's channel and persists the registration.
// POST /api/bot/register
func (h *BotRegHandler) Register(w http.ResponseWriter, r *http.Request) {
	account, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.bot.JoinChannel(r.Context(), account.TwitchLogin); err != nil {
		h.logger.Error("join channel failed",
			slog.String("channel", account.TwitchLogin),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not join channel")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"channel": account.TwitchLogin})
}

// Unregister leaves the caller's channel and removes the registration.
// POST /api/bot/unregister
func (h *BotRegHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	account, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.bot.LeaveChannel(r.Context(), account.TwitchLogin); err != nil {
		h.logger.Error("leave channel failed",
			slog.String("channel", account.TwitchLogin),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not leave channel")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"channel": account.TwitchLogin})
}

func (h *BotRegHandler) authenticate(w http.ResponseWriter, r *http.Request) (domain.LinkedAccount, bool) {
	token := controlToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing control token")
		return domain.LinkedAccount{}, false
	}

	account, err := h.accounts.GetByControlToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid control token")
		return domain.LinkedAccount{}, false
	}
	return account, true
}
