package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
	"github.com/manifoldmarkets/twitch-bot/internal/platform/twitch"
)

// fakeKeys accepts one API key.
type fakeKeys struct {
	validKey string
	user     domain.User
}

func (k *fakeKeys) GetMe(ctx context.Context, apiKey string) (domain.User, error) {
	if apiKey != k.validKey {
		return domain.User{}, domain.ErrForbidden
	}
	return k.user, nil
}

// fakeIdentity resolves every auth code to one fixed identity.
type fakeIdentity struct {
	ident twitch.Identity
	fail  bool
}

func (i *fakeIdentity) AuthorizeURL(state string) string {
	return "https://id.twitch.tv/oauth2/authorize?state=" + url.QueryEscape(state)
}

func (i *fakeIdentity) ResolveAuthCode(ctx context.Context, code string) (twitch.Identity, error) {
	if i.fail {
		return twitch.Identity{}, domain.ErrForbidden
	}
	return i.ident, nil
}

// memAccounts is an in-memory AccountStore.
type memAccounts map[string]domain.LinkedAccount

func (s memAccounts) GetByTwitchLogin(ctx context.Context, login string) (domain.LinkedAccount, error) {
	a, ok := s[strings.ToLower(login)]
	if !ok {
		return domain.LinkedAccount{}, domain.ErrNotFound
	}
	return a, nil
}

func (s memAccounts) GetByControlToken(ctx context.Context, token string) (domain.LinkedAccount, error) {
	for _, a := range s {
		if a.ControlToken == token {
			return a, nil
		}
	}
	return domain.LinkedAccount{}, domain.ErrNotFound
}

func (s memAccounts) Upsert(ctx context.Context, a domain.LinkedAccount) error {
	s[strings.ToLower(a.TwitchLogin)] = a
	return nil
}

func newLinkFixture() (*LinkHandler, memAccounts) {
	accounts := memAccounts{}
	h := NewLinkHandler(
		&fakeKeys{validKey: "good-key", user: domain.User{ID: "p1", Name: "Alice"}},
		&fakeIdentity{ident: twitch.Identity{Login: "alice", DisplayName: "Alice"}},
		accounts,
		[]string{"Alice"},
		slog.New(slog.DiscardHandler),
	)
	return h, accounts
}

func initiateLink(t *testing.T, h *LinkHandler, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(`{"apiKey":"` + apiKey + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/link/init", body)
	rec := httptest.NewRecorder()
	h.InitiateLink(rec, req)
	return rec
}

func TestInitiateLinkRejectsBadKey(t *testing.T) {
	h, _ := newLinkFixture()

	rec := initiateLink(t, h, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitiateLinkRejectsEmptyBody(t *testing.T) {
	h, _ := newLinkFixture()

	req := httptest.NewRequest(http.MethodPost, "/api/link/init", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.InitiateLink(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkFlowEndToEnd(t *testing.T) {
	h, accounts := newLinkFixture()

	rec := initiateLink(t, h, "good-key")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	redirect, err := url.Parse(resp["redirectURL"])
	require.NoError(t, err)
	state := redirect.Query().Get("state")
	require.NotEmpty(t, state)

	// Complete the flow with the state the init step issued.
	req := httptest.NewRequest(http.MethodGet, "/api/link/callback?code=c1&state="+url.QueryEscape(state), nil)
	rec = httptest.NewRecorder()
	h.CompleteLink(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	account, ok := accounts["alice"]
	require.True(t, ok, "account not persisted")
	assert.Equal(t, "p1", account.PlatformUserID)
	assert.Equal(t, "good-key", account.APIKey)
	assert.True(t, account.IsAdmin, "admin login did not receive the admin flag")
	assert.NotEmpty(t, account.ControlToken)

	// The state is single use.
	req = httptest.NewRequest(http.MethodGet, "/api/link/callback?code=c1&state="+url.QueryEscape(state), nil)
	rec = httptest.NewRecorder()
	h.CompleteLink(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteLinkRedirectsToReturnURL(t *testing.T) {
	h, _ := newLinkFixture()

	body := strings.NewReader(`{"apiKey":"good-key","returnURL":"https://manifold.markets/twitch/linked"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/link/init", body)
	rec := httptest.NewRecorder()
	h.InitiateLink(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	redirect, err := url.Parse(resp["redirectURL"])
	require.NoError(t, err)
	state := redirect.Query().Get("state")
	require.NotEmpty(t, state)

	req = httptest.NewRequest(http.MethodGet, "/api/link/callback?code=c1&state="+url.QueryEscape(state), nil)
	rec = httptest.NewRecorder()
	h.CompleteLink(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://manifold.markets/twitch/linked", rec.Header().Get("Location"))
}

func TestCompleteLinkUnknownState(t *testing.T) {
	h, _ := newLinkFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/link/callback?code=c1&state=bogus", nil)
	rec := httptest.NewRecorder()
	h.CompleteLink(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAccount(t *testing.T) {
	h, accounts := newLinkFixture()
	accounts["alice"] = domain.LinkedAccount{
		TwitchLogin:    "alice",
		PlatformUserID: "p1",
		ControlToken:   "tok-1",
	}

	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	req.Header.Set("X-Control-Token", "tok-1")
	rec := httptest.NewRecorder()
	h.GetAccount(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp["twitchLogin"])

	// Query-parameter form of the token works too.
	req = httptest.NewRequest(http.MethodGet, "/api/account?t=tok-1", nil)
	rec = httptest.NewRecorder()
	h.GetAccount(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/account", nil)
	rec = httptest.NewRecorder()
	h.GetAccount(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
