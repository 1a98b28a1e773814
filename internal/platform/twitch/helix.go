package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

const (
	defaultOAuthTokenURL = "https://id.twitch.tv/oauth2/token"
	defaultHelixUsersURL = "https://api.twitch.tv/helix/users"
)

// Identity is the Twitch identity recovered from an OAuth authorization code.
type Identity struct {
	Login       string
	DisplayName string
}

// Helix resolves OAuth authorization codes to Twitch identities during
// account linking.
type Helix struct {
	clientID     string
	clientSecret string
	redirectURI  string
	tokenURL     string
	usersURL     string
	httpClient   *http.Client
}

// NewHelix creates an identity resolver for the registered OAuth application.
func NewHelix(clientID, clientSecret, redirectURI string) *Helix {
	return &Helix{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		tokenURL:     defaultOAuthTokenURL,
		usersURL:     defaultHelixUsersURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// AuthorizeURL builds the OAuth authorization URL the linking page redirects
// to. state round-trips the link session.
func (h *Helix) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", h.clientID)
	params.Set("redirect_uri", h.redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", "user:read:email")
	params.Set("state", state)
	return "https://id.twitch.tv/oauth2/authorize?" + params.Encode()
}

// ResolveAuthCode exchanges an authorization code for an access token and
// returns the identity of the user that granted it.
func (h *Helix) ResolveAuthCode(ctx context.Context, code string) (Identity, error) {
	token, err := h.exchangeCode(ctx, code)
	if err != nil {
		return Identity{}, err
	}
	return h.fetchIdentity(ctx, token)
}

func (h *Helix) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", h.clientID)
	form.Set("client_secret", h.clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", h.redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twitch/helix: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := h.do(req)
	if err != nil {
		return "", fmt.Errorf("twitch/helix: exchange code: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("twitch/helix: exchange code: %w: HTTP %d: %s", domain.ErrForbidden, status, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("twitch/helix: decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("twitch/helix: token response missing access token")
	}

	return tokenResp.AccessToken, nil
}

func (h *Helix) fetchIdentity(ctx context.Context, accessToken string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.usersURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("twitch/helix: create users request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", h.clientID)

	body, status, err := h.do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("twitch/helix: fetch identity: %w", err)
	}
	if status != http.StatusOK {
		return Identity{}, fmt.Errorf("twitch/helix: fetch identity: HTTP %d: %s", status, body)
	}

	var usersResp struct {
		Data []struct {
			Login       string `json:"login"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &usersResp); err != nil {
		return Identity{}, fmt.Errorf("twitch/helix: decode users response: %w", err)
	}
	if len(usersResp.Data) == 0 {
		return Identity{}, fmt.Errorf("twitch/helix: %w: token resolved to no user", domain.ErrNotFound)
	}

	return Identity{
		Login:       strings.ToLower(usersResp.Data[0].Login),
		DisplayName: usersResp.Data[0].DisplayName,
	}, nil
}

func (h *Helix) do(req *http.Request) ([]byte, int, error) {
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	return body, resp.StatusCode, nil
}
