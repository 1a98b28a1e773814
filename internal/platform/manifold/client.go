package manifold

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

const betHistoryPageSize = 1000

// Client is the REST client for the Manifold API. Read endpoints are
// unauthenticated; trading endpoints require the acting user's API key.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Manifold API client.
//
// baseURL is the API root, e.g. "https://api.manifold.markets/v0".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetUser returns a user looked up by their platform ID.
func (c *Client) GetUser(ctx context.Context, userID string) (domain.User, error) {
	path := fmt.Sprintf("/user/by-id/%s", url.PathEscape(userID))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.User{}, fmt.Errorf("manifold: get user %s: %w", userID, err)
	}

	var apiUser APIUser
	if err := json.Unmarshal(body, &apiUser); err != nil {
		return domain.User{}, fmt.Errorf("manifold: decode user: %w", err)
	}

	return apiUser.ToDomain(), nil
}

// GetMe returns the user that owns the given API key. Used during account
// linking to validate the key and learn the platform user id.
func (c *Client) GetMe(ctx context.Context, apiKey string) (domain.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return domain.User{}, fmt.Errorf("manifold: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+apiKey)

	body, err := c.do(req)
	if err != nil {
		return domain.User{}, fmt.Errorf("manifold: get me: %w", err)
	}

	var apiUser APIUser
	if err := json.Unmarshal(body, &apiUser); err != nil {
		return domain.User{}, fmt.Errorf("manifold: decode user: %w", err)
	}

	return apiUser.ToDomain(), nil
}

// GetMarket returns a single market by its ID.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	path := fmt.Sprintf("/market/%s", url.PathEscape(id))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.Market{}, fmt.Errorf("manifold: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("manifold: decode market: %w", err)
	}

	return apiMarket.ToDomain(), nil
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	path := fmt.Sprintf("/slug/%s", url.PathEscape(slug))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.Market{}, fmt.Errorf("manifold: get market by slug %s: %w", slug, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("manifold: decode market: %w", err)
	}

	return apiMarket.ToDomain(), nil
}

// GetMarketBets returns the full bet history of a market, newest first as the
// API serves it, paging until the history is exhausted.
func (c *Client) GetMarketBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	var bets []domain.Bet
	before := ""

	for {
		params := url.Values{}
		params.Set("contractId", marketID)
		params.Set("limit", strconv.Itoa(betHistoryPageSize))
		if before != "" {
			params.Set("before", before)
		}

		body, err := c.doGet(ctx, "/bets?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("manifold: get bets for market %s: %w", marketID, err)
		}

		var page []APIBet
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("manifold: decode bets: %w", err)
		}

		for i := range page {
			bets = append(bets, page[i].ToDomain())
		}

		if len(page) < betHistoryPageSize {
			return bets, nil
		}
		before = page[len(page)-1].ID
	}
}

// PlaceBet places a market-order bet of the given whole-mana amount.
func (c *Client) PlaceBet(ctx context.Context, apiKey, marketID string, amount int, outcome domain.Outcome) error {
	reqBody := placeBetRequest{
		ContractID: marketID,
		Amount:     amount,
		Outcome:    string(outcome),
	}

	if _, err := c.doPost(ctx, "/bet", apiKey, reqBody); err != nil {
		return fmt.Errorf("manifold: place bet on %s: %w", marketID, err)
	}
	return nil
}

// SellShares sells the user's entire position in the market.
func (c *Client) SellShares(ctx context.Context, apiKey, marketID string) error {
	path := fmt.Sprintf("/market/%s/sell", url.PathEscape(marketID))

	if _, err := c.doPost(ctx, path, apiKey, struct{}{}); err != nil {
		return fmt.Errorf("manifold: sell shares on %s: %w", marketID, err)
	}
	return nil
}

// CreateMarket creates an unlisted binary market starting at 50%, optionally
// tagged into a group.
func (c *Client) CreateMarket(ctx context.Context, apiKey, question, groupID string) (domain.Market, error) {
	reqBody := createMarketRequest{
		OutcomeType: domain.OutcomeTypeBinary,
		Question:    question,
		InitialProb: 50,
		Visibility:  "unlisted",
		GroupID:     groupID,
	}

	body, err := c.doPost(ctx, "/market", apiKey, reqBody)
	if err != nil {
		return domain.Market{}, fmt.Errorf("manifold: create market: %w", err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("manifold: decode created market: %w", err)
	}

	return apiMarket.ToDomain(), nil
}

// ResolveMarket resolves the market to the given outcome. The API key must
// belong to the market's creator.
func (c *Client) ResolveMarket(ctx context.Context, apiKey, marketID string, outcome domain.Outcome) error {
	path := fmt.Sprintf("/market/%s/resolve", url.PathEscape(marketID))

	if _, err := c.doPost(ctx, path, apiKey, resolveMarketRequest{Outcome: string(outcome)}); err != nil {
		return fmt.Errorf("manifold: resolve market %s: %w", marketID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

// doPost sends an authenticated POST request with a JSON body.
func (c *Client) doPost(ctx context.Context, path, apiKey string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+apiKey)

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps API error responses onto the domain sentinel errors.
// The platform reports trading failures as 400s with a human-readable
// message, so those are matched on the message text.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	message := string(body)
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		message = envelope.Message
	}

	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, message)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrForbidden, message)
	case strings.Contains(message, "Insufficient balance"):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, message)
	case strings.Contains(message, "Trading is closed"):
		return fmt.Errorf("%w: %s", domain.ErrTradingClosed, message)
	case strings.Contains(message, "not an admin") || strings.Contains(message, "creator"):
		return fmt.Errorf("%w: %s", domain.ErrForbidden, message)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, message)
	}
}

var _ domain.MarketGateway = (*Client)(nil)
